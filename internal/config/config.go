package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构
type Config struct {
	Fleet   FleetConfig   `mapstructure:"fleet"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// FleetConfig 车队管理配置
type FleetConfig struct {
	WsURL          string        `mapstructure:"ws_url"`
	RosterPath     string        `mapstructure:"roster_path"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	MeterInterval  time.Duration `mapstructure:"meter_interval"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// KafkaConfig Kafka事件配置，Brokers为空时禁用
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig 监控指标配置，Addr为空时不启动/metrics
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load 加载配置：默认值 < simulator.yaml < 环境变量
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("fleet.ws_url", "ws://localhost:9000/ocpp")
	v.SetDefault("fleet.roster_path", "chargers.json")
	v.SetDefault("fleet.call_timeout", 120*time.Second)
	v.SetDefault("fleet.meter_interval", 15*time.Second)
	v.SetDefault("fleet.connect_timeout", 10*time.Second)
	v.SetDefault("kafka.topic", "vcp-events")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("metrics.addr", "")

	v.SetConfigName("simulator")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("VCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 兼容裸WS_URL环境变量
	v.BindEnv("fleet.ws_url", "WS_URL", "VCP_FLEET_WS_URL")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
