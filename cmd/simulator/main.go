package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charging-platform/vcp-simulator/internal/config"
	"github.com/charging-platform/vcp-simulator/internal/fleet"
	"github.com/charging-platform/vcp-simulator/internal/logger"
	"github.com/charging-platform/vcp-simulator/internal/message"
)

func main() {
	connectAll := flag.Bool("connect-all", false, "connect the whole roster on startup")
	exitOnClose := flag.String("exit-on-close", "", "terminate the process when this charger's session closes")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log.Info("Logger initialized")

	// 3. 可选的Kafka事件下游
	var sink fleet.EventSink
	var producer *message.KafkaProducer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = message.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Fatalf("Failed to initialize Kafka producer: %v", err)
		}
		sink = producer
		log.Infof("Kafka producer initialized with brokers %v", cfg.Kafka.Brokers)
	}

	// 4. 车队管理器，恢复花名册
	manager, err := fleet.NewManager(fleet.Options{
		WsURL:          cfg.Fleet.WsURL,
		RosterPath:     cfg.Fleet.RosterPath,
		CallTimeout:    cfg.Fleet.CallTimeout,
		MeterInterval:  cfg.Fleet.MeterInterval,
		ConnectTimeout: cfg.Fleet.ConnectTimeout,
		Sink:           sink,
		Logger:         log,
		OnSessionClose: func(cpID string, code int, reason string) {
			if *exitOnClose != "" && cpID == *exitOnClose {
				log.Infof("session for %s closed (code %d: %s), exiting", cpID, code, reason)
				os.Exit(0)
			}
		},
	})
	if err != nil {
		log.Fatalf("Failed to initialize fleet manager: %v", err)
	}
	log.Infof("Fleet manager initialized, CSMS endpoint %s", cfg.Fleet.WsURL)

	// 5. 可选的监控服务器
	if cfg.Metrics.Addr != "" {
		go startMetricsServer(cfg.Metrics.Addr, log)
	}

	// 6. 按需连接整个车队
	if *connectAll {
		go func() {
			result := manager.ConnectAll(context.Background())
			log.Infof("connectAll finished: success=%d failed=%d", result.Success, result.Failed)
		}()
	}

	log.Info("VCP simulator started")

	// 7. 优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	manager.Shutdown()
	log.Info("Fleet disconnected")

	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("Error closing Kafka producer: %v", err)
		}
		log.Info("Kafka producer closed")
	}

	log.Info("Simulator stopped.")
}

// startMetricsServer 启动监控服务器
func startMetricsServer(addr string, log *logger.Logger) {
	http.Handle("/metrics", promhttp.Handler())
	log.Infof("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("Metrics server failed: %v", err)
	}
}
