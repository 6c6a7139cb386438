package fleet

import (
	"strconv"
	"strings"
	"sync"

	"github.com/charging-platform/vcp-simulator/internal/domain/ocpp16"
)

// configEntry 单个OCPP配置键
type configEntry struct {
	value    string
	readonly bool
}

// ConfigStore 单桩的OCPP配置键表，GetConfiguration/ChangeConfiguration的后端
type ConfigStore struct {
	mu      sync.Mutex
	entries map[string]*configEntry
	// order 保持GetConfiguration输出顺序稳定
	order []string
}

// newConfigStore 按桩的静态配置生成配置键表
func newConfigStore(cfg ChargerConfig) *ConfigStore {
	s := &ConfigStore{entries: make(map[string]*configEntry)}

	ro := func(key, value string) { s.put(key, value, true) }
	rw := func(key, value string) { s.put(key, value, false) }

	rotation := make([]string, 0, cfg.NumConnectors+1)
	for i := 0; i <= cfg.NumConnectors; i++ {
		rotation = append(rotation, strconv.Itoa(i)+".RST")
	}

	ro("SupportedFeatureProfiles", "Core,FirmwareManagement,LocalAuthListManagement,Reservation,SmartCharging,RemoteTrigger")
	ro("NumberOfConnectors", strconv.Itoa(cfg.NumConnectors))
	rw("HeartbeatInterval", "300")
	rw("ConnectionTimeOut", "60")
	ro("GetConfigurationMaxKeys", "99")
	rw("MeterValueSampleInterval", "15")
	rw("MeterValuesSampledData", "Energy.Active.Import.Register,Power.Active.Import,Current.Import,Voltage")
	rw("MeterValuesAlignedData", "Energy.Active.Import.Register")
	rw("ClockAlignedDataInterval", "0")
	rw("AuthorizeRemoteTxRequests", "false")
	rw("LocalAuthorizeOffline", "true")
	rw("LocalPreAuthorize", "false")
	rw("AuthorizationCacheEnabled", "true")
	rw("StopTransactionOnEVSideDisconnect", "true")
	rw("StopTransactionOnInvalidId", "true")
	rw("UnlockConnectorOnEVSideDisconnect", "true")
	ro("ChargeProfileMaxStackLevel", "99")
	ro("ChargingScheduleAllowedChargingRateUnit", "Current,Power")
	ro("ChargingScheduleMaxPeriods", "24")
	ro("MaxChargingProfilesInstalled", "10")
	rw("LocalAuthListEnabled", "true")
	ro("LocalAuthListMaxLength", "100")
	ro("SendLocalListMaxLength", "100")
	ro("ReserveConnectorZeroSupported", "true")
	rw("ConnectorPhaseRotation", strings.Join(rotation, ","))
	ro("ConnectorPhaseRotationMaxLength", strconv.Itoa(cfg.NumConnectors+1))
	ro("ChargePointVendor", cfg.Vendor)
	ro("ChargePointModel", cfg.Model)
	ro("ChargePointSerialNumber", cfg.SerialNumber)
	ro("FirmwareVersion", cfg.FirmwareVersion)
	ro("MeterType", cfg.MeterType)
	ro("MeterSerialNumber", cfg.MeterSerial)

	return s
}

func (s *ConfigStore) put(key, value string, readonly bool) {
	if _, exists := s.entries[key]; !exists {
		s.order = append(s.order, key)
	}
	s.entries[key] = &configEntry{value: value, readonly: readonly}
}

// Get 按过滤键列表返回键值对与未知键，keys为空时返回全表
func (s *ConfigStore) Get(keys []string) ([]ocpp16.KeyValue, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []ocpp16.KeyValue
	var unknown []string

	if len(keys) == 0 {
		for _, key := range s.order {
			result = append(result, s.keyValue(key))
		}
		return result, nil
	}

	for _, key := range keys {
		if _, ok := s.entries[key]; ok {
			result = append(result, s.keyValue(key))
		} else {
			unknown = append(unknown, key)
		}
	}
	return result, unknown
}

func (s *ConfigStore) keyValue(key string) ocpp16.KeyValue {
	entry := s.entries[key]
	value := entry.value
	return ocpp16.KeyValue{Key: key, Readonly: entry.readonly, Value: &value}
}

// Set 写入配置键：可写键接受，只读键拒绝，未知键不支持
func (s *ConfigStore) Set(key, value string) ocpp16.ConfigurationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return ocpp16.ConfigurationStatusNotSupported
	}
	if entry.readonly {
		return ocpp16.ConfigurationStatusRejected
	}
	entry.value = value
	return ocpp16.ConfigurationStatusAccepted
}

// Value 读取单个键的当前值
func (s *ConfigStore) Value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return "", false
	}
	return entry.value, true
}
