package fleet

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/charging-platform/vcp-simulator/internal/domain/ocpp16"
	"github.com/charging-platform/vcp-simulator/internal/events"
	"github.com/charging-platform/vcp-simulator/internal/logger"
	"github.com/charging-platform/vcp-simulator/internal/metrics"
	"github.com/charging-platform/vcp-simulator/internal/session"
	"github.com/charging-platform/vcp-simulator/internal/sim"
)

// ChargerConfig 虚拟充电桩的身份与能力
type ChargerConfig struct {
	CpID            string `json:"cpId" validate:"required,max=20"`
	Vendor          string `json:"vendor" validate:"required,max=20"`
	Model           string `json:"model" validate:"required,max=20"`
	SerialNumber    string `json:"serialNumber,omitempty" validate:"omitempty,max=25"`
	FirmwareVersion string `json:"firmwareVersion,omitempty" validate:"omitempty,max=50"`
	NumConnectors   int    `json:"numConnectors" validate:"min=1,max=99"`
	Phases          int    `json:"phases" validate:"oneof=1 3"`
	MeterType       string `json:"meterType,omitempty" validate:"omitempty,max=25"`
	MeterSerial     string `json:"meterSerialNumber,omitempty" validate:"omitempty,max=25"`
	Iccid           string `json:"iccid,omitempty" validate:"omitempty,max=20"`
	Imsi            string `json:"imsi,omitempty" validate:"omitempty,max=20"`
}

// normalize 补默认值
func (c *ChargerConfig) normalize() {
	if c.NumConnectors <= 0 {
		c.NumConnectors = 1
	}
	if c.Phases != 1 && c.Phases != 3 {
		c.Phases = 1
	}
	if c.Vendor == "" {
		c.Vendor = "VirtualVendor"
	}
	if c.Model == "" {
		c.Model = "VCP-1"
	}
}

// ManagedCharger 车队中的单个虚拟充电桩
type ManagedCharger struct {
	mu sync.Mutex

	cfg        ChargerConfig
	sess       *session.Session
	txmgr      *session.TransactionManager
	connected  bool
	connectors map[int]*ConnectorState
	confKeys   *ConfigStore

	localListVersion int
	// reservations reservationId → connectorId
	reservations map[int]int

	rng  *rand.Rand
	sink EventSink
	log  *logger.Logger

	meterStop     chan struct{}
	heartbeatStop chan struct{}
}

func newManagedCharger(cfg ChargerConfig, sink EventSink, log *logger.Logger) *ManagedCharger {
	cfg.normalize()
	connectors := make(map[int]*ConnectorState, cfg.NumConnectors)
	for i := 1; i <= cfg.NumConnectors; i++ {
		connectors[i] = newConnectorState(i)
	}
	return &ManagedCharger{
		cfg:          cfg,
		txmgr:        session.NewTransactionManager(0),
		connectors:   connectors,
		confKeys:     newConfigStore(cfg),
		reservations: make(map[int]int),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		sink:         sink,
		log:          log.WithChargePoint(cfg.CpID),
	}
}

// Config 桩的静态配置
func (mc *ManagedCharger) Config() ChargerConfig {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.cfg
}

// Connected 当前连接状态
func (mc *ManagedCharger) Connected() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.connected
}

// Connectors 连接器状态快照，按ID升序
func (mc *ManagedCharger) Connectors() []ConnectorState {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	out := make([]ConnectorState, 0, len(mc.connectors))
	for i := 1; i <= mc.cfg.NumConnectors; i++ {
		out = append(out, *mc.connectors[i])
	}
	return out
}

func (mc *ManagedCharger) connector(connectorID int) (*ConnectorState, error) {
	c, ok := mc.connectors[connectorID]
	if !ok {
		return nil, fmt.Errorf("%w: connector %d does not exist on %s", ErrNotFound, connectorID, mc.cfg.CpID)
	}
	return c, nil
}

// publish 投递事件到可选下游
func (mc *ManagedCharger) publish(event events.Event) {
	if mc.sink == nil {
		return
	}
	if err := mc.sink.PublishEvent(event); err != nil {
		mc.log.ErrorWithErr(err, "failed to publish fleet event")
	}
}

// setStatus 提交状态变更，已连接时发送StatusNotification。每次调用都发送，不去重
func (mc *ManagedCharger) setStatus(connectorID int, status ocpp16.ChargePointStatus, errorCode ocpp16.ChargePointErrorCode) error {
	mc.mu.Lock()
	c, err := mc.connector(connectorID)
	if err != nil {
		mc.mu.Unlock()
		return err
	}
	oldStatus := c.Status
	c.Status = status
	c.ErrorCode = errorCode
	connected := mc.connected
	sess := mc.sess
	mc.mu.Unlock()

	if connected && sess != nil {
		mc.sendStatusNotification(sess, connectorID, status, errorCode)
	}
	mc.publish(events.NewConnectorStatusChangedEvent(mc.cfg.CpID, connectorID,
		string(oldStatus), string(status), string(errorCode)))
	return nil
}

// sendStatusNotification 发送单个状态通知帧
func (mc *ManagedCharger) sendStatusNotification(sess *session.Session, connectorID int, status ocpp16.ChargePointStatus, errorCode ocpp16.ChargePointErrorCode) {
	ts := ocpp16.Now()
	req := &ocpp16.StatusNotificationRequest{
		ConnectorId: connectorID,
		ErrorCode:   errorCode,
		Status:      status,
		Timestamp:   &ts,
	}
	if err := sess.Send(string(ocpp16.ActionStatusNotification), req); err != nil {
		mc.log.ErrorWithErr(err, "failed to send StatusNotification")
	}
}

// sendBootNotification 发送并等待BootNotification应答
func (mc *ManagedCharger) sendBootNotification(ctx context.Context, sess *session.Session) (*ocpp16.BootNotificationResponse, error) {
	cfg := mc.Config()
	req := &ocpp16.BootNotificationRequest{
		ChargePointVendor: cfg.Vendor,
		ChargePointModel:  cfg.Model,
	}
	if cfg.SerialNumber != "" {
		req.ChargePointSerialNumber = &cfg.SerialNumber
	}
	if cfg.FirmwareVersion != "" {
		req.FirmwareVersion = &cfg.FirmwareVersion
	}
	if cfg.MeterType != "" {
		req.MeterType = &cfg.MeterType
	}
	if cfg.MeterSerial != "" {
		req.MeterSerialNumber = &cfg.MeterSerial
	}
	if cfg.Iccid != "" {
		req.Iccid = &cfg.Iccid
	}
	if cfg.Imsi != "" {
		req.Imsi = &cfg.Imsi
	}

	result, err := sess.Call(ctx, string(ocpp16.ActionBootNotification), req)
	if err != nil {
		return nil, fmt.Errorf("boot notification failed: %w", err)
	}
	resp, ok := result.(*ocpp16.BootNotificationResponse)
	if !ok {
		return nil, fmt.Errorf("boot notification returned unexpected payload %T", result)
	}
	return resp, nil
}

// startMeterLoop 启动车队级计量循环
func (mc *ManagedCharger) startMeterLoop(defaultInterval time.Duration) {
	mc.mu.Lock()
	if mc.meterStop != nil {
		mc.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	mc.meterStop = stop
	mc.mu.Unlock()

	interval := defaultInterval
	if raw, ok := mc.confKeys.Value("MeterValueSampleInterval"); ok {
		if secs, err := time.ParseDuration(raw + "s"); err == nil && secs > 0 {
			interval = secs
		}
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				mc.meterTick(interval.Seconds())
			}
		}
	}()
}

// stopMeterLoop 停止计量循环，幂等
func (mc *ManagedCharger) stopMeterLoop() {
	mc.mu.Lock()
	stop := mc.meterStop
	mc.meterStop = nil
	mc.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// startHeartbeatLoop 启动周期Heartbeat。间隔优先取BootNotification应答，其次HeartbeatInterval配置键
func (mc *ManagedCharger) startHeartbeatLoop(intervalSeconds int) {
	mc.mu.Lock()
	if mc.heartbeatStop != nil {
		mc.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	mc.heartbeatStop = stop
	mc.mu.Unlock()

	if intervalSeconds <= 0 {
		if raw, ok := mc.confKeys.Value("HeartbeatInterval"); ok {
			if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
				intervalSeconds = secs
			}
		}
	}
	if intervalSeconds <= 0 {
		intervalSeconds = 300
	}

	go func() {
		ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				mc.sendHeartbeat()
			}
		}
	}()
}

// stopHeartbeatLoop 停止心跳循环，幂等
func (mc *ManagedCharger) stopHeartbeatLoop() {
	mc.mu.Lock()
	stop := mc.heartbeatStop
	mc.heartbeatStop = nil
	mc.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (mc *ManagedCharger) sendHeartbeat() {
	mc.mu.Lock()
	sess := mc.sess
	connected := mc.connected
	mc.mu.Unlock()
	if !connected || sess == nil {
		return
	}
	if err := sess.Send(string(ocpp16.ActionHeartbeat), &ocpp16.HeartbeatRequest{}); err != nil {
		mc.log.ErrorWithErr(err, "failed to send Heartbeat")
	}
}

// meterTick 对每个充电中的连接器采样并发送MeterValues
func (mc *ManagedCharger) meterTick(intervalSeconds float64) {
	mc.mu.Lock()
	sess := mc.sess
	connected := mc.connected
	phases := mc.cfg.Phases

	type pending struct {
		connectorID int
		txID        *int
		reading     sim.MeterReading
		cumulative  float64
	}
	var samples []pending

	for i := 1; i <= mc.cfg.NumConnectors; i++ {
		c := mc.connectors[i]
		if c.Status != ocpp16.ChargePointStatusCharging || c.OfferedCurrentA <= 0 {
			continue
		}
		reading := sim.BuildReading(c.car, c.OfferedCurrentA, phases, intervalSeconds, mc.rng)
		c.ReportedPowerW = reading.PowerW
		c.EnergyImportedWh += reading.EnergyIncrementWh
		samples = append(samples, pending{
			connectorID: c.ID,
			txID:        c.TransactionID,
			reading:     reading,
			cumulative:  c.EnergyImportedWh,
		})
	}
	mc.mu.Unlock()

	for _, p := range samples {
		metrics.MeterTicks.Inc()
		if connected && sess != nil {
			mv := sim.BuildMeterValue(p.reading, p.cumulative, phases)
			req := &ocpp16.MeterValuesRequest{
				ConnectorId:   p.connectorID,
				TransactionId: p.txID,
				MeterValue:    []ocpp16.MeterValue{mv},
			}
			if err := sess.Send(string(ocpp16.ActionMeterValues), req); err != nil {
				mc.log.ErrorWithErr(err, "failed to send MeterValues")
			}
		}
		// 满电侧效应：车辆停止取流后连接器挂起
		if p.reading.CarStopped {
			if err := mc.setStatus(p.connectorID, ocpp16.ChargePointStatusSuspendedEV, ocpp16.ChargePointErrorCodeNoError); err != nil {
				mc.log.ErrorWithErr(err, "failed to suspend connector on full battery")
			}
		}
	}
}

// sessionMeterFunc 会话自带60秒定时器的计量回调，车队循环接管前生效
func (mc *ManagedCharger) sessionMeterFunc(tx *session.TransactionState) {
	mc.mu.Lock()
	sess := mc.sess
	connected := mc.connected
	var offered, cumulative float64
	if c, ok := mc.connectors[tx.ConnectorID]; ok {
		offered = c.OfferedCurrentA
		cumulative = c.EnergyImportedWh
	}
	mc.mu.Unlock()

	if !connected || sess == nil {
		return
	}
	txID := tx.TransactionID
	req := &ocpp16.MeterValuesRequest{
		ConnectorId:   tx.ConnectorID,
		TransactionId: &txID,
		MeterValue:    []ocpp16.MeterValue{sim.BuildSimpleMeterValue(offered, cumulative)},
	}
	if err := sess.Send(string(ocpp16.ActionMeterValues), req); err != nil {
		mc.log.ErrorWithErr(err, "failed to send session meter values")
	}
}

// meterStartValue 当前累计能量取整，作为StartTransaction的meterStart
func (mc *ManagedCharger) meterStartValue(connectorID int) int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if c, ok := mc.connectors[connectorID]; ok {
		return int(math.Round(c.EnergyImportedWh))
	}
	return 0
}
