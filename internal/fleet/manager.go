package fleet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/charging-platform/vcp-simulator/internal/domain/ocpp16"
	"github.com/charging-platform/vcp-simulator/internal/events"
	"github.com/charging-platform/vcp-simulator/internal/logger"
	"github.com/charging-platform/vcp-simulator/internal/session"
	"github.com/charging-platform/vcp-simulator/internal/sim"
)

// 管理接口错误，外层HTTP按此映射状态码
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidArgument = errors.New("invalid argument")
)

// EventSink 车队事件下游
type EventSink interface {
	PublishEvent(event events.Event) error
}

// Options 车队管理器配置
type Options struct {
	WsURL          string
	RosterPath     string
	CallTimeout    time.Duration
	MeterInterval  time.Duration
	ConnectTimeout time.Duration
	Sink           EventSink
	Logger         *logger.Logger
	// OnSessionClose 会话关闭的边界回调，进程退出策略由调用方决定
	OnSessionClose func(cpID string, code int, reason string)
}

// Manager 车队管理器，持有全部虚拟充电桩
type Manager struct {
	mu       sync.Mutex
	wsURL    string
	chargers map[string]*ManagedCharger

	rosterPath     string
	callTimeout    time.Duration
	meterInterval  time.Duration
	connectTimeout time.Duration
	sink           EventSink
	onSessionClose func(cpID string, code int, reason string)
	log            *logger.Logger
}

// NewManager 创建车队管理器并恢复花名册
func NewManager(opts Options) (*Manager, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("fleet")

	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 120 * time.Second
	}
	if opts.MeterInterval <= 0 {
		opts.MeterInterval = 15 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	m := &Manager{
		wsURL:          opts.WsURL,
		chargers:       make(map[string]*ManagedCharger),
		rosterPath:     opts.RosterPath,
		callTimeout:    opts.CallTimeout,
		meterInterval:  opts.MeterInterval,
		connectTimeout: opts.ConnectTimeout,
		sink:           opts.Sink,
		onSessionClose: opts.OnSessionClose,
		log:            log,
	}

	if opts.RosterPath != "" {
		configs, err := LoadRoster(opts.RosterPath)
		if err != nil {
			// 花名册损坏时从空车队启动，不中止
			log.ErrorWithErr(err, "failed to load roster, starting empty")
		}
		for _, cfg := range configs {
			mc := newManagedCharger(cfg, m.sink, log)
			m.chargers[cfg.CpID] = mc
		}
		log.Infof("restored %d chargers from roster", len(configs))
	}

	return m, nil
}

// charger 按cpId查找
func (m *Manager) charger(cpID string) (*ManagedCharger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.chargers[cpID]
	if !ok {
		return nil, fmt.Errorf("%w: charger %s", ErrNotFound, cpID)
	}
	return mc, nil
}

// persist 把当前花名册写盘，失败只记日志
func (m *Manager) persist() {
	if m.rosterPath == "" {
		return
	}
	m.mu.Lock()
	configs := make([]ChargerConfig, 0, len(m.chargers))
	for _, mc := range m.chargers {
		configs = append(configs, mc.Config())
	}
	m.mu.Unlock()

	sort.Slice(configs, func(i, j int) bool { return configs[i].CpID < configs[j].CpID })
	if err := SaveRoster(m.rosterPath, configs); err != nil {
		m.log.ErrorWithErr(err, "failed to persist roster")
	}
}

// AddCharger 新增充电桩并持久化，cpId重复报冲突
func (m *Manager) AddCharger(cfg ChargerConfig) error {
	if cfg.CpID == "" {
		return fmt.Errorf("%w: cpId is required", ErrInvalidArgument)
	}

	m.mu.Lock()
	if _, exists := m.chargers[cfg.CpID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: charger %s already exists", ErrConflict, cfg.CpID)
	}
	mc := newManagedCharger(cfg, m.sink, m.log)
	m.chargers[cfg.CpID] = mc
	m.mu.Unlock()

	m.persist()
	return nil
}

// GenerateChargers 批量合成充电桩，cpId为prefix-NNN（1起，3位补零）
func (m *Manager) GenerateChargers(prefix string, count int, base ChargerConfig) ([]string, error) {
	if prefix == "" || count <= 0 {
		return nil, fmt.Errorf("%w: prefix and positive count are required", ErrInvalidArgument)
	}

	cpIDs := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		cfg := base
		cfg.CpID = fmt.Sprintf("%s-%03d", prefix, i)
		if err := m.AddCharger(cfg); err != nil {
			return cpIDs, err
		}
		cpIDs = append(cpIDs, cfg.CpID)
	}
	return cpIDs, nil
}

// RemoveCharger 移除充电桩：停计量循环，丢弃会话引用但不主动关socket
func (m *Manager) RemoveCharger(cpID string) error {
	m.mu.Lock()
	mc, ok := m.chargers[cpID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: charger %s", ErrNotFound, cpID)
	}
	delete(m.chargers, cpID)
	m.mu.Unlock()

	mc.stopMeterLoop()
	mc.stopHeartbeatLoop()
	mc.txmgr.Shutdown()
	mc.mu.Lock()
	mc.sess = nil
	mc.connected = false
	mc.mu.Unlock()

	m.persist()
	return nil
}

// ChargerInfo 管理接口的充电桩视图
type ChargerInfo struct {
	CpID       string           `json:"cpId"`
	Config     ChargerConfig    `json:"config"`
	Connected  bool             `json:"connected"`
	Connectors []ConnectorState `json:"connectors"`
}

// ListChargers 全部充电桩快照，按cpId升序
func (m *Manager) ListChargers() []ChargerInfo {
	m.mu.Lock()
	chargers := make([]*ManagedCharger, 0, len(m.chargers))
	for _, mc := range m.chargers {
		chargers = append(chargers, mc)
	}
	m.mu.Unlock()

	out := make([]ChargerInfo, 0, len(chargers))
	for _, mc := range chargers {
		out = append(out, ChargerInfo{
			CpID:       mc.Config().CpID,
			Config:     mc.Config(),
			Connected:  mc.Connected(),
			Connectors: mc.Connectors(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CpID < out[j].CpID })
	return out
}

// GetCharger 单个充电桩快照
func (m *Manager) GetCharger(cpID string) (ChargerInfo, error) {
	mc, err := m.charger(cpID)
	if err != nil {
		return ChargerInfo{}, err
	}
	return ChargerInfo{
		CpID:       mc.Config().CpID,
		Config:     mc.Config(),
		Connected:  mc.Connected(),
		Connectors: mc.Connectors(),
	}, nil
}

// Connect 建立会话：握手，短暂停顿，BootNotification，状态通知，计量循环
func (m *Manager) Connect(ctx context.Context, cpID string) error {
	mc, err := m.charger(cpID)
	if err != nil {
		return err
	}
	if mc.Connected() {
		return nil
	}

	wsURL := m.GetWsURL()
	if _, err := parseWsURL(wsURL); err != nil {
		return err
	}

	sess, err := session.New(session.Options{
		Endpoint:      wsURL,
		ChargePointID: cpID,
		OCPPVersion:   "1.6",
		Registry:      m.buildRegistry(mc),
		CallTimeout:   m.callTimeout,
		OnClose: func(code int, reason string) {
			m.handleSessionClose(mc, code, reason)
		},
		OnError: func(err error) {
			mc.log.ErrorWithErr(err, "session error")
		},
		Logger: m.log,
	})
	if err != nil {
		return err
	}

	dctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()
	if err := sess.Connect(dctx); err != nil {
		return err
	}

	mc.mu.Lock()
	mc.sess = sess
	mc.mu.Unlock()

	// 握手与首帧之间短暂停顿
	time.Sleep(100 * time.Millisecond)

	resp, err := mc.sendBootNotification(ctx, sess)
	if err != nil {
		sess.Close()
		return err
	}
	mc.log.Infof("boot accepted: status=%s interval=%d", resp.Status, resp.Interval)

	mc.mu.Lock()
	mc.connected = true
	mc.mu.Unlock()

	// 桩本体（连接器0）加每个连接器的当前状态
	mc.sendStatusNotification(sess, 0, ocpp16.ChargePointStatusAvailable, ocpp16.ChargePointErrorCodeNoError)
	for _, c := range mc.Connectors() {
		mc.sendStatusNotification(sess, c.ID, c.Status, c.ErrorCode)
	}

	// CSMS回的interval作为本会话的心跳节奏
	if resp.Interval > 0 {
		mc.confKeys.Set("HeartbeatInterval", strconv.Itoa(resp.Interval))
	}

	mc.startMeterLoop(m.meterInterval)
	mc.startHeartbeatLoop(resp.Interval)
	mc.publish(events.NewSessionConnectedEvent(cpID, wsURL))
	return nil
}

// handleSessionClose 会话关闭的收尾
func (m *Manager) handleSessionClose(mc *ManagedCharger, code int, reason string) {
	mc.stopMeterLoop()
	mc.stopHeartbeatLoop()
	mc.mu.Lock()
	wasConnected := mc.connected
	mc.connected = false
	mc.sess = nil
	mc.mu.Unlock()

	if wasConnected {
		mc.publish(events.NewSessionClosedEvent(mc.cfg.CpID, code, reason))
	}
	if m.onSessionClose != nil {
		m.onSessionClose(mc.cfg.CpID, code, reason)
	}
}

// Disconnect 关闭会话并复位状态
func (m *Manager) Disconnect(cpID string) error {
	mc, err := m.charger(cpID)
	if err != nil {
		return err
	}

	mc.stopMeterLoop()
	mc.stopHeartbeatLoop()
	mc.mu.Lock()
	sess := mc.sess
	mc.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	return nil
}

// BulkResult 批量操作的聚合结果
type BulkResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// ConnectAll 顺序连接全部充电桩，尽力而为
func (m *Manager) ConnectAll(ctx context.Context) BulkResult {
	var result BulkResult
	for _, info := range m.ListChargers() {
		if err := m.Connect(ctx, info.CpID); err != nil {
			m.log.ErrorWithErr(err, fmt.Sprintf("connect %s failed", info.CpID))
			result.Failed++
			continue
		}
		result.Success++
	}
	return result
}

// SetConnectorStatus 管理端改连接器状态，已连接时发StatusNotification
func (m *Manager) SetConnectorStatus(cpID string, connectorID int, status ocpp16.ChargePointStatus, errorCode ocpp16.ChargePointErrorCode) error {
	mc, err := m.charger(cpID)
	if err != nil {
		return err
	}
	if errorCode == "" {
		errorCode = ocpp16.ChargePointErrorCodeNoError
	}
	return mc.setStatus(connectorID, status, errorCode)
}

// SetChargingCurrent 设置桩侧允许电流，功率估算会被下个计量周期覆盖
func (m *Manager) SetChargingCurrent(cpID string, connectorID int, amps float64) error {
	if amps < 0 {
		return fmt.Errorf("%w: current must be non-negative", ErrInvalidArgument)
	}
	mc, err := m.charger(cpID)
	if err != nil {
		return err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	c, err := mc.connector(connectorID)
	if err != nil {
		return err
	}
	c.OfferedCurrentA = amps
	c.ReportedPowerW = 230 * amps * float64(mc.cfg.Phases)
	if c.car != nil {
		c.car.SetOfferedCurrent(amps)
	}
	return nil
}

// SetTransactionID 手工绑定或清除连接器的交易ID
func (m *Manager) SetTransactionID(cpID string, connectorID int, transactionID *int) error {
	mc, err := m.charger(cpID)
	if err != nil {
		return err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	c, err := mc.connector(connectorID)
	if err != nil {
		return err
	}
	c.TransactionID = transactionID
	return nil
}

// ResetEnergy 归零连接器累计能量
func (m *Manager) ResetEnergy(cpID string, connectorID int) error {
	mc, err := m.charger(cpID)
	if err != nil {
		return err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	c, err := mc.connector(connectorID)
	if err != nil {
		return err
	}
	c.EnergyImportedWh = 0
	return nil
}

// StartTransaction 发起充电交易：Authorize，停顿，StartTransaction，轮询交易ID
func (m *Manager) StartTransaction(cpID string, connectorID int, idTag string) error {
	mc, err := m.charger(cpID)
	if err != nil {
		return err
	}

	mc.mu.Lock()
	c, cerr := mc.connector(connectorID)
	if cerr != nil {
		mc.mu.Unlock()
		return cerr
	}
	if c.TransactionID != nil {
		mc.mu.Unlock()
		return fmt.Errorf("%w: connector %d already bound to transaction %d", ErrConflict, connectorID, *c.TransactionID)
	}
	sess := mc.sess
	connected := mc.connected
	carPresent := c.car != nil
	mc.mu.Unlock()

	if !connected || sess == nil {
		return fmt.Errorf("%w: charger %s is not connected", ErrInvalidArgument, cpID)
	}
	if idTag == "" {
		idTag = "DEFAULTTAG"
	}

	if err := sess.Send(string(ocpp16.ActionAuthorize), &ocpp16.AuthorizeRequest{IdTag: idTag}); err != nil {
		return err
	}

	time.Sleep(500 * time.Millisecond)

	startReq := &ocpp16.StartTransactionRequest{
		ConnectorId: connectorID,
		IdTag:       idTag,
		MeterStart:  mc.meterStartValue(connectorID),
		Timestamp:   ocpp16.Now(),
	}
	if err := sess.Send(string(ocpp16.ActionStartTransaction), startReq); err != nil {
		return err
	}

	if err := mc.setStatus(connectorID, ocpp16.ChargePointStatusPreparing, ocpp16.ChargePointErrorCodeNoError); err != nil {
		return err
	}

	// 等交易管理器拿到CSMS分配的交易ID
	var tx *session.TransactionState
	for i := 0; i < 50; i++ {
		time.Sleep(200 * time.Millisecond)
		if tx = mc.txmgr.FindByConnector(connectorID); tx != nil {
			break
		}
	}
	if tx == nil {
		// 超时只记日志，迟到的交易ID留在交易管理器里，车队循环不认领
		mc.log.Warnf("transaction id for connector %d not assigned within 10s", connectorID)
		return nil
	}

	txID := tx.TransactionID
	mc.mu.Lock()
	c.TransactionID = &txID
	mc.mu.Unlock()

	// 车队的15秒循环接管计量，停掉会话自带定时器
	mc.txmgr.DisableTimer(txID)

	if carPresent {
		if err := mc.setStatus(connectorID, ocpp16.ChargePointStatusSuspendedEV, ocpp16.ChargePointErrorCodeNoError); err != nil {
			return err
		}
		time.Sleep(mc.chargingDelay())
		if err := mc.setStatus(connectorID, ocpp16.ChargePointStatusCharging, ocpp16.ChargePointErrorCodeNoError); err != nil {
			return err
		}
	}
	return nil
}

// StopTransaction 结束交易并发送StopTransaction
func (m *Manager) StopTransaction(cpID string, connectorID int, reason *ocpp16.Reason) error {
	mc, err := m.charger(cpID)
	if err != nil {
		return err
	}

	mc.mu.Lock()
	c, cerr := mc.connector(connectorID)
	if cerr != nil {
		mc.mu.Unlock()
		return cerr
	}
	if c.TransactionID == nil {
		mc.mu.Unlock()
		return fmt.Errorf("%w: connector %d has no active transaction", ErrConflict, connectorID)
	}
	txID := *c.TransactionID
	meterStop := int(math.Round(c.EnergyImportedWh))
	c.TransactionID = nil
	carPresent := c.car != nil
	sess := mc.sess
	connected := mc.connected
	mc.mu.Unlock()

	mc.txmgr.StopTransaction(txID)

	if connected && sess != nil {
		stopReq := &ocpp16.StopTransactionRequest{
			MeterStop:     meterStop,
			Timestamp:     ocpp16.Now(),
			TransactionId: txID,
			Reason:        reason,
		}
		if err := sess.Send(string(ocpp16.ActionStopTransaction), stopReq); err != nil {
			return err
		}
	}

	status := ocpp16.ChargePointStatusAvailable
	if carPresent {
		status = ocpp16.ChargePointStatusPreparing
	}
	if err := mc.setStatus(connectorID, status, ocpp16.ChargePointErrorCodeNoError); err != nil {
		return err
	}

	reasonStr := ""
	if reason != nil {
		reasonStr = string(*reason)
	}
	mc.publish(events.NewTransactionStoppedEvent(cpID, txID, connectorID, float64(meterStop), reasonStr))
	return nil
}

// PlugInCar 插入模拟车辆
func (m *Manager) PlugInCar(cpID string, connectorID int, profileID string, initialSoc float64) error {
	if initialSoc < 0 || initialSoc > 1 {
		return fmt.Errorf("%w: initialSoc must be in [0,1]", ErrInvalidArgument)
	}
	mc, err := m.charger(cpID)
	if err != nil {
		return err
	}
	profile, err := sim.ProfileByID(profileID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	mc.mu.Lock()
	c, cerr := mc.connector(connectorID)
	if cerr != nil {
		mc.mu.Unlock()
		return cerr
	}
	if c.car != nil {
		mc.mu.Unlock()
		return fmt.Errorf("%w: connector %d already has a car plugged in", ErrConflict, connectorID)
	}
	car := sim.NewCarSimulator(profile, mc.cfg.Phases, initialSoc, mc.rng)
	car.SetOfferedCurrent(c.OfferedCurrentA)
	c.car = car
	txActive := c.TransactionID != nil
	mc.mu.Unlock()

	if txActive {
		// 交易已在等车，走SuspendedEV→Charging
		if err := mc.setStatus(connectorID, ocpp16.ChargePointStatusSuspendedEV, ocpp16.ChargePointErrorCodeNoError); err != nil {
			return err
		}
		time.Sleep(mc.chargingDelay())
		return mc.setStatus(connectorID, ocpp16.ChargePointStatusCharging, ocpp16.ChargePointErrorCodeNoError)
	}
	return mc.setStatus(connectorID, ocpp16.ChargePointStatusPreparing, ocpp16.ChargePointErrorCodeNoError)
}

// UnplugCar 拔出模拟车辆
func (m *Manager) UnplugCar(cpID string, connectorID int) error {
	mc, err := m.charger(cpID)
	if err != nil {
		return err
	}

	mc.mu.Lock()
	c, cerr := mc.connector(connectorID)
	if cerr != nil {
		mc.mu.Unlock()
		return cerr
	}
	if c.car == nil {
		mc.mu.Unlock()
		return fmt.Errorf("%w: connector %d has no car plugged in", ErrConflict, connectorID)
	}
	c.car = nil
	txActive := c.TransactionID != nil
	mc.mu.Unlock()

	status := ocpp16.ChargePointStatusAvailable
	if txActive {
		status = ocpp16.ChargePointStatusPreparing
	}
	return mc.setStatus(connectorID, status, ocpp16.ChargePointErrorCodeNoError)
}

// GetCarStatus 查询插入车辆的状态
func (m *Manager) GetCarStatus(cpID string, connectorID int) (CarStatus, error) {
	mc, err := m.charger(cpID)
	if err != nil {
		return CarStatus{}, err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	c, cerr := mc.connector(connectorID)
	if cerr != nil {
		return CarStatus{}, cerr
	}
	if c.car == nil {
		return CarStatus{}, fmt.Errorf("%w: connector %d has no car plugged in", ErrNotFound, connectorID)
	}
	return CarStatus{
		ProfileID:         c.car.Profile().ID,
		Soc:               c.car.Soc(),
		ActualCurrentA:    c.car.ActualCurrentA(),
		OfferedCurrentA:   c.car.OfferedCurrentA(),
		EnergyDeliveredWh: c.car.EnergyDeliveredWh(),
		EffectivePhases:   c.car.EffectivePhases(),
	}, nil
}

// ListCarProfiles 内置车型目录
func (m *Manager) ListCarProfiles() []sim.CarProfile {
	return sim.Profiles()
}

// BulkSetConnectorStatus 批量改连接器状态
func (m *Manager) BulkSetConnectorStatus(cpIDs []string, connectorID int, status ocpp16.ChargePointStatus, errorCode ocpp16.ChargePointErrorCode) BulkResult {
	var result BulkResult
	for _, cpID := range cpIDs {
		if err := m.SetConnectorStatus(cpID, connectorID, status, errorCode); err != nil {
			m.log.ErrorWithErr(err, fmt.Sprintf("bulk status %s failed", cpID))
			result.Failed++
			continue
		}
		result.Success++
	}
	return result
}

// BulkSetChargingCurrent 批量设置允许电流
func (m *Manager) BulkSetChargingCurrent(cpIDs []string, connectorID int, amps float64) BulkResult {
	var result BulkResult
	for _, cpID := range cpIDs {
		if err := m.SetChargingCurrent(cpID, connectorID, amps); err != nil {
			m.log.ErrorWithErr(err, fmt.Sprintf("bulk current %s failed", cpID))
			result.Failed++
			continue
		}
		result.Success++
	}
	return result
}

// BulkSendChangeConfiguration 批量写配置键，走与CSMS ChangeConfiguration相同的规则
func (m *Manager) BulkSendChangeConfiguration(cpIDs []string, key, value string) BulkResult {
	var result BulkResult
	for _, cpID := range cpIDs {
		mc, err := m.charger(cpID)
		if err != nil {
			result.Failed++
			continue
		}
		if status := mc.confKeys.Set(key, value); status != ocpp16.ConfigurationStatusAccepted {
			m.log.Warnf("bulk config %s: %s=%s -> %s", cpID, key, value, status)
			result.Failed++
			continue
		}
		result.Success++
	}
	return result
}

// GetWsURL 当前CSMS地址
func (m *Manager) GetWsURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wsURL
}

// SetWsURL 更新CSMS地址，仅影响之后的连接
func (m *Manager) SetWsURL(wsURL string) error {
	if _, err := parseWsURL(wsURL); err != nil {
		return err
	}
	m.mu.Lock()
	m.wsURL = wsURL
	m.mu.Unlock()
	return nil
}

// Shutdown 断开全部会话
func (m *Manager) Shutdown() {
	for _, info := range m.ListChargers() {
		if err := m.Disconnect(info.CpID); err != nil {
			m.log.ErrorWithErr(err, fmt.Sprintf("shutdown disconnect %s failed", info.CpID))
		}
	}
}

// chargingDelay SuspendedEV到Charging的随机延迟，U[2,3]秒
func (mc *ManagedCharger) chargingDelay() time.Duration {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return 2*time.Second + time.Duration(mc.rng.Float64()*float64(time.Second))
}

// parseWsURL 校验CSMS地址必须是ws或wss
func parseWsURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ws url %s: %v", ErrInvalidArgument, raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: ws url scheme must be ws or wss, got %q", ErrInvalidArgument, u.Scheme)
	}
	return u, nil
}
