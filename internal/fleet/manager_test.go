package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/vcp-simulator/internal/domain/ocpp16"
)

// frameRecord 假CSMS记录的单个入站帧。Type 2为桩发起的请求，3为对CSMS请求的应答
type frameRecord struct {
	CpID    string
	Type    int
	Action  string
	Payload json.RawMessage
}

// csmsConn 串行化单条连接上的写操作
type csmsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (cc *csmsConn) write(data []byte) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.conn.WriteMessage(websocket.TextMessage, data)
}

// fakeCSMS 进程内CSMS：接受任意桩连接，按动作自动应答并记录全部入站帧
type fakeCSMS struct {
	server *httptest.Server

	// bootInterval BootNotification应答里的interval秒数
	bootInterval int

	mu     sync.Mutex
	frames []frameRecord
	conns  map[string]*csmsConn
	nextID int
}

func newFakeCSMS(t *testing.T) *fakeCSMS {
	f := &fakeCSMS{
		bootInterval: 300,
		conns:        make(map[string]*csmsConn),
	}
	upgrader := websocket.Upgrader{Subprotocols: []string{"ocpp1.6"}}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cpID := path.Base(r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cc := &csmsConn{conn: conn}
		f.mu.Lock()
		f.conns[cpID] = cc
		f.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.handleFrame(cc, cpID, data)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCSMS) endpoint() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

// handleFrame 记录入站帧，对请求按动作自动应答
func (f *fakeCSMS) handleFrame(cc *csmsConn, cpID string, data []byte) {
	var elements []json.RawMessage
	if json.Unmarshal(data, &elements) != nil || len(elements) < 3 {
		return
	}
	var indicator int
	if json.Unmarshal(elements[0], &indicator) != nil {
		return
	}

	if indicator == 3 {
		f.mu.Lock()
		f.frames = append(f.frames, frameRecord{CpID: cpID, Type: 3, Payload: elements[2]})
		f.mu.Unlock()
		return
	}
	if indicator != 2 || len(elements) < 4 {
		return
	}

	var messageID, action string
	if json.Unmarshal(elements[1], &messageID) != nil || json.Unmarshal(elements[2], &action) != nil {
		return
	}

	f.mu.Lock()
	f.frames = append(f.frames, frameRecord{CpID: cpID, Type: 2, Action: action, Payload: elements[3]})
	bootInterval := f.bootInterval
	f.mu.Unlock()

	var payload interface{}
	switch action {
	case "BootNotification":
		payload = map[string]interface{}{
			"status":      "Accepted",
			"currentTime": "2026-01-01T00:00:00.000Z",
			"interval":    bootInterval,
		}
	case "Authorize":
		payload = map[string]interface{}{
			"idTagInfo": map[string]string{"status": "Accepted"},
		}
	case "StartTransaction":
		payload = map[string]interface{}{
			"idTagInfo":     map[string]string{"status": "Accepted"},
			"transactionId": 42,
		}
	case "Heartbeat":
		payload = map[string]string{"currentTime": "2026-01-01T00:00:00.000Z"}
	default:
		payload = map[string]interface{}{}
	}

	reply, _ := json.Marshal([]interface{}{3, messageID, payload})
	cc.write(reply)
}

// sendCall 以CSMS身份向某个桩推送请求帧
func (f *fakeCSMS) sendCall(t *testing.T, cpID, action string, payload interface{}) {
	f.mu.Lock()
	cc := f.conns[cpID]
	f.nextID++
	messageID := fmt.Sprintf("srv-%d", f.nextID)
	f.mu.Unlock()
	require.NotNil(t, cc, "no connection for %s", cpID)

	data, err := json.Marshal([]interface{}{2, messageID, action, payload})
	require.NoError(t, err)
	require.NoError(t, cc.write(data))
}

// framesFor 某个桩已记录的请求快照
func (f *fakeCSMS) framesFor(cpID string) []frameRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []frameRecord
	for _, fr := range f.frames {
		if fr.CpID == cpID {
			out = append(out, fr)
		}
	}
	return out
}

// waitFrames 等到某个桩至少记录n个请求
func (f *fakeCSMS) waitFrames(t *testing.T, cpID string, n int) []frameRecord {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if frames := f.framesFor(cpID); len(frames) >= n {
			return frames
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames from %s, got %d", n, cpID, len(f.framesFor(cpID)))
	return nil
}

func newTestManager(t *testing.T, wsURL string) *Manager {
	m, err := NewManager(Options{
		WsURL:          wsURL,
		RosterPath:     filepath.Join(t.TempDir(), "chargers.json"),
		CallTimeout:    5 * time.Second,
		MeterInterval:  200 * time.Millisecond,
		ConnectTimeout: 3 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

func TestAddChargerRejectsDuplicates(t *testing.T) {
	m := newTestManager(t, "ws://localhost:1")

	cfg := ChargerConfig{CpID: "CP-A", NumConnectors: 1, Phases: 1}
	require.NoError(t, m.AddCharger(cfg))

	err := m.AddCharger(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGenerateChargersNaming(t *testing.T) {
	m := newTestManager(t, "ws://localhost:1")

	cpIDs, err := m.GenerateChargers("LOAD", 3, ChargerConfig{NumConnectors: 1, Phases: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"LOAD-001", "LOAD-002", "LOAD-003"}, cpIDs)

	info, err := m.GetCharger("LOAD-002")
	require.NoError(t, err)
	assert.Equal(t, 3, info.Config.Phases)
}

func TestRosterPersistsAcrossManagers(t *testing.T) {
	rosterPath := filepath.Join(t.TempDir(), "chargers.json")

	m1, err := NewManager(Options{WsURL: "ws://localhost:1", RosterPath: rosterPath})
	require.NoError(t, err)
	require.NoError(t, m1.AddCharger(ChargerConfig{CpID: "CP-A", NumConnectors: 1, Phases: 1}))
	require.NoError(t, m1.AddCharger(ChargerConfig{CpID: "CP-B", NumConnectors: 2, Phases: 3}))
	require.NoError(t, m1.RemoveCharger("CP-A"))

	m2, err := NewManager(Options{WsURL: "ws://localhost:1", RosterPath: rosterPath})
	require.NoError(t, err)
	chargers := m2.ListChargers()
	require.Len(t, chargers, 1)
	assert.Equal(t, "CP-B", chargers[0].CpID)
}

func TestSetWsURLRejectsBadScheme(t *testing.T) {
	m := newTestManager(t, "ws://localhost:1")
	err := m.SetWsURL("http://localhost:1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, m.SetWsURL("wss://csms.example.com/ocpp"))
	assert.Equal(t, "wss://csms.example.com/ocpp", m.GetWsURL())
}

func TestConnectBootSequence(t *testing.T) {
	csms := newFakeCSMS(t)
	m := newTestManager(t, csms.endpoint())

	require.NoError(t, m.AddCharger(ChargerConfig{CpID: "CP-A", NumConnectors: 1, Phases: 1}))
	require.NoError(t, m.Connect(context.Background(), "CP-A"))

	// 开机顺序：BootNotification，连接器0状态，连接器1状态
	frames := csms.waitFrames(t, "CP-A", 3)
	assert.Equal(t, "BootNotification", frames[0].Action)
	assert.Equal(t, "StatusNotification", frames[1].Action)
	assert.Equal(t, "StatusNotification", frames[2].Action)

	var sn0, sn1 ocpp16.StatusNotificationRequest
	require.NoError(t, json.Unmarshal(frames[1].Payload, &sn0))
	require.NoError(t, json.Unmarshal(frames[2].Payload, &sn1))
	assert.Equal(t, 0, sn0.ConnectorId)
	assert.Equal(t, ocpp16.ChargePointStatusAvailable, sn0.Status)
	assert.Equal(t, 1, sn1.ConnectorId)
	assert.Equal(t, ocpp16.ChargePointStatusAvailable, sn1.Status)

	info, err := m.GetCharger("CP-A")
	require.NoError(t, err)
	assert.True(t, info.Connected)
}

func TestConnectAllBulkRollout(t *testing.T) {
	csms := newFakeCSMS(t)
	m := newTestManager(t, csms.endpoint())

	_, err := m.GenerateChargers("LOAD", 3, ChargerConfig{NumConnectors: 1, Phases: 3})
	require.NoError(t, err)

	result := m.ConnectAll(context.Background())
	assert.Equal(t, 3, result.Success)
	assert.Equal(t, 0, result.Failed)

	// 每个桩独立发出自己的开机帧
	for _, cpID := range []string{"LOAD-001", "LOAD-002", "LOAD-003"} {
		frames := csms.waitFrames(t, cpID, 3)
		assert.Equal(t, "BootNotification", frames[0].Action)
	}
}

func TestFullTransactionFlow(t *testing.T) {
	csms := newFakeCSMS(t)
	m := newTestManager(t, csms.endpoint())

	require.NoError(t, m.AddCharger(ChargerConfig{CpID: "CP-A", NumConnectors: 1, Phases: 1}))
	require.NoError(t, m.Connect(context.Background(), "CP-A"))
	csms.waitFrames(t, "CP-A", 3)

	require.NoError(t, m.PlugInCar("CP-A", 1, "generic-medium", 0.5))
	info, err := m.GetCharger("CP-A")
	require.NoError(t, err)
	assert.Equal(t, ocpp16.ChargePointStatusPreparing, info.Connectors[0].Status)

	require.NoError(t, m.StartTransaction("CP-A", 1, "TAG1"))

	// Authorize先于StartTransaction发出
	var authorizeIdx, startIdx = -1, -1
	for i, fr := range csms.framesFor("CP-A") {
		switch fr.Action {
		case "Authorize":
			authorizeIdx = i
		case "StartTransaction":
			if startIdx == -1 {
				startIdx = i
			}
		}
	}
	require.GreaterOrEqual(t, authorizeIdx, 0)
	require.Greater(t, startIdx, authorizeIdx)

	info, err = m.GetCharger("CP-A")
	require.NoError(t, err)
	require.NotNil(t, info.Connectors[0].TransactionID)
	assert.Equal(t, 42, *info.Connectors[0].TransactionID)
	assert.Equal(t, ocpp16.ChargePointStatusCharging, info.Connectors[0].Status)

	// 重复发起同连接器交易报冲突
	err = m.StartTransaction("CP-A", 1, "TAG1")
	assert.ErrorIs(t, err, ErrConflict)

	// 设置电流后计量循环发出带交易ID的MeterValues
	require.NoError(t, m.SetChargingCurrent("CP-A", 1, 16))
	deadline := time.Now().Add(5 * time.Second)
	var mvFrame *frameRecord
	for time.Now().Before(deadline) && mvFrame == nil {
		for _, fr := range csms.framesFor("CP-A") {
			if fr.Action == "MeterValues" {
				f := fr
				mvFrame = &f
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.NotNil(t, mvFrame, "no MeterValues emitted")

	var mvReq ocpp16.MeterValuesRequest
	require.NoError(t, json.Unmarshal(mvFrame.Payload, &mvReq))
	assert.Equal(t, 1, mvReq.ConnectorId)
	require.NotNil(t, mvReq.TransactionId)
	assert.Equal(t, 42, *mvReq.TransactionId)

	reason := ocpp16.ReasonLocal
	require.NoError(t, m.StopTransaction("CP-A", 1, &reason))

	info, err = m.GetCharger("CP-A")
	require.NoError(t, err)
	assert.Nil(t, info.Connectors[0].TransactionID)
	// 车还插着，回Preparing
	assert.Equal(t, ocpp16.ChargePointStatusPreparing, info.Connectors[0].Status)
}

func TestSetConnectorStatusEmitsNotification(t *testing.T) {
	csms := newFakeCSMS(t)
	m := newTestManager(t, csms.endpoint())

	require.NoError(t, m.AddCharger(ChargerConfig{CpID: "CP-A", NumConnectors: 1, Phases: 1}))
	require.NoError(t, m.Connect(context.Background(), "CP-A"))
	csms.waitFrames(t, "CP-A", 3)

	// 同一状态设两次发两条通知，不去重
	require.NoError(t, m.SetConnectorStatus("CP-A", 1, ocpp16.ChargePointStatusUnavailable, ""))
	require.NoError(t, m.SetConnectorStatus("CP-A", 1, ocpp16.ChargePointStatusUnavailable, ""))

	frames := csms.waitFrames(t, "CP-A", 5)
	statusCount := 0
	for _, fr := range frames[3:] {
		if fr.Action == "StatusNotification" {
			statusCount++
		}
	}
	assert.Equal(t, 2, statusCount)

	info, err := m.GetCharger("CP-A")
	require.NoError(t, err)
	assert.Equal(t, ocpp16.ChargePointStatusUnavailable, info.Connectors[0].Status)
}

func TestPlugAndUnplugCar(t *testing.T) {
	m := newTestManager(t, "ws://localhost:1")
	require.NoError(t, m.AddCharger(ChargerConfig{CpID: "CP-A", NumConnectors: 1, Phases: 3}))

	require.NoError(t, m.PlugInCar("CP-A", 1, "1p-32a", 0.3))

	status, err := m.GetCarStatus("CP-A", 1)
	require.NoError(t, err)
	assert.Equal(t, "1p-32a", status.ProfileID)
	assert.InDelta(t, 0.3, status.Soc, 0.001)
	// 单相车插三相桩，有效相数为1
	assert.Equal(t, 1, status.EffectivePhases)

	// 重复插车报冲突
	err = m.PlugInCar("CP-A", 1, "1p-32a", 0.5)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, m.UnplugCar("CP-A", 1))
	_, err = m.GetCarStatus("CP-A", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	info, err := m.GetCharger("CP-A")
	require.NoError(t, err)
	assert.Equal(t, ocpp16.ChargePointStatusAvailable, info.Connectors[0].Status)
}

func TestSetChargingCurrentUpdatesPowerEstimate(t *testing.T) {
	m := newTestManager(t, "ws://localhost:1")
	require.NoError(t, m.AddCharger(ChargerConfig{CpID: "CP-A", NumConnectors: 1, Phases: 3}))

	require.NoError(t, m.SetChargingCurrent("CP-A", 1, 16))

	info, err := m.GetCharger("CP-A")
	require.NoError(t, err)
	assert.Equal(t, 16.0, info.Connectors[0].OfferedCurrentA)
	assert.Equal(t, 230.0*16*3, info.Connectors[0].ReportedPowerW)

	err = m.SetChargingCurrent("CP-A", 1, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBulkOperations(t *testing.T) {
	m := newTestManager(t, "ws://localhost:1")
	_, err := m.GenerateChargers("LOAD", 2, ChargerConfig{NumConnectors: 1, Phases: 1})
	require.NoError(t, err)

	result := m.BulkSetChargingCurrent([]string{"LOAD-001", "LOAD-002", "MISSING"}, 1, 10)
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 1, result.Failed)

	result = m.BulkSendChangeConfiguration([]string{"LOAD-001", "LOAD-002"}, "HeartbeatInterval", "60")
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 0, result.Failed)

	// 只读键批量写全部失败
	result = m.BulkSendChangeConfiguration([]string{"LOAD-001", "LOAD-002"}, "NumberOfConnectors", "9")
	assert.Equal(t, 0, result.Success)
	assert.Equal(t, 2, result.Failed)
}

func TestResetEnergyAndSetTransactionID(t *testing.T) {
	m := newTestManager(t, "ws://localhost:1")
	require.NoError(t, m.AddCharger(ChargerConfig{CpID: "CP-A", NumConnectors: 1, Phases: 1}))

	txID := 7
	require.NoError(t, m.SetTransactionID("CP-A", 1, &txID))
	info, err := m.GetCharger("CP-A")
	require.NoError(t, err)
	require.NotNil(t, info.Connectors[0].TransactionID)
	assert.Equal(t, 7, *info.Connectors[0].TransactionID)

	require.NoError(t, m.SetTransactionID("CP-A", 1, nil))
	require.NoError(t, m.ResetEnergy("CP-A", 1))

	info, err = m.GetCharger("CP-A")
	require.NoError(t, err)
	assert.Nil(t, info.Connectors[0].TransactionID)
	assert.Zero(t, info.Connectors[0].EnergyImportedWh)
}

// waitConnectorStatus 等连接器达到目标状态
func waitConnectorStatus(t *testing.T, m *Manager, cpID string, connectorID int, want ocpp16.ChargePointStatus) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		info, err := m.GetCharger(cpID)
		require.NoError(t, err)
		for _, c := range info.Connectors {
			if c.ID == connectorID && c.Status == want {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	info, _ := m.GetCharger(cpID)
	t.Fatalf("connector %d never reached %s, state: %+v", connectorID, want, info.Connectors)
}

func TestPeriodicHeartbeat(t *testing.T) {
	csms := newFakeCSMS(t)
	csms.bootInterval = 1
	m := newTestManager(t, csms.endpoint())

	require.NoError(t, m.AddCharger(ChargerConfig{CpID: "CP-A", NumConnectors: 1, Phases: 1}))
	require.NoError(t, m.Connect(context.Background(), "CP-A"))

	// 心跳节奏来自BootNotification应答的interval
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		for _, fr := range csms.framesFor("CP-A") {
			if fr.Action == "Heartbeat" {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("no periodic Heartbeat observed")
}

func TestTriggerMessageHeartbeat(t *testing.T) {
	csms := newFakeCSMS(t)
	m := newTestManager(t, csms.endpoint())

	require.NoError(t, m.AddCharger(ChargerConfig{CpID: "CP-A", NumConnectors: 1, Phases: 1}))
	require.NoError(t, m.Connect(context.Background(), "CP-A"))
	csms.waitFrames(t, "CP-A", 3)

	csms.sendCall(t, "CP-A", "TriggerMessage", map[string]string{"requestedMessage": "Heartbeat"})

	// 先看到Accepted应答，再看到触发出的Heartbeat
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		frames := csms.framesFor("CP-A")
		resultIdx, heartbeatIdx := -1, -1
		for i, fr := range frames {
			if fr.Type == 3 && strings.Contains(string(fr.Payload), "Accepted") && resultIdx == -1 {
				resultIdx = i
			}
			if fr.Type == 2 && fr.Action == "Heartbeat" {
				heartbeatIdx = i
			}
		}
		if heartbeatIdx >= 0 {
			require.GreaterOrEqual(t, resultIdx, 0)
			assert.Less(t, resultIdx, heartbeatIdx)
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("triggered Heartbeat never arrived")
}

func TestFullBatterySuspendsCharging(t *testing.T) {
	csms := newFakeCSMS(t)
	m := newTestManager(t, csms.endpoint())

	require.NoError(t, m.AddCharger(ChargerConfig{CpID: "CP-A", NumConnectors: 1, Phases: 1}))
	require.NoError(t, m.Connect(context.Background(), "CP-A"))
	csms.waitFrames(t, "CP-A", 3)

	require.NoError(t, m.PlugInCar("CP-A", 1, "1p-32a", 1.0))
	require.NoError(t, m.StartTransaction("CP-A", 1, "TAG1"))
	require.NoError(t, m.SetChargingCurrent("CP-A", 1, 32))

	// 满电车辆在下一个计量周期停止取流，连接器挂起
	waitConnectorStatus(t, m, "CP-A", 1, ocpp16.ChargePointStatusSuspendedEV)

	var sawMeterValues, sawSuspended bool
	for _, fr := range csms.framesFor("CP-A") {
		if fr.Action == "MeterValues" {
			sawMeterValues = true
		}
		if fr.Action == "StatusNotification" && strings.Contains(string(fr.Payload), "SuspendedEV") {
			sawSuspended = true
		}
	}
	assert.True(t, sawMeterValues, "terminal meter sample missing")
	assert.True(t, sawSuspended, "SuspendedEV StatusNotification missing")
}

func TestResetDisconnectsAfterResult(t *testing.T) {
	csms := newFakeCSMS(t)
	m := newTestManager(t, csms.endpoint())

	require.NoError(t, m.AddCharger(ChargerConfig{CpID: "CP-A", NumConnectors: 1, Phases: 1}))
	require.NoError(t, m.Connect(context.Background(), "CP-A"))
	csms.waitFrames(t, "CP-A", 3)

	csms.sendCall(t, "CP-A", "Reset", map[string]string{"type": "Soft"})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		info, err := m.GetCharger("CP-A")
		require.NoError(t, err)
		if !info.Connected {
			// 断开前已把Accepted应答写出
			var sawResult bool
			for _, fr := range csms.framesFor("CP-A") {
				if fr.Type == 3 && strings.Contains(string(fr.Payload), "Accepted") {
					sawResult = true
				}
			}
			assert.True(t, sawResult)
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("charger never disconnected after Reset")
}

func TestRemoteStartAndStop(t *testing.T) {
	csms := newFakeCSMS(t)
	m := newTestManager(t, csms.endpoint())

	require.NoError(t, m.AddCharger(ChargerConfig{CpID: "CP-A", NumConnectors: 1, Phases: 1}))
	require.NoError(t, m.Connect(context.Background(), "CP-A"))
	csms.waitFrames(t, "CP-A", 3)

	csms.sendCall(t, "CP-A", "RemoteStartTransaction", map[string]string{"idTag": "REMOTE1"})

	// 远程启动走Authorize加StartTransaction，交易ID绑定到连接器
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		info, err := m.GetCharger("CP-A")
		require.NoError(t, err)
		if tx := info.Connectors[0].TransactionID; tx != nil {
			assert.Equal(t, 42, *tx)
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	info, err := m.GetCharger("CP-A")
	require.NoError(t, err)
	require.NotNil(t, info.Connectors[0].TransactionID)

	var sawAuthorize bool
	for _, fr := range csms.framesFor("CP-A") {
		if fr.Action == "Authorize" {
			sawAuthorize = true
		}
	}
	assert.True(t, sawAuthorize)

	csms.sendCall(t, "CP-A", "RemoteStopTransaction", map[string]int{"transactionId": 42})
	waitConnectorStatus(t, m, "CP-A", 1, ocpp16.ChargePointStatusAvailable)

	info, err = m.GetCharger("CP-A")
	require.NoError(t, err)
	assert.Nil(t, info.Connectors[0].TransactionID)

	var sawStop bool
	for _, fr := range csms.framesFor("CP-A") {
		if fr.Action == "StopTransaction" {
			sawStop = true
		}
	}
	assert.True(t, sawStop)
}

func TestChangeAvailabilityInoperative(t *testing.T) {
	csms := newFakeCSMS(t)
	m := newTestManager(t, csms.endpoint())

	require.NoError(t, m.AddCharger(ChargerConfig{CpID: "CP-A", NumConnectors: 2, Phases: 1}))
	require.NoError(t, m.Connect(context.Background(), "CP-A"))
	csms.waitFrames(t, "CP-A", 4)

	// connectorId为0作用于全部连接器
	csms.sendCall(t, "CP-A", "ChangeAvailability", map[string]interface{}{
		"connectorId": 0,
		"type":        "Inoperative",
	})
	waitConnectorStatus(t, m, "CP-A", 1, ocpp16.ChargePointStatusUnavailable)
	waitConnectorStatus(t, m, "CP-A", 2, ocpp16.ChargePointStatusUnavailable)

	csms.sendCall(t, "CP-A", "ChangeAvailability", map[string]interface{}{
		"connectorId": 1,
		"type":        "Operative",
	})
	waitConnectorStatus(t, m, "CP-A", 1, ocpp16.ChargePointStatusAvailable)
}

func TestOperationsOnMissingCharger(t *testing.T) {
	m := newTestManager(t, "ws://localhost:1")

	assert.ErrorIs(t, m.Connect(context.Background(), "MISSING"), ErrNotFound)
	assert.ErrorIs(t, m.RemoveCharger("MISSING"), ErrNotFound)
	_, err := m.GetCharger("MISSING")
	assert.ErrorIs(t, err, ErrNotFound)
}
