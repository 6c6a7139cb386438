package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType 事件类型
type EventType string

const (
	EventTypeSessionConnected       EventType = "session.connected"
	EventTypeSessionClosed          EventType = "session.closed"
	EventTypeConnectorStatusChanged EventType = "connector.status_changed"
	EventTypeTransactionStarted     EventType = "transaction.started"
	EventTypeTransactionStopped     EventType = "transaction.stopped"
)

// EventSeverity 事件严重程度
type EventSeverity string

const (
	SeverityInfo    EventSeverity = "info"
	SeverityWarning EventSeverity = "warning"
)

// Event 统一业务事件接口
type Event interface {
	// GetID 获取事件ID
	GetID() string
	// GetType 获取事件类型
	GetType() EventType
	// GetChargePointID 获取充电桩ID
	GetChargePointID() string
	// GetTimestamp 获取事件时间戳
	GetTimestamp() time.Time
	// ToJSON 序列化为JSON
	ToJSON() ([]byte, error)
}

// BaseEvent 基础事件结构
type BaseEvent struct {
	ID            string        `json:"id"`
	Type          EventType     `json:"type"`
	ChargePointID string        `json:"charge_point_id"`
	Timestamp     time.Time     `json:"timestamp"`
	Severity      EventSeverity `json:"severity"`
}

// GetID 实现Event接口
func (e *BaseEvent) GetID() string {
	return e.ID
}

// GetType 实现Event接口
func (e *BaseEvent) GetType() EventType {
	return e.Type
}

// GetChargePointID 实现Event接口
func (e *BaseEvent) GetChargePointID() string {
	return e.ChargePointID
}

// GetTimestamp 实现Event接口
func (e *BaseEvent) GetTimestamp() time.Time {
	return e.Timestamp
}

// NewBaseEvent 创建基础事件
func NewBaseEvent(eventType EventType, chargePointID string, severity EventSeverity) *BaseEvent {
	return &BaseEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		ChargePointID: chargePointID,
		Timestamp:     time.Now().UTC(),
		Severity:      severity,
	}
}

// SessionConnectedEvent 会话建立事件
type SessionConnectedEvent struct {
	*BaseEvent
	Endpoint string `json:"endpoint"`
}

// ToJSON 实现Event接口
func (e *SessionConnectedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewSessionConnectedEvent 创建会话建立事件
func NewSessionConnectedEvent(chargePointID, endpoint string) *SessionConnectedEvent {
	return &SessionConnectedEvent{
		BaseEvent: NewBaseEvent(EventTypeSessionConnected, chargePointID, SeverityInfo),
		Endpoint:  endpoint,
	}
}

// SessionClosedEvent 会话关闭事件
type SessionClosedEvent struct {
	*BaseEvent
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// ToJSON 实现Event接口
func (e *SessionClosedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewSessionClosedEvent 创建会话关闭事件
func NewSessionClosedEvent(chargePointID string, code int, reason string) *SessionClosedEvent {
	return &SessionClosedEvent{
		BaseEvent: NewBaseEvent(EventTypeSessionClosed, chargePointID, SeverityWarning),
		Code:      code,
		Reason:    reason,
	}
}

// ConnectorStatusChangedEvent 连接器状态变更事件
type ConnectorStatusChangedEvent struct {
	*BaseEvent
	ConnectorID int    `json:"connector_id"`
	OldStatus   string `json:"old_status"`
	NewStatus   string `json:"new_status"`
	ErrorCode   string `json:"error_code"`
}

// ToJSON 实现Event接口
func (e *ConnectorStatusChangedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewConnectorStatusChangedEvent 创建连接器状态变更事件
func NewConnectorStatusChangedEvent(chargePointID string, connectorID int, oldStatus, newStatus, errorCode string) *ConnectorStatusChangedEvent {
	return &ConnectorStatusChangedEvent{
		BaseEvent:   NewBaseEvent(EventTypeConnectorStatusChanged, chargePointID, SeverityInfo),
		ConnectorID: connectorID,
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		ErrorCode:   errorCode,
	}
}

// TransactionStartedEvent 交易开始事件
type TransactionStartedEvent struct {
	*BaseEvent
	TransactionID int    `json:"transaction_id"`
	ConnectorID   int    `json:"connector_id"`
	IdTag         string `json:"id_tag"`
}

// ToJSON 实现Event接口
func (e *TransactionStartedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewTransactionStartedEvent 创建交易开始事件
func NewTransactionStartedEvent(chargePointID string, transactionID, connectorID int, idTag string) *TransactionStartedEvent {
	return &TransactionStartedEvent{
		BaseEvent:     NewBaseEvent(EventTypeTransactionStarted, chargePointID, SeverityInfo),
		TransactionID: transactionID,
		ConnectorID:   connectorID,
		IdTag:         idTag,
	}
}

// TransactionStoppedEvent 交易结束事件
type TransactionStoppedEvent struct {
	*BaseEvent
	TransactionID int     `json:"transaction_id"`
	ConnectorID   int     `json:"connector_id"`
	MeterStopWh   float64 `json:"meter_stop_wh"`
	Reason        string  `json:"reason"`
}

// ToJSON 实现Event接口
func (e *TransactionStoppedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewTransactionStoppedEvent 创建交易结束事件
func NewTransactionStoppedEvent(chargePointID string, transactionID, connectorID int, meterStopWh float64, reason string) *TransactionStoppedEvent {
	return &TransactionStoppedEvent{
		BaseEvent:     NewBaseEvent(EventTypeTransactionStopped, chargePointID, SeverityInfo),
		TransactionID: transactionID,
		ConnectorID:   connectorID,
		MeterStopWh:   meterStopWh,
		Reason:        reason,
	}
}
