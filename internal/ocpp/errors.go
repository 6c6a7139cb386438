package ocpp

import (
	"errors"
	"fmt"
)

// ErrorCode OCPP-J CallError错误代码
type ErrorCode string

const (
	ErrorCodeGenericError                  ErrorCode = "GenericError"
	ErrorCodeFormatViolation               ErrorCode = "FormatViolation"
	ErrorCodeNotImplemented                ErrorCode = "NotImplemented"
	ErrorCodeNotSupported                  ErrorCode = "NotSupported"
	ErrorCodeInternalError                 ErrorCode = "InternalError"
	ErrorCodeOccurrenceConstraintViolation ErrorCode = "OccurrenceConstraintViolation"
	ErrorCodePropertyConstraintViolation   ErrorCode = "PropertyConstraintViolation"
	ErrorCodeProtocolError                 ErrorCode = "ProtocolError"
	ErrorCodeSecurityError                 ErrorCode = "SecurityError"
	ErrorCodeTypeConstraintViolation       ErrorCode = "TypeConstraintViolation"
)

// 会话层哨兵错误
var (
	// ErrCallTimeout 待定调用在回收窗口内未收到应答
	ErrCallTimeout = errors.New("call timed out waiting for response")
	// ErrTransportClosed 底层WebSocket连接已关闭
	ErrTransportClosed = errors.New("transport closed")
	// ErrConnectFailure WebSocket握手失败
	ErrConnectFailure = errors.New("websocket connect failure")
)

// CallError CSMS返回或本端生成的OCPP-J错误帧
type CallError struct {
	MessageID   string
	Code        ErrorCode
	Description string
	Details     map[string]interface{}
}

// Error 实现error接口
func (e *CallError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("ocpp call error [%s]", e.Code)
	}
	return fmt.Sprintf("ocpp call error [%s]: %s", e.Code, e.Description)
}

// NewCallError 构造CallError
func NewCallError(messageID string, code ErrorCode, description string) *CallError {
	return &CallError{
		MessageID:   messageID,
		Code:        code,
		Description: description,
		Details:     map[string]interface{}{},
	}
}

// FramingError 帧解析失败，携带原始数据用于诊断
type FramingError struct {
	Reason string
	Raw    []byte
}

// Error 实现error接口
func (e *FramingError) Error() string {
	return fmt.Sprintf("ocpp framing error: %s", e.Reason)
}
