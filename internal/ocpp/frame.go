package ocpp

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MessageType OCPP-J消息类型指示符
type MessageType int

const (
	MessageTypeCall       MessageType = 2
	MessageTypeCallResult MessageType = 3
	MessageTypeCallError  MessageType = 4
)

// Call 请求帧 [2, id, action, payload]
type Call struct {
	MessageID string
	Action    string
	Payload   json.RawMessage
}

// CallResult 应答帧 [3, id, payload]
type CallResult struct {
	MessageID string
	Payload   json.RawMessage
}

// Frame 解码后的单个OCPP-J帧，按Type取用对应字段
type Frame struct {
	Type   MessageType
	Call   *Call
	Result *CallResult
	Error  *CallError
}

// NewMessageID 生成唯一消息ID
func NewMessageID() string {
	return uuid.NewString()
}

// EncodeCall 编码请求帧
func EncodeCall(messageID, action string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", action, err)
	}
	return json.Marshal([]interface{}{int(MessageTypeCall), messageID, action, json.RawMessage(body)})
}

// EncodeCallResult 编码应答帧
func EncodeCallResult(messageID string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result payload: %w", err)
	}
	return json.Marshal([]interface{}{int(MessageTypeCallResult), messageID, json.RawMessage(body)})
}

// EncodeCallError 编码错误帧
func EncodeCallError(callErr *CallError) ([]byte, error) {
	details := callErr.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	return json.Marshal([]interface{}{
		int(MessageTypeCallError),
		callErr.MessageID,
		string(callErr.Code),
		callErr.Description,
		details,
	})
}

// DecodeFrame 解码单个OCPP-J帧，任何不合规的结构返回FramingError
func DecodeFrame(data []byte) (*Frame, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, &FramingError{Reason: "message is not a JSON array", Raw: data}
	}
	if len(elements) < 3 {
		return nil, &FramingError{Reason: fmt.Sprintf("array has %d elements, need at least 3", len(elements)), Raw: data}
	}

	var indicator int
	if err := json.Unmarshal(elements[0], &indicator); err != nil {
		return nil, &FramingError{Reason: "message type indicator is not an integer", Raw: data}
	}

	var messageID string
	if err := json.Unmarshal(elements[1], &messageID); err != nil {
		return nil, &FramingError{Reason: "message id is not a string", Raw: data}
	}

	switch MessageType(indicator) {
	case MessageTypeCall:
		if len(elements) < 4 {
			return nil, &FramingError{Reason: "call frame missing payload", Raw: data}
		}
		var action string
		if err := json.Unmarshal(elements[2], &action); err != nil {
			return nil, &FramingError{Reason: "call action is not a string", Raw: data}
		}
		return &Frame{
			Type: MessageTypeCall,
			Call: &Call{MessageID: messageID, Action: action, Payload: elements[3]},
		}, nil

	case MessageTypeCallResult:
		return &Frame{
			Type:   MessageTypeCallResult,
			Result: &CallResult{MessageID: messageID, Payload: elements[2]},
		}, nil

	case MessageTypeCallError:
		if len(elements) < 4 {
			return nil, &FramingError{Reason: "call error frame missing description", Raw: data}
		}
		var code string
		if err := json.Unmarshal(elements[2], &code); err != nil {
			return nil, &FramingError{Reason: "call error code is not a string", Raw: data}
		}
		var description string
		if err := json.Unmarshal(elements[3], &description); err != nil {
			return nil, &FramingError{Reason: "call error description is not a string", Raw: data}
		}
		details := map[string]interface{}{}
		if len(elements) >= 5 {
			// 错误详情字段可选，解析失败时保留空对象
			_ = json.Unmarshal(elements[4], &details)
		}
		return &Frame{
			Type: MessageTypeCallError,
			Error: &CallError{
				MessageID:   messageID,
				Code:        ErrorCode(code),
				Description: description,
				Details:     details,
			},
		}, nil

	default:
		return nil, &FramingError{Reason: fmt.Sprintf("unknown message type indicator %d", indicator), Raw: data}
	}
}
