package ocpp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charging-platform/vcp-simulator/internal/domain/validation"
)

// Direction 消息发起方向
type Direction int

const (
	// DirectionIncoming CSMS发起，本端应答
	DirectionIncoming Direction = iota
	// DirectionOutgoing 本端发起，CSMS应答
	DirectionOutgoing
)

// Conn 会话的最小发送面，供入站处理器回复CSMS
type Conn interface {
	ChargePointID() string
	Send(action string, payload interface{}) error
	Respond(messageID string, payload interface{}) error
	SendError(callErr *CallError) error
}

// RequestContext 入站请求上下文
type RequestContext struct {
	Conn Conn
	Call *Call
}

// RequestHandler 处理CSMS发起的请求，返回应答载荷或CallError
type RequestHandler func(ctx *RequestContext, request interface{}) (interface{}, *CallError)

// ResponseHandler 观察本端发起调用的应答，在等待方唤醒前执行
type ResponseHandler func(call *Call, response interface{})

// Descriptor 单个动作的消息描述符
type Descriptor struct {
	Action      string
	Direction   Direction
	NewRequest  func() interface{}
	NewResponse func() interface{}
	OnRequest   RequestHandler
	OnResponse  ResponseHandler
}

// Registry 动作描述符注册表，按方向索引
type Registry struct {
	incoming map[string]*Descriptor
	outgoing map[string]*Descriptor
	validate *validation.Validator
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		incoming: make(map[string]*Descriptor),
		outgoing: make(map[string]*Descriptor),
		validate: validation.NewValidator(),
	}
}

// Register 注册描述符，同方向同动作后注册者覆盖先注册者
func (r *Registry) Register(d *Descriptor) {
	switch d.Direction {
	case DirectionIncoming:
		r.incoming[d.Action] = d
	case DirectionOutgoing:
		r.outgoing[d.Action] = d
	}
}

// Incoming 查找入站描述符
func (r *Registry) Incoming(action string) (*Descriptor, bool) {
	d, ok := r.incoming[action]
	return d, ok
}

// Outgoing 查找出站描述符
func (r *Registry) Outgoing(action string) (*Descriptor, bool) {
	d, ok := r.outgoing[action]
	return d, ok
}

// DecodeRequest 解码并校验入站请求载荷
func (r *Registry) DecodeRequest(call *Call) (interface{}, *CallError) {
	d, ok := r.incoming[call.Action]
	if !ok {
		return nil, NewCallError(call.MessageID, ErrorCodeNotImplemented,
			fmt.Sprintf("action %s is not implemented", call.Action))
	}

	request := d.NewRequest()
	if err := json.Unmarshal(call.Payload, request); err != nil {
		return nil, unmarshalCallError(call.MessageID, err)
	}

	if err := r.validate.ValidateStruct(request); err != nil {
		return nil, validationCallError(call.MessageID, err)
	}

	return request, nil
}

// DecodeResponse 解码并校验出站调用的应答载荷
func (r *Registry) DecodeResponse(action string, result *CallResult) (interface{}, *CallError) {
	d, ok := r.outgoing[action]
	if !ok {
		return nil, NewCallError(result.MessageID, ErrorCodeNotImplemented,
			fmt.Sprintf("no outgoing descriptor for action %s", action))
	}

	response := d.NewResponse()
	if err := json.Unmarshal(result.Payload, response); err != nil {
		return nil, unmarshalCallError(result.MessageID, err)
	}

	if err := r.validate.ValidateStruct(response); err != nil {
		return nil, validationCallError(result.MessageID, err)
	}

	return response, nil
}

// unmarshalCallError 将JSON解码错误映射到OCPP错误代码
func unmarshalCallError(messageID string, err error) *CallError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return NewCallError(messageID, ErrorCodeTypeConstraintViolation,
			fmt.Sprintf("field %s has wrong type", typeErr.Field))
	}
	return NewCallError(messageID, ErrorCodeFormatViolation, "payload is not valid JSON")
}

// validationCallError 将结构校验错误映射到OCPP错误代码
func validationCallError(messageID string, err error) *CallError {
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		if verrs.MissingRequired() {
			return NewCallError(messageID, ErrorCodeOccurrenceConstraintViolation, verrs.Error())
		}
		return NewCallError(messageID, ErrorCodePropertyConstraintViolation, verrs.Error())
	}
	return NewCallError(messageID, ErrorCodeFormatViolation, err.Error())
}
