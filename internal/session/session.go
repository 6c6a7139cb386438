package session

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charging-platform/vcp-simulator/internal/logger"
	"github.com/charging-platform/vcp-simulator/internal/metrics"
	"github.com/charging-platform/vcp-simulator/internal/ocpp"
)

const (
	defaultCallTimeout      = 120 * time.Second
	defaultSendQueueSize    = 64
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// Options 会话配置
type Options struct {
	// Endpoint CSMS WebSocket根地址，充电桩ID会追加到路径
	Endpoint      string
	ChargePointID string
	// OCPPVersion 协议版本，决定子协议协商，如"1.6"
	OCPPVersion string
	Registry    *ocpp.Registry
	// CallTimeout 待定调用回收窗口，零值用默认120秒
	CallTimeout      time.Duration
	SendQueueSize    int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// OnClose 连接关闭回调，最多调用一次。进程退出等边界策略由调用方在此实现
	OnClose func(code int, reason string)
	OnError func(err error)
	Logger  *logger.Logger
}

// outboundFrame 待发送的线缆帧
type outboundFrame struct {
	data   []byte
	action string
	// flushed 写出后收到通知，nil表示无人等待
	flushed chan struct{}
}

// Session 单个虚拟充电桩到CSMS的OCPP-J会话
type Session struct {
	opts     Options
	registry *ocpp.Registry
	log      *logger.Logger

	conn     *websocket.Conn
	sendChan chan outboundFrame
	pending  *pendingTable

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
}

// New 创建未连接的会话
func New(opts Options) (*Session, error) {
	if opts.ChargePointID == "" {
		return nil, fmt.Errorf("charge point id is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("message registry is required")
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = defaultSendQueueSize
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.OCPPVersion == "" {
		opts.OCPPVersion = "1.6"
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}

	return &Session{
		opts:     opts,
		registry: opts.Registry,
		log:      log.WithComponent("session").WithChargePoint(opts.ChargePointID),
		sendChan: make(chan outboundFrame, opts.SendQueueSize),
		pending:  newPendingTable(opts.CallTimeout),
		closed:   make(chan struct{}),
	}, nil
}

// ChargePointID 本会话的充电桩标识
func (s *Session) ChargePointID() string {
	return s.opts.ChargePointID
}

// subprotocol 由协议版本推导WebSocket子协议
func (s *Session) subprotocol() string {
	return "ocpp" + s.opts.OCPPVersion
}

// Connect 建立WebSocket连接并启动读写协程，不发送BootNotification
func (s *Session) Connect(ctx context.Context) error {
	u, err := url.Parse(s.opts.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: invalid endpoint %s: %v", ocpp.ErrConnectFailure, s.opts.Endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: endpoint scheme must be ws or wss, got %q", ocpp.ErrConnectFailure, u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + s.opts.ChargePointID

	dialer := websocket.Dialer{
		HandshakeTimeout: s.opts.HandshakeTimeout,
		Subprotocols:     []string{s.subprotocol()},
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ocpp.ErrConnectFailure, u.String(), err)
	}

	s.conn = conn
	s.ctx, s.cancel = context.WithCancel(context.Background())

	metrics.ActiveSessions.Inc()
	s.log.Infof("connected to %s (subprotocol %s)", u.String(), conn.Subprotocol())

	go s.writePump()
	go s.readPump()

	return nil
}

// Send 发送请求帧但不等待应答，应答由注册表的OnResponse处理
func (s *Session) Send(action string, payload interface{}) error {
	call := &ocpp.Call{MessageID: ocpp.NewMessageID(), Action: action}
	data, err := ocpp.EncodeCall(call.MessageID, action, payload)
	if err != nil {
		return err
	}
	// 登记到关联表以便应答解码，无等待方
	s.pending.add(call)
	return s.enqueue(outboundFrame{data: data, action: action})
}

// SendAsync 发送请求帧并等待其写出到socket，不等待应答
func (s *Session) SendAsync(ctx context.Context, action string, payload interface{}) error {
	call := &ocpp.Call{MessageID: ocpp.NewMessageID(), Action: action}
	data, err := ocpp.EncodeCall(call.MessageID, action, payload)
	if err != nil {
		return err
	}

	s.pending.add(call)
	flushed := make(chan struct{})
	if err := s.enqueue(outboundFrame{data: data, action: action, flushed: flushed}); err != nil {
		s.pending.remove(call.MessageID)
		return err
	}

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return ocpp.ErrTransportClosed
	}
}

// Call 发送请求帧并等待应答载荷，CSMS错误以*ocpp.CallError返回
func (s *Session) Call(ctx context.Context, action string, payload interface{}) (interface{}, error) {
	call := &ocpp.Call{MessageID: ocpp.NewMessageID(), Action: action}
	data, err := ocpp.EncodeCall(call.MessageID, action, payload)
	if err != nil {
		return nil, err
	}

	pc := s.pending.add(call)
	if err := s.enqueue(outboundFrame{data: data, action: action}); err != nil {
		s.pending.remove(call.MessageID)
		return nil, err
	}

	select {
	case result := <-pc.done:
		return result.payload, result.err
	case <-ctx.Done():
		s.pending.remove(call.MessageID)
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ocpp.ErrTransportClosed
	}
}

// Respond 发送应答帧
func (s *Session) Respond(messageID string, payload interface{}) error {
	data, err := ocpp.EncodeCallResult(messageID, payload)
	if err != nil {
		return err
	}
	return s.enqueue(outboundFrame{data: data})
}

// SendError 发送错误帧
func (s *Session) SendError(callErr *ocpp.CallError) error {
	data, err := ocpp.EncodeCallError(callErr)
	if err != nil {
		return err
	}
	return s.enqueue(outboundFrame{data: data})
}

// enqueue 入发送队列，连接已关闭或队列满时报错
func (s *Session) enqueue(frame outboundFrame) error {
	select {
	case <-s.closed:
		return ocpp.ErrTransportClosed
	default:
	}

	select {
	case s.sendChan <- frame:
		return nil
	case <-s.closed:
		return ocpp.ErrTransportClosed
	default:
		return fmt.Errorf("send queue full for %s", s.opts.ChargePointID)
	}
}

// writePump 串行写出发送队列
func (s *Session) writePump() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.sendChan:
			s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame.data); err != nil {
				s.reportError(fmt.Errorf("write failed: %w", err))
				s.shutdown(websocket.CloseAbnormalClosure, err.Error())
				return
			}
			metrics.FramesSent.WithLabelValues(frame.action).Inc()
			if frame.flushed != nil {
				close(frame.flushed)
			}
		}
	}
}

// readPump 读取并分发入站帧
func (s *Session) readPump() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			reason := err.Error()
			if closeErr, ok := err.(*websocket.CloseError); ok {
				code = closeErr.Code
				reason = closeErr.Text
			}
			s.shutdown(code, reason)
			return
		}
		s.handleFrame(data)
	}
}

// handleFrame 分发单个入站帧
func (s *Session) handleFrame(data []byte) {
	frame, err := ocpp.DecodeFrame(data)
	if err != nil {
		s.log.ErrorWithErr(err, "dropping malformed frame")
		s.reportError(err)
		return
	}
	metrics.FramesReceived.WithLabelValues(strconv.Itoa(int(frame.Type))).Inc()

	switch frame.Type {
	case ocpp.MessageTypeCall:
		s.handleCall(frame.Call)
	case ocpp.MessageTypeCallResult:
		s.handleCallResult(frame.Result)
	case ocpp.MessageTypeCallError:
		s.handleCallError(frame.Error)
	}
}

// handleCall 处理CSMS发起的请求
func (s *Session) handleCall(call *ocpp.Call) {
	request, callErr := s.registry.DecodeRequest(call)
	if callErr != nil {
		s.log.Warnf("rejecting %s: %s", call.Action, callErr.Error())
		if err := s.SendError(callErr); err != nil {
			s.reportError(err)
		}
		return
	}

	descriptor, _ := s.registry.Incoming(call.Action)
	if descriptor.OnRequest == nil {
		callErr = ocpp.NewCallError(call.MessageID, ocpp.ErrorCodeNotImplemented,
			fmt.Sprintf("no handler registered for %s", call.Action))
		if err := s.SendError(callErr); err != nil {
			s.reportError(err)
		}
		return
	}

	response, callErr := descriptor.OnRequest(&ocpp.RequestContext{Conn: s, Call: call}, request)
	if callErr != nil {
		callErr.MessageID = call.MessageID
		if err := s.SendError(callErr); err != nil {
			s.reportError(err)
		}
		return
	}

	if err := s.Respond(call.MessageID, response); err != nil {
		s.reportError(err)
	}
}

// handleCallResult 关联应答到待定调用，OnResponse先于等待方唤醒执行
func (s *Session) handleCallResult(result *ocpp.CallResult) {
	pc := s.pending.remove(result.MessageID)
	if pc == nil {
		s.log.Warnf("received result for unknown message id %s", result.MessageID)
		return
	}

	response, callErr := s.registry.DecodeResponse(pc.call.Action, result)
	if callErr != nil {
		s.log.Warnf("failed to decode %s response: %s", pc.call.Action, callErr.Error())
		pc.done <- pendingResult{err: callErr}
		return
	}

	if descriptor, ok := s.registry.Outgoing(pc.call.Action); ok && descriptor.OnResponse != nil {
		descriptor.OnResponse(pc.call, response)
	}

	pc.done <- pendingResult{payload: response}
}

// handleCallError 以CSMS错误完结待定调用
func (s *Session) handleCallError(callErr *ocpp.CallError) {
	pc := s.pending.remove(callErr.MessageID)
	if pc == nil {
		s.log.Warnf("received error for unknown message id %s", callErr.MessageID)
		return
	}
	s.log.Warnf("call %s rejected: %s", pc.call.Action, callErr.Error())
	pc.done <- pendingResult{err: callErr}
}

// Close 主动关闭连接，幂等
func (s *Session) Close() error {
	s.shutdown(websocket.CloseNormalClosure, "local close")
	return nil
}

// shutdown 关闭连接并完结全部待定调用，最多执行一次
func (s *Session) shutdown(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.cancel != nil {
			s.cancel()
		}
		s.pending.failAll(ocpp.ErrTransportClosed)

		// 从未建连的会话没有可关的socket，也不算一次会话结束
		if s.conn == nil {
			return
		}
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.conn.Close()
		metrics.ActiveSessions.Dec()
		s.log.Infof("session closed (code %d): %s", code, reason)

		if s.opts.OnClose != nil {
			s.opts.OnClose(code, reason)
		}
	})
}

// reportError 上报非致命错误
func (s *Session) reportError(err error) {
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}
