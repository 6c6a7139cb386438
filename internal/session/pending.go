package session

import (
	"sync"
	"time"

	"github.com/charging-platform/vcp-simulator/internal/metrics"
	"github.com/charging-platform/vcp-simulator/internal/ocpp"
)

// pendingResult 单次调用的最终结果
type pendingResult struct {
	payload interface{}
	err     error
}

// pendingCall 等待应答的出站调用
type pendingCall struct {
	call  *ocpp.Call
	done  chan pendingResult
	timer *time.Timer
}

// pendingTable 出站调用关联表，按消息ID索引
type pendingTable struct {
	mu      sync.Mutex
	calls   map[string]*pendingCall
	timeout time.Duration
}

func newPendingTable(timeout time.Duration) *pendingTable {
	return &pendingTable{
		calls:   make(map[string]*pendingCall),
		timeout: timeout,
	}
}

// add 登记调用并启动回收定时器，超时的条目以ErrCallTimeout完结
func (t *pendingTable) add(call *ocpp.Call) *pendingCall {
	pc := &pendingCall{
		call: call,
		done: make(chan pendingResult, 1),
	}

	t.mu.Lock()
	t.calls[call.MessageID] = pc
	t.mu.Unlock()

	pc.timer = time.AfterFunc(t.timeout, func() {
		if evicted := t.remove(call.MessageID); evicted != nil {
			metrics.CallTimeouts.Inc()
			evicted.done <- pendingResult{err: ocpp.ErrCallTimeout}
		}
	})

	return pc
}

// remove 摘除条目并停止其定时器，不存在时返回nil
func (t *pendingTable) remove(messageID string) *pendingCall {
	t.mu.Lock()
	pc, ok := t.calls[messageID]
	if ok {
		delete(t.calls, messageID)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if pc.timer != nil {
		pc.timer.Stop()
	}
	return pc
}

// failAll 以同一错误完结全部待定调用，连接关闭时使用
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[string]*pendingCall)
	t.mu.Unlock()

	for _, pc := range calls {
		if pc.timer != nil {
			pc.timer.Stop()
		}
		pc.done <- pendingResult{err: err}
	}
}
