package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionRegisterAndFind(t *testing.T) {
	m := NewTransactionManager(time.Minute)

	tx := m.StartTransaction(42, "TAG1", 1, nil)
	require.NotNil(t, tx)
	assert.Equal(t, 42, tx.TransactionID)
	assert.Equal(t, "TAG1", tx.IdTag)

	found := m.FindByConnector(1)
	require.NotNil(t, found)
	assert.Equal(t, 42, found.TransactionID)

	assert.Nil(t, m.FindByConnector(2))
	assert.NotNil(t, m.Find(42))
	assert.Len(t, m.Active(), 1)
}

func TestStopTransactionRemovesEntry(t *testing.T) {
	m := NewTransactionManager(time.Minute)
	m.StartTransaction(7, "TAG2", 1, nil)

	stopped := m.StopTransaction(7)
	require.NotNil(t, stopped)
	assert.Nil(t, m.Find(7))
	assert.Nil(t, m.StopTransaction(7))
}

func TestMeterTimerFires(t *testing.T) {
	m := NewTransactionManager(50 * time.Millisecond)

	var ticks int64
	m.StartTransaction(1, "TAG3", 1, func(tx *TransactionState) {
		atomic.AddInt64(&ticks, 1)
	})

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&ticks) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	m.StopTransaction(1)
}

func TestDisableTimerStopsMeterCallback(t *testing.T) {
	m := NewTransactionManager(50 * time.Millisecond)

	var ticks int64
	m.StartTransaction(2, "TAG4", 1, func(tx *TransactionState) {
		atomic.AddInt64(&ticks, 1)
	})

	m.DisableTimer(2)
	observed := atomic.LoadInt64(&ticks)
	time.Sleep(200 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt64(&ticks), observed+1)

	// 停用定时器不注销交易本身
	assert.NotNil(t, m.Find(2))
}

func TestDisableTimerRightAfterStart(t *testing.T) {
	m := NewTransactionManager(time.Millisecond)

	// 车队循环在应答处理器启动定时器后立刻接管，两者必须能并发
	for i := 0; i < 200; i++ {
		m.StartTransaction(i, "TAG5", 1, func(tx *TransactionState) {})
		m.DisableTimer(i)
		m.StopTransaction(i)
	}
}

func TestDisableTimerConcurrentWithTicks(t *testing.T) {
	m := NewTransactionManager(time.Millisecond)

	var ticks int64
	tx := m.StartTransaction(9, "TAG6", 1, func(tx *TransactionState) {
		atomic.AddInt64(&ticks, 1)
	})
	require.NotNil(t, tx)

	time.Sleep(10 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		m.DisableTimer(9)
		close(done)
	}()
	m.DisableTimer(9)
	<-done

	// 停用后至多残留一个已入队的tick
	observed := atomic.LoadInt64(&ticks)
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt64(&ticks), observed+1)
	assert.NotNil(t, m.StopTransaction(9))
}

func TestShutdownClearsAll(t *testing.T) {
	m := NewTransactionManager(time.Minute)
	m.StartTransaction(1, "A", 1, nil)
	m.StartTransaction(2, "B", 2, nil)

	m.Shutdown()
	assert.Empty(t, m.Active())
}
