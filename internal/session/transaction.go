package session

import (
	"sync"
	"time"
)

const defaultMeterInterval = 60 * time.Second

// TransactionState 单笔进行中的交易
type TransactionState struct {
	TransactionID int
	IdTag         string
	ConnectorID   int
	StartedAt     time.Time

	// ticker 本交易自带的计量定时器，创建后只读。停用经由stopOnce关stop通道
	ticker   *time.Ticker
	stop     chan struct{}
	stopOnce sync.Once
}

// MeterFunc 计量回调，定时器到期时携带交易调用
type MeterFunc func(tx *TransactionState)

// TransactionManager 单桩交易登记表
type TransactionManager struct {
	mu           sync.Mutex
	transactions map[int]*TransactionState
	interval     time.Duration
}

// NewTransactionManager 创建交易管理器，interval为零用默认60秒
func NewTransactionManager(interval time.Duration) *TransactionManager {
	if interval <= 0 {
		interval = defaultMeterInterval
	}
	return &TransactionManager{
		transactions: make(map[int]*TransactionState),
		interval:     interval,
	}
}

// StartTransaction 登记交易，meter非nil时启动自带计量定时器
func (m *TransactionManager) StartTransaction(transactionID int, idTag string, connectorID int, meter MeterFunc) *TransactionState {
	tx := &TransactionState{
		TransactionID: transactionID,
		IdTag:         idTag,
		ConnectorID:   connectorID,
		StartedAt:     time.Now().UTC(),
	}

	if meter != nil {
		tx.ticker = time.NewTicker(m.interval)
		tx.stop = make(chan struct{})
		// 协程持有自己的副本，停用方不改写这两个字段
		ticker, stop := tx.ticker, tx.stop
		go func() {
			for {
				select {
				case <-ticker.C:
					meter(tx)
				case <-stop:
					return
				}
			}
		}()
	}

	m.mu.Lock()
	m.transactions[transactionID] = tx
	m.mu.Unlock()

	return tx
}

// DisableTimer 停用交易自带的计量定时器，外部计量循环接管时调用
func (m *TransactionManager) DisableTimer(transactionID int) {
	m.mu.Lock()
	tx, ok := m.transactions[transactionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	tx.disableTimer()
}

func (tx *TransactionState) disableTimer() {
	if tx.ticker == nil {
		return
	}
	tx.stopOnce.Do(func() {
		tx.ticker.Stop()
		close(tx.stop)
	})
}

// StopTransaction 注销交易并停止其定时器，返回被注销的交易
func (m *TransactionManager) StopTransaction(transactionID int) *TransactionState {
	m.mu.Lock()
	tx, ok := m.transactions[transactionID]
	if ok {
		delete(m.transactions, transactionID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	tx.disableTimer()
	return tx
}

// FindByConnector 按连接器查找进行中的交易
func (m *TransactionManager) FindByConnector(connectorID int) *TransactionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.transactions {
		if tx.ConnectorID == connectorID {
			return tx
		}
	}
	return nil
}

// Find 按交易ID查找
func (m *TransactionManager) Find(transactionID int) *TransactionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transactions[transactionID]
}

// Active 当前进行中的交易快照
func (m *TransactionManager) Active() []*TransactionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TransactionState, 0, len(m.transactions))
	for _, tx := range m.transactions {
		out = append(out, tx)
	}
	return out
}

// Shutdown 注销全部交易并停止定时器
func (m *TransactionManager) Shutdown() {
	m.mu.Lock()
	transactions := m.transactions
	m.transactions = make(map[int]*TransactionState)
	m.mu.Unlock()

	for _, tx := range transactions {
		tx.disableTimer()
	}
}
