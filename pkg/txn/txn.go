// Package txn provides catalog transaction identity and lifecycle.
// A catalog transaction groups the staged writes of one DDL command so they
// become visible all at once or not at all.
package txn

import (
	"sync"
	"sync/atomic"
	"time"
)

// TxID is a unique transaction identifier.
// TxID 0 is reserved as "invalid/none".
// TxID values increase monotonically.
type TxID uint64

const (
	// InvalidTxID represents no transaction or an invalid transaction.
	InvalidTxID TxID = 0

	// BootstrapTxID owns objects created when the catalog is initialized.
	BootstrapTxID TxID = 1
)

// TxState represents the state of a transaction.
type TxState uint8

const (
	// TxInProgress indicates the transaction is still running.
	TxInProgress TxState = iota

	// TxCommitted indicates the transaction has committed successfully.
	TxCommitted

	// TxAborted indicates the transaction has been rolled back.
	TxAborted
)

func (s TxState) String() string {
	switch s {
	case TxInProgress:
		return "IN_PROGRESS"
	case TxCommitted:
		return "COMMITTED"
	case TxAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Transaction represents an active catalog transaction.
type Transaction struct {
	ID        TxID
	Role      string // role the transaction runs as
	StartedAt time.Time

	// mu protects state
	mu    sync.RWMutex
	state TxState
}

// State returns the current state.
func (tx *Transaction) State() TxState {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.state
}

// IsActive returns true if the transaction is still in progress.
func (tx *Transaction) IsActive() bool {
	return tx.State() == TxInProgress
}

// IsCommitted returns true if the transaction has committed.
func (tx *Transaction) IsCommitted() bool {
	return tx.State() == TxCommitted
}

// IsAborted returns true if the transaction has been aborted.
func (tx *Transaction) IsAborted() bool {
	return tx.State() == TxAborted
}

// Stats holds lifetime counters of a Manager.
type Stats struct {
	Started   int64
	Committed int64
	Aborted   int64
}

// Manager handles transaction lifecycle.
type Manager struct {
	// nextTxID is the next transaction ID to assign (atomic).
	nextTxID atomic.Uint64

	// active tracks in-progress transactions.
	active map[TxID]*Transaction

	// mu protects active and stats.
	mu    sync.RWMutex
	stats Stats
}

// NewManager creates a new transaction manager.
func NewManager() *Manager {
	m := &Manager{
		active: make(map[TxID]*Transaction),
	}
	// Start TxID counter at 2 (0=invalid, 1=bootstrap)
	m.nextTxID.Store(2)
	return m
}

// Begin starts a new transaction on behalf of role.
func (m *Manager) Begin(role string) *Transaction {
	txid := TxID(m.nextTxID.Add(1) - 1)
	tx := &Transaction{
		ID:        txid,
		Role:      role,
		StartedAt: time.Now(),
		state:     TxInProgress,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[txid] = tx
	m.stats.Started++
	return tx
}

// Commit marks a transaction committed.
func (m *Manager) Commit(txid TxID) error {
	return m.finish(txid, TxCommitted)
}

// Abort marks a transaction aborted.
func (m *Manager) Abort(txid TxID) error {
	return m.finish(txid, TxAborted)
}

func (m *Manager) finish(txid TxID, state TxState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.active[txid]
	if !ok {
		return ErrTxNotFound
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != TxInProgress {
		return ErrTxNotActive
	}

	tx.state = state
	delete(m.active, txid)
	if state == TxCommitted {
		m.stats.Committed++
	} else {
		m.stats.Aborted++
	}
	return nil
}

// GetTransaction returns an in-progress transaction by ID.
func (m *Manager) GetTransaction(txid TxID) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.active[txid]
	return tx, ok
}

// ActiveCount returns the number of active transactions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// GetActiveTransactions returns all active transactions.
func (m *Manager) GetActiveTransactions() []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := make([]*Transaction, 0, len(m.active))
	for _, tx := range m.active {
		active = append(active, tx)
	}
	return active
}

// Stats returns a copy of the lifetime counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
