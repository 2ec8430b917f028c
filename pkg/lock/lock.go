// Package lock provides a lock manager for catalog concurrency control.
// Locks are taken on catalog object names, so two sessions defining the same
// (namespace, name) serialize while unrelated definitions proceed in parallel.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JayabrataBasu/veridicalagg/pkg/txn"
)

// ErrLockTimeout is returned when a lock could not be granted in time.
var ErrLockTimeout = errors.New("lock timeout")

// Mode represents the lock mode.
type Mode int

const (
	// ModeShared allows multiple readers but blocks writers.
	ModeShared Mode = iota
	// ModeExclusive allows only one holder and blocks all others.
	ModeExclusive
)

func (m Mode) String() string {
	switch m {
	case ModeShared:
		return "S"
	case ModeExclusive:
		return "X"
	default:
		return "?"
	}
}

// ResourceKind identifies what kind of resource is being locked.
type ResourceKind int

const (
	// ResourceCatalog locks a whole catalog (e.g. "functions").
	ResourceCatalog ResourceKind = iota
	// ResourceName locks a single qualified name inside a catalog.
	ResourceName
)

// ResourceID uniquely identifies a lockable resource.
type ResourceID struct {
	Kind    ResourceKind
	Catalog string
	Key     string // qualified object name for ResourceName
}

func (r ResourceID) String() string {
	switch r.Kind {
	case ResourceCatalog:
		return fmt.Sprintf("catalog:%s", r.Catalog)
	case ResourceName:
		return fmt.Sprintf("name:%s:%s", r.Catalog, r.Key)
	default:
		return "unknown"
	}
}

// CatalogResource creates a ResourceID for a whole catalog.
func CatalogResource(catalog string) ResourceID {
	return ResourceID{Kind: ResourceCatalog, Catalog: catalog}
}

// NameResource creates a ResourceID for namespace.name inside catalog.
func NameResource(catalog, namespace, name string) ResourceID {
	return ResourceID{Kind: ResourceName, Catalog: catalog, Key: namespace + "." + name}
}

// LockRequest represents a pending lock request.
type LockRequest struct {
	TxID    txn.TxID
	Mode    Mode
	Granted bool
	WaitCh  chan struct{} // closed when the lock is granted
}

type lockEntry struct {
	holders map[txn.TxID]Mode
	waiters []*LockRequest // FIFO
}

// Manager is the central lock manager.
type Manager struct {
	mu      sync.Mutex
	locks   map[ResourceID]*lockEntry
	timeout time.Duration

	// locks held by each transaction, for ReleaseAll
	txLocks map[txn.TxID][]ResourceID
}

// NewManager creates a new lock manager.
func NewManager() *Manager {
	return &Manager{
		locks:   make(map[ResourceID]*lockEntry),
		txLocks: make(map[txn.TxID][]ResourceID),
		timeout: 5 * time.Second,
	}
}

// SetTimeout sets the lock acquisition timeout.
func (m *Manager) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
}

// Acquire attempts to acquire a lock on the resource, waiting up to the
// configured timeout.
func (m *Manager) Acquire(txID txn.TxID, resource ResourceID, mode Mode) error {
	return m.AcquireContext(context.Background(), txID, resource, mode)
}

// AcquireContext is Acquire bounded additionally by ctx.
func (m *Manager) AcquireContext(ctx context.Context, txID txn.TxID, resource ResourceID, mode Mode) error {
	m.mu.Lock()

	entry := m.getOrCreateEntry(resource)

	if held, ok := entry.holders[txID]; ok {
		if held == ModeExclusive || mode == ModeShared {
			m.mu.Unlock()
			return nil
		}
		// S -> X upgrade only when we are the sole holder
		if len(entry.holders) == 1 {
			entry.holders[txID] = ModeExclusive
			m.mu.Unlock()
			return nil
		}
	}

	if len(entry.waiters) == 0 && m.canGrant(entry, txID, mode) {
		entry.holders[txID] = mode
		m.trackLock(txID, resource)
		m.mu.Unlock()
		return nil
	}

	req := &LockRequest{
		TxID:   txID,
		Mode:   mode,
		WaitCh: make(chan struct{}),
	}
	entry.waiters = append(entry.waiters, req)
	timeout := m.timeout
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cause error
	select {
	case <-req.WaitCh:
		return nil
	case <-timer.C:
		cause = fmt.Errorf("%w waiting for %s", ErrLockTimeout, resource)
	case <-ctx.Done():
		cause = ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if req.Granted {
		// granted between the timeout firing and reacquiring m.mu
		return nil
	}
	m.removeWaiter(entry, req)
	if len(entry.holders) == 0 && len(entry.waiters) == 0 {
		delete(m.locks, resource)
	}
	return cause
}

// Release releases a lock held by the transaction.
func (m *Manager) Release(txID txn.TxID, resource ResourceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[resource]
	if !ok {
		return nil
	}
	if _, held := entry.holders[txID]; !held {
		return nil
	}

	delete(entry.holders, txID)
	m.untrackLock(txID, resource)
	m.grantWaiters(resource, entry)

	if len(entry.holders) == 0 && len(entry.waiters) == 0 {
		delete(m.locks, resource)
	}
	return nil
}

// ReleaseAll releases all locks held by a transaction.
// Called on commit/abort.
func (m *Manager) ReleaseAll(txID txn.TxID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resources := m.txLocks[txID]
	delete(m.txLocks, txID)
	for _, resource := range resources {
		entry, ok := m.locks[resource]
		if !ok {
			continue
		}
		delete(entry.holders, txID)
		m.grantWaiters(resource, entry)

		if len(entry.holders) == 0 && len(entry.waiters) == 0 {
			delete(m.locks, resource)
		}
	}
}

// HeldBy returns the resources currently held by txID.
func (m *Manager) HeldBy(txID txn.TxID) []ResourceID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ResourceID, len(m.txLocks[txID]))
	copy(out, m.txLocks[txID])
	return out
}

// Caller must hold m.mu.
func (m *Manager) getOrCreateEntry(resource ResourceID) *lockEntry {
	entry, ok := m.locks[resource]
	if !ok {
		entry = &lockEntry{holders: make(map[txn.TxID]Mode)}
		m.locks[resource] = entry
	}
	return entry
}

// canGrant checks if a lock can be granted immediately.
// Caller must hold m.mu.
func (m *Manager) canGrant(entry *lockEntry, txID txn.TxID, mode Mode) bool {
	if len(entry.holders) == 0 {
		return true
	}
	if held, ok := entry.holders[txID]; ok {
		// pending upgrade
		return held == ModeShared && mode == ModeExclusive && len(entry.holders) == 1
	}
	if mode == ModeShared {
		for _, heldMode := range entry.holders {
			if heldMode == ModeExclusive {
				return false
			}
		}
		return true
	}
	return false
}

// grantWaiters grants queued requests in FIFO order until one cannot be granted.
// Caller must hold m.mu.
func (m *Manager) grantWaiters(resource ResourceID, entry *lockEntry) {
	for len(entry.waiters) > 0 {
		req := entry.waiters[0]
		if !m.canGrant(entry, req.TxID, req.Mode) {
			return
		}
		if _, already := entry.holders[req.TxID]; !already {
			m.trackLock(req.TxID, resource)
		}
		entry.holders[req.TxID] = req.Mode
		req.Granted = true
		close(req.WaitCh)
		entry.waiters = entry.waiters[1:]
	}
}

// Caller must hold m.mu.
func (m *Manager) removeWaiter(entry *lockEntry, req *LockRequest) {
	for i, w := range entry.waiters {
		if w == req {
			entry.waiters = append(entry.waiters[:i], entry.waiters[i+1:]...)
			return
		}
	}
}

// Caller must hold m.mu.
func (m *Manager) trackLock(txID txn.TxID, resource ResourceID) {
	m.txLocks[txID] = append(m.txLocks[txID], resource)
}

// Caller must hold m.mu.
func (m *Manager) untrackLock(txID txn.TxID, resource ResourceID) {
	locks := m.txLocks[txID]
	for i, r := range locks {
		if r == resource {
			m.txLocks[txID] = append(locks[:i], locks[i+1:]...)
			break
		}
	}
	if len(m.txLocks[txID]) == 0 {
		delete(m.txLocks, txID)
	}
}

// Stats returns lock manager statistics for monitoring.
func (m *Manager) Stats() (activeLocks, waitingRequests int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range m.locks {
		activeLocks += len(entry.holders)
		waitingRequests += len(entry.waiters)
	}
	return
}

// LockInfo describes one locked resource.
type LockInfo struct {
	Resource     ResourceID
	Holders      map[txn.TxID]Mode
	WaitingCount int
}

// Snapshot returns the locked resources ordered by resource name.
func (m *Manager) Snapshot() []LockInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]LockInfo, 0, len(m.locks))
	for resource, entry := range m.locks {
		if len(entry.holders) == 0 && len(entry.waiters) == 0 {
			continue
		}
		holders := make(map[txn.TxID]Mode, len(entry.holders))
		for id, mode := range entry.holders {
			holders[id] = mode
		}
		infos = append(infos, LockInfo{Resource: resource, Holders: holders, WaitingCount: len(entry.waiters)})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Resource.String() < infos[j].Resource.String()
	})
	return infos
}
