// Package catalog stores namespaces, functions, operators, aggregate rows and
// dependency edges. Reads see committed state; writes are staged in a Tx and
// become visible atomically at commit.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/JayabrataBasu/veridicalagg/internal/logger"
	"github.com/JayabrataBasu/veridicalagg/pkg/auth"
	"github.com/JayabrataBasu/veridicalagg/pkg/lock"
	"github.com/JayabrataBasu/veridicalagg/pkg/txn"
	"github.com/JayabrataBasu/veridicalagg/pkg/types"
)

// Options configures a Store. Nil collaborators are created with defaults.
type Options struct {
	// DataDir holds aggregates.json. Empty means in-memory only.
	DataDir string
	Types   *types.Registry
	Roles   *auth.RoleCatalog
	Locks   *lock.Manager
	Txns    *txn.Manager
	Log     *logger.Logger
}

// Stats holds catalog counters.
type Stats struct {
	Namespaces   int
	Functions    int
	Operators    int
	Aggregates   int
	Dependencies int
	Commits      int64
	Aborts       int64
}

// Store is the committed catalog.
type Store struct {
	mu      sync.RWMutex
	dataDir string
	nextOID OID

	namespaces map[string]*Namespace
	functions  map[FuncID]*Function
	operators  map[OperatorID]*Operator
	aggregates map[FuncID]*AggregateRow
	depends    []Dependency

	commits int64
	aborts  int64

	types *types.Registry
	roles *auth.RoleCatalog
	locks *lock.Manager
	txns  *txn.Manager
	log   *logger.Logger
}

// persistedState is the on-disk form. Builtin objects are recreated at
// bootstrap and never written.
type persistedState struct {
	NextOID      OID             `json:"next_oid"`
	Namespaces   []*Namespace    `json:"namespaces"`
	Functions    []*Function     `json:"functions"`
	Aggregates   []*AggregateRow `json:"aggregates"`
	Dependencies []Dependency    `json:"dependencies"`
}

// Open creates the catalog, installs the builtin objects and loads any
// persisted user objects from opts.DataDir.
func Open(opts Options) (*Store, error) {
	s := &Store{
		dataDir:    opts.DataDir,
		nextOID:    FirstNormalOID,
		namespaces: make(map[string]*Namespace),
		functions:  make(map[FuncID]*Function),
		operators:  make(map[OperatorID]*Operator),
		aggregates: make(map[FuncID]*AggregateRow),
		types:      opts.Types,
		roles:      opts.Roles,
		locks:      opts.Locks,
		txns:       opts.Txns,
		log:        opts.Log,
	}
	if s.types == nil {
		s.types = types.NewRegistry()
	}
	if s.roles == nil {
		roles, err := auth.NewRoleCatalog("")
		if err != nil {
			return nil, err
		}
		s.roles = roles
	}
	if s.locks == nil {
		s.locks = lock.NewManager()
	}
	if s.txns == nil {
		s.txns = txn.NewManager()
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}

	s.bootstrap()

	if s.dataDir != "" {
		if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
			return nil, err
		}
		if err := s.load(); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
	}
	return s, nil
}

func (s *Store) catalogPath() string {
	return filepath.Join(s.dataDir, "aggregates.json")
}

// load reads user objects from disk.
func (s *Store) load() error {
	data, err := os.ReadFile(s.catalogPath())
	if err != nil {
		return err
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	if state.NextOID > s.nextOID {
		s.nextOID = state.NextOID
	}
	for _, ns := range state.Namespaces {
		s.namespaces[ns.Name] = ns
	}
	for _, fn := range state.Functions {
		s.functions[fn.ID] = fn
	}
	for _, agg := range state.Aggregates {
		s.aggregates[agg.OwningFunction] = agg
	}
	s.depends = append(s.depends, state.Dependencies...)
	return nil
}

// save writes user objects to disk. Caller must hold s.mu.
func (s *Store) save() error {
	if s.dataDir == "" {
		return nil
	}
	state := persistedState{NextOID: s.nextOID}
	for _, ns := range s.namespaces {
		if !ns.Builtin {
			state.Namespaces = append(state.Namespaces, ns)
		}
	}
	sort.Slice(state.Namespaces, func(i, j int) bool { return state.Namespaces[i].Name < state.Namespaces[j].Name })
	for _, fn := range s.functions {
		if !fn.Builtin {
			state.Functions = append(state.Functions, fn)
		}
	}
	sort.Slice(state.Functions, func(i, j int) bool { return state.Functions[i].ID < state.Functions[j].ID })
	for _, agg := range s.aggregates {
		state.Aggregates = append(state.Aggregates, agg)
	}
	sort.Slice(state.Aggregates, func(i, j int) bool {
		return state.Aggregates[i].OwningFunction < state.Aggregates[j].OwningFunction
	})
	state.Dependencies = s.depends

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.catalogPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.catalogPath())
}

// allocOID hands out the next user OID.
func (s *Store) allocOID() OID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextOID
	s.nextOID++
	return id
}

// Types returns the type registry.
func (s *Store) Types() *types.Registry { return s.types }

// Roles returns the role catalog.
func (s *Store) Roles() *auth.RoleCatalog { return s.roles }

// Locks returns the lock manager.
func (s *Store) Locks() *lock.Manager { return s.locks }

// Txns returns the transaction manager.
func (s *Store) Txns() *txn.Manager { return s.txns }

// Function returns a committed function by id.
func (s *Store) Function(id FuncID) (*Function, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.functions[id]
	return fn, ok
}

// FunctionByName returns the committed functions named qualified ("ns.name"
// or a bare name searched in pg_catalog then public), ordered by id.
func (s *Store) FunctionByName(qualified string) []*Function {
	ns, name := SplitQualifiedName(qualified)
	search := searchPath(ns)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Function
	for _, fn := range s.functions {
		if fn.Name == name && containsString(search, fn.Namespace) {
			out = append(out, fn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Operator returns a committed operator by id.
func (s *Store) Operator(id OperatorID) (*Operator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operators[id]
	return op, ok
}

// Aggregate returns the aggregate row owned by function id.
func (s *Store) Aggregate(id FuncID) (*AggregateRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.aggregates[id]
	return row, ok
}

// Namespace returns a namespace by name.
func (s *Store) Namespace(name string) (*Namespace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[name]
	return ns, ok
}

// Namespaces returns all namespaces sorted by name.
func (s *Store) Namespaces() []*Namespace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Namespace, 0, len(s.namespaces))
	for _, ns := range s.namespaces {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Functions returns all functions ordered by id.
func (s *Store) Functions() []*Function {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Function, 0, len(s.functions))
	for _, fn := range s.functions {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Operators returns all operators ordered by id.
func (s *Store) Operators() []*Operator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Operator, 0, len(s.operators))
	for _, op := range s.operators {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Aggregates returns all aggregate rows ordered by owning function id.
func (s *Store) Aggregates() []*AggregateRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AggregateRow, 0, len(s.aggregates))
	for _, row := range s.aggregates {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwningFunction < out[j].OwningFunction })
	return out
}

// Dependencies returns every recorded dependency edge.
func (s *Store) Dependencies() []Dependency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Dependency(nil), s.depends...)
}

// DependenciesOf returns the edges whose dependent is addr.
func (s *Store) DependenciesOf(addr ObjectAddress) []Dependency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Dependency
	for _, d := range s.depends {
		if d.Dependent == addr {
			out = append(out, d)
		}
	}
	return out
}

// Stats returns catalog counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Namespaces:   len(s.namespaces),
		Functions:    len(s.functions),
		Operators:    len(s.operators),
		Aggregates:   len(s.aggregates),
		Dependencies: len(s.depends),
		Commits:      s.commits,
		Aborts:       s.aborts,
	}
}

// apply makes a transaction's staged objects visible and persists them. On a
// failed persist the in-memory state is rolled back.
func (s *Store) apply(tx *Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// staging checked uniqueness against the state at the time; recheck now
	for _, ns := range tx.namespaces {
		if _, exists := s.namespaces[ns.Name]; exists {
			return uniqueNamespace(ns.Name)
		}
	}
	for _, fn := range tx.functions {
		if s.findSignatureLocked(fn.Namespace, fn.Name, fn.ArgTypes) != nil {
			return uniqueFunction(fn)
		}
	}

	for _, ns := range tx.namespaces {
		s.namespaces[ns.Name] = ns
	}
	for _, fn := range tx.functions {
		s.functions[fn.ID] = fn
	}
	for _, row := range tx.aggregates {
		s.aggregates[row.OwningFunction] = row
	}
	prevDepends := len(s.depends)
	s.depends = append(s.depends, tx.depends...)

	if err := s.save(); err != nil {
		for _, ns := range tx.namespaces {
			delete(s.namespaces, ns.Name)
		}
		for _, fn := range tx.functions {
			delete(s.functions, fn.ID)
		}
		for _, row := range tx.aggregates {
			delete(s.aggregates, row.OwningFunction)
		}
		s.depends = s.depends[:prevDepends]
		return fmt.Errorf("persist catalog: %w", err)
	}
	s.commits++
	return nil
}

func (s *Store) noteAbort() {
	s.mu.Lock()
	s.aborts++
	s.mu.Unlock()
}

// Caller must hold s.mu.
func (s *Store) findSignatureLocked(namespace, name string, argTypes []types.TypeID) *Function {
	for _, fn := range s.functions {
		if fn.sameSignature(namespace, name, argTypes) {
			return fn
		}
	}
	return nil
}

// searchPath returns the namespaces searched for a name qualified by ns.
func searchPath(ns string) []string {
	if ns != "" {
		return []string{ns}
	}
	return []string{NamespaceCatalog, NamespacePublic}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
