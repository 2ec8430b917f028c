package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/JayabrataBasu/veridicalagg/pkg/auth"
	"github.com/JayabrataBasu/veridicalagg/pkg/dberr"
	"github.com/JayabrataBasu/veridicalagg/pkg/lock"
	"github.com/JayabrataBasu/veridicalagg/pkg/txn"
	"github.com/JayabrataBasu/veridicalagg/pkg/types"
)

// ErrTxDone is returned when a finished Tx is used again.
var ErrTxDone = errors.New("catalog transaction already finished")

// lock catalogs
const (
	lockFunctions  = "functions"
	lockNamespaces = "namespaces"
)

// Tx is a catalog transaction. It carries the acting role and stages every
// write until Commit. Lookups through a Tx see committed objects plus the
// objects staged by the Tx itself. A Tx is not safe for concurrent use.
type Tx struct {
	ctx   context.Context
	store *Store
	txn   *txn.Transaction
	done  bool

	namespaces []*Namespace
	functions  []*Function
	aggregates []*AggregateRow
	depends    []Dependency
}

// Begin starts a catalog transaction acting as role.
func (s *Store) Begin(ctx context.Context, role string) *Tx {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Tx{ctx: ctx, store: s, txn: s.txns.Begin(role)}
}

// ID returns the transaction id.
func (tx *Tx) ID() txn.TxID { return tx.txn.ID }

// Role returns the acting role.
func (tx *Tx) Role() string { return tx.txn.Role }

// Context returns the transaction's context.
func (tx *Tx) Context() context.Context { return tx.ctx }

// Types returns the type registry.
func (tx *Tx) Types() *types.Registry { return tx.store.types }

// IsSuperuser reports whether the acting role is a superuser.
func (tx *Tx) IsSuperuser() bool { return tx.store.roles.IsSuperuser(tx.Role()) }

// Store returns the underlying store.
func (tx *Tx) Store() *Store { return tx.store }

func (tx *Tx) checkActive() error {
	if tx.done {
		return ErrTxDone
	}
	return nil
}

// lockName takes the exclusive lock serializing definitions of one name.
func (tx *Tx) lockName(catalog, namespace, name string) error {
	res := lock.NameResource(catalog, namespace, name)
	if err := tx.store.locks.AcquireContext(tx.ctx, tx.ID(), res, lock.ModeExclusive); err != nil {
		return fmt.Errorf("could not lock %s: %w", res, err)
	}
	return nil
}

// CheckTypeUsage checks USAGE on a type for the acting role.
func (tx *Tx) CheckTypeUsage(id types.TypeID) error {
	obj := auth.TypeObject(uint32(id), tx.store.types.Format(id))
	return tx.store.roles.CheckAccess(tx.Role(), obj, auth.PrivUsage)
}

// CheckNamespaceCreate checks CREATE on a namespace for the acting role.
func (tx *Tx) CheckNamespaceCreate(namespace string) error {
	ns, ok := tx.namespace(namespace)
	if ok && ns.Owner == tx.Role() {
		return nil
	}
	return tx.store.roles.CheckAccess(tx.Role(), auth.NamespaceObject(namespace), auth.PrivCreate)
}

// CheckFunctionExecute checks EXECUTE on a function for the acting role.
func (tx *Tx) CheckFunctionExecute(fn *Function) error {
	if fn.Owner == tx.Role() {
		return nil
	}
	obj := auth.FunctionObject(uint32(fn.ID), fn.Name)
	return tx.store.roles.CheckAccess(tx.Role(), obj, auth.PrivExecute)
}

func (tx *Tx) namespace(name string) (*Namespace, bool) {
	for _, ns := range tx.namespaces {
		if ns.Name == name {
			return ns, true
		}
	}
	return tx.store.Namespace(name)
}

// CreationNamespace resolves the namespace a new object named qualified
// ("ns.name" or "name") is created in and checks CREATE on it.
func (tx *Tx) CreationNamespace(qualified string) (namespace, name string, err error) {
	namespace, name = SplitQualifiedName(qualified)
	if name == "" {
		return "", "", dberr.Syntax("invalid name %q", qualified)
	}
	if namespace == "" {
		namespace = NamespacePublic
	}
	if _, ok := tx.namespace(namespace); !ok {
		return "", "", dberr.UndefinedObject("schema %q does not exist", namespace)
	}
	if err := tx.CheckNamespaceCreate(namespace); err != nil {
		return "", "", err
	}
	return namespace, name, nil
}

// CreateNamespace stages a new namespace owned by the acting role.
func (tx *Tx) CreateNamespace(name string) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	if !tx.IsSuperuser() {
		return dberr.Permission("permission denied to create schema %s", name)
	}
	if err := tx.lockName(lockNamespaces, "", name); err != nil {
		return err
	}
	if _, exists := tx.namespace(name); exists {
		return uniqueNamespace(name)
	}
	tx.namespaces = append(tx.namespaces, &Namespace{Name: name, Owner: tx.Role()})
	return nil
}

// CreateFunction stages a function entry and assigns its id. Two functions
// with the same namespace, name and argument types cannot coexist.
func (tx *Tx) CreateFunction(fn *Function) (FuncID, error) {
	if err := tx.checkActive(); err != nil {
		return InvalidFuncID, err
	}
	if err := tx.lockName(lockFunctions, fn.Namespace, fn.Name); err != nil {
		return InvalidFuncID, err
	}
	if _, ok := tx.namespace(fn.Namespace); !ok {
		return InvalidFuncID, dberr.UndefinedObject("schema %q does not exist", fn.Namespace)
	}
	if tx.findSignature(fn.Namespace, fn.Name, fn.ArgTypes) != nil {
		return InvalidFuncID, uniqueFunction(fn)
	}
	if fn.Owner == "" {
		fn.Owner = tx.Role()
	}
	fn.ID = FuncID(tx.store.allocOID())
	tx.functions = append(tx.functions, fn)
	return fn.ID, nil
}

func (tx *Tx) findSignature(namespace, name string, argTypes []types.TypeID) *Function {
	for _, fn := range tx.functions {
		if fn.sameSignature(namespace, name, argTypes) {
			return fn
		}
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return tx.store.findSignatureLocked(namespace, name, argTypes)
}

// InsertAggregate stages an aggregate row. Its owning function must be an
// aggregate entry staged by this transaction.
func (tx *Tx) InsertAggregate(row *AggregateRow) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	fn, ok := tx.Function(row.OwningFunction)
	if !ok || fn.Kind != FuncAggregate {
		return dberr.Internal("cache lookup failed for function %d", row.OwningFunction)
	}
	for _, r := range tx.aggregates {
		if r.OwningFunction == row.OwningFunction {
			return dberr.UniqueViolation("aggregate %d already exists", row.OwningFunction)
		}
	}
	if _, exists := tx.store.Aggregate(row.OwningFunction); exists {
		return dberr.UniqueViolation("aggregate %d already exists", row.OwningFunction)
	}
	tx.aggregates = append(tx.aggregates, row)
	return nil
}

// RecordDependency stages a normal dependency edge.
func (tx *Tx) RecordDependency(dependent, referenced ObjectAddress) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	tx.depends = append(tx.depends, Dependency{Dependent: dependent, Referenced: referenced, Type: DependencyNormal})
	return nil
}

// Function returns a function visible to the transaction.
func (tx *Tx) Function(id FuncID) (*Function, bool) {
	for _, fn := range tx.functions {
		if fn.ID == id {
			return fn, true
		}
	}
	return tx.store.Function(id)
}

// Aggregate returns an aggregate row visible to the transaction.
func (tx *Tx) Aggregate(id FuncID) (*AggregateRow, bool) {
	for _, row := range tx.aggregates {
		if row.OwningFunction == id {
			return row, true
		}
	}
	return tx.store.Aggregate(id)
}

// StagedDependencies returns the edges staged so far.
func (tx *Tx) StagedDependencies() []Dependency {
	return append([]Dependency(nil), tx.depends...)
}

// visibleFunctions returns committed and staged functions.
func (tx *Tx) visibleFunctions() []*Function {
	out := tx.store.Functions()
	return append(out, tx.functions...)
}

// Commit applies the staged writes atomically and releases the transaction's
// locks. If applying fails the transaction is aborted and the error returned.
func (tx *Tx) Commit() error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	tx.done = true
	defer tx.store.locks.ReleaseAll(tx.ID())

	if err := tx.store.apply(tx); err != nil {
		_ = tx.store.txns.Abort(tx.ID())
		tx.store.noteAbort()
		return err
	}
	if err := tx.store.txns.Commit(tx.ID()); err != nil {
		return dberr.Internal("commit catalog transaction %d", tx.ID()).Wrap(err)
	}
	tx.store.log.Debug("catalog transaction committed",
		"txid", tx.ID(), "functions", len(tx.functions), "aggregates", len(tx.aggregates))
	return nil
}

// Abort discards the staged writes and releases the transaction's locks.
// Aborting a finished transaction is a no-op.
func (tx *Tx) Abort() {
	if tx.done {
		return
	}
	tx.done = true
	tx.namespaces, tx.functions, tx.aggregates, tx.depends = nil, nil, nil, nil
	tx.store.locks.ReleaseAll(tx.ID())
	_ = tx.store.txns.Abort(tx.ID())
	tx.store.noteAbort()
}

func uniqueNamespace(name string) error {
	return dberr.UniqueViolation("schema %q already exists", name)
}

func uniqueFunction(fn *Function) error {
	return dberr.UniqueViolation("function %q already exists with same argument types", fn.Name)
}
