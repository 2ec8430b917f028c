// Package engine ties the aggregate catalog together for front ends. It
// executes DDL one statement per transaction, evaluates hypothetical-set
// aggregates against caller-supplied groups, and loads definitions from
// bundle files or a live PostgreSQL server.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JayabrataBasu/veridicalagg/internal/config"
	"github.com/JayabrataBasu/veridicalagg/internal/logger"
	"github.com/JayabrataBasu/veridicalagg/pkg/aggregate"
	"github.com/JayabrataBasu/veridicalagg/pkg/auth"
	"github.com/JayabrataBasu/veridicalagg/pkg/bundle"
	"github.com/JayabrataBasu/veridicalagg/pkg/catalog"
	"github.com/JayabrataBasu/veridicalagg/pkg/dberr"
	"github.com/JayabrataBasu/veridicalagg/pkg/ddl"
	"github.com/JayabrataBasu/veridicalagg/pkg/hypothetical"
	"github.com/JayabrataBasu/veridicalagg/pkg/lock"
	"github.com/JayabrataBasu/veridicalagg/pkg/observability"
	"github.com/JayabrataBasu/veridicalagg/pkg/pgimport"
	"github.com/JayabrataBasu/veridicalagg/pkg/types"
)

// Engine owns one catalog store and the components that act on it. It is
// safe for concurrent use.
type Engine struct {
	cfg        *config.Config
	log        *logger.Logger
	store      *catalog.Store
	processor  *aggregate.Processor
	definer    *aggregate.Definer
	dispatcher *hypothetical.Dispatcher
	sys        *observability.SystemCatalog
}

// Result describes one executed statement.
type Result struct {
	Tag       string
	Statement string
	Function  catalog.FuncID
	Warnings  []string
}

// New opens the catalog under cfg's data directory. A nil log discards
// output.
func New(cfg *config.Config, log *logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.NewNop()
	}

	roles, err := auth.NewRoleCatalog(cfg.CatalogDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open role catalog: %w", err)
	}
	if pw := roles.BootstrapPassword(); pw != "" {
		log.Warn("bootstrapped admin role with a generated password", "password", pw)
	}

	locks := lock.NewManager()
	locks.SetTimeout(time.Duration(cfg.Engine.LockTimeoutMs) * time.Millisecond)

	store, err := catalog.Open(catalog.Options{
		DataDir: cfg.CatalogDir(),
		Roles:   roles,
		Locks:   locks,
		Log:     log.Named("catalog"),
	})
	if err != nil {
		return nil, err
	}

	dispatcher, err := hypothetical.NewDispatcher(store)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		log:        log,
		store:      store,
		processor:  aggregate.NewProcessor(log.Named("aggregate")),
		definer:    aggregate.NewDefiner(log.Named("aggregate")),
		dispatcher: dispatcher,
		sys:        observability.NewSystemCatalog(store),
	}, nil
}

// Store returns the catalog store.
func (e *Engine) Store() *catalog.Store { return e.store }

// System returns the system views and statistics.
func (e *Engine) System() *observability.SystemCatalog { return e.sys }

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *config.Config { return e.cfg }

// ExecDDL parses sql and executes every statement in it.
func (e *Engine) ExecDDL(ctx context.Context, role, sql string) ([]Result, error) {
	stmts, err := ddl.Parse(sql)
	if err != nil {
		return nil, err
	}
	return e.Exec(ctx, role, stmts)
}

// Exec runs each statement in its own transaction and stops at the first
// failure. Results for the statements that committed are returned along
// with the error.
func (e *Engine) Exec(ctx context.Context, role string, stmts []ddl.Statement) ([]Result, error) {
	results := make([]Result, 0, len(stmts))
	for _, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := e.execOne(ctx, role, stmt)
		if err != nil {
			return results, fmt.Errorf("%s: %w", stmt.Text(), err)
		}
		res.Statement = stmt.Text()
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) execOne(ctx context.Context, role string, stmt ddl.Statement) (Result, error) {
	switch s := stmt.(type) {
	case *ddl.CreateAggregate:
		id, warnings, err := e.DefineAggregate(ctx, role, s.Name, s.Args, s.Attrs)
		if err != nil {
			return Result{}, err
		}
		return Result{Tag: "CREATE AGGREGATE", Function: id, Warnings: warnings}, nil
	case *ddl.CreateSchema:
		return e.createSchema(ctx, role, s)
	case *ddl.CreateRole:
		if !e.store.Roles().IsSuperuser(role) {
			return Result{}, dberr.Permission("permission denied to create role")
		}
		err := e.store.Roles().CreateRole(s.Name, s.Password, s.Superuser)
		if errors.Is(err, auth.ErrRoleExists) {
			return Result{}, dberr.UniqueViolation("role %q already exists", s.Name).Wrap(err)
		}
		if err != nil {
			return Result{}, err
		}
		e.log.Info("role created", "role", s.Name, "superuser", s.Superuser)
		return Result{Tag: "CREATE ROLE"}, nil
	case *ddl.Privilege:
		return e.applyPrivilege(role, s)
	default:
		return Result{}, dberr.Internal("unhandled statement type %T", stmt)
	}
}

func (e *Engine) createSchema(ctx context.Context, role string, s *ddl.CreateSchema) (Result, error) {
	if _, exists := e.store.Namespace(s.Name); exists && s.IfNotExists {
		return Result{Tag: "CREATE SCHEMA", Warnings: []string{
			fmt.Sprintf("schema %q already exists, skipping", s.Name),
		}}, nil
	}
	tx := e.store.Begin(ctx, role)
	if err := tx.CreateNamespace(s.Name); err != nil {
		tx.Abort()
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	return Result{Tag: "CREATE SCHEMA"}, nil
}

// DefineAggregate runs a CREATE AGGREGATE command in a fresh transaction.
// Nothing is visible to other transactions unless it returns nil.
func (e *Engine) DefineAggregate(ctx context.Context, role, name string, args aggregate.ArgumentSpec, attrs []aggregate.Attribute) (catalog.FuncID, []string, error) {
	tx := e.store.Begin(ctx, role)
	req, err := e.processor.ParseDefinition(tx, name, args, attrs)
	if err != nil {
		tx.Abort()
		e.sys.Stats().RecordDefinition(false)
		return catalog.InvalidFuncID, nil, err
	}
	id, err := e.definer.Register(tx, req)
	if err != nil {
		tx.Abort()
		e.sys.Stats().RecordDefinition(false)
		return catalog.InvalidFuncID, req.Warnings, err
	}
	if err := tx.Commit(); err != nil {
		e.sys.Stats().RecordDefinition(false)
		return catalog.InvalidFuncID, req.Warnings, err
	}
	e.sys.Stats().RecordDefinition(true)
	return id, req.Warnings, nil
}

func (e *Engine) applyPrivilege(role string, s *ddl.Privilege) (Result, error) {
	tag := "GRANT"
	if !s.Grant {
		tag = "REVOKE"
	}
	roles := e.store.Roles()
	if !roles.IsSuperuser(role) {
		return Result{}, dberr.Permission("permission denied to %s privileges", strings.ToLower(tag))
	}

	objects := make([]auth.Object, 0, len(s.Targets))
	for _, target := range s.Targets {
		obj, err := e.resolveObject(s.Class, target)
		if err != nil {
			return Result{}, err
		}
		objects = append(objects, obj)
	}

	for _, obj := range objects {
		for _, grantee := range s.Grantees {
			for _, priv := range s.Privileges {
				var err error
				if s.Grant {
					err = roles.Grant(grantee, obj, priv)
				} else {
					err = roles.Revoke(grantee, obj, priv)
				}
				if errors.Is(err, auth.ErrRoleNotFound) {
					return Result{}, dberr.UndefinedObject("role %q does not exist", grantee).Wrap(err)
				}
				if err != nil {
					return Result{}, err
				}
			}
		}
	}
	e.log.Info("privileges updated", "statement", tag, "class", s.Class, "grantees", s.Grantees)
	return Result{Tag: tag}, nil
}

// resolveObject maps a GRANT target onto the object its ACL is keyed by.
func (e *Engine) resolveObject(class auth.ObjectClass, target ddl.Target) (auth.Object, error) {
	reg := e.store.Types()
	switch class {
	case auth.ClassType:
		t, err := reg.Lookup(target.Name)
		if err != nil {
			return auth.Object{}, err
		}
		return auth.TypeObject(uint32(t.ID), reg.Format(t.ID)), nil
	case auth.ClassNamespace:
		if _, ok := e.store.Namespace(target.Name); !ok {
			return auth.Object{}, dberr.UndefinedObject("schema %q does not exist", target.Name)
		}
		return auth.NamespaceObject(target.Name), nil
	case auth.ClassFunction:
		fn, err := e.resolveFunction(target)
		if err != nil {
			return auth.Object{}, err
		}
		return auth.FunctionObject(uint32(fn.ID), fn.Name), nil
	default:
		return auth.Object{}, dberr.Syntax("unsupported object class %q", class)
	}
}

func (e *Engine) resolveFunction(target ddl.Target) (*catalog.Function, error) {
	reg := e.store.Types()
	candidates := e.store.FunctionByName(target.Name)
	if !target.HasArgs {
		switch len(candidates) {
		case 0:
			return nil, dberr.UndefinedFunction("function %s does not exist", target.Name)
		case 1:
			return candidates[0], nil
		default:
			return nil, dberr.UndefinedFunction("function name %q is not unique", target.Name).
				WithHint("Specify the argument list to select the function unambiguously.")
		}
	}

	argTypes := make([]types.TypeID, len(target.ArgTypes))
	for i, name := range target.ArgTypes {
		t, err := reg.Lookup(name)
		if err != nil {
			return nil, err
		}
		argTypes[i] = t.ID
	}
	for _, fn := range candidates {
		if sameArgTypes(fn.ArgTypes, argTypes) {
			return fn, nil
		}
	}
	return nil, dberr.UndefinedFunction("function %s(%s) does not exist", target.Name, reg.FormatList(argTypes))
}

func sameArgTypes(a, b []types.TypeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HypotheticalAggregate resolves name to a hypothetical-set aggregate the
// role may execute. Overloads are tried in catalog order.
func (e *Engine) HypotheticalAggregate(role, name string) (*catalog.Function, *catalog.AggregateRow, error) {
	for _, fn := range e.store.FunctionByName(name) {
		if fn.Kind != catalog.FuncAggregate {
			continue
		}
		row, ok := e.store.Aggregate(fn.ID)
		if !ok {
			return nil, nil, dberr.Internal("cache lookup failed for aggregate %d", fn.ID)
		}
		if !row.IsHypothetical() {
			continue
		}
		if fn.Owner != role {
			obj := auth.FunctionObject(uint32(fn.ID), fn.Name)
			if err := e.store.Roles().CheckAccess(role, obj, auth.PrivExecute); err != nil {
				return nil, nil, err
			}
		}
		return fn, row, nil
	}
	return nil, nil, dberr.UndefinedFunction("hypothetical-set aggregate %s does not exist", name)
}

// EvaluateHypothetical places args in group and finalizes the named
// aggregate. The result is an int8 or float8 datum depending on the
// aggregate's final function.
func (e *Engine) EvaluateHypothetical(ctx context.Context, role, name string, group *hypothetical.AggContext, args []types.Value) (types.Value, error) {
	if err := ctx.Err(); err != nil {
		return types.Value{}, err
	}
	_, row, err := e.HypotheticalAggregate(role, name)
	if err != nil {
		e.sys.Stats().RecordEvaluation(false, 0)
		return types.Value{}, err
	}

	start := time.Now()
	v, err := e.dispatcher.Call(row, group, args)
	elapsed := time.Since(start).Nanoseconds()
	e.sys.Stats().RecordEvaluation(err == nil, elapsed)
	if err != nil {
		return types.Value{}, err
	}
	e.log.Debug("hypothetical aggregate evaluated", "aggregate", name, "rows", group.RowCount(), "result", v.String())
	return v, nil
}

// EvaluatePartitions computes every rank-family value for independent
// groups on the configured number of workers.
func (e *Engine) EvaluatePartitions(ctx context.Context, tasks []hypothetical.Task) ([]hypothetical.Result, error) {
	start := time.Now()
	results, err := hypothetical.EvaluatePartitions(ctx, tasks, e.cfg.Engine.Workers)
	e.sys.Stats().RecordEvaluation(err == nil, time.Since(start).Nanoseconds())
	return results, err
}

// LoadBundle executes the statements of a YAML or JSON bundle file.
func (e *Engine) LoadBundle(ctx context.Context, role, path string) ([]Result, error) {
	b, err := bundle.Load(path)
	if err != nil {
		return nil, err
	}
	stmts, err := b.Statements()
	if err != nil {
		return nil, err
	}
	e.log.Info("loading bundle", "path", path, "statements", len(stmts))
	return e.Exec(ctx, role, stmts)
}

// ImportReport summarizes an import from PostgreSQL.
type ImportReport struct {
	Imported []string
	Skipped  map[string]error
}

// ImportFromPostgres copies the aggregates of the given schemas from a live
// server. Missing target namespaces are created. An aggregate that cannot
// be defined here is skipped and reported rather than failing the import.
func (e *Engine) ImportFromPostgres(ctx context.Context, role, dsn string, schemas []string, target string) (*ImportReport, error) {
	reader, err := pgimport.Open(ctx, dsn, e.log.Named("pgimport"))
	if err != nil {
		return nil, err
	}
	defer reader.Close(ctx)

	defs, err := reader.Aggregates(ctx, schemas)
	if err != nil {
		return nil, err
	}
	return e.importDefinitions(ctx, role, defs, target)
}

func (e *Engine) importDefinitions(ctx context.Context, role string, defs []pgimport.Definition, target string) (*ImportReport, error) {
	report := &ImportReport{Skipped: make(map[string]error)}
	for _, d := range defs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		stmt := d.Statement(target)
		ns, _ := catalog.SplitQualifiedName(stmt.Name)
		if _, ok := e.store.Namespace(ns); !ok {
			if _, err := e.createSchema(ctx, role, &ddl.CreateSchema{Source: ddl.Source("postgres: schema " + ns), Name: ns, IfNotExists: true}); err != nil {
				return report, err
			}
		}
		if _, _, err := e.DefineAggregate(ctx, role, stmt.Name, stmt.Args, stmt.Attrs); err != nil {
			e.log.Warn("skipping aggregate", "aggregate", d.QualifiedName(), "error", err)
			report.Skipped[d.QualifiedName()] = err
			continue
		}
		report.Imported = append(report.Imported, stmt.Name)
	}
	e.sys.Stats().RecordImport(len(report.Imported), len(report.Skipped))
	e.log.Info("postgres import finished", "imported", len(report.Imported), "skipped", len(report.Skipped))
	return report, nil
}
