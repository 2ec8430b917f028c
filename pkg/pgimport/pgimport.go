// Package pgimport reads aggregate definitions from a live PostgreSQL
// server's pg_aggregate catalog and converts them into CREATE AGGREGATE
// commands for this catalog.
package pgimport

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JayabrataBasu/veridicalagg/internal/logger"
	"github.com/JayabrataBasu/veridicalagg/pkg/aggregate"
	"github.com/JayabrataBasu/veridicalagg/pkg/catalog"
	"github.com/JayabrataBasu/veridicalagg/pkg/ddl"
)

// Kind mirrors pg_aggregate.aggkind.
type Kind string

const (
	KindNormal       Kind = "n"
	KindOrderedSet   Kind = "o"
	KindHypothetical Kind = "h"
)

// Definition is one aggregate as PostgreSQL stores it. Type names are
// pg_type.typname values with array types rewritten as "elem[]".
type Definition struct {
	Namespace     string
	Name          string
	Kind          Kind
	NumDirectArgs int
	ArgTypes      []string
	ArgNames      []string
	// ArgModes holds pg_proc.proargmodes codes; empty means all IN.
	ArgModes  []string
	TransFunc string
	FinalFunc string
	SortOp    string
	TransType string
	InitValue *string
}

// finalFuncAliases maps PostgreSQL's hypothetical-set final functions to
// the builtin entry points of this catalog.
var finalFuncAliases = map[string]string{
	"rank_final":         catalog.FuncHypotheticalRank,
	"dense_rank_final":   catalog.FuncHypotheticalDenseRank,
	"percent_rank_final": catalog.FuncHypotheticalPercentRank,
	"cume_dist_final":    catalog.FuncHypotheticalCumeDist,
}

// Reader queries one PostgreSQL database. It is not safe for concurrent use.
type Reader struct {
	conn *pgx.Conn
	log  *logger.Logger
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, log *logger.Logger) (*Reader, error) {
	if log == nil {
		log = logger.NewNop()
	}
	log.Debug("connecting to postgres for aggregate import")
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Reader{conn: conn, log: log}, nil
}

// Close closes the connection.
func (r *Reader) Close(ctx context.Context) error {
	return r.conn.Close(ctx)
}

const aggregatesQuery = `
SELECT n.nspname,
       p.proname,
       a.aggkind::text,
       a.aggnumdirectargs,
       ARRAY(SELECT t.typname::text
               FROM unnest(p.proargtypes) WITH ORDINALITY AS u(oid, ord)
               JOIN pg_type t ON t.oid = u.oid
              ORDER BY u.ord) AS arg_types,
       COALESCE(p.proargnames, '{}'::text[]) AS arg_names,
       COALESCE(p.proargmodes::text[], '{}'::text[]) AS arg_modes,
       COALESCE((SELECT f.proname::text FROM pg_proc f WHERE f.oid = a.aggtransfn), '') AS transfn,
       COALESCE((SELECT f.proname::text FROM pg_proc f WHERE f.oid = a.aggfinalfn), '') AS finalfn,
       COALESCE((SELECT o.oprname::text FROM pg_operator o WHERE o.oid = a.aggsortop), '') AS sortop,
       (SELECT t.typname::text FROM pg_type t WHERE t.oid = a.aggtranstype) AS transtype,
       a.agginitval
  FROM pg_aggregate a
  JOIN pg_proc p ON p.oid = a.aggfnoid
  JOIN pg_namespace n ON n.oid = p.pronamespace
 WHERE n.nspname = ANY($1)
 ORDER BY n.nspname, p.proname, p.oid`

// Aggregates lists the aggregates defined in the given schemas.
func (r *Reader) Aggregates(ctx context.Context, schemas []string) ([]Definition, error) {
	rows, err := r.conn.Query(ctx, aggregatesQuery, schemas)
	if err != nil {
		return nil, fmt.Errorf("failed to query pg_aggregate: %w", err)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		var (
			d         Definition
			kind      string
			argTypes  []string
			transType *string
		)
		if err := rows.Scan(&d.Namespace, &d.Name, &kind, &d.NumDirectArgs,
			&argTypes, &d.ArgNames, &d.ArgModes,
			&d.TransFunc, &d.FinalFunc, &d.SortOp, &transType, &d.InitValue); err != nil {
			return nil, fmt.Errorf("failed to scan pg_aggregate row: %w", err)
		}
		d.Kind = Kind(kind)
		for _, t := range argTypes {
			d.ArgTypes = append(d.ArgTypes, typeName(t))
		}
		if transType != nil {
			d.TransType = typeName(*transType)
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pg_aggregate: %w", err)
	}
	r.log.Info("read aggregates from postgres", "schemas", schemas, "count", len(defs))
	return defs, nil
}

// typeName rewrites the "_elem" array naming convention.
func typeName(typname string) string {
	if strings.HasPrefix(typname, "_") {
		return strings.TrimPrefix(typname, "_") + "[]"
	}
	return typname
}

// QualifiedName returns namespace.name.
func (d Definition) QualifiedName() string {
	return d.Namespace + "." + d.Name
}

// Statement converts the definition into a CREATE AGGREGATE command. The
// target namespace may differ from the source one; an empty namespace
// keeps the source schema. Ordered-set aggregates keep only their final
// function since this catalog stores them without a transition step.
func (d Definition) Statement(namespace string) *ddl.CreateAggregate {
	if namespace == "" {
		namespace = d.Namespace
	}
	stmt := &ddl.CreateAggregate{
		Source: ddl.Source("postgres: " + d.QualifiedName()),
		Name:   namespace + "." + d.Name,
	}

	params := make([]aggregate.Param, len(d.ArgTypes))
	for i, t := range d.ArgTypes {
		params[i].Type = t
		if i < len(d.ArgNames) {
			params[i].Name = d.ArgNames[i]
		}
		if i < len(d.ArgModes) && d.ArgModes[i] == "v" {
			params[i].Variadic = true
		}
	}

	if d.Kind == KindNormal {
		stmt.Args = aggregate.PlainArgs(params...)
		stmt.Attrs = append(stmt.Attrs,
			aggregate.Attr("sfunc", d.TransFunc),
			aggregate.Attr("stype", d.TransType))
		if d.FinalFunc != "" {
			stmt.Attrs = append(stmt.Attrs, aggregate.Attr("finalfunc", d.FinalFunc))
		}
		if d.InitValue != nil {
			stmt.Attrs = append(stmt.Attrs, aggregate.Attr("initcond", *d.InitValue))
		}
		if d.SortOp != "" {
			stmt.Attrs = append(stmt.Attrs, aggregate.Attr("sortop", d.SortOp))
		}
		return stmt
	}

	finalFunc := d.FinalFunc
	if alias, ok := finalFuncAliases[finalFunc]; ok {
		finalFunc = alias
	}
	stmt.Args = aggregate.OrderedArgs(d.NumDirectArgs, params...)
	stmt.Attrs = append(stmt.Attrs, aggregate.Attr("finalfunc", finalFunc))
	if d.Kind == KindHypothetical {
		stmt.Attrs = append(stmt.Attrs, aggregate.Attr("hypothetical", ""))
	}
	return stmt
}
