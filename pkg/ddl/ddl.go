// Package ddl translates PostgreSQL DDL text into aggregate commands using
// the PostgreSQL grammar from pg_query_go. Only the statements this module
// executes are recognized: CREATE AGGREGATE, CREATE SCHEMA, CREATE ROLE,
// GRANT and REVOKE.
package ddl

import (
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/JayabrataBasu/veridicalagg/pkg/aggregate"
	"github.com/JayabrataBasu/veridicalagg/pkg/auth"
	"github.com/JayabrataBasu/veridicalagg/pkg/dberr"
)

// Statement is one translated DDL statement.
type Statement interface {
	// Text returns the source text of the statement.
	Text() string
}

// Source is the text a statement was translated from.
type Source string

// Text implements Statement.
func (s Source) Text() string { return string(s) }

// CreateAggregate is a CREATE AGGREGATE statement.
type CreateAggregate struct {
	Source
	Name  string
	Args  aggregate.ArgumentSpec
	Attrs []aggregate.Attribute
}

// CreateSchema is a CREATE SCHEMA statement.
type CreateSchema struct {
	Source
	Name        string
	IfNotExists bool
}

// CreateRole is a CREATE ROLE or CREATE USER statement.
type CreateRole struct {
	Source
	Name      string
	Password  string
	Superuser bool
}

// Target names one object of a GRANT or REVOKE.
type Target struct {
	Name string
	// ArgTypes is set for functions named with an argument list.
	ArgTypes []string
	HasArgs  bool
}

// Privilege is a GRANT or REVOKE statement.
type Privilege struct {
	Source
	Grant      bool
	Class      auth.ObjectClass
	Privileges []auth.Priv
	Targets    []Target
	// Grantees holds role names; auth.Public stands for PUBLIC.
	Grantees []string
}

// Parse splits sql into statements and translates each of them.
func Parse(sql string) ([]Statement, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, dberr.Syntax("%s", err.Error())
	}
	stmts := make([]Statement, 0, len(result.Stmts))
	for _, raw := range result.Stmts {
		text := statementText(sql, raw)
		stmt, err := translate(raw.Stmt, Source(text))
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func statementText(sql string, raw *pg_query.RawStmt) string {
	start := int(raw.StmtLocation)
	end := len(sql)
	if raw.StmtLen > 0 && start+int(raw.StmtLen) <= len(sql) {
		end = start + int(raw.StmtLen)
	}
	if start < 0 || start > end {
		return strings.TrimSpace(sql)
	}
	return strings.TrimSpace(sql[start:end])
}

func translate(node *pg_query.Node, text Source) (Statement, error) {
	switch n := node.Node.(type) {
	case *pg_query.Node_DefineStmt:
		if n.DefineStmt.Kind != pg_query.ObjectType_OBJECT_AGGREGATE {
			return nil, unsupported(text)
		}
		return translateAggregate(n.DefineStmt, text)
	case *pg_query.Node_CreateSchemaStmt:
		if len(n.CreateSchemaStmt.SchemaElts) > 0 {
			return nil, dberr.Syntax("CREATE SCHEMA with schema elements is not supported")
		}
		return &CreateSchema{
			Source:      text,
			Name:        n.CreateSchemaStmt.Schemaname,
			IfNotExists: n.CreateSchemaStmt.IfNotExists,
		}, nil
	case *pg_query.Node_CreateRoleStmt:
		return translateRole(n.CreateRoleStmt, text)
	case *pg_query.Node_GrantStmt:
		return translateGrant(n.GrantStmt, text)
	}
	return nil, unsupported(text)
}

func unsupported(text Source) error {
	return dberr.Syntax("unsupported statement: %s", firstWords(string(text), 3))
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

func translateAggregate(stmt *pg_query.DefineStmt, text Source) (*CreateAggregate, error) {
	out := &CreateAggregate{
		Source: text,
		Name:   nameList(stmt.Defnames),
	}

	if stmt.Oldstyle {
		out.Args = aggregate.ArgumentSpec{OldStyle: true}
	} else {
		args, err := aggregateArgs(stmt.Args)
		if err != nil {
			return nil, err
		}
		out.Args = args
	}

	for _, def := range stmt.Definition {
		elem := def.GetDefElem()
		if elem == nil {
			continue
		}
		value, err := defArg(elem.Arg)
		if err != nil {
			return nil, err
		}
		out.Attrs = append(out.Attrs, aggregate.Attribute{Name: elem.Defname, Value: value})
	}
	return out, nil
}

// aggregateArgs reads the (parameter list, direct count) pair the grammar
// produces for a modern-form definition.
func aggregateArgs(args []*pg_query.Node) (aggregate.ArgumentSpec, error) {
	spec := aggregate.ArgumentSpec{NumDirectArgs: aggregate.NotOrderedSet}
	if len(args) == 0 {
		return spec, nil
	}
	if n := args[len(args)-1].GetInteger(); n != nil {
		spec.NumDirectArgs = int(n.Ival)
	}
	// (*) leaves the parameter list empty
	list := args[0].GetList()
	if list == nil {
		return spec, nil
	}
	for _, item := range list.Items {
		fp := item.GetFunctionParameter()
		if fp == nil {
			return spec, dberr.Syntax("malformed aggregate argument")
		}
		switch fp.Mode {
		case pg_query.FunctionParameterMode_FUNC_PARAM_OUT,
			pg_query.FunctionParameterMode_FUNC_PARAM_INOUT,
			pg_query.FunctionParameterMode_FUNC_PARAM_TABLE:
			return spec, dberr.Definition("aggregates cannot have output arguments")
		}
		spec.Params = append(spec.Params, aggregate.Param{
			Name:     fp.Name,
			Type:     typeName(fp.ArgType),
			Variadic: fp.Mode == pg_query.FunctionParameterMode_FUNC_PARAM_VARIADIC,
		})
	}
	return spec, nil
}

// defArg renders the value of a definition element as text.
func defArg(arg *pg_query.Node) (string, error) {
	if arg == nil {
		return "", nil
	}
	switch a := arg.Node.(type) {
	case *pg_query.Node_TypeName:
		return typeName(a.TypeName), nil
	case *pg_query.Node_String_:
		return a.String_.Sval, nil
	case *pg_query.Node_Integer:
		return strconv.Itoa(int(a.Integer.Ival)), nil
	case *pg_query.Node_Float:
		return a.Float.Fval, nil
	case *pg_query.Node_Boolean:
		return strconv.FormatBool(a.Boolean.Boolval), nil
	case *pg_query.Node_List:
		// qualified operator name
		return nameList(a.List.Items), nil
	case *pg_query.Node_AConst:
		return aConst(a.AConst), nil
	}
	return "", dberr.Syntax("unsupported attribute value")
}

func aConst(c *pg_query.A_Const) string {
	switch v := c.Val.(type) {
	case *pg_query.A_Const_Sval:
		return v.Sval.Sval
	case *pg_query.A_Const_Ival:
		return strconv.Itoa(int(v.Ival.Ival))
	case *pg_query.A_Const_Fval:
		return v.Fval.Fval
	case *pg_query.A_Const_Boolval:
		return strconv.FormatBool(v.Boolval.Boolval)
	}
	return ""
}

// typeName renders a TypeName as "schema.name[]".
func typeName(tn *pg_query.TypeName) string {
	if tn == nil {
		return ""
	}
	name := nameList(tn.Names)
	for range tn.ArrayBounds {
		name += "[]"
	}
	return name
}

// nameList joins String nodes with dots.
func nameList(nodes []*pg_query.Node) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if s := n.GetString_(); s != nil {
			parts = append(parts, s.Sval)
		}
	}
	return strings.Join(parts, ".")
}

func translateRole(stmt *pg_query.CreateRoleStmt, text Source) (*CreateRole, error) {
	out := &CreateRole{Source: text, Name: stmt.Role}
	for _, opt := range stmt.Options {
		elem := opt.GetDefElem()
		if elem == nil {
			continue
		}
		switch elem.Defname {
		case "password":
			v, err := defArg(elem.Arg)
			if err != nil {
				return nil, err
			}
			out.Password = v
		case "superuser":
			v, err := defArg(elem.Arg)
			if err != nil {
				return nil, err
			}
			out.Superuser = v == "" || v == "true" || v == "1"
		}
	}
	return out, nil
}

func translateGrant(stmt *pg_query.GrantStmt, text Source) (*Privilege, error) {
	out := &Privilege{Source: text, Grant: stmt.IsGrant}
	if stmt.Targtype != pg_query.GrantTargetType_ACL_TARGET_OBJECT {
		return nil, dberr.Syntax("ALL ... IN SCHEMA is not supported")
	}

	switch stmt.Objtype {
	case pg_query.ObjectType_OBJECT_TYPE:
		out.Class = auth.ClassType
		for _, obj := range stmt.Objects {
			if list := obj.GetList(); list != nil {
				out.Targets = append(out.Targets, Target{Name: nameList(list.Items)})
			} else if tn := obj.GetTypeName(); tn != nil {
				out.Targets = append(out.Targets, Target{Name: typeName(tn)})
			}
		}
	case pg_query.ObjectType_OBJECT_SCHEMA:
		out.Class = auth.ClassNamespace
		for _, obj := range stmt.Objects {
			if s := obj.GetString_(); s != nil {
				out.Targets = append(out.Targets, Target{Name: s.Sval})
			}
		}
	case pg_query.ObjectType_OBJECT_FUNCTION, pg_query.ObjectType_OBJECT_AGGREGATE:
		out.Class = auth.ClassFunction
		for _, obj := range stmt.Objects {
			owa := obj.GetObjectWithArgs()
			if owa == nil {
				continue
			}
			target := Target{Name: nameList(owa.Objname), HasArgs: !owa.ArgsUnspecified}
			for _, arg := range owa.Objargs {
				target.ArgTypes = append(target.ArgTypes, typeName(arg.GetTypeName()))
			}
			out.Targets = append(out.Targets, target)
		}
	default:
		return nil, dberr.Syntax("privileges on %s are not supported",
			strings.ToLower(strings.TrimPrefix(stmt.Objtype.String(), "OBJECT_")))
	}

	if len(stmt.Privileges) == 0 {
		out.Privileges = []auth.Priv{auth.PrivAll}
	}
	for _, p := range stmt.Privileges {
		ap := p.GetAccessPriv()
		if ap == nil {
			continue
		}
		priv, err := auth.ParsePriv(strings.ToUpper(ap.PrivName))
		if err != nil {
			return nil, err
		}
		out.Privileges = append(out.Privileges, priv)
	}

	for _, g := range stmt.Grantees {
		rs := g.GetRoleSpec()
		if rs == nil {
			continue
		}
		switch rs.Roletype {
		case pg_query.RoleSpecType_ROLESPEC_PUBLIC:
			out.Grantees = append(out.Grantees, auth.Public)
		case pg_query.RoleSpecType_ROLESPEC_CSTRING:
			out.Grantees = append(out.Grantees, rs.Rolename)
		default:
			return nil, dberr.Syntax("CURRENT_USER and SESSION_USER grantees are not supported")
		}
	}
	return out, nil
}
