// Package bundle loads aggregate definition bundles: YAML documents that
// declare schemas, aggregates and grants without writing SQL.
//
// Example:
//
//	schemas: [analytics]
//	aggregates:
//	  - name: analytics.my_rank
//	    args: ["VARIADIC any"]
//	    direct_args: 1
//	    attributes:
//	      finalfunc: hypothetical_rank_final
//	      hypothetical:
//	grants:
//	  - privileges: [USAGE]
//	    on: type
//	    objects: [numeric]
//	    to: [alice]
package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JayabrataBasu/veridicalagg/pkg/aggregate"
	"github.com/JayabrataBasu/veridicalagg/pkg/auth"
	"github.com/JayabrataBasu/veridicalagg/pkg/ddl"
)

// Bundle is one definition file.
type Bundle struct {
	Schemas    []string    `yaml:"schemas"`
	Aggregates []Aggregate `yaml:"aggregates"`
	Grants     []Grant     `yaml:"grants"`

	path string
}

// Aggregate declares one aggregate.
type Aggregate struct {
	Name string `yaml:"name"`
	// Legacy selects the basetype form; Args must then be empty.
	Legacy bool    `yaml:"legacy"`
	Args   []Param `yaml:"args"`
	// DirectArgs marks an ordered-set aggregate.
	DirectArgs *int       `yaml:"direct_args"`
	Attributes Attributes `yaml:"attributes"`
}

// Param is one declared argument. In YAML it is either a mapping or a
// scalar of the form "[VARIADIC] [name] type".
type Param aggregate.Param

// UnmarshalYAML accepts the scalar and mapping forms.
func (p *Param) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		fields := strings.Fields(value.Value)
		if len(fields) > 0 && strings.EqualFold(fields[0], "variadic") {
			p.Variadic = true
			fields = fields[1:]
		}
		switch len(fields) {
		case 1:
			p.Type = fields[0]
		case 2:
			p.Name, p.Type = fields[0], fields[1]
		default:
			return fmt.Errorf("line %d: malformed argument %q", value.Line, value.Value)
		}
		return nil
	}
	var raw struct {
		Name     string `yaml:"name"`
		Type     string `yaml:"type"`
		Variadic bool   `yaml:"variadic"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*p = Param{Name: raw.Name, Type: raw.Type, Variadic: raw.Variadic}
	return nil
}

// Attributes keeps the definition body in document order.
type Attributes []aggregate.Attribute

// UnmarshalYAML reads a mapping of attribute names to scalar values. A
// missing value stands for a bare flag such as hypothetical.
func (a *Attributes) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: attributes must be a mapping", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		attr := aggregate.Attribute{Name: key.Value}
		switch {
		case val.Kind != yaml.ScalarNode:
			return fmt.Errorf("line %d: attribute %s must be a scalar", val.Line, key.Value)
		case val.Tag != "!!null":
			attr.Value = val.Value
		}
		*a = append(*a, attr)
	}
	return nil
}

// Grant declares one GRANT or REVOKE.
type Grant struct {
	Privileges []string `yaml:"privileges"`
	// On is type, schema or function.
	On string `yaml:"on"`
	// Objects name the targets; functions may carry an argument list,
	// as in float8_avg(float8[]).
	Objects []string `yaml:"objects"`
	To      []string `yaml:"to"`
	Revoke  bool     `yaml:"revoke"`
}

// Load reads and validates a bundle file.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	b.path = path
	return b, nil
}

// Parse decodes and validates a bundle. JSON input is accepted as YAML.
func Parse(data []byte) (*Bundle, error) {
	b := &Bundle{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(b); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty bundle")
		}
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bundle: %w", err)
	}
	return b, nil
}

// Validate checks the structural rules that do not need a catalog.
func (b *Bundle) Validate() error {
	for i, name := range b.Schemas {
		if name == "" {
			return fmt.Errorf("schemas[%d]: empty name", i)
		}
	}
	for i, agg := range b.Aggregates {
		if agg.Name == "" {
			return fmt.Errorf("aggregates[%d]: missing name", i)
		}
		if agg.Legacy && (len(agg.Args) > 0 || agg.DirectArgs != nil) {
			return fmt.Errorf("aggregates[%d] %s: legacy aggregates take basetype instead of args", i, agg.Name)
		}
		if agg.DirectArgs != nil && *agg.DirectArgs < 0 {
			return fmt.Errorf("aggregates[%d] %s: direct_args must not be negative", i, agg.Name)
		}
		for j, p := range agg.Args {
			if p.Type == "" {
				return fmt.Errorf("aggregates[%d] %s: args[%d] has no type", i, agg.Name, j)
			}
		}
	}
	for i, g := range b.Grants {
		if _, err := objectClass(g.On); err != nil {
			return fmt.Errorf("grants[%d]: %w", i, err)
		}
		if len(g.Objects) == 0 || len(g.To) == 0 {
			return fmt.Errorf("grants[%d]: objects and to are required", i)
		}
	}
	return nil
}

func objectClass(on string) (auth.ObjectClass, error) {
	switch strings.ToLower(on) {
	case "type":
		return auth.ClassType, nil
	case "schema":
		return auth.ClassNamespace, nil
	case "function", "aggregate":
		return auth.ClassFunction, nil
	}
	return "", fmt.Errorf("unknown object kind %q (must be type, schema or function)", on)
}

// Statements converts the bundle into DDL statements in the order schemas,
// aggregates, grants.
func (b *Bundle) Statements() ([]ddl.Statement, error) {
	origin := b.path
	if origin == "" {
		origin = "bundle"
	}
	var out []ddl.Statement
	for _, name := range b.Schemas {
		out = append(out, &ddl.CreateSchema{
			Source:      ddl.Source(fmt.Sprintf("%s: schema %s", origin, name)),
			Name:        name,
			IfNotExists: true,
		})
	}
	for _, agg := range b.Aggregates {
		out = append(out, &ddl.CreateAggregate{
			Source: ddl.Source(fmt.Sprintf("%s: aggregate %s", origin, agg.Name)),
			Name:   agg.Name,
			Args:   agg.argumentSpec(),
			Attrs:  []aggregate.Attribute(agg.Attributes),
		})
	}
	for i, g := range b.Grants {
		stmt, err := g.statement(fmt.Sprintf("%s: grants[%d]", origin, i))
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
	}
	return out, nil
}

func (a Aggregate) argumentSpec() aggregate.ArgumentSpec {
	if a.Legacy {
		return aggregate.ArgumentSpec{OldStyle: true}
	}
	params := make([]aggregate.Param, len(a.Args))
	for i, p := range a.Args {
		params[i] = aggregate.Param(p)
	}
	if a.DirectArgs != nil {
		return aggregate.OrderedArgs(*a.DirectArgs, params...)
	}
	return aggregate.PlainArgs(params...)
}

func (g Grant) statement(origin string) (*ddl.Privilege, error) {
	class, err := objectClass(g.On)
	if err != nil {
		return nil, err
	}
	stmt := &ddl.Privilege{
		Source: ddl.Source(origin),
		Grant:  !g.Revoke,
		Class:  class,
	}
	if len(g.Privileges) == 0 {
		stmt.Privileges = []auth.Priv{auth.PrivAll}
	}
	for _, p := range g.Privileges {
		priv, err := auth.ParsePriv(strings.ToUpper(p))
		if err != nil {
			return nil, err
		}
		stmt.Privileges = append(stmt.Privileges, priv)
	}
	for _, obj := range g.Objects {
		target, err := parseTarget(obj, class)
		if err != nil {
			return nil, err
		}
		stmt.Targets = append(stmt.Targets, target)
	}
	for _, role := range g.To {
		if strings.EqualFold(role, auth.Public) {
			role = auth.Public
		}
		stmt.Grantees = append(stmt.Grantees, role)
	}
	return stmt, nil
}

// parseTarget splits "name(t1, t2)" for functions.
func parseTarget(obj string, class auth.ObjectClass) (ddl.Target, error) {
	open := strings.IndexByte(obj, '(')
	if open < 0 {
		return ddl.Target{Name: strings.TrimSpace(obj)}, nil
	}
	if class != auth.ClassFunction || !strings.HasSuffix(obj, ")") {
		return ddl.Target{}, fmt.Errorf("malformed object name %q", obj)
	}
	target := ddl.Target{Name: strings.TrimSpace(obj[:open]), HasArgs: true}
	inner := strings.TrimSpace(obj[open+1 : len(obj)-1])
	if inner == "" {
		return target, nil
	}
	for _, arg := range strings.Split(inner, ",") {
		target.ArgTypes = append(target.ArgTypes, strings.TrimSpace(arg))
	}
	return target, nil
}
