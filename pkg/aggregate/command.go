// Package aggregate turns CREATE AGGREGATE commands into validated catalog
// entries. Processor normalizes the attribute list of a command into a
// DefinitionRequest; Definer checks the request against the catalog and
// stages the aggregate in a catalog transaction.
package aggregate

import (
	"strings"

	"github.com/spf13/cast"

	"github.com/JayabrataBasu/veridicalagg/internal/logger"
	"github.com/JayabrataBasu/veridicalagg/pkg/catalog"
	"github.com/JayabrataBasu/veridicalagg/pkg/dberr"
	"github.com/JayabrataBasu/veridicalagg/pkg/types"
)

// NotOrderedSet is the NumDirectArgs value of a plain aggregate.
const NotOrderedSet = -1

// Param is one declared argument of a modern-form definition.
type Param struct {
	Name     string
	Type     string
	Variadic bool
}

// ArgumentSpec is the argument part of a CREATE AGGREGATE command.
type ArgumentSpec struct {
	// OldStyle selects the legacy form, where the input type comes from the
	// basetype attribute and Params is ignored.
	OldStyle bool
	// Params lists direct arguments followed by ordered arguments.
	Params []Param
	// NumDirectArgs is the count of leading direct arguments, or
	// NotOrderedSet.
	NumDirectArgs int
}

// PlainArgs builds a modern-form spec for a non-ordered-set aggregate.
func PlainArgs(params ...Param) ArgumentSpec {
	return ArgumentSpec{Params: params, NumDirectArgs: NotOrderedSet}
}

// OrderedArgs builds a modern-form spec for an ordered-set aggregate.
func OrderedArgs(numDirect int, params ...Param) ArgumentSpec {
	return ArgumentSpec{Params: params, NumDirectArgs: numDirect}
}

// Attribute is one name = value pair of the definition body. Flag
// attributes such as strict may omit the value.
type Attribute struct {
	Name  string
	Value string
}

// Attr is shorthand for building an Attribute.
func Attr(name, value string) Attribute { return Attribute{Name: name, Value: value} }

// DefinitionRequest is a normalized aggregate definition ready for Register.
type DefinitionRequest struct {
	Namespace string
	Name      string

	ArgTypes []types.TypeID
	// ArgModes is nil unless some argument is VARIADIC.
	ArgModes []catalog.ArgMode
	ArgNames []string
	// NumDirectArgs is the declared direct count, or NotOrderedSet.
	NumDirectArgs int

	TransitionFunc   string
	FinalFunc        string
	SortOp           string
	TransitionSortOp string
	// TransitionType is InvalidType when no stype was given.
	TransitionType types.TypeID
	InitialValue   *string

	Hypothetical bool
	Strict       bool

	// Warnings holds non-fatal notices raised while parsing.
	Warnings []string
}

// IsOrderedSet reports whether the request defines an ordered-set aggregate.
func (r *DefinitionRequest) IsOrderedSet() bool { return r.NumDirectArgs != NotOrderedSet }

// QualifiedName returns namespace.name.
func (r *DefinitionRequest) QualifiedName() string { return r.Namespace + "." + r.Name }

// Processor parses CREATE AGGREGATE commands.
type Processor struct {
	log *logger.Logger
}

// NewProcessor returns a Processor. A nil logger discards output.
func NewProcessor(log *logger.Logger) *Processor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Processor{log: log}
}

// rawAttributes holds the recognized attributes before type resolution.
type rawAttributes struct {
	transFunc    string
	finalFunc    string
	sortOp       string
	transSortOp  string
	baseType     string
	transType    string
	initVal      *string
	hypothetical bool
	strict       bool
	hasBaseType  bool
	hasTransType bool
}

// ParseDefinition resolves the target name, reads the attribute list and
// checks attribute combinations. CREATE on the target namespace is checked
// here. Unknown attributes are logged and reported as warnings.
func (p *Processor) ParseDefinition(tx *catalog.Tx, name string, args ArgumentSpec, attrs []Attribute) (*DefinitionRequest, error) {
	namespace, aggName, err := tx.CreationNamespace(name)
	if err != nil {
		return nil, err
	}

	req := &DefinitionRequest{
		Namespace:     namespace,
		Name:          aggName,
		NumDirectArgs: NotOrderedSet,
	}
	if !args.OldStyle {
		req.NumDirectArgs = args.NumDirectArgs
		if req.NumDirectArgs < NotOrderedSet {
			return nil, dberr.Definition("invalid direct argument count %d", args.NumDirectArgs)
		}
	}

	raw, err := p.readAttributes(req, attrs)
	if err != nil {
		return nil, err
	}
	req.TransitionFunc = raw.transFunc
	req.FinalFunc = raw.finalFunc
	req.SortOp = raw.sortOp
	req.TransitionSortOp = raw.transSortOp
	req.InitialValue = raw.initVal
	req.Hypothetical = raw.hypothetical
	req.Strict = raw.strict

	if !req.IsOrderedSet() {
		if !raw.hasTransType {
			return nil, dberr.Definition("aggregate stype must be specified")
		}
		if raw.transFunc == "" {
			return nil, dberr.Definition("aggregate sfunc must be specified")
		}
		if raw.strict {
			return nil, dberr.Definition("aggregate with sfunc may not be explicitly declared STRICT")
		}
	} else {
		if raw.transFunc != "" {
			return nil, dberr.Definition("sfunc must not be specified for ordered set functions")
		}
		if raw.finalFunc == "" {
			return nil, dberr.Definition("finalfunc must be specified for ordered set functions")
		}
	}

	reg := tx.Types()
	if args.OldStyle {
		if !raw.hasBaseType {
			return nil, dberr.Definition("aggregate input type must be specified")
		}
		if !strings.EqualFold(raw.baseType, "any") {
			t, err := reg.Lookup(raw.baseType)
			if err != nil {
				return nil, err
			}
			req.ArgTypes = []types.TypeID{t.ID}
		}
	} else {
		if raw.hasBaseType {
			return nil, dberr.Definition("basetype is redundant with aggregate input type specification")
		}
		if err := p.readParams(req, reg, args.Params); err != nil {
			return nil, err
		}
	}

	if raw.hasTransType {
		t, err := reg.Lookup(raw.transType)
		if err != nil {
			return nil, err
		}
		req.TransitionType = t.ID
		if reg.IsPseudo(t.ID) && !types.IsPolymorphic(t.ID) {
			if !types.IsInternal(t.ID) || !tx.IsSuperuser() || req.IsOrderedSet() {
				return nil, dberr.Definition("aggregate transition data type cannot be %s", reg.Format(t.ID))
			}
		}
		// stored as text and parsed again at use; parsing here only
		// reports bad literals early
		if raw.initVal != nil && !reg.IsPseudo(t.ID) {
			if _, err := reg.Parse(t.ID, *raw.initVal); err != nil {
				return nil, err
			}
		}
	} else if raw.initVal != nil {
		return nil, dberr.Definition("INITVAL must not be specified without STYPE")
	}

	p.log.Debug("parsed aggregate definition",
		"aggregate", req.QualifiedName(),
		"args", reg.FormatList(req.ArgTypes),
		"direct_args", req.NumDirectArgs,
		"warnings", len(req.Warnings))
	return req, nil
}

// readAttributes sorts the attribute list into rawAttributes. Later
// occurrences of an attribute override earlier ones.
func (p *Processor) readAttributes(req *DefinitionRequest, attrs []Attribute) (*rawAttributes, error) {
	raw := &rawAttributes{}
	for _, a := range attrs {
		switch strings.ToLower(a.Name) {
		case "sfunc", "sfunc1":
			raw.transFunc = a.Value
		case "finalfunc":
			raw.finalFunc = a.Value
		case "sortop":
			raw.sortOp = a.Value
		case "transsortop":
			raw.transSortOp = a.Value
		case "basetype":
			raw.baseType, raw.hasBaseType = a.Value, true
		case "stype", "stype1":
			raw.transType, raw.hasTransType = a.Value, true
		case "initcond", "initcond1":
			v := a.Value
			raw.initVal = &v
		case "hypothetical":
			b, err := flagValue(a)
			if err != nil {
				return nil, err
			}
			raw.hypothetical = b
		case "strict":
			b, err := flagValue(a)
			if err != nil {
				return nil, err
			}
			raw.strict = b
		default:
			msg := "aggregate attribute \"" + a.Name + "\" not recognized"
			req.Warnings = append(req.Warnings, msg)
			p.log.Warn(msg, "aggregate", req.QualifiedName())
		}
	}
	return raw, nil
}

// readParams fills the argument vectors of a modern-form request.
func (p *Processor) readParams(req *DefinitionRequest, reg *types.Registry, params []Param) error {
	if req.NumDirectArgs > len(params) {
		return dberr.Definition("direct argument count %d exceeds argument count %d",
			req.NumDirectArgs, len(params))
	}
	anyVariadic := false
	anyNamed := false
	for _, prm := range params {
		anyVariadic = anyVariadic || prm.Variadic
		anyNamed = anyNamed || prm.Name != ""
	}

	req.ArgTypes = make([]types.TypeID, 0, len(params))
	for _, prm := range params {
		t, err := reg.Lookup(prm.Type)
		if err != nil {
			return err
		}
		req.ArgTypes = append(req.ArgTypes, t.ID)
		if anyVariadic {
			mode := catalog.ArgModeIn
			if prm.Variadic {
				mode = catalog.ArgModeVariadic
			}
			req.ArgModes = append(req.ArgModes, mode)
		}
		if anyNamed {
			req.ArgNames = append(req.ArgNames, prm.Name)
		}
	}
	return nil
}

// flagValue reads a boolean attribute. A bare attribute means true.
func flagValue(a Attribute) (bool, error) {
	if a.Value == "" {
		return true, nil
	}
	switch strings.ToLower(a.Value) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	b, err := cast.ToBoolE(a.Value)
	if err != nil {
		return false, dberr.Definition("%s requires a Boolean value", a.Name)
	}
	return b, nil
}
