package scripting

import (
	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/docstore"
)

// Condition node types.
const (
	ConditionQueryHasResults = "queryHasResults"
	ConditionAnd             = "and"
	ConditionOr              = "or"
)

// Executable node types.
const (
	ExecFind           = "find"
	ExecInsert         = "insert"
	ExecUpdate         = "update"
	ExecDelete         = "delete"
	ExecCount          = "count"
	ExecAggregated     = "aggregated"
	ExecFileUpload     = "fileUpload"
	ExecFileDownload   = "fileDownload"
	ExecFileProperties = "fileProperties"
	ExecFileHash       = "fileHash"
)

const maxDepth = 8

// Script is a registered script. Condition is nil when the script runs
// unconditionally.
type Script struct {
	Name               string
	AllowAnonymousUser bool
	AllowAnonymousApp  bool
	Condition          Condition
	Executable         Executable
}

// Condition is one of *QueryHasResults, *And, *Or.
type Condition interface {
	conditionName() string
}

type QueryHasResults struct {
	Name       string
	Collection string
	Filter     docstore.Document
}

type And struct {
	Name  string
	Items []Condition
}

type Or struct {
	Name  string
	Items []Condition
}

func (c *QueryHasResults) conditionName() string { return c.Name }
func (c *And) conditionName() string { return c.Name }
func (c *Or) conditionName() string { return c.Name }

// Executable is one of *DatabaseOp, *FileOp, *Aggregated.
type Executable interface {
	execName() string
	execOutput() bool
}

// DatabaseOp is a find, insert, update, delete or count against a
// collection of the owner.
type DatabaseOp struct {
	Name       string
	Type       string
	Output     bool
	Collection string
	Filter     docstore.Document
	Document   docstore.Document
	Update     docstore.Document
	Options    map[string]any
}

// FileOp acts on one file of the owner.
type FileOp struct {
	Name   string
	Type   string
	Output bool
	Path   string
}

type Aggregated struct {
	Name   string
	Output bool
	Items  []Executable
}

func (e *DatabaseOp) execName() string { return e.Name }
func (e *DatabaseOp) execOutput() bool { return e.Output }
func (e *FileOp) execName() string { return e.Name }
func (e *FileOp) execOutput() bool { return e.Output }
func (e *Aggregated) execName() string { return e.Name }
func (e *Aggregated) execOutput() bool { return e.Output }

func invalid(format string, args ...any) error {
	return common.InvalidParameter(format, args...)
}

// node is the common envelope {name, type, output?, body}.
type node struct {
	name   string
	typ    string
	output bool
	body   any
}

func parseNode(v any, what string) (*node, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, invalid("%s must be a document", what)
	}
	n := &node{body: m["body"], output: true}
	n.name, _ = m["name"].(string)
	if n.name == "" {
		return nil, invalid("%s name is required", what)
	}
	n.typ, _ = m["type"].(string)
	if n.typ == "" {
		return nil, invalid("%s %q has no type", what, n.name)
	}
	if o, ok := m["output"]; ok && o != nil {
		b, ok := o.(bool)
		if !ok {
			return nil, invalid("%s %q: output must be a boolean", what, n.name)
		}
		n.output = b
	}
	return n, nil
}

// ParseScript builds a script from its stored or submitted document.
// Unknown node types are rejected.
func ParseScript(name string, d docstore.Document) (*Script, error) {
	if name == "" {
		return nil, invalid("script name is required")
	}
	s := &Script{Name: name}
	var err error
	if s.AllowAnonymousUser, err = boolField(d, "allowAnonymousUser"); err != nil {
		return nil, err
	}
	if s.AllowAnonymousApp, err = boolField(d, "allowAnonymousApp"); err != nil {
		return nil, err
	}
	if c, ok := d["condition"]; ok && c != nil {
		if s.Condition, err = parseCondition(c, 0); err != nil {
			return nil, err
		}
	}
	e, ok := d["executable"]
	if !ok || e == nil {
		return nil, invalid("script %q has no executable", name)
	}
	if s.Executable, err = parseExecutable(e, 0); err != nil {
		return nil, err
	}
	return s, nil
}

func boolField(d docstore.Document, key string) (bool, error) {
	v, ok := d[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, invalid("%s must be a boolean", key)
	}
	return b, nil
}

func bodyDoc(n *node) (map[string]any, error) {
	m, ok := n.body.(map[string]any)
	if !ok {
		return nil, invalid("%s %q: body must be a document", n.typ, n.name)
	}
	return m, nil
}

func stringField(n *node, body map[string]any, key string) (string, error) {
	s, ok := body[key].(string)
	if !ok || s == "" {
		return "", invalid("%s %q: %s is required", n.typ, n.name, key)
	}
	return s, nil
}

func docField(n *node, body map[string]any, key string, required bool) (docstore.Document, error) {
	v, ok := body[key]
	if !ok || v == nil {
		if required {
			return nil, invalid("%s %q: %s is required", n.typ, n.name, key)
		}
		return nil, nil
	}
	d, ok := v.(map[string]any)
	if !ok {
		return nil, invalid("%s %q: %s must be a document", n.typ, n.name, key)
	}
	return d, nil
}

func children(n *node) ([]any, error) {
	list, ok := n.body.([]any)
	if !ok || len(list) == 0 {
		return nil, invalid("%s %q: body must be a non-empty list", n.typ, n.name)
	}
	return list, nil
}

func parseCondition(v any, depth int) (Condition, error) {
	if depth > maxDepth {
		return nil, invalid("condition nesting is deeper than %d", maxDepth)
	}
	n, err := parseNode(v, "condition")
	if err != nil {
		return nil, err
	}
	switch n.typ {
	case ConditionQueryHasResults:
		body, err := bodyDoc(n)
		if err != nil {
			return nil, err
		}
		c := &QueryHasResults{Name: n.name}
		if c.Collection, err = stringField(n, body, "collection"); err != nil {
			return nil, err
		}
		if c.Filter, err = docField(n, body, "filter", false); err != nil {
			return nil, err
		}
		return c, nil
	case ConditionAnd, ConditionOr:
		list, err := children(n)
		if err != nil {
			return nil, err
		}
		items := make([]Condition, len(list))
		for i, e := range list {
			if items[i], err = parseCondition(e, depth+1); err != nil {
				return nil, err
			}
		}
		if n.typ == ConditionAnd {
			return &And{Name: n.name, Items: items}, nil
		}
		return &Or{Name: n.name, Items: items}, nil
	}
	return nil, invalid("unknown condition type %q", n.typ)
}

func parseExecutable(v any, depth int) (Executable, error) {
	if depth > maxDepth {
		return nil, invalid("executable nesting is deeper than %d", maxDepth)
	}
	n, err := parseNode(v, "executable")
	if err != nil {
		return nil, err
	}
	switch n.typ {
	case ExecAggregated:
		list, err := children(n)
		if err != nil {
			return nil, err
		}
		agg := &Aggregated{Name: n.name, Output: n.output, Items: make([]Executable, len(list))}
		seen := map[string]bool{}
		for i, e := range list {
			if agg.Items[i], err = parseExecutable(e, depth+1); err != nil {
				return nil, err
			}
			name := agg.Items[i].execName()
			if seen[name] {
				return nil, invalid("aggregated %q: duplicate executable name %q", n.name, name)
			}
			seen[name] = true
		}
		return agg, nil
	case ExecFileUpload, ExecFileDownload, ExecFileProperties, ExecFileHash:
		body, err := bodyDoc(n)
		if err != nil {
			return nil, err
		}
		op := &FileOp{Name: n.name, Type: n.typ, Output: n.output}
		if op.Path, err = stringField(n, body, "path"); err != nil {
			return nil, err
		}
		return op, nil
	case ExecFind, ExecInsert, ExecUpdate, ExecDelete, ExecCount:
		return parseDatabaseOp(n)
	}
	return nil, invalid("unknown executable type %q", n.typ)
}

func parseDatabaseOp(n *node) (*DatabaseOp, error) {
	body, err := bodyDoc(n)
	if err != nil {
		return nil, err
	}
	op := &DatabaseOp{Name: n.name, Type: n.typ, Output: n.output}
	if op.Collection, err = stringField(n, body, "collection"); err != nil {
		return nil, err
	}
	if op.Options, err = docField(n, body, "options", false); err != nil {
		return nil, err
	}
	switch n.typ {
	case ExecInsert:
		op.Document, err = docField(n, body, "document", true)
	case ExecUpdate:
		if op.Filter, err = docField(n, body, "filter", false); err != nil {
			return nil, err
		}
		op.Update, err = docField(n, body, "update", true)
	default:
		op.Filter, err = docField(n, body, "filter", false)
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}
