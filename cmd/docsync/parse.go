package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/odm"
	"github.com/mschirtzinger/docsync/internal/odm/query"
	"github.com/mschirtzinger/docsync/internal/odm/update"
)

// assignment is one "path=value" or "path=op:value" argument.
type assignment struct {
	Path string
	Op   string
	Raw  string
}

var updateOps = map[string]bool{
	"set": true, "unset": true, "inc": true, "dec": true, "mul": true,
	"max": true, "min": true, "push": true, "pull": true, "delete": true,
}

var queryOps = map[string]bool{
	"eq": true, "ne": true, "lt": true, "lte": true,
	"gt": true, "gte": true, "in": true, "nin": true,
}

// splitArg parses "path=value" and "path=op:value". The op prefix is only
// recognised when it names a known operator, so "title=note:x" sets a
// string containing a colon. Prefix the value with "set:" to force that.
func splitArg(arg, defaultOp string, ops map[string]bool) (assignment, error) {
	path, rest, ok := strings.Cut(arg, "=")
	if !ok || path == "" {
		return assignment{}, fmt.Errorf("invalid argument %q (want path=value or path=op:value)", arg)
	}
	a := assignment{Path: path, Op: defaultOp, Raw: rest}
	if op, value, ok := strings.Cut(rest, ":"); ok && ops[strings.ToLower(op)] {
		a.Op = strings.ToLower(op)
		a.Raw = value
	}
	return a, nil
}

func parseAssignment(arg string) (assignment, error) {
	a, err := splitArg(arg, "set", updateOps)
	if err != nil {
		return a, err
	}
	if a.Raw == "" && a.Op != "unset" && a.Op != "delete" {
		return a, fmt.Errorf("%s: %s needs a value", a.Path, a.Op)
	}
	return a, nil
}

// parseValue reads raw as JSON and falls back to the literal string.
// Numbers decode to int64 or float64 like stored documents do.
func parseValue(raw string) any {
	doc, err := docstore.Decode([]byte(`{"v":` + raw + `}`))
	if err != nil {
		return raw
	}
	return doc["v"]
}

// parseList reads a JSON array or a comma separated list.
func parseList(raw string) []any {
	if v, ok := parseValue(raw).([]any); ok {
		return v
	}
	var out []any
	for _, part := range strings.Split(raw, ",") {
		out = append(out, parseValue(strings.TrimSpace(part)))
	}
	return out
}

func (a assignment) operator(v any) update.Operator {
	switch a.Op {
	case "unset":
		return update.Unset()
	case "inc":
		return update.Inc(v)
	case "dec":
		return update.Dec(v)
	case "mul":
		return update.Mul(v)
	case "max":
		return update.Max(v)
	case "min":
		return update.Min(v)
	case "push":
		if vs, ok := v.([]any); ok {
			return update.PushEach(vs...)
		}
		return update.Push(v)
	case "pull":
		if vs, ok := v.([]any); ok {
			return update.PullAll(vs...)
		}
		return update.Pull(v)
	default:
		return update.Set(v)
	}
}

// apply records the assignment on doc. When the JSON reading of the value
// does not fit the field it is retried as the literal string, so
// "slug=42" works on a string field.
func (a assignment) apply(doc *odm.Document) error {
	if a.Op == "delete" {
		return doc.Delete(a.Path)
	}
	v := parseValue(a.Raw)
	err := doc.Set(a.Path, a.operator(v))
	if errors.Is(err, odm.ErrTypeMismatch) {
		if _, isString := v.(string); !isString {
			return doc.Set(a.Path, a.operator(a.Raw))
		}
	}
	return err
}

// parseWhere turns "path=value" and "path=op:value" arguments into a query.
// Conditions on the same path are combined.
func parseWhere(args []string) (query.Where, error) {
	where := query.Where{}
	for _, arg := range args {
		a, err := splitArg(arg, "eq", queryOps)
		if err != nil {
			return nil, err
		}
		var b query.Block
		switch a.Op {
		case "ne":
			b = query.Ne(parseValue(a.Raw))
		case "lt":
			b = query.Lt(parseValue(a.Raw))
		case "lte":
			b = query.Lte(parseValue(a.Raw))
		case "gt":
			b = query.Gt(parseValue(a.Raw))
		case "gte":
			b = query.Gte(parseValue(a.Raw))
		case "in":
			b = query.In(parseList(a.Raw)...)
		case "nin":
			b = query.Nin(parseList(a.Raw)...)
		default:
			b = query.Eq(parseValue(a.Raw))
		}
		if prev, ok := where[a.Path].(query.Block); ok {
			b = prev.And(b)
		}
		where[a.Path] = b
	}
	return where, nil
}

// predicate is a compiled --expr filter evaluated against plain documents.
type predicate struct {
	program *vm.Program
}

func compilePredicate(src string) (*predicate, error) {
	program, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	return &predicate{program: program}, nil
}

func (p *predicate) Match(doc map[string]any) (bool, error) {
	out, err := expr.Run(p.program, doc)
	if err != nil {
		return false, fmt.Errorf("evaluating expression: %w", err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// filterDocuments keeps the documents matching p, in order.
func filterDocuments(docs []*odm.Document, p *predicate) ([]*odm.Document, error) {
	if p == nil {
		return docs, nil
	}
	var out []*odm.Document
	for _, d := range docs {
		ok, err := p.Match(d.PlainMap())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.ID(), err)
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// plainAll converts documents for output.
func plainAll(docs []*odm.Document) []map[string]any {
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.PlainMap())
	}
	return out
}

// readValues decodes a JSON object of field values.
func readValues(data []byte) (map[string]any, error) {
	doc, err := docstore.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("expected a JSON object: %w", err)
	}
	if doc == nil {
		return map[string]any{}, nil
	}
	return doc, nil
}
