package docstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mschirtzinger/docsync/internal/odm/update"
)

// gjson and sjson treat these characters as path syntax.
var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
	`!`, `\!`,
	`:`, `\:`,
)

func escapePath(path string) string {
	return pathEscaper.Replace(path)
}

// get resolves a dotted path in a raw document.
func get(body []byte, path string) gjson.Result {
	return gjson.GetBytes(body, escapePath(path))
}

// value converts a gjson result into the decoded form used by Document.
func value(r gjson.Result) any {
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.String:
		return r.Str
	case gjson.Number:
		if strings.ContainsAny(r.Raw, ".eE") {
			return r.Num
		}
		return r.Int()
	}
	if !r.Exists() {
		return nil
	}
	doc, err := Decode([]byte(`{"v":` + r.Raw + `}`))
	if err != nil {
		return r.Value()
	}
	return doc["v"]
}

// Match reports whether the raw document body satisfies filter.
func Match(body []byte, filter Filter) (bool, error) {
	for path, cond := range filter {
		r := get(body, path)
		ops, isOps := operatorMap(cond)
		if !isOps {
			if !matchEq(r, cond) {
				return false, nil
			}
			continue
		}
		for op, operand := range ops {
			ok, err := matchOp(r, op, operand)
			if err != nil {
				return false, fmt.Errorf("%s on %s: %w", op, path, err)
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

func operatorMap(cond any) (map[string]any, bool) {
	m, ok := cond.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

// matchEq implements equality: nil matches a missing or null value and a
// scalar matches an array containing it.
func matchEq(r gjson.Result, want any) bool {
	if want == nil {
		return !r.Exists() || r.Type == gjson.Null
	}
	if !r.Exists() {
		return false
	}
	got := value(r)
	if update.Equal(got, want) {
		return true
	}
	if arr, ok := got.([]any); ok {
		for _, elem := range arr {
			if update.Equal(elem, want) {
				return true
			}
		}
	}
	return false
}

func matchOp(r gjson.Result, op string, operand any) (bool, error) {
	switch op {
	case "$eq":
		return matchEq(r, operand), nil
	case "$ne":
		return !matchEq(r, operand), nil
	case "$in", "$nin":
		values, ok := update.Plain(operand).([]any)
		if !ok {
			return false, fmt.Errorf("operand must be an array: %w", ErrInvalidFilter)
		}
		found := false
		for _, v := range values {
			if matchEq(r, v) {
				found = true
				break
			}
		}
		return found == (op == "$in"), nil
	case "$lt", "$lte", "$gt", "$gte":
		if !r.Exists() {
			return false, nil
		}
		c, err := update.Compare(value(r), update.Plain(operand))
		if err != nil {
			return false, nil
		}
		switch op {
		case "$lt":
			return c < 0, nil
		case "$lte":
			return c <= 0, nil
		case "$gt":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}
	return false, fmt.Errorf("unknown operator %q: %w", op, ErrInvalidFilter)
}

// Apply applies an update to a raw document body and returns the new body.
// Tags and paths are applied in sorted order so results are deterministic.
func Apply(body []byte, upd Update) ([]byte, error) {
	tags := make([]string, 0, len(upd))
	for tag := range upd {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var err error
	for _, tag := range tags {
		paths := make([]string, 0, len(upd[tag]))
		for p := range upd[tag] {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			if p == IDKey {
				return nil, fmt.Errorf("cannot modify %s: %w", IDKey, ErrInvalidUpdate)
			}
			body, err = applyOne(body, tag, p, upd[tag][p])
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", tag, p, err)
			}
		}
	}
	return body, nil
}

func applyOne(body []byte, tag, path string, operand any) ([]byte, error) {
	escaped := escapePath(path)
	cur := get(body, path)

	switch tag {
	case update.TagSet:
		return setValue(body, escaped, operand)

	case update.TagUnset:
		out, err := sjson.DeleteBytes(body, escaped)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrInvalidUpdate)
		}
		return out, nil

	case update.TagInc, update.TagMul, update.TagMax, update.TagMin:
		if !cur.Exists() || cur.Type == gjson.Null {
			if tag == update.TagMul {
				return setValue(body, escaped, int64(0))
			}
			return setValue(body, escaped, operand)
		}
		var op update.Operator
		switch tag {
		case update.TagInc:
			op = update.Inc(operand)
		case update.TagMul:
			op = update.Mul(operand)
		case update.TagMax:
			op = update.Max(operand)
		default:
			op = update.Min(operand)
		}
		next, err := op.Apply(value(cur))
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrInvalidUpdate)
		}
		return setValue(body, escaped, next)

	case update.TagPush:
		values := []any{operand}
		if m, ok := operand.(map[string]any); ok {
			if each, ok := m[update.EachKey].([]any); ok {
				values = each
			}
		}
		if !cur.Exists() || cur.Type == gjson.Null {
			return setValue(body, escaped, values)
		}
		if !cur.IsArray() {
			return nil, fmt.Errorf("push onto non-array: %w", ErrInvalidUpdate)
		}
		var err error
		for _, v := range values {
			if body, err = setValue(body, escaped+".-1", v); err != nil {
				return nil, err
			}
		}
		return body, nil

	case update.TagPull, update.TagPullAll:
		if !cur.Exists() || cur.Type == gjson.Null {
			return body, nil
		}
		if !cur.IsArray() {
			return nil, fmt.Errorf("pull from non-array: %w", ErrInvalidUpdate)
		}
		op := update.Pull(operand)
		if tag == update.TagPullAll {
			values, ok := operand.([]any)
			if !ok {
				return nil, fmt.Errorf("$pullAll operand must be an array: %w", ErrInvalidUpdate)
			}
			op = update.PullAll(values...)
		}
		next, err := op.Apply(value(cur))
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrInvalidUpdate)
		}
		return setValue(body, escaped, next)
	}

	return nil, fmt.Errorf("unknown operator %q: %w", tag, ErrInvalidUpdate)
}

func setValue(body []byte, escaped string, v any) ([]byte, error) {
	raw, err := json.Marshal(update.Plain(v))
	if err != nil {
		return nil, fmt.Errorf("failed to encode operand: %w", err)
	}
	out, err := sjson.SetRawBytes(body, escaped, raw)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidUpdate)
	}
	return out, nil
}

// ValueAt returns the decoded value at path in a raw body.
func ValueAt(body []byte, path string) (any, bool) {
	r := get(body, path)
	if !r.Exists() {
		return nil, false
	}
	return value(r), true
}
