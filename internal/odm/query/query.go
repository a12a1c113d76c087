// Package query builds docstore filters from comparison helpers.
//
//	query.Where{
//	    "age":  query.Gte(18),
//	    "name": "ann",               // bare values mean equality
//	    "tags": query.In("a", "b"),
//	}.Build()
package query

import (
	"sort"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/odm/update"
)

// Block is one or more comparison operators on a single path.
type Block map[string]any

// And merges the operators of other into b, e.g. Gt(1).And(Lt(5)).
func (b Block) And(other Block) Block {
	out := make(Block, len(b)+len(other))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func block(op string, v any) Block { return Block{op: update.Plain(v)} }

// Eq matches values equal to v (or arrays containing v).
func Eq(v any) Block { return block("$eq", v) }

// Ne matches values not equal to v.
func Ne(v any) Block { return block("$ne", v) }

// Lt matches values less than v.
func Lt(v any) Block { return block("$lt", v) }

// Lte matches values less than or equal to v.
func Lte(v any) Block { return block("$lte", v) }

// Gt matches values greater than v.
func Gt(v any) Block { return block("$gt", v) }

// Gte matches values greater than or equal to v.
func Gte(v any) Block { return block("$gte", v) }

// In matches values equal to one of vs.
func In(vs ...any) Block { return block("$in", vs) }

// Nin matches values equal to none of vs.
func Nin(vs ...any) Block { return block("$nin", vs) }

// Where maps dotted paths to a Block or a bare value.
type Where map[string]any

// Build returns the store filter. Bare values are wrapped in $eq.
func (w Where) Build() docstore.Filter {
	f := make(docstore.Filter, len(w))
	for path, cond := range w {
		switch c := cond.(type) {
		case Block:
			f[path] = map[string]any(c)
		default:
			f[path] = map[string]any(Eq(c))
		}
	}
	return f
}

// Paths returns the filtered paths in sorted order.
func (w Where) Paths() []string {
	out := make([]string, 0, len(w))
	for p := range w {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ByID selects one document by identifier.
func ByID(id string) Where {
	return Where{docstore.IDKey: id}
}
