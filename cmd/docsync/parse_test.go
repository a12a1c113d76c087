package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mschirtzinger/docsync/internal/odm"
	"github.com/mschirtzinger/docsync/internal/odm/query"
)

func TestParseAssignment(t *testing.T) {
	tests := []struct {
		arg     string
		want    assignment
		wantErr bool
	}{
		{arg: "title=hello", want: assignment{Path: "title", Op: "set", Raw: "hello"}},
		{arg: "views=inc:2", want: assignment{Path: "views", Op: "inc", Raw: "2"}},
		{arg: "views=INC:2", want: assignment{Path: "views", Op: "inc", Raw: "2"}},
		{arg: "title=note:x", want: assignment{Path: "title", Op: "set", Raw: "note:x"}},
		{arg: "title=set:inc:x", want: assignment{Path: "title", Op: "set", Raw: "inc:x"}},
		{arg: "meta.owner=unset:", want: assignment{Path: "meta.owner", Op: "unset", Raw: ""}},
		{arg: "tags.0=delete:", want: assignment{Path: "tags.0", Op: "delete", Raw: ""}},
		{arg: "title", wantErr: true},
		{arg: "=x", wantErr: true},
		{arg: "views=inc:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := parseAssignment(tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAssignment(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseAssignment(%q) = %+v, want %+v", tt.arg, got, tt.want)
			}
		})
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"42", int64(42)},
		{"2.5", 2.5},
		{"true", true},
		{"null", nil},
		{`"quoted"`, "quoted"},
		{"plain words", "plain words"},
		{"", ""},
		{`["a",1]`, []any{"a", int64(1)}},
		{`{"k":2}`, map[string]any{"k": int64(2)}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, parseValue(tt.raw)); diff != "" {
			t.Errorf("parseValue(%q) mismatch (-want +got):\n%s", tt.raw, diff)
		}
	}
}

func TestParseWhere(t *testing.T) {
	got, err := parseWhere([]string{
		"views=gte:10",
		"views=lt:20",
		"tags=in:go, rust",
		"author.name=ann",
		"slug=nin:[\"a\",\"b\"]",
	})
	if err != nil {
		t.Fatalf("parseWhere() error: %v", err)
	}
	want := query.Where{
		"views":       query.Gte(int64(10)).And(query.Lt(int64(20))),
		"tags":        query.In("go", "rust"),
		"author.name": query.Eq("ann"),
		"slug":        query.Nin("a", "b"),
	}
	if diff := cmp.Diff(want.Build(), got.Build()); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}

	if _, err := parseWhere([]string{"views"}); err == nil {
		t.Error("parseWhere() without = succeeded")
	}
}

var noteSchema = odm.MustSchema("Note",
	odm.String("title"),
	odm.Int("views", odm.Default(0)),
	odm.ListOf("tags", odm.String("")),
	odm.MapOf("meta", odm.String("")),
)

func TestAssignmentApply(t *testing.T) {
	doc, err := noteSchema.New(map[string]any{"tags": []any{"x", "y"}})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	for _, arg := range []string{
		"title=42",
		"views=inc:3",
		`tags=push:["a","b"]`,
		"meta.owner=ann",
	} {
		a, err := parseAssignment(arg)
		if err != nil {
			t.Fatalf("parseAssignment(%q) error: %v", arg, err)
		}
		if err := a.apply(doc); err != nil {
			t.Fatalf("apply(%q) error: %v", arg, err)
		}
	}

	want := map[string]any{
		"title": "42",
		"views": int64(3),
		"tags":  []any{"x", "y", "a", "b"},
		"meta":  map[string]any{"owner": "ann"},
	}
	if diff := cmp.Diff(want, doc.PlainMap()); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}

	a, _ := parseAssignment("views=inc:many")
	if err := a.apply(doc); err == nil {
		t.Error("inc by a string succeeded")
	}
}

func TestPredicate(t *testing.T) {
	var docs []*odm.Document
	for _, v := range []map[string]any{
		{"title": "a", "views": 1, "tags": []any{"go"}},
		{"title": "b", "views": 12, "tags": []any{"go", "rust", "zig"}},
		{"title": "c", "views": 30, "tags": []any{"rust"}},
	} {
		d, err := noteSchema.New(v)
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		docs = append(docs, d)
	}

	tests := []struct {
		src  string
		want []string
	}{
		{"views > 10", []string{"b", "c"}},
		{`"go" in tags`, []string{"a", "b"}},
		{"views < 20 && len(tags) > 2", []string{"b"}},
		{"missing == nil", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			p, err := compilePredicate(tt.src)
			if err != nil {
				t.Fatalf("compilePredicate() error: %v", err)
			}
			got, err := filterDocuments(docs, p)
			if err != nil {
				t.Fatalf("filterDocuments() error: %v", err)
			}
			var titles []string
			for _, d := range got {
				v, _ := d.Get("title")
				titles = append(titles, v.(string))
			}
			if diff := cmp.Diff(tt.want, titles); diff != "" {
				t.Errorf("matches mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := compilePredicate("views +"); err == nil {
		t.Error("compilePredicate() of a broken expression succeeded")
	}
	if _, err := compilePredicate(`"text"`); err == nil {
		t.Error("compilePredicate() of a non-boolean expression succeeded")
	}
}
