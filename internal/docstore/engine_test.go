package docstore

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sample = `{"_id":"a1","num":10,"ratio":0.5,"name":"ann","tags":["x","y"],"address":{"city":"Oslo","zip":"0150"},"nothing":null}`

func TestMatch(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"id", Filter{"_id": "a1"}, true},
		{"int equality", Filter{"num": int64(10)}, true},
		{"float equality", Filter{"num": 10.0}, true},
		{"mismatch", Filter{"num": int64(11)}, false},
		{"nested", Filter{"address.city": "Oslo"}, true},
		{"array contains", Filter{"tags": "y"}, true},
		{"array equal", Filter{"tags": []any{"x", "y"}}, true},
		{"nil matches missing", Filter{"missing": nil}, true},
		{"nil matches null", Filter{"nothing": nil}, true},
		{"nil does not match value", Filter{"num": nil}, false},
		{"gt", Filter{"num": map[string]any{"$gt": 5}}, true},
		{"gte boundary", Filter{"num": map[string]any{"$gte": 10}}, true},
		{"lt", Filter{"num": map[string]any{"$lt": 10}}, false},
		{"range", Filter{"num": map[string]any{"$gt": 5, "$lte": 10}}, true},
		{"ne", Filter{"name": map[string]any{"$ne": "bob"}}, true},
		{"in", Filter{"name": map[string]any{"$in": []any{"bob", "ann"}}}, true},
		{"nin", Filter{"name": map[string]any{"$nin": []any{"ann"}}}, false},
		{"string order", Filter{"name": map[string]any{"$lt": "bob"}}, true},
		{"missing gt", Filter{"missing": map[string]any{"$gt": 1}}, false},
		{"embedded map equality", Filter{"address": map[string]any{"city": "Oslo", "zip": "0150"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match([]byte(sample), tt.filter)
			if err != nil {
				t.Fatalf("Match() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Match(%v) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestMatchUnknownOperator(t *testing.T) {
	_, err := Match([]byte(sample), Filter{"num": map[string]any{"$regex": "x"}})
	if !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("error = %v, want ErrInvalidFilter", err)
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		update  Update
		path    string
		want    any
		wantErr bool
	}{
		{name: "set", update: Update{"$set": {"name": "bob"}}, path: "name", want: "bob"},
		{name: "set nested", update: Update{"$set": {"address.city": "Bergen"}}, path: "address.city", want: "Bergen"},
		{name: "set creates", update: Update{"$set": {"extra.deep": int64(1)}}, path: "extra.deep", want: int64(1)},
		{name: "unset", update: Update{"$unset": {"name": ""}}, path: "name", want: nil},
		{name: "inc", update: Update{"$inc": {"num": int64(5)}}, path: "num", want: int64(15)},
		{name: "inc negative", update: Update{"$inc": {"num": int64(-3)}}, path: "num", want: int64(7)},
		{name: "inc missing", update: Update{"$inc": {"fresh": int64(2)}}, path: "fresh", want: int64(2)},
		{name: "inc float", update: Update{"$inc": {"ratio": 0.25}}, path: "ratio", want: 0.75},
		{name: "mul", update: Update{"$mul": {"num": int64(3)}}, path: "num", want: int64(30)},
		{name: "max", update: Update{"$max": {"num": int64(12)}}, path: "num", want: int64(12)},
		{name: "min", update: Update{"$min": {"num": int64(12)}}, path: "num", want: int64(10)},
		{name: "push", update: Update{"$push": {"tags": "z"}}, path: "tags", want: []any{"x", "y", "z"}},
		{name: "push each", update: Update{"$push": {"tags": map[string]any{"$each": []any{"z", "w"}}}}, path: "tags", want: []any{"x", "y", "z", "w"}},
		{name: "push missing", update: Update{"$push": {"list": int64(1)}}, path: "list", want: []any{int64(1)}},
		{name: "pull", update: Update{"$pull": {"tags": "x"}}, path: "tags", want: []any{"y"}},
		{name: "pull all", update: Update{"$pullAll": {"tags": []any{"x", "y"}}}, path: "tags", want: []any{}},
		{name: "inc string", update: Update{"$inc": {"name": int64(1)}}, wantErr: true},
		{name: "push non array", update: Update{"$push": {"num": int64(1)}}, wantErr: true},
		{name: "modify id", update: Update{"$set": {"_id": "b"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := Apply([]byte(sample), tt.update)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidUpdate) {
					t.Fatalf("Apply() error = %v, want ErrInvalidUpdate", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply() error: %v", err)
			}
			got, _ := ValueAt(body, tt.path)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("value at %s mismatch (-want +got):\n%s", tt.path, diff)
			}
		})
	}
}

func TestLookupAndProject(t *testing.T) {
	doc, err := Decode([]byte(sample))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}

	if v, ok := Lookup(doc, "tags.1"); !ok || v != "y" {
		t.Errorf("Lookup(tags.1) = %v, %v", v, ok)
	}
	if _, ok := Lookup(doc, "address.country"); ok {
		t.Error("Lookup(address.country) should be missing")
	}

	proj := Project(doc, []string{"num", "address.city"})
	want := Document{"_id": "a1", "num": int64(10), "address": map[string]any{"city": "Oslo"}}
	if diff := cmp.Diff(want, proj); diff != "" {
		t.Errorf("Project() mismatch (-want +got):\n%s", diff)
	}
}
