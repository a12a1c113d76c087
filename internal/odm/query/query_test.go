package query

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mschirtzinger/docsync/internal/docstore"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name  string
		where Where
		want  docstore.Filter
	}{
		{
			name:  "bare value",
			where: Where{"name": "ann"},
			want:  docstore.Filter{"name": map[string]any{"$eq": "ann"}},
		},
		{
			name:  "comparison",
			where: Where{"age": Gte(18)},
			want:  docstore.Filter{"age": map[string]any{"$gte": int64(18)}},
		},
		{
			name:  "range",
			where: Where{"age": Gt(1).And(Lt(5))},
			want:  docstore.Filter{"age": map[string]any{"$gt": int64(1), "$lt": int64(5)}},
		},
		{
			name:  "membership",
			where: Where{"tag": In("a", "b"), "kind": Nin("x")},
			want: docstore.Filter{
				"tag":  map[string]any{"$in": []any{"a", "b"}},
				"kind": map[string]any{"$nin": []any{"x"}},
			},
		},
		{
			name:  "time",
			where: Where{"at": Lt(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))},
			want:  docstore.Filter{"at": map[string]any{"$lt": "2024-05-01T00:00:00.000Z"}},
		},
		{
			name:  "by id",
			where: ByID("abc"),
			want:  docstore.Filter{"_id": map[string]any{"$eq": "abc"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.where.Build()); diff != "" {
				t.Errorf("Build() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildMatchesStore(t *testing.T) {
	body := []byte(`{"_id":"p1","age":30,"tags":["a","b"]}`)
	tests := []struct {
		where Where
		want  bool
	}{
		{Where{"age": 30}, true},
		{Where{"age": Ne(30)}, false},
		{Where{"age": Gt(18).And(Lte(30))}, true},
		{Where{"tags": "b"}, true},
		{Where{"tags": In("c", "a")}, true},
		{Where{"_id": "p2"}, false},
	}
	for _, tt := range tests {
		got, err := docstore.Match(body, tt.where.Build())
		if err != nil {
			t.Fatalf("Match(%v) error: %v", tt.where, err)
		}
		if got != tt.want {
			t.Errorf("Match(%v) = %v, want %v", tt.where, got, tt.want)
		}
	}
}
