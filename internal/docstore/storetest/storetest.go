// Package storetest holds behaviour tests shared by every docstore backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mschirtzinger/docsync/internal/docstore"
)

// Run exercises a backend. newClient must return an empty store.
func Run(t *testing.T, newClient func(t *testing.T) docstore.Client) {
	t.Helper()

	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, newClient(t)) })
	t.Run("DuplicateID", func(t *testing.T) { testDuplicateID(t, newClient(t)) })
	t.Run("BulkWriteStopsAtFirstMiss", func(t *testing.T) { testBulkWriteStops(t, newClient(t)) })
	t.Run("GuardedIncrement", func(t *testing.T) { testGuardedIncrement(t, newClient(t)) })
	t.Run("Projection", func(t *testing.T) { testProjection(t, newClient(t)) })
	t.Run("DeleteAndCount", func(t *testing.T) { testDeleteAndCount(t, newClient(t)) })
	t.Run("UniqueIndex", func(t *testing.T) { testUniqueIndex(t, newClient(t)) })
	t.Run("ConcurrentIncrements", func(t *testing.T) { testConcurrentIncrements(t, newClient(t)) })
	t.Run("CollectionsAreIsolated", func(t *testing.T) { testIsolation(t, newClient(t)) })
}

func testInsertAndFind(t *testing.T, client docstore.Client) {
	ctx := context.Background()
	coll := client.Collection("Person")

	id, err := coll.InsertOne(ctx, docstore.Document{"name": "ann", "age": 31})
	if err != nil {
		t.Fatalf("InsertOne() error: %v", err)
	}
	if id == "" {
		t.Fatal("InsertOne() returned empty id")
	}

	got, err := coll.FindOne(ctx, docstore.Filter{"_id": id})
	if err != nil {
		t.Fatalf("FindOne() error: %v", err)
	}
	want := docstore.Document{"_id": id, "name": "ann", "age": int64(31)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FindOne() mismatch (-want +got):\n%s", diff)
	}

	if _, err := coll.FindOne(ctx, docstore.Filter{"name": "nobody"}); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("FindOne(missing) error = %v, want ErrNotFound", err)
	}

	if _, err := coll.InsertOne(ctx, docstore.Document{"name": "bob", "age": 40}); err != nil {
		t.Fatalf("InsertOne() error: %v", err)
	}
	docs, err := coll.Find(ctx, docstore.Filter{"age": map[string]any{"$gt": 30}})
	if err != nil {
		t.Fatalf("Find() error: %v", err)
	}
	if len(docs) != 2 || docs[0]["name"] != "ann" || docs[1]["name"] != "bob" {
		t.Errorf("Find() = %v, want ann then bob", docs)
	}
}

func testDuplicateID(t *testing.T, client docstore.Client) {
	ctx := context.Background()
	coll := client.Collection("Person")

	if _, err := coll.InsertOne(ctx, docstore.Document{"_id": "p1"}); err != nil {
		t.Fatalf("InsertOne() error: %v", err)
	}
	if _, err := coll.InsertOne(ctx, docstore.Document{"_id": "p1"}); !errors.Is(err, docstore.ErrDuplicateKey) {
		t.Errorf("second InsertOne() error = %v, want ErrDuplicateKey", err)
	}
}

func testBulkWriteStops(t *testing.T, client docstore.Client) {
	ctx := context.Background()
	coll := client.Collection("Counter")

	id, err := coll.InsertOne(ctx, docstore.Document{"a": 1, "b": 1, "c": 1})
	if err != nil {
		t.Fatalf("InsertOne() error: %v", err)
	}

	n, err := coll.BulkWrite(ctx, []docstore.WriteModel{
		{Filter: docstore.Filter{"_id": id, "a": int64(1)}, Update: docstore.Update{"$inc": {"a": int64(1)}}},
		{Filter: docstore.Filter{"_id": id, "b": int64(99)}, Update: docstore.Update{"$inc": {"b": int64(1)}}},
		{Filter: docstore.Filter{"_id": id}, Update: docstore.Update{"$inc": {"c": int64(1)}}},
	})
	if err != nil {
		t.Fatalf("BulkWrite() error: %v", err)
	}
	if n != 1 {
		t.Errorf("BulkWrite() applied %d, want 1", n)
	}

	got, err := coll.FindOne(ctx, docstore.Filter{"_id": id})
	if err != nil {
		t.Fatalf("FindOne() error: %v", err)
	}
	if got["a"] != int64(2) || got["b"] != int64(1) || got["c"] != int64(1) {
		t.Errorf("document = %v, want a=2 b=1 c=1", got)
	}
}

func testGuardedIncrement(t *testing.T, client docstore.Client) {
	ctx := context.Background()
	coll := client.Collection("Counter")

	id, err := coll.InsertOne(ctx, docstore.Document{"num": 10})
	if err != nil {
		t.Fatalf("InsertOne() error: %v", err)
	}

	model := docstore.WriteModel{
		Filter: docstore.Filter{"_id": id, "num": int64(10)},
		Update: docstore.Update{"$inc": {"num": int64(5)}},
	}
	if n, err := coll.BulkWrite(ctx, []docstore.WriteModel{model}); err != nil || n != 1 {
		t.Fatalf("first BulkWrite() = %d, %v", n, err)
	}
	if n, err := coll.BulkWrite(ctx, []docstore.WriteModel{model}); err != nil || n != 0 {
		t.Fatalf("stale BulkWrite() = %d, %v, want 0", n, err)
	}

	got, _ := coll.FindOne(ctx, docstore.Filter{"_id": id})
	if got["num"] != int64(15) {
		t.Errorf("num = %v, want 15", got["num"])
	}
}

func testProjection(t *testing.T, client docstore.Client) {
	ctx := context.Background()
	coll := client.Collection("Person")

	id, err := coll.InsertOne(ctx, docstore.Document{
		"name":    "ann",
		"address": map[string]any{"city": "Oslo", "zip": "0150"},
	})
	if err != nil {
		t.Fatalf("InsertOne() error: %v", err)
	}

	got, err := coll.FindOne(ctx, docstore.Filter{"_id": id}, "address.city")
	if err != nil {
		t.Fatalf("FindOne() error: %v", err)
	}
	want := docstore.Document{"_id": id, "address": map[string]any{"city": "Oslo"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("projection mismatch (-want +got):\n%s", diff)
	}
}

func testDeleteAndCount(t *testing.T, client docstore.Client) {
	ctx := context.Background()
	coll := client.Collection("Person")

	for _, name := range []string{"ann", "bob", "cid"} {
		if _, err := coll.InsertOne(ctx, docstore.Document{"name": name}); err != nil {
			t.Fatalf("InsertOne() error: %v", err)
		}
	}

	ok, err := coll.DeleteOne(ctx, docstore.Filter{"name": "bob"})
	if err != nil || !ok {
		t.Fatalf("DeleteOne() = %v, %v", ok, err)
	}
	ok, err = coll.DeleteOne(ctx, docstore.Filter{"name": "bob"})
	if err != nil || ok {
		t.Fatalf("second DeleteOne() = %v, %v, want false", ok, err)
	}

	n, err := coll.Count(ctx, docstore.Filter{})
	if err != nil || n != 2 {
		t.Errorf("Count() = %d, %v, want 2", n, err)
	}
	n, err = coll.Count(ctx, docstore.Filter{"name": "ann"})
	if err != nil || n != 1 {
		t.Errorf("Count(ann) = %d, %v, want 1", n, err)
	}
}

func testUniqueIndex(t *testing.T, client docstore.Client) {
	ctx := context.Background()
	coll := client.Collection("Account")

	if err := coll.CreateIndex(ctx, "email", true); err != nil {
		t.Fatalf("CreateIndex() error: %v", err)
	}
	if _, err := coll.InsertOne(ctx, docstore.Document{"email": "a@example.com"}); err != nil {
		t.Fatalf("InsertOne() error: %v", err)
	}
	if _, err := coll.InsertOne(ctx, docstore.Document{"email": "a@example.com"}); !errors.Is(err, docstore.ErrDuplicateKey) {
		t.Errorf("duplicate InsertOne() error = %v, want ErrDuplicateKey", err)
	}

	id, err := coll.InsertOne(ctx, docstore.Document{"email": "b@example.com"})
	if err != nil {
		t.Fatalf("InsertOne() error: %v", err)
	}
	_, err = coll.BulkWrite(ctx, []docstore.WriteModel{{
		Filter: docstore.Filter{"_id": id},
		Update: docstore.Update{"$set": {"email": "a@example.com"}},
	}})
	if !errors.Is(err, docstore.ErrDuplicateKey) {
		t.Errorf("BulkWrite() error = %v, want ErrDuplicateKey", err)
	}
}

func testConcurrentIncrements(t *testing.T, client docstore.Client) {
	ctx := context.Background()
	coll := client.Collection("Counter")

	id, err := coll.InsertOne(ctx, docstore.Document{"num": 0})
	if err != nil {
		t.Fatalf("InsertOne() error: %v", err)
	}

	const workers, perWorker = 4, 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := coll.BulkWrite(ctx, []docstore.WriteModel{{
					Filter: docstore.Filter{"_id": id},
					Update: docstore.Update{"$inc": {"num": int64(1)}},
				}})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("BulkWrite() error: %v", err)
	}

	got, _ := coll.FindOne(ctx, docstore.Filter{"_id": id})
	if got["num"] != int64(workers*perWorker) {
		t.Errorf("num = %v, want %d", got["num"], workers*perWorker)
	}
}

func testIsolation(t *testing.T, client docstore.Client) {
	ctx := context.Background()

	if _, err := client.Collection("A").InsertOne(ctx, docstore.Document{"_id": "same"}); err != nil {
		t.Fatalf("InsertOne(A) error: %v", err)
	}
	if _, err := client.Collection("B").InsertOne(ctx, docstore.Document{"_id": "same"}); err != nil {
		t.Fatalf("InsertOne(B) error: %v", err)
	}
	n, err := client.Collection("A").Count(ctx, docstore.Filter{})
	if err != nil || n != 1 {
		t.Errorf("Count(A) = %d, %v, want 1", n, err)
	}
}
