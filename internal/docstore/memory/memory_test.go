package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/docstore/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Client {
		return New()
	})
}

func TestClosedStore(t *testing.T) {
	client := New()
	coll := client.Collection("Person")
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := coll.InsertOne(context.Background(), docstore.Document{}); !errors.Is(err, docstore.ErrClosed) {
		t.Errorf("InsertOne() after Close error = %v, want ErrClosed", err)
	}
}
