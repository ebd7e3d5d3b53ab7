// Package blobtest holds the behavioural contract every blob backend must satisfy.
package blobtest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"gownqueue/internal/blob/core"
)

// Run exercises store against the core.Store contract.
func Run(t *testing.T, store core.Store) {
	t.Helper()
	ctx := context.Background()

	info, err := store.Put(ctx, "exports/a.csv", strings.NewReader("id,entity\n1,E1\n"), core.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"rows": "1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "exports/a.csv" || info.Size != 15 {
		t.Fatalf("unexpected put info %+v", info)
	}
	if _, err := store.Put(ctx, "exports/a.csv", strings.NewReader("again"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("duplicate put: want ErrExists, got %v", err)
	}
	if _, err := store.Put(ctx, "exports/b.json", strings.NewReader("[]"), core.PutOptions{ContentType: "application/json"}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	if _, err := store.Put(ctx, "other/c.txt", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put third: %v", err)
	}

	got, rc, err := store.Get(ctx, "exports/a.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "id,entity\n1,E1\n" {
		t.Fatalf("unexpected body %q", body)
	}
	if got.ContentType != "text/csv" || got.Metadata["rows"] != "1" {
		t.Fatalf("metadata lost: %+v", got)
	}

	head, err := store.Head(ctx, "exports/b.json")
	if err != nil || head.Size != 2 {
		t.Fatalf("head: %+v %v", head, err)
	}
	if _, err := store.Head(ctx, "exports/missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head missing: want ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "exports/missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get missing: want ErrNotFound, got %v", err)
	}

	list, err := store.List(ctx, "exports/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "exports/a.csv" || list[1].Key != "exports/b.json" {
		t.Fatalf("unexpected list %+v", list)
	}

	deleted, err := store.Delete(ctx, "exports/a.csv")
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	deleted, err = store.Delete(ctx, "exports/a.csv")
	if err != nil || deleted {
		t.Fatalf("second delete should report false: %v %v", deleted, err)
	}
	list, _ = store.List(ctx, "")
	if len(list) != 2 {
		t.Fatalf("want 2 blobs after delete, got %+v", list)
	}
}
