package main

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"gownqueue/internal/export"
	"gownqueue/pkg/domain"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("GOWNQUEUE_ENV_FILE", filepath.Join(dir, "absent.env"))
	t.Setenv("GOWNQUEUE_CONFIG", "")
	t.Setenv("GOWNQUEUE_STORAGE_DRIVER", "sqlite")
	t.Setenv("GOWNQUEUE_SQLITE_PATH", filepath.Join(dir, "queue.db"))
	t.Setenv("GOWNQUEUE_REMOTE_DRIVER", "memory")
	t.Setenv("GOWNQUEUE_BLOB_DRIVER", "fs")
	t.Setenv("GOWNQUEUE_BLOB_FS_ROOT", filepath.Join(dir, "blobs"))
	t.Setenv("GOWNQUEUE_LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

func listOps(t *testing.T, args ...string) []domain.Operation {
	t.Helper()
	var ops []domain.Operation
	out := mustRun(t, append([]string{"list"}, args...)...)
	if err := json.Unmarshal([]byte(out), &ops); err != nil {
		t.Fatalf("decode list output %q: %v", out, err)
	}
	return ops
}

func TestEnqueuePersistsAcrossCommands(t *testing.T) {
	setupEnv(t)
	id := strings.TrimSpace(mustRun(t, "enqueue", "E1", "CHECK_OUT_GOWN", "--description", "desk 3"))
	if id == "" {
		t.Fatalf("expected an operation id")
	}
	mustRun(t, "enqueue", "E2", "CHANGE_GOWN", "--gown-id", "G-42", "--size", "M")

	ops := listOps(t)
	if len(ops) != 2 || ops[0].ID != id || ops[0].Description != "desk 3" {
		t.Fatalf("unexpected queue %+v", ops)
	}
	if ops[1].Change == nil || ops[1].Change.GownID != "G-42" {
		t.Fatalf("gown change not recorded: %+v", ops[1])
	}
	if got := listOps(t, "--entity", "E2"); len(got) != 1 {
		t.Fatalf("entity filter: %+v", got)
	}
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	setupEnv(t)
	if _, err := run(t, "enqueue", "E1", "CHANGE_GOWN"); err == nil {
		t.Fatalf("CHANGE_GOWN without a gown should fail")
	}
	if _, err := run(t, "enqueue", "E1", "LOSE_GOWN"); err == nil {
		t.Fatalf("unknown type should fail")
	}
	if _, err := run(t, "enqueue", "E1"); err == nil {
		t.Fatalf("missing type should fail")
	}
	if ops := listOps(t); len(ops) != 0 {
		t.Fatalf("nothing should be queued, got %+v", ops)
	}
}

func TestReplayRetryDiscard(t *testing.T) {
	setupEnv(t)
	id := strings.TrimSpace(mustRun(t, "enqueue", "E1", "CHECK_IN_GOWN"))

	// the memory remote starts empty, so the booking is unknown and replay fails
	out := mustRun(t, "replay", "--wait", "2s")
	var report struct {
		Completed bool `json:"completed"`
		Errored   int  `json:"errored"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode replay output %q: %v", out, err)
	}
	if !report.Completed || report.Errored != 1 {
		t.Fatalf("unexpected replay report %+v", report)
	}
	errored := listOps(t, "--state", "errored")
	if len(errored) != 1 || errored[0].ID != id || errored[0].Error == "" {
		t.Fatalf("want errored operation, got %+v", errored)
	}

	var op domain.Operation
	if err := json.Unmarshal([]byte(mustRun(t, "retry", id)), &op); err != nil || op.State != domain.StatePending {
		t.Fatalf("retry: %+v %v", op, err)
	}
	if _, err := run(t, "discard", id); err == nil {
		t.Fatalf("pending operations cannot be discarded")
	}

	mustRun(t, "replay", "--wait", "2s")
	mustRun(t, "discard", id)
	if ops := listOps(t); len(ops) != 0 {
		t.Fatalf("queue should be empty, got %+v", ops)
	}
}

func TestExportWritesToBlobStore(t *testing.T) {
	dir := setupEnv(t)
	mustRun(t, "enqueue", "E1", "CHECK_OUT_GOWN")

	var res export.Result
	if err := json.Unmarshal([]byte(mustRun(t, "export")), &res); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if res.Operations != 1 || !strings.HasSuffix(res.CSV.Key, ".csv") {
		t.Fatalf("unexpected export %+v", res)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "blobs", "exports", "*.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("want one json export on disk, got %v %v", matches, err)
	}

	var listed []json.RawMessage
	if err := json.Unmarshal([]byte(mustRun(t, "export", "--list")), &listed); err != nil || len(listed) != 2 {
		t.Fatalf("export --list: %d %v", len(listed), err)
	}

	name := strings.TrimPrefix(res.CSV.Key, "exports/")
	if out := mustRun(t, "export", "--get", name); !strings.Contains(out, "E1") {
		t.Fatalf("export --get: %q", out)
	}
	mustRun(t, "export", "--delete", name)
	if _, err := run(t, "export", "--get", name); err == nil {
		t.Fatalf("deleted export should not be readable")
	}
}

func TestStatusUnknownBooking(t *testing.T) {
	setupEnv(t)
	if _, err := run(t, "status", "nobody"); err == nil {
		t.Fatalf("expected not found")
	}
}

func TestBadConfigFails(t *testing.T) {
	setupEnv(t)
	t.Setenv("GOWNQUEUE_STORAGE_DRIVER", "bolt")
	if _, err := run(t, "list"); err == nil {
		t.Fatalf("expected config error")
	}
}
