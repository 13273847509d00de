package logstore

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *MinioStore {
	t.Helper()
	backend := newLocalStore(filepath.Join(t.TempDir(), "logstore"))
	return NewMinioStore(backend, "test-bucket", "logs")
}

func TestMinioStore_CreateTable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateTable(ctx, "runs"); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	paths, err := s.ListPaths(ctx, "logs/runs")
	if err != nil {
		t.Fatalf("ListPaths: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected one init marker, got %v", paths)
	}
}

func TestMinioStore_AppendThenListPaths(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := []Record{
		{RunID: "run-1", Op: "write", Seq: 1},
		{RunID: "run-1", Op: "write", Seq: 2},
	}
	ref, err := s.Append(ctx, "events", "run-1", records)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ref == "" {
		t.Fatal("expected a non-empty storage reference")
	}

	paths, err := s.ListPaths(ctx, "logs/events")
	if err != nil {
		t.Fatalf("ListPaths: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected one appended file, got %v", paths)
	}
}

func TestMinioStore_AppendEmptyRecordsIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ref, err := s.Append(context.Background(), "events", "run-1", nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ref != "" {
		t.Errorf("expected an empty ref for zero records, got %q", ref)
	}
}

func TestMinioStore_WriteSnapshotThenReadSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ref, err := s.WriteSnapshot(ctx, "checkpoints", "run-1-v1", []byte(`{"watermark":"x"}`))
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if ref == "" {
		t.Fatal("expected a non-empty storage reference")
	}

	data, err := s.ReadSnapshot(ctx, "checkpoints", "run-1-v1")
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if string(data) != `{"watermark":"x"}` {
		t.Errorf("ReadSnapshot = %q, want the written bytes", data)
	}
}

func TestMinioStore_PruneRemovesOldJSONLButKeepsSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	oldNs := time.Now().Add(-60 * 24 * time.Hour).UnixNano()
	newNs := time.Now().UnixNano()

	if _, err := s.Append(ctx, "events", "run-old", []Record{{Seq: oldNs}}); err != nil {
		t.Fatalf("Append old: %v", err)
	}
	if _, err := s.Append(ctx, "events", "run-new", []Record{{Seq: newNs}}); err != nil {
		t.Fatalf("Append new: %v", err)
	}
	if _, err := s.WriteSnapshot(ctx, "events", "run-old", []byte("{}")); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	if err := s.Prune(ctx, "events", 30); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	paths, err := s.ListPaths(ctx, "logs/events")
	if err != nil {
		t.Fatalf("ListPaths: %v", err)
	}
	var sawNewJSONL, sawOldJSONL, sawSnapshot bool
	for _, p := range paths {
		switch {
		case filepath.Base(p) == "run-old.snapshot.json":
			sawSnapshot = true
		case p == "logs/events/run-old-"+strconv.FormatInt(oldNs, 10)+".jsonl":
			sawOldJSONL = true
		case p == "logs/events/run-new-"+strconv.FormatInt(newNs, 10)+".jsonl":
			sawNewJSONL = true
		}
	}
	if sawOldJSONL {
		t.Error("expected the old jsonl file to be pruned")
	}
	if !sawNewJSONL {
		t.Error("expected the recent jsonl file to survive pruning")
	}
	if !sawSnapshot {
		t.Error("expected snapshot files to be left alone by Prune")
	}
}

func TestMinioStore_PruneNoopWhenRetentionNonPositive(t *testing.T) {
	s := newTestStore(t)
	if err := s.Prune(context.Background(), "events", 0); err != nil {
		t.Fatalf("Prune: %v", err)
	}
}

func TestStableSeq_PicksHighestSeq(t *testing.T) {
	records := []Record{{Seq: 3}, {Seq: 7}, {Seq: 1}}
	if got := stableSeq(records); got != 7 {
		t.Errorf("stableSeq() = %d, want 7", got)
	}
}
