package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nucleus-metadata/ingest-core/pkg/logstore"
)

const historyTable = "checkpoints"

// RetentionPolicy controls how long archived checkpoint snapshots are kept.
type RetentionPolicy struct {
	MaxDays int
}

// DefaultRetentionPolicy keeps 30 days of checkpoint history.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{MaxDays: 30}
}

// History archives checkpoint snapshots to a log store before each update,
// so a bad write can be diagnosed or rolled back from its prior versions.
type History struct {
	store logstore.Store
}

// NewHistory wraps a log store for checkpoint archival. A nil store is
// valid: every method degrades to a no-op, since checkpoint archival is a
// diagnostic aid, not load-bearing for correctness.
func NewHistory(store logstore.Store) *History {
	return &History{store: store}
}

// ArchiveCheckpoint snapshots cp under key at the given version and returns
// its storage reference, or "" if history is not configured.
func (h *History) ArchiveCheckpoint(ctx context.Context, key string, cp map[string]any, version int64) (string, error) {
	if h == nil || h.store == nil {
		return "", nil
	}

	_ = h.store.CreateTable(ctx, historyTable)

	snapshot, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}

	runID := fmt.Sprintf("%s-v%d", SanitizeKey(key), version)
	ref, err := h.store.WriteSnapshot(ctx, historyTable, runID, snapshot)
	if err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return ref, nil
}

// HistoryEntry is one archived checkpoint snapshot reference.
type HistoryEntry struct {
	Path    string
	Version int
}

// ListHistory lists archived snapshots for key, newest version first.
func (h *History) ListHistory(ctx context.Context, key string, limit int) ([]HistoryEntry, error) {
	if h == nil || h.store == nil {
		return nil, nil
	}

	prefix := fmt.Sprintf("%s/%s", historyTable, SanitizeKey(key))
	paths, err := h.store.ListPaths(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list paths: %w", err)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}

	entries := make([]HistoryEntry, len(paths))
	for i, p := range paths {
		entries[i] = HistoryEntry{Path: p, Version: extractVersion(p)}
	}
	return entries, nil
}

func extractVersion(path string) int {
	base := strings.TrimSuffix(path, ".snapshot.json")
	parts := strings.Split(base, "-v")
	if len(parts) < 2 {
		return 0
	}
	var v int
	fmt.Sscanf(parts[len(parts)-1], "%d", &v)
	return v
}

// PruneHistory removes snapshots older than the retention policy allows.
func (h *History) PruneHistory(ctx context.Context, policy RetentionPolicy) error {
	if h == nil || h.store == nil {
		return nil
	}
	return h.store.Prune(ctx, historyTable, policy.MaxDays)
}

// ArchiveAndPrune archives the current checkpoint, then prunes history in
// the background — pruning is best-effort housekeeping and must never make
// a foreground checkpoint save wait on an object-store list+delete sweep.
func (h *History) ArchiveAndPrune(ctx context.Context, key string, cp map[string]any, version int64, policy RetentionPolicy) (string, error) {
	ref, err := h.ArchiveCheckpoint(ctx, key, cp, version)
	if err != nil {
		return "", err
	}
	go func() {
		_ = h.PruneHistory(context.Background(), policy)
	}()
	return ref, nil
}
