// Package checkpoint implements the durable, per-(profile, dataset) cursor
// engine: flattening of legacy nested cursors, shallow merge, and
// CAS-versioned persistence via a key-value store.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nucleus-metadata/ingest-core/internal/coreerr"
)

// carriedFields are copied onto a normalized checkpoint wherever they are
// found along the cursor descent, per the reserved-key contract.
var carriedFields = []string{"lastRunAt", "lastRunId", "recordCount", "dataMode"}

// NormalizeForRead flattens an arbitrarily deep nested `cursor` (legacy data
// has been seen with 35+ levels) into a checkpoint with at most one level of
// cursor. If a top-level, non-empty `watermark` already exists, the
// checkpoint is returned unchanged (normalization is a no-op, and therefore
// idempotent). Otherwise the cursor chain is walked: a map descends via its
// own "cursor" key, carrying forward any of lastRunAt/lastRunId/recordCount/
// dataMode it holds; a scalar (or a map with no nested cursor) terminates
// the walk. If no watermark is found anywhere on the descent, the original
// checkpoint is returned unchanged.
func NormalizeForRead(cp map[string]any) map[string]any {
	if cp == nil {
		return nil
	}
	if wm, ok := cp["watermark"].(string); ok && wm != "" {
		return cp
	}

	collected := map[string]any{}
	watermark := ""

	cur := cp["cursor"]
descend:
	for {
		switch v := cur.(type) {
		case map[string]any:
			for _, key := range carriedFields {
				if val, ok := v[key]; ok {
					if _, already := collected[key]; !already {
						collected[key] = val
					}
				}
			}
			if wm, ok := v["watermark"].(string); ok && wm != "" {
				watermark = wm
			}
			if inner, hasInner := v["cursor"]; hasInner {
				cur = inner
				continue
			}
			break descend
		case string:
			if v != "" {
				watermark = v
			}
			break descend
		default:
			break descend
		}
	}

	if watermark == "" {
		return cp
	}

	out := map[string]any{"watermark": watermark, "cursor": watermark}
	for k, v := range collected {
		out[k] = v
	}
	return out
}

// flattenCursorShallow collapses a single "cursor" value that may itself
// recursively wrap "cursor" fields down to its innermost non-cursor value,
// without reconstructing the full normalized shape NormalizeForRead builds.
// Used by Merge, which only needs to guarantee "never retain a
// cursor-of-cursor", not a full re-derivation of the checkpoint.
func flattenCursorShallow(cursor any) any {
	if cursor == nil {
		return nil
	}
	m, ok := cursor.(map[string]any)
	if !ok {
		return cursor
	}
	if inner, hasInner := m["cursor"]; hasInner {
		return flattenCursorShallow(inner)
	}
	if wm, ok := m["watermark"]; ok {
		return wm
	}
	return m
}

// Merge shallow-merges updates onto base (updates win on key collision),
// then flattens the resulting cursor. If the innermost cursor map carries a
// watermark, that watermark is lifted to the top level (and the flattened
// cursor collapses to the same value).
func Merge(base, updates map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(updates))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range updates {
		out[k] = v
	}

	cur := out["cursor"]
	out["cursor"] = flattenCursorShallow(cur)
	for m, ok := cur.(map[string]any); ok; m, ok = cur.(map[string]any) {
		if inner, hasInner := m["cursor"]; hasInner {
			cur = inner
			continue
		}
		if wm, ok := m["watermark"]; ok {
			out["watermark"] = wm
		}
		break
	}
	return out
}

// Key shapes for the four checkpoint families this module persists.
func IndexerKey(profileID, datasetSlug string) string {
	return fmt.Sprintf("indexer:%s:%s", profileID, datasetSlug)
}

func ClusterKey(datasetSlug string) string {
	return fmt.Sprintf("cluster:%s", datasetSlug)
}

func InsightKey(skillID, entityRef string) string {
	return fmt.Sprintf("insight:%s:%s", skillID, entityRef)
}

func EmbeddingHashKey(profileID, nodeID string) string {
	return fmt.Sprintf("embed:%s:%s", profileID, nodeID)
}

// KV is the minimal CAS-capable key-value contract the engine depends on.
// Implemented by pkg/kvstore against Postgres.
type KV interface {
	Get(ctx context.Context, tenantID, projectID, key string) (value []byte, version int64, found bool, err error)
	Put(ctx context.Context, tenantID, projectID, key string, value []byte, expectedVersion int64) error
}

const maxCASRetries = 5

// Store wraps a KV client with checkpoint-shaped Load/Save operations,
// including bounded CAS retry on save conflicts.
type Store struct {
	kv KV
}

// NewStore builds a checkpoint store over the given KV client.
func NewStore(kv KV) *Store { return &Store{kv: kv} }

// Load fetches and JSON-decodes the checkpoint at (tenantID, projectID, key).
// Returns (nil, nil) if no checkpoint exists yet.
func (s *Store) Load(ctx context.Context, tenantID, projectID, key string) (map[string]any, error) {
	value, _, found, err := s.kv.Get(ctx, tenantID, projectID, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	cp, err := decodeCheckpoint(value)
	if err != nil {
		return nil, coreerr.New(coreerr.CodeUnknown, false, err)
	}
	return cp, nil
}

// Save merges updates onto the checkpoint stored at key and writes it back
// with CAS semantics, retrying on version conflicts by re-reading and
// re-merging up to maxCASRetries times.
func (s *Store) Save(ctx context.Context, tenantID, projectID, key string, updates map[string]any) (map[string]any, error) {
	var lastErr error
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		value, version, found, err := s.kv.Get(ctx, tenantID, projectID, key)
		if err != nil {
			return nil, err
		}
		var base map[string]any
		if found {
			base, err = decodeCheckpoint(value)
			if err != nil {
				return nil, err
			}
		}
		merged := Merge(base, updates)
		encoded, err := encodeCheckpoint(merged)
		if err != nil {
			return nil, err
		}
		expected := int64(0)
		if found {
			expected = version
		}
		if err := s.kv.Put(ctx, tenantID, projectID, key, encoded, expected); err != nil {
			lastErr = err
			continue
		}
		return merged, nil
	}
	return nil, coreerr.New(coreerr.CodeUnknown, true, fmt.Errorf("checkpoint save exhausted CAS retries: %w", lastErr))
}

// SanitizeKey replaces "::" with "/" and spaces with "_", matching the
// archival snapshot path contract.
func SanitizeKey(key string) string {
	key = strings.ReplaceAll(key, "::", "/")
	key = strings.ReplaceAll(key, " ", "_")
	return key
}

func decodeCheckpoint(data []byte) (map[string]any, error) {
	var cp map[string]any
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func encodeCheckpoint(cp map[string]any) ([]byte, error) {
	return json.Marshal(cp)
}
