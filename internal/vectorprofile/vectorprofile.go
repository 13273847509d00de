// Package vectorprofile resolves a profileId to the normalizer that turns a
// raw or staged record into a vectorstore.Entry plus its content text.
package vectorprofile

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nucleus-metadata/ingest-core/pkg/vectorstore"
)

// Normalizer transforms a record into a vector entry and its content text.
// The bool return doubles as the "required fields present" gate: a
// normalizer that finds its profile's required fields missing returns
// ok=false rather than a half-built entry.
type Normalizer interface {
	Normalize(record map[string]any) (vectorstore.Entry, string, bool)
}

var (
	mu       sync.RWMutex
	registry = map[string]Normalizer{}
)

// Register installs a normalizer for a profileId, overwriting any prior
// registration. Connector packages call this from an init() to declare the
// profiles they know how to normalize.
func Register(profileID string, n Normalizer) {
	mu.Lock()
	defer mu.Unlock()
	registry[profileID] = n
}

// Resolve returns the registered normalizer for profileID, or a
// FallbackNormalizer if none was registered.
func Resolve(profileID string) Normalizer {
	mu.RLock()
	n, ok := registry[profileID]
	mu.RUnlock()
	if ok {
		return n
	}
	return &FallbackNormalizer{ProfileID: profileID}
}

// FallbackNormalizer extracts content from record["payload"]["text"] (or,
// failing that, record["content"] or a JSON dump of the whole record) and a
// node ID from record["payload"]["id"] or record["nodeId"]. It also accepts
// an unwrapped record (no "payload" key) by treating the record itself as
// the payload, so it serves both staged envelopes and live endpoint reads.
type FallbackNormalizer struct {
	ProfileID string
}

func (f *FallbackNormalizer) Normalize(record map[string]any) (vectorstore.Entry, string, bool) {
	payload, ok := record["payload"].(map[string]any)
	if !ok {
		payload = record
	}

	content := asString(payload["text"])
	if content == "" {
		content = asString(record["content"])
	}
	if content == "" {
		content = asString(payload["title"]) + "\n" + asString(payload["body"])
		content = strings.TrimSpace(content)
	}
	if content == "" {
		if data, err := json.Marshal(record); err == nil && len(data) > 0 {
			content = string(data)
		}
	}
	if content == "" {
		return vectorstore.Entry{}, "", false
	}

	nodeID := asString(payload["id"])
	if nodeID == "" {
		nodeID = asString(record["nodeId"])
	}
	if nodeID == "" {
		return vectorstore.Entry{}, "", false
	}

	entry := vectorstore.Entry{
		ProfileID:   f.ProfileID,
		NodeID:      nodeID,
		ContentText: content,
		RawPayload:  payload,
	}
	return entry, content, true
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	case nil:
		return ""
	default:
		return ""
	}
}
