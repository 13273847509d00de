package staging

import "encoding/json"

// envelopeSizeBytes estimates the on-wire size of a batch by JSON-encoding
// it, matching how both providers actually persist envelopes (NDJSON lines
// for the object-store provider, the same encoding used to size the
// in-memory cap).
func envelopeSizeBytes(records []RecordEnvelope) (int64, error) {
	var total int64
	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return 0, err
		}
		total += int64(len(b)) + 1 // +1 for the newline separator
	}
	return total, nil
}

// cloneEnvelopes returns a shallow copy of the slice so callers can't
// mutate a provider's stored batch through an aliasing bug.
func cloneEnvelopes(records []RecordEnvelope) []RecordEnvelope {
	out := make([]RecordEnvelope, len(records))
	copy(out, records)
	return out
}
