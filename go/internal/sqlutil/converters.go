package sqlutil

import (
	"encoding/json"
	"fmt"

	"github.com/sqlc-dev/pqtype"
)

// Helpers for moving JSON documents in and out of jsonb columns.

// ToNullRawMessage converts a raw JSON value to pqtype.NullRawMessage. Empty input
// is stored as SQL NULL.
func ToNullRawMessage(raw json.RawMessage) pqtype.NullRawMessage {
	if len(raw) == 0 {
		return pqtype.NullRawMessage{Valid: false}
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}
}

// FromNullRawMessage converts pqtype.NullRawMessage to a raw JSON value, nil for NULL.
func FromNullRawMessage(val pqtype.NullRawMessage) json.RawMessage {
	if !val.Valid {
		return nil
	}
	return append(json.RawMessage(nil), val.RawMessage...)
}

// MarshalJSONB encodes v for a jsonb column.
func MarshalJSONB(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return b, nil
}

// UnmarshalJSONB decodes a jsonb column into v.
func UnmarshalJSONB(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("unmarshal jsonb: %w", err)
	}
	return nil
}
