package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONPayload stores an opaque JSON document in a jsonb column. It binds as text so
// it works under the simple query protocol and reads back from text or bytes.
type JSONPayload []byte

// Value implements driver.Valuer.
func (p JSONPayload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	if !json.Valid(p) {
		return nil, fmt.Errorf("json payload: invalid document")
	}
	return string(p), nil
}

// Scan implements sql.Scanner.
func (p *JSONPayload) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append(JSONPayload(nil), v...)
	case string:
		*p = JSONPayload(v)
	default:
		return fmt.Errorf("json payload: unsupported scan type %T", value)
	}
	return nil
}

// MarshalJSON emits the stored document verbatim.
func (p JSONPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON keeps a copy of the raw document.
func (p *JSONPayload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = nil
		return nil
	}
	*p = append(JSONPayload(nil), data...)
	return nil
}
