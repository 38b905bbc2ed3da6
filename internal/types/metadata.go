package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metadata is a JSONB key-value column. On subscriptions it mirrors
// free-form provider metadata, including the downgrade-target keys the
// cancel-flag encoding relies on.
type Metadata map[string]string

// Scan implements the sql.Scanner interface for Metadata
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(Metadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to unmarshal JSONB value: %v", value)
	}

	result := make(Metadata)
	err := json.Unmarshal(bytes, &result)
	*m = result
	return err
}

// Value implements the driver.Valuer interface for Metadata. A nil map is
// stored as an empty object so reads never need a null check.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(make(Metadata))
	}
	return json.Marshal(m)
}
