package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// These ensure all JSONB types implement both sql.Scanner and driver.Valuer,
// catching any method signature drift at compile time rather than at runtime.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*Metadata)(nil)
	_ driver.Valuer = Metadata(nil)
	_ sql.Scanner   = (*Headers)(nil)
	_ driver.Valuer = Headers(nil)
	_ sql.Scanner   = (*MediaList)(nil)
	_ driver.Valuer = MediaList(nil)
	_ sql.Scanner   = (*DestinationList)(nil)
	_ driver.Valuer = DestinationList(nil)
)

// Metadata is the open string-keyed passthrough sidecar on canonical messages.
// It is intentionally untyped; consumers that need structure parse known keys
// defensively.
type Metadata map[string]any

// Headers is a set of custom HTTP headers attached to a webhook target.
type Headers map[string]string

// MediaList is the ordered attachment collection, stored as a JSONB column.
type MediaList []MediaAttachment

// DestinationList is an ordered set of routing destinations for a channel.
type DestinationList []DestinationKind

// scanJSONB is a generic helper that scans a JSONB database value into a Go
// pointer. It handles nil values, []byte, and string representations from
// different database drivers.
func scanJSONB(dest any, value any) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	return scanJSONB(m, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(Metadata{})
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (h *Headers) Scan(value any) error {
	if value == nil {
		*h = Headers{}
		return nil
	}
	return scanJSONB(h, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (h Headers) Value() (driver.Value, error) {
	if h == nil {
		return json.Marshal(Headers{})
	}
	return json.Marshal(h)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (ml *MediaList) Scan(value any) error {
	if value == nil {
		*ml = MediaList{}
		return nil
	}
	return scanJSONB(ml, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (ml MediaList) Value() (driver.Value, error) {
	if ml == nil {
		return json.Marshal(MediaList{})
	}
	return json.Marshal(ml)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (dl *DestinationList) Scan(value any) error {
	if value == nil {
		*dl = nil
		return nil
	}
	return scanJSONB(dl, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (dl DestinationList) Value() (driver.Value, error) {
	if dl == nil {
		return nil, nil
	}
	return json.Marshal(dl)
}
