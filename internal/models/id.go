// Package models defines the domain records that flow through the voxcut
// pipeline: transcript segments, analysis results, checkpoints, export plans
// and the error taxonomy shared by every component.
package models

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// RunID identifies one end-to-end pipeline invocation. It is a ULID, so the
// lexicographic order of run directories under the state root matches
// creation order.
type RunID ulid.ULID

// NewRunID generates a new RunID.
func NewRunID() RunID {
	return RunID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader))
}

// ParseRunID parses a RunID from its string form.
func ParseRunID(s string) (RunID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return RunID{}, fmt.Errorf("invalid run id: %w", err)
	}
	return RunID(id), nil
}

// MustParseRunID parses a RunID string and panics on error.
func MustParseRunID(s string) RunID {
	id, err := ParseRunID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical 26-character form.
func (r RunID) String() string {
	return ulid.ULID(r).String()
}

// IsZero returns true if the RunID is unset.
func (r RunID) IsZero() bool {
	return ulid.ULID(r).Compare(ulid.ULID{}) == 0
}

// Time returns the creation time encoded in the RunID.
func (r RunID) Time() time.Time {
	return ulid.Time(ulid.ULID(r).Time())
}

// Value implements driver.Valuer for database storage.
func (r RunID) Value() (driver.Value, error) {
	if r.IsZero() {
		return nil, nil
	}
	return r.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (r *RunID) Scan(value any) error {
	if value == nil {
		*r = RunID{}
		return nil
	}

	switch v := value.(type) {
	case string:
		if v == "" {
			*r = RunID{}
			return nil
		}
		id, err := ulid.Parse(v)
		if err != nil {
			return fmt.Errorf("scanning run id: %w", err)
		}
		*r = RunID(id)
	case []byte:
		if len(v) == 0 {
			*r = RunID{}
			return nil
		}
		id, err := ulid.Parse(string(v))
		if err != nil {
			return fmt.Errorf("scanning run id: %w", err)
		}
		*r = RunID(id)
	default:
		return fmt.Errorf("unsupported type for run id: %T", value)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r RunID) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + r.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RunID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = RunID{}
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid run id JSON: %s", string(data))
	}
	s := string(data[1 : len(data)-1])
	if s == "" {
		*r = RunID{}
		return nil
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return fmt.Errorf("parsing run id JSON: %w", err)
	}
	*r = RunID(id)
	return nil
}

// GormDataType returns the column type used when a RunID is persisted.
func (RunID) GormDataType() string {
	return "varchar(26)"
}
