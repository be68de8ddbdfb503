package shared

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID identifies tenants, assets, vulnerabilities, alerts and scan jobs.
// The zero value is the nil UUID and means "unset".
type ID uuid.UUID

// NewID returns a random (v4) ID.
func NewID() ID {
	return ID(uuid.New())
}

// IDFromString parses the canonical textual form.
func IDFromString(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: id %q", ErrValidation, s)
	}
	return ID(u), nil
}

func (id ID) String() string { return uuid.UUID(id).String() }

func (id ID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

func (id ID) Equals(other ID) bool { return id == other }

// MarshalText encodes the ID as its canonical string, so it travels as a
// JSON string and works as a JSON map key.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("%w: id %q", ErrValidation, b)
	}
	*id = ID(u)
	return nil
}

// Value implements driver.Valuer.
func (id ID) Value() (driver.Value, error) {
	return id.String(), nil
}

// Scan implements sql.Scanner. NULL scans to the zero ID.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*id = ID{}
		return nil
	case string:
		return id.UnmarshalText([]byte(v))
	case []byte:
		return id.UnmarshalText(v)
	default:
		return fmt.Errorf("scan %T into shared.ID", src)
	}
}
