package domain

import "github.com/google/uuid"

// ID is a 128-bit opaque identifier generated at creation and never reused.
// It identifies schedules, devices, and households.
type ID uuid.UUID

// NewID generates a fresh random ID.
func NewID() ID {
	return ID(uuid.New())
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero-value (unset) ID.
func (id ID) IsZero() bool {
	return id == ID{}
}

// ParseID parses the canonical string form of an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	return ID(u), nil
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
