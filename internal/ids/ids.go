// Package ids provides the opaque 128-bit identifier type shared by every
// catalogue entity and chunk record.
package ids

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID is an opaque 128-bit token rendered as a string. It is used for every
// entity in the data model (artists, albums, releases, tracks, files,
// chunks) so that no component needs to know another's internal key space.
type ID uuid.UUID

// Nil is the zero ID, never assigned to a real entity.
var Nil ID

// New mints a fresh random ID.
func New() ID {
	return ID(uuid.New())
}

// Parse decodes a string-rendered ID, returning an error if it is not a
// well-formed token.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("ids: invalid id %q: %w", s, err)
	}
	return ID(u), nil
}

// MustParse is Parse but panics on error; for strings already known to be
// well-formed IDs (test constants, or IDs this process rendered itself).
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String renders the ID in canonical hyphenated form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether this is the zero-value ID.
func (id ID) IsNil() bool {
	return id == Nil
}

// Value implements driver.Valuer so gorm/database-sql can persist an ID as
// its string form.
func (id ID) Value() (driver.Value, error) {
	if id.IsNil() {
		return nil, nil
	}
	return id.String(), nil
}

// Scan implements sql.Scanner so gorm/database-sql can hydrate an ID column.
func (id *ID) Scan(src interface{}) error {
	if src == nil {
		*id = Nil
		return nil
	}
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("ids: cannot scan %T into ID", src)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalJSON renders the ID as a JSON string, or null when nil.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsNil() {
		return []byte("null"), nil
	}
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON parses a JSON string into an ID.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		*id = Nil
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
