package lexibase

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
)

// ID identifies a word or lesson. Legacy data carried numeric word ids, so
// an ID decodes from either a JSON string or a JSON number and always
// encodes as a string.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"field": "id",
			"value": string(data),
		})
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// newUUID generates a UUIDv7 (time-ordered) identifier
func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fall back to UUIDv4 if NewV7 fails (extremely rare)
		id = uuid.New()
	}
	return id.String()
}

// NewWordID returns a fresh, time-ordered word id
func NewWordID() ID {
	return ID(newUUID())
}

// NewLessonID returns a fresh lesson id in the "lesson-" form the UI expects
func NewLessonID() ID {
	return ID("lesson-" + newUUID())
}
