package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONStringMap is a string-to-string map persisted as a single JSON column,
// used for free-form user tags.
type JSONStringMap map[string]string

// Value implements driver.Valuer. A nil map is stored as SQL NULL.
func (m JSONStringMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	return string(raw), err
}

// Scan implements sql.Scanner.
func (m *JSONStringMap) Scan(val interface{}) error {
	var raw []byte
	switch v := val.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONStringMap", val)
	}
	return json.Unmarshal(raw, m)
}

// GormDataType gorm common data type
func (m JSONStringMap) GormDataType() string {
	return "jsonstringmap"
}

func (JSONStringMap) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "JSONB"
	}
	return "JSON"
}
