package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSON stores a value of T as a JSON document in a text column. It works the
// same on PostgreSQL, MySQL and SQLite. A nil pointer is stored as NULL.
type JSON[T any] struct {
	V *T
}

// NewJSON wraps v for storage.
func NewJSON[T any](v *T) JSON[T] {
	return JSON[T]{V: v}
}

// Scan implements the sql.Scanner interface for reading from the database.
func (j *JSON[T]) Scan(value interface{}) error {
	if value == nil {
		j.V = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("JSON: unsupported scan type")
	}
	if len(data) == 0 || string(data) == "null" {
		j.V = nil
		return nil
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	j.V = &out
	return nil
}

// Value implements the driver.Valuer interface for writing to the database.
func (j JSON[T]) Value() (driver.Value, error) {
	if j.V == nil {
		return nil, nil
	}
	data, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GormDataType returns the GORM data type hint.
func (JSON[T]) GormDataType() string {
	return "text"
}
