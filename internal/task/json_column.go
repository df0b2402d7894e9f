package task

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONColumn stores an arbitrary Go value as a JSON-encoded TEXT column.
// It is how this package keeps the document-store feel of the original
// Mongo-backed model (inputs, outputs, executors, logs, tags, volumes and
// resources are all "whatever shape the client sent") on top of a relational
// table: each of those fields round-trips through JSON rather than having
// its own normalized schema, and a write always replaces the column in full,
// matching the semantics of Mongo's $set on a document field.
//
// A nil slice or map marshals to "null", and "null" Scans back to the zero
// value; a zero struct marshals to a JSON object like any other struct.
type JSONColumn[T any] struct {
	Val T
}

// Value implements driver.Valuer. Called by GORM before writing to the database.
func (c JSONColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(c.Val)
	if err != nil {
		return nil, fmt.Errorf("task: marshal json column: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner. Called by GORM after reading from the database.
func (c *JSONColumn[T]) Scan(src any) error {
	if src == nil {
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("task: unsupported json column source type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, &c.Val)
}
