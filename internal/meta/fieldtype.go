// Defines the closed set of value kinds a column can hold.

package meta

import (
	"fmt"
)

// FieldType is the kind of value stored in a column.
//
// The ordinal order is persisted through the type codes and must not change.
type FieldType uint8

const (
	Binary FieldType = iota
	Boolean
	Date
	Double
	Instant
	Integer
	Long
	MongoObjectID
	MongoTimestamp
	Null
	String
	Time
	// Child is a boolean presence flag: true when the row has rows in the
	// corresponding child doc-part.
	Child

	numFieldTypes
)

var fieldTypeCodes = [numFieldTypes]byte{'r', 'b', 't', 'd', 'k', 'i', 'l', 'x', 'y', 'n', 's', 'c', 'e'}

var fieldTypeNames = [numFieldTypes]string{
	"BINARY", "BOOLEAN", "DATE", "DOUBLE", "INSTANT", "INTEGER", "LONG",
	"MONGO_OBJECT_ID", "MONGO_TIMESTAMP", "NULL", "STRING", "TIME", "CHILD",
}

// FieldTypes returns every FieldType in ordinal order.
func FieldTypes() []FieldType {
	out := make([]FieldType, numFieldTypes)
	for i := range out {
		out[i] = FieldType(i)
	}
	return out
}

// Valid reports whether t is a known FieldType.
func (t FieldType) Valid() bool {
	return t < numFieldTypes
}

// Code returns the single character used as column name suffix.
func (t FieldType) Code() byte {
	if !t.Valid() {
		panic(fmt.Sprintf("invalid FieldType %d", uint8(t)))
	}
	return fieldTypeCodes[t]
}

func (t FieldType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("FieldType(%d)", uint8(t))
	}
	return fieldTypeNames[t]
}

// FieldTypeFromCode is the inverse of [FieldType.Code].
func FieldTypeFromCode(c byte) (FieldType, bool) {
	for i, v := range fieldTypeCodes {
		if v == c {
			return FieldType(i), true
		}
	}
	return 0, false
}

// ParseFieldType is the inverse of [FieldType.String].
func ParseFieldType(s string) (FieldType, error) {
	for i, v := range fieldTypeNames {
		if v == s {
			return FieldType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid FieldType %d", uint8(t))
	}
	return []byte(fieldTypeNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FieldType) UnmarshalText(b []byte) error {
	v, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
