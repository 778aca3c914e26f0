// Package kvdoc is the in-memory model of schemaless documents.
//
// A [Document] is an ordered set of keys mapped to [Value]s. Values are a
// closed set of scalar kinds plus the two containers, [*Document] and [Array].
package kvdoc

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"iter"
	"math"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind discriminates Value implementations.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindDouble
	KindString
	KindDate
	KindTime
	KindObjectID
	KindTimestamp
	KindInstant
	KindBinary
	KindDocument
	KindArray
)

var kindNames = [...]string{
	"null", "bool", "int32", "int64", "double", "string", "date", "time",
	"objectId", "timestamp", "instant", "binary", "document", "array",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is any document value.
type Value interface {
	Kind() Kind
}

// Null is the null value.
type Null struct{}

// Bool is a boolean.
type Bool bool

// Int32 is a 32 bits integer.
type Int32 int32

// Int64 is a 64 bits integer.
type Int64 int64

// Double is a 64 bits float.
type Double float64

// String is a UTF-8 string.
type String string

// Date is a calendar date without time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// Time is a time of day without date nor time zone, in nanoseconds since
// midnight.
type Time int64

// ObjectID is a 12 bytes MongoDB object id.
type ObjectID [12]byte

// Timestamp is a MongoDB internal timestamp.
type Timestamp struct {
	Seconds   uint32
	Increment uint32
}

// Instant is a point in time with millisecond precision.
type Instant struct {
	time.Time
}

// Binary is an opaque byte string with a subtype.
type Binary struct {
	Subtype byte
	Data    []byte
}

// Array is an ordered list of values.
type Array []Value

func (Null) Kind() Kind      { return KindNull }
func (Bool) Kind() Kind      { return KindBool }
func (Int32) Kind() Kind     { return KindInt32 }
func (Int64) Kind() Kind     { return KindInt64 }
func (Double) Kind() Kind    { return KindDouble }
func (String) Kind() Kind    { return KindString }
func (Date) Kind() Kind      { return KindDate }
func (Time) Kind() Kind      { return KindTime }
func (ObjectID) Kind() Kind  { return KindObjectID }
func (Timestamp) Kind() Kind { return KindTimestamp }
func (Instant) Kind() Kind   { return KindInstant }
func (Binary) Kind() Kind    { return KindBinary }
func (Array) Kind() Kind     { return KindArray }

// String returns the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, err
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// NewTime returns the time of day h:m:s.ns.
func NewTime(h, m, s, ns int) Time {
	return Time(int64(h)*int64(time.Hour) + int64(m)*int64(time.Minute) + int64(s)*int64(time.Second) + int64(ns))
}

// String returns the time as HH:MM:SS[.fraction].
func (t Time) String() string {
	d := time.Duration(t)
	base := time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(d)
	return base.Format("15:04:05.999999999")
}

// ParseTime parses HH:MM:SS[.fraction].
func ParseTime(s string) (Time, error) {
	t, err := time.Parse("15:04:05.999999999", s)
	if err != nil {
		return 0, err
	}
	return NewTime(t.Hour(), t.Minute(), t.Second(), t.Nanosecond()), nil
}

// String returns the hexadecimal encoding.
func (o ObjectID) String() string {
	return hex.EncodeToString(o[:])
}

// ParseObjectID parses 24 hexadecimal characters.
func ParseObjectID(s string) (ObjectID, error) {
	var o ObjectID
	if len(s) != 24 {
		return o, fmt.Errorf("invalid object id length %d", len(s))
	}
	if _, err := hex.Decode(o[:], []byte(s)); err != nil {
		return o, fmt.Errorf("invalid object id: %w", err)
	}
	return o, nil
}

// NewInstant truncates t to milliseconds in UTC.
func NewInstant(t time.Time) Instant {
	return Instant{Time: t.UTC().Truncate(time.Millisecond)}
}

// Document is an object with ordered keys.
type Document struct {
	m *orderedmap.OrderedMap[string, Value]
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{m: orderedmap.New[string, Value]()}
}

// Kind implements Value.
func (*Document) Kind() Kind { return KindDocument }

// Set sets key to v, keeping the position of an existing key.
func (d *Document) Set(key string, v Value) *Document {
	if v == nil {
		v = Null{}
	}
	d.m.Set(key, v)
	return d
}

// Get returns the value of key.
func (d *Document) Get(key string) (Value, bool) {
	return d.m.Get(key)
}

// Delete removes key.
func (d *Document) Delete(key string) {
	d.m.Delete(key)
}

// Len returns the number of keys.
func (d *Document) Len() int {
	return d.m.Len()
}

// Keys returns the keys in insertion order.
func (d *Document) Keys() []string {
	out := make([]string, 0, d.m.Len())
	for p := d.m.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Key)
	}
	return out
}

// All iterates over the keys and values in insertion order.
func (d *Document) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		for p := d.m.Oldest(); p != nil; p = p.Next() {
			if !yield(p.Key, p.Value) {
				return
			}
		}
	}
}

// Equal reports whether a and b are structurally equal. Object key order is
// ignored; array order is significant. NaN equals NaN.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case *Document:
		y := b.(*Document)
		if x.Len() != y.Len() {
			return false
		}
		for k, v := range x.All() {
			w, ok := y.Get(k)
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case Array:
		y := b.(Array)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Double:
		y := b.(Double)
		if math.IsNaN(float64(x)) {
			return math.IsNaN(float64(y))
		}
		return x == y
	case Instant:
		return x.Equal(b.(Instant).Time)
	case Binary:
		y := b.(Binary)
		return x.Subtype == y.Subtype && bytes.Equal(x.Data, y.Data)
	default:
		return a == b
	}
}
