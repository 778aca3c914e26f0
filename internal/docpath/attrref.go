package docpath

import (
	"strconv"
	"strings"
)

// KeyKind discriminates the [Key] variants.
type KeyKind uint8

const (
	// ObjectKeyKind is a named object field.
	ObjectKeyKind KeyKind = iota + 1
	// ArrayKeyKind is one more array nesting level.
	ArrayKeyKind
)

// Key is one step of an [AttributeReference].
type Key struct {
	kind KeyKind
	name string
}

// ObjectKey returns the Key of a named object field.
func ObjectKey(name string) Key {
	return Key{kind: ObjectKeyKind, name: name}
}

// ArrayKey returns the Key of one array nesting level.
func ArrayKey() Key {
	return Key{kind: ArrayKeyKind}
}

// Kind returns the variant.
func (k Key) Kind() KeyKind {
	return k.kind
}

// Name returns the field name of an object key, or "" for an array key.
func (k Key) Name() string {
	return k.name
}

// IsObject is Kind() == ObjectKeyKind.
func (k Key) IsObject() bool {
	return k.kind == ObjectKeyKind
}

// AttributeReference is the exact path from a document root to a position,
// including repeated array nesting.
//
// Values are immutable: the Append methods return a new reference and never
// alias storage with the receiver.
type AttributeReference struct {
	keys []Key
}

// NewAttributeReference returns a reference made of keys.
func NewAttributeReference(keys ...Key) AttributeReference {
	return AttributeReference{keys: append([]Key(nil), keys...)}
}

// Keys returns a copy of the keys.
func (a AttributeReference) Keys() []Key {
	return append([]Key(nil), a.keys...)
}

// Len returns the number of keys.
func (a AttributeReference) Len() int {
	return len(a.keys)
}

// At returns the i-th key.
func (a AttributeReference) At(i int) Key {
	return a.keys[i]
}

// Append returns a with k appended.
func (a AttributeReference) Append(k Key) AttributeReference {
	keys := make([]Key, len(a.keys), len(a.keys)+1)
	copy(keys, a.keys)
	return AttributeReference{keys: append(keys, k)}
}

// AppendObjectKey returns a with ObjectKey(name) appended.
func (a AttributeReference) AppendObjectKey(name string) AttributeReference {
	return a.Append(ObjectKey(name))
}

// AppendArrayKey returns a with one more array level appended.
func (a AttributeReference) AppendArrayKey() AttributeReference {
	return a.Append(ArrayKey())
}

// EndsWithArray reports whether the last key is an array level.
func (a AttributeReference) EndsWithArray() bool {
	return len(a.keys) > 0 && a.keys[len(a.keys)-1].kind == ArrayKeyKind
}

// LastObjectKeySuffix returns the keys starting at the last ObjectKey. When
// there is no ObjectKey the whole reference is returned.
func (a AttributeReference) LastObjectKeySuffix() AttributeReference {
	for i := len(a.keys) - 1; i >= 0; i-- {
		if a.keys[i].kind == ObjectKeyKind {
			return NewAttributeReference(a.keys[i:]...)
		}
	}
	return a
}

// String returns a dotted form like "a.[].[].b".
func (a AttributeReference) String() string {
	parts := make([]string, len(a.keys))
	for i, k := range a.keys {
		if k.kind == ArrayKeyKind {
			parts[i] = "[]"
		} else {
			parts[i] = strconv.Quote(k.name)
		}
	}
	return strings.Join(parts, ".")
}

// FromTableRef returns the AttributeReference denoted by a TableRef.
//
// A named element becomes an ObjectKey; the implicit first array level of a
// named doc-part is not represented, and a "$<level>" marker expands to the
// array keys needed to reach that level.
func FromTableRef(t TableRef) AttributeReference {
	var keys []Key
	level := 0
	for _, name := range t.Path() {
		if l, ok := ParseLevelName(name); ok {
			if level == 0 {
				// The marker follows a named element that carries level 1.
				keys = append(keys, ArrayKey())
				level = 1
			}
			for ; level < l; level++ {
				keys = append(keys, ArrayKey())
			}
			continue
		}
		keys = append(keys, ObjectKey(name))
		level = 0
	}
	return AttributeReference{keys: keys}
}
