// Package ident derives storage identifiers from document paths.
//
// Every function is a pure function of its arguments: the same path and type
// always produce the same identifier, in any process and in any order. A
// [Factory] is safe for concurrent use.
//
// Identifiers only contain characters in [a-z0-9$_]. A name segment is the
// lowercased name with other characters replaced by '_', followed by a '_'
// separator. Runs of array nesting are folded into a single "$<level>" marker
// holding the deepest level.
//
// A name that does not survive this rendering unchanged gets a six letter
// "$<hash>" marker so that distinct names never collide. This includes every
// name with an uppercase letter, so camelCase fields do not render literally:
// "userName" becomes "username$<hash>_i", not "username_i". In table names
// '_' is the segment separator, so "first_name" also gets a marker there
// ("c_first_name$<hash>") while the column stays "first_name_s".
package ident

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/maruel/docrel/internal/docpath"
	"github.com/maruel/docrel/internal/meta"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultMaxLength is the identifier length limit of PostgreSQL (NAMEDATALEN-1).
const DefaultMaxLength = 63

// minMaxLength leaves room for a hash marker and a type suffix.
const minMaxLength = 16

// hashLen is the number of letters in a disambiguation marker.
const hashLen = 6

// Factory converts attribute references into table refs and identifiers.
//
// The zero value is ready to use.
type Factory struct {
	// MaxLength bounds the identifier length. 0 means DefaultMaxLength.
	MaxLength int
}

var _ meta.IdentifierFactory = (*Factory)(nil)

func (f *Factory) maxLength() int {
	if f == nil || f.MaxLength <= 0 {
		return DefaultMaxLength
	}
	if f.MaxLength < minMaxLength {
		return minMaxLength
	}
	return f.MaxLength
}

// ToTableRef returns the doc-part addressed by a.
func (f *Factory) ToTableRef(a docpath.AttributeReference) docpath.TableRef {
	t := &tableRefBuilder{ref: docpath.Root()}
	fold(a, t)
	return t.ref
}

// ToTableIdentifier returns the table name of the doc-part addressed by a in
// collection.
func (f *Factory) ToTableIdentifier(a docpath.AttributeReference, collection string) string {
	t := &nameBuilder{table: true}
	t.appendName(collection)
	fold(a, t)
	return f.limit(t.finishTable(), "")
}

// ToColumnIdentifier returns the column name for values of type ft found at a.
//
// Only the keys from the last ObjectKey onward contribute: the doc-part is
// already identified by the table. A reference ending with an array key gets
// its level marker even at level 1, so scalar array elements never share a
// column with a field of the element objects.
func (f *Factory) ToColumnIdentifier(a docpath.AttributeReference, ft meta.FieldType) string {
	suffix := a.LastObjectKeySuffix()
	c := &nameBuilder{}
	level := fold(suffix, c)
	if suffix.EndsWithArray() && level == 1 {
		c.appendLevel(1)
	}
	code := string(ft.Code())
	return f.limit(c.b.String()+code, "_"+code)
}

// DatabaseIdentifier returns the schema name of a database.
func (f *Factory) DatabaseIdentifier(database string) string {
	t := &nameBuilder{table: true}
	t.appendName(database)
	return f.limit(t.finishTable(), "")
}

// CollectionIdentifier returns the storage name of a collection. It is
// rendered like a database name.
func (f *Factory) CollectionIdentifier(collection string) string {
	return f.DatabaseIdentifier(collection)
}

// TableIdentifier implements meta.IdentifierFactory.
func (f *Factory) TableIdentifier(collection string, ref docpath.TableRef) string {
	return f.ToTableIdentifier(docpath.FromTableRef(ref), collection)
}

// ColumnIdentifier implements meta.IdentifierFactory.
func (f *Factory) ColumnIdentifier(ref docpath.TableRef, field string, ft meta.FieldType) string {
	return f.ToColumnIdentifier(FieldReference(ref, field), ft)
}

// FieldReference returns the attribute reference of field inside doc-part ref.
//
// A "$<level>" field denotes the scalar elements (or, for CHILD, the nested
// arrays) found at that array level of the doc-part.
func FieldReference(ref docpath.TableRef, field string) docpath.AttributeReference {
	a := docpath.FromTableRef(ref)
	l, ok := docpath.ParseLevelName(field)
	if !ok {
		return a.AppendObjectKey(field)
	}
	trailing := 0
	for i := a.Len() - 1; i >= 0 && !a.At(i).IsObject(); i-- {
		trailing++
	}
	for ; trailing < l; trailing++ {
		a = a.AppendArrayKey()
	}
	return a
}

// limit enforces the maximum length. The kept tail (the type suffix of a
// column) survives truncation.
func (f *Factory) limit(id, tail string) string {
	m := f.maxLength()
	if len(id) <= m {
		return id
	}
	body := id[:len(id)-len(tail)]
	keep := m - len(tail) - 1 - hashLen
	return body[:keep] + "$" + hash(id) + tail
}

// appender receives the folded segments of an attribute reference.
type appender interface {
	appendName(name string)
	appendLevel(level int)
}

// fold scans keys left to right and returns the array level in effect at the
// end.
func fold(a docpath.AttributeReference, t appender) int {
	level := 0
	for i := range a.Len() {
		k := a.At(i)
		switch k.Kind() {
		case docpath.ObjectKeyKind:
			t.appendName(k.Name())
			level = 0
		case docpath.ArrayKeyKind:
			level++
			if level > 1 {
				t.appendLevel(level)
			}
		}
	}
	return level
}

type tableRefBuilder struct {
	ref docpath.TableRef
}

func (t *tableRefBuilder) appendName(name string) {
	t.ref = t.ref.Child(name)
}

func (t *tableRefBuilder) appendLevel(level int) {
	t.ref = t.ref.ChildLevel(level)
}

type nameBuilder struct {
	b     strings.Builder
	table bool
}

func (n *nameBuilder) appendName(name string) {
	n.b.WriteString(renderName(name, n.table))
	n.b.WriteByte('_')
}

// appendLevel replaces the trailing separator, and the previous level marker
// when there is one, with "$<level>_".
func (n *nameBuilder) appendLevel(level int) {
	del := 1
	if level > 2 {
		del += 1 + len(strconv.Itoa(level-1))
	}
	s := n.b.String()
	if del > len(s) {
		del = len(s)
	}
	n.b.Reset()
	n.b.WriteString(s[:len(s)-del])
	n.b.WriteByte('$')
	n.b.WriteString(strconv.Itoa(level))
	n.b.WriteByte('_')
}

func (n *nameBuilder) finishTable() string {
	s := strings.TrimSuffix(n.b.String(), "_")
	return collapseUnderscores(s)
}

// renderName lowercases name and replaces characters outside [a-z0-9$] with
// '_'. When the result cannot be mapped back to name, a marker derived from
// name is appended so that distinct names never render the same.
func renderName(name string, table bool) string {
	lower := cases.Lower(language.Und).String(name)
	lossy := name == "" || lower != name
	var b strings.Builder
	b.Grow(len(lower) + 1 + hashLen)
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '$':
			b.WriteByte('$')
			lossy = true
		case r == '_' && !table:
			b.WriteByte('_')
		default:
			b.WriteByte('_')
			lossy = true
		}
	}
	if lossy {
		b.WriteByte('$')
		b.WriteString(hash(name))
	}
	return b.String()
}

func collapseUnderscores(s string) string {
	if !strings.Contains(s, "__") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	prev := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' && prev == '_' {
			continue
		}
		b.WriteByte(c)
		prev = c
	}
	return b.String()
}

// hash returns hashLen lowercase letters derived from s. Letters only, so a
// marker is never mistaken for an array level.
func hash(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	v := h.Sum32()
	var out [hashLen]byte
	for i := range out {
		out[i] = byte('a' + v%26)
		v /= 26
	}
	return string(out[:])
}
