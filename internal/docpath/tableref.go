// Package docpath addresses positions inside nested documents.
//
// A [TableRef] names a doc-part: the root of a document or one of its nested
// objects or arrays. An [AttributeReference] is the finer grained path used to
// derive identifiers; it distinguishes named object keys from array levels.
package docpath

import (
	"strconv"
	"strings"
)

// TableRef is an immutable node of the doc-part tree.
//
// Children share their parent node. The zero value is not valid; use [Root].
type TableRef struct {
	n *node
}

type node struct {
	parent *node
	name   string
	depth  int
	key    string
}

var root = &node{}

// Root returns the TableRef of a document's top-level fields.
func Root() TableRef {
	return TableRef{n: root}
}

// Child returns the TableRef for name below t.
func (t TableRef) Child(name string) TableRef {
	p := t.node()
	k := p.key + strconv.Itoa(len(name)) + ":" + name
	return TableRef{n: &node{parent: p, name: name, depth: p.depth + 1, key: k}}
}

// ChildLevel returns the TableRef of an array nested level times.
func (t TableRef) ChildLevel(level int) TableRef {
	return t.Child(LevelName(level))
}

func (t TableRef) node() *node {
	if t.n == nil {
		return root
	}
	return t.n
}

// IsRoot returns true for the document's root doc-part.
func (t TableRef) IsRoot() bool {
	return t.node().depth == 0
}

// Parent returns the parent TableRef. The root is its own parent.
func (t TableRef) Parent() TableRef {
	n := t.node()
	if n.parent == nil {
		return t
	}
	return TableRef{n: n.parent}
}

// Name returns the last path element, or "" for the root.
func (t TableRef) Name() string {
	return t.node().name
}

// Depth returns the number of path elements.
func (t TableRef) Depth() int {
	return t.node().depth
}

// Path returns the names from the root down to t.
func (t TableRef) Path() []string {
	n := t.node()
	out := make([]string, n.depth)
	for ; n.depth > 0; n = n.parent {
		out[n.depth-1] = n.name
	}
	return out
}

// Key returns a string suitable as a map key. Two TableRefs have the same key
// if and only if they have the same path. Names are length-prefixed so no
// character in a name can forge a separator.
func (t TableRef) Key() string {
	return t.node().key
}

// Equal reports whether both refer to the same path.
func (t TableRef) Equal(other TableRef) bool {
	a, b := t.node(), other.node()
	return a == b || (a.depth == b.depth && a.key == b.key)
}

// Compare orders TableRefs depth-first: a parent sorts before its children and
// siblings sort by name.
func (t TableRef) Compare(other TableRef) int {
	a, b := t.Path(), other.Path()
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := strings.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Less is Compare(other) < 0.
func (t TableRef) Less(other TableRef) bool {
	return t.Compare(other) < 0
}

// LastObjectName returns the nearest ancestor-or-self name that is not an
// array level marker, or "" when there is none.
func (t TableRef) LastObjectName() string {
	for n := t.node(); n.depth > 0; n = n.parent {
		if !IsLevelName(n.name) {
			return n.name
		}
	}
	return ""
}

// ArrayLevel returns the array nesting level represented by t: the number in a
// "$<level>" marker, or 1 for a named doc-part.
func (t TableRef) ArrayLevel() int {
	if l, ok := ParseLevelName(t.Name()); ok {
		return l
	}
	return 1
}

// String returns a human readable form like "a.$2".
func (t TableRef) String() string {
	if t.IsRoot() {
		return "<root>"
	}
	return strings.Join(t.Path(), ".")
}

// FromPath rebuilds a TableRef from the output of [TableRef.Path].
func FromPath(path []string) TableRef {
	t := Root()
	for _, p := range path {
		t = t.Child(p)
	}
	return t
}

// LevelName returns the synthetic name of an array nesting level.
func LevelName(level int) string {
	return "$" + strconv.Itoa(level)
}

// ParseLevelName returns the level encoded by a "$<digits>" name.
func ParseLevelName(name string) (int, bool) {
	if !IsLevelName(name) {
		return 0, false
	}
	l, err := strconv.Atoi(name[1:])
	if err != nil {
		return 0, false
	}
	return l, true
}

// IsLevelName reports whether name has the "$<digits>" form reserved for array
// levels.
func IsLevelName(name string) bool {
	if len(name) < 2 || name[0] != '$' {
		return false
	}
	for i := 1; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return false
		}
	}
	return true
}
