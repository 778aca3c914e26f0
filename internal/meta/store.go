// Holds the committed schema and merges transactions into it.

package meta

import (
	"fmt"
	"sync"

	"github.com/maruel/docrel/internal/errors"
)

// Store holds the head Snapshot. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	head    *Snapshot
	factory IdentifierFactory
}

// NewStore returns a Store whose head is initial. A nil initial means Empty.
func NewStore(factory IdentifierFactory, initial *Snapshot) *Store {
	if initial == nil {
		initial = Empty()
	}
	return &Store{head: initial, factory: factory}
}

// Snapshot returns the head.
func (s *Store) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// Factory returns the identifier factory used by transactions.
func (s *Store) Factory() IdentifierFactory {
	return s.factory
}

// Begin opens a working copy of the head.
func (s *Store) Begin() *MutableSnapshot {
	return NewMutable(s.Snapshot(), s.factory)
}

// Commit makes the additions of m the new head and returns it.
//
// A transaction without additions leaves the head as is. When m was opened
// from the current head, m becomes the head. Otherwise
// another transaction committed first and m's additions are replayed in order
// on top of the head: additions already present with the same identifier are
// merged, and an identifier bound to a different logical key on either side
// fails the whole commit with a SCHEMA_CONFLICT error, leaving the head
// unchanged. m is sealed in every case.
func (s *Store) Commit(m *MutableSnapshot) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changes := m.changes
	if len(changes) == 0 {
		m.sealed = true
		return s.head, nil
	}
	if m.base == s.head {
		s.head = m.Immutable()
		return s.head, nil
	}
	m.sealed = true
	r := NewMutable(s.head, s.factory)
	for _, c := range changes {
		if err := r.Apply(c); err != nil {
			return nil, err
		}
	}
	if len(r.changes) == 0 {
		return s.head, nil
	}
	s.head = r.Immutable()
	return s.head, nil
}

// Apply replays a change recorded by another MutableSnapshot, keeping its
// identifier. An addition already present with the same identifier is a no-op.
func (m *MutableSnapshot) Apply(c Change) error {
	var err error
	switch c.Kind {
	case AddedDatabase:
		_, err = m.addDatabase(c.Database, c.Identifier)
	case AddedCollection:
		db := m.databases[c.Database]
		if db == nil {
			return errors.Internal(fmt.Sprintf("database %q replayed after its collection", c.Database))
		}
		_, err = m.addCollection(c.Database, c.Collection, db.identifier, c.Identifier)
	case AddedDocPart:
		if m.Collection(c.Database, c.Collection) == nil {
			return errors.Internal(fmt.Sprintf("collection %q replayed after its doc-part", c.Collection))
		}
		_, err = m.addDocPart(c.Database, c.Collection, c.Ref, c.Identifier)
	case AddedField:
		if !c.FieldType.Valid() {
			return errors.Internal(fmt.Sprintf("invalid field type %d", uint8(c.FieldType)))
		}
		_, err = m.addField(c.Database, c.Collection, c.Ref, c.FieldName, c.FieldType, c.Identifier)
	default:
		return errors.Internal(fmt.Sprintf("unknown change %s", c.Kind))
	}
	return err
}
