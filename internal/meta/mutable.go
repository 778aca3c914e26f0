// Copy-on-write working copy of a Snapshot.

package meta

import (
	"fmt"
	"iter"
	"slices"

	"github.com/maruel/docrel/internal/docpath"
	"github.com/maruel/docrel/internal/errors"
	"github.com/maruel/ksid"
)

// ChangeKind is the kind of schema addition.
type ChangeKind uint8

const (
	// AddedDatabase creates a database.
	AddedDatabase ChangeKind = iota
	// AddedCollection creates a collection in an existing database.
	AddedCollection
	// AddedDocPart creates the table of a TableRef in an existing collection.
	AddedDocPart
	// AddedField adds a typed column to an existing doc-part.
	AddedField
)

func (k ChangeKind) String() string {
	switch k {
	case AddedDatabase:
		return "database"
	case AddedCollection:
		return "collection"
	case AddedDocPart:
		return "docpart"
	case AddedField:
		return "field"
	default:
		return fmt.Sprintf("ChangeKind(%d)", uint8(k))
	}
}

// Change is one schema addition made by a MutableSnapshot.
type Change struct {
	Kind       ChangeKind
	Database   string
	Collection string
	// Ref is set for AddedDocPart and AddedField.
	Ref docpath.TableRef
	// FieldName and FieldType are set for AddedField.
	FieldName string
	FieldType FieldType
	// Identifier is the storage name of the added entity.
	Identifier string
}

// MutableSnapshot is the working copy of the schema for one write
// transaction.
//
// Additions are monotonic: entities are only ever added. Entities inherited
// from the base snapshot are copied the first time they are modified, so the
// base is never touched. A MutableSnapshot must not be used concurrently.
type MutableSnapshot struct {
	tx        ksid.ID
	base      *Snapshot
	factory   IdentifierFactory
	databases map[string]*Database
	order     []string
	changes   []Change
	sealed    bool
}

// NewMutable opens a working copy of base.
func NewMutable(base *Snapshot, factory IdentifierFactory) *MutableSnapshot {
	return &MutableSnapshot{
		tx:        ksid.NewID(),
		base:      base,
		factory:   factory,
		databases: cloneMap(base.databases),
		order:     slices.Clone(base.order),
	}
}

// Tx returns the transaction id.
func (m *MutableSnapshot) Tx() ksid.ID { return m.tx }

// Base returns the snapshot this working copy was opened from.
func (m *MutableSnapshot) Base() *Snapshot { return m.base }

// Database returns the database named name, or nil.
func (m *MutableSnapshot) Database(name string) *Database { return m.databases[name] }

// Collection returns the collection, or nil.
func (m *MutableSnapshot) Collection(database, name string) *Collection {
	if db := m.databases[database]; db != nil {
		return db.collections[name]
	}
	return nil
}

// Databases iterates over the databases in creation order.
func (m *MutableSnapshot) Databases() iter.Seq[*Database] {
	return func(yield func(*Database) bool) {
		for _, n := range m.order {
			if !yield(m.databases[n]) {
				return
			}
		}
	}
}

// Changes returns the additions in creation order. A doc-part is always
// listed after its parent and before its fields.
func (m *MutableSnapshot) Changes() []Change { return slices.Clone(m.changes) }

// Savepoint returns a marker to roll back to.
func (m *MutableSnapshot) Savepoint() int { return len(m.changes) }

// RollbackTo removes every addition made after sp.
func (m *MutableSnapshot) RollbackTo(sp int) {
	m.checkWritable()
	for i := len(m.changes) - 1; i >= sp; i-- {
		c := m.changes[i]
		switch c.Kind {
		case AddedDatabase:
			delete(m.databases, c.Database)
			m.order = m.order[:len(m.order)-1]
		case AddedCollection:
			db := m.databases[c.Database]
			delete(db.collections, c.Collection)
			delete(db.byIdent, c.Identifier)
			db.order = db.order[:len(db.order)-1]
		case AddedDocPart:
			db := m.databases[c.Database]
			col := db.collections[c.Collection]
			col.docParts.Delete(&DocPart{ref: c.Ref})
			delete(col.byIdent, c.Identifier)
			delete(db.tables, c.Identifier)
		case AddedField:
			dp := m.databases[c.Database].collections[c.Collection].DocPart(c.Ref)
			delete(dp.byKey, fieldKey{c.FieldName, c.FieldType})
			delete(dp.byIdent, c.Identifier)
			dp.fields = dp.fields[:len(dp.fields)-1]
		}
	}
	m.changes = m.changes[:sp]
}

// AddDatabase returns the database named name, creating it if needed.
func (m *MutableSnapshot) AddDatabase(name string) (*Database, error) {
	return m.addDatabase(name, m.factory.DatabaseIdentifier(name))
}

func (m *MutableSnapshot) addDatabase(name, id string) (*Database, error) {
	m.checkWritable()
	if db := m.databases[name]; db != nil {
		if db.identifier != id {
			return nil, errors.SchemaConflict(id, db.identifier, name)
		}
		return db, nil
	}
	for _, db := range m.databases {
		if db.identifier == id {
			return nil, errors.SchemaConflict(id, db.name, name)
		}
	}
	db := newDatabase(m.tx, name, id)
	m.databases[name] = db
	m.order = append(m.order, name)
	m.changes = append(m.changes, Change{Kind: AddedDatabase, Database: name, Identifier: id})
	return db, nil
}

// AddCollection returns the collection, creating it and its database if
// needed.
func (m *MutableSnapshot) AddCollection(database, name string) (*Collection, error) {
	return m.addCollection(database, name, m.factory.DatabaseIdentifier(database), m.factory.CollectionIdentifier(name))
}

func (m *MutableSnapshot) addCollection(database, name, dbID, id string) (*Collection, error) {
	if _, err := m.addDatabase(database, dbID); err != nil {
		return nil, err
	}
	db := m.databases[database]
	if col := db.collections[name]; col != nil {
		if col.identifier != id {
			return nil, errors.SchemaConflict(id, col.identifier, name)
		}
		return col, nil
	}
	if other, ok := db.byIdent[id]; ok {
		return nil, errors.SchemaConflict(id, other, name).WithDetail("database", database)
	}
	db = m.writableDatabase(database)
	col := newCollection(m.tx, database, name, id)
	db.collections[name] = col
	db.order = append(db.order, name)
	db.byIdent[id] = name
	m.changes = append(m.changes, Change{Kind: AddedCollection, Database: database, Collection: name, Identifier: id})
	return col, nil
}

// DocPart returns the doc-part at ref, creating it, its ancestors, its
// collection and its database if needed.
func (m *MutableSnapshot) DocPart(database, collection string, ref docpath.TableRef) (*DocPart, error) {
	col := m.Collection(database, collection)
	if col == nil {
		var err error
		if col, err = m.AddCollection(database, collection); err != nil {
			return nil, err
		}
	}
	if dp := col.DocPart(ref); dp != nil {
		return dp, nil
	}
	if !ref.IsRoot() {
		if _, err := m.DocPart(database, collection, ref.Parent()); err != nil {
			return nil, err
		}
	}
	return m.addDocPart(database, collection, ref, m.factory.TableIdentifier(collection, ref))
}

func (m *MutableSnapshot) addDocPart(database, collection string, ref docpath.TableRef, id string) (*DocPart, error) {
	m.checkWritable()
	db := m.databases[database]
	col := db.collections[collection]
	if dp := col.DocPart(ref); dp != nil {
		if dp.identifier != id {
			return nil, errors.SchemaConflict(id, dp.identifier, ref.String()).WithDetail("collection", collection)
		}
		return dp, nil
	}
	owner := tableOwner{collection: collection, ref: ref}
	if other, ok := db.tables[id]; ok {
		return nil, errors.SchemaConflict(id, other.String(), owner.String()).WithDetail("database", database)
	}
	db = m.writableDatabase(database)
	col = m.writableCollection(database, collection)
	dp := &DocPart{
		tx:         m.tx,
		database:   database,
		collection: collection,
		ref:        ref,
		identifier: id,
		byKey:      map[fieldKey]*Field{},
		byIdent:    map[string]*Field{},
	}
	col.docParts.ReplaceOrInsert(dp)
	col.byIdent[id] = dp
	db.tables[id] = owner
	m.changes = append(m.changes, Change{Kind: AddedDocPart, Database: database, Collection: collection, Ref: ref, Identifier: id})
	return dp, nil
}

// Field returns the column of dp for values of type typ under name, creating
// it if needed. dp may be any version of the doc-part obtained from m.
func (m *MutableSnapshot) Field(dp *DocPart, name string, typ FieldType) (*Field, error) {
	if !typ.Valid() {
		return nil, errors.Internal(fmt.Sprintf("invalid field type %d", uint8(typ)))
	}
	return m.addField(dp.database, dp.collection, dp.ref, name, typ, m.factory.ColumnIdentifier(dp.ref, name, typ))
}

func (m *MutableSnapshot) addField(database, collection string, ref docpath.TableRef, name string, typ FieldType, id string) (*Field, error) {
	m.checkWritable()
	col := m.Collection(database, collection)
	if col == nil {
		return nil, errors.NotFound("collection " + database + "." + collection)
	}
	dp := col.DocPart(ref)
	if dp == nil {
		return nil, errors.NotFound("doc-part " + ref.String())
	}
	if f := dp.byKey[fieldKey{name, typ}]; f != nil {
		if f.identifier != id {
			return nil, errors.SchemaConflict(id, f.identifier, name).WithDetail("table", dp.identifier)
		}
		return f, nil
	}
	if other := dp.byIdent[id]; other != nil {
		return nil, errors.SchemaConflict(id, other.name+":"+other.typ.String(), name+":"+typ.String()).WithDetail("table", dp.identifier)
	}
	dp = m.writableDocPart(database, collection, ref)
	f := &Field{name: name, typ: typ, identifier: id}
	dp.fields = append(dp.fields, f)
	dp.byKey[fieldKey{name, typ}] = f
	dp.byIdent[id] = f
	m.changes = append(m.changes, Change{Kind: AddedField, Database: database, Collection: collection, Ref: ref, FieldName: name, FieldType: typ, Identifier: id})
	return f, nil
}

// Immutable seals the working copy and returns it as the next snapshot. The
// MutableSnapshot must not be modified afterward.
func (m *MutableSnapshot) Immutable() *Snapshot {
	m.sealed = true
	return &Snapshot{
		version:   m.base.version + 1,
		tx:        m.tx,
		databases: m.databases,
		order:     m.order,
	}
}

func (m *MutableSnapshot) checkWritable() {
	if m.sealed {
		panic("meta: MutableSnapshot used after Immutable")
	}
}

func (m *MutableSnapshot) writableDatabase(name string) *Database {
	db := m.databases[name]
	if db.tx != m.tx {
		db = db.clone(m.tx)
		m.databases[name] = db
	}
	return db
}

func (m *MutableSnapshot) writableCollection(database, name string) *Collection {
	db := m.writableDatabase(database)
	col := db.collections[name]
	if col.tx != m.tx {
		col = col.clone(m.tx)
		db.collections[name] = col
	}
	return col
}

func (m *MutableSnapshot) writableDocPart(database, collection string, ref docpath.TableRef) *DocPart {
	col := m.writableCollection(database, collection)
	dp := col.DocPart(ref)
	if dp.tx != m.tx {
		dp = dp.clone(m.tx)
		col.docParts.ReplaceOrInsert(dp)
		col.byIdent[dp.identifier] = dp
	}
	return dp
}
