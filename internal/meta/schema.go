// Package meta is the in-memory model of the relational schema that documents
// are stored into: databases, collections, doc-part tables and typed columns.
//
// A committed [Snapshot] is immutable and safe for concurrent readers. Writes
// go through a [MutableSnapshot], a copy-on-write overlay of one Snapshot
// owned by a single transaction.
package meta

import (
	"iter"
	"slices"
	"sync"

	"github.com/google/btree"
	"github.com/maruel/docrel/internal/docpath"
	"github.com/maruel/ksid"
)

// IdentifierFactory derives storage identifiers. Implementations must be pure:
// the same arguments always return the same identifier.
type IdentifierFactory interface {
	DatabaseIdentifier(name string) string
	CollectionIdentifier(name string) string
	TableIdentifier(collection string, ref docpath.TableRef) string
	ColumnIdentifier(ref docpath.TableRef, field string, ft FieldType) string
}

// Field is a typed column of a doc-part. It never changes once created.
type Field struct {
	name       string
	typ        FieldType
	identifier string
}

// Name returns the document field name, or "$<level>" for array elements.
func (f *Field) Name() string { return f.name }

// Type returns the type of the values stored in the column.
func (f *Field) Type() FieldType { return f.typ }

// Identifier returns the column name.
func (f *Field) Identifier() string { return f.identifier }

type fieldKey struct {
	name string
	typ  FieldType
}

// DocPart is the table of one structural location of a collection's documents.
type DocPart struct {
	tx         ksid.ID
	database   string
	collection string
	ref        docpath.TableRef
	identifier string
	fields     []*Field
	byKey      map[fieldKey]*Field
	byIdent    map[string]*Field
}

// Ref returns the location of the doc-part in the documents.
func (d *DocPart) Ref() docpath.TableRef { return d.ref }

// Identifier returns the table name.
func (d *DocPart) Identifier() string { return d.identifier }

// Database returns the name of the owning database.
func (d *DocPart) Database() string { return d.database }

// Collection returns the name of the owning collection.
func (d *DocPart) Collection() string { return d.collection }

// Fields returns the columns in creation order.
func (d *DocPart) Fields() []*Field { return slices.Clone(d.fields) }

// NumFields returns the number of columns.
func (d *DocPart) NumFields() int { return len(d.fields) }

// Field returns the column holding values of type typ for name, or nil.
func (d *DocPart) Field(name string, typ FieldType) *Field { return d.byKey[fieldKey{name, typ}] }

// FieldByIdentifier returns the column named id, or nil.
func (d *DocPart) FieldByIdentifier(id string) *Field { return d.byIdent[id] }

func (d *DocPart) clone(tx ksid.ID) *DocPart {
	return &DocPart{
		tx:         tx,
		database:   d.database,
		collection: d.collection,
		ref:        d.ref,
		identifier: d.identifier,
		fields:     slices.Clone(d.fields),
		byKey:      cloneMap(d.byKey),
		byIdent:    cloneMap(d.byIdent),
	}
}

func docPartLess(a, b *DocPart) bool { return a.ref.Less(b.ref) }

// Collection is a set of doc-parts ordered parent before child.
type Collection struct {
	tx         ksid.ID
	database   string
	name       string
	identifier string
	// mu serializes Clone, which writes to the source tree.
	mu       sync.Mutex
	docParts *btree.BTreeG[*DocPart]
	byIdent  map[string]*DocPart
}

func newCollection(tx ksid.ID, database, name, identifier string) *Collection {
	return &Collection{
		tx:         tx,
		database:   database,
		name:       name,
		identifier: identifier,
		docParts:   btree.NewG(8, docPartLess),
		byIdent:    map[string]*DocPart{},
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Identifier returns the storage name of the collection.
func (c *Collection) Identifier() string { return c.identifier }

// Database returns the name of the owning database.
func (c *Collection) Database() string { return c.database }

// DocPart returns the doc-part at ref, or nil.
func (c *Collection) DocPart(ref docpath.TableRef) *DocPart {
	dp, _ := c.docParts.Get(&DocPart{ref: ref})
	return dp
}

// DocPartByIdentifier returns the doc-part whose table is named id, or nil.
func (c *Collection) DocPartByIdentifier(id string) *DocPart { return c.byIdent[id] }

// NumDocParts returns the number of doc-parts.
func (c *Collection) NumDocParts() int { return c.docParts.Len() }

// DocParts iterates over the doc-parts, each parent before its children.
func (c *Collection) DocParts() iter.Seq[*DocPart] {
	return func(yield func(*DocPart) bool) {
		c.docParts.Ascend(func(dp *DocPart) bool { return yield(dp) })
	}
}

func (c *Collection) clone(tx ksid.ID) *Collection {
	c.mu.Lock()
	t := c.docParts.Clone()
	c.mu.Unlock()
	return &Collection{
		tx:         tx,
		database:   c.database,
		name:       c.name,
		identifier: c.identifier,
		docParts:   t,
		byIdent:    cloneMap(c.byIdent),
	}
}

// tableOwner is the logical key that claimed a table identifier.
type tableOwner struct {
	collection string
	ref        docpath.TableRef
}

func (o tableOwner) String() string {
	return o.collection + ":" + o.ref.String()
}

// Database is a set of collections.
type Database struct {
	tx          ksid.ID
	name        string
	identifier  string
	collections map[string]*Collection
	order       []string
	byIdent     map[string]string
	tables      map[string]tableOwner
}

func newDatabase(tx ksid.ID, name, identifier string) *Database {
	return &Database{
		tx:          tx,
		name:        name,
		identifier:  identifier,
		collections: map[string]*Collection{},
		byIdent:     map[string]string{},
		tables:      map[string]tableOwner{},
	}
}

// Name returns the database name.
func (d *Database) Name() string { return d.name }

// Identifier returns the storage name of the database.
func (d *Database) Identifier() string { return d.identifier }

// Collection returns the collection named name, or nil.
func (d *Database) Collection(name string) *Collection { return d.collections[name] }

// Collections iterates over the collections in creation order.
func (d *Database) Collections() iter.Seq[*Collection] {
	return func(yield func(*Collection) bool) {
		for _, n := range d.order {
			if !yield(d.collections[n]) {
				return
			}
		}
	}
}

func (d *Database) clone(tx ksid.ID) *Database {
	return &Database{
		tx:          tx,
		name:        d.name,
		identifier:  d.identifier,
		collections: cloneMap(d.collections),
		order:       slices.Clone(d.order),
		byIdent:     cloneMap(d.byIdent),
		tables:      cloneMap(d.tables),
	}
}

// View is read access to a schema, committed or not.
type View interface {
	Database(name string) *Database
	Collection(database, name string) *Collection
}

// Snapshot is an immutable version of the schema.
type Snapshot struct {
	version   uint64
	tx        ksid.ID
	databases map[string]*Database
	order     []string
}

// Empty returns a snapshot without databases.
func Empty() *Snapshot {
	return &Snapshot{databases: map[string]*Database{}}
}

// Version returns the number of commits that added to the schema up to this
// snapshot. Commits without additions keep the version.
func (s *Snapshot) Version() uint64 { return s.version }

// Tx returns the id of the transaction that produced this snapshot, or the
// zero ID for Empty.
func (s *Snapshot) Tx() ksid.ID { return s.tx }

// Database returns the database named name, or nil.
func (s *Snapshot) Database(name string) *Database { return s.databases[name] }

// Collection returns the collection, or nil.
func (s *Snapshot) Collection(database, name string) *Collection {
	if db := s.databases[database]; db != nil {
		return db.collections[name]
	}
	return nil
}

// Databases iterates over the databases in creation order.
func (s *Snapshot) Databases() iter.Seq[*Database] {
	return func(yield func(*Database) bool) {
		for _, n := range s.order {
			if !yield(s.databases[n]) {
				return
			}
		}
	}
}

var (
	_ View = (*Snapshot)(nil)
	_ View = (*MutableSnapshot)(nil)
)

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
