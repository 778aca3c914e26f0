// Package d2r decomposes documents into doc-part rows and reassembles them.
//
// Every object key of a document becomes a typed column of the doc-part the
// object belongs to. A nested object becomes a single row of a child
// doc-part; an array becomes one row per element in a child doc-part, each
// row carrying its index in Seq. Scalar array elements live in a "$<level>"
// column of the element row and nested arrays in a "$<level+1>" grandchild
// doc-part. The parent row gets a CHILD column for each nested container: true
// when child rows exist, false for an empty array.
package d2r

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/maruel/docrel/internal/docpath"
	"github.com/maruel/docrel/internal/errors"
	"github.com/maruel/docrel/internal/kvdoc"
	"github.com/maruel/docrel/internal/meta"
	"github.com/maruel/docrel/internal/rid"
)

// DefaultIdentityField is the field every document must have at its root.
const DefaultIdentityField = "_id"

// NoSeq is the Seq of rows that are not array elements.
const NoSeq = -1

// Row is one row of a doc-part table.
type Row struct {
	Rid int64
	// Pid is the Rid of the owning row in the parent doc-part, 0 for root
	// rows.
	Pid int64
	Did int64
	// Seq is the index of the element in its array, NoSeq otherwise.
	Seq int
	// Values maps column identifiers to values. A missing column is distinct
	// from a column holding kvdoc.Null.
	Values map[string]kvdoc.Value
}

// HasSeq reports whether the row is an array element.
func (r *Row) HasSeq() bool { return r.Seq >= 0 }

// DocPartData is a batch of rows for one doc-part table.
type DocPartData struct {
	Ref        docpath.TableRef
	Identifier string
	Rows       []*Row
}

// CollectionData accumulates the rows of the documents translated into one
// collection.
type CollectionData struct {
	Database   string
	Collection string
	// Dids lists the translated documents in order.
	Dids  []int64
	parts map[string]*DocPartData
}

func newCollectionData(database, collection string) *CollectionData {
	return &CollectionData{Database: database, Collection: collection, parts: map[string]*DocPartData{}}
}

// NewCollectionData returns an empty batch. Storage readers fill it with Add.
func NewCollectionData(database, collection string) *CollectionData {
	return newCollectionData(database, collection)
}

// Add appends rows to the batch of the doc-part at ref.
func (c *CollectionData) Add(ref docpath.TableRef, identifier string, rows ...*Row) {
	p := c.parts[ref.Key()]
	if p == nil {
		p = &DocPartData{Ref: ref, Identifier: identifier}
		c.parts[ref.Key()] = p
	}
	p.Rows = append(p.Rows, rows...)
}

// DocParts returns the batches, each parent before its children.
func (c *CollectionData) DocParts() []*DocPartData {
	out := make([]*DocPartData, 0, len(c.parts))
	for _, p := range c.parts {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *DocPartData) int { return a.Ref.Compare(b.Ref) })
	return out
}

// DocPart returns the batch of the doc-part at ref, or nil.
func (c *CollectionData) DocPart(ref docpath.TableRef) *DocPartData {
	return c.parts[ref.Key()]
}

// NumRows returns the total number of rows.
func (c *CollectionData) NumRows() int {
	n := 0
	for _, p := range c.parts {
		n += len(p.Rows)
	}
	return n
}

// Options configures a Translator.
type Options struct {
	// IdentityField is the root field every document must have. Empty means
	// DefaultIdentityField.
	IdentityField string
	// NoIdentity disables the identity field check.
	NoIdentity bool
}

type state uint8

const (
	idle state = iota
	walking
	accumulated
)

// Translator decomposes documents of one collection against a
// MutableSnapshot. It belongs to a single write transaction and must not be
// used concurrently.
type Translator struct {
	snap     *meta.MutableSnapshot
	gen      *rid.Generator
	database string
	col      string
	identity string
	check    bool
	state    state
	data     *CollectionData
}

// New returns a Translator for collection in database.
func New(snap *meta.MutableSnapshot, gen *rid.Generator, database, collection string, opts Options) *Translator {
	id := opts.IdentityField
	if id == "" {
		id = DefaultIdentityField
	}
	return &Translator{
		snap:     snap,
		gen:      gen,
		database: database,
		col:      collection,
		identity: id,
		check:    !opts.NoIdentity,
		data:     newCollectionData(database, collection),
	}
}

// Translate decomposes doc and returns its document id.
//
// The schema additions and rows of doc are only kept when the whole document
// translates successfully. On error the snapshot, the generator and the
// accumulated rows are left as they were before the call.
func (t *Translator) Translate(doc *kvdoc.Document) (int64, error) {
	if t.state == walking {
		return 0, errors.Internal("Translate called while walking")
	}
	if t.check {
		v, ok := doc.Get(t.identity)
		if !ok {
			return 0, errors.Translation(t.identity, "document is missing its identity field").WithDetail("collection", t.col)
		}
		if _, isArray := v.(kvdoc.Array); isArray {
			return 0, errors.Translation(t.identity, "identity field cannot be an array").WithDetail("collection", t.col)
		}
	}
	prev := t.state
	t.state = walking
	sp := t.snap.Savepoint()
	mark := t.gen.Mark()
	w := walker{t: t, did: t.gen.NextDid()}
	err := w.root(doc)
	if err != nil {
		t.snap.RollbackTo(sp)
		t.gen.Reset(mark)
		t.state = prev
		if v, ok := doc.Get(t.identity); ok {
			if e, ok := err.(*errors.Error); ok {
				e.WithDetail(t.identity, identityString(v))
			}
		}
		return 0, err
	}
	for _, s := range w.rows {
		t.data.Add(s.dp.Ref(), s.dp.Identifier(), s.row)
	}
	t.data.Dids = append(t.data.Dids, w.did)
	t.state = accumulated
	return w.did, nil
}

// CollectionData returns the rows accumulated so far.
func (t *Translator) CollectionData() *CollectionData {
	return t.data
}

// Snapshot returns the working copy of the schema.
func (t *Translator) Snapshot() *meta.MutableSnapshot {
	return t.snap
}

type stagedRow struct {
	dp  *meta.DocPart
	row *Row
}

// walker translates a single document.
type walker struct {
	t    *Translator
	did  int64
	rows []stagedRow
}

func (w *walker) root(doc *kvdoc.Document) error {
	dp, err := w.t.snap.DocPart(w.t.database, w.t.col, docpath.Root())
	if err != nil {
		return err
	}
	row := w.newRow(dp, 0, NoSeq)
	return w.object(dp, row, doc, "")
}

func (w *walker) newRow(dp *meta.DocPart, pid int64, seq int) *Row {
	r := &Row{
		Rid:    w.t.gen.NextRid(dp.Identifier()),
		Pid:    pid,
		Did:    w.did,
		Seq:    seq,
		Values: map[string]kvdoc.Value{},
	}
	w.rows = append(w.rows, stagedRow{dp: dp, row: r})
	return r
}

func (w *walker) object(dp *meta.DocPart, row *Row, doc *kvdoc.Document, path string) error {
	for k, v := range doc.All() {
		p := joinPath(path, k)
		if docpath.IsLevelName(k) {
			return errors.Translation(p, "field name %q is reserved", k).WithDetail("collection", w.t.col)
		}
		if err := w.value(dp, row, k, v, p); err != nil {
			return err
		}
	}
	return nil
}

// value stores v under field name of row. name is an object key or, for a
// nested array inside an array doc-part, a level name.
func (w *walker) value(dp *meta.DocPart, row *Row, name string, v kvdoc.Value, path string) error {
	snap := w.t.snap
	switch x := v.(type) {
	case *kvdoc.Document:
		child, err := snap.DocPart(w.t.database, w.t.col, dp.Ref().Child(name))
		if err != nil {
			return err
		}
		if err := w.setChild(dp, row, name, true); err != nil {
			return err
		}
		crow := w.newRow(child, row.Rid, NoSeq)
		return w.object(child, crow, x, path)
	case kvdoc.Array:
		if err := w.setChild(dp, row, name, len(x) != 0); err != nil {
			return err
		}
		if len(x) == 0 {
			return nil
		}
		child, err := snap.DocPart(w.t.database, w.t.col, dp.Ref().Child(name))
		if err != nil {
			return err
		}
		return w.array(child, row.Rid, x, path)
	default:
		ft, ok := FieldTypeOf(v)
		if !ok {
			return errors.Translation(path, "unsupported value %T", v).WithDetail("collection", w.t.col)
		}
		f, err := snap.Field(dp, name, ft)
		if err != nil {
			return err
		}
		row.Values[f.Identifier()] = v
		return nil
	}
}

func (w *walker) array(dp *meta.DocPart, pid int64, arr kvdoc.Array, path string) error {
	level := dp.Ref().ArrayLevel()
	for i, e := range arr {
		p := joinPath(path, strconv.Itoa(i))
		row := w.newRow(dp, pid, i)
		var err error
		switch x := e.(type) {
		case *kvdoc.Document:
			err = w.object(dp, row, x, p)
		case kvdoc.Array:
			err = w.value(dp, row, docpath.LevelName(level+1), x, p)
		default:
			err = w.value(dp, row, docpath.LevelName(level), x, p)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) setChild(dp *meta.DocPart, row *Row, name string, present bool) error {
	f, err := w.t.snap.Field(dp, name, meta.Child)
	if err != nil {
		return err
	}
	row.Values[f.Identifier()] = kvdoc.Bool(present)
	return nil
}

// FieldTypeOf returns the column type of a scalar value. Containers have none.
func FieldTypeOf(v kvdoc.Value) (meta.FieldType, bool) {
	switch v.(type) {
	case kvdoc.Null:
		return meta.Null, true
	case kvdoc.Bool:
		return meta.Boolean, true
	case kvdoc.Int32:
		return meta.Integer, true
	case kvdoc.Int64:
		return meta.Long, true
	case kvdoc.Double:
		return meta.Double, true
	case kvdoc.String:
		return meta.String, true
	case kvdoc.Date:
		return meta.Date, true
	case kvdoc.Time:
		return meta.Time, true
	case kvdoc.ObjectID:
		return meta.MongoObjectID, true
	case kvdoc.Timestamp:
		return meta.MongoTimestamp, true
	case kvdoc.Instant:
		return meta.Instant, true
	case kvdoc.Binary:
		return meta.Binary, true
	default:
		return 0, false
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func identityString(v kvdoc.Value) string {
	switch x := v.(type) {
	case kvdoc.String:
		return string(x)
	case kvdoc.ObjectID:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}
