// Rebuilds documents from doc-part rows.

package d2r

import (
	"fmt"
	"slices"

	"github.com/maruel/docrel/internal/docpath"
	"github.com/maruel/docrel/internal/errors"
	"github.com/maruel/docrel/internal/kvdoc"
	"github.com/maruel/docrel/internal/meta"
)

// Result is a rebuilt document.
type Result struct {
	Did int64
	Doc *kvdoc.Document
}

// ReadDocuments rebuilds the documents whose rows are in data, in ascending
// did order. col describes the columns of every doc-part in data.
//
// Object keys come out in column creation order. A row whose parent row is
// missing, or a CHILD column set to true without child rows, is reported as a
// ROW_LINKAGE error.
func ReadDocuments(col *meta.Collection, data *CollectionData) ([]Result, error) {
	if col == nil {
		return nil, errors.NotFound("collection " + data.Database + "." + data.Collection)
	}
	type docRows struct {
		root     []*Row
		children map[childKey][]*Row
		used     map[childKey]bool
	}
	docs := map[int64]*docRows{}
	for _, part := range data.DocParts() {
		if col.DocPart(part.Ref) == nil {
			return nil, errors.NotFound("doc-part " + part.Ref.String()).WithDetail("table", part.Identifier)
		}
		for _, r := range part.Rows {
			d := docs[r.Did]
			if d == nil {
				d = &docRows{children: map[childKey][]*Row{}, used: map[childKey]bool{}}
				docs[r.Did] = d
			}
			if part.Ref.IsRoot() {
				d.root = append(d.root, r)
				continue
			}
			k := childKey{ref: part.Ref.Key(), pid: r.Pid}
			d.children[k] = append(d.children[k], r)
		}
	}
	dids := make([]int64, 0, len(docs))
	for did := range docs {
		dids = append(dids, did)
	}
	slices.Sort(dids)
	out := make([]Result, 0, len(dids))
	for _, did := range dids {
		d := docs[did]
		switch len(d.root) {
		case 1:
		case 0:
			return nil, errors.New(errors.ErrRowLinkage, "document has no root row").WithDetail("did", did)
		default:
			return nil, errors.New(errors.ErrRowLinkage, "document has several root rows").WithDetail("did", did)
		}
		b := builder{col: col, children: d.children, used: d.used}
		root := col.DocPart(docpath.Root())
		doc, err := b.object(root, d.root[0])
		if err != nil {
			return nil, err
		}
		for k, rows := range d.children {
			if !d.used[k] {
				return nil, orphan(col, k, rows[0])
			}
		}
		out = append(out, Result{Did: did, Doc: doc})
	}
	return out, nil
}

type childKey struct {
	ref string
	pid int64
}

func orphan(col *meta.Collection, k childKey, r *Row) error {
	table := ""
	for dp := range col.DocParts() {
		if dp.Ref().Key() == k.ref {
			table = dp.Identifier()
			break
		}
	}
	return errors.RowLinkage(table, r.Rid, r.Pid).WithDetail("did", r.Did)
}

type builder struct {
	col      *meta.Collection
	children map[childKey][]*Row
	used     map[childKey]bool
}

func (b *builder) object(dp *meta.DocPart, row *Row) (*kvdoc.Document, error) {
	if err := checkColumns(dp, row); err != nil {
		return nil, err
	}
	doc := kvdoc.NewDocument()
	for _, f := range dp.Fields() {
		v, ok := row.Values[f.Identifier()]
		if !ok || docpath.IsLevelName(f.Name()) {
			continue
		}
		if f.Type() != meta.Child {
			doc.Set(f.Name(), v)
			continue
		}
		c, err := b.child(dp, row, f, v)
		if err != nil {
			return nil, err
		}
		doc.Set(f.Name(), c)
	}
	return doc, nil
}

// child rebuilds the container flagged by the CHILD column f of row.
func (b *builder) child(dp *meta.DocPart, row *Row, f *meta.Field, flag kvdoc.Value) (kvdoc.Value, error) {
	present, ok := flag.(kvdoc.Bool)
	if !ok {
		return nil, errors.Internal(fmt.Sprintf("column %s holds %T", f.Identifier(), flag))
	}
	if !present {
		return kvdoc.Array{}, nil
	}
	ref := dp.Ref().Child(f.Name())
	child := b.col.DocPart(ref)
	k := childKey{ref: ref.Key(), pid: row.Rid}
	rows := b.children[k]
	if child == nil || len(rows) == 0 {
		return nil, errors.New(errors.ErrRowLinkage, "child rows not found").
			WithDetails(map[string]any{"table": dp.Identifier(), "column": f.Identifier(), "rid": row.Rid, "did": row.Did})
	}
	b.used[k] = true
	if len(rows) == 1 && !rows[0].HasSeq() {
		return b.object(child, rows[0])
	}
	rows = slices.Clone(rows)
	slices.SortFunc(rows, func(x, y *Row) int { return x.Seq - y.Seq })
	arr := make(kvdoc.Array, 0, len(rows))
	for i, r := range rows {
		if r.Seq != i {
			return nil, errors.New(errors.ErrRowLinkage, "array element missing").
				WithDetails(map[string]any{"table": child.Identifier(), "pid": row.Rid, "seq": i, "did": row.Did})
		}
		e, err := b.element(child, r)
		if err != nil {
			return nil, err
		}
		arr = append(arr, e)
	}
	return arr, nil
}

// element rebuilds the array element stored in row: a scalar in the
// "$<level>" column, a nested array behind the "$<level+1>" CHILD column, or
// an object.
func (b *builder) element(dp *meta.DocPart, row *Row) (kvdoc.Value, error) {
	level := dp.Ref().ArrayLevel()
	scalar, nested := docpath.LevelName(level), docpath.LevelName(level+1)
	for _, f := range dp.Fields() {
		v, ok := row.Values[f.Identifier()]
		if !ok {
			continue
		}
		switch {
		case f.Name() == scalar && f.Type() != meta.Child:
			return v, nil
		case f.Name() == nested && f.Type() == meta.Child:
			if err := checkColumns(dp, row); err != nil {
				return nil, err
			}
			return b.child(dp, row, f, v)
		}
	}
	return b.object(dp, row)
}

// checkColumns verifies every column of row is known and holds its type.
func checkColumns(dp *meta.DocPart, row *Row) error {
	for id, v := range row.Values {
		f := dp.FieldByIdentifier(id)
		if f == nil {
			return errors.NotFound("column " + id).WithDetail("table", dp.Identifier())
		}
		if f.Type() == meta.Child {
			continue
		}
		if ft, ok := FieldTypeOf(v); !ok || ft != f.Type() {
			return errors.Internal(fmt.Sprintf("column %s of type %s holds %T", id, f.Type(), v)).WithDetail("table", dp.Identifier())
		}
	}
	return nil
}
