// Describes the stored schema: tables, columns, JSON Schema and statistics.

package storage

import (
	"context"
	"os"
	"slices"

	"github.com/invopop/jsonschema"
	"github.com/maruel/docrel/internal/docpath"
	"github.com/maruel/docrel/internal/errors"
	"github.com/maruel/docrel/internal/meta"
)

// CollectionName names a collection.
type CollectionName struct {
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

// ColumnInfo describes a column of a doc-part table.
type ColumnInfo struct {
	Identifier string `json:"identifier"`
	Field      string `json:"field"`
	Type       string `json:"type"`
}

// TableInfo describes a doc-part table.
type TableInfo struct {
	Identifier string `json:"identifier"`
	// Path is the position of the doc-part in the documents, empty for the
	// root.
	Path    []string     `json:"path,omitempty"`
	Parent  string       `json:"parent,omitempty"`
	Columns []ColumnInfo `json:"columns"`
	Rows    int          `json:"rows"`
	Bytes   int64        `json:"bytes"`
}

// CollectionInfo describes the tables of a collection, parent tables first.
type CollectionInfo struct {
	Database   string      `json:"database"`
	Collection string      `json:"collection"`
	Directory  string      `json:"directory"`
	Documents  int         `json:"documents"`
	Tables     []TableInfo `json:"tables"`
}

// Stats summarizes the data directory.
type Stats struct {
	Version     uint64 `json:"version"`
	Databases   int    `json:"databases"`
	Collections int    `json:"collections"`
	Tables      int    `json:"tables"`
	Columns     int    `json:"columns"`
	Documents   int    `json:"documents"`
	Rows        int    `json:"rows"`
	Bytes       int64  `json:"bytes"`
	Commits     int    `json:"commits"`
}

// Collections lists the collections in creation order.
func (s *Service) Collections() []CollectionName {
	var out []CollectionName
	for db := range s.store.Snapshot().Databases() {
		for col := range db.Collections() {
			out = append(out, CollectionName{Database: db.Name(), Collection: col.Name()})
		}
	}
	return out
}

// Describe returns the tables and columns of collection.
func (s *Service) Describe(_ context.Context, database, collection string) (*CollectionInfo, error) {
	snap := s.store.Snapshot()
	col := snap.Collection(database, collection)
	if col == nil {
		return nil, errors.NotFound("collection " + database + "." + collection)
	}
	cs := s.state(database, collection)
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	dir := s.collectionDir(snap, database, collection)
	info := &CollectionInfo{Database: database, Collection: collection, Directory: s.rel(dir)}
	for dp := range col.DocParts() {
		t, err := cs.table(dir, dp)
		if err != nil {
			return nil, err
		}
		ti := TableInfo{Identifier: dp.Identifier(), Path: dp.Ref().Path(), Rows: t.Len()}
		if fi, err := os.Stat(t.Path()); err == nil {
			ti.Bytes = fi.Size()
		}
		if !dp.Ref().IsRoot() {
			ti.Parent = col.DocPart(dp.Ref().Parent()).Identifier()
		} else {
			info.Documents = ti.Rows
		}
		for _, f := range dp.Fields() {
			ti.Columns = append(ti.Columns, ColumnInfo{Identifier: f.Identifier(), Field: f.Name(), Type: f.Type().String()})
		}
		info.Tables = append(info.Tables, ti)
	}
	return info, nil
}

// Stats returns counters over every collection.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Version: s.store.Snapshot().Version()}
	seen := map[string]bool{}
	for _, n := range s.Collections() {
		if !seen[n.Database] {
			seen[n.Database] = true
			st.Databases++
		}
		st.Collections++
		info, err := s.Describe(ctx, n.Database, n.Collection)
		if err != nil {
			return nil, err
		}
		st.Documents += info.Documents
		for _, t := range info.Tables {
			st.Tables++
			st.Columns += len(t.Columns)
			st.Rows += t.Rows
			st.Bytes += t.Bytes
		}
	}
	if s.history != nil {
		commits, err := s.history.log(0)
		if err != nil {
			return nil, err
		}
		st.Commits = len(commits)
	}
	return st, nil
}

// JSONSchema describes the documents of collection as they were observed.
//
// Each field lists every type it was seen with. A nested container is
// described as either an object or an array since both share a doc-part.
func (s *Service) JSONSchema(_ context.Context, database, collection string) (*jsonschema.Schema, error) {
	col := s.store.Snapshot().Collection(database, collection)
	if col == nil {
		return nil, errors.NotFound("collection " + database + "." + collection)
	}
	root := col.DocPart(docpath.Root())
	if root == nil {
		return nil, errors.NotFound("collection " + database + "." + collection + " has no documents")
	}
	b := schemaBuilder{col: col}
	out := b.object(root)
	out.Version = jsonschema.Version
	out.Title = database + "." + collection
	return out, nil
}

type schemaBuilder struct {
	col *meta.Collection
}

// object describes the object fields of dp.
func (b *schemaBuilder) object(dp *meta.DocPart) *jsonschema.Schema {
	props := jsonschema.NewProperties()
	var names []string
	types := map[string][]meta.FieldType{}
	for _, f := range dp.Fields() {
		if docpath.IsLevelName(f.Name()) {
			continue
		}
		if _, ok := types[f.Name()]; !ok {
			names = append(names, f.Name())
		}
		types[f.Name()] = append(types[f.Name()], f.Type())
	}
	for _, n := range names {
		props.Set(n, b.value(dp.Ref().Child(n), types[n]))
	}
	return &jsonschema.Schema{Type: "object", Properties: props}
}

// value describes a position holding values of types. ref is the doc-part
// used when one of the types is CHILD.
func (b *schemaBuilder) value(ref docpath.TableRef, types []meta.FieldType) *jsonschema.Schema {
	var alts []*jsonschema.Schema
	for _, ft := range types {
		if ft != meta.Child {
			alts = append(alts, scalarSchema(ft))
			continue
		}
		if child := b.col.DocPart(ref); child != nil && (hasObjectFields(child) || child.NumFields() == 0) {
			alts = append(alts, b.object(child))
		}
		alts = append(alts, b.array(ref))
	}
	if len(alts) == 1 {
		return alts[0]
	}
	return &jsonschema.Schema{AnyOf: alts}
}

// array describes an array whose elements are stored in the doc-part at ref.
func (b *schemaBuilder) array(ref docpath.TableRef) *jsonschema.Schema {
	dp := b.col.DocPart(ref)
	if dp == nil {
		// Only empty arrays were seen.
		return &jsonschema.Schema{Type: "array"}
	}
	return &jsonschema.Schema{Type: "array", Items: b.element(dp)}
}

// element describes the elements of the array stored in dp.
func (b *schemaBuilder) element(dp *meta.DocPart) *jsonschema.Schema {
	level := dp.Ref().ArrayLevel()
	var alts []*jsonschema.Schema
	for _, f := range dp.Fields() {
		switch f.Name() {
		case docpath.LevelName(level):
			alts = append(alts, scalarSchema(f.Type()))
		case docpath.LevelName(level + 1):
			alts = append(alts, b.array(dp.Ref().ChildLevel(level+1)))
		}
	}
	if hasObjectFields(dp) {
		alts = append(alts, b.object(dp))
	}
	switch len(alts) {
	case 0:
		return &jsonschema.Schema{}
	case 1:
		return alts[0]
	default:
		return &jsonschema.Schema{AnyOf: alts}
	}
}

func hasObjectFields(dp *meta.DocPart) bool {
	return slices.ContainsFunc(dp.Fields(), func(f *meta.Field) bool { return !docpath.IsLevelName(f.Name()) })
}

func scalarSchema(ft meta.FieldType) *jsonschema.Schema {
	switch ft {
	case meta.Null:
		return &jsonschema.Schema{Type: "null"}
	case meta.Boolean:
		return &jsonschema.Schema{Type: "boolean"}
	case meta.Integer:
		return &jsonschema.Schema{Type: "integer", Format: "int32"}
	case meta.Long:
		return &jsonschema.Schema{Type: "integer", Format: "int64"}
	case meta.Double:
		return &jsonschema.Schema{Type: "number"}
	case meta.String:
		return &jsonschema.Schema{Type: "string"}
	case meta.Date:
		return &jsonschema.Schema{Type: "string", Format: "date"}
	case meta.Time:
		return &jsonschema.Schema{Type: "string", Format: "time"}
	case meta.Instant:
		return &jsonschema.Schema{Type: "string", Format: "date-time"}
	case meta.MongoObjectID:
		return &jsonschema.Schema{Type: "string", Pattern: "^[0-9a-f]{24}$"}
	case meta.MongoTimestamp:
		return &jsonschema.Schema{Type: "object", Description: "MongoDB timestamp"}
	case meta.Binary:
		return &jsonschema.Schema{Type: "string", ContentEncoding: "base64"}
	default:
		return &jsonschema.Schema{}
	}
}
