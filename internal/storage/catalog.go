// Persists schema additions so the committed snapshot survives restarts.

package storage

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/maruel/docrel/internal/docpath"
	"github.com/maruel/docrel/internal/jsonldb"
	"github.com/maruel/docrel/internal/meta"
	"github.com/maruel/ksid"
)

const catalogFile = "catalog.jsonl"

// catalogEntry is one schema addition, in commit order.
type catalogEntry struct {
	ID         int64    `json:"id"`
	Tx         ksid.ID  `json:"tx"`
	Kind       string   `json:"kind"`
	Database   string   `json:"database"`
	Collection string   `json:"collection,omitempty"`
	Path       []string `json:"path,omitempty"`
	Field      string   `json:"field,omitempty"`
	Type       string   `json:"type,omitempty"`
	Identifier string   `json:"identifier"`
}

func (e *catalogEntry) Clone() *catalogEntry {
	c := *e
	c.Path = append([]string(nil), e.Path...)
	return &c
}

func (e *catalogEntry) GetID() int64 {
	return e.ID
}

var catalogColumns = []jsonldb.Column{
	{Name: "id", Type: "LONG"},
	{Name: "tx", Type: "STRING"},
	{Name: "kind", Type: "STRING"},
	{Name: "database", Type: "STRING"},
	{Name: "collection", Type: "STRING"},
	{Name: "path", Type: "ARRAY"},
	{Name: "field", Type: "STRING"},
	{Name: "type", Type: "STRING"},
	{Name: "identifier", Type: "STRING"},
}

var changeKinds = map[string]meta.ChangeKind{}

func init() {
	for _, k := range []meta.ChangeKind{meta.AddedDatabase, meta.AddedCollection, meta.AddedDocPart, meta.AddedField} {
		changeKinds[k.String()] = k
	}
}

func (e *catalogEntry) change() (meta.Change, error) {
	kind, ok := changeKinds[e.Kind]
	if !ok {
		return meta.Change{}, fmt.Errorf("catalog entry %d: unknown kind %q", e.ID, e.Kind)
	}
	c := meta.Change{
		Kind:       kind,
		Database:   e.Database,
		Collection: e.Collection,
		Ref:        docpath.FromPath(e.Path),
		FieldName:  e.Field,
		Identifier: e.Identifier,
	}
	if kind == meta.AddedField {
		ft, err := meta.ParseFieldType(e.Type)
		if err != nil {
			return meta.Change{}, fmt.Errorf("catalog entry %d: %w", e.ID, err)
		}
		c.FieldType = ft
	}
	return c, nil
}

// key identifies the logical entity an entry adds.
func (e *catalogEntry) key() string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%q\x00%s\x00%s", e.Kind, e.Database, e.Collection, e.Path, e.Field, e.Type)
}

// catalog is the append-only log of schema additions.
type catalog struct {
	mu        sync.Mutex
	table     *jsonldb.Table[*catalogEntry]
	persisted map[string]bool
	lastID    int64
}

// openCatalog loads the catalog in root and rebuilds the committed snapshot.
// Each transaction of the catalog is replayed as one commit so the snapshot
// version survives restarts. It returns a nil snapshot when the catalog is
// empty.
func openCatalog(root string, factory meta.IdentifierFactory) (*catalog, *meta.Snapshot, error) {
	table, err := jsonldb.NewTable[*catalogEntry](filepath.Join(root, catalogFile), catalogColumns)
	if err != nil {
		return nil, nil, err
	}
	c := &catalog{table: table, persisted: map[string]bool{}}
	if table.Len() == 0 {
		return c, nil, nil
	}
	snap := meta.Empty()
	var m *meta.MutableSnapshot
	var tx ksid.ID
	for e := range table.All() {
		if m != nil && e.Tx != tx {
			snap = m.Immutable()
			m = nil
		}
		if m == nil {
			m = meta.NewMutable(snap, factory)
			tx = e.Tx
		}
		ch, err := e.change()
		if err != nil {
			return nil, nil, err
		}
		if err := m.Apply(ch); err != nil {
			return nil, nil, fmt.Errorf("catalog entry %d: %w", e.ID, err)
		}
		c.persisted[e.key()] = true
		c.lastID = e.ID
	}
	return c, m.Immutable(), nil
}

// sync appends the entities of snap missing from the catalog, parents
// first. It returns true when the file was modified. Entities left behind by
// a failed sync are picked up by the next one.
func (c *catalog) sync(tx ksid.ID, snap *meta.Snapshot) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var entries []*catalogEntry
	id := c.lastID
	add := func(e *catalogEntry) {
		if c.persisted[e.key()] {
			return
		}
		id++
		e.ID = id
		e.Tx = tx
		entries = append(entries, e)
	}
	for db := range snap.Databases() {
		add(&catalogEntry{Kind: meta.AddedDatabase.String(), Database: db.Name(), Identifier: db.Identifier()})
		for col := range db.Collections() {
			add(&catalogEntry{Kind: meta.AddedCollection.String(), Database: db.Name(), Collection: col.Name(), Identifier: col.Identifier()})
			for dp := range col.DocParts() {
				path := dp.Ref().Path()
				add(&catalogEntry{Kind: meta.AddedDocPart.String(), Database: db.Name(), Collection: col.Name(), Path: path, Identifier: dp.Identifier()})
				for _, f := range dp.Fields() {
					add(&catalogEntry{
						Kind:       meta.AddedField.String(),
						Database:   db.Name(),
						Collection: col.Name(),
						Path:       path,
						Field:      f.Name(),
						Type:       f.Type().String(),
						Identifier: f.Identifier(),
					})
				}
			}
		}
	}
	if len(entries) == 0 {
		return false, nil
	}
	if err := c.table.Append(entries...); err != nil {
		return false, fmt.Errorf("failed to persist catalog: %w", err)
	}
	for _, e := range entries {
		c.persisted[e.key()] = true
	}
	c.lastID = id
	return true, nil
}

func (c *catalog) len() int {
	return c.table.Len()
}
