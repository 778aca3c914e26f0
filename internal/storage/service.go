// Package storage persists decomposed documents as JSONL doc-part tables.
//
// The data directory holds catalog.jsonl, the log of schema additions, and one
// directory per database and collection with one table file per doc-part:
//
//	<root>/catalog.jsonl
//	<root>/<database>/<collection>/<table>.jsonl
//
// Writes to a collection are serialized; writes to different collections run
// concurrently and meet at meta.Store.Commit.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/maruel/docrel/internal/d2r"
	"github.com/maruel/docrel/internal/docpath"
	"github.com/maruel/docrel/internal/errors"
	"github.com/maruel/docrel/internal/ident"
	"github.com/maruel/docrel/internal/jsonldb"
	"github.com/maruel/docrel/internal/kvdoc"
	"github.com/maruel/docrel/internal/meta"
	"github.com/maruel/docrel/internal/rid"
	"golang.org/x/sync/errgroup"
)

// OnError is the policy applied to a document that fails to translate.
type OnError string

const (
	// Abort fails the whole batch.
	Abort OnError = "abort"
	// Skip logs the failing document and inserts the others.
	Skip OnError = "skip"
)

// Validate checks that the policy is known. Empty means Abort.
func (o OnError) Validate() error {
	switch o {
	case "", Abort, Skip:
		return nil
	default:
		return errors.Validation(fmt.Sprintf("unknown on_error policy %q", string(o)))
	}
}

// Options configures a Service.
type Options struct {
	// MaxIdentifierLength bounds table and column identifiers. 0 means
	// ident.DefaultMaxLength.
	MaxIdentifierLength int
	// IdentityField is the root field every document must have. Empty means
	// "_id".
	IdentityField string
	OnError       OnError
	// History commits every write to a git repository in the data directory.
	History bool
}

// Service stores collections of documents in a data directory.
type Service struct {
	root    string
	opts    Options
	factory *ident.Factory
	store   *meta.Store
	catalog *catalog
	history *history

	// commitMu orders schema commits with their catalog writes.
	commitMu sync.Mutex

	mu          sync.Mutex
	collections map[collectionKey]*collectionState
}

type collectionKey struct {
	database   string
	collection string
}

// collectionState serializes writes to one collection and caches its open
// tables.
type collectionState struct {
	mu sync.RWMutex

	tablesMu sync.Mutex
	tables   map[string]*jsonldb.Table[*storedRow]
}

// InsertResult describes a successful Insert.
type InsertResult struct {
	// Dids are the ids of the inserted documents, in input order.
	Dids []int64
	// Skipped lists the documents dropped under the Skip policy.
	Skipped []SkippedDocument
	Rows    int
	// Version is the schema version after the insert.
	Version uint64
}

// SkippedDocument is a document that failed to translate.
type SkippedDocument struct {
	Index int
	Err   error
}

// Open loads the data directory at root, creating it if needed.
func Open(ctx context.Context, root string, opts Options) (*Service, error) {
	if err := opts.OnError.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxIdentifierLength < 0 {
		return nil, errors.Validation("max identifier length must not be negative")
	}
	if err := os.MkdirAll(root, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	factory := &ident.Factory{MaxLength: opts.MaxIdentifierLength}
	cat, snap, err := openCatalog(root, factory)
	if err != nil {
		return nil, errors.Storage("failed to load catalog", err)
	}
	s := &Service{
		root:        root,
		opts:        opts,
		factory:     factory,
		store:       meta.NewStore(factory, snap),
		catalog:     cat,
		collections: map[collectionKey]*collectionState{},
	}
	if opts.History {
		if s.history, err = openHistory(root); err != nil {
			return nil, errors.Storage("failed to open history", err)
		}
	}
	slog.InfoContext(ctx, "Opened data directory", "root", root, "catalog_entries", cat.len(), "history", opts.History)
	return s, nil
}

// Root returns the data directory.
func (s *Service) Root() string {
	return s.root
}

// Snapshot returns the committed schema.
func (s *Service) Snapshot() *meta.Snapshot {
	return s.store.Snapshot()
}

// Insert translates docs and stores them in collection, creating the
// database, the collection, and any new table or column.
func (s *Service) Insert(ctx context.Context, database, collection string, docs []*kvdoc.Document) (*InsertResult, error) {
	if err := validateNames(database, collection); err != nil {
		return nil, err
	}
	cs := s.state(database, collection)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	m := s.store.Begin()
	gen := rid.New()
	if err := s.seed(cs, m.Base(), database, collection, gen); err != nil {
		return nil, err
	}
	tr := d2r.New(m, gen, database, collection, d2r.Options{IdentityField: s.opts.IdentityField})
	res := &InsertResult{}
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := tr.Translate(doc); err != nil {
			if s.opts.OnError != Skip {
				return nil, fmt.Errorf("document %d: %w", i, err)
			}
			slog.WarnContext(ctx, "Skipped document", "database", database, "collection", collection, "index", i, "err", err)
			res.Skipped = append(res.Skipped, SkippedDocument{Index: i, Err: err})
		}
	}
	data := tr.CollectionData()
	res.Dids = data.Dids
	if len(data.Dids) == 0 {
		res.Version = s.store.Snapshot().Version()
		return res, nil
	}

	head, modified, err := s.commit(m)
	if err != nil {
		return nil, err
	}
	changes := m.Changes()
	files := []string{}
	if modified {
		files = append(files, catalogFile)
	}
	written, err := s.write(ctx, cs, head, database, collection, changes, data)
	if err != nil {
		return nil, err
	}
	files = append(files, written...)
	res.Rows = data.NumRows()
	res.Version = head.Version()
	slog.InfoContext(ctx, "Inserted documents", "database", database, "collection", collection, "docs", len(data.Dids), "rows", res.Rows, "skipped", len(res.Skipped), "version", head.Version())
	if err := s.record(ctx, fmt.Sprintf("Insert %d documents into %s.%s", len(data.Dids), database, collection), files); err != nil {
		return nil, err
	}
	return res, nil
}

// commit makes the schema of m the head and persists it. Catalog writes
// follow commit order so parents are always logged before their children.
func (s *Service) commit(m *meta.MutableSnapshot) (*meta.Snapshot, bool, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	head, err := s.store.Commit(m)
	if err != nil {
		return nil, false, err
	}
	modified, err := s.catalog.sync(m.Tx(), head)
	if err != nil {
		return nil, false, errors.Storage("failed to write catalog", err)
	}
	return head, modified, nil
}

// write creates the new tables parent first, adds the new columns and appends
// the rows. It returns the files it modified, relative to the data directory.
func (s *Service) write(ctx context.Context, cs *collectionState, head *meta.Snapshot, database, collection string, changes []meta.Change, data *d2r.CollectionData) ([]string, error) {
	col := head.Collection(database, collection)
	dir := s.collectionDir(head, database, collection)
	var files []string
	widened := map[string]bool{}
	for _, c := range changes {
		if c.Database != database || c.Collection != collection {
			continue
		}
		switch c.Kind {
		case meta.AddedDocPart:
			dp := col.DocPart(c.Ref)
			t, err := cs.table(dir, dp)
			if err != nil {
				return nil, err
			}
			slog.InfoContext(ctx, "Created table", "collection", collection, "table", dp.Identifier(), "ref", dp.Ref().String())
			files = append(files, s.rel(t.Path()))
		case meta.AddedField:
			widened[c.Ref.Key()] = true
			slog.DebugContext(ctx, "Added column", "collection", collection, "ref", c.Ref.String(), "column", c.Identifier, "type", c.FieldType.String())
		}
	}
	for dp := range col.DocParts() {
		if !widened[dp.Ref().Key()] {
			continue
		}
		t, err := cs.table(dir, dp)
		if err != nil {
			return nil, err
		}
		if err := t.AddColumns(columnsOf(dp)...); err != nil {
			return nil, errors.Storage("failed to add columns", err).WithDetail("table", dp.Identifier())
		}
		files = append(files, s.rel(t.Path()))
	}

	var appended []*jsonldb.Table[*storedRow]
	dids := map[int64]bool{}
	for _, did := range data.Dids {
		dids[did] = true
	}
	for _, part := range data.DocParts() {
		dp := col.DocPart(part.Ref)
		if dp == nil {
			return nil, errors.Internal("rows for unknown doc-part " + part.Ref.String())
		}
		t, err := cs.table(dir, dp)
		if err != nil {
			return nil, err
		}
		rows := make([]*storedRow, len(part.Rows))
		for i, r := range part.Rows {
			if rows[i], err = encodeRow(dp, r); err != nil {
				return nil, errors.Storage("failed to encode row", err)
			}
		}
		if err := t.Append(rows...); err != nil {
			// Remove the rows already written so no partial document remains.
			for _, a := range appended {
				if _, err2 := a.DeleteFunc(func(r *storedRow) bool { return dids[r.Did] }); err2 != nil {
					slog.ErrorContext(ctx, "Failed to undo partial insert", "table", a.Path(), "err", err2)
				}
			}
			return nil, errors.Storage("failed to write rows", err).WithDetail("table", dp.Identifier())
		}
		appended = append(appended, t)
		files = append(files, s.rel(t.Path()))
	}
	return files, nil
}

// seed makes the generator continue after the ids already stored.
func (s *Service) seed(cs *collectionState, snap *meta.Snapshot, database, collection string, gen *rid.Generator) error {
	col := snap.Collection(database, collection)
	if col == nil {
		return nil
	}
	dir := s.collectionDir(snap, database, collection)
	for dp := range col.DocParts() {
		t, err := cs.table(dir, dp)
		if err != nil {
			return err
		}
		last, ok := t.Last()
		if !ok {
			continue
		}
		gen.SeedRid(dp.Identifier(), last.Rid)
		if dp.Ref().IsRoot() {
			gen.SeedDid(last.Did)
		}
	}
	return nil
}

// Find rebuilds the documents of collection in did order. When dids is not
// empty only those documents are returned.
func (s *Service) Find(ctx context.Context, database, collection string, dids ...int64) ([]d2r.Result, error) {
	if s.store.Snapshot().Collection(database, collection) == nil {
		return nil, errors.NotFound("collection " + database + "." + collection)
	}
	cs := s.state(database, collection)
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	// Rows on disk may use schema committed after the check above.
	snap := s.store.Snapshot()
	col := snap.Collection(database, collection)

	var want map[int64]bool
	if len(dids) != 0 {
		want = make(map[int64]bool, len(dids))
		for _, d := range dids {
			want[d] = true
		}
	}
	dir := s.collectionDir(snap, database, collection)
	var parts []*meta.DocPart
	var tables []*jsonldb.Table[*storedRow]
	for dp := range col.DocParts() {
		t, err := cs.table(dir, dp)
		if err != nil {
			return nil, err
		}
		parts = append(parts, dp)
		tables = append(tables, t)
	}
	rows := make([][]*d2r.Row, len(tables))
	eg, ctx := errgroup.WithContext(ctx)
	for i, t := range tables {
		eg.Go(func() error {
			for sr := range t.All() {
				if err := ctx.Err(); err != nil {
					return err
				}
				if want != nil && !want[sr.Did] {
					continue
				}
				r, err := decodeRow(sr)
				if err != nil {
					return errors.Storage("failed to read row", err).WithDetail("table", parts[i].Identifier())
				}
				rows[i] = append(rows[i], r)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	data := d2r.NewCollectionData(database, collection)
	for i, dp := range parts {
		if len(rows[i]) != 0 {
			data.Add(dp.Ref(), dp.Identifier(), rows[i]...)
		}
	}
	return d2r.ReadDocuments(col, data)
}

// Delete removes every row of the documents dids and returns the number of
// documents removed.
func (s *Service) Delete(ctx context.Context, database, collection string, dids []int64) (int, error) {
	if s.store.Snapshot().Collection(database, collection) == nil {
		return 0, errors.NotFound("collection " + database + "." + collection)
	}
	if len(dids) == 0 {
		return 0, nil
	}
	cs := s.state(database, collection)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	snap := s.store.Snapshot()
	col := snap.Collection(database, collection)

	del := make(map[int64]bool, len(dids))
	for _, d := range dids {
		del[d] = true
	}
	dir := s.collectionDir(snap, database, collection)
	docs := 0
	var files []string
	for dp := range col.DocParts() {
		t, err := cs.table(dir, dp)
		if err != nil {
			return 0, err
		}
		n, err := t.DeleteFunc(func(r *storedRow) bool { return del[r.Did] })
		if err != nil {
			return 0, errors.Storage("failed to delete rows", err).WithDetail("table", dp.Identifier())
		}
		if n == 0 {
			continue
		}
		if dp.Ref().IsRoot() {
			docs = n
		}
		files = append(files, s.rel(t.Path()))
	}
	slog.InfoContext(ctx, "Deleted documents", "database", database, "collection", collection, "docs", docs)
	if err := s.record(ctx, fmt.Sprintf("Delete %d documents from %s.%s", docs, database, collection), files); err != nil {
		return 0, err
	}
	return docs, nil
}

// Count returns the number of documents in collection.
func (s *Service) Count(_ context.Context, database, collection string) (int, error) {
	if s.store.Snapshot().Collection(database, collection) == nil {
		return 0, errors.NotFound("collection " + database + "." + collection)
	}
	cs := s.state(database, collection)
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	snap := s.store.Snapshot()
	root := snap.Collection(database, collection).DocPart(docpath.Root())
	if root == nil {
		return 0, nil
	}
	t, err := cs.table(s.collectionDir(snap, database, collection), root)
	if err != nil {
		return 0, err
	}
	return t.Len(), nil
}

// History returns up to n commits of the data directory, newest first.
func (s *Service) History(_ context.Context, n int) ([]Commit, error) {
	if s.history == nil {
		return nil, errors.Validation("history is disabled")
	}
	return s.history.log(n)
}

func (s *Service) record(ctx context.Context, msg string, files []string) error {
	if s.history == nil {
		return nil
	}
	if err := s.history.commit(ctx, msg, files); err != nil {
		return errors.Storage("failed to record history", err)
	}
	return nil
}

func (s *Service) state(database, collection string) *collectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := collectionKey{database, collection}
	cs := s.collections[k]
	if cs == nil {
		cs = &collectionState{tables: map[string]*jsonldb.Table[*storedRow]{}}
		s.collections[k] = cs
	}
	return cs
}

func (s *Service) collectionDir(snap *meta.Snapshot, database, collection string) string {
	db := snap.Database(database)
	return filepath.Join(s.root, db.Identifier(), db.Collection(collection).Identifier())
}

func (s *Service) rel(path string) string {
	r, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}
	return r
}

// table returns the open table of dp, opening or creating it with the
// current columns of dp.
func (cs *collectionState) table(dir string, dp *meta.DocPart) (*jsonldb.Table[*storedRow], error) {
	cs.tablesMu.Lock()
	defer cs.tablesMu.Unlock()
	if t := cs.tables[dp.Identifier()]; t != nil {
		return t, nil
	}
	t, err := jsonldb.NewTable[*storedRow](filepath.Join(dir, dp.Identifier()+".jsonl"), columnsOf(dp))
	if err != nil {
		return nil, errors.Storage("failed to open table", err).WithDetail("table", dp.Identifier())
	}
	cs.tables[dp.Identifier()] = t
	return t, nil
}

func validateNames(database, collection string) error {
	if database == "" {
		return errors.Validation("database name is required")
	}
	if collection == "" {
		return errors.Validation("collection name is required")
	}
	return nil
}
