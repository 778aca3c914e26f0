package meta_test

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/maruel/docrel/internal/docpath"
	"github.com/maruel/docrel/internal/errors"
	"github.com/maruel/docrel/internal/ident"
	"github.com/maruel/docrel/internal/meta"
)

func TestFieldType(t *testing.T) {
	want := "rbtdkilxynsce"
	var got []byte
	for _, ft := range meta.FieldTypes() {
		got = append(got, ft.Code())
		back, ok := meta.FieldTypeFromCode(ft.Code())
		if !ok || back != ft {
			t.Errorf("FieldTypeFromCode(%c) = %v, %t", ft.Code(), back, ok)
		}
		txt, err := ft.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var parsed meta.FieldType
		if err := parsed.UnmarshalText(txt); err != nil || parsed != ft {
			t.Errorf("UnmarshalText(%s) = %v, %v", txt, parsed, err)
		}
	}
	if string(got) != want {
		t.Errorf("codes = %q, want %q", got, want)
	}
	if meta.Child.String() != "CHILD" || meta.MongoObjectID.String() != "MONGO_OBJECT_ID" {
		t.Error("unexpected names")
	}
	if meta.FieldType(200).Valid() {
		t.Error("200 must be invalid")
	}
	if _, err := meta.ParseFieldType("FLOAT"); err == nil {
		t.Error("expected error")
	}
}

func TestMutableSnapshot(t *testing.T) {
	f := &ident.Factory{}
	a := docpath.Root().Child("a")
	ab := a.Child("b")

	t.Run("lookup or create", func(t *testing.T) {
		m := meta.NewMutable(meta.Empty(), f)
		dp, err := m.DocPart("db", "c", ab)
		if err != nil {
			t.Fatal(err)
		}
		if dp.Identifier() != "c_a_b" {
			t.Errorf("Identifier() = %q", dp.Identifier())
		}
		again, err := m.DocPart("db", "c", ab)
		if err != nil || again != dp {
			t.Errorf("DocPart() must be idempotent: %v %v", again, err)
		}
		f1, err := m.Field(dp, "x", meta.Integer)
		if err != nil {
			t.Fatal(err)
		}
		f2, err := m.Field(dp, "x", meta.Integer)
		if err != nil || f1 != f2 {
			t.Errorf("Field() must be idempotent")
		}
		f3, err := m.Field(dp, "x", meta.String)
		if err != nil {
			t.Fatal(err)
		}
		if f1.Identifier() != "x_i" || f3.Identifier() != "x_s" {
			t.Errorf("identifiers %q %q", f1.Identifier(), f3.Identifier())
		}
		col := m.Collection("db", "c")
		var refs []string
		for d := range col.DocParts() {
			refs = append(refs, d.Identifier())
		}
		if !slices.Equal(refs, []string{"c", "c_a", "c_a_b"}) {
			t.Errorf("DocParts() = %v, want parents first", refs)
		}
		var kinds []string
		for _, c := range m.Changes() {
			kinds = append(kinds, c.Kind.String()+":"+c.Identifier)
		}
		want := []string{"database:db", "collection:c", "docpart:c", "docpart:c_a", "docpart:c_a_b", "field:x_i", "field:x_s"}
		if !slices.Equal(kinds, want) {
			t.Errorf("Changes() = %v, want %v", kinds, want)
		}
		if got := col.DocPart(ab).Fields(); len(got) != 2 || got[0] != f1 || got[1] != f3 {
			t.Errorf("Fields() = %v", got)
		}
	})

	t.Run("base untouched", func(t *testing.T) {
		m := meta.NewMutable(meta.Empty(), f)
		dp, _ := m.DocPart("db", "c", a)
		if _, err := m.Field(dp, "x", meta.Integer); err != nil {
			t.Fatal(err)
		}
		base := m.Immutable()

		m2 := meta.NewMutable(base, f)
		dp2, _ := m2.DocPart("db", "c", a)
		if _, err := m2.Field(dp2, "y", meta.Boolean); err != nil {
			t.Fatal(err)
		}
		if _, err := m2.DocPart("db", "c", ab); err != nil {
			t.Fatal(err)
		}
		if _, err := m2.AddCollection("db", "other"); err != nil {
			t.Fatal(err)
		}
		bcol := base.Collection("db", "c")
		if bcol.NumDocParts() != 2 || bcol.DocPart(a).NumFields() != 1 {
			t.Errorf("base modified: %d doc-parts, %d fields", bcol.NumDocParts(), bcol.DocPart(a).NumFields())
		}
		if base.Collection("db", "other") != nil {
			t.Error("base gained a collection")
		}
		if m2.Collection("db", "c").DocPart(a).NumFields() != 2 {
			t.Error("overlay lost a field")
		}
		next := m2.Immutable()
		if next.Version() != base.Version()+1 || next.Tx() != m2.Tx() {
			t.Errorf("version %d tx %v", next.Version(), next.Tx())
		}
	})

	t.Run("rollback", func(t *testing.T) {
		m := meta.NewMutable(meta.Empty(), f)
		dp, _ := m.DocPart("db", "c", docpath.Root())
		if _, err := m.Field(dp, "_id", meta.MongoObjectID); err != nil {
			t.Fatal(err)
		}
		base := m.Immutable()
		m = meta.NewMutable(base, f)
		sp := m.Savepoint()
		dp, _ = m.DocPart("db", "c", ab)
		if _, err := m.Field(dp, "z", meta.Double); err != nil {
			t.Fatal(err)
		}
		root := m.Collection("db", "c").DocPart(docpath.Root())
		if _, err := m.Field(root, "a", meta.Child); err != nil {
			t.Fatal(err)
		}
		if _, err := m.AddCollection("db2", "x"); err != nil {
			t.Fatal(err)
		}
		m.RollbackTo(sp)
		if len(m.Changes()) != 0 {
			t.Errorf("Changes() = %v", m.Changes())
		}
		col := m.Collection("db", "c")
		if col.NumDocParts() != 1 || col.DocPart(docpath.Root()).NumFields() != 1 {
			t.Errorf("rollback incomplete: %d doc-parts", col.NumDocParts())
		}
		if col.DocPartByIdentifier("c_a") != nil || m.Database("db2") != nil {
			t.Error("rollback incomplete")
		}
		// The same additions can be made again.
		dp, err := m.DocPart("db", "c", ab)
		if err != nil || dp.Identifier() != "c_a_b" {
			t.Errorf("DocPart() after rollback = %v, %v", dp, err)
		}
	})

	t.Run("sealed", func(t *testing.T) {
		m := meta.NewMutable(meta.Empty(), f)
		m.Immutable()
		defer func() {
			if recover() == nil {
				t.Error("expected panic")
			}
		}()
		_, _ = m.AddDatabase("db")
	})
}

// upperFactory lowercases table names without marking them, so names that
// only differ by case collide.
type upperFactory struct{ ident.Factory }

func (u *upperFactory) TableIdentifier(collection string, ref docpath.TableRef) string {
	return strings.ToLower(strings.Join(append([]string{collection}, ref.Path()...), "_"))
}

func TestStore(t *testing.T) {
	f := &ident.Factory{}
	a := docpath.Root().Child("a")

	t.Run("fast path", func(t *testing.T) {
		s := meta.NewStore(f, nil)
		m := s.Begin()
		if _, err := m.DocPart("db", "c", a); err != nil {
			t.Fatal(err)
		}
		head, err := s.Commit(m)
		if err != nil {
			t.Fatal(err)
		}
		if s.Snapshot() != head || head.Collection("db", "c").DocPart(a) == nil {
			t.Error("commit not visible")
		}
	})

	t.Run("replay merges", func(t *testing.T) {
		s := meta.NewStore(f, nil)
		m1 := s.Begin()
		m2 := s.Begin()
		dp1, _ := m1.DocPart("db", "c", a)
		if _, err := m1.Field(dp1, "x", meta.Integer); err != nil {
			t.Fatal(err)
		}
		dp2, _ := m2.DocPart("db", "c", a)
		if _, err := m2.Field(dp2, "x", meta.Integer); err != nil {
			t.Fatal(err)
		}
		if _, err := m2.Field(dp2, "y", meta.String); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Commit(m1); err != nil {
			t.Fatal(err)
		}
		head, err := s.Commit(m2)
		if err != nil {
			t.Fatal(err)
		}
		dp := head.Collection("db", "c").DocPart(a)
		var ids []string
		for _, fl := range dp.Fields() {
			ids = append(ids, fl.Identifier())
		}
		if !slices.Equal(ids, []string{"x_i", "y_s"}) {
			t.Errorf("fields = %v", ids)
		}
		if head.Version() != 2 {
			t.Errorf("Version() = %d", head.Version())
		}
	})

	t.Run("no additions", func(t *testing.T) {
		s := meta.NewStore(f, nil)
		m := s.Begin()
		if _, err := m.DocPart("db", "c", a); err != nil {
			t.Fatal(err)
		}
		head, err := s.Commit(m)
		if err != nil {
			t.Fatal(err)
		}
		m2 := s.Begin()
		if _, err := m2.DocPart("db", "c", a); err != nil {
			t.Fatal(err)
		}
		got, err := s.Commit(m2)
		if err != nil {
			t.Fatal(err)
		}
		if got != head || got.Version() != 1 {
			t.Errorf("Commit() = version %d, want the unchanged head", got.Version())
		}
	})

	t.Run("conflict", func(t *testing.T) {
		s := meta.NewStore(f, nil)
		m1 := s.Begin()
		m2 := meta.NewMutable(s.Snapshot(), &upperFactory{})
		if _, err := m1.DocPart("db", "c", docpath.Root().Child("ab")); err != nil {
			t.Fatal(err)
		}
		// Claims "c_ab" for a different path.
		if _, err := m2.DocPart("db", "c", docpath.Root().Child("AB")); err != nil {
			t.Fatal(err)
		}
		before, err := s.Commit(m1)
		if err != nil {
			t.Fatal(err)
		}
		_, err = s.Commit(m2)
		if !errors.Is(err, errors.ErrSchemaConflict) {
			t.Fatalf("Commit() = %v, want schema conflict", err)
		}
		if s.Snapshot() != before {
			t.Error("failed commit must leave the head unchanged")
		}
	})

	t.Run("concurrent", func(t *testing.T) {
		s := meta.NewStore(f, nil)
		seed := s.Begin()
		if _, err := seed.DocPart("db", "c", a); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Commit(seed); err != nil {
			t.Fatal(err)
		}
		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m := s.Begin()
				dp, err := m.DocPart("db", "c", a.Child(fmt.Sprintf("f%d", i%4)))
				if err == nil {
					_, err = m.Field(dp, "v", meta.Long)
				}
				if err == nil {
					_, err = s.Commit(m)
				}
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Error(err)
			}
		}
		if n := s.Snapshot().Collection("db", "c").NumDocParts(); n != 6 {
			t.Errorf("NumDocParts() = %d, want 6", n)
		}
	})
}
