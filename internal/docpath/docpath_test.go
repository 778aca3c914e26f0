package docpath

import (
	"slices"
	"sort"
	"testing"
)

func TestTableRef(t *testing.T) {
	t.Run("root", func(t *testing.T) {
		r := Root()
		if !r.IsRoot() || r.Depth() != 0 || r.Name() != "" || len(r.Path()) != 0 {
			t.Fatalf("unexpected root %v", r)
		}
		if !r.Parent().IsRoot() {
			t.Error("root parent must be root")
		}
		var zero TableRef
		if !zero.IsRoot() || !zero.Equal(r) {
			t.Error("zero TableRef must behave as root")
		}
	})

	t.Run("child", func(t *testing.T) {
		a := Root().Child("a")
		b := a.Child("b")
		if b.IsRoot() || b.Depth() != 2 || b.Name() != "b" {
			t.Fatalf("unexpected child %v", b)
		}
		if !b.Parent().Equal(a) {
			t.Errorf("Parent() = %v, want %v", b.Parent(), a)
		}
		if got := b.Path(); !slices.Equal(got, []string{"a", "b"}) {
			t.Errorf("Path() = %v", got)
		}
		if b.String() != "a.b" {
			t.Errorf("String() = %q", b.String())
		}
	})

	t.Run("equality", func(t *testing.T) {
		x := Root().Child("a").Child("b")
		y := FromPath([]string{"a", "b"})
		if !x.Equal(y) || x.Key() != y.Key() || x.Compare(y) != 0 {
			t.Errorf("%v and %v must be equal", x, y)
		}
		m := map[string]int{x.Key(): 1}
		if m[y.Key()] != 1 {
			t.Error("keys must match")
		}
	})

	t.Run("keys are unambiguous", func(t *testing.T) {
		refs := []TableRef{
			FromPath([]string{"a", "b"}),
			FromPath([]string{"a\x00b"}),
			FromPath([]string{"a1:b"}),
			FromPath([]string{"a", "1:b"}),
			FromPath([]string{"ab"}),
			Root(),
			FromPath([]string{""}),
		}
		seen := map[string]TableRef{}
		for _, r := range refs {
			if prev, ok := seen[r.Key()]; ok {
				t.Errorf("%q and %q share key %q", prev.Path(), r.Path(), r.Key())
			}
			seen[r.Key()] = r
		}
	})

	t.Run("order", func(t *testing.T) {
		refs := []TableRef{
			FromPath([]string{"b"}),
			FromPath([]string{"a", "$2", "$3"}),
			FromPath([]string{"a", "c"}),
			Root(),
			FromPath([]string{"a"}),
			FromPath([]string{"a", "$2"}),
		}
		sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
		want := [][]string{{}, {"a"}, {"a", "$2"}, {"a", "$2", "$3"}, {"a", "c"}, {"b"}}
		for i, r := range refs {
			if !slices.Equal(r.Path(), want[i]) {
				t.Errorf("refs[%d] = %v, want %v", i, r.Path(), want[i])
			}
		}
		// A parent always sorts before its children.
		for i := range refs {
			for j := range refs {
				if refs[j].Depth() > 0 && refs[j].Parent().Equal(refs[i]) && refs[i].Compare(refs[j]) >= 0 {
					t.Errorf("%v must sort before %v", refs[i], refs[j])
				}
			}
		}
	})

	t.Run("levels", func(t *testing.T) {
		r := Root().Child("a").ChildLevel(2).ChildLevel(3)
		if r.Name() != "$3" || r.ArrayLevel() != 3 || r.LastObjectName() != "a" {
			t.Errorf("unexpected %v level=%d last=%q", r, r.ArrayLevel(), r.LastObjectName())
		}
		if Root().Child("a").ArrayLevel() != 1 {
			t.Error("named doc-part is level 1")
		}
		if Root().LastObjectName() != "" {
			t.Error("root has no object name")
		}
	})
}

func TestLevelName(t *testing.T) {
	tests := []struct {
		name  string
		level int
		ok    bool
	}{
		{"$1", 1, true},
		{"$2", 2, true},
		{"$12", 12, true},
		{"$", 0, false},
		{"$a", 0, false},
		{"$2a", 0, false},
		{"a$2", 0, false},
		{"2", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, ok := ParseLevelName(tt.name)
			if ok != tt.ok || l != tt.level {
				t.Errorf("ParseLevelName(%q) = %d, %t; want %d, %t", tt.name, l, ok, tt.level, tt.ok)
			}
			if IsLevelName(tt.name) != tt.ok {
				t.Errorf("IsLevelName(%q) = %t", tt.name, !tt.ok)
			}
		})
	}
	if LevelName(7) != "$7" {
		t.Errorf("LevelName(7) = %q", LevelName(7))
	}
}

func TestAttributeReference(t *testing.T) {
	t.Run("immutable", func(t *testing.T) {
		base := NewAttributeReference(ObjectKey("a"))
		x := base.AppendArrayKey()
		y := base.AppendObjectKey("b")
		if base.Len() != 1 || x.Len() != 2 || y.Len() != 2 {
			t.Fatalf("lengths %d %d %d", base.Len(), x.Len(), y.Len())
		}
		if x.At(1).IsObject() || !y.At(1).IsObject() || y.At(1).Name() != "b" {
			t.Errorf("appends interfere: %s %s", x, y)
		}
		keys := y.Keys()
		keys[0] = ArrayKey()
		if !y.At(0).IsObject() {
			t.Error("Keys() must return a copy")
		}
	})

	t.Run("LastObjectKeySuffix", func(t *testing.T) {
		tests := []struct {
			name string
			in   AttributeReference
			want string
		}{
			{"empty", NewAttributeReference(), ""},
			{"no object key", NewAttributeReference(ArrayKey(), ArrayKey()), "[].[]"},
			{"object key last", NewAttributeReference(ObjectKey("a"), ArrayKey(), ObjectKey("b")), `"b"`},
			{"trailing arrays", NewAttributeReference(ObjectKey("a"), ObjectKey("b"), ArrayKey(), ArrayKey()), `"b".[].[]`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := tt.in.LastObjectKeySuffix().String(); got != tt.want {
					t.Errorf("got %s, want %s", got, tt.want)
				}
			})
		}
	})

	t.Run("FromTableRef", func(t *testing.T) {
		tests := []struct {
			path []string
			want string
		}{
			{nil, ""},
			{[]string{"a"}, `"a"`},
			{[]string{"a", "b"}, `"a"."b"`},
			{[]string{"a", "$2"}, `"a".[].[]`},
			{[]string{"a", "$2", "$3"}, `"a".[].[].[]`},
			{[]string{"a", "$2", "b"}, `"a".[].[]."b"`},
		}
		for _, tt := range tests {
			if got := FromTableRef(FromPath(tt.path)).String(); got != tt.want {
				t.Errorf("FromTableRef(%v) = %s, want %s", tt.path, got, tt.want)
			}
		}
	})
}
