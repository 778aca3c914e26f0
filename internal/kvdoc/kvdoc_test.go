package kvdoc

import (
	"math"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestDocument(t *testing.T) {
	d := NewDocument().Set("b", Int32(1)).Set("a", String("x")).Set("c", nil)
	if got := d.Keys(); !slices.Equal(got, []string{"b", "a", "c"}) {
		t.Errorf("Keys() = %v", got)
	}
	d.Set("b", Int32(2))
	if got := d.Keys(); !slices.Equal(got, []string{"b", "a", "c"}) {
		t.Errorf("Set must keep the key position, got %v", got)
	}
	if v, ok := d.Get("b"); !ok || v != Int32(2) {
		t.Errorf("Get(b) = %v, %t", v, ok)
	}
	if v, _ := d.Get("c"); v != (Null{}) {
		t.Errorf("nil must be stored as Null, got %#v", v)
	}
	d.Delete("a")
	if d.Len() != 2 {
		t.Errorf("Len() = %d", d.Len())
	}
}

func TestEqual(t *testing.T) {
	ts := time.Date(2016, 6, 7, 17, 29, 0, 0, time.UTC)
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"key order ignored", NewDocument().Set("a", Int32(1)).Set("b", Int32(2)), NewDocument().Set("b", Int32(2)).Set("a", Int32(1)), true},
		{"missing key", NewDocument().Set("a", Int32(1)), NewDocument().Set("b", Int32(1)), false},
		{"array order matters", Array{Int32(1), Int32(2)}, Array{Int32(2), Int32(1)}, false},
		{"kinds differ", Int32(1), Int64(1), false},
		{"NaN", Double(math.NaN()), Double(math.NaN()), true},
		{"instants", NewInstant(ts), NewInstant(ts.In(time.FixedZone("x", 3600))), true},
		{"binary", Binary{Data: []byte{1}}, Binary{Data: []byte{1}}, true},
		{"binary subtype", Binary{Data: []byte{1}}, Binary{Subtype: 4, Data: []byte{1}}, false},
		{"empty array vs empty object", Array{}, NewDocument(), false},
		{"nested", NewDocument().Set("a", Array{NewDocument().Set("b", Null{})}), NewDocument().Set("a", Array{NewDocument().Set("b", Null{})}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal() = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestParseDocument(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tests := []struct {
			name string
			in   string
			want *Document
		}{
			{"empty", `{}`, NewDocument()},
			{"scalars", `{"n":null,"b":true,"i":1,"l":4294967296,"d":1.5,"e":1e3,"s":"hé\"llo"}`,
				NewDocument().Set("n", Null{}).Set("b", Bool(true)).Set("i", Int32(1)).Set("l", Int64(4294967296)).
					Set("d", Double(1.5)).Set("e", Double(1000)).Set("s", String("hé\"llo"))},
			{"nested", `{"a":{"b":[1,[2,3],{"c":[]}]}}`,
				NewDocument().Set("a", NewDocument().Set("b", Array{Int32(1), Array{Int32(2), Int32(3)}, NewDocument().Set("c", Array{})}))},
			{"extended", `{"_id":{"$oid":"0102030405060708090a0b0c"},"l":{"$numberLong":"2"},"t":{"$timestamp":{"t":5,"i":6}},` +
				`"k":{"$date":"1970-01-01T00:00:00.001Z"},"m":{"$date":{"$numberLong":"2"}},"r":{"$binary":{"base64":"AQI=","subType":"04"}},` +
				`"dt":{"$localDate":"2016-06-07"},"tm":{"$localTime":"17:29:00"}}`,
				NewDocument().
					Set("_id", ObjectID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}).
					Set("l", Int64(2)).
					Set("t", Timestamp{Seconds: 5, Increment: 6}).
					Set("k", NewInstant(time.UnixMilli(1))).
					Set("m", NewInstant(time.UnixMilli(2))).
					Set("r", Binary{Subtype: 4, Data: []byte{1, 2}}).
					Set("dt", Date{Year: 2016, Month: time.June, Day: 7}).
					Set("tm", NewTime(17, 29, 0, 0))},
			{"dollar keys kept", `{"a":{"$x":1}}`, NewDocument().Set("a", NewDocument().Set("$x", Int32(1)))},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := ParseDocument([]byte(tt.in))
				if err != nil {
					t.Fatalf("ParseDocument() error: %v", err)
				}
				if !Equal(got, tt.want) {
					t.Errorf("ParseDocument() = %s, want %s", mustJSON(t, got), mustJSON(t, tt.want))
				}
			})
		}
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name string
			in   string
		}{
			{"array", `[1]`},
			{"scalar", `1`},
			{"empty", ``},
			{"truncated", `{"a":`},
			{"bad oid", `{"a":{"$oid":"zz"}}`},
			{"bad long", `{"a":{"$numberLong":"x"}}`},
			{"bad timestamp", `{"a":{"$timestamp":{"t":1}}}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := ParseDocument([]byte(tt.in)); err == nil {
					t.Error("expected error")
				}
			})
		}
	})
}

func TestJSONRoundTrip(t *testing.T) {
	doc := NewDocument().
		Set("_id", NewObjectID()).
		Set("s", String("tab\tnl\nctl\x01 \"q\" \\")).
		Set("d", Double(3)).
		Set("nan", Double(math.NaN())).
		Set("inf", Double(math.Inf(-1))).
		Set("l", Int64(-7)).
		Set("i", Int32(-7)).
		Set("k", NewInstant(time.Date(2020, 1, 2, 3, 4, 5, 6e6, time.UTC))).
		Set("tm", NewTime(1, 2, 3, 450000000)).
		Set("a", Array{Null{}, Bool(false), Array{}, NewDocument()}).
		Set("r", Binary{Data: []byte("bin")})
	b, err := doc.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseDocument(b)
	if err != nil {
		t.Fatalf("ParseDocument(%s) error: %v", b, err)
	}
	if !Equal(doc, got) {
		t.Errorf("round trip mismatch:\n%s\n%s", b, mustJSON(t, got))
	}
}

func TestParseLines(t *testing.T) {
	in := "{\"a\":1}\n\n  {\"a\":2}\n{bad\n{\"a\":3}\n"
	var got []*Document
	var gotErr error
	for d, err := range ParseLines(strings.NewReader(in)) {
		if err != nil {
			gotErr = err
			break
		}
		got = append(got, d)
	}
	if len(got) != 2 {
		t.Errorf("got %d documents, want 2", len(got))
	}
	if gotErr == nil || !strings.Contains(gotErr.Error(), "line 4") {
		t.Errorf("error = %v, want line 4", gotErr)
	}
}

func TestObjectID(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := NewObjectIDAt(now)
	b := NewObjectIDAt(now)
	if a == b {
		t.Error("object ids must differ")
	}
	if !a.Time().Equal(now) {
		t.Errorf("Time() = %v, want %v", a.Time(), now)
	}
	p, err := ParseObjectID(a.String())
	if err != nil || p != a {
		t.Errorf("ParseObjectID(%q) = %v, %v", a.String(), p, err)
	}
}

func TestTimeAndDate(t *testing.T) {
	tm, err := ParseTime("17:29:00.5")
	if err != nil {
		t.Fatal(err)
	}
	if tm != NewTime(17, 29, 0, 500000000) || tm.String() != "17:29:00.5" {
		t.Errorf("got %v", tm)
	}
	d, err := ParseDate("2016-06-07")
	if err != nil {
		t.Fatal(err)
	}
	if d.String() != "2016-06-07" {
		t.Errorf("got %v", d)
	}
	if _, err := ParseDate("2016-13-01"); err == nil {
		t.Error("expected error")
	}
}

func mustJSON(t *testing.T, d *Document) string {
	t.Helper()
	b, err := d.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
