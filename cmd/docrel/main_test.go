package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maruel/docrel/internal/kvdoc"
	"github.com/maruel/docrel/internal/storage"
)

func TestLoadConfig(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		cfg, err := loadConfig(filepath.Join(t.TempDir(), configFile))
		if err != nil {
			t.Fatal(err)
		}
		if *cfg != *defaultConfig() {
			t.Errorf("got %+v, want defaults", cfg)
		}
	})
	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), configFile)
		data := "database: shop\nidentity_field: key\non_error: skip\nhistory: true\ningest_rate_per_sec: 100\n"
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}
		cfg, err := loadConfig(path)
		if err != nil {
			t.Fatal(err)
		}
		want := Config{Database: "shop", IdentityField: "key", OnError: "skip", History: true, IngestRatePerSec: 100, LogLevel: "info"}
		if *cfg != want {
			t.Errorf("got %+v, want %+v", cfg, want)
		}
		opts := cfg.storageOptions()
		if opts.OnError != storage.Skip || opts.IdentityField != "key" || !opts.History {
			t.Errorf("storageOptions() = %+v", opts)
		}
	})
	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name string
			data string
		}{
			{"syntax", "database: [\n"},
			{"empty database", "database: \"\"\n"},
			{"short identifiers", "max_identifier_length: 8\n"},
			{"long identifiers", "max_identifier_length: 4096\n"},
			{"on_error", "on_error: retry\n"},
			{"rate", "ingest_rate_per_sec: -1\n"},
			{"log level", "log_level: loud\n"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				path := filepath.Join(t.TempDir(), configFile)
				if err := os.WriteFile(path, []byte(tt.data), 0o600); err != nil {
					t.Fatal(err)
				}
				if _, err := loadConfig(path); err == nil {
					t.Error("expected error")
				}
			})
		}
	})
}

func TestDropZero(t *testing.T) {
	tests := []struct {
		attr slog.Attr
		drop bool
	}{
		{slog.String("s", ""), true},
		{slog.String("s", "x"), false},
		{slog.Bool("b", false), true},
		{slog.Int("i", 0), true},
		{slog.Int("i", 3), false},
		{slog.Duration("d", 0), true},
		{slog.Time("t", time.Time{}), true},
		{slog.Any("n", nil), true},
		{slog.Any("e", os.ErrNotExist), false},
	}
	for _, tt := range tests {
		t.Run(tt.attr.Key+"="+tt.attr.Value.String(), func(t *testing.T) {
			got := dropZero(nil, tt.attr)
			if dropped := got.Equal(slog.Attr{}); dropped != tt.drop {
				t.Errorf("dropZero(%v) dropped=%v, want %v", tt.attr, dropped, tt.drop)
			}
		})
	}
}

func newCLI(t *testing.T, cfg *Config) (*cli, *bytes.Buffer) {
	t.Helper()
	svc, err := storage.Open(t.Context(), t.TempDir(), cfg.storageOptions())
	if err != nil {
		t.Fatal(err)
	}
	out := &bytes.Buffer{}
	return &cli{svc: svc, cfg: cfg, in: strings.NewReader(""), out: out}, out
}

func TestCLI(t *testing.T) {
	ctx := t.Context()
	c, out := newCLI(t, defaultConfig())

	c.in = strings.NewReader("{\"_id\":1,\"a\":[1,{\"b\":true}]}\n\n{\"_id\":2,\"a\":\"x\"}\n")
	if err := c.run(ctx, "insert", []string{"things"}); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "stdin: inserted 2 documents (4 rows)\n"; got != want {
		t.Errorf("insert printed %q, want %q", got, want)
	}

	out.Reset()
	if err := c.run(ctx, "find", []string{"things", "2"}); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "{\"_id\":2,\"a\":\"x\"}\n"; got != want {
		t.Errorf("find printed %q, want %q", got, want)
	}

	out.Reset()
	if err := c.run(ctx, "count", []string{"things"}); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "2\n" {
		t.Errorf("count printed %q", got)
	}

	out.Reset()
	if err := c.run(ctx, "schema", nil); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); !strings.HasPrefix(got, "test.things\t") {
		t.Errorf("schema printed %q", got)
	}

	out.Reset()
	if err := c.run(ctx, "jsonschema", []string{"things"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"title": "test.things"`) {
		t.Errorf("jsonschema printed %s", out)
	}

	out.Reset()
	if err := c.run(ctx, "delete", []string{"things", "1"}); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "deleted 1 documents\n" {
		t.Errorf("delete printed %q", got)
	}

	out.Reset()
	if err := c.run(ctx, "stats", nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Documents:      1\n") {
		t.Errorf("stats printed %s", out)
	}

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			cmd  string
			args []string
		}{
			{"nope", nil},
			{"insert", nil},
			{"delete", []string{"things"}},
			{"delete", []string{"things", "-1"}},
			{"find", []string{"things", "x"}},
			{"find", []string{"missing"}},
			{"history", []string{"0"}},
			{"history", nil},
		}
		for _, tt := range tests {
			t.Run(tt.cmd+" "+strings.Join(tt.args, " "), func(t *testing.T) {
				if err := c.run(ctx, tt.cmd, tt.args); err == nil {
					t.Error("expected error")
				}
			})
		}
	})
}

func TestInsertIdentity(t *testing.T) {
	c, _ := newCLI(t, defaultConfig())
	c.in = strings.NewReader("{\"a\":1}\n")
	if err := c.run(t.Context(), "insert", []string{"things"}); err != nil {
		t.Fatal(err)
	}
	got, err := c.svc.Find(t.Context(), "test", "things")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d documents", len(got))
	}
	keys := got[0].Doc.Keys()
	if len(keys) != 2 || keys[0] != "_id" || keys[1] != "a" {
		t.Fatalf("keys = %v", keys)
	}
	id, _ := got[0].Doc.Get("_id")
	if _, ok := id.(kvdoc.ObjectID); !ok {
		t.Errorf("_id is %T, want ObjectID", id)
	}
}

func TestIngestDir(t *testing.T) {
	cfg := defaultConfig()
	cfg.History = true
	c, out := newCLI(t, cfg)
	dir := t.TempDir()
	files := map[string]string{
		"1.jsonl":   "{\"_id\":1}\n{\"_id\":2}\n",
		"2.jsonl":   "{\"_id\":3}\nnot json\n",
		"notes.txt": "ignored",
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.ingestDir(t.Context(), "things", dir, c.limiter()); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "1.jsonl: inserted 2 documents (2 rows)\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
	for _, name := range []string{"1.jsonl.done", "2.jsonl.failed", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Error(err)
		}
	}
	if n, err := c.svc.Count(t.Context(), "test", "things"); err != nil || n != 2 {
		t.Errorf("Count() = %d, %v", n, err)
	}

	out.Reset()
	if err := c.run(t.Context(), "history", []string{"5"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Insert 2 documents into test.things") {
		t.Errorf("history printed %q", out)
	}
}
