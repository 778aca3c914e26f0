package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHistoryLog(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		h, err := openHistory(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		commits, err := h.log(0)
		if err != nil || len(commits) != 0 {
			t.Errorf("log() = %v, %v", commits, err)
		}
	})
	t.Run("missing commit", func(t *testing.T) {
		dir := t.TempDir()
		h, err := openHistory(dir)
		if err != nil {
			t.Fatal(err)
		}
		head, err := os.ReadFile(filepath.Join(dir, ".git", "HEAD"))
		if err != nil {
			t.Fatal(err)
		}
		ref, ok := strings.CutPrefix(strings.TrimSpace(string(head)), "ref: ")
		if !ok {
			t.Fatalf("HEAD = %q", head)
		}
		p := filepath.Join(dir, ".git", filepath.FromSlash(ref))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(strings.Repeat("ab", 20)+"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := h.log(0); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("limit", func(t *testing.T) {
		dir := t.TempDir()
		h, err := openHistory(dir)
		if err != nil {
			t.Fatal(err)
		}
		for i, name := range []string{"a.jsonl", "b.jsonl", "c.jsonl"} {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o600); err != nil {
				t.Fatal(err)
			}
			if err := h.commit(t.Context(), "add "+name, []string{name}); err != nil {
				t.Fatalf("commit %d: %v", i, err)
			}
		}
		commits, err := h.log(2)
		if err != nil {
			t.Fatal(err)
		}
		if len(commits) != 2 || commits[0].Message != "add c.jsonl" || commits[1].Message != "add b.jsonl" {
			t.Errorf("log(2) = %+v", commits)
		}
		all, err := h.log(0)
		if err != nil || len(all) != 3 {
			t.Errorf("log(0) = %d commits, %v", len(all), err)
		}
	})
}
