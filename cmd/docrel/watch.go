// Ingests JSONL files dropped in a directory.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// settle is how long a file must stay unmodified before it is ingested.
const settle = 500 * time.Millisecond

func (c *cli) watch(ctx context.Context, args []string) error {
	col, dir := args[0], args[1]
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	lim := c.limiter()
	// Files present before the watch started.
	if err := c.ingestDir(ctx, col, dir, lim); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Watching", "dir", dir, "collection", col)

	pending := map[string]time.Time{}
	t := time.NewTicker(settle / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) && isInput(event.Name) {
				pending[event.Name] = time.Now()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Error watching directory", "dir", dir, "err", err)
		case now := <-t.C:
			var ready []string
			for name, last := range pending {
				if now.Sub(last) >= settle {
					ready = append(ready, name)
				}
			}
			slices.Sort(ready)
			for _, name := range ready {
				delete(pending, name)
				if err := c.ingestFile(ctx, col, name, lim); err != nil {
					return err
				}
			}
		}
	}
}

// ingestDir ingests the input files of dir in name order.
func (c *cli) ingestDir(ctx context.Context, col, dir string, lim *rate.Limiter) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !isInput(e.Name()) {
			continue
		}
		if err := c.ingestFile(ctx, col, filepath.Join(dir, e.Name()), lim); err != nil {
			return err
		}
	}
	return nil
}

// ingestFile inserts path then renames it with a .done or .failed suffix.
// Only a cancelled context is returned as an error; a file that cannot be
// ingested is set aside.
func (c *cli) ingestFile(ctx context.Context, col, path string, lim *rate.Limiter) error {
	if _, err := os.Stat(path); err != nil {
		// Already processed.
		return nil
	}
	res, err := c.insertFile(ctx, col, path, lim)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	suffix := ".done"
	if err != nil {
		suffix = ".failed"
		slog.ErrorContext(ctx, "Failed to ingest", "path", path, "err", err)
	} else {
		c.printInsert(filepath.Base(path), res)
	}
	if err := os.Rename(path, path+suffix); err != nil {
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

func isInput(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".jsonl")
}
