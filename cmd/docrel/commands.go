// Implements the docrel subcommands.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/maruel/docrel/internal/d2r"
	"github.com/maruel/docrel/internal/kvdoc"
	"github.com/maruel/docrel/internal/storage"
	"golang.org/x/time/rate"
)

type command struct {
	name  string
	usage string
	help  string
	min   int
	run   func(c *cli, ctx context.Context, args []string) error
}

var commands = []command{
	{"insert", "insert <collection> [file.jsonl...]", "Insert one JSON document per line, from stdin without files", 1, (*cli).insert},
	{"find", "find <collection> [did...]", "Print the documents of a collection", 1, (*cli).find},
	{"delete", "delete <collection> <did...>", "Delete documents", 2, (*cli).delete},
	{"count", "count <collection>", "Print the number of documents", 1, (*cli).count},
	{"schema", "schema [collection]", "Describe the tables and columns", 0, (*cli).schema},
	{"jsonschema", "jsonschema <collection>", "Print the JSON Schema of the documents", 1, (*cli).jsonSchema},
	{"watch", "watch <collection> <dir>", "Insert *.jsonl files dropped in a directory", 2, (*cli).watch},
	{"stats", "stats", "Print counters over the data directory", 0, (*cli).stats},
	{"history", "history [n]", "Print the last commits of the data directory", 0, (*cli).history},
}

// cli runs commands against a storage service.
type cli struct {
	svc *storage.Service
	cfg *Config
	in  io.Reader
	out io.Writer
}

func (c *cli) run(ctx context.Context, name string, args []string) error {
	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		if len(args) < cmd.min {
			return fmt.Errorf("usage: docrel %s", cmd.usage)
		}
		return cmd.run(c, ctx, args)
	}
	return fmt.Errorf("unknown command %q", name)
}

func (c *cli) limiter() *rate.Limiter {
	r := c.cfg.IngestRatePerSec
	if r <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(r), max(1, int(r)))
}

func (c *cli) insert(ctx context.Context, args []string) error {
	col := args[0]
	lim := c.limiter()
	if len(args) == 1 {
		res, err := c.insertReader(ctx, col, c.in, lim)
		if err != nil {
			return err
		}
		c.printInsert("stdin", res)
		return nil
	}
	for _, path := range args[1:] {
		res, err := c.insertFile(ctx, col, path, lim)
		if err != nil {
			return err
		}
		c.printInsert(path, res)
	}
	return nil
}

func (c *cli) insertFile(ctx context.Context, col, path string, lim *rate.Limiter) (*storage.InsertResult, error) {
	f, err := os.Open(path) //nolint:gosec // User-specified input file
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	res, err := c.insertReader(ctx, col, f, lim)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

// insertReader inserts the documents of r as a single batch. Documents
// without an identity field get a new ObjectID.
func (c *cli) insertReader(ctx context.Context, col string, r io.Reader, lim *rate.Limiter) (*storage.InsertResult, error) {
	var docs []*kvdoc.Document
	for doc, err := range kvdoc.ParseLines(r) {
		if err != nil {
			return nil, err
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return nil, err
			}
		}
		docs = append(docs, c.withIdentity(doc))
	}
	return c.svc.Insert(ctx, c.cfg.Database, col, docs)
}

// withIdentity returns doc, or a copy starting with a generated identity
// field when doc has none.
func (c *cli) withIdentity(doc *kvdoc.Document) *kvdoc.Document {
	field := c.cfg.IdentityField
	if field == "" {
		field = d2r.DefaultIdentityField
	}
	if _, ok := doc.Get(field); ok {
		return doc
	}
	out := kvdoc.NewDocument().Set(field, kvdoc.NewObjectID())
	for k, v := range doc.All() {
		out.Set(k, v)
	}
	return out
}

func (c *cli) printInsert(src string, res *storage.InsertResult) {
	fmt.Fprintf(c.out, "%s: inserted %d documents (%d rows)", src, len(res.Dids), res.Rows)
	if len(res.Skipped) != 0 {
		fmt.Fprintf(c.out, ", skipped %d", len(res.Skipped))
	}
	fmt.Fprintln(c.out)
}

func (c *cli) find(ctx context.Context, args []string) error {
	dids, err := parseDids(args[1:])
	if err != nil {
		return err
	}
	results, err := c.svc.Find(ctx, c.cfg.Database, args[0], dids...)
	if err != nil {
		return err
	}
	for _, r := range results {
		b, err := r.Doc.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to render document %d: %w", r.Did, err)
		}
		if _, err := fmt.Fprintf(c.out, "%s\n", b); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) delete(ctx context.Context, args []string) error {
	dids, err := parseDids(args[1:])
	if err != nil {
		return err
	}
	n, err := c.svc.Delete(ctx, c.cfg.Database, args[0], dids)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "deleted %d documents\n", n)
	return nil
}

func (c *cli) count(ctx context.Context, args []string) error {
	n, err := c.svc.Count(ctx, c.cfg.Database, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, n)
	return nil
}

func (c *cli) schema(ctx context.Context, args []string) error {
	if len(args) == 0 {
		for _, n := range c.svc.Collections() {
			info, err := c.svc.Describe(ctx, n.Database, n.Collection)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s.%s\t%d tables\t%s documents\n", n.Database, n.Collection, len(info.Tables), humanize.Comma(int64(info.Documents)))
		}
		return nil
	}
	info, err := c.svc.Describe(ctx, c.cfg.Database, args[0])
	if err != nil {
		return err
	}
	return c.printJSON(info)
}

func (c *cli) jsonSchema(ctx context.Context, args []string) error {
	s, err := c.svc.JSONSchema(ctx, c.cfg.Database, args[0])
	if err != nil {
		return err
	}
	return c.printJSON(s)
}

func (c *cli) stats(ctx context.Context, _ []string) error {
	st, err := c.svc.Stats(ctx)
	if err != nil {
		return err
	}
	w := c.out
	fmt.Fprintf(w, "Schema version: %d\n", st.Version)
	fmt.Fprintf(w, "Databases:      %d\n", st.Databases)
	fmt.Fprintf(w, "Collections:    %d\n", st.Collections)
	fmt.Fprintf(w, "Tables:         %d\n", st.Tables)
	fmt.Fprintf(w, "Columns:        %d\n", st.Columns)
	fmt.Fprintf(w, "Documents:      %s\n", humanize.Comma(int64(st.Documents)))
	fmt.Fprintf(w, "Rows:           %s\n", humanize.Comma(int64(st.Rows)))
	fmt.Fprintf(w, "Size:           %s\n", humanize.Bytes(uint64(st.Bytes))) //nolint:gosec // G115: sizes are not negative
	if c.cfg.History {
		fmt.Fprintf(w, "Commits:        %d\n", st.Commits)
	}
	return nil
}

func (c *cli) history(ctx context.Context, args []string) error {
	n := 20
	if len(args) != 0 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil || n <= 0 {
			return fmt.Errorf("invalid count %q", args[0])
		}
	}
	commits, err := c.svc.History(ctx, n)
	if err != nil {
		return err
	}
	for _, cm := range commits {
		fmt.Fprintf(c.out, "%s %s (%s)\n", cm.Hash[:12], cm.Message, humanize.Time(cm.When))
	}
	return nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDids(args []string) ([]int64, error) {
	out := make([]int64, 0, len(args))
	for _, a := range args {
		d, err := strconv.ParseInt(a, 10, 64)
		if err != nil || d <= 0 {
			return nil, errors.New("invalid document id " + strconv.Quote(a))
		}
		out = append(out, d)
	}
	return out, nil
}
