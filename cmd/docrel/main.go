// Package main is the docrel command line tool.
//
// docrel stores JSON documents as normalized doc-part tables in a data
// directory and rebuilds them on read. Settings are read from docrel.yaml in
// the data directory; command line flags take precedence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/docrel/internal/ident"
	"github.com/maruel/docrel/internal/storage"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "docrel: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	configPath := flag.String("config", "", "Config file (default <data-dir>/"+configFile+")")
	database := flag.String("db", "", "Database name")
	identityField := flag.String("identity-field", "", "Field every document must have (default _id)")
	maxLen := flag.Int("max-identifier-length", 0, fmt.Sprintf("Maximum table and column identifier length (0 means %d)", ident.DefaultMaxLength))
	onError := flag.String("on-error", "", "Policy for documents that fail to translate (abort, skip)")
	history := flag.Bool("history", false, "Commit every write to a git repository in the data directory")
	ingestRate := flag.Float64("rate", 0, "Maximum documents per second ingested (0 means unlimited)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Usage = usage
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	path := *configPath
	if path == "" {
		path = filepath.Join(*dataDir, configFile)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.Database = *database
		case "identity-field":
			cfg.IdentityField = *identityField
		case "max-identifier-length":
			cfg.MaxIdentifierLength = *maxLen
		case "on-error":
			cfg.OnError = *onError
		case "history":
			cfg.History = *history
		case "rate":
			cfg.IngestRatePerSec = *ingestRate
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	level, _ := parseLevel(cfg.LogLevel)
	initLogger(level)

	svc, err := storage.Open(ctx, *dataDir, cfg.storageOptions())
	if err != nil {
		return err
	}
	c := &cli{svc: svc, cfg: cfg, in: os.Stdin, out: os.Stdout}
	return c.run(ctx, args[0], args[1:])
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "usage: docrel [flags] <command> [args]\n\n")
	fmt.Fprintf(out, "commands:\n")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-40s %s\n", c.usage, c.help)
	}
	fmt.Fprintf(out, "\nflags:\n")
	flag.PrintDefaults()
}

// initLogger installs a tint handler on stderr as the default logger.
func initLogger(level slog.Level) {
	ll := &slog.LevelVar{}
	ll.Set(level)
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:       ll,
		TimeFormat:  "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:     !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: dropZero,
	}))
	slog.SetDefault(logger)
}

// dropZero removes attributes holding a zero value.
func dropZero(_ []string, a slog.Attr) slog.Attr {
	skip := false
	switch t := a.Value.Any().(type) {
	case string:
		skip = t == ""
	case bool:
		skip = !t
	case uint64:
		skip = t == 0
	case int64:
		skip = t == 0
	case float64:
		skip = t == 0
	case time.Time:
		skip = t.IsZero()
	case time.Duration:
		skip = t == 0
	case nil:
		skip = true
	}
	if skip {
		return slog.Attr{}
	}
	return a
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("docrel %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
