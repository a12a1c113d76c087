// Command docsync stores schema-checked JSON documents in SQLite and keeps
// them in sync with concurrent writers, a directory of files and a live
// change feed.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/docsync/internal/config"
	"github.com/mschirtzinger/docsync/internal/docstore/sqlite"
	"github.com/mschirtzinger/docsync/internal/journal"
	"github.com/mschirtzinger/docsync/internal/odm"
)

var (
	configFile   string
	workDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "docsync",
	Short: "Schema-checked document store with conflict-free field updates",
	Long: `docsync keeps JSON documents in a local SQLite store.

Collections and their fields are declared in docsync.toml. Every change is
written as a field-level update guarded by the value it was based on, so
concurrent writers never overwrite each other's fields. Run 'docsync init'
to create a starter configuration.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "setup", Title: "Setup:"},
		&cobra.Group{ID: "data", Title: "Documents:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: docsync.toml in --dir or --dir/.docsync)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "C", ".", "Project directory")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "json", "Output format: json or yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// fatal prints an error and exits.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// app is everything a command needs once the config is loaded.
type app struct {
	cfg         *config.Config
	store       *sqlite.Store
	collections []*odm.Collection
	byName      map[string]*odm.Collection
	journal     *journal.Journal
	logOut      io.Writer
}

func loadConfig() *config.Config {
	cfg, err := config.Load(workDir, configFile)
	if err != nil {
		fatal("%v", err)
	}
	return cfg
}

// openApp loads the config, opens the store and binds every declared
// schema to its collection.
func openApp(ctx context.Context) *app {
	cfg := loadConfig()

	schemas, err := config.BuildSchemas(cfg.Schemas)
	if err != nil {
		fatal("invalid schemas in %s: %v", cfg.File, err)
	}
	if len(schemas) == 0 {
		fatal("no schemas declared; run 'docsync init' or add [[schemas]] to docsync.toml")
	}

	store, err := sqlite.OpenContext(ctx, resolve(cfg.Store.Path))
	if err != nil {
		fatal("opening store: %v", err)
	}

	a := &app{
		cfg:    cfg,
		store:  store,
		byName: make(map[string]*odm.Collection, len(schemas)),
		logOut: logWriter(cfg),
	}
	logger := a.logger("[odm] ")
	for _, s := range schemas {
		coll := odm.NewCollection(store, s, odm.WithLogger(logger))
		if err := coll.EnsureIndexes(ctx); err != nil {
			_ = store.Close()
			fatal("creating indexes for %s: %v", s.Name(), err)
		}
		a.collections = append(a.collections, coll)
		a.byName[s.Name()] = coll
	}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(resolve(cfg.Journal.Path), a.logger("[journal] "))
		if err != nil {
			_ = store.Close()
			fatal("%v", err)
		}
		j.Watch(a.collections...)
		a.journal = j
	}
	return a
}

func (a *app) Close() {
	if a.journal != nil {
		_ = a.journal.Close()
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing store: %v\n", err)
	}
	if c, ok := a.logOut.(io.Closer); ok {
		_ = c.Close()
	}
}

func (a *app) collection(name string) *odm.Collection {
	c, ok := a.byName[name]
	if !ok {
		fatal("unknown collection %q", name)
	}
	return c
}

func (a *app) logger(prefix string) *log.Logger {
	return log.New(a.logOut, prefix, log.LstdFlags)
}

// logWriter sends logs to a rotating file when log.file is set.
func logWriter(cfg *config.Config) io.Writer {
	if cfg.Log.File == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   resolve(cfg.Log.File),
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	}
}

// resolve makes a configured path relative to the project directory.
func resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

// printValue writes v to stdout in the selected format.
func printValue(v any) {
	switch outputFormat {
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			fatal("encoding yaml: %v", err)
		}
		_ = enc.Close()
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			fatal("encoding json: %v", err)
		}
	default:
		fatal("unknown format %q (want json or yaml)", outputFormat)
	}
}

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }
