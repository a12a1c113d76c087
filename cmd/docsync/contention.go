package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/docsync/internal/contention"
	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/docstore/memory"
	"github.com/mschirtzinger/docsync/internal/docstore/sqlite"
	"github.com/mschirtzinger/docsync/internal/odm"
	"github.com/mschirtzinger/docsync/internal/ui"
)

var contentionCmd = &cobra.Command{
	Use:     "contention",
	GroupID: "maint",
	Short:   "Stress one document with concurrent writers",
	Long: `Start several writers that each load the same document and save a mix of
increments, maxima, list appends and map entries against it. Afterwards the
stored document is checked for lost updates.

By default the run uses a scratch SQLite database in a temporary directory.
--store memory uses the in-memory store instead, and --compare runs both
and prints them side by side.`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := contention.DefaultOptions()
		opts.Writers, _ = cmd.Flags().GetInt("writers")
		opts.Rounds, _ = cmd.Flags().GetInt("rounds")
		opts.RetryLimit, _ = cmd.Flags().GetInt("retry-limit")
		backend, _ := cmd.Flags().GetString("store")
		compare, _ := cmd.Flags().GetBool("compare")
		verbose, _ := cmd.Flags().GetBool("verbose")

		var collOpts []odm.CollectionOption
		if !verbose {
			collOpts = append(collOpts, odm.WithLogger(discardLogger()))
		}

		backends := []string{backend}
		if compare {
			backends = []string{"sqlite", "memory"}
		}

		var runs []contention.Labeled
		failed := false
		for _, b := range backends {
			fmt.Printf("%s %d writers x %d rounds on %s\n\n", ui.RenderAccent("▸"), opts.Writers, opts.Rounds, b)
			report, err := runContention(b, opts, collOpts)
			if err != nil {
				fatal("%v", err)
			}
			report.Print(os.Stdout)

			if problems := report.Verify(); len(problems) > 0 {
				fmt.Println()
				for _, p := range problems {
					fmt.Printf("%s %s\n", ui.RenderFail("✗"), p)
				}
				failed = true
			} else {
				fmt.Printf("\n%s No lost updates\n\n", ui.RenderPass("✓"))
			}
			runs = append(runs, contention.Labeled{Label: b, Report: report})
		}

		if len(runs) == 2 {
			fmt.Printf("%s Comparison\n\n", ui.RenderAccent("▸"))
			contention.Compare(runs[0], runs[1]).Print(os.Stdout)
		}
		if failed {
			os.Exit(1)
		}
	},
}

// runContention runs one contention test against a fresh store.
func runContention(backend string, opts contention.Options, collOpts []odm.CollectionOption) (*contention.Report, error) {
	var client docstore.Client
	switch backend {
	case "memory":
		client = memory.New()
	case "sqlite":
		dir, err := os.MkdirTemp("", "docsync-contention-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)
		store, err := sqlite.Open(filepath.Join(dir, "contention.db"))
		if err != nil {
			return nil, err
		}
		client = store
	default:
		return nil, fmt.Errorf("unknown store %q (want sqlite or memory)", backend)
	}
	defer client.Close()

	return contention.Run(context.Background(), client, opts, collOpts...)
}

func init() {
	d := contention.DefaultOptions()
	contentionCmd.Flags().Int("writers", d.Writers, "Concurrent writers")
	contentionCmd.Flags().Int("rounds", d.Rounds, "Saves per writer")
	contentionCmd.Flags().Int("retry-limit", 0, "Attempts per save (0 retries until the write lands)")
	contentionCmd.Flags().String("store", "sqlite", "Backend: sqlite or memory")
	contentionCmd.Flags().Bool("compare", false, "Run against sqlite and memory and compare")
	contentionCmd.Flags().BoolP("verbose", "v", false, "Log every retry")
	rootCmd.AddCommand(contentionCmd)
}
