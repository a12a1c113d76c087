package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/docsync/internal/config"
	"github.com/mschirtzinger/docsync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Create a starter docsync.toml",
	Long: `Create .docsync/docsync.toml with default settings and two example
schemas (Author and Note). Edit the [[schemas]] tables to declare your own
collections.`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		path := configFile
		if path == "" {
			path = filepath.Join(workDir, ".docsync", "docsync.toml")
		}
		if err := config.WriteStarter(path, config.Starter(), force); err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s Created %s\n", ui.RenderPass("✓"), path)
		fmt.Printf("  Next: %s\n", ui.RenderAccent("docsync status"))
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "setup",
	Short:   "Show store location, collections and indexes",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		stats, err := a.store.Stats(ctx)
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("\n%s docsync\n\n", ui.RenderAccent("▸"))
		pairs := [][2]string{
			{"Config", orNone(a.cfg.File)},
			{"Store", a.store.Path()},
			{"Retry limit", fmt.Sprint(a.cfg.Store.RetryLimit)},
		}
		if info, err := os.Stat(a.store.Path()); err == nil {
			pairs = append(pairs, [2]string{"Modified", ui.Ago(info.ModTime())})
		}
		fmt.Print(ui.KeyValues(pairs...))

		byName := make(map[string]int, len(stats))
		for i, s := range stats {
			byName[s.Name] = i
		}

		fmt.Printf("\n%s Collections\n\n", ui.RenderAccent("▸"))
		for _, coll := range a.collections {
			fields := make([]string, 0, len(coll.Schema().Fields()))
			for _, f := range coll.Schema().Fields() {
				fields = append(fields, f.Name())
			}
			docs, size, indexes := "0", ui.Bytes(0), "none"
			if i, ok := byName[coll.Name()]; ok {
				s := stats[i]
				docs = ui.Count(s.Documents)
				size = ui.Bytes(s.Bytes)
				var names []string
				for _, ix := range s.Indexes {
					name := ix.Path
					if ix.Unique {
						name += " (unique)"
					}
					names = append(names, name)
				}
				if len(names) > 0 {
					indexes = strings.Join(names, ", ")
				}
			}
			fmt.Printf("  %s\n", ui.RenderAccent(coll.Name()))
			fmt.Print(indent(ui.KeyValues(
				[2]string{"Documents", docs},
				[2]string{"Size", size},
				[2]string{"Indexes", indexes},
				[2]string{"Fields", ui.RenderMuted(strings.Join(fields, ", "))},
			), "    "))
		}
		fmt.Println()
	},
}

func orNone(s string) string {
	if s == "" {
		return ui.RenderMuted("(defaults)")
	}
	return s
}

func indent(s, prefix string) string {
	lines := strings.SplitAfter(s, "\n")
	var b strings.Builder
	for _, l := range lines {
		if l == "" {
			continue
		}
		b.WriteString(prefix)
		b.WriteString(l)
	}
	return b.String()
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
}
