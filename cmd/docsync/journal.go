package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/docsync/internal/journal"
	"github.com/mschirtzinger/docsync/internal/odm"
	"github.com/mschirtzinger/docsync/internal/ui"
)

var logCmd = &cobra.Command{
	Use:     "log [collection [id]]",
	GroupID: "sync",
	Short:   "Show the change journal",
	Long: `Show inserts, updates and deletes recorded in the change journal, oldest
first. Every command that writes documents appends to the journal, as does
'docsync watch'. With --follow, new entries are printed as they arrive.`,
	Args: cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		follow, _ := cmd.Flags().GetBool("follow")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg := loadConfig()
		if cfg.Journal.Path == "" {
			fatal("the journal is disabled (journal.path is empty)")
		}
		path := resolve(cfg.Journal.Path)

		var collection, id string
		if len(args) > 0 {
			collection = args[0]
		}
		if len(args) > 1 {
			id = args[1]
		}

		entries, err := journal.ReadFile(path)
		if err != nil {
			fatal("%v", err)
		}
		shown := journal.Filter(journal.Since(entries, ""), collection, id)
		if limit > 0 && len(shown) > limit {
			shown = shown[len(shown)-limit:]
		}

		show := func(es []journal.Entry) {
			if asJSON {
				for _, e := range es {
					printValue(e)
				}
				return
			}
			for _, e := range es {
				fmt.Println(formatEntry(e))
			}
		}
		show(shown)
		if !follow {
			return
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		err = journal.Follow(ctx, path, 250*time.Millisecond, journal.Latest(entries), discardLogger(), func(es []journal.Entry) error {
			show(journal.Filter(es, collection, id))
			return nil
		})
		if err != nil && ctx.Err() == nil {
			fatal("%v", err)
		}
	},
}

func formatEntry(e journal.Entry) string {
	var marker string
	switch e.Action {
	case odm.ActionInserted:
		marker = ui.RenderPass("+")
	case odm.ActionDeleted:
		marker = ui.RenderFail("-")
	default:
		marker = ui.RenderWarn("~")
	}
	line := fmt.Sprintf("%s %s %s/%s", ui.RenderMuted(e.Time.Local().Format("2006-01-02 15:04:05")), marker, e.Collection, e.ID)
	if len(e.Paths) > 0 {
		line += " " + strings.Join(e.Paths, ", ")
	}
	if e.Attempts > 1 {
		line += ui.RenderMuted(fmt.Sprintf(" (%d attempts)", e.Attempts))
	}
	return line
}

func init() {
	logCmd.Flags().BoolP("follow", "f", false, "Keep printing new entries")
	logCmd.Flags().IntP("limit", "n", 0, "Show only the last n entries")
	logCmd.Flags().Bool("json", false, "Print entries in --format instead of one line each")
	rootCmd.AddCommand(logCmd)
}
