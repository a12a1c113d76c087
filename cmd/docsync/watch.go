package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/docsync/internal/feed"
	"github.com/mschirtzinger/docsync/internal/ui"
	"github.com/mschirtzinger/docsync/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Sync a directory of JSON files into the store",
	Long: `Watch <dir>/<collection>/<id>.json files and write every change into the
store. Only the fields that differ from the stored document are written, so
other writers are never overwritten. Deleting a file deletes the document.

With --feed, a WebSocket change feed is served on /ws:

  {"type":"change","data":{"collection":"Note","id":"...","action":"updated",...}}
  {"type":"stats","data":{"collections":{"Note":{"inserted":1,...}},"changes":3}}`,
	Run: func(cmd *cobra.Command, args []string) {
		withFeed, _ := cmd.Flags().GetBool("feed")
		exportFirst, _ := cmd.Flags().GetBool("export")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a := openApp(ctx)
		defer a.Close()

		dir := a.cfg.Watch.Dir
		if cmd.Flags().Changed("root") {
			dir, _ = cmd.Flags().GetString("root")
		}
		dir = resolve(dir)
		debounce, err := a.cfg.Watch.DebounceInterval()
		if err != nil {
			fatal("%v", err)
		}

		syncer := watch.NewSyncer(a.collections, a.cfg.Store.RetryLimit, a.logger("[sync] "))
		if exportFirst {
			n, err := syncer.Export(ctx, dir)
			if err != nil {
				fatal("%v", err)
			}
			fmt.Printf("%s Exported %s documents to %s\n", ui.RenderPass("✓"), ui.Count(n), dir)
		}

		daemon, err := watch.New(syncer, dir, &watch.Config{
			DebounceInterval: debounce,
			Logger:           a.logger("[watch] "),
		})
		if err != nil {
			fatal("%v", err)
		}
		daemon.OnResult = func(r watch.Result, err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("✗"), err)
				return
			}
			if r.Action == "" {
				return
			}
			fmt.Printf("%s %s %s/%s %s\n", ui.RenderPass("✓"), r.Action, r.Collection, r.ID,
				ui.RenderMuted(strings.Join(r.Paths, ", ")))
		}
		daemon.OnFullSync = func(s watch.Stats, d time.Duration) {
			fmt.Printf("%s Initial sync: %d synced, %d unchanged, %d failed (%v)\n",
				ui.RenderAccent("▸"), s.Synced, s.Unchanged, s.Failed, d.Round(time.Millisecond))
		}

		if withFeed {
			port := a.cfg.Feed.Port
			if cmd.Flags().Changed("port") {
				port, _ = cmd.Flags().GetInt("port")
			}
			server := feed.NewServer(&feed.Config{Port: port, Logger: a.logger("[feed] ")})
			handler := feed.NewHandler(server, a.logger("[feed] "))
			handler.Watch(a.collections...)
			if err := server.Start(); err != nil {
				fatal("%v", err)
			}
			defer func() {
				if err := server.Stop(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: stopping feed: %v\n", err)
				}
			}()

			onFullSync := daemon.OnFullSync
			daemon.OnFullSync = func(s watch.Stats, d time.Duration) {
				onFullSync(s, d)
				handler.OnSyncComplete(s, d)
			}
			_, listenPort, _ := net.SplitHostPort(server.Addr())
			fmt.Printf("%s Change feed on ws://localhost:%s/ws\n", ui.RenderAccent("▸"), listenPort)
		}

		fmt.Printf("%s Watching %s (Ctrl+C to stop)\n", ui.RenderAccent("▸"), dir)
		if err := daemon.Start(ctx); err != nil {
			fatal("%v", err)
		}
		fmt.Println("\nStopped.")
	},
}

func init() {
	watchCmd.Flags().String("root", "", "Directory to watch (default: watch.dir from config)")
	watchCmd.Flags().Bool("export", false, "Write stored documents to the directory before watching")
	watchCmd.Flags().Bool("feed", false, "Serve a WebSocket change feed")
	watchCmd.Flags().Int("port", 0, "Feed port (default: feed.port from config)")
	rootCmd.AddCommand(watchCmd)
}
