package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/docsync/internal/migrate"
	"github.com/mschirtzinger/docsync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <collection> <file.jsonl>",
	GroupID: "maint",
	Short:   "Import documents from JSONL",
	Long: `Import one JSON document per line. Records whose _id already exists are
merged field by field, others are inserted. Invalid records are reported
and skipped.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")

		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		coll := a.collection(args[0])
		result, err := migrate.Import(ctx, coll, migrate.ImportOptions{
			Path:       args[1],
			DryRun:     dryRun,
			Backup:     backup,
			RetryLimit: a.cfg.Store.RetryLimit,
		})
		if err != nil {
			fatal("%v", err)
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s into %s\n", ui.RenderPass("✓"), verb, ui.RenderAccent(coll.Name()))
		fmt.Print(indent(ui.KeyValues(
			[2]string{"Inserted", ui.Count(result.Inserted)},
			[2]string{"Updated", ui.Count(result.Updated)},
			[2]string{"Unchanged", ui.Count(result.Unchanged)},
			[2]string{"Errors", ui.Count(len(result.Errors))},
		), "  "))
		if result.BackupCreated != "" {
			fmt.Printf("  Backup: %s\n", result.BackupCreated)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "  %s %s\n", ui.RenderWarn("!"), e)
		}
		if len(result.Errors) > 0 {
			os.Exit(1)
		}
	},
}

var exportCmd = &cobra.Command{
	Use:     "export <collection>",
	GroupID: "maint",
	Short:   "Export documents as JSONL",
	Long:    `Write every document of a collection as JSONL, ordered by _id.`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("file")

		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		coll := a.collection(args[0])
		if path == "" {
			if _, err := migrate.Export(ctx, coll, os.Stdout); err != nil {
				fatal("%v", err)
			}
			return
		}
		n, err := migrate.ExportFile(ctx, coll, path)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Fprintf(os.Stderr, "%s Exported %s documents to %s\n", ui.RenderPass("✓"), ui.Count(n), path)
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "Validate without writing")
	importCmd.Flags().Bool("backup", false, "Copy the input file aside first")
	exportCmd.Flags().StringP("file", "f", "", "Write to this file instead of stdout")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
