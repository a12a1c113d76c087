package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/docsync/internal/odm"
	"github.com/mschirtzinger/docsync/internal/ui"
)

var insertCmd = &cobra.Command{
	Use:     "insert <collection> [path=value...]",
	GroupID: "data",
	Short:   "Insert a document",
	Long: `Insert a new document. Field values come from path=value arguments,
from --json (use - to read stdin) or from an interactive form with -i.
Values are read as JSON when they parse and as strings otherwise.

Examples:
  docsync insert Note title="First note" views=3 tags='["go"]'
  echo '{"title":"From stdin"}' | docsync insert Note --json -
  docsync insert Note -i`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		coll := a.collection(args[0])
		id, _ := cmd.Flags().GetString("id")
		raw, _ := cmd.Flags().GetString("json")
		interactive, _ := cmd.Flags().GetBool("interactive")

		values := map[string]any{}
		if raw != "" {
			data := []byte(raw)
			if raw == "-" {
				var err error
				if data, err = io.ReadAll(os.Stdin); err != nil {
					fatal("reading stdin: %v", err)
				}
			}
			v, err := readValues(data)
			if err != nil {
				fatal("%v", err)
			}
			values = v
		}
		if interactive {
			v, err := promptValues(coll.Schema())
			if err != nil {
				fatal("%v", err)
			}
			for k, val := range v {
				values[k] = val
			}
		}

		var doc *odm.Document
		var err error
		if id != "" {
			doc, err = coll.NewWithID(id, values)
		} else {
			doc, err = coll.New(values)
		}
		if err != nil {
			fatal("%v", err)
		}
		for _, arg := range args[1:] {
			as, err := parseAssignment(arg)
			if err != nil {
				fatal("%v", err)
			}
			if err := as.apply(doc); err != nil {
				fatal("%v", err)
			}
		}

		if err := doc.Save(ctx, a.cfg.Store.RetryLimit); err != nil {
			fatal("%v", err)
		}
		fmt.Fprintf(os.Stderr, "%s Inserted %s/%s\n", ui.RenderPass("✓"), coll.Name(), doc.ID())
		printValue(doc.PlainMap())
	},
}

// promptValues asks for every scalar field of schema.
func promptValues(schema *odm.Schema) (map[string]any, error) {
	type entry struct {
		field odm.Field
		text  string
		flag  bool
	}
	var entries []*entry
	var fields []huh.Field
	for _, f := range schema.Fields() {
		if _, ok := f.(*odm.Scalar); !ok {
			continue
		}
		e := &entry{field: f}
		entries = append(entries, e)
		title := f.Name()
		if f.Required() {
			title += " *"
		}
		if f.Kind() == "bool" {
			fields = append(fields, huh.NewConfirm().Title(title).Value(&e.flag))
			continue
		}
		fields = append(fields, huh.NewInput().
			Title(title).
			Description(f.Kind()).
			Value(&e.text).
			Validate(func(s string) error {
				if s == "" {
					if f.Required() {
						return fmt.Errorf("%s is required", f.Name())
					}
					return nil
				}
				return validateInput(f, s)
			}))
	}
	if len(fields) == 0 {
		return map[string]any{}, nil
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return nil, fmt.Errorf("form cancelled: %w", err)
	}

	values := map[string]any{}
	for _, e := range entries {
		switch {
		case e.field.Kind() == "bool":
			values[e.field.Name()] = e.flag
		case e.text != "":
			values[e.field.Name()] = inputValue(e.field, e.text)
		}
	}
	return values, nil
}

// inputValue reads form text the way the field expects it.
func inputValue(f odm.Field, s string) any {
	if v := parseValue(s); f.Validate(v) == nil {
		return v
	}
	return s
}

func validateInput(f odm.Field, s string) error {
	if f.Validate(parseValue(s)) == nil {
		return nil
	}
	return f.Validate(s)
}

var getCmd = &cobra.Command{
	Use:     "get <collection> <id>",
	GroupID: "data",
	Short:   "Show a document",
	Long: `Show a stored document. --deref replaces a reference field with the
document it points at.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		coll := a.collection(args[0])
		doc, err := coll.Get(ctx, args[1])
		if err != nil {
			fatal("%v", err)
		}
		out := doc.PlainMap()

		derefs, _ := cmd.Flags().GetStringSlice("deref")
		for _, path := range derefs {
			f, err := doc.Field(path)
			if err != nil {
				fatal("%v", err)
			}
			target, ok := strings.CutPrefix(f.Kind(), "reference to ")
			if !ok {
				fatal("%s is a %s field, not a reference", path, f.Kind())
			}
			ref, err := coll.Dereference(ctx, doc, path, a.collection(target).Schema())
			if err != nil {
				fatal("%v", err)
			}
			out[path] = ref.PlainMap()
		}
		printValue(out)
	},
}

var setCmd = &cobra.Command{
	Use:     "set <collection> <id> <path=value|path=op:value>...",
	GroupID: "data",
	Short:   "Update fields of a document",
	Long: `Update fields of a stored document. Each change is written as its own
guarded update, so concurrent writers touching other fields are kept.

Operators: set, unset, inc, dec, mul, max, min, push, pull, delete.
push and pull take a single value or a JSON array.

Examples:
  docsync set Note 01J... views=inc:1 tags=push:'"draft"'
  docsync set Note 01J... meta.owner=ann author.email=unset:
  docsync set Note 01J... tags.0=delete:`,
	Args: cobra.MinimumNArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		coll := a.collection(args[0])
		doc, err := coll.Get(ctx, args[1])
		if err != nil {
			fatal("%v", err)
		}
		for _, arg := range args[2:] {
			as, err := parseAssignment(arg)
			if err != nil {
				fatal("%v", err)
			}
			if err := as.apply(doc); err != nil {
				fatal("%v", err)
			}
		}

		report, err := doc.Sync(ctx, a.cfg.Store.RetryLimit)
		if odm.IsRetryLimit(err) {
			fatal("%v (raise store.retry_limit or retry later)", err)
		}
		if err != nil {
			fatal("%v", err)
		}
		fmt.Fprintf(os.Stderr, "%s Updated %s/%s: %s (%d attempt(s))\n",
			ui.RenderPass("✓"), coll.Name(), doc.ID(), strings.Join(report.Paths, ", "), report.Attempts)
		printValue(doc.PlainMap())
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <collection> <id>...",
	GroupID: "data",
	Short:   "Delete documents",
	Args:    cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		coll := a.collection(args[0])
		failed := false
		for _, id := range args[1:] {
			doc, err := coll.Get(ctx, id)
			if err == nil {
				err = coll.Delete(ctx, doc)
			}
			if err != nil {
				if errors.Is(err, odm.ErrNotFound) {
					fmt.Fprintf(os.Stderr, "%s %s/%s not found\n", ui.RenderWarn("!"), coll.Name(), id)
				} else {
					fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("✗"), err)
				}
				failed = true
				continue
			}
			fmt.Printf("%s Deleted %s/%s\n", ui.RenderPass("✓"), coll.Name(), id)
		}
		if failed {
			os.Exit(1)
		}
	},
}

var findCmd = &cobra.Command{
	Use:     "find <collection>",
	GroupID: "data",
	Short:   "Find documents",
	Long: `Find documents matching every --where condition, then keep those for
which --expr is true.

--where takes path=value or path=op:value with op one of eq, ne, lt, lte,
gt, gte, in, nin. in and nin take a JSON array or a comma separated list.
--expr is evaluated against each document's fields.

Examples:
  docsync find Note --where views=gte:10 --where tags=in:go,rust
  docsync find Note --expr 'len(tags) > 2 && author.name == "ann"'
  docsync find Note --where slug=intro --one`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		coll := a.collection(args[0])
		conds, _ := cmd.Flags().GetStringArray("where")
		src, _ := cmd.Flags().GetString("expr")
		one, _ := cmd.Flags().GetBool("one")
		countOnly, _ := cmd.Flags().GetBool("count")

		where, err := parseWhere(conds)
		if err != nil {
			fatal("%v", err)
		}
		var pred *predicate
		if src != "" {
			if pred, err = compilePredicate(src); err != nil {
				fatal("%v", err)
			}
		}

		if countOnly && pred == nil {
			n, err := coll.Count(ctx, where)
			if err != nil {
				fatal("%v", err)
			}
			fmt.Println(n)
			return
		}
		if one && pred == nil {
			doc, err := coll.FindOne(ctx, where)
			if err != nil {
				fatal("%v", err)
			}
			printValue(doc.PlainMap())
			return
		}

		docs, err := coll.Find(ctx, where)
		if err != nil {
			fatal("%v", err)
		}
		if docs, err = filterDocuments(docs, pred); err != nil {
			fatal("%v", err)
		}
		switch {
		case countOnly:
			fmt.Println(len(docs))
		case one && len(docs) != 1:
			fatal("%d documents match, want exactly one", len(docs))
		case one:
			printValue(docs[0].PlainMap())
		default:
			printValue(plainAll(docs))
		}
	},
}

func init() {
	insertCmd.Flags().String("id", "", "Use this id instead of a generated one")
	insertCmd.Flags().String("json", "", "Field values as a JSON object (- reads stdin)")
	insertCmd.Flags().BoolP("interactive", "i", false, "Prompt for field values")

	getCmd.Flags().StringSlice("deref", nil, "Reference fields to resolve")

	findCmd.Flags().StringArrayP("where", "w", nil, "Condition path=value or path=op:value (repeatable)")
	findCmd.Flags().StringP("expr", "e", "", "Expression each result must satisfy")
	findCmd.Flags().Bool("one", false, "Require exactly one match")
	findCmd.Flags().Bool("count", false, "Print the number of matches")

	rootCmd.AddCommand(insertCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(findCmd)
}
