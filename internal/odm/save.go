package odm

import (
	"context"
	"fmt"
	"sort"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/odm/update"
)

// SaveReport describes what one Save sent to the store.
type SaveReport struct {
	// Inserted is set when the document was new.
	Inserted bool
	// Attempts counts bulk writes (or the insert) issued.
	Attempts int
	// Operations counts update operations the store applied.
	Operations int
	// Paths lists the changed paths that were written.
	Paths []string
}

// operation is one conditional store update built from consecutive
// descriptors on the same target.
type operation struct {
	ds     []*update.Descriptor
	target string
	op     update.Operator
}

func (o *operation) guarded() bool { return o.ds[0].Guarded }

func (o *operation) model(id string) docstore.WriteModel {
	filter := docstore.Filter{docstore.IDKey: id}
	for k, v := range o.ds[0].Filter() {
		filter[k] = v
	}
	tag, operand := o.op.Wire()
	return docstore.WriteModel{
		Filter: filter,
		Update: docstore.Update{tag: {o.target: operand}},
	}
}

func (o *operation) ack() {
	for _, d := range o.ds {
		d.Ack()
	}
}

// Save writes the document's pending changes. See Sync.
func (d *Document) Save(ctx context.Context, limit int) error {
	_, err := d.Sync(ctx, limit)
	return err
}

// Sync writes the document's pending changes and reports what was sent.
//
// An unsaved document is inserted. A saved one sends every pending change as
// a conditional update in one bulk write. When another writer changed a
// guarded path first, the contested paths are re-read, the snapshots
// refreshed and the remaining changes sent again. A limit above zero bounds
// the number of attempts; zero retries until the write lands.
func (d *Document) Sync(ctx context.Context, limit int) (SaveReport, error) {
	if d.coll == nil || d.parent != nil {
		return SaveReport{}, fmt.Errorf("save %s: %w", d.schema.name, ErrNotBound)
	}
	if d.id == "" {
		return d.insert(ctx)
	}
	return d.update(ctx, limit)
}

func (d *Document) insert(ctx context.Context) (SaveReport, error) {
	if err := d.checkRequired(); err != nil {
		return SaveReport{}, err
	}
	doc := d.PlainMap()
	delete(doc, docstore.IDKey)
	if d.requestedID != "" {
		doc[docstore.IDKey] = d.requestedID
	}

	id, err := d.coll.store.InsertOne(ctx, doc)
	if err != nil {
		return SaveReport{}, err
	}
	d.id = id
	d.requestedID = ""
	d.MarkSynced()

	d.coll.notify(Change{Collection: d.coll.Name(), ID: id, Action: ActionInserted, Attempts: 1})
	return SaveReport{Inserted: true, Attempts: 1}, nil
}

func (d *Document) update(ctx context.Context, limit int) (SaveReport, error) {
	paths := d.Changed()
	report := SaveReport{Paths: paths}
	if len(paths) == 0 {
		d.dirty = nil
		return report, nil
	}

	for {
		ops, err := d.compile(paths)
		if err != nil {
			return report, err
		}
		if len(ops) == 0 {
			break
		}

		models := make([]docstore.WriteModel, len(ops))
		for i, op := range ops {
			models[i] = op.model(d.id)
		}
		report.Attempts++
		n, err := d.coll.store.BulkWrite(ctx, models)
		for _, op := range ops[:n] {
			op.ack()
		}
		report.Operations += n
		if err != nil {
			return report, err
		}
		if n == len(ops) {
			break
		}

		if err := d.refresh(ctx, ops[n:]); err != nil {
			return report, err
		}
		if limit > 0 && report.Attempts >= limit {
			return report, &RetryLimitError{Limit: limit, Collection: d.coll.Name(), ID: d.id, Paths: paths}
		}
		d.coll.logger.Printf("conflict saving %s/%s: %d of %d operations applied, retrying (attempt %d)",
			d.coll.Name(), d.id, n, len(ops), report.Attempts+1)
	}

	d.MarkSynced()
	d.coll.notify(Change{
		Collection: d.coll.Name(),
		ID:         d.id,
		Action:     ActionUpdated,
		Paths:      paths,
		Attempts:   report.Attempts,
	})
	return report, nil
}

// compile gathers the pending descriptors of paths in mutation order and
// merges runs of unforced descriptors on one target into single operations.
func (d *Document) compile(paths []string) ([]*operation, error) {
	seen := map[*update.Descriptor]bool{}
	var all []*update.Descriptor
	for _, p := range paths {
		ds, err := d.compileKey(p)
		if err != nil {
			return nil, err
		}
		for _, desc := range ds {
			if !seen[desc] {
				seen[desc] = true
				all = append(all, desc)
			}
		}
	}
	bySeq(all)

	var ops []*operation
	for _, desc := range all {
		if n := len(ops); n > 0 {
			last := ops[n-1]
			if !desc.Forced && !last.ds[0].Forced && last.target == desc.Target {
				last.ds = append(last.ds, desc)
				continue
			}
		}
		ops = append(ops, &operation{ds: []*update.Descriptor{desc}, target: desc.Target})
	}
	for _, op := range ops {
		combined, err := update.Combine(op.ds)
		if err != nil {
			return nil, err
		}
		op.op = combined
	}
	return ops, nil
}

// refresh re-reads the guarded targets of the operations that did not land
// and rebases the first guard on each target.
func (d *Document) refresh(ctx context.Context, rest []*operation) error {
	var targets []string
	first := map[string]*operation{}
	for _, op := range rest {
		if !op.guarded() {
			continue
		}
		if _, ok := first[op.target]; !ok {
			first[op.target] = op
			targets = append(targets, op.target)
		}
	}
	sort.Strings(targets)
	if len(targets) == 0 {
		targets = []string{docstore.IDKey}
	}

	raw, err := d.coll.store.FindOne(ctx, docstore.Filter{docstore.IDKey: d.id}, targets...)
	if err != nil {
		return err
	}
	if !rest[0].guarded() {
		// Only the _id filter was in play and the document still exists.
		return fmt.Errorf("%s/%s: update %s matched nothing: %w", d.coll.Name(), d.id, rest[0].target, docstore.ErrInvalidUpdate)
	}
	for _, target := range targets {
		observed, ok := docstore.Lookup(raw, target)
		if err := first[target].ds[0].Refresh(observed, ok); err != nil {
			return fmt.Errorf("%s/%s: %w", d.coll.Name(), d.id, err)
		}
	}
	return nil
}

// Reload discards pending changes and re-reads the stored document.
func (d *Document) Reload(ctx context.Context) error {
	if d.coll == nil || d.parent != nil || d.id == "" {
		return fmt.Errorf("reload %s: %w", d.schema.name, ErrNotBound)
	}
	raw, err := d.coll.store.FindOne(ctx, docstore.Filter{docstore.IDKey: d.id})
	if err != nil {
		return err
	}
	return d.load(raw)
}
