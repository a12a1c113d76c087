package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mschirtzinger/docsync/internal/odm"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a file must stay quiet before it is
	// synced. Editors often write a file several times in a row.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

// Daemon keeps collections in sync with a directory of document files.
type Daemon struct {
	syncer *Syncer
	root   string
	config *Config

	watcher       *FileWatcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	// OnResult, when set, is called after every processed file.
	OnResult func(Result, error)
	// OnFullSync, when set, is called after the initial full sync.
	OnFullSync func(Stats, time.Duration)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon syncing files below root through syncer.
func New(syncer *Syncer, root string, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		syncer:      syncer,
		root:        root,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start performs a full sync, then watches for file changes until ctx is
// cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	names := d.syncer.Collections()
	for _, name := range names {
		if err := os.MkdirAll(filepath.Join(d.root, name), 0755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", name, err)
		}
	}

	start := time.Now()
	stats, err := d.syncer.FullSync(ctx, d.root)
	if err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}
	if d.OnFullSync != nil {
		d.OnFullSync(stats, time.Since(start))
	}

	if err := d.watcher.Start(d.root, names); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching %s (%d collections)", d.root, len(names))

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the daemon down and waits for in-flight syncs.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()
	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	events, errs := d.watcher.Events(), d.watcher.Errors()
	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			d.config.Logger.Printf("File event: %s %s/%s", event.Op, event.Collection, event.ID)
			d.queueChange(event.Path)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges syncs files that have been quiet for long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	for _, path := range ready {
		res, err := d.syncPath(path)
		if err != nil {
			d.config.Logger.Printf("Error syncing %s: %v", path, err)
		}
		if d.OnResult != nil {
			d.OnResult(res, err)
		}
	}
}

func (d *Daemon) syncPath(path string) (Result, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		coll, id, _ := ParsePath(d.root, path)
		return Result{Collection: coll, ID: id, Action: odm.ActionDeleted}, d.syncer.DeleteFile(d.ctx, d.root, path)
	}
	return d.syncer.SyncFile(d.ctx, d.root, path)
}
