package feed

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mschirtzinger/docsync/internal/odm"
	"github.com/mschirtzinger/docsync/internal/watch"
)

// CollectionStats counts the writes seen for one collection.
type CollectionStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
	// Retries is the number of extra round trips saves needed after
	// losing a guard to another writer.
	Retries int `json:"retries"`
}

// StatsData is the payload of a stats message.
type StatsData struct {
	Collections map[string]CollectionStats `json:"collections"`
	Changes     int                        `json:"changes"`
}

// SyncCompleteData is the payload of a sync_complete message.
type SyncCompleteData struct {
	Synced    int           `json:"synced"`
	Unchanged int           `json:"unchanged"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Handler turns collection changes into feed messages and keeps the
// counters sent to new clients.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a handler broadcasting through server. New clients of
// server receive the handler's counters first.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[feed] ", log.LstdFlags)
	}

	h := &Handler{
		server: server,
		logger: logger,
		stats:  StatsData{Collections: make(map[string]CollectionStats)},
	}
	server.setWelcome(h.statsMessage)
	return h
}

// Watch subscribes the handler to every change of the given collections.
func (h *Handler) Watch(collections ...*odm.Collection) {
	for _, c := range collections {
		h.mu.Lock()
		if _, ok := h.stats.Collections[c.Name()]; !ok {
			h.stats.Collections[c.Name()] = CollectionStats{}
		}
		h.mu.Unlock()
		c.Observe(h.OnChange)
	}
}

// OnChange broadcasts a change followed by the updated counters.
func (h *Handler) OnChange(ch odm.Change) {
	h.mu.Lock()
	cs := h.stats.Collections[ch.Collection]
	switch ch.Action {
	case odm.ActionInserted:
		cs.Inserted++
	case odm.ActionUpdated:
		cs.Updated++
	case odm.ActionDeleted:
		cs.Deleted++
	}
	if ch.Attempts > 1 {
		cs.Retries += ch.Attempts - 1
	}
	h.stats.Collections[ch.Collection] = cs
	h.stats.Changes++
	h.mu.Unlock()

	data, err := json.Marshal(ch)
	if err != nil {
		h.logger.Printf("Failed to marshal change: %v", err)
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeChange, Timestamp: ch.Time, Data: data})
	h.server.Broadcast(h.statsMessage())
}

// OnSyncComplete broadcasts the outcome of a full directory sync.
func (h *Handler) OnSyncComplete(stats watch.Stats, duration time.Duration) {
	h.logger.Printf("Sync complete: %d synced, %d unchanged, %d failed in %v",
		stats.Synced, stats.Unchanged, stats.Failed, duration)

	data, err := json.Marshal(SyncCompleteData{
		Synced:    stats.Synced,
		Unchanged: stats.Unchanged,
		Failed:    stats.Failed,
		Duration:  duration,
	})
	if err != nil {
		h.logger.Printf("Failed to marshal sync data: %v", err)
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeSyncComplete, Timestamp: time.Now(), Data: data})
}

// Stats returns a copy of the current counters.
func (h *Handler) Stats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := StatsData{Collections: make(map[string]CollectionStats, len(h.stats.Collections)), Changes: h.stats.Changes}
	for k, v := range h.stats.Collections {
		out.Collections[k] = v
	}
	return out
}

func (h *Handler) statsMessage() Message {
	data, err := json.Marshal(h.Stats())
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return Message{Type: MessageTypeStats, Timestamp: time.Now()}
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}
}
