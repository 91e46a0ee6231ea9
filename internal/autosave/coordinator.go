// Package autosave buffers field-level edits and writes them back on a
// per-stream debounce. A stream is one patch path within one editing
// session; rapid edits to the same path collapse into a single write.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"civicplan/api/internal/store"
	"civicplan/api/internal/workflow"
)

type DocumentStore interface {
	GetByID(ctx context.Context, id string) (store.PlanningDocument, error)
	ConditionalUpdate(ctx context.Context, id string, expectedStatus store.Status, patch store.Patch) error
}

type ActivityLog interface {
	Record(ctx context.Context, module, title, description, status string, actor store.Actor) error
}

// Stash keeps unflushed buffers recoverable when a session ends before its
// debounce fires or while the database is unreachable.
type Stash interface {
	Put(ctx context.Context, docID, stream string, value json.RawMessage, ttl time.Duration) error
}

// Coordinator owns the edit buffers of one actor on one document. Writes go
// through the store's conditional update keyed on OPEN_FOR_EDITING, so a
// flush can never land on a document that already left editing.
type Coordinator struct {
	mu       sync.Mutex
	store    DocumentStore
	activity ActivityLog
	stash    Stash
	docID    string
	kind     store.Kind
	actor    store.Actor
	debounce time.Duration
	stashTTL time.Duration
	now      func() time.Time

	pending map[string]json.RawMessage
	timers  map[string]*time.Timer
	lastErr error
	closed  bool
}

func NewCoordinator(documentStore DocumentStore, activity ActivityLog, stash Stash, docID string, kind store.Kind, actor store.Actor, debounce, stashTTL time.Duration) *Coordinator {
	return &Coordinator{
		store:    documentStore,
		activity: activity,
		stash:    stash,
		docID:    docID,
		kind:     kind,
		actor:    actor,
		debounce: debounce,
		stashTTL: stashTTL,
		now:      time.Now,
		pending:  map[string]json.RawMessage{},
		timers:   map[string]*time.Timer{},
	}
}

// Edit buffers a new value for one patch path and (re)arms that stream's
// debounce timer. The newest value always wins; intermediate values are
// never written. A background flush failure is returned here, but only
// after the incoming value is buffered: the edit is retained and retried,
// never dropped.
func (c *Coordinator) Edit(path string, value json.RawMessage) error {
	if path == "" {
		return &workflow.ValidationError{Reason: "patch path is required"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &workflow.InvalidStateError{Op: "autosave", Status: store.StatusNotInitiated}
	}

	c.pending[path] = value
	if timer, ok := c.timers[path]; ok {
		timer.Stop()
	}
	c.timers[path] = time.AfterFunc(c.debounce, func() {
		c.flushStream(context.Background(), path)
	})

	if c.lastErr != nil {
		err := c.lastErr
		c.lastErr = nil
		return err
	}
	return nil
}

// Flush writes every buffered stream immediately, without waiting for the
// debounce. Used when the session needs a known-durable state, for example
// right before closing editing.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(ctx)
}

// Close ends the session. Buffers that cannot be written are handed to the
// stash so the edits survive the session.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, timer := range c.timers {
		timer.Stop()
	}
	c.timers = map[string]*time.Timer{}

	flushErr := c.flushLocked(ctx)
	if flushErr == nil {
		return nil
	}
	if c.stash == nil {
		return flushErr
	}
	for path, value := range c.pending {
		if err := c.stash.Put(ctx, c.docID, path, value, c.stashTTL); err != nil {
			return &workflow.StorageError{Op: "stash unflushed edits", Err: err}
		}
		delete(c.pending, path)
	}
	return flushErr
}

// Pending reports the streams that have not reached the store yet.
func (c *Coordinator) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := make([]string, 0, len(c.pending))
	for path := range c.pending {
		paths = append(paths, path)
	}
	return paths
}

func (c *Coordinator) flushStream(ctx context.Context, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.pending[path]
	if !ok {
		return
	}
	if err := c.write(ctx, map[string]json.RawMessage{path: value}); err != nil {
		// keep the buffer; the next Edit surfaces the failure
		c.lastErr = err
		return
	}
	delete(c.pending, path)
	delete(c.timers, path)
}

func (c *Coordinator) flushLocked(ctx context.Context) error {
	if len(c.pending) == 0 {
		return nil
	}
	paths := make(map[string]json.RawMessage, len(c.pending))
	for path, value := range c.pending {
		paths[path] = value
	}
	if err := c.write(ctx, paths); err != nil {
		return err
	}
	for path := range paths {
		delete(c.pending, path)
		if timer, ok := c.timers[path]; ok {
			timer.Stop()
			delete(c.timers, path)
		}
	}
	return nil
}

// write performs one conditional update carrying any number of streams and
// records a single activity entry for it.
func (c *Coordinator) write(ctx context.Context, paths map[string]json.RawMessage) error {
	now := c.now()
	patch := store.Patch{
		LastEditedBy: &c.actor.Name,
		LastEditedAt: &now,
		ContentPaths: paths,
	}
	err := c.store.ConditionalUpdate(ctx, c.docID, store.StatusOpenForEditing, patch)
	if errors.Is(err, store.ErrConflict) {
		return &workflow.InvalidStateError{Op: "autosave", Status: c.currentStatus(ctx)}
	}
	if errors.Is(err, store.ErrNotFound) {
		return &workflow.InvalidStateError{Op: "autosave", Status: store.StatusNotInitiated}
	}
	if err != nil {
		return &workflow.StorageError{Op: "autosave flush", Err: err}
	}
	if err := c.activity.Record(ctx, string(c.kind), "Draft saved", "", "completed", c.actor); err != nil {
		return &workflow.StorageError{Op: "append activity", Err: err}
	}
	return nil
}

func (c *Coordinator) currentStatus(ctx context.Context) store.Status {
	doc, err := c.store.GetByID(ctx, c.docID)
	if err != nil {
		return store.StatusNotInitiated
	}
	return doc.Status
}
