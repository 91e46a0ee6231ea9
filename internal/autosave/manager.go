package autosave

import (
	"context"
	"sync"
	"time"

	"civicplan/api/internal/store"
)

// Manager hands out one Coordinator per (document, actor) pair and retires
// sessions that go quiet. Retiring a session closes its coordinator, which
// flushes or stashes whatever is still buffered.
type Manager struct {
	mu       sync.Mutex
	store    DocumentStore
	activity ActivityLog
	stash    Stash
	debounce time.Duration
	stashTTL time.Duration
	ttl      time.Duration
	sessions map[string]*session
	now      func() time.Time
}

type session struct {
	coord    *Coordinator
	lastUsed time.Time
}

func NewManager(documentStore DocumentStore, activity ActivityLog, stash Stash, debounce, stashTTL, sessionTTL time.Duration) *Manager {
	return &Manager{
		store:    documentStore,
		activity: activity,
		stash:    stash,
		debounce: debounce,
		stashTTL: stashTTL,
		ttl:      sessionTTL,
		sessions: map[string]*session{},
		now:      time.Now,
	}
}

// Acquire returns the live coordinator for the actor's session on a
// document, creating one on first use. fresh reports whether this call
// started the session, so callers can replay stashed edits exactly once.
func (m *Manager) Acquire(docID string, kind store.Kind, actor store.Actor) (coord *Coordinator, fresh bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := docID + "/" + actor.ID
	if s, ok := m.sessions[key]; ok {
		s.lastUsed = m.now()
		return s.coord, false
	}
	coord = NewCoordinator(m.store, m.activity, m.stash, docID, kind, actor, m.debounce, m.stashTTL)
	m.sessions[key] = &session{coord: coord, lastUsed: m.now()}
	return coord, true
}

// Release closes the actor's session on a document, if one exists.
func (m *Manager) Release(ctx context.Context, docID string, actor store.Actor) error {
	m.mu.Lock()
	key := docID + "/" + actor.ID
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.coord.Close(ctx)
}

// Sweep closes every session idle longer than the TTL.
func (m *Manager) Sweep(ctx context.Context) {
	m.mu.Lock()
	cutoff := m.now().Add(-m.ttl)
	expired := make([]*session, 0)
	for key, s := range m.sessions {
		if s.lastUsed.Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()
	for _, s := range expired {
		_ = s.coord.Close(ctx)
	}
}

// Run sweeps on an interval until the context ends, then closes every
// remaining session so buffered edits are flushed or stashed on shutdown.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.CloseAll(context.Background())
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// CloseAll drains every session immediately.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for key, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	for _, s := range all {
		_ = s.coord.Close(ctx)
	}
}
