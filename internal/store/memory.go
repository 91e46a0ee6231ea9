package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"civicplan/api/internal/content"
)

// MemoryStore mirrors the PostgresStore contract, conditional-update and
// live-uniqueness semantics included, for tests and local runs without a
// database.
type MemoryStore struct {
	mu        sync.Mutex
	documents map[string]PlanningDocument
	rosters   map[rosterKey][]RosterMember
	events    []ActivityEvent
	seq       int64
}

type rosterKey struct {
	kind Kind
	year int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]PlanningDocument),
		rosters:   make(map[rosterKey][]RosterMember),
	}
}

func (s *MemoryStore) GetCanonical(_ context.Context, kind Kind, year int) (PlanningDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *PlanningDocument
	for _, doc := range s.documents {
		if doc.Kind != kind || doc.Year != year {
			continue
		}
		candidate := doc
		if found == nil || betterCanonical(candidate, *found) {
			found = &candidate
		}
	}
	if found == nil {
		return PlanningDocument{}, ErrNotFound
	}
	doc := cloneDocument(*found)
	doc.Roster = cloneRoster(s.rosters[rosterKey{kind, year}])
	return upgradeContent(doc)
}

func betterCanonical(candidate, current PlanningDocument) bool {
	if (candidate.Status == StatusApproved) != (current.Status == StatusApproved) {
		return candidate.Status == StatusApproved
	}
	return candidate.InitiatedAt.After(current.InitiatedAt)
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (PlanningDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return PlanningDocument{}, ErrNotFound
	}
	out := cloneDocument(doc)
	out.Roster = cloneRoster(s.rosters[rosterKey{doc.Kind, doc.Year}])
	return upgradeContent(out)
}

func (s *MemoryStore) ListByKindYear(_ context.Context, kind Kind, year int) ([]PlanningDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]PlanningDocument, 0)
	for _, doc := range s.documents {
		if doc.Kind == kind && doc.Year == year {
			items = append(items, cloneDocument(doc))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].InitiatedAt.After(items[j].InitiatedAt)
	})
	return items, nil
}

func (s *MemoryStore) Create(_ context.Context, doc PlanningDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.documents {
		if existing.Kind != doc.Kind || existing.Year != doc.Year {
			continue
		}
		// same partial-uniqueness rule as the database index: at most one
		// live (editable or pending) record per (kind, year)
		liveNew := doc.Status == StatusOpenForEditing || doc.Status == StatusPendingApproval
		liveOld := existing.Status == StatusOpenForEditing || existing.Status == StatusPendingApproval
		if liveNew && liveOld {
			return ErrConflict
		}
		if doc.Status == StatusApproved && existing.Status == StatusApproved {
			return ErrConflict
		}
	}
	s.documents[doc.ID] = cloneDocument(doc)
	return nil
}

func (s *MemoryStore) ConditionalUpdate(_ context.Context, id string, expectedStatus Status, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	if doc.Status != expectedStatus {
		return ErrConflict
	}

	body := doc.Content
	for path, value := range patch.ContentPaths {
		patched, err := content.ApplyPatch(body, path, value)
		if err != nil {
			return err
		}
		body = patched
	}
	doc.Content = body

	if patch.Status != nil {
		doc.Status = *patch.Status
	}
	if patch.EditingOpen != nil {
		doc.EditingOpen = *patch.EditingOpen
	}
	if patch.ClosedBy != nil {
		doc.ClosedBy = *patch.ClosedBy
	}
	if patch.ClosedAt != nil {
		doc.ClosedAt = patch.ClosedAt
	}
	if patch.RejectionReason != nil {
		doc.RejectionReason = *patch.RejectionReason
	}
	if patch.LastEditedBy != nil {
		doc.LastEditedBy = *patch.LastEditedBy
	}
	if patch.LastEditedAt != nil {
		doc.LastEditedAt = patch.LastEditedAt
	}
	s.documents[id] = doc
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return ErrNotFound
	}
	delete(s.documents, id)
	return nil
}

func (s *MemoryStore) Roster(_ context.Context, kind Kind, year int) ([]RosterMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRoster(s.rosters[rosterKey{kind, year}]), nil
}

func (s *MemoryStore) SaveRoster(_ context.Context, kind Kind, year int, members []RosterMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rosters[rosterKey{kind, year}] = cloneRoster(members)
	return nil
}

func (s *MemoryStore) AppendActivity(_ context.Context, event ActivityEvent) (ActivityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	event.Seq = s.seq
	s.events = append(s.events, event)
	return event, nil
}

func (s *MemoryStore) ActivityPage(_ context.Context, filter ActivityFilter, limit int, beforeTS *time.Time, beforeSeq *int64) ([]ActivityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}

	matching := make([]ActivityEvent, 0)
	for _, event := range s.events {
		if filter.Module != "" && event.Module != filter.Module {
			continue
		}
		if filter.DateFrom != nil && event.Timestamp.Before(*filter.DateFrom) {
			continue
		}
		if filter.DateTo != nil && event.Timestamp.After(*filter.DateTo) {
			continue
		}
		if beforeTS != nil {
			if event.Timestamp.After(*beforeTS) {
				continue
			}
			if event.Timestamp.Equal(*beforeTS) && event.Seq >= *beforeSeq {
				continue
			}
		}
		matching = append(matching, event)
	}
	sort.Slice(matching, func(i, j int) bool {
		if !matching[i].Timestamp.Equal(matching[j].Timestamp) {
			return matching[i].Timestamp.After(matching[j].Timestamp)
		}
		return matching[i].Seq > matching[j].Seq
	})
	if len(matching) > limit {
		matching = matching[:limit]
	}
	return matching, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func cloneDocument(doc PlanningDocument) PlanningDocument {
	out := doc
	out.Content = append(json.RawMessage(nil), doc.Content...)
	out.Roster = cloneRoster(doc.Roster)
	return out
}

func cloneRoster(members []RosterMember) []RosterMember {
	out := make([]RosterMember, len(members))
	copy(out, members)
	return out
}
