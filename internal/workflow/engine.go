// Package workflow owns the planning-document state machine. Every status
// change in the system goes through the Engine; nothing else writes status.
package workflow

import (
	"context"
	"errors"
	"time"

	"civicplan/api/internal/content"
	"civicplan/api/internal/rbac"
	"civicplan/api/internal/store"
	"civicplan/api/internal/util"
)

type DocumentStore interface {
	GetCanonical(ctx context.Context, kind store.Kind, year int) (store.PlanningDocument, error)
	ListByKindYear(ctx context.Context, kind store.Kind, year int) ([]store.PlanningDocument, error)
	Create(ctx context.Context, doc store.PlanningDocument) error
	ConditionalUpdate(ctx context.Context, id string, expectedStatus store.Status, patch store.Patch) error
	Delete(ctx context.Context, id string) error
	Roster(ctx context.Context, kind store.Kind, year int) ([]store.RosterMember, error)
	SaveRoster(ctx context.Context, kind store.Kind, year int, members []store.RosterMember) error
}

type ActivityLog interface {
	Record(ctx context.Context, module, title, description, status string, actor store.Actor) error
}

type Engine struct {
	store    DocumentStore
	activity ActivityLog
	now      func() time.Time
}

func NewEngine(documentStore DocumentStore, activity ActivityLog) *Engine {
	return &Engine{
		store:    documentStore,
		activity: activity,
		now:      time.Now,
	}
}

// Get returns the canonical record for (kind, year), or an implicit
// NOT_INITIATED record carrying the retained roster when none exists. When
// an approved record coexists with a stale pending one (an approve whose
// old-record delete did not land), the stale record is reconciled away.
func (e *Engine) Get(ctx context.Context, kind store.Kind, year int) (store.PlanningDocument, error) {
	if !kind.Valid() {
		return store.PlanningDocument{}, &ValidationError{Reason: "unknown document kind"}
	}

	doc, err := e.store.GetCanonical(ctx, kind, year)
	if errors.Is(err, store.ErrNotFound) {
		return e.implicitDocument(ctx, kind, year)
	}
	if err != nil {
		return store.PlanningDocument{}, &StorageError{Op: "read document", Err: err}
	}
	if doc.Status == store.StatusApproved {
		e.reconcileStale(ctx, kind, year)
	}
	return doc, nil
}

// Initiate opens a new editing round. Allowed from NOT_INITIATED and from
// REJECTED; re-initiating discards the rejected record and allocates a
// fresh id with default content. The roster carries over.
func (e *Engine) Initiate(ctx context.Context, actor store.Actor, kind store.Kind, year int) (store.PlanningDocument, error) {
	if !kind.Valid() {
		return store.PlanningDocument{}, &ValidationError{Reason: "unknown document kind"}
	}
	if year <= 0 {
		return store.PlanningDocument{}, &ValidationError{Reason: "year is required"}
	}
	if err := e.guard(actor, rbac.ActionInitiate); err != nil {
		return store.PlanningDocument{}, err
	}

	current, err := e.store.GetCanonical(ctx, kind, year)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// nothing to replace
	case err != nil:
		return store.PlanningDocument{}, &StorageError{Op: "read document", Err: err}
	case current.Status == store.StatusRejected:
		if err := e.store.Delete(ctx, current.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return store.PlanningDocument{}, &StorageError{Op: "discard rejected document", Err: err}
		}
	default:
		return store.PlanningDocument{}, &InvalidStateError{Op: "initiate", Status: current.Status}
	}

	roster, err := e.store.Roster(ctx, kind, year)
	if err != nil {
		return store.PlanningDocument{}, &StorageError{Op: "read roster", Err: err}
	}
	body, err := content.Default(string(kind))
	if err != nil {
		return store.PlanningDocument{}, &ValidationError{Reason: err.Error()}
	}

	doc := store.PlanningDocument{
		ID:          util.NewID("plan"),
		Kind:        kind,
		Year:        year,
		Status:      store.StatusOpenForEditing,
		EditingOpen: true,
		Content:     body,
		Roster:      roster,
		InitiatedBy: actor.Name,
		InitiatedAt: e.now(),
	}
	if err := e.store.Create(ctx, doc); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.PlanningDocument{}, &ConflictError{Op: "initiate"}
		}
		return store.PlanningDocument{}, &StorageError{Op: "create document", Err: err}
	}

	if err := e.record(ctx, kind, actor, "Planning document initiated", "Editing opened for "+string(kind)); err != nil {
		return store.PlanningDocument{}, err
	}
	return doc, nil
}

// CloseEditing freezes content and hands the document to approval. Content
// is kept as drafted.
func (e *Engine) CloseEditing(ctx context.Context, actor store.Actor, kind store.Kind, year int) (store.PlanningDocument, error) {
	if err := e.guard(actor, rbac.ActionClose); err != nil {
		return store.PlanningDocument{}, err
	}
	current, err := e.requireStatus(ctx, kind, year, store.StatusOpenForEditing, "close editing")
	if err != nil {
		return store.PlanningDocument{}, err
	}

	now := e.now()
	pending := store.StatusPendingApproval
	closed := false
	patch := store.Patch{
		Status:      &pending,
		EditingOpen: &closed,
		ClosedBy:    &actor.Name,
		ClosedAt:    &now,
	}
	if err := e.conditionalUpdate(ctx, current.ID, store.StatusOpenForEditing, patch, "close editing"); err != nil {
		return store.PlanningDocument{}, err
	}

	if err := e.record(ctx, kind, actor, "Editing closed", "Document moved to approval"); err != nil {
		return store.PlanningDocument{}, err
	}
	current.Status = pending
	current.EditingOpen = false
	current.ClosedBy = actor.Name
	current.ClosedAt = &now
	return current, nil
}

// Approve performs the two-phase replace: the approved record is created
// before the pending one is deleted, so a crash between the phases leaves a
// harmless duplicate rather than no document at all. evidenceRef must
// already be durable (the evidence manager uploads before calling here);
// approvedDate is the council's chosen date and may be in the past.
func (e *Engine) Approve(ctx context.Context, actor store.Actor, kind store.Kind, year int, evidenceRef string, approvedDate time.Time) (store.PlanningDocument, error) {
	if evidenceRef == "" {
		return store.PlanningDocument{}, &ValidationError{Reason: "evidence reference is required"}
	}
	if approvedDate.IsZero() {
		return store.PlanningDocument{}, &ValidationError{Reason: "approval date is required"}
	}
	if err := e.guard(actor, rbac.ActionApprove); err != nil {
		return store.PlanningDocument{}, err
	}
	current, err := e.requireStatus(ctx, kind, year, store.StatusPendingApproval, "approve")
	if err != nil {
		return store.PlanningDocument{}, err
	}

	now := e.now()
	approved := store.PlanningDocument{
		ID:           util.NewID("plan"),
		Kind:         kind,
		Year:         year,
		Status:       store.StatusApproved,
		EditingOpen:  false,
		Content:      current.Content,
		Roster:       current.Roster,
		InitiatedBy:  current.InitiatedBy,
		InitiatedAt:  current.InitiatedAt,
		ClosedBy:     current.ClosedBy,
		ClosedAt:     current.ClosedAt,
		ApprovedBy:   actor.Name,
		ApprovedAt:   &now,
		KKApprovedAt: &approvedDate,
		EvidenceRef:  evidenceRef,
	}
	if err := e.store.Create(ctx, approved); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.PlanningDocument{}, &ConflictError{Op: "approve"}
		}
		return store.PlanningDocument{}, &StorageError{Op: "create approved document", Err: err}
	}

	// Phase two. A failed delete leaves a stale pending record next to the
	// durable approved one; Get reconciles it away on the next read.
	_ = e.store.Delete(ctx, current.ID)

	if err := e.record(ctx, kind, actor, "Document approved", "Approval dated "+approvedDate.Format("2006-01-02")); err != nil {
		return store.PlanningDocument{}, err
	}
	return approved, nil
}

// Reject keeps the same record, attaches the reason, and leaves the
// document recoverable via re-initiate.
func (e *Engine) Reject(ctx context.Context, actor store.Actor, kind store.Kind, year int, reason string) (store.PlanningDocument, error) {
	if reason == "" {
		return store.PlanningDocument{}, &ValidationError{Reason: "rejection reason is required"}
	}
	if err := e.guard(actor, rbac.ActionReject); err != nil {
		return store.PlanningDocument{}, err
	}
	current, err := e.requireStatus(ctx, kind, year, store.StatusPendingApproval, "reject")
	if err != nil {
		return store.PlanningDocument{}, err
	}

	rejected := store.StatusRejected
	closed := false
	patch := store.Patch{
		Status:          &rejected,
		EditingOpen:     &closed,
		RejectionReason: &reason,
	}
	if err := e.conditionalUpdate(ctx, current.ID, store.StatusPendingApproval, patch, "reject"); err != nil {
		return store.PlanningDocument{}, err
	}

	if err := e.record(ctx, kind, actor, "Document rejected", reason); err != nil {
		return store.PlanningDocument{}, err
	}
	current.Status = rejected
	current.EditingOpen = false
	current.RejectionReason = reason
	return current, nil
}

// Reset destroys an approved record and returns the document to
// NOT_INITIATED. The roster survives in its side table.
func (e *Engine) Reset(ctx context.Context, actor store.Actor, kind store.Kind, year int) (store.PlanningDocument, error) {
	if err := e.guard(actor, rbac.ActionReset); err != nil {
		return store.PlanningDocument{}, err
	}
	current, err := e.requireStatus(ctx, kind, year, store.StatusApproved, "reset")
	if err != nil {
		return store.PlanningDocument{}, err
	}

	if err := e.store.Delete(ctx, current.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.PlanningDocument{}, &StorageError{Op: "delete approved document", Err: err}
	}

	if err := e.record(ctx, kind, actor, "Document reset", "Approved document removed"); err != nil {
		return store.PlanningDocument{}, err
	}
	return e.implicitDocument(ctx, kind, year)
}

// UpdateRoster replaces the retained participant list. Roster edits are
// content-level authority, not lifecycle authority.
func (e *Engine) UpdateRoster(ctx context.Context, actor store.Actor, kind store.Kind, year int, members []store.RosterMember) error {
	if !kind.Valid() {
		return &ValidationError{Reason: "unknown document kind"}
	}
	if err := e.guard(actor, rbac.ActionEdit); err != nil {
		return err
	}
	if err := e.store.SaveRoster(ctx, kind, year, members); err != nil {
		return &StorageError{Op: "save roster", Err: err}
	}
	return e.record(ctx, kind, actor, "Roster updated", "")
}

func (e *Engine) guard(actor store.Actor, action rbac.Action) error {
	role := rbac.Normalize(actor.Role)
	if !rbac.Can(role, action) {
		return &PermissionError{Role: string(role), Action: string(action)}
	}
	return nil
}

// requireStatus is the client-side fast check; the store's conditional
// update is what actually closes the race.
func (e *Engine) requireStatus(ctx context.Context, kind store.Kind, year int, want store.Status, op string) (store.PlanningDocument, error) {
	if !kind.Valid() {
		return store.PlanningDocument{}, &ValidationError{Reason: "unknown document kind"}
	}
	current, err := e.store.GetCanonical(ctx, kind, year)
	if errors.Is(err, store.ErrNotFound) {
		return store.PlanningDocument{}, &InvalidStateError{Op: op, Status: store.StatusNotInitiated}
	}
	if err != nil {
		return store.PlanningDocument{}, &StorageError{Op: "read document", Err: err}
	}
	if current.Status != want {
		return store.PlanningDocument{}, &InvalidStateError{Op: op, Status: current.Status}
	}
	return current, nil
}

func (e *Engine) conditionalUpdate(ctx context.Context, id string, expected store.Status, patch store.Patch, op string) error {
	err := e.store.ConditionalUpdate(ctx, id, expected, patch)
	if errors.Is(err, store.ErrConflict) {
		return &ConflictError{Op: op}
	}
	if errors.Is(err, store.ErrNotFound) {
		return &InvalidStateError{Op: op, Status: store.StatusNotInitiated}
	}
	if err != nil {
		return &StorageError{Op: op, Err: err}
	}
	return nil
}

func (e *Engine) record(ctx context.Context, kind store.Kind, actor store.Actor, title, description string) error {
	if err := e.activity.Record(ctx, string(kind), title, description, "completed", actor); err != nil {
		return &StorageError{Op: "append activity", Err: err}
	}
	return nil
}

func (e *Engine) implicitDocument(ctx context.Context, kind store.Kind, year int) (store.PlanningDocument, error) {
	roster, err := e.store.Roster(ctx, kind, year)
	if err != nil {
		return store.PlanningDocument{}, &StorageError{Op: "read roster", Err: err}
	}
	return store.PlanningDocument{
		Kind:   kind,
		Year:   year,
		Status: store.StatusNotInitiated,
		Roster: roster,
	}, nil
}

func (e *Engine) reconcileStale(ctx context.Context, kind store.Kind, year int) {
	docs, err := e.store.ListByKindYear(ctx, kind, year)
	if err != nil {
		return
	}
	for _, doc := range docs {
		if doc.Status == store.StatusPendingApproval {
			_ = e.store.Delete(ctx, doc.ID)
		}
	}
}
