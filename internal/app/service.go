package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"civicplan/api/internal/audit"
	"civicplan/api/internal/auth"
	"civicplan/api/internal/autosave"
	"civicplan/api/internal/config"
	"civicplan/api/internal/evidence"
	"civicplan/api/internal/rbac"
	"civicplan/api/internal/store"
	"civicplan/api/internal/util"
	"civicplan/api/internal/workflow"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	ExpiresAt time.Time
}

// stashReader recovers edits a previous session left behind.
type stashReader interface {
	Drain(ctx context.Context, docID string) (map[string]json.RawMessage, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Service struct {
	cfg       config.Config
	engine    *workflow.Engine
	autosaves *autosave.Manager
	evidence  *evidence.Manager
	audit     *audit.Log
	stash     stashReader
	db        pinger
}

func New(cfg config.Config, engine *workflow.Engine, autosaves *autosave.Manager, evidenceManager *evidence.Manager, auditLog *audit.Log, stash stashReader, db pinger) *Service {
	return &Service{
		cfg:       cfg,
		engine:    engine,
		autosaves: autosaves,
		evidence:  evidenceManager,
		audit:     auditLog,
		stash:     stash,
		db:        db,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Login issues a signed session token. Identity is name-based; the role
// comes from the council's own assignment and defaults to viewer.
func (s *Service) Login(ctx context.Context, name, role string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}
	normalized := string(rbac.Normalize(role))

	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	userID := util.NewID("user")
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  userID,
		Name: userName,
		Role: normalized,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    userID,
		UserName:  userName,
		Role:      normalized,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) actor(session Session) store.Actor {
	return store.Actor{ID: session.UserID, Name: session.UserName, Role: session.Role}
}

func (s *Service) Plan(ctx context.Context, session Session, kind store.Kind, year int) (map[string]any, error) {
	if !rbac.Can(rbac.Normalize(session.Role), rbac.ActionView) {
		return nil, &workflow.PermissionError{Role: session.Role, Action: string(rbac.ActionView)}
	}
	doc, err := s.engine.Get(ctx, kind, year)
	if err != nil {
		return nil, err
	}
	return planPayload(doc), nil
}

func (s *Service) Initiate(ctx context.Context, session Session, kind store.Kind, year int) (map[string]any, error) {
	doc, err := s.engine.Initiate(ctx, s.actor(session), kind, year)
	if err != nil {
		return nil, err
	}
	return planPayload(doc), nil
}

// CloseEditing flushes the caller's autosave buffers first, so the frozen
// content includes everything they typed.
func (s *Service) CloseEditing(ctx context.Context, session Session, kind store.Kind, year int) (map[string]any, error) {
	if doc, err := s.engine.Get(ctx, kind, year); err == nil && doc.ID != "" {
		coord, fresh := s.autosaves.Acquire(doc.ID, kind, s.actor(session))
		if !fresh {
			if err := coord.Flush(ctx); err != nil {
				return nil, err
			}
		}
	}
	doc, err := s.engine.CloseEditing(ctx, s.actor(session), kind, year)
	if err != nil {
		return nil, err
	}
	return planPayload(doc), nil
}

func (s *Service) Approve(ctx context.Context, session Session, kind store.Kind, year int, payload []byte, contentType string, approvedDate time.Time) (map[string]any, error) {
	doc, err := s.evidence.Approve(ctx, s.actor(session), kind, year, payload, contentType, approvedDate)
	if err != nil {
		return nil, err
	}
	return planPayload(doc), nil
}

func (s *Service) Reject(ctx context.Context, session Session, kind store.Kind, year int, reason string) (map[string]any, error) {
	doc, err := s.engine.Reject(ctx, s.actor(session), kind, year, strings.TrimSpace(reason))
	if err != nil {
		return nil, err
	}
	return planPayload(doc), nil
}

func (s *Service) Reset(ctx context.Context, session Session, kind store.Kind, year int) (map[string]any, error) {
	before, err := s.engine.Get(ctx, kind, year)
	if err != nil {
		return nil, err
	}
	doc, err := s.engine.Reset(ctx, s.actor(session), kind, year)
	if err != nil {
		return nil, err
	}
	// the document is already back to NOT_INITIATED; evidence cleanup is
	// best effort and never fails the reset
	_ = s.evidence.Discard(ctx, before.EvidenceRef)
	return planPayload(doc), nil
}

func (s *Service) UpdateRoster(ctx context.Context, session Session, kind store.Kind, year int, members []store.RosterMember) (map[string]any, error) {
	if err := s.engine.UpdateRoster(ctx, s.actor(session), kind, year, members); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "roster": members}, nil
}

// Edit buffers one field-level change into the caller's autosave session.
// A fresh session first replays edits stashed by an earlier one.
func (s *Service) Edit(ctx context.Context, session Session, kind store.Kind, year int, path string, value json.RawMessage) error {
	if !rbac.Can(rbac.Normalize(session.Role), rbac.ActionEdit) {
		return &workflow.PermissionError{Role: session.Role, Action: string(rbac.ActionEdit)}
	}
	doc, err := s.engine.Get(ctx, kind, year)
	if err != nil {
		return err
	}
	if doc.Status != store.StatusOpenForEditing {
		return &workflow.InvalidStateError{Op: "edit", Status: doc.Status}
	}

	coord, fresh := s.autosaves.Acquire(doc.ID, kind, s.actor(session))
	if fresh && s.stash != nil {
		stashed, err := s.stash.Drain(ctx, doc.ID)
		if err != nil {
			return &workflow.StorageError{Op: "recover stashed edits", Err: err}
		}
		for stashedPath, stashedValue := range stashed {
			if err := coord.Edit(stashedPath, stashedValue); err != nil {
				return err
			}
		}
	}
	return coord.Edit(path, value)
}

// Flush forces the caller's buffered edits to the store immediately.
func (s *Service) Flush(ctx context.Context, session Session, kind store.Kind, year int) error {
	doc, err := s.engine.Get(ctx, kind, year)
	if err != nil {
		return err
	}
	if doc.ID == "" {
		return &workflow.InvalidStateError{Op: "flush", Status: doc.Status}
	}
	coord, fresh := s.autosaves.Acquire(doc.ID, kind, s.actor(session))
	if fresh {
		return nil
	}
	return coord.Flush(ctx)
}

// EndEditingSession releases the caller's autosave session; unflushed
// buffers go to the stash.
func (s *Service) EndEditingSession(ctx context.Context, session Session, kind store.Kind, year int) error {
	doc, err := s.engine.Get(ctx, kind, year)
	if err != nil {
		return err
	}
	if doc.ID == "" {
		return nil
	}
	return s.autosaves.Release(ctx, doc.ID, s.actor(session))
}

func (s *Service) Activity(ctx context.Context, session Session, filter store.ActivityFilter, limit int, cursor string) (audit.Page, error) {
	if !rbac.Can(rbac.Normalize(session.Role), rbac.ActionAudit) {
		return audit.Page{}, &workflow.PermissionError{Role: session.Role, Action: string(rbac.ActionAudit)}
	}
	return s.audit.QueryPage(ctx, filter, limit, cursor)
}

func planPayload(doc store.PlanningDocument) map[string]any {
	payload := map[string]any{
		"id":              doc.ID,
		"kind":            string(doc.Kind),
		"year":            doc.Year,
		"status":          string(doc.Status),
		"editingOpen":     doc.EditingOpen,
		"content":         doc.Content,
		"roster":          doc.Roster,
		"initiatedBy":     doc.InitiatedBy,
		"rejectionReason": doc.RejectionReason,
		"evidenceRef":     doc.EvidenceRef,
	}
	if !doc.InitiatedAt.IsZero() {
		payload["initiatedAt"] = doc.InitiatedAt
	}
	if doc.ClosedBy != "" {
		payload["closedBy"] = doc.ClosedBy
	}
	if doc.ClosedAt != nil {
		payload["closedAt"] = doc.ClosedAt
	}
	if doc.ApprovedBy != "" {
		payload["approvedBy"] = doc.ApprovedBy
	}
	if doc.ApprovedAt != nil {
		payload["approvedAt"] = doc.ApprovedAt
	}
	if doc.KKApprovedAt != nil {
		payload["kkApprovedAt"] = doc.KKApprovedAt.Format("2006-01-02")
	}
	if doc.LastEditedBy != "" {
		payload["lastEditedBy"] = doc.LastEditedBy
	}
	if doc.LastEditedAt != nil {
		payload["lastEditedAt"] = doc.LastEditedAt
	}
	return payload
}
