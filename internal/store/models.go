package store

import (
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors shared by both store implementations. ErrConflict is how
// a conditional write reports that somebody else won the race.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conditional update conflict")
)

type Kind string

const (
	KindYouthPlan         Kind = "youth-development-plan"
	KindInvestmentProgram Kind = "investment-program"
	KindBudget            Kind = "budget"
)

func (k Kind) Valid() bool {
	switch k {
	case KindYouthPlan, KindInvestmentProgram, KindBudget:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusNotInitiated    Status = "NOT_INITIATED"
	StatusOpenForEditing  Status = "OPEN_FOR_EDITING"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
)

// Actor is the identity context supplied by the caller for every guarded
// operation. The core never fetches or mutates it.
type Actor struct {
	ID   string
	Name string
	Role string
}

// RosterMember is a named participant attached to a document. The roster
// survives re-initiation and reset, so it lives in its own table keyed by
// (kind, year) rather than on the record.
type RosterMember struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type PlanningDocument struct {
	ID              string
	Kind            Kind
	Year            int
	Status          Status
	EditingOpen     bool
	Content         json.RawMessage
	Roster          []RosterMember
	InitiatedBy     string
	InitiatedAt     time.Time
	ClosedBy        string
	ClosedAt        *time.Time
	ApprovedBy      string
	ApprovedAt      *time.Time
	KKApprovedAt    *time.Time
	RejectionReason string
	LastEditedBy    string
	LastEditedAt    *time.Time
	EvidenceRef     string
}

// Patch carries the fields a conditional update may change. Nil pointers
// leave the stored value alone. ContentPaths apply field-level edits to the
// body; they never replace the whole document.
type Patch struct {
	Status          *Status
	EditingOpen     *bool
	ClosedBy        *string
	ClosedAt        *time.Time
	RejectionReason *string
	LastEditedBy    *string
	LastEditedAt    *time.Time
	ContentPaths    map[string]json.RawMessage
}

// ActivityEvent is immutable once written. Actor fields are a snapshot; a
// later profile change must not alter history.
type ActivityEvent struct {
	ID          string    `json:"id"`
	Seq         int64     `json:"seq"`
	Module      string    `json:"module"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ActorID     string    `json:"actorId"`
	ActorName   string    `json:"actorName"`
	ActorRole   string    `json:"actorRole"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

type ActivityFilter struct {
	Module   string
	DateFrom *time.Time
	DateTo   *time.Time
}
