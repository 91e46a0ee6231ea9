// Package evidence validates approval proof and drives the approve
// transition. Validation failures leave the document in PENDING_APPROVAL;
// the upload happens before the transition so the stored reference is
// always durable by the time a document carries it.
package evidence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"civicplan/api/internal/store"
	"civicplan/api/internal/util"
	"civicplan/api/internal/workflow"
)

type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, ref string) error
}

type Approver interface {
	Approve(ctx context.Context, actor store.Actor, kind store.Kind, year int, evidenceRef string, approvedDate time.Time) (store.PlanningDocument, error)
}

type Manager struct {
	blob     Uploader
	engine   Approver
	maxBytes int64
}

func NewManager(blob Uploader, engine Approver, maxBytes int64) *Manager {
	return &Manager{blob: blob, engine: engine, maxBytes: maxBytes}
}

// Approve validates the proof image and date, uploads the image, and then
// runs the workflow transition. The date is the council's own approval
// date and may lie in the past.
func (m *Manager) Approve(ctx context.Context, actor store.Actor, kind store.Kind, year int, payload []byte, contentType string, approvedDate time.Time) (store.PlanningDocument, error) {
	if len(payload) == 0 {
		return store.PlanningDocument{}, &workflow.ValidationError{Reason: "evidence image is required"}
	}
	if !strings.HasPrefix(contentType, "image/") {
		return store.PlanningDocument{}, &workflow.ValidationError{Reason: "evidence must be an image, got " + contentType}
	}
	if int64(len(payload)) > m.maxBytes {
		return store.PlanningDocument{}, &workflow.ValidationError{Reason: fmt.Sprintf("evidence exceeds %d bytes", m.maxBytes)}
	}
	if approvedDate.IsZero() {
		return store.PlanningDocument{}, &workflow.ValidationError{Reason: "approval date is required"}
	}

	key := fmt.Sprintf("%s/%d/%s%s", kind, year, util.NewID("evidence"), extension(contentType))
	ref, err := m.blob.Upload(ctx, key, payload, contentType)
	if err != nil {
		return store.PlanningDocument{}, &workflow.StorageError{Op: "upload evidence", Err: err}
	}
	return m.engine.Approve(ctx, actor, kind, year, ref, approvedDate)
}

// Discard deletes stored evidence that no longer backs an approval, for
// example after a reset. An empty reference is a no-op.
func (m *Manager) Discard(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	if err := m.blob.Remove(ctx, ref); err != nil {
		return &workflow.StorageError{Op: "remove evidence", Err: err}
	}
	return nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
