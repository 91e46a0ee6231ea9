package evidence

import (
	"context"
	"errors"
	"testing"
	"time"

	"civicplan/api/internal/store"
	"civicplan/api/internal/workflow"
)

type fakeUploader struct {
	uploads   int
	ref       string
	err       error
	removed   []string
	removeErr error
}

func (f *fakeUploader) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.uploads++
	if f.err != nil {
		return "", f.err
	}
	return f.ref, nil
}

func (f *fakeUploader) Remove(ctx context.Context, ref string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, ref)
	return nil
}

type fakeApprover struct {
	gotRef  string
	gotDate time.Time
	err     error
}

func (f *fakeApprover) Approve(ctx context.Context, actor store.Actor, kind store.Kind, year int, evidenceRef string, approvedDate time.Time) (store.PlanningDocument, error) {
	f.gotRef = evidenceRef
	f.gotDate = approvedDate
	if f.err != nil {
		return store.PlanningDocument{}, f.err
	}
	return store.PlanningDocument{Kind: kind, Year: year, Status: store.StatusApproved, EvidenceRef: evidenceRef}, nil
}

var chair = store.Actor{ID: "u1", Name: "Maria", Role: "chairperson"}

func TestApproveUploadsThenTransitions(t *testing.T) {
	uploader := &fakeUploader{ref: "evidence/budget/2025/x.png"}
	approver := &fakeApprover{}
	manager := NewManager(uploader, approver, 5<<20)

	date := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	doc, err := manager.Approve(context.Background(), chair, store.KindBudget, 2025, []byte("png-bytes"), "image/png", date)
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if doc.Status != store.StatusApproved {
		t.Fatalf("status = %s, want APPROVED", doc.Status)
	}
	if approver.gotRef != uploader.ref {
		t.Fatalf("transition saw ref %q, want the uploaded one", approver.gotRef)
	}
	if !approver.gotDate.Equal(date) {
		t.Fatalf("transition saw date %v, want the back-dated one", approver.gotDate)
	}
}

func TestApproveValidation(t *testing.T) {
	date := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		payload     []byte
		contentType string
		date        time.Time
	}{
		{"missing payload", nil, "image/png", date},
		{"wrong content type", []byte("pdf"), "application/pdf", date},
		{"oversized", make([]byte, 11), "image/png", date},
		{"missing date", []byte("png"), "image/png", time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uploader := &fakeUploader{}
			manager := NewManager(uploader, &fakeApprover{}, 10)
			_, err := manager.Approve(context.Background(), chair, store.KindBudget, 2025, tt.payload, tt.contentType, tt.date)
			var validationErr *workflow.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if uploader.uploads != 0 {
				t.Fatal("invalid evidence must never reach the blob store")
			}
		})
	}
}

func TestApproveUploadFailure(t *testing.T) {
	uploader := &fakeUploader{err: errors.New("bucket unreachable")}
	approver := &fakeApprover{}
	manager := NewManager(uploader, approver, 5<<20)

	_, err := manager.Approve(context.Background(), chair, store.KindBudget, 2025, []byte("png"), "image/png", time.Now())
	var storageErr *workflow.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if approver.gotRef != "" {
		t.Fatal("failed upload must not reach the workflow")
	}
}

func TestDiscardRemovesStoredEvidence(t *testing.T) {
	uploader := &fakeUploader{}
	manager := NewManager(uploader, &fakeApprover{}, 5<<20)

	if err := manager.Discard(context.Background(), "approval-evidence/budget/2025/x.png"); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if len(uploader.removed) != 1 || uploader.removed[0] != "approval-evidence/budget/2025/x.png" {
		t.Fatalf("removed = %v, want the discarded reference", uploader.removed)
	}

	// an empty reference never reaches the blob store
	if err := manager.Discard(context.Background(), ""); err != nil {
		t.Fatalf("Discard(empty) error = %v", err)
	}
	if len(uploader.removed) != 1 {
		t.Fatal("empty reference must be a no-op")
	}
}

func TestDiscardWrapsBlobFailures(t *testing.T) {
	uploader := &fakeUploader{removeErr: errors.New("bucket unreachable")}
	manager := NewManager(uploader, &fakeApprover{}, 5<<20)

	err := manager.Discard(context.Background(), "approval-evidence/x.png")
	var storageErr *workflow.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestApprovePropagatesTransitionErrors(t *testing.T) {
	approver := &fakeApprover{err: &workflow.InvalidStateError{Op: "approve", Status: store.StatusOpenForEditing}}
	manager := NewManager(&fakeUploader{ref: "r"}, approver, 5<<20)

	_, err := manager.Approve(context.Background(), chair, store.KindBudget, 2025, []byte("png"), "image/png", time.Now())
	var stateErr *workflow.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}
