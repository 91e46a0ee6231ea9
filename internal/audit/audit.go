// Package audit is the append-only activity trail. Events are never
// updated or deleted; reads are cursor-paginated so pages stay stable
// while new events keep arriving.
package audit

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"civicplan/api/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Store interface {
	AppendActivity(ctx context.Context, event store.ActivityEvent) (store.ActivityEvent, error)
	ActivityPage(ctx context.Context, filter store.ActivityFilter, limit int, beforeTS *time.Time, beforeSeq *int64) ([]store.ActivityEvent, error)
}

// CursorError reports a cursor that cannot be used for the requested
// query, typically because the filter changed since it was issued. The
// caller must start a fresh first page.
type CursorError struct {
	Reason string
}

func (e *CursorError) Error() string {
	return "cursor: " + e.Reason
}

type Page struct {
	Events     []store.ActivityEvent
	NextCursor string
	HasMore    bool
}

type Log struct {
	store Store
	now   func() time.Time
}

func NewLog(eventStore Store) *Log {
	return &Log{store: eventStore, now: time.Now}
}

// Record satisfies the workflow engine's activity sink.
func (l *Log) Record(ctx context.Context, module, title, description, status string, actor store.Actor) error {
	_, err := l.Append(ctx, store.ActivityEvent{
		Module:      module,
		Title:       title,
		Description: description,
		Status:      status,
		ActorID:     actor.ID,
		ActorName:   actor.Name,
		ActorRole:   actor.Role,
	})
	return err
}

// Append assigns the ordering key (timestamp plus a store-assigned seq as
// tie-break) and writes the event. The actor fields are already a snapshot
// by the time they arrive here.
func (l *Log) Append(ctx context.Context, event store.ActivityEvent) (store.ActivityEvent, error) {
	if event.Title == "" {
		return store.ActivityEvent{}, fmt.Errorf("activity event needs a title")
	}
	event.ID = uuid.NewString()
	event.Timestamp = l.now()
	written, err := l.store.AppendActivity(ctx, event)
	if err != nil {
		return store.ActivityEvent{}, fmt.Errorf("append activity: %w", err)
	}
	return written, nil
}

// QueryPage returns up to limit events matching filter, newest first. A
// supplied cursor resumes strictly after (older than) the previous page;
// events appended after the first page was fetched sort above every issued
// cursor and so never shift later pages.
func (l *Log) QueryPage(ctx context.Context, filter store.ActivityFilter, limit int, cursor string) (Page, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var beforeTS *time.Time
	var beforeSeq *int64
	if cursor != "" {
		ts, seq, filterTag, err := decodeCursor(cursor)
		if err != nil {
			return Page{}, &CursorError{Reason: "malformed cursor"}
		}
		if filterTag != filterHash(filter) {
			return Page{}, &CursorError{Reason: "cursor issued for a different filter"}
		}
		beforeTS = &ts
		beforeSeq = &seq
	}

	// one extra row tells us whether another page exists
	events, err := l.store.ActivityPage(ctx, filter, limit+1, beforeTS, beforeSeq)
	if err != nil {
		return Page{}, fmt.Errorf("query activity page: %w", err)
	}

	page := Page{HasMore: len(events) > limit}
	if page.HasMore {
		events = events[:limit]
	}
	page.Events = events
	if len(events) > 0 {
		last := events[len(events)-1]
		page.NextCursor = encodeCursor(last.Timestamp, last.Seq, filterHash(filter))
	}
	return page, nil
}

func encodeCursor(ts time.Time, seq int64, filterTag string) string {
	raw := fmt.Sprintf("%d:%d:%s", ts.UnixNano(), seq, filterTag)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, int64, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, 0, "", err
	}
	parts := strings.SplitN(string(raw), ":", 3)
	if len(parts) != 3 {
		return time.Time{}, 0, "", fmt.Errorf("want 3 cursor parts, got %d", len(parts))
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, 0, "", err
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, 0, "", err
	}
	return time.Unix(0, nanos), seq, parts[2], nil
}

// filterHash ties a cursor to the filter it was issued under. Comparing
// keys across filters is only coincidentally meaningful, so a changed
// filter invalidates the cursor outright.
func filterHash(filter store.ActivityFilter) string {
	var from, to string
	if filter.DateFrom != nil {
		from = strconv.FormatInt(filter.DateFrom.UnixNano(), 10)
	}
	if filter.DateTo != nil {
		to = strconv.FormatInt(filter.DateTo.UnixNano(), 10)
	}
	sum := sha1.Sum([]byte(filter.Module + "|" + from + "|" + to))
	return hex.EncodeToString(sum[:4])
}
