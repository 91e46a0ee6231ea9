package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"civicplan/api/internal/content"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const documentColumns = `
	id, kind, year, status, editing_open, content,
	initiated_by, initiated_at, closed_by, closed_at,
	approved_by, approved_at, kk_approved_at, rejection_reason,
	last_edited_by, last_edited_at, evidence_ref
`

// GetCanonical returns the record a reader should see for (kind, year).
// During the approve transition's two-phase window two records can coexist;
// the approved one wins, otherwise the most recently initiated.
func (s *PostgresStore) GetCanonical(ctx context.Context, kind Kind, year int) (PlanningDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM planning_documents
		WHERE kind=$1 AND year=$2
		ORDER BY (status='APPROVED') DESC, initiated_at DESC
		LIMIT 1
	`, kind, year)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PlanningDocument{}, ErrNotFound
	}
	if err != nil {
		return PlanningDocument{}, fmt.Errorf("get canonical document: %w", err)
	}
	if err := s.attachRoster(ctx, &doc); err != nil {
		return PlanningDocument{}, err
	}
	return upgradeContent(doc)
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (PlanningDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM planning_documents
		WHERE id=$1
	`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PlanningDocument{}, ErrNotFound
	}
	if err != nil {
		return PlanningDocument{}, fmt.Errorf("get document: %w", err)
	}
	if err := s.attachRoster(ctx, &doc); err != nil {
		return PlanningDocument{}, err
	}
	return upgradeContent(doc)
}

// ListByKindYear returns every record held for (kind, year), stale pending
// duplicates included. Used by the approve reconcile pass.
func (s *PostgresStore) ListByKindYear(ctx context.Context, kind Kind, year int) ([]PlanningDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM planning_documents
		WHERE kind=$1 AND year=$2
		ORDER BY initiated_at DESC
	`, kind, year)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]PlanningDocument, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// Create inserts a new record. A partial unique index on (kind, year) over
// live statuses turns a double-submit into ErrConflict instead of a second
// open record.
func (s *PostgresStore) Create(ctx context.Context, doc PlanningDocument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO planning_documents (
			id, kind, year, status, editing_open, content,
			initiated_by, initiated_at, closed_by, closed_at,
			approved_by, approved_at, kk_approved_at, rejection_reason,
			last_edited_by, last_edited_at, evidence_ref
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, NULLIF($11, ''), $12, $13, $14, NULLIF($15, ''), $16, $17)
	`,
		doc.ID, doc.Kind, doc.Year, doc.Status, doc.EditingOpen, []byte(doc.Content),
		doc.InitiatedBy, doc.InitiatedAt, doc.ClosedBy, doc.ClosedAt,
		doc.ApprovedBy, doc.ApprovedAt, doc.KKApprovedAt, doc.RejectionReason,
		doc.LastEditedBy, doc.LastEditedAt, doc.EvidenceRef,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// ConditionalUpdate applies patch only if the persisted status still equals
// expectedStatus. Content paths are applied read-modify-write under a row
// lock so two editors on different streams both survive.
func (s *PostgresStore) ConditionalUpdate(ctx context.Context, id string, expectedStatus Status, patch Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin conditional update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentStatus Status
	var currentContent []byte
	err = tx.QueryRowContext(ctx, `
		SELECT status, content FROM planning_documents WHERE id=$1 FOR UPDATE
	`, id).Scan(&currentStatus, &currentContent)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock document: %w", err)
	}
	if currentStatus != expectedStatus {
		return ErrConflict
	}

	body := json.RawMessage(currentContent)
	for path, value := range patch.ContentPaths {
		body, err = content.ApplyPatch(body, path, value)
		if err != nil {
			return fmt.Errorf("apply content patch: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE planning_documents
		SET status=COALESCE($2, status),
			editing_open=COALESCE($3, editing_open),
			content=$4,
			closed_by=COALESCE($5, closed_by),
			closed_at=COALESCE($6, closed_at),
			rejection_reason=COALESCE($7, rejection_reason),
			last_edited_by=COALESCE($8, last_edited_by),
			last_edited_at=COALESCE($9, last_edited_at)
		WHERE id=$1
	`, id, patch.Status, patch.EditingOpen, []byte(body),
		patch.ClosedBy, patch.ClosedAt, patch.RejectionReason,
		patch.LastEditedBy, patch.LastEditedAt)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conditional update: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM planning_documents WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Roster returns the retained participant list for (kind, year), empty when
// none has been saved yet.
func (s *PostgresStore) Roster(ctx context.Context, kind Kind, year int) ([]RosterMember, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT members FROM plan_rosters WHERE kind=$1 AND year=$2
	`, kind, year).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []RosterMember{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var members []RosterMember
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	return members, nil
}

func (s *PostgresStore) SaveRoster(ctx context.Context, kind Kind, year int, members []RosterMember) error {
	if members == nil {
		members = []RosterMember{}
	}
	encoded, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plan_rosters (kind, year, members)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (kind, year) DO UPDATE SET members=EXCLUDED.members, updated_at=NOW()
	`, kind, year, string(encoded))
	if err != nil {
		return fmt.Errorf("save roster: %w", err)
	}
	return nil
}

// AppendActivity is insert-only; the table has no update or delete path.
// The store assigns seq from a bigserial so equal timestamps still order.
func (s *PostgresStore) AppendActivity(ctx context.Context, event ActivityEvent) (ActivityEvent, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO activity_events (id, module, title, description, actor_id, actor_name, actor_role, status, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`, event.ID, event.Module, event.Title, event.Description,
		event.ActorID, event.ActorName, event.ActorRole, event.Status, event.Timestamp,
	).Scan(&event.Seq)
	if err != nil {
		return ActivityEvent{}, fmt.Errorf("append activity event: %w", err)
	}
	return event, nil
}

// ActivityPage returns up to limit events matching filter, newest first,
// strictly older than the (beforeTS, beforeSeq) key when supplied.
func (s *PostgresStore) ActivityPage(ctx context.Context, filter ActivityFilter, limit int, beforeTS *time.Time, beforeSeq *int64) ([]ActivityEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, module, title, description, actor_id, actor_name, actor_role, status, ts
		FROM activity_events
		WHERE ($1='' OR module=$1)
		  AND ($2::timestamptz IS NULL OR ts >= $2)
		  AND ($3::timestamptz IS NULL OR ts <= $3)
		  AND ($4::timestamptz IS NULL OR (ts, seq) < ($4, $5))
		ORDER BY ts DESC, seq DESC
		LIMIT $6
	`, filter.Module, filter.DateFrom, filter.DateTo, beforeTS, beforeSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity page: %w", err)
	}
	defer rows.Close()

	items := make([]ActivityEvent, 0)
	for rows.Next() {
		var item ActivityEvent
		if err := rows.Scan(
			&item.ID,
			&item.Seq,
			&item.Module,
			&item.Title,
			&item.Description,
			&item.ActorID,
			&item.ActorName,
			&item.ActorRole,
			&item.Status,
			&item.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity events: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) attachRoster(ctx context.Context, doc *PlanningDocument) error {
	members, err := s.Roster(ctx, doc.Kind, doc.Year)
	if err != nil {
		return err
	}
	doc.Roster = members
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (PlanningDocument, error) {
	var doc PlanningDocument
	var body []byte
	var closedBy, approvedBy, lastEditedBy sql.NullString
	err := row.Scan(
		&doc.ID,
		&doc.Kind,
		&doc.Year,
		&doc.Status,
		&doc.EditingOpen,
		&body,
		&doc.InitiatedBy,
		&doc.InitiatedAt,
		&closedBy,
		&doc.ClosedAt,
		&approvedBy,
		&doc.ApprovedAt,
		&doc.KKApprovedAt,
		&doc.RejectionReason,
		&lastEditedBy,
		&doc.LastEditedAt,
		&doc.EvidenceRef,
	)
	if err != nil {
		return PlanningDocument{}, err
	}
	doc.Content = json.RawMessage(body)
	doc.ClosedBy = closedBy.String
	doc.ApprovedBy = approvedBy.String
	doc.LastEditedBy = lastEditedBy.String
	return doc, nil
}

// upgradeContent runs the load-time schema migration on a fetched record.
func upgradeContent(doc PlanningDocument) (PlanningDocument, error) {
	upgraded, _, err := content.Upgrade(string(doc.Kind), doc.Content)
	if err != nil {
		return PlanningDocument{}, fmt.Errorf("upgrade content: %w", err)
	}
	doc.Content = upgraded
	return doc, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
