package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voicebridge/voicebridge/internal/database/models"
)

// callRecordRepo implements CallRecordRepository.
type callRecordRepo struct {
	db *DB
}

// NewCallRecordRepository creates a new CallRecordRepository.
func NewCallRecordRepository(db *DB) CallRecordRepository {
	return &callRecordRepo{db: db}
}

// Create inserts a new call record at answer time.
func (r *callRecordRepo) Create(ctx context.Context, rec *models.CallRecord) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO calls (call_id, provider, direction, caller, callee,
		 business_id, conversation_id, started_at, ended_at, duration, disposition)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.Provider, rec.Direction, rec.Caller, rec.Callee,
		rec.BusinessID, rec.ConversationID, rec.StartedAt, rec.EndedAt,
		rec.Duration, rec.Disposition,
	)
	if err != nil {
		return fmt.Errorf("inserting call record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetByCallID returns the record for a provider call ID, or nil when the
// call is unknown.
func (r *callRecordRepo) GetByCallID(ctx context.Context, callID string) (*models.CallRecord, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, call_id, provider, direction, caller, callee, business_id,
		 conversation_id, started_at, ended_at, duration, disposition, created_at
		 FROM calls WHERE call_id = ?`, callID,
	))
}

// Finish stores the terminal fields of a completed call.
func (r *callRecordRepo) Finish(ctx context.Context, rec *models.CallRecord) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE calls SET ended_at = ?, duration = ?, disposition = ?,
		 conversation_id = ? WHERE call_id = ?`,
		rec.EndedAt, rec.Duration, rec.Disposition, rec.ConversationID, rec.CallID,
	)
	if err != nil {
		return fmt.Errorf("finishing call record: %w", err)
	}
	return nil
}

// List returns call records matching the filter, along with the total count.
func (r *callRecordRepo) List(ctx context.Context, filter CallListFilter) ([]models.CallRecord, int, error) {
	where := "1=1"
	args := []any{}

	if filter.Provider != "" {
		where += " AND provider = ?"
		args = append(args, filter.Provider)
	}
	if filter.Direction != "" {
		where += " AND direction = ?"
		args = append(args, filter.Direction)
	}
	if filter.Disposition != "" {
		where += " AND disposition = ?"
		args = append(args, filter.Disposition)
	}
	if filter.Search != "" {
		where += " AND (caller LIKE ? OR callee LIKE ?)"
		s := "%" + filter.Search + "%"
		args = append(args, s, s)
	}
	if filter.StartDate != "" {
		where += " AND started_at >= ?"
		args = append(args, filter.StartDate)
	}
	if filter.EndDate != "" {
		where += " AND started_at <= ?"
		args = append(args, filter.EndDate)
	}

	// Count total matching rows.
	var total int
	countQuery := "SELECT COUNT(*) FROM calls WHERE " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting call records: %w", err)
	}

	// Fetch the page of results.
	query := `SELECT id, call_id, provider, direction, caller, callee, business_id,
		 conversation_id, started_at, ended_at, duration, disposition, created_at
		 FROM calls WHERE ` + where + ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing call records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListRecent returns the most recent call records up to the given limit.
func (r *callRecordRepo) ListRecent(ctx context.Context, limit int) ([]models.CallRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, provider, direction, caller, callee, business_id,
		 conversation_id, started_at, ended_at, duration, disposition, created_at
		 FROM calls ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent call records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// CountByDisposition returns record counts keyed by disposition.
func (r *callRecordRepo) CountByDisposition(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT disposition, COUNT(*) FROM calls GROUP BY disposition`)
	if err != nil {
		return nil, fmt.Errorf("counting dispositions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var disposition string
		var n int
		if err := rows.Scan(&disposition, &n); err != nil {
			return nil, fmt.Errorf("scanning disposition count: %w", err)
		}
		counts[disposition] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating disposition counts: %w", err)
	}
	return counts, nil
}

func scanRecords(rows *sql.Rows) ([]models.CallRecord, error) {
	var records []models.CallRecord
	for rows.Next() {
		var c models.CallRecord
		if err := rows.Scan(&c.ID, &c.CallID, &c.Provider, &c.Direction,
			&c.Caller, &c.Callee, &c.BusinessID, &c.ConversationID,
			&c.StartedAt, &c.EndedAt, &c.Duration, &c.Disposition,
			&c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning call record row: %w", err)
		}
		records = append(records, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call record rows: %w", err)
	}
	return records, nil
}

func (r *callRecordRepo) scanOne(row *sql.Row) (*models.CallRecord, error) {
	var c models.CallRecord
	err := row.Scan(&c.ID, &c.CallID, &c.Provider, &c.Direction,
		&c.Caller, &c.Callee, &c.BusinessID, &c.ConversationID,
		&c.StartedAt, &c.EndedAt, &c.Duration, &c.Disposition, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call record: %w", err)
	}
	return &c, nil
}
