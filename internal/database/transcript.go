package database

import (
	"context"
	"fmt"

	"github.com/voicebridge/voicebridge/internal/database/models"
)

// transcriptRepo implements TranscriptRepository.
type transcriptRepo struct {
	db *DB
}

// NewTranscriptRepository creates a new TranscriptRepository.
func NewTranscriptRepository(db *DB) TranscriptRepository {
	return &transcriptRepo{db: db}
}

// Save stores all lines of a call's transcript in one transaction.
func (r *transcriptRepo) Save(ctx context.Context, lines []models.TranscriptLine) error {
	if len(lines) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transcript transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO transcripts (call_id, role, text, spoken_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing transcript insert: %w", err)
	}
	defer stmt.Close()

	for _, line := range lines {
		if _, err := stmt.ExecContext(ctx, line.CallID, line.Role, line.Text, line.SpokenAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting transcript line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transcript: %w", err)
	}
	return nil
}

// GetByCallID returns a call's transcript in spoken order.
func (r *transcriptRepo) GetByCallID(ctx context.Context, callID string) ([]models.TranscriptLine, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, role, text, spoken_at FROM transcripts
		 WHERE call_id = ? ORDER BY id`, callID)
	if err != nil {
		return nil, fmt.Errorf("querying transcript: %w", err)
	}
	defer rows.Close()

	var lines []models.TranscriptLine
	for rows.Next() {
		var l models.TranscriptLine
		if err := rows.Scan(&l.ID, &l.CallID, &l.Role, &l.Text, &l.SpokenAt); err != nil {
			return nil, fmt.Errorf("scanning transcript line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transcript lines: %w", err)
	}
	return lines, nil
}

// DeleteByCallID removes a call's stored transcript.
func (r *transcriptRepo) DeleteByCallID(ctx context.Context, callID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM transcripts WHERE call_id = ?`, callID); err != nil {
		return fmt.Errorf("deleting transcript: %w", err)
	}
	return nil
}
