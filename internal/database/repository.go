package database

import (
	"context"

	"github.com/voicebridge/voicebridge/internal/database/models"
)

// CallListFilter narrows call record listings.
type CallListFilter struct {
	Provider    string
	Direction   string
	Disposition string
	Search      string // matches caller or callee
	StartDate   string
	EndDate     string
	Limit       int
	Offset      int
}

// CallRecordRepository manages call detail records.
type CallRecordRepository interface {
	Create(ctx context.Context, rec *models.CallRecord) error
	GetByCallID(ctx context.Context, callID string) (*models.CallRecord, error)
	Finish(ctx context.Context, rec *models.CallRecord) error
	List(ctx context.Context, filter CallListFilter) ([]models.CallRecord, int, error)
	ListRecent(ctx context.Context, limit int) ([]models.CallRecord, error)
	CountByDisposition(ctx context.Context) (map[string]int, error)
}

// TranscriptRepository manages stored call transcripts.
type TranscriptRepository interface {
	Save(ctx context.Context, lines []models.TranscriptLine) error
	GetByCallID(ctx context.Context, callID string) ([]models.TranscriptLine, error)
	DeleteByCallID(ctx context.Context, callID string) error
}
