package recognition

import (
	"context"
	"time"

	"guestgreet/internal/core/models"
	"guestgreet/internal/db/repository"
)

// EventStore ist das nur erweiterbare Erkennungsprotokoll
type EventStore interface {
	AppendEvent(ctx context.Context, event *models.RecognitionEvent) error
	ListEvents(ctx context.Context, filter repository.EventFilter) ([]models.RecognitionEvent, error)
}

// Entry beschreibt einen Erkennungsversuch für das Protokoll
type Entry struct {
	IdentityID *string
	CameraID   *string
	BranchID   *string
	Confidence *float64
	Outcome    models.EventOutcome
	OccurredAt time.Time
}

// RecognitionLog schreibt und liest das Erkennungsprotokoll
type RecognitionLog struct {
	store EventStore
}

// NewRecognitionLog erstellt ein neues RecognitionLog
func NewRecognitionLog(store EventStore) *RecognitionLog {
	return &RecognitionLog{store: store}
}

// Record hängt genau ein Ereignis an
func (l *RecognitionLog) Record(ctx context.Context, entry Entry) (*models.RecognitionEvent, error) {
	event := newEvent(entry)
	if err := l.store.AppendEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// List liefert Ereignisse, neueste zuerst
func (l *RecognitionLog) List(ctx context.Context, filter repository.EventFilter) ([]models.RecognitionEvent, error) {
	if filter.Limit <= 0 {
		filter.Limit = repository.DefaultEventLimit
	}
	return l.store.ListEvents(ctx, filter)
}

func newEvent(entry Entry) *models.RecognitionEvent {
	return &models.RecognitionEvent{
		IdentityID:    entry.IdentityID,
		CameraID:      entry.CameraID,
		BranchID:      entry.BranchID,
		Confidence:    entry.Confidence,
		Matched:       entry.Outcome != models.OutcomeUnmatched,
		GreetingShown: entry.Outcome == models.OutcomeGreeted,
		Outcome:       entry.Outcome,
		OccurredAt:    entry.OccurredAt,
	}
}
