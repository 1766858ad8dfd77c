package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guestgreet/internal/core/models"
)

// Event-Methoden

// AppendEvent hängt ein Ereignis an das Protokoll an
func (r *GormRepository) AppendEvent(ctx context.Context, event *models.RecognitionEvent) error {
	event.OccurredAt = event.OccurredAt.UTC()
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to append recognition event: %w", err)
	}
	return nil
}

// HasRecentGreeting prüft, ob seit since eine Begrüßung für die Identität angezeigt wurde.
// Ohne Kamera gilt die Prüfung kameraübergreifend.
func (r *GormRepository) HasRecentGreeting(ctx context.Context, identityID string, cameraID *string, since time.Time) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.RecognitionEvent{}).
		Where("identity_id = ? AND greeting_shown = ? AND occurred_at > ?", identityID, true, since.UTC())
	if cameraID != nil {
		q = q.Where("camera_id = ?", *cameraID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to query recent greetings: %w", err)
	}
	return count > 0, nil
}

// ClaimGreeting fügt das Begrüßungsereignis nur ein, wenn seit since keine Begrüßung
// für dieselbe Identität (und Kamera, falls gesetzt) existiert. Prüfung und Einfügen
// sind eine einzige Anweisung.
func (r *GormRepository) ClaimGreeting(ctx context.Context, event *models.RecognitionEvent, since time.Time) (bool, error) {
	if event.IdentityID == nil {
		return false, errors.New("greeting claim requires an identity")
	}
	event.OccurredAt = event.OccurredAt.UTC()

	values := []string{
		r.param("VARCHAR"), r.param("VARCHAR"), r.param("VARCHAR"), r.param("DOUBLE PRECISION"),
		r.param("BOOLEAN"), r.param("BOOLEAN"), r.param("VARCHAR"), r.param("TIMESTAMPTZ"),
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO recognition_events ")
	sb.WriteString("(identity_id, camera_id, branch_id, confidence, matched, greeting_shown, outcome, occurred_at) ")
	sb.WriteString("SELECT " + strings.Join(values, ", "))
	sb.WriteString(" WHERE NOT EXISTS (SELECT 1 FROM recognition_events")
	sb.WriteString(" WHERE identity_id = ? AND greeting_shown = ? AND occurred_at > ?")

	args := []interface{}{
		*event.IdentityID, nullable(event.CameraID), nullable(event.BranchID), nullableFloat(event.Confidence),
		event.Matched, event.GreetingShown, string(event.Outcome), event.OccurredAt,
		*event.IdentityID, true, since.UTC(),
	}
	if event.CameraID != nil {
		sb.WriteString(" AND camera_id = ?")
		args = append(args, *event.CameraID)
	}
	sb.WriteString(")")

	// RETURNING liefert die ID der eigenen Zeile, auch wenn andere Prozesse parallel schreiben
	sb.WriteString(" RETURNING id")

	var ids []uint
	if err := r.db.WithContext(ctx).Raw(sb.String(), args...).Scan(&ids).Error; err != nil {
		return false, fmt.Errorf("failed to claim greeting: %w", err)
	}
	if len(ids) == 0 {
		return false, nil
	}
	event.ID = ids[0]
	return true, nil
}

// ListEvents liefert Ereignisse, neueste zuerst
func (r *GormRepository) ListEvents(ctx context.Context, filter EventFilter) ([]models.RecognitionEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	q := r.db.WithContext(ctx).Order("occurred_at DESC").Order("id DESC").Limit(limit)
	if filter.BranchID != nil {
		q = q.Where("branch_id = ?", *filter.BranchID)
	}
	if filter.CameraID != nil {
		q = q.Where("camera_id = ?", *filter.CameraID)
	}

	var events []models.RecognitionEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list recognition events: %w", err)
	}
	if err := r.attachIdentities(ctx, events); err != nil {
		return nil, err
	}
	return events, nil
}

// attachIdentities ergänzt die Anzeigedaten der erkannten Gäste. Ohne Fremdschlüssel,
// damit Ereignisse das Löschen einer Identität überdauern.
func (r *GormRepository) attachIdentities(ctx context.Context, events []models.RecognitionEvent) error {
	seen := make(map[string]struct{})
	var ids []string
	for _, e := range events {
		if e.IdentityID == nil {
			continue
		}
		if _, ok := seen[*e.IdentityID]; !ok {
			seen[*e.IdentityID] = struct{}{}
			ids = append(ids, *e.IdentityID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var identities []models.Identity
	if err := r.db.WithContext(ctx).Select("id", "display_name", "profile_image_url").
		Where("id IN ?", ids).Find(&identities).Error; err != nil {
		return fmt.Errorf("failed to load identities for events: %w", err)
	}
	byID := make(map[string]*models.EventIdentity, len(identities))
	for _, identity := range identities {
		byID[identity.ID] = &models.EventIdentity{
			ID:              identity.ID,
			DisplayName:     identity.DisplayName,
			ProfileImageURL: identity.ProfileImageURL,
		}
	}
	for i := range events {
		if events[i].IdentityID != nil {
			events[i].Customer = byID[*events[i].IdentityID]
		}
	}
	return nil
}

// param liefert einen Platzhalter; PostgreSQL braucht in INSERT ... SELECT explizite Typen
func (r *GormRepository) param(sqlType string) string {
	if r.db.Dialector.Name() == "postgres" {
		return "CAST(? AS " + sqlType + ")"
	}
	return "?"
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
