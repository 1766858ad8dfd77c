package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guestgreet/config"
	"guestgreet/internal/core/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var logFields = log.Fields{"component": "cleanup"}

// Service löscht Erkennungsereignisse, die älter als die Aufbewahrungsfrist sind.
// Er arbeitet direkt auf der Datenbank, das Erkennungsprotokoll selbst bleibt nur erweiterbar.
type Service struct {
	db            *gorm.DB
	retentionDays int
	checkInterval time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	now           func() time.Time
}

// NewService erstellt einen neuen Cleanup-Service; nil bei retention_days <= 0
func NewService(db *gorm.DB, cfg config.CleanupConfig) *Service {
	if cfg.RetentionDays <= 0 {
		log.WithFields(logFields).Info("Automatic event cleanup disabled (retention_days <= 0)")
		return nil
	}
	if db == nil {
		log.WithFields(logFields).Error("Cannot initialize cleanup service: database connection is nil")
		return nil
	}

	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	log.WithFields(logFields).Infof("Initializing cleanup service: retention=%dd interval=%s", cfg.RetentionDays, interval)
	return &Service{
		db:            db,
		retentionDays: cfg.RetentionDays,
		checkInterval: interval,
		stopChan:      make(chan struct{}),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// StartBackgroundCleanup führt sofort einen Durchlauf aus und danach in festen Abständen
func (s *Service) StartBackgroundCleanup() {
	if s == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()

		s.runLogged()
		for {
			select {
			case <-ticker.C:
				s.runLogged()
			case <-s.stopChan:
				log.WithFields(logFields).Info("Stopping background cleanup routine")
				return
			}
		}
	}()
}

// StopBackgroundCleanup beendet die Hintergrundroutine
func (s *Service) StopBackgroundCleanup() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Service) runLogged() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := s.RunCleanupCycle(ctx); err != nil {
		log.WithFields(logFields).Errorf("Cleanup cycle failed: %v", err)
	}
}

// RunCleanupCycle löscht alle Ereignisse vor dem Stichtag und liefert deren Anzahl
func (s *Service) RunCleanupCycle(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	result := s.db.WithContext(ctx).Where("occurred_at < ?", cutoff).Delete(&models.RecognitionEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old recognition events: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		log.WithFields(logFields).Infof("Deleted %d recognition event(s) older than %s",
			result.RowsAffected, cutoff.Format(time.RFC3339))
	} else {
		log.WithFields(logFields).Debug("No recognition events older than retention period")
	}
	return result.RowsAffected, nil
}
