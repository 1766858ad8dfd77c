package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guestgreet/internal/core/models"

	"gorm.io/gorm"
)

// IdentityRepository definiert die Operationen auf Identitäten und ihren Gesichtsvektoren
type IdentityRepository interface {
	CreateIdentity(ctx context.Context, identity *models.Identity, embedding *models.FaceEmbedding) error
	GetIdentity(ctx context.Context, id string) (*models.Identity, error)
	ListIdentities(ctx context.Context, branchID *string) ([]models.Identity, error)
	SaveIdentity(ctx context.Context, identity *models.Identity) error
	ReplaceEmbedding(ctx context.Context, identityID string, embedding *models.FaceEmbedding, profileImageURL *string) error
	RevokeConsent(ctx context.Context, id string) (bool, error)
	DeleteIdentity(ctx context.Context, id string) (bool, error)
	HasEmbedding(ctx context.Context, id string) (bool, error)

	// EligibleEmbeddings liefert die Vektoren aller Identitäten mit Einwilligung, die aktiv sind
	EligibleEmbeddings(ctx context.Context, branchID *string) ([]models.FaceEmbedding, error)
}

// EventFilter schränkt die Abfrage des Erkennungsprotokolls ein
type EventFilter struct {
	Limit    int
	BranchID *string
	CameraID *string
}

// DefaultEventLimit ist die Standardanzahl zurückgegebener Ereignisse
const DefaultEventLimit = 100

// EventRepository definiert das Erkennungsprotokoll; Einträge werden nur angehängt
type EventRepository interface {
	AppendEvent(ctx context.Context, event *models.RecognitionEvent) error
	HasRecentGreeting(ctx context.Context, identityID string, cameraID *string, since time.Time) (bool, error)
	ClaimGreeting(ctx context.Context, event *models.RecognitionEvent, since time.Time) (bool, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]models.RecognitionEvent, error)
}

// GormRepository implementiert beide Schnittstellen für SQLite und PostgreSQL
type GormRepository struct {
	db *gorm.DB
}

var (
	_ IdentityRepository = (*GormRepository)(nil)
	_ EventRepository    = (*GormRepository)(nil)
)

// NewGormRepository erstellt eine neue Repository-Instanz
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Identity-Methoden

// CreateIdentity legt eine Identität und ihren ersten Vektor in einer Transaktion an
func (r *GormRepository) CreateIdentity(ctx context.Context, identity *models.Identity, embedding *models.FaceEmbedding) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Embeddings").Create(identity).Error; err != nil {
			return fmt.Errorf("failed to create identity: %w", err)
		}
		if embedding == nil {
			return nil
		}
		embedding.IdentityID = identity.ID
		if err := tx.Create(embedding).Error; err != nil {
			return fmt.Errorf("failed to create embedding: %w", err)
		}
		return nil
	})
}

// GetIdentity holt eine Identität anhand ihrer ID, nil wenn sie nicht existiert
func (r *GormRepository) GetIdentity(ctx context.Context, id string) (*models.Identity, error) {
	var identity models.Identity
	result := r.db.WithContext(ctx).First(&identity, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &identity, nil
}

// ListIdentities holt alle Identitäten, optional auf eine Filiale beschränkt
func (r *GormRepository) ListIdentities(ctx context.Context, branchID *string) ([]models.Identity, error) {
	var identities []models.Identity
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if branchID != nil {
		q = q.Where("branch_id = ?", *branchID)
	}
	if err := q.Find(&identities).Error; err != nil {
		return nil, err
	}
	return identities, nil
}

// SaveIdentity speichert alle Felder einer Identität
func (r *GormRepository) SaveIdentity(ctx context.Context, identity *models.Identity) error {
	return r.db.WithContext(ctx).Omit("Embeddings").Save(identity).Error
}

// ReplaceEmbedding ersetzt den aktuellen Vektor und das Profilbild einer Identität
func (r *GormRepository) ReplaceEmbedding(ctx context.Context, identityID string, embedding *models.FaceEmbedding, profileImageURL *string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("identity_id = ?", identityID).Delete(&models.FaceEmbedding{}).Error; err != nil {
			return fmt.Errorf("failed to retire embeddings: %w", err)
		}
		embedding.IdentityID = identityID
		if err := tx.Create(embedding).Error; err != nil {
			return fmt.Errorf("failed to create embedding: %w", err)
		}
		if err := tx.Model(&models.Identity{}).Where("id = ?", identityID).
			Update("profile_image_url", nullable(profileImageURL)).Error; err != nil {
			return fmt.Errorf("failed to update profile image: %w", err)
		}
		return nil
	})
}

// RevokeConsent löscht alle Vektoren und deaktiviert die Identität.
// Der Rückgabewert ist false, wenn die Identität nicht existiert.
func (r *GormRepository) RevokeConsent(ctx context.Context, id string) (bool, error) {
	found := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("identity_id = ?", id).Delete(&models.FaceEmbedding{}).Error; err != nil {
			return fmt.Errorf("failed to delete embeddings: %w", err)
		}
		result := tx.Model(&models.Identity{}).Where("id = ?", id).Updates(map[string]interface{}{
			"consent_given":    false,
			"consent_given_at": nil,
			"is_active":        false,
		})
		if result.Error != nil {
			return fmt.Errorf("failed to revoke consent: %w", result.Error)
		}
		found = result.RowsAffected > 0
		return nil
	})
	return found, err
}

// DeleteIdentity löscht eine Identität mit ihren Vektoren. Protokolleinträge bleiben erhalten.
func (r *GormRepository) DeleteIdentity(ctx context.Context, id string) (bool, error) {
	found := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("identity_id = ?", id).Delete(&models.FaceEmbedding{}).Error; err != nil {
			return fmt.Errorf("failed to delete embeddings: %w", err)
		}
		result := tx.Where("id = ?", id).Delete(&models.Identity{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete identity: %w", result.Error)
		}
		found = result.RowsAffected > 0
		return nil
	})
	return found, err
}

// HasEmbedding prüft, ob für eine Identität ein Vektor hinterlegt ist
func (r *GormRepository) HasEmbedding(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.FaceEmbedding{}).Where("identity_id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// EligibleEmbeddings prüft Einwilligung und Aktivstatus zum Lesezeitpunkt über einen Join
func (r *GormRepository) EligibleEmbeddings(ctx context.Context, branchID *string) ([]models.FaceEmbedding, error) {
	var embeddings []models.FaceEmbedding
	q := r.db.WithContext(ctx).
		Select("face_embeddings.*").
		Joins("JOIN identities ON identities.id = face_embeddings.identity_id").
		Where("identities.consent_given = ? AND identities.is_active = ?", true, true)
	if branchID != nil {
		q = q.Where("identities.branch_id = ?", *branchID)
	}
	if err := q.Find(&embeddings).Error; err != nil {
		return nil, fmt.Errorf("failed to load eligible embeddings: %w", err)
	}
	return embeddings, nil
}
