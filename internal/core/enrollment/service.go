package enrollment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"guestgreet/config"
	"guestgreet/internal/core/models"
	"guestgreet/internal/db/repository"
	"guestgreet/internal/integrations/facerecognition"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrConsentRequired       = errors.New("consent is required for enrollment")
	ErrNoFaceDetected        = errors.New("no face detected in image")
	ErrMultipleFacesDetected = errors.New("multiple faces detected, please use an image with a single face")
	ErrIdentityNotFound      = errors.New("identity not found")
	ErrInvalidInput          = errors.New("invalid input")
)

// MaxDisplayNameLength ist die maximale Länge des Anzeigenamens
const MaxDisplayNameLength = 100

var logFields = log.Fields{"component": "enrollment"}

// EnrollRequest enthält die Daten für die Registrierung eines Gasts
type EnrollRequest struct {
	DisplayName  string
	Image        []byte
	ConsentGiven bool
	BranchID     *string
}

// UpdateRequest enthält die änderbaren Felder einer Identität; nil bleibt unverändert
type UpdateRequest struct {
	DisplayName *string
	IsActive    *bool
	BranchID    *string
}

// Service verwaltet registrierte Gäste und ihre Gesichtsvektoren
type Service struct {
	repo       repository.IdentityRepository
	matcher    facerecognition.Matcher
	profileDir string
	profileURL string
	now        func() time.Time
}

// NewService erstellt einen neuen Registrierungsdienst
func NewService(repo repository.IdentityRepository, matcher facerecognition.Matcher, cfg config.ServerConfig) *Service {
	return &Service{
		repo:       repo,
		matcher:    matcher,
		profileDir: cfg.ProfileDir,
		profileURL: strings.TrimSuffix(cfg.ProfileURL, "/"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Enroll registriert einen Gast mit genau einem Gesicht im Bild
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*models.Identity, error) {
	name, err := validName(req.DisplayName)
	if err != nil {
		return nil, err
	}
	if !req.ConsentGiven {
		return nil, ErrConsentRequired
	}
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: profile image is required", ErrInvalidInput)
	}

	embedding, err := s.singleFaceEmbedding(ctx, req.Image)
	if err != nil {
		return nil, err
	}

	profileURL, filename, err := s.storeImage(req.Image)
	if err != nil {
		return nil, err
	}

	now := s.now()
	identity := &models.Identity{
		DisplayName:     name,
		ProfileImageURL: &profileURL,
		ConsentGiven:    true,
		ConsentGivenAt:  &now,
		IsActive:        true,
		BranchID:        req.BranchID,
	}
	if err := s.repo.CreateIdentity(ctx, identity, embedding); err != nil {
		s.removeImage(filename)
		return nil, err
	}

	log.WithFields(logFields).Infof("Enrolled identity %s (%s)", identity.ID, identity.DisplayName)
	return identity, nil
}

// List liefert alle Identitäten, optional auf eine Filiale beschränkt
func (s *Service) List(ctx context.Context, branchID *string) ([]models.Identity, error) {
	return s.repo.ListIdentities(ctx, branchID)
}

// Get liefert eine Identität oder ErrIdentityNotFound
func (s *Service) Get(ctx context.Context, id string) (*models.Identity, error) {
	identity, err := s.repo.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, ErrIdentityNotFound
	}
	return identity, nil
}

// HasEmbedding meldet, ob für die Identität ein Vektor hinterlegt ist
func (s *Service) HasEmbedding(ctx context.Context, id string) (bool, error) {
	return s.repo.HasEmbedding(ctx, id)
}

// Update ändert Name, Aktivstatus oder Filiale einer Identität
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*models.Identity, error) {
	identity, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.DisplayName != nil {
		name, err := validName(*req.DisplayName)
		if err != nil {
			return nil, err
		}
		identity.DisplayName = name
	}
	if req.IsActive != nil {
		if *req.IsActive && !identity.ConsentGiven {
			return nil, ErrConsentRequired
		}
		identity.IsActive = *req.IsActive
	}
	if req.BranchID != nil {
		if *req.BranchID == "" {
			identity.BranchID = nil
		} else {
			branch := *req.BranchID
			identity.BranchID = &branch
		}
	}

	if err := s.repo.SaveIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to update identity: %w", err)
	}
	return identity, nil
}

// ReplaceProfileImage ersetzt Profilbild und Vektor; der bisherige Vektor wird entfernt
func (s *Service) ReplaceProfileImage(ctx context.Context, id string, image []byte) (*models.Identity, error) {
	identity, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !identity.ConsentGiven {
		return nil, ErrConsentRequired
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: profile image is required", ErrInvalidInput)
	}

	embedding, err := s.singleFaceEmbedding(ctx, image)
	if err != nil {
		return nil, err
	}

	profileURL, filename, err := s.storeImage(image)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceEmbedding(ctx, id, embedding, &profileURL); err != nil {
		s.removeImage(filename)
		return nil, err
	}

	s.removeImageURL(identity.ProfileImageURL)
	identity.ProfileImageURL = &profileURL
	log.WithFields(logFields).Infof("Replaced profile image of identity %s", id)
	return identity, nil
}

// RevokeConsent entfernt alle Vektoren und schließt die Identität vom Abgleich aus
func (s *Service) RevokeConsent(ctx context.Context, id string) (*models.Identity, error) {
	found, err := s.repo.RevokeConsent(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrIdentityNotFound
	}
	log.WithFields(logFields).Infof("Consent revoked for identity %s", id)
	return s.Get(ctx, id)
}

// Delete entfernt Identität, Vektoren und Profilbild. Erkennungsereignisse bleiben erhalten.
func (s *Service) Delete(ctx context.Context, id string) error {
	identity, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	found, err := s.repo.DeleteIdentity(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrIdentityNotFound
	}
	s.removeImageURL(identity.ProfileImageURL)
	log.WithFields(logFields).Infof("Deleted identity %s", id)
	return nil
}

// singleFaceEmbedding prüft, dass genau ein Gesicht im Bild ist, und berechnet dessen Vektor
func (s *Service) singleFaceEmbedding(ctx context.Context, image []byte) (*models.FaceEmbedding, error) {
	faces, err := s.matcher.DetectFaces(ctx, image)
	if err != nil {
		return nil, err
	}
	switch {
	case len(faces) == 0:
		return nil, ErrNoFaceDetected
	case len(faces) > 1:
		return nil, ErrMultipleFacesDetected
	}

	emb, err := s.matcher.GenerateEmbedding(ctx, image)
	if err != nil {
		return nil, err
	}
	if len(emb.Vector) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", facerecognition.ErrServiceUnavailable)
	}
	return &models.FaceEmbedding{Vector: emb.Vector, ModelVersion: emb.ModelVersion}, nil
}

// storeImage legt das Bild unter einem zufälligen Namen im Profilverzeichnis ab
func (s *Service) storeImage(image []byte) (string, string, error) {
	ext, err := imageExtension(image)
	if err != nil {
		return "", "", err
	}
	filename := uuid.NewString() + ext
	if err := os.MkdirAll(s.profileDir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create profile directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.profileDir, filename), image, 0644); err != nil {
		return "", "", fmt.Errorf("failed to store profile image: %w", err)
	}
	return s.profileURL + "/" + filename, filename, nil
}

func (s *Service) removeImage(filename string) {
	if filename == "" {
		return
	}
	if err := os.Remove(filepath.Join(s.profileDir, filename)); err != nil && !os.IsNotExist(err) {
		log.WithFields(logFields).Warnf("Failed to remove profile image %s: %v", filename, err)
	}
}

// removeImageURL entfernt nur Dateien, die unter der eigenen Profil-URL liegen
func (s *Service) removeImageURL(url *string) {
	if url == nil || !strings.HasPrefix(*url, s.profileURL+"/") {
		return
	}
	s.removeImage(path.Base(*url))
}

func validName(displayName string) (string, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return "", fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	if len([]rune(name)) > MaxDisplayNameLength {
		return "", fmt.Errorf("%w: display name must be at most %d characters", ErrInvalidInput, MaxDisplayNameLength)
	}
	return name, nil
}

func imageExtension(image []byte) (string, error) {
	switch http.DetectContentType(image) {
	case "image/jpeg":
		return ".jpg", nil
	case "image/png":
		return ".png", nil
	case "image/webp":
		return ".webp", nil
	case "image/gif":
		return ".gif", nil
	default:
		return "", fmt.Errorf("%w: unsupported image type", ErrInvalidInput)
	}
}
