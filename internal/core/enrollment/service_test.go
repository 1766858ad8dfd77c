package enrollment

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"testing"

	"guestgreet/config"
	"guestgreet/internal/db"
	"guestgreet/internal/db/repository"
	"guestgreet/internal/integrations/facerecognition"
)

var jpegImage = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte("fake jpeg payload")...)

type testEnv struct {
	service    *Service
	repo       *repository.GormRepository
	matcher    *facerecognition.FakeMatcher
	profileDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	gdb, err := db.Open(config.DBConfig{Driver: "sqlite", File: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	repo := repository.NewGormRepository(gdb)
	matcher := facerecognition.NewFakeMatcher()
	matcher.Faces = []facerecognition.DetectedFace{{Confidence: 0.99}}
	matcher.Embedding = facerecognition.Embedding{Vector: []float32{0.1, 0.2, 0.3}, ModelVersion: "buffalo_l"}

	profileDir := filepath.Join(dir, "profiles")
	svc := NewService(repo, matcher, config.ServerConfig{ProfileDir: profileDir, ProfileURL: "/profiles/"})
	return &testEnv{service: svc, repo: repo, matcher: matcher, profileDir: profileDir}
}

func (e *testEnv) enroll(t *testing.T, name string) string {
	t.Helper()
	identity, err := e.service.Enroll(context.Background(), EnrollRequest{DisplayName: name, Image: jpegImage, ConsentGiven: true})
	if err != nil {
		t.Fatalf("Enroll(%s): %v", name, err)
	}
	return identity.ID
}

func (e *testEnv) eligible(t *testing.T, id string) bool {
	t.Helper()
	embeddings, err := e.repo.EligibleEmbeddings(context.Background(), nil)
	if err != nil {
		t.Fatalf("EligibleEmbeddings: %v", err)
	}
	for _, emb := range embeddings {
		if emb.IdentityID == id {
			return true
		}
	}
	return false
}

func (e *testEnv) profileFile(url *string) string {
	return filepath.Join(e.profileDir, path.Base(*url))
}

func TestEnrollValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     EnrollRequest
		faces   int
		wantErr error
	}{
		{"missing consent", EnrollRequest{DisplayName: "Ann", Image: jpegImage}, 1, ErrConsentRequired},
		{"missing name", EnrollRequest{DisplayName: "  ", Image: jpegImage, ConsentGiven: true}, 1, ErrInvalidInput},
		{"missing image", EnrollRequest{DisplayName: "Ann", ConsentGiven: true}, 1, ErrInvalidInput},
		{"no face", EnrollRequest{DisplayName: "Ann", Image: jpegImage, ConsentGiven: true}, 0, ErrNoFaceDetected},
		{"multiple faces", EnrollRequest{DisplayName: "Ann", Image: jpegImage, ConsentGiven: true}, 2, ErrMultipleFacesDetected},
		{"not an image", EnrollRequest{DisplayName: "Ann", Image: []byte("plain text"), ConsentGiven: true}, 1, ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.matcher.Faces = make([]facerecognition.DetectedFace, tt.faces)

			_, err := env.service.Enroll(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			identities, _ := env.service.List(context.Background(), nil)
			if len(identities) != 0 {
				t.Errorf("no identity expected, got %d", len(identities))
			}
		})
	}
}

func TestEnrollStoresIdentityAndImage(t *testing.T) {
	env := newTestEnv(t)
	branch := "jakarta"

	identity, err := env.service.Enroll(context.Background(), EnrollRequest{
		DisplayName:  "Ann",
		Image:        jpegImage,
		ConsentGiven: true,
		BranchID:     &branch,
	})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	if identity.ID == "" || !identity.ConsentGiven || !identity.IsActive || identity.ConsentGivenAt == nil {
		t.Errorf("unexpected identity %+v", identity)
	}
	if identity.ProfileImageURL == nil || filepath.Ext(*identity.ProfileImageURL) != ".jpg" {
		t.Fatalf("profile url = %v", identity.ProfileImageURL)
	}
	if _, err := os.Stat(env.profileFile(identity.ProfileImageURL)); err != nil {
		t.Errorf("profile image not stored: %v", err)
	}
	if !env.eligible(t, identity.ID) {
		t.Error("enrolled identity must be a candidate")
	}
}

func TestEnrollRemoteFailure(t *testing.T) {
	env := newTestEnv(t)
	env.matcher.Err = facerecognition.ErrServiceUnavailable

	_, err := env.service.Enroll(context.Background(), EnrollRequest{DisplayName: "Ann", Image: jpegImage, ConsentGiven: true})
	if !errors.Is(err, facerecognition.ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
	entries, _ := os.ReadDir(env.profileDir)
	if len(entries) != 0 {
		t.Errorf("no profile image expected, got %d", len(entries))
	}
}

func TestRevokeConsentExcludesFromPool(t *testing.T) {
	env := newTestEnv(t)
	id := env.enroll(t, "Ann")

	identity, err := env.service.RevokeConsent(context.Background(), id)
	if err != nil {
		t.Fatalf("RevokeConsent: %v", err)
	}
	if identity.ConsentGiven || identity.IsActive {
		t.Errorf("identity still consented or active: %+v", identity)
	}
	if env.eligible(t, id) {
		t.Error("revoked identity must not be a candidate")
	}
	if has, _ := env.repo.HasEmbedding(context.Background(), id); has {
		t.Error("embeddings must be deleted on revocation")
	}

	// Reaktivierung ohne Einwilligung ist nicht erlaubt
	active := true
	if _, err := env.service.Update(context.Background(), id, UpdateRequest{IsActive: &active}); !errors.Is(err, ErrConsentRequired) {
		t.Errorf("err = %v, want ErrConsentRequired", err)
	}

	if _, err := env.service.RevokeConsent(context.Background(), "missing"); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("err = %v, want ErrIdentityNotFound", err)
	}
}

func TestUpdateIdentity(t *testing.T) {
	env := newTestEnv(t)
	id := env.enroll(t, "Ann")

	name := "Ann Lee"
	inactive := false
	branch := "bali"
	identity, err := env.service.Update(context.Background(), id, UpdateRequest{DisplayName: &name, IsActive: &inactive, BranchID: &branch})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if identity.DisplayName != "Ann Lee" || identity.IsActive || identity.BranchID == nil || *identity.BranchID != "bali" {
		t.Errorf("unexpected identity %+v", identity)
	}
	if env.eligible(t, id) {
		t.Error("inactive identity must not be a candidate")
	}

	stored, err := env.service.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.DisplayName != "Ann Lee" || stored.IsActive {
		t.Errorf("update not persisted: %+v", stored)
	}

	if _, err := env.service.Update(context.Background(), "missing", UpdateRequest{DisplayName: &name}); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("err = %v, want ErrIdentityNotFound", err)
	}
}

func TestReplaceProfileImage(t *testing.T) {
	env := newTestEnv(t)
	id := env.enroll(t, "Ann")
	before, _ := env.service.Get(context.Background(), id)
	oldFile := env.profileFile(before.ProfileImageURL)

	env.matcher.Embedding = facerecognition.Embedding{Vector: []float32{0.9, 0.8, 0.7}, ModelVersion: "buffalo_l"}
	png := append([]byte("\x89PNG\r\n\x1a\n"), []byte("fake png payload")...)
	identity, err := env.service.ReplaceProfileImage(context.Background(), id, png)
	if err != nil {
		t.Fatalf("ReplaceProfileImage: %v", err)
	}
	if filepath.Ext(*identity.ProfileImageURL) != ".png" {
		t.Errorf("profile url = %s", *identity.ProfileImageURL)
	}
	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("previous profile image must be removed")
	}

	embeddings, err := env.repo.EligibleEmbeddings(context.Background(), nil)
	if err != nil {
		t.Fatalf("EligibleEmbeddings: %v", err)
	}
	if len(embeddings) != 1 || embeddings[0].Vector[0] != 0.9 {
		t.Errorf("embeddings = %+v, want single replaced vector", embeddings)
	}
}

func TestDeleteIdentity(t *testing.T) {
	env := newTestEnv(t)
	id := env.enroll(t, "Ann")
	identity, _ := env.service.Get(context.Background(), id)
	file := env.profileFile(identity.ProfileImageURL)

	if err := env.service.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := env.service.Get(context.Background(), id); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("err = %v, want ErrIdentityNotFound", err)
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Error("profile image must be removed")
	}
	if err := env.service.Delete(context.Background(), id); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("second delete err = %v, want ErrIdentityNotFound", err)
	}
}
