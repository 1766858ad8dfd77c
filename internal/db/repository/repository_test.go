package repository_test

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"guestgreet/config"
	"guestgreet/internal/core/models"
	"guestgreet/internal/db"
	"guestgreet/internal/db/repository"
)

func newTestRepository(t *testing.T) *repository.GormRepository {
	t.Helper()
	gdb, err := db.Open(config.DBConfig{Driver: "sqlite", File: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return repository.NewGormRepository(gdb)
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func createIdentity(t *testing.T, repo *repository.GormRepository, name string, consent, active bool, branch *string) *models.Identity {
	t.Helper()
	identity := &models.Identity{
		DisplayName:  name,
		ConsentGiven: consent,
		IsActive:     active,
		BranchID:     branch,
	}
	embedding := &models.FaceEmbedding{Vector: []float32{0.1, 0.2, 0.3}, ModelVersion: "buffalo_l"}
	if err := repo.CreateIdentity(context.Background(), identity, embedding); err != nil {
		t.Fatalf("CreateIdentity(%s): %v", name, err)
	}
	return identity
}

func TestEligibleEmbeddingsFiltersConsentActiveAndBranch(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	lobby := strPtr("lobby")
	spa := strPtr("spa")
	alice := createIdentity(t, repo, "Alice", true, true, lobby)
	bob := createIdentity(t, repo, "Bob", true, true, spa)
	createIdentity(t, repo, "Carol", false, true, lobby)
	createIdentity(t, repo, "Dave", true, false, lobby)

	tests := []struct {
		name   string
		branch *string
		want   []string
	}{
		{"no branch filter", nil, []string{alice.ID, bob.ID}},
		{"lobby only", lobby, []string{alice.ID}},
		{"spa only", spa, []string{bob.ID}},
		{"unknown branch", strPtr("roof"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embeddings, err := repo.EligibleEmbeddings(ctx, tt.branch)
			if err != nil {
				t.Fatalf("EligibleEmbeddings: %v", err)
			}
			var got []string
			for _, e := range embeddings {
				got = append(got, e.IdentityID)
				if len(e.Vector) != 3 {
					t.Errorf("vector length = %d, want 3", len(e.Vector))
				}
			}
			sort.Strings(got)
			want := append([]string(nil), tt.want...)
			sort.Strings(want)
			if len(got) != len(want) {
				t.Fatalf("got %v, want %v", got, want)
			}
			for i := range got {
				if got[i] != want[i] {
					t.Fatalf("got %v, want %v", got, want)
				}
			}
		})
	}
}

func TestRevokeConsentRemovesEmbeddings(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	alice := createIdentity(t, repo, "Alice", true, true, nil)

	found, err := repo.RevokeConsent(ctx, alice.ID)
	if err != nil || !found {
		t.Fatalf("RevokeConsent = %v, %v", found, err)
	}

	has, err := repo.HasEmbedding(ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("embedding should be deleted after revocation")
	}

	got, err := repo.GetIdentity(ctx, alice.ID)
	if err != nil || got == nil {
		t.Fatalf("GetIdentity = %v, %v", got, err)
	}
	if got.ConsentGiven || got.IsActive || got.ConsentGivenAt != nil {
		t.Errorf("identity after revocation = %+v", got)
	}

	eligible, err := repo.EligibleEmbeddings(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(eligible) != 0 {
		t.Errorf("eligible embeddings = %d, want 0", len(eligible))
	}

	found, err = repo.RevokeConsent(ctx, "missing")
	if err != nil || found {
		t.Errorf("RevokeConsent(missing) = %v, %v", found, err)
	}
}

func TestReplaceEmbeddingKeepsSingleVector(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	alice := createIdentity(t, repo, "Alice", true, true, nil)

	replacement := &models.FaceEmbedding{Vector: []float32{0.9, 0.8}, ModelVersion: "v2"}
	if err := repo.ReplaceEmbedding(ctx, alice.ID, replacement, strPtr("/uploads/profiles/new.jpg")); err != nil {
		t.Fatalf("ReplaceEmbedding: %v", err)
	}

	embeddings, err := repo.EligibleEmbeddings(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(embeddings) != 1 || embeddings[0].ModelVersion != "v2" {
		t.Fatalf("embeddings = %+v", embeddings)
	}

	got, _ := repo.GetIdentity(ctx, alice.ID)
	if got.ProfileImageURL == nil || *got.ProfileImageURL != "/uploads/profiles/new.jpg" {
		t.Errorf("profile image = %v", got.ProfileImageURL)
	}
}

func TestDeleteIdentityRetainsEvents(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	alice := createIdentity(t, repo, "Alice", true, true, nil)

	event := &models.RecognitionEvent{
		IdentityID: strPtr(alice.ID), Matched: true, GreetingShown: true,
		Outcome: models.OutcomeGreeted, OccurredAt: time.Now(),
	}
	if err := repo.AppendEvent(ctx, event); err != nil {
		t.Fatal(err)
	}

	before, err := repo.ListEvents(ctx, repository.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != 1 || before[0].Customer == nil || before[0].Customer.DisplayName != "Alice" {
		t.Fatalf("event must carry the guest's display name, got %+v", before)
	}

	found, err := repo.DeleteIdentity(ctx, alice.ID)
	if err != nil || !found {
		t.Fatalf("DeleteIdentity = %v, %v", found, err)
	}
	if got, _ := repo.GetIdentity(ctx, alice.ID); got != nil {
		t.Error("identity still present")
	}

	events, err := repo.ListEvents(ctx, repository.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Customer != nil || events[0].IdentityID == nil || *events[0].IdentityID != alice.ID {
		t.Errorf("deleted identity must keep its reference without display data, got %+v", events[0])
	}
}

func TestClaimGreetingIsConditional(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 10 * time.Minute

	claim := func(identity string, camera *string, at time.Time) bool {
		t.Helper()
		event := &models.RecognitionEvent{
			IdentityID: strPtr(identity), CameraID: camera, Confidence: floatPtr(0.9),
			Matched: true, GreetingShown: true, Outcome: models.OutcomeGreeted, OccurredAt: at,
		}
		ok, err := repo.ClaimGreeting(ctx, event, at.Add(-cooldown))
		if err != nil {
			t.Fatalf("ClaimGreeting: %v", err)
		}
		if ok && event.ID == 0 {
			t.Error("claimed event has no id")
		}
		return ok
	}

	camA, camB := strPtr("cam-a"), strPtr("cam-b")

	if !claim("c1", camA, base) {
		t.Fatal("first claim should succeed")
	}
	if claim("c1", camA, base.Add(9*time.Minute)) {
		t.Error("claim inside the window on the same camera should fail")
	}
	if !claim("c1", camB, base.Add(9*time.Minute)) {
		t.Error("claim on another camera should succeed")
	}
	if claim("c1", nil, base.Add(9*time.Minute)) {
		t.Error("claim without camera should see greetings from any camera")
	}
	if !claim("c2", camA, base.Add(9*time.Minute)) {
		t.Error("claim for another identity should succeed")
	}
	if !claim("c1", camA, base.Add(11*time.Minute)) {
		t.Error("claim after the window should succeed")
	}
}

func TestClaimGreetingReturnsOwnRowID(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Spätere Begrüßung derselben Identität auf einer anderen Kamera liegt schon vor
	other := &models.RecognitionEvent{IdentityID: strPtr("c1"), CameraID: strPtr("cam-b"), Matched: true,
		GreetingShown: true, Outcome: models.OutcomeGreeted, OccurredAt: base.Add(time.Hour)}
	if err := repo.AppendEvent(ctx, other); err != nil {
		t.Fatal(err)
	}

	claimed := &models.RecognitionEvent{IdentityID: strPtr("c1"), CameraID: strPtr("cam-a"), Matched: true,
		GreetingShown: true, Outcome: models.OutcomeGreeted, OccurredAt: base}
	ok, err := repo.ClaimGreeting(ctx, claimed, base.Add(-10*time.Minute))
	if err != nil || !ok {
		t.Fatalf("ClaimGreeting = %v, %v", ok, err)
	}
	if claimed.ID == 0 || claimed.ID == other.ID {
		t.Fatalf("claimed id = %d, other id = %d", claimed.ID, other.ID)
	}

	events, err := repo.ListEvents(ctx, repository.EventFilter{CameraID: strPtr("cam-a")})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].ID != claimed.ID {
		t.Errorf("stored cam-a events = %+v, want id %d", events, claimed.ID)
	}
}

func TestHasRecentGreetingIgnoresSuppressedAndUnmatched(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []*models.RecognitionEvent{
		{IdentityID: strPtr("c1"), Matched: true, GreetingShown: false, Outcome: models.OutcomeSuppressed, OccurredAt: now},
		{Matched: false, Outcome: models.OutcomeUnmatched, OccurredAt: now},
	}
	for _, e := range events {
		if err := repo.AppendEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := repo.HasRecentGreeting(ctx, "c1", nil, now.Add(-10*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if recent {
		t.Error("suppressed event must not count as a greeting")
	}

	greeted := &models.RecognitionEvent{IdentityID: strPtr("c1"), CameraID: strPtr("cam-a"), Matched: true,
		GreetingShown: true, Outcome: models.OutcomeGreeted, OccurredAt: now}
	if err := repo.AppendEvent(ctx, greeted); err != nil {
		t.Fatal(err)
	}
	if recent, _ := repo.HasRecentGreeting(ctx, "c1", strPtr("cam-a"), now.Add(-time.Minute)); !recent {
		t.Error("expected recent greeting on cam-a")
	}
	if recent, _ := repo.HasRecentGreeting(ctx, "c1", strPtr("cam-b"), now.Add(-time.Minute)); recent {
		t.Error("cam-b must not see cam-a greeting")
	}
	if recent, _ := repo.HasRecentGreeting(ctx, "c1", nil, now); recent {
		t.Error("greeting at the window boundary is not inside the window")
	}
}

func TestListEventsNewestFirstWithFilters(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		camera := "cam-a"
		if i%2 == 1 {
			camera = "cam-b"
		}
		e := &models.RecognitionEvent{
			CameraID: strPtr(camera), BranchID: strPtr("lobby"), Outcome: models.OutcomeUnmatched,
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.AppendEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	all, err := repo.ListEvents(ctx, repository.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("events = %d, want 5", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].OccurredAt.After(all[i-1].OccurredAt) {
			t.Fatalf("events not newest first: %v before %v", all[i-1].OccurredAt, all[i].OccurredAt)
		}
	}

	limited, _ := repo.ListEvents(ctx, repository.EventFilter{Limit: 2})
	if len(limited) != 2 || !limited[0].OccurredAt.Equal(base.Add(4*time.Minute)) {
		t.Errorf("limited = %+v", limited)
	}

	camB, _ := repo.ListEvents(ctx, repository.EventFilter{CameraID: strPtr("cam-b")})
	if len(camB) != 2 {
		t.Errorf("cam-b events = %d, want 2", len(camB))
	}

	otherBranch, _ := repo.ListEvents(ctx, repository.EventFilter{BranchID: strPtr("spa")})
	if len(otherBranch) != 0 {
		t.Errorf("spa events = %d, want 0", len(otherBranch))
	}
}
