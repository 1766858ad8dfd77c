package recognition

import (
	"context"
	"errors"
	"sync"
	"time"

	"guestgreet/internal/core/models"
)

// GreetingStore ist der Teil des Protokolls, den die Sperrfrist benötigt
type GreetingStore interface {
	HasRecentGreeting(ctx context.Context, identityID string, cameraID *string, since time.Time) (bool, error)
	ClaimGreeting(ctx context.Context, event *models.RecognitionEvent, since time.Time) (bool, error)
}

// CooldownTracker entscheidet, ob eine Identität innerhalb der Sperrfrist bereits begrüßt wurde
type CooldownTracker struct {
	store GreetingStore
	locks *keyedMutex
}

// NewCooldownTracker erstellt einen neuen CooldownTracker
func NewCooldownTracker(store GreetingStore) *CooldownTracker {
	return &CooldownTracker{store: store, locks: newKeyedMutex()}
}

// IsInCooldown prüft, ob nach asOf - cooldownMinutes eine Begrüßung angezeigt wurde.
// Ohne Kamera gilt die Sperrfrist kameraübergreifend.
func (t *CooldownTracker) IsInCooldown(ctx context.Context, identityID string, cameraID *string, asOf time.Time, cooldownMinutes int) (bool, error) {
	return t.store.HasRecentGreeting(ctx, identityID, cameraID, windowStart(asOf, cooldownMinutes))
}

// Claim schreibt das Begrüßungsereignis nur, wenn die Sperrfrist frei ist.
// false bedeutet, dass eine andere Anfrage die Begrüßung bereits beansprucht hat.
func (t *CooldownTracker) Claim(ctx context.Context, event *models.RecognitionEvent, cooldownMinutes int) (bool, error) {
	if event.IdentityID == nil {
		return false, errors.New("cannot claim a greeting without identity")
	}

	unlock := t.locks.lock(*event.IdentityID)
	defer unlock()

	return t.store.ClaimGreeting(ctx, event, windowStart(event.OccurredAt, cooldownMinutes))
}

func windowStart(asOf time.Time, cooldownMinutes int) time.Time {
	return asOf.Add(-time.Duration(cooldownMinutes) * time.Minute)
}

// keyedMutex serialisiert Aufrufe pro Schlüssel innerhalb des Prozesses
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
