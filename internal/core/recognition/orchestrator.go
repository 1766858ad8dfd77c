package recognition

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"guestgreet/config"
	"guestgreet/internal/core/models"
	"guestgreet/internal/integrations/facerecognition"
	"guestgreet/internal/observability"

	log "github.com/sirupsen/logrus"
)

// ErrIdentityNotFound bedeutet, dass eine erkannte ID keiner Identität zugeordnet werden kann.
// Das ist ein Konsistenzfehler zwischen Kandidatenpool und Identitätsspeicher.
var ErrIdentityNotFound = errors.New("matched identity not found")

var logFields = log.Fields{"component": "recognition"}

// IdentityLookup liefert die Anzeigedaten einer Identität, nil wenn sie fehlt
type IdentityLookup interface {
	GetIdentity(ctx context.Context, id string) (*models.Identity, error)
}

// Greeter erzeugt den Begrüßungstext
type Greeter interface {
	Greet(displayName string) string
}

// Notifier wird über jede angezeigte Begrüßung informiert
type Notifier interface {
	NotifyGreeting(g Greeting)
}

// Options sind die beim Start festgelegten Erkennungseinstellungen
type Options struct {
	Enabled             bool
	ConfidenceThreshold float64
	CooldownMinutes     int
	AuditSuppressed     bool
	FrameStrategy       string
}

// OptionsFromConfig übernimmt die Einstellungen aus der Konfiguration
func OptionsFromConfig(cfg config.RecognitionConfig) Options {
	return Options{
		Enabled:             cfg.Enabled,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		CooldownMinutes:     cfg.CooldownMinutes,
		AuditSuppressed:     cfg.AuditSuppressed,
		FrameStrategy:       cfg.FrameStrategy,
	}
}

// Dependencies bündelt die Bausteine des Orchestrators
type Dependencies struct {
	Candidates *CandidatePool
	Matcher    facerecognition.Matcher
	Cooldown   *CooldownTracker
	Log        *RecognitionLog
	Identities IdentityLookup
	Greeter    Greeter
	Notifiers  []Notifier
}

// Orchestrator verbindet Kandidatenpool, Gesichtsdienst, Sperrfrist und Protokoll
type Orchestrator struct {
	enabled atomic.Bool

	threshold       float64
	cooldownMinutes int
	auditSuppressed bool
	frameStrategy   string

	candidates *CandidatePool
	matcher    facerecognition.Matcher
	cooldown   *CooldownTracker
	log        *RecognitionLog
	identities IdentityLookup
	greeter    Greeter
	notifiers  []Notifier

	now func() time.Time
}

// NewOrchestrator erstellt einen neuen Orchestrator
func NewOrchestrator(opts Options, deps Dependencies) *Orchestrator {
	strategy := opts.FrameStrategy
	if strategy == "" {
		strategy = config.FrameStrategyDetectAndEmbed
	}

	o := &Orchestrator{
		threshold:       opts.ConfidenceThreshold,
		cooldownMinutes: opts.CooldownMinutes,
		auditSuppressed: opts.AuditSuppressed,
		frameStrategy:   strategy,
		candidates:      deps.Candidates,
		matcher:         deps.Matcher,
		cooldown:        deps.Cooldown,
		log:             deps.Log,
		identities:      deps.Identities,
		greeter:         deps.Greeter,
		notifiers:       deps.Notifiers,
		now:             func() time.Time { return time.Now().UTC() },
	}
	o.enabled.Store(opts.Enabled)

	log.WithFields(logFields).Infof("Recognition initialized: enabled=%t threshold=%.2f cooldown=%dm frames=%s",
		opts.Enabled, opts.ConfidenceThreshold, opts.CooldownMinutes, strategy)
	return o
}

// AddNotifier registriert einen weiteren Empfänger für Begrüßungen.
// Muss vor der ersten Erkennung aufgerufen werden.
func (o *Orchestrator) AddNotifier(n Notifier) {
	o.notifiers = append(o.notifiers, n)
}

// RecognizeFromEmbedding entscheidet für einen Gesichtsvektor, ob ein Gast begrüßt wird
func (o *Orchestrator) RecognizeFromEmbedding(ctx context.Context, req EmbeddingRequest) (*Result, error) {
	if !o.enabled.Load() {
		observability.RecognitionOutcomes.WithLabelValues(observability.OutcomeDisabled).Inc()
		return unmatched(), nil
	}

	candidates, err := o.candidates.EligibleCandidates(ctx, req.BranchID)
	if err != nil {
		observability.RecognitionOutcomes.WithLabelValues(observability.OutcomeError).Inc()
		return nil, err
	}
	if len(candidates) == 0 {
		observability.RecognitionOutcomes.WithLabelValues(observability.OutcomeNoCandidates).Inc()
		log.WithFields(logFields).Debug("No eligible candidates, skipping match")
		return unmatched(), nil
	}

	threshold := o.threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	match, err := o.matcher.MatchEmbedding(ctx, req.Embedding, candidates, threshold)
	if err != nil {
		observability.RecognitionOutcomes.WithLabelValues(observability.OutcomeError).Inc()
		return nil, err
	}

	if !match.Matched || match.IdentityID == "" {
		return o.recordUnmatched(ctx, req, match.Confidence)
	}

	now := o.now()
	inCooldown, err := o.cooldown.IsInCooldown(ctx, match.IdentityID, req.CameraID, now, o.cooldownMinutes)
	if err != nil {
		observability.RecognitionOutcomes.WithLabelValues(observability.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to check cooldown: %w", err)
	}
	if inCooldown {
		return o.suppress(ctx, req, match, now)
	}

	identity, err := o.identities.GetIdentity(ctx, match.IdentityID)
	if err != nil {
		observability.RecognitionOutcomes.WithLabelValues(observability.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to load identity %s: %w", match.IdentityID, err)
	}
	if identity == nil {
		observability.RecognitionOutcomes.WithLabelValues(observability.OutcomeError).Inc()
		log.WithFields(logFields).Errorf("Face service matched unknown identity %s", match.IdentityID)
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, match.IdentityID)
	}
	if !identity.Eligible() {
		// Einwilligung wurde nach dem Laden der Kandidaten widerrufen
		log.WithFields(logFields).Warnf("Matched identity %s is no longer eligible, not greeting", identity.ID)
		return o.recordUnmatched(ctx, req, match.Confidence)
	}

	identityID := identity.ID
	confidence := match.Confidence
	event := newEvent(Entry{
		IdentityID: &identityID,
		CameraID:   req.CameraID,
		BranchID:   req.BranchID,
		Confidence: &confidence,
		Outcome:    models.OutcomeGreeted,
		OccurredAt: now,
	})
	claimed, err := o.cooldown.Claim(ctx, event, o.cooldownMinutes)
	if err != nil {
		observability.RecognitionOutcomes.WithLabelValues(observability.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to record greeting: %w", err)
	}
	if !claimed {
		// Eine parallele Anfrage hat die Begrüßung bereits geschrieben
		return o.suppress(ctx, req, match, now)
	}

	message := o.greet(identity.DisplayName)
	result := &Result{
		Matched: true,
		Identity: &MatchedIdentity{
			ID:              identity.ID,
			DisplayName:     identity.DisplayName,
			ProfileImageURL: identity.ProfileImageURL,
		},
		Confidence: &confidence,
		Greeting:   message,
	}

	observability.RecognitionOutcomes.WithLabelValues(observability.OutcomeGreeted).Inc()
	log.WithFields(logFields).WithFields(log.Fields{
		"identity":   identity.ID,
		"camera":     deref(req.CameraID),
		"confidence": confidence,
	}).Info("Guest recognized")

	o.notify(Greeting{
		EventID:         event.ID,
		IdentityID:      identity.ID,
		DisplayName:     identity.DisplayName,
		ProfileImageURL: identity.ProfileImageURL,
		Message:         message,
		Confidence:      confidence,
		CameraID:        req.CameraID,
		BranchID:        req.BranchID,
		OccurredAt:      event.OccurredAt,
	})
	return result, nil
}

// suppress behandelt einen Treffer innerhalb der Sperrfrist
func (o *Orchestrator) suppress(ctx context.Context, req EmbeddingRequest, match *facerecognition.MatchResult, now time.Time) (*Result, error) {
	observability.RecognitionOutcomes.WithLabelValues(observability.OutcomeSuppressed).Inc()
	log.WithFields(logFields).Debugf("Identity %s is in cooldown, greeting suppressed", match.IdentityID)

	if o.auditSuppressed {
		identityID := match.IdentityID
		confidence := match.Confidence
		if _, err := o.log.Record(ctx, Entry{
			IdentityID: &identityID,
			CameraID:   req.CameraID,
			BranchID:   req.BranchID,
			Confidence: &confidence,
			Outcome:    models.OutcomeSuppressed,
			OccurredAt: now,
		}); err != nil {
			return nil, fmt.Errorf("failed to record suppressed recognition: %w", err)
		}
	}
	return unmatched(), nil
}

// recordUnmatched protokolliert einen Versuch ohne Begrüßung; die Identität wird nicht gespeichert
func (o *Orchestrator) recordUnmatched(ctx context.Context, req EmbeddingRequest, confidence float64) (*Result, error) {
	if _, err := o.log.Record(ctx, Entry{
		CameraID:   req.CameraID,
		BranchID:   req.BranchID,
		Confidence: &confidence,
		Outcome:    models.OutcomeUnmatched,
		OccurredAt: o.now(),
	}); err != nil {
		observability.RecognitionOutcomes.WithLabelValues(observability.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to record recognition: %w", err)
	}
	observability.RecognitionOutcomes.WithLabelValues(observability.OutcomeUnmatched).Inc()
	return unmatched(), nil
}

// RecognizeFromFrame erkennt alle Gesichter eines Kamerabilds und liefert nur die Treffer
func (o *Orchestrator) RecognizeFromFrame(ctx context.Context, req FrameRequest) (*FrameResult, error) {
	result := &FrameResult{Results: []Result{}}
	if !o.enabled.Load() {
		observability.RecognitionOutcomes.WithLabelValues(observability.OutcomeDisabled).Inc()
		return result, nil
	}

	embeddings, err := o.frameEmbeddings(ctx, req.Image)
	if err != nil {
		observability.RecognitionOutcomes.WithLabelValues(observability.OutcomeError).Inc()
		return nil, err
	}
	result.FacesDetected = len(embeddings)
	observability.FacesDetected.Add(float64(len(embeddings)))

	for _, embedding := range embeddings {
		r, err := o.RecognizeFromEmbedding(ctx, EmbeddingRequest{
			Embedding: embedding,
			CameraID:  req.CameraID,
			BranchID:  req.BranchID,
		})
		if err != nil {
			return nil, err
		}
		if r.Matched {
			result.Results = append(result.Results, *r)
		}
	}

	if result.FacesDetected > 0 {
		log.WithFields(logFields).Debugf("Frame from %s: %d face(s), %d greeted",
			deref(req.CameraID), result.FacesDetected, len(result.Results))
	}
	return result, nil
}

// frameEmbeddings liefert einen Vektor pro erkanntem Gesicht
func (o *Orchestrator) frameEmbeddings(ctx context.Context, image []byte) ([][]float32, error) {
	if o.frameStrategy == config.FrameStrategyWholeFrame {
		faces, err := o.matcher.DetectFaces(ctx, image)
		if err != nil {
			return nil, err
		}
		embeddings := make([][]float32, 0, len(faces))
		for range faces {
			// Vektor über das ganze Bild, nicht über den Gesichtsausschnitt
			emb, err := o.matcher.GenerateEmbedding(ctx, image)
			if err != nil {
				return nil, err
			}
			embeddings = append(embeddings, emb.Vector)
		}
		return embeddings, nil
	}

	detected, err := o.matcher.DetectAndEmbed(ctx, image)
	if err != nil {
		return nil, err
	}
	embeddings := make([][]float32, 0, len(detected.Faces))
	for _, face := range detected.Faces {
		embeddings = append(embeddings, face.Embedding)
	}
	return embeddings, nil
}

// SetEnabled schaltet die Erkennung ein oder aus und liefert den aktuellen Status
func (o *Orchestrator) SetEnabled(ctx context.Context, enabled bool) Status {
	previous := o.enabled.Swap(enabled)
	if previous != enabled {
		log.WithFields(logFields).Infof("Recognition %s", map[bool]string{true: "enabled", false: "disabled"}[enabled])
	}
	return o.Status(ctx)
}

// Enabled meldet, ob die Erkennung aktiv ist
func (o *Orchestrator) Enabled() bool {
	return o.enabled.Load()
}

// Status liefert eine Momentaufnahme mit einer aktuellen Prüfung des Gesichtsdiensts
func (o *Orchestrator) Status(ctx context.Context) Status {
	return Status{
		Enabled:             o.enabled.Load(),
		ConfidenceThreshold: o.threshold,
		CooldownMinutes:     o.cooldownMinutes,
		RemoteHealthy:       o.matcher.HealthCheck(ctx),
	}
}

// Events liefert das Erkennungsprotokoll, neueste Einträge zuerst
func (o *Orchestrator) Events(ctx context.Context, filter EventFilter) ([]models.RecognitionEvent, error) {
	return o.log.List(ctx, filter)
}

func (o *Orchestrator) greet(displayName string) string {
	if o.greeter == nil {
		return fmt.Sprintf("Welcome back, %s!", displayName)
	}
	return o.greeter.Greet(displayName)
}

func (o *Orchestrator) notify(g Greeting) {
	for _, n := range o.notifiers {
		n.NotifyGreeting(g)
	}
}

func unmatched() *Result {
	return &Result{Matched: false}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
