package mqtt

import (
	"strings"
	"sync"
	"time"

	"guestgreet/internal/core/recognition"
	"guestgreet/internal/observability"

	log "github.com/sirupsen/logrus"
)

const greetingQueueSize = 64

// Publisher ist der Teil des MQTT-Clients, den der GreetingPublisher benötigt
type Publisher interface {
	PublishJSON(topic string, v any, retain bool) error
}

// greetingMessage ist die Nutzlast auf den Begrüßungs-Topics
type greetingMessage struct {
	EventID         uint      `json:"event_id"`
	CustomerID      string    `json:"customer_id"`
	DisplayName     string    `json:"display_name"`
	Greeting        string    `json:"greeting"`
	ProfileImageURL *string   `json:"profile_image_url,omitempty"`
	Confidence      float64   `json:"confidence"`
	CameraID        *string   `json:"camera_id,omitempty"`
	BranchID        *string   `json:"branch_id,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// GreetingPublisher veröffentlicht angezeigte Begrüßungen über MQTT.
// Die Veröffentlichung läuft entkoppelt von der Erkennung in einer eigenen Goroutine.
type GreetingPublisher struct {
	publisher Publisher
	prefix    string
	queue     chan recognition.Greeting
	done      chan struct{}
	mu        sync.Mutex
	closed    bool
}

// NewGreetingPublisher erstellt einen neuen GreetingPublisher
func NewGreetingPublisher(publisher Publisher, topicPrefix string) *GreetingPublisher {
	p := &GreetingPublisher{
		publisher: publisher,
		prefix:    strings.TrimSuffix(topicPrefix, "/"),
		queue:     make(chan recognition.Greeting, greetingQueueSize),
		done:      make(chan struct{}),
	}
	go p.loop()
	return p
}

// NotifyGreeting reiht eine Begrüßung zur Veröffentlichung ein, ohne zu blockieren
func (p *GreetingPublisher) NotifyGreeting(g recognition.Greeting) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- g:
	default:
		log.WithFields(logFields).Warnf("Greeting queue full, dropping MQTT greeting for %s", g.IdentityID)
	}
}

// Close veröffentlicht alle wartenden Begrüßungen und beendet den Publisher
func (p *GreetingPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}

func (p *GreetingPublisher) loop() {
	defer close(p.done)
	for g := range p.queue {
		p.publish(g)
	}
}

func (p *GreetingPublisher) publish(g recognition.Greeting) {
	msg := greetingMessage{
		EventID:         g.EventID,
		CustomerID:      g.IdentityID,
		DisplayName:     g.DisplayName,
		Greeting:        g.Message,
		ProfileImageURL: g.ProfileImageURL,
		Confidence:      g.Confidence,
		CameraID:        g.CameraID,
		BranchID:        g.BranchID,
		OccurredAt:      g.OccurredAt,
	}

	camera := "unknown"
	if g.CameraID != nil && *g.CameraID != "" {
		camera = topicSegment(*g.CameraID)
	}

	if err := p.publisher.PublishJSON(p.GreetingTopic(camera), msg, false); err != nil {
		log.WithFields(logFields).Warnf("Failed to publish greeting: %v", err)
		return
	}
	// Letzte Begrüßung pro Gast bleibt für neue Abonnenten erhalten
	if err := p.publisher.PublishJSON(p.IdentityTopic(g.IdentityID), msg, true); err != nil {
		log.WithFields(logFields).Warnf("Failed to publish identity state: %v", err)
	}
	observability.GreetingsPublished.WithLabelValues("mqtt").Inc()
}

// GreetingTopic liefert z.B. "guestgreet/greetings/lobby-1"
func (p *GreetingPublisher) GreetingTopic(camera string) string {
	return p.prefix + "/greetings/" + camera
}

// IdentityTopic liefert z.B. "guestgreet/identities/<id>"
func (p *GreetingPublisher) IdentityTopic(identityID string) string {
	return p.prefix + "/identities/" + identityID
}

// topicSegment entfernt Zeichen, die in einem Topic-Segment nicht erlaubt sind
func topicSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
