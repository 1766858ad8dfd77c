package sse

import (
	"encoding/json"
	"sync"

	"guestgreet/internal/core/recognition"
	"guestgreet/internal/observability"

	log "github.com/sirupsen/logrus"
)

var logFields = log.Fields{"component": "sse"}

const subscriberBuffer = 10

// Subscriber ist eine verbundene Lobby-Anzeige. Mit gesetzter Filiale erhält sie nur
// Begrüßungen dieser Filiale.
type Subscriber struct {
	Messages chan []byte
	branchID string
}

func (s *Subscriber) wants(g recognition.Greeting) bool {
	return s.branchID == "" || (g.BranchID != nil && *g.BranchID == s.branchID)
}

// Hub verteilt angezeigte Begrüßungen an alle Lobby-Anzeigen
type Hub struct {
	greetings chan recognition.Greeting
	stop      chan struct{}
	stopOnce  sync.Once

	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	stopped     bool
}

// NewHub erstellt eine neue Hub-Instanz
func NewHub() *Hub {
	return &Hub{
		greetings:   make(chan recognition.Greeting, 100),
		stop:        make(chan struct{}),
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Run verteilt Begrüßungen, bis Stop aufgerufen wird
func (h *Hub) Run() {
	log.WithFields(logFields).Info("SSE hub started")
	for {
		select {
		case g := <-h.greetings:
			h.fanOut(g)
		case <-h.stop:
			h.mu.Lock()
			h.stopped = true
			for sub := range h.subscribers {
				delete(h.subscribers, sub)
				close(sub.Messages)
			}
			h.mu.Unlock()
			log.WithFields(logFields).Info("SSE hub stopped")
			return
		}
	}
}

func (h *Hub) fanOut(g recognition.Greeting) {
	data, err := json.Marshal(g)
	if err != nil {
		log.WithFields(logFields).Errorf("Failed to marshal greeting for SSE: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		if !sub.wants(g) {
			continue
		}
		select {
		case sub.Messages <- data:
		default:
			// Anzeige liest nicht mehr mit
			log.WithFields(logFields).Warn("SSE subscriber is not keeping up, disconnecting it")
			delete(h.subscribers, sub)
			close(sub.Messages)
		}
	}
}

// Stop beendet den Hub und schließt alle Abonnements
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Subscribe meldet eine Anzeige an; branchID "" empfängt alle Filialen.
// Nach Stop ist der Kanal des Abonnements bereits geschlossen.
func (h *Hub) Subscribe(branchID string) *Subscriber {
	sub := &Subscriber{Messages: make(chan []byte, subscriberBuffer), branchID: branchID}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		close(sub.Messages)
		return sub
	}
	h.subscribers[sub] = struct{}{}
	log.WithFields(logFields).Infof("SSE subscriber connected (branch=%q). Total: %d", branchID, len(h.subscribers))
	return sub
}

// Unsubscribe meldet eine Anzeige ab; mehrfacher Aufruf ist erlaubt
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	close(sub.Messages)
	log.WithFields(logFields).Infof("SSE subscriber disconnected. Total: %d", len(h.subscribers))
}

// SubscriberCount liefert die Anzahl verbundener Anzeigen
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// NotifyGreeting reiht eine angezeigte Begrüßung zur Verteilung ein
func (h *Hub) NotifyGreeting(g recognition.Greeting) {
	select {
	case h.greetings <- g:
		observability.GreetingsPublished.WithLabelValues("sse").Inc()
	case <-h.stop:
	default:
		log.WithFields(logFields).Warnf("SSE queue full, dropping greeting for %s", g.IdentityID)
	}
}
