package recognition

import (
	"time"

	"guestgreet/internal/db/repository"
)

// EventFilter schränkt die Abfrage des Erkennungsprotokolls ein
type EventFilter = repository.EventFilter

// EmbeddingRequest ist ein Erkennungsversuch mit bereits berechnetem Gesichtsvektor
type EmbeddingRequest struct {
	Embedding []float32
	CameraID  *string
	BranchID  *string
	// Threshold überschreibt den konfigurierten Schwellwert, nil = Konfiguration
	Threshold *float64
}

// FrameRequest ist ein Erkennungsversuch mit einem rohen Kamerabild
type FrameRequest struct {
	Image    []byte
	CameraID *string
	BranchID *string
}

// MatchedIdentity sind die Anzeigedaten eines erkannten Gasts
type MatchedIdentity struct {
	ID              string  `json:"id"`
	DisplayName     string  `json:"displayName"`
	ProfileImageURL *string `json:"profileImageUrl"`
}

// Result ist das Ergebnis einer Erkennung.
// Identity, Confidence und Greeting sind nur bei Matched gesetzt.
type Result struct {
	Matched    bool             `json:"matched"`
	Identity   *MatchedIdentity `json:"customer,omitempty"`
	Confidence *float64         `json:"confidence,omitempty"`
	Greeting   string           `json:"greeting,omitempty"`
}

// FrameResult enthält die Anzahl erkannter Gesichter und nur die begrüßten Treffer
type FrameResult struct {
	FacesDetected int      `json:"facesDetected"`
	Results       []Result `json:"results"`
}

// Status ist eine Momentaufnahme der Erkennungseinstellungen
type Status struct {
	Enabled             bool    `json:"enabled"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	CooldownMinutes     int     `json:"cooldownMinutes"`
	RemoteHealthy       bool    `json:"faceServiceHealthy"`
}

// Greeting wird an Notifier (MQTT, SSE) verteilt
type Greeting struct {
	EventID         uint      `json:"eventId"`
	IdentityID      string    `json:"customerId"`
	DisplayName     string    `json:"displayName"`
	ProfileImageURL *string   `json:"profileImageUrl,omitempty"`
	Message         string    `json:"greeting"`
	Confidence      float64   `json:"confidence"`
	CameraID        *string   `json:"cameraId,omitempty"`
	BranchID        *string   `json:"branchId,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}
