package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"guestgreet/internal/core/recognition"

	log "github.com/sirupsen/logrus"
)

// MinEmbeddingDimensions ist die kleinste akzeptierte Vektorlänge
const MinEmbeddingDimensions = 128

// EmbeddingRecognizer verarbeitet einen Gesichtsvektor
type EmbeddingRecognizer interface {
	RecognizeFromEmbedding(ctx context.Context, req recognition.EmbeddingRequest) (*recognition.Result, error)
}

// embeddingMessage ist die Nutzlast, die Edge-Geräte veröffentlichen
type embeddingMessage struct {
	Embedding []float32 `json:"embedding"`
	CameraID  *string   `json:"camera_id"`
	BranchID  *string   `json:"branch_id"`
	Threshold *float64  `json:"threshold"`
}

// EmbeddingHandler führt für jede eingehende Nachricht eine Erkennung aus
type EmbeddingHandler struct {
	recognizer EmbeddingRecognizer
	timeout    time.Duration
}

// NewEmbeddingHandler erstellt einen neuen EmbeddingHandler
func NewEmbeddingHandler(recognizer EmbeddingRecognizer, timeout time.Duration) *EmbeddingHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EmbeddingHandler{recognizer: recognizer, timeout: timeout}
}

// HandleMessage implementiert MessageHandler
func (h *EmbeddingHandler) HandleMessage(topic string, payload []byte) {
	req, err := parseEmbeddingMessage(topic, payload)
	if err != nil {
		log.WithFields(logFields).Warnf("Ignoring embedding on %s: %v", topic, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	result, err := h.recognizer.RecognizeFromEmbedding(ctx, req)
	if err != nil {
		log.WithFields(logFields).Errorf("Recognition for %s failed: %v", topic, err)
		return
	}
	if result.Matched {
		log.WithFields(logFields).Debugf("Embedding on %s matched %s", topic, result.Identity.ID)
	}
}

func parseEmbeddingMessage(topic string, payload []byte) (recognition.EmbeddingRequest, error) {
	var msg embeddingMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return recognition.EmbeddingRequest{}, fmt.Errorf("invalid payload: %w", err)
	}
	if len(msg.Embedding) < MinEmbeddingDimensions {
		return recognition.EmbeddingRequest{}, fmt.Errorf("embedding must have at least %d dimensions, got %d",
			MinEmbeddingDimensions, len(msg.Embedding))
	}
	if msg.Threshold != nil && (*msg.Threshold < 0 || *msg.Threshold > 1) {
		return recognition.EmbeddingRequest{}, errors.New("threshold must be between 0 and 1")
	}

	camera := trimmed(msg.CameraID)
	if camera == nil {
		camera = cameraFromTopic(topic)
	}

	return recognition.EmbeddingRequest{
		Embedding: msg.Embedding,
		CameraID:  camera,
		BranchID:  trimmed(msg.BranchID),
		Threshold: msg.Threshold,
	}, nil
}

// trimmed behandelt leere Werte wie fehlende; ein leerer Filialfilter würde sonst alle Kandidaten ausschließen
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// cameraFromTopic nimmt das letzte Topic-Segment als Kamera, z.B. "guestgreet/embeddings/lobby-1"
func cameraFromTopic(topic string) *string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return nil
	}
	last := parts[len(parts)-1]
	if last == "" || last == "embeddings" {
		return nil
	}
	return &last
}
