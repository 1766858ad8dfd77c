package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"guestgreet/internal/core/models"
	"guestgreet/internal/core/recognition"
	"guestgreet/internal/server/sse"

	"github.com/gin-gonic/gin"
)

const (
	// MinEmbeddingDimensions ist die kleinste akzeptierte Vektorlänge
	MinEmbeddingDimensions = 128
	maxEventLimit          = 1000
	streamKeepAlive        = 30 * time.Second

	// MaxFrameBodyBytes begrenzt den JSON-Body von identify-frame: ein Bild bis
	// MaxProfileImageBytes in Base64 zuzüglich Platz für die übrigen Felder
	MaxFrameBodyBytes = MaxProfileImageBytes/3*4 + 64<<10
)

// Recognizer ist die Sicht des Handlers auf den Orchestrator
type Recognizer interface {
	RecognizeFromEmbedding(ctx context.Context, req recognition.EmbeddingRequest) (*recognition.Result, error)
	SetEnabled(ctx context.Context, enabled bool) recognition.Status
	Status(ctx context.Context) recognition.Status
	Events(ctx context.Context, filter recognition.EventFilter) ([]models.RecognitionEvent, error)
}

// FrameSubmitter reiht Kamerabilder in den Frame-Pool ein
type FrameSubmitter interface {
	Recognize(ctx context.Context, req recognition.FrameRequest) (*recognition.FrameResult, error)
}

// GreetingStream verteilt Begrüßungen an verbundene Anzeigen
type GreetingStream interface {
	Subscribe(branchID string) *sse.Subscriber
	Unsubscribe(sub *sse.Subscriber)
}

// RecognitionHandler behandelt die Erkennungs-Endpunkte
type RecognitionHandler struct {
	recognizer Recognizer
	frames     FrameSubmitter
	stream     GreetingStream
}

// NewRecognitionHandler erstellt einen neuen RecognitionHandler
func NewRecognitionHandler(recognizer Recognizer, frames FrameSubmitter, stream GreetingStream) *RecognitionHandler {
	return &RecognitionHandler{recognizer: recognizer, frames: frames, stream: stream}
}

// RegisterRoutes registriert alle Erkennungs-Routen
func (h *RecognitionHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/identify", h.Identify)
	router.POST("/identify-frame", h.IdentifyFrame)
	router.GET("/status", h.GetStatus)
	router.PATCH("/toggle", h.Toggle)
	router.GET("/logs", h.ListLogs)
	if h.stream != nil {
		router.GET("/stream", h.Stream)
	}
}

type identifyRequest struct {
	Embedding []float32 `json:"embedding"`
	CameraID  *string   `json:"cameraId"`
	BranchID  *string   `json:"branchId"`
	Threshold *float64  `json:"threshold"`
}

type identifyFrameRequest struct {
	ImageBase64 string  `json:"imageBase64"`
	CameraID    *string `json:"cameraId"`
	BranchID    *string `json:"branchId"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// Identify erkennt einen Gast anhand eines vorberechneten Vektors
func (h *RecognitionHandler) Identify(c *gin.Context) {
	var req identifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if len(req.Embedding) < MinEmbeddingDimensions {
		badRequest(c, "embedding must contain at least "+strconv.Itoa(MinEmbeddingDimensions)+" values")
		return
	}
	if req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold > 1) {
		badRequest(c, "threshold must be between 0 and 1")
		return
	}

	result, err := h.recognizer.RecognizeFromEmbedding(c.Request.Context(), recognition.EmbeddingRequest{
		Embedding: req.Embedding,
		CameraID:  emptyToNil(req.CameraID),
		BranchID:  emptyToNil(req.BranchID),
		Threshold: req.Threshold,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// IdentifyFrame erkennt alle Gäste in einem Kamerabild
func (h *RecognitionHandler) IdentifyFrame(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxFrameBodyBytes)

	var req identifyFrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("request body must not exceed %d bytes", MaxFrameBodyBytes)})
			return
		}
		badRequest(c, "Invalid request body")
		return
	}
	image, err := decodeImage(req.ImageBase64)
	if err != nil || len(image) == 0 {
		badRequest(c, "imageBase64 must be a non-empty base64 encoded image")
		return
	}

	result, err := h.frames.Recognize(c.Request.Context(), recognition.FrameRequest{
		Image:    image,
		CameraID: emptyToNil(req.CameraID),
		BranchID: emptyToNil(req.BranchID),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetStatus liefert den aktuellen Erkennungsstatus
func (h *RecognitionHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.recognizer.Status(c.Request.Context()))
}

// Toggle schaltet die Erkennung global ein oder aus
func (h *RecognitionHandler) Toggle(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		badRequest(c, "enabled must be a boolean")
		return
	}
	c.JSON(http.StatusOK, h.recognizer.SetEnabled(c.Request.Context(), *req.Enabled))
}

// ListLogs liefert das Erkennungsprotokoll, neueste Einträge zuerst
func (h *RecognitionHandler) ListLogs(c *gin.Context) {
	filter := recognition.EventFilter{Limit: 100}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, maxEventLimit)
	}
	if branch := c.Query("branchId"); branch != "" {
		filter.BranchID = &branch
	}
	if camera := c.Query("cameraId"); camera != "" {
		filter.CameraID = &camera
	}

	events, err := h.recognizer.Events(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if events == nil {
		events = []models.RecognitionEvent{}
	}
	c.JSON(http.StatusOK, events)
}

// Stream sendet angezeigte Begrüßungen als Server-Sent Events, optional nur für ?branchId=
func (h *RecognitionHandler) Stream(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	sub := h.stream.Subscribe(strings.TrimSpace(c.Query("branchId")))
	defer h.stream.Unsubscribe(sub)

	// Proxies trennen stille Verbindungen
	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-sub.Messages:
			if !ok {
				return false
			}
			c.SSEvent("greeting", string(msg))
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", "")
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// decodeImage akzeptiert reines Base64 und Data-URLs ("data:image/jpeg;base64,...")
func decodeImage(encoded string) ([]byte, error) {
	if i := strings.Index(encoded, ","); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+1:]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
}

func emptyToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
