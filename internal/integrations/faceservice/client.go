package faceservice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"guestgreet/config"
	"guestgreet/internal/integrations/facerecognition"
	"guestgreet/internal/observability"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

// Log-Felder für die Gesichtsdienst-Komponente
var logFields = log.Fields{
	"component": "faceservice",
}

// Client implementiert facerecognition.Matcher über die HTTP-API des Gesichtsdiensts
type Client struct {
	client  *resty.Client
	baseURL string
}

var _ facerecognition.Matcher = (*Client)(nil)

// Anfrage- und Antwortstrukturen des Gesichtsdiensts

type imageRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type faceImageRequest struct {
	FaceImageBase64 string `json:"face_image_base64"`
}

type detectFacesResponse struct {
	Faces []facerecognition.DetectedFace `json:"faces"`
	Count int                            `json:"count"`
}

type generateEmbeddingResponse struct {
	Embedding    []float32 `json:"embedding"`
	ModelVersion string    `json:"model_version"`
}

type faceWithEmbedding struct {
	BoundingBox []float64 `json:"bbox"`
	Confidence  float64   `json:"confidence"`
	Embedding   []float32 `json:"embedding"`
}

type detectAndEmbedResponse struct {
	Faces        []faceWithEmbedding `json:"faces"`
	Count        int                 `json:"count"`
	ModelVersion string              `json:"model_version"`
}

type candidateEmbedding struct {
	CustomerID string    `json:"customer_id"`
	Embedding  []float32 `json:"embedding"`
}

type matchRequest struct {
	QueryEmbedding      []float32            `json:"query_embedding"`
	CandidateEmbeddings []candidateEmbedding `json:"candidate_embeddings"`
	Threshold           float64              `json:"threshold"`
}

type matchResponse struct {
	Matched    bool    `json:"matched"`
	CustomerID *string `json:"customer_id"`
	Confidence float64 `json:"confidence"`
}

type healthResponse struct {
	Status       string `json:"status"`
	ModelLoaded  *bool  `json:"model_loaded"`
	ModelVersion string `json:"model_version"`
}

// NewClient erstellt einen neuen Client. Jede Anfrage ist durch das konfigurierte
// Zeitlimit begrenzt, Wiederholungen gibt es nicht.
func NewClient(cfg config.FaceServiceConfig) *Client {
	baseURL := strings.TrimRight(cfg.URL, "/")
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout()).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	log.WithFields(logFields).Infof("Face service client configured for %s (timeout %s)", baseURL, cfg.Timeout())
	return &Client{client: client, baseURL: baseURL}
}

// DetectFaces findet Gesichter in einem Bild
func (c *Client) DetectFaces(ctx context.Context, image []byte) ([]facerecognition.DetectedFace, error) {
	var resp detectFacesResponse
	if err := c.post(ctx, "detect_faces", "/detect-faces", imageRequest{ImageBase64: encode(image)}, &resp); err != nil {
		return nil, err
	}
	log.WithFields(logFields).Debugf("Detected %d face(s)", len(resp.Faces))
	return resp.Faces, nil
}

// GenerateEmbedding erzeugt den Vektor für ein Gesichtsbild
func (c *Client) GenerateEmbedding(ctx context.Context, faceImage []byte) (*facerecognition.Embedding, error) {
	var resp generateEmbeddingResponse
	if err := c.post(ctx, "generate_embedding", "/generate-embedding", faceImageRequest{FaceImageBase64: encode(faceImage)}, &resp); err != nil {
		return nil, err
	}
	return &facerecognition.Embedding{Vector: resp.Embedding, ModelVersion: resp.ModelVersion}, nil
}

// DetectAndEmbed erkennt Gesichter und erzeugt pro Gesicht einen Vektor
func (c *Client) DetectAndEmbed(ctx context.Context, image []byte) (*facerecognition.DetectAndEmbedResult, error) {
	var resp detectAndEmbedResponse
	if err := c.post(ctx, "detect_and_embed", "/detect-and-embed", imageRequest{ImageBase64: encode(image)}, &resp); err != nil {
		return nil, err
	}

	result := &facerecognition.DetectAndEmbedResult{
		Faces:        make([]facerecognition.FaceWithEmbedding, 0, len(resp.Faces)),
		ModelVersion: resp.ModelVersion,
	}
	for _, f := range resp.Faces {
		result.Faces = append(result.Faces, facerecognition.FaceWithEmbedding{
			BoundingBox: f.BoundingBox,
			Confidence:  f.Confidence,
			Embedding:   f.Embedding,
		})
	}
	return result, nil
}

// MatchEmbedding lässt den Dienst den Vektor gegen die Kandidaten abgleichen
func (c *Client) MatchEmbedding(ctx context.Context, query []float32, candidates []facerecognition.Candidate, threshold float64) (*facerecognition.MatchResult, error) {
	req := matchRequest{
		QueryEmbedding:      query,
		CandidateEmbeddings: make([]candidateEmbedding, 0, len(candidates)),
		Threshold:           threshold,
	}
	for _, cand := range candidates {
		req.CandidateEmbeddings = append(req.CandidateEmbeddings, candidateEmbedding{
			CustomerID: cand.IdentityID,
			Embedding:  cand.Embedding,
		})
	}

	var resp matchResponse
	if err := c.post(ctx, "match", "/match", req, &resp); err != nil {
		return nil, err
	}

	result := &facerecognition.MatchResult{Matched: resp.Matched, Confidence: resp.Confidence}
	if resp.CustomerID != nil {
		result.IdentityID = *resp.CustomerID
	}
	log.WithFields(logFields).Debugf("Match against %d candidate(s): matched=%t confidence=%.3f",
		len(candidates), result.Matched, result.Confidence)
	return result, nil
}

// HealthCheck prüft, ob der Dienst erreichbar ist und sein Modell geladen hat
func (c *Client) HealthCheck(ctx context.Context) bool {
	start := time.Now()
	resp, err := c.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		observe("health", "error", start)
		log.WithFields(logFields).Debugf("Face service health check failed: %v", err)
		return false
	}
	observe("health", strconv.Itoa(resp.StatusCode()), start)

	if !resp.IsSuccess() {
		log.WithFields(logFields).Debugf("Face service health check returned status %d", resp.StatusCode())
		return false
	}

	var health healthResponse
	if body := resp.Body(); len(body) > 0 && json.Unmarshal(body, &health) == nil {
		if strings.EqualFold(health.Status, "unhealthy") {
			return false
		}
		if health.ModelLoaded != nil && !*health.ModelLoaded {
			return false
		}
	}
	return true
}

// post sendet eine JSON-Anfrage und dekodiert die Antwort. Jeder Fehler wird
// als facerecognition.ErrServiceUnavailable gemeldet.
func (c *Client) post(ctx context.Context, operation, path string, body, result interface{}) error {
	start := time.Now()
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		observe(operation, "error", start)
		log.WithFields(logFields).Warnf("Face service %s failed: %v", operation, err)
		return fmt.Errorf("%w: %s: %v", facerecognition.ErrServiceUnavailable, operation, err)
	}
	observe(operation, strconv.Itoa(resp.StatusCode()), start)

	if !resp.IsSuccess() {
		log.WithFields(logFields).Warnf("Face service %s returned status %d", operation, resp.StatusCode())
		return fmt.Errorf("%w: %s (status %d): %s", facerecognition.ErrServiceUnavailable,
			operation, resp.StatusCode(), truncate(resp.String(), 200))
	}

	if err := json.Unmarshal(resp.Body(), result); err != nil {
		return fmt.Errorf("%w: %s: invalid response: %v", facerecognition.ErrServiceUnavailable, operation, err)
	}

	log.WithFields(logFields).Debugf("Face service %s completed in %v", operation, time.Since(start))
	return nil
}

func observe(operation, status string, start time.Time) {
	observability.RemoteCallDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

func encode(image []byte) string {
	return base64.StdEncoding.EncodeToString(image)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
