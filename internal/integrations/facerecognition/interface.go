package facerecognition

import (
	"context"
	"errors"
)

// ErrServiceUnavailable wird zurückgegeben, wenn der Gesichtsdienst nicht antwortet,
// in ein Timeout läuft oder einen Fehlerstatus liefert
var ErrServiceUnavailable = errors.New("face service unavailable")

// DetectedFace repräsentiert ein erkanntes Gesicht
type DetectedFace struct {
	// BoundingBox enthält die Koordinaten des Gesichts im Bild (x1, y1, x2, y2)
	BoundingBox []float64 `json:"bbox"`

	// Landmarks sind die Gesichtsmerkmale (Augen, Nase, Mundwinkel)
	Landmarks [][]float64 `json:"landmarks"`

	// Confidence ist die Konfidenz der Gesichtserkennung (0-1)
	Confidence float64 `json:"confidence"`
}

// Embedding ist ein Gesichtsvektor mit der Version des erzeugenden Modells
type Embedding struct {
	Vector       []float32
	ModelVersion string
}

// FaceWithEmbedding ist ein erkanntes Gesicht samt eigenem Vektor
type FaceWithEmbedding struct {
	BoundingBox []float64
	Confidence  float64
	Embedding   []float32
}

// DetectAndEmbedResult ist das Ergebnis der kombinierten Erkennung
type DetectAndEmbedResult struct {
	Faces        []FaceWithEmbedding
	ModelVersion string
}

// Candidate ist ein Vergleichsvektor einer freigegebenen Identität
type Candidate struct {
	IdentityID string
	Embedding  []float32
}

// MatchResult ist die Entscheidung des Gesichtsdiensts
type MatchResult struct {
	Matched    bool
	IdentityID string
	Confidence float64
}

// Matcher definiert die Schnittstelle zum entfernten Gesichtsdienst.
// Die Ähnlichkeitsentscheidung trifft ausschließlich der Dienst.
type Matcher interface {
	// DetectFaces findet Gesichter in einem Bild; keine Treffer sind kein Fehler
	DetectFaces(ctx context.Context, image []byte) ([]DetectedFace, error)

	// GenerateEmbedding erzeugt einen Vektor für ein Gesichtsbild
	GenerateEmbedding(ctx context.Context, faceImage []byte) (*Embedding, error)

	// DetectAndEmbed erkennt Gesichter und liefert pro Gesicht einen Vektor
	DetectAndEmbed(ctx context.Context, image []byte) (*DetectAndEmbedResult, error)

	// MatchEmbedding vergleicht einen Vektor mit den Kandidaten
	MatchEmbedding(ctx context.Context, query []float32, candidates []Candidate, threshold float64) (*MatchResult, error)

	// HealthCheck prüft die Erreichbarkeit, Fehler werden nie weitergereicht
	HealthCheck(ctx context.Context) bool
}
