package facerecognition

import (
	"context"
	"sync"
)

// FakeMatcher ist eine In-Memory-Implementierung von Matcher für Tests und lokale Entwicklung.
// Alle Felder dürfen vor der Nutzung gesetzt werden; Aufrufe werden pro Operation gezählt.
type FakeMatcher struct {
	mu sync.Mutex

	Faces               []DetectedFace
	FacesWithEmbeddings []FaceWithEmbedding
	Embedding           Embedding
	Healthy             bool

	// MatchFunc entscheidet über den Abgleich; ohne MatchFunc gibt es keinen Treffer
	MatchFunc func(query []float32, candidates []Candidate, threshold float64) MatchResult

	// Err wird von allen Operationen außer HealthCheck zurückgegeben, wenn gesetzt
	Err error

	calls          map[string]int
	lastCandidates []Candidate
	lastThreshold  float64
}

// NewFakeMatcher erstellt einen gesunden FakeMatcher ohne Treffer
func NewFakeMatcher() *FakeMatcher {
	return &FakeMatcher{Healthy: true, calls: make(map[string]int)}
}

func (f *FakeMatcher) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	return f.Err
}

// Calls liefert die Anzahl der Aufrufe einer Operation ("detect", "embed", "detect_and_embed", "match", "health")
func (f *FakeMatcher) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// LastCandidates liefert die Kandidaten des letzten Abgleichs
func (f *FakeMatcher) LastCandidates() []Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCandidates
}

// LastThreshold liefert den Schwellenwert des letzten Abgleichs
func (f *FakeMatcher) LastThreshold() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastThreshold
}

func (f *FakeMatcher) DetectFaces(ctx context.Context, image []byte) ([]DetectedFace, error) {
	if err := f.record("detect"); err != nil {
		return nil, err
	}
	return f.Faces, nil
}

func (f *FakeMatcher) GenerateEmbedding(ctx context.Context, faceImage []byte) (*Embedding, error) {
	if err := f.record("embed"); err != nil {
		return nil, err
	}
	emb := f.Embedding
	return &emb, nil
}

func (f *FakeMatcher) DetectAndEmbed(ctx context.Context, image []byte) (*DetectAndEmbedResult, error) {
	if err := f.record("detect_and_embed"); err != nil {
		return nil, err
	}
	return &DetectAndEmbedResult{Faces: f.FacesWithEmbeddings, ModelVersion: f.Embedding.ModelVersion}, nil
}

func (f *FakeMatcher) MatchEmbedding(ctx context.Context, query []float32, candidates []Candidate, threshold float64) (*MatchResult, error) {
	if err := f.record("match"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastCandidates = append([]Candidate(nil), candidates...)
	f.lastThreshold = threshold
	fn := f.MatchFunc
	f.mu.Unlock()

	if fn == nil {
		return &MatchResult{}, nil
	}
	res := fn(query, candidates, threshold)
	return &res, nil
}

func (f *FakeMatcher) HealthCheck(ctx context.Context) bool {
	f.record("health")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Healthy
}
