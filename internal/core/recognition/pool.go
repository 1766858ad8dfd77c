package recognition

import (
	"context"
	"fmt"

	"guestgreet/internal/core/models"
	"guestgreet/internal/integrations/facerecognition"
)

// EmbeddingSource liefert die Vektoren der für den Abgleich freigegebenen Identitäten
type EmbeddingSource interface {
	EligibleEmbeddings(ctx context.Context, branchID *string) ([]models.FaceEmbedding, error)
}

// CandidatePool ist die schreibgeschützte Sicht auf die Vergleichskandidaten
type CandidatePool struct {
	source EmbeddingSource
}

// NewCandidatePool erstellt einen neuen Kandidatenpool
func NewCandidatePool(source EmbeddingSource) *CandidatePool {
	return &CandidatePool{source: source}
}

// EligibleCandidates liefert alle Kandidaten mit Einwilligung, die aktiv sind,
// optional auf eine Filiale beschränkt. Eine leere Liste ist kein Fehler.
func (p *CandidatePool) EligibleCandidates(ctx context.Context, branchID *string) ([]facerecognition.Candidate, error) {
	embeddings, err := p.source.EligibleEmbeddings(ctx, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}

	candidates := make([]facerecognition.Candidate, 0, len(embeddings))
	for _, e := range embeddings {
		if len(e.Vector) == 0 {
			continue
		}
		candidates = append(candidates, facerecognition.Candidate{
			IdentityID: e.IdentityID,
			Embedding:  []float32(e.Vector),
		})
	}
	return candidates, nil
}
