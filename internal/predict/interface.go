package predict

import (
	"context"

	"github.com/droverhq/drover/internal/classify"
	"github.com/droverhq/drover/internal/timing"
)

//go:generate mockgen -destination=mocks/mock_history.go -package=mocks github.com/droverhq/drover/internal/predict HistoryService

// HistoryService is the slice of the timing store the predictor reads.
type HistoryService interface {
	Query(ctx context.Context, class classify.Classification, fine bool) (timing.History, error)
	SimilarTasks(ctx context.Context, complexity, questionType string) ([]timing.Neighbor, error)
	SimilarPrompts(ctx context.Context, category, complexity string, tokenCount, maxTokenDiff int) ([]float64, error)
}
