package predict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/predict/mocks"
	"github.com/droverhq/drover/internal/timing"
)

func newTestPredictor(t *testing.T) (*Predictor, *mocks.MockHistoryService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	history := mocks.NewMockHistoryService(ctrl)
	p := New(history, config.Defaults().Predict)
	p.loadAvg = func() float64 { return 0 }
	return p, history
}

func TestPredictStaticDefaultsForUnseenCommand(t *testing.T) {
	t.Parallel()

	p, history := newTestPredictor(t)
	history.EXPECT().Query(gomock.Any(), gomock.Any(), true).Return(timing.History{}, nil)
	history.EXPECT().SimilarTasks(gomock.Any(), "simple", "filesystem").Return(nil, nil)

	plan := p.Predict(context.Background(), "echo hi")

	assert.Equal(t, "system", plan.Class.Category)
	assert.Equal(t, "simple", plan.Class.Complexity)
	assert.Equal(t, BasisStaticDefault, plan.Basis)
	// simple tier (10s/30s) widened by the 3x baseline multiplier.
	assert.Equal(t, 30.0, plan.ExpectedSeconds)
	assert.Equal(t, 90.0, plan.MaxSeconds)
	assert.Equal(t, 0.1, plan.Confidence)
	// 30*0.5=15s raw, clamped up to the stall floor.
	assert.Equal(t, 30*time.Second, plan.StallTimeout)
}

func TestPredictUsesExactHistoryMean(t *testing.T) {
	t.Parallel()

	p, history := newTestPredictor(t)
	history.EXPECT().Query(gomock.Any(), gomock.Any(), true).Return(timing.History{
		Samples:         []float64{120, 100},
		CentralEstimate: 110,
		Max:             120,
		Min:             100,
		SampleCount:     2,
		SuccessRate:     1,
	}, nil)

	plan := p.Predict(context.Background(), "echo hi")

	assert.Equal(t, BasisExactHistory, plan.Basis)
	assert.Equal(t, 110.0, plan.ExpectedSeconds)
	assert.Equal(t, 240.0, plan.MaxSeconds)
	assert.InDelta(t, 0.2, plan.Confidence, 0.001)
	assert.Equal(t, 55*time.Second, plan.StallTimeout)
}

func TestPredictExactHistoryBuffersCentralEstimate(t *testing.T) {
	t.Parallel()

	// With 5+ samples the store hands back a 90th-percentile estimate; the
	// predictor widens it by the trend buffer but must not re-average it.
	p, history := newTestPredictor(t)
	history.EXPECT().Query(gomock.Any(), gomock.Any(), true).Return(timing.History{
		Samples:         []float64{1000, 120, 100, 10, 10},
		CentralEstimate: 1000,
		Max:             1000,
		Min:             10,
		SampleCount:     5,
		SuccessRate:     1,
	}, nil)

	plan := p.Predict(context.Background(), "echo hi")
	assert.Equal(t, 1200.0, plan.ExpectedSeconds)
	assert.Equal(t, 0.5, plan.Confidence)
}

func TestPredictExactHistoryBufferStartsAtThreeSamples(t *testing.T) {
	t.Parallel()

	p, history := newTestPredictor(t)
	history.EXPECT().Query(gomock.Any(), gomock.Any(), true).Return(timing.History{
		Samples:         []float64{120, 100, 80},
		CentralEstimate: 100,
		Max:             120,
		Min:             80,
		SampleCount:     3,
		SuccessRate:     1,
	}, nil)

	plan := p.Predict(context.Background(), "echo hi")

	assert.Equal(t, BasisExactHistory, plan.Basis)
	assert.InDelta(t, 120.0, plan.ExpectedSeconds, 0.001)
	assert.Equal(t, 240.0, plan.MaxSeconds)
	assert.Equal(t, 60*time.Second, plan.StallTimeout)
}

func TestPredictStallTimeoutClamped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		expected float64
		want     time.Duration
	}{
		{"zero expected hits floor", 0, 30 * time.Second},
		{"tiny expected hits floor", 1, 30 * time.Second},
		{"huge expected hits ceiling", 1e6, 600 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, history := newTestPredictor(t)
			history.EXPECT().Query(gomock.Any(), gomock.Any(), true).Return(timing.History{
				Samples:         []float64{tt.expected, tt.expected},
				CentralEstimate: tt.expected,
				Max:             tt.expected,
				SampleCount:     2,
			}, nil)

			plan := p.Predict(context.Background(), "echo hi")
			assert.Equal(t, tt.want, plan.StallTimeout)
		})
	}
}

func TestPredictSimilarTasks(t *testing.T) {
	t.Parallel()

	p, history := newTestPredictor(t)
	history.EXPECT().Query(gomock.Any(), gomock.Any(), true).Return(timing.History{}, nil)
	history.EXPECT().SimilarTasks(gomock.Any(), "complex", "code_refactor").Return([]timing.Neighbor{
		{Key: "ai:refactor:complex:code_refactor", AvgTime: 100, SampleCount: 9},
		{Key: "ai:implement:complex:code_refactor", AvgTime: 200, SampleCount: 4},
		{Key: "ai:debug:complex:code_refactor", AvgTime: 300, SampleCount: 2},
		{Key: "ai:other:complex:code_refactor", AvgTime: 9000, SampleCount: 1},
	}, nil)

	plan := p.Predict(context.Background(), `claude -p "refactor the storage layer"`)

	assert.Equal(t, BasisSimilarTasks, plan.Basis)
	// Top three neighbors: mean(100,200,300)*1.3 and max 300*3.
	assert.InDelta(t, 260.0, plan.ExpectedSeconds, 0.001)
	assert.Equal(t, 900.0, plan.MaxSeconds)
	assert.Equal(t, 0.7, plan.Confidence)
}

func TestPredictGeneralFallbackFloorsTimes(t *testing.T) {
	t.Parallel()

	p, history := newTestPredictor(t)
	history.EXPECT().Query(gomock.Any(), gomock.Any(), true).Return(timing.History{}, nil)
	history.EXPECT().SimilarTasks(gomock.Any(), "medium", "general").Return(nil, nil)
	history.EXPECT().SimilarPrompts(gomock.Any(), "general", "medium", gomock.Any(), gomock.Any()).Return(nil, nil)

	plan := p.Predict(context.Background(), "frobnicate the widget array")

	assert.True(t, plan.Class.General())
	assert.Equal(t, BasisStaticDefault, plan.Basis)
	assert.GreaterOrEqual(t, plan.ExpectedSeconds, 600.0)
	assert.GreaterOrEqual(t, plan.MaxSeconds, 600.0)
	// 600*0.5 lands on the stall ceiling.
	assert.Equal(t, 300*time.Second, plan.StallTimeout)
}

func TestPredictSimilarPromptsForGeneral(t *testing.T) {
	t.Parallel()

	p, history := newTestPredictor(t)
	history.EXPECT().Query(gomock.Any(), gomock.Any(), true).Return(timing.History{}, nil)
	history.EXPECT().SimilarTasks(gomock.Any(), "medium", "general").Return(nil, nil)
	history.EXPECT().SimilarPrompts(gomock.Any(), "general", "medium", 4, similarPromptTokenWindow).
		Return([]float64{40, 60}, nil)

	plan := p.Predict(context.Background(), "frobnicate the widget array")

	assert.Equal(t, BasisSimilarPrompts, plan.Basis)
	// mean(40,60)*1.3=65 and 60*3=180 both sit below the unclassified floor.
	assert.Equal(t, 600.0, plan.ExpectedSeconds)
	assert.Equal(t, 600.0, plan.MaxSeconds)
	assert.Equal(t, 0.6, plan.Confidence)
	assert.Equal(t, 300*time.Second, plan.StallTimeout)
}

func TestPredictSimilarPromptsNeedTwoNeighbors(t *testing.T) {
	t.Parallel()

	p, history := newTestPredictor(t)
	history.EXPECT().Query(gomock.Any(), gomock.Any(), true).Return(timing.History{}, nil)
	history.EXPECT().SimilarTasks(gomock.Any(), "medium", "general").Return(nil, nil)
	history.EXPECT().SimilarPrompts(gomock.Any(), "general", "medium", gomock.Any(), gomock.Any()).
		Return([]float64{40}, nil)

	plan := p.Predict(context.Background(), "frobnicate the widget array")

	assert.Equal(t, BasisStaticDefault, plan.Basis)
	assert.Equal(t, 0.1, plan.Confidence)
}

func TestPredictDegradesWhenStoreUnreachable(t *testing.T) {
	t.Parallel()

	p, history := newTestPredictor(t)
	history.EXPECT().Query(gomock.Any(), gomock.Any(), true).
		Return(timing.History{}, errors.New("database is locked"))

	plan := p.Predict(context.Background(), "echo hi")

	assert.Equal(t, BasisStaticDefault, plan.Basis)
	assert.Equal(t, 30.0, plan.ExpectedSeconds)
}

func TestPredictAppliesLoadBuffer(t *testing.T) {
	t.Parallel()

	p, history := newTestPredictor(t)
	p.loadAvg = func() float64 { return 20 }
	history.EXPECT().Query(gomock.Any(), gomock.Any(), true).Return(timing.History{
		Samples:         []float64{100, 100},
		CentralEstimate: 100,
		Max:             100,
		SampleCount:     2,
	}, nil)

	plan := p.Predict(context.Background(), "echo hi")

	assert.Equal(t, 300.0, plan.ExpectedSeconds)
	assert.Equal(t, 600.0, plan.MaxSeconds)
	assert.Equal(t, 3.0, plan.LoadFactor)
	// Stall detection keys off the pre-buffer expected time.
	assert.Equal(t, 50*time.Second, plan.StallTimeout)
}

func TestPlanDurations(t *testing.T) {
	t.Parallel()

	plan := Plan{ExpectedSeconds: 1.5, MaxSeconds: 90}
	assert.Equal(t, 1500*time.Millisecond, plan.ExpectedTime())
	assert.Equal(t, 90*time.Second, plan.MaxTime())
}
