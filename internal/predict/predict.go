// Package predict turns a command's classification and its recorded timing
// history into a timeout plan for the process supervisor.
package predict

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/droverhq/drover/internal/classify"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/log"
)

// Prediction bases, most to least specific.
const (
	BasisExactHistory   = "exact_history"
	BasisSimilarTasks   = "similar_tasks"
	BasisSimilarPrompts = "similar_prompts"
	BasisStaticDefault  = "static_default"
)

// generalFloorSeconds is the minimum expected time and hard limit handed to
// unclassified commands with no fine-grained history. Unknown work gets
// room, not a guess.
const generalFloorSeconds = 600

// historyBufferFactor widens the central estimate once enough samples exist
// to trust it as a trend rather than a pair of points.
const historyBufferFactor = 1.2

// similarPromptTokenWindow bounds how far apart in token count two prompts
// may be and still count as similar.
const similarPromptTokenWindow = 100

// Plan is the timeout plan for one command execution.
type Plan struct {
	Class           classify.Classification
	ExpectedSeconds float64
	MaxSeconds      float64
	StallTimeout    time.Duration
	Confidence      float64
	Basis           string
	LoadFactor      float64
}

// ExpectedTime returns the expected runtime as a duration.
func (p Plan) ExpectedTime() time.Duration {
	return secondsToDuration(p.ExpectedSeconds)
}

// MaxTime returns the hard kill limit as a duration.
func (p Plan) MaxTime() time.Duration {
	return secondsToDuration(p.MaxSeconds)
}

// Predictor derives timeout plans. History lookups are best-effort: any
// store failure downgrades the prediction to static defaults instead of
// failing the execution.
type Predictor struct {
	history HistoryService
	cfg     config.PredictConfig
	logger  *slog.Logger

	// loadAvg is swappable in tests.
	loadAvg func() float64
}

// New creates a Predictor over a history service.
func New(history HistoryService, cfg config.PredictConfig) *Predictor {
	return &Predictor{
		history: history,
		cfg:     cfg,
		logger:  log.WithComponent("predict"),
		loadAvg: readLoadAvg,
	}
}

// Predict classifies the command and produces its timeout plan.
//
// Resolution order: exact fine-grained history, aggregates over
// classifications sharing (complexity, question_type), token-distance prompt
// similarity for unclassified commands, static tier defaults. The stall
// timeout is derived from the expected time before any system-load buffer so
// a loaded host widens the kill limit without desensitizing stall detection.
func (p *Predictor) Predict(ctx context.Context, command string) Plan {
	class := classify.Classify(command)
	plan := p.estimate(ctx, class, command)
	plan.Class = class

	plan.StallTimeout = clampDuration(
		secondsToDuration(plan.ExpectedSeconds*p.cfg.StallRatio),
		p.cfg.MinStall, p.cfg.MaxStall)

	plan.LoadFactor = 1
	if load := p.loadAvg(); load > p.cfg.LoadThreshold {
		plan.ExpectedSeconds *= p.cfg.LoadMultiplier
		plan.MaxSeconds *= p.cfg.LoadMultiplier
		plan.LoadFactor = p.cfg.LoadMultiplier
		p.logger.Debug("system load buffer applied",
			"load", load, "threshold", p.cfg.LoadThreshold, "multiplier", p.cfg.LoadMultiplier)
	}

	p.logger.Debug("timeout plan",
		"key", class.FineKey(), "basis", plan.Basis,
		"expected_secs", plan.ExpectedSeconds, "max_secs", plan.MaxSeconds,
		"stall", plan.StallTimeout, "confidence", plan.Confidence)
	return plan
}

func (p *Predictor) estimate(ctx context.Context, class classify.Classification, command string) Plan {
	if h, err := p.history.Query(ctx, class, true); err != nil {
		p.logger.Warn("history query failed, using static defaults", "key", class.FineKey(), "error", err)
		return p.staticPlan(class)
	} else if h.SampleCount >= 2 {
		expected := h.CentralEstimate
		if h.SampleCount >= 3 {
			expected *= historyBufferFactor
		}
		return Plan{
			ExpectedSeconds: expected,
			MaxSeconds:      h.Max * 2,
			Confidence:      math.Min(float64(h.SampleCount)/10, 1),
			Basis:           BasisExactHistory,
		}
	}

	neighbors, err := p.history.SimilarTasks(ctx, class.Complexity, class.QuestionType)
	if err != nil {
		p.logger.Warn("similar-task query failed, using static defaults", "key", class.FineKey(), "error", err)
		return p.staticPlan(class)
	}
	if len(neighbors) >= 2 {
		if len(neighbors) > 3 {
			neighbors = neighbors[:3]
		}
		var sum, worst float64
		for _, n := range neighbors {
			sum += n.AvgTime
			if n.AvgTime > worst {
				worst = n.AvgTime
			}
		}
		return Plan{
			ExpectedSeconds: sum / float64(len(neighbors)) * 1.3,
			MaxSeconds:      worst * 3,
			Confidence:      0.7,
			Basis:           BasisSimilarTasks,
		}
	}

	if class.General() {
		times, err := p.history.SimilarPrompts(ctx, class.Category, class.Complexity,
			len(strings.Fields(command)), similarPromptTokenWindow)
		if err != nil {
			p.logger.Warn("similar-prompt query failed, using static defaults", "key", class.Key(), "error", err)
			return p.staticPlan(class)
		}
		if len(times) >= 2 {
			var sum, worst float64
			for _, v := range times {
				sum += v
				if v > worst {
					worst = v
				}
			}
			return Plan{
				ExpectedSeconds: math.Max(sum/float64(len(times))*1.3, generalFloorSeconds),
				MaxSeconds:      math.Max(worst*3, generalFloorSeconds),
				Confidence:      0.6,
				Basis:           BasisSimilarPrompts,
			}
		}
	}

	return p.staticPlan(class)
}

// staticPlan is the zero-history fallback: tier defaults widened by the
// baseline multiplier, with floors for unclassified work.
func (p *Predictor) staticPlan(class classify.Classification) Plan {
	tier, ok := p.cfg.Tiers[class.Complexity]
	if !ok {
		tier = p.cfg.Tiers[classify.ComplexityMedium]
	}
	plan := Plan{
		ExpectedSeconds: tier.Expected * p.cfg.BaselineMultiplier,
		MaxSeconds:      tier.Max * p.cfg.BaselineMultiplier,
		Confidence:      0.1,
		Basis:           BasisStaticDefault,
	}
	if class.General() {
		plan.ExpectedSeconds = math.Max(plan.ExpectedSeconds, generalFloorSeconds)
		plan.MaxSeconds = math.Max(plan.MaxSeconds, generalFloorSeconds)
	}
	return plan
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
