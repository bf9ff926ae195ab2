// Package timing persists per-classification execution history and derives
// the statistics the timeout predictor feeds on. All writes are advisory:
// a broken store degrades prediction quality, never execution.
package timing

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/droverhq/drover/internal/classify"
	"github.com/droverhq/drover/internal/log"
)

// Store is the SQLite-backed timing history, keyed by classification at two
// granularities: coarse (category:name) and fine
// (category:name:complexity:question_type).
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	cap    int
	logger *slog.Logger
	now    func() time.Time
}

// Options tunes history retention.
type Options struct {
	// TTL expires records older than this. Zero means the 7-day default.
	TTL time.Duration
	// Cap bounds retained records per key. Zero means 100.
	Cap int
}

// NewStore creates a Store over an opened database.
func NewStore(db *sql.DB, opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = 7 * 24 * time.Hour
	}
	if opts.Cap <= 0 {
		opts.Cap = 100
	}
	return &Store{
		db:     db,
		ttl:    opts.TTL,
		cap:    opts.Cap,
		logger: log.WithComponent("timing"),
		now:    time.Now,
	}
}

// Sample is one completed execution to be recorded.
type Sample struct {
	Class           classify.Classification
	ActualSeconds   float64
	ExpectedSeconds float64
	Success         bool
	CPULoad         float64
	GPUMemGB        float64
	TokenCount      int
}

// History summarizes stored executions for one key.
type History struct {
	Samples         []float64
	CentralEstimate float64
	Max             float64
	Min             float64
	SuccessRate     float64
	SampleCount     int
}

// Neighbor is an aggregate over one fine-grained key sharing a
// (complexity, question_type) pair with the queried classification.
type Neighbor struct {
	Key         string
	AvgTime     float64
	SampleCount int
	SuccessRate float64
}

// Record appends sm under both the coarse and fine keys, bumps the stats
// counters, and prunes expired/over-cap rows. Fire-and-forget: failures are
// logged and swallowed so recording can never abort an execution path.
func (s *Store) Record(ctx context.Context, sm Sample) {
	for _, key := range []string{sm.Class.Key(), sm.Class.FineKey()} {
		if err := s.recordKey(ctx, key, sm); err != nil {
			s.logger.Warn("timing record failed", "key", key, "error", err)
		}
	}
}

func (s *Store) recordKey(ctx context.Context, key string, sm Sample) error {
	now := s.now().UTC()
	success := 0
	if sm.Success {
		success = 1
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO timing_history(key, recorded_at, expected, actual, success, complexity, qtype, cpu_load, gpu_mem_gb, token_count)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, key, now.Format(time.RFC3339Nano), sm.ExpectedSeconds, sm.ActualSeconds, success,
		sm.Class.Complexity, sm.Class.QuestionType, sm.CPULoad, sm.GPUMemGB, sm.TokenCount)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO timing_stats(key, total, successes, failures)
VALUES(?, 1, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  total = total + 1,
  successes = successes + excluded.successes,
  failures = failures + excluded.failures;
`, key, success, 1-success)
	if err != nil {
		return fmt.Errorf("bump stats: %w", err)
	}

	cutoff := now.Add(-s.ttl).Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM timing_history WHERE recorded_at < ?;`, cutoff); err != nil {
		return fmt.Errorf("expire history: %w", err)
	}

	// Keep the newest cap rows per key.
	_, err = s.db.ExecContext(ctx, `
DELETE FROM timing_history
WHERE rowid IN (
  SELECT rowid FROM timing_history
  WHERE key = ?
  ORDER BY recorded_at DESC, rowid DESC
  LIMIT -1 OFFSET ?
);
`, key, s.cap)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

// Query returns history for the classification. fine selects the
// fine-grained key; otherwise the coarse key is used. Only successful runs
// contribute samples; the last 10 are considered, mirroring the point-in-time
// snapshot semantics of prediction.
func (s *Store) Query(ctx context.Context, class classify.Classification, fine bool) (History, error) {
	key := class.Key()
	if fine {
		key = class.FineKey()
	}
	return s.queryKey(ctx, key)
}

func (s *Store) queryKey(ctx context.Context, key string) (History, error) {
	cutoff := s.now().UTC().Add(-s.ttl).Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx, `
SELECT actual FROM timing_history
WHERE key = ? AND success = 1 AND recorded_at >= ?
ORDER BY recorded_at DESC, rowid DESC
LIMIT 10;
`, key, cutoff)
	if err != nil {
		return History{}, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var samples []float64
	for rows.Next() {
		var actual float64
		if err := rows.Scan(&actual); err != nil {
			return History{}, fmt.Errorf("scan history: %w", err)
		}
		samples = append(samples, actual)
	}
	if err := rows.Err(); err != nil {
		return History{}, fmt.Errorf("iterate history: %w", err)
	}

	h := History{Samples: samples, SampleCount: len(samples)}
	if len(samples) > 0 {
		h.CentralEstimate = centralEstimate(samples)
		h.Max = samples[0]
		h.Min = samples[0]
		for _, v := range samples[1:] {
			if v > h.Max {
				h.Max = v
			}
			if v < h.Min {
				h.Min = v
			}
		}
	}

	var total, successes int
	err = s.db.QueryRowContext(ctx,
		`SELECT total, successes FROM timing_stats WHERE key = ?;`, key).
		Scan(&total, &successes)
	if err != nil && err != sql.ErrNoRows {
		return History{}, fmt.Errorf("query stats: %w", err)
	}
	if total > 0 {
		h.SuccessRate = float64(successes) / float64(total)
	}
	return h, nil
}

// centralEstimate is the 90th percentile for 5+ samples (ascending sort,
// index floor(0.9*n)), the arithmetic mean otherwise.
func centralEstimate(samples []float64) float64 {
	if len(samples) >= 5 {
		sorted := append([]float64(nil), samples...)
		sort.Float64s(sorted)
		return sorted[int(float64(len(sorted))*0.9)]
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

// SimilarTasks aggregates fine-grained keys sharing (complexity,
// questionType), most-sampled first. Used when the exact key is too thin.
func (s *Store) SimilarTasks(ctx context.Context, complexity, questionType string) ([]Neighbor, error) {
	cutoff := s.now().UTC().Add(-s.ttl).Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx, `
SELECT key, COUNT(*) AS n
FROM timing_history
WHERE complexity = ? AND qtype = ? AND success = 1 AND recorded_at >= ?
  AND key LIKE '%:%:%:%'
GROUP BY key
ORDER BY n DESC
LIMIT 10;
`, complexity, questionType, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query similar tasks: %w", err)
	}
	defer rows.Close()

	type keyCount struct {
		key string
		n   int
	}
	var keys []keyCount
	for rows.Next() {
		var kc keyCount
		if err := rows.Scan(&kc.key, &kc.n); err != nil {
			return nil, fmt.Errorf("scan similar tasks: %w", err)
		}
		keys = append(keys, kc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar tasks: %w", err)
	}

	neighbors := make([]Neighbor, 0, len(keys))
	for _, kc := range keys {
		h, err := s.queryKey(ctx, kc.key)
		if err != nil {
			return nil, err
		}
		if h.SampleCount == 0 {
			continue
		}
		neighbors = append(neighbors, Neighbor{
			Key:         kc.key,
			AvgTime:     h.CentralEstimate,
			SampleCount: h.SampleCount,
			SuccessRate: h.SuccessRate,
		})
	}
	return neighbors, nil
}

// SimilarPrompts is the broader free-text fallback for unclassified
// commands: successful runs in the same category and complexity whose
// recorded token count is within maxTokenDiff of the query. Closest first.
func (s *Store) SimilarPrompts(ctx context.Context, category, complexity string, tokenCount, maxTokenDiff int) ([]float64, error) {
	cutoff := s.now().UTC().Add(-s.ttl).Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx, `
SELECT actual FROM timing_history
WHERE key LIKE ? AND complexity = ? AND success = 1 AND recorded_at >= ?
  AND ABS(token_count - ?) <= ?
ORDER BY ABS(token_count - ?) ASC
LIMIT 5;
`, category+":%", complexity, cutoff, tokenCount, maxTokenDiff, tokenCount)
	if err != nil {
		return nil, fmt.Errorf("query similar prompts: %w", err)
	}
	defer rows.Close()

	var times []float64
	for rows.Next() {
		var actual float64
		if err := rows.Scan(&actual); err != nil {
			return nil, fmt.Errorf("scan similar prompts: %w", err)
		}
		times = append(times, actual)
	}
	return times, rows.Err()
}
