package timing

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/internal/classify"
	"github.com/droverhq/drover/internal/storage"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, opts)
}

func testClass() classify.Classification {
	return classify.Classification{
		Category:     "testing",
		Name:         "verification",
		Complexity:   "medium",
		QuestionType: "testing",
	}
}

func TestRecordQueryRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{})
	ctx := context.Background()
	class := testClass()

	s.Record(ctx, Sample{Class: class, ActualSeconds: 42.0, ExpectedSeconds: 40.0, Success: true})

	for _, fine := range []bool{false, true} {
		h, err := s.Query(ctx, class, fine)
		require.NoError(t, err)
		assert.Contains(t, h.Samples, 42.0)
		assert.Equal(t, 1, h.SampleCount)
		assert.Equal(t, 1.0, h.SuccessRate)
		assert.Equal(t, 42.0, h.CentralEstimate)
	}
}

func TestCentralEstimateSwitchesToPercentile(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{})
	ctx := context.Background()
	class := testClass()

	// Below 5 samples the estimate is the mean.
	for _, actual := range []float64{100, 120} {
		s.Record(ctx, Sample{Class: class, ActualSeconds: actual, ExpectedSeconds: 100, Success: true})
	}
	h, err := s.Query(ctx, class, true)
	require.NoError(t, err)
	assert.Equal(t, 2, h.SampleCount)
	assert.InDelta(t, 110.0, h.CentralEstimate, 0.001)

	// From 5 samples on, the 90th percentile wins over the mean.
	for _, actual := range []float64{10, 10, 1000} {
		s.Record(ctx, Sample{Class: class, ActualSeconds: actual, ExpectedSeconds: 100, Success: true})
	}
	h, err = s.Query(ctx, class, true)
	require.NoError(t, err)
	assert.Equal(t, 5, h.SampleCount)
	// sorted: [10 10 100 120 1000], index floor(0.9*5)=4 -> 1000
	assert.Equal(t, 1000.0, h.CentralEstimate)
	assert.Equal(t, 1000.0, h.Max)
	assert.Equal(t, 10.0, h.Min)
}

func TestFailuresCountTowardRateNotSamples(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{})
	ctx := context.Background()
	class := testClass()

	s.Record(ctx, Sample{Class: class, ActualSeconds: 30, ExpectedSeconds: 30, Success: true})
	s.Record(ctx, Sample{Class: class, ActualSeconds: 99, ExpectedSeconds: 30, Success: false})

	h, err := s.Query(ctx, class, true)
	require.NoError(t, err)
	assert.Equal(t, 1, h.SampleCount)
	assert.NotContains(t, h.Samples, 99.0)
	assert.InDelta(t, 0.5, h.SuccessRate, 0.001)
}

func TestHistoryCapPrunesOldest(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{Cap: 3})
	ctx := context.Background()
	class := testClass()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		now := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return now }
		s.Record(ctx, Sample{Class: class, ActualSeconds: float64(i + 1), ExpectedSeconds: 1, Success: true})
	}
	s.now = func() time.Time { return base.Add(5 * time.Minute) }

	h, err := s.Query(ctx, class, true)
	require.NoError(t, err)
	assert.Equal(t, 3, h.SampleCount)
	// The two oldest actuals (1, 2) were trimmed.
	assert.ElementsMatch(t, []float64{3, 4, 5}, h.Samples)
}

func TestTTLExpiresRecords(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{TTL: time.Hour})
	ctx := context.Background()
	class := testClass()

	old := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return old }
	s.Record(ctx, Sample{Class: class, ActualSeconds: 5, ExpectedSeconds: 5, Success: true})

	s.now = func() time.Time { return old.Add(2 * time.Hour) }
	// A new write triggers expiry of the stale row.
	s.Record(ctx, Sample{Class: class, ActualSeconds: 7, ExpectedSeconds: 5, Success: true})

	h, err := s.Query(ctx, class, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{7}, h.Samples)
}

func TestSimilarTasksAggregatesFineKeys(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{})
	ctx := context.Background()

	a := classify.Classification{Category: "ai", Name: "alpha", Complexity: "medium", QuestionType: "testing"}
	b := classify.Classification{Category: "ai", Name: "beta", Complexity: "medium", QuestionType: "testing"}
	other := classify.Classification{Category: "ai", Name: "gamma", Complexity: "high", QuestionType: "testing"}

	s.Record(ctx, Sample{Class: a, ActualSeconds: 10, ExpectedSeconds: 10, Success: true})
	s.Record(ctx, Sample{Class: a, ActualSeconds: 12, ExpectedSeconds: 10, Success: true})
	s.Record(ctx, Sample{Class: b, ActualSeconds: 20, ExpectedSeconds: 20, Success: true})
	s.Record(ctx, Sample{Class: other, ActualSeconds: 99, ExpectedSeconds: 99, Success: true})

	neighbors, err := s.SimilarTasks(ctx, "medium", "testing")
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	// Most-sampled first.
	assert.Equal(t, a.FineKey(), neighbors[0].Key)
	assert.Equal(t, 2, neighbors[0].SampleCount)
	assert.InDelta(t, 11.0, neighbors[0].AvgTime, 0.001)
	assert.Equal(t, b.FineKey(), neighbors[1].Key)
}

func TestSimilarPromptsFiltersByTokenDistance(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{})
	ctx := context.Background()

	near := classify.Classification{Category: "general", Name: "aaaa1111", Complexity: "medium", QuestionType: "general"}
	far := classify.Classification{Category: "general", Name: "bbbb2222", Complexity: "medium", QuestionType: "general"}

	s.Record(ctx, Sample{Class: near, ActualSeconds: 50, ExpectedSeconds: 50, Success: true, TokenCount: 20})
	s.Record(ctx, Sample{Class: far, ActualSeconds: 500, ExpectedSeconds: 500, Success: true, TokenCount: 900})

	times, err := s.SimilarPrompts(ctx, "general", "medium", 25, 100)
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 50}, times[:2])
}
