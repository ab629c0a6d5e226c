package numbering

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/kantoor/internal/clock"
	"github.com/smallbiznis/kantoor/internal/config"
	"github.com/smallbiznis/kantoor/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var numberPattern = regexp.MustCompile(`^OFF-240115-\d{2,}$`)

func TestFormat(t *testing.T) {
	day := time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC)

	number, err := Format("OFF", day, 1)
	require.NoError(t, err)
	assert.Equal(t, "OFF-240115-01", number)

	number, err = Format("FAC", day, 123)
	require.NoError(t, err)
	assert.Equal(t, "FAC-240115-123", number)

	_, err = Format("OFF", day, 0)
	assert.ErrorIs(t, err, ErrInvalidSequence)

	_, err = Format(" ", day, 1)
	assert.ErrorIs(t, err, ErrInvalidPrefix)
}

func TestCandidateSlugIsLowercasedNumber(t *testing.T) {
	candidate := Candidate{Prefix: "OFF", DatePart: "240115", Sequence: 7}
	assert.Equal(t, "OFF-240115-07", candidate.String())
	assert.Equal(t, "off-240115-07", candidate.Slug())
}

func TestNextUsesLocalCalendarDay(t *testing.T) {
	// 23:30 UTC on the 14th is already the 15th in Amsterdam.
	fake := clock.NewFakeClock(time.Date(2024, time.January, 14, 23, 30, 0, 0, time.UTC))
	allocator := newTestAllocator(t, fake, 8)

	candidate, err := allocator.Next("OFF", 4)
	require.NoError(t, err)
	assert.Equal(t, "OFF-240115-05", candidate.String())

	start, end := allocator.Today()
	assert.Equal(t, 15, start.Day())
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}

func TestRetryStopsOnNonUniqueError(t *testing.T) {
	allocator := newTestAllocator(t, clock.NewFakeClock(testDay()), 8)
	boom := errors.New("connection reset")
	calls := 0

	_, err := allocator.Retry(context.Background(), RetryParams{Kind: "offerte", Prefix: "OFF"}, func(ctx context.Context, c Candidate) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryAdvancesOnDuplicate(t *testing.T) {
	allocator := newTestAllocator(t, clock.NewFakeClock(testDay()), 8)
	var seen []string

	candidate, err := allocator.Retry(context.Background(), RetryParams{Kind: "offerte", Prefix: "OFF", TodayCount: 2}, func(ctx context.Context, c Candidate) error {
		seen = append(seen, c.String())
		if len(seen) < 3 {
			return errors.New(`pq: duplicate key value violates unique constraint "documents_number_key"`)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"OFF-240115-03", "OFF-240115-04", "OFF-240115-05"}, seen)
	assert.Equal(t, 5, candidate.Sequence)
}

func TestRetryHonoursConfiguredBudget(t *testing.T) {
	allocator := newTestAllocator(t, clock.NewFakeClock(testDay()), 3)
	calls := 0

	_, err := allocator.Retry(context.Background(), RetryParams{Kind: "factuur", Prefix: "FAC"}, func(ctx context.Context, c Candidate) error {
		calls++
		return gorm.ErrDuplicatedKey
	})

	assert.ErrorIs(t, err, ErrNumberAllocationExhausted)
	assert.Equal(t, 3, calls)
}

func TestRetryConcurrentCreatesWithinBudget(t *testing.T) {
	for _, n := range []int{1, 2, 5, 8} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			allocator := newTestAllocator(t, clock.NewFakeClock(testDay()), 8)
			store := newUniqueStore()

			numbers, failures := runConcurrentCreates(allocator, store, n)

			assert.Empty(t, failures)
			require.Len(t, numbers, n)
			sort.Strings(numbers)
			for i, number := range numbers {
				assert.Regexp(t, numberPattern, number)
				assert.Equal(t, fmt.Sprintf("OFF-240115-%02d", i+1), number)
			}
		})
	}
}

func TestRetryConcurrentCreatesBeyondBudget(t *testing.T) {
	allocator := newTestAllocator(t, clock.NewFakeClock(testDay()), 8)
	store := newUniqueStore()

	numbers, failures := runConcurrentCreates(allocator, store, 12)

	assert.Len(t, numbers, 8)
	assert.Len(t, failures, 4)
	for _, err := range failures {
		assert.ErrorIs(t, err, ErrNumberAllocationExhausted)
	}
	assert.Equal(t, 8, store.size())
}

func TestRetryMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry, metrics.Config{ServiceName: "kantoor", Environment: "test"})
	require.NoError(t, err)

	allocator := newTestAllocator(t, clock.NewFakeClock(testDay()), 2)
	allocator.metrics = m

	_, err = allocator.Retry(context.Background(), RetryParams{Kind: "offerte", Prefix: "OFF"}, func(ctx context.Context, c Candidate) error {
		return gorm.ErrDuplicatedKey
	})
	require.ErrorIs(t, err, ErrNumberAllocationExhausted)

	families, err := registry.Gather()
	require.NoError(t, err)
	outcomes := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "kantoor_numbering_attempts_total" {
			continue
		}
		for _, metric := range mf.Metric {
			for _, label := range metric.Label {
				if label.GetName() == "outcome" {
					outcomes[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 2.0, outcomes["collision"])
	assert.Equal(t, 1.0, outcomes["exhausted"])
}

func TestCounterStoreNext(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&DocumentSequence{}))

	store := NewCounterStore(db)
	ctx := context.Background()
	now := testDay()

	for want := int64(1); want <= 3; want++ {
		got, err := store.Next(ctx, "OFF", "240115", now)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	other, err := store.Next(ctx, "FAC", "240115", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)

	current, err := store.Current(ctx, "OFF", "240115")
	require.NoError(t, err)
	assert.Equal(t, int64(3), current)

	current, err = store.Current(ctx, "OFF", "240116")
	require.NoError(t, err)
	assert.Zero(t, current)
}

func testDay() time.Time {
	return time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)
}

func newTestAllocator(t *testing.T, c clock.Clock, attempts int) *Allocator {
	t.Helper()
	allocator, err := New(Params{
		Clock: c,
		Holder: config.NewStaticNumberingHolder(config.NumberingConfig{
			Strategy:      config.NumberingStrategyRetry,
			MaxAttempts:   attempts,
			Timezone:      "Europe/Amsterdam",
			OffertePrefix: "OFF",
			FactuurPrefix: "FAC",
		}),
		Log: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return allocator
}

type uniqueStore struct {
	mu      sync.Mutex
	numbers map[string]struct{}
}

func newUniqueStore() *uniqueStore {
	return &uniqueStore{numbers: map[string]struct{}{}}
}

func (s *uniqueStore) insert(number string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.numbers[number]; exists {
		return errors.New("UNIQUE constraint failed: documents.number")
	}
	s.numbers[number] = struct{}{}
	return nil
}

func (s *uniqueStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.numbers)
}

func runConcurrentCreates(allocator *Allocator, store *uniqueStore, n int) ([]string, []error) {
	var (
		mu       sync.Mutex
		numbers  []string
		failures []error
		wg       sync.WaitGroup
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			candidate, err := allocator.Retry(context.Background(), RetryParams{Kind: "offerte", Prefix: "OFF", TodayCount: 0}, func(ctx context.Context, c Candidate) error {
				return store.insert(c.String())
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			numbers = append(numbers, candidate.String())
		}()
	}
	close(start)
	wg.Wait()
	return numbers, failures
}
