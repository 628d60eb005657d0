package pool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/keypool/internal/pool"
)

// With a single key and a reuse interval, concurrent callers may never claim
// the key more often than once per interval. The count of successful
// selections over a window bounds the spacing without depending on precise
// sleep timing.
func TestSelectKey_ReuseIntervalUnderContention(t *testing.T) {
	const (
		interval = 50 * time.Millisecond
		window   = 300 * time.Millisecond
		workers  = 8
	)
	store := newMemStore()
	policy := pool.FixedPolicy{Penalty: 6 * time.Hour, Interval: interval}
	m := newManager(t, []string{"k1"}, store, pool.WithPolicy(policy))

	var selected atomic.Int64
	deadline := time.Now().Add(window)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				if _, ok := m.SelectKey(); ok {
					selected.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	got := selected.Load()
	require.Positive(t, got, "at least one selection must succeed")
	// window/interval claim slots, plus one for the immediate first claim.
	maxAllowed := int64(window/interval) + 1
	assert.LessOrEqual(t, got, maxAllowed,
		"selections may not exceed one per reuse interval")
}

// Concurrent outcome reports for the same key serialize under the manager
// lock; the failure count must equal the number of reports.
func TestReportOutcome_ConcurrentReportsSerialize(t *testing.T) {
	const reports = 64
	store := newMemStore()
	m := newManager(t, []string{"k1"}, store)

	var wg sync.WaitGroup
	for i := 0; i < reports; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.ReportOutcome(context.Background(), "k1", pool.Outcome{Code: "RATE_LIMIT", Message: "429"})
		}()
	}
	wg.Wait()

	st, ok := m.GetStatus("k1")
	require.True(t, ok)
	assert.Equal(t, reports, st.ConsecutiveFailures)
}

// Mixed selection and administration must not race or corrupt the set.
func TestPool_ConcurrentSelectAndAdmin(t *testing.T) {
	store := newMemStore()
	m := newManager(t, []string{"k1", "k2", "k3"}, store)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					if cred, ok := m.SelectKey(); ok {
						_ = m.ReportOutcome(context.Background(), cred, pool.Outcome{Success: true})
					}
				}
			}
		}()
	}

	require.NoError(t, m.Add(context.Background(), "k4"))
	require.NoError(t, m.Remove(context.Background(), "k2"))
	close(stop)
	wg.Wait()

	assert.Len(t, m.Credentials(), 3)
}
