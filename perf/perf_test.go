package perf

import (
	"testing"
	"time"
)

func TestCollectorRates(t *testing.T) {
	c := NewCollector(nil)
	c.Init(10,
		map[int]struct{}{1: {}, 2: {}, 3: {}, 4: {}},
		map[int]struct{}{1: {}})

	c.RecordCacheHit(1)
	c.RecordCacheMiss(2)
	c.RecordCacheMiss(3)
	c.RecordPageProcessed(2)
	c.RecordPageProcessed(3)
	c.RecordPageError(4, "timeout")
	c.RecordBatchPersisted()

	s := c.Snapshot()
	if s.TotalPages != 10 || s.PagesToProcess != 4 || s.AlreadyProcessed != 1 {
		t.Fatalf("unexpected init fields: %+v", s)
	}
	if s.RemainingPages != 3 {
		t.Errorf("remaining = %d, want 3", s.RemainingPages)
	}
	if got, want := s.CacheHitRate, 33.33; got != want {
		t.Errorf("cache hit rate = %v, want %v", got, want)
	}
	if got, want := s.ErrorRate, 25.0; got != want {
		t.Errorf("error rate = %v, want %v", got, want)
	}
	if s.ProcessedCount != 2 || s.ErrorCount != 1 {
		t.Errorf("processed/errors = %d/%d, want 2/1", s.ProcessedCount, s.ErrorCount)
	}
	if s.BatchesPersisted != 1 {
		t.Errorf("batches persisted = %d, want 1", s.BatchesPersisted)
	}
}

func TestCollectorEmptyRates(t *testing.T) {
	c := NewCollector(nil)
	s := c.Snapshot()
	if s.CacheHitRate != 0 || s.ErrorRate != 0 {
		t.Fatalf("empty collector should report zero rates, got %+v", s)
	}
}

// fakeClock advances only when told to.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestTracker(clock *fakeClock, maxHistory int) *ParallelTracker {
	return NewParallelTracker(TrackerOptions{
		MaxHistory: maxHistory,
		Now:        clock.now,
	})
}

func TestTrackerETA(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	tr := newTestTracker(clock, 100)
	tr.Configure(4, 10)

	// Three batches at 10s each; 7 remain after the third.
	var m BatchMetrics
	for i := 0; i < 3; i++ {
		clock.advance(10 * time.Second)
		m = tr.RecordBatch(10*time.Second, 10, i, 10)
	}
	if m.AvgBatchTime != 10*time.Second {
		t.Errorf("avg batch time = %v, want 10s", m.AvgBatchTime)
	}
	if m.ETA != 70*time.Second {
		t.Errorf("ETA = %v, want 70s", m.ETA)
	}
	if m.CompletedBatches != 3 || m.RemainingBatches != 7 {
		t.Errorf("completed/remaining = %d/%d", m.CompletedBatches, m.RemainingBatches)
	}
	if m.PagesPerSecond != 1.0 {
		t.Errorf("pages/sec = %v, want 1.0", m.PagesPerSecond)
	}
}

func TestTrackerETAUsesRecentWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	tr := newTestTracker(clock, 100)
	tr.Configure(4, 10)

	// Six slow batches, then five fast ones: the ETA window (last 5) must
	// only see the fast batches.
	for i := 0; i < 6; i++ {
		tr.RecordBatch(60*time.Second, 10, i, 20)
	}
	var m BatchMetrics
	for i := 6; i < 11; i++ {
		m = tr.RecordBatch(10*time.Second, 10, i, 20)
	}
	if m.AvgBatchTime != 10*time.Second {
		t.Errorf("rolling avg = %v, want 10s (recent window only)", m.AvgBatchTime)
	}
	if m.ETA != 9*10*time.Second {
		t.Errorf("ETA = %v, want 90s", m.ETA)
	}
}

func TestTrackerHistoryBound(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	tr := newTestTracker(clock, 3)

	for i := 0; i < 10; i++ {
		tr.RecordBatch(time.Second, 1, i, 10)
	}
	tr.mu.Lock()
	n := len(tr.batchTimes)
	tr.mu.Unlock()
	if n != 3 {
		t.Fatalf("window size = %d, want 3 (oldest evicted)", n)
	}
}

func TestTrackerSpeedup(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	tr := newTestTracker(clock, 100)
	tr.Configure(4, 10)

	// 40 pages in 10s → 250ms/page; sequential estimate for a 10-page
	// batch is 2.5s, so actual speedup = 2.5s / 10s = 0.25.
	m := tr.RecordBatch(10*time.Second, 40, 0, 2)
	if m.TheoreticalSpeedup != 4 {
		t.Errorf("theoretical speedup = %v, want 4 (min of workers, pages/batch)", m.TheoreticalSpeedup)
	}
	if m.ActualSpeedup != 0.25 {
		t.Errorf("actual speedup = %v, want 0.25", m.ActualSpeedup)
	}
	if m.Efficiency != 0.0625 {
		t.Errorf("efficiency = %v, want 0.0625", m.Efficiency)
	}
}

func TestTrackerLogThrottle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	tr := NewParallelTracker(TrackerOptions{Now: clock.now})
	tr.Configure(2, 5)
	tr.RecordBatch(time.Second, 5, 0, 4)

	// Immediately after creation the 30s interval has not elapsed: the
	// throttled path must not move lastLog.
	before := tr.lastLog
	tr.LogSummary(0, 4, false)
	if !tr.lastLog.Equal(before) {
		t.Error("summary logged before interval elapsed")
	}

	clock.advance(31 * time.Second)
	tr.LogSummary(1, 4, false)
	if tr.lastLog.Equal(before) {
		t.Error("summary not logged after interval elapsed")
	}

	// force always logs
	prev := tr.lastLog
	clock.advance(time.Second)
	tr.LogSummary(2, 4, true)
	if tr.lastLog.Equal(prev) {
		t.Error("forced summary did not log")
	}
}
