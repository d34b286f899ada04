package perf

import (
	"log/slog"
	"sync"
	"time"
)

// BatchMetrics are the derived values recomputed on every batch completion.
// Nothing here is stored; all of it derives from the rolling windows.
type BatchMetrics struct {
	Progress           float64       `json:"progress"`
	Elapsed            time.Duration `json:"elapsed"`
	ETA                time.Duration `json:"eta"`
	AvgBatchTime       time.Duration `json:"avg_batch_time"`
	AvgPageTime        time.Duration `json:"avg_page_time"`
	PagesPerSecond     float64       `json:"pages_per_second"`
	TheoreticalSpeedup float64       `json:"theoretical_speedup"`
	ActualSpeedup      float64       `json:"actual_speedup"`
	Efficiency         float64       `json:"efficiency"`
	CompletedBatches   int           `json:"completed_batches"`
	RemainingBatches   int           `json:"remaining_batches"`
}

// TrackerOptions configures a ParallelTracker.
type TrackerOptions struct {
	// MaxHistory caps the rolling windows. Default: 100.
	MaxHistory int
	// LogInterval is the minimum gap between performance summaries.
	// Default: 30s. Per-batch logging at scale would dominate I/O, so the
	// throttle is load-bearing, not cosmetic.
	LogInterval time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (o *TrackerOptions) defaults() {
	if o.MaxHistory <= 0 {
		o.MaxHistory = 100
	}
	if o.LogInterval <= 0 {
		o.LogInterval = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// ParallelTracker records batch-level timings for the accurate pass and
// derives ETA, throughput and speedup figures on read.
type ParallelTracker struct {
	opts      TrackerOptions
	etaWindow int

	mu            sync.Mutex
	batchTimes    []time.Duration // bounded rolling window
	pageTimes     []time.Duration // avg page time per batch, same bound
	totalPages    int
	startTime     time.Time
	maxWorkers    int
	pagesPerBatch int
	lastLog       time.Time
}

// NewParallelTracker creates a tracker. ETA averages use only the most
// recent min(5, MaxHistory) observations so the estimate reacts to current
// performance rather than the whole job history.
func NewParallelTracker(opts TrackerOptions) *ParallelTracker {
	opts.defaults()
	etaWindow := 5
	if opts.MaxHistory < etaWindow {
		etaWindow = opts.MaxHistory
	}
	now := opts.Now()
	return &ParallelTracker{
		opts:      opts,
		etaWindow: etaWindow,
		startTime: now,
		lastLog:   now,
	}
}

// Configure sets the job's parallelism parameters.
func (t *ParallelTracker) Configure(maxWorkers, pagesPerBatch int) {
	t.mu.Lock()
	t.maxWorkers = maxWorkers
	t.pagesPerBatch = pagesPerBatch
	t.mu.Unlock()
}

// RecordBatch records one batch completion and returns the recomputed
// metrics. batchNumber is 0-indexed.
func (t *ParallelTracker) RecordBatch(batchTime time.Duration, pagesProcessed, batchNumber, totalBatches int) BatchMetrics {
	t.mu.Lock()
	t.batchTimes = appendBounded(t.batchTimes, batchTime, t.opts.MaxHistory)
	t.totalPages += pagesProcessed
	if pagesProcessed > 0 {
		t.pageTimes = appendBounded(t.pageTimes, batchTime/time.Duration(pagesProcessed), t.opts.MaxHistory)
	}
	t.mu.Unlock()

	m := t.metrics(batchNumber, totalBatches)
	t.opts.Logger.Debug("batch recorded",
		"batch", batchNumber+1, "time", batchTime, "pages", pagesProcessed, "eta", m.ETA)
	return m
}

// metrics recomputes the derived values.
func (t *ParallelTracker) metrics(batchNumber, totalBatches int) BatchMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := t.opts.Now().Sub(t.startTime)
	completed := batchNumber + 1
	remaining := totalBatches - completed

	m := BatchMetrics{
		Elapsed:          elapsed,
		CompletedBatches: completed,
		RemainingBatches: remaining,
	}
	if totalBatches > 0 {
		m.Progress = float64(completed) / float64(totalBatches)
	}

	m.AvgBatchTime = rollingAverage(t.batchTimes, t.etaWindow)
	m.AvgPageTime = rollingAverage(t.pageTimes, t.etaWindow)
	if m.AvgBatchTime > 0 {
		m.ETA = time.Duration(remaining) * m.AvgBatchTime
	}
	if elapsed > 0 {
		m.PagesPerSecond = float64(t.totalPages) / elapsed.Seconds()
	}

	m.TheoreticalSpeedup = t.theoreticalSpeedup()
	m.ActualSpeedup = t.actualSpeedup()
	if m.TheoreticalSpeedup > 0 {
		m.Efficiency = m.ActualSpeedup / m.TheoreticalSpeedup
	}
	return m
}

// theoreticalSpeedup is bounded by whichever is scarcer: workers or pages.
func (t *ParallelTracker) theoreticalSpeedup() float64 {
	if t.maxWorkers < t.pagesPerBatch {
		return float64(t.maxWorkers)
	}
	return float64(t.pagesPerBatch)
}

// actualSpeedup compares the estimated sequential batch time against the
// measured one, over the full (bounded) history.
func (t *ParallelTracker) actualSpeedup() float64 {
	if len(t.pageTimes) == 0 || len(t.batchTimes) == 0 {
		return 1.0
	}
	avgPage := average(t.pageTimes)
	avgBatch := average(t.batchTimes)
	if avgBatch <= 0 || avgPage <= 0 {
		return 1.0
	}
	sequential := avgPage * time.Duration(t.pagesPerBatch)
	return float64(sequential) / float64(avgBatch)
}

// LogSummary emits a performance summary, throttled to LogInterval unless
// force is set.
func (t *ParallelTracker) LogSummary(batchNumber, totalBatches int, force bool) {
	now := t.opts.Now()

	t.mu.Lock()
	due := force || now.Sub(t.lastLog) >= t.opts.LogInterval
	if due {
		t.lastLog = now
	}
	t.mu.Unlock()
	if !due {
		return
	}

	m := t.metrics(batchNumber, totalBatches)
	t.opts.Logger.Info("performance update",
		"batch", batchNumber+1, "total_batches", totalBatches,
		"progress", m.Progress,
		"avg_batch_time", m.AvgBatchTime, "avg_page_time", m.AvgPageTime,
		"eta", m.ETA,
		"efficiency", m.Efficiency,
		"actual_speedup", m.ActualSpeedup, "theoretical_speedup", m.TheoreticalSpeedup)
}

// Reset clears all recorded history and restarts the clock.
func (t *ParallelTracker) Reset() {
	now := t.opts.Now()
	t.mu.Lock()
	t.batchTimes = nil
	t.pageTimes = nil
	t.totalPages = 0
	t.startTime = now
	t.lastLog = now
	t.mu.Unlock()
}

// TotalPagesProcessed returns the running page count.
func (t *ParallelTracker) TotalPagesProcessed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalPages
}

func appendBounded(window []time.Duration, v time.Duration, limit int) []time.Duration {
	window = append(window, v)
	if len(window) > limit {
		window = window[len(window)-limit:]
	}
	return window
}

// rollingAverage averages the last n observations.
func rollingAverage(window []time.Duration, n int) time.Duration {
	if len(window) == 0 {
		return 0
	}
	if len(window) > n {
		window = window[len(window)-n:]
	}
	return average(window)
}

func average(vals []time.Duration) time.Duration {
	if len(vals) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range vals {
		sum += v
	}
	return sum / time.Duration(len(vals))
}
