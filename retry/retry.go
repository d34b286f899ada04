// Package retry wraps single-page extraction calls with bounded retries,
// configurable backoff, per-attempt timeout shrinkage, and result validation.
//
// The retry loop is driven by a pure decision function (nextAction) so the
// state machine — Attempt → Success | Retry | Exhausted — is unit-testable
// without real sleeps. Exhausting all retries yields a nil result, never an
// error: the caller records the page as failed and continues the document.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/docconv/model"
)

// Strategy selects the delay curve applied between attempts.
type Strategy string

const (
	// Immediate retries without delay.
	Immediate Strategy = "immediate"
	// Linear sleeps base*attempt.
	Linear Strategy = "linear_backoff"
	// Exponential sleeps base*2^(attempt-1).
	Exponential Strategy = "exponential_backoff"
	// Adaptive is linear scaled up by the average failure count across the
	// pages this handler has tracked. Scoped per handler (one handler per
	// document job) so a bad document never slows down unrelated jobs.
	Adaptive Strategy = "adaptive"
)

// Options configures a Handler.
type Options struct {
	// MaxRetries is the number of retries after the first attempt. Default: 2.
	MaxRetries int
	// Strategy selects the backoff curve. Default: Linear.
	Strategy Strategy
	// BaseDelay seeds the backoff curves. Default: 500ms.
	BaseDelay time.Duration
	// TimeoutFactor multiplies the per-attempt timeout on each retry.
	// Default: 0.8 (20% reduction per retry).
	TimeoutFactor float64
	// MinTimeout floors the shrunk timeout. Default: 30s.
	MinTimeout time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 2
	}
	if o.Strategy == "" {
		o.Strategy = Linear
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.TimeoutFactor <= 0 || o.TimeoutFactor >= 1 {
		o.TimeoutFactor = 0.8
	}
	if o.MinTimeout <= 0 {
		o.MinTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Operation is a single-page extraction call. The timeout shrinks on each
// retry; implementations must be safe to invoke repeatedly.
type Operation func(ctx context.Context, timeout time.Duration) (*model.PageResult, error)

// Handler executes operations with retry. One handler per document job;
// it accumulates per-page retry counts and failure reasons across calls.
type Handler struct {
	opts Options

	mu       sync.Mutex
	counts   map[int]int      // page → retry count (MaxRetries+1 marks exhausted)
	failures map[int][]string // page → ordered failure reasons
}

// NewHandler creates a retry handler.
func NewHandler(opts Options) *Handler {
	opts.defaults()
	return &Handler{
		opts:     opts,
		counts:   make(map[int]int),
		failures: make(map[int][]string),
	}
}

// action is the outcome of the decision function.
type action int

const (
	actionSucceed action = iota
	actionRetry
	actionGiveUp
)

// decision input for one completed attempt.
type attemptState struct {
	attempt    int // 0-indexed attempt that just ran
	maxRetries int
	valid      bool // operation returned a structurally valid result
	strategy   Strategy
	baseDelay  time.Duration
	// avgFailures is the mean failure count across all pages tracked so
	// far; only Adaptive consults it.
	avgFailures float64
}

// nextAction decides what follows a completed attempt. Pure: no clocks,
// no sleeps, no handler state.
func nextAction(s attemptState) (action, time.Duration) {
	if s.valid {
		return actionSucceed, 0
	}
	if s.attempt >= s.maxRetries {
		return actionGiveUp, 0
	}
	return actionRetry, retryDelay(s.strategy, s.baseDelay, s.attempt+1, s.avgFailures)
}

// retryDelay computes the sleep before the given 1-indexed attempt.
func retryDelay(strategy Strategy, base time.Duration, attempt int, avgFailures float64) time.Duration {
	switch strategy {
	case Immediate:
		return 0
	case Linear:
		return base * time.Duration(attempt)
	case Exponential:
		return base << (attempt - 1)
	case Adaptive:
		mult := 1.0 + avgFailures*0.5
		return time.Duration(float64(base) * float64(attempt) * mult)
	default:
		return base
	}
}

// Execute runs op with retry for the given 1-indexed page. The timeout is
// reduced by TimeoutFactor on each retry, floored at MinTimeout. Returns nil
// after MaxRetries+1 failed attempts.
func (h *Handler) Execute(ctx context.Context, page int, name string, timeout time.Duration, op Operation) *model.PageResult {
	log := h.opts.Logger

	for attempt := 0; ; attempt++ {
		attemptTimeout := h.shrunkTimeout(timeout, attempt)

		result, err := op(ctx, attemptTimeout)

		valid := err == nil && h.validate(result, page, name)
		if err != nil {
			h.recordFailure(page, fmt.Sprintf("%s_attempt_%d: %v", errKind(err), attempt, err))
			log.Warn("retry: attempt failed", "page", page, "op", name, "attempt", attempt, "error", err)
		} else if !valid {
			h.recordFailure(page, fmt.Sprintf("invalid_result_attempt_%d", attempt))
			log.Warn("retry: invalid result", "page", page, "op", name, "attempt", attempt)
		}

		act, delay := nextAction(attemptState{
			attempt:     attempt,
			maxRetries:  h.opts.MaxRetries,
			valid:       valid,
			strategy:    h.opts.Strategy,
			baseDelay:   h.opts.BaseDelay,
			avgFailures: h.averageFailures(),
		})

		switch act {
		case actionSucceed:
			h.setCount(page, attempt)
			if attempt > 0 {
				log.Info("retry: succeeded after retry", "page", page, "op", name, "retries", attempt)
			}
			return result

		case actionGiveUp:
			h.setCount(page, h.opts.MaxRetries+1)
			log.Error("retry: exhausted",
				"page", page, "op", name,
				"attempts", h.opts.MaxRetries+1,
				"reasons", h.failureReasons(page))
			return nil

		case actionRetry:
			log.Info("retry: retrying", "page", page, "op", name,
				"attempt", attempt+1, "delay", delay, "timeout", h.shrunkTimeout(timeout, attempt+1))
			if err := sleepCtx(ctx, delay); err != nil {
				h.setCount(page, h.opts.MaxRetries+1)
				log.Warn("retry: cancelled during backoff", "page", page, "op", name)
				return nil
			}
		}
	}
}

// shrunkTimeout applies TimeoutFactor^attempt, floored at MinTimeout.
// A zero input timeout means "no limit" and passes through unchanged.
func (h *Handler) shrunkTimeout(timeout time.Duration, attempt int) time.Duration {
	if timeout <= 0 || attempt == 0 {
		return timeout
	}
	shrunk := float64(timeout)
	for i := 0; i < attempt; i++ {
		shrunk *= h.opts.TimeoutFactor
	}
	if d := time.Duration(shrunk); d > h.opts.MinTimeout {
		return d
	}
	return h.opts.MinTimeout
}

// validate checks the result shape. A structurally sound result with no
// content at all is accepted as a legitimate blank page, but logged.
func (h *Handler) validate(result *model.PageResult, page int, name string) bool {
	if result == nil {
		return false
	}
	if !result.HasContent() {
		h.opts.Logger.Warn("retry: no content extracted, accepting as blank page", "page", page, "op", name)
	}
	return true
}

// ShouldSkipRetries reports whether a page has failed so often across calls
// that further retries are pointless (cumulative failures > 2×MaxRetries).
// Advisory only; callers may still attempt a single extraction.
func (h *Handler) ShouldSkipRetries(page int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.failures[page])
	if n > h.opts.MaxRetries*2 {
		h.opts.Logger.Info("retry: skipping retries for chronically failing page", "page", page, "failures", n)
		return true
	}
	return false
}

// RetryCount returns the recorded retry count for a page (MaxRetries+1 if
// the page exhausted all attempts).
func (h *Handler) RetryCount(page int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[page]
}

// FailureSummary returns a human-readable failure summary for a page.
func (h *Handler) FailureSummary(page int) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	reasons := h.failures[page]
	if len(reasons) == 0 {
		return "no failures recorded"
	}
	types := make(map[string]struct{})
	for _, r := range reasons {
		types[failureType(r)] = struct{}{}
	}
	names := make([]string, 0, len(types))
	for t := range types {
		names = append(names, t)
	}
	sort.Strings(names)
	count := h.counts[page]
	if count > h.opts.MaxRetries {
		count = h.opts.MaxRetries
	}
	return fmt.Sprintf("page %d: %d/%d retries, %d failures, types: %s",
		page, count, h.opts.MaxRetries, len(reasons), strings.Join(names, ", "))
}

// Reset clears all accumulated statistics.
func (h *Handler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts = make(map[int]int)
	h.failures = make(map[int][]string)
}

func (h *Handler) setCount(page, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[page] = n
}

func (h *Handler) recordFailure(page int, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[page] = append(h.failures[page], reason)
}

func (h *Handler) failureReasons(page int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.failures[page]...)
}

// averageFailures is the mean failure count across all tracked pages.
func (h *Handler) averageFailures() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.failures) == 0 {
		return 0
	}
	total := 0
	for _, reasons := range h.failures {
		total += len(reasons)
	}
	return float64(total) / float64(len(h.failures))
}

func errKind(err error) string {
	return fmt.Sprintf("%T", err)
}

// failureType strips the "_attempt_N" suffix from a recorded reason.
func failureType(reason string) string {
	if i := strings.Index(reason, "_attempt_"); i >= 0 {
		return reason[:i]
	}
	return reason
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
