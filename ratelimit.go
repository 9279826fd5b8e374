package loom

import (
	"context"
	"sync"
	"time"
)

// rateLimitModel wraps a Model with proactive rate limiting. Calls
// block until the rate budget allows them to proceed.
type rateLimitModel struct {
	inner Model
	mu    sync.Mutex

	// RPM state: sliding window of request timestamps.
	rpm       int
	rpmWindow []time.Time

	// TPM state: sliding window of (timestamp, tokenCount) pairs.
	tpm       int
	tpmWindow []tpmEntry
}

type tpmEntry struct {
	at     time.Time
	tokens int
}

// RateLimitOption configures a rate-limited model.
type RateLimitOption func(*rateLimitModel)

// RPM sets the maximum requests per minute.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitModel) { r.rpm = n }
}

// TPM sets the maximum tokens per minute (input + output combined).
// Token counts are recorded from streamed Usage after each turn. This
// is a soft limit: the turn that exceeds the budget completes, but
// later turns block until the window slides.
func TPM(n int) RateLimitOption {
	return func(r *rateLimitModel) { r.tpm = n }
}

// WithRateLimit wraps m with proactive rate limiting. Compose with
// other wrappers:
//
//	model = loom.WithRateLimit(model, loom.RPM(60))
//	model = loom.WithRateLimit(loom.NewRetryModel(model), loom.RPM(60), loom.TPM(100000))
func WithRateLimit(m Model, opts ...RateLimitOption) Model {
	r := &rateLimitModel{inner: m}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *rateLimitModel) Name() string { return r.inner.Name() }

func (r *rateLimitModel) Stream(ctx context.Context, req ChatRequest, ch chan<- ChatResponse) error {
	if err := r.waitForBudget(ctx); err != nil {
		return err
	}

	proxy := make(chan ChatResponse, 8)
	done := make(chan struct{})
	var usage Usage
	go func() {
		defer close(done)
		for chunk := range proxy {
			if chunk.Usage != (Usage{}) {
				usage = chunk.Usage
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	err := r.inner.Stream(ctx, req, proxy)
	close(proxy)
	<-done

	if err == nil {
		r.recordUsage(usage)
	}
	return err
}

// waitForBudget blocks until both RPM and TPM budgets allow a request.
// Returns ctx.Err() if the context is cancelled while waiting.
func (r *rateLimitModel) waitForBudget(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-time.Minute)

		r.rpmWindow = pruneTime(r.rpmWindow, cutoff)
		r.tpmWindow = pruneTpm(r.tpmWindow, cutoff)

		rpmOK := r.rpm <= 0 || len(r.rpmWindow) < r.rpm

		tpmOK := true
		if r.tpm > 0 {
			var total int
			for _, e := range r.tpmWindow {
				total += e.tokens
			}
			tpmOK = total < r.tpm
		}

		if rpmOK && tpmOK {
			if r.rpm > 0 {
				r.rpmWindow = append(r.rpmWindow, now)
			}
			r.mu.Unlock()
			return nil
		}

		// Wait until the oldest entry in the blocking window expires.
		var wait time.Duration
		if !rpmOK && len(r.rpmWindow) > 0 {
			wait = r.rpmWindow[0].Add(time.Minute).Sub(now)
		}
		if !tpmOK && len(r.tpmWindow) > 0 {
			w := r.tpmWindow[0].at.Add(time.Minute).Sub(now)
			if wait == 0 || w < wait {
				wait = w
			}
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &ErrCancelled{Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

// recordUsage adds token counts to the TPM sliding window.
func (r *rateLimitModel) recordUsage(u Usage) {
	if r.tpm <= 0 {
		return
	}
	total := u.InputTokens + u.OutputTokens
	if total <= 0 {
		return
	}
	r.mu.Lock()
	r.tpmWindow = append(r.tpmWindow, tpmEntry{at: time.Now(), tokens: total})
	r.mu.Unlock()
}

// pruneTime removes entries older than cutoff from a sorted time slice.
func pruneTime(s []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(s) && s[i].Before(cutoff) {
		i++
	}
	return s[i:]
}

// pruneTpm removes entries older than cutoff from a sorted tpmEntry slice.
func pruneTpm(s []tpmEntry, cutoff time.Time) []tpmEntry {
	i := 0
	for i < len(s) && s[i].at.Before(cutoff) {
		i++
	}
	return s[i:]
}

var _ Model = (*rateLimitModel)(nil)
