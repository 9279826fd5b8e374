package loom

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
)

var transientMarkers = []string{
	"429",
	"500",
	"502",
	"503",
	"529",
	"rate limit",
	"overloaded",
	"temporarily",
	"timeout",
	"connection reset",
	"unexpected eof",
}

// RetryModel wraps a Model and retries transient failures. A turn is
// only retried while nothing has been forwarded downstream; once a
// chunk is out, the stream cannot be replayed and the error is
// returned as-is.
type RetryModel struct {
	inner       Model
	maxAttempts int
	baseDelay   time.Duration
	transient   func(error) bool
	logger      *slog.Logger
}

var _ Model = (*RetryModel)(nil)

// RetryOption configures a RetryModel.
type RetryOption func(*RetryModel)

// RetryMaxAttempts sets the total attempt budget, first try included.
func RetryMaxAttempts(n int) RetryOption {
	return func(m *RetryModel) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// RetryBaseDelay sets the first backoff delay. Each further attempt
// doubles it before jitter.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(m *RetryModel) {
		if d > 0 {
			m.baseDelay = d
		}
	}
}

// RetryClassifier overrides the transient-error check.
func RetryClassifier(fn func(error) bool) RetryOption {
	return func(m *RetryModel) {
		if fn != nil {
			m.transient = fn
		}
	}
}

// RetryLogger sets the wrapper's logger.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(m *RetryModel) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewRetryModel wraps inner with retry on transient errors.
func NewRetryModel(inner Model, opts ...RetryOption) *RetryModel {
	m := &RetryModel{
		inner:       inner,
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		transient:   isTransient,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *RetryModel) Name() string { return m.inner.Name() }

func (m *RetryModel) Stream(ctx context.Context, req ChatRequest, ch chan<- ChatResponse) error {
	var lastErr error
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := m.backoff(ctx, attempt); err != nil {
				return err
			}
		}

		proxy := make(chan ChatResponse, 8)
		done := make(chan struct{})
		forwarded := false
		go func() {
			defer close(done)
			for chunk := range proxy {
				forwarded = true
				select {
				case ch <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}()

		err := m.inner.Stream(ctx, req, proxy)
		close(proxy)
		<-done

		if err == nil {
			return nil
		}
		if ctx.Err() != nil || forwarded || !m.transient(err) {
			return err
		}
		lastErr = err
		m.logger.Warn("transient model error",
			"model", m.inner.Name(),
			"attempt", attempt+1,
			"error", err)
	}
	return lastErr
}

func (m *RetryModel) backoff(ctx context.Context, attempt int) error {
	delay := m.baseDelay << (attempt - 1)
	delay += time.Duration(rand.Int64N(int64(delay)/2 + 1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return &ErrCancelled{Err: ctx.Err()}
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
