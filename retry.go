package assetdb

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for busy-retry with exponential backoff
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterPercent  float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		JitterPercent:  DefaultJitterPercent,
	}
}

// Validate checks if the RetryConfig is valid
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MaxRetries",
			"value":  c.MaxRetries,
			"reason": "must be non-negative",
		})
	}
	if c.InitialBackoff <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "InitialBackoff",
			"value":  c.InitialBackoff,
			"reason": "must be positive",
		})
	}
	if c.MaxBackoff < c.InitialBackoff {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MaxBackoff",
			"value":  c.MaxBackoff,
			"reason": "must be >= InitialBackoff",
		})
	}
	if c.JitterPercent < 0 || c.JitterPercent > 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "JitterPercent",
			"value":  c.JitterPercent,
			"reason": "must be between 0 and 1",
		})
	}
	return nil
}

// Backoff returns the sleep before retry number attempt (0-based): the
// shifted initial backoff capped at MaxBackoff, plus random jitter of up
// to JitterPercent of the computed delay.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := c.InitialBackoff << uint(attempt)
	if d > c.MaxBackoff || d <= 0 { // d <= 0 after shift overflow
		d = c.MaxBackoff
	}
	if c.JitterPercent > 0 {
		d += time.Duration(rand.Float64() * c.JitterPercent * float64(d))
	}
	return d
}

// RetryPolicy retries operations that fail with the locked error class.
// Every other failure passes through untouched so the classification
// layers upstream see the original error.
type RetryPolicy struct {
	cfg     RetryConfig
	diag    *Diagnostics
	logger  Logger
	metrics Metrics
}

func NewRetryPolicy(cfg RetryConfig, diag *Diagnostics, logger Logger, metrics Metrics) *RetryPolicy {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &RetryPolicy{cfg: cfg, diag: diag, logger: logger, metrics: metrics}
}

// Do runs fn, retrying up to MaxRetries times while the failure
// classifies as locked. Sleeps between attempts are context-aware.
// op names the operation for logs and metrics.
func (r *RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			r.metrics.Increment(MetricRetryAttempt, "operation", op)
			r.logger.Debugw("retrying after locked database",
				"operation", op,
				"attempt", attempt)
			if serr := sleepContext(ctx, r.cfg.Backoff(attempt-1)); serr != nil {
				return serr
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if classifySQLiteError(err) != classLocked {
			return err
		}
		if r.diag != nil {
			r.diag.RecordLocked(err.Error())
		}
		r.metrics.Increment(MetricLockedError)
	}

	r.metrics.Increment(MetricRetryExhausted, "operation", op)
	r.logger.Warnw("retries exhausted on locked database",
		"operation", op,
		"retries", r.cfg.MaxRetries,
		"error", err)
	return WithContext(ErrRetriesExhausted, map[string]interface{}{
		"operation": op,
		"retries":   r.cfg.MaxRetries,
		"cause":     err.Error(),
	})
}

// sleepContext sleeps for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
