package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nsefetch/pkg/config"
	errs "nsefetch/pkg/errors"
	"nsefetch/pkg/logger"
)

// Operation is a function that performs an operation that might need retrying
type Operation func() error

// OperationWithResult is a function that returns a result and might need retrying
type OperationWithResult[T any] func() (T, error)

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (0 means unlimited)
	MaxAttempts int
	Backoff     BackoffStrategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called after a failed attempt, before waiting
	OnRetry func(attempt int, err error, delay time.Duration)
	Context context.Context
	Logger  logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
		Logger:      logger.NewNopLogger(),
	}
}

// NetworkPolicy builds the caller-side policy for transient failures from
// the retry section of the configuration.
func NetworkPolicy(ctx context.Context, cfg config.RetryConfig, log logger.Logger) *Config {
	return &Config{
		MaxAttempts: cfg.MaxAttempts,
		Backoff: &ExponentialBackoff{
			BaseDelay:    cfg.BaseDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		RetryIf: DefaultRetryIf,
		Context: ctx,
		Logger:  log,
	}
}

// DefaultRetryIf retries network and server errors only
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *errs.Error
	if errors.As(err, &apiErr) {
		return errs.IsRetryable(apiErr.Type)
	}
	return false
}

// Do executes an operation with retry logic. When attempts run out the
// last error is returned wrapped, so errors.As still finds its type.
func Do(op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return err
		}

		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			log.WarnWithFields("max retry attempts exceeded", map[string]interface{}{
				"attempts":   attempt,
				"last_error": err.Error(),
			})
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, err)
		}

		var delay time.Duration
		if cfg.Backoff != nil {
			delay = cfg.Backoff.NextDelay(attempt)
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		log.WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"error":        err.Error(),
			"delay_ms":     delay.Milliseconds(),
			"max_attempts": cfg.MaxAttempts,
		})

		if err := Wait(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](op OperationWithResult[T], cfg *Config) (T, error) {
	var result T

	err := Do(func() error {
		var opErr error
		result, opErr = op()
		return opErr
	}, cfg)

	return result, err
}
