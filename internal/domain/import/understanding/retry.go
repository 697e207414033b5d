package understanding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

// RetryPolicy bounds the calls made for one request to the service.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, at least 1
	BaseBackoff time.Duration // first wait, doubled after each failure
	CallTimeout time.Duration // per attempt; 0 means no timeout
}

type retryingClient struct {
	next   Client
	policy RetryPolicy
	logger *slog.Logger
}

// WithRetry wraps next so that transient failures are retried with
// exponential backoff. Each attempt gets its own timeout. Cancellation of the
// caller's context stops retrying at once and is returned as a retryable
// ServiceError.
func WithRetry(next Client, policy RetryPolicy, logger *slog.Logger) Client {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = time.Millisecond
	}
	return &retryingClient{next: next, policy: policy, logger: logger}
}

func (c *retryingClient) DetectFormat(ctx context.Context, sample string) (*statement.FormatSpecification, statement.Usage, error) {
	var (
		spec  *statement.FormatSpecification
		usage statement.Usage
	)
	err := c.do(ctx, "detect_format", func(ctx context.Context) error {
		s, u, err := c.next.DetectFormat(ctx, sample)
		usage.Add(u)
		if err != nil {
			return err
		}
		spec = s
		return nil
	})
	return spec, usage, err
}

func (c *retryingClient) ExtractTransactions(ctx context.Context, in ChunkInput) (*statement.Extraction, error) {
	var (
		ext   *statement.Extraction
		usage statement.Usage
	)
	err := c.do(ctx, "extract_transactions", func(ctx context.Context) error {
		e, err := c.next.ExtractTransactions(ctx, in)
		if e != nil {
			usage.Add(e.Usage)
		}
		if err != nil {
			return err
		}
		ext = e
		return nil
	})
	if ext == nil {
		ext = &statement.Extraction{}
	}
	ext.Usage = usage
	return ext, err
}

func (c *retryingClient) do(ctx context.Context, op string, fn func(context.Context) error) error {
	b := retry.NewExponential(c.policy.BaseBackoff)
	b = retry.WithMaxRetries(uint64(c.policy.MaxAttempts-1), b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.policy.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.policy.CallTimeout)
		}
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isTransient(err) {
			return err
		}
		c.logger.Warn("understanding service call failed, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", c.policy.MaxAttempts,
			"error", err,
		)
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return &statement.ServiceError{Op: op, Transient: true, Err: ctxErr}
	}
	var svcErr *statement.ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &statement.ServiceError{Op: op, Transient: true, Err: err}
	}
	return err
}

// isTransient reports whether another attempt may succeed. Attempt timeouts
// count as transient.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var svcErr *statement.ServiceError
	return errors.As(err, &svcErr) && svcErr.Transient
}
