package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"loyaltykit/core"
)

// RetryPolicy bounds local retries of transient storage failures.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy allows three attempts with a short linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 20 * time.Millisecond}
}

// do runs fn until it succeeds, fails with a non-transient error, or the
// attempts run out. Exhaustion is reported as Transient.
func (p RetryPolicy) do(ctx context.Context, log *zap.Logger, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil || !core.IsTransient(err) {
			return err
		}
		if i == attempts {
			break
		}
		log.Warn("transient failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", i),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return core.Wrap(core.KindTransient, op, ctx.Err())
		case <-time.After(p.Backoff * time.Duration(i)):
		}
	}
	return &core.Error{Kind: core.KindTransient, Op: op, Msg: fmt.Sprintf("gave up after %d attempts", attempts), Err: err}
}
