package esclient

import (
	"context"
	"math"
	"time"

	"github.com/openaleph/search-core/pkg/model"
)

// WithRetry retries fn on transient backend errors with exponential
// backoff: one initial attempt plus up to maxRetries retries (maxRetries+1
// calls of fn in all). Non-transient errors (and a
// nil error) return immediately.
func WithRetry(ctx context.Context, maxRetries int, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 200 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !model.IsTransientBackendError(err) {
			return err
		}
	}
	return err
}
