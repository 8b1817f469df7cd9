package service

import (
	"context"
	"errors"
	"time"

	"github.com/99minutos/identity-system/internal/core/domain"
)

const conflictBackoff = 10 * time.Millisecond

// RetryOnConflict runs fn up to attempts times while it fails with
// ConcurrentModification, backing off linearly between tries. Any other
// result, including the last conflict, is returned as is. onConflict, when
// non-nil, is called for every conflict observed.
func RetryOnConflict(ctx context.Context, attempts int, onConflict func(), fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return err
		}
		if onConflict != nil {
			onConflict()
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * conflictBackoff):
		}
	}
	return err
}
