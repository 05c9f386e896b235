package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rizalgowandy/materialize/internal/storage/blob"
	"github.com/rizalgowandy/materialize/internal/storage/meta"
	"github.com/rizalgowandy/materialize/pkg/log"
)

// retryBackend runs fn against a backend, retrying transient failures with
// doubling backoff up to the configured budget. Version conflicts, missing
// blobs, and persist's own typed errors pass straight through; the caller
// owns those.
func (s *Shard) retryBackend(ctx context.Context, op string, fn func() error) error {
	backoff := s.cfg.BackendBackoff.Std()
	var err error
	for attempt := 0; attempt < s.cfg.BackendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, meta.ErrVersionMismatch) ||
			errors.Is(err, blob.ErrNotFound) ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) ||
			IsPermanent(err) {
			return err
		}
		s.logger.Warn("transient backend failure",
			log.F("op", op), log.F("attempt", attempt+1), log.Err(err))
	}
	return fmt.Errorf("persist: %s: retries exhausted: %w", op, err)
}
