package ingest

import (
	"context"
	"time"
)

// retry calls fn until it succeeds or ctx is done, sleeping backoff between
// tries. It mirrors the C++ source's labeled `goto retry_loop` around
// transient upstream RPC failures: never skip a height, retry forever,
// bounded only by shutdown.
func retry(ctx context.Context, backoff time.Duration, fn func() error) error {
	for {
		if err := fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}
