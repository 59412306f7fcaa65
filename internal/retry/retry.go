// Package retry runs an operation a bounded number of times with a fixed
// pause between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds the number of retries and the pause between them.
type Policy struct {
	Retries int           // additional attempts after the first
	Backoff time.Duration // fixed pause between attempts
}

type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the retries are
// exhausted, or ctx is done. It returns the last error seen, unwrapped from
// Permanent.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	if p.Retries < 0 {
		p.Retries = 0
	}
	var err error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if attempt > 0 && p.Backoff > 0 {
			t := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return errors.Join(err, ctx.Err())
			case <-t.C:
			}
		}
		err = fn(attempt)
		if err == nil {
			return nil
		}
		var perm *permanent
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return errors.Join(err, ctx.Err())
		}
	}
	return err
}
