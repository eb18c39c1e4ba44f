// Package netutil provides helpers for unreliable network operations.
package netutil

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("netutil")

// ErrThresholdReached is returned by Do when retrying took longer than the threshold.
var ErrThresholdReached = errors.New("threshold timeout has been reached")

// RetryFunc is a function used as argument of (*Retrier).Do(), which will retry on error unless it is whitelisted
type RetryFunc func() error

// Retrier holds a configuration for how retries should be performed
type Retrier struct {
	exponentialBackoff time.Duration // multiplied on every retry by a exponentialFactor
	exponentialFactor  uint32        // multiplier for the backoff duration
	threshold          time.Duration // zero means retry until the context is done
	errWhitelist       map[error]struct{}
}

// NewRetrier returns a retrier that is ready to call Do() method
func NewRetrier(exponentialBackoff, threshold time.Duration, factor uint32) *Retrier {
	return &Retrier{
		exponentialBackoff: exponentialBackoff,
		threshold:          threshold,
		exponentialFactor:  factor,
		errWhitelist:       make(map[error]struct{}),
	}
}

// WithErrWhitelist sets a list of errors into the retrier. Do stops retrying
// when the cause of an error is whitelisted.
func (r *Retrier) WithErrWhitelist(errors ...error) *Retrier {
	m := make(map[error]struct{})
	for _, err := range errors {
		m[err] = struct{}{}
	}

	r.errWhitelist = m
	return r
}

// Do calls f until it succeeds, returns a whitelisted error, the threshold
// passes or ctx is done.
func (r *Retrier) Do(ctx context.Context, f RetryFunc) error {
	var doneCh <-chan time.Time
	if r.threshold > 0 {
		t := time.NewTimer(r.threshold)
		defer t.Stop()
		doneCh = t.C
	}

	currentBackoff := r.exponentialBackoff
	for {
		err := f()
		if err == nil {
			return nil
		}
		if r.isWhitelisted(err) {
			return err
		}
		log.WithError(err).Warnf("Retrying in %s.", currentBackoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-doneCh:
			return ErrThresholdReached
		case <-time.After(currentBackoff):
		}
		currentBackoff = currentBackoff * time.Duration(r.exponentialFactor)
	}
}

func (r *Retrier) isWhitelisted(err error) bool {
	_, ok := r.errWhitelist[pkgerrors.Cause(err)]
	return ok
}
