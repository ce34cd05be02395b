package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewReconnectPolicy is the backoff used between connection attempts: one
// second doubling to thirty, retrying until the context ends.
func NewReconnectPolicy() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Second),
		backoff.WithMaxInterval(30*time.Second),
		backoff.WithMaxElapsedTime(0),
	)
}

// Redial calls connect until it succeeds, waiting as policy says between
// attempts. A rejected credential ends the loop at once, since retrying it
// cannot succeed. notify, if set, sees every failed attempt.
func Redial[T any](ctx context.Context, connect func(context.Context) (T, error), policy backoff.BackOff, notify func(error, time.Duration)) (T, error) {
	op := func() (T, error) {
		conn, err := connect(ctx)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
				return conn, backoff.Permanent(err)
			}
		}
		return conn, err
	}
	return backoff.RetryNotifyWithData(op, backoff.WithContext(policy, ctx), notify)
}
