package util

import (
	"context"
)

// RetryUntilSuccess calls performAction until it returns nil or ctx is done. onError is invoked
// after every failed attempt and is expected to apply any backoff.
func RetryUntilSuccess(ctx context.Context, performAction func() error, onError func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			err := performAction()
			if err == nil {
				return
			} else {
				onError(err)
			}
		}
	}
}
