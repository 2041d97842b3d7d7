package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	gh "github.com/google/go-github/v82/github"

	"github.com/jcthomas/pullwatch/internal/domain/port/driven"
)

const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 10 * time.Second
	retryMaxElapsed      = 45 * time.Second
)

// withRetry runs op with exponential backoff. Classified errors wrapped in
// backoff.Permanent (404, 403, context cancellation) are returned immediately;
// everything else is retried until the elapsed budget is spent.
func withRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval
	policy.MaxElapsedTime = retryMaxElapsed

	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

// classify maps a go-github error and response to either a permanent error
// (carrying a port sentinel) or a retryable one.
func classify(resp *gh.Response, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}

	if resp != nil {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", driven.ErrNotFound, err))
		case http.StatusForbidden, http.StatusUnauthorized:
			return backoff.Permanent(fmt.Errorf("%w: %s", driven.ErrForbidden, err))
		case http.StatusUnprocessableEntity:
			return backoff.Permanent(err)
		}
	}

	return err
}
