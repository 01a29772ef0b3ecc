package client

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/openemail/internal/common"
)

// HostResult is the outcome of one host call in a fan-out.
type HostResult[T any] struct {
	Host  string
	Value T
	Err   error
}

// WithAllRespondingHosts calls fn on every host concurrently and returns
// the results in host order. Interpreting partial success is up to the
// caller.
func WithAllRespondingHosts[T any](ctx context.Context, hosts []string, fn func(ctx context.Context, host string) (T, error)) []HostResult[T] {
	results := make([]HostResult[T], len(hosts))
	var g errgroup.Group
	for i, h := range hosts {
		g.Go(func() error {
			v, err := fn(ctx, h)
			results[i] = HostResult[T]{Host: h, Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// WithFirstRespondingHost races fn on every host and returns the first
// success, cancelling the others. When every host fails the errors are
// joined.
func WithFirstRespondingHost[T any](ctx context.Context, hosts []string, fn func(ctx context.Context, host string) (T, error)) (T, error) {
	var zero T
	if len(hosts) == 0 {
		return zero, common.ErrNoHostsAvailable
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan HostResult[T], len(hosts))
	for _, h := range hosts {
		go func() {
			v, err := fn(ctx, h)
			ch <- HostResult[T]{Host: h, Value: v, Err: err}
		}()
	}

	errs := make([]error, 0, len(hosts))
	for range hosts {
		r := <-ch
		if r.Err == nil {
			return r.Value, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", r.Host, r.Err))
	}
	return zero, errors.Join(errs...)
}

// AnySucceeded returns nil when at least one host succeeded, else the
// joined host errors wrapped in failure.
func AnySucceeded[T any](results []HostResult[T], failure error) error {
	if len(results) == 0 {
		return common.ErrNoHostsAvailable
	}
	errs := make([]error, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", r.Host, r.Err))
	}
	return fmt.Errorf("%w: %w", failure, errors.Join(errs...))
}

// AllSucceeded returns nil only when every host succeeded.
func AllSucceeded[T any](results []HostResult[T], failure error) error {
	if len(results) == 0 {
		return common.ErrNoHostsAvailable
	}
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Host, r.Err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", failure, errors.Join(errs...))
}
