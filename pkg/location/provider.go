package location

import (
	"context"
	"sync"
)

// Provider is a platform location service.
type Provider interface {
	// CurrentPosition requests exactly one fix.
	CurrentPosition(ctx context.Context, opts Options) (Position, error)
	// WatchPosition streams fixes to onFix and provider errors to onError
	// until the returned Subscription is cancelled.
	WatchPosition(opts Options, onFix func(Position), onError func(error)) (Subscription, error)
}

// Subscription is a live WatchPosition stream.
type Subscription interface {
	// Cancel stops delivery. Calling it more than once is a no-op.
	Cancel()
}

// SubscriptionFunc adapts a plain function to Subscription. It does not guard
// against repeated calls; wrap it with newOnceSubscription when that matters.
type SubscriptionFunc func()

func (f SubscriptionFunc) Cancel() {
	if f != nil {
		f()
	}
}

// onceSubscription guards a cancel function so the underlying release runs once.
type onceSubscription struct {
	once   sync.Once
	cancel func()
}

func newOnceSubscription(cancel func()) *onceSubscription {
	return &onceSubscription{cancel: cancel}
}

func (s *onceSubscription) Cancel() {
	s.once.Do(s.cancel)
}

// firstFix turns a watch stream into a one-shot read: the first fix or the
// first error wins, and the subscription is torn down before returning.
func firstFix(ctx context.Context, p Provider, opts Options) (Position, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	type result struct {
		pos Position
		err error
	}
	results := make(chan result, 1)
	offer := func(r result) {
		select {
		case results <- r:
		default:
		}
	}

	sub, err := p.WatchPosition(opts,
		func(pos Position) { offer(result{pos: pos}) },
		func(err error) { offer(result{err: err}) },
	)
	if err != nil {
		return Position{}, err
	}
	defer sub.Cancel()

	select {
	case r := <-results:
		return r.pos, r.err
	case <-ctx.Done():
		return Position{}, NewLocationError(CodeTimeout, ctx.Err())
	}
}
