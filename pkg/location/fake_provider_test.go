package location

import (
	"context"
	"sync"
	"time"
)

// step is one scripted provider event.
type step struct {
	delay time.Duration
	fix   *Position
	err   error
}

func fixStep(delay time.Duration, accuracy float64) step {
	return step{delay: delay, fix: &Position{Latitude: 40, Longitude: -105, Accuracy: accuracy}}
}

func errStep(delay time.Duration, err error) step {
	return step{delay: delay, err: err}
}

// fakeProvider replays a script on WatchPosition and records how it was used.
// emit delivers directly to the last registered callbacks, even after cancel,
// to mimic a platform that races its own teardown.
type fakeProvider struct {
	mu        sync.Mutex
	script    []step
	watchErr  error
	current   Position
	currentEr error

	watchOpts   []Options
	currentOpts []Options
	cancels     int
	onFix       func(Position)
	onError     func(error)
}

func (f *fakeProvider) CurrentPosition(ctx context.Context, opts Options) (Position, error) {
	f.mu.Lock()
	f.currentOpts = append(f.currentOpts, opts)
	f.mu.Unlock()
	return f.current, f.currentEr
}

func (f *fakeProvider) WatchPosition(opts Options, onFix func(Position), onError func(error)) (Subscription, error) {
	f.mu.Lock()
	f.watchOpts = append(f.watchOpts, opts)
	if f.watchErr != nil {
		f.mu.Unlock()
		return nil, f.watchErr
	}
	f.onFix, f.onError = onFix, onError
	script := f.script
	f.mu.Unlock()

	stop := make(chan struct{})
	go func() {
		for _, s := range script {
			select {
			case <-time.After(s.delay):
			case <-stop:
				return
			}
			if s.fix != nil {
				onFix(*s.fix)
			} else {
				onError(s.err)
			}
		}
	}()

	var once sync.Once
	return SubscriptionFunc(func() {
		f.mu.Lock()
		f.cancels++
		f.mu.Unlock()
		once.Do(func() { close(stop) })
	}), nil
}

func (f *fakeProvider) emit(pos Position) {
	f.mu.Lock()
	fn := f.onFix
	f.mu.Unlock()
	fn(pos)
}

func (f *fakeProvider) emitError(err error) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	fn(err)
}

func (f *fakeProvider) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}
