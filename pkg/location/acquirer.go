package location

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Acquisition modes reported to an Observer.
const (
	ModeBest  = "best"
	ModeQuick = "quick"
)

// AcquirerConfig holds the acquisition defaults.
type AcquirerConfig struct {
	MaxWait      time.Duration `yaml:"max_wait"`      // AcquireBest budget when the caller passes none
	MinAccuracy  float64       `yaml:"min_accuracy"`  // AcquireBest early-stop target in meters
	QuickTimeout time.Duration `yaml:"quick_timeout"` // AcquireQuick budget
	WatchTimeout time.Duration `yaml:"watch_timeout"` // per-fix timeout while watching
	WatchMaxAge  time.Duration `yaml:"watch_max_age"` // staleness tolerated while watching
}

// DefaultAcquirerConfig returns the field defaults.
func DefaultAcquirerConfig() AcquirerConfig {
	return AcquirerConfig{
		MaxWait:      10 * time.Second,
		MinAccuracy:  DefaultThresholds.Good,
		QuickTimeout: 15 * time.Second,
		WatchTimeout: 30 * time.Second,
		WatchMaxAge:  time.Second,
	}
}

func (c AcquirerConfig) withDefaults() AcquirerConfig {
	d := DefaultAcquirerConfig()
	if c.MaxWait <= 0 {
		c.MaxWait = d.MaxWait
	}
	if c.MinAccuracy <= 0 {
		c.MinAccuracy = d.MinAccuracy
	}
	if c.QuickTimeout <= 0 {
		c.QuickTimeout = d.QuickTimeout
	}
	if c.WatchTimeout <= 0 {
		c.WatchTimeout = d.WatchTimeout
	}
	if c.WatchMaxAge < 0 {
		c.WatchMaxAge = d.WatchMaxAge
	}
	return c
}

// Observer receives the outcome of every one-shot acquisition.
type Observer interface {
	ObserveAcquisition(mode string, pos Position, err error, elapsed time.Duration)
}

// Acquirer turns a provider's noisy fix stream into single coordinates.
// It holds no per-call state; concurrent calls are independent.
type Acquirer struct {
	provider Provider
	config   AcquirerConfig
	observer Observer
	logger   zerolog.Logger
}

// NewAcquirer creates an Acquirer. A nil provider means the platform has no
// location capability and every call fails with ErrNotSupported.
func NewAcquirer(provider Provider, config AcquirerConfig, logger zerolog.Logger) *Acquirer {
	return &Acquirer{
		provider: provider,
		config:   config.withDefaults(),
		logger:   logger,
	}
}

// SetObserver installs an acquisition observer.
func (a *Acquirer) SetObserver(o Observer) {
	a.observer = o
}

// Config returns the effective configuration.
func (a *Acquirer) Config() AcquirerConfig {
	return a.config
}

// AcquireBest watches fixes for up to maxWait and returns the first one at or
// below minAccuracy meters. When the window closes first it returns the most
// accurate fix seen. It fails only if no fix arrived at all, or if the
// provider reported an error before the first fix.
func (a *Acquirer) AcquireBest(ctx context.Context, maxWait time.Duration, minAccuracy float64) (Position, error) {
	if maxWait <= 0 {
		maxWait = a.config.MaxWait
	}
	if minAccuracy <= 0 {
		minAccuracy = a.config.MinAccuracy
	}

	start := time.Now()
	pos, err := a.acquireBest(ctx, maxWait, minAccuracy)
	a.observe(ModeBest, pos, err, time.Since(start))
	return pos, err
}

func (a *Acquirer) acquireBest(ctx context.Context, maxWait time.Duration, minAccuracy float64) (Position, error) {
	if a.provider == nil {
		return Position{}, ErrNotSupported
	}

	w := newWindow(minAccuracy, a.logger)
	sub, err := a.provider.WatchPosition(Options{
		HighAccuracy: true,
		Timeout:      maxWait,
		MaxCachedAge: 0,
	}, w.offerFix, w.offerError)
	if err != nil {
		return Position{}, AsLocationError(err)
	}

	timer := time.NewTimer(maxWait)
	defer func() {
		timer.Stop()
		sub.Cancel()
	}()

	select {
	case <-w.done:
	case <-timer.C:
		w.expire(nil)
	case <-ctx.Done():
		w.expire(ctx.Err())
	}
	return w.result()
}

// AcquireQuick reads a single fresh fix with the quick timeout.
func (a *Acquirer) AcquireQuick(ctx context.Context) (Position, error) {
	start := time.Now()
	pos, err := a.acquireQuick(ctx)
	a.observe(ModeQuick, pos, err, time.Since(start))
	return pos, err
}

func (a *Acquirer) acquireQuick(ctx context.Context) (Position, error) {
	if a.provider == nil {
		return Position{}, ErrNotSupported
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.QuickTimeout)
	defer cancel()

	pos, err := a.provider.CurrentPosition(ctx, Options{
		HighAccuracy: true,
		Timeout:      a.config.QuickTimeout,
		MaxCachedAge: 0,
	})
	if err != nil {
		return Position{}, AsLocationError(err)
	}
	if !pos.Valid() {
		return Position{}, NewLocationError(CodePositionUnavailable, nil)
	}
	return pos, nil
}

// Watch streams fixes to onPosition and errors to onError until the returned
// function is called. Errors do not end the stream. The cancel function is
// safe to call repeatedly, and no callback starts after it has been called.
func (a *Acquirer) Watch(onPosition func(Position), onError func(*LocationError)) (cancel func()) {
	if onError == nil {
		onError = func(*LocationError) {}
	}
	if a.provider == nil {
		onError(ErrNotSupported)
		return func() {}
	}

	var stopped atomic.Bool
	deliver := func(fn func()) {
		if !stopped.Load() {
			fn()
		}
	}

	sub, err := a.provider.WatchPosition(Options{
		HighAccuracy: true,
		Timeout:      a.config.WatchTimeout,
		MaxCachedAge: a.config.WatchMaxAge,
	}, func(pos Position) {
		if !pos.Valid() {
			a.logger.Debug().Float64("accuracy", pos.Accuracy).Msg("Dropping invalid fix")
			return
		}
		deliver(func() { onPosition(pos) })
	}, func(err error) {
		deliver(func() { onError(AsLocationError(err)) })
	})
	if err != nil {
		onError(AsLocationError(err))
		return func() {}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			stopped.Store(true)
			sub.Cancel()
		})
	}
}

func (a *Acquirer) observe(mode string, pos Position, err error, elapsed time.Duration) {
	if a.observer != nil {
		a.observer.ObserveAcquisition(mode, pos, err, elapsed)
	}
}

// window is the state of a single AcquireBest call. Provider callbacks and
// the waiting goroutine meet under mu; once settled, nothing changes.
type window struct {
	mu      sync.Mutex
	target  float64
	best    *Position
	fixes   int
	settled bool
	pos     Position
	err     error
	done    chan struct{}
	logger  zerolog.Logger
}

func newWindow(target float64, logger zerolog.Logger) *window {
	return &window{
		target: target,
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (w *window) offerFix(pos Position) {
	if !pos.Valid() {
		w.logger.Debug().Float64("accuracy", pos.Accuracy).Msg("Dropping invalid fix")
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.settled {
		return
	}

	w.fixes++
	w.best = SelectBest(w.best, pos)
	if pos.Accuracy <= w.target {
		w.settle(pos, nil)
	}
}

func (w *window) offerError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.settled {
		return
	}

	if w.best != nil {
		// A partial result is still useful; keep listening.
		w.logger.Warn().Err(err).Int("fixes", w.fixes).Msg("Location error after first fix, continuing")
		return
	}
	w.settle(Position{}, AsLocationError(err))
}

// expire closes the window, settling on the best fix when one exists.
func (w *window) expire(cause error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.settled {
		return
	}

	if w.best != nil {
		w.settle(*w.best, nil)
		return
	}
	le := errNoFix()
	le.Err = cause
	w.settle(Position{}, le)
}

// settle must be called with mu held.
func (w *window) settle(pos Position, err error) {
	w.pos, w.err = pos, err
	w.settled = true
	close(w.done)
}

func (w *window) result() (Position, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pos, w.err
}
