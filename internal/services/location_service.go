package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	mqtt_middleware "github.com/benmeehan/knock-agent/internal/middlewares/mqtt"
	"github.com/benmeehan/knock-agent/internal/models"
	"github.com/benmeehan/knock-agent/internal/observability"
	"github.com/benmeehan/knock-agent/pkg/identity"
	"github.com/benmeehan/knock-agent/pkg/location"
	"github.com/rs/zerolog"
)

// PositionWatcher streams fixes until the returned cancel is called.
type PositionWatcher interface {
	Watch(onPosition func(location.Position), onError func(*location.LocationError)) (cancel func())
}

// LocationService publishes the rep's live position to the MQTT broker.
type LocationService struct {
	// Configuration fields
	topic      string
	interval   time.Duration
	qos        int
	thresholds location.Thresholds

	// Dependencies
	canvasserInfo identity.CanvasserInfoInterface
	publisher     mqtt_middleware.Publisher
	watcher       PositionWatcher
	metrics       *observability.Metrics
	logger        zerolog.Logger

	// Internal state management
	mu          sync.Mutex
	posMu       sync.Mutex
	latest      *location.Position
	ctx         context.Context
	cancel      context.CancelFunc
	cancelWatch func()
	wg          sync.WaitGroup
	running     bool
}

// NewLocationService creates a new LocationService instance with the provided configuration.
func NewLocationService(topic string, interval time.Duration, qos int, thresholds location.Thresholds,
	canvasserInfo identity.CanvasserInfoInterface, publisher mqtt_middleware.Publisher, watcher PositionWatcher,
	metrics *observability.Metrics, logger zerolog.Logger) *LocationService {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &LocationService{
		topic:         topic,
		interval:      interval,
		qos:           qos,
		thresholds:    thresholds,
		canvasserInfo: canvasserInfo,
		publisher:     publisher,
		watcher:       watcher,
		metrics:       metrics,
		logger:        logger,
	}
}

// Start begins watching and publishes the newest fix once per interval.
func (l *LocationService) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		l.logger.Warn().Msg("LocationService is already running")
		return errors.New("location service is already running")
	}

	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.running = true

	l.cancelWatch = l.watcher.Watch(l.onPosition, func(err *location.LocationError) {
		l.logger.Warn().Err(err).Str("code", err.Code.String()).Msg("Live location error")
	})

	ctx := l.ctx
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := l.publishLatest(); err != nil {
					l.logger.Error().Err(err).Msg("Failed to publish live location")
				}
			case <-ctx.Done():
				l.logger.Info().Msg("LocationService is stopping")
				return
			}
		}
	}()

	l.logger.Info().
		Str("topic", l.topic).
		Dur("interval_ms", l.interval).
		Int("qos", l.qos).
		Msg("LocationService started")
	return nil
}

// Stop ends the watch and waits for the publisher goroutine to exit.
func (l *LocationService) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		l.logger.Warn().Msg("LocationService is not running")
		return errors.New("location service is not running")
	}
	l.running = false
	cancelWatch := l.cancelWatch
	l.mu.Unlock()

	cancelWatch()
	l.cancel()
	l.wg.Wait()

	l.logger.Info().Msg("LocationService stopped")
	return nil
}

func (l *LocationService) onPosition(pos location.Position) {
	l.posMu.Lock()
	l.latest = &pos
	l.posMu.Unlock()
}

// publishLatest sends the newest unpublished fix, if any.
func (l *LocationService) publishLatest() error {
	l.posMu.Lock()
	pos := l.latest
	l.latest = nil
	l.posMu.Unlock()
	if pos == nil {
		return nil
	}

	message := models.LiveLocation{
		CanvasserID: l.canvasserInfo.GetCanvasserID(),
		Timestamp:   pos.Timestamp,
		Latitude:    pos.Latitude,
		Longitude:   pos.Longitude,
		Accuracy:    pos.Accuracy,
		Rating:      l.thresholds.Classify(pos.Accuracy).String(),
		Heading:     pos.Heading,
		Speed:       pos.Speed,
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if err := l.publisher.Publish(l.topic, byte(l.qos), false, payload); err != nil {
		return err
	}

	l.metrics.LiveLocationPublished()
	l.logger.Debug().
		Float64("accuracy", message.Accuracy).
		Str("topic", l.topic).
		Msg("Live location published")
	return nil
}
