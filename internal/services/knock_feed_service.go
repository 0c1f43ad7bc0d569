package services

import (
	"encoding/json"
	"errors"
	"sync"

	mqtt_middleware "github.com/benmeehan/knock-agent/internal/middlewares/mqtt"
	"github.com/benmeehan/knock-agent/internal/models"
	"github.com/benmeehan/knock-agent/internal/observability"
	"github.com/benmeehan/knock-agent/internal/store"
	"github.com/benmeehan/knock-agent/internal/utils"
	"github.com/rs/zerolog"
)

// feedQueuePerWorker sizes the pending-event queue relative to the pool.
const feedQueuePerWorker = 32

// KnockFeedService publishes every store change to an MQTT topic.
type KnockFeedService struct {
	topic   string
	qos     int
	workers int

	knocks    store.KnockRepository
	publisher mqtt_middleware.Publisher
	metrics   *observability.Metrics
	logger    zerolog.Logger

	mu          sync.Mutex
	pool        *utils.WorkerPool
	unsubscribe func()
	running     bool
}

// NewKnockFeedService creates a new KnockFeedService.
func NewKnockFeedService(topic string, qos, workers int, knocks store.KnockRepository,
	publisher mqtt_middleware.Publisher, metrics *observability.Metrics, logger zerolog.Logger) *KnockFeedService {
	if workers < 1 {
		workers = 1
	}
	return &KnockFeedService{
		topic:     topic,
		qos:       qos,
		workers:   workers,
		knocks:    knocks,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Start subscribes to the store.
func (k *KnockFeedService) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		k.logger.Warn().Msg("KnockFeedService is already running")
		return errors.New("knock feed service is already running")
	}

	k.pool = utils.NewWorkerPool(k.workers, k.workers*feedQueuePerWorker)
	pool := k.pool
	k.unsubscribe = k.knocks.Subscribe(func(ev models.KnockEvent) {
		k.enqueue(pool, ev)
	})
	k.running = true

	k.logger.Info().
		Str("topic", k.topic).
		Int("workers", k.workers).
		Int("qos", k.qos).
		Msg("KnockFeedService started")
	return nil
}

// Stop unsubscribes and drains events already queued.
func (k *KnockFeedService) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.running {
		k.logger.Warn().Msg("KnockFeedService is not running")
		return errors.New("knock feed service is not running")
	}

	k.unsubscribe()
	k.pool.Shutdown()
	k.running = false

	k.logger.Info().Msg("KnockFeedService stopped")
	return nil
}

// enqueue runs on the store's mutating goroutine, so it never blocks.
func (k *KnockFeedService) enqueue(pool *utils.WorkerPool, ev models.KnockEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		k.logger.Error().Err(err).Str("knock_id", ev.Knock.ID).Msg("Failed to serialize knock event")
		return
	}

	err = pool.TrySubmit(func() {
		if err := k.publisher.Publish(k.topic, byte(k.qos), false, payload); err != nil {
			k.metrics.FeedPublishFailed()
			k.logger.Error().
				Err(err).
				Str("knock_id", ev.Knock.ID).
				Str("event", string(ev.Type)).
				Msg("Failed to publish knock event")
		}
	})
	if err != nil {
		k.metrics.FeedPublishFailed()
		k.logger.Warn().Err(err).Str("knock_id", ev.Knock.ID).Msg("Dropping knock event")
	}
}
