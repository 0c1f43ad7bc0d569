package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/knock-agent/internal/constants"
	mqtt_middleware "github.com/benmeehan/knock-agent/internal/middlewares/mqtt"
	"github.com/benmeehan/knock-agent/internal/models"
	"github.com/benmeehan/knock-agent/internal/store"
	"github.com/benmeehan/knock-agent/internal/utils"
	"github.com/benmeehan/knock-agent/pkg/identity"
	"github.com/rs/zerolog"
)

// HeartbeatService periodically announces the canvasser is online with the day's tally.
type HeartbeatService struct {
	PubTopic      string
	Interval      time.Duration
	QOS           int
	CanvasserInfo identity.CanvasserInfoInterface
	Knocks        store.KnockRepository
	Publisher     mqtt_middleware.Publisher
	Logger        zerolog.Logger

	now    func() time.Time
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeatService initializes a new HeartbeatService.
func NewHeartbeatService(pubTopic string, interval time.Duration, qos int, canvasserInfo identity.CanvasserInfoInterface,
	knocks store.KnockRepository, publisher mqtt_middleware.Publisher, logger zerolog.Logger) *HeartbeatService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &HeartbeatService{
		PubTopic:      pubTopic,
		Interval:      interval,
		QOS:           qos,
		CanvasserInfo: canvasserInfo,
		Knocks:        knocks,
		Publisher:     publisher,
		Logger:        logger,
		now:           time.Now,
	}
}

// Start sends an initial heartbeat and launches the loop.
func (h *HeartbeatService) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx != nil {
		h.Logger.Warn().Msg("HeartbeatService is already running")
		return errors.New("heartbeat service is already running")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.publish(constants.StatusOnline)

	ctx := h.ctx
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runHeartbeatLoop(ctx)
	}()

	h.Logger.Info().Str("topic", h.PubTopic).Msg("HeartbeatService started successfully")
	return nil
}

// Stop ends the loop and announces the canvasser offline.
func (h *HeartbeatService) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx == nil {
		h.Logger.Warn().Msg("HeartbeatService is not running")
		return errors.New("heartbeat service is not running")
	}

	h.cancel()
	h.wg.Wait()
	h.ctx = nil
	h.cancel = nil

	h.publish(constants.StatusOffline)
	h.Logger.Info().Msg("HeartbeatService stopped successfully")
	return nil
}

func (h *HeartbeatService) runHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.publish(constants.StatusOnline)
		case <-ctx.Done():
			h.Logger.Info().Msg("HeartbeatService stopping gracefully")
			return
		}
	}
}

func (h *HeartbeatService) publish(status string) {
	now := h.now()
	start, end := utils.DayBounds(now)
	message := models.Heartbeat{
		CanvasserID:   h.CanvasserInfo.GetCanvasserID(),
		CanvasserName: h.CanvasserInfo.GetCanvasserName(),
		Timestamp:     now.UTC(),
		Status:        status,
		Today:         h.Knocks.Stats(start.UTC(), end.UTC()),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to serialize heartbeat message")
		return
	}
	if err := h.Publisher.Publish(h.PubTopic, byte(h.QOS), false, payload); err != nil {
		h.Logger.Error().Err(err).Msg("Failed to publish heartbeat message")
		return
	}
	h.Logger.Debug().Str("status", status).Msg("Heartbeat published successfully")
}
