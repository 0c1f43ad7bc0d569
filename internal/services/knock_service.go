package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/knock-agent/internal/models"
	"github.com/benmeehan/knock-agent/internal/observability"
	"github.com/benmeehan/knock-agent/internal/store"
	"github.com/benmeehan/knock-agent/pkg/identity"
	"github.com/benmeehan/knock-agent/pkg/location"
	"github.com/rs/zerolog"
)

// ErrInvalidPosition is returned when a caller supplies an unusable fix.
var ErrInvalidPosition = errors.New("invalid position")

// PositionSource is the acquisition surface the knock flow uses.
type PositionSource interface {
	AcquireBest(ctx context.Context, maxWait time.Duration, minAccuracy float64) (location.Position, error)
}

// LogKnockRequest is one knock to record. A nil Position means acquire one now.
type LogKnockRequest struct {
	Outcome   models.Outcome     `json:"result"`
	Notes     string             `json:"notes,omitempty"`
	Address   string             `json:"address,omitempty"`
	Position  *location.Position `json:"position,omitempty"`
	Confirmed bool               `json:"confirmed,omitempty"`
}

// LogResult reports what LogKnock did. Knock is nil when NeedsConfirmation is set.
type LogResult struct {
	Knock             *models.Knock     `json:"knock,omitempty"`
	Position          location.Position `json:"position"`
	Rating            location.Rating   `json:"rating"`
	AccuracyLabel     string            `json:"accuracy_label"`
	NeedsConfirmation bool              `json:"needs_confirmation"`
}

// KnockService ties acquisition, geocoding and storage into the knock flow.
type KnockService struct {
	positions   PositionSource
	store       store.KnockRepository
	geocoder    location.ReverseGeocoder
	canvasser   identity.CanvasserInfoInterface
	thresholds  location.Thresholds
	maxWait     time.Duration
	minAccuracy float64
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// NewKnockService creates a KnockService. A nil geocoder disables address lookup.
func NewKnockService(positions PositionSource, knockStore store.KnockRepository, geocoder location.ReverseGeocoder,
	canvasser identity.CanvasserInfoInterface, thresholds location.Thresholds, acquisition location.AcquirerConfig,
	metrics *observability.Metrics, logger zerolog.Logger) *KnockService {
	if geocoder == nil {
		geocoder = location.NoopGeocoder{}
	}
	return &KnockService{
		positions:   positions,
		store:       knockStore,
		geocoder:    geocoder,
		canvasser:   canvasser,
		thresholds:  thresholds,
		maxWait:     acquisition.MaxWait,
		minAccuracy: acquisition.MinAccuracy,
		metrics:     metrics,
		logger:      logger,
	}
}

// LogKnock records a knock at the supplied or freshly acquired position.
// Fixes worse than the acceptable threshold are held back until the caller
// resends with Confirmed set. Location failures come back as *location.LocationError.
func (s *KnockService) LogKnock(ctx context.Context, req LogKnockRequest) (LogResult, error) {
	if !req.Outcome.Valid() {
		return LogResult{}, fmt.Errorf("%w: %q", store.ErrInvalidOutcome, req.Outcome)
	}

	pos, err := s.resolvePosition(ctx, req.Position)
	if err != nil {
		return LogResult{}, err
	}

	result := LogResult{
		Position:      pos,
		Rating:        s.thresholds.Classify(pos.Accuracy),
		AccuracyLabel: location.FormatAccuracy(pos.Accuracy),
	}

	if s.thresholds.RequiresConfirmation(pos.Accuracy) && !req.Confirmed {
		s.metrics.ConfirmationRequested()
		s.logger.Info().
			Float64("accuracy", pos.Accuracy).
			Str("rating", result.Rating.String()).
			Msg("Knock held for low-accuracy confirmation")
		result.NeedsConfirmation = true
		return result, nil
	}

	address := req.Address
	if address == "" {
		var ok bool
		address, ok = s.geocoder.ReverseGeocode(ctx, pos.Latitude, pos.Longitude)
		if !ok {
			s.metrics.GeocodeFailed()
		}
	}

	knock, err := s.store.Create(models.NewKnock{
		Lat:           pos.Latitude,
		Lng:           pos.Longitude,
		Accuracy:      pos.Accuracy,
		Address:       address,
		Outcome:       req.Outcome,
		Notes:         req.Notes,
		CanvasserID:   s.canvasser.GetCanvasserID(),
		CanvasserName: s.canvasser.GetCanvasserName(),
	})
	if err != nil {
		return LogResult{}, fmt.Errorf("failed to save knock: %w", err)
	}

	s.metrics.KnockLogged(knock.Outcome)
	s.logger.Info().
		Str("knock_id", knock.ID).
		Str("result", string(knock.Outcome)).
		Float64("accuracy", knock.Accuracy).
		Bool("confirmed", req.Confirmed).
		Msg("Knock logged")

	result.Knock = &knock
	return result, nil
}

func (s *KnockService) resolvePosition(ctx context.Context, supplied *location.Position) (location.Position, error) {
	if supplied != nil {
		if !supplied.Valid() {
			return location.Position{}, fmt.Errorf("%w: %+v", ErrInvalidPosition, *supplied)
		}
		return *supplied, nil
	}

	pos, err := s.positions.AcquireBest(ctx, s.maxWait, s.minAccuracy)
	if err != nil {
		locErr := location.AsLocationError(err)
		s.logger.Warn().Err(locErr).Str("code", locErr.Code.String()).Msg("Could not acquire knock position")
		return location.Position{}, locErr
	}
	return pos, nil
}
