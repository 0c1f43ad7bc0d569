package location

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"googlemaps.github.io/maps"
)

const defaultPollInterval = 5 * time.Second

// Geolocator is the subset of the Maps client used for network positioning.
type Geolocator interface {
	Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error)
}

// GoogleGeolocationProvider locates the device from nearby Wi-Fi access
// points, cell towers and its IP address using the Google Geolocation API.
type GoogleGeolocationProvider struct {
	client       Geolocator
	scanner      *SignalScanner
	pollInterval time.Duration
	logger       zerolog.Logger
}

// NewGoogleGeolocationProvider creates a provider backed by the Maps API.
func NewGoogleGeolocationProvider(apiKey string, modemIndex int, pollInterval time.Duration, logger zerolog.Logger) (*GoogleGeolocationProvider, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return NewGeolocatorProvider(c, NewSignalScanner(modemIndex), pollInterval, logger), nil
}

// NewGeolocatorProvider wires a provider from an existing client and scanner.
func NewGeolocatorProvider(client Geolocator, scanner *SignalScanner, pollInterval time.Duration, logger zerolog.Logger) *GoogleGeolocationProvider {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &GoogleGeolocationProvider{
		client:       client,
		scanner:      scanner,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// CurrentPosition performs one geolocation request. Every call is a fresh
// measurement, so MaxCachedAge is always satisfied.
func (g *GoogleGeolocationProvider) CurrentPosition(ctx context.Context, opts Options) (Position, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req := &maps.GeolocationRequest{ConsiderIP: true}
	if opts.HighAccuracy && g.scanner != nil {
		// Missing radios degrade accuracy but do not fail the request.
		if aps, err := g.scanner.WiFiAccessPoints(ctx); err != nil {
			g.logger.Debug().Err(err).Msg("Wi-Fi scan unavailable")
		} else {
			req.WiFiAccessPoints = aps
		}
		if towers, err := g.scanner.CellTowers(ctx); err != nil {
			g.logger.Debug().Err(err).Msg("Cell tower scan unavailable")
		} else {
			req.CellTowers = towers
		}
	}

	resp, err := g.client.Geolocate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Position{}, NewLocationError(CodeTimeout, err)
		}
		return Position{}, NewLocationError(CodePositionUnavailable, err)
	}

	return Position{
		Latitude:  resp.Location.Lat,
		Longitude: resp.Location.Lng,
		Accuracy:  resp.Accuracy,
		Timestamp: time.Now().UTC(),
	}, nil
}

// WatchPosition polls CurrentPosition every poll interval until cancelled.
// The first request is issued immediately. Cancel does not wait for the poll
// goroutine, so it is safe to call from inside onFix or onError. A callback
// already past the cancellation check may still finish.
func (g *GoogleGeolocationProvider) WatchPosition(opts Options, onFix func(Position), onError func(error)) (Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(g.pollInterval)
		defer ticker.Stop()

		for {
			pos, err := g.CurrentPosition(ctx, opts)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				onError(err)
			} else {
				onFix(pos)
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return newOnceSubscription(cancel), nil
}
