package location

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"googlemaps.github.io/maps"
)

// ReverseGeocoder resolves a coordinate to a street address. It is best
// effort: an unresolvable point yields ok == false, never an error.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (address string, ok bool)
}

// AddressLookup is the subset of the Maps client used for reverse geocoding.
type AddressLookup interface {
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// GoogleReverseGeocoder resolves addresses with the Google Geocoding API.
type GoogleReverseGeocoder struct {
	client  AddressLookup
	timeout time.Duration
	logger  zerolog.Logger
}

// NewGoogleReverseGeocoder creates a geocoder using the given API key.
func NewGoogleReverseGeocoder(apiKey string, timeout time.Duration, logger zerolog.Logger) (*GoogleReverseGeocoder, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return NewAddressLookupGeocoder(c, timeout, logger), nil
}

// NewAddressLookupGeocoder wraps an existing lookup client.
func NewAddressLookupGeocoder(client AddressLookup, timeout time.Duration, logger zerolog.Logger) *GoogleReverseGeocoder {
	return &GoogleReverseGeocoder{client: client, timeout: timeout, logger: logger}
}

// ReverseGeocode implements ReverseGeocoder.
func (g *GoogleReverseGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, bool) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lng},
	})
	if err != nil {
		g.logger.Warn().Err(err).Float64("lat", lat).Float64("lng", lng).Msg("Reverse geocode failed")
		return "", false
	}
	if len(results) == 0 {
		return "", false
	}

	address := FormatAddress(results[0])
	return address, address != ""
}

// FormatAddress builds "<number> <route>, <locality>, <state>" from the
// result's components, falling back to the formatted address.
func FormatAddress(r maps.GeocodingResult) string {
	var number, route, locality, state string
	for _, c := range r.AddressComponents {
		for _, t := range c.Types {
			switch t {
			case "street_number":
				number = c.LongName
			case "route":
				route = c.LongName
			case "locality", "postal_town", "sublocality":
				if locality == "" {
					locality = c.LongName
				}
			case "administrative_area_level_1":
				state = c.ShortName
			}
		}
	}

	var parts []string
	switch {
	case number != "" && route != "":
		parts = append(parts, number+" "+route)
	case route != "":
		parts = append(parts, route)
	}
	if locality != "" {
		parts = append(parts, locality)
	}
	if state != "" {
		parts = append(parts, state)
	}
	if len(parts) == 0 {
		return r.FormattedAddress
	}
	return strings.Join(parts, ", ")
}

// NoopGeocoder never resolves an address.
type NoopGeocoder struct{}

func (NoopGeocoder) ReverseGeocode(context.Context, float64, float64) (string, bool) {
	return "", false
}
