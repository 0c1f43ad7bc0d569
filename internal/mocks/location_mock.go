package mocks

import (
	"context"
	"time"

	"github.com/benmeehan/knock-agent/pkg/location"
	"github.com/stretchr/testify/mock"
)

// PositionSource is a mock implementation of the services.PositionSource interface.
type PositionSource struct {
	mock.Mock
}

func (m *PositionSource) AcquireBest(ctx context.Context, maxWait time.Duration, minAccuracy float64) (location.Position, error) {
	args := m.Called(ctx, maxWait, minAccuracy)
	return args.Get(0).(location.Position), args.Error(1)
}

func (m *PositionSource) AcquireQuick(ctx context.Context) (location.Position, error) {
	args := m.Called(ctx)
	return args.Get(0).(location.Position), args.Error(1)
}

// ReverseGeocoder is a mock implementation of the location.ReverseGeocoder interface.
type ReverseGeocoder struct {
	mock.Mock
}

func (m *ReverseGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, bool) {
	args := m.Called(ctx, lat, lng)
	return args.String(0), args.Bool(1)
}
