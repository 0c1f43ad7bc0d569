package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"
)

type mockGeolocator struct {
	mock.Mock
}

func (m *mockGeolocator) Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error) {
	args := m.Called(ctx, r)
	res, _ := args.Get(0).(*maps.GeolocationResult)
	return res, args.Error(1)
}

func radioScanner() *SignalScanner {
	return NewSignalScannerWithRunner(staticRunner(map[string]string{
		"nmcli": `AA\:BB\:CC\:DD\:EE\:FF:80`,
		"mmcli": "modem.location.3gpp.mcc : 310\nmodem.location.3gpp.cid : 1F",
	}, nil), 0)
}

func TestGoogleGeolocationProvider_HighAccuracyUsesRadios(t *testing.T) {
	client := new(mockGeolocator)
	client.On("Geolocate", mock.Anything, mock.MatchedBy(func(r *maps.GeolocationRequest) bool {
		return r.ConsiderIP && len(r.WiFiAccessPoints) == 1 && len(r.CellTowers) == 1
	})).Return(&maps.GeolocationResult{Location: maps.LatLng{Lat: 39.74, Lng: -104.99}, Accuracy: 35}, nil)

	p := NewGeolocatorProvider(client, radioScanner(), time.Second, zerolog.Nop())
	pos, err := p.CurrentPosition(context.Background(), Options{HighAccuracy: true, Timeout: time.Second})

	require.NoError(t, err)
	assert.Equal(t, 39.74, pos.Latitude)
	assert.Equal(t, -104.99, pos.Longitude)
	assert.Equal(t, 35.0, pos.Accuracy)
	assert.False(t, pos.Timestamp.IsZero())
	client.AssertExpectations(t)
}

func TestGoogleGeolocationProvider_LowAccuracyIPOnly(t *testing.T) {
	client := new(mockGeolocator)
	client.On("Geolocate", mock.Anything, mock.MatchedBy(func(r *maps.GeolocationRequest) bool {
		return r.ConsiderIP && len(r.WiFiAccessPoints) == 0 && len(r.CellTowers) == 0
	})).Return(&maps.GeolocationResult{Location: maps.LatLng{Lat: 1, Lng: 2}, Accuracy: 2500}, nil)

	p := NewGeolocatorProvider(client, radioScanner(), time.Second, zerolog.Nop())
	pos, err := p.CurrentPosition(context.Background(), Options{})

	require.NoError(t, err)
	assert.Equal(t, 2500.0, pos.Accuracy)
}

func TestGoogleGeolocationProvider_ScanFailureDegrades(t *testing.T) {
	client := new(mockGeolocator)
	client.On("Geolocate", mock.Anything, mock.Anything).
		Return(&maps.GeolocationResult{Location: maps.LatLng{Lat: 1, Lng: 2}, Accuracy: 900}, nil)

	scanner := NewSignalScannerWithRunner(staticRunner(nil, errors.New("missing tool")), 0)
	p := NewGeolocatorProvider(client, scanner, time.Second, zerolog.Nop())
	_, err := p.CurrentPosition(context.Background(), Options{HighAccuracy: true})

	assert.NoError(t, err)
}

func TestGoogleGeolocationProvider_APIError(t *testing.T) {
	client := new(mockGeolocator)
	client.On("Geolocate", mock.Anything, mock.Anything).Return(nil, errors.New("REQUEST_DENIED"))

	p := NewGeolocatorProvider(client, nil, time.Second, zerolog.Nop())
	_, err := p.CurrentPosition(context.Background(), Options{HighAccuracy: true})

	assert.True(t, errors.Is(err, ErrPositionUnavailable))
}

func TestGoogleGeolocationProvider_WatchPolls(t *testing.T) {
	client := new(mockGeolocator)
	client.On("Geolocate", mock.Anything, mock.Anything).
		Return(&maps.GeolocationResult{Location: maps.LatLng{Lat: 1, Lng: 2}, Accuracy: 40}, nil)

	p := NewGeolocatorProvider(client, nil, 10*time.Millisecond, zerolog.Nop())

	var mu sync.Mutex
	count := 0
	sub, err := p.WatchPosition(Options{}, func(Position) {
		mu.Lock()
		count++
		mu.Unlock()
	}, func(error) {})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 3
	}, time.Second, 5*time.Millisecond)

	sub.Cancel()
	// let a poll that passed the cancellation check finish
	time.Sleep(5 * time.Millisecond)
	mu.Lock()
	after := count
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, after, count)
	mu.Unlock()
	sub.Cancel()
}

func TestGoogleGeolocationProvider_CancelFromCallback(t *testing.T) {
	client := new(mockGeolocator)
	client.On("Geolocate", mock.Anything, mock.Anything).Return(nil, errors.New("REQUEST_DENIED"))

	p := NewGeolocatorProvider(client, nil, 10*time.Millisecond, zerolog.Nop())

	var sub Subscription
	var once sync.Once
	subReady := make(chan struct{})
	returned := make(chan struct{})
	s, err := p.WatchPosition(Options{}, func(Position) {}, func(error) {
		<-subReady
		once.Do(func() {
			sub.Cancel()
			close(returned)
		})
	})
	require.NoError(t, err)
	sub = s
	close(subReady)

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel called from onError did not return")
	}
}

func TestAcquirer_WatchCancelFromOnError(t *testing.T) {
	client := new(mockGeolocator)
	client.On("Geolocate", mock.Anything, mock.Anything).Return(nil, errors.New("REQUEST_DENIED"))

	a := NewAcquirer(NewGeolocatorProvider(client, nil, 10*time.Millisecond, zerolog.Nop()), DefaultAcquirerConfig(), zerolog.Nop())

	var (
		mu     sync.Mutex
		cancel func()
		calls  int
	)
	returned := make(chan struct{})
	mu.Lock()
	cancel = a.Watch(func(Position) {}, func(*LocationError) {
		mu.Lock()
		c := cancel
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			c()
			close(returned)
		}
	})
	mu.Unlock()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel called from onError did not return")
	}

	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}
