package location

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ggaFix   = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	ggaNoFix = "$GPGGA,123520,4807.038,N,01131.000,E,0,00,,,M,,M,,*58"
	ggaGNSS  = "$GNGGA,123521,4807.040,N,01131.002,E,1,10,2.4,545.0,M,46.9,M,,*5D"
	ggaDGPS  = "$GPGGA,123522,4807.041,N,01131.003,E,2,12,0.6,545.1,M,46.9,M,,*40"
	rmcValid = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,150624,003.1,W*61"
	rmcVoid  = "$GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,150624,003.1,W*76"
	badCheck = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*00"
	noise    = "garbage from the uart"
)

var fixedNow = time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

func newTestReader() *sentenceReader {
	return newSentenceReader(DefaultUERE, func() time.Time { return fixedNow })
}

// TestSentenceReader_GGA converts a valid GGA into a fix with HDOP-based accuracy.
func TestSentenceReader_GGA(t *testing.T) {
	r := newTestReader()

	pos, ok := r.feed(ggaFix)

	require.True(t, ok)
	assert.InDelta(t, 48.1173, pos.Latitude, 1e-4)
	assert.InDelta(t, 11.516667, pos.Longitude, 1e-4)
	assert.InDelta(t, 4.5, pos.Accuracy, 1e-9)
	require.NotNil(t, pos.Altitude)
	assert.InDelta(t, 545.4, *pos.Altitude, 1e-9)
	assert.Nil(t, pos.Speed)
	assert.Equal(t, fixedNow, pos.Timestamp)
}

// TestSentenceReader_MergesRMC takes speed, course and date from the latest valid RMC.
func TestSentenceReader_MergesRMC(t *testing.T) {
	r := newTestReader()

	_, ok := r.feed(rmcValid)
	assert.False(t, ok)
	pos, ok := r.feed(ggaFix)

	require.True(t, ok)
	require.NotNil(t, pos.Speed)
	assert.InDelta(t, 22.4*knotsToMetersPerSecond, *pos.Speed, 1e-9)
	require.NotNil(t, pos.Heading)
	assert.InDelta(t, 84.4, *pos.Heading, 1e-9)
	assert.Equal(t, time.Date(2024, 6, 15, 12, 35, 19, 0, time.UTC), pos.Timestamp)
}

// TestSentenceReader_Skips ignores void fixes, void RMC, bad checksums and noise.
func TestSentenceReader_Skips(t *testing.T) {
	r := newTestReader()

	for _, line := range []string{ggaNoFix, badCheck, noise, "", rmcVoid} {
		_, ok := r.feed(line)
		assert.False(t, ok, line)
	}
	assert.Nil(t, r.lastRMC)
}

// TestSentenceReader_AnyTalker accepts multi-constellation GN sentences.
func TestSentenceReader_AnyTalker(t *testing.T) {
	pos, ok := newTestReader().feed(ggaGNSS)

	require.True(t, ok)
	assert.InDelta(t, 12.0, pos.Accuracy, 1e-9)
}

func newPipeOpener() (PortOpener, *io.PipeWriter) {
	pr, pw := io.Pipe()
	return func() (io.ReadCloser, error) { return pr, nil }, pw
}

// TestDeviceSensorProvider_Watch streams fixes until cancelled.
func TestDeviceSensorProvider_Watch(t *testing.T) {
	open, w := newPipeOpener()
	p := NewStreamSensorProvider(open, 0, zerolog.Nop())

	var mu sync.Mutex
	var fixes []float64
	sub, err := p.WatchPosition(Options{}, func(pos Position) {
		mu.Lock()
		fixes = append(fixes, pos.Accuracy)
		mu.Unlock()
	}, func(error) {})
	require.NoError(t, err)

	go func() {
		fmt.Fprintln(w, ggaFix)
		fmt.Fprintln(w, ggaNoFix)
		fmt.Fprintln(w, ggaDGPS)
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fixes) == 2
	}, time.Second, 5*time.Millisecond)

	sub.Cancel()
	sub.Cancel()

	mu.Lock()
	assert.InDeltaSlice(t, []float64{4.5, 3.0}, fixes, 1e-9)
	mu.Unlock()
}

// TestDeviceSensorProvider_StreamEnd reports position unavailable when the receiver goes away.
func TestDeviceSensorProvider_StreamEnd(t *testing.T) {
	open := func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(ggaNoFix + "\n")), nil
	}
	p := NewStreamSensorProvider(open, DefaultUERE, zerolog.Nop())

	errCh := make(chan error, 1)
	sub, err := p.WatchPosition(Options{}, func(Position) {}, func(err error) { errCh <- err })
	require.NoError(t, err)
	defer sub.Cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrPositionUnavailable))
	case <-time.After(time.Second):
		t.Fatal("expected stream end error")
	}
}

// TestDeviceSensorProvider_Watchdog emits a timeout when the receiver is silent.
func TestDeviceSensorProvider_Watchdog(t *testing.T) {
	open, w := newPipeOpener()
	defer w.Close()
	p := NewStreamSensorProvider(open, DefaultUERE, zerolog.Nop())

	errCh := make(chan error, 4)
	sub, err := p.WatchPosition(Options{Timeout: 20 * time.Millisecond}, func(Position) {}, func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})
	require.NoError(t, err)
	defer sub.Cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrTimeout))
	case <-time.After(time.Second):
		t.Fatal("expected watchdog timeout")
	}
}

// TestDeviceSensorProvider_WatchdogRacesFixes fires the watchdog repeatedly
// while fixes keep resetting it, then checks nothing is delivered after cancel.
func TestDeviceSensorProvider_WatchdogRacesFixes(t *testing.T) {
	open, w := newPipeOpener()
	defer w.Close()
	p := NewStreamSensorProvider(open, DefaultUERE, zerolog.Nop())

	var mu sync.Mutex
	fixes, timeouts := 0, 0
	sub, err := p.WatchPosition(Options{Timeout: time.Millisecond}, func(Position) {
		mu.Lock()
		fixes++
		mu.Unlock()
	}, func(err error) {
		if errors.Is(err, ErrTimeout) {
			mu.Lock()
			timeouts++
			mu.Unlock()
		}
	})
	require.NoError(t, err)

	go func() {
		for i := 0; i < 20; i++ {
			if _, err := fmt.Fprintln(w, ggaFix); err != nil {
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fixes >= 3 && timeouts >= 1
	}, 2*time.Second, 5*time.Millisecond)

	sub.Cancel()
	time.Sleep(5 * time.Millisecond)
	mu.Lock()
	gotFixes, gotTimeouts := fixes, timeouts
	mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, gotFixes, fixes)
	assert.Equal(t, gotTimeouts, timeouts)
	mu.Unlock()
}

// TestDeviceSensorProvider_OpenErrors maps port failures onto location errors.
func TestDeviceSensorProvider_OpenErrors(t *testing.T) {
	denied := NewStreamSensorProvider(func() (io.ReadCloser, error) {
		return nil, &os.PathError{Op: "open", Path: "/dev/ttyUSB0", Err: os.ErrPermission}
	}, DefaultUERE, zerolog.Nop())
	_, err := denied.WatchPosition(Options{}, func(Position) {}, func(error) {})
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	missing := NewStreamSensorProvider(func() (io.ReadCloser, error) {
		return nil, os.ErrNotExist
	}, DefaultUERE, zerolog.Nop())
	_, err = missing.WatchPosition(Options{}, func(Position) {}, func(error) {})
	assert.True(t, errors.Is(err, ErrPositionUnavailable))
}

// TestDeviceSensorProvider_CurrentPosition returns the first valid fix.
func TestDeviceSensorProvider_CurrentPosition(t *testing.T) {
	open := func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(strings.Join([]string{ggaNoFix, ggaDGPS, ggaFix}, "\n"))), nil
	}
	p := NewStreamSensorProvider(open, DefaultUERE, zerolog.Nop())

	pos, err := p.CurrentPosition(context.Background(), Options{Timeout: time.Second})

	require.NoError(t, err)
	assert.InDelta(t, 3.0, pos.Accuracy, 1e-9)
}

// TestDeviceSensorProvider_BestOverStream runs the acquisition policy over a real NMEA stream.
func TestDeviceSensorProvider_BestOverStream(t *testing.T) {
	open, w := newPipeOpener()
	defer w.Close()
	a := NewAcquirer(NewStreamSensorProvider(open, DefaultUERE, zerolog.Nop()), DefaultAcquirerConfig(), zerolog.Nop())

	go func() {
		fmt.Fprintln(w, ggaGNSS)
		fmt.Fprintln(w, ggaFix)
	}()

	pos, err := a.AcquireBest(context.Background(), 200*time.Millisecond, 3)

	require.NoError(t, err)
	assert.InDelta(t, 4.5, pos.Accuracy, 1e-9)
}
