package location

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/rs/zerolog"
	"github.com/tarm/serial"
)

// DefaultUERE is the user equivalent range error, in meters, assumed for a
// consumer GNSS receiver. Horizontal accuracy is estimated as HDOP × UERE.
const DefaultUERE = 5.0

const knotsToMetersPerSecond = 0.514444

// PortOpener opens the byte stream a receiver writes NMEA sentences to.
type PortOpener func() (io.ReadCloser, error)

// SerialPortOpener opens a serial GNSS receiver.
func SerialPortOpener(port string, baudRate int) PortOpener {
	return func() (io.ReadCloser, error) {
		return serial.OpenPort(&serial.Config{Name: port, Baud: baudRate})
	}
}

// DeviceSensorProvider reads fixes from a GNSS receiver speaking NMEA 0183.
type DeviceSensorProvider struct {
	open   PortOpener
	uere   float64
	now    func() time.Time
	logger zerolog.Logger
}

// NewDeviceSensorProvider creates a provider for the receiver on the given serial port.
func NewDeviceSensorProvider(port string, baudRate int, uere float64, logger zerolog.Logger) *DeviceSensorProvider {
	return NewStreamSensorProvider(SerialPortOpener(port, baudRate), uere, logger)
}

// NewStreamSensorProvider creates a provider over any NMEA byte stream.
func NewStreamSensorProvider(open PortOpener, uere float64, logger zerolog.Logger) *DeviceSensorProvider {
	if uere <= 0 {
		uere = DefaultUERE
	}
	return &DeviceSensorProvider{
		open:   open,
		uere:   uere,
		now:    time.Now,
		logger: logger,
	}
}

// CurrentPosition returns the first valid fix the receiver reports.
func (d *DeviceSensorProvider) CurrentPosition(ctx context.Context, opts Options) (Position, error) {
	return firstFix(ctx, d, opts)
}

// WatchPosition opens the port and streams one fix per valid GGA sentence.
// Cancelling closes the port, which ends the read loop.
// When opts.Timeout is set and no fix arrives within it, onError receives a
// timeout and the stream keeps running.
func (d *DeviceSensorProvider) WatchPosition(opts Options, onFix func(Position), onError func(error)) (Subscription, error) {
	port, err := d.open()
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, NewLocationError(CodePermissionDenied, err)
		}
		return nil, NewLocationError(CodePositionUnavailable, err)
	}

	stop := make(chan struct{})
	var stopped sync.Once
	isStopped := func() bool {
		select {
		case <-stop:
			return true
		default:
			return false
		}
	}

	// watchdog is built before any goroutine can touch it
	var watchdog *time.Timer
	if opts.Timeout > 0 {
		watchdog = time.NewTimer(opts.Timeout)
		go func() {
			for {
				select {
				case <-stop:
					return
				case <-watchdog.C:
					if isStopped() {
						return
					}
					onError(NewLocationError(CodeTimeout, nil))
					watchdog.Reset(opts.Timeout)
				}
			}
		}()
	}

	go func() {
		reader := newSentenceReader(d.uere, d.now)
		scanner := bufio.NewScanner(port)
		for scanner.Scan() {
			pos, ok := reader.feed(scanner.Text())
			if !ok {
				continue
			}
			if isStopped() {
				return
			}
			if watchdog != nil {
				watchdog.Reset(opts.Timeout)
			}
			onFix(pos)
		}
		if isStopped() {
			return
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		d.logger.Error().Err(err).Msg("GNSS stream ended")
		onError(NewLocationError(CodePositionUnavailable, err))
	}()

	return newOnceSubscription(func() {
		stopped.Do(func() { close(stop) })
		if watchdog != nil {
			watchdog.Stop()
		}
		if err := port.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to close GNSS port")
		}
	}), nil
}

// sentenceReader accumulates NMEA sentences into fixes. GGA carries the
// position and HDOP; the latest RMC contributes date, speed and course.
type sentenceReader struct {
	uere    float64
	now     func() time.Time
	lastRMC *nmea.RMC
}

func newSentenceReader(uere float64, now func() time.Time) *sentenceReader {
	return &sentenceReader{uere: uere, now: now}
}

// feed parses one line and returns a fix when the line completes one.
func (r *sentenceReader) feed(line string) (Position, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Position{}, false
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return Position{}, false
	}

	switch s := sentence.(type) {
	case nmea.RMC:
		if s.Validity == nmea.ValidRMC {
			r.lastRMC = &s
		}
		return Position{}, false
	case nmea.GGA:
		return r.fromGGA(s)
	default:
		return Position{}, false
	}
}

func (r *sentenceReader) fromGGA(gga nmea.GGA) (Position, bool) {
	if gga.FixQuality == nmea.Invalid || gga.HDOP <= 0 {
		return Position{}, false
	}

	pos := Position{
		Latitude:  gga.Latitude,
		Longitude: gga.Longitude,
		Accuracy:  gga.HDOP * r.uere,
		Altitude:  float64Ptr(gga.Altitude),
		Timestamp: r.timestamp(gga.Time),
	}
	if r.lastRMC != nil {
		pos.Speed = float64Ptr(r.lastRMC.Speed * knotsToMetersPerSecond)
		pos.Heading = float64Ptr(r.lastRMC.Course)
	}
	return pos, pos.Valid()
}

// timestamp combines the RMC date with the GGA time of day. Without a date
// the receive time is used.
func (r *sentenceReader) timestamp(t nmea.Time) time.Time {
	if !t.Valid || r.lastRMC == nil || !r.lastRMC.Date.Valid {
		return r.now().UTC()
	}
	d := r.lastRMC.Date
	year := 2000 + d.YY
	if d.YY >= 80 {
		year = 1900 + d.YY
	}
	return time.Date(year, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}
