package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"googlemaps.github.io/maps"
)

// CommandRunner runs an external tool and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%s not found: %w", name, err)
	}
	return exec.CommandContext(ctx, name, args...).Output()
}

// SignalScanner collects radio observations for network geolocation using
// NetworkManager (nmcli) and ModemManager (mmcli).
type SignalScanner struct {
	run        CommandRunner
	modemIndex int
}

// NewSignalScanner creates a scanner that shells out to the system tools.
func NewSignalScanner(modemIndex int) *SignalScanner {
	return &SignalScanner{run: execRunner, modemIndex: modemIndex}
}

// NewSignalScannerWithRunner creates a scanner with a custom command runner.
func NewSignalScannerWithRunner(run CommandRunner, modemIndex int) *SignalScanner {
	return &SignalScanner{run: run, modemIndex: modemIndex}
}

// WiFiAccessPoints lists visible access points with their signal strength.
func (s *SignalScanner) WiFiAccessPoints(ctx context.Context) ([]maps.WiFiAccessPoint, error) {
	output, err := s.run(ctx, "nmcli", "-t", "-f", "BSSID,SIGNAL", "dev", "wifi", "list")
	if err != nil {
		return nil, fmt.Errorf("failed to run nmcli: %w", err)
	}

	var aps []maps.WiFiAccessPoint
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		fields := splitTerse(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		mac := strings.TrimSpace(fields[0])
		if !isValidMAC(mac) {
			continue
		}
		// nmcli reports signal as a 0-100 quality; Google expects dBm.
		quality, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			continue
		}
		aps = append(aps, maps.WiFiAccessPoint{
			MACAddress:     mac,
			SignalStrength: qualityToDBm(quality),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan nmcli output: %w", err)
	}
	if len(aps) == 0 {
		return nil, errors.New("no wifi access points visible")
	}
	return aps, nil
}

// CellTowers returns the serving cell of the configured modem.
func (s *SignalScanner) CellTowers(ctx context.Context) ([]maps.CellTower, error) {
	output, err := s.run(ctx, "mmcli", "-m", strconv.Itoa(s.modemIndex), "--location-get", "--output-keyvalue")
	if err != nil {
		return nil, fmt.Errorf("failed to run mmcli for modem %d: %w", s.modemIndex, err)
	}

	var tower maps.CellTower
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		switch key {
		case "modem.location.3gpp.mcc":
			if v, err := strconv.Atoi(value); err == nil {
				tower.MobileCountryCode = v
			}
		case "modem.location.3gpp.mnc":
			if v, err := strconv.Atoi(value); err == nil {
				tower.MobileNetworkCode = v
			}
		case "modem.location.3gpp.lac":
			if v, err := strconv.ParseInt(value, 16, 64); err == nil {
				tower.LocationAreaCode = int(v)
			}
		case "modem.location.3gpp.tac":
			if tower.LocationAreaCode != 0 {
				continue
			}
			if v, err := strconv.ParseInt(value, 16, 64); err == nil {
				tower.LocationAreaCode = int(v)
			}
		case "modem.location.3gpp.cid":
			if v, err := strconv.ParseInt(value, 16, 64); err == nil {
				tower.CellID = int(v)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan mmcli output: %w", err)
	}

	if tower.MobileCountryCode == 0 || tower.CellID == 0 {
		return nil, errors.New("incomplete cell tower data")
	}
	return []maps.CellTower{tower}, nil
}

// splitTerse splits an nmcli terse line on unescaped colons. nmcli escapes
// colons inside values, so a BSSID arrives as AA\:BB\:....
func splitTerse(line string) []string {
	var (
		fields []string
		cur    strings.Builder
		escape bool
	)
	for _, r := range line {
		switch {
		case escape:
			cur.WriteRune(r)
			escape = false
		case r == '\\':
			escape = true
		case r == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, cur.String())
}

// qualityToDBm maps nmcli's 0-100 signal quality onto -100..-50 dBm.
func qualityToDBm(quality int) float64 {
	if quality < 0 {
		quality = 0
	}
	if quality > 100 {
		quality = 100
	}
	return float64(quality)/2 - 100
}

// isValidMAC checks if the MAC address is in a valid format (e.g., "00:14:22:01:23:45").
func isValidMAC(mac string) bool {
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return false
	}
	for _, part := range parts {
		if len(part) != 2 {
			return false
		}
		if _, err := strconv.ParseUint(part, 16, 8); err != nil {
			return false
		}
	}
	return true
}
