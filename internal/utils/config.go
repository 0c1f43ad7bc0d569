package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/knock-agent/pkg/file"
	"github.com/benmeehan/knock-agent/pkg/location"
)

// Location provider backends.
const (
	ProviderNMEA   = "nmea"
	ProviderGoogle = "google"
	ProviderNone   = "none"
)

// Config represents the structure of the configuration file.
type Config struct {
	MQTT struct {
		Enabled       bool          `yaml:"enabled"`        // Connect to the broker at startup
		Broker        string        `yaml:"broker"`         // MQTT broker address
		ClientID      string        `yaml:"client_id"`      // MQTT client ID, generated when empty
		CACertificate string        `yaml:"ca_certificate"` // Path to the CA certificate
		Timeout       time.Duration `yaml:"timeout"`        // Broker acknowledgement budget per operation
	} `yaml:"mqtt"`

	Identity struct {
		CanvasserFile string `yaml:"canvasser_file"` // Path to the canvasser identity file
	} `yaml:"identity"`

	Location struct {
		Provider       string                  `yaml:"provider"`        // nmea, google or none
		GPSDevicePort  string                  `yaml:"gps_device_port"` // Serial port where the GNSS receiver is mounted
		GPSBaudRate    int                     `yaml:"gps_baud_rate"`   // Baud rate for the GNSS receiver
		UERE           float64                 `yaml:"uere"`            // Meters of error per unit of HDOP
		MapsAPIKey     string                  `yaml:"maps_api_key"`    // Google Maps API key
		ModemIndex     int                     `yaml:"modem_index"`     // ModemManager index used for cell scans
		PollInterval   time.Duration           `yaml:"poll_interval"`   // Network provider watch interval
		GeocodeTimeout time.Duration           `yaml:"geocode_timeout"` // Reverse geocoding budget per knock
		Thresholds     location.Thresholds     `yaml:"thresholds"`      // Accuracy rating cutoffs
		Acquisition    location.AcquirerConfig `yaml:"acquisition"`     // Acquisition timings and target
	} `yaml:"location"`

	Services struct {
		LiveLocation struct {
			Enabled  bool          `yaml:"enabled"`  // Publish live position while tracking
			Topic    string        `yaml:"topic"`    // MQTT topic for live location
			QOS      int           `yaml:"qos"`      // MQTT QoS level for live location messages
			Interval time.Duration `yaml:"interval"` // Minimum gap between published fixes
		} `yaml:"live_location"`

		Heartbeat struct {
			Enabled  bool          `yaml:"enabled"`  // Announce presence and daily tally
			Topic    string        `yaml:"topic"`    // MQTT topic for heartbeats
			QOS      int           `yaml:"qos"`      // MQTT QoS level for heartbeats
			Interval time.Duration `yaml:"interval"` // Interval between heartbeats
		} `yaml:"heartbeat"`

		KnockFeed struct {
			Enabled bool   `yaml:"enabled"` // Publish knock events
			Topic   string `yaml:"topic"`   // MQTT topic for knock events
			QOS     int    `yaml:"qos"`     // MQTT QoS level for knock events
			Workers int    `yaml:"workers"` // Publisher pool size
		} `yaml:"knock_feed"`
	} `yaml:"services"`

	Knocks struct {
		StoreFile        string        `yaml:"store_file"`        // JSON snapshot of logged knocks
		SnapshotInterval time.Duration `yaml:"snapshot_interval"` // Periodic snapshot cadence, 0 saves only on shutdown
	} `yaml:"knocks"`

	Middlewares struct {
		Envelope struct {
			Enabled bool `yaml:"enabled"` // Wrap published payloads with sender metadata
		} `yaml:"envelope"`
	} `yaml:"middlewares"`

	HTTP struct {
		Enabled         bool          `yaml:"enabled"`          // Serve the HTTP API
		Address         string        `yaml:"address"`          // Listen address
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Graceful shutdown budget
		OriginPatterns  []string      `yaml:"origin_patterns"`  // Hosts allowed to open the WebSocket feed cross-origin
		AllowAnyOrigin  bool          `yaml:"allow_any_origin"` // Development only: skip the WebSocket origin check
		Auth            struct {
			Enabled    bool   `yaml:"enabled"`     // Require a bearer token on /v1
			SecretFile string `yaml:"secret_file"` // Path to the HS256 signing secret
		} `yaml:"auth"`
	} `yaml:"http"`
}

// LoadConfig loads the YAML configuration from the specified file,
// fills defaults and validates the result.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return &config, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.MQTT.Timeout == 0 {
		c.MQTT.Timeout = 10 * time.Second
	}
	if c.Identity.CanvasserFile == "" {
		c.Identity.CanvasserFile = "canvasser.json"
	}

	loc := &c.Location
	if loc.Provider == "" {
		loc.Provider = ProviderNMEA
	}
	if loc.GPSDevicePort == "" {
		loc.GPSDevicePort = "/dev/ttyUSB0"
	}
	if loc.GPSBaudRate == 0 {
		loc.GPSBaudRate = 9600
	}
	if loc.UERE == 0 {
		loc.UERE = location.DefaultUERE
	}
	if loc.PollInterval == 0 {
		loc.PollInterval = 5 * time.Second
	}
	if loc.GeocodeTimeout == 0 {
		loc.GeocodeTimeout = 3 * time.Second
	}
	if loc.Thresholds == (location.Thresholds{}) {
		loc.Thresholds = location.DefaultThresholds
	}
	d := location.DefaultAcquirerConfig()
	if loc.Acquisition.MaxWait == 0 {
		loc.Acquisition.MaxWait = d.MaxWait
	}
	if loc.Acquisition.MinAccuracy == 0 {
		loc.Acquisition.MinAccuracy = d.MinAccuracy
	}
	if loc.Acquisition.QuickTimeout == 0 {
		loc.Acquisition.QuickTimeout = d.QuickTimeout
	}
	if loc.Acquisition.WatchTimeout == 0 {
		loc.Acquisition.WatchTimeout = d.WatchTimeout
	}
	if loc.Acquisition.WatchMaxAge == 0 {
		loc.Acquisition.WatchMaxAge = d.WatchMaxAge
	}

	live := &c.Services.LiveLocation
	if live.Topic == "" {
		live.Topic = "canvassers/location"
	}
	if live.Interval == 0 {
		live.Interval = 15 * time.Second
	}

	hb := &c.Services.Heartbeat
	if hb.Topic == "" {
		hb.Topic = "canvassers/heartbeat"
	}
	if hb.Interval == 0 {
		hb.Interval = time.Minute
	}

	feed := &c.Services.KnockFeed
	if feed.Topic == "" {
		feed.Topic = "canvassers/knocks"
	}
	if feed.Workers == 0 {
		feed.Workers = 2
	}

	if c.Knocks.StoreFile == "" {
		c.Knocks.StoreFile = "knocks.json"
	}

	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Location.Provider {
	case ProviderNMEA, ProviderGoogle, ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("unknown location provider %q", c.Location.Provider))
	}
	if c.Location.Provider == ProviderGoogle && c.Location.MapsAPIKey == "" {
		errs = append(errs, errors.New("location.maps_api_key is required for the google provider"))
	}
	if err := c.Location.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Location.UERE <= 0 {
		errs = append(errs, fmt.Errorf("location.uere must be positive, got %v", c.Location.UERE))
	}
	if c.Location.Acquisition.MinAccuracy < 0 || c.Location.Acquisition.MaxWait < 0 {
		errs = append(errs, errors.New("location.acquisition values must not be negative"))
	}

	needsBroker := c.Services.LiveLocation.Enabled || c.Services.KnockFeed.Enabled || c.Services.Heartbeat.Enabled
	if needsBroker && (!c.MQTT.Enabled || c.MQTT.Broker == "") {
		errs = append(errs, errors.New("mqtt must be enabled with a broker when publishing services are on"))
	}
	for name, qos := range map[string]int{
		"live_location": c.Services.LiveLocation.QOS,
		"heartbeat":     c.Services.Heartbeat.QOS,
		"knock_feed":    c.Services.KnockFeed.QOS,
	} {
		if qos < 0 || qos > 2 {
			errs = append(errs, fmt.Errorf("services.%s.qos must be 0, 1 or 2, got %d", name, qos))
		}
	}
	if c.HTTP.Auth.Enabled && c.HTTP.Auth.SecretFile == "" {
		errs = append(errs, errors.New("http.auth.secret_file is required when auth is enabled"))
	}
	if c.HTTP.AllowAnyOrigin && c.HTTP.Auth.Enabled {
		errs = append(errs, errors.New("http.allow_any_origin cannot be combined with http.auth"))
	}
	if c.Services.KnockFeed.Workers < 0 {
		errs = append(errs, errors.New("services.knock_feed.workers must not be negative"))
	}

	return errors.Join(errs...)
}
