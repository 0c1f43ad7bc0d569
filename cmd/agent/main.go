package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benmeehan/knock-agent/internal/api"
	mqtt_middleware "github.com/benmeehan/knock-agent/internal/middlewares/mqtt"
	"github.com/benmeehan/knock-agent/internal/observability"
	"github.com/benmeehan/knock-agent/internal/service_registry"
	"github.com/benmeehan/knock-agent/internal/services"
	"github.com/benmeehan/knock-agent/internal/store"
	"github.com/benmeehan/knock-agent/internal/utils"
	"github.com/benmeehan/knock-agent/pkg/file"
	"github.com/benmeehan/knock-agent/pkg/identity"
	"github.com/benmeehan/knock-agent/pkg/jwt"
	"github.com/benmeehan/knock-agent/pkg/location"
	"github.com/benmeehan/knock-agent/pkg/mqtt"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the agent configuration")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Set up structured logging with JSON output
	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	fileClient := file.NewFileService()

	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	canvasserInfo := identity.NewCanvasserInfo(config.Identity.CanvasserFile, fileClient)
	if err := canvasserInfo.LoadIdentity(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load canvasser identity")
	}
	log = log.With().Str("canvasser_id", canvasserInfo.GetCanvasserID()).Logger()

	metrics := observability.NewMetrics()

	provider, err := newProvider(config, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize location provider")
	}
	acquirer := location.NewAcquirer(provider, config.Location.Acquisition, log.With().Str("component", "acquirer").Logger())
	acquirer.SetObserver(metrics)

	knocks := store.NewKnockStore(config.Knocks.StoreFile, fileClient, log.With().Str("component", "knock_store").Logger())
	if err := knocks.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load knocks")
	}

	var geocoder location.ReverseGeocoder = location.NoopGeocoder{}
	if config.Location.MapsAPIKey != "" {
		g, err := location.NewGoogleReverseGeocoder(config.Location.MapsAPIKey, config.Location.GeocodeTimeout, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize reverse geocoder")
		}
		geocoder = g
	}

	var (
		mqttClient *mqtt.MqttService
		publisher  mqtt_middleware.Publisher
	)
	serviceRegistry := service_registry.NewServiceRegistry(nil, log)
	if config.MQTT.Enabled {
		// Generate a unique MQTT Client ID by appending a UUID
		clientID := config.MQTT.ClientID
		if clientID == "" {
			clientID = "knock-agent"
		}
		clientID = clientID + "-" + uuid.New().String()
		log.Info().Str("client_id", clientID).Msg("Using MQTT client ID")

		mqttClient = mqtt.NewMqttService(fileClient)
		if err := mqttClient.Initialize(config.MQTT.Broker, clientID, config.MQTT.CACertificate); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}

		serviceRegistry = service_registry.NewServiceRegistry(mqttClient, log)
		chain, err := serviceRegistry.InitializeMiddlewares(config, canvasserInfo)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize MQTT middlewares")
		}
		publisher = chain
	}

	deps := service_registry.Dependencies{
		CanvasserInfo: canvasserInfo,
		Knocks:        knocks,
		Watcher:       acquirer,
		Publisher:     publisher,
		Metrics:       metrics,
	}
	if err := serviceRegistry.RegisterServices(config, deps); err != nil {
		log.Fatal().Err(err).Msg("Failed to register services")
	}

	if config.HTTP.Enabled {
		server, err := newHTTPServer(config, knocks, acquirer, geocoder, canvasserInfo, metrics, fileClient, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize HTTP API")
		}
		serviceRegistry.RegisterService("http_api", server)
	}

	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Strs("services", serviceRegistry.ServiceNames()).Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Services did not stop cleanly")
	}
	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}
}

func newProvider(config *utils.Config, log zerolog.Logger) (location.Provider, error) {
	switch config.Location.Provider {
	case utils.ProviderNMEA:
		return location.NewDeviceSensorProvider(
			config.Location.GPSDevicePort,
			config.Location.GPSBaudRate,
			config.Location.UERE,
			log.With().Str("component", "nmea").Logger(),
		), nil
	case utils.ProviderGoogle:
		return location.NewGoogleGeolocationProvider(
			config.Location.MapsAPIKey,
			config.Location.ModemIndex,
			config.Location.PollInterval,
			log.With().Str("component", "geolocation").Logger(),
		)
	default:
		log.Warn().Msg("No location provider configured, acquisition is disabled")
		return nil, nil
	}
}

func newHTTPServer(config *utils.Config, knocks *store.KnockStore, acquirer *location.Acquirer,
	geocoder location.ReverseGeocoder, canvasserInfo identity.CanvasserInfoInterface,
	metrics *observability.Metrics, fileClient file.FileOperations, log zerolog.Logger) (*api.Server, error) {
	var auth jwt.JWTManagerInterface
	if config.HTTP.Auth.Enabled {
		jm := jwt.NewJWTManager(fileClient)
		if err := jm.Initialize(config.HTTP.Auth.SecretFile); err != nil {
			return nil, err
		}
		auth = jm
	}

	gin.SetMode(gin.ReleaseMode)
	apiLog := log.With().Str("component", "http").Logger()
	handlers := &api.Handlers{
		Knocks: knocks,
		KnockFlow: services.NewKnockService(acquirer, knocks, geocoder, canvasserInfo,
			config.Location.Thresholds, acquirer.Config(), metrics, log.With().Str("component", "knocks").Logger()),
		Positions:  acquirer,
		Thresholds: config.Location.Thresholds,
		Hub:        api.NewKnockHub(knocks, apiLog),
		Logger:     apiLog,

		OriginPatterns: config.HTTP.OriginPatterns,
		AllowAnyOrigin: config.HTTP.AllowAnyOrigin,
	}
	router := api.NewRouter(handlers, metrics, auth)

	shutdown := config.HTTP.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}
	return api.NewServer(config.HTTP.Address, shutdown, router, handlers.Hub, apiLog), nil
}
