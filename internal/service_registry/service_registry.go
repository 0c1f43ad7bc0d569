package service_registry

import (
	"errors"
	"fmt"

	mqtt_middleware "github.com/benmeehan/knock-agent/internal/middlewares/mqtt"
	"github.com/benmeehan/knock-agent/internal/observability"
	"github.com/benmeehan/knock-agent/internal/registry"
	"github.com/benmeehan/knock-agent/internal/services"
	"github.com/benmeehan/knock-agent/internal/store"
	"github.com/benmeehan/knock-agent/internal/utils"
	"github.com/benmeehan/knock-agent/pkg/identity"
	"github.com/benmeehan/knock-agent/pkg/mqtt"
	"github.com/rs/zerolog"
)

// Dependencies are the shared components handed to service constructors.
type Dependencies struct {
	CanvasserInfo identity.CanvasserInfoInterface
	Knocks        *store.KnockStore
	Watcher       services.PositionWatcher
	Publisher     mqtt_middleware.Publisher
	Metrics       *observability.Metrics
}

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	started     []string
	mqttClient  mqtt.MQTTClient
	logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry. mqttClient may be nil
// when no broker is configured.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]registry.Service),
		mqttClient: mqttClient,
		logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.logger.Info().Msgf("Registered service: %s", name)
}

// ServiceNames lists registered services in start order.
func (sr *ServiceRegistry) ServiceNames() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	sr.started = sr.started[:0]

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(sr.started) - 1; i >= 0; i-- {
				if stopErr := sr.services[sr.started[i]].Stop(); stopErr != nil {
					sr.logger.Error().Err(stopErr).Msgf("Failed to stop service: %s", sr.started[i])
				}
			}
			sr.started = sr.started[:0]
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		sr.started = append(sr.started, name)
	}

	return nil
}

// StopServices stops started services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.started) - 1; i >= 0; i-- {
		name := sr.started[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	sr.started = sr.started[:0]

	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices constructs and registers enabled services based on configuration.
// The snapshot service is registered first so it stops last and saves every knock.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, deps Dependencies) error {
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (registry.Service, error)
	}{
		{
			name:    "knock_snapshot",
			enabled: config.Knocks.StoreFile != "",
			constructor: func() (registry.Service, error) {
				return services.NewSnapshotService(config.Knocks.SnapshotInterval, deps.Knocks, sr.logger), nil
			},
		},
		{
			name:    "knock_feed",
			enabled: config.Services.KnockFeed.Enabled,
			constructor: func() (registry.Service, error) {
				if deps.Publisher == nil {
					return nil, errors.New("knock feed requires an MQTT publisher")
				}
				return services.NewKnockFeedService(
					config.Services.KnockFeed.Topic,
					config.Services.KnockFeed.QOS,
					config.Services.KnockFeed.Workers,
					deps.Knocks,
					deps.Publisher,
					deps.Metrics,
					sr.logger,
				), nil
			},
		},
		{
			name:    "heartbeat",
			enabled: config.Services.Heartbeat.Enabled,
			constructor: func() (registry.Service, error) {
				if deps.Publisher == nil {
					return nil, errors.New("heartbeat requires an MQTT publisher")
				}
				return services.NewHeartbeatService(
					config.Services.Heartbeat.Topic,
					config.Services.Heartbeat.Interval,
					config.Services.Heartbeat.QOS,
					deps.CanvasserInfo,
					deps.Knocks,
					deps.Publisher,
					sr.logger,
				), nil
			},
		},
		{
			name:    "live_location",
			enabled: config.Services.LiveLocation.Enabled,
			constructor: func() (registry.Service, error) {
				if deps.Publisher == nil {
					return nil, errors.New("live location requires an MQTT publisher")
				}
				if deps.Watcher == nil {
					return nil, errors.New("live location requires a position watcher")
				}
				return services.NewLocationService(
					config.Services.LiveLocation.Topic,
					config.Services.LiveLocation.Interval,
					config.Services.LiveLocation.QOS,
					config.Location.Thresholds,
					deps.CanvasserInfo,
					deps.Publisher,
					deps.Watcher,
					deps.Metrics,
					sr.logger,
				), nil
			},
		},
	}

	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if !svc.enabled {
			continue
		}
		serviceInstance, err := svc.constructor()
		if err != nil {
			sr.logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
			return fmt.Errorf("failed to create %s service: %w", svc.name, err)
		}
		sr.RegisterService(svc.name, serviceInstance)
		registeredServices = append(registeredServices, svc.name)
	}

	sr.logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}
