package service_registry

import (
	"errors"

	"github.com/benmeehan/knock-agent/internal/constants"
	mqtt_middleware "github.com/benmeehan/knock-agent/internal/middlewares/mqtt"
	"github.com/benmeehan/knock-agent/internal/utils"
	"github.com/benmeehan/knock-agent/pkg/identity"
)

// InitializeMiddlewares sets up the publish chain based on configuration.
func (sr *ServiceRegistry) InitializeMiddlewares(config *utils.Config, canvasserInfo identity.CanvasserInfoInterface) (mqtt_middleware.MQTTMiddleware, error) {
	if sr.mqttClient == nil {
		return nil, errors.New("no MQTT client configured")
	}

	var middlewares []mqtt_middleware.MQTTMiddleware

	middlewaresInOrder := []struct {
		name        string
		enabled     bool
		constructor func() mqtt_middleware.MQTTMiddleware
	}{
		{
			name:    constants.ENVELOPE_MIDDLEWARE,
			enabled: config.Middlewares.Envelope.Enabled,
			constructor: func() mqtt_middleware.MQTTMiddleware {
				return mqtt_middleware.NewEnvelopeMiddleware(canvasserInfo, sr.logger)
			},
		},
	}

	for _, mw := range middlewaresInOrder {
		if !mw.enabled {
			sr.logger.Debug().Str("middleware", mw.name).Msg("Middleware is disabled, skipping")
			continue
		}
		middlewares = append(middlewares, mw.constructor())
		sr.logger.Info().Str("middleware", mw.name).Msg("Middleware initialized")
	}

	chainedClient := mqtt_middleware.NewChainedMQTTClient(sr.mqttClient, config.MQTT.Timeout, middlewares...)
	sr.logger.Info().Int("middleware_count", len(middlewares)).Msg("Middleware chain initialized")
	return chainedClient, nil
}
