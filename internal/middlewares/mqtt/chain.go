package mqtt_middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/knock-agent/pkg/mqtt"
	mqttLib "github.com/eclipse/paho.mqtt.golang"
)

// DefaultOperationTimeout bounds how long a publish or subscribe waits for the broker.
const DefaultOperationTimeout = 10 * time.Second

// ErrOperationTimeout is returned when the broker does not acknowledge in time.
var ErrOperationTimeout = errors.New("mqtt operation timed out")

// ChainedMQTTClient wraps an MQTT client with a middleware chain.
type ChainedMQTTClient struct {
	head MQTTMiddleware
}

// NewChainedMQTTClient links middlewares in order, ending at the raw client.
func NewChainedMQTTClient(mqttClient mqtt.MQTTClient, timeout time.Duration, middlewares ...MQTTMiddleware) *ChainedMQTTClient {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	var tail MQTTMiddleware = &directMQTTClient{mqttClient: mqttClient, timeout: timeout}
	for i := len(middlewares) - 1; i >= 0; i-- {
		middlewares[i].SetNext(tail)
		tail = middlewares[i]
	}
	return &ChainedMQTTClient{head: tail}
}

// Publish sends a message through the middleware chain.
func (c *ChainedMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) error {
	return c.head.Publish(topic, qos, retained, payload)
}

// Subscribe subscribes through the middleware chain.
func (c *ChainedMQTTClient) Subscribe(topic string, qos byte, callback mqttLib.MessageHandler) error {
	return c.head.Subscribe(topic, qos, callback)
}

// Unsubscribe unsubscribes through the middleware chain.
func (c *ChainedMQTTClient) Unsubscribe(topics ...string) error {
	return c.head.Unsubscribe(topics...)
}

// SetNext is a no-op; the chain is the entry point.
func (c *ChainedMQTTClient) SetNext(MQTTMiddleware) {}

// directMQTTClient terminates the chain at the paho client.
type directMQTTClient struct {
	mqttClient mqtt.MQTTClient
	timeout    time.Duration
}

func (d *directMQTTClient) SetNext(MQTTMiddleware) {}

func (d *directMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) error {
	return d.wait(fmt.Sprintf("publish to %s", topic), d.mqttClient.Publish(topic, qos, retained, payload))
}

func (d *directMQTTClient) Subscribe(topic string, qos byte, callback mqttLib.MessageHandler) error {
	return d.wait(fmt.Sprintf("subscribe to %s", topic), d.mqttClient.Subscribe(topic, qos, callback))
}

func (d *directMQTTClient) Unsubscribe(topics ...string) error {
	return d.wait("unsubscribe", d.mqttClient.Unsubscribe(topics...))
}

func (d *directMQTTClient) wait(op string, token mqttLib.Token) error {
	if !token.WaitTimeout(d.timeout) {
		return fmt.Errorf("%s: %w", op, ErrOperationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
