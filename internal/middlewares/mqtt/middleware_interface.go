package mqtt_middleware

import mqttLib "github.com/eclipse/paho.mqtt.golang"

// Publisher is the publish-only surface the fan-out services need.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) error
}

// MQTTMiddleware defines the contract for one link in the publish chain.
type MQTTMiddleware interface {
	Publisher
	Subscribe(topic string, qos byte, callback mqttLib.MessageHandler) error
	Unsubscribe(topics ...string) error
	SetNext(next MQTTMiddleware)
}
