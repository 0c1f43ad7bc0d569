package mocks

import (
	"github.com/stretchr/testify/mock"
)

// Publisher is a mock implementation of the mqtt_middleware.Publisher interface.
type Publisher struct {
	mock.Mock
}

func (m *Publisher) Publish(topic string, qos byte, retained bool, payload interface{}) error {
	args := m.Called(topic, qos, retained, payload)
	return args.Error(0)
}
