package mqtt

import (
	"errors"
	"testing"

	"github.com/benmeehan/knock-agent/internal/mocks"
	"github.com/stretchr/testify/assert"
)

func TestMqttService_Delegates(t *testing.T) {
	client := new(mocks.MQTTClient)
	token := mocks.CompletedToken(nil)
	client.On("Publish", "knocks/events", byte(1), false, []byte("{}")).Return(token)
	client.On("Unsubscribe", []string{"knocks/events"}).Return(token)
	client.On("Disconnect", uint(250)).Return()

	s := &MqttService{client: client}
	assert.NoError(t, s.Publish("knocks/events", 1, false, []byte("{}")).Error())
	assert.NoError(t, s.Unsubscribe("knocks/events").Error())
	s.Disconnect(250)

	client.AssertExpectations(t)
}

func TestMqttService_InitializeBadCA(t *testing.T) {
	fileOps := new(mocks.FileOperations)
	fileOps.On("ReadFileRaw", "ca.pem").Return(nil, errors.New("missing"))

	s := NewMqttService(fileOps)
	err := s.Initialize("tcp://localhost:1883", "agent", "ca.pem")

	assert.ErrorContains(t, err, "failed to read CA certificate")
}
