package mocks

import (
	"github.com/benmeehan/knock-agent/pkg/identity"
	"github.com/stretchr/testify/mock"
)

// CanvasserInfo is a mock implementation of the identity.CanvasserInfoInterface.
type CanvasserInfo struct {
	mock.Mock
}

func (m *CanvasserInfo) LoadIdentity() error {
	args := m.Called()
	return args.Error(0)
}

func (m *CanvasserInfo) GetCanvasserID() string {
	args := m.Called()
	return args.String(0)
}

func (m *CanvasserInfo) GetCanvasserName() string {
	args := m.Called()
	return args.String(0)
}

func (m *CanvasserInfo) GetIdentity() *identity.Identity {
	args := m.Called()
	id, _ := args.Get(0).(*identity.Identity)
	return id
}
