package server

import (
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices_Health(t *testing.T) {
	reg := &mockServiceRegistrar{}
	RegisterServices(reg, health.NewServer())
	if len(reg.services) != 1 || reg.services[0] != "grpc.health.v1.Health" {
		t.Errorf("registered = %v", reg.services)
	}
}

func TestNewGRPCServer(t *testing.T) {
	s, hs := NewGRPCServer(nil)
	defer s.Stop()
	if hs == nil {
		t.Fatal("health server is nil")
	}
	if _, ok := s.GetServiceInfo()["grpc.health.v1.Health"]; !ok {
		t.Errorf("health service not registered: %v", s.GetServiceInfo())
	}
}
