package lifecycle

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/edvin/fleetmon/internal/hcloud"
	"github.com/edvin/fleetmon/internal/model"
)

// ---------- Mock FleetAPI ----------

// mockFleet implements the FleetAPI interface for testing.
type mockFleet struct {
	mock.Mock
}

func (m *mockFleet) ListServers(ctx context.Context) ([]model.Instance, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Instance), args.Error(1)
}

func (m *mockFleet) GetServer(ctx context.Context, id int64) (*model.Instance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Instance), args.Error(1)
}

func (m *mockFleet) DeleteServer(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockFleet) CreateServer(ctx context.Context, params hcloud.CreateServerParams) (*model.Instance, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Instance), args.Error(1)
}

func (m *mockFleet) GetPrimaryIP(ctx context.Context, id int64) (*hcloud.PrimaryIP, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hcloud.PrimaryIP), args.Error(1)
}

func (m *mockFleet) CreateSnapshot(ctx context.Context, id int64, description string) (int64, error) {
	args := m.Called(ctx, id, description)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockFleet) GetImage(ctx context.Context, id int64) (*hcloud.Image, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hcloud.Image), args.Error(1)
}

func (m *mockFleet) PowerOffServer(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockFleet) UnassignIP(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// notFoundErr mimics the provider's 404 for a deleted server.
func notFoundErr() error {
	return &hcloud.APIError{StatusCode: 404, Code: "not_found", Message: "server not found"}
}

// addressAssignedErr mimics the transient create rejection while the old
// primary IP assignment still propagates.
func addressAssignedErr() error {
	return &hcloud.APIError{StatusCode: 422, Code: hcloud.CodeAddressAssigned, Message: "IP is still assigned"}
}

// unavailableErr mimics a class being out of stock.
func unavailableErr() error {
	return &hcloud.APIError{StatusCode: 412, Code: "resource_unavailable", Message: "server type out of stock"}
}
