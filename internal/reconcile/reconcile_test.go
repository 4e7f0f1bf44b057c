package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/fleetmon/internal/model"
)

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) UpdateEndpoint(ctx context.Context, rec model.ClientRecord, endpoint string) error {
	args := m.Called(ctx, rec, endpoint)
	return args.Error(0)
}

func record(id int64, alias, endpoint string) model.ClientRecord {
	raw, _ := json.Marshal(map[string]any{"id": id, "alias": alias, "endpoint": endpoint})
	return model.ClientRecord{ID: id, Alias: alias, Endpoint: endpoint, Raw: raw}
}

func addrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, len(ss))
	for i, s := range ss {
		out[i] = netip.MustParseAddr(s)
	}
	return out
}

// ---------- no-op guards ----------

func TestReconcile_EmptyLiveSetIsNoOp(t *testing.T) {
	reg := &mockRegistry{}
	r := NewReconciler(reg, 0, zerolog.Nop())

	sum := r.Reconcile(context.Background(), nil, []model.ClientRecord{record(1, "edge-1", "192.0.2.10:51820")})

	assert.Equal(t, model.ReconcileSummary{}, sum)
	reg.AssertNotCalled(t, "UpdateEndpoint", mock.Anything, mock.Anything, mock.Anything)
}

// ---------- preservation ----------

func TestReconcile_LiveAddressesAreKept(t *testing.T) {
	reg := &mockRegistry{}
	r := NewReconciler(reg, 0, zerolog.Nop())

	sum := r.Reconcile(context.Background(),
		addrs("192.0.2.10", "192.0.2.11"),
		[]model.ClientRecord{
			record(1, "edge-1", "192.0.2.10:51820"),
			record(2, "edge-2", "192.0.2.11:51820"),
		})

	assert.Equal(t, model.ReconcileSummary{Kept: 2}, sum)
	reg.AssertNotCalled(t, "UpdateEndpoint", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_StaleAddressIsRepointedKeepingPort(t *testing.T) {
	reg := &mockRegistry{}
	r := NewReconciler(reg, 0, zerolog.Nop())

	rec := record(1, "edge-1", "198.51.100.9:51820")
	reg.On("UpdateEndpoint", mock.Anything, rec, "192.0.2.10:51820").Return(nil).Once()

	sum := r.Reconcile(context.Background(), addrs("192.0.2.10"), []model.ClientRecord{rec})

	assert.Equal(t, model.ReconcileSummary{Updated: 1}, sum)
	reg.AssertExpectations(t)
}

func TestReconcile_EmptyEndpointGetsDefaultPort(t *testing.T) {
	reg := &mockRegistry{}
	r := NewReconciler(reg, 51820, zerolog.Nop())

	rec := record(1, "edge-1", "")
	reg.On("UpdateEndpoint", mock.Anything, rec, "192.0.2.10:51820").Return(nil).Once()

	sum := r.Reconcile(context.Background(), addrs("192.0.2.10"), []model.ClientRecord{rec})

	assert.Equal(t, model.ReconcileSummary{Updated: 1}, sum)
	reg.AssertExpectations(t)
}

// ---------- conflicts ----------

func TestReconcile_ConflictedAddressNeverKeptForBoth(t *testing.T) {
	reg := &mockRegistry{}
	r := NewReconciler(reg, 0, zerolog.Nop())

	recs := []model.ClientRecord{
		record(1, "edge-1", "192.0.2.10:51820"),
		record(2, "edge-2", "192.0.2.10:51820"),
	}
	var assigned []string
	reg.On("UpdateEndpoint", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { assigned = append(assigned, args.String(2)) }).
		Return(nil)

	sum := r.Reconcile(context.Background(), addrs("192.0.2.10", "192.0.2.11"), recs)

	// One record wins 192.0.2.10 back from the sorted pool, the other is
	// moved; nobody shares an address afterwards.
	assert.Equal(t, 2, sum.Updated+sum.Kept)
	assert.Zero(t, sum.Failed)
	require.Len(t, assigned, sum.Updated)
	seen := map[string]bool{}
	for _, e := range assigned {
		assert.False(t, seen[e], "address %s assigned twice", e)
		seen[e] = true
	}
}

func TestReconcile_PoolExhaustionRoundRobins(t *testing.T) {
	reg := &mockRegistry{}
	r := NewReconciler(reg, 0, zerolog.Nop())

	recs := []model.ClientRecord{
		record(1, "edge-1", ""),
		record(2, "edge-2", ""),
		record(3, "edge-3", ""),
	}
	targets := map[string]string{}
	reg.On("UpdateEndpoint", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			rec := args.Get(1).(model.ClientRecord)
			targets[rec.Alias] = args.String(2)
		}).
		Return(nil)

	sum := r.Reconcile(context.Background(), addrs("192.0.2.11", "192.0.2.10"), recs)

	// More clients than live addresses: everyone still gets a target.
	assert.Equal(t, model.ReconcileSummary{Updated: 3}, sum)
	assert.Equal(t, "192.0.2.10", targets["edge-1"])
	assert.Equal(t, "192.0.2.11", targets["edge-2"])
	assert.NotEmpty(t, targets["edge-3"])
}

// ---------- idempotence ----------

func TestReconcile_SecondRunIsAllKept(t *testing.T) {
	reg := &mockRegistry{}
	r := NewReconciler(reg, 0, zerolog.Nop())

	live := addrs("192.0.2.10", "192.0.2.11")
	recs := []model.ClientRecord{
		record(1, "edge-1", "192.0.2.10:51820"),
		record(2, "edge-2", "192.0.2.10:51820"),
	}

	after := make([]model.ClientRecord, len(recs))
	copy(after, recs)
	reg.On("UpdateEndpoint", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			rec := args.Get(1).(model.ClientRecord)
			for i := range after {
				if after[i].ID == rec.ID {
					after[i] = record(rec.ID, rec.Alias, args.String(2))
				}
			}
		}).
		Return(nil)

	first := r.Reconcile(context.Background(), live, recs)
	require.Zero(t, first.Failed)

	second := r.Reconcile(context.Background(), live, after)
	assert.Equal(t, model.ReconcileSummary{Kept: len(recs)}, second)
}

// ---------- failures ----------

func TestReconcile_UpdateFailureCountsFailed(t *testing.T) {
	reg := &mockRegistry{}
	r := NewReconciler(reg, 0, zerolog.Nop())

	recs := []model.ClientRecord{
		record(1, "edge-1", "198.51.100.9:51820"),
		record(2, "edge-2", "192.0.2.11:51820"),
	}
	reg.On("UpdateEndpoint", mock.Anything, mock.MatchedBy(func(r model.ClientRecord) bool { return r.ID == 1 }), mock.Anything).
		Return(fmt.Errorf("registry update: status 502")).Once()

	sum := r.Reconcile(context.Background(), addrs("192.0.2.10", "192.0.2.11"), recs)

	assert.Equal(t, model.ReconcileSummary{Kept: 1, Failed: 1}, sum)
	reg.AssertExpectations(t)
}
