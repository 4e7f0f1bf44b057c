package monitor

import (
	"net/netip"
	"time"

	"github.com/edvin/fleetmon/internal/model"
)

// Snapshot is the last state the control loop fetched, published for the
// read-only status API. It is a copy; holders never share memory with the
// loop.
type Snapshot struct {
	Instances      []model.Instance
	Addresses      []netip.Addr
	LastReport     *model.CycleReport
	SchedulerState string
	UpdatedAt      time.Time
}

// Snapshot returns a copy of the loop's last published state.
func (r *Runner) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Instances:      append([]model.Instance(nil), r.instances...),
		Addresses:      append([]netip.Addr(nil), r.addresses...),
		SchedulerState: r.schedulerState,
		UpdatedAt:      r.updatedAt,
	}
	if r.lastReport != nil {
		report := *r.lastReport
		snap.LastReport = &report
	}
	return snap
}

// Ready reports whether at least one fetch has completed.
func (r *Runner) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.updatedAt.IsZero()
}

func (r *Runner) publishInstances(instances []model.Instance) {
	addresses := make([]netip.Addr, 0, len(instances))
	for _, inst := range instances {
		if addr, err := netip.ParseAddr(inst.Address); err == nil {
			addresses = append(addresses, addr)
		}
	}

	r.mu.Lock()
	r.instances = instances
	r.addresses = addresses
	r.updatedAt = time.Now()
	r.mu.Unlock()

	fleetInstances.Set(float64(len(instances)))
	fleetUsageRatio.Reset()
	for _, inst := range instances {
		fleetUsageRatio.WithLabelValues(inst.Name).Set(inst.UsageRatio())
	}
}

func (r *Runner) publishSchedulerState(state string) {
	r.mu.Lock()
	r.schedulerState = state
	r.mu.Unlock()
}

func (r *Runner) publishReport(report model.CycleReport) {
	r.mu.Lock()
	r.lastReport = &report
	r.mu.Unlock()
}
