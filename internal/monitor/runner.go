package monitor

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edvin/fleetmon/internal/model"
	"github.com/edvin/fleetmon/internal/schedule"
)

// Fleet is the provider slice the control loop itself needs; rebuilds go
// through the Rebuilder.
type Fleet interface {
	ListServers(ctx context.Context) ([]model.Instance, error)
}

type Rebuilder interface {
	Rebuild(ctx context.Context, inst model.Instance, preserveAddress bool) model.RebuildOutcome
	BulkProvision(ctx context.Context, count int) []model.RebuildOutcome
	BulkTeardown(ctx context.Context) []model.RebuildOutcome
}

type Reconciler interface {
	Reconcile(ctx context.Context, live []netip.Addr, records []model.ClientRecord) model.ReconcileSummary
}

type Registry interface {
	ListClients(ctx context.Context, tag string) ([]model.ClientRecord, error)
}

type Notifier interface {
	SendReport(ctx context.Context, report model.CycleReport)
}

type Scheduler interface {
	Evaluate(now time.Time, liveCount int) schedule.Action
	MarkProvisioned()
	MarkTornDown()
	State(now time.Time) string
}

// Config carries the loop's own knobs; rebuild mechanics are configured on
// the Rebuilder.
type Config struct {
	Threshold           float64
	Interval            time.Duration
	ErrorCooldown       time.Duration
	MaxRebuildsPerCycle int
	PreserveAddress     bool
	InitialFleetSize    int
	RegistryTag         string
	DryRun              bool
}

// Runner drives the poll/rebuild/reconcile cycle. A single Runner runs one
// cycle at a time; the snapshot accessors are safe for concurrent readers.
type Runner struct {
	fleet      Fleet
	rebuilder  Rebuilder
	reconciler Reconciler
	registry   Registry
	notifier   Notifier
	scheduler  Scheduler
	cfg        Config
	logger     zerolog.Logger

	mu             sync.RWMutex
	instances      []model.Instance
	addresses      []netip.Addr
	lastReport     *model.CycleReport
	schedulerState string
	updatedAt      time.Time
}

func NewRunner(fleet Fleet, rebuilder Rebuilder, reconciler Reconciler, registry Registry, notifier Notifier, scheduler Scheduler, cfg Config, logger zerolog.Logger) *Runner {
	return &Runner{
		fleet:      fleet,
		rebuilder:  rebuilder,
		reconciler: reconciler,
		registry:   registry,
		notifier:   notifier,
		scheduler:  scheduler,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run loops until the context is cancelled. A cycle that fails with an
// unexpected error is logged and followed by the error cooldown instead of
// the regular interval; it never exits the loop.
func (r *Runner) Run(ctx context.Context) error {
	for {
		pause := r.cfg.Interval
		if err := r.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error().Err(err).Dur("cooldown", r.cfg.ErrorCooldown).Msg("cycle failed")
			pause = r.cfg.ErrorCooldown
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
}

// RunCycle executes exactly one cycle: fetch, evaluate the scheduler,
// branch, reconcile, report. Per-instance failures are captured in the
// report; only a failed fleet fetch (or cancellation) returns an error.
func (r *Runner) RunCycle(ctx context.Context) error {
	started := time.Now()

	// MarkProvisioned/MarkTornDown may flip the state mid-cycle, so publish
	// whatever the scheduler settles on once the cycle is done.
	defer func() {
		r.publishSchedulerState(r.scheduler.State(time.Now()))
	}()

	instances, err := r.fleet.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}
	r.publishInstances(instances)

	action := r.scheduler.Evaluate(started, len(instances))

	report := model.CycleReport{
		ID:        uuid.NewString(),
		DryRun:    r.cfg.DryRun,
		StartedAt: started,
	}

	switch action {
	case schedule.ActionNone:
		r.logger.Debug().Msg("outside window, nothing to do")
		return nil

	case schedule.ActionProvisionInitial:
		report.Kind = model.ReportProvision
		r.runProvision(ctx, &report)

	case schedule.ActionTeardown:
		report.Kind = model.ReportTeardown
		r.runTeardown(ctx, &report)

	case schedule.ActionProceed:
		report.Kind = model.ReportMonitor
		r.runMonitor(ctx, instances, &report)
	}

	report.FinishedAt = time.Now()
	fleetCycleDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	r.publishReport(report)
	if r.notifier != nil {
		r.notifier.SendReport(ctx, report)
	}
	return nil
}

func (r *Runner) runProvision(ctx context.Context, report *model.CycleReport) {
	if r.cfg.DryRun {
		r.logger.Info().Int("count", r.cfg.InitialFleetSize).Msg("dry run: skipping initial provision")
		return
	}

	outcomes := r.rebuilder.BulkProvision(ctx, r.cfg.InitialFleetSize)
	report.Outcomes = outcomes
	countRebuilds(outcomes)

	provisioned := 0
	for _, o := range outcomes {
		if o.Success {
			provisioned++
		}
	}
	if provisioned > 0 {
		r.scheduler.MarkProvisioned()
	}

	// Refetch so the snapshot and the reconciler see the new fleet.
	if instances, err := r.fleet.ListServers(ctx); err == nil {
		r.publishInstances(instances)
	} else {
		r.logger.Error().Err(err).Msg("refetch after provision failed")
	}
	report.Reconcile = r.runReconcile(ctx)
}

func (r *Runner) runTeardown(ctx context.Context, report *model.CycleReport) {
	if r.cfg.DryRun {
		r.logger.Info().Msg("dry run: skipping teardown")
		return
	}

	outcomes := r.rebuilder.BulkTeardown(ctx)
	report.Outcomes = outcomes
	countRebuilds(outcomes)

	for _, o := range outcomes {
		if !o.Success {
			return
		}
	}
	// Only a clean sweep arms the sticky flag; leftovers get retried next
	// cycle.
	r.scheduler.MarkTornDown()
	r.publishInstances(nil)
}

func (r *Runner) runMonitor(ctx context.Context, instances []model.Instance, report *model.CycleReport) {
	report.Fleet = make([]model.InstanceUsage, 0, len(instances))
	var over []model.Instance
	for _, inst := range instances {
		ratio := inst.UsageRatio()
		usage := model.InstanceUsage{
			Name:          inst.Name,
			Address:       inst.Address,
			ClassName:     inst.ClassName,
			Location:      inst.Location,
			OutgoingBytes: inst.OutgoingBytes,
			IncludedBytes: inst.IncludedBytes,
			UsageRatio:    ratio,
			OverThreshold: ratio >= r.cfg.Threshold,
		}
		report.Fleet = append(report.Fleet, usage)
		if usage.OverThreshold {
			over = append(over, inst)
		}
	}

	rebuilt := 0
	for i, inst := range over {
		var out model.RebuildOutcome
		switch {
		case r.cfg.MaxRebuildsPerCycle > 0 && i >= r.cfg.MaxRebuildsPerCycle:
			out = model.RebuildOutcome{
				InstanceName:    inst.Name,
				PreviousAddress: inst.Address,
				Skipped:         true,
				Reason:          model.ReasonRebuildCapReached,
			}
		case r.cfg.DryRun:
			out = model.RebuildOutcome{
				InstanceName:    inst.Name,
				PreviousAddress: inst.Address,
				Skipped:         true,
				Reason:          model.ReasonDryRun,
			}
		default:
			out = r.rebuilder.Rebuild(ctx, inst, r.cfg.PreserveAddress)
			if out.Success {
				rebuilt++
			}
		}
		report.Outcomes = append(report.Outcomes, out)
	}
	countRebuilds(report.Outcomes)

	if rebuilt > 0 {
		if fresh, err := r.fleet.ListServers(ctx); err == nil {
			r.publishInstances(fresh)
		} else {
			r.logger.Error().Err(err).Msg("refetch after rebuild failed")
		}
	}
	report.Reconcile = r.runReconcile(ctx)
}

// runReconcile repoints downstream clients at the current address set.
// Returns nil when reconciliation is disabled, dry-running, or the registry
// fetch failed; a fetch failure never aborts the cycle.
func (r *Runner) runReconcile(ctx context.Context) *model.ReconcileSummary {
	if r.registry == nil || r.reconciler == nil || r.cfg.DryRun {
		return nil
	}

	records, err := r.registry.ListClients(ctx, r.cfg.RegistryTag)
	if err != nil {
		r.logger.Error().Err(err).Msg("list clients failed, skipping reconcile")
		return nil
	}

	r.mu.RLock()
	live := append([]netip.Addr(nil), r.addresses...)
	r.mu.RUnlock()

	sum := r.reconciler.Reconcile(ctx, live, records)
	fleetReconcileChanges.WithLabelValues("updated").Add(float64(sum.Updated))
	fleetReconcileChanges.WithLabelValues("kept").Add(float64(sum.Kept))
	fleetReconcileChanges.WithLabelValues("failed").Add(float64(sum.Failed))
	return &sum
}

func countRebuilds(outcomes []model.RebuildOutcome) {
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			fleetRebuilds.WithLabelValues("skipped").Inc()
		case o.Success:
			fleetRebuilds.WithLabelValues("success").Inc()
		default:
			fleetRebuilds.WithLabelValues("failure").Inc()
		}
	}
}
