package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fleetInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_instances",
		Help: "Number of instances currently in the fleet.",
	})

	fleetUsageRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_instance_usage_ratio",
		Help: "Outgoing traffic consumed as a fraction of the included quota.",
	}, []string{"instance"})

	fleetRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_rebuilds_total",
		Help: "Instance rebuild outcomes by result.",
	}, []string{"result"})

	fleetReconcileChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_reconcile_changes_total",
		Help: "Downstream client endpoint reconciliation results by kind.",
	}, []string{"kind"})

	fleetCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleet_cycle_duration_seconds",
		Help:    "Wall-clock duration of one control-loop cycle.",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	})
)
