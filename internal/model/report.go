package model

import "time"

// Report kinds, one per control-loop branch that emits a report.
const (
	ReportMonitor   = "monitor"
	ReportProvision = "provision"
	ReportTeardown  = "teardown"
)

// InstanceUsage is the per-instance slice of a cycle report.
type InstanceUsage struct {
	Name          string  `json:"name"`
	Address       string  `json:"address,omitempty"`
	ClassName     string  `json:"class_name"`
	Location      string  `json:"location"`
	OutgoingBytes int64   `json:"outgoing_bytes"`
	IncludedBytes int64   `json:"included_bytes"`
	UsageRatio    float64 `json:"usage_ratio"`
	OverThreshold bool    `json:"over_threshold"`
}

// ReconcileSummary counts what the address reconciler did in one run.
type ReconcileSummary struct {
	Updated int `json:"updated"`
	Kept    int `json:"kept"`
	Failed  int `json:"failed"`
}

// CycleReport is the single summary object produced by one non-idle poll
// cycle. It flows to the notifier and is exposed read-only by the status API.
type CycleReport struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	DryRun     bool              `json:"dry_run,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Fleet      []InstanceUsage   `json:"fleet,omitempty"`
	Outcomes   []RebuildOutcome  `json:"outcomes,omitempty"`
	Reconcile  *ReconcileSummary `json:"reconcile,omitempty"`
}

// OverThresholdCount returns how many fleet entries exceeded the threshold.
func (r CycleReport) OverThresholdCount() int {
	n := 0
	for _, u := range r.Fleet {
		if u.OverThreshold {
			n++
		}
	}
	return n
}
