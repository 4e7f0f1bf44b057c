package model

// Rebuild failure reasons. Every failed RebuildOutcome carries one of these
// (or a wrapped provider error string for unexpected failures).
const (
	ReasonMissingIdentifiers = "missing prerequisite identifiers"
	ReasonSnapshotNotReady   = "snapshot not ready"
	ReasonDeleteNotConfirmed = "delete not confirmed"
	ReasonAddressNotReleased = "address not released"
	ReasonNoClassAvailable   = "no instance class available"
	ReasonRebuildCapReached  = "rebuild cap reached"
	ReasonDryRun             = "dry run"
)

// RebuildOutcome records the result of one rebuild, provision or teardown
// attempt. It is immutable after creation and is consumed by reporting and
// by the address reconciler.
type RebuildOutcome struct {
	InstanceName    string `json:"instance_name"`
	Success         bool   `json:"success"`
	Skipped         bool   `json:"skipped,omitempty"`
	PreviousAddress string `json:"previous_address,omitempty"`
	NewAddress      string `json:"new_address,omitempty"`
	ClassID         int64  `json:"class_id,omitempty"`
	ClassName       string `json:"class_name,omitempty"`
	// CreateAttempts counts provider create calls actually issued across
	// all classes tried, including the one that succeeded.
	CreateAttempts int `json:"create_attempts,omitempty"`
	// Retried is set when the winning class needed more than one attempt.
	Retried bool   `json:"retried,omitempty"`
	Reason  string `json:"reason,omitempty"`
}
