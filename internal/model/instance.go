package model

// Instance lifecycle status constants as reported by the provider.
const (
	StatusRunning  = "running"
	StatusDeleting = "deleting"
	StatusAbsent   = "absent"
)

// Instance is a transient copy of one provider server record, fetched fresh
// each cycle. Nothing here is persisted locally.
type Instance struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	Address       string `json:"address,omitempty"`
	AddressID     int64  `json:"address_id,omitempty"`
	ClassID       int64  `json:"class_id"`
	ClassName     string `json:"class_name"`
	Location      string `json:"location"`
	ImageID       int64  `json:"image_id,omitempty"`
	ImageType     string `json:"image_type,omitempty"`
	OutgoingBytes int64  `json:"outgoing_bytes"`
	IncludedBytes int64  `json:"included_bytes"`
}

// UsageRatio returns sent/quota. A zero or negative quota yields 0 so an
// unmetered instance never trips the threshold.
func (i Instance) UsageRatio() float64 {
	if i.IncludedBytes <= 0 {
		return 0
	}
	return float64(i.OutgoingBytes) / float64(i.IncludedBytes)
}

// HasSnapshot reports whether the instance carries a snapshot image it can
// be rebuilt from.
func (i Instance) HasSnapshot() bool {
	return i.ImageID != 0 && i.ImageType == "snapshot"
}
