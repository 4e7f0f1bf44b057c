package hcloud

import (
	"fmt"

	"github.com/edvin/fleetmon/internal/model"
)

// APIError is a structured provider error decoded from an error response
// body. Code carries the provider's machine-readable error code.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider API: [%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("provider API: status %d", e.StatusCode)
}

// Error code the provider returns while a primary IP is still attached to a
// deleted server. Treated as transient by the rebuild workflow.
const CodeAddressAssigned = "primary_ip_assigned"

type serverResponse struct {
	Server server `json:"server"`
}

type serversResponse struct {
	Servers []server `json:"servers"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

type server struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	PublicNet       publicNet  `json:"public_net"`
	ServerType      serverType `json:"server_type"`
	Datacenter      named      `json:"datacenter"`
	Image           *image     `json:"image"`
	OutgoingTraffic int64      `json:"outgoing_traffic"`
	IncludedTraffic int64      `json:"included_traffic"`
}

type publicNet struct {
	IPv4 *addressRef `json:"ipv4"`
}

type addressRef struct {
	ID int64  `json:"id"`
	IP string `json:"ip"`
}

type serverType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type named struct {
	Name string `json:"name"`
}

type image struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Server actions (create_image, poweroff, unassign) complete
// asynchronously; the returned action carries an error object when the
// provider rejected the request outright.
type action struct {
	ID     int64     `json:"id"`
	Status string    `json:"status"`
	Error  *APIError `json:"error"`
}

type actionResponse struct {
	Action action `json:"action"`
}

type createImageResponse struct {
	Action action `json:"action"`
	Image  image  `json:"image"`
}

type imageResponse struct {
	Image imageDetail `json:"image"`
}

type imageDetail struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

// Image is a snapshot/template record. Status is "creating" until the
// provider finishes writing it, then "available".
type Image struct {
	ID          int64
	Type        string
	Status      string
	Description string
}

// Available reports whether the image is ready to create servers from.
func (i Image) Available() bool {
	return i.Status == "available"
}

type primaryIPResponse struct {
	PrimaryIP primaryIP `json:"primary_ip"`
}

type primaryIP struct {
	ID         int64  `json:"id"`
	IP         string `json:"ip"`
	AssigneeID *int64 `json:"assignee_id"`
}

// PrimaryIP is the address-assignment record for one public address.
type PrimaryIP struct {
	ID         int64
	IP         string
	AssigneeID *int64
}

// Released reports whether the address has no owner reference.
func (p PrimaryIP) Released() bool {
	return p.AssigneeID == nil
}

// CreateServerParams holds the request fields for creating an instance.
type CreateServerParams struct {
	Name      string
	ClassID   int64
	Image     string
	Location  string
	SSHKeyIDs []int64
	// AddressID reuses an existing primary IP when non-zero; zero lets the
	// provider assign a fresh address.
	AddressID int64
}

func toInstance(s server) model.Instance {
	inst := model.Instance{
		ID:            s.ID,
		Name:          s.Name,
		Status:        s.Status,
		ClassID:       s.ServerType.ID,
		ClassName:     s.ServerType.Name,
		Location:      s.Datacenter.Name,
		OutgoingBytes: s.OutgoingTraffic,
		IncludedBytes: s.IncludedTraffic,
	}
	if s.PublicNet.IPv4 != nil {
		inst.Address = s.PublicNet.IPv4.IP
		inst.AddressID = s.PublicNet.IPv4.ID
	}
	if s.Image != nil {
		inst.ImageID = s.Image.ID
		inst.ImageType = s.Image.Type
	}
	return inst
}
