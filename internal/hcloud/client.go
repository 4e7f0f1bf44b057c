package hcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/edvin/fleetmon/internal/model"
)

// Client is a typed client for the compute provider's HTTP API. It carries
// no business logic; callers decide how to react to the typed errors.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, result any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp errorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil {
			apiErr.Code = errResp.Error.Code
			apiErr.Message = errResp.Error.Message
		}
		return apiErr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ListServers returns all instances visible to the token, with their usage
// counters.
func (c *Client) ListServers(ctx context.Context) ([]model.Instance, error) {
	var resp serversResponse
	if err := c.do(ctx, http.MethodGet, "/servers", nil, &resp); err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	instances := make([]model.Instance, 0, len(resp.Servers))
	for _, s := range resp.Servers {
		instances = append(instances, toInstance(s))
	}
	return instances, nil
}

// GetServer returns one instance by ID. Absence is reported via IsNotFound.
func (c *Client) GetServer(ctx context.Context, id int64) (*model.Instance, error) {
	var resp serverResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/servers/%d", id), nil, &resp); err != nil {
		return nil, fmt.Errorf("get server %d: %w", id, err)
	}
	inst := toInstance(resp.Server)
	return &inst, nil
}

// DeleteServer issues the delete. The provider removes the instance
// asynchronously; callers poll GetServer until IsNotFound.
func (c *Client) DeleteServer(ctx context.Context, id int64) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/servers/%d", id), nil, nil); err != nil {
		return fmt.Errorf("delete server %d: %w", id, err)
	}
	return nil
}

// CreateServer creates an instance and returns its record. Provider-side
// rejections surface as *APIError so callers can branch on the code.
func (c *Client) CreateServer(ctx context.Context, params CreateServerParams) (*model.Instance, error) {
	sshKeys := params.SSHKeyIDs
	if sshKeys == nil {
		sshKeys = []int64{}
	}
	net := map[string]any{
		"enable_ipv4": true,
		"enable_ipv6": true,
	}
	if params.AddressID != 0 {
		net["ipv4"] = params.AddressID
	}
	body := map[string]any{
		"name":               params.Name,
		"server_type":        params.ClassID,
		"image":              params.Image,
		"location":           params.Location,
		"ssh_keys":           sshKeys,
		"firewalls":          []int64{},
		"public_net":         net,
		"start_after_create": true,
	}

	var resp serverResponse
	if err := c.do(ctx, http.MethodPost, "/servers", body, &resp); err != nil {
		return nil, err
	}
	inst := toInstance(resp.Server)
	return &inst, nil
}

// CreateSnapshot starts a snapshot of the server's current disk state and
// returns the new image's ID. The image is written asynchronously; callers
// poll GetImage until Available.
func (c *Client) CreateSnapshot(ctx context.Context, id int64, description string) (int64, error) {
	body := map[string]any{
		"description": description,
		"type":        "snapshot",
		"labels":      map[string]string{"auto_snapshot": "true"},
	}

	var resp createImageResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/servers/%d/actions/create_image", id), body, &resp); err != nil {
		return 0, fmt.Errorf("create snapshot of server %d: %w", id, err)
	}
	if resp.Action.Error != nil {
		return 0, fmt.Errorf("create snapshot of server %d: %w", id, resp.Action.Error)
	}
	return resp.Image.ID, nil
}

// GetImage returns one image record by ID.
func (c *Client) GetImage(ctx context.Context, id int64) (*Image, error) {
	var resp imageResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/images/%d", id), nil, &resp); err != nil {
		return nil, fmt.Errorf("get image %d: %w", id, err)
	}
	return &Image{
		ID:          resp.Image.ID,
		Type:        resp.Image.Type,
		Status:      resp.Image.Status,
		Description: resp.Image.Description,
	}, nil
}

// PowerOffServer cuts power to the server so the subsequent delete releases
// a quiesced disk.
func (c *Client) PowerOffServer(ctx context.Context, id int64) error {
	var resp actionResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/servers/%d/actions/poweroff", id), nil, &resp); err != nil {
		return fmt.Errorf("power off server %d: %w", id, err)
	}
	if resp.Action.Error != nil {
		return fmt.Errorf("power off server %d: %w", id, resp.Action.Error)
	}
	return nil
}

// UnassignIP detaches a primary IP from its server ahead of the delete, so
// the address survives and can be reused by the replacement.
func (c *Client) UnassignIP(ctx context.Context, id int64) error {
	var resp actionResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/primary_ips/%d/actions/unassign", id), nil, &resp); err != nil {
		return fmt.Errorf("unassign primary ip %d: %w", id, err)
	}
	if resp.Action.Error != nil {
		return fmt.Errorf("unassign primary ip %d: %w", id, resp.Action.Error)
	}
	return nil
}

// GetPrimaryIP returns the assignment state of one primary IP.
func (c *Client) GetPrimaryIP(ctx context.Context, id int64) (*PrimaryIP, error) {
	var resp primaryIPResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/primary_ips/%d", id), nil, &resp); err != nil {
		return nil, fmt.Errorf("get primary ip %d: %w", id, err)
	}
	return &PrimaryIP{
		ID:         resp.PrimaryIP.ID,
		IP:         resp.PrimaryIP.IP,
		AssigneeID: resp.PrimaryIP.AssigneeID,
	}, nil
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsAddressAssigned reports whether err is the transient "address still
// assigned" rejection returned while provider-side state propagation lags.
func IsAddressAssigned(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeAddressAssigned
}
