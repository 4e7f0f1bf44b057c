package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edvin/fleetmon/internal/model"
)

// Client talks to the downstream registry service that holds the edge
// client records. It reads records and rewrites their endpoint field only;
// all other fields are passed through unchanged.
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

type listResponse struct {
	Clients []json.RawMessage `json:"clients"`
}

// ListClients returns the client records whose alias carries the given tag.
// An empty tag returns everything.
func (c *Client) ListClients(ctx context.Context, tag string) ([]model.ClientRecord, error) {
	path := "/clients"
	if tag != "" {
		path += "?tag=" + url.QueryEscape(tag)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry %s: status %d", path, resp.StatusCode)
	}

	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	records := make([]model.ClientRecord, 0, len(list.Clients))
	for _, raw := range list.Clients {
		var rec model.ClientRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode client record: %w", err)
		}
		rec.Raw = raw
		// Server-side tag filtering is not guaranteed on older registry
		// versions; filter again here.
		if tag != "" && !strings.Contains(rec.Alias, tag) {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// UpdateEndpoint rewrites one record's endpoint field, carrying every other
// field of the original record through unchanged.
func (c *Client) UpdateEndpoint(ctx context.Context, rec model.ClientRecord, endpoint string) error {
	var fields map[string]any
	if err := json.Unmarshal(rec.Raw, &fields); err != nil {
		return fmt.Errorf("decode record %s: %w", rec.Alias, err)
	}
	fields["endpoint"] = endpoint

	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.Alias, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/clients/%d", c.baseURL, rec.ID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("update client %s: status %d", rec.Alias, resp.StatusCode)
	}
	return nil
}
