// Package client talks to a running pool server.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	poolerrors "github.com/firefly-engineering/browserpool/internal/errors"
	"github.com/firefly-engineering/browserpool/internal/instance"
	"github.com/firefly-engineering/browserpool/internal/logging"
	"github.com/firefly-engineering/browserpool/internal/server"
)

// DefaultURL is where the server listens unless configured otherwise.
const DefaultURL = "http://127.0.0.1:8765"

// Client is an HTTP client for the pool API.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Allocate requests a lease. The call blocks while the browser starts.
func (c *Client) Allocate(ctx context.Context, req server.AllocateRequest) (instance.Lease, error) {
	var lease instance.Lease
	err := c.do(ctx, http.MethodPost, "/instance/allocate", req, &lease)
	return lease, err
}

// Release returns instanceID to the pool. An empty agentID skips the
// ownership check.
func (c *Client) Release(ctx context.Context, instanceID, agentID string) error {
	return c.do(ctx, http.MethodPost, instancePath(instanceID, "release"), server.AgentRequest{AgentID: agentID}, nil)
}

// Heartbeat reports that agentID is still using instanceID.
func (c *Client) Heartbeat(ctx context.Context, instanceID, agentID string) error {
	return c.do(ctx, http.MethodPost, instancePath(instanceID, "heartbeat"), server.AgentRequest{AgentID: agentID}, nil)
}

// Status returns one slot.
func (c *Client) Status(ctx context.Context, instanceID string) (instance.Slot, error) {
	var slot instance.Slot
	err := c.do(ctx, http.MethodGet, instancePath(instanceID, "status"), nil, &slot)
	return slot, err
}

// List returns every slot ordered by port.
func (c *Client) List(ctx context.Context) ([]instance.Slot, error) {
	var resp server.ListResponse
	if err := c.do(ctx, http.MethodGet, "/instances", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) (server.HealthResponse, error) {
	var resp server.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &resp)
	return resp, err
}

// Stream calls fn for every snapshot the server sends until ctx is
// cancelled, the server closes the stream or fn returns an error.
// Cancellation is not reported as an error.
func (c *Client) Stream(ctx context.Context, fn func(server.StatusUpdate) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stream", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return poolerrors.Unavailable(c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var update server.StatusUpdate
		if err := json.Unmarshal(line, &update); err != nil {
			logging.Warn("skipping malformed stream line", "error", err)
			continue
		}
		if err := fn(update); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logging.Debug("api request", "method", method, "url", req.URL.String())
	resp, err := c.http.Do(req)
	if err != nil {
		return poolerrors.Unavailable(c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError turns an error body back into a PoolError of the same kind.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body server.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Type == "" {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return poolerrors.New(poolerrors.KindGeneral, fmt.Sprintf("server returned %s: %s", resp.Status, msg))
	}
	return poolerrors.New(poolerrors.Kind(body.Error.Type), body.Error.Message)
}

func instancePath(instanceID, action string) string {
	return "/instance/" + url.PathEscape(instanceID) + "/" + action
}
