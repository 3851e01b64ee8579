// ABOUTME: HTTP client for the external Agent Runtime Service
// ABOUTME: Wraps list/stop/set calls and separates transport faults from HTTP failures

package agentruntime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnavailable wraps transport-level failures: refused connections,
// timeouts, and canceled requests.
var ErrUnavailable = errors.New("agent runtime unavailable")

// ErrInvalidResponse means the runtime answered 2xx with a body that could not be decoded.
var ErrInvalidResponse = errors.New("invalid runtime response")

// DefaultTimeout bounds every runtime call unless configured otherwise.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 4096

// StatusError is returned when the runtime responds with a non-2xx status.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: runtime returned status %d", e.Op, e.Code)
}

// Agent is one entry of the runtime's agent listing.
// Raw keeps the full object so listings can be relayed unchanged.
type Agent struct {
	ID      string          `json:"id"`
	Name    string          `json:"name,omitempty"`
	Owner   string          `json:"owner,omitempty"`
	Clients []string        `json:"clients,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and retains the raw object.
func (a *Agent) UnmarshalJSON(data []byte) error {
	type plain Agent
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Agent(p)
	a.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON emits the raw object when present.
func (a Agent) MarshalJSON() ([]byte, error) {
	if len(a.Raw) > 0 {
		return a.Raw, nil
	}
	type plain Agent
	return json.Marshal(plain(a))
}

// Reply is the runtime's answer to stop and set commands.
// Raw keeps the full object for relaying.
type Reply struct {
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"-"`
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the Agent Runtime Service. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a Client. BaseURL is required.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("runtime base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parsing runtime base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: base,
		http:    httpClient,
		logger:  logger.With("component", "runtime-client"),
	}, nil
}

// ListAgents returns every agent the runtime currently knows about.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var body struct {
		Agents []Agent `json:"agents"`
	}
	if err := c.do(ctx, "list agents", http.MethodGet, "/agents", nil, &body); err != nil {
		return nil, err
	}
	if body.Agents == nil {
		body.Agents = []Agent{}
	}
	return body.Agents, nil
}

// StopAgent asks the runtime to stop the agent.
func (c *Client) StopAgent(ctx context.Context, agentID string) (*Reply, error) {
	if agentID == "" {
		return nil, errors.New("agent id is required")
	}
	return c.command(ctx, "stop agent", agentPath(agentID, "stop"), nil)
}

// SetAgent starts (or replaces) the agent with the given character definition.
func (c *Client) SetAgent(ctx context.Context, agentID string, character json.RawMessage) (*Reply, error) {
	if agentID == "" {
		return nil, errors.New("agent id is required")
	}
	if len(character) == 0 {
		return nil, errors.New("character is required")
	}
	return c.command(ctx, "set agent", agentPath(agentID, "set"), character)
}

// Ping checks that the runtime answers its listing endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListAgents(ctx)
	return err
}

func (c *Client) command(ctx context.Context, op, path string, body []byte) (*Reply, error) {
	var raw json.RawMessage
	if err := c.do(ctx, op, http.MethodPost, path, body, &raw); err != nil {
		return nil, err
	}

	reply := &Reply{Raw: raw}
	if err := json.Unmarshal(raw, reply); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidResponse, err)
	}
	return reply, nil
}

// agentPath builds /agents/{id}/{action} with the id escaped as one segment.
func agentPath(agentID, action string) string {
	return "/agents/" + url.PathEscape(agentID) + "/" + action
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("runtime call failed", "op", op, "error", err)
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("runtime call",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: string(snippet)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w: %v", op, ErrInvalidResponse, err)
	}
	return nil
}
