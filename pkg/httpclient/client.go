package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrNotAuthenticated is returned by calls that need a token before one is set.
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// APIError is a non-2xx reply from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Client provides an HTTP client for a node's introspection API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" && config.Token == "" {
		return nil, fmt.Errorf("ClientID or Token is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		token:      config.Token,
		baseURL:    baseURL,
	}, nil
}

// Authenticate logs in with the configured client ID and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	authReq := map[string]string{
		"clientId": c.config.ClientID,
	}

	var authResp AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", nil, authReq, &authResp, false); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return nil
}

// GetHealth returns the node's health
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, nil, &resp, false); err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
			return nil, fmt.Errorf("failed to get health status: %w", err)
		}
		resp.Healthy = false
		resp.Message = apiErr.Message
	}
	return &resp, nil
}

// GetInfo returns the node's live connections
func (c *Client) GetInfo(ctx context.Context) (*InfoResponse, error) {
	var resp InfoResponse
	if err := c.authed(ctx, http.MethodGet, "/api/v1/info", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get info: %w", err)
	}
	return &resp, nil
}

// GetStats returns the node's per-connection counters
func (c *Client) GetStats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.authed(ctx, http.MethodGet, "/api/v1/stats", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// GetGraph returns the bus topology as the node's registrar sees it
func (c *Client) GetGraph(ctx context.Context) (*GraphResponse, error) {
	var resp GraphResponse
	if err := c.authed(ctx, http.MethodGet, "/api/v1/graph", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get graph: %w", err)
	}
	return &resp, nil
}

// GetTopics lists published topics under subgraph ("" for all)
func (c *Client) GetTopics(ctx context.Context, subgraph string) (*TopicsResponse, error) {
	query := url.Values{}
	if subgraph != "" {
		query.Set("subgraph", subgraph)
	}
	var resp TopicsResponse
	if err := c.authed(ctx, http.MethodGet, "/api/v1/topics", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get topics: %w", err)
	}
	return &resp, nil
}

// Shutdown asks the node to shut down (admin token required)
func (c *Client) Shutdown(ctx context.Context, reason string) error {
	if err := c.authed(ctx, http.MethodPost, "/api/v1/admin/shutdown", nil, ShutdownRequest{Reason: reason}, nil); err != nil {
		return fmt.Errorf("failed to request shutdown: %w", err)
	}
	return nil
}

// IsAuthenticated returns whether the client has a token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) authed(ctx context.Context, method, path string, query url.Values, reqBody, respBody interface{}) error {
	if c.token == "" {
		return ErrNotAuthenticated
	}
	return c.doRequest(ctx, method, path, query, reqBody, respBody, true)
}

// doRequest performs an HTTP request with optional authentication
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	u := &url.URL{Path: path}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(bodyBytes)}
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil && errResp.Message != "" {
			apiErr.Message = errResp.Message
		}
		if respBody != nil && resp.StatusCode == http.StatusServiceUnavailable {
			_ = json.Unmarshal(bodyBytes, respBody)
		}
		return apiErr
	}

	if respBody != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
