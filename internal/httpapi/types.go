package httpapi

import (
	"time"

	"github.com/rmacdonaldsmith/rosnode-go/internal/peerapi"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy       bool   `json:"healthy"`
	Node          string `json:"node"`
	URI           string `json:"uri"`
	Hostname      string `json:"hostname"`
	Subscriptions int    `json:"subscriptions"`
	Publications  int    `json:"publications"`
	Message       string `json:"message"`
}

// InfoResponse lists every live connection of the node
type InfoResponse struct {
	Node        string                   `json:"node"`
	Connections []peerapi.ConnectionInfo `json:"connections"`
}

// StatsResponse carries per-connection counters
type StatsResponse struct {
	Node string `json:"node"`
	peerapi.BusStats
	ReceivedBytes uint64 `json:"receivedBytes"`
}

// GraphResponse is the registrar's view of the bus
type GraphResponse struct {
	Publishers  map[string][]string `json:"publishers"`
	Subscribers map[string][]string `json:"subscribers"`
	Services    map[string][]string `json:"services"`
}

// TopicInfo pairs a topic with its message type
type TopicInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TopicsResponse lists topics
type TopicsResponse struct {
	Published     []TopicInfo `json:"published"`
	Subscriptions []TopicInfo `json:"subscriptions,omitempty"`
	Publications  []TopicInfo `json:"publications,omitempty"`
}

// ShutdownRequest asks the node to shut down
type ShutdownRequest struct {
	Reason string `json:"reason"`
}

// ShutdownResponse acknowledges a shutdown request
type ShutdownResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
