package httpclient

import "time"

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of a node's HTTP API (e.g., "http://localhost:8081")
	ServerURL string

	// ClientID is the identifier presented at login
	ClientID string

	// Token is used as-is when set, skipping Authenticate
	Token string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// AuthResponse represents the response from authentication
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

// ConnectionInfo describes one live connection
type ConnectionInfo struct {
	ConnectionID  int    `json:"connectionId"`
	Peer          string `json:"peer"`
	Direction     string `json:"direction"`
	Transport     string `json:"transport"`
	Topic         string `json:"topic"`
	Connected     bool   `json:"connected"`
	TransportInfo string `json:"transportInfo"`
}

// InfoResponse lists every live connection of a node
type InfoResponse struct {
	Node        string           `json:"node"`
	Connections []ConnectionInfo `json:"connections"`
}

// SubscriberStats is one connection of a subscribed topic
type SubscriberStats struct {
	ConnectionID     int    `json:"connectionId"`
	BytesReceived    uint64 `json:"bytesReceived"`
	MessagesReceived uint64 `json:"messagesReceived"`
	DropEstimate     uint64 `json:"dropEstimate"`
}

// PublisherStats is one connection of an advertised topic
type PublisherStats struct {
	ConnectionID int    `json:"connectionId"`
	BytesSent    uint64 `json:"bytesSent"`
	MessagesSent uint64 `json:"messagesSent"`
}

// SubscribedTopicStats groups the connections of one subscribed topic
type SubscribedTopicStats struct {
	Topic       string            `json:"topic"`
	Connections []SubscriberStats `json:"connections"`
}

// PublishedTopicStats groups the connections of one advertised topic
type PublishedTopicStats struct {
	Topic       string           `json:"topic"`
	BytesSent   uint64           `json:"bytesSent"`
	Connections []PublisherStats `json:"connections"`
}

// StatsResponse carries per-connection counters
type StatsResponse struct {
	Node          string                 `json:"node"`
	Publications  []PublishedTopicStats  `json:"publications"`
	Subscriptions []SubscribedTopicStats `json:"subscriptions"`
	ReceivedBytes uint64                 `json:"receivedBytes"`
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

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
