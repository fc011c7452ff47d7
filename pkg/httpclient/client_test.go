package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		ServerURL: server.URL,
		ClientID:  "test-client",
	})
	require.NoError(t, err)
	return client
}

func TestNewClient(t *testing.T) {
	t.Run("valid_config", func(t *testing.T) {
		config := Config{
			ServerURL: "http://localhost:8081",
			ClientID:  "test-client",
		}

		client, err := NewClient(config)
		require.NoError(t, err)
		assert.NotNil(t, client)
		assert.Equal(t, "test-client", client.config.ClientID)
		assert.Equal(t, 30*time.Second, client.config.Timeout)
		assert.False(t, client.IsAuthenticated())
	})

	t.Run("preset_token", func(t *testing.T) {
		client, err := NewClient(Config{
			ServerURL: "http://localhost:8081",
			Token:     "admin-token",
		})
		require.NoError(t, err)
		assert.True(t, client.IsAuthenticated())
		assert.Equal(t, "admin-token", client.GetToken())
	})

	t.Run("missing_server_url", func(t *testing.T) {
		config := Config{
			ClientID: "test-client",
		}

		client, err := NewClient(config)
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "ServerURL is required")
	})

	t.Run("missing_client_id", func(t *testing.T) {
		config := Config{
			ServerURL: "http://localhost:8081",
		}

		client, err := NewClient(config)
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "ClientID or Token is required")
	})

	t.Run("invalid_server_url", func(t *testing.T) {
		client, err := NewClient(Config{
			ServerURL: "://bad",
			ClientID:  "test-client",
		})
		assert.Error(t, err)
		assert.Nil(t, client)
	})
}

func TestClient_Authenticate(t *testing.T) {
	t.Run("successful_authentication", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var authReq map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&authReq))
			assert.Equal(t, "test-client", authReq["clientId"])

			json.NewEncoder(w).Encode(AuthResponse{
				Token:     "mock-token-123",
				ClientID:  "test-client",
				ExpiresAt: time.Now().Add(time.Hour),
			})
		})

		require.NoError(t, client.Authenticate(context.Background()))
		assert.True(t, client.IsAuthenticated())
		assert.Equal(t, "mock-token-123", client.GetToken())
	})

	t.Run("authentication_failure", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(ErrorResponse{
				Error:   "Unauthorized",
				Message: "Invalid client credentials",
				Code:    401,
			})
		})

		err := client.Authenticate(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "authentication failed")
		assert.Contains(t, err.Error(), "Invalid client credentials")
		assert.False(t, client.IsAuthenticated())
	})
}

func TestClient_GetHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/health", r.URL.Path)
			assert.Empty(t, r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(HealthResponse{
				Healthy:       true,
				Node:          "/talker",
				URI:           "http://talker.local:11411/",
				Subscriptions: 1,
				Message:       "node is running",
			})
		})

		health, err := client.GetHealth(context.Background())
		require.NoError(t, err)
		assert.True(t, health.Healthy)
		assert.Equal(t, "/talker", health.Node)
		assert.Equal(t, 1, health.Subscriptions)
	})

	t.Run("shut_down", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(HealthResponse{
				Healthy: false,
				Node:    "/talker",
				Message: "node is shut down",
			})
		})

		health, err := client.GetHealth(context.Background())
		require.NoError(t, err)
		assert.False(t, health.Healthy)
		assert.Equal(t, "/talker", health.Node)
		assert.Equal(t, "node is shut down", health.Message)
	})

	t.Run("server_error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := client.GetHealth(context.Background())
		assert.Error(t, err)
	})
}

func TestClient_RequiresToken(t *testing.T) {
	client, err := NewClient(Config{
		ServerURL: "http://localhost:8081",
		ClientID:  "test-client",
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.GetInfo(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = client.GetStats(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = client.GetGraph(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = client.GetTopics(ctx, "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.ErrorIs(t, client.Shutdown(ctx, "bye"), ErrNotAuthenticated)
}

func TestClient_GetInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/info", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(InfoResponse{
			Node: "/listener",
			Connections: []ConnectionInfo{{
				ConnectionID: 0,
				Peer:         "http://talker.local:40000/",
				Direction:    "i",
				Transport:    "TCPROS",
				Topic:        "/chatter",
				Connected:    true,
			}},
		})
	})
	client.SetToken("test-token")

	info, err := client.GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/listener", info.Node)
	require.Len(t, info.Connections, 1)
	assert.Equal(t, "/chatter", info.Connections[0].Topic)
	assert.Equal(t, "i", info.Connections[0].Direction)
}

func TestClient_GetStats(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stats", r.URL.Path)
		w.Write([]byte(`{
			"node": "/listener",
			"publications": [{"topic": "/rosout", "bytesSent": 64, "connections": [{"connectionId": 2, "bytesSent": 64, "messagesSent": 1}]}],
			"subscriptions": [{"topic": "/chatter", "connections": [{"connectionId": 0, "bytesReceived": 120, "messagesReceived": 3, "dropEstimate": 1}]}],
			"receivedBytes": 120
		}`))
	})
	client.SetToken("test-token")

	stats, err := client.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(120), stats.ReceivedBytes)
	require.Len(t, stats.Subscriptions, 1)
	assert.Equal(t, uint64(3), stats.Subscriptions[0].Connections[0].MessagesReceived)
	assert.Equal(t, uint64(1), stats.Subscriptions[0].Connections[0].DropEstimate)
	require.Len(t, stats.Publications, 1)
	assert.Equal(t, uint64(64), stats.Publications[0].BytesSent)
}

func TestClient_GetGraph(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/graph", r.URL.Path)
			json.NewEncoder(w).Encode(GraphResponse{
				Publishers:  map[string][]string{"/chatter": {"/talker"}},
				Subscribers: map[string][]string{"/chatter": {"/listener"}},
				Services:    map[string][]string{},
			})
		})
		client.SetToken("test-token")

		graph, err := client.GetGraph(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"/talker"}, graph.Publishers["/chatter"])
		assert.Equal(t, []string{"/listener"}, graph.Subscribers["/chatter"])
	})

	t.Run("registrar_unavailable", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(ErrorResponse{
				Error:   "Bad Gateway",
				Message: "registrar unreachable",
				Code:    502,
			})
		})
		client.SetToken("test-token")

		_, err := client.GetGraph(context.Background())
		require.Error(t, err)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
		assert.Equal(t, "registrar unreachable", apiErr.Message)
	})
}

func TestClient_GetTopics(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/topics", r.URL.Path)
		assert.Equal(t, "/robot", r.URL.Query().Get("subgraph"))
		json.NewEncoder(w).Encode(TopicsResponse{
			Published: []TopicInfo{{Name: "/robot/odom", Type: "nav_msgs/Odometry"}},
		})
	})
	client.SetToken("test-token")

	topics, err := client.GetTopics(context.Background(), "/robot")
	require.NoError(t, err)
	require.Len(t, topics.Published, 1)
	assert.Equal(t, "nav_msgs/Odometry", topics.Published[0].Type)
}

func TestClient_Shutdown(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "/api/v1/admin/shutdown", r.URL.Path)
			assert.Equal(t, "Bearer admin-token", r.Header.Get("Authorization"))

			var req ShutdownRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "maintenance", req.Reason)

			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"message":"shutdown requested"}`))
		})
		client.SetToken("admin-token")

		assert.NoError(t, client.Shutdown(context.Background(), "maintenance"))
	})

	t.Run("forbidden", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(ErrorResponse{Error: "Forbidden", Message: "Admin privileges required", Code: 403})
		})
		client.SetToken("user-token")

		err := client.Shutdown(context.Background(), "maintenance")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Admin privileges required")
	})
}
