package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/rosnode-go/internal/peerapi"
	"github.com/rmacdonaldsmith/rosnode-go/internal/registrar"
)

// Node is the node state the HTTP API reports on.
type Node interface {
	Name() string
	URI() string
	Hostname() string
	Running() bool

	// Info and Stats return the getBusInfo and getBusStats wire rows.
	Info() []any
	Stats() []any
	ReceivedBytes() uint64

	Subscriptions() [][]string
	Publications() [][]string

	GetGraph(ctx context.Context) (*registrar.Graph, error)
	GetPublishedTopics(ctx context.Context, subgraph string) ([]registrar.TopicType, error)

	Shutdown(reason string)
}

// Handlers contains HTTP handlers for the node API
type Handlers struct {
	node    Node
	jwtAuth *JWTAuth
	logger  *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(node Node, jwtAuth *JWTAuth, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		node:    node,
		jwtAuth: jwtAuth,
		logger:  logger,
	}
}

// Login handles POST /api/v1/auth/login. Issued tokens never carry admin
// rights; admin tokens are minted offline with the shared secret.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ClientID) == "" {
		writeError(w, "clientId is required", http.StatusBadRequest)
		return
	}

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, false)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Healthy:       h.node.Running(),
		Node:          h.node.Name(),
		URI:           h.node.URI(),
		Hostname:      h.node.Hostname(),
		Subscriptions: len(h.node.Subscriptions()),
		Publications:  len(h.node.Publications()),
		Message:       "node is running",
	}

	statusCode := http.StatusOK
	if !resp.Healthy {
		resp.Message = "node is shut down"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, statusCode)
}

// Info handles GET /api/v1/info
func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	conns, err := peerapi.ParseBusInfo(h.node.Info())
	if err != nil {
		h.logger.Error("failed to parse bus info", zap.Error(err))
		writeError(w, "Failed to read connection info", http.StatusInternalServerError)
		return
	}
	writeJSON(w, InfoResponse{Node: h.node.Name(), Connections: conns}, http.StatusOK)
}

// Stats handles GET /api/v1/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := peerapi.ParseBusStats(h.node.Stats())
	if err != nil {
		h.logger.Error("failed to parse bus stats", zap.Error(err))
		writeError(w, "Failed to read connection stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, StatsResponse{
		Node:          h.node.Name(),
		BusStats:      *stats,
		ReceivedBytes: h.node.ReceivedBytes(),
	}, http.StatusOK)
}

// Graph handles GET /api/v1/graph
func (h *Handlers) Graph(w http.ResponseWriter, r *http.Request) {
	graph, err := h.node.GetGraph(r.Context())
	if err != nil {
		h.writeNodeError(w, "Failed to query registrar", err)
		return
	}
	writeJSON(w, GraphResponse{
		Publishers:  flatten(graph.Publishers),
		Subscribers: flatten(graph.Subscribers),
		Services:    flatten(graph.Services),
	}, http.StatusOK)
}

// Topics handles GET /api/v1/topics?subgraph={prefix}
func (h *Handlers) Topics(w http.ResponseWriter, r *http.Request) {
	published, err := h.node.GetPublishedTopics(r.Context(), r.URL.Query().Get("subgraph"))
	if err != nil {
		h.writeNodeError(w, "Failed to query registrar", err)
		return
	}

	resp := TopicsResponse{Published: make([]TopicInfo, 0, len(published))}
	for _, t := range published {
		resp.Published = append(resp.Published, TopicInfo{Name: t.Topic, Type: t.Type})
	}
	resp.Subscriptions = pairs(h.node.Subscriptions())
	resp.Publications = pairs(h.node.Publications())
	writeJSON(w, resp, http.StatusOK)
}

// AdminShutdown handles POST /api/v1/admin/shutdown
func (h *Handlers) AdminShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ShutdownRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "shutdown requested over http by " + GetClientID(r)
	}

	h.logger.Info("shutdown requested", zap.String("client_id", GetClientID(r)), zap.String("reason", req.Reason))
	go h.node.Shutdown(req.Reason)

	writeJSON(w, ShutdownResponse{Message: "shutting down"}, http.StatusAccepted)
}

func (h *Handlers) writeNodeError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, registrar.ErrFailureStatus), errors.Is(err, registrar.ErrProtocol):
		writeError(w, message+": "+err.Error(), http.StatusBadGateway)
	default:
		h.logger.Warn(message, zap.Error(err))
		writeError(w, message+": "+err.Error(), http.StatusServiceUnavailable)
	}
}

// validateJSON validates that the request has JSON content type
func (h *Handlers) validateJSON(r *http.Request) error {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return errors.New("Content-Type must be application/json")
	}
	return nil
}

func flatten(table map[string]registrar.NodeSet) map[string][]string {
	out := make(map[string][]string, len(table))
	for topic, nodes := range table {
		out[topic] = nodes.Sorted()
	}
	return out
}

func pairs(rows [][]string) []TopicInfo {
	out := make([]TopicInfo, 0, len(rows))
	for _, row := range rows {
		if len(row) == 2 {
			out = append(out, TopicInfo{Name: row[0], Type: row[1]})
		}
	}
	return out
}
