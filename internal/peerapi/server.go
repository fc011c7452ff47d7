package peerapi

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/rosnode-go/internal/tcpros"
	"github.com/rmacdonaldsmith/rosnode-go/pkg/rpc"
)

// Host is the node state the negotiation endpoint answers from.
type Host interface {
	Name() string
	Pid() int
	MasterURI() string

	// StreamEndpoint returns where subscribers of topic should connect, or
	// ok=false when the node does not publish topic.
	StreamEndpoint(topic string) (host string, port int, ok bool)

	// HandlePublisherUpdate reacts to a new publisher list for topic.
	HandlePublisherUpdate(topic string, publishers []string)

	// BusStats returns [publishStats, subscribeStats, serviceStats].
	BusStats() []any
	// BusInfo returns one row per live connection.
	BusInfo() []any

	// Subscriptions and Publications return [topic, type] pairs.
	Subscriptions() [][]string
	Publications() [][]string

	// RequestShutdown begins shutting the node down without waiting.
	RequestShutdown(reason string)
}

// Server answers negotiation and introspection calls from peers.
type Server struct {
	host   Host
	logger *zap.Logger
}

// NewServer creates a server backed by host.
func NewServer(host Host, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{host: host, logger: logger}
}

// Register installs every method on endpoint.
func (s *Server) Register(endpoint rpc.Server) {
	endpoint.Handle(MethodRequestTopic, s.RequestTopic)
	endpoint.Handle(MethodPublisherUpdate, s.PublisherUpdate)
	endpoint.Handle(MethodGetBusStats, s.GetBusStats)
	endpoint.Handle(MethodGetBusInfo, s.GetBusInfo)
	endpoint.Handle(MethodGetPid, s.GetPid)
	endpoint.Handle(MethodGetSubscriptions, s.GetSubscriptions)
	endpoint.Handle(MethodGetPublications, s.GetPublications)
	endpoint.Handle(MethodGetMasterURI, s.GetMasterURI)
	endpoint.Handle(MethodShutdown, s.Shutdown)
}

// RequestTopic handles (callerID, topic, protocols).
func (s *Server) RequestTopic(ctx context.Context, args []any) (rpc.Response, error) {
	callerID, err := rpc.StringArg(args, 0)
	if err != nil {
		return rpc.Response{}, err
	}
	topic, err := rpc.StringArg(args, 1)
	if err != nil {
		return rpc.Response{}, err
	}
	if len(args) < 3 {
		return rpc.Response{}, fmt.Errorf("missing protocol list")
	}
	protocols, ok := rpc.AsList(args[2])
	if !ok {
		return rpc.Response{}, fmt.Errorf("protocol list must be a list, got %T", args[2])
	}

	host, port, ok := s.host.StreamEndpoint(topic)
	if !ok {
		s.logger.Debug("requestTopic for unpublished topic",
			zap.String("caller_id", callerID), zap.String("topic", topic))
		return rpc.Failure(fmt.Sprintf("%s is not a publisher of %s", s.host.Name(), topic)), nil
	}

	for _, p := range protocols {
		desc, ok := rpc.AsList(p)
		if !ok || len(desc) == 0 || desc[0] != tcpros.TransportName {
			continue
		}
		s.logger.Debug("requestTopic accepted",
			zap.String("caller_id", callerID), zap.String("topic", topic), zap.Int("port", port))
		return rpc.Success(
			fmt.Sprintf("ready on %s:%d", host, port),
			[]any{tcpros.TransportName, host, port},
		), nil
	}

	return rpc.Failure("no supported protocol implementations"), nil
}

// PublisherUpdate handles (callerID, topic, publishers).
func (s *Server) PublisherUpdate(ctx context.Context, args []any) (rpc.Response, error) {
	topic, err := rpc.StringArg(args, 1)
	if err != nil {
		return rpc.Response{}, err
	}
	if len(args) < 3 {
		return rpc.Response{}, fmt.Errorf("missing publisher list")
	}
	publishers, ok := rpc.AsStringList(args[2])
	if !ok {
		return rpc.Response{}, fmt.Errorf("publisher list must be a list of strings")
	}

	s.host.HandlePublisherUpdate(topic, publishers)
	return rpc.Success("", 0), nil
}

// GetBusStats handles (callerID).
func (s *Server) GetBusStats(ctx context.Context, args []any) (rpc.Response, error) {
	return rpc.Success("", s.host.BusStats()), nil
}

// GetBusInfo handles (callerID).
func (s *Server) GetBusInfo(ctx context.Context, args []any) (rpc.Response, error) {
	return rpc.Success("", s.host.BusInfo()), nil
}

// GetPid handles (callerID).
func (s *Server) GetPid(ctx context.Context, args []any) (rpc.Response, error) {
	return rpc.Success("", s.host.Pid()), nil
}

// GetSubscriptions handles (callerID).
func (s *Server) GetSubscriptions(ctx context.Context, args []any) (rpc.Response, error) {
	return rpc.Success("", s.host.Subscriptions()), nil
}

// GetPublications handles (callerID).
func (s *Server) GetPublications(ctx context.Context, args []any) (rpc.Response, error) {
	return rpc.Success("", s.host.Publications()), nil
}

// GetMasterURI handles (callerID).
func (s *Server) GetMasterURI(ctx context.Context, args []any) (rpc.Response, error) {
	return rpc.Success("", s.host.MasterURI()), nil
}

// Shutdown handles (callerID, reason).
func (s *Server) Shutdown(ctx context.Context, args []any) (rpc.Response, error) {
	callerID, _ := rpc.StringArg(args, 0)
	reason, _ := rpc.StringArg(args, 1)
	s.logger.Info("shutdown requested", zap.String("caller_id", callerID), zap.String("reason", reason))
	s.host.RequestShutdown(reason)
	return rpc.Success("", 0), nil
}
