package registrar

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/rosnode-go/internal/peerapi"
	"github.com/rmacdonaldsmith/rosnode-go/pkg/rpc"
)

// CallerID is the name the registrar uses when it calls nodes.
const CallerID = "/master"

const notifyTimeout = 10 * time.Second

// Server is an in-memory registrar. It keeps the topic graph, answers
// discovery calls, and pushes publisherUpdate calls to subscribers when the
// publisher list of their topic changes.
type Server struct {
	mu          sync.Mutex
	publishers  *topicTable
	subscribers *topicTable
	services    *topicTable
	topicTypes  map[string]string
	nodes       map[string]string // callerID -> callerAPI
	uri         string

	dial   rpc.Dialer
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewServer creates an empty registrar. dial is used to reach subscriber
// endpoints for publisherUpdate; nil disables notifications.
func NewServer(dial rpc.Dialer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		publishers:  newTopicTable(),
		subscribers: newTopicTable(),
		services:    newTopicTable(),
		topicTypes:  make(map[string]string),
		nodes:       make(map[string]string),
		dial:        dial,
		logger:      logger,
	}
}

// Register installs every registrar method on endpoint.
func (s *Server) Register(endpoint rpc.Server) {
	endpoint.Handle(MethodRegisterSubscriber, s.RegisterSubscriber)
	endpoint.Handle(MethodUnregisterSubscriber, s.UnregisterSubscriber)
	endpoint.Handle(MethodRegisterPublisher, s.RegisterPublisher)
	endpoint.Handle(MethodUnregisterPublisher, s.UnregisterPublisher)
	endpoint.Handle(MethodGetPublishedTopics, s.GetPublishedTopics)
	endpoint.Handle(MethodGetSystemState, s.GetSystemState)
	endpoint.Handle(MethodLookupNode, s.LookupNode)
	endpoint.Handle(MethodGetURI, s.GetURI)
}

// Start registers the handlers on endpoint and starts it.
func (s *Server) Start(endpoint rpc.Server, hostname string, port int) (string, error) {
	s.Register(endpoint)
	uri, err := endpoint.Start(hostname, port)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.uri = uri
	s.mu.Unlock()
	return uri, nil
}

// Wait blocks until every pending publisherUpdate notification finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// RegisterSubscriber handles (callerID, topic, topicType, callerAPI).
func (s *Server) RegisterSubscriber(ctx context.Context, args []any) (rpc.Response, error) {
	callerID, topic, topicType, callerAPI, err := registrationArgs(args)
	if err != nil {
		return rpc.Response{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.trackNode(callerID, callerAPI)
	s.subscribers.add(topic, callerID, callerAPI)
	if _, ok := s.topicTypes[topic]; !ok && topicType != "*" {
		s.topicTypes[topic] = topicType
	}

	s.logger.Debug("registered subscriber", zap.String("caller_id", callerID), zap.String("topic", topic))
	return rpc.Success(fmt.Sprintf("Subscribed to [%s]", topic), s.publishers.apis(topic)), nil
}

// UnregisterSubscriber handles (callerID, topic, callerAPI).
func (s *Server) UnregisterSubscriber(ctx context.Context, args []any) (rpc.Response, error) {
	callerID, topic, callerAPI, err := unregistrationArgs(args)
	if err != nil {
		return rpc.Response{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.subscribers.remove(topic, callerID, callerAPI)
	return rpc.Success(fmt.Sprintf("Unregistered %d subscriber(s) of [%s]", n, topic), n), nil
}

// RegisterPublisher handles (callerID, topic, topicType, callerAPI).
func (s *Server) RegisterPublisher(ctx context.Context, args []any) (rpc.Response, error) {
	callerID, topic, topicType, callerAPI, err := registrationArgs(args)
	if err != nil {
		return rpc.Response{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.topicTypes[topic]; ok && existing != topicType && existing != "*" {
		return rpc.Response{Code: rpc.StatusError, Message: fmt.Sprintf(
			"topic [%s] already has type %s, cannot register %s", topic, existing, topicType), Value: []string{}}, nil
	}

	s.trackNode(callerID, callerAPI)
	s.publishers.add(topic, callerID, callerAPI)
	s.topicTypes[topic] = topicType
	s.notifySubscribers(topic)

	s.logger.Debug("registered publisher", zap.String("caller_id", callerID), zap.String("topic", topic))
	return rpc.Success(fmt.Sprintf("Registered [%s] as publisher of [%s]", callerID, topic), s.subscribers.apis(topic)), nil
}

// UnregisterPublisher handles (callerID, topic, callerAPI).
func (s *Server) UnregisterPublisher(ctx context.Context, args []any) (rpc.Response, error) {
	callerID, topic, callerAPI, err := unregistrationArgs(args)
	if err != nil {
		return rpc.Response{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.publishers.remove(topic, callerID, callerAPI)
	if n > 0 {
		s.notifySubscribers(topic)
	}
	return rpc.Success(fmt.Sprintf("Unregistered %d publisher(s) of [%s]", n, topic), n), nil
}

// GetPublishedTopics handles (callerID, subgraph).
func (s *Server) GetPublishedTopics(ctx context.Context, args []any) (rpc.Response, error) {
	subgraph := ""
	if len(args) > 1 {
		subgraph, _ = rpc.AsString(args[1])
	}
	if subgraph != "" && !strings.HasSuffix(subgraph, "/") {
		subgraph += "/"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([][]string, 0)
	for _, topic := range s.publishers.topics() {
		if subgraph != "" && !strings.HasPrefix(topic, subgraph) {
			continue
		}
		rows = append(rows, []string{topic, s.topicTypes[topic]})
	}
	return rpc.Success("current topics", rows), nil
}

// GetSystemState handles (callerID).
func (s *Server) GetSystemState(ctx context.Context, args []any) (rpc.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return rpc.Success("current system state", []any{
		s.publishers.snapshot(),
		s.subscribers.snapshot(),
		s.services.snapshot(),
	}), nil
}

// LookupNode handles (callerID, nodeName).
func (s *Server) LookupNode(ctx context.Context, args []any) (rpc.Response, error) {
	name, err := rpc.StringArg(args, 1)
	if err != nil {
		return rpc.Response{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	api, ok := s.nodes[name]
	if !ok {
		return rpc.Response{Code: rpc.StatusError, Message: fmt.Sprintf("unknown node [%s]", name), Value: ""}, nil
	}
	return rpc.Success(fmt.Sprintf("node api for [%s]", name), api), nil
}

// GetURI handles (callerID).
func (s *Server) GetURI(ctx context.Context, args []any) (rpc.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rpc.Success("", s.uri), nil
}

// trackNode records callerAPI for callerID. A node that comes back with a new
// endpoint URL has restarted, so its old registrations are dropped.
// Caller must hold s.mu.
func (s *Server) trackNode(callerID, callerAPI string) {
	if prev, ok := s.nodes[callerID]; ok && prev != callerAPI {
		s.logger.Info("node re-registered with new api, dropping stale registrations",
			zap.String("caller_id", callerID), zap.String("old_api", prev), zap.String("new_api", callerAPI))
		s.publishers.removeNode(callerID)
		s.subscribers.removeNode(callerID)
	}
	s.nodes[callerID] = callerAPI
}

// notifySubscribers pushes the current publisher list of topic to each of its
// subscribers in the background. Caller must hold s.mu.
func (s *Server) notifySubscribers(topic string) {
	if s.dial == nil {
		return
	}
	publishers := s.publishers.apis(topic)
	for _, api := range s.subscribers.apis(topic) {
		s.wg.Add(1)
		go func(api string) {
			defer s.wg.Done()
			if err := s.publisherUpdate(api, topic, publishers); err != nil {
				s.logger.Warn("publisherUpdate failed",
					zap.String("subscriber", api), zap.String("topic", topic), zap.Error(err))
			}
		}(api)
	}
}

func (s *Server) publisherUpdate(api, topic string, publishers []string) error {
	rc, err := s.dial(api)
	if err != nil {
		return err
	}
	client := peerapi.NewClient(rc)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	return client.PublisherUpdate(ctx, CallerID, topic, publishers)
}

func registrationArgs(args []any) (callerID, topic, topicType, callerAPI string, err error) {
	if callerID, err = rpc.StringArg(args, 0); err != nil {
		return
	}
	if topic, err = rpc.StringArg(args, 1); err != nil {
		return
	}
	if topicType, err = rpc.StringArg(args, 2); err != nil {
		return
	}
	callerAPI, err = rpc.StringArg(args, 3)
	return
}

func unregistrationArgs(args []any) (callerID, topic, callerAPI string, err error) {
	if callerID, err = rpc.StringArg(args, 0); err != nil {
		return
	}
	if topic, err = rpc.StringArg(args, 1); err != nil {
		return
	}
	callerAPI, err = rpc.StringArg(args, 2)
	return
}
