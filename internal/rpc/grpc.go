package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/rosnode-go/pkg/rpc"
)

// serviceName prefixes every method on the wire. Methods are routed by name
// through an unknown-service handler, so no generated service descriptor is
// needed.
const serviceName = "rosnode.rpc.v1.Bus"

const maxMessageSize = 16 * 1024 * 1024 // 16MB

// drainTimeout bounds how long Close waits for in-flight calls.
const drainTimeout = 2 * time.Second

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

// TargetFromURL extracts the host:port dial target from an endpoint URL such
// as "http://host:11311/". A bare "host:port" is returned unchanged.
func TargetFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		if _, _, splitErr := net.SplitHostPort(rawURL); splitErr == nil {
			return rawURL, nil
		}
		return "", fmt.Errorf("invalid endpoint url %q", rawURL)
	}
	if u.Port() == "" {
		return "", fmt.Errorf("endpoint url %q has no port", rawURL)
	}
	return u.Host, nil
}

// GRPCClient implements rpc.Client over a gRPC channel.
type GRPCClient struct {
	url  string
	conn *grpc.ClientConn
}

// Dial creates a client for the endpoint at rawURL. The underlying channel
// connects lazily on the first call.
func Dial(rawURL string, opts ...grpc.DialOption) (*GRPCClient, error) {
	target, err := TargetFromURL(rawURL)
	if err != nil {
		return nil, err
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMessageSize)),
	}, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", rawURL, err)
	}
	return &GRPCClient{url: rawURL, conn: conn}, nil
}

// Dialer adapts Dial to rpc.Dialer.
func Dialer(opts ...grpc.DialOption) rpc.Dialer {
	return func(rawURL string) (rpc.Client, error) {
		return Dial(rawURL, opts...)
	}
}

// URL returns the endpoint URL this client was created for.
func (c *GRPCClient) URL() string {
	return c.url
}

// Call invokes method on the remote endpoint.
func (c *GRPCClient) Call(ctx context.Context, method string, args ...any) (rpc.Response, error) {
	req, err := encodeList(args)
	if err != nil {
		return rpc.Response{}, fmt.Errorf("%s: failed to encode arguments: %w", method, err)
	}

	reply := &structpb.ListValue{}
	if err := c.conn.Invoke(ctx, fullMethod(method), req, reply); err != nil {
		return rpc.Response{}, fmt.Errorf("%s: %w", method, err)
	}

	resp, err := decodeResponse(reply)
	if err != nil {
		return rpc.Response{}, fmt.Errorf("%s: %w", method, err)
	}
	return resp, nil
}

// Close releases the underlying channel.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// GRPCServer implements rpc.Server on top of a grpc.Server.
type GRPCServer struct {
	mu       sync.RWMutex
	handlers map[string]rpc.Handler
	server   *grpc.Server
	url      string
	closed   bool
	logger   *zap.Logger
}

// NewServer creates a server with no handlers registered.
func NewServer(logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCServer{
		handlers: make(map[string]rpc.Handler),
		logger:   logger,
	}
}

// Handle registers h for method.
func (s *GRPCServer) Handle(method string, h rpc.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Start listens on all interfaces at port and serves in the background.
func (s *GRPCServer) Start(hostname string, port int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", errors.New("server is closed")
	}
	if s.server != nil {
		return "", errors.New("server is already running")
	}

	lis, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return "", fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	s.server = grpc.NewServer(
		grpc.UnknownServiceHandler(s.dispatch),
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
	)

	boundPort := lis.Addr().(*net.TCPAddr).Port
	s.url = fmt.Sprintf("http://%s/", net.JoinHostPort(hostname, strconv.Itoa(boundPort)))

	server := s.server
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Warn("rpc server stopped", zap.Error(err))
		}
	}()

	s.logger.Debug("rpc server listening", zap.String("url", s.url))
	return s.url, nil
}

// URL returns the advertised URL, or "" before Start.
func (s *GRPCServer) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

// Close stops the server. In-flight calls get up to drainTimeout to send
// their replies before they are cancelled. Safe to call more than once, but
// not from inside a handler.
func (s *GRPCServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		server.Stop()
	}
	return nil
}

func (s *GRPCServer) dispatch(_ any, stream grpc.ServerStream) error {
	full, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "method name unavailable")
	}
	method := path.Base(full)

	s.mu.RLock()
	handler := s.handlers[method]
	s.mu.RUnlock()
	if handler == nil {
		return status.Errorf(codes.Unimplemented, "unknown method %q", method)
	}

	req := &structpb.ListValue{}
	if err := stream.RecvMsg(req); err != nil {
		return err
	}

	resp, err := handler(stream.Context(), decodeList(req))
	if err != nil {
		s.logger.Debug("rpc handler failed", zap.String("method", method), zap.Error(err))
		return status.Error(codes.Internal, err.Error())
	}

	out, err := encodeResponse(resp)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to encode %s reply: %v", method, err)
	}
	return stream.SendMsg(out)
}

var (
	_ rpc.Client = (*GRPCClient)(nil)
	_ rpc.Server = (*GRPCServer)(nil)
)
