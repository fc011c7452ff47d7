package rosnode

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/rosnode-go/internal/peerapi"
	"github.com/rmacdonaldsmith/rosnode-go/internal/registrar"
	"github.com/rmacdonaldsmith/rosnode-go/internal/tcpros"
	"github.com/rmacdonaldsmith/rosnode-go/pkg/rpc"
)

const testMasterURI = "http://master:11311/"

// fakeEndpoint records handlers instead of serving them.
type fakeEndpoint struct {
	mu       sync.Mutex
	handlers map[string]rpc.Handler
	url      string
	closed   bool
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{handlers: make(map[string]rpc.Handler)}
}

func (e *fakeEndpoint) Handle(method string, h rpc.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[method] = h
}

func (e *fakeEndpoint) Start(hostname string, port int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.url = fmt.Sprintf("http://%s:11411/", hostname)
	return e.url, nil
}

func (e *fakeEndpoint) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.url
}

func (e *fakeEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// fakeRegistrar answers registrar calls from canned state.
type fakeRegistrar struct {
	mu          sync.Mutex
	calls       []string
	publishers  []string
	status      int
	systemState any

	// gate, when set, blocks registerSubscriber until closed
	gate chan struct{}
	// pubGate does the same for registerPublisher
	pubGate chan struct{}
}

func (r *fakeRegistrar) URL() string  { return testMasterURI }
func (r *fakeRegistrar) Close() error { return nil }

func (r *fakeRegistrar) Call(ctx context.Context, method string, args ...any) (rpc.Response, error) {
	r.mu.Lock()
	r.calls = append(r.calls, method)
	gate := r.gate
	pubGate := r.pubGate
	status := r.status
	publishers := append([]string(nil), r.publishers...)
	state := r.systemState
	r.mu.Unlock()

	if status != rpc.StatusSuccess {
		return rpc.Response{Code: status, Message: "registrar says no", Value: 0}, nil
	}

	switch method {
	case registrar.MethodRegisterSubscriber:
		if gate != nil {
			<-gate
		}
		return rpc.Success("subscribed", publishers), nil
	case registrar.MethodRegisterPublisher:
		if pubGate != nil {
			<-pubGate
		}
		return rpc.Success("registered", []string{}), nil
	case registrar.MethodUnregisterSubscriber, registrar.MethodUnregisterPublisher:
		return rpc.Success("unregistered", 1), nil
	case registrar.MethodGetSystemState:
		return rpc.Success("current system state", state), nil
	case registrar.MethodGetPublishedTopics:
		return rpc.Success("current topics", []any{[]any{"/chatter", "std_msgs/String"}}), nil
	}
	return rpc.Failure("unknown method " + method), nil
}

func (r *fakeRegistrar) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// fakePeer answers requestTopic for one publisher.
type fakePeer struct {
	url  string
	resp rpc.Response
	// gate, when set, blocks requestTopic until closed
	gate chan struct{}
}

func (p *fakePeer) URL() string  { return p.url }
func (p *fakePeer) Close() error { return nil }

func (p *fakePeer) Call(ctx context.Context, method string, args ...any) (rpc.Response, error) {
	if method != peerapi.MethodRequestTopic {
		return rpc.Failure("unsupported"), nil
	}
	if p.gate != nil {
		<-p.gate
	}
	return p.resp, nil
}

func readyPeer(url string, port int) *fakePeer {
	return &fakePeer{url: url, resp: rpc.Success("ready", []any{"TCPROS", "pub.local", float64(port)})}
}

// pipeConnector hands out in-memory streams served by fake publishers, keyed
// by port.
type pipeConnector struct {
	t        *testing.T
	mu       sync.Mutex
	frames   map[int][][]byte
	connects atomic.Int32
	headers  chan map[string]string
}

func newPipeConnector(t *testing.T) *pipeConnector {
	return &pipeConnector{t: t, frames: make(map[int][][]byte), headers: make(chan map[string]string, 16)}
}

func (c *pipeConnector) setFrames(port int, frames ...[]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames[port] = frames
}

func (c *pipeConnector) Connect(ctx context.Context, host string, port int) (net.Conn, error) {
	c.connects.Add(1)
	c.mu.Lock()
	frames := c.frames[port]
	c.mu.Unlock()

	local, remote := net.Pipe()
	go func() {
		header, err := tcpros.ReadHeader(remote)
		if err != nil {
			return
		}
		c.headers <- header
		reply := map[string]string{
			tcpros.FieldCallerID: "/talker",
			tcpros.FieldMD5Sum:   "*",
			tcpros.FieldType:     header[tcpros.FieldType],
		}
		if err := tcpros.WriteHeader(remote, reply); err != nil {
			return
		}
		for _, f := range frames {
			if err := tcpros.WriteFrame(remote, f); err != nil {
				return
			}
		}
		// hold the stream open until the subscriber closes it
		_, _ = io.Copy(io.Discard, remote)
	}()
	return local, nil
}

type testEnv struct {
	registrar *fakeRegistrar
	peers     map[string]*fakePeer
	connector *pipeConnector
	endpoint  *fakeEndpoint
	node      *Node
}

func newTestEnv(t *testing.T, logger *zap.Logger, peers ...*fakePeer) *testEnv {
	t.Helper()
	env := &testEnv{
		registrar: &fakeRegistrar{status: rpc.StatusSuccess},
		peers:     make(map[string]*fakePeer),
		connector: newPipeConnector(t),
		endpoint:  newFakeEndpoint(),
	}
	for _, p := range peers {
		env.peers[p.url] = p
		env.registrar.publishers = append(env.registrar.publishers, p.url)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := &Config{
		Name:       "/listener",
		MasterURI:  testMasterURI,
		Hostname:   "listener.local",
		Pid:        4242,
		Logger:     logger,
		Endpoint:   env.endpoint,
		Connector:  env.connector,
		StreamPort: 0,
		Dial: func(url string) (rpc.Client, error) {
			if url == testMasterURI {
				return env.registrar, nil
			}
			if p, ok := env.peers[url]; ok {
				return p, nil
			}
			return nil, fmt.Errorf("no such peer %s", url)
		},
	}
	n, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(func() { n.Shutdown("test done") })
	env.node = n
	return env
}
