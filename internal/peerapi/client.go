// Package peerapi implements the per-node negotiation endpoint that peers call
// to agree on a transport, and the client stub used to call it.
package peerapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/rosnode-go/internal/tcpros"
	"github.com/rmacdonaldsmith/rosnode-go/pkg/rpc"
)

// Method names served by every node.
const (
	MethodRequestTopic     = "requestTopic"
	MethodPublisherUpdate  = "publisherUpdate"
	MethodGetBusStats      = "getBusStats"
	MethodGetBusInfo       = "getBusInfo"
	MethodGetPid           = "getPid"
	MethodGetSubscriptions = "getSubscriptions"
	MethodGetPublications  = "getPublications"
	MethodGetMasterURI     = "getMasterUri"
	MethodShutdown         = "shutdown"
)

// ErrNegotiation is wrapped by every transport negotiation failure.
var ErrNegotiation = errors.New("transport negotiation failed")

// Endpoint is the confirmed stream address returned by a publisher.
type Endpoint struct {
	Host string
	Port int
}

// Client calls a remote node's negotiation endpoint.
type Client struct {
	rpc rpc.Client
}

// NewClient wraps an rpc client pointed at a node's endpoint URL.
func NewClient(c rpc.Client) *Client {
	return &Client{rpc: c}
}

// URL returns the remote endpoint URL.
func (c *Client) URL() string {
	return c.rpc.URL()
}

// Close releases the underlying rpc client.
func (c *Client) Close() error {
	return c.rpc.Close()
}

// RequestTopic offers protocols to the remote node for topic and returns the
// raw reply.
func (c *Client) RequestTopic(ctx context.Context, callerID, topic string, protocols [][]any) (rpc.Response, error) {
	return c.rpc.Call(ctx, MethodRequestTopic, callerID, topic, protocols)
}

// NegotiateTCPROS requests topic over the streaming transport and returns the
// address to connect to. A non-success status, or a reply that does not
// confirm TCPROS as its first element, fails with ErrNegotiation.
func (c *Client) NegotiateTCPROS(ctx context.Context, callerID, topic string) (Endpoint, error) {
	resp, err := c.RequestTopic(ctx, callerID, topic, [][]any{{tcpros.TransportName}})
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: requestTopic(%q, %q): %w", ErrNegotiation, callerID, topic, err)
	}
	if !resp.OK() {
		return Endpoint{}, fmt.Errorf("%w: requestTopic(%q, %q) status=%d, msg=%s",
			ErrNegotiation, callerID, topic, resp.Code, resp.Message)
	}

	protocol, ok := rpc.AsList(resp.Value)
	if !ok || len(protocol) < 3 || protocol[0] != tcpros.TransportName {
		return Endpoint{}, fmt.Errorf("%w: %s does not support %s for topic %q",
			ErrNegotiation, c.URL(), tcpros.TransportName, topic)
	}
	host, ok := rpc.AsString(protocol[1])
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: invalid host %v from %s", ErrNegotiation, protocol[1], c.URL())
	}
	port, ok := rpc.AsInt(protocol[2])
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: invalid port %v from %s", ErrNegotiation, protocol[2], c.URL())
	}
	return Endpoint{Host: host, Port: port}, nil
}

// PublisherUpdate tells the remote node the current publisher list for topic.
func (c *Client) PublisherUpdate(ctx context.Context, callerID, topic string, publishers []string) error {
	resp, err := c.rpc.Call(ctx, MethodPublisherUpdate, callerID, topic, publishers)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("publisherUpdate failed (status=%d): %s", resp.Code, resp.Message)
	}
	return nil
}

// GetPid returns the remote node's process id.
func (c *Client) GetPid(ctx context.Context, callerID string) (int, error) {
	resp, err := c.call(ctx, MethodGetPid, callerID)
	if err != nil {
		return 0, err
	}
	pid, ok := rpc.AsInt(resp.Value)
	if !ok {
		return 0, fmt.Errorf("getPid returned non-integer %v", resp.Value)
	}
	return pid, nil
}

// GetBusStats returns the remote node's raw bus statistics.
func (c *Client) GetBusStats(ctx context.Context, callerID string) (any, error) {
	resp, err := c.call(ctx, MethodGetBusStats, callerID)
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// GetBusInfo returns the remote node's raw connection info rows.
func (c *Client) GetBusInfo(ctx context.Context, callerID string) (any, error) {
	resp, err := c.call(ctx, MethodGetBusInfo, callerID)
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// Shutdown asks the remote node to shut down.
func (c *Client) Shutdown(ctx context.Context, callerID, reason string) error {
	_, err := c.call(ctx, MethodShutdown, callerID, reason)
	return err
}

func (c *Client) call(ctx context.Context, method string, args ...any) (rpc.Response, error) {
	resp, err := c.rpc.Call(ctx, method, args...)
	if err != nil {
		return rpc.Response{}, err
	}
	if !resp.OK() {
		return rpc.Response{}, fmt.Errorf("%s failed (status=%d): %s", method, resp.Code, resp.Message)
	}
	return resp, nil
}
