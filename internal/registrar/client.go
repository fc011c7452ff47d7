// Package registrar talks to the central registrar nodes use to discover the
// publishers and subscribers of a topic, and provides an in-memory registrar
// for tests and single-host deployments.
package registrar

import (
	"context"
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/rosnode-go/pkg/rpc"
)

// Registrar method names.
const (
	MethodRegisterSubscriber   = "registerSubscriber"
	MethodUnregisterSubscriber = "unregisterSubscriber"
	MethodRegisterPublisher    = "registerPublisher"
	MethodUnregisterPublisher  = "unregisterPublisher"
	MethodGetPublishedTopics   = "getPublishedTopics"
	MethodGetSystemState       = "getSystemState"
	MethodLookupNode           = "lookupNode"
	MethodGetURI               = "getUri"
)

var (
	// ErrFailureStatus is matched by every StatusError.
	ErrFailureStatus = errors.New("registrar returned failure status")
	// ErrProtocol is returned when a successful reply has an unexpected shape.
	ErrProtocol = errors.New("unexpected registrar response")
)

// StatusError reports a registrar reply whose status was not success.
type StatusError struct {
	Method  string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s() failed. status=%d, msg=%q", e.Method, e.Code, e.Message)
}

// Is makes errors.Is(err, ErrFailureStatus) match. A failed getSystemState
// also matches ErrProtocol, since graph queries report both failure modes as
// a protocol error.
func (e *StatusError) Is(target error) bool {
	return target == ErrFailureStatus || (target == ErrProtocol && e.Method == MethodGetSystemState)
}

// TopicType pairs a topic with its declared message type.
type TopicType struct {
	Topic string
	Type  string
}

// Client makes typed calls to a registrar.
type Client struct {
	rpc rpc.Client
}

// NewClient wraps an rpc client pointed at the registrar URL.
func NewClient(c rpc.Client) *Client {
	return &Client{rpc: c}
}

// URL returns the registrar URL.
func (c *Client) URL() string {
	return c.rpc.URL()
}

// Close releases the underlying rpc client.
func (c *Client) Close() error {
	return c.rpc.Close()
}

// RegisterSubscriber registers callerAPI as a subscriber of topic and returns
// the endpoint URLs of the topic's current publishers.
func (c *Client) RegisterSubscriber(ctx context.Context, callerID, topic, topicType, callerAPI string) ([]string, error) {
	resp, err := c.call(ctx, MethodRegisterSubscriber, callerID, topic, topicType, callerAPI)
	if err != nil {
		return nil, err
	}
	publishers, ok := rpc.AsStringList(resp.Value)
	if !ok {
		return nil, fmt.Errorf("%w: registerSubscriber() did not receive a list of publishers. value=%v",
			ErrProtocol, resp.Value)
	}
	return publishers, nil
}

// UnregisterSubscriber removes callerAPI as a subscriber of topic.
func (c *Client) UnregisterSubscriber(ctx context.Context, callerID, topic, callerAPI string) error {
	_, err := c.call(ctx, MethodUnregisterSubscriber, callerID, topic, callerAPI)
	return err
}

// RegisterPublisher registers callerAPI as a publisher of topic and returns
// the endpoint URLs of the topic's current subscribers.
func (c *Client) RegisterPublisher(ctx context.Context, callerID, topic, topicType, callerAPI string) ([]string, error) {
	resp, err := c.call(ctx, MethodRegisterPublisher, callerID, topic, topicType, callerAPI)
	if err != nil {
		return nil, err
	}
	subscribers, ok := rpc.AsStringList(resp.Value)
	if !ok {
		return nil, fmt.Errorf("%w: registerPublisher() did not receive a list of subscribers. value=%v",
			ErrProtocol, resp.Value)
	}
	return subscribers, nil
}

// UnregisterPublisher removes callerAPI as a publisher of topic.
func (c *Client) UnregisterPublisher(ctx context.Context, callerID, topic, callerAPI string) error {
	_, err := c.call(ctx, MethodUnregisterPublisher, callerID, topic, callerAPI)
	return err
}

// GetPublishedTopics lists published topics, optionally restricted to a
// namespace prefix.
func (c *Client) GetPublishedTopics(ctx context.Context, callerID, subgraph string) ([]TopicType, error) {
	resp, err := c.call(ctx, MethodGetPublishedTopics, callerID, subgraph)
	if err != nil {
		return nil, err
	}
	rows, ok := rpc.AsList(resp.Value)
	if !ok {
		return nil, fmt.Errorf("%w: getPublishedTopics returned unrecognized data (%v)", ErrProtocol, resp.Value)
	}
	topics := make([]TopicType, 0, len(rows))
	for _, row := range rows {
		pair, ok := rpc.AsStringList(row)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%w: getPublishedTopics returned bad entry %v", ErrProtocol, row)
		}
		topics = append(topics, TopicType{Topic: pair[0], Type: pair[1]})
	}
	return topics, nil
}

// GetSystemState returns the full bus topology. Both a failure status and a
// malformed reply match ErrProtocol.
func (c *Client) GetSystemState(ctx context.Context, callerID string) (*Graph, error) {
	resp, err := c.call(ctx, MethodGetSystemState, callerID)
	if err != nil {
		return nil, err
	}
	graph, err := ParseSystemState(resp.Value)
	if err != nil {
		return nil, fmt.Errorf("getSystemState: %w (%s)", err, resp.Message)
	}
	return graph, nil
}

// LookupNode returns the endpoint URL registered for node.
func (c *Client) LookupNode(ctx context.Context, callerID, node string) (string, error) {
	resp, err := c.call(ctx, MethodLookupNode, callerID, node)
	if err != nil {
		return "", err
	}
	url, ok := rpc.AsString(resp.Value)
	if !ok {
		return "", fmt.Errorf("%w: lookupNode returned %v", ErrProtocol, resp.Value)
	}
	return url, nil
}

// GetURI returns the registrar's own URL as it reports it.
func (c *Client) GetURI(ctx context.Context, callerID string) (string, error) {
	resp, err := c.call(ctx, MethodGetURI, callerID)
	if err != nil {
		return "", err
	}
	url, ok := rpc.AsString(resp.Value)
	if !ok {
		return "", fmt.Errorf("%w: getUri returned %v", ErrProtocol, resp.Value)
	}
	return url, nil
}

func (c *Client) call(ctx context.Context, method string, args ...any) (rpc.Response, error) {
	resp, err := c.rpc.Call(ctx, method, args...)
	if err != nil {
		return rpc.Response{}, err
	}
	if !resp.OK() {
		return rpc.Response{}, &StatusError{Method: method, Code: resp.Code, Message: resp.Message}
	}
	return resp, nil
}
