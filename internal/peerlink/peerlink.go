// Package peerlink models one node's view of one connected remote peer for a
// topic: the connection id the node assigned, the peer's negotiation client,
// and the stream session underneath.
package peerlink

import (
	"go.uber.org/multierr"

	"github.com/rmacdonaldsmith/rosnode-go/internal/peerapi"
	"github.com/rmacdonaldsmith/rosnode-go/internal/tcpros"
)

// Direction markers used in connection info rows.
const (
	DirectionInbound  = "i"
	DirectionOutbound = "o"
)

// Connected is the liveness value reported for every live link.
const Connected = 1

// PeerLink is a subscriber-side link to one remote publisher. It is immutable
// after creation apart from the Connection's counters.
type PeerLink struct {
	connectionID int
	client       *peerapi.Client
	connection   *tcpros.Connection
}

// New creates a PeerLink.
func New(connectionID int, client *peerapi.Client, connection *tcpros.Connection) *PeerLink {
	return &PeerLink{connectionID: connectionID, client: client, connection: connection}
}

// ConnectionID returns the id the owning node assigned.
func (p *PeerLink) ConnectionID() int {
	return p.connectionID
}

// PublisherURL returns the publisher's negotiation endpoint URL.
func (p *PeerLink) PublisherURL() string {
	return p.client.URL()
}

// Client returns the publisher's negotiation client.
func (p *PeerLink) Client() *peerapi.Client {
	return p.client
}

// Connection returns the stream session.
func (p *PeerLink) Connection() *tcpros.Connection {
	return p.connection
}

// Info returns the connection info row:
// [id, publisherURL, "i", transport, topic, 1, transportInfo].
func (p *PeerLink) Info(topic string) []any {
	return []any{
		p.connectionID,
		p.PublisherURL(),
		DirectionInbound,
		p.connection.TransportType(),
		topic,
		Connected,
		p.connection.TransportInfo(),
	}
}

// Stats returns the statistics row:
// [id, bytesReceived, messagesReceived, dropEstimate, 0].
func (p *PeerLink) Stats() []any {
	s := p.connection.Stats()
	return []any{
		p.connectionID,
		s.BytesReceived,
		s.MessagesReceived,
		s.DropEstimate,
		0,
	}
}

// Close closes the stream and the negotiation client.
func (p *PeerLink) Close() error {
	return multierr.Append(p.connection.Close(), p.client.Close())
}

// SubscriberLink is a publisher-side link to one remote subscriber.
type SubscriberLink struct {
	connectionID int
	connection   *tcpros.OutboundConnection
}

// NewSubscriberLink creates a SubscriberLink.
func NewSubscriberLink(connectionID int, connection *tcpros.OutboundConnection) *SubscriberLink {
	return &SubscriberLink{connectionID: connectionID, connection: connection}
}

// ConnectionID returns the id the owning node assigned.
func (s *SubscriberLink) ConnectionID() int {
	return s.connectionID
}

// Connection returns the stream session.
func (s *SubscriberLink) Connection() *tcpros.OutboundConnection {
	return s.connection
}

// Info returns the connection info row:
// [id, subscriberCallerID, "o", transport, topic, 1, transportInfo].
func (s *SubscriberLink) Info(topic string) []any {
	return []any{
		s.connectionID,
		s.connection.CallerID(),
		DirectionOutbound,
		tcpros.TransportName,
		topic,
		Connected,
		s.connection.TransportInfo(),
	}
}

// Stats returns the statistics row: [id, bytesSent, messagesSent, 1].
func (s *SubscriberLink) Stats() []any {
	st := s.connection.Stats()
	return []any{s.connectionID, st.BytesSent, st.MessagesSent, Connected}
}

// Close closes the stream.
func (s *SubscriberLink) Close() error {
	return s.connection.Close()
}
