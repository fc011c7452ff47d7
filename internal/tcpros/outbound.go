package tcpros

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// OutboundStats are the cumulative counters of a publisher-side stream.
type OutboundStats struct {
	BytesSent    uint64
	MessagesSent uint64
}

// OutboundConnection is one publisher-side stream to one subscriber.
type OutboundConnection struct {
	stream net.Conn
	header map[string]string

	writeMu sync.Mutex

	bytesSent    atomic.Uint64
	messagesSent atomic.Uint64

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewOutboundConnection wraps an accepted stream whose connection header has
// already been read.
func NewOutboundConnection(stream net.Conn, header map[string]string) *OutboundConnection {
	return &OutboundConnection{stream: stream, header: header}
}

// Send writes one message frame.
func (c *OutboundConnection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := WriteFrame(c.stream, data); err != nil {
		return err
	}
	c.bytesSent.Add(uint64(len(data) + 4))
	c.messagesSent.Add(1)
	return nil
}

// Drain discards anything the subscriber sends until the stream ends. It
// returns nil on a clean hang-up or local close.
func (c *OutboundConnection) Drain() error {
	_, err := io.Copy(io.Discard, c.stream)
	if err == nil || c.closed.Load() || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Stats returns a snapshot of the counters.
func (c *OutboundConnection) Stats() OutboundStats {
	return OutboundStats{
		BytesSent:    c.bytesSent.Load(),
		MessagesSent: c.messagesSent.Load(),
	}
}

// Header returns the subscriber's connection header.
func (c *OutboundConnection) Header() map[string]string {
	return c.header
}

// CallerID returns the subscriber's node name from its header.
func (c *OutboundConnection) CallerID() string {
	return c.header[FieldCallerID]
}

// TransportInfo describes the stream for introspection.
func (c *OutboundConnection) TransportInfo() string {
	return describe(c.stream)
}

// Closed reports whether Close has been called.
func (c *OutboundConnection) Closed() bool {
	return c.closed.Load()
}

// Close closes the stream. Safe to call more than once.
func (c *OutboundConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.stream.Close()
	})
	return err
}
