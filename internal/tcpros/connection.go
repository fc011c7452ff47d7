package tcpros

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Stats are the cumulative counters of an inbound connection. They only ever
// increase.
type Stats struct {
	BytesReceived    uint64
	MessagesReceived uint64
	DropEstimate     uint64
}

// Connection is one subscriber-side stream to one publisher.
type Connection struct {
	stream net.Conn
	header map[string]string
	logger *zap.Logger

	mu           sync.RWMutex
	remoteHeader map[string]string

	bytesReceived    atomic.Uint64
	messagesReceived atomic.Uint64
	dropEstimate     atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewConnection wraps an open stream. header is the connection header this
// side sends during Handshake.
func NewConnection(stream net.Conn, header map[string]string, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{
		stream: stream,
		header: header,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Handshake sends the connection header and reads the publisher's reply. An
// "error" field in the reply or a checksum mismatch fails the handshake.
func (c *Connection) Handshake(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.stream.SetDeadline(deadline)
		defer c.stream.SetDeadline(time.Time{})
	}

	if err := WriteHeader(c.stream, c.header); err != nil {
		return fmt.Errorf("failed to send connection header: %w", err)
	}

	reply, err := ReadHeader(c.stream)
	if err != nil {
		return fmt.Errorf("failed to read connection header reply: %w", err)
	}
	if msg, ok := reply[FieldError]; ok {
		return fmt.Errorf("publisher rejected connection: %s", msg)
	}
	want := c.header[FieldMD5Sum]
	if got, ok := reply[FieldMD5Sum]; ok && want != "*" && want != "" && got != "*" && got != want {
		return fmt.Errorf("checksum mismatch: want %s, publisher has %s", want, got)
	}

	c.mu.Lock()
	c.remoteHeader = reply
	c.mu.Unlock()
	return nil
}

// Run reads message frames until the stream ends or Close is called, calling
// onMessage for each frame. It returns nil when the connection was closed
// locally or the peer hung up cleanly.
func (c *Connection) Run(onMessage func(data []byte)) error {
	defer c.Close()

	for {
		data, err := ReadFrame(c.stream, MaxMessageSize)
		if err != nil {
			if c.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if c.closed.Load() {
			return nil
		}

		c.bytesReceived.Add(uint64(len(data) + 4))
		c.messagesReceived.Add(1)
		onMessage(data)
	}
}

// RecordDrop counts a message that was received but not delivered.
func (c *Connection) RecordDrop() {
	c.dropEstimate.Add(1)
}

// Stats returns a snapshot of the counters.
func (c *Connection) Stats() Stats {
	return Stats{
		BytesReceived:    c.bytesReceived.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		DropEstimate:     c.dropEstimate.Load(),
	}
}

// Header returns the header this side sent.
func (c *Connection) Header() map[string]string {
	return c.header
}

// RemoteHeader returns the header received during Handshake, or nil.
func (c *Connection) RemoteHeader() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remoteHeader
}

// TransportType names the transport.
func (c *Connection) TransportType() string {
	return TransportName
}

// TransportInfo describes the stream for introspection, e.g.
// "TCPROS connection on port 59746 to [10.0.0.4:34318]".
func (c *Connection) TransportInfo() string {
	return describe(c.stream)
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

// Close closes the stream. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.stream.Close()
		close(c.done)
	})
	return err
}

func describe(stream net.Conn) string {
	local := "unknown"
	if addr, ok := stream.LocalAddr().(*net.TCPAddr); ok {
		local = fmt.Sprintf("%d", addr.Port)
	} else if stream.LocalAddr() != nil {
		local = stream.LocalAddr().String()
	}
	remote := "unknown"
	if stream.RemoteAddr() != nil {
		remote = stream.RemoteAddr().String()
	}
	return fmt.Sprintf("%s connection on port %s to [%s]", TransportName, local, remote)
}
