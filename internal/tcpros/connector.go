package tcpros

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Connector opens byte streams to publishers.
type Connector interface {
	Connect(ctx context.Context, host string, port int) (net.Conn, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, host string, port int) (net.Conn, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context, host string, port int) (net.Conn, error) {
	return f(ctx, host, port)
}

// TCPConnector dials plain TCP streams.
type TCPConnector struct {
	// Timeout bounds the dial. Zero means no limit beyond ctx.
	Timeout time.Duration
	// NoDelay disables Nagle's algorithm on the local end.
	NoDelay bool
}

// Connect dials host:port.
func (d TCPConnector) Connect(ctx context.Context, host string, port int) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s:%d: %w", host, port, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(d.NoDelay)
	}
	return conn, nil
}
