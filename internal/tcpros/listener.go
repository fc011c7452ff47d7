package tcpros

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// headerTimeout bounds how long an accepted stream may take to send its
// connection header.
const headerTimeout = 10 * time.Second

// AcceptHandler takes ownership of an accepted stream whose connection header
// has been read.
type AcceptHandler func(stream net.Conn, header map[string]string)

// Listener accepts inbound subscriber streams.
type Listener struct {
	listener net.Listener
	handler  AcceptHandler
	logger   *zap.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Listen binds port on all interfaces (0 picks a free one) and starts
// accepting in the background.
func Listen(port int, handler AcceptHandler, logger *zap.Logger) (*Listener, error) {
	if handler == nil {
		return nil, errors.New("accept handler cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	lis, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	l := &Listener{listener: lis, handler: handler, logger: logger}
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

// Port returns the bound port.
func (l *Listener) Port() int {
	return l.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close stops accepting and waits for the accept loop to exit. Streams
// already handed to the handler are not closed.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.listener.Close()
		l.wg.Wait()
	})
	return err
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		go l.handshake(conn)
	}
}

func (l *Listener) handshake(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(headerTimeout))
	header, err := ReadHeader(conn)
	if err != nil {
		l.logger.Debug("failed to read connection header",
			zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	l.handler(conn, header)
}
