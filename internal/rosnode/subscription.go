package rosnode

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/rosnode-go/internal/peerlink"
	"github.com/rmacdonaldsmith/rosnode-go/pkg/codec"
)

// SubscribeOptions describes a subscription request.
type SubscribeOptions struct {
	Topic string
	Type  string

	// MD5Sum is the schema checksum, "*" accepts any publisher. Empty means "*".
	MD5Sum string

	// QueueSize bounds the Messages channel. Zero uses the node default.
	QueueSize int

	// TCPNoDelay asks publishers to disable Nagle's algorithm.
	TCPNoDelay bool

	// Codec decodes frames into Message.Value. Nil delivers raw bytes only.
	Codec codec.Codec
}

// Validate checks the required fields.
func (o SubscribeOptions) Validate() error {
	if o.Topic == "" {
		return ErrEmptyTopic
	}
	if o.Type == "" {
		return ErrEmptyType
	}
	return nil
}

// Message is one received frame tagged with the link it arrived on.
type Message struct {
	Link  *peerlink.PeerLink
	Data  []byte
	Value any
}

// Subscription owns the peer links for one subscribed topic.
type Subscription struct {
	topic    string
	dataType string
	md5sum   string
	noDelay  bool
	codec    codec.Codec
	logger   *zap.Logger

	mu      sync.RWMutex
	links   []*peerlink.PeerLink
	claimed map[string]struct{}
	closed  bool

	messages chan Message
	readers  sync.WaitGroup

	settleOnce sync.Once
	settled    chan struct{}
	err        error
}

func newSubscription(opts SubscribeOptions, queueSize int, logger *zap.Logger) *Subscription {
	md5sum := opts.MD5Sum
	if md5sum == "" {
		md5sum = "*"
	}
	if opts.QueueSize > 0 {
		queueSize = opts.QueueSize
	}
	return &Subscription{
		topic:    opts.Topic,
		dataType: opts.Type,
		md5sum:   md5sum,
		noDelay:  opts.TCPNoDelay,
		codec:    opts.Codec,
		logger:   logger.With(zap.String("topic", opts.Topic)),
		claimed:  make(map[string]struct{}),
		messages: make(chan Message, queueSize),
		settled:  make(chan struct{}),
	}
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Type returns the declared message type.
func (s *Subscription) Type() string { return s.dataType }

// MD5Sum returns the declared schema checksum.
func (s *Subscription) MD5Sum() string { return s.md5sum }

// Messages delivers received frames in arrival order per link. It is closed
// after the subscription is closed and every reader has stopped.
func (s *Subscription) Messages() <-chan Message {
	return s.messages
}

// Settled is closed once the initial registration and the negotiations it
// started have finished, successfully or not.
func (s *Subscription) Settled() <-chan struct{} {
	return s.settled
}

// Err returns the registration error, if any. It is only meaningful after
// Settled is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.settled:
		return s.err
	default:
		return nil
	}
}

// Links returns the current peer links in connection order.
func (s *Subscription) Links() []*peerlink.PeerLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*peerlink.PeerLink, len(s.links))
	copy(out, s.links)
	return out
}

// NumPublishers returns the number of connected publishers.
func (s *Subscription) NumPublishers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}

// Info returns one connection info row per link.
func (s *Subscription) Info() []any {
	rows := make([]any, 0)
	for _, link := range s.Links() {
		rows = append(rows, link.Info(s.topic))
	}
	return rows
}

// Stats returns [topic, [[id, bytes, messages, drops, 0], ...]].
func (s *Subscription) Stats() []any {
	rows := make([]any, 0)
	for _, link := range s.Links() {
		rows = append(rows, link.Stats())
	}
	return []any{s.topic, rows}
}

// ReceivedBytes sums bytes received across every link.
func (s *Subscription) ReceivedBytes() uint64 {
	var total uint64
	for _, link := range s.Links() {
		total += link.Connection().Stats().BytesReceived
	}
	return total
}

// Closed reports whether the subscription has been closed.
func (s *Subscription) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// claim reserves url for a negotiation. It returns false if the publisher is
// already connected or being negotiated, or if the subscription is closed.
func (s *Subscription) claim(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.claimed[url]; ok {
		return false
	}
	s.claimed[url] = struct{}{}
	return true
}

func (s *Subscription) release(url string) {
	s.mu.Lock()
	delete(s.claimed, url)
	s.mu.Unlock()
}

// addLink appends link and starts reading from it. It returns false, leaving
// the link untouched, if the subscription has been closed.
func (s *Subscription) addLink(link *peerlink.PeerLink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.links = append(s.links, link)
	s.readers.Add(1)
	go s.read(link)
	return true
}

func (s *Subscription) read(link *peerlink.PeerLink) {
	defer s.readers.Done()

	conn := link.Connection()
	err := conn.Run(func(data []byte) {
		msg := Message{Link: link, Data: data}
		if s.codec != nil {
			value, err := s.codec.Decode(data)
			if err != nil {
				conn.RecordDrop()
				s.logger.Debug("failed to decode message",
					zap.Int("connection_id", link.ConnectionID()), zap.Error(err))
				return
			}
			msg.Value = value
		}
		select {
		case s.messages <- msg:
		default:
			conn.RecordDrop()
		}
	})

	if s.removeLink(link) {
		fields := []zap.Field{
			zap.Int("connection_id", link.ConnectionID()),
			zap.String("publisher", link.PublisherURL()),
		}
		if err != nil {
			s.logger.Warn("publisher stream failed", append(fields, zap.Error(err))...)
		} else {
			s.logger.Info("publisher disconnected", fields...)
		}
		_ = link.Client().Close()
	}
}

// removeLink drops a link whose stream ended on its own. It returns false if
// the subscription was closed first.
func (s *Subscription) removeLink(link *peerlink.PeerLink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for i, l := range s.links {
		if l == link {
			s.links = append(s.links[:i], s.links[i+1:]...)
			break
		}
	}
	delete(s.claimed, link.PublisherURL())
	return true
}

func (s *Subscription) settle(err error) {
	s.settleOnce.Do(func() {
		s.err = err
		close(s.settled)
	})
}

// close closes every link, waits for the readers and closes Messages.
func (s *Subscription) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	links := s.links
	s.links = nil
	s.claimed = make(map[string]struct{})
	s.mu.Unlock()

	var err error
	for _, link := range links {
		err = multierr.Append(err, link.Close())
	}
	s.readers.Wait()
	close(s.messages)
	return err
}
