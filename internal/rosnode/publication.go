package rosnode

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/rosnode-go/internal/peerlink"
	"github.com/rmacdonaldsmith/rosnode-go/internal/tcpros"
)

// AdvertiseOptions describes a publication.
type AdvertiseOptions struct {
	Topic string
	Type  string

	// MD5Sum is the schema checksum. Empty means "*".
	MD5Sum string

	// Latching replays the last published message to every new subscriber.
	Latching bool

	// MessageDefinition is sent to subscribers in the connection header.
	MessageDefinition string
}

// Validate checks the required fields.
func (o AdvertiseOptions) Validate() error {
	if o.Topic == "" {
		return ErrEmptyTopic
	}
	if o.Type == "" {
		return ErrEmptyType
	}
	return nil
}

// Publication owns the subscriber links for one advertised topic.
type Publication struct {
	topic      string
	dataType   string
	md5sum     string
	latching   bool
	definition string
	logger     *zap.Logger

	mu     sync.RWMutex
	links  []*peerlink.SubscriberLink
	last   []byte
	closed bool
}

func newPublication(opts AdvertiseOptions, logger *zap.Logger) *Publication {
	md5sum := opts.MD5Sum
	if md5sum == "" {
		md5sum = "*"
	}
	return &Publication{
		topic:      opts.Topic,
		dataType:   opts.Type,
		md5sum:     md5sum,
		latching:   opts.Latching,
		definition: opts.MessageDefinition,
		logger:     logger.With(zap.String("topic", opts.Topic)),
	}
}

// Topic returns the advertised topic.
func (p *Publication) Topic() string { return p.topic }

// Type returns the advertised message type.
func (p *Publication) Type() string { return p.dataType }

// MD5Sum returns the advertised schema checksum.
func (p *Publication) MD5Sum() string { return p.md5sum }

// Publish sends data to every connected subscriber. Subscribers whose stream
// fails are dropped.
func (p *Publication) Publish(data []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPublicationClosed
	}
	if p.latching {
		p.last = append([]byte(nil), data...)
	}
	links := make([]*peerlink.SubscriberLink, len(p.links))
	copy(links, p.links)
	p.mu.Unlock()

	for _, link := range links {
		if err := link.Connection().Send(data); err != nil {
			p.logger.Warn("dropping subscriber after failed send",
				zap.Int("connection_id", link.ConnectionID()),
				zap.String("subscriber", link.Connection().CallerID()),
				zap.Error(err))
			p.removeLink(link)
			_ = link.Close()
		}
	}
	return nil
}

// NumSubscribers returns the number of connected subscribers.
func (p *Publication) NumSubscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.links)
}

// Links returns the current subscriber links in connection order.
func (p *Publication) Links() []*peerlink.SubscriberLink {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*peerlink.SubscriberLink, len(p.links))
	copy(out, p.links)
	return out
}

// Info returns one connection info row per subscriber.
func (p *Publication) Info() []any {
	rows := make([]any, 0)
	for _, link := range p.Links() {
		rows = append(rows, link.Info(p.topic))
	}
	return rows
}

// Stats returns [topic, bytesSent, [[id, bytes, messages, 1], ...]].
func (p *Publication) Stats() []any {
	var total uint64
	rows := make([]any, 0)
	for _, link := range p.Links() {
		total += link.Connection().Stats().BytesSent
		rows = append(rows, link.Stats())
	}
	return []any{p.topic, total, rows}
}

// responseHeader is the connection header sent to an accepted subscriber.
func (p *Publication) responseHeader(callerID string) map[string]string {
	latching := "0"
	if p.latching {
		latching = "1"
	}
	header := map[string]string{
		tcpros.FieldCallerID: callerID,
		tcpros.FieldTopic:    p.topic,
		tcpros.FieldType:     p.dataType,
		tcpros.FieldMD5Sum:   p.md5sum,
		tcpros.FieldLatching: latching,
	}
	if p.definition != "" {
		header[tcpros.FieldMessageDefinition] = p.definition
	}
	return header
}

// checksumMatches reports whether a subscriber asking for md5sum may connect.
func (p *Publication) checksumMatches(md5sum string) bool {
	return md5sum == "" || md5sum == "*" || p.md5sum == "*" || md5sum == p.md5sum
}

// addLink registers an accepted subscriber, replays the latched message and
// watches the stream for hang-up. It returns false if the publication is
// closed. The replay is written before the link joins p.links, so no live
// message can reach the subscriber ahead of it.
func (p *Publication) addLink(link *peerlink.SubscriberLink) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	if p.last != nil {
		if err := link.Connection().Send(p.last); err != nil {
			p.logger.Warn("failed to replay latched message",
				zap.Int("connection_id", link.ConnectionID()), zap.Error(err))
		}
	}
	p.links = append(p.links, link)
	p.mu.Unlock()

	go p.watch(link)
	return true
}

func (p *Publication) watch(link *peerlink.SubscriberLink) {
	err := link.Connection().Drain()
	if p.removeLink(link) {
		p.logger.Info("subscriber disconnected",
			zap.Int("connection_id", link.ConnectionID()),
			zap.String("subscriber", link.Connection().CallerID()),
			zap.Error(err))
		_ = link.Close()
	}
}

func (p *Publication) removeLink(link *peerlink.SubscriberLink) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, l := range p.links {
		if l == link {
			p.links = append(p.links[:i], p.links[i+1:]...)
			return true
		}
	}
	return false
}

// close closes every subscriber link.
func (p *Publication) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	links := p.links
	p.links = nil
	p.mu.Unlock()

	var err error
	for _, link := range links {
		err = multierr.Append(err, link.Close())
	}
	return err
}
