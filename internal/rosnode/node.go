package rosnode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/rosnode-go/internal/peerapi"
	"github.com/rmacdonaldsmith/rosnode-go/internal/peerlink"
	"github.com/rmacdonaldsmith/rosnode-go/internal/registrar"
	grpcrpc "github.com/rmacdonaldsmith/rosnode-go/internal/rpc"
	"github.com/rmacdonaldsmith/rosnode-go/internal/tcpros"
	"github.com/rmacdonaldsmith/rosnode-go/pkg/rpc"
)

// Node is one participant in the message bus graph. It owns the registrar
// client, the negotiation endpoint, the inbound stream listener and the
// per-topic subscriptions and publications.
type Node struct {
	config    *Config
	logger    *zap.Logger
	registrar *registrar.Client
	endpoint  rpc.Server
	dial      rpc.Dialer
	connector tcpros.Connector

	running      atomic.Bool
	shutdownOnce sync.Once
	done         chan struct{}

	mu               sync.Mutex
	started          bool
	callerAPI        string
	listener         *tcpros.Listener
	subscriptions    map[string]*Subscription
	publications     map[string]*Publication
	nextConnectionID int

	// in-flight registrations and negotiations
	wg sync.WaitGroup
}

// Compile-time check that Node answers the negotiation endpoint.
var _ peerapi.Host = (*Node)(nil)

// New creates a node. It does not touch the network until Start.
func New(config *Config) (*Node, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.Logger.Named("rosnode").With(zap.String("node", config.Name))

	dial := config.Dial
	if dial == nil {
		dial = grpcrpc.Dialer()
	}
	endpoint := config.Endpoint
	if endpoint == nil {
		endpoint = grpcrpc.NewServer(logger.Named("endpoint"))
	}
	connector := config.Connector
	if connector == nil {
		connector = tcpros.TCPConnector{Timeout: config.RPCTimeout}
	}

	client, err := dial(config.MasterURI)
	if err != nil {
		return nil, fmt.Errorf("failed to create registrar client for %s: %w", config.MasterURI, err)
	}

	n := &Node{
		config:        config,
		logger:        logger,
		registrar:     registrar.NewClient(client),
		endpoint:      endpoint,
		dial:          dial,
		connector:     connector,
		done:          make(chan struct{}),
		subscriptions: make(map[string]*Subscription),
		publications:  make(map[string]*Publication),
	}
	n.running.Store(true)

	peerapi.NewServer(n, logger.Named("peerapi")).Register(endpoint)
	return n, nil
}

// Start brings up the negotiation endpoint and the inbound stream listener.
func (n *Node) Start() error {
	if !n.running.Load() {
		return ErrNodeShutdown
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return errors.New("node already started")
	}

	uri, err := n.endpoint.Start(n.config.Hostname, n.config.RPCPort)
	if err != nil {
		return fmt.Errorf("failed to start negotiation endpoint: %w", err)
	}

	listener, err := tcpros.Listen(n.config.StreamPort, n.acceptSubscriber, n.logger.Named("tcpros"))
	if err != nil {
		_ = n.endpoint.Close()
		return fmt.Errorf("failed to start stream listener: %w", err)
	}

	n.started = true
	n.callerAPI = uri
	n.listener = listener

	n.logger.Info("node started",
		zap.String("uri", uri),
		zap.String("hostname", n.config.Hostname),
		zap.Int("stream_port", listener.Port()))
	return nil
}

// Name returns the node's graph name.
func (n *Node) Name() string { return n.config.Name }

// Hostname returns the advertised hostname.
func (n *Node) Hostname() string { return n.config.Hostname }

// Pid returns the reported process id.
func (n *Node) Pid() int { return n.config.Pid }

// MasterURI returns the registrar URL.
func (n *Node) MasterURI() string { return n.config.MasterURI }

// URI returns the negotiation endpoint URL, or "" before Start.
func (n *Node) URI() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.callerAPI
}

// StreamAddress returns host:port of the inbound stream listener, or ""
// before Start.
func (n *Node) StreamAddress() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return ""
	}
	return net.JoinHostPort(n.config.Hostname, strconv.Itoa(n.listener.Port()))
}

// Running reports whether the node is still operational.
func (n *Node) Running() bool {
	return n.running.Load()
}

// Done is closed when the node shuts down.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Wait blocks until every in-flight registration and negotiation has
// finished.
func (n *Node) Wait() {
	n.wg.Wait()
}

// Subscribe starts a subscription to opts.Topic. Registration and peer
// negotiation run in the background; watch Subscription.Settled and
// Subscription.Err for the outcome.
func (n *Node) Subscribe(opts SubscribeOptions) (*Subscription, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	if !n.running.Load() {
		n.mu.Unlock()
		return nil, ErrNodeShutdown
	}
	if !n.started {
		n.mu.Unlock()
		return nil, ErrNotStarted
	}
	if _, ok := n.subscriptions[opts.Topic]; ok {
		n.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, opts.Topic)
	}
	sub := newSubscription(opts, n.config.DefaultQueueSize, n.logger)
	n.subscriptions[opts.Topic] = sub
	n.wg.Add(1)
	n.mu.Unlock()

	go n.register(sub)
	return sub, nil
}

// Unsubscribe unregisters topic and closes its peer links. It returns false
// if the topic is not subscribed.
func (n *Node) Unsubscribe(topic string) bool {
	n.mu.Lock()
	sub, ok := n.subscriptions[topic]
	if ok {
		delete(n.subscriptions, topic)
	}
	n.mu.Unlock()
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.config.RPCTimeout)
	defer cancel()
	if err := n.registrar.UnregisterSubscriber(ctx, n.config.Name, topic, n.URI()); err != nil {
		n.logger.Warn("failed to unregister subscriber", zap.String("topic", topic), zap.Error(err))
	}

	if err := sub.close(); err != nil {
		n.logger.Warn("failed to close subscription", zap.String("topic", topic), zap.Error(err))
	}
	return true
}

// Subscription returns the subscription for topic, or nil.
func (n *Node) Subscription(topic string) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.subscriptions[topic]
}

// Advertise registers a publication with the registrar. Subscribers connect
// to it through the negotiation endpoint.
func (n *Node) Advertise(ctx context.Context, opts AdvertiseOptions) (*Publication, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	if !n.running.Load() {
		n.mu.Unlock()
		return nil, ErrNodeShutdown
	}
	if !n.started {
		n.mu.Unlock()
		return nil, ErrNotStarted
	}
	if _, ok := n.publications[opts.Topic]; ok {
		n.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAdvertised, opts.Topic)
	}
	pub := newPublication(opts, n.logger)
	n.publications[opts.Topic] = pub
	callerAPI := n.callerAPI
	n.mu.Unlock()

	subscribers, err := n.registrar.RegisterPublisher(ctx, n.config.Name, opts.Topic, opts.Type, callerAPI)
	if err != nil {
		n.mu.Lock()
		if n.publications[opts.Topic] == pub {
			delete(n.publications, opts.Topic)
		}
		n.mu.Unlock()
		_ = pub.close()
		return nil, fmt.Errorf("%w: %s: %w", ErrRegistration, opts.Topic, err)
	}

	// Shutdown or Unpublish may have run while the registration was in
	// flight, possibly unregistering before the registrar saw us.
	n.mu.Lock()
	current, taken := n.publications[opts.Topic]
	alive := n.running.Load()
	if alive && current == pub {
		n.mu.Unlock()
		n.logger.Info("advertised topic",
			zap.String("topic", opts.Topic),
			zap.String("type", opts.Type),
			zap.Int("subscribers", len(subscribers)))
		return pub, nil
	}
	if current == pub {
		delete(n.publications, opts.Topic)
		taken = false
	}
	n.mu.Unlock()
	_ = pub.close()

	if !taken {
		uctx, cancel := context.WithTimeout(context.Background(), n.config.RPCTimeout)
		defer cancel()
		if err := n.registrar.UnregisterPublisher(uctx, n.config.Name, opts.Topic, callerAPI); err != nil {
			n.logger.Warn("failed to unregister publisher", zap.String("topic", opts.Topic), zap.Error(err))
		}
	}
	if !alive {
		return nil, ErrNodeShutdown
	}
	return nil, fmt.Errorf("%w: %s", ErrPublicationClosed, opts.Topic)
}

// Unpublish unregisters topic and closes its subscriber links. It returns
// false if the topic is not advertised.
func (n *Node) Unpublish(topic string) bool {
	n.mu.Lock()
	pub, ok := n.publications[topic]
	if ok {
		delete(n.publications, topic)
	}
	n.mu.Unlock()
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.config.RPCTimeout)
	defer cancel()
	if err := n.registrar.UnregisterPublisher(ctx, n.config.Name, topic, n.URI()); err != nil {
		n.logger.Warn("failed to unregister publisher", zap.String("topic", topic), zap.Error(err))
	}

	if err := pub.close(); err != nil {
		n.logger.Warn("failed to close publication", zap.String("topic", topic), zap.Error(err))
	}
	return true
}

// Publication returns the publication for topic, or nil.
func (n *Node) Publication(topic string) *Publication {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.publications[topic]
}

// GetGraph queries the registrar for the whole bus topology.
func (n *Node) GetGraph(ctx context.Context) (*registrar.Graph, error) {
	if !n.running.Load() {
		return nil, ErrNodeShutdown
	}
	return n.registrar.GetSystemState(ctx, n.config.Name)
}

// GetPublishedTopics lists published topics under subgraph ("" for all).
func (n *Node) GetPublishedTopics(ctx context.Context, subgraph string) ([]registrar.TopicType, error) {
	if !n.running.Load() {
		return nil, ErrNodeShutdown
	}
	return n.registrar.GetPublishedTopics(ctx, n.config.Name, subgraph)
}

// Shutdown stops the node: it closes the listener and the negotiation
// endpoint, unsubscribes and unpublishes every topic, and closes the
// registrar client. Registrar failures are logged. Calls after the first are
// no-ops.
func (n *Node) Shutdown(reason string) {
	n.shutdownOnce.Do(func() {
		n.running.Store(false)
		n.logger.Info("shutting down", zap.String("reason", reason))

		n.mu.Lock()
		listener := n.listener
		started := n.started
		n.mu.Unlock()

		if listener != nil {
			if err := listener.Close(); err != nil {
				n.logger.Warn("failed to close stream listener", zap.Error(err))
			}
		}
		if started {
			if err := n.endpoint.Close(); err != nil {
				n.logger.Warn("failed to close negotiation endpoint", zap.Error(err))
			}
		}

		for _, topic := range n.subscribedTopics() {
			n.Unsubscribe(topic)
		}
		for _, topic := range n.publishedTopics() {
			n.Unpublish(topic)
		}

		if err := n.registrar.Close(); err != nil {
			n.logger.Warn("failed to close registrar client", zap.Error(err))
		}
		close(n.done)
	})
}

// ReceivedBytes sums bytes received across every subscription.
func (n *Node) ReceivedBytes() uint64 {
	var total uint64
	for _, sub := range n.subscriptionList() {
		total += sub.ReceivedBytes()
	}
	return total
}

// Info returns one connection info row per link, subscriptions first.
func (n *Node) Info() []any {
	rows := make([]any, 0)
	for _, sub := range n.subscriptionList() {
		rows = append(rows, sub.Info()...)
	}
	for _, pub := range n.publicationList() {
		rows = append(rows, pub.Info()...)
	}
	return rows
}

// SubscriptionStats returns one [topic, [[id, bytes, messages, drops, 0]...]]
// entry per subscribed topic.
func (n *Node) SubscriptionStats() []any {
	stats := make([]any, 0)
	for _, sub := range n.subscriptionList() {
		stats = append(stats, sub.Stats())
	}
	return stats
}

// PublicationStats returns one [topic, bytesSent, [[id, bytes, messages, 1]...]]
// entry per advertised topic.
func (n *Node) PublicationStats() []any {
	stats := make([]any, 0)
	for _, pub := range n.publicationList() {
		stats = append(stats, pub.Stats())
	}
	return stats
}

// Stats returns [publishStats, subscribeStats, serviceStats].
func (n *Node) Stats() []any {
	return []any{n.PublicationStats(), n.SubscriptionStats(), []any{}}
}

// BusStats implements peerapi.Host.
func (n *Node) BusStats() []any { return n.Stats() }

// BusInfo implements peerapi.Host.
func (n *Node) BusInfo() []any { return n.Info() }

// Subscriptions returns [topic, type] for every subscription.
func (n *Node) Subscriptions() [][]string {
	out := make([][]string, 0)
	for _, sub := range n.subscriptionList() {
		out = append(out, []string{sub.Topic(), sub.Type()})
	}
	return out
}

// Publications returns [topic, type] for every publication.
func (n *Node) Publications() [][]string {
	out := make([][]string, 0)
	for _, pub := range n.publicationList() {
		out = append(out, []string{pub.Topic(), pub.Type()})
	}
	return out
}

// StreamEndpoint implements peerapi.Host.
func (n *Node) StreamEndpoint(topic string) (string, int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running.Load() || n.listener == nil {
		return "", 0, false
	}
	if _, ok := n.publications[topic]; !ok {
		return "", 0, false
	}
	return n.config.Hostname, n.listener.Port(), true
}

// HandlePublisherUpdate connects to publishers of topic that are not yet
// connected or being negotiated.
func (n *Node) HandlePublisherUpdate(topic string, publishers []string) {
	sub := n.Subscription(topic)
	if sub == nil || !n.alive(sub) {
		return
	}
	for _, url := range publishers {
		if !sub.claim(url) {
			continue
		}
		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			n.connectPublisher(sub, url)
		}(url)
	}
}

// RequestShutdown implements peerapi.Host.
func (n *Node) RequestShutdown(reason string) {
	go n.Shutdown(reason)
}

// alive is the predicate every asynchronous step checks before acting.
func (n *Node) alive(sub *Subscription) bool {
	return n.running.Load() && !sub.Closed()
}

// register performs the registration step of a subscription and fans out
// one negotiation per publisher.
func (n *Node) register(sub *Subscription) {
	defer n.wg.Done()

	if !n.alive(sub) {
		sub.settle(nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.config.RPCTimeout)
	publishers, err := n.registrar.RegisterSubscriber(ctx, n.config.Name, sub.Topic(), sub.Type(), n.URI())
	cancel()
	if !n.alive(sub) {
		sub.settle(nil)
		return
	}
	if err != nil {
		n.logger.Error("failed to register subscriber", zap.String("topic", sub.Topic()), zap.Error(err))
		sub.settle(fmt.Errorf("%w: %s: %w", ErrRegistration, sub.Topic(), err))
		return
	}

	n.logger.Debug("registered subscriber",
		zap.String("topic", sub.Topic()), zap.Strings("publishers", publishers))

	var round sync.WaitGroup
	for _, url := range publishers {
		if !sub.claim(url) {
			continue
		}
		round.Add(1)
		go func(url string) {
			defer round.Done()
			n.connectPublisher(sub, url)
		}(url)
	}
	round.Wait()
	sub.settle(nil)
}

// connectPublisher negotiates with one publisher and, on success, adds the
// resulting PeerLink to sub. Failures are logged and only affect this
// publisher.
func (n *Node) connectPublisher(sub *Subscription, url string) {
	linked := false
	defer func() {
		if !linked {
			sub.release(url)
		}
	}()

	log := n.logger.With(zap.String("topic", sub.Topic()), zap.String("publisher", url))
	fail := func(msg string, err error) {
		if n.alive(sub) {
			log.Warn(msg, zap.Error(err))
		}
	}

	if !n.alive(sub) {
		return
	}

	rc, err := n.dial(url)
	if err != nil {
		fail("failed to create publisher client", err)
		return
	}
	client := peerapi.NewClient(rc)

	ctx, cancel := context.WithTimeout(context.Background(), n.config.RPCTimeout)
	defer cancel()

	ep, err := client.NegotiateTCPROS(ctx, n.config.Name, sub.Topic())
	if err != nil {
		_ = client.Close()
		fail("topic negotiation failed", err)
		return
	}

	if !n.alive(sub) {
		_ = client.Close()
		return
	}

	stream, err := n.connector.Connect(ctx, ep.Host, ep.Port)
	if err != nil {
		_ = client.Close()
		fail("failed to connect to publisher", err)
		return
	}

	conn := tcpros.NewConnection(stream, n.connectionHeader(sub), log)
	if !n.alive(sub) {
		_ = conn.Close()
		_ = client.Close()
		return
	}

	if err := conn.Handshake(ctx); err != nil {
		_ = conn.Close()
		_ = client.Close()
		fail("connection handshake failed", err)
		return
	}

	link, ok := n.addPeerLink(sub, client, conn)
	if !ok {
		_ = conn.Close()
		_ = client.Close()
		return
	}
	linked = true

	log.Info("connected to publisher",
		zap.Int("connection_id", link.ConnectionID()),
		zap.String("transport", conn.TransportInfo()))
}

// addPeerLink assigns the next connection id and appends the link to sub,
// unless the node or the subscription closed in the meantime.
func (n *Node) addPeerLink(sub *Subscription, client *peerapi.Client, conn *tcpros.Connection) (*peerlink.PeerLink, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.alive(sub) {
		return nil, false
	}
	link := peerlink.New(n.allocConnectionID(), client, conn)
	if !sub.addLink(link) {
		return nil, false
	}
	return link, true
}

// allocConnectionID must be called with n.mu held.
func (n *Node) allocConnectionID() int {
	id := n.nextConnectionID
	n.nextConnectionID++
	return id
}

func (n *Node) connectionHeader(sub *Subscription) map[string]string {
	noDelay := "0"
	if sub.noDelay {
		noDelay = "1"
	}
	return map[string]string{
		tcpros.FieldTopic:      sub.Topic(),
		tcpros.FieldMD5Sum:     sub.MD5Sum(),
		tcpros.FieldCallerID:   n.config.Name,
		tcpros.FieldType:       sub.Type(),
		tcpros.FieldTCPNoDelay: noDelay,
	}
}

// acceptSubscriber handles a stream accepted by the listener.
func (n *Node) acceptSubscriber(stream net.Conn, header map[string]string) {
	topic := header[tcpros.FieldTopic]
	log := n.logger.With(zap.String("topic", topic), zap.String("subscriber", header[tcpros.FieldCallerID]))

	reject := func(reason string) {
		log.Debug("rejecting subscriber", zap.String("reason", reason))
		_ = tcpros.WriteHeader(stream, map[string]string{tcpros.FieldError: reason})
		_ = stream.Close()
	}

	if !n.running.Load() {
		reject("node is shutting down")
		return
	}
	pub := n.Publication(topic)
	if pub == nil {
		reject(fmt.Sprintf("node %s does not publish %s", n.config.Name, topic))
		return
	}
	if !pub.checksumMatches(header[tcpros.FieldMD5Sum]) {
		reject(fmt.Sprintf("checksum mismatch: publisher has %s, subscriber wants %s",
			pub.MD5Sum(), header[tcpros.FieldMD5Sum]))
		return
	}

	if header[tcpros.FieldTCPNoDelay] == "1" {
		if tcp, ok := stream.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
	}

	if err := tcpros.WriteHeader(stream, pub.responseHeader(n.config.Name)); err != nil {
		log.Warn("failed to send connection header", zap.Error(err))
		_ = stream.Close()
		return
	}

	conn := tcpros.NewOutboundConnection(stream, header)
	n.mu.Lock()
	if !n.running.Load() {
		n.mu.Unlock()
		_ = conn.Close()
		return
	}
	link := peerlink.NewSubscriberLink(n.allocConnectionID(), conn)
	n.mu.Unlock()

	if !pub.addLink(link) {
		_ = conn.Close()
		return
	}
	log.Info("subscriber connected", zap.Int("connection_id", link.ConnectionID()))
}

func (n *Node) subscribedTopics() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	topics := make([]string, 0, len(n.subscriptions))
	for topic := range n.subscriptions {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

func (n *Node) publishedTopics() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	topics := make([]string, 0, len(n.publications))
	for topic := range n.publications {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// subscriptionList returns subscriptions sorted by topic.
func (n *Node) subscriptionList() []*Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Subscription, 0, len(n.subscriptions))
	for _, sub := range n.subscriptions {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic() < out[j].Topic() })
	return out
}

// publicationList returns publications sorted by topic.
func (n *Node) publicationList() []*Publication {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Publication, 0, len(n.publications))
	for _, pub := range n.publications {
		out = append(out, pub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic() < out[j].Topic() })
	return out
}
