package rosnode

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports a node's per-connection counters to Prometheus. The
// counters live on the connections, so every scrape reads them directly.
type Collector struct {
	node *Node

	bytesReceived    *prometheus.Desc
	messagesReceived *prometheus.Desc
	dropEstimate     *prometheus.Desc
	bytesSent        *prometheus.Desc
	messagesSent     *prometheus.Desc
	subscriptions    *prometheus.Desc
	publications     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for node under namespace.
func NewCollector(namespace string, node *Node) *Collector {
	connLabels := []string{"topic", "connection_id"}
	constLabels := prometheus.Labels{"node": node.Name()}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}
	return &Collector{
		node:             node,
		bytesReceived:    desc("received_bytes_total", "Bytes received per subscriber connection", connLabels),
		messagesReceived: desc("received_messages_total", "Messages received per subscriber connection", connLabels),
		dropEstimate:     desc("dropped_messages_total", "Messages received but not delivered per subscriber connection", connLabels),
		bytesSent:        desc("sent_bytes_total", "Bytes sent per publisher connection", connLabels),
		messagesSent:     desc("sent_messages_total", "Messages sent per publisher connection", connLabels),
		subscriptions:    desc("subscriptions", "Number of subscribed topics", nil),
		publications:     desc("publications", "Number of advertised topics", nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesReceived
	ch <- c.messagesReceived
	ch <- c.dropEstimate
	ch <- c.bytesSent
	ch <- c.messagesSent
	ch <- c.subscriptions
	ch <- c.publications
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	subs := c.node.subscriptionList()
	pubs := c.node.publicationList()

	ch <- prometheus.MustNewConstMetric(c.subscriptions, prometheus.GaugeValue, float64(len(subs)))
	ch <- prometheus.MustNewConstMetric(c.publications, prometheus.GaugeValue, float64(len(pubs)))

	for _, sub := range subs {
		for _, link := range sub.Links() {
			id := strconv.Itoa(link.ConnectionID())
			s := link.Connection().Stats()
			ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(s.BytesReceived), sub.Topic(), id)
			ch <- prometheus.MustNewConstMetric(c.messagesReceived, prometheus.CounterValue, float64(s.MessagesReceived), sub.Topic(), id)
			ch <- prometheus.MustNewConstMetric(c.dropEstimate, prometheus.CounterValue, float64(s.DropEstimate), sub.Topic(), id)
		}
	}
	for _, pub := range pubs {
		for _, link := range pub.Links() {
			id := strconv.Itoa(link.ConnectionID())
			s := link.Connection().Stats()
			ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(s.BytesSent), pub.Topic(), id)
			ch <- prometheus.MustNewConstMetric(c.messagesSent, prometheus.CounterValue, float64(s.MessagesSent), pub.Topic(), id)
		}
	}
}
