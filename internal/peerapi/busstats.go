package peerapi

import (
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/rosnode-go/pkg/rpc"
)

// ErrMalformedReply is returned when an introspection reply has the wrong shape.
var ErrMalformedReply = errors.New("malformed introspection reply")

// ConnectionInfo is one parsed getBusInfo row.
type ConnectionInfo struct {
	ConnectionID  int    `json:"connectionId"`
	Peer          string `json:"peer"`
	Direction     string `json:"direction"`
	Transport     string `json:"transport"`
	Topic         string `json:"topic"`
	Connected     bool   `json:"connected"`
	TransportInfo string `json:"transportInfo"`
}

// SubscriberStats is one connection of a subscribed topic.
type SubscriberStats struct {
	ConnectionID     int    `json:"connectionId"`
	BytesReceived    uint64 `json:"bytesReceived"`
	MessagesReceived uint64 `json:"messagesReceived"`
	DropEstimate     uint64 `json:"dropEstimate"`
}

// PublisherStats is one connection of an advertised topic.
type PublisherStats struct {
	ConnectionID int    `json:"connectionId"`
	BytesSent    uint64 `json:"bytesSent"`
	MessagesSent uint64 `json:"messagesSent"`
}

// SubscribedTopicStats groups the connections of one subscribed topic.
type SubscribedTopicStats struct {
	Topic       string            `json:"topic"`
	Connections []SubscriberStats `json:"connections"`
}

// PublishedTopicStats groups the connections of one advertised topic.
type PublishedTopicStats struct {
	Topic       string           `json:"topic"`
	BytesSent   uint64           `json:"bytesSent"`
	Connections []PublisherStats `json:"connections"`
}

// BusStats is a parsed getBusStats reply.
type BusStats struct {
	Publications  []PublishedTopicStats  `json:"publications"`
	Subscriptions []SubscribedTopicStats `json:"subscriptions"`
}

// ParseBusInfo parses rows of [id, peer, direction, transport, topic,
// connected, transportInfo].
func ParseBusInfo(value any) ([]ConnectionInfo, error) {
	rows, ok := rpc.AsList(value)
	if !ok {
		return nil, fmt.Errorf("%w: bus info is not a list", ErrMalformedReply)
	}
	out := make([]ConnectionInfo, 0, len(rows))
	for _, r := range rows {
		row, ok := rpc.AsList(r)
		if !ok || len(row) < 7 {
			return nil, fmt.Errorf("%w: bad bus info row %v", ErrMalformedReply, r)
		}
		id, ok1 := rpc.AsInt(row[0])
		peer, ok2 := rpc.AsString(row[1])
		dir, ok3 := rpc.AsString(row[2])
		transport, ok4 := rpc.AsString(row[3])
		topic, ok5 := rpc.AsString(row[4])
		info, ok6 := rpc.AsString(row[6])
		if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
			return nil, fmt.Errorf("%w: bad bus info row %v", ErrMalformedReply, r)
		}
		connected := false
		switch c := row[5].(type) {
		case bool:
			connected = c
		default:
			n, _ := rpc.AsInt(c)
			connected = n != 0
		}
		out = append(out, ConnectionInfo{
			ConnectionID:  id,
			Peer:          peer,
			Direction:     dir,
			Transport:     transport,
			Topic:         topic,
			Connected:     connected,
			TransportInfo: info,
		})
	}
	return out, nil
}

// ParseBusStats parses [publishStats, subscribeStats, serviceStats].
func ParseBusStats(value any) (*BusStats, error) {
	parts, ok := rpc.AsList(value)
	if !ok || len(parts) < 2 {
		return nil, fmt.Errorf("%w: bus stats must have at least 2 parts", ErrMalformedReply)
	}

	stats := &BusStats{
		Publications:  make([]PublishedTopicStats, 0),
		Subscriptions: make([]SubscribedTopicStats, 0),
	}

	pubs, ok := rpc.AsList(parts[0])
	if !ok {
		return nil, fmt.Errorf("%w: publish stats is not a list", ErrMalformedReply)
	}
	for _, p := range pubs {
		entry, ok := rpc.AsList(p)
		if !ok || len(entry) < 3 {
			return nil, fmt.Errorf("%w: bad publish stats %v", ErrMalformedReply, p)
		}
		topic, ok1 := rpc.AsString(entry[0])
		total, ok2 := rpc.AsUint64(entry[1])
		conns, ok3 := rpc.AsList(entry[2])
		if !(ok1 && ok2 && ok3) {
			return nil, fmt.Errorf("%w: bad publish stats %v", ErrMalformedReply, p)
		}
		ts := PublishedTopicStats{Topic: topic, BytesSent: total, Connections: make([]PublisherStats, 0, len(conns))}
		for _, c := range conns {
			row, ok := rpc.AsList(c)
			if !ok || len(row) < 3 {
				return nil, fmt.Errorf("%w: bad publish connection stats %v", ErrMalformedReply, c)
			}
			id, ok1 := rpc.AsInt(row[0])
			bytes, ok2 := rpc.AsUint64(row[1])
			msgs, ok3 := rpc.AsUint64(row[2])
			if !(ok1 && ok2 && ok3) {
				return nil, fmt.Errorf("%w: bad publish connection stats %v", ErrMalformedReply, c)
			}
			ts.Connections = append(ts.Connections, PublisherStats{ConnectionID: id, BytesSent: bytes, MessagesSent: msgs})
		}
		stats.Publications = append(stats.Publications, ts)
	}

	subs, ok := rpc.AsList(parts[1])
	if !ok {
		return nil, fmt.Errorf("%w: subscribe stats is not a list", ErrMalformedReply)
	}
	for _, s := range subs {
		entry, ok := rpc.AsList(s)
		if !ok || len(entry) < 2 {
			return nil, fmt.Errorf("%w: bad subscribe stats %v", ErrMalformedReply, s)
		}
		topic, ok1 := rpc.AsString(entry[0])
		conns, ok2 := rpc.AsList(entry[1])
		if !(ok1 && ok2) {
			return nil, fmt.Errorf("%w: bad subscribe stats %v", ErrMalformedReply, s)
		}
		ts := SubscribedTopicStats{Topic: topic, Connections: make([]SubscriberStats, 0, len(conns))}
		for _, c := range conns {
			row, ok := rpc.AsList(c)
			if !ok || len(row) < 4 {
				return nil, fmt.Errorf("%w: bad subscribe connection stats %v", ErrMalformedReply, c)
			}
			id, ok1 := rpc.AsInt(row[0])
			bytes, ok2 := rpc.AsUint64(row[1])
			msgs, ok3 := rpc.AsUint64(row[2])
			drops, ok4 := rpc.AsUint64(row[3])
			if !(ok1 && ok2 && ok3 && ok4) {
				return nil, fmt.Errorf("%w: bad subscribe connection stats %v", ErrMalformedReply, c)
			}
			ts.Connections = append(ts.Connections, SubscriberStats{
				ConnectionID:     id,
				BytesReceived:    bytes,
				MessagesReceived: msgs,
				DropEstimate:     drops,
			})
		}
		stats.Subscriptions = append(stats.Subscriptions, ts)
	}

	return stats, nil
}
