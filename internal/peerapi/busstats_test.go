package peerapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBusInfo(t *testing.T) {
	rows, err := ParseBusInfo([]any{
		[]any{float64(3), "http://talker:1/", "i", "TCPROS", "/chatter", float64(1), "TCPROS connection on port 1 to [x]"},
		[]any{4, "/listener", "o", "TCPROS", "/chatter", true, "info"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ConnectionInfo{
		ConnectionID:  3,
		Peer:          "http://talker:1/",
		Direction:     "i",
		Transport:     "TCPROS",
		Topic:         "/chatter",
		Connected:     true,
		TransportInfo: "TCPROS connection on port 1 to [x]",
	}, rows[0])
	assert.Equal(t, "o", rows[1].Direction)

	_, err = ParseBusInfo([]any{[]any{1, "short"}})
	assert.ErrorIs(t, err, ErrMalformedReply)
	_, err = ParseBusInfo("nope")
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestParseBusStats(t *testing.T) {
	stats, err := ParseBusStats([]any{
		[]any{[]any{"/out", float64(20), []any{[]any{float64(1), float64(20), float64(2), float64(1)}}}},
		[]any{
			[]any{"/chatter", []any{[]any{float64(0), float64(110), float64(10), float64(1), float64(0)}}},
			[]any{"/empty", []any{}},
		},
		[]any{},
	})
	require.NoError(t, err)

	require.Len(t, stats.Publications, 1)
	assert.Equal(t, PublishedTopicStats{
		Topic:       "/out",
		BytesSent:   20,
		Connections: []PublisherStats{{ConnectionID: 1, BytesSent: 20, MessagesSent: 2}},
	}, stats.Publications[0])

	require.Len(t, stats.Subscriptions, 2)
	assert.Equal(t, SubscribedTopicStats{
		Topic: "/chatter",
		Connections: []SubscriberStats{
			{ConnectionID: 0, BytesReceived: 110, MessagesReceived: 10, DropEstimate: 1},
		},
	}, stats.Subscriptions[0])
	assert.Empty(t, stats.Subscriptions[1].Connections)

	_, err = ParseBusStats([]any{[]any{}})
	assert.ErrorIs(t, err, ErrMalformedReply)
}
