package rosnode

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/rosnode-go/internal/peerapi"
	"github.com/rmacdonaldsmith/rosnode-go/internal/peerlink"
	"github.com/rmacdonaldsmith/rosnode-go/internal/registrar"
	"github.com/rmacdonaldsmith/rosnode-go/internal/tcpros"
)

func advertiseChatter(t *testing.T, n *Node, latching bool) *Publication {
	t.Helper()
	pub, err := n.Advertise(context.Background(), AdvertiseOptions{
		Topic:    "/chatter",
		Type:     "std_msgs/String",
		MD5Sum:   "992ce8a1687cec8c8bd883ec73ca41d1",
		Latching: latching,
	})
	require.NoError(t, err)
	return pub
}

// dialPublisher connects to the node's stream listener as a subscriber.
func dialPublisher(t *testing.T, n *Node, topic, md5sum string) (*tcpros.Connection, error) {
	t.Helper()
	_, portStr, err := net.SplitHostPort(n.StreamAddress())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	stream, err := tcpros.TCPConnector{Timeout: time.Second}.Connect(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)

	conn := tcpros.NewConnection(stream, map[string]string{
		tcpros.FieldTopic:      topic,
		tcpros.FieldMD5Sum:     md5sum,
		tcpros.FieldCallerID:   "/remote_listener",
		tcpros.FieldType:       "std_msgs/String",
		tcpros.FieldTCPNoDelay: "1",
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Handshake(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, nil
}

// collect runs conn in the background and gathers frames.
type collector struct {
	mu     sync.Mutex
	frames []string
	done   chan struct{}
}

func collect(conn *tcpros.Connection) *collector {
	c := &collector{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		_ = conn.Run(func(data []byte) {
			c.mu.Lock()
			c.frames = append(c.frames, string(data))
			c.mu.Unlock()
		})
	}()
	return c
}

func (c *collector) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func TestAdvertise_RegistersAndAnswersRequestTopic(t *testing.T) {
	env := newTestEnv(t, nil)
	advertiseChatter(t, env.node, false)

	assert.Contains(t, env.registrar.Calls(), registrar.MethodRegisterPublisher)
	assert.Equal(t, [][]string{{"/chatter", "std_msgs/String"}}, env.node.Publications())

	h := env.endpoint.handlers[peerapi.MethodRequestTopic]
	resp, err := h(context.Background(), []any{"/remote", "/chatter", []any{[]any{"TCPROS"}}})
	require.NoError(t, err)
	require.True(t, resp.OK())
	desc := resp.Value.([]any)
	assert.Equal(t, "TCPROS", desc[0])
	assert.Equal(t, "listener.local", desc[1])

	resp, err = h(context.Background(), []any{"/remote", "/unknown", []any{[]any{"TCPROS"}}})
	require.NoError(t, err)
	assert.False(t, resp.OK())
}

func TestAdvertise_Duplicate(t *testing.T) {
	env := newTestEnv(t, nil)
	advertiseChatter(t, env.node, false)

	_, err := env.node.Advertise(context.Background(), AdvertiseOptions{Topic: "/chatter", Type: "std_msgs/String"})
	assert.ErrorIs(t, err, ErrAlreadyAdvertised)
}

func TestAdvertise_RegistrationFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registrar.status = -1

	_, err := env.node.Advertise(context.Background(), AdvertiseOptions{Topic: "/chatter", Type: "std_msgs/String"})
	assert.ErrorIs(t, err, ErrRegistration)
	assert.Nil(t, env.node.Publication("/chatter"))
}

func countCalls(calls []string, method string) int {
	n := 0
	for _, c := range calls {
		if c == method {
			n++
		}
	}
	return n
}

// advertiseBlocked starts Advertise with registerPublisher parked on the
// registrar gate and waits until the call is in flight.
func advertiseBlocked(t *testing.T, env *testEnv) <-chan error {
	t.Helper()
	env.registrar.pubGate = make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		pub, err := env.node.Advertise(context.Background(), AdvertiseOptions{Topic: "/chatter", Type: "std_msgs/String"})
		assert.Nil(t, pub)
		errc <- err
	}()
	require.Eventually(t, func() bool {
		return countCalls(env.registrar.Calls(), registrar.MethodRegisterPublisher) == 1
	}, 2*time.Second, 5*time.Millisecond)
	return errc
}

func TestAdvertise_ShutdownDuringRegistration(t *testing.T) {
	env := newTestEnv(t, nil)
	errc := advertiseBlocked(t, env)

	env.node.Shutdown("bye")
	close(env.registrar.pubGate)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrNodeShutdown)
	case <-time.After(2 * time.Second):
		t.Fatal("advertise did not return")
	}
	assert.Nil(t, env.node.Publication("/chatter"))
	// once from shutdown, once more after the late registration landed
	assert.Equal(t, 2, countCalls(env.registrar.Calls(), registrar.MethodUnregisterPublisher))
}

func TestAdvertise_UnpublishDuringRegistration(t *testing.T) {
	env := newTestEnv(t, nil)
	errc := advertiseBlocked(t, env)

	assert.True(t, env.node.Unpublish("/chatter"))
	close(env.registrar.pubGate)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrPublicationClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("advertise did not return")
	}
	assert.Nil(t, env.node.Publication("/chatter"))
	assert.Equal(t, 2, countCalls(env.registrar.Calls(), registrar.MethodUnregisterPublisher))

	_, err := env.node.Advertise(context.Background(), AdvertiseOptions{Topic: "/chatter", Type: "std_msgs/String"})
	assert.NoError(t, err)
}

func TestPublish_ToConnectedSubscriber(t *testing.T) {
	env := newTestEnv(t, nil)
	pub := advertiseChatter(t, env.node, false)

	conn, err := dialPublisher(t, env.node, "/chatter", "*")
	require.NoError(t, err)
	assert.Equal(t, "/listener", conn.RemoteHeader()[tcpros.FieldCallerID])
	assert.Equal(t, "0", conn.RemoteHeader()[tcpros.FieldLatching])

	require.Eventually(t, func() bool { return pub.NumSubscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	c := collect(conn)

	require.NoError(t, pub.Publish([]byte("one")))
	require.NoError(t, pub.Publish([]byte("two")))

	require.Eventually(t, func() bool { return len(c.Frames()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "two"}, c.Frames())

	stats := pub.Stats()
	assert.Equal(t, "/chatter", stats[0])
	assert.Equal(t, uint64(len("one")+4+len("two")+4), stats[1])

	info := pub.Info()
	require.Len(t, info, 1)
	row := info[0].([]any)
	assert.Equal(t, "/remote_listener", row[1])
	assert.Equal(t, "o", row[2])
}

func TestPublish_LatchedMessageReplayed(t *testing.T) {
	env := newTestEnv(t, nil)
	pub := advertiseChatter(t, env.node, true)
	require.NoError(t, pub.Publish([]byte("latched")))

	conn, err := dialPublisher(t, env.node, "/chatter", "992ce8a1687cec8c8bd883ec73ca41d1")
	require.NoError(t, err)
	assert.Equal(t, "1", conn.RemoteHeader()[tcpros.FieldLatching])

	c := collect(conn)
	require.Eventually(t, func() bool { return len(c.Frames()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"latched"}, c.Frames())
}

func TestPublication_LatchedReplayPrecedesLiveMessages(t *testing.T) {
	pub := newPublication(AdvertiseOptions{Topic: "/chatter", Type: "std_msgs/String", Latching: true}, zap.NewNop())
	require.NoError(t, pub.Publish([]byte("live-0")))

	local, remote := net.Pipe()
	defer remote.Close()

	frames := make(chan string, 64)
	go func() {
		defer close(frames)
		for {
			data, err := tcpros.ReadFrame(remote, 1024)
			if err != nil {
				return
			}
			frames <- string(data)
		}
	}()

	const live = 20
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= live; i++ {
			assert.NoError(t, pub.Publish([]byte("live-"+strconv.Itoa(i))))
		}
	}()

	link := peerlink.NewSubscriberLink(1, tcpros.NewOutboundConnection(local, map[string]string{
		tcpros.FieldCallerID: "/remote_listener",
	}))
	require.True(t, pub.addLink(link))
	<-done
	require.NoError(t, pub.close())

	var got []int
	for f := range frames {
		idx, err := strconv.Atoi(strings.TrimPrefix(f, "live-"))
		require.NoError(t, err)
		got = append(got, idx)
	}
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1]+1, got[i], "frames out of order: %v", got)
	}
	assert.Equal(t, live, got[len(got)-1])
}

func TestAcceptSubscriber_Rejections(t *testing.T) {
	env := newTestEnv(t, nil)
	advertiseChatter(t, env.node, false)

	_, err := dialPublisher(t, env.node, "/unknown", "*")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not publish")

	_, err = dialPublisher(t, env.node, "/chatter", "0000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestPublication_SubscriberDisconnect(t *testing.T) {
	env := newTestEnv(t, nil)
	pub := advertiseChatter(t, env.node, false)

	conn, err := dialPublisher(t, env.node, "/chatter", "*")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.NumSubscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return pub.NumSubscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestUnpublish(t *testing.T) {
	env := newTestEnv(t, nil)
	pub := advertiseChatter(t, env.node, false)

	conn, err := dialPublisher(t, env.node, "/chatter", "*")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.NumSubscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	c := collect(conn)

	assert.True(t, env.node.Unpublish("/chatter"))
	assert.False(t, env.node.Unpublish("/chatter"))
	assert.Contains(t, env.registrar.Calls(), registrar.MethodUnregisterPublisher)

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber stream not closed")
	}
	assert.ErrorIs(t, pub.Publish([]byte("late")), ErrPublicationClosed)
}
