package rosnode

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rmacdonaldsmith/rosnode-go/internal/peerapi"
	"github.com/rmacdonaldsmith/rosnode-go/internal/registrar"
	grpcrpc "github.com/rmacdonaldsmith/rosnode-go/internal/rpc"
)

func startRegistrar(t *testing.T) (*registrar.Server, string) {
	t.Helper()
	s := registrar.NewServer(grpcrpc.Dialer(), zaptest.NewLogger(t))
	endpoint := grpcrpc.NewServer(nil)
	uri, err := s.Start(endpoint, "127.0.0.1", 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = endpoint.Close()
		s.Wait()
	})
	return s, uri
}

func startNode(t *testing.T, name, masterURI string) *Node {
	t.Helper()
	n, err := New(&Config{
		Name:      name,
		MasterURI: masterURI,
		Hostname:  "127.0.0.1",
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(func() { n.Shutdown("test done") })
	return n
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	_, masterURI := startRegistrar(t)
	talker := startNode(t, "/talker", masterURI)
	listener := startNode(t, "/listener", masterURI)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub, err := talker.Advertise(ctx, AdvertiseOptions{Topic: "/chatter", Type: "std_msgs/String", MD5Sum: "*"})
	require.NoError(t, err)

	sub, err := listener.Subscribe(SubscribeOptions{Topic: "/chatter", Type: "std_msgs/String", MD5Sum: "*"})
	require.NoError(t, err)
	waitSettled(t, sub)
	require.NoError(t, sub.Err())
	require.Equal(t, 1, sub.NumPublishers())
	require.Eventually(t, func() bool { return pub.NumSubscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, pub.Publish([]byte(fmt.Sprintf("hello %d", i))))
	}
	for i := 0; i < 3; i++ {
		select {
		case msg := <-sub.Messages():
			assert.Equal(t, fmt.Sprintf("hello %d", i), string(msg.Data))
			assert.Equal(t, talker.URI(), msg.Link.PublisherURL())
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d not received", i)
		}
	}

	graph, err := listener.GetGraph(ctx)
	require.NoError(t, err)
	assert.Equal(t, registrar.NewNodeSet("/talker"), graph.Publishers["/chatter"])
	assert.Equal(t, registrar.NewNodeSet("/listener"), graph.Subscribers["/chatter"])

	// the listener's negotiation endpoint answers introspection calls
	rc, err := grpcrpc.Dial(listener.URI())
	require.NoError(t, err)
	peer := peerapi.NewClient(rc)
	defer peer.Close()

	pid, err := peer.GetPid(ctx, "/test")
	require.NoError(t, err)
	assert.Equal(t, listener.Pid(), pid)

	stats, err := peer.GetBusStats(ctx, "/test")
	require.NoError(t, err)
	assert.Len(t, stats, 3)
}

func TestIntegration_LatePublisherIsDiscovered(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	_, masterURI := startRegistrar(t)
	listener := startNode(t, "/listener", masterURI)
	talker := startNode(t, "/talker", masterURI)

	sub, err := listener.Subscribe(SubscribeOptions{Topic: "/chatter", Type: "std_msgs/String"})
	require.NoError(t, err)
	waitSettled(t, sub)
	require.Equal(t, 0, sub.NumPublishers())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = talker.Advertise(ctx, AdvertiseOptions{Topic: "/chatter", Type: "std_msgs/String"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return sub.NumPublishers() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestIntegration_RemoteShutdown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	_, masterURI := startRegistrar(t)
	n := startNode(t, "/victim", masterURI)

	rc, err := grpcrpc.Dial(n.URI())
	require.NoError(t, err)
	peer := peerapi.NewClient(rc)
	defer peer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, peer.Shutdown(ctx, "/test", "test"))

	select {
	case <-n.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("node did not shut down")
	}
}
