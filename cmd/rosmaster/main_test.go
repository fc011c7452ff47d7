package main

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/rmacdonaldsmith/rosnode-go/internal/registrar"
	grpcrpc "github.com/rmacdonaldsmith/rosnode-go/internal/rpc"
)

func TestRun_ServesRegistrarUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	uris := make(chan string, 1)
	done := make(chan error, 1)

	go func() {
		done <- run(ctx, options{host: "127.0.0.1", port: 0}, zaptest.NewLogger(t), func(uri string) {
			uris <- uri
		})
	}()

	var uri string
	select {
	case uri = <-uris:
	case err := <-done:
		t.Fatalf("registrar exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("registrar did not start")
	}

	rpcClient, err := grpcrpc.Dial(uri)
	require.NoError(t, err)
	client := registrar.NewClient(rpcClient)
	defer client.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()

	_, err = client.RegisterPublisher(callCtx, "/talker", "/chatter", "std_msgs/String", "http://talker:40000/")
	require.NoError(t, err)

	graph, err := client.GetSystemState(callCtx, "/cli")
	require.NoError(t, err)
	assert.Equal(t, []string{"/talker"}, graph.Publishers["/chatter"].Sorted())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("registrar did not stop")
	}
}

func TestRun_PortInUse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uris := make(chan string, 1)
	go run(ctx, options{host: "127.0.0.1", port: 0}, zap.NewNop(), func(uri string) { uris <- uri })

	var uri string
	select {
	case uri = <-uris:
	case <-time.After(5 * time.Second):
		t.Fatal("registrar did not start")
	}

	target, err := grpcrpc.TargetFromURL(uri)
	require.NoError(t, err)
	_, portStr, _ := strings.Cut(target, ":")
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	err = run(context.Background(), options{host: "127.0.0.1", port: port}, zap.NewNop(), nil)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug", true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = newLogger("warn", false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = newLogger("loud", false)
	assert.Error(t, err)
}
