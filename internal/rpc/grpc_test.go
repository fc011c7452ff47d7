package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/rosnode-go/pkg/rpc"
)

func startTestServer(t *testing.T) (*GRPCServer, *GRPCClient) {
	t.Helper()

	server := NewServer(nil)
	server.Handle("echo", func(ctx context.Context, args []any) (rpc.Response, error) {
		return rpc.Success("echo", args), nil
	})
	server.Handle("fail", func(ctx context.Context, args []any) (rpc.Response, error) {
		return rpc.Failure("not today"), nil
	})
	server.Handle("broken", func(ctx context.Context, args []any) (rpc.Response, error) {
		return rpc.Response{}, errors.New("handler exploded")
	})

	url, err := server.Start("127.0.0.1", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })

	client, err := Dial(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return server, client
}

func TestGRPCServer_EchoRoundTrip(t *testing.T) {
	server, client := startTestServer(t)
	assert.Equal(t, server.URL(), client.URL())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Call(ctx, "echo", "/node", []string{"TCPROS"}, 42)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "echo", resp.Message)

	values, ok := rpc.AsList(resp.Value)
	require.True(t, ok)
	require.Len(t, values, 3)
	assert.Equal(t, "/node", values[0])

	protocols, ok := rpc.AsStringList(values[1])
	require.True(t, ok)
	assert.Equal(t, []string{"TCPROS"}, protocols)

	n, ok := rpc.AsInt(values[2])
	require.True(t, ok)
	assert.Equal(t, 42, n)
}

func TestGRPCServer_FailureStatus(t *testing.T) {
	_, client := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Call(ctx, "fail")
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, "not today", resp.Message)
}

func TestGRPCServer_UnknownMethod(t *testing.T) {
	_, client := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Call(ctx, "doesNotExist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doesNotExist")
}

func TestGRPCServer_HandlerError(t *testing.T) {
	_, client := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Call(ctx, "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler exploded")
}

func TestGRPCServer_StartTwice(t *testing.T) {
	server, _ := startTestServer(t)

	_, err := server.Start("127.0.0.1", 0)
	assert.Error(t, err)
}

func TestGRPCServer_CloseIsIdempotent(t *testing.T) {
	server := NewServer(nil)
	_, err := server.Start("127.0.0.1", 0)
	require.NoError(t, err)

	assert.NoError(t, server.Close())
	assert.NoError(t, server.Close())

	_, err = server.Start("127.0.0.1", 0)
	assert.Error(t, err)
}

func TestTargetFromURL(t *testing.T) {
	target, err := TargetFromURL("http://localhost:11311/")
	require.NoError(t, err)
	assert.Equal(t, "localhost:11311", target)

	target, err = TargetFromURL("10.0.0.2:4000")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:4000", target)

	_, err = TargetFromURL("http://localhost/")
	assert.Error(t, err)

	_, err = TargetFromURL("not a url")
	assert.Error(t, err)
}

func TestDecodeResponse_Malformed(t *testing.T) {
	short, err := structpb.NewList([]any{1})
	require.NoError(t, err)
	_, err = decodeResponse(short)
	assert.ErrorIs(t, err, rpc.ErrMalformedResponse)

	badCode, err := structpb.NewList([]any{"one", "msg"})
	require.NoError(t, err)
	_, err = decodeResponse(badCode)
	assert.ErrorIs(t, err, rpc.ErrMalformedResponse)
}

func TestToValue_TypedSlices(t *testing.T) {
	v, err := toValue([][]any{{"/chatter", []string{"/talker"}}})
	require.NoError(t, err)

	decoded := v.AsInterface()
	assert.Equal(t, []any{[]any{"/chatter", []any{"/talker"}}}, decoded)

	_, err = toValue(map[int]string{1: "x"})
	assert.Error(t, err)
}
