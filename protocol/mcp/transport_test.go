package mcp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPipeTransports 返回一对通过 io.Pipe 相连的 stdio 传输
func newPipeTransports(t *testing.T, framing Framing) (client, server *StdioTransport) {
	t.Helper()
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()
	client = NewStdioTransport(clientIn, clientOut, framing, nil)
	server = NewStdioTransport(serverIn, serverOut, framing, nil)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestStdioTransport_RoundTrip(t *testing.T) {
	for _, framing := range []Framing{FramingNDJSON, FramingContentLength} {
		t.Run(string(framing), func(t *testing.T) {
			client, server := newPipeTransports(t, framing)
			ctx := context.Background()

			go func() {
				_ = client.Send(ctx, NewMCPRequest(int64(1), MethodPing, nil))
			}()

			msg, err := server.Receive(ctx)
			require.NoError(t, err)
			assert.Equal(t, MethodPing, msg.Method)
			id, ok := NormalizeID(msg.ID)
			require.True(t, ok)
			assert.Equal(t, int64(1), id)
		})
	}
}

func TestStdioTransport_SendFraming(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStdioTransport(strings.NewReader(""), &buf, FramingNDJSON, nil)
	require.NoError(t, tr.Send(context.Background(), NewMCPNotification(MethodInitialized, nil)))
	assert.True(t, strings.HasSuffix(buf.String(), "}\n"))
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))

	buf.Reset()
	tr = NewStdioTransport(strings.NewReader(""), &buf, FramingContentLength, nil)
	require.NoError(t, tr.Send(context.Background(), NewMCPNotification(MethodInitialized, nil)))
	assert.True(t, strings.HasPrefix(buf.String(), "Content-Length: "))
	assert.Contains(t, buf.String(), "\r\n\r\n{")
}

func TestStdioTransport_ReceiveSkipsNoise(t *testing.T) {
	input := "server starting on stdio...\n\n" +
		`{"jsonrpc":"2.0","id":1,"result":{}}` + "\n"
	tr := NewStdioTransport(strings.NewReader(input), io.Discard, FramingNDJSON, nil)

	msg, err := tr.Receive(context.Background())
	require.NoError(t, err)
	assert.True(t, msg.IsResponse())

	_, err = tr.Receive(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestStdioTransport_ReceiveMixedFraming(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"ping","id":2}`
	input := "Content-Length: 40\r\nContent-Type: application/json\r\n\r\n" + body +
		`{"jsonrpc":"2.0","id":3,"result":{}}` + "\n"
	require.Len(t, body, 40)

	tr := NewStdioTransport(strings.NewReader(input), io.Discard, FramingNDJSON, nil)
	first, err := tr.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MethodPing, first.Method)

	second, err := tr.Receive(context.Background())
	require.NoError(t, err)
	assert.True(t, second.IsResponse())
}

func TestStdioTransport_ReceiveUnterminatedLine(t *testing.T) {
	tr := NewStdioTransport(strings.NewReader(`{"jsonrpc":"2.0","id":1,"result":{}}`), io.Discard, FramingNDJSON, nil)
	msg, err := tr.Receive(context.Background())
	require.NoError(t, err)
	assert.True(t, msg.IsResponse())
}

func TestStdioTransport_MalformedFrame(t *testing.T) {
	tr := NewStdioTransport(strings.NewReader("{not json}\n"), io.Discard, FramingNDJSON, nil)
	_, err := tr.Receive(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedFrame))
}

func TestStdioTransport_CloseUnblocksReceive(t *testing.T) {
	client, _ := newPipeTransports(t, FramingNDJSON)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after Close")
	}

	// 二次关闭无副作用
	assert.NoError(t, client.Close())
	assert.ErrorIs(t, client.Send(context.Background(), NewMCPNotification("x", nil)), ErrTransportClosed)
}
