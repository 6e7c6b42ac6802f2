package transport

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisconnectHookFiresExactlyOnce(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	var disconnectCount int32
	conn := NewConnection(server, Options{
		Hooks: Hooks{
			Disconnected: func(*Connection) { atomic.AddInt32(&disconnectCount, 1) },
		},
	})

	done := make(chan struct{})
	go func() {
		conn.Serve()
		close(done)
	}()

	// Close races against Serve's own read-error path; both must route
	// through the same sync.Once.
	conn.Close()
	<-done

	// Give any concurrent fireDisconnected call a moment to settle.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&disconnectCount))
}

func TestRequestWithAckReturnsReply(t *testing.T) {
	table := NewCommandTable([]string{"new", "ret"})

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	server := NewConnection(serverConn, Options{
		Table: table,
		Dispatch: map[string]Handler{
			"new": func(c *Connection, f Frame) (*Frame, error) {
				return &Frame{Command: "ret", Payload: NewPayloadWriter().Int(0).Bytes()}, nil
			},
		},
	})
	client := NewConnection(clientConn, Options{Table: table})

	go server.Serve()
	go client.Serve()
	defer server.Close()
	defer client.Close()

	reply, err := client.RequestWithAck(Frame{Command: "new", Payload: NewPayloadWriter().String("org.example.clock").Bytes()})
	require.NoError(t, err)

	r := NewPayloadReader(reply.Payload)
	ret, err := r.Int()
	require.NoError(t, err)
	assert.Equal(t, int32(0), ret)
}

func TestConnectedHookFiresOnServe(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	connected := make(chan struct{}, 1)
	conn := NewConnection(server, Options{
		Hooks: Hooks{Connected: func(*Connection) { connected <- struct{}{} }},
	})
	go conn.Serve()

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("connected hook did not fire")
	}
}
