package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	payload := NewPayloadWriter().
		String("org.example.clock").
		String("file:///tmp/w1.png").
		Int(100).
		Int(200).
		Double(1.5).
		Bytes()

	r := NewPayloadReader(payload)

	pkg, err := r.String()
	require.NoError(t, err)
	assert.Equal(t, "org.example.clock", pkg)

	id, err := r.String()
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/w1.png", id)

	w, err := r.Int()
	require.NoError(t, err)
	assert.Equal(t, int32(100), w)

	h, err := r.Int()
	require.NoError(t, err)
	assert.Equal(t, int32(200), h)

	priority, err := r.Double()
	require.NoError(t, err)
	assert.InDelta(t, 1.5, priority, 0.0001)

	assert.Zero(t, r.Remaining())
}

func TestFrameWriteReadRoundTrip(t *testing.T) {
	table := NewCommandTable([]string{"new", "ping", "deleted"})

	var buf bytes.Buffer
	sent := Frame{
		Command: "new",
		Type:    PacketREQ,
		Seq:     42,
		Payload: NewPayloadWriter().String("org.example.clock").Int(1).Bytes(),
	}
	require.NoError(t, WriteFrame(&buf, table, sent))

	got, err := ReadFrame(&buf, table)
	require.NoError(t, err)

	assert.Equal(t, sent.Command, got.Command)
	assert.Equal(t, sent.Type, got.Type)
	assert.Equal(t, sent.Seq, got.Seq)
	assert.Equal(t, sent.Payload, got.Payload)
}

func TestCommandTableUnknownCommand(t *testing.T) {
	table := NewCommandTable([]string{"new"})
	_, err := table.ID("renew")
	assert.Error(t, err)
}

func TestReplyEchoesSequence(t *testing.T) {
	table := NewCommandTable([]string{"new", "ret"})

	var buf bytes.Buffer
	req := Frame{Command: "new", Type: PacketREQ, Seq: 7}
	require.NoError(t, WriteFrame(&buf, table, req))

	decoded, err := ReadFrame(&buf, table)
	require.NoError(t, err)

	var replyBuf bytes.Buffer
	reply := Frame{Command: "ret", Type: PacketACK, Seq: decoded.Seq}
	require.NoError(t, WriteFrame(&replyBuf, table, reply))

	decodedReply, err := ReadFrame(&replyBuf, table)
	require.NoError(t, err)
	assert.Equal(t, decoded.Seq, decodedReply.Seq)
	assert.Equal(t, PacketACK, decodedReply.Type)
}
