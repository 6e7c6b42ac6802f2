// Package transport implements the connection-oriented framed-message RPC
// between the slave and the master (spec.md §4.1 and §6): length-prefixed
// frames with a compile-time command id, a packet type, a sequence number,
// and a typed payload described by a format string.
package transport

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/nicesj/widget-provider/errors"
)

// PacketType is the one-byte frame kind (spec.md §6 "Wire format").
type PacketType byte

const (
	PacketREQ      PacketType = 0
	PacketREQNoAck PacketType = 1
	PacketACK      PacketType = 2
)

// frameHeader is fixed-size: 4-byte length prefix, 4-byte command id,
// 1-byte packet type, 4-byte sequence number.
const headerSize = 4 + 4 + 1 + 4

// Frame is one decoded wire message.
type Frame struct {
	Command string
	Type    PacketType
	Seq     uint32
	Payload []byte
	// FD carries an out-of-band file descriptor for direct-connection
	// handoff commands (spec.md §6 "optional out-of-band file descriptor").
	FD int
}

// CommandTable maps command names to their compile-time numeric id and
// back, "names preserved verbatim for wire compatibility" (spec.md §6).
type CommandTable struct {
	byName map[string]uint32
	byID   map[uint32]string
}

// NewCommandTable builds a table from an ordered command name list; ids
// are assigned by position so the table is stable across builds as long as
// the name list doesn't change order.
func NewCommandTable(names []string) *CommandTable {
	t := &CommandTable{
		byName: make(map[string]uint32, len(names)),
		byID:   make(map[uint32]string, len(names)),
	}
	for i, name := range names {
		id := uint32(i + 1)
		t.byName[name] = id
		t.byID[id] = name
	}
	return t
}

// ID looks up a command's numeric id.
func (t *CommandTable) ID(name string) (uint32, error) {
	id, ok := t.byName[name]
	if !ok {
		return 0, errors.Wrapf(errors.ErrInvalidArg, "unknown command %q", name)
	}
	return id, nil
}

// Name looks up a command's name from its numeric id.
func (t *CommandTable) Name(id uint32) (string, error) {
	name, ok := t.byID[id]
	if !ok {
		return "", errors.Wrapf(errors.ErrInvalidArg, "unknown command id %d", id)
	}
	return name, nil
}

// WriteFrame encodes f to w using table to resolve the command name to its
// wire id.
func WriteFrame(w io.Writer, table *CommandTable, f Frame) error {
	id, err := table.ID(f.Command)
	if err != nil {
		return err
	}

	buf := make([]byte, headerSize+len(f.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)-4))
	binary.LittleEndian.PutUint32(buf[4:8], id)
	buf[8] = byte(f.Type)
	binary.LittleEndian.PutUint32(buf[9:13], f.Seq)
	copy(buf[headerSize:], f.Payload)

	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

// ReadFrame decodes one frame from r using table to resolve the wire id
// back to a command name.
func ReadFrame(r io.Reader, table *CommandTable) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err // EOF propagates as-is so callers can detect disconnect
	}
	bodyLen := binary.LittleEndian.Uint32(lenBuf[:])
	if bodyLen < headerSize-4 {
		return Frame{}, errors.Newf("frame body length %d smaller than header", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, errors.Wrap(err, "failed to read frame body")
	}

	id := binary.LittleEndian.Uint32(body[0:4])
	name, err := table.Name(id)
	if err != nil {
		return Frame{}, err
	}
	typ := PacketType(body[4])
	seq := binary.LittleEndian.Uint32(body[5:9])
	payload := body[9:]

	return Frame{Command: name, Type: typ, Seq: seq, Payload: payload}, nil
}

// PayloadWriter encodes typed atoms into a payload buffer using the format
// atoms from spec.md §6: i (int32 LE), d (double LE), s (length-prefixed
// UTF-8 string).
type PayloadWriter struct {
	buf []byte
}

// NewPayloadWriter returns an empty payload builder.
func NewPayloadWriter() *PayloadWriter { return &PayloadWriter{} }

// Int appends an int32 atom.
func (w *PayloadWriter) Int(v int32) *PayloadWriter {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
	return w
}

// Double appends a float64 atom.
func (w *PayloadWriter) Double(v float64) *PayloadWriter {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	w.buf = append(w.buf, b[:]...)
	return w
}

// String appends a length-prefixed UTF-8 string atom.
func (w *PayloadWriter) String(v string) *PayloadWriter {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(v)))
	w.buf = append(w.buf, lb[:]...)
	w.buf = append(w.buf, v...)
	return w
}

// Bytes returns the encoded payload.
func (w *PayloadWriter) Bytes() []byte { return w.buf }

// PayloadReader decodes typed atoms from a payload buffer in order.
type PayloadReader struct {
	buf []byte
	pos int
}

// NewPayloadReader wraps payload for sequential atom decoding.
func NewPayloadReader(payload []byte) *PayloadReader {
	return &PayloadReader{buf: payload}
}

// Int decodes the next int32 atom.
func (r *PayloadReader) Int() (int32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, errors.New("payload: truncated int atom")
	}
	v := int32(binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4]))
	r.pos += 4
	return v, nil
}

// Double decodes the next float64 atom.
func (r *PayloadReader) Double() (float64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, errors.New("payload: truncated double atom")
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8]))
	r.pos += 8
	return v, nil
}

// String decodes the next length-prefixed string atom.
func (r *PayloadReader) String() (string, error) {
	if r.pos+4 > len(r.buf) {
		return "", errors.New("payload: truncated string length")
	}
	n := int(binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4]))
	r.pos += 4
	if r.pos+n > len(r.buf) {
		return "", errors.New("payload: truncated string body")
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

// Remaining reports how many unconsumed payload bytes remain.
func (r *PayloadReader) Remaining() int { return len(r.buf) - r.pos }
