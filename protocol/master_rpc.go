package protocol

import (
	"github.com/nicesj/widget-provider/buffer"
	"github.com/nicesj/widget-provider/errors"
	"github.com/nicesj/widget-provider/transport"
)

// The methods below implement buffer.MasterRPC: the Buffer Provider calls
// these to acquire/release/resize backing resources and to emit damage
// notifications through the master control connection (spec.md §4.2,
// §6 "acquire_buffer, acquire_xbuffer, release_buffer, release_xbuffer,
// resize_buffer").

// AcquireBuffer asks the master for a backing buffer. Request format
// `issiii` (slot,package_id,instance_id,w,h,bpp); reply `is` (status,uri)
// (spec.md §6).
func (p *Protocol) AcquireBuffer(key buffer.Key, slot, w, h, bpp int) (string, error) {
	return p.acquire("acquire_buffer", key, slot, w, h, bpp)
}

// ReleaseBuffer releases a previously acquired backing resource.
func (p *Protocol) ReleaseBuffer(key buffer.Key, slot int) error {
	payload := transport.NewPayloadWriter().
		Int(int32(slot)).
		String(key.PackageID).
		String(key.InstanceID).
		Bytes()
	reply, err := p.conn.RequestWithAck(transport.Frame{Command: "release_buffer", Payload: payload})
	if err != nil {
		return errors.Wrapf(err, "release_buffer %s slot %d", key, slot)
	}
	return statusToError(reply, "release_buffer", key)
}

// ResizeBuffer asks the master to resize the backing resource, returning
// the (possibly new) URI.
func (p *Protocol) ResizeBuffer(key buffer.Key, slot, w, h int) (string, error) {
	payload := transport.NewPayloadWriter().
		Int(int32(slot)).
		String(key.PackageID).
		String(key.InstanceID).
		Int(int32(w)).
		Int(int32(h)).
		Bytes()
	reply, err := p.conn.RequestWithAck(transport.Frame{Command: "resize_buffer", Payload: payload})
	if err != nil {
		return "", errors.Wrapf(err, "resize_buffer %s slot %d", key, slot)
	}
	return decodeAcquireReply(reply, key)
}

// SendUpdated emits the `updated`/`desc_updated` damage notification for
// slot (<0 selects the primary surface) via the master connection.
func (p *Protocol) SendUpdated(key buffer.Key, slot int, region buffer.DamageRegion, forGbar bool, descFile string) error {
	return sendBufferUpdatedFrame(p.conn, key, slot, region, forGbar, descFile)
}

// SendDirectBufferUpdated emits the same notification directly to a
// registered viewer connection rather than the master.
func (p *Protocol) SendDirectBufferUpdated(fd int, key buffer.Key, slot int, region buffer.DamageRegion, forGbar bool, descFile string) error {
	conn := p.directConnByFD(fd)
	if conn == nil {
		return errors.Newf("protocol: no direct connection for fd %d", fd)
	}
	return sendBufferUpdatedFrame(conn, key, slot, region, forGbar, descFile)
}

func (p *Protocol) acquire(command string, key buffer.Key, slot, w, h, bpp int) (string, error) {
	payload := transport.NewPayloadWriter().
		Int(int32(slot)).
		String(key.PackageID).
		String(key.InstanceID).
		Int(int32(w)).
		Int(int32(h)).
		Int(int32(bpp)).
		Bytes()
	reply, err := p.conn.RequestWithAck(transport.Frame{Command: command, Payload: payload})
	if err != nil {
		return "", errors.Wrapf(err, "%s %s slot %d", command, key, slot)
	}
	return decodeAcquireReply(reply, key)
}

func decodeAcquireReply(reply transport.Frame, key buffer.Key) (string, error) {
	r := transport.NewPayloadReader(reply.Payload)
	status, err := r.Int()
	if err != nil {
		return "", errors.Wrapf(err, "buffer %s: decode status", key)
	}
	if status != 0 {
		return "", errors.Newf("buffer %s: master returned status %d", key, status)
	}
	uri, err := r.String()
	if err != nil {
		return "", errors.Wrapf(err, "buffer %s: decode uri", key)
	}
	return uri, nil
}

func statusToError(reply transport.Frame, command string, key buffer.Key) error {
	r := transport.NewPayloadReader(reply.Payload)
	status, err := r.Int()
	if err != nil {
		return nil // some acks carry no payload at all; absence of a status is not itself an error
	}
	if status != 0 {
		return errors.Newf("%s %s: master returned status %d", command, key, status)
	}
	return nil
}

// sendBufferUpdatedFrame encodes the `updated`/`desc_updated` frame for a
// buffer-level damage notification, format `sssiiii`
// (pkg,id,descfile,x,y,w,h) (spec.md §6), with an empty descfile for plain
// `updated`. It selects `desc_updated` when a descriptor filename is
// present (script-kind widgets), and `extra_updated` when an extra slot is
// addressed, matching the table's "extra_updated" format `ssiiiiii`.
func sendBufferUpdatedFrame(conn *transport.Connection, key buffer.Key, slot int, region buffer.DamageRegion, forGbar bool, descFile string) error {
	w := transport.NewPayloadWriter().String(key.PackageID).String(key.InstanceID)

	command := "updated"
	switch {
	case slot >= 0:
		command = "extra_updated"
		w.Int(int32(slot))
	case descFile != "":
		command = "desc_updated"
		w.String(descFile)
	default:
		w.String("")
	}

	w.Int(int32(region.X)).Int(int32(region.Y)).Int(int32(region.W)).Int(int32(region.H))
	return conn.RequestNoAck(transport.Frame{Command: command, Payload: w.Bytes()})
}

func (p *Protocol) directConnByFD(fd int) *transport.Connection {
	return p.directConns.GetByFD(fd)
}
