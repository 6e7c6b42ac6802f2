package protocol

import (
	"github.com/nicesj/widget-provider/buffer"
	"github.com/nicesj/widget-provider/engine"
	"github.com/nicesj/widget-provider/errors"
	"github.com/nicesj/widget-provider/transport"
)

// The methods below implement engine.ProtocolSink: outbound commands the
// Instance Engine emits synchronously from its own code paths (spec.md
// §4.6 "Outbound commands... are emitted synchronously from engine code
// paths").

// SendDeleted emits the `deleted` frame after an instance is torn down.
func (p *Protocol) SendDeleted(id engine.Identity, reason engine.DeleteReason) error {
	f := transport.Frame{Command: "deleted", Payload: transport.NewPayloadWriter().
		String(id.PackageID).
		String(id.InstanceID).
		String(string(reason)).
		Bytes(),
	}
	if err := p.conn.RequestNoAck(f); err != nil {
		return err
	}
	p.mirror(f)
	return nil
}

// SendFaulted emits the `faulted` frame (spec.md §4.5 rule 7, §7 "Fault").
func (p *Protocol) SendFaulted(id engine.Identity, reason string) error {
	payload := transport.NewPayloadWriter().
		String(id.PackageID).
		String(id.InstanceID).
		String(reason).
		Bytes()
	return p.conn.RequestNoAck(transport.Frame{Command: "faulted", Payload: payload})
}

// SendExtraInfo emits the `extra_info` frame: format `ssssssd`
// (pkg,id,content,title,icon,name,priority) (spec.md §6).
func (p *Protocol) SendExtraInfo(id engine.Identity, content, title, icon, name string, priority float64) error {
	payload := transport.NewPayloadWriter().
		String(id.PackageID).
		String(id.InstanceID).
		String(content).
		String(title).
		String(icon).
		String(name).
		Double(priority).
		Bytes()
	return p.conn.RequestNoAck(transport.Frame{Command: "extra_info", Payload: payload})
}

// SendDirectUpdated emits an `updated` frame over a direct viewer socket
// keyed by addr, rather than to the master (spec.md §4.5 rule 9 "Direct
// viewer fan-out"). addr names a registered direct connection managed by
// the daemon's connection registry.
func (p *Protocol) SendDirectUpdated(addr string, id engine.Identity, region buffer.DamageRegion, forGbar bool) error {
	directConn := p.directConns.Get(addr)
	if directConn == nil {
		return errors.Newf("protocol: no direct connection registered for %q", addr)
	}
	return sendUpdatedFrame(directConn, id.PackageID, id.InstanceID, region, forGbar)
}

// SendMasterUpdated emits `updated` over the master control connection
// (spec.md §6 "updated, desc_updated, extra_updated").
func (p *Protocol) SendMasterUpdated(id engine.Identity, region buffer.DamageRegion, forGbar bool) error {
	return sendUpdatedFrame(p.conn, id.PackageID, id.InstanceID, region, forGbar)
}

// sendUpdatedFrame encodes the `updated` format `sssiiii`
// (pkg,id,descfile,x,y,w,h), descfile left empty for primary-surface
// damage (spec.md §6 "updated, desc_updated, extra_updated"). The
// widget/glance-bar distinction is carried by which buffer handle produced
// the damage, not by a wire field, so forGbar only selects between the
// widget and glance-bar command variants below.
func sendUpdatedFrame(conn *transport.Connection, packageID, instanceID string, region buffer.DamageRegion, forGbar bool) error {
	command := "updated"
	if forGbar {
		command = "desc_updated"
	}
	payload := transport.NewPayloadWriter().
		String(packageID).
		String(instanceID).
		String("").
		Int(int32(region.X)).
		Int(int32(region.Y)).
		Int(int32(region.W)).
		Int(int32(region.H)).
		Bytes()
	return conn.RequestNoAck(transport.Frame{Command: command, Payload: payload})
}
