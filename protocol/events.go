package protocol

import (
	"github.com/nicesj/widget-provider/buffer"
	"github.com/nicesj/widget-provider/engine"
	"github.com/nicesj/widget-provider/errors"
	"github.com/nicesj/widget-provider/transport"
)

// mouseEventKind maps a wire command's suffix to buffer.MouseEvent's Type,
// for the widget_mouse_*/gbar_mouse_* family (spec.md §6).
var mouseEventKind = map[string]string{
	"widget_mouse_down": "down", "widget_mouse_up": "up", "widget_mouse_move": "move",
	"widget_mouse_enter": "enter", "widget_mouse_leave": "leave",
	"widget_mouse_set": "set", "widget_mouse_unset": "unset",
	"widget_mouse_on_scroll": "on_scroll", "widget_mouse_off_scroll": "off_scroll",
	"widget_mouse_on_hold": "on_hold", "widget_mouse_off_hold": "off_hold",
	"gbar_mouse_down": "down", "gbar_mouse_up": "up", "gbar_mouse_move": "move",
	"gbar_mouse_enter": "enter", "gbar_mouse_leave": "leave",
	"gbar_mouse_set": "set", "gbar_mouse_unset": "unset",
	"gbar_mouse_on_scroll": "on_scroll", "gbar_mouse_off_scroll": "off_scroll",
	"gbar_mouse_on_hold": "on_hold", "gbar_mouse_off_hold": "off_hold",
}

var keyEventKind = map[string]string{
	"widget_key_down": "down", "widget_key_up": "up",
	"widget_key_focus_in": "focus_in", "widget_key_focus_out": "focus_out",
	"gbar_key_down": "down", "gbar_key_up": "up",
	"gbar_key_focus_in": "focus_in", "gbar_key_focus_out": "focus_out",
}

var accessEventKind = map[string]string{
	"widget_access_action": "action", "widget_access_scroll": "scroll",
	"widget_access_value_change": "value_change", "widget_access_mouse": "mouse",
	"widget_access_back": "back", "widget_access_over": "over", "widget_access_read": "read",
	"gbar_access_action": "action", "gbar_access_scroll": "scroll",
	"gbar_access_value_change": "value_change", "gbar_access_mouse": "mouse",
	"gbar_access_back": "back", "gbar_access_over": "over", "gbar_access_read": "read",
}

func isGbarCommand(command string) bool {
	return len(command) >= 5 && command[:5] == "gbar_"
}

// Key/access event-processing status codes, matching the documented order
// of WIDGET_KEY_STATUS_*/WIDGET_ACCESS_STATUS_* in the source program's
// widget_provider.h (ERROR, DONE, FIRST, LAST, READ).
const (
	statusError = 0
	statusDone  = 1
)

// sendKeyStatus/sendAccessStatus emit the `ssi` (pkg,id,status) fallback
// frame so a viewer blocked on a key/access reply does not wait forever
// when no buffer handler is registered (spec.md §4.2 "Event dispatch
// through buffers").
func sendKeyStatus(conn *transport.Connection, id engine.Identity, status int32) error {
	payload := transport.NewPayloadWriter().String(id.PackageID).String(id.InstanceID).Int(status).Bytes()
	return conn.RequestNoAck(transport.Frame{Command: "key_status", Payload: payload})
}

func sendAccessStatus(conn *transport.Connection, id engine.Identity, status int32) error {
	payload := transport.NewPayloadWriter().String(id.PackageID).String(id.InstanceID).Int(status).Bytes()
	return conn.RequestNoAck(transport.Frame{Command: "access_status", Payload: payload})
}

func (p *Protocol) instanceBuffer(inst *engine.Instance, forGbar bool) *buffer.Buffer {
	if forGbar {
		return inst.GbarBuffer()
	}
	return inst.WidgetBuffer()
}

// handleMouseEvent decodes pkg,id,x,y as doubles,device_id, optionally
// followed by two doubles rw,rh: the per-buffer scaling ratios applied
// before the event is handed to the widget (spec.md §6 "with per-buffer
// x/y scaling ratios and device id"). Whether the event targets the
// glance-bar comes from the command name, not from a payload field.
func (p *Protocol) handleMouseEvent(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	kind, ok := mouseEventKind[f.Command]
	if !ok {
		return nil, errors.Newf("protocol: unmapped mouse command %q", f.Command)
	}

	id, x, y, _, rw, rh, err := decodeMouseLikePayload(f.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", f.Command)
	}

	inst, ok := p.eng.Get(id)
	if !ok {
		return nil, errUnknownInstance
	}

	forGbar := isGbarCommand(f.Command)
	buf := p.instanceBuffer(inst, forGbar)
	if buf == nil || buf.Handler() == nil {
		// The catalogue has no mouse_status frame (unlike key/access), so
		// the source program silently drops unhandled mouse events too;
		// there is nothing to reply with here.
		return nil, nil
	}

	if rw != 0 {
		x *= rw
	}
	if rh != 0 {
		y *= rh
	}

	return nil, buf.Handler().HandleMouse(buffer.MouseEvent{Type: kind, X: x, Y: y, ForGbar: forGbar})
}

func (p *Protocol) handleKeyEvent(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	kind, ok := keyEventKind[f.Command]
	if !ok {
		return nil, errors.Newf("protocol: unmapped key command %q", f.Command)
	}

	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: package_id", f.Command)
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: instance_id", f.Command)
	}
	keyCode, err := r.Int()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: key_code", f.Command)
	}
	deviceID, err := r.Int()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: device_id", f.Command)
	}

	id := engine.Identity{PackageID: packageID, InstanceID: instanceID}
	inst, ok := p.eng.Get(id)
	if !ok {
		return nil, errUnknownInstance
	}

	forGbar := isGbarCommand(f.Command)
	buf := p.instanceBuffer(inst, forGbar)
	if buf == nil || buf.Handler() == nil {
		// No handler to wait for a result from: tell the viewer now so it
		// does not block on a key_status that will never arrive (spec.md
		// §4.2 "If no handler is registered... responds... with an ERROR
		// key/access status").
		return nil, sendKeyStatus(conn, id, statusError)
	}

	return nil, buf.Handler().HandleKey(buffer.KeyEvent{
		Type: kind, KeyCode: int(keyCode), DeviceID: int(deviceID), ForGbar: forGbar,
	})
}

func (p *Protocol) handleAccessEvent(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	kind, ok := accessEventKind[f.Command]
	if !ok {
		return nil, errors.Newf("protocol: unmapped access command %q", f.Command)
	}

	id, x, y, deviceID, _, _, err := decodeMouseLikePayload(f.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", f.Command)
	}

	inst, ok := p.eng.Get(id)
	if !ok {
		return nil, errUnknownInstance
	}

	forGbar := isGbarCommand(f.Command)
	buf := p.instanceBuffer(inst, forGbar)
	if buf == nil || buf.Handler() == nil {
		return nil, sendAccessStatus(conn, id, statusError)
	}

	return nil, buf.Handler().HandleAccess(buffer.AccessEvent{
		Type: kind, X: x, Y: y, DeviceID: int(deviceID), ForGbar: forGbar,
	})
}

// decodeMouseLikePayload parses the `ssddi` layout (pkg,id,x,y,device_id)
// shared by the mouse and access families, plus the optional trailing `dd`
// scaling ratios (rw,rh) when at least 16 payload bytes remain.
func decodeMouseLikePayload(payload []byte) (id engine.Identity, x, y float64, deviceID int32, rw, rh float64, err error) {
	r := transport.NewPayloadReader(payload)

	if id.PackageID, err = r.String(); err != nil {
		return
	}
	if id.InstanceID, err = r.String(); err != nil {
		return
	}
	if x, err = r.Double(); err != nil {
		return
	}
	if y, err = r.Double(); err != nil {
		return
	}
	if deviceID, err = r.Int(); err != nil {
		return
	}
	if r.Remaining() >= 16 {
		if rw, err = r.Double(); err != nil {
			return
		}
		if rh, err = r.Double(); err != nil {
			return
		}
	}
	return
}
