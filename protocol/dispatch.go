package protocol

import (
	"time"

	"github.com/nicesj/widget-provider/engine"
	"github.com/nicesj/widget-provider/errors"
	"github.com/nicesj/widget-provider/transport"
)

// DispatchTable builds the full inbound command → handler map this
// Protocol drives (spec.md §6 "Command catalogue", in-bound rows). Pass
// the result as transport.Options.Dispatch when constructing the
// Connection this Protocol will Attach to.
func (p *Protocol) DispatchTable() map[string]transport.Handler {
	d := map[string]transport.Handler{
		"new":                 p.handleNew,
		"renew":               p.handleRenew,
		"delete":              p.handleDelete,
		"resize":              p.handleResize,
		"set_period":          p.handleSetPeriod,
		"change_group":        p.handleChangeGroup,
		"update_content":      p.handleUpdateContent,
		"pinup":               p.handlePinup,
		"clicked":             p.handleClicked,
		"text_signal":         p.handleTextSignal,
		"script":              p.handleScript,
		"update_mode":         p.handleUpdateMode,
		"orientation":         p.handleOrientation,
		"ctrl_mode":           p.handleCtrlMode,
		"pause":               p.handlePause,
		"resume":              p.handleResume,
		"widget_pause":        p.handleWidgetPause,
		"widget_resume":       p.handleWidgetResume,
		"disconnect":          p.handleDisconnect,
		"viewer_connected":    p.handleViewerConnected,
		"viewer_disconnected": p.handleViewerDisconnected,
		"gbar_create":         p.handleGbarCreate,
		"gbar_destroy":        p.handleGbarDestroy,
		"widget_update_begin": p.handleActiveUpdateBegin,
		"widget_update_end":   p.handleActiveUpdateEnd,
		"gbar_update_begin":   p.handleActiveUpdateBegin,
		"gbar_update_end":     p.handleActiveUpdateEnd,
	}
	for command := range mouseEventKind {
		d[command] = p.handleMouseEvent
	}
	for command := range keyEventKind {
		d[command] = p.handleKeyEvent
	}
	for command := range accessEventKind {
		d[command] = p.handleAccessEvent
	}
	return d
}

// handleNew decodes `sssiidssisiisi`: pkg,id,content,timeout,has_script,
// period,cluster,category,skip_need_to_create,abi,w,h,direct_addr,degree
// (spec.md §6 "new"); reply `iiidssi`
// (ret,w,h,priority,out_content,out_title,pinned).
func (p *Protocol) handleNew(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)

	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "new: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "new: instance_id")
	}
	content, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "new: content")
	}
	timeout, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "new: timeout")
	}
	hasScript, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "new: has_script")
	}
	period, err := r.Double()
	if err != nil {
		return nil, errors.Wrap(err, "new: period")
	}
	cluster, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "new: cluster")
	}
	category, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "new: category")
	}
	skipNeedToCreate, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "new: skip_need_to_create")
	}
	abi, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "new: abi")
	}
	w, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "new: width")
	}
	h, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "new: height")
	}
	directAddr, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "new: direct_addr")
	}
	degree, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "new: degree")
	}

	pkg, err := p.resolver.Resolve(packageID, abi, int(timeout), hasScript != 0)
	if err != nil {
		return newErrorReply(-1), errors.Wrapf(err, "new: resolve package %s", packageID)
	}

	id := engine.Identity{PackageID: packageID, InstanceID: instanceID}
	inst, err := p.eng.New(id, pkg, content, cluster, category, int(w), int(h), skipNeedToCreate != 0)
	if err != nil {
		return newErrorReply(-1), errors.Wrapf(err, "new: %s/%s", packageID, instanceID)
	}

	inst.Timeout = time.Duration(timeout) * time.Second
	inst.HasWidgetScript = hasScript != 0
	inst.Orientation = int(degree)
	if directAddr != "" {
		inst.AddDirectAddr(directAddr)
	}
	p.eng.ArmPeriodicUpdate(inst, time.Duration(period*float64(time.Second)))

	return newCreateReply(0, int(w), int(h), 0, inst.Content, inst.Title, false), nil
}

// handleRenew decodes `sssiidssiisiisi`: pkg,id,content,timeout,has_script,
// period,cluster,category,hold_scroll,active_update,direct_addr,w,h,
// size_class,degree (spec.md §6 "renew" — relative to `new` it drops
// skip_need_to_create and abi, adds hold_scroll, active_update and
// size_class, and moves direct_addr ahead of w,h); reply as `new`, additionally
// reading back is_pinned_up (spec.md §8 scenario S2).
func (p *Protocol) handleRenew(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)

	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "renew: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "renew: instance_id")
	}
	content, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "renew: content")
	}
	timeout, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "renew: timeout")
	}
	hasScript, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "renew: has_script")
	}
	period, err := r.Double()
	if err != nil {
		return nil, errors.Wrap(err, "renew: period")
	}
	cluster, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "renew: cluster")
	}
	category, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "renew: category")
	}
	holdScroll, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "renew: hold_scroll")
	}
	activeUpdate, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "renew: active_update")
	}
	directAddr, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "renew: direct_addr")
	}
	w, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "renew: width")
	}
	h, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "renew: height")
	}
	sizeClass, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "renew: size_class")
	}
	degree, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "renew: degree")
	}

	pkg, err := p.resolver.Resolve(packageID, "c", int(timeout), hasScript != 0)
	if err != nil {
		return newErrorReply(-1), errors.Wrapf(err, "renew: resolve package %s", packageID)
	}

	id := engine.Identity{PackageID: packageID, InstanceID: instanceID}
	inst, pinned, err := p.eng.Renew(id, pkg, content, cluster, category, int(w), int(h))
	if err != nil {
		return newErrorReply(-1), errors.Wrapf(err, "renew: %s/%s", packageID, instanceID)
	}

	inst.Timeout = time.Duration(timeout) * time.Second
	inst.HasWidgetScript = hasScript != 0
	inst.Orientation = int(degree)
	inst.SizeClass = sizeClass
	inst.SetRenewFlags(holdScroll != 0, activeUpdate != 0)
	if directAddr != "" {
		inst.AddDirectAddr(directAddr)
	}
	p.eng.ArmPeriodicUpdate(inst, time.Duration(period*float64(time.Second)))

	return newCreateReply(0, int(w), int(h), 0, inst.Content, inst.Title, pinned), nil
}

func newErrorReply(ret int32) *transport.Frame {
	payload := transport.NewPayloadWriter().
		Int(ret).Int(0).Int(0).Double(0).String("").String("").Int(0).Bytes()
	return &transport.Frame{Command: "new", Payload: payload}
}

func newCreateReply(ret int32, w, h int, priority float64, content, title string, pinned bool) *transport.Frame {
	pinnedInt := int32(0)
	if pinned {
		pinnedInt = 1
	}
	payload := transport.NewPayloadWriter().
		Int(ret).Int(int32(w)).Int(int32(h)).Double(priority).
		String(content).String(title).Int(pinnedInt).Bytes()
	return &transport.Frame{Command: "new", Payload: payload}
}

// handleDelete decodes `ssi` (pkg,id,reason) (spec.md §6 "delete").
func (p *Protocol) handleDelete(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "delete: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "delete: instance_id")
	}
	reasonCode, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "delete: reason")
	}

	inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return ackReply("delete", 0), nil
	}

	if err := p.eng.Delete(inst, deleteReasonFromCode(reasonCode)); err != nil {
		return ackReply("delete", -1), errors.Wrapf(err, "delete: %s/%s", packageID, instanceID)
	}
	return ackReply("delete", 0), nil
}

var deleteReasonCodes = []engine.DeleteReason{
	engine.ReasonDefault, engine.ReasonUninstall, engine.ReasonUpgrade,
	engine.ReasonTerminate, engine.ReasonFault, engine.ReasonTemporary, engine.ReasonUnknown,
}

func deleteReasonFromCode(code int32) engine.DeleteReason {
	if int(code) < 0 || int(code) >= len(deleteReasonCodes) {
		return engine.ReasonUnknown
	}
	return deleteReasonCodes[code]
}

func ackReply(command string, ret int32) *transport.Frame {
	return &transport.Frame{Command: command, Payload: transport.NewPayloadWriter().Int(ret).Bytes()}
}

// handleResize decodes `ssii` (pkg,id,w,h) (spec.md §6 "resize").
func (p *Protocol) handleResize(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "resize: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "resize: instance_id")
	}
	w, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "resize: width")
	}
	h, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "resize: height")
	}

	inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return ackReply("resize", -1), errUnknownInstance
	}

	if err := p.handler.SOResize(inst.Pkg(), instanceID, int(w), int(h)); err != nil {
		return ackReply("resize", -1), errors.Wrapf(err, "resize: %s/%s", packageID, instanceID)
	}
	inst.Width, inst.Height = int(w), int(h)
	return ackReply("resize", 0), nil
}

// handleSetPeriod decodes `ssd` (pkg,id,period) (spec.md §6 "set_period").
func (p *Protocol) handleSetPeriod(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "set_period: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "set_period: instance_id")
	}
	period, err := r.Double()
	if err != nil {
		return nil, errors.Wrap(err, "set_period: period")
	}

	inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return ackReply("set_period", -1), errUnknownInstance
	}
	p.eng.ArmPeriodicUpdate(inst, time.Duration(period*float64(time.Second)))
	return ackReply("set_period", 0), nil
}

// handleChangeGroup decodes `ssss` (pkg,id,cluster,category)
// (spec.md §6 "change_group").
func (p *Protocol) handleChangeGroup(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "change_group: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "change_group: instance_id")
	}
	cluster, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "change_group: cluster")
	}
	category, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "change_group: category")
	}

	inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return ackReply("change_group", -1), errUnknownInstance
	}
	if err := p.handler.SOChangeGroup(inst.Pkg(), instanceID, cluster, category); err != nil {
		return ackReply("change_group", -1), errors.Wrapf(err, "change_group: %s/%s", packageID, instanceID)
	}
	inst.Cluster, inst.Category = cluster, category
	return ackReply("change_group", 0), nil
}

// handleUpdateContent decodes `sssssi`
// (pkg,id,cluster,category,content,force); empty id bursts every instance
// of the package (spec.md §6 "update_content").
func (p *Protocol) handleUpdateContent(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "update_content: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "update_content: instance_id")
	}
	cluster, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "update_content: cluster")
	}
	category, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "update_content: category")
	}
	content, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "update_content: content")
	}
	force, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "update_content: force")
	}

	var targets []*engine.Instance
	if instanceID == "" {
		targets = p.eng.InstancesForPackage(packageID)
	} else if inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID}); ok {
		targets = []*engine.Instance{inst}
	}

	for _, inst := range targets {
		if cluster != "" || category != "" {
			inst.Cluster, inst.Category = cluster, category
		}
		if content != "" {
			inst.Content = content
		}
		p.eng.RequestUpdate(inst, force != 0)
	}

	return ackReply("update_content", 0), nil
}

// handlePinup decodes `ssi` (pkg,id,pin) (spec.md §6 "pinup").
func (p *Protocol) handlePinup(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "pinup: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "pinup: instance_id")
	}
	pin, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "pinup: pin")
	}

	inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return ackReply("pinup", -1), errUnknownInstance
	}
	if err := p.handler.SOPinup(inst.Pkg(), instanceID, pin != 0); err != nil {
		return ackReply("pinup", -1), errors.Wrapf(err, "pinup: %s/%s", packageID, instanceID)
	}
	return ackReply("pinup", 0), nil
}

// handleClicked decodes `ssddi` (pkg,id,x_as_double,y_as_double,device_id)
// (spec.md §6 command catalogue input row).
func (p *Protocol) handleClicked(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "clicked: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "clicked: instance_id")
	}
	x, err := r.Double()
	if err != nil {
		return nil, errors.Wrap(err, "clicked: x")
	}
	y, err := r.Double()
	if err != nil {
		return nil, errors.Wrap(err, "clicked: y")
	}
	deviceID, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "clicked: device_id")
	}

	inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return nil, errUnknownInstance
	}
	return nil, p.handler.SOClicked(inst.Pkg(), instanceID, x, y, int(deviceID))
}

// handleTextSignal decodes `script`'s payload: pkg,id,emission,source plus
// a 4-tuple geometry (spec.md §6 "text_signal, script ... see source").
func (p *Protocol) handleTextSignal(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "text_signal: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "text_signal: instance_id")
	}
	emission, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "text_signal: emission")
	}
	source, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "text_signal: source")
	}
	var geom [4]float64
	for i := range geom {
		geom[i], err = r.Double()
		if err != nil {
			return nil, errors.Wrapf(err, "text_signal: geometry[%d]", i)
		}
	}

	inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return nil, errUnknownInstance
	}
	return nil, p.handler.SOScriptEvent(inst.Pkg(), instanceID, emission, source, geom)
}

// handleScript decodes the same `ssssdddd` (pkg,id,signal_name,source,sx,
// sy,ex,ey) layout as text_signal: the source program's richer
// content_event carries extra pointer fields this engine has no capability
// slot for, so script and text_signal are routed through the same
// so_script_event façade call (spec.md §6 "text_signal, script ... see
// source").
func (p *Protocol) handleScript(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	return p.handleTextSignal(conn, f)
}

// handleUpdateMode decodes `ssi` (pkg,id,active_update); reply `i` (ret)
// (spec.md §6 "update_mode ... see source" —
// original_source's master_update_mode).
func (p *Protocol) handleUpdateMode(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "update_mode: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "update_mode: instance_id")
	}
	activeUpdate, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "update_mode: active_update")
	}

	inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return ackReply("update_mode", -1), errUnknownInstance
	}
	inst.SetActiveUpdate(activeUpdate != 0)
	return ackReply("update_mode", 0), nil
}

// handleOrientation decodes `ssi` (pkg,id,degree) and updates the
// instance's cached orientation; no reply is sent, matching
// master_orientation's NULL result (spec.md §6 "orientation ... see
// source").
func (p *Protocol) handleOrientation(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "orientation: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "orientation: instance_id")
	}
	degree, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "orientation: degree")
	}

	inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return nil, errUnknownInstance
	}
	inst.Orientation = int(degree)
	return nil, nil
}

// handleCtrlMode decodes `ssii` (pkg,id,cmd,value) and forwards it to the
// package's system_event capability as its event code; the value field has
// no corresponding capability parameter in this engine's façade, matching
// master_ctrl_mode's fire-and-forget NULL result (spec.md §6 "ctrl_mode
// ... see source").
func (p *Protocol) handleCtrlMode(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "ctrl_mode: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "ctrl_mode: instance_id")
	}
	cmd, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(err, "ctrl_mode: cmd")
	}
	if _, err := r.Int(); err != nil { // value: no façade slot to carry it to
		return nil, errors.Wrap(err, "ctrl_mode: value")
	}

	inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return nil, errUnknownInstance
	}
	return nil, p.handler.SOSysEvent(inst.Pkg(), instanceID, int(cmd))
}

// handlePause/handleResume toggle the process-wide pause state
// (spec.md §4.5 rule 2, §6 "pause, resume").
func (p *Protocol) handlePause(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	p.SetGlobalPause(true)
	return ackReply("pause", 0), nil
}

func (p *Protocol) handleResume(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	p.SetGlobalPause(false)
	return ackReply("resume", 0), nil
}

// handleWidgetPause/handleWidgetResume decode `ssi` (pkg,id,[unused]) and
// toggle a single instance's pause override (spec.md §4.5 rule 3).
func (p *Protocol) handleWidgetPause(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	return p.toggleInstancePause(f, "widget_pause", true)
}

func (p *Protocol) handleWidgetResume(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	return p.toggleInstancePause(f, "widget_resume", false)
}

func (p *Protocol) toggleInstancePause(f transport.Frame, command string, paused bool) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: package_id", command)
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: instance_id", command)
	}

	inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return ackReply(command, -1), errUnknownInstance
	}
	inst.SetWidgetShow(!paused)
	p.eng.SetInstancePause(inst, paused)
	return ackReply(command, 0), nil
}

// handleDisconnect lets the master request an orderly disconnect rather
// than a socket-level drop; the mass-destruction path is the same either
// way (spec.md §6 "disconnect").
func (p *Protocol) handleDisconnect(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	p.massDestruction()
	return nil, nil
}

// handleViewerConnected/handleViewerDisconnected decode `ss` (pkg,id) plus
// the viewer's direct_addr, maintaining the instance's direct-addr set
// (spec.md §6 "viewer_connected, viewer_disconnected").
func (p *Protocol) handleViewerConnected(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	return p.toggleViewerAddr(f, true)
}

func (p *Protocol) handleViewerDisconnected(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	return p.toggleViewerAddr(f, false)
}

func (p *Protocol) toggleViewerAddr(f transport.Frame, connected bool) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "viewer connect: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "viewer connect: instance_id")
	}
	addr, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "viewer connect: addr")
	}

	inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return nil, errUnknownInstance
	}
	if connected {
		inst.AddDirectAddr(addr)
	} else {
		inst.RemoveDirectAddr(addr)
		p.directConns.Unregister(addr, -1)
	}
	return nil, nil
}

// handleGbarCreate decodes `ssiidd` (pkg,id,w,h,x,y) and opens inst's
// glance-bar, freezing the pending/force-update consumers process-wide if
// this is the first one open (spec.md §4.5 rule 6, §8 property 5 "GBAR
// quiescence"); no reply, matching master_gbar_create's NULL result.
func (p *Protocol) handleGbarCreate(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "gbar_create: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "gbar_create: instance_id")
	}
	// Width/height/x/y describe the glance-bar surface geometry; this
	// engine does not allocate a separate gbar buffer, so they are read to
	// keep the payload cursor aligned and discarded otherwise.
	if _, err := r.Int(); err != nil {
		return nil, errors.Wrap(err, "gbar_create: width")
	}
	if _, err := r.Int(); err != nil {
		return nil, errors.Wrap(err, "gbar_create: height")
	}
	if _, err := r.Double(); err != nil {
		return nil, errors.Wrap(err, "gbar_create: x")
	}
	if _, err := r.Double(); err != nil {
		return nil, errors.Wrap(err, "gbar_create: y")
	}

	inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return nil, errUnknownInstance
	}
	p.eng.OpenGbar(inst)
	return nil, nil
}

// handleGbarDestroy decodes `ssi` (pkg,id,reason) and closes inst's
// glance-bar, thawing the consumers and draining gbar-open-pending back
// into pending once the process-wide open set is empty.
func (p *Protocol) handleGbarDestroy(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "gbar_destroy: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "gbar_destroy: instance_id")
	}
	if _, err := r.Int(); err != nil { // reason: reserved, matches original_source
		return nil, errors.Wrap(err, "gbar_destroy: reason")
	}

	inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return nil, errUnknownInstance
	}
	p.eng.CloseGbar(inst)
	return nil, nil
}

// handleActiveUpdateBegin/End handle the `ssdss`/`ss` payloads (spec.md §6
// "widget_update_begin/end, gbar_update_begin/end"), reading only the
// leading pkg,id. Begin opens an engine.ActiveUpdateSession, which only
// records an open flag and is not kept; End only checks that the instance
// exists.
func (p *Protocol) handleActiveUpdateBegin(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "update_begin: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "update_begin: instance_id")
	}

	inst, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return nil, errUnknownInstance
	}
	p.eng.BeginActiveUpdate(inst, isGbarCommand(f.Command))
	return nil, nil
}

func (p *Protocol) handleActiveUpdateEnd(conn *transport.Connection, f transport.Frame) (*transport.Frame, error) {
	r := transport.NewPayloadReader(f.Payload)
	packageID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "update_end: package_id")
	}
	instanceID, err := r.String()
	if err != nil {
		return nil, errors.Wrap(err, "update_end: instance_id")
	}
	_, ok := p.eng.Get(engine.Identity{PackageID: packageID, InstanceID: instanceID})
	if !ok {
		return nil, errUnknownInstance
	}
	return nil, nil
}
