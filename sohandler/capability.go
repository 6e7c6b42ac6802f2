// Package sohandler implements the SO-Handler (spec.md §4.3): it loads a
// package's dynamically-loaded code module given (package_id, ABI tag),
// resolves its capability dispatch table by symbol name, and exposes a
// per-capability façade that records begin/end-fault-call bookkeeping
// around every widget callback.
package sohandler

// Capability names the widget capability dispatch table entries a package
// may export (spec.md §3 "Package").
type Capability string

const (
	CapCreate          Capability = "create"
	CapDestroy         Capability = "destroy"
	CapIsUpdated       Capability = "is_updated"
	CapUpdateContent   Capability = "update_content"
	CapClicked         Capability = "clicked"
	CapTextSignal      Capability = "text_signal"
	CapResize          Capability = "resize"
	CapCreateNeeded    Capability = "create_needed"
	CapChangeGroup     Capability = "change_group"
	CapGetOutputInfo   Capability = "get_output_info"
	CapNeedToDestroy   Capability = "need_to_destroy"
	CapPinup           Capability = "pinup"
	CapIsPinnedUp      Capability = "is_pinned_up"
	CapSystemEvent     Capability = "system_event"
	CapGetAltInfo      Capability = "get_alt_info"
	CapSetContentInfo  Capability = "set_content_info"
	CapInitialize      Capability = "initialize"
	CapFinalize        Capability = "finalize"
)

// mandatory is the set of capabilities a package module must export; every
// other capability is looked up but tolerated when absent (spec.md §4.3).
var mandatory = map[Capability]bool{
	CapCreate:  true,
	CapDestroy: true,
}

// UpdateResult is the bitmask update_content and similar capabilities
// return, driving the engine's work-list scheduling (spec.md §3 "Update
// result flags").
type UpdateResult int

const (
	ResultNone           UpdateResult = 0
	ResultNeedToSchedule UpdateResult = 1 << 0
	ResultForceToSchedule UpdateResult = 1 << 1
	ResultOutputUpdated  UpdateResult = 1 << 2
)

// DestroyVote is need_to_destroy's return value.
type DestroyVote int

const (
	DestroyNo DestroyVote = iota
	DestroyYes
)

// FinalizeVote is finalize's return value: RESOURCE_BUSY asks the handler
// to keep the module resident despite zero instances (spec.md §3 "Package"
// invariant).
type FinalizeVote int

const (
	FinalizeOK FinalizeVote = iota
	FinalizeResourceBusy
)

// OutputInfo is get_output_info's result (spec.md §4.5 "Extra-info
// propagation").
type OutputInfo struct {
	Width, Height int
	Priority      float64
	Content       string
	Title         string
}

// AltInfo is get_alt_info's result.
type AltInfo struct {
	Icon string
	Name string
}

// CapabilityTable is the per-package dispatch table a loaded module
// exposes. Every method may be nil except Create/Destroy, matching the
// "native" arity (no leading package_id) described in spec.md §3. Adaptor
// modules are resolved into the same table with the same native
// signatures: no package_id is passed ahead of any call.
type CapabilityTable interface {
	Create(instanceID, content, cluster, category string, w, h int) error
	Destroy(instanceID string, reason string) error
	IsUpdated(instanceID string) (bool, error)
	UpdateContent(instanceID, content string) (UpdateResult, error)
	Clicked(instanceID string, x, y float64, deviceID int) error
	TextSignal(instanceID, emission, source string, geom [4]float64) error
	Resize(instanceID string, w, h int) error
	CreateNeeded(content, cluster, category string) (bool, error)
	ChangeGroup(instanceID, cluster, category string) error
	GetOutputInfo(instanceID string) (OutputInfo, error)
	NeedToDestroy(instanceID string) (DestroyVote, error)
	Pinup(instanceID string, pin bool) error
	IsPinnedUp(instanceID string) (bool, error)
	SystemEvent(instanceID string, event int) error
	GetAltInfo(instanceID string) (AltInfo, error)
	SetContentInfo(instanceID, content string) error
	Initialize(packageID string) error
	Finalize(packageID string) (FinalizeVote, error)
}
