package sohandler

import (
	"sync"

	"github.com/nicesj/widget-provider/errors"
	"github.com/nicesj/widget-provider/logger"
)

// Package is a loaded code module shared by every instance of one
// package_id (spec.md §3 "Package").
type Package struct {
	PackageID       string
	Table           CapabilityTable
	Timeout         int
	HasWidgetScript bool

	mu            sync.Mutex
	instanceCount int
	initialized   bool
	resourceBusy  bool
}

// Op identifies the capability the handler is currently inside, per
// spec.md §3 "Only one current operation per process at a time."
type Op string

const (
	OpNone Op = ""
)

// FaultRecord is the (package, instance, capability) tuple recorded for
// the duration of a façade call, so that a supervisor inspecting a crashed
// process's state can tell which widget callback was in flight
// (spec.md §4.3 "begin-fault-call / end-fault-call").
type FaultRecord struct {
	PackageID  string
	InstanceID string
	Capability Capability
}

// Handler owns every loaded Package and enforces the single
// current-operation invariant across all of them.
type Handler struct {
	loader *Loader

	mu       sync.Mutex
	packages map[string]*Package
	currentOp Op
	fault     *FaultRecord
}

// NewHandler constructs a Handler that resolves modules via loader.
func NewHandler(loader *Loader) *Handler {
	return &Handler{
		loader:   loader,
		packages: make(map[string]*Package),
	}
}

// CurrentOp returns the capability tag of the callback currently
// executing, or OpNone (spec.md §4.3 "so_current_op").
func (h *Handler) CurrentOp() Op {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentOp
}

// Fault returns the in-flight fault record, if any.
func (h *Handler) Fault() *FaultRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fault
}

func (h *Handler) beginFaultCall(op Op, pkgID, instanceID string, cap Capability) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.currentOp != OpNone {
		return errors.Newf("sohandler: re-entrant call into %s while %s is in progress", op, h.currentOp)
	}
	h.currentOp = op
	h.fault = &FaultRecord{PackageID: pkgID, InstanceID: instanceID, Capability: cap}
	return nil
}

func (h *Handler) endFaultCall() {
	h.mu.Lock()
	h.currentOp = OpNone
	h.fault = nil
	h.mu.Unlock()
}

// Load resolves and opens packageID's code module for the given ABI tag,
// registering it if not already loaded. Safe to call once per package;
// subsequent instances of the same package reuse the loaded table
// (spec.md §3 "a package exists iff at least one of its instances exists").
func (h *Handler) Load(packageID, abiTag string, timeout int, hasWidgetScript bool) (*Package, error) {
	h.mu.Lock()
	if pkg, ok := h.packages[packageID]; ok {
		h.mu.Unlock()
		pkg.mu.Lock()
		pkg.instanceCount++
		pkg.mu.Unlock()
		return pkg, nil
	}
	h.mu.Unlock()

	path, err := h.loader.Resolve(packageID, abiTag)
	if err != nil {
		return nil, errors.Wrapf(err, "package %s: resolve module", packageID)
	}

	var table CapabilityTable
	if abiTag == "" || abiTag == "c" {
		table, err = OpenNative(path)
	} else {
		table, err = OpenAdaptor(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "package %s: open module %s", packageID, path)
	}

	pkg := &Package{
		PackageID:       packageID,
		Table:           table,
		Timeout:         timeout,
		HasWidgetScript: hasWidgetScript,
		instanceCount:   1,
	}

	h.mu.Lock()
	h.packages[packageID] = pkg
	h.mu.Unlock()

	logger.Named("sohandler").Infow("package loaded", "package_id", packageID, "abi", abiTag, "path", path)
	return pkg, nil
}

// EnsureInitialized calls the package's initialize capability exactly
// once, on first instance (spec.md §4.3).
func (h *Handler) EnsureInitialized(pkg *Package) error {
	pkg.mu.Lock()
	defer pkg.mu.Unlock()

	if pkg.initialized {
		return nil
	}

	if err := h.call(OpInitialize, pkg.PackageID, "", CapInitialize, func() error {
		return pkg.Table.Initialize(pkg.PackageID)
	}); err != nil {
		return errors.Wrapf(err, "package %s: initialize", pkg.PackageID)
	}

	pkg.initialized = true
	return nil
}

// Release decrements the package's instance count and, when it reaches
// zero, calls finalize; a RESOURCE_BUSY vote keeps the module resident
// despite zero live instances (spec.md §3 invariant).
func (h *Handler) Release(pkg *Package) error {
	pkg.mu.Lock()
	pkg.instanceCount--
	remaining := pkg.instanceCount
	pkg.mu.Unlock()

	if remaining > 0 {
		return nil
	}

	vote, err := func() (FinalizeVote, error) {
		var v FinalizeVote
		err := h.call(OpFinalize, pkg.PackageID, "", CapFinalize, func() error {
			var callErr error
			v, callErr = pkg.Table.Finalize(pkg.PackageID)
			return callErr
		})
		return v, err
	}()
	if err != nil {
		return errors.Wrapf(err, "package %s: finalize", pkg.PackageID)
	}

	pkg.mu.Lock()
	pkg.resourceBusy = vote == FinalizeResourceBusy
	pkg.mu.Unlock()

	if vote == FinalizeResourceBusy {
		logger.Named("sohandler").Infow("package retained: finalize reported resource busy", "package_id", pkg.PackageID)
		return nil
	}

	h.mu.Lock()
	delete(h.packages, pkg.PackageID)
	h.mu.Unlock()

	logger.Named("sohandler").Infow("package unloaded", "package_id", pkg.PackageID)
	return nil
}

// Capability operation tags, used as the current-op marker (spec.md §4.3).
const (
	OpCreate         Op = Op(CapCreate)
	OpDestroy        Op = Op(CapDestroy)
	OpIsUpdated      Op = Op(CapIsUpdated)
	OpUpdateContent  Op = Op(CapUpdateContent)
	OpClicked        Op = Op(CapClicked)
	OpTextSignal     Op = Op(CapTextSignal)
	OpResize         Op = Op(CapResize)
	OpCreateNeeded   Op = Op(CapCreateNeeded)
	OpChangeGroup    Op = Op(CapChangeGroup)
	OpGetOutputInfo  Op = Op(CapGetOutputInfo)
	OpNeedToDestroy  Op = Op(CapNeedToDestroy)
	OpPinup          Op = Op(CapPinup)
	OpIsPinnedUp     Op = Op(CapIsPinnedUp)
	OpSystemEvent    Op = Op(CapSystemEvent)
	OpGetAltInfo     Op = Op(CapGetAltInfo)
	OpSetContentInfo Op = Op(CapSetContentInfo)
	OpInitialize     Op = Op(CapInitialize)
	OpFinalize       Op = Op(CapFinalize)
)

// call wraps fn in begin-fault-call/end-fault-call bookkeeping.
func (h *Handler) call(op Op, pkgID, instanceID string, cap Capability, fn func() error) error {
	if err := h.beginFaultCall(op, pkgID, instanceID, cap); err != nil {
		return err
	}
	defer h.endFaultCall()
	return fn()
}
