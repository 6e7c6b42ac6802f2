package sohandler

import "github.com/nicesj/widget-provider/errors"

// The façade methods are the engine's only entry point into a package's
// code: each wraps the matching CapabilityTable method in begin/end
// fault-call bookkeeping (spec.md §4.3 "Public surface").

// SOCreate invokes the package's create capability.
func (h *Handler) SOCreate(pkg *Package, instanceID, content, cluster, category string, w, h int) error {
	return h.call(OpCreate, pkg.PackageID, instanceID, CapCreate, func() error {
		return pkg.Table.Create(instanceID, content, cluster, category, w, h)
	})
}

// SODestroy invokes the package's destroy capability with reason.
func (h *Handler) SODestroy(pkg *Package, instanceID, reason string) error {
	return h.call(OpDestroy, pkg.PackageID, instanceID, CapDestroy, func() error {
		return pkg.Table.Destroy(instanceID, reason)
	})
}

// SOUpdate invokes update_content, returning the scheduling bitmask.
func (h *Handler) SOUpdate(pkg *Package, instanceID, content string) (UpdateResult, error) {
	var result UpdateResult
	err := h.call(OpUpdateContent, pkg.PackageID, instanceID, CapUpdateContent, func() error {
		var callErr error
		result, callErr = pkg.Table.UpdateContent(instanceID, content)
		return callErr
	})
	return result, err
}

// SOIsUpdated invokes is_updated.
func (h *Handler) SOIsUpdated(pkg *Package, instanceID string) (bool, error) {
	var updated bool
	err := h.call(OpIsUpdated, pkg.PackageID, instanceID, CapIsUpdated, func() error {
		var callErr error
		updated, callErr = pkg.Table.IsUpdated(instanceID)
		return callErr
	})
	if errors.Is(err, errors.ErrNotSupported) {
		return false, nil
	}
	return updated, err
}

// SONeedToDestroy invokes need_to_destroy.
func (h *Handler) SONeedToDestroy(pkg *Package, instanceID string) (DestroyVote, error) {
	var vote DestroyVote
	err := h.call(OpNeedToDestroy, pkg.PackageID, instanceID, CapNeedToDestroy, func() error {
		var callErr error
		vote, callErr = pkg.Table.NeedToDestroy(instanceID)
		return callErr
	})
	return vote, err
}

// SOResize invokes resize.
func (h *Handler) SOResize(pkg *Package, instanceID string, w, hh int) error {
	return h.call(OpResize, pkg.PackageID, instanceID, CapResize, func() error {
		return pkg.Table.Resize(instanceID, w, hh)
	})
}

// SOClicked invokes clicked.
func (h *Handler) SOClicked(pkg *Package, instanceID string, x, y float64, deviceID int) error {
	return h.call(OpClicked, pkg.PackageID, instanceID, CapClicked, func() error {
		return pkg.Table.Clicked(instanceID, x, y, deviceID)
	})
}

// SOScriptEvent invokes text_signal.
func (h *Handler) SOScriptEvent(pkg *Package, instanceID, emission, source string, geom [4]float64) error {
	return h.call(OpTextSignal, pkg.PackageID, instanceID, CapTextSignal, func() error {
		return pkg.Table.TextSignal(instanceID, emission, source, geom)
	})
}

// SOChangeGroup invokes change_group.
func (h *Handler) SOChangeGroup(pkg *Package, instanceID, cluster, category string) error {
	return h.call(OpChangeGroup, pkg.PackageID, instanceID, CapChangeGroup, func() error {
		return pkg.Table.ChangeGroup(instanceID, cluster, category)
	})
}

// SOGetOutputInfo invokes get_output_info.
func (h *Handler) SOGetOutputInfo(pkg *Package, instanceID string) (OutputInfo, error) {
	var info OutputInfo
	err := h.call(OpGetOutputInfo, pkg.PackageID, instanceID, CapGetOutputInfo, func() error {
		var callErr error
		info, callErr = pkg.Table.GetOutputInfo(instanceID)
		return callErr
	})
	return info, err
}

// SOGetAltInfo invokes get_alt_info.
func (h *Handler) SOGetAltInfo(pkg *Package, instanceID string) (AltInfo, error) {
	var info AltInfo
	err := h.call(OpGetAltInfo, pkg.PackageID, instanceID, CapGetAltInfo, func() error {
		var callErr error
		info, callErr = pkg.Table.GetAltInfo(instanceID)
		return callErr
	})
	return info, err
}

// SOPinup invokes pinup.
func (h *Handler) SOPinup(pkg *Package, instanceID string, pin bool) error {
	return h.call(OpPinup, pkg.PackageID, instanceID, CapPinup, func() error {
		return pkg.Table.Pinup(instanceID, pin)
	})
}

// SOIsPinnedUp invokes is_pinned_up, used to read back pin state on
// renew (spec.md §8 scenario S2).
func (h *Handler) SOIsPinnedUp(pkg *Package, instanceID string) (bool, error) {
	var pinned bool
	err := h.call(OpIsPinnedUp, pkg.PackageID, instanceID, CapIsPinnedUp, func() error {
		var callErr error
		pinned, callErr = pkg.Table.IsPinnedUp(instanceID)
		return callErr
	})
	if errors.Is(err, errors.ErrNotSupported) {
		return false, nil
	}
	return pinned, err
}

// SOSysEvent invokes system_event.
func (h *Handler) SOSysEvent(pkg *Package, instanceID string, event int) error {
	return h.call(OpSystemEvent, pkg.PackageID, instanceID, CapSystemEvent, func() error {
		return pkg.Table.SystemEvent(instanceID, event)
	})
}

// SOCreateNeeded invokes create_needed.
func (h *Handler) SOCreateNeeded(pkg *Package, content, cluster, category string) (bool, error) {
	var needed bool
	err := h.call(OpCreateNeeded, pkg.PackageID, "", CapCreateNeeded, func() error {
		var callErr error
		needed, callErr = pkg.Table.CreateNeeded(content, cluster, category)
		return callErr
	})
	return needed, err
}

// SOSetContentInfo invokes set_content_info.
func (h *Handler) SOSetContentInfo(pkg *Package, instanceID, content string) error {
	return h.call(OpSetContentInfo, pkg.PackageID, instanceID, CapSetContentInfo, func() error {
		return pkg.Table.SetContentInfo(instanceID, content)
	})
}
