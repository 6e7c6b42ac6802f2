package sohandler

import (
	"plugin"

	"github.com/nicesj/widget-provider/errors"
)

// symFuncs mirrors CapabilityTable one field per capability, each resolved
// independently from the module's exported symbols so that a missing
// optional capability simply leaves its field nil (spec.md §4.3: "missing
// symbols are tolerated for every capability except create and destroy").
type symFuncs struct {
	create         func(instanceID, content, cluster, category string, w, h int) error
	destroy        func(instanceID, reason string) error
	isUpdated      func(instanceID string) (bool, error)
	updateContent  func(instanceID, content string) (UpdateResult, error)
	clicked        func(instanceID string, x, y float64, deviceID int) error
	textSignal     func(instanceID, emission, source string, geom [4]float64) error
	resize         func(instanceID string, w, h int) error
	createNeeded   func(content, cluster, category string) (bool, error)
	changeGroup    func(instanceID, cluster, category string) error
	getOutputInfo  func(instanceID string) (OutputInfo, error)
	needToDestroy  func(instanceID string) (DestroyVote, error)
	pinup          func(instanceID string, pin bool) error
	isPinnedUp     func(instanceID string) (bool, error)
	systemEvent    func(instanceID string, event int) error
	getAltInfo     func(instanceID string) (AltInfo, error)
	setContentInfo func(instanceID, content string) error
	initialize     func(packageID string) error
	finalize       func(packageID string) (FinalizeVote, error)
}

// symbolTable adapts a *plugin.Plugin's resolved symbols to
// CapabilityTable. When adaptor is true, symbol names are prefixed
// adaptor_ instead of widget_; the symbols are asserted to the same native
// signatures and called without a leading packageID (spec.md §3).
type symbolTable struct {
	fns       symFuncs
	adaptor   bool
	packageID string
}

func newSymbolTable(p *plugin.Plugin, path string, adaptor bool) (*symbolTable, error) {
	prefix := "widget_"
	if adaptor {
		prefix = "adaptor_"
	}

	t := &symbolTable{adaptor: adaptor}

	lookup := func(name string) plugin.Symbol {
		sym, err := p.Lookup(prefix + name)
		if err != nil {
			return nil
		}
		return sym
	}

	createSym := lookup("create")
	destroySym := lookup("destroy")
	if createSym == nil || destroySym == nil {
		return nil, errors.Wrapf(errors.ErrInvalidArg, "module %s: missing mandatory capability create/destroy", path)
	}

	var ok bool
	if t.fns.create, ok = createSym.(func(string, string, string, string, int, int) error); !ok {
		return nil, errors.Newf("module %s: %screate has unexpected signature", path, prefix)
	}
	if t.fns.destroy, ok = destroySym.(func(string, string) error); !ok {
		return nil, errors.Newf("module %s: %sdestroy has unexpected signature", path, prefix)
	}

	if sym := lookup("is_updated"); sym != nil {
		t.fns.isUpdated, _ = sym.(func(string) (bool, error))
	}
	if sym := lookup("update_content"); sym != nil {
		t.fns.updateContent, _ = sym.(func(string, string) (UpdateResult, error))
	}
	if sym := lookup("clicked"); sym != nil {
		t.fns.clicked, _ = sym.(func(string, float64, float64, int) error)
	}
	if sym := lookup("text_signal"); sym != nil {
		t.fns.textSignal, _ = sym.(func(string, string, string, [4]float64) error)
	}
	if sym := lookup("resize"); sym != nil {
		t.fns.resize, _ = sym.(func(string, int, int) error)
	}
	if sym := lookup("create_needed"); sym != nil {
		t.fns.createNeeded, _ = sym.(func(string, string, string) (bool, error))
	}
	if sym := lookup("change_group"); sym != nil {
		t.fns.changeGroup, _ = sym.(func(string, string, string) error)
	}
	if sym := lookup("get_output_info"); sym != nil {
		t.fns.getOutputInfo, _ = sym.(func(string) (OutputInfo, error))
	}
	if sym := lookup("need_to_destroy"); sym != nil {
		t.fns.needToDestroy, _ = sym.(func(string) (DestroyVote, error))
	}
	if sym := lookup("pinup"); sym != nil {
		t.fns.pinup, _ = sym.(func(string, bool) error)
	}
	if sym := lookup("is_pinned_up"); sym != nil {
		t.fns.isPinnedUp, _ = sym.(func(string) (bool, error))
	}
	if sym := lookup("system_event"); sym != nil {
		t.fns.systemEvent, _ = sym.(func(string, int) error)
	}
	if sym := lookup("get_alt_info"); sym != nil {
		t.fns.getAltInfo, _ = sym.(func(string) (AltInfo, error))
	}
	if sym := lookup("set_content_info"); sym != nil {
		t.fns.setContentInfo, _ = sym.(func(string, string) error)
	}
	if sym := lookup("initialize"); sym != nil {
		t.fns.initialize, _ = sym.(func(string) error)
	}
	if sym := lookup("finalize"); sym != nil {
		t.fns.finalize, _ = sym.(func(string) (FinalizeVote, error))
	}

	return t, nil
}

func (t *symbolTable) Create(instanceID, content, cluster, category string, w, h int) error {
	return t.fns.create(instanceID, content, cluster, category, w, h)
}

func (t *symbolTable) Destroy(instanceID, reason string) error {
	return t.fns.destroy(instanceID, reason)
}

func (t *symbolTable) IsUpdated(instanceID string) (bool, error) {
	if t.fns.isUpdated == nil {
		return false, errors.ErrNotSupported
	}
	return t.fns.isUpdated(instanceID)
}

func (t *symbolTable) UpdateContent(instanceID, content string) (UpdateResult, error) {
	if t.fns.updateContent == nil {
		return ResultNone, errors.ErrNotSupported
	}
	return t.fns.updateContent(instanceID, content)
}

func (t *symbolTable) Clicked(instanceID string, x, y float64, deviceID int) error {
	if t.fns.clicked == nil {
		return errors.ErrNotSupported
	}
	return t.fns.clicked(instanceID, x, y, deviceID)
}

func (t *symbolTable) TextSignal(instanceID, emission, source string, geom [4]float64) error {
	if t.fns.textSignal == nil {
		return errors.ErrNotSupported
	}
	return t.fns.textSignal(instanceID, emission, source, geom)
}

func (t *symbolTable) Resize(instanceID string, w, h int) error {
	if t.fns.resize == nil {
		return errors.ErrNotSupported
	}
	return t.fns.resize(instanceID, w, h)
}

func (t *symbolTable) CreateNeeded(content, cluster, category string) (bool, error) {
	if t.fns.createNeeded == nil {
		return true, nil
	}
	return t.fns.createNeeded(content, cluster, category)
}

func (t *symbolTable) ChangeGroup(instanceID, cluster, category string) error {
	if t.fns.changeGroup == nil {
		return errors.ErrNotSupported
	}
	return t.fns.changeGroup(instanceID, cluster, category)
}

func (t *symbolTable) GetOutputInfo(instanceID string) (OutputInfo, error) {
	if t.fns.getOutputInfo == nil {
		return OutputInfo{}, errors.ErrNotSupported
	}
	return t.fns.getOutputInfo(instanceID)
}

func (t *symbolTable) NeedToDestroy(instanceID string) (DestroyVote, error) {
	if t.fns.needToDestroy == nil {
		return DestroyNo, nil
	}
	return t.fns.needToDestroy(instanceID)
}

func (t *symbolTable) Pinup(instanceID string, pin bool) error {
	if t.fns.pinup == nil {
		return errors.ErrNotSupported
	}
	return t.fns.pinup(instanceID, pin)
}

func (t *symbolTable) IsPinnedUp(instanceID string) (bool, error) {
	if t.fns.isPinnedUp == nil {
		return false, errors.ErrNotSupported
	}
	return t.fns.isPinnedUp(instanceID)
}

func (t *symbolTable) SystemEvent(instanceID string, event int) error {
	if t.fns.systemEvent == nil {
		return errors.ErrNotSupported
	}
	return t.fns.systemEvent(instanceID, event)
}

func (t *symbolTable) GetAltInfo(instanceID string) (AltInfo, error) {
	if t.fns.getAltInfo == nil {
		return AltInfo{}, errors.ErrNotSupported
	}
	return t.fns.getAltInfo(instanceID)
}

func (t *symbolTable) SetContentInfo(instanceID, content string) error {
	if t.fns.setContentInfo == nil {
		return errors.ErrNotSupported
	}
	return t.fns.setContentInfo(instanceID, content)
}

func (t *symbolTable) Initialize(packageID string) error {
	if t.fns.initialize == nil {
		return nil
	}
	return t.fns.initialize(packageID)
}

func (t *symbolTable) Finalize(packageID string) (FinalizeVote, error) {
	if t.fns.finalize == nil {
		return FinalizeOK, nil
	}
	return t.fns.finalize(packageID)
}
