package sohandler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTable is a hand-written CapabilityTable used to test Handler's
// bookkeeping without going through plugin.Open.
type fakeTable struct {
	finalizeVote  FinalizeVote
	createCalls   int
	destroyCalls  int
	initCalls     int
	finalizeCalls int
	reenterErr    error
	h             *Handler
	pkg           *Package
}

func (f *fakeTable) Create(instanceID, content, cluster, category string, w, h int) error {
	f.createCalls++
	if f.reenterErr == nil && f.h != nil {
		// Attempt a re-entrant call into the handler from within create,
		// mirroring a buggy widget that calls back into the engine.
		f.reenterErr = f.h.SOCreate(f.pkg, instanceID, content, cluster, category, w, h)
	}
	return nil
}
func (f *fakeTable) Destroy(instanceID, reason string) error { f.destroyCalls++; return nil }
func (f *fakeTable) IsUpdated(instanceID string) (bool, error)  { return true, nil }
func (f *fakeTable) UpdateContent(instanceID, content string) (UpdateResult, error) {
	return ResultNeedToSchedule | ResultOutputUpdated, nil
}
func (f *fakeTable) Clicked(string, float64, float64, int) error        { return nil }
func (f *fakeTable) TextSignal(string, string, string, [4]float64) error { return nil }
func (f *fakeTable) Resize(string, int, int) error                      { return nil }
func (f *fakeTable) CreateNeeded(string, string, string) (bool, error)  { return true, nil }
func (f *fakeTable) ChangeGroup(string, string, string) error           { return nil }
func (f *fakeTable) GetOutputInfo(string) (OutputInfo, error) {
	return OutputInfo{Width: 10, Height: 10}, nil
}
func (f *fakeTable) NeedToDestroy(string) (DestroyVote, error) { return DestroyNo, nil }
func (f *fakeTable) Pinup(string, bool) error                  { return nil }
func (f *fakeTable) IsPinnedUp(string) (bool, error)           { return true, nil }
func (f *fakeTable) SystemEvent(string, int) error             { return nil }
func (f *fakeTable) GetAltInfo(string) (AltInfo, error)        { return AltInfo{Icon: "i", Name: "n"}, nil }
func (f *fakeTable) SetContentInfo(string, string) error       { return nil }
func (f *fakeTable) Initialize(string) error                   { f.initCalls++; return nil }
func (f *fakeTable) Finalize(string) (FinalizeVote, error) {
	f.finalizeCalls++
	return f.finalizeVote, nil
}

func newTestHandlerWithPackage(t *testing.T) (*Handler, *Package, *fakeTable) {
	h := NewHandler(NewLoader(ModulePaths{}))
	table := &fakeTable{}
	pkg := &Package{PackageID: "org.tizen.clock", Table: table, instanceCount: 1}

	h.mu.Lock()
	h.packages[pkg.PackageID] = pkg
	h.mu.Unlock()

	return h, pkg, table
}

func TestInitializeCalledExactlyOnce(t *testing.T) {
	h, pkg, table := newTestHandlerWithPackage(t)

	require.NoError(t, h.EnsureInitialized(pkg))
	require.NoError(t, h.EnsureInitialized(pkg))
	require.NoError(t, h.EnsureInitialized(pkg))

	assert.Equal(t, 1, table.initCalls)
}

func TestFinalizeResourceBusyKeepsPackageLoaded(t *testing.T) {
	h, pkg, table := newTestHandlerWithPackage(t)
	table.finalizeVote = FinalizeResourceBusy

	require.NoError(t, h.Release(pkg))
	assert.Equal(t, 1, table.finalizeCalls)

	h.mu.Lock()
	_, stillLoaded := h.packages[pkg.PackageID]
	h.mu.Unlock()
	assert.True(t, stillLoaded, "RESOURCE_BUSY finalize must keep the package resident")
}

func TestFinalizeOKUnloadsPackage(t *testing.T) {
	h, pkg, table := newTestHandlerWithPackage(t)
	table.finalizeVote = FinalizeOK

	require.NoError(t, h.Release(pkg))
	assert.Equal(t, 1, table.finalizeCalls)

	h.mu.Lock()
	_, stillLoaded := h.packages[pkg.PackageID]
	h.mu.Unlock()
	assert.False(t, stillLoaded)
}

func TestReentrantCallIsRejected(t *testing.T) {
	h, pkg, table := newTestHandlerWithPackage(t)
	table.h = h
	table.pkg = pkg

	err := h.SOCreate(pkg, "file:///tmp/w1.png", "content", "cluster", "category", 100, 100)
	require.NoError(t, err)
	assert.Error(t, table.reenterErr, "re-entrant call into the handler while create is in progress must fail")

	// Current op must be cleared after the call returns.
	assert.Equal(t, OpNone, h.CurrentOp())
}

func TestUpdateContentReturnsSchedulingBitmask(t *testing.T) {
	h, pkg, _ := newTestHandlerWithPackage(t)

	result, err := h.SOUpdate(pkg, "file:///tmp/w1.png", "tick")
	require.NoError(t, err)
	assert.NotZero(t, result&ResultNeedToSchedule)
	assert.NotZero(t, result&ResultOutputUpdated)
	assert.Zero(t, result&ResultForceToSchedule)
}

func TestCurrentOpAndFaultClearedAfterCall(t *testing.T) {
	h, pkg, _ := newTestHandlerWithPackage(t)

	assert.Equal(t, OpNone, h.CurrentOp())
	assert.Nil(t, h.Fault())

	require.NoError(t, h.SODestroy(pkg, "file:///tmp/w1.png", "FAULT"))

	// After the call returns, bookkeeping is cleared.
	assert.Equal(t, OpNone, h.CurrentOp())
	assert.Nil(t, h.Fault())
}
