package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicesj/widget-provider/buffer"
	"github.com/nicesj/widget-provider/sohandler"
)

type fakeTable struct {
	mu            sync.Mutex
	createCalls   int
	destroyCalls  int
	updateResult  sohandler.UpdateResult
	isPinnedUp    bool
	createdNeeded bool
}

func (f *fakeTable) Create(string, string, string, string, int, int) error {
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()
	return nil
}
func (f *fakeTable) Destroy(string, string) error {
	f.mu.Lock()
	f.destroyCalls++
	f.mu.Unlock()
	return nil
}
func (f *fakeTable) IsUpdated(string) (bool, error) { return true, nil }
func (f *fakeTable) UpdateContent(string, string) (sohandler.UpdateResult, error) {
	return f.updateResult, nil
}
func (f *fakeTable) Clicked(string, float64, float64, int) error        { return nil }
func (f *fakeTable) TextSignal(string, string, string, [4]float64) error { return nil }
func (f *fakeTable) Resize(string, int, int) error                      { return nil }
func (f *fakeTable) CreateNeeded(string, string, string) (bool, error)  { return true, nil }
func (f *fakeTable) ChangeGroup(string, string, string) error           { return nil }
func (f *fakeTable) GetOutputInfo(string) (sohandler.OutputInfo, error) {
	return sohandler.OutputInfo{Content: "c", Title: "t"}, nil
}
func (f *fakeTable) NeedToDestroy(string) (sohandler.DestroyVote, error) {
	return sohandler.DestroyNo, nil
}
func (f *fakeTable) Pinup(string, bool) error { return nil }
func (f *fakeTable) IsPinnedUp(string) (bool, error) {
	return f.isPinnedUp, nil
}
func (f *fakeTable) SystemEvent(string, int) error { return nil }
func (f *fakeTable) GetAltInfo(string) (sohandler.AltInfo, error) {
	return sohandler.AltInfo{Icon: "i", Name: "n"}, nil
}
func (f *fakeTable) SetContentInfo(string, string) error { return nil }
func (f *fakeTable) Initialize(string) error             { return nil }
func (f *fakeTable) Finalize(string) (sohandler.FinalizeVote, error) {
	return sohandler.FinalizeOK, nil
}

type fakeSink struct {
	mu               sync.Mutex
	deleted          []Identity
	faulted          []Identity
	extraInfo        int
	directSends      []string
	masterSends      int
	directSendShouldFail bool
}

func (s *fakeSink) SendDeleted(id Identity, reason DeleteReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return nil
}
func (s *fakeSink) SendFaulted(id Identity, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faulted = append(s.faulted, id)
	return nil
}
func (s *fakeSink) SendExtraInfo(id Identity, content, title, icon, name string, priority float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraInfo++
	return nil
}
func (s *fakeSink) SendDirectUpdated(addr string, id Identity, region buffer.DamageRegion, forGbar bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.directSendShouldFail {
		return assertErr
	}
	s.directSends = append(s.directSends, addr)
	return nil
}
func (s *fakeSink) SendMasterUpdated(id Identity, region buffer.DamageRegion, forGbar bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masterSends++
	return nil
}

var assertErr = errAssert{}

type errAssert struct{}

func (errAssert) Error() string { return "direct send failed" }

func testEngine(t *testing.T) (*Engine, *fakeSink, *sohandler.Package, *fakeTable) {
	sink := &fakeSink{}
	handler := sohandler.NewHandler(sohandler.NewLoader(sohandler.ModulePaths{}))
	bufs := buffer.NewProvider(nil)
	table := &fakeTable{}
	pkg := &sohandler.Package{PackageID: "org.example.clock", Table: table}

	eng := New(Config{
		PendingInterval:     10 * time.Millisecond,
		ForceUpdateInterval: 10 * time.Millisecond,
		MinUpdateInterval:   5 * time.Millisecond,
		DefaultTimeout:      50 * time.Millisecond,
	}, sink, handler, bufs)
	// Monitors armed by these tests may time out; keep the ETIME exit from
	// terminating the test binary.
	eng.SetExiter(func(int) {})

	return eng, sink, pkg, table
}

func TestNewCreatesInstanceOnce(t *testing.T) {
	eng, _, pkg, table := testEngine(t)
	id := Identity{PackageID: "org.example.clock", InstanceID: "file:///tmp/w1.png"}

	inst1, err := eng.New(id, pkg, "content", "cluster", "category", 100, 100, true)
	require.NoError(t, err)

	inst2, err := eng.New(id, pkg, "content", "cluster", "category", 100, 100, true)
	require.NoError(t, err)

	assert.Same(t, inst1, inst2)
	assert.Equal(t, 1, table.createCalls)
}

func TestDeleteDefersWhileMonitorInFlight(t *testing.T) {
	eng, sink, pkg, _ := testEngine(t)
	id := Identity{PackageID: "org.example.clock", InstanceID: "file:///tmp/w1.png"}
	inst, err := eng.New(id, pkg, "content", "", "", 100, 100, true)
	require.NoError(t, err)

	require.True(t, eng.beginUpdateMonitor(inst))
	require.NoError(t, eng.Delete(inst, ReasonDefault))

	assert.True(t, inst.IsDeleteme())
	assert.Empty(t, sink.deleted, "destroy must be deferred while the monitor is in flight")

	require.NoError(t, eng.FileUpdated(inst, buffer.FullDamage(buffer.Geometry{}), false))
	assert.Len(t, sink.deleted, 1, "destroy must complete once the monitor drains")
}

func TestMonitorCountCoalescesExtraFileUpdated(t *testing.T) {
	eng, _, pkg, _ := testEngine(t)
	id := Identity{PackageID: "org.example.clock", InstanceID: "file:///tmp/w1.png"}
	inst, err := eng.New(id, pkg, "content", "", "", 100, 100, true)
	require.NoError(t, err)

	require.True(t, eng.beginUpdateMonitor(inst))
	assert.Equal(t, 1, inst.MonitorCount())

	// A second request while in flight coalesces to count=1, not +1.
	ok := eng.beginUpdateMonitor(inst)
	assert.False(t, ok)
	assert.Equal(t, 1, inst.MonitorCount())
}

func TestTooFastUpdateSetsHeavyUpdatingLatch(t *testing.T) {
	eng, _, pkg, _ := testEngine(t)
	id := Identity{PackageID: "org.example.clock", InstanceID: "file:///tmp/w1.png"}
	inst, err := eng.New(id, pkg, "content", "", "", 100, 100, true)
	require.NoError(t, err)

	require.True(t, eng.beginUpdateMonitor(inst))
	require.NoError(t, eng.FileUpdated(inst, buffer.FullDamage(buffer.Geometry{}), false))

	// Immediately request again: faster than MinUpdateInterval.
	ok := eng.beginUpdateMonitor(inst)
	assert.False(t, ok, "too-fast update must not arm a fresh monitor")

	inst.mu.Lock()
	heavy := inst.heavyUpdating
	inst.mu.Unlock()
	assert.True(t, heavy)
}

func TestGbarGatingRoutesOtherPackageToGbarPending(t *testing.T) {
	eng, _, pkg, _ := testEngine(t)
	ownerID := Identity{PackageID: "org.example.gbarowner", InstanceID: "file:///tmp/owner.png"}
	otherID := Identity{PackageID: "org.example.clock", InstanceID: "file:///tmp/w1.png"}

	owner, err := eng.New(ownerID, pkg, "c", "", "", 1, 1, true)
	require.NoError(t, err)
	other, err := eng.New(otherID, pkg, "c", "", "", 1, 1, true)
	require.NoError(t, err)

	eng.OpenGbar(owner)
	assert.Equal(t, GbarOpened, eng.gbarStateFor(owner))
	assert.Equal(t, GbarOpenedButNotMine, eng.gbarStateFor(other))

	eng.RequestUpdate(other, false)
	assert.True(t, eng.gbarPending.Contains(other))
	assert.False(t, eng.pending.Contains(other))

	eng.CloseGbar(owner)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, eng.gbarPending.Contains(other), "gbar-open-pending must drain into pending on last close")
}

func TestDirectFanOutFallsBackToMaster(t *testing.T) {
	eng, sink, pkg, _ := testEngine(t)
	id := Identity{PackageID: "org.example.clock", InstanceID: "file:///tmp/w1.png"}
	inst, err := eng.New(id, pkg, "c", "", "", 1, 1, true)
	require.NoError(t, err)

	require.NoError(t, eng.fanOutUpdate(inst, buffer.FullDamage(buffer.Geometry{}), false))
	assert.Equal(t, 1, sink.masterSends, "empty direct-addr set falls back to master")

	inst.AddDirectAddr("viewer-1")
	sink.directSendShouldFail = true
	require.NoError(t, eng.fanOutUpdate(inst, buffer.FullDamage(buffer.Geometry{}), false))
	assert.Equal(t, 2, sink.masterSends, "all direct sends failing falls back to master")

	sink.directSendShouldFail = false
	require.NoError(t, eng.fanOutUpdate(inst, buffer.FullDamage(buffer.Geometry{}), false))
	assert.Len(t, sink.directSends, 1)
	assert.Equal(t, 2, sink.masterSends, "a successful direct send must not also fall back")
}
