package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicesj/widget-provider/buffer"
	"github.com/nicesj/widget-provider/engine"
	"github.com/nicesj/widget-provider/sohandler"
	"github.com/nicesj/widget-provider/transport"
)

type fakeTable struct{}

func (fakeTable) Create(string, string, string, string, int, int) error { return nil }
func (fakeTable) Destroy(string, string) error                         { return nil }
func (fakeTable) IsUpdated(string) (bool, error)                       { return true, nil }
func (fakeTable) UpdateContent(string, string) (sohandler.UpdateResult, error) {
	return sohandler.ResultNone, nil
}
func (fakeTable) Clicked(string, float64, float64, int) error          { return nil }
func (fakeTable) TextSignal(string, string, string, [4]float64) error  { return nil }
func (fakeTable) Resize(string, int, int) error                        { return nil }
func (fakeTable) CreateNeeded(string, string, string) (bool, error)    { return true, nil }
func (fakeTable) ChangeGroup(string, string, string) error             { return nil }
func (fakeTable) GetOutputInfo(string) (sohandler.OutputInfo, error)   { return sohandler.OutputInfo{}, nil }
func (fakeTable) NeedToDestroy(string) (sohandler.DestroyVote, error)  { return sohandler.DestroyNo, nil }
func (fakeTable) Pinup(string, bool) error                             { return nil }
func (fakeTable) IsPinnedUp(string) (bool, error)                      { return false, nil }
func (fakeTable) SystemEvent(string, int) error                        { return nil }
func (fakeTable) GetAltInfo(string) (sohandler.AltInfo, error)         { return sohandler.AltInfo{}, nil }
func (fakeTable) SetContentInfo(string, string) error                  { return nil }
func (fakeTable) Initialize(string) error                              { return nil }
func (fakeTable) Finalize(string) (sohandler.FinalizeVote, error)      { return sohandler.FinalizeOK, nil }

type fakeResolver struct {
	pkg *sohandler.Package
}

func (r *fakeResolver) Resolve(packageID, abiTag string, timeout int, hasWidgetScript bool) (*sohandler.Package, error) {
	return r.pkg, nil
}

func newTestProtocol(t *testing.T) *Protocol {
	handler := sohandler.NewHandler(sohandler.NewLoader(sohandler.ModulePaths{}))
	bufs := buffer.NewProvider(nil)
	sink := &noopSink{}
	eng := engine.New(engine.Config{}, sink, handler, bufs)

	pkg := &sohandler.Package{PackageID: "org.example.clock", Table: fakeTable{}}
	p := New(Deps{Engine: eng, Buffers: bufs, Handler: handler, SlaveName: "test-slave"})
	p.resolver = &fakeResolver{pkg: pkg}
	return p
}

type noopSink struct{}

func (noopSink) SendDeleted(engine.Identity, engine.DeleteReason) error { return nil }
func (noopSink) SendFaulted(engine.Identity, string) error              { return nil }
func (noopSink) SendExtraInfo(engine.Identity, string, string, string, string, float64) error {
	return nil
}
func (noopSink) SendDirectUpdated(string, engine.Identity, buffer.DamageRegion, bool) error {
	return nil
}
func (noopSink) SendMasterUpdated(engine.Identity, buffer.DamageRegion, bool) error { return nil }

func newPayload(w *transport.PayloadWriter) []byte { return w.Bytes() }

func TestHandleNewCreatesInstanceAndReplies(t *testing.T) {
	p := newTestProtocol(t)

	payload := newPayload(transport.NewPayloadWriter().
		String("org.example.clock").
		String("file:///tmp/w1.png").
		String("content").
		Int(5).
		Int(0).
		Double(1.0).
		String("user,created").
		String("default").
		Int(0).
		String("c").
		Int(348).
		Int(348).
		String("").
		Int(0))

	reply, err := p.handleNew(nil, transport.Frame{Command: "new", Payload: payload})
	require.NoError(t, err)
	require.NotNil(t, reply)

	r := transport.NewPayloadReader(reply.Payload)
	ret, err := r.Int()
	require.NoError(t, err)
	assert.Equal(t, int32(0), ret)

	_, ok := p.eng.Get(engine.Identity{PackageID: "org.example.clock", InstanceID: "file:///tmp/w1.png"})
	assert.True(t, ok)
}

func TestHandleDeleteUnknownInstanceAcksCleanly(t *testing.T) {
	p := newTestProtocol(t)

	payload := newPayload(transport.NewPayloadWriter().
		String("org.example.clock").
		String("file:///tmp/missing.png").
		Int(0))

	reply, err := p.handleDelete(nil, transport.Frame{Command: "delete", Payload: payload})
	require.NoError(t, err)
	require.NotNil(t, reply)

	r := transport.NewPayloadReader(reply.Payload)
	ret, err := r.Int()
	require.NoError(t, err)
	assert.Equal(t, int32(0), ret)
}

func TestHandlePauseResumeTogglesEngine(t *testing.T) {
	p := newTestProtocol(t)

	_, err := p.handlePause(nil, transport.Frame{Command: "pause"})
	require.NoError(t, err)
	assert.True(t, p.eng.IsGlobalPaused())

	_, err = p.handleResume(nil, transport.Frame{Command: "resume"})
	require.NoError(t, err)
	assert.False(t, p.eng.IsGlobalPaused())
}

func TestHandleUpdateContentBurstsPackageWhenInstanceIDEmpty(t *testing.T) {
	p := newTestProtocol(t)

	for _, id := range []string{"file:///tmp/a.png", "file:///tmp/b.png"} {
		newPayloadForID := newPayload(transport.NewPayloadWriter().
			String("org.example.clock").String(id).String("c").
			Int(5).Int(0).Double(0).String("").String("").
			Int(1).String("c").Int(10).Int(10).String("").Int(0))
		_, err := p.handleNew(nil, transport.Frame{Command: "new", Payload: newPayloadForID})
		require.NoError(t, err)
	}

	burst := newPayload(transport.NewPayloadWriter().
		String("org.example.clock").String("").String("").String("").String("new content").Int(1))
	_, err := p.handleUpdateContent(nil, transport.Frame{Command: "update_content", Payload: burst})
	require.NoError(t, err)

	for _, id := range []string{"file:///tmp/a.png", "file:///tmp/b.png"} {
		inst, ok := p.eng.Get(engine.Identity{PackageID: "org.example.clock", InstanceID: id})
		require.True(t, ok)
		assert.Equal(t, "new content", inst.Content)
	}
}

func TestDispatchTableCoversEventFamilies(t *testing.T) {
	p := newTestProtocol(t)
	table := p.DispatchTable()

	for _, command := range []string{
		"new", "renew", "delete", "resize", "set_period", "change_group",
		"update_content", "pinup", "clicked", "text_signal", "pause", "resume",
		"widget_pause", "widget_resume", "disconnect",
		"widget_mouse_down", "gbar_mouse_up", "widget_key_down", "widget_access_read",
	} {
		_, ok := table[command]
		assert.True(t, ok, "missing dispatch handler for %s", command)
	}
}
