package daemon

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicesj/widget-provider/config"
)

func testConfig() *config.Config {
	return &config.Config{
		SlaveName:         "test-slave",
		ABI:               "c",
		MasterSocketPath:  "/tmp/widget-provider-daemon-test.sock",
		MinUpdateInterval: 0,
		DefaultTimeout:    0,
	}
}

func TestNewWiresComponentGraphWithoutAdminSocket(t *testing.T) {
	cfg := testConfig()
	d, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Nil(t, d.adminSrv)
	assert.NoError(t, d.Close())
}

func TestServeStatusReportsInstanceCountAndPauseState(t *testing.T) {
	cfg := testConfig()
	cfg.AdminSocketPath = "/tmp/widget-provider-daemon-test-admin.sock"
	d, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, d.adminSrv)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	d.serveStatus(rec, req)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "test-slave", st.SlaveName)
	assert.Equal(t, 0, st.InstanceCount)
	assert.False(t, st.GloballyPaused)
}

func TestReloadSwapsStoredConfig(t *testing.T) {
	cfg := testConfig()
	d, err := New(cfg)
	require.NoError(t, err)

	newCfg := testConfig()
	newCfg.SlaveName = "reloaded-slave"
	require.NoError(t, d.Reload(newCfg))

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	d.serveStatus(rec, req)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "reloaded-slave", st.SlaveName)
}
