package commands

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchStatusDecodesJSONOverUnixSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "admin.sock")

	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	defer os.Remove(sockPath)

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(daemonStatus{
			SlaveName:      "unit-test-slave",
			InstanceCount:  3,
			GloballyPaused: true,
		})
	})

	srv := httptest.NewUnstartedServer(mux)
	srv.Listener.Close()
	srv.Listener = ln
	srv.Start()
	defer srv.Close()

	st, err := fetchStatus(sockPath)
	require.NoError(t, err)
	assert.Equal(t, "unit-test-slave", st.SlaveName)
	assert.Equal(t, 3, st.InstanceCount)
	assert.True(t, st.GloballyPaused)
}

func TestFetchStatusFailsWhenSocketMissing(t *testing.T) {
	_, err := fetchStatus(filepath.Join(t.TempDir(), "missing.sock"))
	assert.Error(t, err)
}
