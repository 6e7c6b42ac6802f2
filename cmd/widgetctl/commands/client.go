package commands

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/nicesj/widget-provider/errors"
)

var adminSocketFlag string

// adminHTTPClient returns an http.Client that dials sockPath instead of a
// TCP address, mirroring the unix-domain-socket dialer pattern widgetctl's
// admin endpoints need since net/http has no native unix-socket scheme.
func adminHTTPClient(sockPath string) *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				d := net.Dialer{}
				return d.DialContext(ctx, "unix", sockPath)
			},
		},
	}
}

// daemonStatus mirrors daemon.Status without importing the daemon package
// (widgetctl only speaks the admin socket's JSON wire shape).
type daemonStatus struct {
	SlaveName      string `json:"slave_name"`
	InstanceCount  int    `json:"instance_count"`
	GloballyPaused bool   `json:"globally_paused"`
}

func fetchStatus(sockPath string) (daemonStatus, error) {
	client := adminHTTPClient(sockPath)
	resp, err := client.Get("http://unix/status")
	if err != nil {
		return daemonStatus{}, errors.Wrapf(err, "connecting to admin socket %s", sockPath)
	}
	defer resp.Body.Close()

	var st daemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return daemonStatus{}, errors.Wrap(err, "decoding status response")
	}
	return st, nil
}
