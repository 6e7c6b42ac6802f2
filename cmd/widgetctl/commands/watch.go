package commands

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/nicesj/widget-provider/errors"
)

// WatchCmd streams the slave's outbound protocol frames, mirrored by the
// daemon's optional debug fan-out (ambient observability only; see
// SPEC_FULL.md DOMAIN STACK — not part of the master/viewer wire protocol).
var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream outbound protocol frames from a running widget-provider slave",
	RunE:  runWatch,
}

func init() {
	WatchCmd.Flags().StringVar(&adminSocketFlag, "admin-socket", "/tmp/.widget.service.admin", "path to the slave's admin socket")
}

type mirroredFrame struct {
	Command string `json:"command"`
	Bytes   int    `json:"bytes"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	dialer := websocket.Dialer{
		NetDial: func(_, _ string) (net.Conn, error) {
			return net.DialTimeout("unix", adminSocketFlag, 5*time.Second)
		},
	}

	conn, _, err := dialer.Dial("ws://unix/watch", nil)
	if err != nil {
		return errors.Wrapf(err, "connecting to debug fan-out at %s", adminSocketFlag)
	}
	defer conn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var f mirroredFrame
			if err := conn.ReadJSON(&f); err != nil {
				pterm.Warning.Printfln("watch stream closed: %s", err)
				return
			}
			pterm.Println(fmt.Sprintf("%s  %s  %d bytes", time.Now().Format("15:04:05"), f.Command, f.Bytes))
		}
	}()

	select {
	case <-sigCh:
		return nil
	case <-done:
		return nil
	}
}
