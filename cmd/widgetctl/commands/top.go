package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"

	"github.com/nicesj/widget-provider/errors"
)

var topProcessName string
var topInterval time.Duration

// TopCmd renders a refreshing CPU/memory table for every widget-provider
// process on the host, keyed by executable name rather than by admin
// socket, so it still works against slaves that disabled the debug socket.
var TopCmd = &cobra.Command{
	Use:   "top",
	Short: "Show live CPU/memory usage for running widget-provider processes",
	RunE:  runTop,
}

func init() {
	TopCmd.Flags().StringVar(&topProcessName, "name", "widget-provider", "executable name to match")
	TopCmd.Flags().DurationVar(&topInterval, "interval", 2*time.Second, "refresh interval")
}

func runTop(cmd *cobra.Command, args []string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(topInterval)
	defer ticker.Stop()

	if err := renderTop(); err != nil {
		return err
	}
	for {
		select {
		case <-sigCh:
			return nil
		case <-ticker.C:
			pterm.Println()
			if err := renderTop(); err != nil {
				pterm.Error.Printfln("refresh failed: %s", err)
			}
		}
	}
}

func renderTop() error {
	procs, err := process.Processes()
	if err != nil {
		return errors.Wrap(err, "listing processes")
	}

	rows := pterm.TableData{{"pid", "cpu%", "mem(rss)", "name"}}
	found := 0
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !strings.Contains(name, topProcessName) {
			continue
		}
		found++

		cpuPct, _ := p.CPUPercent()
		mem, _ := p.MemoryInfo()
		rss := uint64(0)
		if mem != nil {
			rss = mem.RSS
		}

		rows = append(rows, []string{
			fmt.Sprintf("%d", p.Pid),
			fmt.Sprintf("%.1f", cpuPct),
			fmt.Sprintf("%d KiB", rss/1024),
			name,
		})
	}

	if found == 0 {
		pterm.Warning.Printfln("no processes matching %q", topProcessName)
		return nil
	}

	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
