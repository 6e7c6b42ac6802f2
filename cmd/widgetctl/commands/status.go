package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// StatusCmd reports a single snapshot of a running slave's admin status.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running widget-provider slave's instance count and pause state",
	RunE:  runStatus,
}

func init() {
	StatusCmd.Flags().StringVar(&adminSocketFlag, "admin-socket", "/tmp/.widget.service.admin", "path to the slave's admin socket")
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := fetchStatus(adminSocketFlag)
	if err != nil {
		return err
	}

	return pterm.DefaultTable.WithData(pterm.TableData{
		{"slave_name", st.SlaveName},
		{"instances", fmt.Sprintf("%d", st.InstanceCount)},
		{"globally_paused", fmt.Sprintf("%t", st.GloballyPaused)},
	}).Render()
}
