// Command widgetctl is the operator CLI for a running widget-provider slave:
// it reads the daemon's admin socket for a point-in-time status snapshot,
// a live top-style refresh, and a stream of outbound wire frames.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nicesj/widget-provider/cmd/widgetctl/commands"
)

var rootCmd = &cobra.Command{
	Use:   "widgetctl",
	Short: "Operator CLI for a running widget-provider slave",
	Long: `widgetctl talks to a widget-provider slave's admin socket to report
instance counts and pause state, watch outbound protocol frames live, and
show per-process resource usage.`,
}

func init() {
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.WatchCmd)
	rootCmd.AddCommand(commands.TopCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
