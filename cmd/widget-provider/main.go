// Command widget-provider is the slave daemon: it accepts the single
// control connection from the master, then drives the Buffer Provider,
// SO-Handler, and Instance Engine through the Provider Protocol for the
// life of that connection (spec.md §4.6, §9).
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nicesj/widget-provider/cmd/widget-provider/daemon"
	"github.com/nicesj/widget-provider/config"
	"github.com/nicesj/widget-provider/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "widget-provider",
	Short: "Widget slave daemon: accepts the master control connection and serves widget instances",
	Long: `widget-provider is the per-package slave process launched by the master
widget service. It owns one control connection, the buffer provider, the
dynamically loaded package code, and the instance scheduler for every
widget and glance-bar the master asks it to create.`,
	RunE: run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file (defaults and WIDGET_ env vars always apply)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := logger.Initialize(cfg.JSONLogs); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	log := logger.Named("main")

	var watcher *config.Watcher
	if configPath != "" {
		watcher, err = config.NewWatcher(configPath)
		if err != nil {
			log.Warnw("config watch disabled", "error", err)
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("building daemon: %w", err)
	}
	if watcher != nil {
		watcher.OnReload(d.Reload)
	}

	ln, err := net.Listen("unix", cfg.MasterSocketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.MasterSocketPath, err)
	}
	defer ln.Close()
	defer os.Remove(cfg.MasterSocketPath)

	log.Infow("widget-provider listening", "socket", cfg.MasterSocketPath, "slave_name", cfg.SlaveName)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- d.Serve(ln) }()

	select {
	case err := <-acceptErr:
		if err != nil {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case sig := <-sigCh:
		log.Infow("shutting down", "signal", sig.String())
		return d.Close()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
