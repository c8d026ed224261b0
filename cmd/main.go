// Package main is the liteproxy command: the legacy-client API gateway and its
// realtime bridge.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/liteproxy/liteproxy/internal/config"
)

var (
	configPath string
	portFlag   int
	debugFlag  bool
	noBridge   bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "liteproxy",
		Short: "liteproxy - API gateway for legacy chat clients",
		Long: `liteproxy sits between low-memory legacy clients and the upstream chat API.

It trims upstream JSON to the fields the client renders, resolves mention tokens
to readable names, escapes all output to ASCII and bridges the realtime
websocket gateway to line-delimited JSON over TCP.

Run without a subcommand to start serving.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (defaults plus environment when empty)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway and the TCP bridge",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	for _, c := range []*cobra.Command{root, serve} {
		c.Flags().IntVarP(&portFlag, "port", "p", 0, "HTTP port (overrides config)")
		c.Flags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
		c.Flags().BoolVar(&noBridge, "no-bridge", false, "disable the TCP bridge")
	}

	root.AddCommand(serve, newCheckConfigCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "liteproxy %s\n", config.Version)
		},
	}
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the configuration, then print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				printError(cmd.ErrOrStderr(), err.Error())
				return err
			}
			out := cmd.OutOrStdout()
			printSuccess(out, "configuration is valid")
			printInfo(out, fmt.Sprintf("http port:  %d", cfg.Server.Port))
			printInfo(out, fmt.Sprintf("upstream:   %s (timeout %s)", cfg.Upstream.BaseURL, cfg.Upstream.Timeout))
			printInfo(out, fmt.Sprintf("cache size: %d per cache", cfg.Cache.Size))
			if cfg.Bridge.Enabled {
				printInfo(out, fmt.Sprintf("bridge:     port %d, hosts %v", cfg.Bridge.Port, cfg.Bridge.AllowedHosts))
			} else {
				printInfo(out, "bridge:     disabled")
			}
			if cfg.Compat.LegacyMemberAvatar {
				printWarn(out, "compat.legacy_member_avatar is on: member nick and avatar share one field")
			}
			return nil
		},
	}
}

// loadConfig loads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if portFlag != 0 {
		cfg.Server.Port = portFlag
	}
	if debugFlag {
		cfg.Monitoring.LogLevel = "debug"
	}
	if noBridge {
		cfg.Bridge.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printSuccess(w io.Writer, msg string) {
	fmt.Fprintf(w, "\033[0;32m[OK]\033[0m %s\n", msg)
}

func printInfo(w io.Writer, msg string) {
	fmt.Fprintf(w, "\033[0;34m[INFO]\033[0m %s\n", msg)
}

func printWarn(w io.Writer, msg string) {
	fmt.Fprintf(w, "\033[1;33m[WARN]\033[0m %s\n", msg)
}

func printError(w io.Writer, msg string) {
	fmt.Fprintf(w, "\033[0;31m[ERROR]\033[0m %s\n", msg)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
