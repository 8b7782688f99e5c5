package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mcwire/internal/config"
	"mcwire/internal/logging"
	"mcwire/internal/transport"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "mcwire",
		Short: "Minecraft protocol transport: server, status probe and login client",
		Long: `mcwire speaks the Minecraft Java Edition wire protocol (1.17.1 and 1.18).

It can run a small server that takes connections through handshake,
status, login and into play, query any server's status, or log in to a
server and print what it sends.`,
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rf.load()
		},
	}
	rootCmd.PersistentFlags().StringVar(&rf.configPath, "config", "", "path to config file (default ~/.mcwire/config.toml)")
	rootCmd.PersistentFlags().StringVar(&rf.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&rf.logFormat, "log-format", "", "log format: text or json (overrides config)")

	rootCmd.AddCommand(
		serveCmd(rf),
		statusCmd(rf),
		loginCmd(rf),
		playersCmd(rf),
	)

	return rootCmd
}

// load reads the config file, applies the logging flags and configures the
// global logger.
func (rf *rootFlags) load() error {
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		return err
	}
	if rf.logLevel != "" {
		cfg.Logging.Level = rf.logLevel
	}
	if rf.logFormat != "" {
		cfg.Logging.Format = rf.logFormat
	}
	cfg.Server.DataDir = config.ExpandHome(cfg.Server.DataDir)
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	rf.cfg = cfg
	return nil
}

func (rf *rootFlags) transportOptions() transport.Options {
	return transport.Options{
		ReadTimeout:    rf.cfg.Transport.ReadTimeout.Duration,
		WriteTimeout:   rf.cfg.Transport.WriteTimeout.Duration,
		BufferCapacity: rf.cfg.Transport.BufferCapacity,
	}
}
