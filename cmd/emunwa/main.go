// Emunwa discovers emulators speaking the Emulator Network Access protocol
// and attaches to them.
//
// It can run one-shot discovery and attach checks from the terminal, or
// serve discovered emulators to usb2snes-style clients over WebSocket.
//
// Usage:
//
//	emunwa [command] [flags]
//
// See 'emunwa --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/emunwa/internal/config"
	"github.com/muurk/emunwa/internal/logging"
	"github.com/muurk/emunwa/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath   string
	logLevel     string
	emulatorHost string
	emulatorPort int
)

// cfg is the effective configuration, loaded before every command.
var cfg *config.File

var rootCmd = &cobra.Command{
	Use:   "emunwa",
	Short: "Emulator Network Access discovery and attach tool",
	Long: `Find emulators that speak the Emulator Network Access (NWA) protocol
and attach to them.

Discovery probes a single local endpoint (127.0.0.1:65400 by default),
asks the emulator who it is and checks that it supports the SNES platform.
Attach verifies that the emulator is idle or running a compatible game.`,
	Version:           version.Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent when unset")
	rootCmd.PersistentFlags().StringVar(&emulatorHost, "host", "", "Emulator host (overrides config)")
	rootCmd.PersistentFlags().IntVar(&emulatorPort, "port", 0, "Emulator NWA port (overrides config)")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command, args []string) error {
	f, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("host") {
		f.Emulator.Host = emulatorHost
	}
	if cmd.Flags().Changed("port") {
		f.Emulator.Port = emulatorPort
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	level := logLevel
	if level == "" && os.Getenv(logging.LogLevelEnvVar) == "" {
		level = f.LogLevel
	}
	if err := logging.Initialize(level); err != nil {
		return err
	}

	cfg = f
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "emunwa "+version.Full())
	},
}
