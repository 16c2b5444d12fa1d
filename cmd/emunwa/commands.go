package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/emunwa/internal/backend"
	"github.com/muurk/emunwa/internal/config"
	"github.com/muurk/emunwa/internal/server"
	"github.com/muurk/emunwa/internal/ui"
)

func init() {
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(configCmd)
}

// troubleshooting is shown when no emulator answers.
var troubleshooting = []string{
	"Ensure the emulator is running with NWA enabled",
	"Check that nothing else is bound to the NWA port",
	"Use --host and --port if the emulator listens elsewhere",
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newBackend() *backend.Backend {
	return backend.New(backend.ConfigFrom(cfg.Emulator))
}

// discover runs discovery with the live view on a terminal and silently
// otherwise.
func discover(ctx context.Context, b *backend.Backend, p *ui.Printer) ([]string, error) {
	if p.Styled() {
		return ui.RunDiscovery(ctx, b, cfg.Emulator.Address(), os.Stdin, p.Writer())
	}
	return b.Discover(ctx)
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover emulators on the NWA endpoint",
	Long: `Probe the configured NWA endpoint and list the emulators found.

Each emulator is named "<name> - <id>", falling back to its version when
it does not report an id. Plain output lists one name per line.`,
	Example: `  # Probe the default endpoint
  emunwa discover

  # Probe an emulator on another port
  emunwa discover --port 65401`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	b := newBackend()
	defer b.Close()

	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader(ui.NewHeader("Emulator discovery",
		ui.Param{Key: "Endpoint", Value: cfg.Emulator.Address()},
		ui.Param{Key: "Platform", Value: cfg.Emulator.Platform},
	))

	names, err := discover(ctx, b, p)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	if len(names) == 0 {
		if p.Styled() {
			p.PrintResult(ui.NewWarningResult("No emulator found", troubleshooting...))
		}
		return nil
	}
	p.PrintDevices(names)
	return nil
}

var attachCmd = &cobra.Command{
	Use:   "attach NAME",
	Short: "Check that a discovered emulator can be attached",
	Long: `Discover emulators, then attach to the one called NAME.

Attach succeeds when the emulator has no game loaded or runs a game for
the configured platform. Otherwise the rejection reason is reported.`,
	Example: `  emunwa attach "snes9x - 1234"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runAttach,
}

func runAttach(cmd *cobra.Command, args []string) error {
	name := args[0]
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	b := newBackend()
	defer b.Close()

	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader(ui.NewHeader("Emulator attach",
		ui.Param{Key: "Endpoint", Value: cfg.Emulator.Address()},
		ui.Param{Key: "Device", Value: name},
	))

	if _, err := discover(ctx, b, p); err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	dev, err := b.Attach(name)
	if err != nil {
		var hints []string
		switch {
		case errors.Is(err, backend.ErrUnknownDevice):
			hints = append([]string{"Run 'emunwa discover' to list available names"}, troubleshooting...)
		case errors.Is(err, backend.ErrIncompatibleGame):
			hints = []string{"Load a " + cfg.Emulator.Platform + " game or unload the current one"}
		}
		p.PrintResult(ui.NewFailureResult("Attach failed", err, hints...))
		return err
	}

	p.PrintResult(ui.NewSuccessResult("Attached",
		ui.Param{Key: "Device", Value: dev.Name()},
		ui.Param{Key: "State", Value: dev.State().String()},
		ui.Param{Key: "Backend", Value: b.Name()},
	))
	return nil
}

// Serve flags
var (
	listenHost string
	listenPort int
	announce   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve discovered emulators over WebSocket",
	Long: `Start a usb2snes-style WebSocket endpoint backed by NWA discovery.

Clients send JSON requests such as {"Opcode":"DeviceList"} and
{"Opcode":"Attach","Operands":["snes9x - 1234"]}. With --announce the
endpoint is advertised over mDNS as _usb2snes._tcp.`,
	Example: `  # Serve on the configured address
  emunwa serve

  # Serve on all interfaces and announce over mDNS
  emunwa serve --listen-host 0.0.0.0 --announce --log-level info`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenHost, "listen-host", "", "WebSocket listen host (overrides config)")
	serveCmd.Flags().IntVar(&listenPort, "listen-port", 0, "WebSocket listen port (overrides config)")
	serveCmd.Flags().BoolVar(&announce, "announce", false, "Advertise the endpoint over mDNS")
}

func runServe(cmd *cobra.Command, args []string) error {
	srvCfg := server.ConfigFrom(cfg.Server)
	if cmd.Flags().Changed("listen-host") {
		srvCfg.Host = listenHost
	}
	if cmd.Flags().Changed("listen-port") {
		srvCfg.Port = listenPort
	}
	if cmd.Flags().Changed("announce") {
		srvCfg.Announce = announce
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	b := newBackend()
	defer b.Close()

	addr := (&config.Server{Host: srvCfg.Host, Port: srvCfg.Port}).Address()
	fmt.Fprintf(cmd.ErrOrStderr(), "Serving %s devices on ws://%s (emulator %s)\n",
		b.Name(), addr, cfg.Emulator.Address())
	return server.New(srvCfg, b).Start(ctx)
}

var browseTimeout time.Duration

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List endpoints announced over mDNS",
	Long: `Listen for endpoints started with 'emunwa serve --announce' on the
local network and print their WebSocket URLs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		p := ui.NewPrinter(cmd.OutOrStdout())
		endpoints, err := server.Browse(ctx, browseTimeout)
		if err != nil {
			return fmt.Errorf("browse failed: %w", err)
		}
		if len(endpoints) == 0 {
			if p.Styled() {
				p.PrintResult(ui.NewWarningResult("No endpoint announced",
					"Start one with 'emunwa serve --announce'",
					"Try increasing --timeout for slower networks"))
			}
			return nil
		}
		for _, ep := range endpoints {
			p.Println(ep.String())
		}
		return nil
	},
}

func init() {
	serversCmd.Flags().DurationVar(&browseTimeout, "timeout", server.DefaultBrowseTimeout, "How long to listen for announcements")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.GetConfigPath()
}
