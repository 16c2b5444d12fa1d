package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/muurk/emunwa/internal/nwa"
)

// CurrentVersion is the config file format version.
const CurrentVersion = 1

// Defaults for the emulator endpoint and handshake.
const (
	DefaultEmulatorHost     = "127.0.0.1"
	DefaultPlatform         = "SNES"
	DefaultConnectTimeout   = 200 * time.Millisecond
	DefaultDiscoveryTimeout = 5 * time.Second
	DefaultReplyTimeout     = 100 * time.Millisecond

	DefaultServerHost = "127.0.0.1"
	DefaultServerPort = 23074
)

// File represents the entire configuration file.
type File struct {
	Version  int       `yaml:"version"`
	LogLevel string    `yaml:"log_level,omitempty"`
	Emulator *Emulator `yaml:"emulator,omitempty"`
	Server   *Server   `yaml:"server,omitempty"`
}

// Emulator describes the NWA endpoint probed by discovery.
type Emulator struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	Platform         string        `yaml:"platform"`          // Required game platform (e.g., "SNES")
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`   // Abort if not connected by then
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"` // Upper bound for a whole discovery attempt
	ReplyTimeout     time.Duration `yaml:"reply_timeout"`     // Bounded wait per attach reply
}

// Server configures the WebSocket dispatcher.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Announce bool   `yaml:"announce"` // Advertise the endpoint over mDNS
}

// Default returns a configuration with every field set to its default.
func Default() *File {
	return &File{
		Version: CurrentVersion,
		Emulator: &Emulator{
			Host:             DefaultEmulatorHost,
			Port:             nwa.DefaultPort,
			Platform:         DefaultPlatform,
			ConnectTimeout:   DefaultConnectTimeout,
			DiscoveryTimeout: DefaultDiscoveryTimeout,
			ReplyTimeout:     DefaultReplyTimeout,
		},
		Server: &Server{
			Host: DefaultServerHost,
			Port: DefaultServerPort,
		},
	}
}

// Address returns host:port of the emulator endpoint.
func (e *Emulator) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Address returns host:port the server listens on.
func (s *Server) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// applyDefaults fills zero-valued fields from Default().
func (f *File) applyDefaults() {
	def := Default()
	if f.Version == 0 {
		f.Version = CurrentVersion
	}
	if f.Emulator == nil {
		f.Emulator = def.Emulator
	} else {
		e := f.Emulator
		if e.Host == "" {
			e.Host = def.Emulator.Host
		}
		if e.Port == 0 {
			e.Port = def.Emulator.Port
		}
		if e.Platform == "" {
			e.Platform = def.Emulator.Platform
		}
		if e.ConnectTimeout == 0 {
			e.ConnectTimeout = def.Emulator.ConnectTimeout
		}
		if e.DiscoveryTimeout == 0 {
			e.DiscoveryTimeout = def.Emulator.DiscoveryTimeout
		}
		if e.ReplyTimeout == 0 {
			e.ReplyTimeout = def.Emulator.ReplyTimeout
		}
	}
	if f.Server == nil {
		f.Server = def.Server
	} else {
		if f.Server.Host == "" {
			f.Server.Host = def.Server.Host
		}
		if f.Server.Port == 0 {
			f.Server.Port = def.Server.Port
		}
	}
}

// Validate checks the configuration for values the backend cannot use.
func (f *File) Validate() error {
	if f.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version: %d (expected %d)", f.Version, CurrentVersion)
	}
	if f.Emulator == nil || f.Server == nil {
		return fmt.Errorf("emulator and server sections are required")
	}
	if f.Emulator.Port < 1 || f.Emulator.Port > 65535 {
		return fmt.Errorf("emulator port out of range: %d", f.Emulator.Port)
	}
	if f.Server.Port < 1 || f.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", f.Server.Port)
	}
	if f.Emulator.ConnectTimeout < 0 || f.Emulator.DiscoveryTimeout < 0 || f.Emulator.ReplyTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if f.Emulator.ConnectTimeout > f.Emulator.DiscoveryTimeout {
		return fmt.Errorf("connect_timeout (%s) exceeds discovery_timeout (%s)",
			f.Emulator.ConnectTimeout, f.Emulator.DiscoveryTimeout)
	}
	return nil
}
