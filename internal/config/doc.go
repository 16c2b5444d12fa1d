// Package config provides configuration management for emunwa.
//
// The configuration is a YAML file holding the emulator endpoint the
// discovery backend probes, its handshake timeouts, and the WebSocket
// dispatcher settings. The file follows OS-specific conventions for its
// location:
//   - Linux: $XDG_CONFIG_HOME/emunwa/config.yaml or $HOME/.config/emunwa/config.yaml
//   - macOS: $HOME/.config/emunwa/config.yaml
//   - Windows: %LOCALAPPDATA%\emunwa\config.yaml
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Emulator.Address())
//
// A missing file is not an error: Load returns Default(). Fields left out of
// the file are filled from Default() as well, so a file only needs the
// values that differ.
//
// Durations use Go syntax ("200ms", "5s").
package config
