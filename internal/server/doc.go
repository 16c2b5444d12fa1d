// Package server exposes the emulator backend over a usb2snes-style
// WebSocket endpoint.
//
// Clients send JSON requests of the form:
//
//	{"Opcode": "DeviceList", "Space": "SNES", "Operands": []}
//
// and receive JSON replies:
//
//	{"Results": ["snes9x - 1234"]}
//
// # Opcodes
//
//   - DeviceList: runs discovery and replies with the discovered names
//   - Attach [name]: attaches the session to a device
//   - Info: replies with [version, backend, attached device]
//   - AppVersion: replies with [version]
//   - Name [name]: records the client name, no reply
//
// A failed Attach sends an error reply and closes the session. Unknown
// opcodes get an error reply and the session stays open.
//
// # Announcement
//
// With Config.Announce set, Start advertises the endpoint over mDNS as
// _usb2snes._tcp so that clients on the local network can find it.
//
// # Thread Safety
//
// Each WebSocket session runs in its own goroutine. All backend state is
// owned by the backend's control goroutine.
package server
