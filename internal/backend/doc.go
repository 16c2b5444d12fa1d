// Package backend implements the Emulator Network Access device backend:
// discovery of NWA emulators on a well-known local port, validation that
// they run a compatible platform, and attachment of device handles.
//
// # Control Loop
//
// Every Backend owns one control goroutine. Timer expirations, protocol
// client notifications and public calls are posted to it as closures, so
// the registry and the discovery state are only ever touched from that
// goroutine and need no locking.
//
// # Discovery
//
// RequestDiscovery either replays the names already in the registry or
// starts a fresh attempt: connect, EMULATOR_INFO, CORES_LIST <platform>.
// The attempt races a connection deadline and an overall deadline against
// the handshake. Every completion path checks that its attempt is still the
// current one, so exactly one of them settles the attempt and emits
// DiscoveryDone; the others are no-ops.
//
//	b := backend.New(backend.DefaultConfig())
//	defer b.Close()
//
//	names, err := b.Discover(ctx)
//
// # Attach
//
// Attach runs a short blocking handshake (EMULATION_STATUS, then
// CORE_CURRENT_INFO when a game is loaded) on the control goroutine. Each
// reply wait is bounded by Config.ReplyTimeout.
package backend
