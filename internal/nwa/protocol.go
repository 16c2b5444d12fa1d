package nwa

import (
	"strings"
	"time"
)

const (
	// DefaultPort is the first port NWA emulators listen on.
	DefaultPort = 65400

	// DialTimeout bounds a single connection attempt.
	DialTimeout = 5 * time.Second

	// WriteTimeout bounds writing one command line.
	WriteTimeout = 1 * time.Second

	// MaxLineLength is the longest accepted key:value line in a text reply.
	MaxLineLength = 4096

	// MaxBinarySize is the largest accepted binary reply payload.
	MaxBinarySize = 16 << 20

	// MaxQueuedReplies bounds the replies a client keeps unread; the
	// oldest is dropped first.
	MaxQueuedReplies = 32

	// ArgumentSeparator separates command arguments.
	ArgumentSeparator = ";"
)

// Command names used by the discovery backend.
const (
	CmdEmulatorInfo    = "EMULATOR_INFO"
	CmdEmulationStatus = "EMULATION_STATUS"
	CmdCoresList       = "CORES_LIST"
	CmdCoreCurrentInfo = "CORE_CURRENT_INFO"
)

// Reply lead bytes.
const (
	textLead   byte = '\n'
	binaryLead byte = 0x00
)

// Emulation states reported by EMULATION_STATUS.
const (
	StateNoGame  = "no_game"
	StateRunning = "running"
	StatePaused  = "paused"
)

// FormatCommand returns the wire form of a command.
func FormatCommand(name string, args ...string) string {
	if len(args) == 0 {
		return name + "\n"
	}
	return name + " " + strings.Join(args, ArgumentSeparator) + "\n"
}
