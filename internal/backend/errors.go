package backend

import "errors"

var (
	// ErrUnknownDevice is returned by Attach for a name not in the registry.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrNoReply is returned by Attach when the emulator does not answer
	// within the reply timeout, or answers with a malformed reply.
	ErrNoReply = errors.New("no valid reply from emulator")

	// ErrIncompatibleGame is returned by Attach when the emulator runs a
	// game for another platform.
	ErrIncompatibleGame = errors.New("incompatible game")

	// ErrDuplicateClient is returned when registering a connection twice.
	ErrDuplicateClient = errors.New("client already registered")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("backend closed")
)
