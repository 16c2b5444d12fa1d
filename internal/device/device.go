// Package device provides the handle returned to callers that attach to a
// discovered emulator.
package device

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of a Device.
type State int

const (
	// StateClosed means the device can no longer be used.
	StateClosed State = iota
	// StateReady means the device is idle and accepts a request.
	StateReady
	// StateBusy means a request is in flight.
	StateBusy
)

// String returns a human-readable name for the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateReady:
		return "READY"
	case StateBusy:
		return "BUSY"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

var (
	// ErrBusy is returned by Begin while another request is in flight.
	ErrBusy = errors.New("device busy")
	// ErrClosed is returned by Begin on a closed device.
	ErrClosed = errors.New("device closed")
)

// Device is an attachable emulator target.
type Device struct {
	mu    sync.Mutex
	name  string
	state State
}

// New creates a ready device bound to name.
func New(name string) *Device {
	return &Device{name: name, state: StateReady}
}

// Name returns the registry name the device is bound to.
func (d *Device) Name() string {
	return d.name
}

// State returns the current state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Begin marks the device busy for the duration of one request.
func (d *Device) Begin() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case StateClosed:
		return ErrClosed
	case StateBusy:
		return ErrBusy
	}
	d.state = StateBusy
	return nil
}

// End returns a busy device to ready. It has no effect on a closed device.
func (d *Device) End() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateBusy {
		d.state = StateReady
	}
}

// Close marks the device closed. Closing twice is harmless.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateClosed
	return nil
}

// String returns a human-readable string representation of the device
func (d *Device) String() string {
	return fmt.Sprintf("%s [%s]", d.name, d.State())
}
