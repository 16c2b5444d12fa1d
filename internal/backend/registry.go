package backend

import (
	"go.uber.org/zap"

	"github.com/muurk/emunwa/internal/logging"
)

// Entry is one discovered emulator.
type Entry struct {
	// Name is "<emulator name> - <id or version>".
	Name string

	// LastError is the rejection reason of the most recent failed attach.
	LastError string

	client Client // owned
	device Device // owned, nil until the first attach
}

// release closes the device, then the client.
func (e *Entry) release() {
	if e.device != nil {
		if err := e.device.Close(); err != nil {
			logging.Warn("Failed to close device", zap.String("device", e.Name), zap.Error(err))
		}
		e.device = nil
	}
	if e.client != nil {
		if err := e.client.Close(); err != nil {
			logging.Debug("Failed to close client", zap.String("device", e.Name), zap.Error(err))
		}
		e.client = nil
	}
}

// Registry is the insertion-ordered set of discovered emulators.
// It is not safe for concurrent use; the backend only touches it from its
// control goroutine.
type Registry struct {
	entries []*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Lookup returns the first entry called name, or nil.
func (r *Registry) Lookup(name string) *Entry {
	for _, e := range r.entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// Add appends e. A client may only be registered once.
func (r *Registry) Add(e *Entry) error {
	for _, existing := range r.entries {
		if existing.client == e.client {
			return ErrDuplicateClient
		}
	}
	if r.Lookup(e.Name) != nil {
		// Names are not deduplicated; Lookup keeps returning the older entry.
		logging.Warn("Duplicate emulator name registered", zap.String("device", e.Name))
	}
	r.entries = append(r.entries, e)
	return nil
}

// RemoveClient removes and releases the entry owning c.
func (r *Registry) RemoveClient(c Client) *Entry {
	for i, e := range r.entries {
		if e.client == c {
			return r.removeAt(i)
		}
	}
	return nil
}

// RemoveDevice removes and releases the entry owning d.
func (r *Registry) RemoveDevice(d Device) *Entry {
	if d == nil {
		return nil
	}
	for i, e := range r.entries {
		if e.device == d {
			return r.removeAt(i)
		}
	}
	return nil
}

func (r *Registry) removeAt(i int) *Entry {
	e := r.entries[i]
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	e.release()
	return e
}

// Names returns the entry names in insertion order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.Name)
	}
	return names
}

// Clear releases and removes every entry.
func (r *Registry) Clear() {
	for _, e := range r.entries {
		e.release()
	}
	r.entries = nil
}
