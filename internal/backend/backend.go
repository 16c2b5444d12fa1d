package backend

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/emunwa/internal/config"
	"github.com/muurk/emunwa/internal/device"
	"github.com/muurk/emunwa/internal/logging"
	"github.com/muurk/emunwa/internal/nwa"
)

// Identifier is the backend label reported to the dispatcher.
const Identifier = "EmuNetworkAccess"

// Client is the protocol connection the backend drives. *nwa.Client
// implements it.
type Client interface {
	SetHandlers(h nwa.Handlers)
	ConnectToHost(host string, port int)
	IsConnected() bool
	Err() error
	EmuInfo() error
	CoresList(platform string) error
	EmuStatus() error
	CoreCurrentInfo() error
	ReadReply() nwa.Reply
	WaitForReadyRead(timeout time.Duration) bool
	Discard() int
	Close() error
}

// Device is the handle returned by Attach. *device.Device implements it.
type Device interface {
	Name() string
	State() device.State
	Close() error
}

// Listener receives discovery notifications on the control goroutine.
// Implementations must not block and must not call Close.
type Listener interface {
	DeviceFound(name string)
	DiscoveryDone()
}

// ListenerFuncs adapts plain functions to Listener.
type ListenerFuncs struct {
	OnDevice func(name string)
	OnDone   func()
}

// DeviceFound implements Listener.
func (l ListenerFuncs) DeviceFound(name string) {
	if l.OnDevice != nil {
		l.OnDevice(name)
	}
}

// DiscoveryDone implements Listener.
func (l ListenerFuncs) DiscoveryDone() {
	if l.OnDone != nil {
		l.OnDone()
	}
}

// Config holds the backend settings.
type Config struct {
	Host             string
	Port             int
	Platform         string
	ConnectTimeout   time.Duration
	DiscoveryTimeout time.Duration
	ReplyTimeout     time.Duration
}

// DefaultConfig returns the standard endpoint and timeouts.
func DefaultConfig() Config {
	return ConfigFrom(config.Default().Emulator)
}

// ConfigFrom converts the emulator section of the config file.
func ConfigFrom(e *config.Emulator) Config {
	return Config{
		Host:             e.Host,
		Port:             e.Port,
		Platform:         e.Platform,
		ConnectTimeout:   e.ConnectTimeout,
		DiscoveryTimeout: e.DiscoveryTimeout,
		ReplyTimeout:     e.ReplyTimeout,
	}
}

// Option customizes a Backend.
type Option func(*Backend)

// WithClientFactory replaces the protocol client constructor.
func WithClientFactory(f func() Client) Option {
	return func(b *Backend) { b.newClient = f }
}

// WithDeviceFactory replaces the device constructor used on first attach.
func WithDeviceFactory(f func(name string) Device) Option {
	return func(b *Backend) { b.newDevice = f }
}

// withAfterFunc replaces the timer scheduler.
func withAfterFunc(f func(time.Duration, func()) func() bool) Option {
	return func(b *Backend) { b.afterFunc = f }
}

type discoveryState int

const (
	stateIdle discoveryState = iota
	stateInProgress
)

func (s discoveryState) String() string {
	if s == stateInProgress {
		return "in_progress"
	}
	return "idle"
}

// Backend discovers and attaches NWA emulators.
type Backend struct {
	cfg  Config
	loop *loop

	// Control goroutine only
	registry   *Registry
	state      discoveryState
	generation uint64
	current    *attempt

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int

	newClient func() Client
	newDevice func(name string) Device
	afterFunc func(time.Duration, func()) func() bool
}

// New creates a backend and starts its control goroutine.
func New(cfg Config, opts ...Option) *Backend {
	b := &Backend{
		cfg:       cfg,
		registry:  NewRegistry(),
		listeners: make(map[int]Listener),
		newClient: func() Client { return nwa.NewClient() },
		newDevice: func(name string) Device { return device.New(name) },
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.loop = newLoop()
	return b
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return Identifier
}

// HasAsyncListDevices reports that discovery results arrive asynchronously.
func (b *Backend) HasAsyncListDevices() bool {
	return true
}

// Subscribe registers l for discovery notifications. The returned function
// unregisters it.
func (b *Backend) Subscribe(l Listener) (cancel func()) {
	b.listenersMu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.listenersMu.Unlock()

	return func() {
		b.listenersMu.Lock()
		delete(b.listeners, id)
		b.listenersMu.Unlock()
	}
}

func (b *Backend) snapshotListeners() []Listener {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	out := make([]Listener, 0, len(b.listeners))
	for id := 0; id < b.nextID; id++ {
		if l, ok := b.listeners[id]; ok {
			out = append(out, l)
		}
	}
	return out
}

func (b *Backend) emitDeviceFound(name string) {
	for _, l := range b.snapshotListeners() {
		l.DeviceFound(name)
	}
}

func (b *Backend) emitDone() {
	for _, l := range b.snapshotListeners() {
		l.DiscoveryDone()
	}
}

// Discover requests discovery and collects the announced names until the
// attempt settles or ctx is done.
func (b *Backend) Discover(ctx context.Context) ([]string, error) {
	var (
		mu    sync.Mutex
		names []string
		once  sync.Once
		done  = make(chan struct{})
	)

	cancel := b.Subscribe(ListenerFuncs{
		OnDevice: func(name string) {
			mu.Lock()
			names = append(names, name)
			mu.Unlock()
		},
		OnDone: func() { once.Do(func() { close(done) }) },
	})
	defer cancel()

	if !b.RequestDiscovery() {
		return nil, ErrClosed
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]string(nil), names...), nil
}

// ListDevices returns the registered names. It never starts discovery.
func (b *Backend) ListDevices() []string {
	var names []string
	b.loop.call(func() { names = b.registry.Names() })
	return names
}

// LastError returns the last attach rejection recorded for name.
func (b *Backend) LastError(name string) (string, bool) {
	var (
		msg   string
		found bool
	)
	b.loop.call(func() {
		if e := b.registry.Lookup(name); e != nil {
			msg, found = e.LastError, true
		}
	})
	return msg, found
}

// DeleteDevice removes the entry owning d, closing the device and its
// connection. It reports whether d was known.
func (b *Backend) DeleteDevice(d Device) bool {
	var removed *Entry
	b.loop.call(func() { removed = b.registry.RemoveDevice(d) })
	if removed == nil {
		return false
	}
	logging.Info("Device removed", zap.String("device", removed.Name))
	return true
}

// onClientDisconnected purges the entry owning c after an unsolicited
// connection loss.
func (b *Backend) onClientDisconnected(c Client, err error) {
	e := b.registry.RemoveClient(c)
	if e == nil {
		return
	}
	logging.Info("Emulator disconnected, entry removed",
		zap.String("device", e.Name),
		zap.Error(err),
	)
}

// Close releases every connection and device and stops the control
// goroutine. Pending Discover calls return.
func (b *Backend) Close() error {
	b.loop.call(func() {
		if a := b.current; a != nil {
			b.fail(a, "backend closed")
		}
		b.registry.Clear()
	})
	b.loop.stop()
	return nil
}
