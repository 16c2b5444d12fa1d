package backend

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/muurk/emunwa/internal/device"
	"github.com/muurk/emunwa/internal/nwa"
)

// fakeClient is a scriptable Client. Discovery tests drive its
// notifications by hand; attach tests script replies per command.
type fakeClient struct {
	mu        sync.Mutex
	handlers  nwa.Handlers
	connected bool
	closed    bool
	dials     int
	sent      []string
	replies   []nwa.Reply
	script    map[string]nwa.Reply
}

func newFakeClient() *fakeClient {
	return &fakeClient{script: make(map[string]nwa.Reply)}
}

func (c *fakeClient) SetHandlers(h nwa.Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = h
}

func (c *fakeClient) ConnectToHost(string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dials++
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Err() error { return nil }

func (c *fakeClient) send(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nwa.ErrClosed
	}
	if !c.connected {
		return nwa.ErrNotConnected
	}
	c.sent = append(c.sent, cmd)
	name, _, _ := strings.Cut(cmd, " ")
	if rep, ok := c.script[name]; ok {
		c.replies = append(c.replies, rep)
	}
	return nil
}

func (c *fakeClient) EmuInfo() error { return c.send(nwa.CmdEmulatorInfo) }
func (c *fakeClient) CoresList(platform string) error {
	return c.send(nwa.CmdCoresList + " " + platform)
}
func (c *fakeClient) EmuStatus() error       { return c.send(nwa.CmdEmulationStatus) }
func (c *fakeClient) CoreCurrentInfo() error { return c.send(nwa.CmdCoreCurrentInfo) }

func (c *fakeClient) ReadReply() nwa.Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replies) == 0 {
		return nwa.Reply{}
	}
	rep := c.replies[0]
	c.replies = c.replies[1:]
	return rep
}

func (c *fakeClient) WaitForReadyRead(time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replies) > 0
}

func (c *fakeClient) Discard() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.replies)
	c.replies = nil
	return n
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	return nil
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeClient) handlerSet() nwa.Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers
}

// Notification triggers, as the real client would fire them.

func (c *fakeClient) establish() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	if h := c.handlerSet().Connected; h != nil {
		h()
	}
}

func (c *fakeClient) refuse(err error) {
	if h := c.handlerSet().ConnectError; h != nil {
		h(err)
	}
}

func (c *fakeClient) deliver(rep nwa.Reply) {
	c.mu.Lock()
	c.replies = append(c.replies, rep)
	c.mu.Unlock()
	if h := c.handlerSet().ReadyRead; h != nil {
		h()
	}
}

func (c *fakeClient) drop(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	if h := c.handlerSet().Disconnected; h != nil {
		h(err)
	}
}

// fakeTimers records scheduled timers and fires them on demand.
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (ft *fakeTimers) afterFunc(d time.Duration, f func()) func() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ft.timers = append(ft.timers, t)
	return func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		wasPending := !t.stopped && !t.fired
		t.stopped = true
		return wasPending
	}
}

// expire fires every unfired timer of duration d, stopped or not. Firing a
// stopped timer models an expiration that was already queued when the
// attempt settled.
func (ft *fakeTimers) expire(d time.Duration) {
	ft.mu.Lock()
	var due []*fakeTimer
	for _, t := range ft.timers {
		if t.d == d && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	ft.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (ft *fakeTimers) pending(d time.Duration) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := 0
	for _, t := range ft.timers {
		if t.d == d && !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// recorder is a Listener capturing notifications in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) DeviceFound(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "found:"+name)
}

func (r *recorder) DiscoveryDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "done")
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e == event {
			n++
		}
	}
	return n
}

type harness struct {
	t       *testing.T
	b       *Backend
	timers  *fakeTimers
	rec     *recorder
	mu      sync.Mutex
	clients []*fakeClient
	devices []*device.Device
	// script applied to every new client
	script map[string]nwa.Reply
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, timers: &fakeTimers{}, rec: &recorder{}, script: map[string]nwa.Reply{}}

	h.b = New(testConfig(),
		WithClientFactory(func() Client {
			c := newFakeClient()
			h.mu.Lock()
			for k, v := range h.script {
				c.script[k] = v
			}
			h.clients = append(h.clients, c)
			h.mu.Unlock()
			return c
		}),
		WithDeviceFactory(func(name string) Device {
			d := device.New(name)
			h.mu.Lock()
			h.devices = append(h.devices, d)
			h.mu.Unlock()
			return d
		}),
		withAfterFunc(h.timers.afterFunc),
	)
	h.b.Subscribe(h.rec)
	t.Cleanup(func() { _ = h.b.Close() })
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Port = 65400
	return cfg
}

// sync waits until every task posted so far has run.
func (h *harness) sync() {
	h.t.Helper()
	require.True(h.t, h.b.loop.call(func() {}), "control loop stopped")
}

func (h *harness) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *harness) client(i int) *fakeClient {
	h.t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Greater(h.t, len(h.clients), i, "client %d was never created", i)
	return h.clients[i]
}

// state reads the discovery state on the control goroutine.
func (h *harness) state() discoveryState {
	var s discoveryState
	h.b.loop.call(func() { s = h.b.state })
	return s
}

// discoverOK runs a full successful handshake on a fresh attempt and
// returns its client.
func (h *harness) discoverOK(info nwa.Reply) *fakeClient {
	h.t.Helper()
	n := h.clientCount()
	require.True(h.t, h.b.RequestDiscovery())
	h.sync()
	c := h.client(n)
	c.establish()
	h.sync()
	c.deliver(info)
	h.sync()
	c.deliver(textReply("name", "bsnes", "platform", "SNES"))
	h.sync()
	return c
}

func textReply(kv ...string) nwa.Reply {
	rep := nwa.Reply{Valid: true, IsText: true}
	for i := 0; i+1 < len(kv); i += 2 {
		rep.Fields = append(rep.Fields, nwa.Field{Key: kv[i], Value: kv[i+1]})
	}
	return rep
}

func emuInfo(name, id string) nwa.Reply {
	return textReply("name", name, "version", "1.0", "id", id)
}
