package nwa

import (
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muurk/emunwa/internal/nwa/nwatest"
)

const waitFor = 2 * time.Second

// connect dials srv and waits for the Connected notification.
func connect(t *testing.T, srv *nwatest.Server, h Handlers) *Client {
	t.Helper()

	connected := make(chan struct{})
	userConnected := h.Connected
	h.Connected = func() {
		if userConnected != nil {
			userConnected()
		}
		close(connected)
	}

	c := NewClient()
	c.SetHandlers(h)
	c.ConnectToHost(srv.Host, srv.Port)

	select {
	case <-connected:
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for Connected")
	}
	if !c.IsConnected() {
		t.Fatal("IsConnected() = false after Connected")
	}
	return c
}

func TestClient_CommandReply(t *testing.T) {
	srv, err := nwatest.NewSNESEmulator("snes9x", "42")
	if err != nil {
		t.Fatalf("NewSNESEmulator() error = %v", err)
	}
	defer srv.Close()

	readyRead := make(chan struct{}, 4)
	c := connect(t, srv, Handlers{ReadyRead: func() { readyRead <- struct{}{} }})
	defer c.Close()

	if err := c.EmuInfo(); err != nil {
		t.Fatalf("EmuInfo() error = %v", err)
	}

	select {
	case <-readyRead:
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for ReadyRead")
	}

	rep := c.ReadReply()
	if !rep.Valid || !rep.IsText {
		t.Fatalf("ReadReply() = %+v, want valid text reply", rep)
	}
	if rep.Get("name") != "snes9x" || rep.Get("id") != "42" {
		t.Errorf("ReadReply() fields = %v", rep.Map())
	}

	if c.ReadReply().Valid {
		t.Error("ReadReply() on empty queue should be invalid")
	}
}

func TestClient_WaitForReadyRead(t *testing.T) {
	srv, err := nwatest.NewSNESEmulator("bsnes", "1")
	if err != nil {
		t.Fatalf("NewSNESEmulator() error = %v", err)
	}
	defer srv.Close()

	c := connect(t, srv, Handlers{})
	defer c.Close()

	if err := c.EmuStatus(); err != nil {
		t.Fatalf("EmuStatus() error = %v", err)
	}
	if !c.WaitForReadyRead(waitFor) {
		t.Fatal("WaitForReadyRead() = false, want reply")
	}
	if got := c.ReadReply().Get("state"); got != StateNoGame {
		t.Errorf("state = %q, want %q", got, StateNoGame)
	}

	// Unknown command: the fake emulator stays silent.
	if err := c.SendCommand("NOT_A_COMMAND"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	start := time.Now()
	if c.WaitForReadyRead(50 * time.Millisecond) {
		t.Error("WaitForReadyRead() = true, want timeout")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("WaitForReadyRead() returned after %v, want ~50ms", elapsed)
	}
}

func TestClient_DiscardDropsQueuedAndOwedReplies(t *testing.T) {
	srv, err := nwatest.NewSNESEmulator("bsnes", "1")
	if err != nil {
		t.Fatalf("NewSNESEmulator() error = %v", err)
	}
	defer srv.Close()
	srv.HandleFunc(CmdCoreCurrentInfo, func([]string) []byte {
		time.Sleep(100 * time.Millisecond)
		return nwatest.TextReply("platform", "SNES")
	})

	c := connect(t, srv, Handlers{})
	defer c.Close()

	// One reply already queued, one still owed.
	if err := c.EmuInfo(); err != nil {
		t.Fatalf("EmuInfo() error = %v", err)
	}
	if !c.WaitForReadyRead(waitFor) {
		t.Fatal("no reply to EMULATOR_INFO")
	}
	if err := c.CoreCurrentInfo(); err != nil {
		t.Fatalf("CoreCurrentInfo() error = %v", err)
	}

	if n := c.Discard(); n != 1 {
		t.Errorf("Discard() = %d, want 1", n)
	}
	if err := c.EmuStatus(); err != nil {
		t.Fatalf("EmuStatus() error = %v", err)
	}
	if !c.WaitForReadyRead(waitFor) {
		t.Fatal("no reply to EMULATION_STATUS")
	}

	rep := c.ReadReply()
	if got := rep.Get("state"); got != StateNoGame {
		t.Errorf("reply after Discard = %v, want the EMULATION_STATUS answer", rep.Map())
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestClient_QueueIsBounded(t *testing.T) {
	srv, err := nwatest.NewSNESEmulator("bsnes", "1")
	if err != nil {
		t.Fatalf("NewSNESEmulator() error = %v", err)
	}
	defer srv.Close()

	c := connect(t, srv, Handlers{})
	defer c.Close()

	for i := 0; i < MaxQueuedReplies+8; i++ {
		if err := c.EmuStatus(); err != nil {
			t.Fatalf("EmuStatus() error = %v", err)
		}
	}
	// The last command is answered last; wait until the server has seen
	// them all and the reader has caught up.
	deadline := time.Now().Add(waitFor)
	for len(srv.Commands()) < MaxQueuedReplies+8 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	if got := c.Pending(); got != MaxQueuedReplies {
		t.Errorf("Pending() = %d, want %d", got, MaxQueuedReplies)
	}
}

func TestClient_CoresListArgument(t *testing.T) {
	srv, err := nwatest.NewSNESEmulator("bsnes", "1")
	if err != nil {
		t.Fatalf("NewSNESEmulator() error = %v", err)
	}
	defer srv.Close()

	c := connect(t, srv, Handlers{})
	defer c.Close()

	if err := c.CoresList("SNES"); err != nil {
		t.Fatalf("CoresList() error = %v", err)
	}
	if !c.WaitForReadyRead(waitFor) {
		t.Fatal("no reply to CORES_LIST")
	}

	cmds := srv.Commands()
	if len(cmds) != 1 || cmds[0] != "CORES_LIST SNES" {
		t.Errorf("Commands() = %v, want [CORES_LIST SNES]", cmds)
	}
}

func TestClient_ConnectError(t *testing.T) {
	// Grab a free port and release it so nothing listens there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()

	failed := make(chan error, 1)
	c := NewClient()
	c.SetHandlers(Handlers{
		Connected:    func() { t.Error("Connected fired for a closed port") },
		ConnectError: func(err error) { failed <- err },
	})
	c.ConnectToHost("127.0.0.1", port)

	select {
	case <-failed:
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for ConnectError")
	}

	var connErr *ConnectionError
	if !errors.As(c.Err(), &connErr) {
		t.Errorf("Err() = %v, want *ConnectionError", c.Err())
	}
	if err := c.EmuInfo(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("EmuInfo() error = %v, want ErrNotConnected", err)
	}
}

func TestClient_RemoteDisconnect(t *testing.T) {
	srv, err := nwatest.NewSNESEmulator("bsnes", "1")
	if err != nil {
		t.Fatalf("NewSNESEmulator() error = %v", err)
	}
	defer srv.Close()

	lost := make(chan error, 1)
	c := connect(t, srv, Handlers{Disconnected: func(err error) { lost <- err }})
	defer c.Close()

	srv.DropConnections()

	select {
	case <-lost:
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for Disconnected")
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after remote disconnect")
	}
	if c.WaitForReadyRead(time.Second) {
		t.Error("WaitForReadyRead() = true on a lost connection")
	}
}

func TestClient_LocalCloseIsSilent(t *testing.T) {
	srv, err := nwatest.NewSNESEmulator("bsnes", "1")
	if err != nil {
		t.Fatalf("NewSNESEmulator() error = %v", err)
	}
	defer srv.Close()

	var fired atomic.Bool
	c := connect(t, srv, Handlers{Disconnected: func(error) { fired.Store(true) }})

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Error("Disconnected fired for a local Close")
	}
	if err := c.EmuInfo(); !errors.Is(err, ErrClosed) {
		t.Errorf("EmuInfo() after Close error = %v, want ErrClosed", err)
	}
}

func TestClient_CloseBeforeDial(t *testing.T) {
	srv, err := nwatest.NewSNESEmulator("bsnes", "1")
	if err != nil {
		t.Fatalf("NewSNESEmulator() error = %v", err)
	}
	defer srv.Close()

	var fired atomic.Bool
	c := NewClient()
	c.SetHandlers(Handlers{
		Connected:    func() { fired.Store(true) },
		ConnectError: func(error) { fired.Store(true) },
	})
	_ = c.Close()
	c.ConnectToHost(srv.Host, srv.Port)

	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Error("handlers fired for a closed client")
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true for a closed client")
	}
}
