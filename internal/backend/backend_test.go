package backend

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/emunwa/internal/config"
	"github.com/muurk/emunwa/internal/device"
	"github.com/muurk/emunwa/internal/nwa/nwatest"
)

func TestBackend_Identity(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	assert.Equal(t, "EmuNetworkAccess", b.Name())
	assert.True(t, b.HasAsyncListDevices())
	assert.Empty(t, b.ListDevices())
}

func TestConfigFrom(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, config.DefaultEmulatorHost, cfg.Host)
	assert.Equal(t, 65400, cfg.Port)
	assert.Equal(t, "SNES", cfg.Platform)
	assert.Equal(t, 200*time.Millisecond, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.DiscoveryTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.ReplyTimeout)
}

func TestBackend_DiscoverCollectsNames(t *testing.T) {
	h := newHarness(t)

	type result struct {
		names []string
		err   error
	}
	out := make(chan result, 1)
	go func() {
		names, err := h.b.Discover(context.Background())
		out <- result{names, err}
	}()

	require.Eventually(t, func() bool { return h.clientCount() == 1 }, time.Second, time.Millisecond)
	c := h.client(0)
	c.establish()
	h.sync()
	c.deliver(emuInfo("snes9x", "9"))
	h.sync()
	c.deliver(textReply("name", "bsnes"))

	select {
	case r := <-out:
		require.NoError(t, r.err)
		assert.Equal(t, []string{"snes9x - 9"}, r.names)
	case <-time.After(2 * time.Second):
		t.Fatal("Discover did not return")
	}
}

func TestBackend_DiscoverContextCanceled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.b.Discover(ctx)

	require.ErrorIs(t, err, context.Canceled)
}

func TestBackend_UnsubscribedListenerNotCalled(t *testing.T) {
	h := newHarness(t)
	other := &recorder{}
	cancel := h.b.Subscribe(other)
	cancel()

	h.discoverOK(emuInfo("snes9x", "1"))

	assert.Empty(t, other.snapshot())
	assert.Equal(t, 1, h.rec.count("done"))
}

func TestBackend_CloseReleasesRegistry(t *testing.T) {
	h := newHarness(t)
	c := h.discoverOK(emuInfo("snes9x", "1"))

	require.NoError(t, h.b.Close())

	assert.True(t, c.isClosed())
	assert.False(t, h.b.RequestDiscovery())
	assert.Nil(t, h.b.ListDevices())

	_, err := h.b.Attach("snes9x - 1")
	require.ErrorIs(t, err, ErrClosed)
	_, err = h.b.Discover(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestBackend_CloseSettlesAttempt(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.b.RequestDiscovery())
	h.sync()
	c := h.client(0)

	require.NoError(t, h.b.Close())

	assert.True(t, c.isClosed())
	assert.Equal(t, []string{"done"}, h.rec.snapshot())
}

// End-to-end tests against a fake emulator over TCP.

func liveConfig(port int) Config {
	cfg := DefaultConfig()
	cfg.Port = port
	cfg.ConnectTimeout = time.Second
	cfg.DiscoveryTimeout = 2 * time.Second
	cfg.ReplyTimeout = time.Second
	return cfg
}

func TestBackend_LiveDiscoverAndAttach(t *testing.T) {
	srv, err := nwatest.NewSNESEmulator("snes9x", "1234")
	require.NoError(t, err)
	defer srv.Close()

	b := New(liveConfig(srv.Port))
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	names, err := b.Discover(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"snes9x - 1234"}, names)
	assert.Equal(t, []string{"EMULATOR_INFO", "CORES_LIST SNES"}, srv.Commands())

	// Second request is served from the registry.
	names, err = b.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"snes9x - 1234"}, names)
	assert.Equal(t, 1, srv.Accepted())

	dev, err := b.Attach("snes9x - 1234")
	require.NoError(t, err)
	assert.Equal(t, device.StateReady, dev.State())
	assert.Contains(t, srv.Commands(), "EMULATION_STATUS")
}

func TestBackend_LiveIncompatibleGame(t *testing.T) {
	srv, err := nwatest.NewSNESEmulator("mesen", "7")
	require.NoError(t, err)
	defer srv.Close()
	srv.Handle("EMULATION_STATUS", nwatest.TextReply("state", "running", "game", "smb"))
	srv.Handle("CORE_CURRENT_INFO", nwatest.TextReply("name", "nes", "platform", "NES"))

	b := New(liveConfig(srv.Port))
	defer b.Close()

	names, err := b.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, names, 1)

	_, err = b.Attach(names[0])
	require.ErrorIs(t, err, ErrIncompatibleGame)
	msg, ok := b.LastError(names[0])
	require.True(t, ok)
	assert.Contains(t, msg, "NES")
}

func TestBackend_LiveLateReplyDoesNotPoisonAttach(t *testing.T) {
	srv, err := nwatest.NewSNESEmulator("snes9x", "1234")
	require.NoError(t, err)
	defer srv.Close()
	srv.Handle("EMULATION_STATUS", nwatest.TextReply("state", "running", "game", "zelda"))
	var calls atomic.Int32
	srv.HandleFunc("CORE_CURRENT_INFO", func([]string) []byte {
		if calls.Add(1) == 1 {
			time.Sleep(250 * time.Millisecond)
		}
		return nwatest.TextReply("name", "bsnes", "platform", "SNES")
	})

	cfg := liveConfig(srv.Port)
	cfg.ReplyTimeout = 100 * time.Millisecond
	b := New(cfg)
	defer b.Close()

	names, err := b.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, names, 1)

	_, err = b.Attach(names[0])
	require.ErrorIs(t, err, ErrNoReply)

	time.Sleep(400 * time.Millisecond)

	dev, err := b.Attach(names[0])
	require.NoError(t, err)
	assert.Equal(t, device.StateReady, dev.State())
	msg, ok := b.LastError(names[0])
	require.True(t, ok)
	assert.Empty(t, msg)
}

func TestBackend_LiveEmulatorGoesAway(t *testing.T) {
	srv, err := nwatest.NewSNESEmulator("snes9x", "1")
	require.NoError(t, err)
	defer srv.Close()

	b := New(liveConfig(srv.Port))
	defer b.Close()

	names, err := b.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, names, 1)

	srv.DropConnections()

	require.Eventually(t, func() bool { return len(b.ListDevices()) == 0 },
		2*time.Second, 10*time.Millisecond, "disconnected emulator must be purged")
}

func TestBackend_LiveNothingListening(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := liveConfig(port)
	cfg.ConnectTimeout = 200 * time.Millisecond
	b := New(cfg)
	defer b.Close()

	start := time.Now()
	names, err := b.Discover(context.Background())

	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Less(t, time.Since(start), cfg.DiscoveryTimeout)
}

func TestBackend_LiveSilentEmulator(t *testing.T) {
	srv, err := nwatest.NewServer()
	require.NoError(t, err)
	defer srv.Close()

	cfg := liveConfig(srv.Port)
	cfg.DiscoveryTimeout = 300 * time.Millisecond
	b := New(cfg)
	defer b.Close()

	names, err := b.Discover(context.Background())

	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Equal(t, []string{"EMULATOR_INFO"}, srv.Commands())
}
