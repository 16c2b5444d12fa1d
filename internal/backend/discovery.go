package backend

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/muurk/emunwa/internal/logging"
	"github.com/muurk/emunwa/internal/nwa"
)

// attempt is one fresh discovery pass.
type attempt struct {
	gen    uint64
	client Client
	name   string

	// next consumes exactly one reply; cleared before it runs.
	next func(a *attempt, rep nwa.Reply)

	stopTimers []func() bool
}

// RequestDiscovery starts discovery, or replays the registry when it is not
// empty. Results are delivered to subscribers: zero or more DeviceFound
// followed by one DiscoveryDone. A request made while an attempt is in
// progress joins that attempt. It returns false only after Close.
func (b *Backend) RequestDiscovery() bool {
	return b.loop.post(b.discover)
}

func (b *Backend) discover() {
	if b.registry.Len() > 0 {
		names := b.registry.Names()
		logging.LogDiscovery("replay", zap.Strings("devices", names))
		b.loop.later(func() {
			for _, name := range names {
				b.emitDeviceFound(name)
			}
			b.emitDone()
		})
		return
	}

	if b.state == stateInProgress {
		logging.LogDiscovery("joined", zap.Uint64("attempt", b.generation))
		return
	}

	b.start()
}

func (b *Backend) start() {
	b.generation++
	a := &attempt{gen: b.generation, client: b.newClient()}
	b.state = stateInProgress
	b.current = a

	a.client.SetHandlers(nwa.Handlers{
		Connected: func() {
			b.loop.post(func() { b.onConnected(a) })
		},
		ConnectError: func(err error) {
			b.loop.post(func() { b.onConnectError(a, err) })
		},
		ReadyRead: func() {
			b.loop.post(func() { b.onReadyRead(a) })
		},
		Disconnected: func(err error) {
			b.loop.post(func() { b.onDisconnected(a, err) })
		},
	})

	a.stopTimers = append(a.stopTimers,
		b.afterFunc(b.cfg.ConnectTimeout, func() {
			b.loop.post(func() { b.onConnectTimeout(a) })
		}),
		b.afterFunc(b.cfg.DiscoveryTimeout, func() {
			b.loop.post(func() { b.onDiscoveryTimeout(a) })
		}),
	)

	logging.LogDiscovery("started",
		zap.Uint64("attempt", a.gen),
		zap.String("host", b.cfg.Host),
		zap.Int("port", b.cfg.Port),
	)
	a.client.ConnectToHost(b.cfg.Host, b.cfg.Port)
}

// active reports whether a is the attempt currently in progress.
func (b *Backend) active(a *attempt) bool {
	return b.state == stateInProgress && b.current == a && b.generation == a.gen
}

// settle ends the current attempt and emits DiscoveryDone.
func (b *Backend) settle(a *attempt, outcome string) {
	for _, stop := range a.stopTimers {
		stop()
	}
	a.next = nil
	b.state = stateIdle
	b.current = nil

	logging.LogDiscovery("settled",
		zap.Uint64("attempt", a.gen),
		zap.String("outcome", outcome),
	)
	b.emitDone()
}

// fail discards the candidate connection, then settles.
func (b *Backend) fail(a *attempt, reason string) {
	if err := a.client.Close(); err != nil {
		logging.Debug("Failed to close discovery client", zap.Error(err))
	}
	b.settle(a, reason)
}

func (b *Backend) onConnected(a *attempt) {
	if !b.active(a) {
		return
	}
	logging.LogDiscovery("connected", zap.Uint64("attempt", a.gen))

	a.next = b.onEmulatorInfo
	if err := a.client.EmuInfo(); err != nil {
		b.fail(a, "send emulator info: "+err.Error())
	}
}

func (b *Backend) onReadyRead(a *attempt) {
	if !b.active(a) || a.next == nil {
		return
	}
	next := a.next
	a.next = nil
	next(a, a.client.ReadReply())
}

func (b *Backend) onEmulatorInfo(a *attempt, rep nwa.Reply) {
	if !rep.Valid || !rep.IsText || rep.IsError() {
		b.fail(a, "invalid emulator info reply")
		return
	}
	a.name = deviceName(rep)

	a.next = b.onCoresList
	if err := a.client.CoresList(b.cfg.Platform); err != nil {
		b.fail(a, "send cores list: "+err.Error())
	}
}

func (b *Backend) onCoresList(a *attempt, rep nwa.Reply) {
	if !rep.Valid || !rep.IsText {
		logging.Warn("Emulator rejected during discovery",
			zap.String("device", a.name),
			zap.String("reason", "malformed cores list"),
		)
		b.fail(a, "invalid cores list reply")
		return
	}

	if err := b.registry.Add(&Entry{Name: a.name, client: a.client}); err != nil {
		b.fail(a, err.Error())
		return
	}

	logging.Info("Emulator discovered", zap.String("device", a.name))
	b.emitDeviceFound(a.name)
	b.settle(a, "registered")
}

func (b *Backend) onConnectError(a *attempt, err error) {
	if !b.active(a) {
		return
	}
	b.fail(a, "connect error: "+err.Error())
}

func (b *Backend) onConnectTimeout(a *attempt) {
	if !b.active(a) || a.client.IsConnected() {
		return
	}
	b.fail(a, "connection timeout")
}

func (b *Backend) onDiscoveryTimeout(a *attempt) {
	if !b.active(a) {
		return
	}
	b.fail(a, "discovery timeout")
}

// onDisconnected handles connection loss for both a candidate still in its
// handshake and a registered emulator.
func (b *Backend) onDisconnected(a *attempt, err error) {
	if b.active(a) {
		b.fail(a, "connection lost during handshake")
		return
	}
	b.onClientDisconnected(a.client, err)
}

// deviceName builds "<name> - <id>", falling back to the version.
func deviceName(rep nwa.Reply) string {
	if rep.Has("id") {
		return fmt.Sprintf("%s - %s", rep.Get("name"), rep.Get("id"))
	}
	return fmt.Sprintf("%s - %s", rep.Get("name"), rep.Get("version"))
}
