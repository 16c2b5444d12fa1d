package backend

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/emunwa/internal/device"
	"github.com/muurk/emunwa/internal/logging"
	"github.com/muurk/emunwa/internal/nwa"
)

// Attach returns a ready device for the emulator registered as name.
//
// A busy device is returned as is. Otherwise the emulator is asked for its
// emulation state, and for the platform of the loaded core when a game is
// running. Each reply wait blocks the control goroutine for at most
// Config.ReplyTimeout. A game for another platform is rejected and the
// reason is kept as the entry's LastError.
func (b *Backend) Attach(name string) (Device, error) {
	var (
		dev Device
		err error
	)
	if !b.loop.call(func() { dev, err = b.attach(name) }) {
		return nil, ErrClosed
	}
	return dev, err
}

func (b *Backend) attach(name string) (Device, error) {
	e := b.registry.Lookup(name)
	if e == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}

	if e.device == nil {
		e.device = b.newDevice(name)
	}
	if e.device.State() == device.StateBusy {
		return e.device, nil
	}

	logging.Debug("Attach, checking emulator state", zap.String("device", name))

	status, err := b.exchange(e.client, e.client.EmuStatus)
	if err != nil {
		return nil, err
	}
	if status.Get("state") == nwa.StateNoGame {
		e.LastError = ""
		logging.Info("Attached to idle emulator", zap.String("device", name))
		return e.device, nil
	}

	core, err := b.exchange(e.client, e.client.CoreCurrentInfo)
	if err != nil {
		return nil, err
	}
	platform := core.Get("platform")
	if strings.EqualFold(platform, b.cfg.Platform) {
		e.LastError = ""
		logging.Info("Attached to emulator",
			zap.String("device", name),
			zap.String("platform", platform),
		)
		return e.device, nil
	}

	e.LastError = fmt.Sprintf("emulator is running an incompatible game (platform %q, want %s)", platform, b.cfg.Platform)
	logging.Warn("Attach rejected",
		zap.String("device", name),
		zap.String("reason", e.LastError),
	)
	return nil, fmt.Errorf("%w: %s", ErrIncompatibleGame, e.LastError)
}

// exchange sends one command and waits for its reply. Replies left over
// from earlier exchanges, queued or still in flight, are discarded first.
func (b *Backend) exchange(c Client, send func() error) (nwa.Reply, error) {
	if n := c.Discard(); n > 0 {
		logging.Debug("Discarded stale replies", zap.Int("count", n))
	}
	if err := send(); err != nil {
		return nwa.Reply{}, fmt.Errorf("%w: %v", ErrNoReply, err)
	}
	if !c.WaitForReadyRead(b.cfg.ReplyTimeout) {
		return nwa.Reply{}, fmt.Errorf("%w: timed out after %s", ErrNoReply, b.cfg.ReplyTimeout)
	}
	rep := c.ReadReply()
	if !rep.Valid {
		return nwa.Reply{}, fmt.Errorf("%w: malformed reply", ErrNoReply)
	}
	return rep, nil
}
