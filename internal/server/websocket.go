package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/emunwa/internal/backend"
	"github.com/muurk/emunwa/internal/logging"
	"github.com/muurk/emunwa/internal/version"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

// session is one WebSocket client.
type session struct {
	conn       *websocket.Conn
	remoteAddr string
	backend    Backend

	// Owned by the read goroutine
	clientName string
	attached   backend.Device

	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, b Backend) *session {
	return &session{
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		backend:    b,
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() { _ = s.conn.Close() })
}

// run reads requests until the peer goes away or a fatal reply is sent.
func (s *session) run(ctx context.Context) {
	logging.LogConnection(s.remoteAddr, "websocket_upgraded")
	defer func() {
		s.close()
		logging.LogConnection(s.remoteAddr, "websocket_closed")
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(stopPing)

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Info("Connection closed or error reading message",
					zap.String("remote_addr", s.remoteAddr),
					zap.Error(err),
				)
			}
			return
		}
		if msgType != websocket.TextMessage {
			logging.Warn("Ignoring non-text message",
				zap.String("remote_addr", s.remoteAddr),
				zap.Int("type", msgType),
			)
			continue
		}

		req, err := ParseRequest(data)
		if err != nil {
			if werr := s.reply(errorResponse("%v", err)); werr != nil {
				return
			}
			continue
		}

		logging.Debug("Request received",
			zap.String("remote_addr", s.remoteAddr),
			zap.String("client", s.clientName),
			zap.String("opcode", req.Opcode),
			zap.Strings("operands", req.Operands),
		)

		resp, keepOpen := s.dispatch(ctx, req)
		if resp != nil {
			if err := s.reply(*resp); err != nil {
				return
			}
		}
		if !keepOpen {
			return
		}
	}
}

// dispatch runs one request. A nil response sends nothing.
func (s *session) dispatch(ctx context.Context, req *Request) (resp *Response, keepOpen bool) {
	switch req.Opcode {
	case OpDeviceList:
		names, err := s.backend.Discover(ctx)
		if err != nil {
			r := errorResponse("device list failed: %v", err)
			return &r, true
		}
		r := results(names...)
		return &r, true

	case OpAttach:
		return s.attach(req.operand(0))

	case OpInfo:
		attached := ""
		if s.attached != nil {
			attached = s.attached.Name()
		}
		r := results(version.Version, s.backend.Name(), attached)
		return &r, true

	case OpAppVersion:
		r := results(version.Version)
		return &r, true

	case OpName:
		s.clientName = req.operand(0)
		logging.Info("Client named",
			zap.String("remote_addr", s.remoteAddr),
			zap.String("client", s.clientName),
		)
		return nil, true

	default:
		r := errorResponse("unsupported opcode %q", req.Opcode)
		return &r, true
	}
}

func (s *session) attach(name string) (*Response, bool) {
	dev, err := s.backend.Attach(name)
	if err == nil {
		s.attached = dev
		logging.Info("Session attached",
			zap.String("remote_addr", s.remoteAddr),
			zap.String("device", name),
		)
		r := results(name)
		return &r, true
	}

	msg := err.Error()
	// Incompatible game errors already carry the entry's last error.
	if errors.Is(err, backend.ErrNoReply) {
		if last, ok := s.backend.LastError(name); ok && last != "" {
			msg += " (last error: " + last + ")"
		}
	}
	logging.Warn("Attach failed",
		zap.String("remote_addr", s.remoteAddr),
		zap.String("device", name),
		zap.String("reason", msg),
	)
	r := errorResponse("could not attach to %q: %s", name, msg)
	return &r, false
}

func (s *session) reply(resp Response) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(resp); err != nil {
		logging.Info("Failed to write reply",
			zap.String("remote_addr", s.remoteAddr),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *session) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
