// Package nwatest provides a scriptable fake NWA emulator for tests.
package nwatest

import (
	"bufio"
	"encoding/binary"
	"net"
	"strings"
	"sync"
)

// ReplyFunc builds the raw reply for a command. Returning nil sends nothing.
type ReplyFunc func(args []string) []byte

// Server is a fake emulator listening on a loopback port.
type Server struct {
	Listener net.Listener
	Host     string
	Port     int

	mu       sync.Mutex
	handlers map[string]ReplyFunc
	commands []string
	conns    map[net.Conn]struct{}
	accepted int
	wg       sync.WaitGroup
}

// NewServer starts a fake emulator on 127.0.0.1 with a random port.
func NewServer() (*Server, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	addr := l.Addr().(*net.TCPAddr)

	s := &Server{
		Listener: l,
		Host:     "127.0.0.1",
		Port:     addr.Port,
		handlers: make(map[string]ReplyFunc),
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// NewSNESEmulator starts a fake emulator that answers the discovery and
// attach handshakes like an idle SNES emulator.
func NewSNESEmulator(name, id string) (*Server, error) {
	s, err := NewServer()
	if err != nil {
		return nil, err
	}
	s.Handle("EMULATOR_INFO", TextReply("name", name, "version", "1.0", "id", id, "nwa_version", "1.0"))
	s.Handle("CORES_LIST", TextReply("name", "bsnes", "platform", "SNES"))
	s.Handle("EMULATION_STATUS", TextReply("state", "no_game", "game", ""))
	s.Handle("CORE_CURRENT_INFO", TextReply("name", "bsnes", "platform", "SNES"))
	return s, nil
}

// Handle answers cmd with a fixed raw reply.
func (s *Server) Handle(cmd string, reply []byte) {
	s.HandleFunc(cmd, func([]string) []byte { return reply })
}

// HandleFunc answers cmd with the result of f.
func (s *Server) HandleFunc(cmd string, f ReplyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[cmd] = f
}

// Commands returns every command line received so far, without newline.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// DropConnections closes every open connection from the server side.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// Close stops the server and drops all connections.
func (s *Server) Close() {
	_ = s.Listener.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		name, rest, _ := strings.Cut(line, " ")
		var args []string
		if rest != "" {
			args = strings.Split(rest, ";")
		}

		s.mu.Lock()
		s.commands = append(s.commands, line)
		handler := s.handlers[name]
		s.mu.Unlock()

		if handler == nil {
			continue
		}
		if reply := handler(args); reply != nil {
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}
	}
}

// TextReply encodes key/value pairs as a text reply.
func TextReply(kv ...string) []byte {
	var b strings.Builder
	b.WriteByte('\n')
	for i := 0; i+1 < len(kv); i += 2 {
		b.WriteString(kv[i])
		b.WriteByte(':')
		b.WriteString(kv[i+1])
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// ErrorReply encodes an error text reply.
func ErrorReply(kind, reason string) []byte {
	return TextReply("error", kind, "reason", reason)
}

// BinaryReply encodes data as a binary reply.
func BinaryReply(data []byte) []byte {
	out := make([]byte, 5+len(data))
	binary.BigEndian.PutUint32(out[1:5], uint32(len(data)))
	copy(out[5:], data)
	return out
}
