// Package session tracks per-client state for the bridge: each connected
// OSC client gets a Session recording its address prefix, the device-facing
// endpoint it wants events delivered to, and the UDP socket allocated for
// its exclusive use.
package session

import (
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

const DefaultPrefix = "/monome"

// Session is per-client bridge state. DeviceHost/DevicePort name the
// endpoint that receives key events and /sys/* replies; they start equal to
// the client's announced address and move only via /sys/host and /sys/port.
type Session struct {
	mu sync.Mutex

	Prefix     string
	DeviceHost string
	DevicePort int
	SysPort    int

	conn *net.UDPConn
}

// Snapshot is an immutable copy of a Session's fields, safe to read after
// the registry lock has been released.
type Snapshot struct {
	Prefix     string
	DeviceHost string
	DevicePort int
	SysPort    int
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{Prefix: s.Prefix, DeviceHost: s.DeviceHost, DevicePort: s.DevicePort, SysPort: s.SysPort}
}

// Registry is the single mutex-protected table of active sessions, keyed by
// "host:port" of the client that first announced itself.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	log      *logrus.Entry
}

func NewRegistry(log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{sessions: make(map[string]*Session), log: log}
}

func key(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// EnsureSession returns the existing session for (host, port), or creates
// one: binds a fresh ephemeral UDP port and records the client's address as
// the initial device endpoint. Allocation happens under the registry lock
// so two concurrent announcements from the same address cannot race into
// two sockets.
func (r *Registry) EnsureSession(host string, port int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(host, port)
	if s, ok := r.sessions[k]; ok {
		return s, nil
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("session: bind socket for %s: %w", k, err)
	}
	sysPort := conn.LocalAddr().(*net.UDPAddr).Port

	s := &Session{
		Prefix:     DefaultPrefix,
		DeviceHost: host,
		DevicePort: port,
		SysPort:    sysPort,
		conn:       conn,
	}
	r.sessions[k] = s
	r.log.WithFields(logrus.Fields{"client": k, "sys_port": sysPort}).Info("session created")
	return s, nil
}

// All returns a snapshot of every live session, for fan-out of hardware
// events.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Conn returns the UDP socket dedicated to this session.
func (s *Session) Conn() *net.UDPConn {
	return s.conn
}

// IsValidPort reports whether n is usable as a UDP port number.
func IsValidPort(n int) bool {
	return n > 0 && n < 65536
}

// UpdatePort validates and applies new_port, returning the resulting
// snapshot. ok is false (snapshot unchanged) if new_port is out of range.
func (s *Session) UpdatePort(newPort int) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !IsValidPort(newPort) {
		return s.snapshot(), false
	}
	s.DevicePort = newPort
	return s.snapshot(), true
}

// UpdateHost applies newHost unconditionally, matching the reference's lack
// of hostname validation.
func (s *Session) UpdateHost(newHost string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeviceHost = newHost
	return s.snapshot()
}

// UpdatePrefix assigns newPrefix unconditionally; callers are responsible
// for ensuring it is a non-empty, '/'-prefixed string before calling.
func (s *Session) UpdatePrefix(newPrefix string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Prefix = newPrefix
	return s.snapshot()
}

// Snapshot returns the session's current fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}
