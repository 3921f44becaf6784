// Package bridge wires the serial framer, the OSC discovery socket, and the
// session registry into the running daemon.
package bridge

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/monome/serialoscd/internal/hardware"
	"github.com/monome/serialoscd/internal/osc"
	"github.com/monome/serialoscd/internal/session"
)

const (
	DiscoveryPort = 12002
	SysID         = "monome"
	DeviceKind    = "monome"
)

type rawPacket struct {
	data    []byte
	session *session.Session // nil for discovery-socket packets
}

// Controller owns the serial device, the discovery socket, and every
// per-session socket, and is the sole writer to the serial device.
type Controller struct {
	framer   *hardware.Framer
	registry *session.Registry
	log      *logrus.Entry

	discoveryConn *net.UDPConn
	discoveryPort int

	sizeMu sync.Mutex
	sizeX  int
	sizeY  int

	incoming chan rawPacket
}

func NewController(framer *hardware.Framer, log *logrus.Entry) *Controller {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{
		framer:        framer,
		registry:      session.NewRegistry(log),
		log:           log,
		incoming:      make(chan rawPacket, 64),
		sizeX:         8,
		sizeY:         8,
		discoveryPort: DiscoveryPort,
	}
}

// WithDiscoveryPort overrides the fixed discovery port; tests use this to
// avoid binding the real well-known port.
func (c *Controller) WithDiscoveryPort(port int) *Controller {
	c.discoveryPort = port
	return c
}

// Run starts every goroutine — the framer's read loop, the discovery
// socket's read loop, and the single dispatch loop that owns all writes to
// the serial device — and blocks until ctx is canceled or a fatal error
// occurs.
func (c *Controller) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: c.discoveryPort})
	if err != nil {
		return err
	}
	c.discoveryConn = conn
	defer conn.Close()

	if err := c.framer.Init(); err != nil {
		c.log.WithError(err).Warn("failed to send startup query frames")
	}

	framerErrCh := make(chan error, 1)
	go func() { framerErrCh <- c.framer.Run(ctx) }()
	go c.readLoop(ctx, conn, nil)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-framerErrCh:
			return err
		case pkt := <-c.incoming:
			c.dispatch(pkt)
		case evt, ok := <-c.framer.Events:
			if !ok {
				// The framer closes Events just before its Run returns.
				return <-framerErrCh
			}
			c.handleHardwareEvent(evt)
		}
	}
}

// readLoop forwards every datagram received on conn into the controller's
// single dispatch channel, tagged with sess (nil for the discovery socket).
func (c *Controller) readLoop(ctx context.Context, conn *net.UDPConn, sess *session.Session) {
	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.WithError(err).Debug("udp read error")
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case c.incoming <- rawPacket{data: data, session: sess}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) dispatch(pkt rawPacket) {
	msg, err := osc.Unmarshal(pkt.data)
	if err != nil {
		c.log.WithError(err).Debug("dropping malformed OSC packet")
		return
	}
	if pkt.session == nil {
		c.handleDiscovery(msg)
		return
	}
	c.handleSessionMessage(pkt.session, msg)
}

// handleDiscovery implements /serialosc/list on the fixed discovery socket.
func (c *Controller) handleDiscovery(msg osc.Message) {
	if msg.Address != "/serialosc/list" {
		return
	}
	host, ok := msg.String(0)
	if !ok {
		return
	}
	port, ok := msg.Int(1)
	if !ok || !session.IsValidPort(port) {
		return
	}

	known := len(c.registry.All())
	sess, err := c.registry.EnsureSession(host, port)
	if err != nil {
		c.log.WithError(err).WithField("client", host).Warn("failed to create session")
		return
	}
	if len(c.registry.All()) > known {
		go c.readLoop(context.Background(), sess.Conn(), sess)
	}

	reply := osc.New("/serialosc/device", SysID, DeviceKind, int32(sess.SysPort))
	c.sendTo(host, port, reply)
}

// handleSessionMessage implements the per-session routing rule: /sys/*
// control messages go to the registry, everything else goes to the
// translator and, if recognized, to the serial device.
func (c *Controller) handleSessionMessage(sess *session.Session, msg osc.Message) {
	switch msg.Address {
	case "/sys/port":
		c.handleSysPort(sess, msg)
		return
	case "/sys/host":
		c.handleSysHost(sess, msg)
		return
	case "/sys/prefix":
		if p, ok := msg.String(0); ok && p != "" && strings.HasPrefix(p, "/") {
			sess.UpdatePrefix(p)
		}
		return
	case "/sys/info":
		c.sendSysInfo(sess)
		return
	}

	prefix := sess.Snapshot().Prefix
	if !strings.HasPrefix(msg.Address, prefix) {
		return
	}
	stripped := strings.TrimPrefix(msg.Address, prefix)
	data, ok := hardware.Encode(stripped, msg.Args)
	if !ok {
		return
	}
	if err := c.framer.Write(data); err != nil {
		c.log.WithError(err).Warn("serial write failed")
	}
}

func (c *Controller) handleSysPort(sess *session.Session, msg osc.Message) {
	newPort, ok := msg.Int(0)
	if !ok {
		return
	}
	snap, ok := sess.UpdatePort(newPort)
	if !ok {
		return
	}
	c.sendTo(snap.DeviceHost, snap.DevicePort, osc.New("/sys/port", int32(snap.DevicePort)))
}

// handleSysHost confirms with typetag "i" carrying the host string, not "s"
// as OSC's own type system would suggest. This reproduces a bug in the
// reference daemon (the confirmation typetag doesn't match its payload);
// existing serialosc clients may depend on the field position, so it is
// kept bug-for-bug rather than silently corrected. The /sys/info dump's
// /sys/host line is unaffected and correctly uses "s".
func (c *Controller) handleSysHost(sess *session.Session, msg osc.Message) {
	newHost, ok := msg.String(0)
	if !ok {
		return
	}
	snap := sess.UpdateHost(newHost)
	c.sendRawTo(snap.DeviceHost, snap.DevicePort, "/sys/host", "i", osc.EncodeOSCString(newHost))
}

func (c *Controller) sendSysInfo(sess *session.Session) {
	snap := sess.Snapshot()
	x, y := c.size()
	dest := func(m osc.Message) { c.sendTo(snap.DeviceHost, snap.DevicePort, m) }

	dest(osc.New("/sys/id", SysID))
	dest(osc.New("/sys/size", int32(x), int32(y)))
	dest(osc.New("/sys/host", snap.DeviceHost))
	dest(osc.New("/sys/port", int32(snap.DevicePort)))
	dest(osc.New("/sys/prefix", snap.Prefix))
	dest(osc.New("/sys/rotation", int32(0)))
}

// handleHardwareEvent fans out key events to every live session and
// absorbs size reports into shared device state.
func (c *Controller) handleHardwareEvent(evt hardware.Event) {
	if evt.Op == hardware.OpSizeReply {
		c.setSize(evt.X, evt.Y)
		return
	}
	for _, sess := range c.registry.All() {
		snap := sess.Snapshot()
		msg := hardware.KeyEvent(snap.Prefix, evt)
		c.sendTo(snap.DeviceHost, snap.DevicePort, msg)
	}
}

func (c *Controller) setSize(x, y int) {
	c.sizeMu.Lock()
	defer c.sizeMu.Unlock()
	c.sizeX, c.sizeY = x, y
}

func (c *Controller) size() (int, int) {
	c.sizeMu.Lock()
	defer c.sizeMu.Unlock()
	return c.sizeX, c.sizeY
}

func (c *Controller) sendTo(host string, port int, msg osc.Message) {
	data, err := msg.Marshal()
	if err != nil {
		c.log.WithError(err).Warn("failed to marshal outgoing OSC message")
		return
	}
	c.sendBytes(host, port, data)
}

// sendRawTo sends a message built with an explicit (possibly misleading)
// type tag; see MarshalRaw.
func (c *Controller) sendRawTo(host string, port int, address, tag string, rawArgs []byte) {
	data, err := osc.MarshalRaw(address, tag, rawArgs)
	if err != nil {
		c.log.WithError(err).Warn("failed to marshal outgoing OSC message")
		return
	}
	c.sendBytes(host, port, data)
}

func (c *Controller) sendBytes(host string, port int, data []byte) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	if addr.IP == nil {
		resolved, err := net.ResolveUDPAddr("udp", host+":0")
		if err != nil {
			c.log.WithField("host", host).Debug("dropping send to unresolvable host")
			return
		}
		addr = &net.UDPAddr{IP: resolved.IP, Port: port}
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		c.log.WithError(err).Debug("transient UDP send failure")
		return
	}
	defer conn.Close()
	if _, err := conn.Write(data); err != nil {
		c.log.WithError(err).Debug("transient UDP send failure")
	}
}
