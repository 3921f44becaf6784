package bridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/monome/serialoscd/internal/hardware"
	"github.com/monome/serialoscd/internal/osc"
)

// testFixture wires a Controller to a fake serial device (net.Pipe) and an
// arbitrary discovery port, and runs it in the background for the
// lifetime of the test.
type testFixture struct {
	t        *testing.T
	device   net.Conn // the "grid" side of the fake serial link
	ctrl     *Controller
	discPort int
	cancel   context.CancelFunc
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	device, host := net.Pipe()
	t.Cleanup(func() { device.Close(); host.Close() })

	framer := hardware.NewFramer(host, nil)
	ctrl := NewController(framer, nil).WithDiscoveryPort(freeUDPPort(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go ctrl.Run(ctx)
	time.Sleep(20 * time.Millisecond) // let the discovery socket bind

	return &testFixture{t: t, device: device, ctrl: ctrl, discPort: ctrl.discoveryPort, cancel: cancel}
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

// discover performs S1 and returns the client socket and the session port
// the daemon assigned.
func (f *testFixture) discover(clientPort int) (*net.UDPConn, int) {
	f.t.Helper()
	client, err := net.ListenUDP("udp", &net.UDPAddr{Port: clientPort})
	require.NoError(f.t, err)
	f.t.Cleanup(func() { client.Close() })

	announce := osc.New("/serialosc/list", "127.0.0.1", int32(clientPort))
	f.sendToDiscovery(announce)

	msg := f.readOSC(client)
	require.Equal(f.t, "/serialosc/device", msg.Address)
	port, ok := msg.Int(2)
	require.True(f.t, ok)
	return client, port
}

func (f *testFixture) sendToDiscovery(msg osc.Message) {
	f.sendTo(f.discPort, msg)
}

func (f *testFixture) sendTo(port int, msg osc.Message) {
	data, err := msg.Marshal()
	require.NoError(f.t, err)
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
	require.NoError(f.t, err)
	defer conn.Close()
	_, err = conn.Write(data)
	require.NoError(f.t, err)
}

func (f *testFixture) readOSC(conn *net.UDPConn) osc.Message {
	f.t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1500)
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(f.t, err)
	msg, err := osc.Unmarshal(buf[:n])
	require.NoError(f.t, err)
	return msg
}

func (f *testFixture) readSerial(n int) []byte {
	f.t.Helper()
	buf := make([]byte, n)
	_, err := readFull(f.device, buf)
	require.NoError(f.t, err)
	return buf
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	r.SetReadDeadline(time.Now().Add(time.Second))
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestDiscoveryCreatesSession(t *testing.T) {
	f := newFixture(t)

	// Drain the framer's startup query frames (opcodes 0x01, 0x05) before
	// asserting on application traffic.
	f.readSerial(2)

	client, sysPort := f.discover(freeUDPPort(t))
	require.NotZero(t, sysPort)
	_ = client
}

func TestLEDSetWritesExpectedBytes(t *testing.T) {
	f := newFixture(t)
	f.readSerial(2) // startup query frames

	_, sysPort := f.discover(freeUDPPort(t))

	f.sendTo(sysPort, osc.New("/monome/grid/led/set", int32(3), int32(5), int32(1)))
	got := f.readSerial(3)
	require.Equal(t, []byte{0x11, 0x03, 0x05}, got)
}

func TestLEDAllOff(t *testing.T) {
	f := newFixture(t)
	f.readSerial(2)
	_, sysPort := f.discover(freeUDPPort(t))

	f.sendTo(sysPort, osc.New("/monome/grid/led/all", int32(0)))
	got := f.readSerial(1)
	require.Equal(t, []byte{0x12}, got)
}

func TestKeyDownFansOutToSession(t *testing.T) {
	f := newFixture(t)
	f.readSerial(2)
	client, _ := f.discover(freeUDPPort(t))

	_, err := f.device.Write([]byte{0x21, 0x02, 0x04})
	require.NoError(t, err)

	msg := f.readOSC(client)
	require.Equal(t, "/monome/grid/key", msg.Address)
	require.Equal(t, []any{int32(2), int32(4), int32(1)}, msg.Args)
}

func TestPrefixChangeThenSet(t *testing.T) {
	f := newFixture(t)
	f.readSerial(2)
	_, sysPort := f.discover(freeUDPPort(t))

	f.sendTo(sysPort, osc.New("/sys/prefix", "/m"))
	time.Sleep(10 * time.Millisecond)
	f.sendTo(sysPort, osc.New("/m/grid/led/set", int32(1), int32(1), int32(0)))

	got := f.readSerial(3)
	require.Equal(t, []byte{0x10, 0x01, 0x01}, got)
}

func TestSysInfoDumpOrder(t *testing.T) {
	f := newFixture(t)
	f.readSerial(2)
	client, sysPort := f.discover(freeUDPPort(t))

	f.sendTo(sysPort, osc.New("/sys/info"))

	addrs := []string{"/sys/id", "/sys/size", "/sys/host", "/sys/port", "/sys/prefix", "/sys/rotation"}
	for _, want := range addrs {
		msg := f.readOSC(client)
		require.Equal(t, want, msg.Address)
	}
}
