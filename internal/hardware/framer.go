// Package hardware decodes the monome grid's 3-byte serial frames into
// events, and translates between OSC addresses/arguments and the raw byte
// sequences the grid expects on its wire.
package hardware

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

// Opcode identifies the leading byte of a hardware frame.
type Opcode byte

const (
	OpSysID     Opcode = 0x01 // sys-id query/response; reply format unspecified, not parsed.
	OpSysSize   Opcode = 0x05 // sys-size query.
	OpSizeReply Opcode = 0x03
	OpKeyUp     Opcode = 0x20
	OpKeyDown   Opcode = 0x21
)

const frameSize = 3

// Event is a decoded hardware frame.
type Event struct {
	Op   Opcode
	X, Y int
}

// Framer reads a monome grid's serial protocol off r and emits decoded
// events on Events. It buffers partial reads and resynchronizes on any
// byte it does not recognize as a known opcode, so it tolerates arbitrary
// read chunking from the underlying transport.
type Framer struct {
	r      io.Reader
	w      io.Writer
	Events chan Event
	log    *logrus.Entry
}

// NewFramer wires a Framer to rw, the opened and configured serial device.
func NewFramer(rw io.ReadWriter, log *logrus.Entry) *Framer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Framer{
		r:      rw,
		w:      rw,
		Events: make(chan Event, 64),
		log:    log,
	}
}

// Init sends the device's startup query frames. Responses, if any, arrive
// asynchronously through the normal read loop.
func (f *Framer) Init() error {
	if _, err := f.w.Write([]byte{byte(OpSysID)}); err != nil {
		return err
	}
	_, err := f.w.Write([]byte{byte(OpSysSize)})
	return err
}

// Write sends a raw, already-encoded hardware command to the device.
func (f *Framer) Write(b []byte) error {
	_, err := f.w.Write(b)
	return err
}

// Run reads frames until ctx is canceled or the device returns an
// unrecoverable error (EOF). It closes Events before returning.
func (f *Framer) Run(ctx context.Context) error {
	defer close(f.Events)

	buf := make([]byte, 0, 256)
	chunk := make([]byte, 128)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := f.r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			buf = f.drainFrames(ctx, buf)
		}
		if err != nil {
			if err == io.EOF {
				f.log.Warn("serial device closed (EOF)")
				return err
			}
			f.log.WithError(err).Warn("transient serial read error, retrying")
			continue
		}
	}
}

// drainFrames consumes complete, recognized 3-byte frames from the front of
// buf, emitting events for them, and returns the unconsumed remainder.
// Any byte that isn't a known opcode is dropped and framing resumes on the
// next byte, so the stream resynchronizes after noise or a short read.
func (f *Framer) drainFrames(ctx context.Context, buf []byte) []byte {
	for len(buf) > 0 {
		op := Opcode(buf[0])
		switch op {
		case OpSizeReply, OpKeyUp, OpKeyDown:
			if len(buf) < frameSize {
				return buf
			}
			evt := Event{Op: op, X: int(buf[1]), Y: int(buf[2])}
			select {
			case f.Events <- evt:
			case <-ctx.Done():
				return nil
			}
			buf = buf[frameSize:]
		default:
			f.log.WithField("byte", op).Debug("dropping unrecognized opcode byte, resyncing")
			buf = buf[1:]
		}
	}
	return buf
}
