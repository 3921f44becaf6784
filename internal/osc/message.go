// Package osc implements just enough of the OSC 1.0 wire format for the
// bridge: addresses, a type-tag string, and int32/string arguments. No
// library in the reference corpus provides an OSC codec, so this is a
// deliberate, minimal, hand-rolled implementation rather than a port of
// anything — see DESIGN.md.
package osc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Message is a decoded (or to-be-encoded) OSC message: an address, and an
// ordered argument list whose elements are either int32 or string.
type Message struct {
	Address string
	Args    []any
}

var (
	ErrMalformed   = errors.New("osc: malformed packet")
	ErrUnsupported = errors.New("osc: unsupported type tag")
)

// New builds a Message, useful for call sites that want a one-liner.
func New(address string, args ...any) Message {
	return Message{Address: address, Args: args}
}

// TypeTag returns the OSC type-tag string for m's arguments, e.g. "iis".
func (m Message) TypeTag() string {
	tags := make([]byte, 0, len(m.Args))
	for _, a := range m.Args {
		switch a.(type) {
		case int32:
			tags = append(tags, 'i')
		case int:
			tags = append(tags, 'i')
		case string:
			tags = append(tags, 's')
		default:
			tags = append(tags, '?')
		}
	}
	return string(tags)
}

// Marshal encodes m as an OSC packet: address, type-tag string, then
// arguments in order, each padded to a 4-byte boundary per OSC 1.0.
func (m Message) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	writeOSCString(&buf, m.Address)
	writeOSCString(&buf, ","+m.TypeTag())
	for _, a := range m.Args {
		switch v := a.(type) {
		case int32:
			var n [4]byte
			binary.BigEndian.PutUint32(n[:], uint32(v))
			buf.Write(n[:])
		case int:
			var n [4]byte
			binary.BigEndian.PutUint32(n[:], uint32(int32(v)))
			buf.Write(n[:])
		case string:
			writeOSCString(&buf, v)
		default:
			return nil, fmt.Errorf("%w: %T", ErrUnsupported, a)
		}
	}
	return buf.Bytes(), nil
}

// MarshalRaw builds a packet with an explicit type-tag string and
// already-encoded argument bytes, bypassing Message's own type inference.
// It exists for the one place the bridge must reproduce a wire-format bug
// in the reference daemon: a /sys/host confirmation that declares typetag
// "i" but carries a string payload. Ordinary callers should use Marshal.
func MarshalRaw(address, tag string, rawArgs []byte) ([]byte, error) {
	var buf bytes.Buffer
	writeOSCString(&buf, address)
	writeOSCString(&buf, ","+tag)
	buf.Write(rawArgs)
	return buf.Bytes(), nil
}

// EncodeOSCString returns an argument's wire encoding as an OSC string:
// null-terminated and padded to a 4-byte boundary.
func EncodeOSCString(s string) []byte {
	var buf bytes.Buffer
	writeOSCString(&buf, s)
	return buf.Bytes()
}

// Unmarshal decodes an OSC packet into a Message. It rejects bundles
// (address starting with '#') since the bridge never sends or expects them.
func Unmarshal(data []byte) (Message, error) {
	addr, rest, err := readOSCString(data)
	if err != nil {
		return Message{}, fmt.Errorf("osc: address: %w", err)
	}
	if len(addr) == 0 || addr[0] != '/' {
		return Message{}, fmt.Errorf("%w: address %q", ErrMalformed, addr)
	}
	tagStr, rest, err := readOSCString(rest)
	if err != nil {
		return Message{}, fmt.Errorf("osc: type tag: %w", err)
	}
	if len(tagStr) == 0 || tagStr[0] != ',' {
		return Message{}, fmt.Errorf("%w: type tag %q", ErrMalformed, tagStr)
	}
	tags := tagStr[1:]

	args := make([]any, 0, len(tags))
	for _, tag := range []byte(tags) {
		switch tag {
		case 'i':
			if len(rest) < 4 {
				return Message{}, fmt.Errorf("%w: truncated int32 argument", ErrMalformed)
			}
			args = append(args, int32(binary.BigEndian.Uint32(rest[:4])))
			rest = rest[4:]
		case 's':
			var s string
			s, rest, err = readOSCString(rest)
			if err != nil {
				return Message{}, fmt.Errorf("osc: string argument: %w", err)
			}
			args = append(args, s)
		default:
			return Message{}, fmt.Errorf("%w: %q", ErrUnsupported, tag)
		}
	}
	return Message{Address: addr, Args: args}, nil
}

// Int returns the i'th argument as an int, or ok=false if it is absent or
// not an integer type.
func (m Message) Int(i int) (int, bool) {
	if i < 0 || i >= len(m.Args) {
		return 0, false
	}
	switch v := m.Args[i].(type) {
	case int32:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// String returns the i'th argument as a string, or ok=false if it is absent
// or not a string.
func (m Message) String(i int) (string, bool) {
	if i < 0 || i >= len(m.Args) {
		return "", false
	}
	s, ok := m.Args[i].(string)
	return s, ok
}

func writeOSCString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

// readOSCString reads a null-terminated, 4-byte-padded OSC string from the
// front of data and returns it along with the remaining bytes.
func readOSCString(data []byte) (string, []byte, error) {
	nul := bytes.IndexByte(data, 0)
	if nul < 0 {
		return "", nil, ErrMalformed
	}
	s := string(data[:nul])
	padded := (nul + 1 + 3) &^ 3
	if padded > len(data) {
		return "", nil, ErrMalformed
	}
	return s, data[padded:], nil
}
