package hardware

import "github.com/monome/serialoscd/internal/osc"

// encoder packs an OSC argument vector (already address-stripped) into the
// raw bytes a grid command expects. It returns ok=false if argc doesn't
// match what the command requires.
type encoder struct {
	argc    int  // exact argument count required, ignored when variadic is true
	variadic bool // row/col/map commands: x,y followed by a variable tail
	encode  func(args []any) ([]byte, bool)
}

func byteArg(args []any, i int) (byte, bool) {
	n, ok := intArg(args, i)
	if !ok {
		return 0, false
	}
	return byte(n), true
}

func intArg(args []any, i int) (int, bool) {
	if i < 0 || i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case int32:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func tailBytes(args []any, from int) ([]byte, bool) {
	out := make([]byte, 0, len(args)-from)
	for i := from; i < len(args); i++ {
		b, ok := byteArg(args, i)
		if !ok {
			return nil, false
		}
		out = append(out, b)
	}
	return out, true
}

// TranslatorTable maps a session-prefix-stripped OSC address to its
// encoder, per the grid's LED command set.
var TranslatorTable = map[string]encoder{
	"/grid/led/set": {argc: 3, encode: func(a []any) ([]byte, bool) {
		x, ok1 := byteArg(a, 0)
		y, ok2 := byteArg(a, 1)
		s, ok3 := intArg(a, 2)
		if !ok1 || !ok2 || !ok3 {
			return nil, false
		}
		op := byte(0x10)
		if s != 0 {
			op = 0x11
		}
		return []byte{op, x, y}, true
	}},
	"/grid/led/all": {argc: 1, encode: func(a []any) ([]byte, bool) {
		s, ok := intArg(a, 0)
		if !ok {
			return nil, false
		}
		op := byte(0x12)
		if s != 0 {
			op = 0x13
		}
		return []byte{op}, true
	}},
	"/grid/led/map": {variadic: true, encode: func(a []any) ([]byte, bool) {
		return fixedHeaderCommand(0x14, a)
	}},
	"/grid/led/row": {variadic: true, encode: func(a []any) ([]byte, bool) {
		return fixedHeaderCommand(0x15, a)
	}},
	"/grid/led/col": {variadic: true, encode: func(a []any) ([]byte, bool) {
		return fixedHeaderCommand(0x16, a)
	}},
	"/grid/led/intensity": {argc: 1, encode: func(a []any) ([]byte, bool) {
		i, ok := byteArg(a, 0)
		if !ok {
			return nil, false
		}
		return []byte{0x17, i}, true
	}},
	"/grid/led/level/set": {argc: 3, encode: func(a []any) ([]byte, bool) {
		x, ok1 := byteArg(a, 0)
		y, ok2 := byteArg(a, 1)
		l, ok3 := byteArg(a, 2)
		if !ok1 || !ok2 || !ok3 {
			return nil, false
		}
		return []byte{0x18, x, y, l}, true
	}},
	"/grid/led/level/all": {argc: 1, encode: func(a []any) ([]byte, bool) {
		l, ok := byteArg(a, 0)
		if !ok {
			return nil, false
		}
		return []byte{0x19, l}, true
	}},
	"/grid/led/level/map": {variadic: true, encode: func(a []any) ([]byte, bool) {
		return fixedHeaderCommand(0x1a, a)
	}},
	"/grid/led/level/row": {variadic: true, encode: func(a []any) ([]byte, bool) {
		return fixedHeaderCommand(0x1b, a)
	}},
	"/grid/led/level/col": {variadic: true, encode: func(a []any) ([]byte, bool) {
		return fixedHeaderCommand(0x1c, a)
	}},
}

// fixedHeaderCommand packs op, x, y followed by whatever tail bytes follow
// args[0] and args[1] — shared shape for map/row/col commands.
func fixedHeaderCommand(op byte, a []any) ([]byte, bool) {
	x, ok1 := byteArg(a, 0)
	y, ok2 := byteArg(a, 1)
	if !ok1 || !ok2 {
		return nil, false
	}
	tail, ok := tailBytes(a, 2)
	if !ok {
		return nil, false
	}
	out := make([]byte, 0, 3+len(tail))
	out = append(out, op, x, y)
	return append(out, tail...), true
}

// Encode translates a session-prefix-stripped OSC address and its argument
// vector into the raw bytes to write to the grid. ok is false for an
// unknown address or a malformed argument vector; callers must silently
// drop rather than report an error, matching the reference's behavior.
func Encode(strippedAddress string, args []any) (data []byte, ok bool) {
	enc, found := TranslatorTable[strippedAddress]
	if !found {
		return nil, false
	}
	if !enc.variadic && len(args) != enc.argc {
		return nil, false
	}
	return enc.encode(args)
}

// KeyEvent converts a decoded key-up/down hardware Event into the OSC
// message sent to a session, under that session's current prefix.
func KeyEvent(prefix string, e Event) osc.Message {
	state := int32(0)
	if e.Op == OpKeyDown {
		state = 1
	}
	return osc.New(prefix+"/grid/key", int32(e.X), int32(e.Y), state)
}
