package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeLEDTable(t *testing.T) {
	cases := []struct {
		name string
		addr string
		args []any
		want []byte
	}{
		{"led set on", "/grid/led/set", []any{int32(3), int32(5), int32(1)}, []byte{0x11, 3, 5}},
		{"led set off", "/grid/led/set", []any{int32(1), int32(1), int32(0)}, []byte{0x10, 1, 1}},
		{"led all off", "/grid/led/all", []any{int32(0)}, []byte{0x12}},
		{"led all on", "/grid/led/all", []any{int32(1)}, []byte{0x13}},
		{"intensity", "/grid/led/intensity", []any{int32(8)}, []byte{0x17, 8}},
		{"level set", "/grid/led/level/set", []any{int32(2), int32(2), int32(15)}, []byte{0x18, 2, 2, 15}},
		{"level all", "/grid/led/level/all", []any{int32(4)}, []byte{0x19, 4}},
		{
			"led row", "/grid/led/row",
			[]any{int32(0), int32(1), int32(255)},
			[]byte{0x15, 0, 1, 255},
		},
		{
			"level map", "/grid/led/level/map",
			[]any{int32(0), int32(0), int32(1), int32(2), int32(3)},
			[]byte{0x1a, 0, 0, 1, 2, 3},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Encode(tc.addr, tc.args)
			assert.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEncodeUnknownAddressDropped(t *testing.T) {
	_, ok := Encode("/grid/tilt/set", []any{int32(0)})
	assert.False(t, ok)
}

func TestEncodeWrongArgCountDropped(t *testing.T) {
	_, ok := Encode("/grid/led/set", []any{int32(1), int32(1)})
	assert.False(t, ok)
}

func TestKeyEventMapsStateBit(t *testing.T) {
	down := KeyEvent("/monome", Event{Op: OpKeyDown, X: 2, Y: 4})
	assert.Equal(t, "/monome/grid/key", down.Address)
	assert.Equal(t, []any{int32(2), int32(4), int32(1)}, down.Args)

	up := KeyEvent("/monome", Event{Op: OpKeyUp, X: 2, Y: 4})
	assert.Equal(t, []any{int32(2), int32(4), int32(0)}, up.Args)
}
