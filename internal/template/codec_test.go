package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simpleSndTemplate() Side {
	return Side{
		Tmpl: "[power][channel]",
		Prms: map[string]ParamDef{
			"power":   {PID: "M", Type: "U16", IsFixedLen: true, Len: 2},
			"channel": {PID: "01", Type: "U8", IsFixedLen: true, Len: 1},
		},
	}
}

func TestPackMandatoryOnly(t *testing.T) {
	side := simpleSndTemplate()
	out, err := Pack(side, []CallerParam{{Key: "power", Val: UintValue(500)}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0xF4}, out)
}

func TestPackMandatoryMissing(t *testing.T) {
	side := simpleSndTemplate()
	_, err := Pack(side, nil)
	assert.Error(t, err)
}

func TestPackOptionalParamWithPidPrefix(t *testing.T) {
	side := simpleSndTemplate()
	out, err := Pack(side, []CallerParam{
		{Key: "power", Val: UintValue(1)},
		{Key: "channel", Val: UintValue(7)},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x01, 0x07}, out)
}

func TestPackVariableLengthOptional(t *testing.T) {
	side := Side{
		Tmpl: "[payload]",
		Prms: map[string]ParamDef{
			"payload": {PID: "02", Type: "U8", IsFixedLen: false},
		},
	}
	out, err := Pack(side, []CallerParam{{Key: "payload", Val: HexValue([]byte{0xAA, 0xBB, 0xCC})}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x00, 0x03, 0xAA, 0xBB, 0xCC}, out)
}

func TestPackHexLengthMismatch(t *testing.T) {
	side := Side{
		Tmpl: "[v]",
		Prms: map[string]ParamDef{"v": {PID: "M", Type: "U8", IsFixedLen: true, Len: 2}},
	}
	_, err := Pack(side, []CallerParam{{Key: "v", Val: HexValue([]byte{0x01})}})
	assert.Error(t, err)
}

func TestUnpackMandatoryFixedInt(t *testing.T) {
	side := Side{
		Tmpl: "[power]",
		Prms: map[string]ParamDef{"power": {PID: "M", Type: "U16", IsFixedLen: true, Len: 2}},
	}
	data := []byte{0x00, 0x02, 0x01, 0xF4}
	vals, err := Unpack(side, data)
	require.NoError(t, err)
	require.Contains(t, vals, "power")
	assert.Equal(t, uint32(500), vals["power"].Uint)
}

func TestUnpackOptionalByPid(t *testing.T) {
	side := Side{
		Tmpl: "[channel]",
		Prms: map[string]ParamDef{"channel": {PID: "01", Type: "U8", IsFixedLen: true, Len: 1}},
	}
	data := []byte{0x00, 0x00, 0x01, 0x07}
	vals, err := Unpack(side, data)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), vals["channel"].Uint)
}

func TestUnpackUnknownPidErrors(t *testing.T) {
	side := Side{
		Tmpl: "[channel]",
		Prms: map[string]ParamDef{"channel": {PID: "01", Type: "U8", IsFixedLen: true, Len: 1}},
	}
	data := []byte{0x00, 0x00, 0x09, 0x07}
	_, err := Unpack(side, data)
	assert.Error(t, err)
}

func TestUnpackVariableU16ListSemantics(t *testing.T) {
	side := Side{
		Tmpl: "[freqs]",
		Prms: map[string]ParamDef{"freqs": {PID: "M", Type: "U16", IsFixedLen: false}},
	}
	data := []byte{0x00, 0x00, 0x00, 0x04, 0x01, 0x02, 0x03, 0x04}
	vals, err := Unpack(side, data)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x0102, 0x0304}, vals["freqs"].List)
}

func TestUnpackFixedLongerThanFourBytesBecomesHex(t *testing.T) {
	side := Side{
		Tmpl: "[tid]",
		Prms: map[string]ParamDef{"tid": {PID: "M", Type: "U8", IsFixedLen: true, Len: 6}},
	}
	data := append([]byte{0x00, 0x06}, []byte{1, 2, 3, 4, 5, 6}...)
	vals, err := Unpack(side, data)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, vals["tid"].Hex)
}

func TestPackUnpackRoundTripMandatory(t *testing.T) {
	side := Side{
		Tmpl: "[a][b]",
		Prms: map[string]ParamDef{
			"a": {PID: "M", Type: "U8", IsFixedLen: true, Len: 1},
			"b": {PID: "M", Type: "U16", IsFixedLen: true, Len: 2},
		},
	}
	packed, err := Pack(side, []CallerParam{{Key: "a", Val: UintValue(9)}, {Key: "b", Val: UintValue(65000)}})
	require.NoError(t, err)

	withLen := append([]byte{byte(len(packed) >> 8), byte(len(packed) & 0xFF)}, packed...)
	vals, err := Unpack(side, withLen)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), vals["a"].Uint)
	assert.Equal(t, uint32(65000), vals["b"].Uint)
}
