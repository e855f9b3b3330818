package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte{0x11, 0x22, 0x33}
	raw := Encode(ManConnConfirm, TypeConfManage, InitByUser, RS485NotUsed, 0, payload, true)

	code, f := Decode(raw)
	require.Equal(t, DecodeOK, code)
	assert.Equal(t, byte(ManConnConfirm), f.MID)
	assert.Equal(t, byte(TypeConfManage), f.MsgType)
	assert.Equal(t, byte(InitByUser), f.InitByReader)
	// DataBytes still carries the 2-byte length prefix.
	require.Len(t, f.DataBytes, 2+len(payload))
	assert.Equal(t, payload, f.DataBytes[2:])
}

func TestDecodeRejectsBadHeader(t *testing.T) {
	raw := Encode(ManConnConfirm, TypeConfManage, InitByUser, RS485NotUsed, 0, []byte{1, 2}, true)
	raw[0] = 0xAB
	code, _ := Decode(raw)
	assert.Equal(t, DecodeNoHeader, code)
}

func TestDecodeRejectsCorruptCRC(t *testing.T) {
	raw := Encode(ManConnConfirm, TypeConfManage, InitByUser, RS485NotUsed, 0, []byte{1, 2}, true)
	raw[len(raw)-1] ^= 0xFF
	code, _ := Decode(raw)
	assert.Equal(t, DecodeCRCMismatch, code)
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	code, _ := Decode([]byte{0xAA, 0x01})
	assert.Equal(t, DecodeTooShort, code)
}

func TestDecodeRejectsBadMessageType(t *testing.T) {
	raw := Encode(0x00, 6, InitByUser, RS485NotUsed, 0, []byte{1}, true)
	code, _ := Decode(raw)
	assert.Equal(t, DecodeBadMessageType, code)
}

func TestDecodeRejectsReservedBits(t *testing.T) {
	// Set reserved bit 6 through the msgType argument, so Encode computes
	// a CRC that matches and Decode (which checks CRC first) reaches the
	// reserved-bit branch.
	raw := Encode(ManConnConfirm, TypeConfManage|0x40, InitByUser, RS485NotUsed, 0, []byte{1, 2}, true)
	code, _ := Decode(raw)
	assert.Equal(t, DecodeReservedBitsNonZero, code)
}

func TestDecodeWithRS485Address(t *testing.T) {
	raw := Encode(ManConnConfirm, TypeConfManage, InitByUser, RS485Used, 0x07, []byte{0xAA, 0xBB}, true)
	code, f := Decode(raw)
	require.Equal(t, DecodeOK, code)
	assert.Equal(t, byte(RS485Used), f.RS485Mark)
	assert.Equal(t, byte(0x07), f.RS485ID)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	raw := Encode(ManConnConfirm, TypeConfManage, InitByUser, RS485NotUsed, 0, []byte{1, 2, 3}, true)
	// Corrupt the declared length field (first payload byte) without
	// touching overall frame size, then recompute nothing: this will
	// legitimately fail CRC first. Instead build the frame by hand to
	// isolate the length-mismatch path.
	raw2 := Encode(ManConnConfirm, TypeConfManage, InitByUser, RS485NotUsed, 0, []byte{1, 2, 3}, false)
	// raw2 has no length prefix at all, so the data region is just the
	// payload; Decode expects a length prefix within DataBytes, so this
	// should not match declared-vs-actual length, i.e. DecodeLengthMismatch
	// or DecodeTooShort depending on payload size.
	_, _ = raw, raw2
	code, _ := Decode(raw2)
	assert.Equal(t, DecodeLengthMismatch, code)
}

func TestDecodeControlWord(t *testing.T) {
	code, cw := DecodeControlWord([]byte{byte(TypeConfManage), ManConnConfirm})
	require.Equal(t, DecodeOK, code)
	assert.Equal(t, byte(ManConnConfirm), cw.MID)
	assert.Equal(t, byte(TypeConfManage), cw.MsgType)
}

func TestDecodeControlWordRejectsWrongLength(t *testing.T) {
	code, _ := DecodeControlWord([]byte{0x01})
	assert.Equal(t, -1, code)
}
