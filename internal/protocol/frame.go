package protocol

import "github.com/samthesuperhero/clourfid/internal/crc16"

// FrameHead is the fixed header byte that begins every Clou frame.
const FrameHead = 0xAA

// Decode result codes, mirroring the taxonomy in DecodeFrameErrors.
const (
	DecodeOK                  = 0
	DecodeNoHeader            = 1
	DecodeCRCMismatch         = 2
	DecodeTooShort            = 3
	DecodeBadMessageType      = 4
	DecodeReservedBitsNonZero = 5
	DecodeUnknownMID          = 6
	DecodeRS485Unsupported    = 7
	DecodeLengthMismatch      = 8
)

// Frame is one decoded (or about-to-be-encoded) Clou wire frame.
type Frame struct {
	MID          byte
	MsgType      byte
	InitByReader byte
	RS485Mark    byte
	RS485ID      byte

	// DataBytes is the payload region. After Decode it still carries
	// the 2-byte length prefix at offsets 0..1 — tag-data and template
	// decoding deliberately start their cursor at offset 2, preserving
	// the upstream convention described in SPEC_FULL.md §9.
	DataBytes []byte
}

// Encode builds the wire bytes for a frame. When startWithLength is
// true (the normal case for outgoing commands), the 2-byte big-endian
// length of payload is inserted ahead of payload in the data region;
// callers pass payload without a length prefix.
func Encode(msgID, msgType, initByReader, rs485Mark, rs485ID byte, payload []byte, startWithLength bool) []byte {
	out := make([]byte, 0, 8+len(payload))
	out = append(out, FrameHead)
	out = append(out, msgType+(initByReader<<4)+(rs485Mark<<5))
	out = append(out, msgID)
	if rs485Mark == RS485Used {
		out = append(out, rs485ID)
	}
	if startWithLength {
		n := len(payload)
		out = append(out, byte(n/256), byte(n%256))
	}
	out = append(out, payload...)
	crc := crc16.Checksum(out[1:])
	out = append(out, byte(crc>>8), byte(crc&0xFF))
	return out
}

// Decode parses raw into a Frame, returning one of the Decode* result
// codes. On anything but DecodeOK the returned Frame is the zero
// value and must not be used.
func Decode(raw []byte) (int, Frame) {
	if len(raw) < 7 {
		return DecodeTooShort, Frame{}
	}
	if raw[0] != FrameHead {
		return DecodeNoHeader, Frame{}
	}
	crc := crc16.Checksum(raw[1 : len(raw)-2])
	if byte(crc>>8) != raw[len(raw)-2] || byte(crc&0xFF) != raw[len(raw)-1] {
		return DecodeCRCMismatch, Frame{}
	}
	ctrl := raw[1]
	msgType := ctrl % 16
	if msgType > 5 {
		return DecodeBadMessageType, Frame{}
	}
	initByReader := (ctrl / 16) % 2
	rs485Mark := (ctrl / 32) % 2
	if (ctrl / 64) != 0 {
		return DecodeReservedBitsNonZero, Frame{}
	}
	rs485Added := 0
	var rs485ID byte
	if rs485Mark == RS485Used {
		if len(raw) < 4 {
			return DecodeTooShort, Frame{}
		}
		rs485ID = raw[3]
		rs485Added = 1
	}
	mid := raw[2]
	dataBytes := raw[3+rs485Added : len(raw)-2]
	if len(dataBytes) < 2 {
		return DecodeLengthMismatch, Frame{}
	}
	declaredLen := int(dataBytes[0])*256 + int(dataBytes[1])
	if len(dataBytes)-2 != declaredLen {
		return DecodeLengthMismatch, Frame{}
	}
	return DecodeOK, Frame{
		MID:          mid,
		MsgType:      msgType,
		InitByReader: initByReader,
		RS485Mark:    rs485Mark,
		RS485ID:      rs485ID,
		DataBytes:    dataBytes,
	}
}

// ControlWord is the pair (msgID, msgType, initByReader, rs485Mark)
// recovered from a bare 2-byte control word, used to identify the
// offending request referenced by an ERR_MID error-report frame.
type ControlWord struct {
	MID          byte
	MsgType      byte
	InitByReader byte
	RS485Mark    byte
}

// DecodeControlWord decodes a 2-byte control word in isolation. The
// input is {controlByte, midByte}, the same order Encode writes on the
// wire and the order carried inside an error-report payload.
func DecodeControlWord(raw []byte) (int, ControlWord) {
	if len(raw) != 2 {
		return -1, ControlWord{}
	}
	ctrl := raw[0]
	msgType := ctrl % 16
	if msgType > 5 {
		return -1, ControlWord{}
	}
	initByReader := (ctrl / 16) % 2
	rs485Mark := (ctrl / 32) % 2
	if (ctrl / 64) != 0 {
		return -1, ControlWord{}
	}
	return DecodeOK, ControlWord{
		MID:          raw[1],
		MsgType:      msgType,
		InitByReader: initByReader,
		RS485Mark:    rs485Mark,
	}
}
