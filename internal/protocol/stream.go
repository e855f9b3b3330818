package protocol

import (
	"bytes"

	"github.com/samthesuperhero/clourfid/internal/crc16"
)

// Reassembler consumes raw TCP byte chunks and splits them into whole
// Clou frames, tolerating garbage bytes and partial frames across
// chunk boundaries. It is not safe for concurrent use; the session
// engine owns one instance per connection.
type Reassembler struct {
	rs485Mark int
	parseLimit int

	raw      []byte
	frames   [][]byte
	unknowns [][]byte
}

// NewReassembler creates a reassembler. parseLimit bounds how many
// frames a single Unpack call will extract before yielding, capping
// the worst-case latency of one scheduler tick. rs485Mark must be 0
// or 1 and must match the mode of the connection this instance is
// fed from; mixing RS-485 and non-RS-485 streams in one instance is
// not supported.
func NewReassembler(parseLimit, rs485Mark int) *Reassembler {
	return &Reassembler{rs485Mark: rs485Mark, parseLimit: parseLimit}
}

// AddToStream appends a newly-received chunk to the internal buffer.
func (r *Reassembler) AddToStream(chunk []byte) {
	r.raw = append(r.raw, chunk...)
}

// ClearStream discards any buffered, not-yet-parsed bytes.
func (r *Reassembler) ClearStream() {
	r.raw = nil
}

// Frames returns the frames extracted so far and clears the internal
// list; each element still carries its 2-byte length prefix per the
// decode convention documented on Frame.DataBytes.
func (r *Reassembler) Frames() [][]byte {
	out := r.frames
	r.frames = nil
	return out
}

// Unknowns returns, and clears, the inter-frame garbage byte runs
// observed so far.
func (r *Reassembler) Unknowns() [][]byte {
	out := r.unknowns
	r.unknowns = nil
	return out
}

// Unpack extracts up to parseLimit complete, CRC-valid frames from
// the buffered stream. It never returns an error: malformed input
// simply yields fewer frames, mirroring the "local suppression" error
// policy used throughout the engine.
func (r *Reassembler) Unpack() {
	minFrame := 7 + r.rs485Mark
	parsed := 0
	for len(r.raw) >= minFrame {
		if parsed >= r.parseLimit {
			return
		}
		parsed++

		idx := 0
		found := false
		for {
			aa := bytes.IndexByte(r.raw[idx:], FrameHead)
			if aa < 0 {
				break
			}
			aa += idx
			if len(r.raw)-aa < minFrame {
				break
			}
			idx = aa + 1

			lengthPos := 3 + aa + r.rs485Mark
			declaredLen := int(r.raw[lengthPos])*256 + int(r.raw[lengthPos+1])
			frameLen := 5 + r.rs485Mark + declaredLen + 2
			if declaredLen > 4096 || len(r.raw)-aa < frameLen {
				continue
			}
			candidate := r.raw[aa : aa+frameLen]
			crc := crc16.Checksum(candidate[1 : len(candidate)-2])
			if byte(crc>>8) != candidate[len(candidate)-2] || byte(crc&0xFF) != candidate[len(candidate)-1] {
				continue
			}

			frame := make([]byte, frameLen)
			copy(frame, candidate)
			r.frames = append(r.frames, frame)
			if aa > 0 {
				garbage := make([]byte, aa)
				copy(garbage, r.raw[:aa])
				r.unknowns = append(r.unknowns, garbage)
			}
			r.raw = append([]byte(nil), r.raw[aa+frameLen:]...)
			found = true
			break
		}
		if !found {
			return
		}
	}
}
