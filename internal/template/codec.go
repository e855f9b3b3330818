package template

import (
	"fmt"
	"strconv"
)

// CallerParam is one caller-supplied parameter, in the order the
// caller wants it serialized (Pack iterates in this order, not
// template order — see SPEC_FULL.md §4.5).
type CallerParam struct {
	Key string
	Val ParamValue
}

func extractPlaceholders(tmpl string) []string {
	matches := placeholderRe.FindAllStringSubmatch(tmpl, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func typeWidthBytes(t string) (int, error) {
	switch t {
	case "U8":
		return 1, nil
	case "U16":
		return 2, nil
	case "U32":
		return 4, nil
	default:
		return 0, fmt.Errorf("template: unsupported type %q (must be U8, U16, or U32)", t)
	}
}

// Pack serializes callerParams, in caller order, into payload bytes
// according to side's template. Mandatory keys ("pid"=="M") absent
// from callerParams are an error; optional keys present in the
// template but absent from callerParams are simply not emitted.
func Pack(side Side, callerParams []CallerParam) ([]byte, error) {
	placeholders := extractPlaceholders(side.Tmpl)

	seen := map[string]int{}
	for _, k := range placeholders {
		seen[k]++
	}
	for k, n := range seen {
		if n != 1 {
			return nil, fmt.Errorf("template: key %q must appear exactly once in template", k)
		}
	}

	provided := map[string]ParamValue{}
	for _, cp := range callerParams {
		provided[cp.Key] = cp.Val
	}
	for _, key := range placeholders {
		prm, ok := side.Prms[key]
		if !ok {
			return nil, fmt.Errorf("template: key %q not defined in template prms", key)
		}
		if prm.PID == "M" {
			if _, ok := provided[key]; !ok {
				return nil, fmt.Errorf("template: mandatory key %q missing from caller parameters", key)
			}
		}
	}

	var out []byte
	for _, cp := range callerParams {
		prm, ok := side.Prms[cp.Key]
		if !ok {
			return nil, fmt.Errorf("template: key %q not defined in template prms", cp.Key)
		}
		width, err := typeWidthBytes(prm.Type)
		if err != nil {
			return nil, err
		}
		if prm.IsFixedLen && prm.Len <= 0 {
			return nil, fmt.Errorf("template: key %q has non-positive fixed len", cp.Key)
		}

		var val []byte
		switch cp.Val.Kind {
		case KindUint:
			val = make([]byte, width)
			v := cp.Val.Uint
			for i := width - 1; i >= 0; i-- {
				val[i] = byte(v & 0xFF)
				v >>= 8
			}
		case KindHex:
			val = cp.Val.Hex
			if prm.IsFixedLen && len(val) != prm.Len {
				return nil, fmt.Errorf("template: key %q value length %d does not match declared len %d", cp.Key, len(val), prm.Len)
			}
		default:
			return nil, fmt.Errorf("template: key %q value must be an unsigned integer or raw bytes", cp.Key)
		}

		var field []byte
		if prm.PID != "M" {
			pid, err := strconv.ParseUint(prm.PID, 16, 8)
			if err != nil || pid == 0 {
				return nil, fmt.Errorf("template: key %q has invalid pid %q", cp.Key, prm.PID)
			}
			field = append(field, byte(pid))
		}
		if !prm.IsFixedLen {
			field = append(field, byte(len(val)>>8), byte(len(val)&0xFF))
		}
		field = append(field, val...)
		out = append(out, field...)
	}
	return out, nil
}

// UnpackResult is the decoded {msid, mtyp, init, prms} rcv-side
// record produced by Unpack.
type UnpackResult struct {
	MSID   string
	MTyp   string
	Init   string
	Values map[string]ParamValue
}

// Unpack decodes data (which still carries its 2-byte length prefix
// at offsets 0..1, per the preserved convention) against side's rcv
// template, whose placeholder keys are consumed in template order.
func Unpack(side Side, data []byte) (map[string]ParamValue, error) {
	placeholders := extractPlaceholders(side.Tmpl)
	values := map[string]ParamValue{}
	cursor := 2

	for _, key := range placeholders {
		prm, ok := side.Prms[key]
		if !ok {
			return nil, fmt.Errorf("template: key %q not defined in template prms", key)
		}

		active := prm
		if prm.PID != "M" {
			if cursor >= len(data) {
				return nil, fmt.Errorf("template: truncated payload reading pid for key %q", key)
			}
			pidByte := data[cursor]
			cursor++
			found := false
			for _, k2 := range placeholders {
				p2 := side.Prms[k2]
				if p2.PID == "M" {
					continue
				}
				v, err := strconv.ParseUint(p2.PID, 16, 8)
				if err == nil && byte(v) == pidByte {
					active = p2
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("template: unknown optional pid 0x%02X", pidByte)
			}
		}

		length := active.Len
		if !active.IsFixedLen {
			if cursor+2 > len(data) {
				return nil, fmt.Errorf("template: truncated payload reading length for key %q", key)
			}
			length = int(data[cursor])*256 + int(data[cursor+1])
			cursor += 2
		}
		if cursor+length > len(data) {
			return nil, fmt.Errorf("template: truncated payload reading value for key %q", key)
		}
		raw := data[cursor : cursor+length]
		cursor += length

		width, err := typeWidthBytes(active.Type)
		if err != nil {
			return nil, err
		}

		var val ParamValue
		switch {
		case active.IsFixedLen && length <= 4:
			var u uint32
			for _, b := range raw {
				u = u<<8 | uint32(b)
			}
			val = UintValue(u)
		case active.IsFixedLen:
			val = HexValue(append([]byte(nil), raw...))
		case active.Type == "U8":
			val = HexValue(append([]byte(nil), raw...))
		default: // variable-length U16/U32: list of big-endian integers
			list := make([]uint32, 0, length/width)
			for i := 0; i+width <= length; i += width {
				var u uint32
				for _, b := range raw[i : i+width] {
					u = u<<8 | uint32(b)
				}
				list = append(list, u)
			}
			val = ListValue(list)
		}
		values[key] = val

		if cursor == len(data) {
			break
		}
	}
	return values, nil
}
