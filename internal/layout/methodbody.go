package layout

import "github.com/pmikstacki/bsharp-sub005/internal/format"

// ilRange returns the [start, end) range of the IL stream inside a method
// body, clamped to the body length.
func ilRange(body []byte) (int, int) {
	if len(body) == 0 {
		return 0, 0
	}
	if body[0]&format.MethodHeaderFormatMask == format.MethodHeaderTiny {
		return 1, min(len(body), 1+int(body[0]>>2))
	}
	if len(body) < format.MethodHeaderFatSize {
		return len(body), len(body)
	}
	start := int(body[1]>>4) * 4
	if start < format.MethodHeaderFatSize || start > len(body) {
		start = format.MethodHeaderFatSize
	}
	end := start + int(format.ReadU32(body, 4))
	if end < start || end > len(body) {
		end = len(body)
	}
	return start, end
}

// rewriteUserStringTokens returns a copy of body with the operand of every
// ldstr retargeted through mapping. Tokens without an entry are kept.
func rewriteUserStringTokens(body []byte, mapping func(uint32) (uint32, bool)) []byte {
	out := append([]byte(nil), body...)
	start, end := ilRange(out)
	for pos := start; pos < end; {
		if out[pos] != format.OpLdstr || pos+5 > end {
			pos++
			continue
		}
		token := format.ReadU32(out, pos+1)
		// 0x72 can also be an operand byte; only a #US token marks an ldstr.
		if token&format.TokenTypeMask != format.UserStringTokenTag {
			pos++
			continue
		}
		if idx, ok := mapping(token & format.TokenRIDMask); ok {
			format.PutU32(out, pos+1, format.UserStringTokenTag|idx&format.TokenRIDMask)
		}
		pos += 5
	}
	return out
}
