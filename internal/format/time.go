package format

import (
	"time"
)

// TimeDateStampToTime converts a COFF TimeDateStamp (seconds since the Unix
// epoch) to UTC. Deterministic builds store a content hash here, so the
// result is only meaningful for conventionally built images.
func TimeDateStampToTime(v uint32) time.Time {
	return time.Unix(int64(v), 0).UTC()
}

// TimeToTimeDateStamp converts t to a COFF TimeDateStamp, clamping to the
// representable range.
func TimeToTimeDateStamp(t time.Time) uint32 {
	sec := t.Unix()
	switch {
	case sec < 0:
		return 0
	case sec > 0xFFFFFFFF:
		return 0xFFFFFFFF
	}
	return uint32(sec)
}
