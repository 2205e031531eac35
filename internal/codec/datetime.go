package codec

import "time"

// ticksPerSecond matches .NET's 100-nanosecond tick resolution, which the
// DateTime wire format borrows. storecore has no timezone-aware/UTC
// distinction to carry, so only the tick count is stored — no separate
// "kind" byte.
const ticksPerSecond = 10_000_000

// TicksFromTime converts t to a signed count of 100ns ticks since the Unix
// epoch, the on-disk representation of DateTime. Precision below 100ns is
// dropped.
func TicksFromTime(t time.Time) int64 {
	sec := t.Unix()
	nsec := int64(t.Nanosecond())
	return sec*ticksPerSecond + nsec/100
}

// TimeFromTicks is the inverse of TicksFromTime, returned in UTC.
func TimeFromTicks(ticks int64) time.Time {
	sec := ticks / ticksPerSecond
	rem := ticks % ticksPerSecond
	if rem < 0 {
		rem += ticksPerSecond
		sec--
	}
	return time.Unix(sec, rem*100).UTC()
}
