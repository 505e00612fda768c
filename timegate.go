package onvif

import (
	"math"
	"time"
)

var processStart = time.Now()

// TickCount returns the milliseconds elapsed since process start on the monotonic
// clock, truncated to 32 bits. It wraps roughly every 24.8 days.
func TickCount() int32 {
	return int32(time.Since(processStart).Milliseconds())
}

// IsElapsed reports whether more than intervalMs milliseconds separate the current
// tick from referenceTick.
//
// The comparison uses the absolute tick difference so a counter wraparound does not
// stall the gate. As a consequence a "now" that lies more than intervalMs before
// referenceTick also reports true.
func IsElapsed(referenceTick, intervalMs int32) bool {
	return tickDistanceExceeds(TickCount(), referenceTick, intervalMs)
}

// TimeGate is an interval gate over a replaceable tick source.
type TimeGate struct {
	// Ticks returns the current tick count. Nil means TickCount.
	Ticks func() int32
}

// Now returns the current tick of the gate's source.
func (g TimeGate) Now() int32 {
	if g.Ticks == nil {
		return TickCount()
	}
	return g.Ticks()
}

// IsElapsed is IsElapsed evaluated against the gate's tick source.
func (g TimeGate) IsElapsed(referenceTick, intervalMs int32) bool {
	return tickDistanceExceeds(g.Now(), referenceTick, intervalMs)
}

func tickDistanceExceeds(now, referenceTick, intervalMs int32) bool {
	diff := now - referenceTick
	if diff == math.MinInt32 {
		// |MinInt32| does not fit in an int32
		return true
	}
	if diff < 0 {
		diff = -diff
	}
	return diff > intervalMs
}
