package osl

import (
	"sync/atomic"
	"time"

	"github.com/ncruces/julianday"
)

// testTime, when nonzero, replaces the system clock: it is interpreted
// as seconds since the Unix epoch.
var testTime atomic.Int64

// SetTestTime overrides the clock read by CurrentTime with the given
// Unix time, for testing. Zero restores the system clock.
func SetTestTime(unix int64) {
	testTime.Store(unix)
}

// CurrentTime returns the current UTC time as a fractional Julian Day
// number, the engine's canonical timestamp.
func CurrentTime() float64 {
	if t := testTime.Load(); t != 0 {
		return float64(t)/86400 + 2440587.5
	}
	return julianday.Float(time.Now())
}
