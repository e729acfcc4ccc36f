package natthread

import (
	"errors"
	"math"
	"time"

	"fortio.org/safecast"
)

var (
	// ErrBadTimeout reports a negative wait or a nanosecond part outside
	// [0, 999999].
	ErrBadTimeout = errors.New("natthread: invalid timeout")
	// ErrTimedOut is returned by Cond.Wait when the deadline passed
	// without a notification.
	ErrTimedOut = errors.New("natthread: wait timed out")
)

// MaxNanos is the largest nanosecond remainder accepted next to a
// millisecond count.
const MaxNanos = 999_999

// ValidTimeout reports whether (millis, nanos) is an acceptable wait.
func ValidTimeout(millis int64, nanos int32) bool {
	return millis >= 0 && nanos >= 0 && nanos <= MaxNanos
}

// Duration converts (millis, nanos) to a time.Duration. Zero means no
// timeout; very large waits clamp to the longest representable duration.
func Duration(millis int64, nanos int32) (time.Duration, error) {
	if !ValidTimeout(millis, nanos) {
		return 0, ErrBadTimeout
	}
	maxMs := int64(math.MaxInt64/int64(time.Millisecond)) - 1
	if millis > maxMs {
		return time.Duration(math.MaxInt64), nil
	}
	ns, err := safecast.Conv[int64](nanos)
	if err != nil {
		return 0, ErrBadTimeout
	}
	return time.Duration(millis)*time.Millisecond + time.Duration(ns), nil
}
