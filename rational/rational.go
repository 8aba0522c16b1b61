// Package rational implements exact frame-index/millisecond timebase
// conversion for a fixed output frame rate, with explicit rounding modes.
package rational

import "fmt"

// Rate is a frame rate expressed as an exact fraction (num/den), e.g. 30000/1001
// for 29.97 fps. Both fields must be positive for a Rate to be valid.
type Rate struct {
	Num int64
	Den int64
}

// Valid reports whether r has a positive numerator and denominator.
func (r Rate) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Float64 returns the rate as frames per second.
func (r Rate) Float64() float64 {
	return float64(r.Num) / float64(r.Den)
}

func (r Rate) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// RoundMode selects how ms-to-frame conversion resolves the fractional
// remainder.
type RoundMode int

const (
	Floor RoundMode = iota
	Round
	Ceil
)

// MillisecToFrameIndex converts a millisecond position to a frame index at
// rate r, applying the given rounding mode. Negative ms values are supported
// (reverse-playback positions) and round consistently with their positive
// counterparts.
func MillisecToFrameIndex(ms int64, r Rate, mode RoundMode) int64 {
	// idx = ms * num / (1000 * den), computed in rationals to avoid float
	// drift at long durations.
	num := ms * r.Num
	den := 1000 * r.Den
	switch mode {
	case Floor:
		return floorDiv(num, den)
	case Ceil:
		return -floorDiv(-num, den)
	default: // Round
		return floorDiv(2*num+den, 2*den)
	}
}

// FrameIndexToMillisec converts a frame index at rate r back to milliseconds,
// floor-rounded to the nearest whole millisecond.
func FrameIndexToMillisec(idx int64, r Rate) int64 {
	num := idx * 1000 * r.Den
	return floorDiv(num, r.Num)
}

// FrameDurationMillisec returns ceil(1000*den/num), the duration of one
// frame in integer milliseconds, rounded up so that a full frame is never
// under-represented.
func FrameDurationMillisec(r Rate) int64 {
	return -floorDiv(-1000*r.Den, r.Num)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
