package rational

import "testing"

func TestMillisecRoundTrip(t *testing.T) {
	t.Parallel()

	r := Rate{Num: 30, Den: 1}
	for ms := int64(-1000); ms <= 1000; ms += 7 {
		idx := MillisecToFrameIndex(ms, r, Round)
		back := FrameIndexToMillisec(idx, r)
		diff := back - ms
		if diff < 0 {
			diff = -diff
		}
		half := FrameDurationMillisec(r)/2 + 1
		if diff > half {
			t.Errorf("ms=%d idx=%d back=%d diff=%d exceeds half-frame %d", ms, idx, back, diff, half)
		}
	}
}

func TestMillisecToFrameIndexFloorCeil(t *testing.T) {
	t.Parallel()

	r := Rate{Num: 30, Den: 1} // 1 frame = 33.33ms
	cases := []struct {
		ms         int64
		floor, ceil int64
	}{
		{0, 0, 0},
		{33, 0, 1},
		{34, 1, 2},
		{-1, -1, 0},
	}
	for _, c := range cases {
		if got := MillisecToFrameIndex(c.ms, r, Floor); got != c.floor {
			t.Errorf("floor(%d) = %d, want %d", c.ms, got, c.floor)
		}
		if got := MillisecToFrameIndex(c.ms, r, Ceil); got != c.ceil {
			t.Errorf("ceil(%d) = %d, want %d", c.ms, got, c.ceil)
		}
	}
}

func TestFrameIndexToMillisecNTSC(t *testing.T) {
	t.Parallel()

	r := Rate{Num: 30000, Den: 1001}
	if got := FrameIndexToMillisec(30, r); got != 1001 {
		t.Errorf("FrameIndexToMillisec(30) = %d, want 1001", got)
	}
}

func TestRateValid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		r    Rate
		want bool
	}{
		{Rate{30, 1}, true},
		{Rate{0, 1}, false},
		{Rate{30, 0}, false},
		{Rate{-1, 1}, false},
	}
	for _, c := range cases {
		if got := c.r.Valid(); got != c.want {
			t.Errorf("Rate%+v.Valid() = %v, want %v", c.r, got, c.want)
		}
	}
}
