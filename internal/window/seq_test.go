package window

import "testing"

func TestSeqOffsetRoundTrip(t *testing.T) {
	// For every start and delta, the offset of start+delta from start is
	// delta again.
	for s := 0; s < MaxSeqID; s++ {
		for d := 0; d < MaxSeqID; d++ {
			start := SeqID(s)
			if got := SeqOffset(start, start.Add(d)); got != d {
				t.Fatalf("SeqOffset(%d, %d+%d) = %d, want %d", s, s, d, got, d)
			}
		}
	}
}

func TestInWindowSeq(t *testing.T) {
	cases := []struct {
		start, end, a SeqID
		want          bool
	}{
		{10, 20, 10, true},
		{10, 20, 19, true},
		{10, 20, 20, false},
		{10, 20, 9, false},
		// wrapping range [250, 256) ∪ [0, 5)
		{250, 5, 250, true},
		{250, 5, 255, true},
		{250, 5, 0, true},
		{250, 5, 4, true},
		{250, 5, 5, false},
		{250, 5, 100, false},
	}
	for _, c := range cases {
		if got := InWindowSeq(c.start, c.end, c.a); got != c.want {
			t.Errorf("InWindowSeq(%d, %d, %d) = %v, want %v",
				c.start, c.end, c.a, got, c.want)
		}
	}
}

func TestDistForward(t *testing.T) {
	if got := distForward(16, 3, 10); got != 7 {
		t.Errorf("distForward(16,3,10) = %d, want 7", got)
	}
	if got := distForward(16, 10, 3); got != 9 {
		t.Errorf("distForward(16,10,3) = %d, want 9", got)
	}
	if got := distForward(16, 5, 5); got != 0 {
		t.Errorf("distForward(16,5,5) = %d, want 0", got)
	}
}

func TestWrap(t *testing.T) {
	if got := wrap(20, 16); got != 4 {
		t.Errorf("wrap(20,16) = %d, want 4", got)
	}
	if got := wrap(-1, 16); got != 15 {
		t.Errorf("wrap(-1,16) = %d, want 15", got)
	}
}
