package mux

import "testing"

func TestMatchRangeBoundaries(t *testing.T) {
	m := MatchRange(20, 63)
	if m([]byte{19}) {
		t.Error("expected 19 to be outside [20,63]")
	}
	if !m([]byte{20}) {
		t.Error("expected 20 to be inside [20,63]")
	}
	if !m([]byte{63}) {
		t.Error("expected 63 to be inside [20,63]")
	}
	if m([]byte{64}) {
		t.Error("expected 64 to be outside [20,63]")
	}
	if m([]byte{}) {
		t.Error("expected empty buffer to never match")
	}
}

func TestMatchSTUNDTLSSRTPPartitionTheByteSpace(t *testing.T) {
	cases := []struct {
		b                         byte
		stun, dtls, srtp, matched bool
	}{
		{0, true, false, false, true},
		{3, true, false, false, true},
		{4, false, false, false, false},
		{19, false, false, false, false},
		{20, false, true, false, true},
		{63, false, true, false, true},
		{64, false, false, false, false},
		{127, false, false, false, false},
		{128, false, false, true, true},
		{191, false, false, true, true},
		{192, false, false, false, false},
		{255, false, false, false, false},
	}

	for _, c := range cases {
		buf := []byte{c.b}
		if got := MatchSTUN(buf); got != c.stun {
			t.Errorf("MatchSTUN(%d) = %v, want %v", c.b, got, c.stun)
		}
		if got := MatchDTLS(buf); got != c.dtls {
			t.Errorf("MatchDTLS(%d) = %v, want %v", c.b, got, c.dtls)
		}
		if got := MatchSRTP(buf); got != c.srtp {
			t.Errorf("MatchSRTP(%d) = %v, want %v", c.b, got, c.srtp)
		}
	}
}
