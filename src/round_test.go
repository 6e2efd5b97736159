package gateway

import (
	"testing"

	"pgregory.net/rapid"
)

func TestRoundTo4Basics(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{1.23451, 1.2345},
		{1.23456, 1.2346},
		{-1.23456, -1.2346},
		{0, 0},
		{45.00012, 45.0001},
	}

	for _, c := range cases {
		if got := RoundTo4(c.in); got != c.want {
			t.Errorf("RoundTo4(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestRoundTo4Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Float64Range(-180, 180).Draw(t, "v")

		once := RoundTo4(v)
		twice := RoundTo4(once)

		if once != twice {
			t.Fatalf("RoundTo4 not idempotent: RoundTo4(%v)=%v, RoundTo4(that)=%v", v, once, twice)
		}
	})
}
