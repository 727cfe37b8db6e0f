package rupiah

import (
	"math"
	"testing"
)

func TestFormat(t *testing.T) {
	cases := map[int64]string{
		0:         "Rp 0",
		100:       "Rp 100",
		1000:      "Rp 1.000",
		20000:     "Rp 20.000",
		25657000:  "Rp 25.657.000",
		100000000: "Rp 100.000.000",
		-30000:    "-Rp 30.000",
	}
	for in, want := range cases {
		if got := Format(in); got != want {
			t.Fatalf("Format(%d): expected %q got %q", in, want, got)
		}
	}
}

func TestGroupNegative(t *testing.T) {
	if got := Group(-1234567); got != "-1.234.567" {
		t.Fatalf("expected -1.234.567 got %q", got)
	}
}

func TestExtremes(t *testing.T) {
	cases := []struct {
		in          int64
		group, full string
	}{
		{math.MinInt64, "-9.223.372.036.854.775.808", "-Rp 9.223.372.036.854.775.808"},
		{math.MaxInt64, "9.223.372.036.854.775.807", "Rp 9.223.372.036.854.775.807"},
	}
	for _, c := range cases {
		if got := Group(c.in); got != c.group {
			t.Fatalf("Group(%d): expected %q got %q", c.in, c.group, got)
		}
		if got := Format(c.in); got != c.full {
			t.Fatalf("Format(%d): expected %q got %q", c.in, c.full, got)
		}
	}
}
