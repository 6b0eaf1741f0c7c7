package domain

import (
	"errors"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"100", 10000, false},
		{"100.50", 10050, false},
		{"0.01", 1, false},
		{"2500.00", 250000, false},
		{"0", 0, true},
		{"-5", 0, true},
		{"1.005", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.wantErr {
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Errorf("ParseAmount(%q): want ValidationError, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseAmount(%q)=%d want %d", tc.in, got, tc.want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	cases := map[int64]string{
		0:      "0.00",
		1:      "0.01",
		10050:  "100.50",
		250000: "2500.00",
	}
	for cents, want := range cases {
		if got := FormatAmount(cents); got != want {
			t.Errorf("FormatAmount(%d)=%q want %q", cents, got, want)
		}
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"0.01", "19.99", "6000.00"} {
		cents, err := ParseAmount(s)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", s, err)
		}
		if got := FormatAmount(cents); got != s {
			t.Errorf("round trip %q -> %d -> %q", s, cents, got)
		}
	}
}
