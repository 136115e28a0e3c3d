package wallet

import (
	"errors"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{"100.000", 100_000, false},
		{"100", 100_000, false},
		{"0.001", 1, false},
		{"0.025", 25, false},
		{"0.5", 500, false},
		{"7.25", 7_250, false},
		{"0", 0, false},
		{"", 0, true},
		{".", 0, true},
		{".5", 0, true},
		{"100.", 0, true},
		{"-1", 0, true},
		{"1.0005", 0, true},
		{"12a.5", 0, true},
		{"1.x", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAmount(%q) = %v, want error", tt.in, got)
			} else if !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("ParseAmount(%q) error = %v, want ErrInvalidAmount", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAmount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAmountString(t *testing.T) {
	tests := []struct {
		in   Amount
		want string
	}{
		{100_000, "100.000"},
		{1, "0.001"},
		{25, "0.025"},
		{7_250, "7.250"},
		{0, "0.000"},
		{-1_500, "-1.500"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("Amount(%d).String() = %q, want %q", int64(tt.in), got, tt.want)
		}
	}
}

func TestParseAmount_RoundTrip(t *testing.T) {
	for _, s := range []string{"0.000", "0.001", "99.999", "100.000", "12345.678"} {
		a, err := ParseAmount(s)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", s, err)
		}
		if got := a.String(); got != s {
			t.Errorf("round trip %q -> %q", s, got)
		}
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		risk     int
		wantTier string
		wantFee  Amount
	}{
		{0, TierLow, 1},
		{39, TierLow, 1},
		{40, TierStandard, 5},
		{69, TierStandard, 5},
		{70, TierElevated, 10},
		{89, TierElevated, 10},
		{90, TierCritical, 25},
		{100, TierCritical, 25},
	}
	for _, tt := range tests {
		tier, fee := TierFor(tt.risk)
		if tier != tt.wantTier || fee != tt.wantFee {
			t.Errorf("TierFor(%d) = (%s, %s), want (%s, %s)", tt.risk, tier, fee, tt.wantTier, tt.wantFee)
		}
	}
}
