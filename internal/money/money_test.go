package money

import (
	"math"
	"testing"
)

func TestUsdToMicro(t *testing.T) {
	tests := []struct {
		name    string
		usd     float64
		want    uint64
		wantErr bool
	}{
		{name: "whole dollar", usd: 1, want: 1_000_000},
		{name: "fractional", usd: 0.001, want: 1000},
		{name: "six decimals", usd: 0.000001, want: 1},
		{name: "floors below one micro", usd: 0.0000019, want: 1},
		{name: "zero", usd: 0, want: 0},
		{name: "large", usd: 12345.678901, want: 12_345_678_901},
		{name: "negative", usd: -0.01, wantErr: true},
		{name: "nan", usd: math.NaN(), wantErr: true},
		{name: "inf", usd: math.Inf(1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UsdToMicro(tt.usd)
			if (err != nil) != tt.wantErr {
				t.Fatalf("UsdToMicro(%v) error = %v, wantErr %v", tt.usd, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("UsdToMicro(%v) = %d, want %d", tt.usd, got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	// Amounts with at most six fractional digits survive the round trip exactly.
	for _, usd := range []float64{0, 0.000001, 0.001, 0.5, 1, 42.123456, 999999.999999} {
		micro, err := UsdToMicro(usd)
		if err != nil {
			t.Fatalf("UsdToMicro(%v): %v", usd, err)
		}
		if got := MicroToUsd(micro); got != usd {
			t.Errorf("MicroToUsd(UsdToMicro(%v)) = %v", usd, got)
		}
	}
}

func TestParseUSD(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "1.50", want: 1_500_000},
		{in: "$0.001", want: 1000},
		{in: " $1,234.56 ", want: 1_234_560_000},
		{in: "0", want: 0},
		{in: "", wantErr: true},
		{in: "$", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "-1", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseUSD(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseUSD(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseUSD(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormatMicro(t *testing.T) {
	tests := []struct {
		micro uint64
		want  string
	}{
		{micro: 1_000_000, want: "1.00"},
		{micro: 1_500_000, want: "1.50"},
		{micro: 1000, want: "0.001"},
		{micro: 1, want: "0.000001"},
		{micro: 0, want: "0.00"},
	}
	for _, tt := range tests {
		if got := FormatMicro(tt.micro); got != tt.want {
			t.Errorf("FormatMicro(%d) = %q, want %q", tt.micro, got, tt.want)
		}
	}
}

func TestSufficient(t *testing.T) {
	if !Sufficient(1000, 1000) {
		t.Error("exact payment should be sufficient")
	}
	if !Sufficient(2000, 1000) {
		t.Error("overpayment should be sufficient")
	}
	if Sufficient(500, 1000) {
		t.Error("underpayment should not be sufficient")
	}
}
