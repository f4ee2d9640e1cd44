package currency

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"500", "500", false},
		{"1,500.50", "1500.5", false},
		{"1,23,456.00", "123456", false},
		{" 75,000 ", "75000", false},
		{"500.", "500", false},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParsePositive(t *testing.T) {
	if _, ok := ParsePositive("0.00"); ok {
		t.Error("zero must not be positive")
	}
	if d, ok := ParsePositive("12.5"); !ok || d.String() != "12.5" {
		t.Errorf("ParsePositive(12.5) = %s, %v", d, ok)
	}
}

func TestWithinTolerance(t *testing.T) {
	tol := decimal.NewFromInt(5)
	if !WithinTolerance(decimal.NewFromInt(995), decimal.NewFromInt(1000), tol) {
		t.Error("995 should be within 5 of 1000")
	}
	if WithinTolerance(decimal.RequireFromString("994.99"), decimal.NewFromInt(1000), tol) {
		t.Error("994.99 should be outside 5 of 1000")
	}
}

func TestFormat(t *testing.T) {
	if got := Format(decimal.NewFromInt(1500)); got != "INR 1500.00" {
		t.Errorf("Format = %s", got)
	}
}
