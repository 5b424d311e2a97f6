package registry

import (
	"math/big"
	"testing"
)

func TestParseNative(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1", want: "1000000000000000000"},
		{in: "1.5", want: "1500000000000000000"},
		{in: "0.05", want: "50000000000000000"},
		{in: "0", want: "0"},
		{in: "0.000000000000000001", want: "1"},
		{in: "-1", wantErr: true},
		{in: "0.0000000000000000001", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseNative(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseNative(%q) expected error, got %s", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseNative(%q) failed: %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseNative(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFormatNative(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	if got := FormatNative(v); got != "1.5" {
		t.Errorf("FormatNative = %s, want 1.5", got)
	}
	if got := FormatNative(nil); got != "0" {
		t.Errorf("FormatNative(nil) = %s, want 0", got)
	}
}

func TestParseAmount_RejectsCorruptValues(t *testing.T) {
	for _, in := range []string{"", "-5", "1.5", "0x10", "ten"} {
		if _, err := ParseAmount(in); err == nil {
			t.Errorf("ParseAmount(%q) expected error", in)
		}
	}

	got, err := ParseAmount("123456789012345678901234567890")
	if err != nil {
		t.Fatalf("ParseAmount failed: %v", err)
	}
	if FormatAmount(got) != "123456789012345678901234567890" {
		t.Errorf("round trip mismatch: %s", got)
	}
}
