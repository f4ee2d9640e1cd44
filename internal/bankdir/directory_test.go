package bankdir

import (
	"strings"
	"testing"
)

func TestNormalizeSender(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"VM-HDFCBK", "HDFCBK"},
		{"jd-hdfcbk", "HDFCBK"},
		{"AD-ICICIB-S", "ICICIBS"},
		{"HDFCBK", "HDFCBK"},
		{"  BP-SBIINB ", "SBIINB"},
		{"AX-PAY-TM", "PAYTM"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeSender(tt.in); got != tt.want {
				t.Errorf("NormalizeSender(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFindBySender(t *testing.T) {
	d := Default()

	tests := []struct {
		sender   string
		wantCode string
		wantOK   bool
	}{
		{"VM-HDFCBK", "HDFC", true},
		{"JD-HDFCBK", "HDFC", true},
		{"AD-ICICIB-S", "ICICI", true},
		{"SBIINB", "SBI", true},
		{"VK-HDFCBANK", "HDFC", true},
		{"TX-KOTAKB", "KOTAK", true},
		{"VM-FOOBAR", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.sender, func(t *testing.T) {
			b, ok := d.FindBySender(tt.sender)
			if ok != tt.wantOK {
				t.Fatalf("FindBySender(%q) ok = %v, want %v", tt.sender, ok, tt.wantOK)
			}
			if ok && b.Code != tt.wantCode {
				t.Errorf("FindBySender(%q) = %s, want %s", tt.sender, b.Code, tt.wantCode)
			}
		})
	}
}

func TestByCodeAndIsKnownPattern(t *testing.T) {
	d := Default()

	b, ok := d.ByCode("hdfc")
	if !ok || b.Name != "HDFC Bank" || b.Color == "" {
		t.Fatalf("ByCode(hdfc) = %+v, %v", b, ok)
	}

	if !d.IsKnownPattern("HDFC", "VM-HDFCBK") {
		t.Error("VM-HDFCBK should be a known HDFC pattern")
	}
	if !d.IsKnownPattern("HDFC", "AD-HDFCBK-S") {
		t.Error("AD-HDFCBK-S is covered by the HDFCBK pattern")
	}
	if d.IsKnownPattern("ICICI", "VM-HDFCBK") {
		t.Error("HDFCBK is not an ICICI pattern")
	}
	if d.IsKnownPattern("HDFC", "VK-HDFCBANK") {
		t.Error("HDFCBANK is not a registered pattern")
	}
	if d.IsKnownPattern("NOPE", "HDFCBK") {
		t.Error("unknown bank code cannot own patterns")
	}
}

func TestReturnedBanksAreCopies(t *testing.T) {
	d := Default()
	b, _ := d.ByCode("HDFC")
	b.SenderPatterns[0] = "MUTATED"

	again, _ := d.ByCode("HDFC")
	if again.SenderPatterns[0] == "MUTATED" {
		t.Error("directory state leaked through ByCode")
	}
}

func TestLoad(t *testing.T) {
	d, err := Load(strings.NewReader(`[{"code":"xyz","name":"XYZ Bank","sender_patterns":["vm-xyzbnk"],"color":"#000"}]`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, ok := d.FindBySender("JD-XYZBNK")
	if !ok || b.Code != "XYZ" {
		t.Errorf("FindBySender = %+v, %v", b, ok)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"malformed":  `{`,
		"no code":    `[{"name":"X"}]`,
		"duplicates": `[{"code":"A","name":"A"},{"code":"a","name":"B"}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(strings.NewReader(body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
