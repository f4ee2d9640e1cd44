package extract

import "testing"

func TestInferCategory(t *testing.T) {
	tests := []struct {
		merchant *string
		want     string
	}{
		{strPtr("SWIGGY"), "food"},
		{strPtr("Swiggy Instamart"), "food"},
		{strPtr("Amazon Prime Video"), "entertainment"},
		{strPtr("AMAZON PAY INDIA"), "shopping"},
		{strPtr("BESCOM"), "utilities"},
		{strPtr("OLA CABS"), "transport"},
		{strPtr("Motorola Store"), Uncategorized},
		{strPtr("   "), Uncategorized},
		{nil, Uncategorized},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.merchant != nil {
			name = *tt.merchant
		}
		t.Run(name, func(t *testing.T) {
			if got := InferCategory(tt.merchant); got != tt.want {
				t.Errorf("InferCategory(%q) = %q, want %q", name, got, tt.want)
			}
		})
	}
}
