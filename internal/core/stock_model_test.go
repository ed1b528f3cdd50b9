package core_test

import (
	"testing"

	"backoffice/internal/core"
)

func TestStockLevel_Flags(t *testing.T) {
	tests := []struct {
		name          string
		onHand        string
		reserved      string
		threshold     string
		wantNegative  bool
		wantBelow     bool
		wantAvailable string
	}{
		{"healthy", "10", "2", "5", false, false, "8"},
		{"at threshold", "5", "0", "5", false, false, "5"},
		{"below threshold", "4.999", "0", "5", false, true, "4.999"},
		{"negative is also below a zero threshold", "-3", "0", "0", true, true, "-3"},
		{"fully reserved", "6", "6", "0", false, false, "0"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lvl := core.StockLevel{
				QtyOnHand:    d(tc.onHand),
				QtyReserved:  d(tc.reserved),
				MinThreshold: d(tc.threshold),
			}
			if got := lvl.IsNegative(); got != tc.wantNegative {
				t.Errorf("IsNegative() = %v, want %v", got, tc.wantNegative)
			}
			if got := lvl.IsBelowThreshold(); got != tc.wantBelow {
				t.Errorf("IsBelowThreshold() = %v, want %v", got, tc.wantBelow)
			}
			if got := lvl.AvailableQty(); !got.Equal(d(tc.wantAvailable)) {
				t.Errorf("AvailableQty() = %s, want %s", got, tc.wantAvailable)
			}
		})
	}
}
