package domain

import "testing"

func TestToMinorUnits(t *testing.T) {
	cases := map[float64]int64{10: 1000, 0.1 + 0.2: 30, 12.345: 1235, 5.5: 550, 0: 0}
	for in, want := range cases {
		if got := ToMinorUnits(in); got != want {
			t.Fatalf("ToMinorUnits(%v): expected %d, got %d", in, want, got)
		}
	}
}

func TestFormatAndParseMinorUnits(t *testing.T) {
	if got := FormatMinorUnits(2500); got != "25.00" {
		t.Fatalf("expected 25.00, got %s", got)
	}
	cents, err := ParseMinorUnits("12.30")
	if err != nil || cents != 1230 {
		t.Fatalf("expected 1230, got %d (%v)", cents, err)
	}
	if _, err := ParseMinorUnits("abc"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestComputeTotalUsesSalePrice(t *testing.T) {
	sale := int64(800)
	zero := int64(0)
	items := []OrderLineItem{
		{ProductID: "p1", Price: 1000, SalePrice: &sale, Quantity: 2},
		{ProductID: "p2", Price: 500, SalePrice: &zero, Quantity: 1},
	}
	if got := ComputeTotal(items); got != 2100 {
		t.Fatalf("expected 2100, got %d", got)
	}
}
