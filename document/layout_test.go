package document

import "testing"

func TestScaleToFit_WidthBound(t *testing.T) {
	// 400x100 px against a 100x40 pt box: width is the binding side.
	scale := ScaleToFit(400, 100, 100, 40)
	if scale != 0.25 {
		t.Fatalf("expected scale 0.25, got %v", scale)
	}

	p := ComputePlacement(1, 400, 100)
	if p.SigW != 100 || p.SigH != 25 {
		t.Fatalf("expected 100x25 final size, got %vx%v", p.SigW, p.SigH)
	}
}

func TestScaleToFit_NeverUpscales(t *testing.T) {
	if scale := ScaleToFit(50, 10, 100, 40); scale != 1 {
		t.Fatalf("small images must keep natural size, got scale %v", scale)
	}
}

func TestScaleToFit_HeightBound(t *testing.T) {
	if scale := ScaleToFit(100, 80, 100, 40); scale != 0.5 {
		t.Fatalf("expected height-bound scale 0.5, got %v", scale)
	}
}

func TestComputePlacement_ShortDocumentBottomQuarter(t *testing.T) {
	p := ComputePlacement(1, 400, 100)
	if p.SigY >= PageHeightPt/4 {
		t.Fatalf("1-page signature Y %.1f must sit in the bottom quarter (< %.1f)", p.SigY, PageHeightPt/4)
	}
	if p.DateY >= PageHeightPt/4 {
		t.Fatalf("1-page date Y %.1f must sit in the bottom quarter", p.DateY)
	}

	p2 := ComputePlacement(2, 400, 100)
	if p2.SigY != p.SigY {
		t.Fatalf("2-page documents use the short-document placement")
	}
}

func TestComputePlacement_LongDocumentTopQuarter(t *testing.T) {
	p := ComputePlacement(4, 400, 100)
	if p.SigY <= PageHeightPt*3/4 {
		t.Fatalf("4-page signature Y %.1f must sit in the top quarter (> %.1f)", p.SigY, PageHeightPt*3/4)
	}

	p3 := ComputePlacement(3, 400, 100)
	if p3.SigY != p.SigY {
		t.Fatalf("the top-of-page layout starts at 3 pages")
	}
}

func TestComputePlacement_ConversionRatio(t *testing.T) {
	p := ComputePlacement(1, 100, 40)
	// Left margin is 20mm from the generator's layout.
	if got := p.SigX; got != 20*2.835 {
		t.Fatalf("expected x=20mm in points (%.2f), got %.2f", 20*2.835, got)
	}
}

func TestFormatMoney(t *testing.T) {
	cases := []struct {
		code string
		v    float64
		want string
	}{
		{"USD", 2240, "USD 2,240.00"},
		{"php", 1234567.5, "PHP 1,234,567.50"},
		{"EUR", 0, "EUR 0.00"},
		{"USD", -150.25, "USD -150.25"},
		{"USD", 999.999, "USD 1,000.00"},
	}
	for _, tc := range cases {
		if got := FormatMoney(tc.code, tc.v); got != tc.want {
			t.Errorf("FormatMoney(%q, %v) = %q, want %q", tc.code, tc.v, got, tc.want)
		}
	}
}
