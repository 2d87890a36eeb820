package protocol

import "testing"

func TestQuantizePeriod(t *testing.T) {
	tests := []struct {
		in, want uint32
	}{
		{0, 500},
		{500, 500},
		{501, 500},
		{5000, 5000},
		{10700, 10500},
		{10200, 10000},
		{19999, 19500},
		{20000, 20000},
		{21300, 20000},
		{23900, 22500},
		{66666, 65000},
		{InfinitePeriod, 4294962500},
	}
	for _, tt := range tests {
		got := QuantizePeriod(tt.in)
		if got != tt.want {
			t.Errorf("QuantizePeriod(%d) = %d, want %d", tt.in, got, tt.want)
		}
		if !IsQuantized(got) {
			t.Errorf("QuantizePeriod(%d) = %d is not a hardware quantum", tt.in, got)
		}
	}
}

func TestQuantizeNeverExceedsInput(t *testing.T) {
	for p := uint32(500); p < 200000; p += 37 {
		if q := QuantizePeriod(p); q > p {
			t.Fatalf("QuantizePeriod(%d) = %d exceeds input", p, q)
		}
	}
}
