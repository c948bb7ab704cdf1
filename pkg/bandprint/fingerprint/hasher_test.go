package fingerprint

import (
	"errors"
	"testing"
)

func TestEncodeKnownValue(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	// distances 0,2,10,20,30,20 quantize to 0,1,5,10,15,10 in base 1000
	got, err := e.Encode([]int{32, 38, 70, 100, 150, 300})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	const want Fingerprint = 10015010005001000
	if got != want {
		t.Errorf("Encode() = %d, want %d", got, want)
	}
}

func TestEncodeFuzzTolerance(t *testing.T) {
	e := newTestEngine(t, Config{
		WindowSize: 1024,
		Bands:      []int{32, 40, 60, 80, 100, 120, 180, 320},
		Fuzz:       8,
	})

	base := []int{32, 40, 62, 84, 104, 122, 184, 322}
	near := []int{34, 42, 64, 86, 106, 124, 186, 324}

	a, err := e.Encode(base)
	if err != nil {
		t.Fatalf("Encode(base) error: %v", err)
	}
	b, err := e.Encode(near)
	if err != nil {
		t.Fatalf("Encode(near) error: %v", err)
	}
	if a != b {
		t.Errorf("peaks within the fuzz factor encoded differently: %d vs %d", a, b)
	}

	for band := range base {
		moved := append([]int(nil), base...)
		moved[band] += 8
		c, err := e.Encode(moved)
		if err != nil {
			t.Fatalf("Encode(band %d moved) error: %v", band, err)
		}
		if c == a {
			t.Errorf("moving band %d by the fuzz factor did not change the fingerprint", band)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	peaks := []int{32, 33, 41, 119, 121, 319}

	first, err := e.Encode(peaks)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := e.Encode(peaks)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("Encode() not deterministic: %d vs %d", again, first)
		}
	}
}

func TestEncodeHighBandIsMostSignificant(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	low, _ := e.Encode([]int{0, 40, 80, 120, 180, 320})
	high, _ := e.Encode([]int{32, 40, 80, 120, 180, 318})
	if high <= low {
		t.Errorf("a step in the highest band (%d) should outweigh the whole lowest band (%d)", high, low)
	}
}

func TestEncodeErrors(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	if _, err := e.Encode([]int{32, 40}); !errors.Is(err, ErrBandCount) {
		t.Errorf("short peaks: error = %v, want ErrBandCount", err)
	}
	if _, err := e.Encode([]int{32, 40, 80, 120, 180, 3000}); !errors.Is(err, ErrPeakOutOfRange) {
		t.Errorf("far peak: error = %v, want ErrPeakOutOfRange", err)
	}
}

func TestDigitBase(t *testing.T) {
	tests := []struct {
		max  int
		want uint64
	}{
		{0, 10},
		{9, 10},
		{10, 100},
		{40, 100},
		{160, 1000},
		{999, 1000},
	}
	for _, tt := range tests {
		if got := digitBase(tt.max); got != tt.want {
			t.Errorf("digitBase(%d) = %d, want %d", tt.max, got, tt.want)
		}
	}
}
