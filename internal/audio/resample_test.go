package audio

import (
	"math"
	"testing"
)

func TestResample_Identity(t *testing.T) {
	input := []float64{0.1, -0.2, 0.3, -0.4, 0.5}
	for _, rate := range []int{8000, 16000, 24000, 48000} {
		out := Resample(input, rate, rate)
		if len(out) != len(input) {
			t.Fatalf("Expected length %d at %d Hz, got %d", len(input), rate, len(out))
		}
		for i := range input {
			if out[i] != input[i] {
				t.Errorf("Expected identity at index %d, got %f", i, out[i])
			}
		}
	}

	out := Resample(input, 8000, 8000)
	out[0] = 99
	if input[0] != 0.1 {
		t.Error("Expected identity resample to return a copy")
	}
}

func TestResample_Length(t *testing.T) {
	tests := []struct {
		n       int
		in, out int
	}{
		{160, 8000, 24000},
		{480, 24000, 8000},
		{100, 8000, 16000},
		{101, 16000, 8000},
		{7, 44100, 8000},
		{960, 48000, 24000},
	}

	for _, tt := range tests {
		input := make([]float64, tt.n)
		got := len(Resample(input, tt.in, tt.out))
		want := tt.n * tt.out / tt.in
		if got < want-1 || got > want+1 {
			t.Errorf("Resample(%d, %d->%d): expected length %d, got %d", tt.n, tt.in, tt.out, want, got)
		}
	}
}

func TestResample_Interpolates(t *testing.T) {
	// Upsampling 1:2 places midpoints between neighbours.
	out := Resample([]float64{0, 1, 0}, 8000, 16000)
	expected := []float64{0, 0.5, 1, 0.5, 0, 0}
	if len(out) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(out))
	}
	for i := range expected {
		if math.Abs(out[i]-expected[i]) > 1e-12 {
			t.Errorf("Expected %f at index %d, got %f", expected[i], i, out[i])
		}
	}
}

func TestResample_DoesNotMutateInput(t *testing.T) {
	input := []float64{0.25, 0.5, 0.75, 1}
	snapshot := append([]float64(nil), input...)
	Resample(input, 24000, 8000)
	Resample(input, 8000, 24000)
	for i := range input {
		if input[i] != snapshot[i] {
			t.Errorf("Input mutated at index %d", i)
		}
	}
}

func TestResample_DegenerateInputs(t *testing.T) {
	if out := Resample(nil, 8000, 24000); len(out) != 0 {
		t.Errorf("Expected empty output for empty input, got %d", len(out))
	}
	if out := Resample([]float64{1, 2}, 0, 8000); len(out) != 0 {
		t.Errorf("Expected empty output for zero input rate, got %d", len(out))
	}
	if out := Resample([]float64{1, 2}, 8000, -1); len(out) != 0 {
		t.Errorf("Expected empty output for negative output rate, got %d", len(out))
	}
	if out := Resample([]float64{0.3}, 8000, 48000); len(out) != 6 || out[5] != 0.3 {
		t.Errorf("Expected single sample to be held, got %v", out)
	}
}

func TestFrameSize(t *testing.T) {
	if got := FrameSize(8000, 20); got != 320 {
		t.Errorf("Expected 320 bytes for 8 kHz/20 ms, got %d", got)
	}
	if got := FrameSize(8000, 10); got != 160 {
		t.Errorf("Expected 160 bytes for 8 kHz/10 ms, got %d", got)
	}
	if got := FrameSize(24000, 20); got != 960 {
		t.Errorf("Expected 960 bytes for 24 kHz/20 ms, got %d", got)
	}
}
