package audioconv

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func sine(n, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return out
}

func TestWriteWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	in := sine(TargetRate/2, TargetRate)

	if err := WriteWAV(path, in, TargetRate); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}

	out, err := DecodeFile(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if d := math.Abs(float64(out[i] - in[i])); d > 1e-3 {
			t.Fatalf("sample %d = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestDecodeFileResamplesAndTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hi.wav")
	if err := WriteWAV(path, sine(32000, 32000), 32000); err != nil {
		t.Fatal(err)
	}

	out, err := DecodeFile(context.Background(), path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != TargetRate {
		t.Errorf("len = %d, want %d after resampling", len(out), TargetRate)
	}

	out, err = DecodeFile(context.Background(), path, Options{MaxSamples: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 100 {
		t.Errorf("len = %d, want 100", len(out))
	}
}

func TestDecodeFileUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello there"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := DecodeFile(context.Background(), path, Options{})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestDownmix(t *testing.T) {
	got := downmix([]float32{1, 0, 0.5, 0.5}, 2)
	want := []float32{0.5, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("downmix[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
