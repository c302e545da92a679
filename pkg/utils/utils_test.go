package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	NormalizeL2(v)
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("expected (0.6, 0.8), got (%v, %v)", v[0], v[1])
	}

	var norm float32
	for _, x := range v {
		norm += x * x
	}
	if math.Abs(float64(norm)-1.0) > 1e-6 {
		t.Errorf("expected unit norm, got %v", norm)
	}
}

func TestNormalizeL2Zero(t *testing.T) {
	v := []float32{0, 0, 0}
	NormalizeL2(v)
	for i, x := range v {
		if x != 0 {
			t.Errorf("zero vector changed at %d: %v", i, x)
		}
	}
}

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string should be unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 disables truncation")
	}
}

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{true, false} {
		logger, err := NewLogger(debug)
		if err != nil {
			t.Fatalf("NewLogger(%v) error: %v", debug, err)
		}
		if logger == nil {
			t.Fatalf("NewLogger(%v) returned nil", debug)
		}
		_ = logger.Sync()
	}
}
