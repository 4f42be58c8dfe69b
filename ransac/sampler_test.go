package ransac

import (
	"testing"
)

func TestUniformSampler_Distinct(t *testing.T) {
	s := NewUniformSampler(42)
	dst := make([]int, 7)
	for iter := 0; iter < 500; iter++ {
		if err := s.Sample(20, 7, dst); err != nil {
			t.Fatalf("Sample: %v", err)
		}
		seen := make(map[int]bool)
		for _, v := range dst {
			if v < 0 || v >= 20 {
				t.Fatalf("index %d out of range", v)
			}
			if seen[v] {
				t.Fatalf("duplicate index %d in %v", v, dst)
			}
			seen[v] = true
		}
	}
}

func TestUniformSampler_Deterministic(t *testing.T) {
	a, b := NewUniformSampler(7), NewUniformSampler(7)
	da, db := make([]int, 4), make([]int, 4)
	for iter := 0; iter < 100; iter++ {
		if err := a.Sample(50, 4, da); err != nil {
			t.Fatal(err)
		}
		if err := b.Sample(50, 4, db); err != nil {
			t.Fatal(err)
		}
		for i := range da {
			if da[i] != db[i] {
				t.Fatalf("iteration %d: %v != %v", iter, da, db)
			}
		}
	}
}

func TestUniformSampler_CoversAllIndices(t *testing.T) {
	s := NewUniformSampler(1)
	dst := make([]int, 3)
	counts := make([]int, 10)
	for iter := 0; iter < 3000; iter++ {
		if err := s.Sample(10, 3, dst); err != nil {
			t.Fatal(err)
		}
		for _, v := range dst {
			counts[v]++
		}
	}
	// each index is expected 900 times
	for i, c := range counts {
		if c < 700 || c > 1100 {
			t.Errorf("index %d drawn %d times", i, c)
		}
	}
}

func TestUniformSampler_Errors(t *testing.T) {
	s := NewUniformSampler(1)
	if err := s.Sample(3, 4, make([]int, 4)); err == nil {
		t.Error("expected error when k > n")
	}
	if err := s.Sample(10, 4, make([]int, 2)); err == nil {
		t.Error("expected error for short buffer")
	}
	if err := s.Sample(4, 4, make([]int, 4)); err != nil {
		t.Errorf("k == n should succeed: %v", err)
	}
}
