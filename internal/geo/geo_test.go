package geo

import (
	"math"
	"testing"
)

func TestDistanceKmZero(t *testing.T) {
	if d := DistanceKm(48.8566, 2.3522, 48.8566, 2.3522); d != 0 {
		t.Fatalf("expected 0 for identical points, got %f", d)
	}
}

func TestDistanceKmSymmetric(t *testing.T) {
	a := DistanceKm(48.8566, 2.3522, 51.5074, -0.1278)
	b := DistanceKm(51.5074, -0.1278, 48.8566, 2.3522)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("distance not symmetric: %f vs %f", a, b)
	}
}

func TestDistanceKmParisLondon(t *testing.T) {
	// Great-circle distance Paris to London is about 344 km.
	d := DistanceKm(48.8566, 2.3522, 51.5074, -0.1278)
	if d < 330 || d > 355 {
		t.Fatalf("expected roughly 344 km, got %f", d)
	}
}

func TestDistanceKmAntipodal(t *testing.T) {
	// Opposite points on the globe are half the circumference apart.
	d := DistanceKm(0, 0, 0, 180)
	if d < 20000 || d > 20050 {
		t.Fatalf("expected roughly 20015 km, got %f", d)
	}
}
