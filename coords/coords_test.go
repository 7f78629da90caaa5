package coords

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestMultiplyAppliesLeftFirst(t *testing.T) {
	// Scale then translate: (1,1) -> (2,2) -> (12,2)
	m := Scale(2, 2).Multiply(Translate(10, 0))
	p := m.Transform(Point{1, 1})
	if !near(p.X, 12) || !near(p.Y, 2) {
		t.Fatalf("got %+v", p)
	}
}

func TestInverse(t *testing.T) {
	m := Matrix{2, 1, -1, 3, 5, 7}
	inv, err := m.Inverse()
	if err != nil {
		t.Fatal(err)
	}
	id := m.Multiply(inv)
	for i, want := range Identity() {
		if !near(id[i], want) {
			t.Fatalf("m*inv = %v", id)
		}
	}
	if _, err := (Matrix{1, 2, 2, 4, 0, 0}).Inverse(); err == nil {
		t.Fatalf("expected singular matrix error")
	}
}

func TestRotateDegreesExact(t *testing.T) {
	tests := []struct {
		deg  float64
		want Point
	}{
		{0, Point{1, 0}},
		{90, Point{0, 1}},
		{180, Point{-1, 0}},
		{-90, Point{0, -1}},
		{450, Point{0, 1}},
	}
	for _, tt := range tests {
		got := RotateDegrees(tt.deg).Transform(Point{1, 0})
		if got != tt.want {
			t.Errorf("rotate %v: got %+v want %+v", tt.deg, got, tt.want)
		}
	}
	p := RotateDegrees(45).Transform(Point{1, 0})
	if !near(p.X, math.Sqrt2/2) || !near(p.Y, math.Sqrt2/2) {
		t.Errorf("rotate 45: %+v", p)
	}
}

func TestRect(t *testing.T) {
	r := NewRect(100, 200, 0, 0)
	if r.Width() != 100 || r.Height() != 200 || r.Center() != (Point{50, 100}) {
		t.Fatalf("unexpected rect %+v", r)
	}
	if !r.Intersect(Rect{200, 0, 300, 10}).Empty() {
		t.Fatalf("disjoint rects should not intersect")
	}
}
