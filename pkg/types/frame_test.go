package types

import "testing"

func TestBounds(t *testing.T) {
	if _, _, _, _, ok := Bounds(nil); ok {
		t.Fatalf("empty point set should report !ok")
	}
	minX, minY, maxX, maxY, ok := Bounds([]Point{{X: 4, Y: 9}, {X: -2, Y: 3}, {X: 7, Y: 5}})
	if !ok || minX != -2 || minY != 3 || maxX != 7 || maxY != 9 {
		t.Fatalf("Bounds = %v %v %v %v %v", minX, minY, maxX, maxY, ok)
	}
}
