package mda

import "testing"

func TestStoppingTableMonotoneInK(t *testing.T) {
	tbl := newStoppingTable(0.05)
	prev := tbl.n(1)
	for k := 2; k <= 20; k++ {
		cur := tbl.n(k)
		if cur < prev {
			t.Fatalf("n(%d)=%d is less than n(%d)=%d, expected non-decreasing", k, cur, k-1, prev)
		}
		prev = cur
	}
}

func TestStoppingTableMonotoneInBound(t *testing.T) {
	loose := newStoppingTable(0.1)
	tight := newStoppingTable(0.01)
	for k := 1; k <= 10; k++ {
		if tight.n(k) < loose.n(k) {
			t.Fatalf("tighter bound gave smaller threshold at k=%d: tight=%d loose=%d", k, tight.n(k), loose.n(k))
		}
	}
}

func TestStoppingTableZeroIsOne(t *testing.T) {
	tbl := newStoppingTable(0.05)
	if got := tbl.n(0); got != 1 {
		t.Fatalf("n(0) = %d, want 1", got)
	}
}
