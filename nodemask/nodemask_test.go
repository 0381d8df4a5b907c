package nodemask

import "testing"

func TestSetClearHas(t *testing.T) {
	m := Of(1, 3, 5)

	if !m.Has(1) || !m.Has(3) || !m.Has(5) {
		t.Fatal("expected 1, 3, 5 set")
	}
	if m.Has(2) || m.Has(4) {
		t.Fatal("expected 2, 4 unset")
	}

	m = m.Clear(3)
	if m.Has(3) {
		t.Fatal("expected 3 cleared")
	}
}

func TestUnionIntersectDifference(t *testing.T) {
	a := Of(1, 2, 3)
	b := Of(2, 3, 4)

	if a.Union(b) != Of(1, 2, 3, 4) {
		t.Fatal("union mismatch")
	}
	if a.Intersect(b) != Of(2, 3) {
		t.Fatal("intersect mismatch")
	}
	if a.Difference(b) != Of(1) {
		t.Fatal("difference mismatch")
	}
}

func TestPopcountAndEmpty(t *testing.T) {
	if !Empty.IsEmpty() {
		t.Fatal("Empty should be empty")
	}
	if Of(1, 2, 5).Popcount() != 3 {
		t.Fatal("popcount mismatch")
	}
}

func TestLowestSet(t *testing.T) {
	if Empty.LowestSet() != 0 {
		t.Fatal("expected 0 for empty mask")
	}
	if Of(5, 2, 9).LowestSet() != 2 {
		t.Fatal("expected lowest set node id 2")
	}
}

func TestNodesSortedOrder(t *testing.T) {
	got := Of(9, 1, 5).Nodes()
	want := []int{1, 5, 9}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSubset(t *testing.T) {
	if !Of(1, 2).Subset(Of(1, 2, 3)) {
		t.Fatal("expected subset")
	}
	if Of(1, 4).Subset(Of(1, 2, 3)) {
		t.Fatal("expected not a subset")
	}
}

func TestOutOfRangeIgnored(t *testing.T) {
	m := Empty.Set(0).Set(MaxNodes + 1).Set(17)
	if !m.IsEmpty() {
		t.Fatal("out-of-range ids should be no-ops")
	}
}
