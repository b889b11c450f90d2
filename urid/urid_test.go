package urid

import "testing"

func TestMapIsStablePerURI(t *testing.T) {
	tbl := NewTable()
	a1 := tbl.Map("methcla:Group")
	b := tbl.Map("methcla:Synth")
	a2 := tbl.Map("methcla:Group")

	if a1 != a2 {
		t.Fatalf("same URI produced different ids: %d != %d", a1, a2)
	}
	if a1 == b {
		t.Fatal("distinct URIs produced the same id")
	}
	if a1 == 0 || b == 0 {
		t.Fatal("id 0 is reserved and must never be assigned")
	}
}

func TestUnmapRoundTrips(t *testing.T) {
	tbl := NewTable()
	id := tbl.Map("plugin")
	if got := tbl.Unmap(id); got != "plugin" {
		t.Fatalf("unmap: got %q", got)
	}
	if got := tbl.Unmap(9999); got != "" {
		t.Fatalf("unmap unknown id: got %q, want empty", got)
	}
}

func TestLenCountsDistinctURIs(t *testing.T) {
	tbl := NewTable()
	tbl.Map("a")
	tbl.Map("b")
	tbl.Map("a")
	if tbl.Len() != 2 {
		t.Fatalf("want 2 distinct URIs, got %d", tbl.Len())
	}
}
