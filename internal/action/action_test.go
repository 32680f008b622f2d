package action

import "testing"

func TestMaxSeverityOrdering(t *testing.T) {
	if Max(Allow, Warn) != Warn {
		t.Fatal("Warn should outrank Allow")
	}
	if Max(Warn, Block) != Block {
		t.Fatal("Block should outrank Warn")
	}
	if Max(Block, Allow) != Block {
		t.Fatal("Block should outrank Allow")
	}
}

func TestMaxUnknownIsMostSevere(t *testing.T) {
	if Max(Block, Unknown) != Unknown {
		t.Fatal("Unknown should outrank Block so Resolve still forces BLOCK")
	}
}

func TestResolveMapsUnknownToBlock(t *testing.T) {
	if Resolve(Unknown) != Block {
		t.Fatal("Resolve(Unknown) must be Block (P2)")
	}
	if Resolve(Action(99)) != Block {
		t.Fatal("Resolve of any unrecognized value must be Block (P2)")
	}
	for _, a := range []Action{Allow, Warn, Block} {
		if Resolve(a) != a {
			t.Fatalf("Resolve(%v) should be identity for known actions", a)
		}
	}
}

func TestMaxAllCompositeSeverity(t *testing.T) {
	// P3: composite == max over per-segment actions.
	got := MaxAll([]Action{Allow, Warn, Allow})
	if got != Warn {
		t.Fatalf("composite = %v, want WARN", got)
	}
	got = MaxAll([]Action{Allow, Warn, Block})
	if got != Block {
		t.Fatalf("composite = %v, want BLOCK", got)
	}
}
