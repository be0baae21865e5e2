package version

import "testing"

func TestComputeIgnoresKeyAndSliceOrdering(t *testing.T) {
	a := Config{
		ParserMode: ParserOxc,
		Plugins:    []string{"a", "b"},
		CSSOptions: map[string]interface{}{"modules": true, "autoprefix": false},
	}
	b := Config{
		ParserMode: ParserOxc,
		Plugins:    []string{"b", "a"},
		CSSOptions: map[string]interface{}{"autoprefix": false, "modules": true},
	}

	ha, err := Compute(a)
	if err != nil {
		t.Fatalf("Compute(a): %v", err)
	}
	hb, err := Compute(b)
	if err != nil {
		t.Fatalf("Compute(b): %v", err)
	}
	if ha != hb {
		t.Fatalf("expected equal version hashes, got %s != %s", ha, hb)
	}
}

func TestComputeDiffersOnSemanticChange(t *testing.T) {
	a := Config{ParserMode: ParserOxc, Plugins: []string{"a", "b"}}
	b := Config{ParserMode: ParserSwc, Plugins: []string{"a", "b"}}

	ha, _ := Compute(a)
	hb, _ := Compute(b)
	if ha == hb {
		t.Fatalf("expected different version hashes for different parser modes")
	}
}

func TestComputeTreatsNullAndAbsenceEqually(t *testing.T) {
	a := Config{Plugins: nil}
	b := Config{Plugins: []string{}}

	ha, _ := Compute(a)
	hb, _ := Compute(b)
	if ha != hb {
		t.Fatalf("expected nil and empty-slice plugins to normalize equal")
	}
}

func TestComputeLength(t *testing.T) {
	h, err := Compute(Config{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(h) != 16 {
		t.Fatalf("expected 16-char version hash, got %d chars: %s", len(h), h)
	}
}
