package parser

import "testing"

func TestParseCodecTripleRoundTrip(t *testing.T) {
	c := NewParseCodec("⦀", "-")
	parse := "chien" + "⦀" + "dog" + "⦀" + "N" + "-" + "s" + "⦀" + "PL" + "⦀" + "PHI"
	triple := c.Triple(parse)
	if triple[0] != "chien-s" {
		t.Fatalf("forms = %q, want %q", triple[0], "chien-s")
	}
	if triple[1] != "dog-PL" {
		t.Fatalf("glosses = %q, want %q", triple[1], "dog-PL")
	}
	if triple[2] != "N-PHI" {
		t.Fatalf("categories = %q, want %q", triple[2], "N-PHI")
	}

	back := c.FromTriple(triple[0], triple[1], triple[2])
	if back != parse {
		t.Fatalf("FromTriple(Triple(p)) = %q, want %q", back, parse)
	}
}

func TestParseCodecTripleEmpty(t *testing.T) {
	c := NewParseCodec("⦀", "-")
	triple := c.Triple("")
	if triple != [3]string{"", "", ""} {
		t.Fatalf("Triple(\"\") = %v, want all empty", triple)
	}
	if c.FromTriple("", "", "") != "" {
		t.Fatalf("FromTriple of all-empty should be empty")
	}
}

func TestParseCodecMorphemesSingleMorphemeNoDelimiters(t *testing.T) {
	c := NewParseCodec("⦀", "")
	parse := "chien" + "⦀" + "dog" + "⦀" + "N"
	morphemes := c.Morphemes(parse)
	if len(morphemes) != 1 || morphemes[0] != parse {
		t.Fatalf("Morphemes with no delimiter set = %v, want single whole-string element", morphemes)
	}
}

func TestParseCodecMorphemesMultiMorpheme(t *testing.T) {
	c := NewParseCodec("⦀", "-,=")
	parse := "a" + "⦀" + "1" + "⦀" + "X" + "-" + "b" + "⦀" + "2" + "⦀" + "Y" + "=" + "c" + "⦀" + "3" + "⦀" + "Z"
	morphemes := c.Morphemes(parse)
	if len(morphemes) != 3 {
		t.Fatalf("Morphemes returned %d tokens, want 3: %v", len(morphemes), morphemes)
	}
}
