package parser

import (
	"regexp"
	"strings"
)

// ParseCodec converts between a parse string (spec.md §3:
// "f1|g1|c1 δ1 f2|g2|c2 δ2 ...") and its triple representation (three
// parallel strings of forms, glosses and categories), and splits parse/
// candidate strings into their component morphemes. Grounded on
// original_source/old/lib/parser.py's Parse class.
type ParseCodec struct {
	RareDelimiter      string
	MorphemeDelimiters []string

	splitterOnce *regexp.Regexp
}

// NewParseCodec builds a codec for the given rare delimiter and comma-
// separated morpheme-delimiter set (e.g. "-,=").
func NewParseCodec(rareDelimiter, morphemeDelimitersCSV string) *ParseCodec {
	var delims []string
	if morphemeDelimitersCSV != "" {
		delims = strings.Split(morphemeDelimitersCSV, ",")
	}
	return &ParseCodec{RareDelimiter: rareDelimiter, MorphemeDelimiters: delims}
}

func escapeRegexMeta(s string) string {
	return regexp.QuoteMeta(s)
}

// splitter returns a regexp that splits on morpheme delimiters while
// capturing them, i.e. the input yields alternating morpheme/delimiter
// tokens (even indices are morphemes, odd indices are delimiters).
func (c *ParseCodec) splitter() *regexp.Regexp {
	if c.splitterOnce != nil {
		return c.splitterOnce
	}
	if len(c.MorphemeDelimiters) == 0 {
		c.splitterOnce = regexp.MustCompile(`$^`) // never matches; whole string is one morpheme
		return c.splitterOnce
	}
	var parts []string
	for _, d := range c.MorphemeDelimiters {
		parts = append(parts, escapeRegexMeta(d))
	}
	c.splitterOnce = regexp.MustCompile("(" + strings.Join(parts, "|") + ")")
	return c.splitterOnce
}

// Split splits a parse/candidate string on its morpheme delimiters and
// returns only the morpheme tokens: regexp.Split drops the delimiters
// themselves (SplitWithDelimiters keeps them).
func (c *ParseCodec) Split(s string) []string {
	if len(c.MorphemeDelimiters) == 0 {
		return []string{s}
	}
	return c.splitter().Split(s, -1)
}

// delimiterPattern is used by Split's sibling SplitWithDelimiters below to
// recover which delimiter matched at each odd index, since regexp.Split
// discards the captured text unless using FindAllStringIndex-style logic.
func (c *ParseCodec) delimiterPattern() *regexp.Regexp {
	return c.splitter()
}

// SplitWithDelimiters returns the alternating token sequence
// [morpheme, delim, morpheme, delim, morpheme, ...], using
// FindAllStringIndex so the odd-indexed delimiter tokens are the
// literal matched delimiter text (needed because Go's regexp.Split with a
// capturing group does not interleave captures the way Python's re.split
// does across varying delimiters).
func (c *ParseCodec) SplitWithDelimiters(s string) []string {
	if len(c.MorphemeDelimiters) == 0 {
		return []string{s}
	}
	re := c.delimiterPattern()
	locs := re.FindAllStringIndex(s, -1)
	if locs == nil {
		return []string{s}
	}
	var out []string
	prev := 0
	for _, loc := range locs {
		out = append(out, s[prev:loc[0]])
		out = append(out, s[loc[0]:loc[1]])
		prev = loc[1]
	}
	out = append(out, s[prev:])
	return out
}

// Morphemes returns only the morpheme tokens (delimiters excluded) in
// order, each still rare-delimiter-joined (form⟨rd⟩gloss⟨rd⟩category).
func (c *ParseCodec) Morphemes(s string) []string {
	tokens := c.SplitWithDelimiters(s)
	var out []string
	for i, t := range tokens {
		if i%2 == 0 {
			out = append(out, t)
		}
	}
	return out
}

// Triple converts a parse string to its (forms, glosses, categories)
// representation, preserving delimiters between elements, e.g.
// "chien|dog|N-s|PL|PHI" -> ["chien-s", "dog-PL", "N-PHI"].
func (c *ParseCodec) Triple(parse string) [3]string {
	if parse == "" {
		return [3]string{"", "", ""}
	}
	tokens := c.SplitWithDelimiters(parse)
	var forms, glosses, cats strings.Builder
	for i, t := range tokens {
		if i%2 == 0 {
			parts := strings.SplitN(t, c.RareDelimiter, 3)
			for len(parts) < 3 {
				parts = append(parts, "")
			}
			forms.WriteString(parts[0])
			glosses.WriteString(parts[1])
			cats.WriteString(parts[2])
		} else {
			forms.WriteString(t)
			glosses.WriteString(t)
			cats.WriteString(t)
		}
	}
	return [3]string{forms.String(), glosses.String(), cats.String()}
}

// FromTriple is the inverse of Triple: given three parallel strings
// (forms, glosses, categories) sharing the same delimiter positions,
// reconstruct the rare-delimited parse string.
func (c *ParseCodec) FromTriple(forms, glosses, categories string) string {
	if forms == "" && glosses == "" && categories == "" {
		return ""
	}
	fTok := c.SplitWithDelimiters(forms)
	gTok := c.SplitWithDelimiters(glosses)
	cTok := c.SplitWithDelimiters(categories)
	n := len(fTok)
	var out strings.Builder
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			f := fTok[i]
			g := ""
			cat := ""
			if i < len(gTok) {
				g = gTok[i]
			}
			if i < len(cTok) {
				cat = cTok[i]
			}
			out.WriteString(strings.Join([]string{f, g, cat}, c.RareDelimiter))
		} else {
			out.WriteString(fTok[i])
		}
	}
	return out.String()
}
