package parser

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"
)

// LexiconEntry is one (form, gloss) pair filed under a category in a
// morphology's lexicon.
type LexiconEntry struct {
	Form  string `json:"form"`
	Gloss string `json:"gloss"`
}

// DictionaryEntry is one (gloss, category) pair filed under a surface form
// in a morphology's dictionary, used for impoverished-upper-side
// disambiguation (spec.md §3, §4.5).
type DictionaryEntry struct {
	Gloss    string `json:"gloss"`
	Category string `json:"category"`
}

// MorphologyFST (C3) owns a morphology script (lexc or regex formalism),
// plus the attributes the parser's disambiguation pipeline needs: whether
// its upper side is "rich" (already carries gloss/category, so no
// dictionary lookup is needed) or "impoverished" (requires a dictionary),
// the set of rule category-strings it was generated to produce, and its
// morpheme/rare delimiters.
type MorphologyFST struct {
	*FomaFST

	ScriptType         string // "lexc" or "regex"
	RareDelimiter      string
	RichUpper          bool
	RichLower          bool
	RulesGenerated     []string // space-separated category-string rules, e.g. "D N-PHI V-AGR"
	MorphemeDelimiters []string // e.g. {"-", "="}

	Lexicon    map[string][]LexiconEntry  // category -> [(form, gloss)]
	Dictionary map[string][]DictionaryEntry // form -> [(gloss, category)]
}

// NewMorphologyFST constructs a morphology FST rooted at a fresh workspace.
// RareDelimiter defaults to U+2980 per spec.md §3.
func NewMorphologyFST(parentDirectory, script, scriptType string) (*MorphologyFST, error) {
	obj, err := NewObject(ObjectMorphology, parentDirectory)
	if err != nil {
		return nil, err
	}
	return &MorphologyFST{
		FomaFST:       NewFomaFST(obj, script),
		ScriptType:    scriptType,
		RareDelimiter: "⦀",
	}, nil
}

// VerificationString depends on ScriptType: lexc scripts print "Done!" on
// success, regex scripts print the generic "defined <type>: " (spec.md §3).
func (m *MorphologyFST) VerificationString() string {
	if m.ScriptType == "lexc" {
		return "Done!"
	}
	return "defined " + string(m.Obj.Type) + ": "
}

// Compile compiles the morphology's script with its script-type-dependent
// verification string.
func (m *MorphologyFST) Compile(ctx context.Context, timeout time.Duration) error {
	return m.FomaFST.Compile(ctx, timeout, m.VerificationString())
}

// ApplyUp maps surface forms to their (possibly rich) upper-side analyses.
func (m *MorphologyFST) ApplyUp(ctx context.Context, inputs []string) (map[string][]string, error) {
	return m.Apply(ctx, "up", inputs, m.Boundaries)
}

// ApplyDown maps upper-side analyses back down to surface forms.
func (m *MorphologyFST) ApplyDown(ctx context.Context, inputs []string) (map[string][]string, error) {
	return m.Apply(ctx, "down", inputs, m.Boundaries)
}

// SaveLexicon serializes Lexicon to the morphology's "lexicon" file as
// JSON (the Python original pickles it; JSON is this port's equivalent
// serialization per spec.md §9's guidance to keep the teacher's HOW while
// using Go-idiomatic formats).
func (m *MorphologyFST) SaveLexicon() error {
	data, err := json.Marshal(m.Lexicon)
	if err != nil {
		return err
	}
	return os.WriteFile(m.Obj.FilePath("lexicon"), data, 0o644)
}

// LoadLexicon reads Lexicon back from disk.
func (m *MorphologyFST) LoadLexicon() error {
	data, err := os.ReadFile(m.Obj.FilePath("lexicon"))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &m.Lexicon)
}

// SaveDictionary serializes Dictionary to disk. Required when RichUpper is
// false, since disambiguation then needs a form -> (gloss, category) table
// to recover glosses/categories the transducer's upper side omits.
func (m *MorphologyFST) SaveDictionary() error {
	data, err := json.Marshal(m.Dictionary)
	if err != nil {
		return err
	}
	return os.WriteFile(m.Obj.FilePath("dictionary"), data, 0o644)
}

// LoadDictionary reads Dictionary back from disk.
func (m *MorphologyFST) LoadDictionary() error {
	data, err := os.ReadFile(m.Obj.FilePath("dictionary"))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &m.Dictionary)
}

// RulesGeneratedSet returns the rules in RulesGenerated (each element split
// on whitespace) as a membership set, used by the parser's disambiguation
// pass to filter candidate parses down to those whose category sequence is
// one this morphology was actually generated to produce (spec.md §4.5's
// "rules_generated filter").
func (m *MorphologyFST) RulesGeneratedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(m.RulesGenerated))
	for _, rules := range m.RulesGenerated {
		for _, r := range strings.Fields(rules) {
			set[r] = struct{}{}
		}
	}
	return set
}
