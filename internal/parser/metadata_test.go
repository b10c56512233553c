package parser

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestOpenMorphologicalParserRestoresReplicatedStateForParsing reopens a
// parser in what simulates a fresh process (a new *MorphologicalParser built
// purely from disk via OpenMorphologicalParser, with no access to the
// in-memory parser Generate built) and confirms Parse still works: this is
// the exact `oldparser generate ...` then `oldparser parse --parser <dir>`
// CLI sequence, run as two independent Go values instead of two processes.
func TestOpenMorphologicalParserRestoresReplicatedStateForParsing(t *testing.T) {
	root := t.TempDir()

	phon, err := NewPhonologyFST(root, "define phonology a -> b || c _ d;\n")
	require.NoError(t, err)
	_, err = phon.SaveScript(false)
	require.NoError(t, err)
	require.NoError(t, phon.SaveMetadata())

	morph, err := NewMorphologyFST(root, "define morphology dog | cat;\n", "regex")
	require.NoError(t, err)
	_, err = morph.SaveScript(false)
	require.NoError(t, err)
	morph.RichUpper = false
	morph.MorphemeDelimiters = []string{"-"}
	morph.RulesGenerated = []string{"N"}
	morph.Dictionary = map[string][]DictionaryEntry{
		"dog": {{Gloss: "dog", Category: "N"}},
		"cat": {{Gloss: "cat", Category: "N"}},
	}
	require.NoError(t, morph.SaveDictionary())
	require.NoError(t, morph.SaveMetadata())

	lm, err := NewLanguageModel(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(lm.Obj.FilePath("arpa"), []byte(sampleArpa2), 0o644))
	require.NoError(t, lm.GenerateTrie())
	require.NoError(t, lm.SaveMetadata())

	built, err := NewMorphologicalParser(root, phon, morph, lm)
	require.NoError(t, err)
	require.NoError(t, built.Generate(context.Background()))
	parserDir := built.Obj.Directory()

	reopened, err := OpenMorphologicalParser(parserDir, NewMemoryBackend())
	require.NoError(t, err)
	require.NotNil(t, reopened.MyMorphology, "MyMorphology must be rebuilt on reopen")
	require.NotNil(t, reopened.MyLanguageModel, "MyLanguageModel must be rebuilt on reopen, or scoring panics")
	require.Equal(t, "N", reopened.MorphologyRulesGenerated[0])
	require.NotEmpty(t, reopened.MorphologyRareDelimiter)

	fake := &FakeRunner{respondAnyWith: []byte("dog\tdog\n")}
	restore := WithRunner(fake)
	defer restore()

	result, err := reopened.Parse(context.Background(), []string{"dog"}, 10)
	require.NoError(t, err)
	entry, ok := result["dog"]
	require.True(t, ok)
	require.NotNil(t, entry.BestParse)
	require.Contains(t, *entry.BestParse, "dog")
	require.Contains(t, *entry.BestParse, "N")
}
