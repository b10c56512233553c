package parser

import (
	"context"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func buildTestParser(t *testing.T) (*MorphologicalParser, *PhonologyFST, *MorphologyFST, *LanguageModel) {
	t.Helper()
	root := t.TempDir()

	phon, err := NewPhonologyFST(root, "define phonology a -> b || c _ d;\n")
	require.NoError(t, err)
	_, err = phon.SaveScript(false)
	require.NoError(t, err)

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

	lm, err := NewLanguageModel(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(lm.Obj.FilePath("arpa"), []byte(sampleArpa2), 0o644))
	require.NoError(t, lm.GenerateTrie())

	p, err := NewMorphologicalParser(root, phon, morph, lm)
	require.NoError(t, err)
	return p, phon, morph, lm
}

const sampleArpa2 = `\data\
ngram 1=4
ngram 2=2

\1-grams:
-1.0	<s>
-1.2	dog
-1.5	</s>
-2.0	cat

\2-grams:
-0.2	<s> dog
-0.1	dog </s>

\end\
`

func TestGenerateComposesMorphophonologyFromPhonologyAndMorphology(t *testing.T) {
	p, _, _, _ := buildTestParser(t)
	require.NoError(t, p.Generate(context.Background()))
	require.True(t, p.GenerateSucceeded)

	data, err := os.ReadFile(p.Obj.FilePath("script"))
	require.NoError(t, err)
	require.Contains(t, string(data), "define morphophonology morphology .o.")
	require.NotContains(t, string(data), "define phonology")

	require.NotNil(t, p.MyMorphology)
	require.NotNil(t, p.MyLanguageModel)
	require.Equal(t, "N", p.MyMorphology.RulesGenerated[0])
}

func TestGenerateFallsBackToIdentityWithoutPhonology(t *testing.T) {
	root := t.TempDir()
	morph, err := NewMorphologyFST(root, "define morphology dog;\n", "regex")
	require.NoError(t, err)
	_, err = morph.SaveScript(false)
	require.NoError(t, err)
	morph.RichUpper = true

	lm, err := NewLanguageModel(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(lm.Obj.FilePath("arpa"), []byte(sampleArpa2), 0o644))
	require.NoError(t, lm.GenerateTrie())

	p, err := NewMorphologicalParser(root, nil, morph, lm)
	require.NoError(t, err)
	require.NoError(t, p.Generate(context.Background()))

	data, err := os.ReadFile(p.Obj.FilePath("script"))
	require.NoError(t, err)
	require.Equal(t, "define morphophonology ?*;\n", string(data))
	require.Equal(t, "#", p.WordBoundarySymbol, "falls back to the default boundary symbol without a phonology")
}

func TestGenerateClearsCacheOnlyWhenReplicatedContentChanges(t *testing.T) {
	p, _, morph, _ := buildTestParser(t)
	require.NoError(t, p.Generate(context.Background()))

	transcription := "seeded"
	best := "seeded-parse"
	p.Cache.Set(transcription, CacheEntry{BestParse: &best, Candidates: []string{best}})
	require.NoError(t, p.Cache.Persist(context.Background()))

	// Regenerating against the exact same dependency content must not
	// report a change, so the cache survives.
	require.NoError(t, p.Generate(context.Background()))
	_, ok, err := p.Cache.Get(context.Background(), transcription, CacheEntry{})
	require.NoError(t, err)
	require.True(t, ok, "cache must survive a no-op regenerate")

	// Altering the referenced morphology's dictionary and regenerating
	// must be detected as a change and clear the cache.
	morph.Dictionary["dog"] = append(morph.Dictionary["dog"], DictionaryEntry{Gloss: "dog2", Category: "N"})
	require.NoError(t, morph.SaveDictionary())
	require.NoError(t, p.Generate(context.Background()))
	_, ok, err = p.Cache.Get(context.Background(), transcription, CacheEntry{})
	require.NoError(t, err)
	require.False(t, ok, "cache must be cleared once a replicated dependency's content changes")
}

func TestParseServesSubsequentRequestsFromCache(t *testing.T) {
	p, _, _, _ := buildTestParser(t)
	require.NoError(t, p.Generate(context.Background()))

	fake := &FakeRunner{respondAnyWith: []byte("dog\tdog\ncat\tcat\n")}
	restore := WithRunner(fake)
	defer restore()

	ctx := context.Background()
	_, err := p.Parse(ctx, []string{"dog"}, 10)
	require.NoError(t, err)
	callsAfterFirst := len(fake.Calls)
	require.Greater(t, callsAfterFirst, 0)

	_, err = p.Parse(ctx, []string{"dog"}, 10)
	require.NoError(t, err)
	require.Equal(t, callsAfterFirst, len(fake.Calls), "a cached transcription must not re-invoke the toolkit")
}

func TestParseDisambiguatesImpoverishedCandidatesAndRanksByLanguageModel(t *testing.T) {
	p, _, _, _ := buildTestParser(t)
	require.NoError(t, p.Generate(context.Background()))

	fake := &FakeRunner{respondAnyWith: []byte("dog\tdog\n")}
	restore := WithRunner(fake)
	defer restore()

	result, err := p.Parse(context.Background(), []string{"dog"}, 10)
	require.NoError(t, err)
	entry, ok := result["dog"]
	require.True(t, ok)
	require.NotNil(t, entry.BestParse)
	require.Contains(t, *entry.BestParse, "dog")
	require.Contains(t, *entry.BestParse, "N")
}

func TestGetMostProbableIsStableOnTies(t *testing.T) {
	p, _, _, _ := buildTestParser(t)
	require.NoError(t, p.Generate(context.Background()))

	// Both candidates reduce to the same unknown unigram score (floor),
	// so the tie must resolve to the first-listed candidate.
	candidates := []string{
		"zzz" + p.MorphologyRareDelimiter + "zzz" + p.MorphologyRareDelimiter + "Z",
		"yyy" + p.MorphologyRareDelimiter + "yyy" + p.MorphologyRareDelimiter + "Z",
	}
	best, ranked := p.getMostProbable(candidates)
	require.Equal(t, candidates[0], best)
	if diff := cmp.Diff(candidates, ranked); diff != "" {
		t.Errorf("ranked candidates differ from input order (-want +got):\n%s", diff)
	}
}

func TestCartesianDisambiguateExpandsHomographsAndFlagsMissingEntries(t *testing.T) {
	dictionary := map[string][]DictionaryEntry{
		"dog": {{Gloss: "dog", Category: "N"}, {Gloss: "chase", Category: "V"}},
	}
	assemblies, ok := cartesianDisambiguate([]string{"dog"}, dictionary, "⦀")
	require.True(t, ok)
	require.Len(t, assemblies, 2)

	_, ok = cartesianDisambiguate([]string{"unknown"}, dictionary, "⦀")
	require.False(t, ok)
}
