package parser

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleArpa = `\data\
ngram 1=4
ngram 2=3

\1-grams:
-1.0	<s>
-1.2	dog-PL
-1.5	</s>
-2.0	cat-SG

\2-grams:
-0.3	<s> dog-PL	-0.1
-0.2	dog-PL </s>
-0.4	<s> cat-SG

\end\
`

func TestParseArpaBuildsTrieEntries(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/test.lm"
	require.NoError(t, os.WriteFile(path, []byte(sampleArpa), 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	trie, err := ParseArpa(f)
	require.NoError(t, err)
	require.Equal(t, 2, trie.Order)
	require.Contains(t, trie.Entries, "<s>")
	require.Contains(t, trie.Entries, "<s> dog-PL")
}

func TestTrieSentenceLogProbUsesDirectEntryWhenPresent(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/test.lm"
	require.NoError(t, os.WriteFile(path, []byte(sampleArpa), 0o644))
	f, _ := os.Open(path)
	defer f.Close()
	trie, err := ParseArpa(f)
	require.NoError(t, err)

	seq := []string{"<s>", "dog-PL", "</s>"}
	got := trie.SentenceLogProb(seq)
	want := trie.Entries["<s> dog-PL"].LogProb + trie.Entries["dog-PL </s>"].LogProb
	require.InDelta(t, want, got, 1e-9)
}

func TestTrieSentenceLogProbBacksOffWhenBigramMissing(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/test.lm"
	require.NoError(t, os.WriteFile(path, []byte(sampleArpa), 0o644))
	f, _ := os.Open(path)
	defer f.Close()
	trie, err := ParseArpa(f)
	require.NoError(t, err)

	// "cat-SG </s>" has no bigram entry, so scoring backs off through
	// the unigram "cat-SG" back-off weight (0, since unigram has none listed)
	// plus the unigram probability of "</s>".
	got := trie.score([]string{"cat-SG"}, "</s>")
	want := trie.Entries["</s>"].LogProb
	require.InDelta(t, want, got, 1e-9)
}

func TestTrieMarshalUnmarshalRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/test.lm"
	require.NoError(t, os.WriteFile(path, []byte(sampleArpa), 0o644))
	f, _ := os.Open(path)
	defer f.Close()
	trie, err := ParseArpa(f)
	require.NoError(t, err)

	data, err := trie.MarshalJSON()
	require.NoError(t, err)

	reloaded, err := UnmarshalTrie(data)
	require.NoError(t, err)
	require.Equal(t, trie.Order, reloaded.Order)
	require.Equal(t, trie.Entries, reloaded.Entries)
}

func TestWriteArpaSucceedsOnVerificationStringExitCodeAndMTimeChange(t *testing.T) {
	root := t.TempDir()
	lm, err := NewLanguageModel(root)
	require.NoError(t, err)

	arpaPath := lm.Obj.FilePath("arpa")
	fake := &FakeRunner{}
	restore := WithRunner(writeArpaFakeRunner{FakeRunner: fake, arpaPath: arpaPath, verification: lm.verificationString()})
	defer restore()

	err = lm.WriteArpa(context.Background(), 5*time.Second)
	require.NoError(t, err)

	data, err := os.ReadFile(arpaPath)
	require.NoError(t, err)
	require.NotEmpty(t, data)
}

func TestGetProbabilitiesPadsWithStartAndEndSymbols(t *testing.T) {
	root := t.TempDir()
	lm, err := NewLanguageModel(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(lm.Obj.FilePath("arpa"), []byte(sampleArpa), 0o644))
	require.NoError(t, lm.GenerateTrie())

	probs, err := lm.GetProbabilities([]string{"dog-PL"})
	require.NoError(t, err)
	require.Contains(t, probs, "dog-PL")
}

// writeArpaFakeRunner simulates estimate-ngram: it writes the ARPA file and
// returns the toolkit's verification string in its output.
type writeArpaFakeRunner struct {
	*FakeRunner
	arpaPath     string
	verification string
}

func (w writeArpaFakeRunner) Run(ctx context.Context, dir string, cmd []string) (int, []byte, error) {
	os.WriteFile(w.arpaPath, []byte(sampleArpa), 0o644)
	return 0, []byte(w.verification), nil
}
