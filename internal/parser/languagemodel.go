package parser

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"oldparser/internal/perr"
)

// LanguageModel (C4) is an n-gram morpheme language model, trained and
// scored via the MITLM toolkit (spec.md §3, §4.3). Grounded on
// original_source/old/lib/parser.py's LanguageModel class; this port
// implements only the MITLM toolkit, matching the original's sole support.
type LanguageModel struct {
	Obj *Object

	Order         int
	Smoothing     string // MITLM smoothing algorithm, e.g. "ModKN"
	StartSymbol   string
	EndSymbol     string
	RareDelimiter string
	Categorial    bool

	EstimateNgramPath string // resolved executable, defaults to "estimate-ngram"

	trieMu sync.Mutex
	trie   *Trie
}

// mitlmSmoothingAlgorithms is the fixed set MITLM accepts, per
// http://code.google.com/p/mitlm/wiki/Tutorial, carried over from the
// Python original's toolkits table.
var mitlmSmoothingAlgorithms = map[string]bool{
	"ML": true, "FixKN": true, "FixModKN": true, "FixKNn": true,
	"KN": true, "ModKN": true, "KNn": true,
}

// NewLanguageModel constructs a LanguageModel rooted at a fresh workspace
// with the spec.md §3 defaults: order 3, smoothing "ModKN", start/end
// symbols "<s>"/"</s>".
func NewLanguageModel(parentDirectory string) (*LanguageModel, error) {
	obj, err := NewObject(ObjectLanguageModel, parentDirectory)
	if err != nil {
		return nil, err
	}
	return &LanguageModel{
		Obj:               obj,
		Order:             3,
		Smoothing:         "ModKN",
		StartSymbol:       "<s>",
		EndSymbol:         "</s>",
		RareDelimiter:     "⦀",
		EstimateNgramPath: "estimate-ngram",
	}, nil
}

// hasVocabulary reports whether a vocabulary file exists for this model.
func (l *LanguageModel) hasVocabulary() bool {
	_, err := os.Stat(l.Obj.FilePath("vocabulary"))
	return err == nil
}

// writeArpaCommand builds the MITLM estimate-ngram invocation (spec.md §6).
func (l *LanguageModel) writeArpaCommand() []string {
	smoothing := l.Smoothing
	if smoothing == "" {
		smoothing = "ModKN"
	}
	cmd := []string{
		l.EstimateNgramPath,
		"-o", strconv.Itoa(l.Order),
		"-s", smoothing,
		"-t", l.Obj.FilePath("corpus"),
		"-wl", l.Obj.FilePath("arpa"),
	}
	if l.hasVocabulary() {
		cmd = append(cmd, "-v", l.Obj.FilePath("vocabulary"))
	}
	return cmd
}

// verificationString is the MITLM success marker: "Saving LM to <arpa path>".
func (l *LanguageModel) verificationString() string {
	return fmt.Sprintf("Saving LM to %s", l.Obj.FilePath("arpa"))
}

// WriteArpa invokes estimate-ngram to produce the ARPA file. Success
// requires the verification string in output, zero exit code, and a
// modified ARPA file (spec.md §4.3); failure returns a *perr.Error.
func (l *LanguageModel) WriteArpa(ctx context.Context, timeout time.Duration) error {
	arpaPath := l.Obj.FilePath("arpa")
	beforeMTime, beforeErr := modTime(arpaPath)

	sc := NewScriptedCommand(l.Obj)
	result := sc.Run(ctx, l.writeArpaCommand(), timeout)

	if result.TimedOut {
		return perr.New(perr.SubprocessTimedOut, "write_arpa timed out", nil)
	}

	afterMTime, afterErr := modTime(arpaPath)
	binaryChanged := afterErr == nil && (beforeErr != nil || !afterMTime.Equal(beforeMTime))

	succeeded := strings.Contains(result.Output, l.verificationString()) &&
		result.ExitCode == 0 &&
		afterErr == nil &&
		binaryChanged
	if !succeeded {
		return perr.New(perr.SubprocessFailed, "write_arpa failed", nil)
	}
	return nil
}

// GenerateTrie parses the ARPA file at the model's arpa path into an
// in-memory Trie and serializes it to the model's trie file (spec.md §4.3
// invariant: trie is always loadable from <ws>/<file_name>_trie.json after
// a successful generate).
func (l *LanguageModel) GenerateTrie() error {
	f, err := os.Open(l.Obj.FilePath("arpa"))
	if err != nil {
		return err
	}
	defer f.Close()

	trie, err := ParseArpa(f)
	if err != nil {
		return err
	}
	l.trie = trie

	data, err := trie.MarshalJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(l.Obj.FilePath("trie"), data, 0o644)
}

// loadedTrie returns the in-memory trie, generating it from the ARPA file if it
// isn't already resident and the on-disk trie file doesn't load. Guarded by
// trieMu since getMostProbable scores candidates concurrently (errgroup),
// and an unguarded lazy load would race multiple goroutines into loading
// and assigning l.trie at once.
func (l *LanguageModel) loadedTrie() (*Trie, error) {
	l.trieMu.Lock()
	defer l.trieMu.Unlock()

	if l.trie != nil {
		return l.trie, nil
	}
	if data, err := os.ReadFile(l.Obj.FilePath("trie")); err == nil {
		trie, err := UnmarshalTrie(data)
		if err == nil {
			l.trie = trie
			return trie, nil
		}
	}
	if err := l.GenerateTrie(); err != nil {
		return nil, err
	}
	return l.trie, nil
}

// GetProbabilities returns, for each whitespace-separated morpheme sequence
// in inputs, its log probability under the model (spec.md §4.3). Word
// boundary symbols are added automatically by way of StartSymbol/EndSymbol.
func (l *LanguageModel) GetProbabilities(inputs []string) (map[string]float64, error) {
	trie, err := l.loadedTrie()
	if err != nil {
		return nil, err
	}
	result := make(map[string]float64, len(inputs))
	for _, seq := range inputs {
		tokens := strings.Fields(seq)
		padded := make([]string, 0, len(tokens)+2)
		padded = append(padded, l.StartSymbol)
		padded = append(padded, tokens...)
		padded = append(padded, l.EndSymbol)
		result[seq] = trie.SentenceLogProb(padded)
	}
	return result, nil
}

// GetProbabilityOne scores a single already-tokenized morpheme sequence
// (which must already include start/end symbols).
func (l *LanguageModel) GetProbabilityOne(morphemeSequence []string) (float64, error) {
	trie, err := l.loadedTrie()
	if err != nil {
		return 0, err
	}
	return trie.SentenceLogProb(morphemeSequence), nil
}

// --- ARPA parsing and back-off trie ---

// ngramEntry is one ARPA n-gram line: a log10 probability and an optional
// back-off weight (0 if absent, matching standard ARPA convention).
type ngramEntry struct {
	LogProb float64
	Backoff float64
}

// Trie is an immutable back-off n-gram model keyed by space-joined n-gram
// prefix, parsed from an ARPA-formatted file (spec.md §4.3: "parse the ARPA
// file into an immutable trie keyed by n-gram prefix"). Scoring follows the
// standard back-off recursion; this package does not redefine it.
type Trie struct {
	Order   int
	Entries map[string]ngramEntry // key: space-joined n-gram words, any order 1..Order
}

var arpaNgramCountPattern = regexp.MustCompile(`^ngram (\d+)=(\d+)$`)

// ParseArpa reads an ARPA-formatted LM file and builds a Trie.
func ParseArpa(r *os.File) (*Trie, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	trie := &Trie{Entries: map[string]ngramEntry{}}
	state := "preamble"
	currentOrder := 0

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "\\data\\":
			state = "data"
			continue
		case strings.HasPrefix(trimmed, "\\end\\"):
			state = "done"
			continue
		case strings.HasPrefix(trimmed, "\\") && strings.HasSuffix(trimmed, "-grams:"):
			var n int
			fmt.Sscanf(trimmed, `\%d-grams:`, &n)
			currentOrder = n
			if n > trie.Order {
				trie.Order = n
			}
			state = "ngrams"
			continue
		}

		switch state {
		case "data":
			if m := arpaNgramCountPattern.FindStringSubmatch(trimmed); m != nil {
				n, _ := strconv.Atoi(m[1])
				if n > trie.Order {
					trie.Order = n
				}
			}
		case "ngrams":
			if trimmed == "" {
				continue
			}
			// Standard ARPA format tab-separates (log-prob, n-gram phrase,
			// optional back-off weight); the phrase itself is the n-gram's
			// words joined by single spaces, not further tab-delimited.
			fields := strings.Split(trimmed, "\t")
			if len(fields) < 2 {
				continue
			}
			logProb, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				continue
			}
			words := strings.Fields(fields[1])
			if len(words) != currentOrder {
				continue
			}
			backoff := 0.0
			if len(fields) > 2 {
				if b, err := strconv.ParseFloat(fields[2], 64); err == nil {
					backoff = b
				}
			}
			key := strings.Join(words, " ")
			trie.Entries[key] = ngramEntry{LogProb: logProb, Backoff: backoff}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if trie.Order == 0 {
		trie.Order = 1
	}
	return trie, nil
}

// arpaFloor is the log10 probability assigned to a word with no unigram
// entry at all (out-of-vocabulary floor).
const arpaFloor = -99.0

// score returns the back-off log10 probability of word given context
// (context is the preceding words, most recent last), following the
// standard Katz/modified-Kneser-Ney back-off recursion: use the highest-
// order n-gram found; otherwise apply the shorter context's back-off
// weight and recurse with one fewer word of context.
func (t *Trie) score(context []string, word string) float64 {
	ngram := append(append([]string{}, context...), word)
	if maxLen := t.Order; len(ngram) > maxLen {
		ngram = ngram[len(ngram)-maxLen:]
	}
	if e, ok := t.Entries[strings.Join(ngram, " ")]; ok {
		return e.LogProb
	}
	if len(context) == 0 {
		return arpaFloor
	}
	backoff := 0.0
	if e, ok := t.Entries[strings.Join(context, " ")]; ok {
		backoff = e.Backoff
	}
	return backoff + t.score(context[1:], word)
}

// SentenceLogProb returns the total log10 probability of a padded morpheme
// sequence (including start/end symbols), summing each word's back-off
// conditional probability given its preceding context.
func (t *Trie) SentenceLogProb(sequence []string) float64 {
	total := 0.0
	for i := 1; i < len(sequence); i++ {
		lo := i - (t.Order - 1)
		if lo < 0 {
			lo = 0
		}
		context := sequence[lo:i]
		total += t.score(context, sequence[i])
	}
	return total
}

// trieJSON is the on-disk serialization of a Trie.
type trieJSON struct {
	Order   int                   `json:"order"`
	Entries map[string]ngramEntry `json:"entries"`
}

// MarshalJSON serializes the trie for persistence at <ws>/<file>_trie.json.
func (t *Trie) MarshalJSON() ([]byte, error) {
	return json.Marshal(trieJSON{Order: t.Order, Entries: t.Entries})
}

// UnmarshalTrie deserializes a Trie previously written by MarshalJSON.
func UnmarshalTrie(data []byte) (*Trie, error) {
	var tj trieJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, err
	}
	if tj.Entries == nil {
		tj.Entries = map[string]ngramEntry{}
	}
	return &Trie{Order: tj.Order, Entries: tj.Entries}, nil
}

// CategoryOf reduces a morpheme in f⟨rd⟩g⟨rd⟩c form to its category field
// (the third field), for use when Categorial is true (spec.md §4.3).
func (l *LanguageModel) CategoryOf(morpheme string) string {
	parts := strings.SplitN(morpheme, l.RareDelimiter, 3)
	if len(parts) < 3 {
		return morpheme
	}
	return parts[2]
}
