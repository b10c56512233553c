package parser

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"oldparser/internal/logging"
	"oldparser/internal/perr"
)

// flookupNoOutput is the token flookup prints when an input has no output
// under the transducer (spec.md §4.2 "apply").
const flookupNoOutput = "+?"

// fomaReservedSymbols are the foma regex-syntax reserved characters, lifted
// verbatim from original_source/old/lib/parser.py's FomaFST.foma_reserved_symbols
// (see http://code.google.com/p/foma/wiki/RegularExpressionReference#Reserved_symbols).
var fomaReservedSymbols = []rune{
	'!', '"', '#', '$', '%',
	'&', '(', ')', '*', '+', ',', '-',
	'.', '/', '0', ':', ';', '<', '>',
	'?', '[', '\\', ']', '^', '_', '`',
	'{', '|', '}', '~', '¬', '¹', '×',
	'Σ', 'ε', '⁻', '₁', '₂', '→', '↔',
	'∀', '∃', '∅', '∈', '∘', '∥', '∧',
	'∨', '∩', '∪', '≤', '≥', '≺', '≻',
}

var fomaReservedSymbolsPattern = func() *regexp.Regexp {
	var b strings.Builder
	for _, r := range fomaReservedSymbols {
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	return regexp.MustCompile("[" + b.String() + "]")
}()

// EscapeFomaReservedSymbols prepends a "%" to every foma reserved character
// in string, so it can appear literally inside a foma regex.
func EscapeFomaReservedSymbols(s string) string {
	return fomaReservedSymbolsPattern.ReplaceAllStringFunc(s, func(m string) string {
		return "%" + m
	})
}

// DeleteFomaReservedSymbols strips every foma reserved character from s,
// useful when building the name of a defined regex.
func DeleteFomaReservedSymbols(s string) string {
	return fomaReservedSymbolsPattern.ReplaceAllString(s, "")
}

// CompileState is the compilation state machine spec.md §4.2 defines:
// UNBUILT -> BUILDING -> COMPILED_OK | FAILED.
type CompileState int

const (
	StateUnbuilt CompileState = iota
	StateBuilding
	StateCompiledOK
	StateFailed
)

// FomaFST is the shared foma-backed transducer logic used by both
// PhonologyFST (C2) and MorphologyFST (C3). Grounded on
// original_source/old/lib/parser.py's FomaFST class.
type FomaFST struct {
	Obj                *Object
	Script             string
	WordBoundarySymbol string
	Boundaries         bool

	CompileAttempt  string
	CompileState    CompileState
	CompileSucceeded bool
	CompileMessage  string
}

// NewFomaFST builds a FomaFST rooted at obj's workspace with the default
// word boundary symbol "#" and boundaries=false (spec.md §3).
func NewFomaFST(obj *Object, script string) *FomaFST {
	return &FomaFST{
		Obj:                obj,
		Script:             script,
		WordBoundarySymbol: "#",
		CompileState:       StateUnbuilt,
	}
}

func decombine(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r) || unicode.Is(unicode.Me, r) {
			b.WriteString("  ")
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveScript writes Script to the object's script file and emits the
// compiler driver shell script, per spec.md §4.2. When decombine is true,
// every non-comment line has its Unicode combining characters separated
// from their base character by two spaces (a workaround for a foma
// composition bug noted in spec.md §9).
func (f *FomaFST) SaveScript(decombineScript bool) (string, error) {
	if err := os.MkdirAll(f.Obj.Directory(), 0o755); err != nil {
		return "", err
	}
	scriptPath := f.Obj.FilePath("script")
	binaryPath := f.Obj.FilePath("binary")
	compilerPath := f.Obj.FilePath("compiler")

	var out strings.Builder
	if decombineScript {
		lines := strings.SplitAfter(f.Script, "\n")
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "#") {
				out.WriteString(line)
			} else {
				out.WriteString(decombine(line))
			}
		}
	} else {
		out.WriteString(f.Script)
	}

	if err := os.WriteFile(scriptPath, []byte(out.String()), 0o644); err != nil {
		return "", err
	}

	driver := fmt.Sprintf(
		"#!/bin/sh\nfoma -e \"source %s\" -e \"regex %s;\" -e \"save stack %s\" -e \"quit\"\n",
		scriptPath, string(f.Obj.Type), binaryPath)
	if err := os.WriteFile(compilerPath, []byte(driver), 0o744); err != nil {
		return "", err
	}
	return scriptPath, nil
}

// Compile runs the driver script and updates CompileState/CompileSucceeded/
// CompileMessage/CompileAttempt per spec.md §4.2's three-part success
// condition: verification string in output, zero exit code, binary mtime
// changed.
func (f *FomaFST) Compile(ctx context.Context, timeout time.Duration, verificationString string) error {
	f.CompileState = StateBuilding
	f.CompileSucceeded = false

	compilerPath := f.Obj.FilePath("compiler")
	binaryPath := f.Obj.FilePath("binary")
	beforeMTime, beforeErr := modTime(binaryPath)

	sc := NewScriptedCommand(f.Obj)
	result := sc.Run(ctx, []string{compilerPath}, timeout)

	var failKind perr.Kind
	switch {
	case strings.Contains(result.Output, verificationString):
		if result.ExitCode == 0 {
			afterMTime, afterErr := modTime(binaryPath)
			binaryChanged := afterErr == nil && (beforeErr != nil || !afterMTime.Equal(beforeMTime))
			if binaryChanged {
				f.CompileSucceeded = true
				f.CompileMessage = "Compilation process terminated successfully and new binary file was written."
			} else {
				f.CompileMessage = "Compilation process terminated successfully yet no new binary file was written."
				failKind = perr.NoBinaryWritten
			}
		} else {
			f.CompileMessage = "Compilation process failed."
			failKind = perr.SubprocessFailed
		}
	default:
		msg := fmt.Sprintf("Foma script is not a well-formed %s %s.", f.Obj.Type, result.Output)
		if len(msg) > 255 {
			msg = msg[:255]
		}
		f.CompileMessage = msg
		failKind = perr.ScriptNotWellFormed
	}

	f.CompileAttempt = uuid.NewString()
	if f.CompileSucceeded {
		f.CompileState = StateCompiledOK
		os.Chmod(binaryPath, 0o744)
		logging.Info(logging.CategoryToolkit, "%s compiled successfully: %s", f.Obj.Type, f.Obj.Directory())
		return nil
	}
	f.CompileState = StateFailed
	os.Remove(binaryPath)
	logging.Warn(logging.CategoryToolkit, "%s compile failed: %s", f.Obj.Type, f.CompileMessage)
	return perr.New(failKind, f.CompileMessage, nil)
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Apply runs flookup in the given direction ("up" or "down") over inputs,
// returning a map from each input string to its list of outputs, with "+?"
// mapped to "no output" and dropped (spec.md §4.2).
func (f *FomaFST) Apply(ctx context.Context, direction string, inputs []string, boundaries bool) (map[string][]string, error) {
	if len(inputs) == 0 {
		return map[string][]string{}, nil
	}
	if err := os.MkdirAll(f.Obj.Directory(), 0o755); err != nil {
		return nil, err
	}

	salt := uuid.New().String()
	dir := f.Obj.Directory()
	inputsPath := dir + "/inputs_" + salt + ".txt"
	binaryPath := f.Obj.FilePath("binary")

	defer os.Remove(inputsPath)

	var lines []string
	for _, in := range inputs {
		if boundaries {
			lines = append(lines, f.WordBoundarySymbol+in+f.WordBoundarySymbol)
		} else {
			lines = append(lines, in)
		}
	}
	if err := os.WriteFile(inputsPath, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return nil, err
	}

	flag := "-i "
	if direction == "up" {
		flag = ""
	}
	cmdLine := fmt.Sprintf("cat %s | flookup %s%s", inputsPath, flag, binaryPath)
	shellCmd := []string{"sh", "-c", cmdLine}

	_, output, runErr := defaultRunner.Run(ctx, dir, shellCmd)
	if runErr == context.DeadlineExceeded {
		return nil, perr.New(perr.SubprocessTimedOut, "flookup apply timed out", runErr)
	}
	if runErr != nil {
		return nil, perr.New(perr.SubprocessFailed, "flookup apply failed", runErr)
	}

	return fomaOutputToMap(string(output), f.WordBoundarySymbol, boundaries), nil
}

// fomaOutputToMap parses flookup's tab-delimited "input<TAB>output" lines.
func fomaOutputToMap(text, boundarySymbol string, removeBoundaries bool) map[string][]string {
	result := map[string][]string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		in, out := line, line
		if len(parts) == 2 {
			in, out = parts[0], parts[1]
		}
		if removeBoundaries {
			in = stripBoundary(in, boundarySymbol)
			out = stripBoundary(out, boundarySymbol)
		}
		if out == flookupNoOutput {
			// "+?" means "no output"; the entry gets no appended value,
			// matching the Python original's filter(None, v).
			if _, ok := result[in]; !ok {
				result[in] = []string{}
			}
			continue
		}
		result[in] = append(result[in], out)
	}
	return result
}

func stripBoundary(s, boundary string) string {
	if boundary == "" {
		return s
	}
	if strings.HasPrefix(s, boundary) && strings.HasSuffix(s, boundary) && len(s) >= 2*len(boundary) {
		return s[len(boundary) : len(s)-len(boundary)]
	}
	return s
}

// testPattern matches "#test A -> B" lines embedded in a foma script.
var testPattern = regexp.MustCompile(`(?m)^#test\s+(.*)$`)

// GetTests scans Script for "#test A -> B" lines and returns a map from
// each upper-side string A to its expected lower-side (surface) outputs.
func (f *FomaFST) GetTests() map[string][]string {
	matches := testPattern.FindAllStringSubmatch(f.Script, -1)
	if matches == nil {
		return nil
	}
	result := map[string][]string{}
	for _, m := range matches {
		parts := strings.SplitN(m[1], "->", 2)
		if len(parts) != 2 {
			continue
		}
		in := strings.TrimSpace(parts[0])
		out := strings.TrimSpace(parts[1])
		result[in] = append(result[in], out)
	}
	return result
}

// TestReport pairs a test's expected outputs with what applydown actually
// produced.
type TestReport struct {
	Expected []string
	Actual   []string
}

// RunTests applies applydown to every upper-side string named by a #test
// line in Script and reports expected vs. actual outputs.
func (f *FomaFST) RunTests(ctx context.Context) (map[string]TestReport, error) {
	tests := f.GetTests()
	if len(tests) == 0 {
		return nil, nil
	}
	var inputs []string
	for in := range tests {
		inputs = append(inputs, in)
	}
	actual, err := f.Apply(ctx, "down", inputs, f.Boundaries)
	if err != nil {
		return nil, err
	}
	report := map[string]TestReport{}
	for in, expected := range tests {
		report[in] = TestReport{Expected: expected, Actual: actual[in]}
	}
	return report, nil
}
