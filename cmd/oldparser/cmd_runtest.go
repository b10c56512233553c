package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"oldparser/internal/parser"
)

var testDir string

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run a script's embedded #test lines and report expected vs. actual output",
	RunE:  runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	f, err := loadFomaFSTForTests(testDir)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	reports, err := f.RunTests(cmd.Context())
	if err != nil {
		return fmt.Errorf("run tests: %w", err)
	}
	if len(reports) == 0 {
		fmt.Println("no #test lines found in script")
		return nil
	}

	inputs := make([]string, 0, len(reports))
	for input := range reports {
		inputs = append(inputs, input)
	}
	sort.Strings(inputs)

	failures := 0
	for _, input := range inputs {
		report := reports[input]
		status := "PASS"
		if !stringSetsEqual(report.Expected, report.Actual) {
			status = "FAIL"
			failures++
		}
		fmt.Printf("[%s] %s -> expected %v, got %v\n", status, input, report.Expected, report.Actual)
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d test(s) failed", failures, len(reports))
	}
	return nil
}

// loadFomaFSTForTests reconstructs a bare FomaFST from any object workspace
// (phonology, morphology or morphophonology) to run its embedded #test
// lines: RunTests only needs the script and the word-boundary attributes,
// not a specific subtype's full metadata shape.
func loadFomaFSTForTests(directory string) (*parser.FomaFST, error) {
	obj, err := parser.OpenObject(directory)
	if err != nil {
		return nil, err
	}
	script, err := os.ReadFile(obj.FilePath("script"))
	if err != nil {
		return nil, err
	}
	f := parser.NewFomaFST(obj, string(script))

	if data, err := os.ReadFile(obj.FilePath("meta")); err == nil {
		var attrs struct {
			WordBoundarySymbol string `json:"word_boundary_symbol"`
			Boundaries         bool   `json:"boundaries"`
		}
		if json.Unmarshal(data, &attrs) == nil {
			f.WordBoundarySymbol = attrs.WordBoundarySymbol
			f.Boundaries = attrs.Boundaries
		}
	}
	return f, nil
}

// stringSetsEqual compares two string slices as sets: #test line output
// order isn't meaningful, only membership.
func stringSetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func init() {
	testCmd.Flags().StringVar(&testDir, "dir", "", "Phonology/morphology/morphophonology workspace directory (required)")
	testCmd.MarkFlagRequired("dir")
}
