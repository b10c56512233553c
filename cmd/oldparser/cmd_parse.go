package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"oldparser/internal/parser"
)

var (
	parseParserDir     string
	parseInputs        []string
	parseMaxCandidates int
	parseExplain       bool
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Parse surface transcriptions against a compiled morphophonology",
	RunE:  runParse,
}

func runParse(cmd *cobra.Command, args []string) error {
	backend, err := openCacheBackend()
	if err != nil {
		return err
	}
	p, err := parser.OpenMorphologicalParser(parseParserDir, backend)
	if err != nil {
		return fmt.Errorf("open parser: %w", err)
	}

	results, err := p.Parse(cmd.Context(), parseInputs, parseMaxCandidates)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	out := map[string]interface{}{"results": results}
	if parseExplain {
		out["parser"] = p.Export()
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	parseCmd.Flags().StringVar(&parseParserDir, "parser", "", "Parser workspace directory, as printed by 'generate' (required)")
	parseCmd.Flags().StringArrayVar(&parseInputs, "input", nil, "A surface transcription to parse (repeatable, required)")
	parseCmd.Flags().IntVar(&parseMaxCandidates, "max-candidates", 0, "Maximum ranked candidates to return per input (0 = unbounded)")
	parseCmd.Flags().BoolVar(&parseExplain, "explain", false, "Include the parser's replicated configuration alongside results")
	parseCmd.MarkFlagRequired("parser")
	parseCmd.MarkFlagRequired("input")
}
