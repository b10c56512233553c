package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"oldparser/internal/parser"
)

var (
	generatePhonologyDir  string
	generateMorphologyDir string
	generateLMDir         string
	generateTimeout       time.Duration
	generateCompile       bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Compose a morphophonology transducer from a morphology, a language model, and an optional phonology",
	RunE:  runGenerate,
}

func runGenerate(cmd *cobra.Command, args []string) error {
	morphology, err := parser.LoadMorphologyFST(generateMorphologyDir)
	if err != nil {
		return fmt.Errorf("load morphology: %w", err)
	}
	lm, err := parser.LoadLanguageModel(generateLMDir)
	if err != nil {
		return fmt.Errorf("load language model: %w", err)
	}
	var phonology *parser.PhonologyFST
	if generatePhonologyDir != "" {
		phonology, err = parser.LoadPhonologyFST(generatePhonologyDir)
		if err != nil {
			return fmt.Errorf("load phonology: %w", err)
		}
	}

	p, err := parser.NewMorphologicalParser(cfg.Root, phonology, morphology, lm)
	if err != nil {
		return fmt.Errorf("create parser: %w", err)
	}
	if err := attachCacheBackend(p); err != nil {
		return err
	}

	ctx := cmd.Context()
	if generateCompile {
		timeout := generateTimeout
		if timeout <= 0 {
			timeout = time.Duration(cfg.Timeouts.CompileSeconds) * time.Second
		}
		if err := p.GenerateAndCompile(ctx, timeout); err != nil {
			return fmt.Errorf("generate and compile: %w", err)
		}
	} else if err := p.Generate(ctx); err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	logger.Info("generated morphophonology",
		zap.String("dir", p.Obj.Directory()),
		zap.Bool("compiled", generateCompile),
		zap.Bool("compile_succeeded", p.CompileSucceeded))
	fmt.Println(p.Obj.Directory())
	return nil
}

func init() {
	generateCmd.Flags().StringVar(&generateMorphologyDir, "morphology", "", "Morphology workspace directory (required)")
	generateCmd.Flags().StringVar(&generateLMDir, "lm", "", "Language model workspace directory (required)")
	generateCmd.Flags().StringVar(&generatePhonologyDir, "phonology", "", "Phonology workspace directory (identity transducer used if omitted)")
	generateCmd.Flags().DurationVar(&generateTimeout, "timeout", 0, "Compile timeout (default: config's compile_seconds)")
	generateCmd.Flags().BoolVar(&generateCompile, "compile", true, "Compile immediately after generating")
	generateCmd.MarkFlagRequired("morphology")
	generateCmd.MarkFlagRequired("lm")
}

// attachCacheBackend swaps in the cache backend named by the active config,
// replacing the in-memory default NewMorphologicalParser wires up.
func attachCacheBackend(p *parser.MorphologicalParser) error {
	backend, err := openCacheBackend()
	if err != nil {
		return err
	}
	p.Cache = parser.NewCache(p.Obj.ID, backend)
	return nil
}
