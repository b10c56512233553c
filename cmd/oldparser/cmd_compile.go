package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"oldparser/internal/parser"
)

var (
	compileParserDir string
	compileTimeout   time.Duration
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Regenerate and recompile an existing morphophonology transducer",
	RunE:  runCompile,
}

func runCompile(cmd *cobra.Command, args []string) error {
	backend, err := openCacheBackend()
	if err != nil {
		return err
	}
	p, err := parser.OpenMorphologicalParser(compileParserDir, backend)
	if err != nil {
		return fmt.Errorf("open parser: %w", err)
	}

	timeout := compileTimeout
	if timeout <= 0 {
		timeout = time.Duration(cfg.Timeouts.CompileSeconds) * time.Second
	}
	if err := p.GenerateAndCompile(cmd.Context(), timeout); err != nil {
		return fmt.Errorf("generate and compile: %w", err)
	}
	logger.Info("recompiled morphophonology",
		zap.String("dir", p.Obj.Directory()),
		zap.Bool("compile_succeeded", p.CompileSucceeded))
	return nil
}

func init() {
	compileCmd.Flags().StringVar(&compileParserDir, "parser", "", "Parser workspace directory, as printed by 'generate' (required)")
	compileCmd.Flags().DurationVar(&compileTimeout, "timeout", 0, "Compile timeout (default: config's compile_seconds)")
	compileCmd.MarkFlagRequired("parser")
}
