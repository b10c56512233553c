package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"oldparser/internal/parser"
)

var cacheParserDir string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear a parser's durable parse cache",
}

var cacheExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print every cached parse for a parser as JSON",
	RunE:  runCacheExport,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached parse for a parser",
	RunE:  runCacheClear,
}

func openCachedParser() (*parser.MorphologicalParser, error) {
	backend, err := openCacheBackend()
	if err != nil {
		return nil, err
	}
	p, err := parser.OpenMorphologicalParser(cacheParserDir, backend)
	if err != nil {
		return nil, fmt.Errorf("open parser: %w", err)
	}
	return p, nil
}

func runCacheExport(cmd *cobra.Command, args []string) error {
	p, err := openCachedParser()
	if err != nil {
		return err
	}
	entries, err := p.Cache.Export(cmd.Context())
	if err != nil {
		return fmt.Errorf("export cache: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	p, err := openCachedParser()
	if err != nil {
		return err
	}
	if err := p.Cache.Clear(cmd.Context(), true); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	logger.Info("cleared parse cache", zap.String("parser", cacheParserDir))
	return nil
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheParserDir, "parser", "", "Parser workspace directory (required)")
	cacheCmd.MarkPersistentFlagRequired("parser")
	cacheCmd.AddCommand(cacheExportCmd, cacheClearCmd)
}
