package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"oldparser/internal/parser"
)

var (
	watchParserDir string
	watchTimeout   time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a parser's morphology/phonology/language-model scripts and regenerate on change",
	Long: `watch is a development convenience: it watches the script/ARPA
files a parser was last generated from and re-runs generate+compile every
time one is saved, until interrupted.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	backend, err := openCacheBackend()
	if err != nil {
		return err
	}
	p, err := parser.OpenMorphologicalParser(watchParserDir, backend)
	if err != nil {
		return fmt.Errorf("open parser: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	watched := []string{p.Morphology.Obj.FilePath("script")}
	if p.LanguageModel != nil {
		watched = append(watched, p.LanguageModel.Obj.FilePath("corpus"), p.LanguageModel.Obj.FilePath("arpa"))
	}
	if p.Phonology != nil {
		watched = append(watched, p.Phonology.Obj.FilePath("script"))
	}
	for _, path := range watched {
		if err := watcher.Add(path); err != nil {
			logger.Warn("cannot watch file", zap.String("path", path), zap.Error(err))
		}
	}

	timeout := watchTimeout
	if timeout <= 0 {
		timeout = time.Duration(cfg.Timeouts.CompileSeconds) * time.Second
	}

	logger.Info("watching for changes", zap.Strings("files", watched))
	ctx := cmd.Context()
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			logger.Info("change detected, regenerating", zap.String("file", event.Name))
			if err := regenerateAndReport(ctx, p, timeout); err != nil {
				logger.Error("regenerate failed", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", zap.Error(err))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func regenerateAndReport(ctx context.Context, p *parser.MorphologicalParser, timeout time.Duration) error {
	if err := p.GenerateAndCompile(ctx, timeout); err != nil {
		return err
	}
	logger.Info("regenerated and compiled successfully", zap.Bool("compile_succeeded", p.CompileSucceeded))
	return nil
}

func init() {
	watchCmd.Flags().StringVar(&watchParserDir, "parser", "", "Parser workspace directory (required)")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 0, "Compile timeout per regeneration (default: config's compile_seconds)")
	watchCmd.MarkFlagRequired("parser")
}
