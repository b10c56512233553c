// Package main implements the oldparser CLI.
//
// # File Index
//
//   - main.go         - entry point, rootCmd, global flags
//   - cmd_init.go     - init phonology|morphology|lm
//   - cmd_generate.go - generate
//   - cmd_compile.go  - compile
//   - cmd_parse.go    - parse
//   - cmd_runtest.go  - test
//   - cmd_cache.go    - cache export|clear
//   - cmd_watch.go    - watch
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"oldparser/internal/config"
	"oldparser/internal/logging"
)

var (
	// Global flags
	rootDir    string
	configPath string
	verbose    bool

	// Logger and loaded config, set up in PersistentPreRunE
	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "oldparser",
	Short: "oldparser - morphological parser generate/compile/parse CLI",
	Long: `oldparser composes a phonology, a morphology and an n-gram language
model into a morphophonology transducer, compiles it with foma/flookup and
estimate-ngram, and parses surface transcriptions against it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		path := configPath
		if path == "" {
			path = filepath.Join(rootDir, ".oldparser", "config.yaml")
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if rootDir != "" {
			cfg.Root = rootDir
		}
		cfg.Logging.DebugMode = cfg.Logging.DebugMode || verbose
		logging.Configure(logging.Config{
			DebugMode:  cfg.Logging.DebugMode,
			Categories: cfg.Logging.Categories,
			JSONFormat: cfg.Logging.JSONFormat,
			Root:       cfg.Root,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "Workspace root for new object workspaces and logs")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default: <root>/.oldparser/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(
		initCmd,
		generateCmd,
		compileCmd,
		parseCmd,
		testCmd,
		cacheCmd,
		watchCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
