package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"oldparser/internal/parser"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a phonology, morphology or language model workspace",
}

// --- init phonology ---

var (
	initPhonologyScript     string
	initPhonologyBoundary   string
	initPhonologyBoundaries bool
	initPhonologyDecombine  bool
)

var initPhonologyCmd = &cobra.Command{
	Use:   "phonology",
	Short: "Create a phonology workspace from a foma script",
	RunE:  runInitPhonology,
}

func runInitPhonology(cmd *cobra.Command, args []string) error {
	script, err := os.ReadFile(initPhonologyScript)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	p, err := parser.NewPhonologyFST(cfg.Root, string(script))
	if err != nil {
		return fmt.Errorf("create phonology: %w", err)
	}
	p.WordBoundarySymbol = initPhonologyBoundary
	p.Boundaries = initPhonologyBoundaries
	if _, err := p.SaveScript(initPhonologyDecombine); err != nil {
		return fmt.Errorf("save script: %w", err)
	}
	if err := p.SaveMetadata(); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	logger.Info("created phonology workspace", zap.String("dir", p.Obj.Directory()))
	fmt.Println(p.Obj.Directory())
	return nil
}

// --- init morphology ---

var (
	initMorphologyScript     string
	initMorphologyScriptType string
	initMorphologyBoundary   string
	initMorphologyBoundaries bool
	initMorphologyRare       string
	initMorphologyRichUpper  bool
	initMorphologyRichLower  bool
	initMorphologyRules      []string
	initMorphologyDelimiters []string
)

var initMorphologyCmd = &cobra.Command{
	Use:   "morphology",
	Short: "Create a morphology workspace from a lexc or regex foma script",
	RunE:  runInitMorphology,
}

func runInitMorphology(cmd *cobra.Command, args []string) error {
	script, err := os.ReadFile(initMorphologyScript)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	m, err := parser.NewMorphologyFST(cfg.Root, string(script), initMorphologyScriptType)
	if err != nil {
		return fmt.Errorf("create morphology: %w", err)
	}
	m.WordBoundarySymbol = initMorphologyBoundary
	m.Boundaries = initMorphologyBoundaries
	if initMorphologyRare != "" {
		m.RareDelimiter = initMorphologyRare
	}
	m.RichUpper = initMorphologyRichUpper
	m.RichLower = initMorphologyRichLower
	m.RulesGenerated = initMorphologyRules
	m.MorphemeDelimiters = initMorphologyDelimiters
	if _, err := m.SaveScript(false); err != nil {
		return fmt.Errorf("save script: %w", err)
	}
	if err := m.SaveMetadata(); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	logger.Info("created morphology workspace", zap.String("dir", m.Obj.Directory()))
	fmt.Println(m.Obj.Directory())
	return nil
}

// --- init lm ---

var (
	initLMCorpus      string
	initLMArpa        string
	initLMOrder       int
	initLMSmoothing   string
	initLMStart       string
	initLMEnd         string
	initLMRare        string
	initLMCategorial  bool
	initLMEstimateBin string
	initLMTimeout     int
)

var initLMCmd = &cobra.Command{
	Use:   "lm",
	Short: "Create a language model workspace from a training corpus or a precomputed ARPA file",
	RunE:  runInitLM,
}

func runInitLM(cmd *cobra.Command, args []string) error {
	if initLMCorpus == "" && initLMArpa == "" {
		return fmt.Errorf("one of --corpus or --arpa is required")
	}
	if initLMCorpus != "" && initLMArpa != "" {
		return fmt.Errorf("--corpus and --arpa are mutually exclusive")
	}

	l, err := parser.NewLanguageModel(cfg.Root)
	if err != nil {
		return fmt.Errorf("create language model: %w", err)
	}
	l.Order = initLMOrder
	if initLMSmoothing != "" {
		l.Smoothing = initLMSmoothing
	}
	if initLMStart != "" {
		l.StartSymbol = initLMStart
	}
	if initLMEnd != "" {
		l.EndSymbol = initLMEnd
	}
	if initLMRare != "" {
		l.RareDelimiter = initLMRare
	}
	l.Categorial = initLMCategorial
	if initLMEstimateBin != "" {
		l.EstimateNgramPath = initLMEstimateBin
	}

	if initLMArpa != "" {
		data, err := os.ReadFile(initLMArpa)
		if err != nil {
			return fmt.Errorf("read arpa file: %w", err)
		}
		if err := os.WriteFile(l.Obj.FilePath("arpa"), data, 0o644); err != nil {
			return fmt.Errorf("copy arpa file: %w", err)
		}
	} else {
		data, err := os.ReadFile(initLMCorpus)
		if err != nil {
			return fmt.Errorf("read corpus: %w", err)
		}
		if err := os.WriteFile(l.Obj.FilePath("corpus"), data, 0o644); err != nil {
			return fmt.Errorf("copy corpus: %w", err)
		}
		timeout := timeoutSeconds(initLMTimeout, cfg.Timeouts.WriteArpaSeconds)
		if err := l.WriteArpa(cmd.Context(), timeout); err != nil {
			return fmt.Errorf("write arpa: %w", err)
		}
	}

	if err := l.GenerateTrie(); err != nil {
		return fmt.Errorf("generate trie: %w", err)
	}
	if err := l.SaveMetadata(); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	logger.Info("created language model workspace", zap.String("dir", l.Obj.Directory()))
	fmt.Println(l.Obj.Directory())
	return nil
}

func init() {
	initPhonologyCmd.Flags().StringVar(&initPhonologyScript, "script", "", "Path to the phonology's foma script (required)")
	initPhonologyCmd.Flags().StringVar(&initPhonologyBoundary, "word-boundary", "#", "Word boundary symbol")
	initPhonologyCmd.Flags().BoolVar(&initPhonologyBoundaries, "boundaries", false, "Wrap apply inputs/outputs in the word boundary symbol")
	initPhonologyCmd.Flags().BoolVar(&initPhonologyDecombine, "decombine", false, "Separate Unicode combining characters before compiling")
	initPhonologyCmd.MarkFlagRequired("script")

	initMorphologyCmd.Flags().StringVar(&initMorphologyScript, "script", "", "Path to the morphology's foma script (required)")
	initMorphologyCmd.Flags().StringVar(&initMorphologyScriptType, "script-type", "regex", `Script formalism: "regex" or "lexc"`)
	initMorphologyCmd.Flags().StringVar(&initMorphologyBoundary, "word-boundary", "#", "Word boundary symbol")
	initMorphologyCmd.Flags().BoolVar(&initMorphologyBoundaries, "boundaries", false, "Wrap apply inputs/outputs in the word boundary symbol")
	initMorphologyCmd.Flags().StringVar(&initMorphologyRare, "rare-delimiter", "", "Rare delimiter override (default U+2980)")
	initMorphologyCmd.Flags().BoolVar(&initMorphologyRichUpper, "rich-upper", false, "Upper side already carries gloss/category (skips dictionary disambiguation)")
	initMorphologyCmd.Flags().BoolVar(&initMorphologyRichLower, "rich-lower", false, "Lower side is already phonologically surface-accurate")
	initMorphologyCmd.Flags().StringSliceVar(&initMorphologyRules, "rule", nil, "A generated category-string rule, e.g. \"D N-PHI V-AGR\" (repeatable)")
	initMorphologyCmd.Flags().StringSliceVar(&initMorphologyDelimiters, "delimiter", []string{"-"}, "Morpheme delimiter(s), e.g. - or =")
	initMorphologyCmd.MarkFlagRequired("script")

	initLMCmd.Flags().StringVar(&initLMCorpus, "corpus", "", "Path to a training corpus (mutually exclusive with --arpa)")
	initLMCmd.Flags().StringVar(&initLMArpa, "arpa", "", "Path to a precomputed ARPA file (mutually exclusive with --corpus)")
	initLMCmd.Flags().IntVar(&initLMOrder, "order", 3, "N-gram order")
	initLMCmd.Flags().StringVar(&initLMSmoothing, "smoothing", "ModKN", "MITLM smoothing algorithm")
	initLMCmd.Flags().StringVar(&initLMStart, "start-symbol", "<s>", "Sentence-start symbol")
	initLMCmd.Flags().StringVar(&initLMEnd, "end-symbol", "</s>", "Sentence-end symbol")
	initLMCmd.Flags().StringVar(&initLMRare, "rare-delimiter", "", "Rare delimiter override (default U+2980)")
	initLMCmd.Flags().BoolVar(&initLMCategorial, "categorial", false, "Score morpheme categories rather than surface morphemes")
	initLMCmd.Flags().StringVar(&initLMEstimateBin, "estimate-ngram", "", "Path to the estimate-ngram executable (default: resolved from PATH)")
	initLMCmd.Flags().IntVar(&initLMTimeout, "timeout-seconds", 0, "Training timeout in seconds (default: config's write_arpa_seconds)")

	initCmd.AddCommand(initPhonologyCmd, initMorphologyCmd, initLMCmd)
}

// timeoutSeconds returns flagValue seconds if set, else configValue seconds.
func timeoutSeconds(flagValue, configValue int) time.Duration {
	v := flagValue
	if v <= 0 {
		v = configValue
	}
	return time.Duration(v) * time.Second
}
