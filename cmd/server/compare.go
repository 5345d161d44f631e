package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CeliaPro/ysm2-sub000/internal/core"
)

var compareFlags struct {
	noExact           bool
	noVector          bool
	noLexical         bool
	useLLM            bool
	semanticThreshold float64
	lexicalThreshold  float64
	maxLLMOps         int
}

var compareCmd = &cobra.Command{
	Use:   "compare <leftProcessingId> <rightProcessingId>",
	Short: "Compare two ingested document versions chunk by chunk",
	Args:  cobra.ExactArgs(2),
	RunE:  runCompare,
}

func init() {
	f := compareCmd.Flags()
	f.BoolVar(&compareFlags.noExact, "no-exact", false, "disable exact content-hash matching")
	f.BoolVar(&compareFlags.noVector, "no-vector", false, "disable embedding similarity")
	f.BoolVar(&compareFlags.noLexical, "no-lexical", false, "disable lexical similarity")
	f.BoolVar(&compareFlags.useLLM, "use-llm", false, "adjudicate low-confidence modifications with the LLM")
	f.Float64Var(&compareFlags.semanticThreshold, "semantic-threshold", 0, "minimum embedding similarity for a modification (0 keeps the default)")
	f.Float64Var(&compareFlags.lexicalThreshold, "lexical-threshold", 0, "minimum lexical similarity for a modification (0 keeps the default)")
	f.IntVar(&compareFlags.maxLLMOps, "max-llm-ops", 0, "cap on LLM adjudication calls (0 keeps the default)")

	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	opts := core.DefaultComparisonOptions()
	opts.UseExactMatching = !compareFlags.noExact
	opts.UseVectorSimilarity = !compareFlags.noVector
	opts.UseLexicalSimilarity = !compareFlags.noLexical
	if compareFlags.useLLM {
		opts.UseLLM = true
	}
	if compareFlags.semanticThreshold > 0 {
		opts.SemanticSimilarityThreshold = compareFlags.semanticThreshold
	}
	if compareFlags.lexicalThreshold > 0 {
		opts.LexicalSimilarityThreshold = compareFlags.lexicalThreshold
	}
	if compareFlags.maxLLMOps > 0 {
		opts.MaxLLMOps = compareFlags.maxLLMOps
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.comparisons.Compare(ctx, core.ComparisonRequest{
		LeftProcessingID:  args[0],
		RightProcessingID: args[1],
		Options:           opts,
	})
	if err != nil {
		return fmt.Errorf("comparison failed: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), result)
}
