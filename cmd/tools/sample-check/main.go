// cmd/tools/sample-check/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"heart-risk-service/internal/common/logger"
	"heart-risk-service/internal/inference"
)

type options struct {
	ModelPath  string
	ScalerPath string
	Threshold  float64
	Strict     bool
	LogLevel   string
}

func main() {
	opts := options{}

	root := &cobra.Command{
		Use:   "sample-check",
		Short: "Run the reference samples through the model artifacts",
		Long: `sample-check loads the forest and scaler artifacts, runs every reference
sample through the full pipeline and prints each intermediate stage.

With --strict the command exits non-zero when a regression sample changes
its verdict.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	root.Flags().StringVar(&opts.ModelPath, "model", "models/random_forest_model.json", "forest artifact")
	root.Flags().StringVar(&opts.ScalerPath, "scaler", "models/scaler.json", "scaler artifact")
	root.Flags().Float64Var(&opts.Threshold, "threshold", inference.DefaultThreshold, "decision threshold")
	root.Flags().BoolVar(&opts.Strict, "strict", false, "fail when a regression sample flips")
	root.Flags().StringVar(&opts.LogLevel, "log-level", "warn", "log level for artifact loading (debug, info, warn, error)")

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "sample-check:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, opts options) error {
	ic := inference.Load(inference.Options{
		ModelPath:  opts.ModelPath,
		ScalerPath: opts.ScalerPath,
		Threshold:  opts.Threshold,
	}, logger.NewStructured(opts.LogLevel, "console", "stderr"))
	if !ic.Ready() {
		return fmt.Errorf("artifacts not usable: %w", ic.Reason())
	}
	p := inference.NewPipeline(ic)
	fmt.Fprintf(out, "artifact:   %s\n", ic.ArtifactID())

	var flipped []string
	for _, s := range inference.ReferenceSamples {
		trace, err := p.Explain(ctx, s.Values)
		if err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
		printTrace(out, s, trace)

		if s.Regression && trace.Result.IsPositive != s.Positive {
			flipped = append(flipped, s.Name)
		}
	}

	if len(flipped) > 0 {
		fmt.Fprintf(out, "\nREGRESSION: %s\n", strings.Join(flipped, ", "))
		if opts.Strict {
			return fmt.Errorf("%d regression sample(s) changed verdict", len(flipped))
		}
	}
	return nil
}

func printTrace(out io.Writer, s inference.ReferenceSample, t *inference.Trace) {
	fmt.Fprintf(out, "\n=== %s ===\n", s.Name)
	fmt.Fprintf(out, "raw:        %s\n", formatVector(t.Raw[:]))
	fmt.Fprintf(out, "normalized: %s\n", formatVector(t.Normalized[:]))
	fmt.Fprintf(out, "scaled:     %s\n", formatVector(t.Scaled[:]))
	fmt.Fprintf(out, "proba:      negative=%.4f positive=%.4f\n", t.Probabilities.Negative, t.Probabilities.Positive)
	fmt.Fprintf(out, "%s\n", t.Result.Label)
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%s=%.4g", inference.FeatureColumns[i], x)
	}
	return strings.Join(parts, " ")
}
