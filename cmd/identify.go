package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/StinkyLord/cpe-identifier/internal/output"
	"github.com/StinkyLord/cpe-identifier/internal/scanner"
	"github.com/StinkyLord/cpe-identifier/internal/suppression"
)

var (
	flagInput           string
	flagOutput          string
	flagFormat          string
	flagWorkers         int
	flagSkipEcosystems  []string
	flagSuppressions    []string
	flagMaxResults      int
	flagMinScore        float64
	flagEnforceMinScore bool
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Identify CPEs for a list of dependencies",
	Long: `Read a YAML or JSON list of dependencies with their evidence, identify
CPEs for each and write the result as a CycloneDX BOM or a JSON report.

Examples:
  cpe-identifier identify --catalog nvd.db --input deps.yaml --output bom.json
  cpe-identifier identify -c catalog.yaml -i deps.json -o - --format json --verbose
  cpe-identifier identify -c nvd.db -i deps.yaml --suppression https://example.com/rules.yaml`,
	RunE: runIdentify,
}

func init() {
	identifyCmd.Flags().StringVarP(&flagInput, "input", "i", "", "Dependency list (YAML or JSON)")
	identifyCmd.Flags().StringVarP(&flagOutput, "output", "o", "cpe-report.json", "Output file path (use '-' for stdout)")
	identifyCmd.Flags().StringVarP(&flagFormat, "format", "f", "cyclonedx", "Output format: cyclonedx, json")
	identifyCmd.Flags().IntVar(&flagWorkers, "workers", 0, "Concurrent analyses (default GOMAXPROCS)")
	identifyCmd.Flags().StringSliceVar(&flagSkipEcosystems, "skip-ecosystem", nil, "Dependency ecosystem to skip (repeatable)")
	identifyCmd.Flags().StringSliceVar(&flagSuppressions, "suppression", nil, "Suppression rule file path or URL (repeatable)")
	identifyCmd.Flags().IntVar(&flagMaxResults, "max-results", 0, "Search hits examined per query")
	identifyCmd.Flags().Float64Var(&flagMinScore, "min-score", 0, "Minimum search score, used with --enforce-min-score")
	identifyCmd.Flags().BoolVar(&flagEnforceMinScore, "enforce-min-score", false, "Drop search hits below --min-score")
	_ = identifyCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.close()
	applyIdentifyFlags(cmd, env)
	if err := env.cfg.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()

	deps, err := scanner.LoadFile(flagInput)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "cpe-identifier v%s\n", toolVersion)
	fmt.Fprintf(os.Stderr, "Analyzing %d dependencies from %s\n", len(deps), flagInput)

	gate, warnings := suppression.Load(ctx, suppression.Options{
		Files:   env.cfg.SuppressionFiles,
		Retries: env.cfg.DownloadRetries,
		Logger:  env.logger,
	})
	if gate == nil {
		return fmt.Errorf("suppression rules: %w", warnings)
	}
	if warnings != nil {
		env.logger.Warn("some suppression files were not loaded", zap.Error(warnings))
	}

	a, idx, err := env.prepare(ctx, gate)
	if err != nil {
		return err
	}
	defer idx.Close()

	result, err := scanner.New(a, env.cfg.Workers, env.logger).Scan(ctx, deps)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Identified %d of %d dependencies (%d skipped, %d failed)\n",
		result.Count(scanner.Identified), len(deps), result.Count(scanner.Skipped), result.Count(scanner.Failed))

	switch flagFormat {
	case "cyclonedx", "cdx":
		if err := output.WriteCycloneDX(result, flagOutput, toolVersion); err != nil {
			return fmt.Errorf("failed to write CycloneDX output: %w", err)
		}
	case "json":
		if err := output.WriteJSON(result, flagOutput); err != nil {
			return fmt.Errorf("failed to write JSON report: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format %q (supported: cyclonedx, json)", flagFormat)
	}

	if flagOutput != "-" {
		fmt.Fprintf(os.Stderr, "Report written to: %s\n", flagOutput)
	}
	return nil
}

// applyIdentifyFlags lets explicitly set flags override the config file.
func applyIdentifyFlags(cmd *cobra.Command, env *environment) {
	f := cmd.Flags()
	if f.Changed("workers") {
		env.cfg.Workers = flagWorkers
	}
	if f.Changed("skip-ecosystem") {
		env.cfg.SkipEcosystems = flagSkipEcosystems
	}
	if f.Changed("suppression") {
		env.cfg.SuppressionFiles = append(env.cfg.SuppressionFiles, flagSuppressions...)
	}
	if f.Changed("max-results") {
		env.cfg.MaxResults = flagMaxResults
	}
	if f.Changed("min-score") {
		env.cfg.MinScore = flagMinScore
	}
	if f.Changed("enforce-min-score") {
		env.cfg.EnforceMinScore = flagEnforceMinScore
	}
}
