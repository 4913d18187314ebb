package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/StinkyLord/cpe-identifier/internal/analyzer"
	"github.com/StinkyLord/cpe-identifier/internal/catalog"
	"github.com/StinkyLord/cpe-identifier/internal/config"
	"github.com/StinkyLord/cpe-identifier/internal/index"
	"github.com/StinkyLord/cpe-identifier/internal/logging"
)

const toolVersion = "1.0.0"

var (
	flagConfig  string
	flagCatalog string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "cpe-identifier",
	Short: "CPE identification engine",
	Long: `cpe-identifier maps evidence collected about third-party dependencies
(vendor, product and version hints of varying reliability) onto CPE
identifiers from a vulnerability catalog, with a calibrated confidence.

The catalog is either a SQLite snapshot (.db, .sqlite, .sqlite3) or a
YAML/JSON list of {cpe, ecosystem} entries.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to the YAML config file (default ./"+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().StringVarP(&flagCatalog, "catalog", "c", "", "Path to the vulnerability catalog")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// environment is what every subcommand needs: settings, a logger and an
// opened catalog.
type environment struct {
	cfg     config.Config
	logger  *zap.Logger
	catalog catalog.Catalog
}

func (e *environment) close() {
	if e.catalog != nil {
		e.catalog.Close()
	}
	_ = e.logger.Sync()
}

func setup(cmd *cobra.Command) (*environment, error) {
	logger, err := logging.New(flagVerbose)
	if err != nil {
		return nil, fmt.Errorf("cannot create logger: %w", err)
	}
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("catalog") {
		cfg.Catalog = flagCatalog
	}
	if cfg.Catalog == "" {
		return nil, errors.New("no catalog given: use --catalog or set catalog in the config file")
	}
	cat, err := catalog.Open(cmd.Context(), cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", analyzer.ErrInitialization, err)
	}
	return &environment{cfg: cfg, logger: logger, catalog: cat}, nil
}

// prepare builds the search index and the analyzer.
func (e *environment) prepare(ctx context.Context, gate analyzer.Suppressor) (*analyzer.Analyzer, *index.Index, error) {
	return analyzer.Prepare(ctx, e.catalog, gate, e.cfg.Analyzer(), e.logger)
}
