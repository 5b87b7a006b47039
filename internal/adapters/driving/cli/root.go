// Package cli implements the mizan command line interface.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/mizan/internal/core/ports/driving"
	"github.com/custodia-labs/mizan/internal/core/services"
	"github.com/custodia-labs/mizan/internal/logger"
	"github.com/custodia-labs/mizan/internal/metrics"
)

// skipBootstrap marks commands that run without the query pipeline.
const skipBootstrap = "skip-bootstrap"

var (
	version = "dev"
	verbose bool

	searchService    driving.SearchService
	documentService  driving.DocumentService
	ingestionService driving.IngestionService
	queryService     driving.QueryService
	sessionService   driving.SessionService
	metricsRegistry  *metrics.Metrics
	settingsService  *services.SettingsService

	bootstrap     func(ctx context.Context) (*Services, error)
	closeServices func() error
)

// Services are the driving ports the commands call.
type Services struct {
	Search    driving.SearchService
	Documents driving.DocumentService
	Ingestion driving.IngestionService
	Query     driving.QueryService
	Sessions  driving.SessionService
	Metrics   *metrics.Metrics

	// Close releases everything the services hold. May be nil.
	Close func() error
}

var rootCmd = &cobra.Command{
	Use:   "mizan",
	Short: "Islamic finance question answering over your own documents",
	Long: `Mizan answers questions about Islamic finance from the documents you ingest.
Answers are grounded in retrieved passages, cite their sources, run
profit-sharing calculations where asked, and are checked against Shariah
compliance rules before they are shown.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger.SetVerbose(verbose)
		if cmd.Annotations[skipBootstrap] == "true" {
			return nil
		}
		return ensureServices(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline steps to stderr")
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// SetSettings sets the settings service used by the config commands.
func SetSettings(s *services.SettingsService) {
	settingsService = s
}

// SetBootstrap registers the function that builds the services on first
// use. Commands that do not need them never pay for opening stores.
func SetBootstrap(fn func(ctx context.Context) (*Services, error)) {
	bootstrap = fn
}

// SetServices installs ready-made services.
func SetServices(s *Services) {
	searchService = s.Search
	documentService = s.Documents
	ingestionService = s.Ingestion
	queryService = s.Query
	sessionService = s.Sessions
	metricsRegistry = s.Metrics
	closeServices = s.Close
}

func ensureServices(ctx context.Context) error {
	if queryService != nil || bootstrap == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	SetServices(s)
	return nil
}

// Execute runs the root command and releases the services afterwards.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if closeServices != nil {
		if cerr := closeServices(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		closeServices = nil
	}
	return err
}
