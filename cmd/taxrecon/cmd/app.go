package cmd

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"tax-reconciliation-service/cmd/taxrecon/config"
	"tax-reconciliation-service/internal/catalog"
	"tax-reconciliation-service/internal/consolidation"
	"tax-reconciliation-service/internal/processors"
	"tax-reconciliation-service/internal/reporter"
	"tax-reconciliation-service/internal/source"
	"tax-reconciliation-service/internal/store"
	"tax-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
)

// outputFlags are shared by every command that renders a report.
type outputFlags struct {
	format    string
	file      string
	delimiter string
	maxRows   int
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.format, "output-format", "f", "console", "output format: console, json, csv")
	cmd.Flags().StringVarP(&o.file, "output-file", "o", "", "output file path (default: stdout)")
	cmd.Flags().StringVar(&o.delimiter, "csv-delimiter", ",", `CSV delimiter, "\t" for tab`)
	cmd.Flags().IntVar(&o.maxRows, "max-rows", 50, "console rows to print, 0 for all")
}

// open returns the report generator and the destination it writes to.
func (o *outputFlags) open() (*reporter.ReportGenerator, *reporter.Output, error) {
	reportConfig, err := config.CreateReportConfig(o.format, o.delimiter, o.maxRows)
	if err != nil {
		return nil, nil, err
	}
	generator, err := reporter.NewReportGenerator(reportConfig)
	if err != nil {
		return nil, nil, err
	}
	out, err := reporter.OpenOutput(o.file, nil)
	if err != nil {
		return nil, nil, err
	}
	return generator, out, nil
}

// proccodeIDFlag parses the optional --proccode-id value.
func proccodeIDFlag(value string) (*int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "proccode-id", value, err)
	}
	return &id, nil
}

func loadCatalog() (*catalog.Catalog, error) {
	return catalog.Load(settings.CatalogPath)
}

func newSource() (source.Source, error) {
	client, err := source.NewClient(settings.Source)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func openStore() (*store.Store, error) {
	return store.Open(settings.DatabasePath)
}

// offlineSource stands in for the banking API in commands that only read
// stored batches.
type offlineSource struct{}

func (offlineSource) Fetch(context.Context, source.Request) (*source.Response, error) {
	return nil, errors.ConfigurationError(errors.CodeMissingConfig, config.KeySourceBaseURL, "", nil)
}

// newAggregator wires an aggregator over the configured store. Without a
// catalog the banking API is never contacted and only stored batches can be
// read or reset.
func newAggregator(cat *catalog.Catalog) (*consolidation.Aggregator, *store.Store, error) {
	var src source.Source = offlineSource{}
	if cat != nil {
		client, err := newSource()
		if err != nil {
			return nil, nil, err
		}
		src = client
	}

	st, err := openStore()
	if err != nil {
		return nil, nil, err
	}

	aggregator, err := consolidation.NewAggregator(src, cat, processors.NewDispatcher(nil), st, settings.Consolidation)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return aggregator, st, nil
}

// signalContext is cancelled on interrupt so in-flight requests stop.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
