package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"tax-reconciliation-service/cmd/taxrecon/config"
	"tax-reconciliation-service/internal/catalog"
	"tax-reconciliation-service/internal/consolidation"
	"tax-reconciliation-service/internal/processors"
	"tax-reconciliation-service/internal/store"
	"tax-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runFlags name one consolidation run
type runFlags struct {
	proccode   string
	proccodeID string
	source     string
	district   string
	from       string
	to         string
	user       string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.proccode, "proccode", "p", "", "transaction-type code")
	cmd.Flags().StringVar(&f.proccodeID, "proccode-id", "", "catalog proccode id, fills proccode, source and district when omitted")
	cmd.Flags().StringVarP(&f.source, "source", "s", "", "source bank code")
	cmd.Flags().StringVar(&f.district, "district", "", "district code")
	cmd.Flags().StringVar(&f.from, "from", "", "first day of the range (YYYY-MM-DD, required)")
	cmd.Flags().StringVar(&f.to, "to", "", "last day of the range (YYYY-MM-DD, defaults to --from)")
	cmd.Flags().StringVar(&f.user, "user", os.Getenv("USER"), "user recorded on the batch")
	cmd.MarkFlagRequired("from")
}

// request builds the consolidation request. Missing proccode, source and
// district values are taken from the catalog proccode the request resolves to.
func (f *runFlags) request(cat *catalog.Catalog) (consolidation.Request, error) {
	from, err := config.ParseDay("from", f.from)
	if err != nil {
		return consolidation.Request{}, err
	}
	to := from
	if strings.TrimSpace(f.to) != "" {
		if to, err = config.ParseDay("to", f.to); err != nil {
			return consolidation.Request{}, err
		}
	}
	proccodeID, err := proccodeIDFlag(f.proccodeID)
	if err != nil {
		return consolidation.Request{}, err
	}

	req := consolidation.Request{
		Proccode:   strings.TrimSpace(f.proccode),
		ProccodeID: proccodeID,
		Source:     strings.TrimSpace(f.source),
		District:   strings.TrimSpace(f.district),
		DateStart:  from,
		DateEnd:    to,
		UserName:   strings.TrimSpace(f.user),
	}

	if cat != nil {
		if proccodeID != nil {
			if p, ok := cat.Proccode(*proccodeID); ok {
				if req.Proccode == "" && len(p.Codes()) > 0 {
					req.Proccode = p.Codes()[0]
				}
				if req.Source == "" {
					req.Source = p.Source
				}
			}
		}
		if req.District == "" {
			if res := processors.Resolve(cat, req.Proccode, req.Source, proccodeID); res.Proccode != nil {
				req.District = res.Proccode.District
			}
		}
	}

	return req, req.Validate()
}

// Flags for the consolidate commands
var (
	previewRun    runFlags
	previewOutput outputFlags

	commitRun    runFlags
	commitOutput outputFlags
	commitYes    bool

	listDistrict string
	listProccode string
	listFrom     string
	listTo       string
	listLimit    int
	listOutput   outputFlags

	itemsOutput outputFlags
)

// consolidateCmd groups the consolidation commands
var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Consolidate date ranges into stored batches",
	Long: `Consolidate fetches every day of a date range, normalizes the records
and stores them as one batch per district, proccode and range.

A commit always shows the preview of the run first and only stores the
batch once it is confirmed, either interactively or with --yes. Storing a
range again replaces the earlier batch.`,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Compute a consolidation without storing it",
	Example: `  taxrecon consolidate preview --proccode 180V42 --source BJB01 --district 3201 --from 2025-12-01 --to 2025-12-07
  taxrecon consolidate preview --proccode-id 1 --from 2025-12-01 -f json`,
	RunE: runPreview,
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Preview a consolidation and store it",
	Example: `  taxrecon consolidate commit --proccode-id 1 --from 2025-12-01 --to 2025-12-07
  taxrecon consolidate commit --proccode 180V42 --source BJB01 --district 3201 --from 2025-12-01 --yes`,
	RunE: runCommit,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored batches, newest first",
	RunE:  runList,
}

var itemsCmd = &cobra.Command{
	Use:   "items BATCH_ID",
	Short: "Show a stored batch and its items",
	Args:  cobra.ExactArgs(1),
	RunE:  runItems,
}

var resetCmd = &cobra.Command{
	Use:   "reset BATCH_ID",
	Short: "Delete a stored batch and its items",
	Args:  cobra.ExactArgs(1),
	RunE:  runReset,
}

func init() {
	rootCmd.AddCommand(consolidateCmd)
	consolidateCmd.AddCommand(previewCmd, commitCmd, listCmd, itemsCmd, resetCmd)

	previewRun.register(previewCmd)
	previewOutput.register(previewCmd)

	commitRun.register(commitCmd)
	commitOutput.register(commitCmd)
	commitCmd.Flags().BoolVarP(&commitYes, "yes", "y", false, "store without asking for confirmation")

	listCmd.Flags().StringVar(&listDistrict, "district", "", "only batches of this district")
	listCmd.Flags().StringVarP(&listProccode, "proccode", "p", "", "only batches of this proccode")
	listCmd.Flags().StringVar(&listFrom, "from", "", "only batches ending on or after this day")
	listCmd.Flags().StringVar(&listTo, "to", "", "only batches starting on or before this day")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of batches, 0 for all")
	listOutput.register(listCmd)

	itemsOutput.register(itemsCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	req, err := previewRun.request(cat)
	if err != nil {
		return err
	}

	aggregator, st, err := newAggregator(cat)
	if err != nil {
		return err
	}
	defer st.Close()

	generator, out, err := previewOutput.open()
	if err != nil {
		return err
	}
	defer out.Close()

	preview, err := aggregator.Preview(ctx, req)
	if err != nil {
		return err
	}
	return generator.WritePreview(preview, out)
}

func runCommit(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	req, err := commitRun.request(cat)
	if err != nil {
		return err
	}

	aggregator, st, err := newAggregator(cat)
	if err != nil {
		return err
	}
	defer st.Close()

	generator, out, err := commitOutput.open()
	if err != nil {
		return err
	}
	defer out.Close()

	preview, err := aggregator.Preview(ctx, req)
	if err != nil {
		return err
	}
	if err := generator.WritePreview(preview, out); err != nil {
		return fmt.Errorf("failed to write preview: %w", err)
	}

	if !commitYes {
		question := fmt.Sprintf("Store %d items for %s %s..%s, replacing any earlier batch?",
			preview.Summary.Count, req.District,
			req.DateStart.Format("2006-01-02"), req.DateEnd.Format("2006-01-02"))
		if !confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), question) {
			fmt.Fprintf(cmd.ErrOrStderr(), "Commit cancelled, nothing was stored.\n")
			return nil
		}
	}

	batch, err := aggregator.Commit(ctx, req)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "\nStored batch %s with %d items.\n", batch.ID, batch.TotalItems)
	if viper.GetBool("verbose") {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", batch)
	}
	return nil
}

// confirm asks a yes/no question on w and reads the answer from r.
func confirm(r io.Reader, w io.Writer, question string) bool {
	fmt.Fprintf(w, "\n%s [y/N] ", question)
	answer, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	filter := store.BatchFilter{
		District: strings.TrimSpace(listDistrict),
		Proccode: strings.TrimSpace(listProccode),
		Limit:    listLimit,
	}
	if listLimit < 0 {
		return errors.ValidationError(errors.CodeOutOfRange, "limit", listLimit, nil)
	}
	var err error
	if listFrom != "" {
		if filter.From, err = config.ParseDay("from", listFrom); err != nil {
			return err
		}
	}
	if listTo != "" {
		if filter.To, err = config.ParseDay("to", listTo); err != nil {
			return err
		}
	}

	aggregator, st, err := newAggregator(nil)
	if err != nil {
		return err
	}
	defer st.Close()

	generator, out, err := listOutput.open()
	if err != nil {
		return err
	}
	defer out.Close()

	batches, err := aggregator.List(ctx, filter)
	if err != nil {
		return err
	}
	return generator.WriteBatches(batches, out)
}

func runItems(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	aggregator, st, err := newAggregator(nil)
	if err != nil {
		return err
	}
	defer st.Close()

	generator, out, err := itemsOutput.open()
	if err != nil {
		return err
	}
	defer out.Close()

	batch, items, err := aggregator.Items(ctx, strings.TrimSpace(args[0]))
	if err != nil {
		return err
	}
	return generator.WriteBatch(batch, items, out)
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	aggregator, st, err := newAggregator(nil)
	if err != nil {
		return err
	}
	defer st.Close()

	id := strings.TrimSpace(args[0])
	if err := aggregator.Reset(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted batch %s\n", id)
	return nil
}
