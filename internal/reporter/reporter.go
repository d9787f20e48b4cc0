// Package reporter renders reviews, consolidation previews and stored
// batches.
//
// Supported output formats:
//   - Console: aligned tables for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one line per row for spreadsheet applications
//
// Example usage:
//
//	gen, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatCSV, CSVDelimiter: ';', CSVHeaders: true})
//	err = gen.WriteReview(review, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"tax-reconciliation-service/internal/consolidation"
	"tax-reconciliation-service/internal/mapping"
	"tax-reconciliation-service/internal/models"
	"tax-reconciliation-service/internal/reconciler"

	"github.com/shopspring/decimal"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// MaxRows limits console tables. Zero prints every row.
	MaxRows int `json:"max_rows"`

	// IncludeRaw prints unprocessed records on the console when a review
	// has no mapped rows.
	IncludeRaw bool `json:"include_raw"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:       FormatConsole,
		MaxRows:      50,
		IncludeRaw:   true,
		CSVDelimiter: ',',
		CSVHeaders:   true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxRows < 0 {
		return fmt.Errorf("max rows cannot be negative, got %d", c.MaxRows)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator writes reports in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// Format returns the configured output format
func (rg *ReportGenerator) Format() OutputFormat {
	return rg.config.Format
}

// WriteReview renders an ad hoc review.
func (rg *ReportGenerator) WriteReview(review *reconciler.Review, w io.Writer) error {
	if review == nil {
		return fmt.Errorf("review cannot be nil")
	}

	switch rg.config.Format {
	case FormatJSON:
		return writeJSON(review, w)
	case FormatCSV:
		return rg.writeReviewCSV(review, w)
	default:
		return rg.writeReviewConsole(review, w)
	}
}

// WritePreview renders a consolidation preview.
func (rg *ReportGenerator) WritePreview(preview *consolidation.Preview, w io.Writer) error {
	if preview == nil {
		return fmt.Errorf("preview cannot be nil")
	}

	switch rg.config.Format {
	case FormatJSON:
		return writeJSON(preview, w)
	case FormatCSV:
		return rg.writePreviewCSV(preview, w)
	default:
		return rg.writePreviewConsole(preview, w)
	}
}

// WriteBatches renders a list of stored batches.
func (rg *ReportGenerator) WriteBatches(batches []models.ConsolidationBatch, w io.Writer) error {
	switch rg.config.Format {
	case FormatJSON:
		if batches == nil {
			batches = []models.ConsolidationBatch{}
		}
		return writeJSON(batches, w)
	case FormatCSV:
		cw := rg.csvWriter(w)
		if rg.config.CSVHeaders {
			cw.Write(batchHeaders)
		}
		for i := range batches {
			cw.Write(batchRecord(&batches[i]))
		}
		cw.Flush()
		return cw.Error()
	default:
		if len(batches) == 0 {
			fmt.Fprintf(w, "No consolidation batches found\n")
			return nil
		}
		tw := newTable(w)
		fmt.Fprintln(tw, strings.Join(batchHeaders, "\t"))
		for i := range batches {
			record := batchRecord(&batches[i])
			record[6] = formatMoney(batches[i].TotalNominal)
			fmt.Fprintln(tw, strings.Join(record, "\t"))
		}
		return tw.Flush()
	}
}

// WriteBatch renders one batch and, when given, its items.
func (rg *ReportGenerator) WriteBatch(batch *models.ConsolidationBatch, items []models.ConsolidationItem, w io.Writer) error {
	if batch == nil {
		return fmt.Errorf("batch cannot be nil")
	}

	switch rg.config.Format {
	case FormatJSON:
		return writeJSON(struct {
			Batch *models.ConsolidationBatch  `json:"batch"`
			Items []models.ConsolidationItem `json:"items,omitempty"`
		}{batch, items}, w)
	case FormatCSV:
		cw := rg.csvWriter(w)
		if rg.config.CSVHeaders {
			cw.Write([]string{"id", "transaction_date", "nominal", "raw_data"})
		}
		for i := range items {
			raw, _ := items[i].RawJSON()
			cw.Write([]string{items[i].ID, items[i].TransactionDate.Format(models.DayLayout), items[i].Nominal.String(), raw})
		}
		cw.Flush()
		return cw.Error()
	default:
		fmt.Fprintf(w, "CONSOLIDATION BATCH %s\n", batch.ID)
		fmt.Fprintf(w, "District:  %s\n", batch.District)
		fmt.Fprintf(w, "Proccode:  %s (%s)\n", batch.Proccode, batch.Source)
		fmt.Fprintf(w, "Range:     %s .. %s\n", batch.DateStart.Format(models.DayLayout), batch.DateEnd.Format(models.DayLayout))
		fmt.Fprintf(w, "Items:     %d\n", batch.TotalItems)
		fmt.Fprintf(w, "Total:     %s\n", formatMoney(batch.TotalNominal))
		fmt.Fprintf(w, "Uploaded:  %s", batch.UploadDate.Format(time.RFC3339))
		if batch.UserName != "" {
			fmt.Fprintf(w, " by %s", batch.UserName)
		}
		fmt.Fprintf(w, "\n")

		if len(items) == 0 {
			return nil
		}
		fmt.Fprintf(w, "\n")
		tw := newTable(w)
		fmt.Fprintln(tw, "#\tDate\tNominal")
		for i, item := range rg.limitItems(items) {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, mapping.FormatLongDate(item.TransactionDate), formatMoney(item.Nominal))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		rg.printTruncation(len(items), w)
		return nil
	}
}

func (rg *ReportGenerator) writeReviewConsole(review *reconciler.Review, w io.Writer) error {
	fmt.Fprintf(w, "REVIEW %s / %s / %s\n", review.Request.Proccode, review.Request.Source, review.Request.Date.Format(models.DayLayout))
	if p := review.Proccode; p != nil {
		fmt.Fprintf(w, "Proccode:  #%d %s\n", p.ID, p.Description)
	} else {
		fmt.Fprintf(w, "Proccode:  no catalog match\n")
	}
	fmt.Fprintf(w, "Strategy:  %s\n", review.Strategy)
	fmt.Fprintf(w, "Records:   %d (accepted %d, rejected %d)\n", review.Stats.Total, review.Stats.Accepted, review.Stats.Rejected)
	if review.Whitelist != "" {
		fmt.Fprintf(w, "Accepted response codes: %s\n", review.Whitelist)
	}
	if review.ProcessorError != "" {
		fmt.Fprintf(w, "\n!! PROCESSOR ERROR: %s\n!! Showing unprocessed records.\n", review.ProcessorError)
	}
	fmt.Fprintf(w, "\n")

	if len(review.Rows) == 0 {
		if review.Passthrough {
			fmt.Fprintf(w, "No mapping configured, records are shown unprocessed.\n")
		}
		if rg.config.IncludeRaw {
			return rg.printRaw(review.Raw, w)
		}
		return nil
	}

	tw := newTable(w)
	fmt.Fprintln(tw, strings.Join(append(append([]string{"#"}, review.Columns...), "RC", "OK"), "\t"))
	for i, rr := range rg.limitReviewRows(review.Rows) {
		cells := []string{strconv.Itoa(i + 1)}
		for _, col := range review.Columns {
			v, _ := rr.Row.Get(col)
			cells = append(cells, v)
		}
		cells = append(cells, emptyMarker(rr.Row.ResponseCode), yesNo(rr.Accepted))
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	rg.printTruncation(len(review.Rows), w)
	return nil
}

func (rg *ReportGenerator) writeReviewCSV(review *reconciler.Review, w io.Writer) error {
	cw := rg.csvWriter(w)

	if len(review.Rows) == 0 {
		if rg.config.CSVHeaders {
			cw.Write([]string{"rc", "accepted", "raw_data"})
		}
		whitelist := mapping.ParseWhitelist(review.Whitelist)
		for _, raw := range review.Raw {
			data, err := json.Marshal(raw)
			if err != nil {
				return fmt.Errorf("failed to encode raw record: %w", err)
			}
			rc := mapping.ResponseCode(raw)
			cw.Write([]string{rc, strconv.FormatBool(whitelist.Accepts(rc)), string(data)})
		}
		cw.Flush()
		return cw.Error()
	}

	if rg.config.CSVHeaders {
		cw.Write(append(append([]string{}, review.Columns...), models.ResponseCodeKey, "accepted"))
	}
	for _, rr := range review.Rows {
		record := make([]string, 0, len(review.Columns)+2)
		for _, col := range review.Columns {
			v, _ := rr.Row.Get(col)
			record = append(record, v)
		}
		record = append(record, rr.Row.ResponseCode, strconv.FormatBool(rr.Accepted))
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write review row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (rg *ReportGenerator) writePreviewConsole(p *consolidation.Preview, w io.Writer) error {
	req := p.Request
	fmt.Fprintf(w, "CONSOLIDATION PREVIEW %s / %s\n", req.Proccode, req.District)
	fmt.Fprintf(w, "Range:     %s .. %s (%d days)\n", req.DateStart.Format(models.DayLayout), req.DateEnd.Format(models.DayLayout), p.Days)
	fmt.Fprintf(w, "Strategy:  %s\n", p.Strategy)
	fmt.Fprintf(w, "Items:     %d\n", p.Summary.Count)
	fmt.Fprintf(w, "Total:     %s\n", formatMoney(p.Summary.TotalNominal))
	for _, de := range p.ProcessorErrors {
		fmt.Fprintf(w, "!! %s: processor error: %s\n", de.Date.Format(models.DayLayout), de.Error)
	}

	if len(p.Items) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\n")

	tw := newTable(w)
	fmt.Fprintln(tw, strings.Join(append(append([]string{"#", "Hari"}, p.Columns...), "Nominal"), "\t"))
	for i, item := range rg.limitItemsPreview(p.Items) {
		cells := []string{strconv.Itoa(i + 1), item.Date.Format(models.DayLayout)}
		for _, col := range p.Columns {
			v, _ := item.Row.Get(col)
			cells = append(cells, v)
		}
		cells = append(cells, formatMoney(item.Nominal))
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	rg.printTruncation(len(p.Items), w)
	return nil
}

func (rg *ReportGenerator) writePreviewCSV(p *consolidation.Preview, w io.Writer) error {
	cw := rg.csvWriter(w)
	if rg.config.CSVHeaders {
		cw.Write(append(append([]string{"date"}, p.Columns...), "nominal"))
	}
	for _, item := range p.Items {
		record := []string{item.Date.Format(models.DayLayout)}
		for _, col := range p.Columns {
			v, _ := item.Row.Get(col)
			record = append(record, v)
		}
		record = append(record, item.Nominal.String())
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write preview item: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

var batchHeaders = []string{"id", "district", "proccode", "source", "date_start", "date_end", "total_nominal", "total_items", "uploaded", "user"}

func batchRecord(b *models.ConsolidationBatch) []string {
	return []string{
		b.ID,
		b.District,
		b.Proccode,
		b.Source,
		b.DateStart.Format(models.DayLayout),
		b.DateEnd.Format(models.DayLayout),
		b.TotalNominal.String(),
		strconv.Itoa(b.TotalItems),
		b.UploadDate.Format(time.RFC3339),
		b.UserName,
	}
}

func (rg *ReportGenerator) printRaw(raw []interface{}, w io.Writer) error {
	for i, rec := range raw {
		if rg.config.MaxRows > 0 && i >= rg.config.MaxRows {
			break
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode raw record: %w", err)
		}
		fmt.Fprintf(w, "%d. %s\n", i+1, data)
	}
	rg.printTruncation(len(raw), w)
	return nil
}

func (rg *ReportGenerator) printTruncation(total int, w io.Writer) {
	if rg.config.MaxRows > 0 && total > rg.config.MaxRows {
		fmt.Fprintf(w, "... and %d more\n", total-rg.config.MaxRows)
	}
}

func (rg *ReportGenerator) limit(n int) int {
	if rg.config.MaxRows > 0 && n > rg.config.MaxRows {
		return rg.config.MaxRows
	}
	return n
}

func (rg *ReportGenerator) limitReviewRows(rows []reconciler.ReviewRow) []reconciler.ReviewRow {
	return rows[:rg.limit(len(rows))]
}

func (rg *ReportGenerator) limitItemsPreview(items []consolidation.Item) []consolidation.Item {
	return items[:rg.limit(len(items))]
}

func (rg *ReportGenerator) limitItems(items []models.ConsolidationItem) []models.ConsolidationItem {
	return items[:rg.limit(len(items))]
}

func (rg *ReportGenerator) csvWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = rg.config.CSVDelimiter
	return cw
}

func writeJSON(v interface{}, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func formatMoney(d decimal.Decimal) string {
	return mapping.Format(d, models.ColumnTypeCurrency)
}

func emptyMarker(s string) string {
	if s == "" {
		return models.EmptyMarker
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
