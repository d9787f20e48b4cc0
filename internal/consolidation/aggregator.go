// Package consolidation turns a date range of banking API answers into a
// persisted batch.
//
// A run calls the banking API once per day of the range, normalizes each
// day through processor resolution and extraction, and sums the nominal of
// every row. Preview only computes; Commit repeats the computation and
// replaces any earlier batch for the same district, proccode and range in a
// single transaction. A failing day aborts the whole run.
//
// Example usage:
//
//	agg, err := consolidation.NewAggregator(client, cat, processors.NewDispatcher(nil), st, consolidation.DefaultConfig())
//	preview, err := agg.Preview(ctx, req)
//	batch, err := agg.Commit(ctx, req)
package consolidation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"tax-reconciliation-service/internal/catalog"
	"tax-reconciliation-service/internal/mapping"
	"tax-reconciliation-service/internal/models"
	"tax-reconciliation-service/internal/processors"
	"tax-reconciliation-service/internal/source"
	"tax-reconciliation-service/internal/store"
	"tax-reconciliation-service/pkg/errors"
	"tax-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
)

// BatchStore is the persistence the aggregator needs. *store.Store
// implements it.
type BatchStore interface {
	ReplaceBatch(ctx context.Context, batch *models.ConsolidationBatch, items []models.ConsolidationItem) (int, error)
	ListBatches(ctx context.Context, filter store.BatchFilter) ([]models.ConsolidationBatch, error)
	GetBatch(ctx context.Context, id string) (*models.ConsolidationBatch, error)
	ListItems(ctx context.Context, batchID string) ([]models.ConsolidationItem, error)
	DeleteBatch(ctx context.Context, id string) error
}

// Request names one consolidation run.
type Request struct {
	Proccode   string    `json:"proccode"`
	ProccodeID *int64    `json:"proccode_id,omitempty"`
	Source     string    `json:"source"`
	District   string    `json:"district"`
	DateStart  time.Time `json:"date_start"`
	DateEnd    time.Time `json:"date_end"`
	UserName   string    `json:"user,omitempty"`
}

// Validate checks the request parameters
func (r Request) Validate() error {
	if strings.TrimSpace(r.Proccode) == "" {
		return errors.ValidationError(errors.CodeMissingField, "proccode", r.Proccode, nil)
	}
	if strings.TrimSpace(r.Source) == "" {
		return errors.ValidationError(errors.CodeMissingField, "source", r.Source, nil)
	}
	if strings.TrimSpace(r.District) == "" {
		return errors.ValidationError(errors.CodeMissingField, "district", r.District, nil)
	}
	if r.DateStart.IsZero() {
		return errors.ValidationError(errors.CodeInvalidDate, "date_start", "", nil)
	}
	if r.DateEnd.IsZero() {
		return errors.ValidationError(errors.CodeInvalidDate, "date_end", "", nil)
	}
	if r.DateStart.After(r.DateEnd) {
		return errors.ValidationError(errors.CodeOutOfRange, "date_start", r.DateStart.Format(models.DayLayout),
			fmt.Errorf("start is after end %s", r.DateEnd.Format(models.DayLayout)))
	}
	return nil
}

// Key identifies the parameters a preview authorizes.
func (r Request) Key() string {
	id := ""
	if r.ProccodeID != nil {
		id = fmt.Sprint(*r.ProccodeID)
	}
	return strings.Join([]string{
		r.District, r.Proccode, id, r.Source,
		r.DateStart.Format(models.DayLayout), r.DateEnd.Format(models.DayLayout),
	}, "|")
}

// Item is one normalized transaction of a run.
type Item struct {
	Date    time.Time       `json:"date"`
	Row     models.Row      `json:"row"`
	Raw     interface{}     `json:"-"`
	Nominal decimal.Decimal `json:"nominal"`
}

// Summary totals a run.
type Summary struct {
	Count        int             `json:"count"`
	TotalNominal decimal.Decimal `json:"total_nominal"`
}

// DayError records a custom processor failure for one day. The day's raw
// records are still counted.
type DayError struct {
	Date  time.Time `json:"date"`
	Error string    `json:"error"`
}

// Preview is the computed, unpersisted result of a run.
type Preview struct {
	Request         Request             `json:"request"`
	Strategy        processors.Strategy `json:"strategy"`
	Columns         []string            `json:"columns"`
	Items           []Item              `json:"items"`
	Summary         Summary             `json:"summary"`
	Days            int                 `json:"days"`
	ProcessorErrors []DayError          `json:"processor_errors,omitempty"`
}

// Rows returns the rows of every item in date order.
func (p *Preview) Rows() []models.Row {
	rows := make([]models.Row, len(p.Items))
	for i, item := range p.Items {
		rows[i] = item.Row
	}
	return rows
}

// Aggregator runs previews and commits.
type Aggregator struct {
	source     source.Source
	catalog    *catalog.Catalog
	dispatcher *processors.Dispatcher
	store      BatchStore
	previews   *cache.Cache
	config     Config
	amountPath mapping.Path
	logger     logger.Logger

	now   func() time.Time
	newID func() string
}

// NewAggregator creates an aggregator. A nil dispatcher uses the default
// registry.
func NewAggregator(src source.Source, cat *catalog.Catalog, dispatcher *processors.Dispatcher, st BatchStore, config Config) (*Aggregator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "source", nil, nil)
	}
	if dispatcher == nil {
		dispatcher = processors.NewDispatcher(nil)
	}

	var amountPath mapping.Path
	if config.AmountPath != "" {
		amountPath = mapping.MustParsePath(config.AmountPath)
	}

	return &Aggregator{
		source:     src,
		catalog:    cat,
		dispatcher: dispatcher,
		store:      st,
		previews:   cache.New(config.PreviewTTL, 2*config.PreviewTTL),
		config:     config,
		amountPath: amountPath,
		logger:     logger.WithComponent("consolidation"),
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// Preview computes the run and registers it so that an identical Commit is
// allowed until the preview expires.
func (a *Aggregator) Preview(ctx context.Context, req Request) (*Preview, error) {
	preview, err := a.collect(ctx, req, "preview")
	if err != nil {
		return nil, err
	}

	a.previews.SetDefault(req.Key(), preview.Summary)
	return preview, nil
}

// Commit re-runs a previewed request and stores it as a batch, replacing
// any batch for the same district, proccode and range. Nothing is written
// unless every day succeeds.
func (a *Aggregator) Commit(ctx context.Context, req Request) (*models.ConsolidationBatch, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if a.store == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "database.path", nil, nil)
	}
	if _, ok := a.previews.Get(req.Key()); !ok {
		return nil, errors.ConsolidationError(errors.CodePreviewRequired, "commit", nil).
			WithContext("key", req.Key())
	}

	preview, err := a.collect(ctx, req, "commit")
	if err != nil {
		return nil, err
	}

	batch := &models.ConsolidationBatch{
		ID:           a.newID(),
		UploadDate:   a.now().UTC(),
		Proccode:     req.Proccode,
		Source:       req.Source,
		District:     req.District,
		UserName:     req.UserName,
		DateStart:    preview.Request.DateStart,
		DateEnd:      preview.Request.DateEnd,
		TotalItems:   preview.Summary.Count,
		TotalNominal: preview.Summary.TotalNominal,
	}

	items := make([]models.ConsolidationItem, len(preview.Items))
	for i, item := range preview.Items {
		items[i] = models.ConsolidationItem{
			ID:              a.newID(),
			BatchID:         batch.ID,
			Nominal:         item.Nominal,
			TransactionDate: item.Date,
			RawData:         rawData(item),
		}
	}

	replaced, err := a.store.ReplaceBatch(ctx, batch, items)
	if err != nil {
		return nil, err
	}

	a.logger.WithFields(logger.Fields{
		"batch_id": batch.ID,
		"items":    batch.TotalItems,
		"total":    batch.TotalNominal.String(),
		"replaced": replaced,
	}).Info("Consolidation committed")

	return batch, nil
}

// List returns stored batches.
func (a *Aggregator) List(ctx context.Context, filter store.BatchFilter) ([]models.ConsolidationBatch, error) {
	if a.store == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "database.path", nil, nil)
	}
	return a.store.ListBatches(ctx, filter)
}

// Reset deletes one batch and its items.
func (a *Aggregator) Reset(ctx context.Context, batchID string) error {
	if a.store == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "database.path", nil, nil)
	}
	return a.store.DeleteBatch(ctx, batchID)
}

// Items returns a batch and its items.
func (a *Aggregator) Items(ctx context.Context, batchID string) (*models.ConsolidationBatch, []models.ConsolidationItem, error) {
	if a.store == nil {
		return nil, nil, errors.ConfigurationError(errors.CodeMissingConfig, "database.path", nil, nil)
	}
	batch, err := a.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	items, err := a.store.ListItems(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	return batch, items, nil
}

type dayResult struct {
	date   time.Time
	result *processors.Result
}

func (a *Aggregator) collect(ctx context.Context, req Request, operation string) (*Preview, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	days := models.DaysInRange(req.DateStart, req.DateEnd)
	if a.config.MaxRangeDays > 0 && len(days) > a.config.MaxRangeDays {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "date range", len(days),
			fmt.Errorf("at most %d days per run", a.config.MaxRangeDays))
	}

	res := processors.Resolve(a.catalog, req.Proccode, req.Source, req.ProccodeID)
	tracker := logger.NewProgressTracker(operation, len(days), a.logger)

	p := pool.NewWithResults[dayResult]().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(a.config.MaxParallelDays)

	for _, d := range days {
		p.Go(func(ctx context.Context) (dayResult, error) {
			label := d.Format(models.DayLayout)
			resp, err := a.source.Fetch(ctx, source.Request{
				Proccode:  req.Proccode,
				TransDate: d,
				Source:    req.Source,
			})
			if err != nil {
				return dayResult{}, errors.ConsolidationError(errors.CodeDayFailed, label, err).
					WithContext("day", label)
			}

			result := a.dispatcher.Run(resp.Payload, res)
			tracker.Step(label, len(result.Raw))
			return dayResult{date: d, result: result}, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		tracker.CompleteWithError(err)
		return nil, err
	}
	tracker.Complete()

	sort.Slice(results, func(i, j int) bool { return results[i].date.Before(results[j].date) })

	preview := &Preview{
		Request:  req,
		Strategy: res.Strategy,
		Items:    []Item{},
		Summary:  Summary{TotalNominal: decimal.Zero},
		Days:     len(days),
	}
	preview.Request.DateStart = days[0]
	preview.Request.DateEnd = days[len(days)-1]

	for _, dr := range results {
		if dr.result.Failed() {
			preview.ProcessorErrors = append(preview.ProcessorErrors, DayError{Date: dr.date, Error: dr.result.ProcessorError})
		}
		if preview.Columns == nil && len(dr.result.Columns) > 0 {
			preview.Columns = dr.result.Columns
		}
		for _, item := range a.items(dr) {
			preview.Items = append(preview.Items, item)
			preview.Summary.Count++
			preview.Summary.TotalNominal = preview.Summary.TotalNominal.Add(item.Nominal)
		}
	}

	return preview, nil
}

// items pairs rows with their raw records. Without rows (passthrough or a
// failed processor) every raw record becomes an item.
func (a *Aggregator) items(dr dayResult) []Item {
	r := dr.result
	paired := len(r.Rows) == len(r.Raw)

	if len(r.Rows) == 0 {
		items := make([]Item, len(r.Raw))
		for i, raw := range r.Raw {
			items[i] = Item{
				Date:    dr.date,
				Row:     models.Row{ResponseCode: mapping.ResponseCode(raw)},
				Raw:     raw,
				Nominal: a.nominal(models.Row{}, raw),
			}
		}
		return items
	}

	if !paired {
		a.logger.WithFields(logger.Fields{
			"date":     dr.date.Format(models.DayLayout),
			"strategy": r.Strategy.String(),
			"rows":     len(r.Rows),
			"records":  len(r.Raw),
		}).Warn("Extracted rows do not line up with payload records, raw data falls back to extracted cells")
	}

	items := make([]Item, len(r.Rows))
	for i, row := range r.Rows {
		var raw interface{}
		if paired {
			raw = r.Raw[i]
		}
		items[i] = Item{Date: dr.date, Row: row, Raw: raw, Nominal: a.nominal(row, raw)}
	}
	return items
}

// nominal reads the amount column, then the amount path. Anything
// unresolvable is zero.
func (a *Aggregator) nominal(row models.Row, raw interface{}) decimal.Decimal {
	if a.config.AmountLabel != "" {
		if cell, ok := row.Cell(a.config.AmountLabel); ok {
			if d, ok := mapping.ToNumber(cell.Raw); ok {
				return d
			}
			return decimal.Zero
		}
	}
	if a.amountPath != nil && raw != nil {
		if d, ok := mapping.ToNumber(a.amountPath.Lookup(raw)); ok {
			return d
		}
	}
	return decimal.Zero
}

func rawData(item Item) models.RawRecord {
	if item.Raw != nil {
		return mapping.AsRawRecord(item.Raw)
	}
	rec := make(models.RawRecord, len(item.Row.Cells)+1)
	for _, c := range item.Row.Cells {
		rec[c.Label] = c.Value
	}
	rec[models.ResponseCodeKey] = item.Row.ResponseCode
	return rec
}
