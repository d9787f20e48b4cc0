package consolidation

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tax-reconciliation-service/internal/catalog"
	"tax-reconciliation-service/internal/models"
	"tax-reconciliation-service/internal/processors"
	"tax-reconciliation-service/internal/source"
	"tax-reconciliation-service/internal/store"
	"tax-reconciliation-service/pkg/errors"
	"tax-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

type fakeSource struct {
	mu       sync.Mutex
	payloads map[string]models.Payload
	failures map[string]error
	calls    []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		payloads: make(map[string]models.Payload),
		failures: make(map[string]error),
	}
}

func (f *fakeSource) Fetch(ctx context.Context, req source.Request) (*source.Response, error) {
	day := req.TransDate.Format(models.DayLayout)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, day)

	if err := f.failures[day]; err != nil {
		return nil, err
	}
	payload, ok := f.payloads[day]
	if !ok {
		payload = models.Payload{"xdatatemp": []interface{}{}}
	}
	return &source.Response{Payload: payload, StatusCode: 200}, nil
}

func (f *fakeSource) fail(day string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[day] = err
}

func records(amounts ...interface{}) models.Payload {
	recs := make([]interface{}, len(amounts))
	for i, amount := range amounts {
		recs[i] = map[string]interface{}{"Wtxamount": amount, "Wtransdate": "17/12/25", "Wrc": "00"}
	}
	return models.Payload{"data": map[string]interface{}{"xdatatemp": recs}}
}

func int64Ptr(v int64) *int64 { return &v }

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(
		[]models.Template{
			{ID: 1, Vendor: "BJB", Category: "PBB", Columns: []models.ColumnDefinition{
				{Label: "Tanggal", Path: "Wtransdate", Type: models.ColumnTypeDate},
				{Label: "Jumlah", Path: "Wtxamount", Type: models.ColumnTypeCurrency},
			}},
			{ID: 2, Vendor: "BPD", Category: "BPHTB", Processor: "failing", Columns: []models.ColumnDefinition{
				{Label: "Jumlah", Path: "Wtxamount", Type: models.ColumnTypeCurrency},
			}},
		},
		[]models.Proccode{
			{ID: 1, Code: "180V42", Source: "BJB01", TemplateID: int64Ptr(1), District: "3201"},
			{ID: 2, Code: "190A01", Source: "BPD02", TemplateID: int64Ptr(2), District: "3273"},
			{ID: 3, Code: "200X01", Source: "BJB01", District: "3201"},
		},
	)
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	return c
}

func mustDay(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := models.ParseDay(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func threeDayRequest(t *testing.T) Request {
	return Request{
		Proccode:  "180V42",
		Source:    "BJB01",
		District:  "3201",
		DateStart: mustDay(t, "2025-12-17"),
		DateEnd:   mustDay(t, "2025-12-19"),
		UserName:  "operator",
	}
}

type fixture struct {
	source *fakeSource
	store  *store.Store
	agg    *Aggregator
}

func newFixture(t *testing.T, registry *processors.Registry) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "recon.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	src := newFakeSource()
	src.payloads["2025-12-17"] = records("150000", "275500")
	src.payloads["2025-12-18"] = records("not-a-number")

	agg, err := NewAggregator(src, testCatalog(t), processors.NewDispatcher(registry), st, DefaultConfig())
	if err != nil {
		t.Fatalf("NewAggregator() failed: %v", err)
	}
	return &fixture{source: src, store: st, agg: agg}
}

func TestPreview_SumsEveryDay(t *testing.T) {
	f := newFixture(t, nil)

	preview, err := f.agg.Preview(context.Background(), threeDayRequest(t))
	if err != nil {
		t.Fatalf("Preview() failed: %v", err)
	}

	if preview.Days != 3 {
		t.Errorf("expected 3 days, got %d", preview.Days)
	}
	if len(f.source.calls) != 3 {
		t.Errorf("expected one call per day, got %v", f.source.calls)
	}
	if preview.Summary.Count != 3 {
		t.Errorf("expected 3 items, got %d", preview.Summary.Count)
	}
	if !preview.Summary.TotalNominal.Equal(decimal.RequireFromString("425500")) {
		t.Errorf("expected total 425500, got %s", preview.Summary.TotalNominal)
	}
	if !preview.Items[2].Nominal.IsZero() {
		t.Errorf("expected unparseable amount to count as zero, got %s", preview.Items[2].Nominal)
	}
	if preview.Items[2].Date.Format(models.DayLayout) != "2025-12-18" {
		t.Errorf("expected items sorted by date, got %v", preview.Items[2].Date)
	}
	if strings.Join(preview.Columns, ",") != "Tanggal,Jumlah" {
		t.Errorf("unexpected columns %v", preview.Columns)
	}
	if v, _ := preview.Rows()[0].Get("Jumlah"); v != "Rp150.000" {
		t.Errorf("expected Rp150.000, got %q", v)
	}
}

func TestCommit_RequiresPreview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.agg.Commit(ctx, threeDayRequest(t))
	if !errors.HasCode(err, errors.CodePreviewRequired) {
		t.Fatalf("expected preview_required, got %v", err)
	}
	if len(f.source.calls) != 0 {
		t.Errorf("expected no source calls before the precondition, got %v", f.source.calls)
	}

	other := threeDayRequest(t)
	other.DateEnd = mustDay(t, "2025-12-18")
	if _, err := f.agg.Preview(ctx, other); err != nil {
		t.Fatalf("Preview() failed: %v", err)
	}
	if _, err := f.agg.Commit(ctx, threeDayRequest(t)); !errors.HasCode(err, errors.CodePreviewRequired) {
		t.Errorf("expected a preview of different parameters to be rejected, got %v", err)
	}

	if n, _ := f.store.CountItems(ctx); n != 0 {
		t.Errorf("expected nothing stored, got %d items", n)
	}
}

func TestCommit_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	req := threeDayRequest(t)

	if _, err := f.agg.Preview(ctx, req); err != nil {
		t.Fatalf("Preview() failed: %v", err)
	}

	first, err := f.agg.Commit(ctx, req)
	if err != nil {
		t.Fatalf("first Commit() failed: %v", err)
	}
	second, err := f.agg.Commit(ctx, req)
	if err != nil {
		t.Fatalf("second Commit() failed: %v", err)
	}
	if first.ID == second.ID {
		t.Errorf("expected a fresh batch id per commit")
	}

	batches, err := f.agg.List(ctx, store.BatchFilter{District: "3201"})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(batches) != 1 || batches[0].ID != second.ID {
		t.Fatalf("expected exactly the second batch, got %v", batches)
	}
	if batches[0].TotalItems != 3 || !batches[0].TotalNominal.Equal(first.TotalNominal) {
		t.Errorf("expected same totals as a single commit, got %s", &batches[0])
	}

	if n, _ := f.store.CountItems(ctx); n != 3 {
		t.Errorf("expected 3 items, got %d", n)
	}

	batch, items, err := f.agg.Items(ctx, second.ID)
	if err != nil {
		t.Fatalf("Items() failed: %v", err)
	}
	if batch.UserName != "operator" || len(items) != 3 {
		t.Errorf("unexpected batch %s with %d items", batch, len(items))
	}
	if items[0].RawData["Wtxamount"] != "150000" {
		t.Errorf("expected raw record to be stored, got %v", items[0].RawData)
	}
}

func TestCommit_DayFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	req := threeDayRequest(t)

	if _, err := f.agg.Preview(ctx, req); err != nil {
		t.Fatalf("Preview() failed: %v", err)
	}

	f.source.fail("2025-12-18", errors.SourceError(errors.CodeTimeout, "fake", context.DeadlineExceeded))

	_, err := f.agg.Commit(ctx, req)
	if err == nil {
		t.Fatal("expected commit to fail")
	}
	if !errors.HasCode(err, errors.CodeDayFailed) {
		t.Errorf("expected day_failed, got %v", err)
	}
	if !strings.Contains(err.Error(), "2025-12-18") {
		t.Errorf("expected the failing day in the error, got %v", err)
	}
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the timeout to be kept as cause")
	}

	if n, _ := f.store.CountItems(ctx); n != 0 {
		t.Errorf("expected zero items, got %d", n)
	}
	if batches, _ := f.agg.List(ctx, store.BatchFilter{}); len(batches) != 0 {
		t.Errorf("expected no batch, got %v", batches)
	}
}

func TestPreview_DayFailureAborts(t *testing.T) {
	f := newFixture(t, nil)
	f.source.fail("2025-12-19", errors.SourceError(errors.CodeConnectionFailed, "fake", stderrors.New("refused")))

	_, err := f.agg.Preview(context.Background(), threeDayRequest(t))
	if !errors.HasCode(err, errors.CodeDayFailed) {
		t.Fatalf("expected day_failed, got %v", err)
	}

	if _, err := f.agg.Commit(context.Background(), threeDayRequest(t)); !errors.HasCode(err, errors.CodePreviewRequired) {
		t.Errorf("expected failed preview not to authorize a commit, got %v", err)
	}
}

func TestPreview_PassthroughUsesAmountPath(t *testing.T) {
	f := newFixture(t, nil)
	req := threeDayRequest(t)
	req.Proccode = "200X01"

	preview, err := f.agg.Preview(context.Background(), req)
	if err != nil {
		t.Fatalf("Preview() failed: %v", err)
	}
	if preview.Summary.Count != 3 {
		t.Errorf("expected 3 items, got %d", preview.Summary.Count)
	}
	if !preview.Summary.TotalNominal.Equal(decimal.RequireFromString("425500")) {
		t.Errorf("expected total 425500, got %s", preview.Summary.TotalNominal)
	}
	if preview.Items[0].Row.ResponseCode != "00" {
		t.Errorf("expected response code to be kept, got %q", preview.Items[0].Row.ResponseCode)
	}
}

func TestPreview_ProcessorFailureFallsBackToRawRecords(t *testing.T) {
	registry := processors.NewRegistry()
	registry.MustRegister("failing", processors.ExtractorFunc(func(models.Payload, *models.MappingConfig) ([]models.Row, error) {
		return nil, stderrors.New("layout changed")
	}))
	f := newFixture(t, registry)

	req := threeDayRequest(t)
	req.Proccode = "190A01"
	req.Source = "BPD02"
	f.source.payloads["2025-12-19"] = records("1000")

	preview, err := f.agg.Preview(context.Background(), req)
	if err != nil {
		t.Fatalf("Preview() failed: %v", err)
	}
	if preview.Strategy != processors.Custom("failing") {
		t.Errorf("expected custom strategy, got %s", preview.Strategy)
	}
	if len(preview.ProcessorErrors) != 3 {
		t.Errorf("expected a processor error per day, got %d", len(preview.ProcessorErrors))
	}
	if preview.Summary.Count != 4 {
		t.Errorf("expected 4 raw items, got %d", preview.Summary.Count)
	}
	if !preview.Summary.TotalNominal.Equal(decimal.RequireFromString("426500")) {
		t.Errorf("expected total 426500, got %s", preview.Summary.TotalNominal)
	}
}

type warnRecorder struct {
	logger.Logger
	mu       sync.Mutex
	warnings []string
}

func (w *warnRecorder) WithFields(logger.Fields) logger.Logger { return w }

func (w *warnRecorder) Warn(args ...interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.warnings = append(w.warnings, toString(args))
}

func toString(args []interface{}) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i], _ = a.(string)
	}
	return strings.Join(parts, " ")
}

func TestCommit_UnpairedRowsLogMismatch(t *testing.T) {
	ctx := context.Background()
	registry := processors.NewRegistry()
	registry.MustRegister("failing", processors.ExtractorFunc(func(models.Payload, *models.MappingConfig) ([]models.Row, error) {
		return []models.Row{{
			Cells:        []models.Cell{{Label: "Jumlah", Value: "Rp999", Raw: "999"}},
			ResponseCode: "00",
		}}, nil
	}))
	f := newFixture(t, registry)
	recorder := &warnRecorder{Logger: f.agg.logger}
	f.agg.logger = recorder

	req := threeDayRequest(t)
	req.Proccode = "190A01"
	req.Source = "BPD02"

	preview, err := f.agg.Preview(ctx, req)
	if err != nil {
		t.Fatalf("Preview() failed: %v", err)
	}
	if preview.Summary.Count != 3 {
		t.Errorf("expected one item per extracted row, got %d", preview.Summary.Count)
	}
	// 2025-12-17 has two records and 2025-12-19 none; only 2025-12-18 lines up.
	if len(recorder.warnings) != 2 {
		t.Errorf("expected 2 mismatch warnings, got %d: %v", len(recorder.warnings), recorder.warnings)
	}

	batch, err := f.agg.Commit(ctx, req)
	if err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	_, items, err := f.agg.Items(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Items() failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].RawData["Jumlah"] != "Rp999" {
		t.Errorf("expected extracted cells for unpaired day, got %v", items[0].RawData)
	}
	if items[1].RawData["Wtxamount"] != "not-a-number" {
		t.Errorf("expected verbatim record for paired day, got %v", items[1].RawData)
	}
}

func TestPreview_Validation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		modify func(*Request)
		code   errors.ErrorCode
	}{
		{"missing proccode", func(r *Request) { r.Proccode = "" }, errors.CodeMissingField},
		{"missing district", func(r *Request) { r.District = " " }, errors.CodeMissingField},
		{"missing start", func(r *Request) { r.DateStart = time.Time{} }, errors.CodeInvalidDate},
		{"inverted range", func(r *Request) { r.DateStart, r.DateEnd = r.DateEnd, r.DateStart }, errors.CodeOutOfRange},
		{"range too long", func(r *Request) { r.DateEnd = r.DateStart.AddDate(0, 2, 0) }, errors.CodeOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := threeDayRequest(t)
			tt.modify(&req)
			if _, err := f.agg.Preview(context.Background(), req); !errors.HasCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	req := threeDayRequest(t)

	if _, err := f.agg.Preview(ctx, req); err != nil {
		t.Fatalf("Preview() failed: %v", err)
	}
	batch, err := f.agg.Commit(ctx, req)
	if err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	if err := f.agg.Reset(ctx, batch.ID); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if _, _, err := f.agg.Items(ctx, batch.ID); !errors.HasCode(err, errors.CodeBatchNotFound) {
		t.Errorf("expected batch_not_found, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"default", func(c *Config) {}, true},
		{"no amount source", func(c *Config) { c.AmountLabel = ""; c.AmountPath = "" }, false},
		{"bad amount path", func(c *Config) { c.AmountPath = "a..b" }, false},
		{"zero parallelism", func(c *Config) { c.MaxParallelDays = 0 }, false},
		{"zero ttl", func(c *Config) { c.PreviewTTL = 0 }, false},
		{"unbounded range", func(c *Config) { c.MaxRangeDays = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.valid != (err == nil) {
				t.Errorf("expected valid=%v, got %v", tt.valid, err)
			}
		})
	}
}
