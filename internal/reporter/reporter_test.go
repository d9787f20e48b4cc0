package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tax-reconciliation-service/internal/consolidation"
	"tax-reconciliation-service/internal/models"
	"tax-reconciliation-service/internal/processors"
	"tax-reconciliation-service/internal/reconciler"

	"github.com/shopspring/decimal"
)

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{
			name:        "default config",
			config:      nil,
			expectError: false,
		},
		{
			name:        "valid config",
			config:      DefaultReportConfig(),
			expectError: false,
		},
		{
			name:        "invalid format",
			config:      &ReportConfig{Format: "xlsx"},
			expectError: true,
		},
		{
			name:        "negative max rows",
			config:      &ReportConfig{Format: FormatConsole, MaxRows: -1},
			expectError: true,
		},
		{
			name:        "csv without delimiter",
			config:      &ReportConfig{Format: FormatCSV},
			expectError: true,
		},
		{
			name:        "csv with semicolon",
			config:      &ReportConfig{Format: FormatCSV, CSVDelimiter: ';'},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if generator == nil {
					t.Errorf("expected generator but got nil")
				}
			}
		})
	}
}

func TestOutputFormatValidation(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{FormatConsole, true},
		{FormatJSON, true},
		{FormatCSV, true},
		{"invalid", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if tt.format.IsValid() != tt.valid {
				t.Errorf("expected IsValid() = %v for format %s", tt.valid, tt.format)
			}
		})
	}
}

func row(rc string, cells ...string) models.Row {
	r := models.Row{ResponseCode: rc}
	for i := 0; i+1 < len(cells); i += 2 {
		r.Cells = append(r.Cells, models.Cell{Label: cells[i], Value: cells[i+1]})
	}
	return r
}

func sampleReview() *reconciler.Review {
	return &reconciler.Review{
		Request: reconciler.ReviewRequest{
			Proccode: "180E10",
			Source:   "BJB01",
			Date:     time.Date(2025, 12, 17, 0, 0, 0, 0, time.UTC),
		},
		Proccode: &models.Proccode{ID: 1, Code: "180V42,180E10", Source: "BJB01", Description: "PBB"},
		Strategy: processors.Declarative,
		Columns:  []string{"Tanggal", "Jumlah"},
		Rows: []reconciler.ReviewRow{
			{Row: row("00", "Tanggal", "17 Desember 2025", "Jumlah", "Rp150.000"), Accepted: true},
			{Row: row("51", "Tanggal", "18 Desember 2025", "Jumlah", "Rp275.500"), Accepted: false},
		},
		Whitelist: "00,0000",
		Stats:     reconciler.ReviewStats{Total: 2, Accepted: 1, Rejected: 1},
	}
}

func passthroughReview() *reconciler.Review {
	return &reconciler.Review{
		Request:     reconciler.ReviewRequest{Proccode: "200X01", Source: "BJB01", Date: time.Date(2025, 12, 17, 0, 0, 0, 0, time.UTC)},
		Strategy:    processors.Declarative,
		Passthrough: true,
		Raw: []interface{}{
			map[string]interface{}{"Wrc": "00", "Wtxamount": json.Number("1000")},
			map[string]interface{}{"Wrc": "05", "Wtxamount": json.Number("2000")},
		},
		Whitelist: "00",
		Stats:     reconciler.ReviewStats{Total: 2, Accepted: 1, Rejected: 1},
	}
}

func TestWriteReview_Console(t *testing.T) {
	gen, _ := NewReportGenerator(nil)
	var buf bytes.Buffer

	if err := gen.WriteReview(sampleReview(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"REVIEW 180E10 / BJB01 / 2025-12-17", "#1 PBB", "accepted 1, rejected 1", "Rp150.000", "18 Desember 2025", "Tanggal"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected console output to contain %q, got:\n%s", want, output)
		}
	}
	if strings.Contains(output, "PROCESSOR ERROR") {
		t.Errorf("expected no processor error banner")
	}
}

func TestWriteReview_ConsoleProcessorError(t *testing.T) {
	gen, _ := NewReportGenerator(nil)
	review := passthroughReview()
	review.Passthrough = false
	review.Strategy = processors.Custom("positional_blob")
	review.ProcessorError = "record 0: blob too short"

	var buf bytes.Buffer
	if err := gen.WriteReview(review, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "PROCESSOR ERROR: record 0: blob too short") {
		t.Errorf("expected processor error banner, got:\n%s", output)
	}
	if !strings.Contains(output, `"Wtxamount":1000`) {
		t.Errorf("expected raw records in output, got:\n%s", output)
	}
}

func TestWriteReview_CSV(t *testing.T) {
	gen, _ := NewReportGenerator(&ReportConfig{Format: FormatCSV, CSVDelimiter: ';', CSVHeaders: true})
	var buf bytes.Buffer

	if err := gen.WriteReview(sampleReview(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reader := csv.NewReader(&buf)
	reader.Comma = ';'
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if strings.Join(records[0], "|") != "Tanggal|Jumlah|rc|accepted" {
		t.Errorf("unexpected header: %v", records[0])
	}
	if strings.Join(records[2], "|") != "18 Desember 2025|Rp275.500|51|false" {
		t.Errorf("unexpected row: %v", records[2])
	}
}

func TestWriteReview_CSVPassthrough(t *testing.T) {
	gen, _ := NewReportGenerator(&ReportConfig{Format: FormatCSV, CSVDelimiter: ',', CSVHeaders: true})
	var buf bytes.Buffer

	if err := gen.WriteReview(passthroughReview(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[1][0] != "00" || records[1][1] != "true" {
		t.Errorf("unexpected first record: %v", records[1])
	}
	if records[2][1] != "false" {
		t.Errorf("expected rc 05 to be rejected, got %v", records[2])
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(records[1][2]), &raw); err != nil {
		t.Fatalf("raw column is not JSON: %v", err)
	}
	if raw["Wrc"] != "00" {
		t.Errorf("expected Wrc 00, got %v", raw["Wrc"])
	}
}

func TestWriteReview_JSON(t *testing.T) {
	gen, _ := NewReportGenerator(&ReportConfig{Format: FormatJSON})
	var buf bytes.Buffer

	if err := gen.WriteReview(sampleReview(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		Stats reconciler.ReviewStats `json:"stats"`
		Rows  []struct {
			Row      map[string]string `json:"row"`
			Accepted bool              `json:"accepted"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Stats.Accepted != 1 {
		t.Errorf("expected 1 accepted, got %d", decoded.Stats.Accepted)
	}
	if len(decoded.Rows) != 2 || decoded.Rows[0].Row["Jumlah"] != "Rp150.000" || decoded.Rows[0].Row["rc"] != "00" {
		t.Errorf("unexpected rows: %+v", decoded.Rows)
	}
}

func TestWriteReview_Nil(t *testing.T) {
	gen, _ := NewReportGenerator(nil)
	if err := gen.WriteReview(nil, &bytes.Buffer{}); err == nil {
		t.Errorf("expected error for nil review")
	}
}

func samplePreview() *consolidation.Preview {
	day := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	return &consolidation.Preview{
		Request: consolidation.Request{
			Proccode:  "180V42",
			Source:    "BJB01",
			District:  "3201",
			DateStart: day,
			DateEnd:   day.AddDate(0, 0, 1),
		},
		Strategy: processors.Declarative,
		Columns:  []string{"Jumlah"},
		Items: []consolidation.Item{
			{Date: day, Row: row("00", "Jumlah", "Rp150.000"), Nominal: decimal.NewFromInt(150000)},
			{Date: day.AddDate(0, 0, 1), Row: row("00", "Jumlah", "Rp275.500"), Nominal: decimal.NewFromInt(275500)},
		},
		Summary: consolidation.Summary{Count: 2, TotalNominal: decimal.NewFromInt(425500)},
		Days:    2,
	}
}

func TestWritePreview(t *testing.T) {
	t.Run("console", func(t *testing.T) {
		gen, _ := NewReportGenerator(&ReportConfig{Format: FormatConsole, MaxRows: 1})
		var buf bytes.Buffer
		if err := gen.WritePreview(samplePreview(), &buf); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		for _, want := range []string{"(2 days)", "Rp425.500", "... and 1 more"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q, got:\n%s", want, output)
			}
		}
		if strings.Contains(output, "Rp275.500") {
			t.Errorf("expected second item to be truncated")
		}
	})

	t.Run("csv", func(t *testing.T) {
		gen, _ := NewReportGenerator(&ReportConfig{Format: FormatCSV, CSVDelimiter: ',', CSVHeaders: false})
		var buf bytes.Buffer
		if err := gen.WritePreview(samplePreview(), &buf); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		records, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatalf("failed to parse CSV: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records without header, got %d", len(records))
		}
		if strings.Join(records[0], "|") != "2025-12-01|Rp150.000|150000" {
			t.Errorf("unexpected record: %v", records[0])
		}
	})

	t.Run("json", func(t *testing.T) {
		gen, _ := NewReportGenerator(&ReportConfig{Format: FormatJSON})
		var buf bytes.Buffer
		if err := gen.WritePreview(samplePreview(), &buf); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var decoded struct {
			Summary struct {
				Count        int    `json:"count"`
				TotalNominal string `json:"total_nominal"`
			} `json:"summary"`
		}
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if decoded.Summary.Count != 2 || decoded.Summary.TotalNominal != "425500" {
			t.Errorf("unexpected summary: %+v", decoded.Summary)
		}
	})
}

func sampleBatch() *models.ConsolidationBatch {
	return &models.ConsolidationBatch{
		ID:           "batch-1",
		UploadDate:   time.Date(2025, 12, 20, 8, 0, 0, 0, time.UTC),
		Proccode:     "180V42",
		Source:       "BJB01",
		District:     "3201",
		UserName:     "operator",
		DateStart:    time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		DateEnd:      time.Date(2025, 12, 2, 0, 0, 0, 0, time.UTC),
		TotalItems:   2,
		TotalNominal: decimal.NewFromInt(425500),
	}
}

func TestWriteBatches(t *testing.T) {
	t.Run("console empty", func(t *testing.T) {
		gen, _ := NewReportGenerator(nil)
		var buf bytes.Buffer
		if err := gen.WriteBatches(nil, &buf); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "No consolidation batches found") {
			t.Errorf("unexpected output: %s", buf.String())
		}
	})

	t.Run("console", func(t *testing.T) {
		gen, _ := NewReportGenerator(nil)
		var buf bytes.Buffer
		if err := gen.WriteBatches([]models.ConsolidationBatch{*sampleBatch()}, &buf); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, want := range []string{"batch-1", "Rp425.500", "operator"} {
			if !strings.Contains(buf.String(), want) {
				t.Errorf("expected output to contain %q, got:\n%s", want, buf.String())
			}
		}
	})

	t.Run("json empty is an array", func(t *testing.T) {
		gen, _ := NewReportGenerator(&ReportConfig{Format: FormatJSON})
		var buf bytes.Buffer
		if err := gen.WriteBatches(nil, &buf); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.TrimSpace(buf.String()) != "[]" {
			t.Errorf("expected [], got %s", buf.String())
		}
	})

	t.Run("csv", func(t *testing.T) {
		gen, _ := NewReportGenerator(&ReportConfig{Format: FormatCSV, CSVDelimiter: ',', CSVHeaders: true})
		var buf bytes.Buffer
		if err := gen.WriteBatches([]models.ConsolidationBatch{*sampleBatch()}, &buf); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		records, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatalf("failed to parse CSV: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}
		if records[1][6] != "425500" || records[1][7] != "2" {
			t.Errorf("unexpected record: %v", records[1])
		}
	})
}

func TestWriteBatch(t *testing.T) {
	items := []models.ConsolidationItem{
		{
			ID:              "item-1",
			BatchID:         "batch-1",
			Nominal:         decimal.NewFromInt(150000),
			TransactionDate: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
			RawData:         models.RawRecord{"Wrc": "00"},
		},
	}

	t.Run("console", func(t *testing.T) {
		gen, _ := NewReportGenerator(nil)
		var buf bytes.Buffer
		if err := gen.WriteBatch(sampleBatch(), items, &buf); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, want := range []string{"CONSOLIDATION BATCH batch-1", "2025-12-01 .. 2025-12-02", "by operator", "1 Desember 2025", "Rp150.000"} {
			if !strings.Contains(buf.String(), want) {
				t.Errorf("expected output to contain %q, got:\n%s", want, buf.String())
			}
		}
	})

	t.Run("csv", func(t *testing.T) {
		gen, _ := NewReportGenerator(&ReportConfig{Format: FormatCSV, CSVDelimiter: ',', CSVHeaders: true})
		var buf bytes.Buffer
		if err := gen.WriteBatch(sampleBatch(), items, &buf); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		records, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatalf("failed to parse CSV: %v", err)
		}
		if len(records) != 2 || records[1][0] != "item-1" || records[1][2] != "150000" {
			t.Errorf("unexpected records: %v", records)
		}
	})

	t.Run("nil batch", func(t *testing.T) {
		gen, _ := NewReportGenerator(nil)
		if err := gen.WriteBatch(nil, nil, &bytes.Buffer{}); err == nil {
			t.Errorf("expected error for nil batch")
		}
	})
}

func TestOpenOutput(t *testing.T) {
	t.Run("stdout", func(t *testing.T) {
		out, err := OpenOutput("", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Writer != os.Stdout || out.Path != "" {
			t.Errorf("expected stdout output")
		}
		if err := out.Close(); err != nil {
			t.Errorf("unexpected close error: %v", err)
		}
	})

	t.Run("creates parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reports", "review.csv")
		out, err := OpenOutput(path, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Path != path {
			t.Errorf("expected path %s, got %s", path, out.Path)
		}
		if _, err := out.Write([]byte("ok")); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		out.Close()

		data, err := os.ReadFile(path)
		if err != nil || string(data) != "ok" {
			t.Errorf("expected file content ok, got %q (%v)", data, err)
		}
	})
}

func TestBackupPath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/readonly/report.csv", "report_backup.csv"},
		{"out/review.json", "review_backup.json"},
		{"report", "report_backup"},
	}

	for _, tt := range tests {
		if got := backupPath(tt.input); got != tt.expected {
			t.Errorf("backupPath(%q): expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}
