package processors

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"tax-reconciliation-service/internal/mapping"
	"tax-reconciliation-service/internal/models"
)

// PositionalBlobName is the registry name of the fixed-width blob decoder.
const PositionalBlobName = "positional_blob"

// BlobField is one fixed-width field of a blob, addressed by rune offset.
type BlobField struct {
	Label  string
	Start  int
	Length int
	Type   models.ColumnType
}

// BlobLayout locates a blob inside each record and splits it into fields.
type BlobLayout struct {
	Path   string
	Fields []BlobField
}

// DefaultBlobLayout is the PBB layout: 18 digit NOP, tax year, taxpayer
// name padded to 20 and a zero-padded 12 digit amount.
func DefaultBlobLayout() BlobLayout {
	return BlobLayout{
		Path: "Wseconddata.10",
		Fields: []BlobField{
			{Label: "NOP", Start: 0, Length: 18, Type: models.ColumnTypeString},
			{Label: "Tahun Pajak", Start: 18, Length: 4, Type: models.ColumnTypeString},
			{Label: "Nama Wajib Pajak", Start: 22, Length: 20, Type: models.ColumnTypeString},
			{Label: "Jumlah", Start: 42, Length: 12, Type: models.ColumnTypeCurrency},
		},
	}
}

// Width is the number of runes a blob must hold to cover every field.
func (l BlobLayout) Width() int {
	width := 0
	for _, f := range l.Fields {
		if end := f.Start + f.Length; end > width {
			width = end
		}
	}
	return width
}

// PositionalBlobExtractor decodes a fixed-width blob into one cell per
// layout field, followed by any template columns whose labels the layout
// does not already produce.
type PositionalBlobExtractor struct {
	layout BlobLayout
	path   mapping.Path
}

// NewPositionalBlobExtractor panics if the layout path is malformed.
func NewPositionalBlobExtractor(layout BlobLayout) *PositionalBlobExtractor {
	return &PositionalBlobExtractor{
		layout: layout,
		path:   mapping.MustParsePath(layout.Path),
	}
}

// Process implements Extractor. A record whose blob is present but too
// short for the layout fails the whole payload.
func (e *PositionalBlobExtractor) Process(payload models.Payload, cfg *models.MappingConfig) ([]models.Row, error) {
	records, _ := mapping.LocateRecords(payload)
	extra := e.extraColumns(cfg)
	width := e.layout.Width()

	rows := make([]models.Row, 0, len(records))
	for i, record := range records {
		blob := mapping.Stringify(e.path.Lookup(record))
		if blob != "" && utf8.RuneCountInString(blob) < width {
			return nil, fmt.Errorf("record %d: %s holds %d characters, layout needs %d",
				i, e.layout.Path, utf8.RuneCountInString(blob), width)
		}

		row := models.Row{ResponseCode: mapping.ResponseCode(record)}
		for _, f := range e.layout.Fields {
			length := f.Length
			var raw interface{}
			if blob != "" {
				raw = strings.TrimSpace(mapping.ApplySubstring(blob, &models.Substring{Start: f.Start, Length: &length}).(string))
			}
			row.Cells = append(row.Cells, models.Cell{
				Label: f.Label,
				Value: mapping.Format(raw, f.Type),
				Raw:   raw,
			})
		}
		if extra != nil {
			row.Cells = append(row.Cells, mapping.ExtractRecord(record, extra).Cells...)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (e *PositionalBlobExtractor) extraColumns(cfg *models.MappingConfig) *models.MappingConfig {
	if cfg == nil {
		return nil
	}

	taken := make(map[string]bool, len(e.layout.Fields))
	for _, f := range e.layout.Fields {
		taken[f.Label] = true
	}

	var columns []models.ColumnDefinition
	for _, col := range cfg.Columns {
		if !taken[col.Label] {
			columns = append(columns, col)
		}
	}
	if len(columns) == 0 {
		return nil
	}
	return &models.MappingConfig{Vendor: cfg.Vendor, Category: cfg.Category, Columns: columns}
}
