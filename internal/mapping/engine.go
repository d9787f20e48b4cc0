package mapping

import (
	"tax-reconciliation-service/internal/models"
	"tax-reconciliation-service/pkg/logger"
)

// ResponseCodeFields are the record fields probed, in order, for the
// per-record response code that every row carries.
var ResponseCodeFields = []string{"Wrc", "rc", "responsecode", "response_code"}

// Extraction is the outcome of running the declarative engine over a payload.
type Extraction struct {
	Columns     []string      `json:"columns"`
	Rows        []models.Row  `json:"rows"`
	Records     []interface{} `json:"records"`
	Locator     string        `json:"locator"`
	Passthrough bool          `json:"passthrough"`
}

// Run applies cfg to every record of payload. Without columns the located
// records are handed back unmodified and Passthrough is set.
func Run(payload models.Payload, cfg *models.MappingConfig) *Extraction {
	records, locator := LocateRecords(payload)

	if cfg == nil || len(cfg.Columns) == 0 {
		return &Extraction{
			Rows:        []models.Row{},
			Records:     records,
			Locator:     locator,
			Passthrough: true,
		}
	}

	return &Extraction{
		Columns: cfg.Labels(),
		Rows:    ExtractRecords(records, cfg),
		Records: records,
		Locator: locator,
	}
}

// Extract returns one row per record of payload, cells in column order.
func Extract(payload models.Payload, cfg *models.MappingConfig) []models.Row {
	return Run(payload, cfg).Rows
}

type compiledColumn struct {
	def  models.ColumnDefinition
	path Path
	sub  *models.Substring
	bad  bool
}

func compile(cfg *models.MappingConfig) []compiledColumn {
	columns := make([]compiledColumn, len(cfg.Columns))
	for i, def := range cfg.Columns {
		path, err := ParsePath(def.Path)
		if err != nil {
			logger.WithComponent("mapping").WithError(err).WithFields(logger.Fields{
				"label": def.Label,
				"path":  def.Path,
			}).Warn("Column path is malformed, values will be empty")
		}
		columns[i] = compiledColumn{def: def, path: path, sub: def.Substring(), bad: err != nil}
	}
	return columns
}

// ExtractRecords maps each record through cfg. Row count always equals record
// count.
func ExtractRecords(records []interface{}, cfg *models.MappingConfig) []models.Row {
	rows := make([]models.Row, 0, len(records))
	if cfg == nil {
		return rows
	}

	columns := compile(cfg)
	for _, record := range records {
		rows = append(rows, extractRecord(record, columns))
	}
	return rows
}

// ExtractRecord maps a single record through cfg.
func ExtractRecord(record interface{}, cfg *models.MappingConfig) models.Row {
	if cfg == nil {
		return models.Row{ResponseCode: ResponseCode(record)}
	}
	return extractRecord(record, compile(cfg))
}

func extractRecord(record interface{}, columns []compiledColumn) models.Row {
	row := models.Row{
		Cells:        make([]models.Cell, 0, len(columns)),
		ResponseCode: ResponseCode(record),
	}

	for _, col := range columns {
		var raw interface{}
		if !col.bad {
			raw = ApplySubstring(col.path.Lookup(record), col.sub)
		}
		row.Cells = append(row.Cells, models.Cell{
			Label: col.def.Label,
			Value: Format(raw, col.def.Type),
			Raw:   raw,
		})
	}
	return row
}

// ResponseCode returns the record's response code, or "" when it has none.
func ResponseCode(record interface{}) string {
	rec := AsRawRecord(record)
	for _, field := range ResponseCodeFields {
		if v, ok := rec[field]; ok && !isEmpty(v) {
			return Stringify(v)
		}
	}
	return ""
}
