package processors

import (
	"fmt"

	"tax-reconciliation-service/internal/mapping"
	"tax-reconciliation-service/internal/models"
)

// RawFirstDataName is the registry name of RawFirstDataExtractor.
const RawFirstDataName = "raw_first_data"

var firstDataPath = mapping.MustParsePath("Wfirstdata")

// RawFirstDataExtractor ignores the template and emits every Wfirstdata
// entry as a string cell labelled "Kolom 1".."Kolom N".
type RawFirstDataExtractor struct{}

// Process implements Extractor.
func (RawFirstDataExtractor) Process(payload models.Payload, _ *models.MappingConfig) ([]models.Row, error) {
	records, _ := mapping.LocateRecords(payload)

	rows := make([]models.Row, 0, len(records))
	for _, record := range records {
		row := models.Row{ResponseCode: mapping.ResponseCode(record)}
		entries, _ := firstDataPath.Lookup(record).([]interface{})
		for i, entry := range entries {
			row.Cells = append(row.Cells, models.Cell{
				Label: fmt.Sprintf("Kolom %d", i+1),
				Value: mapping.Format(entry, models.ColumnTypeString),
				Raw:   entry,
			})
		}
		rows = append(rows, row)
	}
	return rows, nil
}
