package processors

import (
	"fmt"

	"tax-reconciliation-service/internal/mapping"
	"tax-reconciliation-service/internal/models"
)

const (
	// ElapsedTimeName is the registry name of the elapsed-time extractor.
	ElapsedTimeName = "elapsed_time"

	// DefaultElapsedField holds the processing time in seconds.
	DefaultElapsedField = "Welapsed"

	// DurationLabel is the label of the appended duration column.
	DurationLabel = "Durasi"
)

// ElapsedTimeExtractor applies the template columns and appends a duration
// column rendered as HH:MM:SS.
type ElapsedTimeExtractor struct {
	path mapping.Path
}

// NewElapsedTimeExtractor reads elapsed seconds from field.
func NewElapsedTimeExtractor(field string) *ElapsedTimeExtractor {
	return &ElapsedTimeExtractor{path: mapping.MustParsePath(field)}
}

// Process implements Extractor.
func (e *ElapsedTimeExtractor) Process(payload models.Payload, cfg *models.MappingConfig) ([]models.Row, error) {
	records, _ := mapping.LocateRecords(payload)

	rows := make([]models.Row, 0, len(records))
	for _, record := range records {
		row := mapping.ExtractRecord(record, cfg)
		raw := e.path.Lookup(record)
		row.Cells = append(row.Cells, models.Cell{
			Label: DurationLabel,
			Value: FormatElapsed(raw),
			Raw:   raw,
		})
		rows = append(rows, row)
	}
	return rows, nil
}

// FormatElapsed renders a number of seconds as HH:MM:SS. Hours are not
// wrapped at 24. Missing, negative or non-numeric input is the empty marker.
func FormatElapsed(value interface{}) string {
	d, ok := mapping.ToNumber(value)
	if !ok || d.IsNegative() {
		return models.EmptyMarker
	}

	secs := d.IntPart()
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}
