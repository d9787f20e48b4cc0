package mapping

import (
	"tax-reconciliation-service/internal/models"
)

// RecordLocator finds the record sequence inside one payload shape.
type RecordLocator struct {
	Name string
	Path Path
}

// Locate returns the sequence at the locator's path when it is a non-empty
// sequence.
func (l RecordLocator) Locate(payload models.Payload) ([]interface{}, bool) {
	seq, ok := l.Path.Lookup(map[string]interface{}(payload)).([]interface{})
	if !ok || len(seq) == 0 {
		return nil, false
	}
	return seq, true
}

// RecordLocators lists the payload shapes the banking API is known to return,
// in priority order.
var RecordLocators = []RecordLocator{
	{Name: "xdatatemp", Path: MustParsePath("xdatatemp")},
	{Name: "data.xdatatemp", Path: MustParsePath("data.xdatatemp")},
	{Name: "data", Path: MustParsePath("data")},
}

// LocateRecords returns the first non-empty record sequence of the payload
// and the name of the locator that found it. A payload without records
// yields an empty sequence and an empty name.
func LocateRecords(payload models.Payload) ([]interface{}, string) {
	if payload == nil {
		return []interface{}{}, ""
	}
	for _, locator := range RecordLocators {
		if seq, ok := locator.Locate(payload); ok {
			return seq, locator.Name
		}
	}
	return []interface{}{}, ""
}

// AsRawRecord returns record as a RawRecord. Non-object records are kept
// under the "value" key.
func AsRawRecord(record interface{}) models.RawRecord {
	switch r := record.(type) {
	case models.RawRecord:
		return r
	case map[string]interface{}:
		return models.RawRecord(r)
	case nil:
		return models.RawRecord{}
	default:
		return models.RawRecord{"value": r}
	}
}
