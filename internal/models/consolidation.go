package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DayLayout is the date format used by the external API and the CLI.
const DayLayout = "2006-01-02"

// ConsolidationBatch is one committed ingestion run.
type ConsolidationBatch struct {
	ID           string          `json:"id"`
	UploadDate   time.Time       `json:"upload_date"`
	Proccode     string          `json:"proccode"`
	Source       string          `json:"source"`
	District     string          `json:"district"`
	UserName     string          `json:"user"`
	DateStart    time.Time       `json:"date_start"`
	DateEnd      time.Time       `json:"date_end"`
	TotalItems   int             `json:"total_items"`
	TotalNominal decimal.Decimal `json:"total_nominal"`
}

// Validate performs basic validation on the batch
func (b *ConsolidationBatch) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("batch ID cannot be empty")
	}
	if strings.TrimSpace(b.Proccode) == "" {
		return fmt.Errorf("batch proccode cannot be empty")
	}
	if strings.TrimSpace(b.District) == "" {
		return fmt.Errorf("batch district cannot be empty")
	}
	if b.DateStart.IsZero() || b.DateEnd.IsZero() {
		return fmt.Errorf("batch date range cannot be empty")
	}
	if b.DateStart.After(b.DateEnd) {
		return fmt.Errorf("batch start date %s is after end date %s",
			b.DateStart.Format(DayLayout), b.DateEnd.Format(DayLayout))
	}
	if b.TotalItems < 0 {
		return fmt.Errorf("batch item count cannot be negative")
	}
	return nil
}

// String returns a string representation of the batch
func (b *ConsolidationBatch) String() string {
	return fmt.Sprintf("Batch{ID: %s, Proccode: %s, District: %s, Range: %s..%s, Items: %d, Total: %s}",
		b.ID, b.Proccode, b.District, b.DateStart.Format(DayLayout), b.DateEnd.Format(DayLayout),
		b.TotalItems, b.TotalNominal.String())
}

// ConsolidationItem is one persisted normalized transaction.
type ConsolidationItem struct {
	ID              string          `json:"id"`
	BatchID         string          `json:"batch_id"`
	Nominal         decimal.Decimal `json:"nominal"`
	TransactionDate time.Time       `json:"transaction_date"`
	RawData         RawRecord       `json:"raw_data"`
}

// RawJSON encodes the raw record for storage
func (i *ConsolidationItem) RawJSON() (string, error) {
	if i.RawData == nil {
		return "{}", nil
	}
	data, err := json.Marshal(i.RawData)
	if err != nil {
		return "", fmt.Errorf("failed to encode raw data: %w", err)
	}
	return string(data), nil
}

// ParseDay parses a YYYY-MM-DD date
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date cannot be empty")
	}
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
	}
	return t, nil
}

// DaysInRange returns every calendar day in [start, end], inclusive.
func DaysInRange(start, end time.Time) []time.Time {
	start = truncateDay(start)
	end = truncateDay(end)
	if start.After(end) {
		return nil
	}

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
