// Package models defines the domain types shared by the mapping engine, the
// processor layer and consolidation.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// EmptyMarker is the display value for missing or unparseable data.
const EmptyMarker = "-"

// ResponseCodeKey is the JSON key carrying a row's passthrough response code.
const ResponseCodeKey = "rc"

// RawRecord is one transaction as returned by the external banking API.
// Some fields are scalars, others are positional arrays (Wfirstdata, Wseconddata).
type RawRecord map[string]interface{}

// Payload is a full decoded response of the external banking API.
type Payload map[string]interface{}

// ColumnType is the display type applied to an extracted value
type ColumnType string

const (
	ColumnTypeString   ColumnType = "string"
	ColumnTypeNumber   ColumnType = "number"
	ColumnTypeCurrency ColumnType = "currency"
	ColumnTypeDate     ColumnType = "date"
)

// String returns the string representation of ColumnType
func (t ColumnType) String() string {
	return string(t)
}

// IsValid checks if the column type is one of the supported display types
func (t ColumnType) IsValid() bool {
	switch t {
	case ColumnTypeString, ColumnTypeNumber, ColumnTypeCurrency, ColumnTypeDate:
		return true
	default:
		return false
	}
}

// Substring bounds a string result. Length is optional.
type Substring struct {
	Start  int
	Length *int
}

// ColumnDefinition describes one output column of a mapping.
type ColumnDefinition struct {
	Label           string     `json:"label" yaml:"label"`
	Path            string     `json:"path" yaml:"path"`
	Type            ColumnType `json:"type" yaml:"type"`
	SubstringStart  *int       `json:"substring_start,omitempty" yaml:"substring_start,omitempty"`
	SubstringLength *int       `json:"substring_length,omitempty" yaml:"substring_length,omitempty"`
}

// Substring returns the substring bounds of the column, or nil when none are set.
// A length without a start is ignored.
func (c ColumnDefinition) Substring() *Substring {
	if c.SubstringStart == nil {
		return nil
	}
	return &Substring{Start: *c.SubstringStart, Length: c.SubstringLength}
}

// Validate performs basic validation on the column definition.
// Path syntax is checked by the mapping package.
func (c ColumnDefinition) Validate() error {
	if strings.TrimSpace(c.Label) == "" {
		return fmt.Errorf("column label cannot be empty")
	}
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("column %q: path cannot be empty", c.Label)
	}
	if c.Type != "" && !c.Type.IsValid() {
		return fmt.Errorf("column %q: invalid type %q", c.Label, c.Type)
	}
	if c.SubstringStart != nil && *c.SubstringStart < 0 {
		return fmt.Errorf("column %q: substring start cannot be negative", c.Label)
	}
	if c.SubstringLength != nil && *c.SubstringLength < 0 {
		return fmt.Errorf("column %q: substring length cannot be negative", c.Label)
	}
	return nil
}

// MappingConfig is the ordered column list of one vendor template.
type MappingConfig struct {
	Vendor   string             `json:"vendor"`
	Category string             `json:"category"`
	Columns  []ColumnDefinition `json:"columns"`
}

// Validate rejects empty mappings, duplicate labels and labels that collide
// with the response code key.
func (m *MappingConfig) Validate() error {
	if m == nil || len(m.Columns) == 0 {
		return fmt.Errorf("mapping must define at least one column")
	}

	seen := make(map[string]bool, len(m.Columns))
	for i, col := range m.Columns {
		if err := col.Validate(); err != nil {
			return fmt.Errorf("column %d: %w", i, err)
		}
		if seen[col.Label] {
			return fmt.Errorf("duplicate column label %q", col.Label)
		}
		if col.Label == ResponseCodeKey {
			return fmt.Errorf("column %d: label %q is reserved for the response code", i, col.Label)
		}
		seen[col.Label] = true
	}
	return nil
}

// Labels returns the column labels in declared order
func (m *MappingConfig) Labels() []string {
	if m == nil {
		return nil
	}
	labels := make([]string, len(m.Columns))
	for i, col := range m.Columns {
		labels[i] = col.Label
	}
	return labels
}

// Column returns the column definition with the given label
func (m *MappingConfig) Column(label string) (ColumnDefinition, bool) {
	if m == nil {
		return ColumnDefinition{}, false
	}
	for _, col := range m.Columns {
		if col.Label == label {
			return col, true
		}
	}
	return ColumnDefinition{}, false
}

// Template owns a mapping and its processor binding.
type Template struct {
	ID        int64              `json:"id" yaml:"id"`
	Vendor    string             `json:"vendor" yaml:"vendor"`
	Category  string             `json:"category" yaml:"category"`
	Processor string             `json:"processor,omitempty" yaml:"processor,omitempty"`
	Columns   []ColumnDefinition `json:"columns" yaml:"columns"`
}

// GenericProcessor names the declarative engine when used as a processor binding.
const GenericProcessor = "generic"

// MappingConfig returns the template's mapping configuration
func (t *Template) MappingConfig() *MappingConfig {
	return &MappingConfig{
		Vendor:   t.Vendor,
		Category: t.Category,
		Columns:  t.Columns,
	}
}

// HasCustomProcessor reports whether the template is bound to a named,
// non-generic extractor.
func (t *Template) HasCustomProcessor() bool {
	name := strings.TrimSpace(t.Processor)
	return name != "" && !strings.EqualFold(name, GenericProcessor)
}

// Proccode is a transaction-type record. Code may hold several comma-joined
// aliases, e.g. "180V42,180E10".
type Proccode struct {
	ID          int64  `json:"id" yaml:"id"`
	Code        string `json:"code" yaml:"code"`
	Source      string `json:"source" yaml:"source"`
	TemplateID  *int64 `json:"template_id,omitempty" yaml:"template_id,omitempty"`
	District    string `json:"district,omitempty" yaml:"district,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Codes returns the individual aliases of the proccode
func (p *Proccode) Codes() []string {
	var codes []string
	for _, c := range strings.Split(p.Code, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	return codes
}

// Matches reports whether the stored code contains code and the source is
// identical. Containment, not equality, is what the stored comma-joined form
// requires.
func (p *Proccode) Matches(code, source string) bool {
	if code == "" {
		return false
	}
	return strings.Contains(p.Code, code) && p.Source == source
}

// Cell is one labelled, formatted value of a Row. Raw keeps the value before
// coercion for callers that aggregate.
type Cell struct {
	Label string      `json:"label"`
	Value string      `json:"value"`
	Raw   interface{} `json:"-"`
}

// Row is one normalized record. Cells keep the configured column order.
type Row struct {
	Cells        []Cell
	ResponseCode string
}

// Get returns the formatted value for label
func (r Row) Get(label string) (string, bool) {
	for _, c := range r.Cells {
		if c.Label == label {
			return c.Value, true
		}
	}
	return "", false
}

// Cell returns the cell for label
func (r Row) Cell(label string) (Cell, bool) {
	for _, c := range r.Cells {
		if c.Label == label {
			return c, true
		}
	}
	return Cell{}, false
}

// Labels returns the labels of the row in order
func (r Row) Labels() []string {
	labels := make([]string, len(r.Cells))
	for i, c := range r.Cells {
		labels[i] = c.Label
	}
	return labels
}

// Map returns the row as a label to value map, including the response code.
func (r Row) Map() map[string]string {
	m := make(map[string]string, len(r.Cells)+1)
	for _, c := range r.Cells {
		m[c.Label] = c.Value
	}
	m[ResponseCodeKey] = r.ResponseCode
	return m
}

// MarshalJSON renders the row as an object whose keys follow column order,
// with the response code last.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, c := range r.Cells {
		if err := writeJSONPair(&buf, c.Label, c.Value); err != nil {
			return nil, err
		}
		buf.WriteByte(',')
	}
	if err := writeJSONPair(&buf, ResponseCodeKey, r.ResponseCode); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSONPair(buf *bytes.Buffer, key, value string) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}
