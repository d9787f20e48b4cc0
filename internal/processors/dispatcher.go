package processors

import (
	"fmt"

	"tax-reconciliation-service/internal/mapping"
	"tax-reconciliation-service/internal/models"
	"tax-reconciliation-service/pkg/logger"
)

// Result is the normalized output for one payload. Raw always holds the
// located records so callers can fall back on them when ProcessorError is
// set or the mapping was a passthrough.
type Result struct {
	Strategy       Strategy      `json:"strategy"`
	Columns        []string      `json:"columns"`
	Rows           []models.Row  `json:"rows"`
	Raw            []interface{} `json:"raw"`
	Passthrough    bool          `json:"passthrough"`
	ProcessorError string        `json:"processor_error,omitempty"`
}

// Failed reports whether a custom extractor failed
func (r *Result) Failed() bool {
	return r.ProcessorError != ""
}

// Dispatcher runs the strategy chosen by Resolve.
type Dispatcher struct {
	registry *Registry
	logger   logger.Logger
}

// NewDispatcher creates a dispatcher over registry. A nil registry uses
// DefaultRegistry.
func NewDispatcher(registry *Registry) *Dispatcher {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger.WithComponent("dispatcher"),
	}
}

// Run normalizes payload according to res. It never fails: extractor errors
// and panics are logged and reported through Result.ProcessorError, and an
// unknown extractor name falls back to the declarative engine.
func (d *Dispatcher) Run(payload models.Payload, res Resolution) *Result {
	if res.Strategy.Kind == StrategyCustom {
		extractor, err := d.registry.Lookup(res.Strategy.Name)
		if err == nil {
			return d.runCustom(payload, res, extractor)
		}
		d.logger.WithError(err).WithField("processor", res.Strategy.Name).
			Warn("Processor not registered, using declarative mapping")
	}
	return d.runDeclarative(payload, res.MappingConfig)
}

func (d *Dispatcher) runDeclarative(payload models.Payload, cfg *models.MappingConfig) *Result {
	ext := mapping.Run(payload, cfg)
	return &Result{
		Strategy:    Declarative,
		Columns:     ext.Columns,
		Rows:        ext.Rows,
		Raw:         ext.Records,
		Passthrough: ext.Passthrough,
	}
}

func (d *Dispatcher) runCustom(payload models.Payload, res Resolution, extractor Extractor) *Result {
	raw, _ := mapping.LocateRecords(payload)
	result := &Result{Strategy: res.Strategy, Raw: raw, Rows: []models.Row{}}

	rows, err := safeProcess(extractor, payload, res.MappingConfig)
	if err != nil {
		d.logger.WithError(err).WithField("processor", res.Strategy.Name).
			Error("Custom processor failed, returning unprocessed records")
		result.ProcessorError = err.Error()
		return result
	}

	if rows != nil {
		result.Rows = rows
	}
	result.Columns = columnsOf(result.Rows, res.MappingConfig)
	return result
}

func safeProcess(extractor Extractor, payload models.Payload, cfg *models.MappingConfig) (rows []models.Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			rows = nil
			err = fmt.Errorf("processor panicked: %v", r)
		}
	}()
	return extractor.Process(payload, cfg)
}

// columnsOf returns the labels of the first row, or the configured labels
// when there are no rows.
func columnsOf(rows []models.Row, cfg *models.MappingConfig) []string {
	if len(rows) > 0 {
		return rows[0].Labels()
	}
	return cfg.Labels()
}
