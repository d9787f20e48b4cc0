package processors

import (
	"fmt"
	"strings"

	"tax-reconciliation-service/internal/catalog"
	"tax-reconciliation-service/internal/models"
	"tax-reconciliation-service/pkg/logger"
)

// StrategyKind tells the dispatcher which engine handles a payload
type StrategyKind string

const (
	StrategyDeclarative StrategyKind = "declarative"
	StrategyCustom      StrategyKind = "custom"
)

// Strategy is the outcome of resolution. Name is the extractor name for
// custom strategies.
type Strategy struct {
	Kind StrategyKind `json:"kind"`
	Name string       `json:"name,omitempty"`
}

// Declarative is the strategy of the column-driven engine.
var Declarative = Strategy{Kind: StrategyDeclarative}

// Custom returns the strategy for the named extractor.
func Custom(name string) Strategy {
	return Strategy{Kind: StrategyCustom, Name: strings.TrimSpace(name)}
}

// String returns "declarative" or "custom(name)"
func (s Strategy) String() string {
	if s.Kind == StrategyCustom {
		return fmt.Sprintf("%s(%s)", s.Kind, s.Name)
	}
	return string(s.Kind)
}

// Resolution is the selected mapping and strategy for one request. Proccode
// and Template are nil when nothing matched.
type Resolution struct {
	Proccode      *models.Proccode      `json:"proccode,omitempty"`
	Template      *models.Template      `json:"template,omitempty"`
	MappingConfig *models.MappingConfig `json:"mapping_config,omitempty"`
	Strategy      Strategy              `json:"strategy"`
}

// Resolve picks the mapping for a transaction-type code and source.
//
// An explicit proccode id that exists wins unconditionally. Otherwise
// candidates are proccodes whose stored code contains code and whose source
// equals source; the first bound to a custom extractor is preferred, then
// the first bound to any template, then the first candidate. Without a
// template the result is the declarative strategy with a nil mapping, which
// passes records through untouched. Resolve never fails.
func Resolve(cat *catalog.Catalog, code, source string, proccodeID *int64) Resolution {
	log := logger.WithComponent("resolver")

	if cat == nil {
		return Resolution{Strategy: Declarative}
	}

	if proccodeID != nil {
		if p, ok := cat.Proccode(*proccodeID); ok {
			return bind(cat, p)
		}
		log.WithField("proccode_id", *proccodeID).Debug("Explicit proccode id not found, matching by code")
	}

	candidates := cat.Candidates(code, source)
	if len(candidates) == 0 {
		log.WithFields(logger.Fields{"code": code, "source": source}).Debug("No proccode matched")
		return Resolution{Strategy: Declarative}
	}

	for _, p := range candidates {
		if t, ok := cat.TemplateFor(p); ok && t.HasCustomProcessor() {
			return bind(cat, p)
		}
	}
	for _, p := range candidates {
		if _, ok := cat.TemplateFor(p); ok {
			return bind(cat, p)
		}
	}
	return bind(cat, candidates[0])
}

func bind(cat *catalog.Catalog, p *models.Proccode) Resolution {
	res := Resolution{Proccode: p, Strategy: Declarative}

	t, ok := cat.TemplateFor(p)
	if !ok {
		return res
	}
	res.Template = t
	res.MappingConfig = t.MappingConfig()
	if t.HasCustomProcessor() {
		res.Strategy = Custom(t.Processor)
	}
	return res
}
