// Package processors selects how a payload is normalized and runs the chosen
// extractor. Resolution picks a template for a transaction-type code and
// source; dispatch runs either the declarative engine or a named custom
// extractor from the registry.
package processors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"tax-reconciliation-service/internal/models"
	"tax-reconciliation-service/pkg/errors"
)

// Extractor turns a raw payload into rows. Implementations locate their own
// record sequence and may ignore cfg.
type Extractor interface {
	Process(payload models.Payload, cfg *models.MappingConfig) ([]models.Row, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(payload models.Payload, cfg *models.MappingConfig) ([]models.Row, error)

// Process calls f(payload, cfg).
func (f ExtractorFunc) Process(payload models.Payload, cfg *models.MappingConfig) ([]models.Row, error) {
	return f(payload, cfg)
}

// ErrExtractorNotFound is returned by Registry.Lookup for unknown names.
var ErrExtractorNotFound = stderrors.New("extractor not found")

// Registry maps processor names to extractors. Names are case-insensitive.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// DefaultRegistry returns a registry holding the built-in extractors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(PositionalBlobName, NewPositionalBlobExtractor(DefaultBlobLayout()))
	r.MustRegister(ElapsedTimeName, NewElapsedTimeExtractor(DefaultElapsedField))
	r.MustRegister(RawFirstDataName, RawFirstDataExtractor{})
	return r
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IsGeneric reports whether name denotes the declarative engine.
func IsGeneric(name string) bool {
	n := normalizeName(name)
	return n == "" || n == models.GenericProcessor
}

// Register adds an extractor under name. Generic and duplicate names are
// rejected.
func (r *Registry) Register(name string, e Extractor) error {
	if IsGeneric(name) {
		return fmt.Errorf("processor name %q is reserved for the declarative engine", name)
	}
	if e == nil {
		return fmt.Errorf("extractor %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := normalizeName(name)
	if _, exists := r.extractors[key]; exists {
		return fmt.Errorf("extractor %q already registered", name)
	}
	r.extractors[key] = e
	return nil
}

// MustRegister is like Register but panics on error. Intended for startup
// wiring.
func (r *Registry) MustRegister(name string, e Extractor) {
	if err := r.Register(name, e); err != nil {
		panic(err)
	}
}

// Lookup returns the extractor registered under name.
func (r *Registry) Lookup(name string) (Extractor, error) {
	r.mu.RLock()
	e, ok := r.extractors[normalizeName(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.ResolutionError(errors.CodeExtractorNotFound, name, ErrExtractorNotFound)
	}
	return e, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.extractors))
	for name := range r.extractors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
