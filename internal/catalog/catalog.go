// Package catalog holds the read-only configuration snapshot the pipeline
// runs against: vendor templates, proccode bindings and the response-code
// whitelist. A snapshot is loaded once per invocation and never mutated.
package catalog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"tax-reconciliation-service/internal/mapping"
	"tax-reconciliation-service/internal/models"
	"tax-reconciliation-service/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Catalog is an immutable snapshot of templates and proccodes.
type Catalog struct {
	ResponseCodes []string          `yaml:"response_codes"`
	Templates     []models.Template `yaml:"templates"`
	Proccodes     []models.Proccode `yaml:"proccodes"`

	templates map[int64]*models.Template
	proccodes map[int64]*models.Proccode
}

// Load reads and validates the catalog file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "catalog.path", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		if appErr, ok := errors.AsAppError(err); ok {
			return nil, appErr.WithContext("file", path)
		}
		return nil, err
	}
	return c, nil
}

// Parse decodes a YAML catalog and validates it. Unknown keys are rejected.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if err == io.EOF {
			return nil, errors.ConfigurationError(errors.CodeMissingConfig, "catalog", "", fmt.Errorf("catalog is empty"))
		}
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "catalog", "yaml", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.index()
	return &c, nil
}

// New builds a validated catalog from in-memory definitions.
func New(templates []models.Template, proccodes []models.Proccode, responseCodes ...string) (*Catalog, error) {
	c := &Catalog{
		ResponseCodes: append([]string(nil), responseCodes...),
		Templates:     append([]models.Template(nil), templates...),
		Proccodes:     append([]models.Proccode(nil), proccodes...),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.index()
	return c, nil
}

func (c *Catalog) index() {
	c.templates = make(map[int64]*models.Template, len(c.Templates))
	for i := range c.Templates {
		c.templates[c.Templates[i].ID] = &c.Templates[i]
	}
	c.proccodes = make(map[int64]*models.Proccode, len(c.Proccodes))
	for i := range c.Proccodes {
		c.proccodes[c.Proccodes[i].ID] = &c.Proccodes[i]
	}
}

// Validate checks every template and proccode and reports all problems at
// once as an *errors.ErrorSummary.
func (c *Catalog) Validate() error {
	var problems []*errors.AppError

	templateIDs := make(map[int64]bool, len(c.Templates))
	for _, t := range c.Templates {
		subject := fmt.Sprintf("template %d", t.ID)
		if templateIDs[t.ID] {
			problems = append(problems, errors.ValidationError(errors.CodeOutOfRange, "templates.id", t.ID, fmt.Errorf("duplicate template id")))
			continue
		}
		templateIDs[t.ID] = true

		if err := t.MappingConfig().Validate(); err != nil {
			problems = append(problems, errors.MappingError(errors.CodeInvalidMapping, subject, err))
			continue
		}
		for _, col := range t.Columns {
			if _, err := mapping.ParsePath(col.Path); err != nil {
				problems = append(problems, errors.MappingError(errors.CodeInvalidPath, col.Path, err).
					WithContext("template", t.ID).
					WithContext("label", col.Label))
			}
		}
	}

	proccodeIDs := make(map[int64]bool, len(c.Proccodes))
	for _, p := range c.Proccodes {
		if proccodeIDs[p.ID] {
			problems = append(problems, errors.ValidationError(errors.CodeOutOfRange, "proccodes.id", p.ID, fmt.Errorf("duplicate proccode id")))
			continue
		}
		proccodeIDs[p.ID] = true

		if strings.TrimSpace(p.Code) == "" {
			problems = append(problems, errors.ValidationError(errors.CodeMissingField, "proccodes.code", p.ID, nil))
		}
		if strings.TrimSpace(p.Source) == "" {
			problems = append(problems, errors.ValidationError(errors.CodeMissingField, "proccodes.source", p.ID, nil))
		}
		if p.TemplateID != nil && !templateIDs[*p.TemplateID] {
			problems = append(problems, errors.ResolutionError(errors.CodeInvalidMapping, fmt.Sprintf("proccode %d", p.ID),
				fmt.Errorf("template %d does not exist", *p.TemplateID)))
		}
	}

	if len(problems) > 0 {
		return errors.NewErrorSummary(problems)
	}
	return nil
}

// Template returns the template with the given id
func (c *Catalog) Template(id int64) (*models.Template, bool) {
	t, ok := c.templates[id]
	return t, ok
}

// Proccode returns the proccode with the given id
func (c *Catalog) Proccode(id int64) (*models.Proccode, bool) {
	p, ok := c.proccodes[id]
	return p, ok
}

// TemplateFor returns the template bound to p, if any.
func (c *Catalog) TemplateFor(p *models.Proccode) (*models.Template, bool) {
	if p == nil || p.TemplateID == nil {
		return nil, false
	}
	return c.Template(*p.TemplateID)
}

// Candidates returns, in catalog order, the proccodes whose stored code
// contains code and whose source equals source.
func (c *Catalog) Candidates(code, source string) []*models.Proccode {
	var out []*models.Proccode
	for i := range c.Proccodes {
		if c.Proccodes[i].Matches(code, source) {
			out = append(out, &c.Proccodes[i])
		}
	}
	return out
}

// Whitelist returns the response codes treated as successful.
func (c *Catalog) Whitelist() mapping.Whitelist {
	return mapping.ParseWhitelist(strings.Join(c.ResponseCodes, ","))
}

// Processors returns the distinct non-generic processor names referenced by
// templates, sorted.
func (c *Catalog) Processors() []string {
	seen := make(map[string]bool)
	var names []string
	for i := range c.Templates {
		t := &c.Templates[i]
		if !t.HasCustomProcessor() {
			continue
		}
		name := strings.TrimSpace(t.Processor)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
