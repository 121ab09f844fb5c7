// Package patterns is the Pattern Store: a versioned registry of known
// infrastructure archetypes read by the candidate generator.
package patterns

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/infrasage/infrasage/internal/models"
)

//go:embed catalog/default.yaml
var defaultCatalogYAML []byte

// catalogValidate is the validator instance for catalog documents.
var catalogValidate *validator.Validate

func init() {
	catalogValidate = validator.New()
}

// Pattern is a named infrastructure archetype with nominal attributes.
type Pattern struct {
	ID            string            `yaml:"id" json:"id" validate:"required"`
	Name          string            `yaml:"name" json:"name" validate:"required"`
	Description   string            `yaml:"description" json:"description"`
	Components    []string          `yaml:"components" json:"components" validate:"required,min=1,dive,required"`
	BaseCost      float64           `yaml:"base_cost" json:"base_cost" validate:"gte=0"`
	ThroughputRPS int               `yaml:"throughput_rps" json:"throughput_rps" validate:"gte=0"`
	SecurityLevel int               `yaml:"security_level" json:"security_level" validate:"gte=1,lte=5"`
	Complexity    models.Complexity `yaml:"complexity" json:"complexity" validate:"oneof=low medium high"`
	Objectives    []string          `yaml:"objectives" json:"objectives,omitempty"`
}

// Catalog is one version of the pattern set.
type Catalog struct {
	Version  int       `yaml:"version" json:"version" validate:"gte=1"`
	Patterns []Pattern `yaml:"patterns" json:"patterns" validate:"dive"`
}

// ErrDuplicatePattern is returned when a catalog lists the same id twice.
var ErrDuplicatePattern = errors.New("duplicate pattern id")

// ParseCatalog decodes and validates a YAML catalog document.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks field constraints and id uniqueness.
func (c *Catalog) Validate() error {
	if err := catalogValidate.Struct(c); err != nil {
		return fmt.Errorf("validate catalog: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Patterns))
	for _, p := range c.Patterns {
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicatePattern, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// Marshal encodes the catalog back to YAML for persistence.
func (c *Catalog) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// DefaultCatalog returns the embedded built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded pattern catalog is invalid: %v", err))
	}
	return c
}

// LoadFile reads a catalog from disk. An empty path returns the default.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(raw)
}

// clonePatterns deep-copies a pattern slice so callers cannot alias the
// registry's snapshot.
func clonePatterns(in []Pattern) []Pattern {
	out := make([]Pattern, len(in))
	for i, p := range in {
		p.Components = append([]string(nil), p.Components...)
		p.Objectives = append([]string(nil), p.Objectives...)
		out[i] = p
	}
	return out
}
