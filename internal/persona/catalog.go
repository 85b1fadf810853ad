// Package persona manages the expert persona catalog and panel
// selection. Personas are declared in a YAML catalog file; panels are
// picked per sub-problem by matching archetype glob patterns against
// the catalog.
package persona

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/quorumhq/quorum/internal/errors"
)

// Profile describes one expert persona in the catalog.
type Profile struct {
	// Code is the stable short identifier used everywhere in state and
	// expert memory (e.g. "maria").
	Code string `yaml:"code"`
	// Name is the display name.
	Name string `yaml:"name"`
	// Archetype is a dotted classification used for panel selection,
	// e.g. "engineering.database" or "product.strategy".
	Archetype string `yaml:"archetype"`
	// Expertise lists free-form specialties used in prompt context.
	Expertise []string `yaml:"expertise,omitempty"`
	// Style is an optional voice hint passed through to the provider.
	Style string `yaml:"style,omitempty"`
}

// Validate checks that the profile is usable.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Code) == "" {
		return errors.NewValidationError("persona code is required")
	}
	if strings.ContainsAny(p.Code, " \t\n:") {
		return errors.NewValidationError("persona code must not contain whitespace or colons").
			WithField("code").WithValue(p.Code)
	}
	if strings.TrimSpace(p.Archetype) == "" {
		return errors.NewValidationError("persona archetype is required").WithField("archetype")
	}
	return nil
}

// Catalog is an immutable set of persona profiles keyed by code.
type Catalog struct {
	profiles []Profile
	byCode   map[string]Profile
}

// NewCatalog builds a catalog from profiles, validating each and
// rejecting duplicate codes.
func NewCatalog(profiles []Profile) (*Catalog, error) {
	if len(profiles) == 0 {
		return nil, errors.NewValidationError("persona catalog is empty")
	}

	byCode := make(map[string]Profile, len(profiles))
	for i, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, errors.Wrapf(err, "persona %d", i)
		}
		if _, dup := byCode[p.Code]; dup {
			return nil, errors.NewAlreadyExistsError("persona", p.Code)
		}
		byCode[p.Code] = p
	}

	ordered := make([]Profile, len(profiles))
	copy(ordered, profiles)
	return &Catalog{profiles: ordered, byCode: byCode}, nil
}

// LoadCatalog reads a YAML catalog file.
//
// The file format is:
//
//	personas:
//	  - code: maria
//	    name: Maria Santos
//	    archetype: engineering.database
//	    expertise: [postgres, schema design]
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("persona catalog", path).WithCause(err)
		}
		return nil, errors.Wrap(err, "reading persona catalog")
	}

	var doc struct {
		Personas []Profile `yaml:"personas"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing persona catalog")
	}

	return NewCatalog(doc.Personas)
}

// Get returns the profile for a code.
func (c *Catalog) Get(code string) (Profile, bool) {
	p, ok := c.byCode[code]
	return p, ok
}

// Codes returns all persona codes in catalog order.
func (c *Catalog) Codes() []string {
	codes := make([]string, len(c.profiles))
	for i, p := range c.profiles {
		codes[i] = p.Code
	}
	return codes
}

// Len returns the number of personas in the catalog.
func (c *Catalog) Len() int { return len(c.profiles) }

// Match returns the codes of personas whose archetype matches any of
// the given glob patterns (e.g. "engineering.*"). Results are in
// catalog order with duplicates removed.
func (c *Catalog) Match(patterns []string) ([]string, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pat := range patterns {
		g, err := glob.Compile(pat, '.')
		if err != nil {
			return nil, errors.NewValidationError("invalid archetype pattern").
				WithField("pattern").WithValue(pat).WithCause(err)
		}
		globs = append(globs, g)
	}

	seen := make(map[string]bool)
	var matched []string
	for _, p := range c.profiles {
		if seen[p.Code] {
			continue
		}
		for _, g := range globs {
			if g.Match(p.Archetype) {
				matched = append(matched, p.Code)
				seen[p.Code] = true
				break
			}
		}
	}
	return matched, nil
}

// SelectPanel picks a panel for a sub-problem. Explicit codes win; when
// none are given the archetype patterns are matched against the catalog
// and the result is clamped to [minSize, maxSize] by complexity: harder
// sub-problems keep more voices.
//
// Complexity is on a 1..10 scale. The panel keeps catalog order so runs
// are reproducible.
func (c *Catalog) SelectPanel(explicit []string, patterns []string, complexity, minSize, maxSize int) ([]string, error) {
	if len(explicit) > 0 {
		for _, code := range explicit {
			if _, ok := c.byCode[code]; !ok {
				return nil, errors.NewNotFoundError("persona", code)
			}
		}
		panel := make([]string, len(explicit))
		copy(panel, explicit)
		return panel, nil
	}

	matched, err := c.Match(patterns)
	if err != nil {
		return nil, err
	}
	if len(matched) < minSize {
		return nil, errors.NewValidationError(
			fmt.Sprintf("archetype patterns matched %d personas, need at least %d", len(matched), minSize))
	}

	want := panelSizeFor(complexity, minSize, maxSize)
	if len(matched) > want {
		matched = matched[:want]
	}
	return matched, nil
}

// panelSizeFor maps complexity 1..10 linearly onto [minSize, maxSize].
func panelSizeFor(complexity, minSize, maxSize int) int {
	if maxSize <= minSize {
		return minSize
	}
	if complexity < 1 {
		complexity = 1
	}
	if complexity > 10 {
		complexity = 10
	}
	span := maxSize - minSize
	size := minSize + (complexity-1)*span/9
	return size
}

// Archetypes returns the distinct archetypes present in the catalog,
// sorted. Useful for CLI listing and validation messages.
func (c *Catalog) Archetypes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range c.profiles {
		if !seen[p.Archetype] {
			seen[p.Archetype] = true
			out = append(out, p.Archetype)
		}
	}
	sort.Strings(out)
	return out
}

// DefaultCatalog returns the built-in catalog used when no catalog file
// is configured. It covers the archetypes the default panel patterns
// reference.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]Profile{
		{Code: "maria", Name: "Maria Santos", Archetype: "engineering.database", Expertise: []string{"relational modeling", "migrations"}},
		{Code: "ahmed", Name: "Ahmed Khan", Archetype: "engineering.distributed", Expertise: []string{"consensus", "replication"}},
		{Code: "li", Name: "Li Wei", Archetype: "engineering.platform", Expertise: []string{"deployment", "observability"}},
		{Code: "sofia", Name: "Sofia Rossi", Archetype: "product.strategy", Expertise: []string{"roadmaps", "tradeoffs"}},
		{Code: "james", Name: "James Okafor", Archetype: "security.appsec", Expertise: []string{"threat modeling", "compliance"}},
	})
	if err != nil {
		panic(fmt.Sprintf("built-in persona catalog invalid: %v", err))
	}
	return c
}
