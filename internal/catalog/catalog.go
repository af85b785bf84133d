// Package catalog holds the static list of assistant personas.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"assistant-hub/internal/domain"
)

//go:embed assistants.yaml
var defaultCatalog []byte

// Catalog is an immutable, id-indexed list of assistants.
type Catalog struct {
	list []domain.Assistant
	byID map[string]int
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse decodes a YAML list of assistants.
func Parse(raw []byte) (*Catalog, error) {
	var list []domain.Assistant
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	return New(list)
}

// New validates list and builds a Catalog from it. Order is preserved.
func New(list []domain.Assistant) (*Catalog, error) {
	if len(list) == 0 {
		return nil, errors.New("catalog: no assistants defined")
	}
	c := &Catalog{
		list: make([]domain.Assistant, 0, len(list)),
		byID: make(map[string]int, len(list)),
	}
	for i, a := range list {
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" {
			return nil, fmt.Errorf("catalog: assistant %d: id is required", i)
		}
		if strings.TrimSpace(a.Name) == "" {
			return nil, fmt.Errorf("catalog: assistant %q: name is required", a.ID)
		}
		if _, dup := c.byID[a.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate assistant id %q", a.ID)
		}
		c.byID[a.ID] = len(c.list)
		c.list = append(c.list, a)
	}
	return c, nil
}

// List returns a copy of all assistants in declaration order.
func (c *Catalog) List() []domain.Assistant {
	out := make([]domain.Assistant, len(c.list))
	copy(out, c.list)
	return out
}

// Get looks an assistant up by id.
func (c *Catalog) Get(id string) (domain.Assistant, bool) {
	i, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return domain.Assistant{}, false
	}
	return c.list[i], true
}
