package storefront

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type Ticket struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Price       float64 `yaml:"price"`
	Description string  `yaml:"description"`
}

type Catalog struct {
	Tickets []Ticket `yaml:"tickets"`
}

// LoadCatalog reads the ticket catalog from path, or the built-in one when
// path is empty.
func LoadCatalog(path string) (Catalog, error) {
	b := defaultCatalog
	if path != "" {
		var err error
		if b, err = os.ReadFile(path); err != nil {
			return Catalog{}, fmt.Errorf("read catalog: %w", err)
		}
	}
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	seen := map[string]bool{}
	for _, t := range c.Tickets {
		if t.ID == "" {
			return Catalog{}, fmt.Errorf("catalog: ticket %q has no id", t.Name)
		}
		if seen[t.ID] {
			return Catalog{}, fmt.Errorf("catalog: duplicate ticket id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return c, nil
}

func (c Catalog) Find(id string) (Ticket, bool) {
	for _, t := range c.Tickets {
		if t.ID == id {
			return t, true
		}
	}
	return Ticket{}, false
}
