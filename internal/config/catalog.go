package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider lists the models one LLM provider may be asked for.
type Provider struct {
	Name   string   `yaml:"name" json:"name"`
	Models []string `yaml:"models" json:"models"`
}

// Catalog is the set of provider/model pairs a task may request.
type Catalog struct {
	Providers []Provider `yaml:"providers" json:"providers"`
}

// DefaultCatalog returns the built-in provider/model catalog.
func DefaultCatalog() Catalog {
	return Catalog{Providers: []Provider{
		{Name: "groq", Models: []string{
			"openai/gpt-oss-20b",
			"llama-3.1-70b-versatile",
			"llama-3.1-8b-instant",
		}},
		{Name: "openai", Models: []string{
			"gpt-4-turbo-preview",
			"gpt-4",
			"gpt-3.5-turbo",
		}},
		{Name: "claude", Models: []string{
			"claude-3-5-sonnet-20241022",
			"claude-3-opus-20240229",
			"claude-3-haiku-20240307",
		}},
	}}
}

// LoadCatalog reads a YAML catalog file.
//
//	providers:
//	  - name: groq
//	    models: [llama-3.1-8b-instant]
func LoadCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var catalog Catalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for i := range catalog.Providers {
		catalog.Providers[i].Name = strings.ToLower(strings.TrimSpace(catalog.Providers[i].Name))
		if catalog.Providers[i].Name == "" {
			return Catalog{}, fmt.Errorf("catalog %s: provider %d has no name", path, i)
		}
		if len(catalog.Providers[i].Models) == 0 {
			return Catalog{}, fmt.Errorf("catalog %s: provider %q has no models", path, catalog.Providers[i].Name)
		}
	}
	return catalog, nil
}

func (c Catalog) provider(name string) (Provider, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}

// HasProvider reports whether the catalog knows provider.
func (c Catalog) HasProvider(name string) bool {
	_, ok := c.provider(name)
	return ok
}

// Has reports whether model is offered by provider.
func (c Catalog) Has(provider, model string) bool {
	p, ok := c.provider(provider)
	if !ok {
		return false
	}
	for _, m := range p.Models {
		if m == model {
			return true
		}
	}
	return false
}

// DefaultModel returns the first model listed for provider.
func (c Catalog) DefaultModel(provider string) (string, bool) {
	p, ok := c.provider(provider)
	if !ok || len(p.Models) == 0 {
		return "", false
	}
	return p.Models[0], true
}

// Models returns provider name → model list.
func (c Catalog) Models() map[string][]string {
	out := make(map[string][]string, len(c.Providers))
	for _, p := range c.Providers {
		out[p.Name] = append([]string(nil), p.Models...)
	}
	return out
}
