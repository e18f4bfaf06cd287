// Package routing maps document types to the routing domains that decide
// which organizations may verify them.
package routing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/and161185/docvault/internal/model"
)

// DefaultDomain is assigned to document types with no routing entry.
const DefaultDomain = "general"

// Table is an immutable type -> domains map. Lookups are case-insensitive.
type Table struct {
	routes map[string][]string
}

type fileFormat struct {
	Routes []struct {
		Type    string   `yaml:"type"`
		Domains []string `yaml:"domains"`
	} `yaml:"routes"`
}

// Default returns the built-in routing table.
func Default() *Table {
	return mustTable(map[string][]string{
		"Birth Certificate":          {"civil-registry"},
		"Death Certificate":          {"civil-registry"},
		"Marriage Certificate":       {"civil-registry"},
		"National ID":                {"civil-registry", "identity"},
		"Passport":                   {"identity", "immigration"},
		"Driving License":            {"transport"},
		"Degree Certificate":         {"education"},
		"School Leaving Certificate": {"education"},
		"Transcript":                 {"education"},
		"Medical Record":             {"health"},
		"Vaccination Record":         {"health"},
		"Land Title":                 {"land"},
		"Tax Clearance":              {"revenue"},
	})
}

func mustTable(m map[string][]string) *Table {
	t, err := New(m)
	if err != nil {
		panic(err)
	}
	return t
}

// New builds a table, normalizing keys and domains.
func New(m map[string][]string) (*Table, error) {
	t := &Table{routes: make(map[string][]string, len(m))}
	for typ, domains := range m {
		key := normalizeType(typ)
		if key == "" {
			return nil, fmt.Errorf("routing: empty document type")
		}
		ds := model.NormalizeTags(domains)
		if len(ds) == 0 {
			return nil, fmt.Errorf("routing: type %q has no domains", typ)
		}
		t.routes[key] = append(t.routes[key], ds...)
		t.routes[key] = model.NormalizeTags(t.routes[key])
	}
	return t, nil
}

// Load reads a YAML routing file:
//
//	routes:
//	  - type: Birth Certificate
//	    domains: [civil-registry]
func Load(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes YAML routing content.
func Parse(b []byte) (*Table, error) {
	var f fileFormat
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}
	m := make(map[string][]string, len(f.Routes))
	for _, r := range f.Routes {
		m[r.Type] = append(m[r.Type], r.Domains...)
	}
	return New(m)
}

// Domains returns the routing domains for a document type. Unknown types
// route to DefaultDomain.
func (t *Table) Domains(docType string) []string {
	ds, ok := t.routes[normalizeType(docType)]
	if !ok {
		return []string{DefaultDomain}
	}
	return append([]string(nil), ds...)
}

// Known reports whether the type has an explicit routing entry.
func (t *Table) Known(docType string) bool {
	_, ok := t.routes[normalizeType(docType)]
	return ok
}

// Types lists known document types in normalized form.
func (t *Table) Types() []string {
	out := make([]string, 0, len(t.routes))
	for k := range t.routes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalizeType(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
