// Package fixture serves the case service contract from YAML files, for
// development, demos and tests.
package fixture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/casewizard/internal/status"
	"github.com/pitabwire/casewizard/model"
)

// Set is the content of a fixture directory. Every *.yaml or *.yml file in
// the directory may contribute procedures and cases.
type Set struct {
	Procedures []model.ProcedureSchema `yaml:"procedures"`
	Cases      []model.Case            `yaml:"cases"`
}

// LoadDir reads every fixture file in dir in lexical order and merges them.
// Duplicate procedure codes or case IDs, unknown statuses and cases bound to
// missing procedures are errors.
func LoadDir(dir string) (Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Set{}, fmt.Errorf("fixture: reading %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && isFixtureFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var set Set
	for _, name := range names {
		part, err := loadFile(filepath.Join(dir, name))
		if err != nil {
			return Set{}, err
		}
		set.Procedures = append(set.Procedures, part.Procedures...)
		set.Cases = append(set.Cases, part.Cases...)
	}

	if err := set.check(); err != nil {
		return Set{}, fmt.Errorf("fixture: %s: %w", dir, err)
	}
	return set, nil
}

func loadFile(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("fixture: reading %s: %w", path, err)
	}
	var part Set
	if err := yaml.Unmarshal(data, &part); err != nil {
		return Set{}, fmt.Errorf("fixture: parsing %s: %w", path, err)
	}
	for i := range part.Cases {
		c := &part.Cases[i]
		if c.Status == "" {
			c.Status = model.CaseDraft
		}
		for j := range c.Fields {
			c.Fields[j].Value = normalize(c.Fields[j].Value)
		}
	}
	return part, nil
}

func (s Set) check() error {
	var errs []error
	codes := make(map[string]bool, len(s.Procedures))
	for _, p := range s.Procedures {
		switch {
		case p.Code == "":
			errs = append(errs, errors.New("procedure with empty code"))
		case codes[p.Code]:
			errs = append(errs, fmt.Errorf("duplicate procedure %q", p.Code))
		}
		codes[p.Code] = true
	}

	ids := make(map[string]bool, len(s.Cases))
	for _, c := range s.Cases {
		switch {
		case c.ID == "":
			errs = append(errs, errors.New("case with empty id"))
		case ids[c.ID]:
			errs = append(errs, fmt.Errorf("duplicate case %q", c.ID))
		}
		ids[c.ID] = true

		if !status.Known(c.Status) {
			errs = append(errs, fmt.Errorf("case %q: unknown status %q", c.ID, c.Status))
		}
		if c.BoundProcedure != nil && !codes[c.BoundProcedure.Code] {
			errs = append(errs, fmt.Errorf("case %q: unknown procedure %q", c.ID, c.BoundProcedure.Code))
		}
	}
	return errors.Join(errs...)
}

func isFixtureFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// normalize maps YAML integers to float64 so fixture values look like values
// decoded from JSON.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	default:
		return v
	}
}
