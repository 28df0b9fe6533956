// Package catalog maps foreground process names to software categories.
package catalog

import (
	"fmt"
	"io"
	"sort"

	"github.com/malbeclabs/powerfeat/pkg/frame"
	"gopkg.in/yaml.v3"
)

// DefaultCategory is assigned to processes that are not in the catalog.
const DefaultCategory = "Other"

// File is the on-disk layout. Categories lists process names per category;
// Processes maps single names. JSON documents decode the same way.
type File struct {
	Default    string              `yaml:"default"`
	Categories map[string][]string `yaml:"categories"`
	Processes  map[string]string   `yaml:"processes"`
}

type Catalog struct {
	byName   map[string]string
	fallback string
}

// New builds a catalog from a process name to category mapping.
func New(mapping map[string]string) *Catalog {
	byName := make(map[string]string, len(mapping))
	for k, v := range mapping {
		byName[k] = v
	}
	return &Catalog{byName: byName, fallback: DefaultCategory}
}

// Load decodes a YAML or JSON catalog.
func Load(r io.Reader) (*Catalog, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	c := New(f.Processes)
	if f.Default != "" {
		c.fallback = f.Default
	}
	cats := make([]string, 0, len(f.Categories))
	for cat := range f.Categories {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		for _, name := range f.Categories[cat] {
			if prev, ok := c.byName[name]; ok && prev != cat {
				return nil, fmt.Errorf("process %q is listed under both %q and %q", name, prev, cat)
			}
			c.byName[name] = cat
		}
	}
	return c, nil
}

func (c *Catalog) Len() int {
	return len(c.byName)
}

// Lookup returns the category of a process, or the default category.
func (c *Catalog) Lookup(name string) string {
	if cat, ok := c.byName[name]; ok {
		return cat
	}
	return c.fallback
}

// Apply returns events with a target column holding the category of each source
// process name. Null names take the default category.
func (c *Catalog) Apply(events *frame.Frame, source, target string) (*frame.Frame, error) {
	names, err := events.ColumnOf(source, frame.KindString)
	if err != nil {
		return nil, err
	}
	cats := make([]string, len(names.Strings))
	for i, name := range names.Strings {
		if names.IsNull(i) {
			cats[i] = c.fallback
			continue
		}
		cats[i] = c.Lookup(name)
	}
	return events.With(frame.NewStringColumn(target, cats))
}
