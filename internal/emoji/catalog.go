// Package emoji holds the reaction catalog. The catalog is parsed on first
// use only.
package emoji

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/lazy"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/syncerr"
)

//go:embed catalog.yaml
var embedded []byte

// Emoji is one catalog entry.
type Emoji struct {
	Code     string   `yaml:"code"`
	Glyph    string   `yaml:"glyph"`
	Category string   `yaml:"category"`
	Aliases  []string `yaml:"aliases"`
}

type catalogFile struct {
	Version int     `yaml:"version"`
	Emoji   []Emoji `yaml:"emoji"`
}

// Catalog indexes emoji by shortcode and alias.
type Catalog struct {
	entries []Emoji
	index   map[string]int
}

// Parse decodes a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse emoji catalog: %w", err)
	}

	c := &Catalog{index: make(map[string]int, len(file.Emoji))}
	for _, e := range file.Emoji {
		code := Normalize(e.Code)
		if code == "" || e.Glyph == "" {
			return nil, fmt.Errorf("emoji catalog: entry %q missing code or glyph", e.Code)
		}
		e.Code = code
		pos := len(c.entries)
		c.entries = append(c.entries, e)
		for _, name := range append([]string{code}, e.Aliases...) {
			name = Normalize(name)
			if _, dup := c.index[name]; dup {
				return nil, fmt.Errorf("emoji catalog: duplicate shortcode %q", name)
			}
			c.index[name] = pos
		}
	}
	return c, nil
}

// Normalize strips surrounding colons and folds case: ":Heart:" → "heart".
func Normalize(code string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(code), ":"))
}

// Lookup resolves a shortcode or alias.
func (c *Catalog) Lookup(code string) (Emoji, bool) {
	i, ok := c.index[Normalize(code)]
	if !ok {
		return Emoji{}, false
	}
	return c.entries[i], true
}

// Validate returns the canonical entry for code or a validation error.
func (c *Catalog) Validate(code string) (Emoji, error) {
	e, ok := c.Lookup(code)
	if !ok {
		return Emoji{}, syncerr.Validation("react", "unknown reaction %q", code)
	}
	return e, nil
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Categories lists the distinct categories, sorted.
func (c *Catalog) Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range c.entries {
		if _, ok := seen[e.Category]; ok {
			continue
		}
		seen[e.Category] = struct{}{}
		out = append(out, e.Category)
	}
	sort.Strings(out)
	return out
}

// NewLazy returns a handle that parses the built-in catalog on first use.
func NewLazy() *lazy.Value[*Catalog] {
	return lazy.New(func(context.Context) (*Catalog, error) {
		return Parse(embedded)
	})
}
