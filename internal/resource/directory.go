// Package resource implements the hotline directory collaborator: read-only
// lookup of support resources and emergency numbers by locale and category.
// Lookups never touch session state.
package resource

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	_ "embed"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/careline-ai/careline/pkg/types"
)

//go:embed directory.yaml
var defaultDirectory []byte

// DefaultLocale is assumed when a session carries no locale.
const DefaultLocale = "en-US"

// fallbackEmergency is used only if the directory file lacks a catch-all
// emergency pattern.
const fallbackEmergency = "911"

type directoryFile struct {
	Resources []types.Resource `yaml:"resources"`
	Emergency []struct {
		Pattern string `yaml:"pattern"`
		Number  string `yaml:"number"`
	} `yaml:"emergency"`
}

// Directory serves resource lookups. Safe for concurrent use; Reload swaps
// the data set atomically under callers' reads.
type Directory struct {
	mu   sync.RWMutex
	path string
	data directoryFile
}

// NewDirectory loads the embedded directory, or the file at cfg.Path when
// set. A configured file replaces the embedded data entirely.
func NewDirectory(cfg types.ResourcesConfig) (*Directory, error) {
	d := &Directory{path: cfg.Path}

	raw := defaultDirectory
	if d.path != "" {
		b, err := os.ReadFile(d.path)
		if err != nil {
			return nil, fmt.Errorf("read resource directory: %w", err)
		}
		raw = b
	}

	data, err := parseDirectory(raw)
	if err != nil {
		return nil, err
	}
	d.data = data
	return d, nil
}

func parseDirectory(raw []byte) (directoryFile, error) {
	var data directoryFile
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("parse resource directory: %w", err)
	}
	if len(data.Resources) == 0 {
		return data, fmt.Errorf("resource directory has no entries")
	}
	return data, nil
}

// Reload re-reads the configured file. On error the previous data set is
// kept. No-op when running on the embedded directory.
func (d *Directory) Reload() error {
	if d.path == "" {
		return nil
	}
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("read resource directory: %w", err)
	}
	data, err := parseDirectory(raw)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.data = data
	d.mu.Unlock()
	return nil
}

// Path returns the configured directory file, "" for embedded.
func (d *Directory) Path() string { return d.path }

// Count returns the number of resource entries.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.data.Resources)
}

// Categories returns the sorted set of categories present in the directory.
func (d *Directory) Categories() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	for _, r := range d.data.Resources {
		seen[r.Category] = true
	}
	cats := make([]string, 0, len(seen))
	for c := range seen {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// Lookup returns the resources serving a locale, optionally filtered by
// category. An unknown locale is served the default locale's resources, and
// a category with no matches falls back to crisis entries: a safety lookup
// never comes back empty. The emergency number always follows the caller's
// own region, not the fallback's.
func (d *Directory) Lookup(locale, category string) (*types.ResourceBundle, error) {
	requested := NormalizeLocale(locale)

	d.mu.RLock()
	defer d.mu.RUnlock()

	matched := d.forLocale(requested)
	if len(matched) == 0 {
		matched = d.forLocale(DefaultLocale)
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("no resources for locale %q", requested)
	}

	resources := matched
	if category != "" {
		filtered := filterCategory(matched, category)
		if len(filtered) == 0 {
			filtered = filterCategory(matched, "crisis")
			filtered = append(filtered, filterCategory(matched, "suicide")...)
		}
		if len(filtered) > 0 {
			resources = filtered
		}
	}

	return &types.ResourceBundle{
		Locale:          requested,
		Category:        category,
		Resources:       resources,
		EmergencyNumber: d.emergencyLocked(requested),
	}, nil
}

// EmergencyNumber returns the emergency number for a locale.
func (d *Directory) EmergencyNumber(locale string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.emergencyLocked(NormalizeLocale(locale))
}

func (d *Directory) emergencyLocked(locale string) string {
	for _, e := range d.data.Emergency {
		if matchLocale(e.Pattern, locale) {
			return e.Number
		}
	}
	return fallbackEmergency
}

func (d *Directory) forLocale(locale string) []types.Resource {
	var out []types.Resource
	for _, r := range d.data.Resources {
		if resourceServes(r, locale) {
			out = append(out, r)
		}
	}
	return out
}

func resourceServes(r types.Resource, locale string) bool {
	if len(r.Locales) == 0 {
		return true
	}
	for _, pattern := range r.Locales {
		if matchLocale(pattern, locale) {
			return true
		}
	}
	return false
}

func matchLocale(pattern, locale string) bool {
	ok, err := doublestar.Match(pattern, locale)
	return err == nil && ok
}

func filterCategory(resources []types.Resource, category string) []types.Resource {
	var out []types.Resource
	for _, r := range resources {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}

// NormalizeLocale canonicalizes a BCP-47-ish tag: lowercase language,
// uppercase region, "-" separator. Empty input yields the default locale.
func NormalizeLocale(locale string) string {
	locale = strings.TrimSpace(strings.ReplaceAll(locale, "_", "-"))
	if locale == "" {
		return DefaultLocale
	}
	parts := strings.SplitN(locale, "-", 2)
	lang := strings.ToLower(parts[0])
	if len(parts) == 1 {
		return lang
	}
	return lang + "-" + strings.ToUpper(parts[1])
}
