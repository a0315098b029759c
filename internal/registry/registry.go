// Package registry is the single source of truth mapping analysis tool
// names to the worker class that executes them. The catalog is embedded
// data loaded once per process; availability can be flipped in place by
// liveness probes without reloading the table.
package registry

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/thoas/go-funk"
	"sigs.k8s.io/yaml"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalogFile struct {
	Tools []ToolDescriptor `json:"tools"`
}

// Registry holds the parsed tool catalog. Reads take a stable snapshot
// under RLock; mutation (availability flips) happens in place under the
// write lock.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*ToolDescriptor
	aliases map[string]string
}

var (
	instanceMu sync.Mutex
	instance   *Registry
)

// Default returns the process-wide registry, loading the embedded catalog
// on first access.
func Default() (*Registry, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		r, err := load(catalogYAML)
		if err != nil {
			return nil, err
		}
		instance = r
	}
	return instance, nil
}

// Reset drops the singleton so the next Default() reloads the catalog.
// Intended for tests.
func Reset() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = nil
}

func load(data []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing tool catalog: %w", err)
	}

	r := &Registry{
		tools:   make(map[string]*ToolDescriptor, len(file.Tools)),
		aliases: make(map[string]string),
	}

	for i := range file.Tools {
		tool := file.Tools[i]
		name := strings.ToLower(tool.Name)
		if !tool.WorkerClass.Valid() {
			return nil, fmt.Errorf("tool %q: unknown worker class %q", name, tool.WorkerClass)
		}
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("tool %q: duplicate canonical name", name)
		}
		tool.Name = name
		r.tools[name] = &tool

		for _, alias := range tool.Aliases {
			alias = strings.ToLower(alias)
			if existing, taken := r.aliases[alias]; taken {
				return nil, fmt.Errorf("alias %q maps to both %q and %q", alias, existing, name)
			}
			r.aliases[alias] = name
		}
	}

	// an alias shadowing a canonical name would make resolution ambiguous
	for alias := range r.aliases {
		if _, clash := r.tools[alias]; clash {
			return nil, fmt.Errorf("alias %q shadows a canonical tool name", alias)
		}
	}

	return r, nil
}

// Resolve maps a list of requested names to canonical tool names: it
// lowercases, applies the alias table, deduplicates preserving first-seen
// order, and silently drops names the catalog does not know.
func (r *Registry) Resolve(names []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolved := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := r.aliases[name]; ok {
			name = canonical
		}
		if _, known := r.tools[name]; !known {
			continue
		}
		resolved = append(resolved, name)
	}
	return funk.UniqString(resolved)
}

// Get returns the descriptor for a canonical name or alias.
func (r *Registry) Get(name string) (*ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name = strings.ToLower(name)
	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	tool, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	snapshot := *tool
	return &snapshot, true
}

// ByWorkerClass returns descriptors owned by the given class.
func (r *Registry) ByWorkerClass(class WorkerClass) []ToolDescriptor {
	return r.filter(func(d *ToolDescriptor) bool { return d.WorkerClass == class })
}

// ByTag returns descriptors carrying at least one of the given tags.
func (r *Registry) ByTag(tags ...string) []ToolDescriptor {
	return r.filter(func(d *ToolDescriptor) bool {
		for _, tag := range tags {
			if d.HasTag(tag) {
				return true
			}
		}
		return false
	})
}

// ByLanguage returns descriptors that can analyze the given language.
func (r *Registry) ByLanguage(lang string) []ToolDescriptor {
	lang = strings.ToLower(lang)
	return r.filter(func(d *ToolDescriptor) bool { return d.SupportsLanguage(lang) })
}

// Names returns every canonical tool name, sorted for deterministic output.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := funk.Keys(r.tools).([]string)
	return sortedStrings(names)
}

// SetAvailability flips the availability flag of one tool in place.
func (r *Registry) SetAvailability(name string, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = strings.ToLower(name)
	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	tool, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	tool.Available = available
	return nil
}

func (r *Registry) filter(keep func(*ToolDescriptor) bool) []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ToolDescriptor
	for _, name := range sortedStrings(funk.Keys(r.tools).([]string)) {
		if tool := r.tools[name]; keep(tool) {
			out = append(out, *tool)
		}
	}
	return out
}

func sortedStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
