// Package plugin is the provider registry. Inference providers and model
// runtimes register themselves from init() under a kind and a name; the
// inference layer resolves "provider/model" strings through it and the
// download-files command walks it for model downloaders.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

const (
	KindSTT  = "stt"
	KindLLM  = "llm"
	KindTTS  = "tts"
	KindVAD  = "vad"
	KindTurn = "turn"
)

// Factory creates a provider instance from configuration. The result is
// asserted to the kind's interface by the caller.
type Factory func(cfg map[string]any) (any, error)

// Downloader is implemented by plugins that need model files on disk.
type Downloader interface {
	Download(ctx context.Context) error
}

// Plugin represents a registered plugin with its metadata.
type Plugin struct {
	Kind        string
	Name        string
	Factory     Factory
	Description string
	Version     string
	Config      map[string]any // documented configuration keys and defaults
	Downloader  Downloader
}

// Registry manages plugin registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]map[string]*Plugin // [kind][name]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]map[string]*Plugin)}
}

var globalRegistry = NewRegistry()

// Default returns the process registry that init() registrations go to.
func Default() *Registry {
	return globalRegistry
}

// Register adds a plugin to the global registry. It panics on duplicates.
func Register(kind, name string, factory Factory) {
	globalRegistry.Register(kind, name, factory)
}

// RegisterWithMetadata adds a plugin to the global registry. It panics on duplicates.
func RegisterWithMetadata(p *Plugin) {
	globalRegistry.RegisterWithMetadata(p)
}

func Get(kind, name string) (Factory, bool) {
	return globalRegistry.Get(kind, name)
}

func List(kind string) []*Plugin {
	return globalRegistry.List(kind)
}

func ListKinds() []string {
	return globalRegistry.ListKinds()
}

// New builds a provider from the global registry and asserts it to T.
func New[T any](kind, name string, cfg map[string]any) (T, error) {
	return Build[T](globalRegistry, kind, name, cfg)
}

// Build builds a provider from r and asserts it to T.
func Build[T any](r *Registry, kind, name string, cfg map[string]any) (T, error) {
	var zero T

	factory, ok := r.Get(kind, name)
	if !ok {
		return zero, fmt.Errorf("no %s provider registered as %q", kind, name)
	}
	instance, err := factory(cfg)
	if err != nil {
		return zero, fmt.Errorf("create %s/%s: %w", kind, name, err)
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%s/%s returned %T", kind, name, instance)
	}
	return typed, nil
}

func (r *Registry) Register(kind, name string, factory Factory) {
	r.RegisterWithMetadata(&Plugin{Kind: kind, Name: name, Factory: factory})
}

func (r *Registry) RegisterWithMetadata(p *Plugin) {
	if p.Kind == "" {
		panic("plugin kind cannot be empty")
	}
	if p.Name == "" {
		panic("plugin name cannot be empty")
	}
	if p.Factory == nil {
		panic("plugin factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.plugins[p.Kind] == nil {
		r.plugins[p.Kind] = make(map[string]*Plugin)
	}
	if existing, exists := r.plugins[p.Kind][p.Name]; exists {
		panic(fmt.Sprintf("plugin %s/%s already registered (existing version: %s, new version: %s)",
			p.Kind, p.Name, existing.Version, p.Version))
	}
	r.plugins[p.Kind][p.Name] = p
}

func (r *Registry) Get(kind, name string) (Factory, bool) {
	p, ok := r.Lookup(kind, name)
	if !ok {
		return nil, false
	}
	return p.Factory, true
}

// Lookup returns the full plugin record.
func (r *Registry) Lookup(kind, name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[kind][name]
	return p, ok
}

// List returns the plugins of kind, or all plugins when kind is empty,
// sorted by kind then name.
func (r *Registry) List(kind string) []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var plugins []*Plugin
	for k, kindMap := range r.plugins {
		if kind != "" && k != kind {
			continue
		}
		for _, p := range kindMap {
			plugins = append(plugins, p)
		}
	}

	sort.Slice(plugins, func(i, j int) bool {
		if plugins[i].Kind != plugins[j].Kind {
			return plugins[i].Kind < plugins[j].Kind
		}
		return plugins[i].Name < plugins[j].Name
	})
	return plugins
}

func (r *Registry) ListKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.plugins))
	for kind := range r.plugins {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// DownloadAll runs every registered downloader in kind/name order and stops at the first failure.
func (r *Registry) DownloadAll(ctx context.Context) error {
	for _, p := range r.List("") {
		if p.Downloader == nil {
			continue
		}
		if err := p.Downloader.Download(ctx); err != nil {
			return fmt.Errorf("download %s/%s: %w", p.Kind, p.Name, err)
		}
	}
	return nil
}

// Clear removes all plugins. Used by tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]map[string]*Plugin)
}
