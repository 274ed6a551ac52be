package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/kalam/pkg/provider/stt"
	"github.com/MrWong99/kalam/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when no factory exists for a provider
// name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[P any] func(ProviderEntry) (P, error)

// factorySet is the name-to-factory table for one provider kind.
type factorySet[P any] struct {
	kind string
	byName map[string]Factory[P]
}

func newFactorySet[P any](kind string) factorySet[P] {
	return factorySet[P]{kind: kind, byName: make(map[string]Factory[P])}
}

func (s factorySet[P]) create(entry ProviderEntry) (P, error) {
	f, ok := s.byName[entry.Name]
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, s.kind, entry.Name)
	}
	p, err := f(entry)
	if err != nil {
		return p, fmt.Errorf("config: %s provider %q: %w", s.kind, entry.Name, err)
	}
	return p, nil
}

// Registry maps provider names to factories for speech recognition and
// synthesis. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt factorySet[stt.Provider]
	tts factorySet[tts.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: newFactorySet[stt.Provider]("stt"),
		tts: newFactorySet[tts.Provider]("tts"),
	}
}

// RegisterSTT registers a recognizer factory under name, replacing any
// earlier one.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.byName[name] = f
}

// RegisterTTS registers a synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.byName[name] = f
}

// CreateSTT builds the recognizer named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateTTS builds the synthesizer named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// Names returns the sorted names registered for kind, "stt" or "tts".
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "stt":
		return slices.Sorted(maps.Keys(r.stt.byName))
	case "tts":
		return slices.Sorted(maps.Keys(r.tts.byName))
	}
	return nil
}
