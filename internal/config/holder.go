package config

import (
	"fmt"
	"sync"
)

// Holder owns the live configuration and swaps it atomically on Reload.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewHolder wraps an already loaded config and the YAML path it came from.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// Get returns the current configuration. Callers must not mutate it.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Reload re-reads the YAML file and environment and returns the roster
// entries whose names were absent from the previous roster. Entries that
// changed or disappeared are not reported; the roster only grows at runtime.
// On any error the previous configuration stays in place.
func (h *Holder) Reload() ([]RosterEntry, error) {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return nil, fmt.Errorf("reload %s: %w", h.path, err)
	}
	h.mu.Lock()
	prev := h.cfg
	h.cfg = cfg
	h.mu.Unlock()
	return addedEntries(prev.Roster, cfg.Roster), nil
}

func addedEntries(prev, next []RosterEntry) []RosterEntry {
	seen := make(map[string]bool, len(prev))
	for _, e := range prev {
		seen[e.Name] = true
	}
	var added []RosterEntry
	for _, e := range next {
		if !seen[e.Name] {
			added = append(added, e)
		}
	}
	return added
}
