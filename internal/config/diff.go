package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	ProvidersChanged bool          // true if any backend entry or the fallback changed
	PersonasChanged  bool          // true if any persona definition changed
	PersonaChanges   []PersonaDiff // per-persona diffs
	LogLevelChanged  bool
	NewLogLevel      LogLevel
}

// PersonaDiff describes what changed for a single persona between two configs.
type PersonaDiff struct {
	Name              string
	PromptChanged     bool
	SamplingChanged   bool
	RoutingChanged    bool
	SchedulingChanged bool
	Added             bool
	Removed           bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Provider backends drive the selector's registry.
	if old.Providers.Fallback != new.Providers.Fallback {
		d.ProvidersChanged = true
	}
	if !reflect.DeepEqual(old.Providers.Backends, new.Providers.Backends) {
		d.ProvidersChanged = true
	}

	// Build persona lookup maps keyed by name.
	oldPersonas := make(map[string]*PersonaConfig, len(old.Personas))
	for i := range old.Personas {
		oldPersonas[old.Personas[i].Name] = &old.Personas[i]
	}
	newPersonas := make(map[string]*PersonaConfig, len(new.Personas))
	for i := range new.Personas {
		newPersonas[new.Personas[i].Name] = &new.Personas[i]
	}

	// Detect modified and removed personas.
	for name, oldP := range oldPersonas {
		newP, exists := newPersonas[name]
		if !exists {
			d.PersonaChanges = append(d.PersonaChanges, PersonaDiff{
				Name:    name,
				Removed: true,
			})
			d.PersonasChanged = true
			continue
		}
		pd := diffPersona(name, oldP, newP)
		if pd.PromptChanged || pd.SamplingChanged || pd.RoutingChanged || pd.SchedulingChanged {
			d.PersonaChanges = append(d.PersonaChanges, pd)
			d.PersonasChanged = true
		}
	}

	// Detect added personas.
	for name := range newPersonas {
		if _, exists := oldPersonas[name]; !exists {
			d.PersonaChanges = append(d.PersonaChanges, PersonaDiff{
				Name:  name,
				Added: true,
			})
			d.PersonasChanged = true
		}
	}

	return d
}

// diffPersona compares two persona configs with the same name.
func diffPersona(name string, old, new *PersonaConfig) PersonaDiff {
	pd := PersonaDiff{Name: name}

	if old.SystemPrompt != new.SystemPrompt || old.DisplayName != new.DisplayName || old.Memory != new.Memory {
		pd.PromptChanged = true
	}

	if old.Temperature != new.Temperature || old.AvgResponseLength != new.AvgResponseLength {
		pd.SamplingChanged = true
	}

	if old.Provider != new.Provider || old.Model != new.Model || !slices.Equal(old.Preference, new.Preference) {
		pd.RoutingChanged = true
	}

	if old.Weight != new.Weight || old.DelayMin != new.DelayMin || old.DelayMax != new.DelayMax {
		pd.SchedulingChanged = true
	}

	return pd
}
