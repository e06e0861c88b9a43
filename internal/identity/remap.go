package identity

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RemapEntry routes one sender to a fixed identity and, optionally, a fixed
// property.
type RemapEntry struct {
	Identifier string `yaml:"identifier"`
	Property   string `yaml:"property"`
}

// RemapTable is an immutable sender routing table keyed by normalized
// identifier. The zero value routes nothing.
type RemapTable struct {
	entries map[string]RemapEntry
}

// ParseRemapTable decodes a YAML (or JSON) mapping of raw identifier to
// RemapEntry. Keys and targets are normalized on load.
func ParseRemapTable(raw []byte) (RemapTable, error) {
	if strings.TrimSpace(string(raw)) == "" {
		return RemapTable{}, nil
	}
	var decoded map[string]RemapEntry
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		return RemapTable{}, fmt.Errorf("identity: decode remap table: %w", err)
	}

	entries := make(map[string]RemapEntry, len(decoded))
	for from, entry := range decoded {
		key := Normalize(from)
		if !Valid(key) {
			return RemapTable{}, fmt.Errorf("identity: remap key %q is not a valid identifier", from)
		}
		if strings.TrimSpace(entry.Identifier) != "" {
			entry.Identifier = Normalize(entry.Identifier)
			if !Valid(entry.Identifier) {
				return RemapTable{}, fmt.Errorf("identity: remap target for %q is not a valid identifier", from)
			}
		}
		entry.Property = strings.TrimSpace(entry.Property)
		entries[key] = entry
	}
	return RemapTable{entries: entries}, nil
}

// Apply returns the routed identifier and property hint for a normalized
// sender. Unrouted senders come back unchanged with an empty hint.
func (t RemapTable) Apply(normalized string) (identifier, propertyHint string) {
	entry, ok := t.entries[normalized]
	if !ok {
		return normalized, ""
	}
	identifier = normalized
	if entry.Identifier != "" {
		identifier = entry.Identifier
	}
	return identifier, entry.Property
}

func (t RemapTable) Len() int { return len(t.entries) }
