package datamarket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// RegistryEntry is one deployed contract.
type RegistryEntry struct {
	Name    string         `json:"name" yaml:"name"`
	Address common.Address `json:"address" yaml:"address"`
}

// Registry maps contract names to deployed addresses, preserving the order
// in which contracts were recorded.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]common.Address
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]common.Address)}
}

// Set records addr for name. Re-setting a name keeps its original position.
func (r *Registry) Set(name string, addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		r.order = append(r.order, name)
	}
	r.entries[name] = addr
}

// Get returns the address recorded for name.
func (r *Registry) Get(name string) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.entries[name]
	return addr, ok
}

// Len returns the number of recorded contracts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Entries returns the recorded contracts in insertion order.
func (r *Registry) Entries() []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegistryEntry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, RegistryEntry{Name: name, Address: r.entries[name]})
	}
	return out
}

// MarshalJSON encodes the registry as a flat {"Name": "0x..."} object in
// insertion order.
func (r *Registry) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range r.Entries() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(`"` + e.Address.Hex() + `"`)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat name to address object. Key order follows
// the document.
func (r *Registry) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("registry must be a JSON object")
	}

	fresh := NewRegistry()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var hex string
		if err := dec.Decode(&hex); err != nil {
			return fmt.Errorf("entry %s: %w", name, err)
		}
		if !common.IsHexAddress(hex) {
			return fmt.Errorf("entry %s: %q is not an address", name, hex)
		}
		fresh.Set(name, common.HexToAddress(hex))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = fresh.order
	r.entries = fresh.entries
	return nil
}

// Save writes the registry to path as indented JSON, replacing any existing
// file. The write goes to a temporary file first and is renamed into place.
func (r *Registry) Save(path string) error {
	compact, err := r.MarshalJSON()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryPersist, err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "    "); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryPersist, err)
	}
	out.WriteByte('\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: create dir: %v", ErrRegistryPersist, err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, out.Bytes(), 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: write temp file: %v", ErrRegistryPersist, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename temp file: %v", ErrRegistryPersist, err)
	}
	return nil
}

// LoadRegistry reads a registry previously written by Save.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := NewRegistry()
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return r, nil
}
