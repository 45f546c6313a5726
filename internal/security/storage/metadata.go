package storage

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Metadata guarda los contadores de elección por índice de AT. Se crea vacía,
// se muta al cargar la cadena y se reescribe completa (best-effort).
type Metadata struct {
	ElectionCounters map[uint64]uint64 `yaml:"election_counters"`
}

// NewMetadata returns an empty metadata set.
func NewMetadata() *Metadata {
	return &Metadata{ElectionCounters: make(map[uint64]uint64)}
}

// Counter returns the election counter of index and whether it was known.
func (m *Metadata) Counter(index uint64) (uint64, bool) {
	c, ok := m.ElectionCounters[index]
	return c, ok
}

// SetCounter records the election counter of index.
func (m *Metadata) SetCounter(index, counter uint64) {
	if m.ElectionCounters == nil {
		m.ElectionCounters = make(map[uint64]uint64)
	}
	m.ElectionCounters[index] = counter
}

// Remove drops index.
func (m *Metadata) Remove(index uint64) { delete(m.ElectionCounters, index) }

// Indexes devuelve los índices ordenados.
func (m *Metadata) Indexes() []uint64 {
	out := make([]uint64, 0, len(m.ElectionCounters))
	for idx := range m.ElectionCounters {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	out := NewMetadata()
	for k, v := range m.ElectionCounters {
		out.ElectionCounters[k] = v
	}
	return out
}

func encodeMetadata(m *Metadata) ([]byte, error) {
	return yaml.Marshal(m)
}

func decodeMetadata(b []byte) (*Metadata, error) {
	m := NewMetadata()
	if err := yaml.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("storage: metadata: %w", err)
	}
	if m.ElectionCounters == nil {
		m.ElectionCounters = make(map[uint64]uint64)
	}
	return m, nil
}
