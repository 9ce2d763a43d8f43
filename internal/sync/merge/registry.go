package merge

import (
	"sort"
	"sync"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
)

// Mapper turns an incoming server record into the local representation.
// local is nil when the record does not exist locally yet.
type Mapper interface {
	Map(local, remote models.Record) (models.Record, error)
}

// Passthrough stores the server record verbatim.
type Passthrough struct{}

// Map implements Mapper.
func (Passthrough) Map(_, remote models.Record) (models.Record, error) {
	return remote.Clone(), nil
}

// FieldMapping copies only the listed fields from the server record onto
// the local object. id and updatedAt are always copied. Fields absent from
// the server record keep their local value.
type FieldMapping struct {
	Fields []string
}

// Map implements Mapper.
func (m FieldMapping) Map(local, remote models.Record) (models.Record, error) {
	out := local.Clone()

	copyField := func(name string) {
		if v, ok := remote[name]; ok {
			out[name] = v
		}
	}
	copyField(models.FieldID)
	copyField(models.FieldUpdatedAt)
	for _, f := range m.Fields {
		copyField(f)
	}
	return out, nil
}

// Registry holds one Mapper per entity type. Only registered types are
// synced; pulls skip unknown types and the queue rejects them.
type Registry struct {
	mu      sync.RWMutex
	mappers map[string]Mapper
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{mappers: make(map[string]Mapper)}
}

// Register adds or replaces the mapper for entityType. A nil mapper
// registers Passthrough.
func (r *Registry) Register(entityType string, m Mapper) {
	if m == nil {
		m = Passthrough{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappers[entityType] = m
}

// Lookup returns the mapper for entityType.
func (r *Registry) Lookup(entityType string) (Mapper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappers[entityType]
	return m, ok
}

// Supports reports whether entityType is registered.
func (r *Registry) Supports(entityType string) bool {
	_, ok := r.Lookup(entityType)
	return ok
}

// Types returns the registered entity types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.mappers))
	for t := range r.mappers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
