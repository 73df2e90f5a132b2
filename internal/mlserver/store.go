package mlserver

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrRecordNotFound is returned when store has no such machine
var ErrRecordNotFound = errors.New("record not found")

// Record represents served machine of a project revision
type Record struct {
	Project  string         `json:"project" bson:"project"`
	Revision string         `json:"revision" bson:"revision"`
	Name     string         `json:"name" bson:"name"`
	Metadata map[string]any `json:"metadata" bson:"metadata"` // machine configuration
	Model    []byte         `json:"model" bson:"model"`       // serialized model
	Anomaly  bool           `json:"anomaly" bson:"anomaly"`   // model supports anomaly predictions
}

func (r Record) validate() error {
	if r.Project == "" || r.Revision == "" || r.Name == "" {
		return errors.Errorf("record should have project, revision and name, got %q/%q/%q", r.Project, r.Revision, r.Name)
	}
	return nil
}

// Store keeps served machines
type Store interface {
	// Insert adds or replaces machine record
	Insert(rec Record) error
	// Revisions returns sorted revisions of the project, latest is the last one
	Revisions(project string) ([]string, error)
	// Machines returns machine records of project revision sorted by name
	Machines(project, revision string) ([]Record, error)
	// Machine returns single machine record or ErrRecordNotFound
	Machine(project, revision, name string) (*Record, error)
}

// MemoryStore keeps records in memory
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]map[string]Record // project -> revision -> name
}

// NewMemoryStore creates empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]map[string]Record)}
}

// Insert implements Store
func (m *MemoryStore) Insert(rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	revs, ok := m.records[rec.Project]
	if !ok {
		revs = make(map[string]map[string]Record)
		m.records[rec.Project] = revs
	}
	names, ok := revs[rec.Revision]
	if !ok {
		names = make(map[string]Record)
		revs[rec.Revision] = names
	}
	names[rec.Name] = rec
	return nil
}

// Revisions implements Store
func (m *MemoryStore) Revisions(project string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for rev := range m.records[project] {
		out = append(out, rev)
	}
	sort.Strings(out)
	return out, nil
}

// Machines implements Store
func (m *MemoryStore) Machines(project, revision string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, rec := range m.records[project][revision] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Machine implements Store
func (m *MemoryStore) Machine(project, revision, name string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[project][revision][name]
	if !ok {
		return nil, errors.Wrapf(ErrRecordNotFound, "machine %s of %s/%s", name, project, revision)
	}
	return &rec, nil
}
