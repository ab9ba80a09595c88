package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/panelflow/panelflow/pkg/session"
)

// FieldDef describes one field of a model.
type FieldDef struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"` // text, number, bool, choice
	Label    string `json:"label,omitempty" yaml:"label,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// ModelDef is the introspectable definition of a model.
type ModelDef struct {
	Name   string     `json:"name" yaml:"name"`
	Fields []FieldDef `json:"fields" yaml:"fields"`
}

// Record is one stored row of a model.
type Record map[string]any

// Store is the in-memory Runner implementation. It recognizes commands of
// the form <Verb><Model> where Verb is one of List, Get, Search, Create,
// Update, Delete.
type Store struct {
	mu      sync.RWMutex
	models  map[string]*ModelDef
	records map[string][]Record
	nextID  int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		models:  make(map[string]*ModelDef),
		records: make(map[string][]Record),
		nextID:  1,
	}
}

// Register adds a model definition. Existing records are kept.
func (s *Store) Register(def *ModelDef) {
	s.mu.Lock()
	s.models[def.Name] = def
	s.mu.Unlock()
}

// Insert adds a record, assigning an "id" when absent. Returns the id.
func (s *Store) Insert(model string, rec Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	if _, ok := rec["id"]; !ok {
		rec["id"] = id
	}
	s.records[model] = append(s.records[model], rec)
	return id
}

// Models returns the sorted names of registered models.
func (s *Store) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.models))
	for name := range s.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns a model's definition.
func (s *Store) Describe(name string) (*ModelDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.models[name]
	if !ok {
		return nil, fmt.Errorf("model %q not found", name)
	}
	return def, nil
}

// splitCommand extracts the verb and model from a command identifier.
func splitCommand(id string) (verb, model string, err error) {
	for _, v := range []string{"List", "Get", "Search", "Create", "Update", "Delete"} {
		if strings.HasPrefix(id, v) && len(id) > len(v) {
			return v, id[len(v):], nil
		}
	}
	return "", "", fmt.Errorf("unrecognized command %q", id)
}

// Execute runs a command against the store. The user context is accepted
// for interface compatibility; row-level filtering is the caller's concern.
func (s *Store) Execute(_ context.Context, cmd Command, _ *session.UserContext) (*Result, error) {
	verb, model, err := splitCommand(cmd.ID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.models[model]; !ok {
		return nil, fmt.Errorf("model %q not found", model)
	}

	switch verb {
	case "List":
		return &Result{Data: append([]Record(nil), s.records[model]...)}, nil

	case "Get":
		id, ok := cmd.Args["id"]
		if !ok {
			return nil, fmt.Errorf("%s requires an id argument", cmd.ID)
		}
		for _, rec := range s.records[model] {
			if fmt.Sprint(rec["id"]) == fmt.Sprint(id) {
				return &Result{Data: rec}, nil
			}
		}
		return nil, fmt.Errorf("%s %v not found", model, id)

	case "Search":
		var matches []Record
		for _, rec := range s.records[model] {
			if recordMatches(rec, cmd.Args) {
				matches = append(matches, rec)
			}
		}
		return &Result{Data: matches}, nil

	case "Create":
		rec := Record{}
		for k, v := range cmd.Args {
			rec[k] = v
		}
		id := s.nextID
		s.nextID++
		if _, ok := rec["id"]; !ok {
			rec["id"] = id
		}
		s.records[model] = append(s.records[model], rec)
		return &Result{Data: rec}, nil

	case "Update":
		id, ok := cmd.Args["id"]
		if !ok {
			return nil, fmt.Errorf("%s requires an id argument", cmd.ID)
		}
		for _, rec := range s.records[model] {
			if fmt.Sprint(rec["id"]) == fmt.Sprint(id) {
				for k, v := range cmd.Args {
					if k != "id" {
						rec[k] = v
					}
				}
				return &Result{Data: rec}, nil
			}
		}
		return nil, fmt.Errorf("%s %v not found", model, id)

	case "Delete":
		id, ok := cmd.Args["id"]
		if !ok {
			return nil, fmt.Errorf("%s requires an id argument", cmd.ID)
		}
		recs := s.records[model]
		for i, rec := range recs {
			if fmt.Sprint(rec["id"]) == fmt.Sprint(id) {
				s.records[model] = append(recs[:i:i], recs[i+1:]...)
				return &Result{Data: map[string]any{"deleted": id}}, nil
			}
		}
		return nil, fmt.Errorf("%s %v not found", model, id)
	}

	return nil, fmt.Errorf("unrecognized command %q", cmd.ID)
}

// recordMatches reports whether every search argument equals the record's
// field value (string comparison).
func recordMatches(rec Record, args map[string]any) bool {
	for k, v := range args {
		rv, ok := rec[k]
		if !ok || fmt.Sprint(rv) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}
