// Package schema defines the Go struct types for panel document YAML files
// and provides strict YAML parsing.
package schema

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MetaKeyPrefix marks section content keys that carry metadata rather than
// renderable content. Meta entries are included with every chunk so the
// client can render headers and navigation regardless of where in the
// section the stream currently is.
const MetaKeyPrefix = "@"

// BounceSuffix on a section name tells the client to navigate back when the
// section completes, instead of showing a completion notice.
const BounceSuffix = "^"

// Document is the top-level panel document. A document lives in a folder and
// contains named sections; each section is an ordered list of items that the
// server streams to the client one chunk at a time.
type Document struct {
	APIVersion string              `yaml:"apiVersion" json:"apiVersion" jsonschema:"required,enum=panel/v1"`
	Meta       Meta                `yaml:"meta"       json:"meta"       jsonschema:"required"`
	Sections   map[string]*Section `yaml:"sections"   json:"sections"   jsonschema:"required"`
}

// Meta contains document metadata and default variables.
type Meta struct {
	Name        string            `yaml:"name"                  json:"name" jsonschema:"required"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Folder      string            `yaml:"folder,omitempty"      json:"folder,omitempty"`
	Vars        map[string]string `yaml:"vars,omitempty"        json:"vars,omitempty"`
}

// Section is one streamable unit: ordered items plus metadata entries.
// Meta keys must begin with MetaKeyPrefix; they are not items and are never
// gates.
type Section struct {
	Meta  map[string]string `yaml:"meta,omitempty" json:"meta,omitempty"`
	Items []Item            `yaml:"items"          json:"items" jsonschema:"required"`
}

// Item is a single keyed entry within a section. Kind determines whether the
// item is plain content, a gate (form, link, logout, function), or a
// side-channel directive (dashboard).
type Item struct {
	Key   string   `yaml:"key"             json:"key"  jsonschema:"required"`
	Kind  string   `yaml:"kind"            json:"kind" jsonschema:"required,enum=markdown,enum=form,enum=link,enum=logout,enum=function,enum=dashboard"`
	When  string   `yaml:"when,omitempty"  json:"when,omitempty"`
	Roles []string `yaml:"roles,omitempty" json:"roles,omitempty"`

	// markdown
	Body string `yaml:"body,omitempty" json:"body,omitempty"`

	// form
	Fields   []FormField `yaml:"fields,omitempty"    json:"fields,omitempty"`
	OnSubmit string      `yaml:"on_submit,omitempty" json:"on_submit,omitempty"`
	ModelRef string      `yaml:"model,omitempty"     json:"model,omitempty"`

	// link
	Target string `yaml:"target,omitempty" json:"target,omitempty"`

	// function
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    map[string]string `yaml:"args,omitempty"    json:"args,omitempty"`

	// dashboard
	Panels []string `yaml:"panels,omitempty" json:"panels,omitempty"`
}

// FormField describes a single input field within a form item.
type FormField struct {
	Name        string   `yaml:"name"                  json:"name" jsonschema:"required"`
	Label       string   `yaml:"label,omitempty"       json:"label,omitempty"`
	FieldType   string   `yaml:"type,omitempty"        json:"type,omitempty" jsonschema:"enum=text,enum=number,enum=bool,enum=choice"`
	Required    bool     `yaml:"required,omitempty"    json:"required,omitempty"`
	Default     string   `yaml:"default,omitempty"     json:"default,omitempty"`
	Options     []string `yaml:"options,omitempty"     json:"options,omitempty"`
	Placeholder string   `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
}

// IsGate reports whether the item pauses the stream until a decision is made.
// Forms wait for a human; link, logout, and function gates may run unattended.
func (it *Item) IsGate() bool {
	switch it.Kind {
	case "form", "link", "logout", "function":
		return true
	}
	return false
}

// IsMetaKey reports whether a content key is a metadata entry.
func IsMetaKey(key string) bool {
	return strings.HasPrefix(key, MetaKeyPrefix)
}

// HasBounce reports whether a section identifier carries the bounce-back
// marker.
func HasBounce(sectionID string) bool {
	return strings.HasSuffix(sectionID, BounceSuffix)
}

// Load parses a document from a reader using strict YAML decoding.
// Unknown fields are rejected.
func Load(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &doc, nil
}

// LoadFile opens and parses a document file.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	doc, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if doc.Meta.Folder == "" {
		doc.Meta.Folder = filepath.Base(filepath.Dir(path))
	}
	return doc, nil
}

// Section returns the named section, stripping a bounce marker from the
// lookup name. The returned identifier keeps the marker so callers can
// detect it at completion time.
func (d *Document) Section(name string) (*Section, string, error) {
	lookup := strings.TrimSuffix(name, BounceSuffix)
	sec, ok := d.Sections[lookup]
	if !ok {
		return nil, "", fmt.Errorf("section %q not found in document %q", lookup, d.Meta.Name)
	}
	return sec, name, nil
}
