package schema

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Library holds the loaded documents of a panel root directory, keyed by
// "folder/name". It is safe for concurrent use; the serve layer shares one
// Library across all connections.
type Library struct {
	mu   sync.RWMutex
	root string
	docs map[string]*Document
}

// NewLibrary creates an empty library rooted at dir.
func NewLibrary(root string) *Library {
	return &Library{root: root, docs: make(map[string]*Document)}
}

// LoadAll walks the root directory and loads every .yaml/.yml document.
// Invalid documents are skipped and reported; valid ones are kept.
func (l *Library) LoadAll() []error {
	var errs []error
	loaded := make(map[string]*Document)

	walkErr := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		doc, verrs := ValidateFile(path)
		if HasErrors(verrs) {
			errs = append(errs, fmt.Errorf("%s: %v", path, verrs[0]))
			return nil
		}
		loaded[l.keyFor(doc)] = doc
		return nil
	})
	if walkErr != nil {
		errs = append(errs, fmt.Errorf("walk %s: %w", l.root, walkErr))
	}

	l.mu.Lock()
	l.docs = loaded
	l.mu.Unlock()
	return errs
}

func (l *Library) keyFor(doc *Document) string {
	if doc.Meta.Folder != "" {
		return doc.Meta.Folder + "/" + doc.Meta.Name
	}
	return doc.Meta.Name
}

// Put registers a document directly. Used by tests and by embedded callers
// that construct documents in memory.
func (l *Library) Put(doc *Document) {
	l.mu.Lock()
	l.docs[l.keyFor(doc)] = doc
	l.mu.Unlock()
}

// Resolve finds the document containing a section. folderRef narrows the
// search to one folder; without it, the section name must be unambiguous
// across the whole library. The bounce marker on sectionRef is ignored for
// lookup.
func (l *Library) Resolve(folderRef, sectionRef string) (*Document, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	section := strings.TrimSuffix(sectionRef, BounceSuffix)

	var found *Document
	for _, doc := range l.docs {
		if folderRef != "" && doc.Meta.Folder != folderRef && l.keyFor(doc) != folderRef {
			continue
		}
		if _, ok := doc.Sections[section]; !ok {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("section reference %q is ambiguous; pass a folderRef", section)
		}
		found = doc
	}
	if found == nil {
		if folderRef != "" {
			return nil, fmt.Errorf("section %q not found in %q", section, folderRef)
		}
		return nil, fmt.Errorf("section %q not found", section)
	}
	return found, nil
}

// List returns the sorted keys of all loaded documents.
func (l *Library) List() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.docs))
	for k := range l.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sections returns the sorted section names of the document identified by
// ref, which may be a full "folder/name" key or a bare folder.
func (l *Library) Sections(ref string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var names []string
	matched := false
	for key, doc := range l.docs {
		if key != ref && doc.Meta.Folder != ref {
			continue
		}
		matched = true
		for name := range doc.Sections {
			names = append(names, name)
		}
	}
	if !matched {
		return nil, fmt.Errorf("document %q not found", ref)
	}
	sort.Strings(names)
	return names, nil
}
