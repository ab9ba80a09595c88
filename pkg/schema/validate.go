package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// ValidateFile performs the full validation pipeline on a document file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateFile(path string) (*Document, []*ValidationError) {
	doc, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return doc, Validate(doc)
}

// Validate runs the semantic and domain phases on an already-parsed document.
func Validate(doc *Document) []*ValidationError {
	var all []*ValidationError
	all = append(all, validateSemantic(doc)...)
	all = append(all, validateDomain(doc)...)
	return all
}

// validateSemantic validates the document against the generated JSON Schema.
func validateSemantic(doc *Document) []*ValidationError {
	data, err := json.Marshal(doc)
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("marshal for schema validation: %v", err),
			Severity: "error",
		}}
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("generate schema: %v", err),
			Severity: "error",
		}}
	}

	rawSchema, err := sjsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("unmarshal schema: %v", err),
			Severity: "error",
		}}
	}
	compiler := sjsonschema.NewCompiler()
	if err := compiler.AddResource("document.json", rawSchema); err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("add schema resource: %v", err),
			Severity: "error",
		}}
	}
	compiled, err := compiler.Compile("document.json")
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("compile schema: %v", err),
			Severity: "error",
		}}
	}

	inst, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("unmarshal instance: %v", err),
			Severity: "error",
		}}
	}
	if err := compiled.Validate(inst); err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return nil
}

// validateDomain applies rules the JSON Schema cannot express.
func validateDomain(doc *Document) []*ValidationError {
	var errs []*ValidationError

	if len(doc.Sections) == 0 {
		errs = append(errs, &ValidationError{
			Phase: "domain", Path: "sections",
			Message:  "document has no sections",
			Severity: "error",
		})
	}

	for name, sec := range doc.Sections {
		if HasBounce(name) {
			errs = append(errs, &ValidationError{
				Phase: "domain", Path: fmt.Sprintf("sections.%s", name),
				Message:  fmt.Sprintf("section name must not end with %q; the bounce marker belongs on the reference, not the definition", BounceSuffix),
				Severity: "error",
			})
		}

		for k := range sec.Meta {
			if !IsMetaKey(k) {
				errs = append(errs, &ValidationError{
					Phase: "domain", Path: fmt.Sprintf("sections.%s.meta.%s", name, k),
					Message:  fmt.Sprintf("meta keys must begin with %q", MetaKeyPrefix),
					Severity: "error",
				})
			}
		}

		seen := make(map[string]bool)
		for i, it := range sec.Items {
			path := fmt.Sprintf("sections.%s.items[%d]", name, i)
			if IsMetaKey(it.Key) {
				errs = append(errs, &ValidationError{
					Phase: "domain", Path: path,
					Message:  fmt.Sprintf("item key %q collides with the meta key prefix", it.Key),
					Severity: "error",
				})
			}
			if seen[it.Key] {
				errs = append(errs, &ValidationError{
					Phase: "domain", Path: path,
					Message:  fmt.Sprintf("duplicate item key %q", it.Key),
					Severity: "error",
				})
			}
			seen[it.Key] = true

			switch it.Kind {
			case "form":
				if len(it.Fields) == 0 {
					errs = append(errs, &ValidationError{
						Phase: "domain", Path: path,
						Message:  "form item has no fields",
						Severity: "error",
					})
				}
			case "link":
				if it.Target == "" {
					errs = append(errs, &ValidationError{
						Phase: "domain", Path: path,
						Message:  "link item has no target",
						Severity: "error",
					})
				}
			case "function":
				if it.Command == "" {
					errs = append(errs, &ValidationError{
						Phase: "domain", Path: path,
						Message:  "function item has no command",
						Severity: "error",
					})
				}
			case "markdown":
				if it.Body == "" {
					errs = append(errs, &ValidationError{
						Phase: "domain", Path: path,
						Message:  "markdown item has no body",
						Severity: "warning",
					})
				}
			}
		}
	}
	return errs
}

// HasErrors reports whether any non-warning validation error exists.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity != "warning" {
			return true
		}
	}
	return false
}
