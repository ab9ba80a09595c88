// Package stream implements the chunk streamer: it drives a section's
// execution sequence, emits render chunks to the transport, consults the
// gate resolver at gates, and suspends into the continuation registry when
// a gate needs a human decision.
package stream

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/expr-lang/expr"

	"github.com/panelflow/panelflow/pkg/rbac"
	"github.com/panelflow/panelflow/pkg/schema"
	"github.com/panelflow/panelflow/pkg/session"
)

// Chunk is one increment of output from a Sequence. Immutable once emitted.
type Chunk struct {
	// Num is the chunk number, strictly increasing within one logical
	// request (initial run plus all resumptions). Denial chunks carry no
	// number; they are excluded from ordinary content numbering.
	Num int
	// Keys are the content keys belonging to this step, in section order.
	Keys []string
	// IsGate marks a chunk that pauses the sequence until a decision.
	IsGate bool
	// Gate is the gate item when IsGate is set.
	Gate *schema.Item
	// Denial carries an access-control refusal instead of content.
	Denial *rbac.Denial
}

// Sequence is an explicit cursor over a section's ordered items. It is not
// restartable: once advanced it cannot rewind. A suspended Sequence lives
// inside a Continuation until the matching form submission arrives.
type Sequence struct {
	section   *schema.Section
	sectionID string // may carry the bounce marker
	crumb     string // folder/document/section, for diagnostics
	data      map[string]any
	checker   *rbac.Checker
	uc        *session.UserContext

	pos     int
	nextNum int
}

// NewSequence creates a fresh cursor positioned before the first item.
// The data context seeds template resolution: document vars first, then the
// request's session snapshot on top.
func NewSequence(doc *schema.Document, sectionID string, sessionVars map[string]any, checker *rbac.Checker, uc *session.UserContext) (*Sequence, error) {
	sec, id, err := doc.Section(sectionID)
	if err != nil {
		return nil, err
	}

	data := make(map[string]any, len(doc.Meta.Vars)+len(sessionVars))
	for k, v := range doc.Meta.Vars {
		data[k] = v
	}
	for k, v := range sessionVars {
		data[k] = v
	}

	return &Sequence{
		section:   sec,
		sectionID: id,
		crumb:     doc.Meta.Folder + "/" + doc.Meta.Name + "/" + strings.TrimSuffix(id, schema.BounceSuffix),
		data:      data,
		checker:   checker,
		uc:        uc,
		pos:       0,
		nextNum:   0,
	}, nil
}

// SectionID returns the section identifier, including any bounce marker.
func (q *Sequence) SectionID() string { return q.sectionID }

// Breadcrumb returns the folder/document/section path for diagnostics.
func (q *Sequence) Breadcrumb() string { return q.crumb }

// LastChunk returns the number of the most recently produced content chunk.
func (q *Sequence) LastChunk() int { return q.nextNum }

// SetVar injects a resolved variable into the data context. Used when a
// form submission or input response supplies values mid-sequence.
func (q *Sequence) SetVar(name string, value any) {
	q.data[name] = value
}

// Next advances the cursor and produces the next chunk, or nil when the
// sequence is exhausted. Consecutive non-gate items group into one chunk;
// a gate item closes its chunk with IsGate set. An item the viewer may not
// see yields a denial chunk on its own, after any accumulated content has
// been flushed.
func (q *Sequence) Next() (*Chunk, error) {
	var keys []string

	for q.pos < len(q.section.Items) {
		it := &q.section.Items[q.pos]

		if it.When != "" {
			visible, err := q.evalCondition(it.When)
			if err != nil {
				return nil, fmt.Errorf("item %q when: %w", it.Key, err)
			}
			if !visible {
				q.pos++
				continue
			}
		}

		if d := q.checker.CheckItem(it.Key, it.Roles, q.uc); d != nil {
			if len(keys) > 0 {
				// Flush accumulated content first; the denial is
				// revisited on the next advance.
				q.nextNum++
				return &Chunk{Num: q.nextNum, Keys: keys}, nil
			}
			q.pos++
			return &Chunk{Denial: d}, nil
		}

		q.pos++
		keys = append(keys, it.Key)
		if it.IsGate() {
			q.nextNum++
			return &Chunk{Num: q.nextNum, Keys: keys, IsGate: true, Gate: it}, nil
		}
	}

	if len(keys) > 0 {
		q.nextNum++
		return &Chunk{Num: q.nextNum, Keys: keys}, nil
	}
	return nil, nil
}

// SideEvent is a render-worthy side-channel event extracted from a chunk's
// content, e.g. a full-page dashboard directive. It is sent as a standalone
// message before its chunk and removed from the chunk's content.
type SideEvent struct {
	Event   string
	Payload map[string]any
}

// Render assembles the transmissible content for a chunk's keys: the
// section's meta entries plus the rendered content of every named key,
// with deferred variable references resolved against the data context.
// Side-channel items are extracted and their keys dropped from the result.
func (q *Sequence) Render(keys []string) (map[string]any, []string, []SideEvent, error) {
	content := make(map[string]any)
	for k, v := range q.section.Meta {
		resolved, err := q.resolveTemplate(v)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("meta %q: %w", k, err)
		}
		content[k] = resolved
	}

	var sides []SideEvent
	kept := make([]string, 0, len(keys))

	for _, key := range keys {
		if schema.IsMetaKey(key) {
			continue
		}
		it := q.itemByKey(key)
		if it == nil {
			return nil, nil, nil, fmt.Errorf("content key %q not found in section %q", key, q.sectionID)
		}

		if it.Kind == "dashboard" {
			sides = append(sides, SideEvent{
				Event:   "dashboard",
				Payload: map[string]any{"key": it.Key, "panels": it.Panels},
			})
			continue
		}

		rendered, err := q.renderItem(it)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("render %q: %w", key, err)
		}
		content[key] = rendered
		kept = append(kept, key)
	}

	return content, kept, sides, nil
}

func (q *Sequence) itemByKey(key string) *schema.Item {
	for i := range q.section.Items {
		if q.section.Items[i].Key == key {
			return &q.section.Items[i]
		}
	}
	return nil
}

// renderItem produces the client-facing payload of one item.
func (q *Sequence) renderItem(it *schema.Item) (map[string]any, error) {
	out := map[string]any{"kind": it.Kind}

	switch it.Kind {
	case "markdown":
		body, err := q.resolveTemplate(it.Body)
		if err != nil {
			return nil, err
		}
		out["body"] = body

	case "form":
		fields := make([]map[string]any, len(it.Fields))
		for i, f := range it.Fields {
			label, err := q.resolveTemplate(f.Label)
			if err != nil {
				return nil, err
			}
			fields[i] = map[string]any{
				"name":     f.Name,
				"label":    label,
				"type":     f.FieldType,
				"required": f.Required,
			}
			if f.Default != "" {
				def, err := q.resolveTemplate(f.Default)
				if err != nil {
					return nil, err
				}
				fields[i]["default"] = def
			}
			if len(f.Options) > 0 {
				fields[i]["options"] = f.Options
			}
			if f.Placeholder != "" {
				fields[i]["placeholder"] = f.Placeholder
			}
		}
		out["fields"] = fields
		if it.OnSubmit != "" {
			out["on_submit"] = it.OnSubmit
		}
		if it.ModelRef != "" {
			out["model"] = it.ModelRef
		}

	case "link":
		target, err := q.resolveTemplate(it.Target)
		if err != nil {
			return nil, err
		}
		out["target"] = target

	case "logout":
		// No payload beyond the kind.

	case "function":
		out["command"] = it.Command
		args, err := q.ResolveArgs(it.Args)
		if err != nil {
			return nil, err
		}
		if len(args) > 0 {
			out["args"] = args
		}

	default:
		return nil, fmt.Errorf("unknown item kind %q", it.Kind)
	}
	return out, nil
}

// ResolveArgs resolves template expressions in a gate action's arguments.
func (q *Sequence) ResolveArgs(args map[string]string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	resolved := make(map[string]any, len(args))
	for k, v := range args {
		r, err := q.resolveTemplate(v)
		if err != nil {
			return nil, fmt.Errorf("arg %q: %w", k, err)
		}
		resolved[k] = r
	}
	return resolved, nil
}

// ResolveTarget resolves a link gate's navigation target.
func (q *Sequence) ResolveTarget(target string) (string, error) {
	return q.resolveTemplate(target)
}

// sequenceFuncMap provides template functions available in item bodies.
var sequenceFuncMap = template.FuncMap{
	"hasPrefix":  strings.HasPrefix,
	"hasSuffix":  strings.HasSuffix,
	"contains":   strings.Contains,
	"lower":      strings.ToLower,
	"upper":      strings.ToUpper,
	"join":       strings.Join,
	"split":      strings.Split,
	"replace":    strings.ReplaceAll,
	"trimPrefix": strings.TrimPrefix,
	"trimSuffix": strings.TrimSuffix,
}

// resolveTemplate resolves Go template expressions against the data context.
func (q *Sequence) resolveTemplate(tmplStr string) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}
	tmpl, err := template.New("resolve").Funcs(sequenceFuncMap).Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, q.data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

// evalCondition evaluates a visibility condition with expr-lang. For
// backwards compatibility, expressions containing {{ }} fall back to Go
// templates where a non-empty, non-"false" result counts as true.
func (q *Sequence) evalCondition(exprStr string) (bool, error) {
	exprStr = strings.TrimSpace(exprStr)
	if exprStr == "" {
		return true, nil
	}

	if strings.Contains(exprStr, "{{") {
		val, err := q.resolveTemplate(exprStr)
		if err != nil {
			return false, err
		}
		val = strings.TrimSpace(val)
		return val != "" && val != "false" && val != "0" && val != "<no value>", nil
	}

	program, err := expr.Compile(exprStr, expr.Env(q.data), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", exprStr, err)
	}
	output, err := expr.Run(program, q.data)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", exprStr, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T)", exprStr, output)
	}
	return result, nil
}
