package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"

	"github.com/panelflow/panelflow/pkg/cache"
	"github.com/panelflow/panelflow/pkg/commands"
	"github.com/panelflow/panelflow/pkg/rbac"
	"github.com/panelflow/panelflow/pkg/registry"
	"github.com/panelflow/panelflow/pkg/schema"
	"github.com/panelflow/panelflow/pkg/stream"
	"github.com/panelflow/panelflow/pkg/trace"
)

// Router dispatches inbound messages for all connections. Control messages
// are handled here; messages carrying a commandId go to the command
// backend; everything else is rebroadcast to the hub unchanged.
//
// Handle runs on the connection's reader goroutine. Every branch that can
// block (executions, resumptions, command dispatch) is offloaded to a
// worker goroutine so the reader stays responsive.
type Router struct {
	library  *schema.Library
	registry *registry.Registry
	streamer *stream.Streamer
	runner   commands.Runner
	store    *commands.Store // nil when a custom Runner backs dispatch
	cache    cache.Cache
	checker  *rbac.Checker
	redact   *rbac.Redactor
	hub      *Hub
	tracer   *trace.Writer
	log      *log.Logger
}

// RouterDeps carries the collaborators a Router needs.
type RouterDeps struct {
	Library  *schema.Library
	Registry *registry.Registry
	Streamer *stream.Streamer
	Runner   commands.Runner
	Store    *commands.Store
	Cache    cache.Cache
	Checker  *rbac.Checker
	Redact   *rbac.Redactor
	Hub      *Hub
	Tracer   *trace.Writer
	Log      *log.Logger
}

// NewRouter wires a router from its dependencies.
func NewRouter(d RouterDeps) *Router {
	if d.Log == nil {
		d.Log = log.Default()
	}
	return &Router{
		library:  d.Library,
		registry: d.Registry,
		streamer: d.Streamer,
		runner:   d.Runner,
		store:    d.Store,
		cache:    d.Cache,
		checker:  d.Checker,
		redact:   d.Redact,
		hub:      d.Hub,
		tracer:   d.Tracer,
		log:      d.Log,
	}
}

// Handle routes one raw inbound frame. Except for rebroadcast and page
// unload, every decodable message produces exactly one response (or one
// terminal streaming message) carrying the request's correlationId.
func (r *Router) Handle(ctx context.Context, conn *Conn, raw []byte) {
	msg, err := decodeInbound(raw)
	if err != nil {
		// Not ours to interpret. Relay to the other connections and
		// stay silent toward the sender.
		r.log.Debug("rebroadcast undecodable frame", "conn", conn.ID(), "bytes", len(raw))
		r.hub.Broadcast(conn, raw)
		return
	}

	em := &requestEmitter{conn: conn, correlationID: msg.CorrelationID}

	switch msg.Kind() {
	case KindExecute:
		go r.startExecution(ctx, conn, em, msg)

	case KindFormSubmit:
		go r.resumeFromForm(ctx, conn, em, msg)

	case KindInputResponse:
		r.deliverInput(conn, em, msg)

	case KindPageUnload:
		// Idempotent teardown: absent entries are fine, and the client
		// is already navigating away so no response is sent.
		r.registry.Remove(conn.ID())

	case KindGetSchema:
		r.sendSchema(em)

	case KindListSections:
		r.listSections(em, msg)

	case KindListModels:
		r.listModels(em)

	case KindDescribeModel:
		r.describeModel(em, msg)

	case KindClearCache:
		go r.clearCache(ctx, conn, em)

	case KindCacheStats:
		go r.cacheStats(ctx, em)

	case KindSetCacheTTL:
		r.setCacheTTL(em, msg)

	default:
		if msg.CommandID != "" {
			go r.dispatchCommand(ctx, conn, em, msg)
			return
		}
		// Decodable but not addressed to the server: relay as-is.
		r.hub.Broadcast(conn, raw)
	}
}

// Teardown releases per-connection state when the transport closes.
func (r *Router) Teardown(conn *Conn) {
	r.registry.Remove(conn.ID())
	r.tracer.Emit(conn.ID(), trace.EventConnClose, nil)
}

// ─── streaming ───────────────────────────────────────────────────────────

func (r *Router) startExecution(ctx context.Context, conn *Conn, em *requestEmitter, msg *Inbound) {
	// blockName is the older spelling of the section reference.
	section := msg.SectionRef
	if section == "" {
		section = msg.BlockName
	}
	if section == "" {
		r.fail(em, conn, fmt.Errorf("execute: sectionRef is required"))
		return
	}

	doc, err := r.library.Resolve(msg.FolderRef, section)
	if err != nil {
		r.fail(em, conn, err)
		return
	}

	uc := conn.UserContext()
	seq, err := stream.NewSequence(doc, section, msg.Session, r.checker, uc)
	if err != nil {
		r.fail(em, conn, err)
		return
	}

	// A fresh execution supersedes whatever was suspended before.
	r.registry.Remove(conn.ID())
	r.tracer.EmitExecStart(conn.ID(), seq.Breadcrumb(), msg.CorrelationID)

	acts := &gateActions{em: em, conn: conn}
	state, err := r.streamer.Run(ctx, em, acts, conn.ID(), msg.CorrelationID, seq, uc)
	if err != nil {
		r.tracer.EmitTerminal(conn.ID(), "failed", seq.Breadcrumb(), err)
		r.fail(em, conn, err)
		return
	}
	r.tracer.EmitTerminal(conn.ID(), state.String(), seq.Breadcrumb(), nil)
}

func (r *Router) resumeFromForm(ctx context.Context, conn *Conn, em *requestEmitter, msg *Inbound) {
	cont, ok := r.registry.Take(conn.ID())
	if !ok {
		r.fail(em, conn, fmt.Errorf("form_submit: no suspended form on this connection"))
		return
	}

	if msg.BlockName != "" && msg.BlockName != cont.Gate.Key {
		// The submission targets a stale form. Keep the real one.
		r.registry.Put(conn.ID(), cont)
		r.fail(em, conn, fmt.Errorf("form_submit: block %q is not the pending form %q", msg.BlockName, cont.Gate.Key))
		return
	}

	for name, value := range msg.Data {
		cont.Seq.SetVar(name, value)
	}

	action := msg.OnSubmitAction
	if action == "" {
		action = cont.Gate.OnSubmit
	}
	modelRef := msg.ModelRef
	if modelRef == "" {
		modelRef = cont.Gate.ModelRef
	}
	if action != "" {
		cmd := commands.Command{ID: action, ModelRef: modelRef, Args: msg.Data}
		if _, err := r.runner.Execute(ctx, cmd, cont.User); err != nil {
			// The sequence has not advanced, so the form stays pending
			// and the submission can be retried.
			r.registry.Put(conn.ID(), cont)
			r.fail(em, conn, fmt.Errorf("form_submit: %s: %w", action, err))
			return
		}
	}

	r.tracer.Emit(conn.ID(), trace.EventFormSubmitted, map[string]any{
		"gate":   cont.Gate.Key,
		"action": action,
	})

	acts := &gateActions{em: em, conn: conn}
	state, err := r.streamer.Run(ctx, em, acts, conn.ID(), msg.CorrelationID, cont.Seq, cont.User)
	if err != nil {
		r.tracer.EmitTerminal(conn.ID(), "failed", cont.Seq.Breadcrumb(), err)
		r.fail(em, conn, err)
		return
	}
	r.tracer.EmitTerminal(conn.ID(), state.String(), cont.Seq.Breadcrumb(), nil)
}

func (r *Router) deliverInput(conn *Conn, em *requestEmitter, msg *Inbound) {
	cont, ok := r.registry.Peek(conn.ID())
	if !ok {
		r.fail(em, conn, fmt.Errorf("input_response: no suspended sequence on this connection"))
		return
	}
	if msg.Name == "" {
		r.fail(em, conn, fmt.Errorf("input_response: name is required"))
		return
	}
	cont.Seq.SetVar(msg.Name, msg.Value)
	r.ok(em, conn, Outbound{"accepted": msg.Name})
}

// ─── command dispatch ────────────────────────────────────────────────────

func (r *Router) dispatchCommand(ctx context.Context, conn *Conn, em *requestEmitter, msg *Inbound) {
	if err := r.checker.CheckCommand(msg.CommandID); err != nil {
		r.fail(em, conn, err)
		return
	}

	cmd := commands.Command{
		ID:            msg.CommandID,
		Action:        msg.Action,
		HorizontalRef: msg.HorizontalRef,
		Args:          msg.Args,
		ReadOnly:      msg.ReadOnly,
	}
	uc := conn.UserContext()

	// The canonical payload feeds the cache key; std-compatible encoding
	// keeps map keys sorted so equal commands hash equally.
	payload, err := sonic.ConfigStd.Marshal(cmd)
	if err != nil {
		r.fail(em, conn, err)
		return
	}

	cacheable := cache.Cacheable(msg.CommandID, msg.ReadOnly, msg.NoCache) && uc != nil
	key := cache.Key(payload, uc)

	if cacheable {
		if data, hit, err := r.cache.Get(ctx, key); err == nil && hit {
			r.tracer.Emit(conn.ID(), trace.EventCacheHit, map[string]any{"command": msg.CommandID})
			r.commandResult(em, conn, msg.CommandID, data, true)
			return
		}
	}

	res, err := r.runner.Execute(ctx, cmd, uc)
	if err != nil {
		r.fail(em, conn, fmt.Errorf("command %s: %w", msg.CommandID, err))
		return
	}

	data := res.Data
	if s, isString := data.(string); isString {
		data = r.redact.Apply(s)
	}

	if cacheable {
		ttl := time.Duration(0)
		if msg.CacheTTL > 0 {
			ttl = time.Duration(msg.CacheTTL) * time.Second
		}
		if err := r.cache.Put(ctx, key, data, ttl); err != nil {
			r.log.Warn("cache put failed", "command", msg.CommandID, "err", err)
		} else {
			r.tracer.Emit(conn.ID(), trace.EventCacheStore, map[string]any{"command": msg.CommandID})
		}
	}

	r.commandResult(em, conn, msg.CommandID, data, false)
}

func (r *Router) commandResult(em *requestEmitter, conn *Conn, commandID string, data any, fromCache bool) {
	ev := event("command_result", em.correlationID)
	ev["commandId"] = commandID
	ev["data"] = data
	ev["fromCache"] = fromCache
	if err := conn.Send(ev); err != nil {
		r.log.Warn("send command result", "conn", conn.ID(), "err", err)
	}
}

// ─── discovery and cache control ─────────────────────────────────────────

func (r *Router) sendSchema(em *requestEmitter) {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		r.fail(em, em.conn, err)
		return
	}
	ev := event("schema", em.correlationID)
	// sonic embeds a RawMessage verbatim; compact the indented schema so the
	// newline-delimited frame stays a single line, as encoding/json would.
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, data); err != nil {
		r.fail(em, em.conn, err)
		return
	}
	ev["schema"] = json.RawMessage(compacted.Bytes())
	if err := em.conn.Send(ev); err != nil {
		r.log.Warn("send schema", "conn", em.conn.ID(), "err", err)
	}
}

func (r *Router) listSections(em *requestEmitter, msg *Inbound) {
	if msg.FolderRef != "" {
		sections, err := r.library.Sections(msg.FolderRef)
		if err != nil {
			r.fail(em, em.conn, err)
			return
		}
		r.ok(em, em.conn, Outbound{"sections": sections})
		return
	}
	r.ok(em, em.conn, Outbound{"documents": r.library.List()})
}

func (r *Router) listModels(em *requestEmitter) {
	if r.store == nil {
		r.fail(em, em.conn, fmt.Errorf("list_models: model discovery is not available on this backend"))
		return
	}
	r.ok(em, em.conn, Outbound{"models": r.store.Models()})
}

func (r *Router) describeModel(em *requestEmitter, msg *Inbound) {
	if r.store == nil {
		r.fail(em, em.conn, fmt.Errorf("describe_model: model discovery is not available on this backend"))
		return
	}
	def, err := r.store.Describe(msg.Model)
	if err != nil {
		r.fail(em, em.conn, err)
		return
	}
	r.ok(em, em.conn, Outbound{"model": def})
}

func (r *Router) clearCache(ctx context.Context, conn *Conn, em *requestEmitter) {
	if err := r.cache.Clear(ctx); err != nil {
		r.fail(em, conn, err)
		return
	}
	r.tracer.Emit(conn.ID(), trace.EventCacheCleared, nil)
	r.ok(em, conn, Outbound{"cleared": true})
}

func (r *Router) cacheStats(ctx context.Context, em *requestEmitter) {
	stats, err := r.cache.Stats(ctx)
	if err != nil {
		r.fail(em, em.conn, err)
		return
	}
	r.ok(em, em.conn, Outbound{"stats": stats})
}

func (r *Router) setCacheTTL(em *requestEmitter, msg *Inbound) {
	if msg.TTLSeconds <= 0 {
		r.fail(em, em.conn, fmt.Errorf("set_cache_ttl: ttlSeconds must be positive"))
		return
	}
	r.cache.SetDefaultTTL(time.Duration(msg.TTLSeconds) * time.Second)
	r.ok(em, em.conn, Outbound{"ttlSeconds": msg.TTLSeconds})
}

// ─── helpers ─────────────────────────────────────────────────────────────

func (r *Router) ok(em *requestEmitter, conn *Conn, fields Outbound) {
	ev := event("result", em.correlationID)
	for k, v := range fields {
		ev[k] = v
	}
	if err := conn.Send(ev); err != nil {
		r.log.Warn("send result", "conn", conn.ID(), "err", err)
	}
}

func (r *Router) fail(em *requestEmitter, conn *Conn, err error) {
	r.log.Warn("request failed", "conn", conn.ID(), "err", err)
	if serr := em.Failure(err.Error()); serr != nil {
		r.log.Warn("send failure", "conn", conn.ID(), "err", serr)
	}
}
