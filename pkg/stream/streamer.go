package stream

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/panelflow/panelflow/pkg/schema"
	"github.com/panelflow/panelflow/pkg/session"
	"github.com/panelflow/panelflow/pkg/trace"
)

// State is the streamer's terminal (or suspended) condition for one run.
type State int

const (
	Running State = iota
	PausedAtGate
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case PausedAtGate:
		return "paused_at_gate"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Emitter is the outbound half of a request: the transport layer implements
// it per connection and correlates every message to the originating request.
type Emitter interface {
	RenderChunk(section string, num int, keys []string, content map[string]any, isGate bool) error
	SideEvent(event string, payload map[string]any) error
	Denied(message string) error
	NavigateBack(reason string) error
	Completed() error
	Aborted(reason string) error
}

// Continuation is a suspended sequence waiting for a form submission. At
// most one exists per connection; storing a new one replaces the old.
type Continuation struct {
	Seq           *Sequence
	Gate          *schema.Item
	CorrelationID string
	User          *session.UserContext
}

// ContinuationStore is what the streamer needs from the registry.
type ContinuationStore interface {
	Put(connID string, c *Continuation)
	Remove(connID string)
}

// Streamer drives sequences to a terminal state, suspending at form gates.
type Streamer struct {
	gates  *GateResolver
	store  ContinuationStore
	tracer *trace.Writer
	log    *log.Logger
}

// NewStreamer builds a streamer over a gate resolver and a continuation
// store. tracer may be nil; chunks, gate decisions, and denials are then
// not audited.
func NewStreamer(gates *GateResolver, store ContinuationStore, tracer *trace.Writer, logger *log.Logger) *Streamer {
	if logger == nil {
		logger = log.Default()
	}
	return &Streamer{gates: gates, store: store, tracer: tracer, log: logger}
}

// Run advances a sequence until it pauses, completes, or aborts. Shutdown
// is observed between chunks only: a chunk already being assembled is
// finished and sent before the abort notice. On an execution error the
// returned state is Running and the transport reports the failure; the
// registry is not modified.
//
// Run serves both the initial execution and every resumption: the caller
// passes either a fresh sequence or one recovered from a continuation.
func (s *Streamer) Run(ctx context.Context, em Emitter, acts GateActions, connID, correlationID string, seq *Sequence, uc *session.UserContext) (State, error) {
	for {
		select {
		case <-ctx.Done():
			s.log.Info("stream aborted", "conn", connID, "section", seq.Breadcrumb())
			if err := em.Aborted("shutdown"); err != nil {
				return Aborted, err
			}
			return Aborted, nil
		default:
		}

		chunk, err := seq.Next()
		if err != nil {
			return Running, err
		}

		if chunk == nil {
			s.store.Remove(connID)
			if schema.HasBounce(seq.SectionID()) {
				s.log.Debug("stream bounce", "conn", connID, "section", seq.Breadcrumb())
				if err := em.NavigateBack("section completed"); err != nil {
					return Completed, err
				}
				return Completed, nil
			}
			s.log.Debug("stream completed", "conn", connID, "section", seq.Breadcrumb())
			if err := em.Completed(); err != nil {
				return Completed, err
			}
			return Completed, nil
		}

		if chunk.Denial != nil {
			// Denials go out as a pair: the refusal itself, then a
			// navigate-back telling the client to step away from the
			// withheld content. The stream itself keeps going.
			if err := em.Denied(chunk.Denial.Message); err != nil {
				return Running, err
			}
			if err := em.NavigateBack("access denied"); err != nil {
				return Running, err
			}
			s.tracer.Emit(connID, trace.EventAccessDenied, map[string]any{"item": chunk.Denial.ItemKey})
			continue
		}

		content, keys, sides, err := seq.Render(chunk.Keys)
		if err != nil {
			return Running, err
		}
		for _, se := range sides {
			if err := em.SideEvent(se.Event, se.Payload); err != nil {
				return Running, err
			}
		}
		if err := em.RenderChunk(seq.SectionID(), chunk.Num, keys, content, chunk.IsGate); err != nil {
			return Running, err
		}
		s.tracer.EmitChunk(connID, chunk.Num, keys, chunk.IsGate)

		if !chunk.IsGate {
			continue
		}

		outcome, gateErr := s.gates.Resolve(ctx, chunk.Gate, seq, acts, uc)
		switch outcome {
		case GateResumed:
			s.tracer.Emit(connID, trace.EventGateExecuted, map[string]any{
				"gate": chunk.Gate.Key,
				"kind": chunk.Gate.Kind,
			})
			continue
		case GatePause:
			s.store.Put(connID, &Continuation{
				Seq:           seq,
				Gate:          chunk.Gate,
				CorrelationID: correlationID,
				User:          uc,
			})
			s.log.Debug("stream paused at gate", "conn", connID, "gate", chunk.Gate.Key)
			return PausedAtGate, nil
		default:
			return Running, gateErr
		}
	}
}
