package serve

import (
	"context"
	"io"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/panelflow/panelflow/pkg/session"
)

// Conn is one persistent client connection. All writes go through a single
// mutex so concurrent request goroutines never interleave frames. Reads
// happen on exactly one goroutine, owned by the transport loop.
type Conn struct {
	id string

	wmu  sync.Mutex
	send func([]byte) error

	amu  sync.Mutex
	auth *session.AuthState
}

// newConn wraps a transport-specific frame sender. The sender is called
// with one complete message per invocation and need not be safe for
// concurrent use.
func newConn(send func([]byte) error) *Conn {
	return &Conn{id: uuid.NewString(), send: send}
}

// newLineConn writes newline-delimited frames to a stream, as the stdio
// transport does.
func newLineConn(w io.Writer) *Conn {
	return newConn(func(data []byte) error {
		if _, err := w.Write(data); err != nil {
			return err
		}
		_, err := w.Write([]byte{'\n'})
		return err
	})
}

// ID returns the connection identifier used to key the continuation
// registry.
func (c *Conn) ID() string { return c.id }

// SetAuth installs the connection's authentication state.
func (c *Conn) SetAuth(a *session.AuthState) {
	c.amu.Lock()
	defer c.amu.Unlock()
	c.auth = a
}

// UserContext extracts the viewer context from the current auth state.
// Returns nil for an unauthenticated connection.
func (c *Conn) UserContext() *session.UserContext {
	c.amu.Lock()
	defer c.amu.Unlock()
	return session.Extract(c.auth)
}

// ClearAuth drops the connection's authentication, as a logout gate does.
func (c *Conn) ClearAuth() {
	c.amu.Lock()
	defer c.amu.Unlock()
	c.auth = nil
}

// Send marshals and writes one message frame.
func (c *Conn) Send(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw writes a pre-encoded frame. Used both for ordinary sends and for
// verbatim rebroadcast of unparsable payloads.
func (c *Conn) SendRaw(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.send(data)
}

// requestEmitter binds a connection and a correlation id into the outbound
// half of one request. It implements stream.Emitter.
type requestEmitter struct {
	conn          *Conn
	correlationID string
}

func (e *requestEmitter) RenderChunk(section string, num int, keys []string, content map[string]any, isGate bool) error {
	ev := event("render_chunk", e.correlationID)
	ev["chunkNum"] = num
	ev["keys"] = keys
	ev["data"] = content
	ev["isGate"] = isGate
	ev["blockName"] = section
	return e.conn.Send(ev)
}

func (e *requestEmitter) SideEvent(eventName string, payload map[string]any) error {
	ev := event(eventName, e.correlationID)
	for k, v := range payload {
		ev[k] = v
	}
	return e.conn.Send(ev)
}

func (e *requestEmitter) Denied(message string) error {
	ev := event("rbac_denied", e.correlationID)
	ev["message"] = message
	return e.conn.Send(ev)
}

func (e *requestEmitter) NavigateBack(reason string) error {
	ev := event("navigate_back", e.correlationID)
	ev["reason"] = reason
	return e.conn.Send(ev)
}

// Completed and Aborted are terminal notices; they carry a result field
// rather than an event type.
func (e *requestEmitter) Completed() error {
	return e.conn.Send(e.terminal("completed", ""))
}

func (e *requestEmitter) Aborted(reason string) error {
	return e.conn.Send(e.terminal("aborted", reason))
}

func (e *requestEmitter) terminal(result, reason string) Outbound {
	ev := Outbound{"result": result}
	if reason != "" {
		ev["reason"] = reason
	}
	if e.correlationID != "" {
		ev["correlationId"] = e.correlationID
	}
	return ev
}

// Failure reports a request-ending error. Not part of stream.Emitter: the
// router sends it so that every request yields exactly one terminal
// message.
func (e *requestEmitter) Failure(message string) error {
	ev := event("failure", e.correlationID)
	ev["error"] = message
	return e.conn.Send(ev)
}

// gateActions implements stream.GateActions for a connection.
type gateActions struct {
	em   *requestEmitter
	conn *Conn
}

func (g *gateActions) Navigate(_ context.Context, target string) error {
	ev := event("navigate", g.em.correlationID)
	ev["target"] = target
	return g.conn.Send(ev)
}

func (g *gateActions) Logout(_ context.Context) error {
	g.conn.ClearAuth()
	return g.conn.Send(event("logged_out", g.em.correlationID))
}
