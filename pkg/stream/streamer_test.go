package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/panelflow/panelflow/pkg/commands"
	"github.com/panelflow/panelflow/pkg/rbac"
	"github.com/panelflow/panelflow/pkg/session"
	"github.com/panelflow/panelflow/pkg/trace"
)

// ─── fakes ───────────────────────────────────────────────────────────────

type sentEvent struct {
	kind    string
	section string
	num     int
	keys    []string
	isGate  bool
	payload map[string]any
	text    string
}

type fakeEmitter struct {
	events []sentEvent
}

func (f *fakeEmitter) RenderChunk(section string, num int, keys []string, content map[string]any, isGate bool) error {
	f.events = append(f.events, sentEvent{kind: "render_chunk", section: section, num: num, keys: keys, isGate: isGate, payload: content})
	return nil
}
func (f *fakeEmitter) SideEvent(event string, payload map[string]any) error {
	f.events = append(f.events, sentEvent{kind: event, payload: payload})
	return nil
}
func (f *fakeEmitter) Denied(message string) error {
	f.events = append(f.events, sentEvent{kind: "rbac_denied", text: message})
	return nil
}
func (f *fakeEmitter) NavigateBack(reason string) error {
	f.events = append(f.events, sentEvent{kind: "navigate_back", text: reason})
	return nil
}
func (f *fakeEmitter) Completed() error {
	f.events = append(f.events, sentEvent{kind: "completed"})
	return nil
}
func (f *fakeEmitter) Aborted(reason string) error {
	f.events = append(f.events, sentEvent{kind: "aborted", text: reason})
	return nil
}

func (f *fakeEmitter) kinds() []string {
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.kind
	}
	return out
}

type fakeStore struct {
	entries map[string]*Continuation
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*Continuation)}
}
func (f *fakeStore) Put(connID string, c *Continuation) { f.entries[connID] = c }
func (f *fakeStore) Remove(connID string)               { delete(f.entries, connID) }

type fakeActions struct {
	navigated []string
	logouts   int
	fail      bool
}

func (f *fakeActions) Navigate(_ context.Context, target string) error {
	if f.fail {
		return errors.New("navigation refused")
	}
	f.navigated = append(f.navigated, target)
	return nil
}
func (f *fakeActions) Logout(context.Context) error {
	f.logouts++
	return nil
}

type fakeRunner struct {
	calls []commands.Command
	fail  bool
	data  any
}

func (f *fakeRunner) Execute(_ context.Context, cmd commands.Command, _ *session.UserContext) (*commands.Result, error) {
	f.calls = append(f.calls, cmd)
	if f.fail {
		return nil, fmt.Errorf("command %s exploded", cmd.ID)
	}
	return &commands.Result{Data: f.data}, nil
}

func newTestStreamer(store ContinuationStore, runner commands.Runner) *Streamer {
	if runner == nil {
		runner = &fakeRunner{}
	}
	return NewStreamer(NewGateResolver(runner, nil), store, nil, nil)
}

// ─── full runs ───────────────────────────────────────────────────────────

func TestStreamer_PausesAtFormAndResumes(t *testing.T) {
	doc := loadDoc(t, sectionDoc)
	seq := newTestSequence(t, doc, "rollout", nil)
	store := newFakeStore()
	s := newTestStreamer(store, nil)
	em := &fakeEmitter{}

	state, err := s.Run(context.Background(), em, &fakeActions{}, "conn-1", "corr-1", seq, nil)
	if err != nil {
		t.Fatal(err)
	}
	if state != PausedAtGate {
		t.Fatalf("state = %v", state)
	}

	cont := store.entries["conn-1"]
	if cont == nil {
		t.Fatal("continuation not stored")
	}
	if cont.Gate.Key != "confirm" || cont.CorrelationID != "corr-1" {
		t.Errorf("continuation = %+v", cont)
	}
	if len(em.events) != 1 || em.events[0].kind != "render_chunk" || !em.events[0].isGate {
		t.Fatalf("events = %v", em.kinds())
	}
	if em.events[0].num != 1 {
		t.Errorf("chunk num = %d", em.events[0].num)
	}
	if em.events[0].section != "rollout" {
		t.Errorf("chunk section = %q, every chunk must name its section", em.events[0].section)
	}

	// Resume with the stored sequence; chunk numbering continues.
	em2 := &fakeEmitter{}
	state, err = s.Run(context.Background(), em2, &fakeActions{}, "conn-1", "corr-2", cont.Seq, nil)
	if err != nil {
		t.Fatal(err)
	}
	if state != Completed {
		t.Fatalf("state = %v", state)
	}
	if len(em2.events) != 2 {
		t.Fatalf("events = %v", em2.kinds())
	}
	if em2.events[0].num != 2 {
		t.Errorf("resumed chunk num = %d, numbering must continue", em2.events[0].num)
	}
	if em2.events[1].kind != "completed" {
		t.Errorf("terminal = %q", em2.events[1].kind)
	}
	if _, still := store.entries["conn-1"]; still {
		t.Error("continuation must be removed on completion")
	}
}

func TestStreamer_BounceSectionNavigatesBack(t *testing.T) {
	doc := loadDoc(t, `
apiVersion: panel/v1
meta:
  name: d
sections:
  quick:
    items:
      - key: a
        kind: markdown
        body: x
`)
	seq := newTestSequence(t, doc, "quick^", nil)
	s := newTestStreamer(newFakeStore(), nil)
	em := &fakeEmitter{}

	state, err := s.Run(context.Background(), em, &fakeActions{}, "c", "", seq, nil)
	if err != nil {
		t.Fatal(err)
	}
	if state != Completed {
		t.Fatalf("state = %v", state)
	}
	last := em.events[len(em.events)-1]
	if last.kind != "navigate_back" {
		t.Errorf("terminal = %q, want navigate_back for bounce sections", last.kind)
	}
}

func TestStreamer_FunctionGateAutoExecutes(t *testing.T) {
	doc := loadDoc(t, `
apiVersion: panel/v1
meta:
  name: d
  vars:
    env: prod
sections:
  s:
    items:
      - key: fetch
        kind: function
        command: ListTicket
        args:
          env: "{{.env}}"
      - key: after
        kind: markdown
        body: done
`)
	seq := newTestSequence(t, doc, "s", nil)
	runner := &fakeRunner{data: []string{"t1"}}
	store := newFakeStore()
	s := newTestStreamer(store, runner)
	em := &fakeEmitter{}

	state, err := s.Run(context.Background(), em, &fakeActions{}, "c", "", seq, nil)
	if err != nil {
		t.Fatal(err)
	}
	if state != Completed {
		t.Fatalf("state = %v", state)
	}
	if len(runner.calls) != 1 || runner.calls[0].ID != "ListTicket" {
		t.Fatalf("runner calls = %v", runner.calls)
	}
	if runner.calls[0].Args["env"] != "prod" {
		t.Errorf("args = %v, template not resolved", runner.calls[0].Args)
	}
	if len(store.entries) != 0 {
		t.Error("unattended gates must not store continuations")
	}
	// Two chunks: the gate chunk and the trailing content.
	if got := em.kinds(); len(got) != 3 || got[2] != "completed" {
		t.Errorf("events = %v", got)
	}
}

func TestStreamer_LinkGateNavigates(t *testing.T) {
	doc := loadDoc(t, `
apiVersion: panel/v1
meta:
  name: d
sections:
  s:
    items:
      - key: jump
        kind: link
        target: "other-section"
`)
	seq := newTestSequence(t, doc, "s", nil)
	acts := &fakeActions{}
	s := newTestStreamer(newFakeStore(), nil)

	state, err := s.Run(context.Background(), &fakeEmitter{}, acts, "c", "", seq, nil)
	if err != nil {
		t.Fatal(err)
	}
	if state != Completed {
		t.Fatalf("state = %v", state)
	}
	if len(acts.navigated) != 1 || acts.navigated[0] != "other-section" {
		t.Errorf("navigated = %v", acts.navigated)
	}
}

func TestStreamer_LogoutGateClearsAuth(t *testing.T) {
	doc := loadDoc(t, `
apiVersion: panel/v1
meta:
  name: d
sections:
  s:
    items:
      - key: bye
        kind: logout
`)
	seq := newTestSequence(t, doc, "s", nil)
	acts := &fakeActions{}
	s := newTestStreamer(newFakeStore(), nil)

	if _, err := s.Run(context.Background(), &fakeEmitter{}, acts, "c", "", seq, nil); err != nil {
		t.Fatal(err)
	}
	if acts.logouts != 1 {
		t.Errorf("logouts = %d", acts.logouts)
	}
}

// ─── failure semantics ───────────────────────────────────────────────────

func TestStreamer_FailedAutoGateFailsRequest(t *testing.T) {
	doc := loadDoc(t, `
apiVersion: panel/v1
meta:
  name: d
sections:
  s:
    items:
      - key: fetch
        kind: function
        command: ListTicket
      - key: after
        kind: markdown
        body: never reached
`)
	seq := newTestSequence(t, doc, "s", nil)
	store := newFakeStore()
	s := newTestStreamer(store, &fakeRunner{fail: true})
	em := &fakeEmitter{}

	_, err := s.Run(context.Background(), em, &fakeActions{}, "c", "", seq, nil)
	if err == nil {
		t.Fatal("expected gate failure to surface as an error")
	}
	if len(store.entries) != 0 {
		t.Error("a failed unattended gate must never pause")
	}
	for _, e := range em.events {
		if e.kind == "completed" || e.kind == "aborted" {
			t.Errorf("unexpected terminal %q; the caller reports the failure", e.kind)
		}
	}
}

func TestStreamer_RenderErrorFailsWithoutTouchingStore(t *testing.T) {
	doc := loadDoc(t, `
apiVersion: panel/v1
meta:
  name: d
sections:
  s:
    items:
      - key: broken
        kind: markdown
        body: "{{.missing}}"
`)
	seq := newTestSequence(t, doc, "s", nil)
	store := newFakeStore()
	store.entries["c"] = &Continuation{CorrelationID: "previous"}
	s := newTestStreamer(store, nil)

	_, err := s.Run(context.Background(), &fakeEmitter{}, &fakeActions{}, "c", "", seq, nil)
	if err == nil {
		t.Fatal("expected render error")
	}
	if store.entries["c"] == nil || store.entries["c"].CorrelationID != "previous" {
		t.Error("failure must leave stored continuations untouched")
	}
}

// ─── denial and abort ────────────────────────────────────────────────────

func TestStreamer_DenialShortCircuits(t *testing.T) {
	viewer := &session.UserContext{Identity: "bob", Role: "viewer"}
	seq, err := NewSequence(loadDoc(t, restrictedDoc), "s", nil, rbac.NewChecker(nil), viewer)
	if err != nil {
		t.Fatal(err)
	}
	s := newTestStreamer(newFakeStore(), nil)
	em := &fakeEmitter{}

	state, err := s.Run(context.Background(), em, &fakeActions{}, "c", "", seq, viewer)
	if err != nil {
		t.Fatal(err)
	}
	if state != Completed {
		t.Fatalf("state = %v", state)
	}
	// The refusal always travels with a navigate-back, and the stream
	// keeps going past the withheld item.
	got := em.kinds()
	want := []string{"render_chunk", "rbac_denied", "navigate_back", "render_chunk", "completed"}
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStreamer_AbortObservedAtAdvanceBoundary(t *testing.T) {
	doc := loadDoc(t, sectionDoc)
	seq := newTestSequence(t, doc, "rollout", nil)
	s := newTestStreamer(newFakeStore(), nil)
	em := &fakeEmitter{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already shut down before the first chunk

	state, err := s.Run(ctx, em, &fakeActions{}, "c", "", seq, nil)
	if err != nil {
		t.Fatal(err)
	}
	if state != Aborted {
		t.Fatalf("state = %v", state)
	}
	aborts := 0
	for _, e := range em.events {
		if e.kind == "aborted" {
			aborts++
		}
	}
	if aborts != 1 {
		t.Errorf("aborted notices = %d, want exactly one", aborts)
	}
}

func TestStreamer_AuditsChunksGatesAndDenials(t *testing.T) {
	doc := loadDoc(t, `
apiVersion: panel/v1
meta:
  name: d
sections:
  s:
    items:
      - key: open
        kind: markdown
        body: x
      - key: secret
        kind: markdown
        roles: [admin]
        body: y
      - key: fetch
        kind: function
        command: ListTicket
`)
	viewer := &session.UserContext{Identity: "bob", Role: "viewer"}
	seq, err := NewSequence(doc, "s", nil, rbac.NewChecker(nil), viewer)
	if err != nil {
		t.Fatal(err)
	}

	var audit bytes.Buffer
	s := NewStreamer(NewGateResolver(&fakeRunner{}, nil), newFakeStore(), trace.NewWriter(&audit), nil)

	if _, err := s.Run(context.Background(), &fakeEmitter{}, &fakeActions{}, "conn-a", "", seq, viewer); err != nil {
		t.Fatal(err)
	}

	seen := make(map[trace.EventType]int)
	for _, line := range bytes.Split(bytes.TrimSpace(audit.Bytes()), []byte{'\n'}) {
		var evt trace.Event
		if err := json.Unmarshal(line, &evt); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if evt.ConnID != "conn-a" {
			t.Errorf("conn id = %q", evt.ConnID)
		}
		seen[evt.Type]++
	}
	if seen[trace.EventChunkSent] != 2 {
		t.Errorf("chunk_sent = %d, want one per transmitted chunk", seen[trace.EventChunkSent])
	}
	if seen[trace.EventAccessDenied] != 1 {
		t.Errorf("access_denied = %d", seen[trace.EventAccessDenied])
	}
	if seen[trace.EventGateExecuted] != 1 {
		t.Errorf("gate_executed = %d", seen[trace.EventGateExecuted])
	}
}

func TestStreamer_DashboardSideEventPrecedesChunk(t *testing.T) {
	doc := loadDoc(t, `
apiVersion: panel/v1
meta:
  name: d
sections:
  s:
    items:
      - key: board
        kind: dashboard
        panels: [cpu]
      - key: text
        kind: markdown
        body: hi
`)
	seq := newTestSequence(t, doc, "s", nil)
	s := newTestStreamer(newFakeStore(), nil)
	em := &fakeEmitter{}

	if _, err := s.Run(context.Background(), em, &fakeActions{}, "c", "", seq, nil); err != nil {
		t.Fatal(err)
	}
	got := em.kinds()
	if len(got) < 2 || got[0] != "dashboard" || got[1] != "render_chunk" {
		t.Fatalf("events = %v, dashboard must precede its chunk", got)
	}
}
