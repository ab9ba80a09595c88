package stream

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/panelflow/panelflow/pkg/commands"
	"github.com/panelflow/panelflow/pkg/schema"
	"github.com/panelflow/panelflow/pkg/session"
)

// GateOutcome is the resolver's decision for a gate chunk.
type GateOutcome int

const (
	// GateResumed means the gate ran unattended and the sequence advances.
	GateResumed GateOutcome = iota
	// GatePause means the gate needs a human decision; the sequence
	// suspends into the continuation registry.
	GatePause
	// GateFailed means an unattended gate action failed; the request ends
	// with a failure, never a pause.
	GateFailed
)

// GateActions are the connection-level effects an unattended gate may have.
// The transport layer implements them per connection.
type GateActions interface {
	// Navigate tells the client to move to a new target.
	Navigate(ctx context.Context, target string) error
	// Logout clears the connection's authentication state.
	Logout(ctx context.Context) error
}

// GateResolver classifies each gate and either executes it unattended or
// reports that the sequence must pause. Form gates always pause; link,
// logout, and function gates run without a human.
type GateResolver struct {
	runner commands.Runner
	log    *log.Logger
}

// NewGateResolver wires a resolver to the command runner backing function
// gates.
func NewGateResolver(runner commands.Runner, logger *log.Logger) *GateResolver {
	if logger == nil {
		logger = log.Default()
	}
	return &GateResolver{runner: runner, log: logger}
}

// Resolve decides the outcome of one gate. A returned error accompanies
// GateFailed only.
func (g *GateResolver) Resolve(ctx context.Context, it *schema.Item, seq *Sequence, acts GateActions, uc *session.UserContext) (GateOutcome, error) {
	switch it.Kind {
	case "form":
		g.log.Debug("gate pause", "key", it.Key)
		return GatePause, nil

	case "link":
		target, err := seq.ResolveTarget(it.Target)
		if err != nil {
			return GateFailed, fmt.Errorf("gate %q: %w", it.Key, err)
		}
		if err := acts.Navigate(ctx, target); err != nil {
			return GateFailed, fmt.Errorf("gate %q navigate: %w", it.Key, err)
		}
		g.log.Debug("gate navigated", "key", it.Key, "target", target)
		return GateResumed, nil

	case "logout":
		if err := acts.Logout(ctx); err != nil {
			return GateFailed, fmt.Errorf("gate %q logout: %w", it.Key, err)
		}
		g.log.Debug("gate logout", "key", it.Key)
		return GateResumed, nil

	case "function":
		args, err := seq.ResolveArgs(it.Args)
		if err != nil {
			return GateFailed, fmt.Errorf("gate %q: %w", it.Key, err)
		}
		cmd := commands.Command{ID: it.Command, Args: args}
		res, err := g.runner.Execute(ctx, cmd, uc)
		if err != nil {
			return GateFailed, fmt.Errorf("gate %q command %q: %w", it.Key, it.Command, err)
		}
		if res != nil && res.Data != nil {
			seq.SetVar(it.Key, res.Data)
		}
		g.log.Debug("gate executed", "key", it.Key, "command", it.Command)
		return GateResumed, nil
	}

	return GateFailed, fmt.Errorf("gate %q: kind %q is not a gate", it.Key, it.Kind)
}
