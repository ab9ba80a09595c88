// Package commands defines the command-dispatch contract between the serve
// layer and the CRUD/storage backend, plus an in-memory backend used by the
// server by default and by tests.
package commands

import (
	"context"

	"github.com/panelflow/panelflow/pkg/session"
)

// Command is one unit of work dispatched against the backend.
type Command struct {
	// ID is the command identifier, e.g. "ListUsers" or "GetOrder".
	ID string
	// Action optionally refines the command (backend-specific).
	Action string
	// HorizontalRef scopes the command to an application partition.
	HorizontalRef string
	// ModelRef names the model a form submission targets.
	ModelRef string
	// Args carries the command arguments or submitted form data.
	Args map[string]any
	// ReadOnly is the explicit cacheability marker; commands without it
	// fall back to read-verb classification.
	ReadOnly bool
}

// Result is a command outcome. Data is the payload handed to clients and
// stored in the result cache; Raw is the backend's transport envelope and
// must never be cached or transmitted.
type Result struct {
	Data any    `json:"data"`
	Raw  []byte `json:"-"`
}

// Runner executes commands against the backing storage. Implementations
// may block; the serve layer always calls Execute off the connection's
// reader goroutine.
type Runner interface {
	Execute(ctx context.Context, cmd Command, uc *session.UserContext) (*Result, error)
}
