// Package rbac evaluates role-based access rules for section items and
// commands, and applies output redaction to command results before they are
// cached or transmitted.
package rbac

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/panelflow/panelflow/pkg/session"
)

// Policy defines the access rules evaluated during streaming and command
// dispatch. Deny takes precedence over allow.
type Policy struct {
	// DeniedCommands lists command identifiers no role may execute.
	DeniedCommands []string `yaml:"denied_commands,omitempty" json:"denied_commands,omitempty"`
	// AllowedCommands, when non-empty, restricts execution to the listed
	// command identifiers.
	AllowedCommands []string `yaml:"allowed_commands,omitempty" json:"allowed_commands,omitempty"`
	// Redact holds output redaction rules applied to command results.
	Redact []RedactionRule `yaml:"redact,omitempty" json:"redact,omitempty"`
}

// Checker evaluates a Policy. A nil or empty policy is permissive.
type Checker struct {
	policy *Policy
}

// NewChecker creates a Checker from a policy; nil yields a permissive one.
func NewChecker(policy *Policy) *Checker {
	if policy == nil {
		policy = &Policy{}
	}
	return &Checker{policy: policy}
}

// Denial is the access-control refusal payload carried inside a chunk when
// the viewer lacks a required role. It is never rendered as ordinary
// content: the streamer short-circuits it into a denial notification.
type Denial struct {
	ItemKey string `json:"item_key"`
	Message string `json:"message"`
}

// CheckItem decides whether a viewer may see an item restricted to the
// given roles. An empty role list means unrestricted. A nil user context
// only passes unrestricted items.
func (c *Checker) CheckItem(itemKey string, requiredRoles []string, uc *session.UserContext) *Denial {
	if len(requiredRoles) == 0 {
		return nil
	}
	if uc == nil {
		return &Denial{
			ItemKey: itemKey,
			Message: fmt.Sprintf("item %q requires authentication", itemKey),
		}
	}
	for _, role := range requiredRoles {
		if uc.Role == role {
			return nil
		}
	}
	return &Denial{
		ItemKey: itemKey,
		Message: fmt.Sprintf("role %q is not permitted to view %q", uc.Role, itemKey),
	}
}

// CheckCommand validates a command identifier against the allow/deny lists.
func (c *Checker) CheckCommand(commandID string) error {
	for _, denied := range c.policy.DeniedCommands {
		if commandID == denied {
			return fmt.Errorf("command %q is denied by policy", commandID)
		}
	}
	if len(c.policy.AllowedCommands) > 0 {
		for _, allowed := range c.policy.AllowedCommands {
			if commandID == allowed {
				return nil
			}
		}
		return fmt.Errorf("command %q is not in the policy allowlist", commandID)
	}
	return nil
}

// LoadPolicy reads a YAML policy file. An empty path yields a permissive
// policy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return &Policy{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	return &p, nil
}
