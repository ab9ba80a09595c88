package rbac

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/panelflow/panelflow/pkg/session"
)

// ─── item checks ─────────────────────────────────────────────────────────

func TestCheckItem_Unrestricted(t *testing.T) {
	c := NewChecker(nil)
	if d := c.CheckItem("intro", nil, nil); d != nil {
		t.Errorf("unrestricted item denied: %+v", d)
	}
}

func TestCheckItem_NilContextFailsRestricted(t *testing.T) {
	c := NewChecker(nil)
	d := c.CheckItem("secret", []string{"admin"}, nil)
	if d == nil {
		t.Fatal("expected denial for unauthenticated viewer")
	}
	if d.ItemKey != "secret" {
		t.Errorf("item key = %q", d.ItemKey)
	}
	if !strings.Contains(d.Message, "authentication") {
		t.Errorf("message = %q", d.Message)
	}
}

func TestCheckItem_RoleMatch(t *testing.T) {
	c := NewChecker(nil)
	admin := &session.UserContext{Identity: "alice", Role: "admin"}
	viewer := &session.UserContext{Identity: "bob", Role: "viewer"}

	if d := c.CheckItem("secret", []string{"admin", "operator"}, admin); d != nil {
		t.Errorf("admin denied: %+v", d)
	}
	if d := c.CheckItem("secret", []string{"admin", "operator"}, viewer); d == nil {
		t.Error("viewer should be denied")
	}
}

// ─── command checks ──────────────────────────────────────────────────────

func TestCheckCommand_DenyPrecedence(t *testing.T) {
	c := NewChecker(&Policy{
		AllowedCommands: []string{"DeleteUser"},
		DeniedCommands:  []string{"DeleteUser"},
	})
	if err := c.CheckCommand("DeleteUser"); err == nil {
		t.Error("deny must take precedence over allow")
	}
}

func TestCheckCommand_Allowlist(t *testing.T) {
	c := NewChecker(&Policy{AllowedCommands: []string{"ListUsers"}})
	if err := c.CheckCommand("ListUsers"); err != nil {
		t.Errorf("allowed command rejected: %v", err)
	}
	if err := c.CheckCommand("CreateUser"); err == nil {
		t.Error("command outside allowlist accepted")
	}
}

func TestCheckCommand_EmptyPolicyIsPermissive(t *testing.T) {
	c := NewChecker(&Policy{})
	if err := c.CheckCommand("Anything"); err != nil {
		t.Errorf("empty policy rejected command: %v", err)
	}
}

// ─── policy loading ──────────────────────────────────────────────────────

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
denied_commands: [DropDatabase]
allowed_commands: [ListUsers, GetUser]
redact:
  - pattern: 'password=\S+'
    replace: 'password=<REDACTED>'
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if len(p.DeniedCommands) != 1 || p.DeniedCommands[0] != "DropDatabase" {
		t.Errorf("denied = %v", p.DeniedCommands)
	}
	if len(p.Redact) != 1 {
		t.Errorf("redact = %v", p.Redact)
	}
}

func TestLoadPolicy_EmptyPath(t *testing.T) {
	p, err := LoadPolicy("")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.DeniedCommands) != 0 || len(p.AllowedCommands) != 0 {
		t.Error("empty path should yield a permissive policy")
	}
}

// ─── redaction ───────────────────────────────────────────────────────────

func TestRedactor_Apply(t *testing.T) {
	rd, err := NewRedactor([]RedactionRule{
		{Pattern: `password=\S+`, Replace: "password=<REDACTED>"},
		{Pattern: `\b\d{16}\b`, Replace: "<CARD>"},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := rd.Apply("login password=hunter2 card 4111111111111111 ok")
	if strings.Contains(got, "hunter2") || strings.Contains(got, "4111111111111111") {
		t.Errorf("redaction incomplete: %q", got)
	}
	if !strings.Contains(got, "password=<REDACTED>") || !strings.Contains(got, "<CARD>") {
		t.Errorf("replacements missing: %q", got)
	}
}

func TestRedactor_NilPassesThrough(t *testing.T) {
	var rd *Redactor
	if got := rd.Apply("password=hunter2"); got != "password=hunter2" {
		t.Errorf("nil redactor changed output: %q", got)
	}
	if rd, _ := NewRedactor(nil); rd != nil {
		t.Error("no rules should yield a nil redactor")
	}
}

func TestNewRedactor_BadPattern(t *testing.T) {
	if _, err := NewRedactor([]RedactionRule{{Pattern: "("}}); err == nil {
		t.Error("expected compile error")
	}
}
