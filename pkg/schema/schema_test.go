package schema

import (
	"strings"
	"testing"
)

const sampleDoc = `
apiVersion: panel/v1
meta:
  name: onboarding
  folder: hr
  vars:
    team: platform
sections:
  welcome:
    meta:
      "@title": "Welcome"
    items:
      - key: intro
        kind: markdown
        body: "Hello {{.team}}"
      - key: confirm
        kind: form
        fields:
          - name: full_name
            label: Full name
            required: true
      - key: done
        kind: markdown
        body: "All set."
`

func TestLoad_Sample(t *testing.T) {
	doc, err := Load(strings.NewReader(sampleDoc))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if doc.APIVersion != "panel/v1" {
		t.Errorf("apiVersion = %q", doc.APIVersion)
	}
	if doc.Meta.Name != "onboarding" {
		t.Errorf("name = %q", doc.Meta.Name)
	}
	sec := doc.Sections["welcome"]
	if sec == nil {
		t.Fatal("section welcome missing")
	}
	if len(sec.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(sec.Items))
	}
	if sec.Meta["@title"] != "Welcome" {
		t.Errorf("@title = %q", sec.Meta["@title"])
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	bad := strings.Replace(sampleDoc, "body:", "boddy:", 1)
	if _, err := Load(strings.NewReader(bad)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestItem_IsGate(t *testing.T) {
	cases := []struct {
		kind string
		gate bool
	}{
		{"markdown", false},
		{"dashboard", false},
		{"form", true},
		{"link", true},
		{"logout", true},
		{"function", true},
	}
	for _, tc := range cases {
		it := Item{Key: "k", Kind: tc.kind}
		if got := it.IsGate(); got != tc.gate {
			t.Errorf("IsGate(%s) = %v, want %v", tc.kind, got, tc.gate)
		}
	}
}

func TestSection_BounceLookup(t *testing.T) {
	doc, err := Load(strings.NewReader(sampleDoc))
	if err != nil {
		t.Fatal(err)
	}

	sec, id, err := doc.Section("welcome^")
	if err != nil {
		t.Fatalf("Section with bounce marker: %v", err)
	}
	if sec == nil {
		t.Fatal("section is nil")
	}
	if id != "welcome^" {
		t.Errorf("id = %q, want the marker preserved", id)
	}
	if !HasBounce(id) {
		t.Error("HasBounce(welcome^) = false")
	}

	if _, _, err := doc.Section("missing"); err == nil {
		t.Error("expected error for unknown section")
	}
}

func TestIsMetaKey(t *testing.T) {
	if !IsMetaKey("@title") {
		t.Error("@title should be meta")
	}
	if IsMetaKey("title") {
		t.Error("title should not be meta")
	}
}
