package session

import "testing"

func TestExtract_Nil(t *testing.T) {
	if uc := Extract(nil); uc != nil {
		t.Errorf("Extract(nil) = %+v, want nil", uc)
	}
	if uc := Extract(&AuthState{Application: "crm", Role: "admin"}); uc != nil {
		t.Errorf("Extract with no identities = %+v, want nil", uc)
	}
}

func TestExtract_ConnectionTier(t *testing.T) {
	uc := Extract(&AuthState{ConnectionUser: "alice", Role: "viewer"})
	if uc == nil {
		t.Fatal("expected context")
	}
	if uc.Tier != TierConnection {
		t.Errorf("tier = %v", uc.Tier)
	}
	if uc.Identity != "alice" {
		t.Errorf("identity = %q", uc.Identity)
	}
}

func TestExtract_ApplicationTier(t *testing.T) {
	uc := Extract(&AuthState{AppUser: "svc-bot", Application: "crm"})
	if uc.Tier != TierApplication {
		t.Errorf("tier = %v", uc.Tier)
	}
	if uc.Identity != "svc-bot" {
		t.Errorf("identity = %q", uc.Identity)
	}
	if uc.Application != "crm" {
		t.Errorf("application = %q", uc.Application)
	}
}

func TestExtract_DualTierPrefersAppIdentity(t *testing.T) {
	uc := Extract(&AuthState{
		ConnectionUser: "alice",
		AppUser:        "alice@crm",
		Application:    "crm",
		Role:           "admin",
	})
	if uc.Tier != TierDual {
		t.Errorf("tier = %v", uc.Tier)
	}
	if uc.Identity != "alice@crm" {
		t.Errorf("identity = %q, want the application identity", uc.Identity)
	}
}

func TestAuthTier_String(t *testing.T) {
	if TierDual.String() != "dual" || TierConnection.String() != "connection" {
		t.Error("tier names wrong")
	}
	if AuthTier(99).String() != "unknown" {
		t.Error("out-of-range tier should be unknown")
	}
}
