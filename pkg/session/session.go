// Package session derives the identity/application/role tuple used for
// cache isolation and auditing from a connection's authentication state.
package session

// AuthTier describes which scope(s) a connection authenticated against.
type AuthTier int

const (
	// TierConnection means only connection-level credentials are present.
	TierConnection AuthTier = iota
	// TierApplication means only application-level credentials are present.
	TierApplication
	// TierDual means both; the application identity wins for cache keys.
	TierDual
)

func (t AuthTier) String() string {
	switch t {
	case TierConnection:
		return "connection"
	case TierApplication:
		return "application"
	case TierDual:
		return "dual"
	}
	return "unknown"
}

// AuthState is the raw authentication state attached to a connection by the
// transport layer. Either identity may be empty.
type AuthState struct {
	ConnectionUser string
	AppUser        string
	Application    string
	Role           string
}

// UserContext is the identity/application/role tuple. It is derived fresh
// per request, used only as a cache-key ingredient and audit field, and
// never persisted across requests.
type UserContext struct {
	Identity    string
	Application string
	Role        string
	Tier        AuthTier
}

// Extract derives a UserContext from the connection auth state. It returns
// nil when the connection carries no authentication state; callers must
// treat nil as "proceed uncached", not as an error.
func Extract(auth *AuthState) *UserContext {
	if auth == nil || (auth.ConnectionUser == "" && auth.AppUser == "") {
		return nil
	}

	uc := &UserContext{
		Application: auth.Application,
		Role:        auth.Role,
	}
	switch {
	case auth.ConnectionUser != "" && auth.AppUser != "":
		uc.Tier = TierDual
		uc.Identity = auth.AppUser // application identity wins for cache keys
	case auth.AppUser != "":
		uc.Tier = TierApplication
		uc.Identity = auth.AppUser
	default:
		uc.Tier = TierConnection
		uc.Identity = auth.ConnectionUser
	}
	return uc
}
