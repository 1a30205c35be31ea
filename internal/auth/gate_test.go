package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/browserctl/browserctl-go/internal/config"
	"github.com/browserctl/browserctl-go/internal/types"
)

func enabledConfig() config.AuthConfig {
	return config.AuthConfig{
		Enabled:   true,
		Providers: []string{"api-key"},
		Roles: []config.RoleConfig{
			{
				Name: "viewer",
				Permissions: []config.PermissionConfig{
					{Resource: "browser", Action: "read*"},
				},
			},
			{
				Name:     "operator",
				Inherits: []string{"viewer"},
				Permissions: []config.PermissionConfig{
					{Resource: "browser", Action: "*"},
					{Resource: "session", Action: "create"},
				},
			},
		},
		APIKeys: []config.APIKeyEntry{
			{Key: "test-key-0123456789abcdef", Identity: "alice", Roles: []string{"operator"}},
			{Key: "view-key-0123456789abcdef", Identity: "bob", Roles: []string{"viewer"}},
		},
	}
}

func apiKeyCall(key string) types.CallAuth {
	return types.CallAuth{
		Headers:       map[string]string{"X-Api-Key": key},
		SourceAddress: "10.0.0.1:55000",
	}
}

func TestDisabledAuthGrantsEverything(t *testing.T) {
	g, err := New(config.AuthConfig{Enabled: false})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	authCtx, err := g.Authenticate(types.CallAuth{})
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if authCtx.Authenticated {
		t.Error("Disabled auth should yield an unauthenticated context")
	}
	if err := g.Authorize(authCtx, "anything", "at-all", nil); err != nil {
		t.Errorf("Expected wildcard grant, got %v", err)
	}
}

func TestDisabledAuthStillRateLimits(t *testing.T) {
	g, err := New(config.AuthConfig{
		Enabled:         false,
		GlobalRateLimit: &config.RateLimit{Points: 3, WindowSeconds: 1},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := g.Authenticate(types.CallAuth{}); err != nil {
			t.Fatalf("Request %d should pass: %v", i+1, err)
		}
	}

	_, err = g.Authenticate(types.CallAuth{})
	if !errors.Is(err, types.ErrRateLimited) {
		t.Fatalf("Fourth request in the window should be limited, got %v", err)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	g, err := New(enabledConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	authCtx, err := g.Authenticate(apiKeyCall("test-key-0123456789abcdef"))
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if authCtx.Identity != "alice" || !authCtx.Authenticated {
		t.Errorf("Unexpected context: %+v", authCtx)
	}

	_, err = g.Authenticate(apiKeyCall("wrong-key"))
	if !errors.Is(err, types.ErrAuthFailed) {
		t.Fatalf("Expected ErrAuthFailed for unknown key, got %v", err)
	}
}

func TestAPIKeyNearMissRejected(t *testing.T) {
	p := newAPIKeyProvider([]config.APIKeyEntry{
		{Key: "test-key-0123456789abcdef", Identity: "alice", Roles: []string{"operator"}},
	})

	// Same length and shared prefix must not match.
	for _, key := range []string{
		"test-key-0123456789abcdeX",
		"test-key-0123456789abcde",
		"test-key-0123456789abcdef0",
	} {
		_, handled, err := p.Authenticate(apiKeyCall(key))
		if !handled {
			t.Fatalf("Key %q should be handled by the api-key provider", key)
		}
		if !errors.Is(err, types.ErrAuthFailed) {
			t.Errorf("Key %q: expected ErrAuthFailed, got %v", key, err)
		}
	}

	authCtx, handled, err := p.Authenticate(apiKeyCall("test-key-0123456789abcdef"))
	if !handled || err != nil {
		t.Fatalf("Exact key rejected: handled=%v err=%v", handled, err)
	}
	if authCtx.Identity != "alice" {
		t.Errorf("Identity = %q, want alice", authCtx.Identity)
	}
}

func TestMissingCredentials(t *testing.T) {
	g, _ := New(enabledConfig())

	_, err := g.Authenticate(types.CallAuth{SourceAddress: "10.0.0.1:55000"})
	if !errors.Is(err, types.ErrAuthRequired) {
		t.Fatalf("Expected ErrAuthRequired, got %v", err)
	}
	if types.CodeForError(err) != types.CodeAuthRequired {
		t.Errorf("Expected code %s, got %s", types.CodeAuthRequired, types.CodeForError(err))
	}
}

func TestWildcardPermissions(t *testing.T) {
	g, _ := New(enabledConfig())
	operator := &Context{Identity: "alice", Roles: []string{"operator"}, Authenticated: true}
	viewer := &Context{Identity: "bob", Roles: []string{"viewer"}, Authenticated: true}

	// operator has browser/* and inherits browser/read*.
	if err := g.Authorize(operator, "browser", "navigate", nil); err != nil {
		t.Errorf("operator browser/navigate should pass: %v", err)
	}
	if err := g.Authorize(operator, "session", "create", nil); err != nil {
		t.Errorf("operator session/create should pass: %v", err)
	}
	if err := g.Authorize(operator, "session", "destroy", nil); !errors.Is(err, types.ErrPermissionDenied) {
		t.Errorf("operator session/destroy should be denied, got %v", err)
	}

	// viewer only has browser/read*.
	if err := g.Authorize(viewer, "browser", "read_text", nil); err != nil {
		t.Errorf("viewer browser/read_text should pass: %v", err)
	}
	if err := g.Authorize(viewer, "browser", "navigate", nil); !errors.Is(err, types.ErrPermissionDenied) {
		t.Errorf("viewer browser/navigate should be denied, got %v", err)
	}
}

func TestPermissionConditions(t *testing.T) {
	s := NewRoleSet()
	_ = s.Register(Role{
		Name: "scoped",
		Permissions: []Permission{
			{Resource: "browser", Action: "navigate", Conditions: map[string]string{"env": "staging"}},
		},
	})

	if !s.Allowed([]string{"scoped"}, "browser", "navigate", map[string]string{"env": "staging"}) {
		t.Error("Matching condition should allow")
	}
	if s.Allowed([]string{"scoped"}, "browser", "navigate", map[string]string{"env": "prod"}) {
		t.Error("Mismatched condition should deny")
	}
	if s.Allowed([]string{"scoped"}, "browser", "navigate", nil) {
		t.Error("Absent condition key should deny")
	}
}

func TestInheritanceCycleRejected(t *testing.T) {
	cfg := enabledConfig()
	cfg.Roles = []config.RoleConfig{
		{Name: "a", Inherits: []string{"b"}},
		{Name: "b", Inherits: []string{"a"}},
	}
	if _, err := New(cfg); err == nil {
		t.Fatal("Expected cycle detection to fail gate construction")
	}
}

func TestSelfInheritanceRejected(t *testing.T) {
	s := NewRoleSet()
	if err := s.Register(Role{Name: "loop", Inherits: []string{"loop"}}); err == nil {
		t.Fatal("Expected self-inheritance to be rejected")
	}
}

func TestRateLimitThreePerSecond(t *testing.T) {
	cfg := enabledConfig()
	cfg.PerIdentityRateLimits = map[string]config.RateLimit{
		"alice": {Points: 3, WindowSeconds: 1},
	}
	g, _ := New(cfg)

	call := apiKeyCall("test-key-0123456789abcdef")
	for i := 0; i < 3; i++ {
		if _, err := g.Authenticate(call); err != nil {
			t.Fatalf("Request %d should pass: %v", i+1, err)
		}
	}

	_, err := g.Authenticate(call)
	if !errors.Is(err, types.ErrRateLimited) {
		t.Fatalf("Fourth request in the window should be limited, got %v", err)
	}
	if types.CodeForError(err) != types.CodeRateLimited {
		t.Errorf("Expected code %s, got %s", types.CodeRateLimited, types.CodeForError(err))
	}
}

func TestRateLimitIsPerIdentity(t *testing.T) {
	cfg := enabledConfig()
	cfg.PerIdentityRateLimits = map[string]config.RateLimit{
		"alice": {Points: 1, WindowSeconds: 60},
	}
	g, _ := New(cfg)

	if _, err := g.Authenticate(apiKeyCall("test-key-0123456789abcdef")); err != nil {
		t.Fatalf("First alice request should pass: %v", err)
	}
	if _, err := g.Authenticate(apiKeyCall("test-key-0123456789abcdef")); !errors.Is(err, types.ErrRateLimited) {
		t.Fatalf("Second alice request should be limited, got %v", err)
	}
	// bob has no policy and is unaffected.
	if _, err := g.Authenticate(apiKeyCall("view-key-0123456789abcdef")); err != nil {
		t.Errorf("bob should not be limited: %v", err)
	}
}

func TestAddressDenyBeforeAllow(t *testing.T) {
	cfg := enabledConfig()
	cfg.AddressAllowList = []string{"10.0.0.*"}
	cfg.AddressDenyList = []string{"10.0.0.1"}
	g, _ := New(cfg)

	// 10.0.0.1 matches both lists; deny wins.
	_, err := g.Authenticate(apiKeyCall("test-key-0123456789abcdef"))
	if !errors.Is(err, types.ErrPermissionDenied) {
		t.Fatalf("Expected deny-list rejection, got %v", err)
	}

	call := apiKeyCall("test-key-0123456789abcdef")
	call.SourceAddress = "10.0.0.2:55000"
	if _, err := g.Authenticate(call); err != nil {
		t.Errorf("Allow-listed address should pass: %v", err)
	}

	call.SourceAddress = "192.168.1.1:55000"
	if _, err := g.Authenticate(call); !errors.Is(err, types.ErrPermissionDenied) {
		t.Errorf("Address off the allow list should be rejected, got %v", err)
	}
}

func TestAddressCIDR(t *testing.T) {
	if !matchAddress("10.0.0.0/8", "10.200.3.4") {
		t.Error("CIDR should contain 10.200.3.4")
	}
	if matchAddress("10.0.0.0/8", "11.0.0.1") {
		t.Error("CIDR should not contain 11.0.0.1")
	}
}

func TestSecureTransportRequired(t *testing.T) {
	cfg := enabledConfig()
	cfg.RequireSecureTransport = true
	g, _ := New(cfg)

	call := apiKeyCall("test-key-0123456789abcdef")
	if _, err := g.Authenticate(call); !errors.Is(err, types.ErrAuthRequired) {
		t.Fatalf("Plain transport should be refused, got %v", err)
	}

	call.SecureTransport = true
	if _, err := g.Authenticate(call); err != nil {
		t.Errorf("Secure transport should pass: %v", err)
	}
}

func TestBearerTokenRoundTrip(t *testing.T) {
	bearer := config.BearerConfig{
		Secret:          "unit-test-secret",
		Issuer:          "browserctl",
		Audience:        "tools",
		LifetimeSeconds: 3600,
	}
	cfg := enabledConfig()
	cfg.Providers = []string{"bearer-token"}
	cfg.Bearer = bearer
	g, _ := New(cfg)

	token, err := MintBearerToken(bearer, "carol", []string{"operator"}, time.Hour)
	if err != nil {
		t.Fatalf("MintBearerToken failed: %v", err)
	}

	call := types.CallAuth{
		Headers:       map[string]string{"Authorization": "Bearer " + token},
		SourceAddress: "127.0.0.1:9999",
	}
	authCtx, err := g.Authenticate(call)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if authCtx.Identity != "carol" {
		t.Errorf("Expected identity carol, got %s", authCtx.Identity)
	}

	// Flip a byte in the signature.
	call.Headers["Authorization"] = "Bearer " + token[:len(token)-2] + "xx"
	if _, err := g.Authenticate(call); !errors.Is(err, types.ErrAuthFailed) {
		t.Errorf("Tampered token should fail, got %v", err)
	}
}

func TestBearerTokenExpired(t *testing.T) {
	bearer := config.BearerConfig{Secret: "unit-test-secret"}
	token, _ := MintBearerToken(bearer, "carol", nil, -time.Minute)
	if _, err := verifyBearerToken(bearer, token); err == nil {
		t.Fatal("Expired token should not verify")
	}
}

func TestBearerLifetimePolicy(t *testing.T) {
	bearer := config.BearerConfig{Secret: "unit-test-secret", LifetimeSeconds: 60}
	token, _ := MintBearerToken(bearer, "carol", nil, time.Hour)
	if _, err := verifyBearerToken(bearer, token); err == nil {
		t.Fatal("Token exceeding the lifetime policy should not verify")
	}
}

func TestAuditTrail(t *testing.T) {
	g, _ := New(enabledConfig())
	authCtx := &Context{Identity: "alice", Roles: []string{"operator"}, Authenticated: true}

	_ = g.Authorize(authCtx, "browser", "navigate", nil)
	_ = g.Authorize(authCtx, "session", "destroy", nil)

	trail := g.AuditTrail()
	if len(trail) != 2 {
		t.Fatalf("Expected 2 audit entries, got %d", len(trail))
	}
	if !trail[0].Allowed || trail[1].Allowed {
		t.Errorf("Unexpected decisions: %+v", trail)
	}
	if trail[1].Reason == "" {
		t.Error("Denial should carry a reason")
	}
}

func TestAuditRingCaps(t *testing.T) {
	a := &auditLog{}
	for i := 0; i < auditCap+50; i++ {
		a.append(AuditEntry{Identity: "x"})
	}
	if got := len(a.Entries()); got != auditCap {
		t.Errorf("Expected audit trail capped at %d, got %d", auditCap, got)
	}
}
