package auth

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/browserctl/browserctl-go/internal/config"
	"github.com/browserctl/browserctl-go/internal/types"
)

// Gate is the permission and auth decision point for every tool call.
type Gate struct {
	cfg       config.AuthConfig
	roles     *RoleSet
	providers []Provider
	limits    *rateTable
	audit     *auditLog
}

// New builds a gate from configuration. Role registration happens here, so
// inheritance cycles fail startup instead of a later request.
func New(cfg config.AuthConfig) (*Gate, error) {
	g := &Gate{
		cfg:    cfg,
		roles:  NewRoleSet(),
		limits: newRateTable(cfg.GlobalRateLimit, cfg.PerIdentityRateLimits),
		audit:  &auditLog{},
	}

	for _, rc := range cfg.Roles {
		perms := make([]Permission, 0, len(rc.Permissions))
		for _, pc := range rc.Permissions {
			perms = append(perms, Permission{
				Resource:   pc.Resource,
				Action:     pc.Action,
				Conditions: pc.Conditions,
			})
		}
		if err := g.roles.Register(Role{
			Name:        rc.Name,
			Inherits:    rc.Inherits,
			Permissions: perms,
		}); err != nil {
			return nil, fmt.Errorf("auth role configuration: %w", err)
		}
	}

	for _, name := range cfg.Providers {
		switch name {
		case "api-key":
			p := newAPIKeyProvider(cfg.APIKeys)
			g.providers = append(g.providers, p)
			for _, entry := range cfg.APIKeys {
				if entry.RateLimit != nil {
					g.limits.setIdentityPolicy(entry.Identity, *entry.RateLimit)
				}
			}
		case "bearer-token":
			g.providers = append(g.providers, &bearerProvider{cfg: cfg.Bearer})
		case "external-oauth":
			g.providers = append(g.providers, newOAuthProvider(cfg.OAuthIntrospectionURL))
		default:
			return nil, fmt.Errorf("unknown auth provider %q", name)
		}
	}

	return g, nil
}

// Roles exposes the role set for authorization checks and tests.
func (g *Gate) Roles() *RoleSet {
	return g.roles
}

// Authenticate resolves the call's identity. With auth disabled every call
// gets a synthetic unauthenticated context carrying the wildcard role;
// disabling auth turns off identity and permission checks, not the rate
// buckets.
func (g *Gate) Authenticate(call types.CallAuth) (*Context, error) {
	if !g.cfg.Enabled {
		if err := g.checkRate("anonymous"); err != nil {
			return nil, err
		}
		return &Context{
			Identity:      "anonymous",
			Roles:         []string{"*"},
			Authenticated: false,
			RateKey:       "anonymous",
			SourceAddress: call.SourceAddress,
		}, nil
	}

	if g.cfg.RequireSecureTransport && !call.SecureTransport {
		return nil, types.NewToolError(
			types.ErrAuthRequired,
			"secure transport required",
		).WithHint("connect over TLS or disable requireSecureTransport")
	}

	if err := g.checkAddress(call.SourceAddress); err != nil {
		return nil, err
	}

	for _, p := range g.providers {
		authCtx, claimed, err := p.Authenticate(call)
		if !claimed {
			continue
		}
		if err != nil {
			return nil, types.NewToolError(err, "authentication failed").
				WithHint("check the credential for the " + p.Name() + " provider")
		}
		if err := g.checkRate(authCtx.RateKey); err != nil {
			return nil, err
		}
		return authCtx, nil
	}

	return nil, types.NewToolError(
		types.ErrAuthRequired,
		"no credentials supplied",
	).WithHint("supply an X-Api-Key header or an Authorization: Bearer token")
}

// Authorize decides whether the authenticated context may perform
// (resource, action). Every decision lands in the audit ring; denials are
// logged at warn.
func (g *Gate) Authorize(authCtx *Context, resource, action string, reqCtx map[string]string) error {
	allowed := g.roles.Allowed(authCtx.Roles, resource, action, reqCtx)

	entry := AuditEntry{
		Time:          time.Now(),
		Identity:      authCtx.Identity,
		Resource:      resource,
		Action:        action,
		Allowed:       allowed,
		SourceAddress: authCtx.SourceAddress,
	}
	if !allowed {
		entry.Reason = "no matching permission"
	}
	g.audit.append(entry)

	if !allowed {
		log.Warn().
			Str("identity", authCtx.Identity).
			Str("resource", resource).
			Str("action", action).
			Str("source", authCtx.SourceAddress).
			Msg("Permission denied")
		return types.NewToolError(
			fmt.Errorf("%w: %s on %s", types.ErrPermissionDenied, action, resource),
			fmt.Sprintf("identity %q may not perform %s on %s", authCtx.Identity, action, resource),
		).WithHint("grant a role containing this resource/action pair")
	}
	return nil
}

// AuditTrail returns the recorded decisions, oldest first.
func (g *Gate) AuditTrail() []AuditEntry {
	return g.audit.Entries()
}

// checkRate consumes one token from the global and per-identity buckets.
func (g *Gate) checkRate(rateKey string) error {
	if g.limits.allow(rateKey) {
		return nil
	}
	return types.NewToolError(
		fmt.Errorf("%w: identity %s", types.ErrRateLimited, rateKey),
		"rate limit exceeded",
	).WithHint("slow down or raise the configured rate limit")
}

// checkAddress applies the deny list first, then the allow list. An empty
// allow list admits every address the deny list did not reject.
func (g *Gate) checkAddress(addr string) error {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}

	for _, pattern := range g.cfg.AddressDenyList {
		if matchAddress(pattern, host) {
			log.Warn().Str("source", host).Str("pattern", pattern).Msg("Address denied")
			return types.NewToolError(
				fmt.Errorf("%w: address %s denied", types.ErrPermissionDenied, host),
				"source address is deny-listed",
			)
		}
	}

	if len(g.cfg.AddressAllowList) == 0 {
		return nil
	}
	for _, pattern := range g.cfg.AddressAllowList {
		if matchAddress(pattern, host) {
			return nil
		}
	}
	log.Warn().Str("source", host).Msg("Address not on allow list")
	return types.NewToolError(
		fmt.Errorf("%w: address %s not allowed", types.ErrPermissionDenied, host),
		"source address is not allow-listed",
	)
}

// matchAddress matches host against an exact address, a trailing-* wildcard,
// or a CIDR block.
func matchAddress(pattern, host string) bool {
	if strings.Contains(pattern, "/") {
		_, ipnet, err := net.ParseCIDR(pattern)
		if err != nil {
			return false
		}
		ip := net.ParseIP(host)
		return ip != nil && ipnet.Contains(ip)
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(host, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == host
}
