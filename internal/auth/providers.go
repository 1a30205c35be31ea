package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/browserctl/browserctl-go/internal/config"
	"github.com/browserctl/browserctl-go/internal/types"
)

// Context is the identity and rights attached to one in-flight call.
// It lives only for the request.
type Context struct {
	Identity      string
	Roles         []string
	Authenticated bool
	RateKey       string
	SourceAddress string
}

// Provider authenticates one credential style. Authenticate returns
// (nil, false, nil) when the request carries no credentials of this style so
// the chain can try the next provider; credentials that are present but
// invalid fail the request.
type Provider interface {
	Name() string
	Authenticate(call types.CallAuth) (*Context, bool, error)
}

// headerValue looks a header up case-insensitively.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// bearerFromHeaders extracts a bearer token from the Authorization header.
func bearerFromHeaders(headers map[string]string) string {
	h := headerValue(headers, "Authorization")
	if h == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// keyPrefix is how keys appear in logs; never the full secret.
func keyPrefix(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "..."
}

// apiKeyProvider matches the X-Api-Key header against configured entries.
type apiKeyProvider struct {
	entries []config.APIKeyEntry
}

func newAPIKeyProvider(entries []config.APIKeyEntry) *apiKeyProvider {
	return &apiKeyProvider{entries: entries}
}

func (p *apiKeyProvider) Name() string { return "api-key" }

func (p *apiKeyProvider) Authenticate(call types.CallAuth) (*Context, bool, error) {
	key := headerValue(call.Headers, "X-Api-Key")
	if key == "" {
		return nil, false, nil
	}
	// Every configured key is compared in constant time so a miss leaks no
	// timing signal about key prefixes.
	var entry *config.APIKeyEntry
	for i := range p.entries {
		if subtle.ConstantTimeCompare([]byte(p.entries[i].Key), []byte(key)) == 1 {
			entry = &p.entries[i]
		}
	}
	if entry == nil {
		log.Warn().Str("key_prefix", keyPrefix(key)).Msg("Unknown API key")
		return nil, true, fmt.Errorf("%w: unknown api key", types.ErrAuthFailed)
	}
	return &Context{
		Identity:      entry.Identity,
		Roles:         entry.Roles,
		Authenticated: true,
		RateKey:       entry.Identity,
		SourceAddress: call.SourceAddress,
	}, true, nil
}

// bearerProvider validates compact HMAC-signed tokens.
type bearerProvider struct {
	cfg config.BearerConfig
}

func (p *bearerProvider) Name() string { return "bearer-token" }

func (p *bearerProvider) Authenticate(call types.CallAuth) (*Context, bool, error) {
	token := bearerFromHeaders(call.Headers)
	if token == "" {
		return nil, false, nil
	}
	claims, err := verifyBearerToken(p.cfg, token)
	if err != nil {
		log.Warn().Str("reason", err.Error()).Msg("Bearer token rejected")
		return nil, true, fmt.Errorf("%w: %v", types.ErrAuthFailed, err)
	}
	return &Context{
		Identity:      claims.Subject,
		Roles:         claims.Roles,
		Authenticated: true,
		RateKey:       claims.Subject,
		SourceAddress: call.SourceAddress,
	}, true, nil
}

// oauthProvider delegates token validation to an introspection endpoint.
type oauthProvider struct {
	introspectionURL string
	client           *http.Client
}

func newOAuthProvider(introspectionURL string) *oauthProvider {
	return &oauthProvider{
		introspectionURL: introspectionURL,
		client:           &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *oauthProvider) Name() string { return "external-oauth" }

// introspection is the subset of RFC 7662 fields consumed here.
type introspection struct {
	Active   bool   `json:"active"`
	Subject  string `json:"sub"`
	Scope    string `json:"scope"`
	Username string `json:"username"`
}

func (p *oauthProvider) Authenticate(call types.CallAuth) (*Context, bool, error) {
	token := bearerFromHeaders(call.Headers)
	if token == "" {
		return nil, false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.introspectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, true, fmt.Errorf("%w: introspection request: %v", types.ErrAuthFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: introspection unreachable: %v", types.ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, true, fmt.Errorf("%w: introspection returned %d", types.ErrAuthFailed, resp.StatusCode)
	}

	var intro introspection
	if err := json.NewDecoder(resp.Body).Decode(&intro); err != nil {
		return nil, true, fmt.Errorf("%w: malformed introspection response: %v", types.ErrAuthFailed, err)
	}
	if !intro.Active {
		return nil, true, fmt.Errorf("%w: token not active", types.ErrAuthFailed)
	}

	identity := intro.Subject
	if identity == "" {
		identity = intro.Username
	}
	// Scopes map directly onto role names.
	roles := strings.Fields(intro.Scope)

	return &Context{
		Identity:      identity,
		Roles:         roles,
		Authenticated: true,
		RateKey:       identity,
		SourceAddress: call.SourceAddress,
	}, true, nil
}
