package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/browserctl/browserctl-go/internal/config"
)

// bearerClaims is the payload of a compact signed token.
type bearerClaims struct {
	Subject  string   `json:"sub"`
	Issuer   string   `json:"iss"`
	Audience string   `json:"aud"`
	IssuedAt int64    `json:"iat"`
	Expires  int64    `json:"exp"`
	Roles    []string `json:"roles,omitempty"`
}

// MintBearerToken produces a compact HMAC-SHA256 signed token:
// base64url(claims JSON) "." base64url(signature).
func MintBearerToken(cfg config.BearerConfig, subject string, roles []string, lifetime time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("bearer signer secret is empty")
	}
	now := time.Now()
	claims := bearerClaims{
		Subject:  subject,
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		IssuedAt: now.Unix(),
		Expires:  now.Add(lifetime).Unix(),
		Roles:    roles,
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	enc := base64.RawURLEncoding.EncodeToString(payload)
	return enc + "." + signPayload(cfg.Secret, enc), nil
}

// verifyBearerToken validates signature, issuer, audience, expiry, and the
// configured lifetime policy. Returns the claims on success.
func verifyBearerToken(cfg config.BearerConfig, token string) (*bearerClaims, error) {
	enc, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, fmt.Errorf("malformed token")
	}
	if !hmac.Equal([]byte(signPayload(cfg.Secret, enc)), []byte(sig)) {
		return nil, fmt.Errorf("bad signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}
	var claims bearerClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("malformed claims: %w", err)
	}

	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("unexpected issuer")
	}
	if cfg.Audience != "" && claims.Audience != cfg.Audience {
		return nil, fmt.Errorf("unexpected audience")
	}

	now := time.Now().Unix()
	if claims.Expires > 0 && now >= claims.Expires {
		return nil, fmt.Errorf("token expired")
	}
	if cfg.LifetimeSeconds > 0 && claims.Expires-claims.IssuedAt > int64(cfg.LifetimeSeconds) {
		return nil, fmt.Errorf("token lifetime exceeds policy")
	}

	return &claims, nil
}

func signPayload(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
