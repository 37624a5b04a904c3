package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"storyforge/api/internal/auth"
)

// Identity is a verified caller.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Username      string
}

// TokenVerifier validates an access token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Claims, error)
}

// ProfileFetcher fetches the provider profile for an access token.
type ProfileFetcher interface {
	Fetch(ctx context.Context, accessToken string) (auth.Profile, error)
}

// Resolver verifies tokens locally and enriches them with cached provider
// profile data.
type Resolver struct {
	verifier TokenVerifier
	userinfo ProfileFetcher
	cache    ProfileCache
	ttl      time.Duration
	logger   *slog.Logger
}

func NewResolver(verifier TokenVerifier, userinfo ProfileFetcher, cache ProfileCache, ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		verifier: verifier,
		userinfo: userinfo,
		cache:    cache,
		ttl:      ttl,
		logger:   logger,
	}
}

// Resolve verifies the token and returns the caller's identity. Tokens that
// carry an email claim are resolved from the claims alone; only email-less
// tokens (machine-to-machine grants) go to /userinfo, via the cache when
// fresh. A userinfo failure does not fail resolution: the token's own claims
// are enough to identify the caller.
func (r *Resolver) Resolve(ctx context.Context, token string) (Identity, error) {
	claims, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return Identity{}, err
	}

	ident := Identity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Username:      claims.Nickname,
	}

	if r.userinfo != nil && claims.Email == "" {
		if profile, ok := r.lookupProfile(ctx, token, claims.Subject); ok {
			applyProfile(&ident, profile)
		}
	}

	if ident.Username == "" {
		ident.Username = usernameFromEmail(ident.Email)
	}
	return ident, nil
}

func (r *Resolver) lookupProfile(ctx context.Context, token, subject string) (auth.Profile, bool) {
	hash := hashToken(token)

	if r.cache != nil {
		profile, ok, err := r.cache.Get(ctx, hash)
		if err != nil {
			r.logger.Warn("profile cache lookup failed", "error", err)
		} else if ok && profile.Subject == subject {
			return profile, true
		}
	}

	profile, err := r.userinfo.Fetch(ctx, token)
	if err != nil {
		r.logger.Warn("userinfo fetch failed", "error", err)
		return auth.Profile{}, false
	}
	if profile.Subject != subject {
		r.logger.Warn("userinfo subject mismatch", "token_subject", subject, "profile_subject", profile.Subject)
		return auth.Profile{}, false
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, hash, profile, r.ttl); err != nil {
			r.logger.Warn("profile cache write failed", "error", err)
		}
	}
	return profile, true
}

func applyProfile(ident *Identity, profile auth.Profile) {
	if profile.Email != "" {
		ident.Email = profile.Email
		ident.EmailVerified = profile.EmailVerified
	}
	if profile.Nickname != "" {
		ident.Username = profile.Nickname
	} else if profile.Name != "" && ident.Username == "" {
		ident.Username = profile.Name
	}
}

func usernameFromEmail(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found {
		return email
	}
	return local
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
