package app

import (
	"context"
	"errors"

	"github.com/vidgate/vidgate/domain/auth"
	"github.com/vidgate/vidgate/domain/key"
	"github.com/vidgate/vidgate/domain/ratelimit"
	"github.com/vidgate/vidgate/ports"
)

// ErrUnauthorized is returned when a presented key fails authentication.
// Unauthenticated requests never consume rate limit quota.
var ErrUnauthorized = errors.New("invalid API key")

// Admission is the outcome of a successful authentication plus window
// check.
type Admission struct {
	// KeyID identifies the credential for auditing: a minted key's ID,
	// or "secret" for the shared secret. Never the raw key.
	KeyID    string
	Decision ratelimit.Decision
}

// AdmissionService authenticates a presented key and charges the rate
// limit windows. Authentication runs first so failed auth leaves the
// counters untouched.
type AdmissionService struct {
	authenticator *auth.Authenticator
	keys          ports.KeyStore // optional; nil disables minted keys
	limiter       *LimiterService
	clock         ports.Clock
	keyPrefix     string
}

// AdmissionDeps contains dependencies for AdmissionService.
type AdmissionDeps struct {
	Authenticator *auth.Authenticator
	Keys          ports.KeyStore
	Limiter       *LimiterService
	Clock         ports.Clock
	KeyPrefix     string
}

// NewAdmissionService creates a new admission service.
func NewAdmissionService(deps AdmissionDeps) *AdmissionService {
	return &AdmissionService{
		authenticator: deps.Authenticator,
		keys:          deps.Keys,
		limiter:       deps.Limiter,
		clock:         deps.Clock,
		keyPrefix:     deps.KeyPrefix,
	}
}

// Admit authenticates the presented key and charges the route and global
// windows. A rate-limited request returns a non-allowed Decision, not an
// error; ErrUnauthorized means nothing was charged.
func (s *AdmissionService) Admit(ctx context.Context, presentedKey string, route ratelimit.Route) (Admission, error) {
	keyID, ok := s.authenticate(ctx, presentedKey)
	if !ok {
		return Admission{}, ErrUnauthorized
	}

	decision, err := s.limiter.Check(ctx, presentedKey, route)
	if err != nil {
		return Admission{}, err
	}
	return Admission{KeyID: keyID, Decision: decision}, nil
}

// authenticate resolves a presented key to a credential ID. The shared
// secret is checked first (constant-time); minted keys are looked up by
// prefix and matched by hash.
func (s *AdmissionService) authenticate(ctx context.Context, presentedKey string) (string, bool) {
	if s.authenticator.Authenticate(presentedKey) {
		return "secret", true
	}

	if s.keys == nil {
		return "", false
	}

	prefix, valid := key.ValidateFormat(presentedKey, s.keyPrefix)
	if !valid {
		return "", false
	}

	candidates, err := s.keys.Get(ctx, prefix)
	if err != nil {
		return "", false
	}

	now := s.clock.Now()
	for _, k := range candidates {
		if !key.Matches(k, presentedKey) {
			continue
		}
		if res := key.Validate(k, now); !res.Valid {
			return "", false
		}
		// Best effort; admission does not depend on it.
		go s.keys.UpdateLastUsed(context.Background(), k.ID, now)
		return k.ID, true
	}
	return "", false
}
