package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pierregrothe/graphrag-api-sub000/internal/audit"
	"github.com/pierregrothe/graphrag-api-sub000/internal/authz"
	"github.com/pierregrothe/graphrag-api-sub000/internal/config"
	"github.com/pierregrothe/graphrag-api-sub000/internal/domain"
	"github.com/pierregrothe/graphrag-api-sub000/internal/ratelimit"
	"github.com/pierregrothe/graphrag-api-sub000/internal/repository"
	"gorm.io/gorm"
)

const (
	apiKeyPrefix     = "grk_"
	apiKeySecretSize = 32
	apiKeyPrefixLen  = 12
)

// APIKeyService manages machine credentials. The plaintext key is returned
// exactly once at creation; only its SHA-256 hash is stored.
type APIKeyService struct {
	keyRepo    repository.APIKeyRepository
	keyLimiter *ratelimit.Limiter
	engine     *authz.Engine
	audit      *audit.Logger
	cfg        *config.Config
}

func NewAPIKeyService(
	keyRepo repository.APIKeyRepository,
	keyLimiter *ratelimit.Limiter,
	engine *authz.Engine,
	auditLog *audit.Logger,
	cfg *config.Config,
) *APIKeyService {
	return &APIKeyService{
		keyRepo:    keyRepo,
		keyLimiter: keyLimiter,
		engine:     engine,
		audit:      auditLog,
		cfg:        cfg,
	}
}

type CreateKeyInput struct {
	OwnerID   uuid.UUID
	Name      string
	Scopes    []string
	RateLimit int
	TTL       time.Duration
}

// CreatedKey pairs the stored record with the one-time plaintext.
type CreatedKey struct {
	Key       *domain.APIKey
	Plaintext string
}

// Create mints a key for the owner after checking that every requested scope
// is covered by the owner's own role grants. A key is a delegation, never an
// escalation: a viewer cannot mint itself a write-capable credential.
func (s *APIKeyService) Create(ctx context.Context, owner authz.Subject, input CreateKeyInput) (*CreatedKey, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: key name is required", domain.ErrValidation)
	}
	if len(input.Scopes) == 0 {
		return nil, fmt.Errorf("%w: at least one scope is required", domain.ErrValidation)
	}
	for _, scope := range input.Scopes {
		if !s.engine.Covers(owner, scope) {
			s.audit.Record(audit.Event{
				EventType: audit.EventAPIKeyCreated,
				UserID:    input.OwnerID.String(),
				Success:   false,
				Error:     fmt.Sprintf("scope %q exceeds owner grants", scope),
			})
			return nil, fmt.Errorf("%w: scope %q exceeds owner grants", domain.ErrInsufficientScope, scope)
		}
	}

	return s.mint(ctx, input)
}

// mint creates the key record without re-checking scopes. Rotation reuses it:
// the copied scopes were validated when the original key was created.
func (s *APIKeyService) mint(ctx context.Context, input CreateKeyInput) (*CreatedKey, error) {
	plaintext, hash, err := newAPIKeySecret()
	if err != nil {
		return nil, fmt.Errorf("%w: generating key", domain.ErrInternal)
	}

	rateLimit := input.RateLimit
	if rateLimit <= 0 {
		rateLimit = s.cfg.APIKeyDefaultRateLimit
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.cfg.APIKeyDefaultTTL
	}

	key := &domain.APIKey{
		ID:        uuid.New(),
		OwnerID:   input.OwnerID,
		Name:      input.Name,
		KeyHash:   hash,
		KeyPrefix: plaintext[:apiKeyPrefixLen],
		Scopes:    domain.StringsJSON(input.Scopes),
		RateLimit: rateLimit,
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
	}
	if err := s.keyRepo.Create(ctx, key); err != nil {
		log.Printf("ERROR [apikey.mint] creating key: %v", err)
		return nil, fmt.Errorf("%w: creating key", domain.ErrInternal)
	}

	s.audit.Record(audit.Event{
		EventType: audit.EventAPIKeyCreated,
		UserID:    input.OwnerID.String(),
		Identity:  key.KeyPrefix,
		Success:   true,
	})
	return &CreatedKey{Key: key, Plaintext: plaintext}, nil
}

// Authenticate resolves a presented plaintext key. Revoked, expired, and
// unknown keys all fail with the same error so callers cannot probe which
// keys exist. A valid key is then checked against its own rate limit and,
// when resource and action are set, against its scope grants.
func (s *APIKeyService) Authenticate(ctx context.Context, plaintext, resource, action string) (*domain.APIKey, error) {
	hash := hashAPIKey(plaintext)

	key, err := s.keyRepo.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.audit.Record(audit.Event{
				EventType: audit.EventAPIKeyAuth,
				Success:   false,
				Error:     "unknown key",
			})
			return nil, domain.ErrInvalidAPIKey
		}
		log.Printf("ERROR [apikey.Authenticate] loading key: %v", err)
		return nil, fmt.Errorf("%w: loading key", domain.ErrInternal)
	}

	if key.IsRevoked() || key.IsExpired(time.Now()) {
		s.audit.Record(audit.Event{
			EventType: audit.EventAPIKeyAuth,
			UserID:    key.OwnerID.String(),
			Identity:  key.KeyPrefix,
			Success:   false,
			Error:     "key revoked or expired",
		})
		return nil, domain.ErrInvalidAPIKey
	}

	if ok, retryAfter := s.keyLimiter.AllowLimit("key:"+key.ID.String(), key.RateLimit); !ok {
		s.audit.Record(audit.Event{
			EventType: audit.EventRateLimited,
			UserID:    key.OwnerID.String(),
			Identity:  key.KeyPrefix,
			Success:   false,
			Error:     "rate limited",
		})
		return nil, &domain.RateLimitError{RetryAfter: retryAfter}
	}

	if resource != "" && action != "" {
		if !s.engine.ScopesAllow(key.ScopeNames(), "", resource, action) {
			s.audit.Record(audit.Event{
				EventType: audit.EventAPIKeyAuth,
				UserID:    key.OwnerID.String(),
				Identity:  key.KeyPrefix,
				Success:   false,
				Error:     fmt.Sprintf("scope does not cover %s:%s", action, resource),
			})
			return nil, domain.ErrInsufficientScope
		}
	}

	// Best effort: a failed stamp must not fail the request.
	if err := s.keyRepo.TouchLastUsed(ctx, key.ID, time.Now()); err != nil {
		log.Printf("ERROR [apikey.Authenticate] stamping last used: %v", err)
	}

	s.audit.Record(audit.Event{
		EventType: audit.EventAPIKeyAuth,
		UserID:    key.OwnerID.String(),
		Identity:  key.KeyPrefix,
		Success:   true,
	})
	return key, nil
}

// Revoke terminally disables a key. The caller must own the key or hold the
// revoke:any-key permission. Revoking an already-revoked key is a no-op.
func (s *APIKeyService) Revoke(ctx context.Context, caller authz.Subject, keyID uuid.UUID) error {
	key, err := s.getKey(ctx, keyID)
	if err != nil {
		return err
	}

	if key.OwnerID.String() != caller.ID && !s.engine.Evaluate(caller, "any-key", "revoke") {
		return domain.ErrPermissionDenied
	}

	if key.IsRevoked() {
		return nil
	}

	if err := s.keyRepo.Revoke(ctx, keyID, time.Now()); err != nil {
		log.Printf("ERROR [apikey.Revoke] revoking key: %v", err)
		return fmt.Errorf("%w: revoking key", domain.ErrInternal)
	}

	s.audit.Record(audit.Event{
		EventType: audit.EventAPIKeyRevoked,
		UserID:    caller.ID,
		Identity:  key.KeyPrefix,
		Metadata:  map[string]string{"key_id": keyID.String()},
		Success:   true,
	})
	return nil
}

// Rotate issues a replacement key with the same name, scopes, and rate limit,
// then clamps the old key's expiry to a short grace window so in-flight
// clients can switch over without an outage.
func (s *APIKeyService) Rotate(ctx context.Context, caller authz.Subject, keyID uuid.UUID) (*CreatedKey, error) {
	key, err := s.getKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key.OwnerID.String() != caller.ID && !s.engine.Evaluate(caller, "any-key", "revoke") {
		return nil, domain.ErrPermissionDenied
	}
	if key.IsRevoked() || key.IsExpired(time.Now()) {
		return nil, domain.ErrInvalidAPIKey
	}

	created, err := s.mint(ctx, CreateKeyInput{
		OwnerID:   key.OwnerID,
		Name:      key.Name,
		Scopes:    key.ScopeNames(),
		RateLimit: key.RateLimit,
	})
	if err != nil {
		return nil, err
	}

	graceEnd := time.Now().Add(s.cfg.APIKeyRotationGrace)
	if graceEnd.Before(key.ExpiresAt) {
		if err := s.keyRepo.UpdateExpiry(ctx, keyID, graceEnd); err != nil {
			log.Printf("ERROR [apikey.Rotate] clamping old key expiry: %v", err)
			return nil, fmt.Errorf("%w: expiring old key", domain.ErrInternal)
		}
	}

	s.audit.Record(audit.Event{
		EventType: audit.EventAPIKeyRotated,
		UserID:    caller.ID,
		Identity:  key.KeyPrefix,
		Metadata: map[string]string{
			"old_key_id": keyID.String(),
			"new_key_id": created.Key.ID.String(),
		},
		Success: true,
	})
	return created, nil
}

func (s *APIKeyService) List(ctx context.Context, ownerID uuid.UUID) ([]*domain.APIKey, error) {
	keys, err := s.keyRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		log.Printf("ERROR [apikey.List] listing keys: %v", err)
		return nil, fmt.Errorf("%w: listing keys", domain.ErrInternal)
	}
	return keys, nil
}

func (s *APIKeyService) getKey(ctx context.Context, keyID uuid.UUID) (*domain.APIKey, error) {
	key, err := s.keyRepo.GetByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrKeyNotFound
		}
		log.Printf("ERROR [apikey.getKey] loading key: %v", err)
		return nil, fmt.Errorf("%w: loading key", domain.ErrInternal)
	}
	return key, nil
}

// newAPIKeySecret builds the plaintext key and its storage hash. The prefix
// marks the credential type in logs and support tickets without leaking the
// secret.
func newAPIKeySecret() (plaintext, hash string, err error) {
	secret := make([]byte, apiKeySecretSize)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}
	plaintext = apiKeyPrefix + base64.RawURLEncoding.EncodeToString(secret)
	return plaintext, hashAPIKey(plaintext), nil
}

func hashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
