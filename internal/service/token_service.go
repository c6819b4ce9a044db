package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pierregrothe/graphrag-api-sub000/internal/config"
	"github.com/pierregrothe/graphrag-api-sub000/internal/domain"
	"github.com/pierregrothe/graphrag-api-sub000/internal/revocation"
)

// AccessClaims are the claims carried by an access token: sub (user id),
// roles, and the registered iat/exp/jti set.
type AccessClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies access tokens and owns jti revocation.
// The revocation check is an in-memory lookup; Verify never performs I/O.
type TokenService struct {
	cfg      *config.Config
	registry *revocation.Registry
	method   jwt.SigningMethod
}

func NewTokenService(cfg *config.Config, registry *revocation.Registry) *TokenService {
	return &TokenService{
		cfg:      cfg,
		registry: registry,
		method:   jwt.GetSigningMethod(cfg.Algorithm),
	}
}

// IssueAccessToken signs a token for the user with a fresh jti.
func (s *TokenService) IssueAccessToken(user *domain.User) (string, *AccessClaims, error) {
	now := time.Now()
	claims := &AccessClaims{
		Roles: user.RoleNames(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString([]byte(s.cfg.SecretKey))
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify checks signature and expiry, then the jti against the revocation
// registry. Only domain errors cross this boundary.
func (s *TokenService) Verify(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{},
		func(t *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.SecretKey), nil
		},
		jwt.WithValidMethods([]string{s.cfg.Algorithm}),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, domain.ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, domain.ErrInvalidSignature
		default:
			return nil, domain.ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || claims.Subject == "" {
		return nil, domain.ErrInvalidToken
	}

	if s.registry.IsRevoked(claims.ID) {
		return nil, domain.ErrTokenRevoked
	}
	return claims, nil
}

// Revoke blacklists jti for the token's remaining lifetime.
func (s *TokenService) Revoke(jti string, expiresAt time.Time) {
	s.registry.Add(jti, expiresAt)
}

// Refresh tokens are opaque: base64url(sessionID || secret). Only the SHA-256
// of the secret is persisted, so a leaked sessions table cannot mint tokens.
const refreshSecretSize = 32

// NewRefreshToken generates the opaque token for a session and returns the
// plaintext together with the secret hash to persist.
func NewRefreshToken(sessionID uuid.UUID) (token string, secretHash string, err error) {
	secret := make([]byte, refreshSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}

	raw := make([]byte, 0, len(sessionID)+refreshSecretSize)
	raw = append(raw, sessionID[:]...)
	raw = append(raw, secret...)

	return base64.RawURLEncoding.EncodeToString(raw), hashSecret(secret), nil
}

// DecodeRefreshToken splits a presented token into the session id and the
// hash of its secret. Malformed input yields ErrInvalidToken.
func DecodeRefreshToken(token string) (uuid.UUID, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != 16+refreshSecretSize {
		return uuid.Nil, "", domain.ErrInvalidToken
	}

	sessionID, err := uuid.FromBytes(raw[:16])
	if err != nil {
		return uuid.Nil, "", domain.ErrInvalidToken
	}
	return sessionID, hashSecret(raw[16:]), nil
}

func hashSecret(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])
}
