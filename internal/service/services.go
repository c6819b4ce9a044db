package service

import (
	"github.com/pierregrothe/graphrag-api-sub000/internal/audit"
	"github.com/pierregrothe/graphrag-api-sub000/internal/authz"
	"github.com/pierregrothe/graphrag-api-sub000/internal/config"
	"github.com/pierregrothe/graphrag-api-sub000/internal/ratelimit"
	"github.com/pierregrothe/graphrag-api-sub000/internal/repository"
	"github.com/pierregrothe/graphrag-api-sub000/internal/revocation"
)

// Services bundles the service layer for injection into handlers.
type Services struct {
	Token  *TokenService
	Auth   *AuthService
	APIKey *APIKeyService
	Authz  *authz.Engine
	Audit  *audit.Logger
}

// Deps are the shared process-wide components the services are built from.
// They are constructed once in main and injected; nothing here is a global.
type Deps struct {
	Repos        *repository.Repositories
	Registry     *revocation.Registry
	LoginLimiter *ratelimit.Limiter
	KeyLimiter   *ratelimit.Limiter
	Audit        *audit.Logger
	Config       *config.Config
}

func NewServices(d Deps) *Services {
	engine := authz.NewEngine()
	tokens := NewTokenService(d.Config, d.Registry)

	return &Services{
		Token:  tokens,
		Auth:   NewAuthService(d.Repos.User, d.Repos.Session, tokens, d.LoginLimiter, d.Audit, d.Config),
		APIKey: NewAPIKeyService(d.Repos.APIKey, d.KeyLimiter, engine, d.Audit, d.Config),
		Authz:  engine,
		Audit:  d.Audit,
	}
}
