package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pierregrothe/graphrag-api-sub000/internal/domain"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	// Rotate atomically revokes the session matching id+hash and inserts next
	// in a single transaction. When the session is already revoked, expired,
	// or the hash does not match, no row is updated and gorm.ErrRecordNotFound
	// is returned; under concurrent calls exactly one succeeds.
	Rotate(ctx context.Context, sessionID uuid.UUID, providedHash string, next *domain.Session) (*domain.Session, error)
	RevokeByUserID(ctx context.Context, userID uuid.UUID) error
	DeleteExpired(ctx context.Context, before time.Time) error
}

type APIKeyRepository interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.APIKey, error)
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.APIKey, error)
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt time.Time) error
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Repositories struct {
	User    UserRepository
	Session SessionRepository
	APIKey  APIKeyRepository
}
