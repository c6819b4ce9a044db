package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pierregrothe/graphrag-api-sub000/internal/domain"
	"gorm.io/gorm"
)

type sessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *sessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, session *domain.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Rotate is the check-and-set at the heart of refresh rotation. The UPDATE
// only matches a live session with the presented hash, so under concurrent
// refreshes of the same token exactly one transaction flips revoked and the
// rest see zero rows. The revoke and the successor insert commit together or
// not at all; a cancelled context rolls the whole transaction back.
func (r *sessionRepository) Rotate(ctx context.Context, sessionID uuid.UUID, providedHash string, next *domain.Session) (*domain.Session, error) {
	var old domain.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Session{}).
			Where("id = ? AND refresh_token_hash = ? AND revoked = false AND expires_at > ?",
				sessionID, providedHash, time.Now()).
			Update("revoked", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		if err := tx.First(&old, "id = ?", sessionID).Error; err != nil {
			return err
		}

		next.UserID = old.UserID
		if next.DeviceInfo == "" {
			next.DeviceInfo = old.DeviceInfo
		}
		return tx.Create(next).Error
	})
	if err != nil {
		return nil, err
	}
	return &old, nil
}

func (r *sessionRepository) RevokeByUserID(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("user_id = ? AND revoked = false", userID).
		Update("revoked", true).Error
}

func (r *sessionRepository) DeleteExpired(ctx context.Context, before time.Time) error {
	return r.db.WithContext(ctx).
		Delete(&domain.Session{}, "expires_at < ?", before).Error
}
