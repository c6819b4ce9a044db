package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type User struct {
	ID           uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Username     string         `json:"username" gorm:"uniqueIndex;not null"`
	Email        string         `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string         `json:"-" gorm:"not null"`
	Roles        datatypes.JSON `json:"roles" gorm:"not null"`
	IsActive     bool           `json:"isActive" gorm:"not null;default:true"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	LastLoginAt  *time.Time     `json:"lastLoginAt,omitempty"`
}

// RoleNames decodes the JSON roles column. A corrupt column yields no roles,
// which the authorization engine treats as deny-all.
func (u *User) RoleNames() []string {
	var roles []string
	if err := json.Unmarshal(u.Roles, &roles); err != nil {
		return nil
	}
	return roles
}

// StringsJSON encodes a string set for a JSON column (roles, scopes).
func StringsJSON(values []string) datatypes.JSON {
	data, _ := json.Marshal(values)
	return datatypes.JSON(data)
}

// Session is one refresh-token record. Rotation revokes the old row and
// inserts a successor; a revoked session is never reactivated.
type Session struct {
	ID               uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID           uuid.UUID `json:"userId" gorm:"type:uuid;not null;index"`
	RefreshTokenHash string    `json:"-" gorm:"not null;index"`
	DeviceInfo       string    `json:"deviceInfo"`
	ExpiresAt        time.Time `json:"expiresAt" gorm:"not null"`
	Revoked          bool      `json:"revoked" gorm:"not null;default:false"`
	CreatedAt        time.Time `json:"createdAt"`
}

// APIKey stores only the SHA-256 hash of the key plus a short display prefix.
// Key records are never mutated after creation except for revocation and the
// last-used stamp; rotation creates a new row.
type APIKey struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OwnerID    uuid.UUID      `json:"ownerId" gorm:"type:uuid;not null;index"`
	Name       string         `json:"name" gorm:"not null"`
	KeyHash    string         `json:"-" gorm:"uniqueIndex;not null"`
	KeyPrefix  string         `json:"keyPrefix" gorm:"not null"`
	Scopes     datatypes.JSON `json:"scopes" gorm:"not null"`
	RateLimit  int            `json:"rateLimit" gorm:"not null"`
	ExpiresAt  time.Time      `json:"expiresAt" gorm:"not null"`
	RevokedAt  *time.Time     `json:"revokedAt,omitempty"`
	LastUsedAt *time.Time     `json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func (k *APIKey) ScopeNames() []string {
	var scopes []string
	if err := json.Unmarshal(k.Scopes, &scopes); err != nil {
		return nil
	}
	return scopes
}

func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

func (k *APIKey) IsExpired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}
