package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pierregrothe/graphrag-api-sub000/internal/audit"
	"github.com/pierregrothe/graphrag-api-sub000/internal/config"
	"github.com/pierregrothe/graphrag-api-sub000/internal/domain"
	"github.com/pierregrothe/graphrag-api-sub000/internal/ratelimit"
	"github.com/pierregrothe/graphrag-api-sub000/internal/repository"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// dummyPasswordHash is compared against when the account does not exist, so
// login latency does not reveal whether an email is registered.
var dummyPasswordHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// AuthService is the session manager: it owns login, refresh-token rotation,
// and logout, and is the only writer of Session records.
type AuthService struct {
	userRepo     repository.UserRepository
	sessionRepo  repository.SessionRepository
	tokens       *TokenService
	loginLimiter *ratelimit.Limiter
	audit        *audit.Logger
	cfg          *config.Config
}

func NewAuthService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	tokens *TokenService,
	loginLimiter *ratelimit.Limiter,
	auditLog *audit.Logger,
	cfg *config.Config,
) *AuthService {
	return &AuthService{
		userRepo:     userRepo,
		sessionRepo:  sessionRepo,
		tokens:       tokens,
		loginLimiter: loginLimiter,
		audit:        auditLog,
		cfg:          cfg,
	}
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

type LoginInput struct {
	Email      string
	Password   string
	IP         string
	DeviceInfo string
}

type AuthResult struct {
	User         *domain.User
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if err := validateRegistration(input); err != nil {
		return nil, err
	}

	if existing, err := s.userRepo.GetByUsername(ctx, input.Username); err == nil && existing != nil {
		return nil, domain.ErrUserExists
	}
	if existing, err := s.userRepo.GetByEmail(ctx, input.Email); err == nil && existing != nil {
		return nil, domain.ErrEmailExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%w: hashing password", domain.ErrInternal)
	}

	user := &domain.User{
		ID:           uuid.New(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: string(hashedPassword),
		Roles:        domain.StringsJSON([]string{domain.RoleViewer.String()}),
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		// The uniqueness pre-checks race with concurrent registrations; the
		// losing insert lands here via the unique index, not as a 500.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if existing, lookupErr := s.userRepo.GetByUsername(ctx, input.Username); lookupErr == nil && existing != nil {
				return nil, domain.ErrUserExists
			}
			return nil, domain.ErrEmailExists
		}
		log.Printf("ERROR [auth.Register] creating user: %v", err)
		return nil, fmt.Errorf("%w: creating user", domain.ErrInternal)
	}

	s.audit.Record(audit.Event{
		EventType: audit.EventRegister,
		UserID:    user.ID.String(),
		Identity:  user.Email,
		Success:   true,
	})
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	identityKey := "login:" + input.Email
	ipKey := "login-ip:" + input.IP

	if ok, retryAfter := s.loginLimiter.Check(identityKey); !ok {
		s.recordLoginFailure(input, "", "rate limited")
		return nil, &domain.RateLimitError{RetryAfter: retryAfter}
	}
	if input.IP != "" {
		if ok, retryAfter := s.loginLimiter.Check(ipKey); !ok {
			s.recordLoginFailure(input, "", "rate limited")
			return nil, &domain.RateLimitError{RetryAfter: retryAfter}
		}
	}

	user, err := s.userRepo.GetByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Burn the same bcrypt cost as the known-account path.
			_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(input.Password))
			s.loginFailed(input, "")
			return nil, domain.ErrInvalidCredentials
		}
		log.Printf("ERROR [auth.Login] loading user: %v", err)
		return nil, fmt.Errorf("%w: loading user", domain.ErrInternal)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.loginFailed(input, user.ID.String())
		return nil, domain.ErrInvalidCredentials
	}

	if !user.IsActive {
		s.loginFailed(input, user.ID.String())
		return nil, domain.ErrInvalidCredentials
	}

	s.loginLimiter.Reset(identityKey)
	if input.IP != "" {
		s.loginLimiter.Reset(ipKey)
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := s.userRepo.Update(ctx, user); err != nil {
		log.Printf("ERROR [auth.Login] stamping last login: %v", err)
	}

	result, err := s.issueSession(ctx, user, input.DeviceInfo)
	if err != nil {
		return nil, err
	}

	s.audit.Record(audit.Event{
		EventType: audit.EventLogin,
		UserID:    user.ID.String(),
		Identity:  user.Email,
		IP:        input.IP,
		Success:   true,
	})
	return result, nil
}

// Refresh rotates the presented refresh token. The revoke-and-replace is a
// single transaction in the session store: under concurrent calls with the
// same token exactly one succeeds and the rest fail with ErrSessionRevoked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	sessionID, providedHash, err := DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	nextID := uuid.New()
	nextToken, nextHash, err := NewRefreshToken(nextID)
	if err != nil {
		return nil, fmt.Errorf("%w: generating refresh token", domain.ErrInternal)
	}

	next := &domain.Session{
		ID:               nextID,
		RefreshTokenHash: nextHash,
		ExpiresAt:        time.Now().Add(s.cfg.RefreshTokenTTL),
		CreatedAt:        time.Now(),
	}

	old, err := s.sessionRepo.Rotate(ctx, sessionID, providedHash, next)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.audit.Record(audit.Event{
				EventType: audit.EventRefresh,
				Metadata:  map[string]string{"session_id": sessionID.String()},
				Success:   false,
				Error:     "session revoked or unknown",
			})
			return nil, domain.ErrSessionRevoked
		}
		log.Printf("ERROR [auth.Refresh] rotating session: %v", err)
		return nil, fmt.Errorf("%w: rotating session", domain.ErrInternal)
	}

	user, err := s.userRepo.GetByID(ctx, old.UserID)
	if err != nil {
		log.Printf("ERROR [auth.Refresh] loading user: %v", err)
		return nil, fmt.Errorf("%w: loading user", domain.ErrInternal)
	}
	if !user.IsActive {
		// A deactivated account must not extend its sessions.
		_ = s.sessionRepo.RevokeByUserID(ctx, user.ID)
		return nil, domain.ErrInvalidCredentials
	}

	accessToken, _, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("%w: issuing access token", domain.ErrInternal)
	}

	s.audit.Record(audit.Event{
		EventType: audit.EventRefresh,
		UserID:    user.ID.String(),
		Success:   true,
	})
	return &AuthResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: nextToken,
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

// Logout revokes the user's sessions and blacklists the presented access
// token's jti for its remaining lifetime.
func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID, jti string, tokenExpiry time.Time) error {
	if err := s.sessionRepo.RevokeByUserID(ctx, userID); err != nil {
		log.Printf("ERROR [auth.Logout] revoking sessions: %v", err)
		return fmt.Errorf("%w: revoking sessions", domain.ErrInternal)
	}
	s.tokens.Revoke(jti, tokenExpiry)

	s.audit.Record(audit.Event{
		EventType: audit.EventLogout,
		UserID:    userID.String(),
		Success:   true,
	})
	return nil
}

// Deactivate soft-disables an account (admin action). The user row is kept;
// all sessions are revoked so no credential survives.
func (s *AuthService) Deactivate(ctx context.Context, userID uuid.UUID) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("%w: loading user", domain.ErrInternal)
	}

	user.IsActive = false
	user.UpdatedAt = time.Now()
	if err := s.userRepo.Update(ctx, user); err != nil {
		log.Printf("ERROR [auth.Deactivate] updating user: %v", err)
		return fmt.Errorf("%w: updating user", domain.ErrInternal)
	}
	if err := s.sessionRepo.RevokeByUserID(ctx, userID); err != nil {
		log.Printf("ERROR [auth.Deactivate] revoking sessions: %v", err)
		return fmt.Errorf("%w: revoking sessions", domain.ErrInternal)
	}

	s.audit.Record(audit.Event{
		EventType: audit.EventUserDeactivate,
		UserID:    userID.String(),
		Success:   true,
	})
	return nil
}

func (s *AuthService) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: loading user", domain.ErrInternal)
	}
	return user, nil
}

func (s *AuthService) issueSession(ctx context.Context, user *domain.User, deviceInfo string) (*AuthResult, error) {
	sessionID := uuid.New()
	refreshToken, secretHash, err := NewRefreshToken(sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: generating refresh token", domain.ErrInternal)
	}

	session := &domain.Session{
		ID:               sessionID,
		UserID:           user.ID,
		RefreshTokenHash: secretHash,
		DeviceInfo:       deviceInfo,
		ExpiresAt:        time.Now().Add(s.cfg.RefreshTokenTTL),
		CreatedAt:        time.Now(),
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		log.Printf("ERROR [auth.issueSession] creating session: %v", err)
		return nil, fmt.Errorf("%w: creating session", domain.ErrInternal)
	}

	accessToken, _, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("%w: issuing access token", domain.ErrInternal)
	}

	return &AuthResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

func (s *AuthService) loginFailed(input LoginInput, userID string) {
	s.loginLimiter.Incr("login:" + input.Email)
	if input.IP != "" {
		s.loginLimiter.Incr("login-ip:" + input.IP)
	}
	s.recordLoginFailure(input, userID, "invalid credentials")
}

func (s *AuthService) recordLoginFailure(input LoginInput, userID, reason string) {
	eventType := audit.EventLogin
	if reason == "rate limited" {
		eventType = audit.EventRateLimited
	}
	s.audit.Record(audit.Event{
		EventType: eventType,
		UserID:    userID,
		Identity:  input.Email,
		IP:        input.IP,
		Success:   false,
		Error:     reason,
	})
}

func validateRegistration(input RegisterInput) error {
	if len(input.Username) < 3 || len(input.Username) > 64 {
		return domain.ErrInvalidUsername
	}
	if _, err := mail.ParseAddress(input.Email); err != nil {
		return domain.ErrInvalidEmail
	}
	if len(input.Password) < 8 {
		return domain.ErrWeakPassword
	}
	return nil
}
