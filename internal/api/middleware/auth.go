package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pierregrothe/graphrag-api-sub000/internal/authz"
	"github.com/pierregrothe/graphrag-api-sub000/internal/domain"
	"github.com/pierregrothe/graphrag-api-sub000/internal/service"
)

type contextKey string

const authContextKey contextKey = "authContext"

// AuthContext is the resolved caller identity, set by Auth for every request
// that passes authentication. Exactly one of the two credential kinds is
// populated: a user token carries Roles and JTI, an API key carries APIKeyID
// and Scopes.
type AuthContext struct {
	UserID         uuid.UUID
	Roles          []string
	JTI            string
	TokenExpiresAt time.Time

	APIKeyID *uuid.UUID
	Scopes   []string
}

// IsAPIKey reports whether the caller authenticated with an API key.
func (a *AuthContext) IsAPIKey() bool {
	return a.APIKeyID != nil
}

// Subject converts the caller into an authorization subject. API key callers
// carry no roles; their scopes are checked separately.
func (a *AuthContext) Subject() authz.Subject {
	return authz.Subject{
		ID:    a.UserID.String(),
		Roles: a.Roles,
	}
}

// Auth authenticates the request from either a Bearer access token or an
// X-API-Key header. Bearer wins when both are present.
func Auth(tokens *service.TokenService, keys *service.APIKeyService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if header := r.Header.Get("Authorization"); header != "" {
				authenticateBearer(w, r, next, tokens, header)
				return
			}
			if key := r.Header.Get("X-API-Key"); key != "" {
				authenticateAPIKey(w, r, next, keys, key)
				return
			}

			http.Error(w, "Authorization required", http.StatusUnauthorized)
		})
	}
}

func authenticateBearer(w http.ResponseWriter, r *http.Request, next http.Handler, tokens *service.TokenService, header string) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
		return
	}

	claims, err := tokens.Verify(parts[1])
	if err != nil {
		log.Printf("ERROR [middleware.Auth] token verification failed: %v", err)
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		http.Error(w, "Invalid token claims", http.StatusUnauthorized)
		return
	}

	authCtx := &AuthContext{
		UserID:         userID,
		Roles:          claims.Roles,
		JTI:            claims.ID,
		TokenExpiresAt: claims.ExpiresAt.Time,
	}
	next.ServeHTTP(w, r.WithContext(withAuth(r.Context(), authCtx)))
}

func authenticateAPIKey(w http.ResponseWriter, r *http.Request, next http.Handler, keys *service.APIKeyService, plaintext string) {
	key, err := keys.Authenticate(r.Context(), plaintext, "", "")
	if err != nil {
		if rle, ok := domain.IsRateLimited(err); ok {
			writeRateLimited(w, rle)
			return
		}
		http.Error(w, "Invalid API key", http.StatusUnauthorized)
		return
	}

	keyID := key.ID
	authCtx := &AuthContext{
		UserID:   key.OwnerID,
		APIKeyID: &keyID,
		Scopes:   key.ScopeNames(),
	}
	next.ServeHTTP(w, r.WithContext(withAuth(r.Context(), authCtx)))
}

// RequirePermission gates a route on action:resource. Users are checked
// through the role engine, API keys through their scope grants. Denials are
// 403: the caller is known, just not allowed.
func RequirePermission(engine *authz.Engine, resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, ok := GetAuth(r.Context())
			if !ok {
				http.Error(w, "Authorization required", http.StatusUnauthorized)
				return
			}

			allowed := false
			if authCtx.IsAPIKey() {
				allowed = engine.ScopesAllow(authCtx.Scopes, "", resource, action)
			} else {
				allowed = engine.Evaluate(authCtx.Subject(), resource, action)
			}
			if !allowed {
				log.Printf("ERROR [middleware.RequirePermission] %s denied %s:%s", authCtx.UserID, action, resource)
				http.Error(w, "Permission denied", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// UsersOnly rejects API key callers. Session operations (logout, key
// management) belong to interactive users.
func UsersOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, ok := GetAuth(r.Context())
		if !ok {
			http.Error(w, "Authorization required", http.StatusUnauthorized)
			return
		}
		if authCtx.IsAPIKey() {
			http.Error(w, "Permission denied", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withAuth(ctx context.Context, authCtx *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, authCtx)
}

// GetAuth returns the caller identity set by Auth.
func GetAuth(ctx context.Context) (*AuthContext, bool) {
	authCtx, ok := ctx.Value(authContextKey).(*AuthContext)
	return authCtx, ok
}

func writeRateLimited(w http.ResponseWriter, rle *domain.RateLimitError) {
	seconds := int(rle.RetryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	http.Error(w, fmt.Sprintf("Rate limit exceeded, retry after %ds", seconds), http.StatusTooManyRequests)
}
