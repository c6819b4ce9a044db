package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pierregrothe/graphrag-api-sub000/internal/api/middleware"
	"github.com/pierregrothe/graphrag-api-sub000/internal/domain"
	"github.com/pierregrothe/graphrag-api-sub000/internal/service"
)

type APIKeyHandler struct {
	keyService *service.APIKeyService
}

func NewAPIKeyHandler(keyService *service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{keyService: keyService}
}

type CreateKeyRequest struct {
	Name      string   `json:"name"`
	Scopes    []string `json:"scopes"`
	RateLimit int      `json:"rateLimit,omitempty"`
	TTLDays   int      `json:"ttlDays,omitempty"`
}

type APIKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"keyPrefix"`
	Scopes     []string   `json:"scopes"`
	RateLimit  int        `json:"rateLimit"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// CreatedKeyResponse carries the plaintext key. It is returned only from
// creation and rotation; no other endpoint can reproduce it.
type CreatedKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

func toKeyResponse(key *domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         key.ID.String(),
		Name:       key.Name,
		KeyPrefix:  key.KeyPrefix,
		Scopes:     key.ScopeNames(),
		RateLimit:  key.RateLimit,
		ExpiresAt:  key.ExpiresAt,
		RevokedAt:  key.RevokedAt,
		LastUsedAt: key.LastUsedAt,
		CreatedAt:  key.CreatedAt,
	}
}

func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := middleware.GetAuth(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.keyService.Create(r.Context(), authCtx.Subject(), service.CreateKeyInput{
		OwnerID:   authCtx.UserID,
		Name:      req.Name,
		Scopes:    req.Scopes,
		RateLimit: req.RateLimit,
		TTL:       time.Duration(req.TTLDays) * 24 * time.Hour,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreatedKeyResponse{
		APIKeyResponse: toKeyResponse(created.Key),
		Key:            created.Plaintext,
	})
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := middleware.GetAuth(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	keys, err := h.keyService.List(r.Context(), authCtx.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]APIKeyResponse, 0, len(keys))
	for _, key := range keys {
		resp = append(resp, toKeyResponse(key))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := middleware.GetAuth(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	keyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid key ID", http.StatusBadRequest)
		return
	}

	if err := h.keyService.Revoke(r.Context(), authCtx.Subject(), keyID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *APIKeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := middleware.GetAuth(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	keyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid key ID", http.StatusBadRequest)
		return
	}

	created, err := h.keyService.Rotate(r.Context(), authCtx.Subject(), keyID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreatedKeyResponse{
		APIKeyResponse: toKeyResponse(created.Key),
		Key:            created.Plaintext,
	})
}
