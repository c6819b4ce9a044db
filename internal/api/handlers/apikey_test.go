package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/pierregrothe/graphrag-api-sub000/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keyResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	KeyPrefix string   `json:"keyPrefix"`
	Scopes    []string `json:"scopes"`
	RateLimit int      `json:"rateLimit"`
	Key       string   `json:"key"`
}

func createKey(t *testing.T, ts *testutil.TestServer, token string, body map[string]any) keyResponse {
	t.Helper()

	req := testutil.AuthedRequest(t, http.MethodPost, ts.AuthURL("/api-keys"), token, body)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result keyResponse
	testutil.AssertJSONResponse(t, resp, &result)
	return result
}

func TestAPIKeyHandler_Create(t *testing.T) {
	ts := testutil.NewTestServer(t)

	_, login := testutil.NewUserBuilder().BuildAndLogin(t, ts)

	created := createKey(t, ts, login.AccessToken, map[string]any{
		"name":   "ingest pipeline",
		"scopes": []string{"read:documents"},
	})

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "ingest pipeline", created.Name)
	assert.Equal(t, []string{"read:documents"}, created.Scopes)
	assert.Equal(t, ts.Config.APIKeyDefaultRateLimit, created.RateLimit)
	// The plaintext is shown once and starts with the display prefix.
	assert.NotEmpty(t, created.Key)
	assert.Equal(t, created.Key[:len(created.KeyPrefix)], created.KeyPrefix)
}

func TestAPIKeyHandler_CreateValidation(t *testing.T) {
	ts := testutil.NewTestServer(t)

	_, login := testutil.NewUserBuilder().BuildAndLogin(t, ts)

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing name", body: map[string]any{"scopes": []string{"read:documents"}}},
		{name: "missing scopes", body: map[string]any{"name": "no scopes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.AuthedRequest(t, http.MethodPost, ts.AuthURL("/api-keys"), login.AccessToken, tt.body)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		})
	}
}

func TestAPIKeyHandler_CreateScopeEscalation(t *testing.T) {
	ts := testutil.NewTestServer(t)

	_, viewerLogin := testutil.NewUserBuilder().BuildAndLogin(t, ts)
	_, editorLogin := testutil.NewUserBuilder().WithRoles("editor").BuildAndLogin(t, ts)
	_, adminLogin := testutil.NewUserBuilder().WithRoles("admin").BuildAndLogin(t, ts)

	tests := []struct {
		name           string
		token          string
		scopes         []string
		expectedStatus int
	}{
		{
			name:           "viewer cannot mint a write key",
			token:          viewerLogin.AccessToken,
			scopes:         []string{"write:entities"},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "viewer cannot mint a wildcard key",
			token:          viewerLogin.AccessToken,
			scopes:         []string{"*"},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "viewer cannot smuggle one wide scope among narrow ones",
			token:          viewerLogin.AccessToken,
			scopes:         []string{"read:documents", "write:documents"},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "editor cannot mint a write wildcard key",
			token:          editorLogin.AccessToken,
			scopes:         []string{"write:*"},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "editor mints within its grants",
			token:          editorLogin.AccessToken,
			scopes:         []string{"write:entities"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "admin mints a write wildcard key",
			token:          adminLogin.AccessToken,
			scopes:         []string{"write:*"},
			expectedStatus: http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.AuthedRequest(t, http.MethodPost, ts.AuthURL("/api-keys"), tt.token, map[string]any{
				"name":   "delegation check",
				"scopes": tt.scopes,
			})
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

func TestAPIKeyHandler_AuthenticateWithKey(t *testing.T) {
	ts := testutil.NewTestServer(t)

	user, login := testutil.NewUserBuilder().BuildAndLogin(t, ts)
	created := createKey(t, ts, login.AccessToken, map[string]any{
		"name":   "reader",
		"scopes": []string{"read:documents"},
	})

	// An API key authenticates as its owner.
	req, err := http.NewRequest(http.MethodGet, ts.AuthURL("/me"), nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", created.Key)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		ID string `json:"id"`
	}
	testutil.AssertJSONResponse(t, resp, &result)
	assert.Equal(t, user.ID.String(), result.ID)
}

func TestAPIKeyHandler_InvalidKey(t *testing.T) {
	ts := testutil.NewTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.AuthURL("/me"), nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "grk_definitely-not-a-real-key")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIKeyHandler_KeyCannotManageKeys(t *testing.T) {
	ts := testutil.NewTestServer(t)

	_, login := testutil.NewUserBuilder().BuildAndLogin(t, ts)
	created := createKey(t, ts, login.AccessToken, map[string]any{
		"name":   "machine",
		"scopes": []string{"read:documents"},
	})

	// Key management requires an interactive user.
	req, err := http.NewRequest(http.MethodGet, ts.AuthURL("/api-keys"), nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", created.Key)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPIKeyHandler_List(t *testing.T) {
	ts := testutil.NewTestServer(t)

	_, login := testutil.NewUserBuilder().BuildAndLogin(t, ts)
	_, otherLogin := testutil.NewUserBuilder().BuildAndLogin(t, ts)

	createKey(t, ts, login.AccessToken, map[string]any{
		"name":   "mine",
		"scopes": []string{"read:documents"},
	})
	createKey(t, ts, otherLogin.AccessToken, map[string]any{
		"name":   "theirs",
		"scopes": []string{"read:documents"},
	})

	req := testutil.AuthedRequest(t, http.MethodGet, ts.AuthURL("/api-keys"), login.AccessToken, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var keys []keyResponse
	testutil.AssertJSONResponse(t, resp, &keys)
	require.Len(t, keys, 1)
	assert.Equal(t, "mine", keys[0].Name)
	// Listing never exposes plaintext.
	assert.Empty(t, keys[0].Key)
}

func TestAPIKeyHandler_Revoke(t *testing.T) {
	ts := testutil.NewTestServer(t)

	_, login := testutil.NewUserBuilder().BuildAndLogin(t, ts)
	created := createKey(t, ts, login.AccessToken, map[string]any{
		"name":   "doomed",
		"scopes": []string{"read:documents"},
	})

	req := testutil.AuthedRequest(t, http.MethodDelete, ts.AuthURL("/api-keys/"+created.ID), login.AccessToken, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Revocation is effective immediately.
	keyReq, err := http.NewRequest(http.MethodGet, ts.AuthURL("/me"), nil)
	require.NoError(t, err)
	keyReq.Header.Set("X-API-Key", created.Key)

	resp, err = http.DefaultClient.Do(keyReq)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Revoking again is a no-op.
	req = testutil.AuthedRequest(t, http.MethodDelete, ts.AuthURL("/api-keys/"+created.ID), login.AccessToken, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAPIKeyHandler_RevokeOtherOwner(t *testing.T) {
	ts := testutil.NewTestServer(t)

	_, ownerLogin := testutil.NewUserBuilder().BuildAndLogin(t, ts)
	created := createKey(t, ts, ownerLogin.AccessToken, map[string]any{
		"name":   "protected",
		"scopes": []string{"read:documents"},
	})

	// A plain user cannot revoke someone else's key.
	_, strangerLogin := testutil.NewUserBuilder().BuildAndLogin(t, ts)
	req := testutil.AuthedRequest(t, http.MethodDelete, ts.AuthURL("/api-keys/"+created.ID), strangerLogin.AccessToken, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// An admin can.
	_, adminLogin := testutil.NewUserBuilder().WithRoles("admin").BuildAndLogin(t, ts)
	req = testutil.AuthedRequest(t, http.MethodDelete, ts.AuthURL("/api-keys/"+created.ID), adminLogin.AccessToken, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAPIKeyHandler_Rotate(t *testing.T) {
	ts := testutil.NewTestServer(t)

	_, login := testutil.NewUserBuilder().WithRoles("editor").BuildAndLogin(t, ts)
	created := createKey(t, ts, login.AccessToken, map[string]any{
		"name":   "rotating",
		"scopes": []string{"read:documents", "write:documents"},
	})

	req := testutil.AuthedRequest(t, http.MethodPost, ts.AuthURL("/api-keys/"+created.ID+"/rotate"), login.AccessToken, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var rotated keyResponse
	testutil.AssertJSONResponse(t, resp, &rotated)
	assert.NotEqual(t, created.ID, rotated.ID)
	assert.NotEqual(t, created.Key, rotated.Key)
	assert.Equal(t, created.Name, rotated.Name)
	assert.ElementsMatch(t, created.Scopes, rotated.Scopes)

	// Both keys work during the grace window.
	for _, plaintext := range []string{created.Key, rotated.Key} {
		keyReq, err := http.NewRequest(http.MethodGet, ts.AuthURL("/me"), nil)
		require.NoError(t, err)
		keyReq.Header.Set("X-API-Key", plaintext)

		keyResp, err := http.DefaultClient.Do(keyReq)
		require.NoError(t, err)
		keyResp.Body.Close()
		assert.Equal(t, http.StatusOK, keyResp.StatusCode)
	}
}

func TestAPIKeyHandler_PerKeyRateLimit(t *testing.T) {
	ts := testutil.NewTestServer(t)

	_, login := testutil.NewUserBuilder().BuildAndLogin(t, ts)
	created := createKey(t, ts, login.AccessToken, map[string]any{
		"name":      "throttled",
		"scopes":    []string{"read:documents"},
		"rateLimit": 3,
	})

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req, err := http.NewRequest(http.MethodGet, ts.AuthURL("/me"), nil)
		require.NoError(t, err)
		req.Header.Set("X-API-Key", created.Key)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)

		if resp.StatusCode == http.StatusTooManyRequests {
			assert.NotEmpty(t, resp.Header.Get("Retry-After"))
		}
	}

	assert.Equal(t, []int{
		http.StatusOK,
		http.StatusOK,
		http.StatusOK,
		http.StatusTooManyRequests,
	}, statuses)
}

func TestAdminHandler_DeactivateUser(t *testing.T) {
	ts := testutil.NewTestServer(t)

	victim, victimLogin := testutil.NewUserBuilder().BuildAndLogin(t, ts)
	_, adminLogin := testutil.NewUserBuilder().WithRoles("admin").BuildAndLogin(t, ts)

	// Non-admins are denied.
	req := testutil.AuthedRequest(t, http.MethodPost, ts.AuthURL("/users/"+victim.ID.String()+"/deactivate"), victimLogin.AccessToken, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req = testutil.AuthedRequest(t, http.MethodPost, ts.AuthURL("/users/"+victim.ID.String()+"/deactivate"), adminLogin.AccessToken, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The deactivated account cannot log in or refresh.
	loginBody, _ := json.Marshal(map[string]string{
		"email":    victim.Email,
		"password": "testpassword123",
	})
	resp, err = http.Post(ts.AuthURL("/login"), "application/json", bytes.NewBuffer(loginBody))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	refreshBody, _ := json.Marshal(map[string]string{"refreshToken": victimLogin.RefreshToken})
	resp, err = http.Post(ts.AuthURL("/refresh"), "application/json", bytes.NewBuffer(refreshBody))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
