package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brainforce/apiserver/internal/auth"
	"github.com/brainforce/apiserver/types"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	user := env.register(t, "A@B.com", "abc")
	require.Equal(t, "a@b.com", user.Email)
	require.Equal(t, "abc", user.Username)

	rec := env.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "a@b.com", "password": "password1", "username": "abc",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Duplicate email: a@b.com", decodeError(t, rec))

	token := env.login(t, "A@b.COM")
	claims := env.tokens.Verify(token)
	require.NotNil(t, claims)
	require.Equal(t, user.ID, claims.ID)

	rec = env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "a@b.com", "password": "nope-nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid email/password", decodeError(t, rec))

	rec = env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ghost@b.com", "password": "password1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid email/password", decodeError(t, rec))
}

func TestRegisterValidationMessages(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "nope", "password": "short", "username": "x",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Password must be at least 8 characters", decodeError(t, rec))

	rec = env.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "a@b.com", "password": "password1", "username": "abc", "points": -1,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Points must be between 0 and 2147483647", decodeError(t, rec))

	rec = env.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "a@b.com", "password": strings.Repeat("é", 40), "username": "abc",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Password must be at most 72 bytes", decodeError(t, rec))

	rec = env.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "a@b.com", "password": "short", "username": strings.Repeat("u", 60),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Password must be at least 8 characters", decodeError(t, rec))

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader("{"))
	raw := httptest.NewRecorder()
	env.router.ServeHTTP(raw, req)
	require.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestProfileAndMe(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.register(t, "a@b.com", "abc")
	token := env.login(t, "a@b.com")

	rec := env.do(t, http.MethodPost, "/auth/profile", "", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, rec.Code)
	var claims auth.Claims
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&claims))
	require.Equal(t, "abc", claims.Username)

	rec = env.do(t, http.MethodPost, "/auth/profile", "", map[string]string{"token": "garbage"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	rec = env.do(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, `Bearer realm="brainforce"`, rec.Header().Get("WWW-Authenticate"))
	rec = env.do(t, http.MethodGet, "/auth/me", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="invalid_token"`)
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		token  string
		err    error
	}{
		"missing":     {"", "", errMissingToken},
		"bearer":      {"Bearer abc.def", "abc.def", nil},
		"lower case":  {"bearer   abc.def ", "abc.def", nil},
		"basic":       {"Basic dXNlcg==", "", errMalformedAuth},
		"empty token": {"Bearer ", "", errMalformedAuth},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			token, err := bearerToken(req)
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.token, token)
		})
	}
}

func TestUpdateScoreRequiresOwnership(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.register(t, "a@b.com", "abc")
	env.register(t, "c@d.com", "cde")
	token := env.login(t, "a@b.com")

	rec := env.do(t, http.MethodPost, "/auth/update", "", map[string]any{"email": "a@b.com", "points": 5})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/update", token, map[string]any{"email": "c@d.com", "points": 5})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/update", token, map[string]any{"email": "A@b.com", "points": 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var update types.ScoreUpdate
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&update))
	require.Equal(t, types.ScoreUpdate{Points: 5, TotalQuiz: 1}, update)
}

func TestUpdatePhotoReturnsRefreshedToken(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.register(t, "a@b.com", "abc")
	token := env.login(t, "a@b.com")

	rec := env.do(t, http.MethodPost, "/auth/photo", token, map[string]string{
		"email": "a@b.com", "photo": "https://cdn.example.com/me.png",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	claims := env.tokens.Verify(resp.Token)
	require.NotNil(t, claims)
	require.Equal(t, "https://cdn.example.com/me.png", claims.Photo)
}

func TestUploadAndServePhoto(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.register(t, "a@b.com", "abc")
	token := env.login(t, "a@b.com")

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRpixels")
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("photo", "me.png")
	require.NoError(t, err)
	_, err = part.Write(png)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/auth/photo/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp PhotoUploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.True(t, strings.HasPrefix(resp.Photo, "/auth/photos/"))
	require.Equal(t, resp.Photo, env.tokens.Verify(resp.Token).Photo)

	rec = env.do(t, http.MethodGet, resp.Photo, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	data, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Equal(t, png, data)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	require.Contains(t, rec.Header().Get("Cache-Control"), "immutable")

	req = httptest.NewRequest(http.MethodGet, resp.Photo, nil)
	req.Header.Set("If-None-Match", `"stale", `+etag)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotModified, rec.Code)
	require.Zero(t, rec.Body.Len())

	rec = env.do(t, http.MethodGet, "/auth/photos/missing.png", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
