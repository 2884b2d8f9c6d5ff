package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/brainforce/apiserver/internal/auth"
)

var (
	errMissingToken  = errors.New("missing bearer token")
	errMalformedAuth = errors.New("malformed authorization header")
)

// TokenVerifier is satisfied by *auth.TokenManager.
type TokenVerifier interface {
	Verify(token string) *auth.Claims
}

// RequireAuth rejects requests without a valid bearer token and stores the
// token's claims on the request context. Rejections carry a
// WWW-Authenticate challenge.
func RequireAuth(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				challenge(w, err)
				return
			}
			claims := tokens.Verify(token)
			if claims == nil {
				challenge(w, errors.New("invalid or expired token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

func challenge(w http.ResponseWriter, err error) {
	value := `Bearer realm="brainforce"`
	if !errors.Is(err, errMissingToken) {
		value += `, error="invalid_token"`
	}
	w.Header().Set("WWW-Authenticate", value)
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errMalformedAuth
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errMalformedAuth
	}
	return token, nil
}
