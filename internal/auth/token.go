package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/brainforce/apiserver/types"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload: the user's identity plus a profile snapshot
// taken at issuance. The snapshot is not refreshed when the stored profile
// changes; it goes stale for at most the token lifetime.
type Claims struct {
	ID        int    `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	Points    int    `json:"points"`
	Photo     string `json:"photo"`
	TotalQuiz int    `json:"totalquiz"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 tokens with a process-wide secret.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the lifetime of issued tokens.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token carrying the user's profile snapshot.
func (m *TokenManager) Issue(user types.User) (string, error) {
	now := m.now()
	claims := Claims{
		ID:        user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
		Username:  user.Username,
		Points:    user.Points,
		Photo:     user.Photo,
		TotalQuiz: user.TotalQuiz,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify returns the decoded claims, or nil when the token is malformed,
// expired, or signed with another key.
func (m *TokenManager) Verify(tokenString string) *Claims {
	claims, err := m.parse(tokenString)
	if err != nil {
		return nil
	}
	return claims
}

func (m *TokenManager) parse(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, errors.New("empty token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.ID < 1 {
		return nil, errors.New("missing subject")
	}
	return claims, nil
}
