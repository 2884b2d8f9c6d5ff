package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/brainforce/apiserver/internal/auth"
	"github.com/brainforce/apiserver/internal/events"
	"github.com/brainforce/apiserver/internal/metrics"
	"github.com/brainforce/apiserver/internal/store"
	"github.com/brainforce/apiserver/types"
)

const (
	minPasswordLength = 8
	minUsernameLength = 3
	maxUsernameLength = 50
	maxEmailLength    = 254
	maxNameLength     = 100
	maxPhotoLength    = 2048
)

const placeholderPassword = "placeholder-password"


// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	IncrementScore(ctx context.Context, email string, delta int) (types.ScoreUpdate, error)
	UpdatePhoto(ctx context.Context, email, photo string) (types.User, error)
}

// LeaderboardCache is the read-through cache in front of the leaderboard.
type LeaderboardCache interface {
	Get(ctx context.Context) ([]types.LeaderboardEntry, bool, error)
	Set(ctx context.Context, entries []types.LeaderboardEntry) error
	Invalidate(ctx context.Context) error
}

// PhotoReleaser drops the stored object behind a replaced photo reference.
type PhotoReleaser interface {
	Release(ctx context.Context, ref string)
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Username  string
	Points    int
	Photo     string
	TotalQuiz int
}

// AuthDeps groups the collaborators of AuthService. Users, Hasher and Tokens
// are required; the rest may be nil.
type AuthDeps struct {
	Users       UserRepository
	Hasher      *auth.PasswordHasher
	Tokens      *auth.TokenManager
	Leaderboard LeaderboardCache
	Photos      PhotoReleaser
	Events      *events.Emitter
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// AuthService owns registration, login, tokens and profile updates.
type AuthService struct {
	users       UserRepository
	hasher      *auth.PasswordHasher
	tokens      *auth.TokenManager
	leaderboard LeaderboardCache
	photos      PhotoReleaser
	events      *events.Emitter
	metrics     *metrics.Metrics
	logger      *slog.Logger

	// dummyHash is compared against on unknown emails so a miss costs as
	// much as a wrong password. Empty when it could not be computed.
	dummyHash string
}

func NewAuthService(deps AuthDeps) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &AuthService{
		users:       deps.Users,
		hasher:      deps.Hasher,
		tokens:      deps.Tokens,
		leaderboard: deps.Leaderboard,
		photos:      deps.Photos,
		events:      deps.Events,
		metrics:     deps.Metrics,
		logger:      logger,
	}
	hash, err := s.hasher.Hash(placeholderPassword)
	if err != nil {
		logger.Error("hash placeholder password", slog.String("error", err.Error()))
	}
	s.dummyHash = hash
	return s
}

// NormalizeEmail trims and lower-cases an email address. Registration and
// every lookup go through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register validates in, failing fast on the first violated rule, and
// stores a new user with a hashed password.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (types.User, error) {
	if err := validateRegistration(in); err != nil {
		s.metrics.ObserveRegistration("invalid")
		return types.User{}, err
	}

	email := NormalizeEmail(in.Email)
	duplicate := &ConflictError{Message: "Duplicate email: " + email}

	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		s.metrics.ObserveRegistration("duplicate")
		return types.User{}, duplicate
	case !errors.Is(err, store.ErrNotFound):
		return types.User{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		s.metrics.ObserveRegistration("invalid")
		return types.User{}, validationError(passwordTooLong)
	}
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, types.User{
		Email:        email,
		Username:     strings.TrimSpace(in.Username),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Photo:        strings.TrimSpace(in.Photo),
		Points:       in.Points,
		TotalQuiz:    in.TotalQuiz,
		PasswordHash: hash,
	})
	if err != nil {
		// Lost a race with a concurrent registration of the same email.
		if errors.Is(err, store.ErrDuplicate) {
			s.metrics.ObserveRegistration("duplicate")
			return types.User{}, duplicate
		}
		if errors.Is(err, store.ErrOutOfRange) {
			return types.User{}, validationError("Points out of range")
		}
		return types.User{}, fmt.Errorf("create user: %w", err)
	}

	s.invalidateLeaderboard(ctx)

	s.metrics.ObserveRegistration("created")
	s.logger.Info("user registered", slog.Int("user_id", user.ID), slog.String("username", user.Username))
	return user, nil
}

const passwordTooLong = "Password must be at most 72 bytes"

// validateRegistration checks the minimum lengths and the email shape first,
// in that order, and only then the upper bounds.
func validateRegistration(in RegisterInput) error {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	if utf8.RuneCountInString(in.Password) < minPasswordLength {
		return validationError("Password must be at least 8 characters")
	}
	if utf8.RuneCountInString(username) < minUsernameLength {
		return validationError("Username must be at least 3 characters")
	}
	if strings.Index(email, "@") <= 0 {
		return validationError("Invalid email")
	}

	switch {
	case len(in.Password) > auth.MaxPasswordBytes:
		return validationError(passwordTooLong)
	case utf8.RuneCountInString(username) > maxUsernameLength:
		return validationError(fmt.Sprintf("Username must be at most %d characters", maxUsernameLength))
	case len(email) > maxEmailLength:
		return validationError(fmt.Sprintf("Email must be at most %d characters", maxEmailLength))
	case utf8.RuneCountInString(in.FirstName) > maxNameLength || utf8.RuneCountInString(in.LastName) > maxNameLength:
		return validationError(fmt.Sprintf("Names must be at most %d characters", maxNameLength))
	case len(in.Photo) > maxPhotoLength:
		return validationError(fmt.Sprintf("Photo must be at most %d characters", maxPhotoLength))
	case in.Points < 0 || in.Points > math.MaxInt32:
		return validationError(fmt.Sprintf("Points must be between 0 and %d", math.MaxInt32))
	case in.TotalQuiz < 0 || in.TotalQuiz > math.MaxInt32:
		return validationError(fmt.Sprintf("Total quiz must be between 0 and %d", math.MaxInt32))
	}
	return nil
}

// Login returns the user matching email and password, or
// ErrAuthenticationFailed for either an unknown email or a wrong password.
func (s *AuthService) Login(ctx context.Context, email, password string) (types.User, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.spendCompare(password)
			s.metrics.ObserveLogin("failed")
			return types.User{}, ErrAuthenticationFailed
		}
		return types.User{}, fmt.Errorf("lookup email: %w", err)
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		s.metrics.ObserveLogin("failed")
		return types.User{}, ErrAuthenticationFailed
	}

	s.metrics.ObserveLogin("ok")
	return user, nil
}

// spendCompare burns one bcrypt comparison for an unknown email.
func (s *AuthService) spendCompare(password string) {
	if s.dummyHash == "" {
		s.logger.Warn("placeholder hash unavailable; hashing the attempt instead")
		_, _ = s.hasher.Hash(password)
		return
	}
	_ = s.hasher.Compare(s.dummyHash, password)
}

// GenerateToken signs a token carrying user's profile snapshot.
func (s *AuthService) GenerateToken(user types.User) (string, error) {
	token, err := s.tokens.Issue(user)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

// VerifyToken returns the token's claims, or nil for any invalid token.
func (s *AuthService) VerifyToken(token string) *auth.Claims {
	return s.tokens.Verify(token)
}

// UpdateScore adds delta to the user's points and counts one more quiz in a
// single atomic statement.
func (s *AuthService) UpdateScore(ctx context.Context, email string, delta int) (types.ScoreUpdate, error) {
	if delta < math.MinInt32 || delta > math.MaxInt32 {
		return types.ScoreUpdate{}, validationError("Points out of range")
	}
	email = NormalizeEmail(email)
	update, err := s.users.IncrementScore(ctx, email, delta)
	if errors.Is(err, store.ErrOutOfRange) {
		return types.ScoreUpdate{}, validationError("Points out of range")
	}
	if err != nil {
		return types.ScoreUpdate{}, fmt.Errorf("increment score: %w", err)
	}

	s.invalidateLeaderboard(ctx)
	s.events.ScoreUpdated(ctx, events.ScoreUpdated{
		Email:     email,
		Delta:     delta,
		Points:    update.Points,
		TotalQuiz: update.TotalQuiz,
		UpdatedAt: time.Now().UTC(),
	})
	return update, nil
}

// UpdatePhoto replaces the stored photo reference and returns the refreshed
// profile. A previously uploaded photo is released once replaced.
func (s *AuthService) UpdatePhoto(ctx context.Context, email, photo string) (types.User, error) {
	email = NormalizeEmail(email)
	photo = strings.TrimSpace(photo)

	previous, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return types.User{}, fmt.Errorf("lookup email: %w", err)
	}

	user, err := s.users.UpdatePhoto(ctx, email, photo)
	if err != nil {
		return types.User{}, fmt.Errorf("update photo: %w", err)
	}

	if s.photos != nil && previous.Photo != "" && previous.Photo != photo {
		s.photos.Release(ctx, previous.Photo)
	}
	s.invalidateLeaderboard(ctx)
	return user, nil
}

func (s *AuthService) invalidateLeaderboard(ctx context.Context) {
	if s.leaderboard == nil {
		return
	}
	if err := s.leaderboard.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate leaderboard cache", slog.String("error", err.Error()))
	}
}
