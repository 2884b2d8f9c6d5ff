package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/brainforce/apiserver/internal/auth"
	"github.com/brainforce/apiserver/internal/logging"
	"github.com/brainforce/apiserver/internal/services"
	"github.com/brainforce/apiserver/internal/storage"
	"github.com/brainforce/apiserver/internal/store"
	"github.com/brainforce/apiserver/internal/validator"
	"github.com/brainforce/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memRepo struct {
	mu      sync.Mutex
	users   map[string]types.User
	quizzes []types.Quiz
}

func newMemRepo() *memRepo {
	return &memRepo{users: make(map[string]types.User)}
}

func (m *memRepo) GetByEmail(_ context.Context, email string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memRepo) Create(_ context.Context, u types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Email]; ok {
		return types.User{}, store.ErrDuplicate
	}
	u.ID = len(m.users) + 1
	u.CreatedAt = time.Now()
	m.users[u.Email] = u
	return u, nil
}

func (m *memRepo) IncrementScore(_ context.Context, email string, delta int) (types.ScoreUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return types.ScoreUpdate{}, store.ErrNotFound
	}
	u.Points += delta
	u.TotalQuiz++
	m.users[email] = u
	return types.ScoreUpdate{Points: u.Points, TotalQuiz: u.TotalQuiz}, nil
}

func (m *memRepo) UpdatePhoto(_ context.Context, email, photo string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	u.Photo = photo
	m.users[email] = u
	return u, nil
}

func (m *memRepo) Leaderboard(_ context.Context) ([]types.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.LeaderboardEntry, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, types.LeaderboardEntry{ID: u.ID, Username: u.Username, Points: u.Points})
	}
	return out, nil
}

type memQuizRepo struct {
	mu   sync.Mutex
	rows []types.Quiz
}

func (m *memQuizRepo) Create(_ context.Context, q types.Quiz) (types.Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.ID = len(m.rows) + 1
	m.rows = append(m.rows, q)
	return q, nil
}

func (m *memQuizRepo) ListByUser(_ context.Context, userID int) ([]types.Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Quiz
	for _, q := range m.rows {
		if q.UserID == userID {
			out = append(out, q)
		}
	}
	return out, nil
}

type testEnv struct {
	router  *chi.Mux
	tokens  *auth.TokenManager
	objects *storage.MemoryStorage
}

func newTestEnv(t *testing.T, gen Generator, limiter Limiter) *testEnv {
	t.Helper()

	logger := logging.Discard()
	repo := newMemRepo()
	tokens := auth.NewTokenManager("handler-secret", time.Hour)
	objects := storage.NewMemoryStorage("photos")
	photos := services.NewPhotoService(objects, 1<<20, logger)
	authService := services.NewAuthService(services.AuthDeps{
		Users:  repo,
		Hasher: auth.NewPasswordHasher(bcrypt.MinCost),
		Tokens: tokens,
		Photos: photos,
		Logger: logger,
	})
	quizService := services.NewQuizService(&memQuizRepo{}, repo, nil, nil, logger)
	validate := validator.New()
	requireAuth := RequireAuth(tokens)

	router := chi.NewRouter()
	router.Route("/auth", func(r chi.Router) {
		AuthRouter(r, NewUserHandler(authService, photos, validate, logger), requireAuth)
		QuizRouter(r, NewQuizHandler(quizService, validate, logger), requireAuth)
	})
	if gen != nil {
		router.Route("/openai", func(r chi.Router) {
			GenerationRouter(r, NewGenerationHandler(gen, limiter, validate, nil, logger), requireAuth)
		})
	}
	return &testEnv{router: router, tokens: tokens, objects: objects}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, email, username string) types.User {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":     email,
		"password":  "password1",
		"firstname": "Ann",
		"lastname":  "Bee",
		"username":  username,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp RegisterResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.User
}

func (e *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": "password1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error
}
