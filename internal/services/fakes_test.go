package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brainforce/apiserver/internal/store"
	"github.com/brainforce/apiserver/types"
)

// memUsers is an in-memory UserRepository. IncrementScore holds the lock for
// the whole read-modify-write, like the single UPDATE statement does.
type memUsers struct {
	mu      sync.Mutex
	nextID  int
	byEmail map[string]types.User
	creates int

	// failWith, when set, is returned by Create and IncrementScore.
	failWith error
}

func newMemUsers() *memUsers {
	return &memUsers{nextID: 1, byEmail: make(map[string]types.User)}
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[email]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) Create(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.failWith != nil {
		return types.User{}, m.failWith
	}
	if _, ok := m.byEmail[user.Email]; ok {
		return types.User{}, store.ErrDuplicate
	}
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	m.nextID++
	m.byEmail[user.Email] = user
	return user, nil
}

func (m *memUsers) IncrementScore(_ context.Context, email string, delta int) (types.ScoreUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return types.ScoreUpdate{}, m.failWith
	}
	u, ok := m.byEmail[email]
	if !ok {
		return types.ScoreUpdate{}, store.ErrNotFound
	}
	u.Points += delta
	u.TotalQuiz++
	m.byEmail[email] = u
	return types.ScoreUpdate{Points: u.Points, TotalQuiz: u.TotalQuiz}, nil
}

func (m *memUsers) UpdatePhoto(_ context.Context, email, photo string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[email]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	u.Photo = photo
	m.byEmail[email] = u
	return u, nil
}

func (m *memUsers) Leaderboard(_ context.Context) ([]types.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]types.LeaderboardEntry, 0, len(m.byEmail))
	for _, u := range m.byEmail {
		entries = append(entries, types.LeaderboardEntry{
			ID:        u.ID,
			Username:  u.Username,
			Points:    u.Points,
			CreatedAt: u.CreatedAt,
			Photo:     u.Photo,
			TotalQuiz: u.TotalQuiz,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

func (m *memUsers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byEmail)
}

type memQuizzes struct {
	mu     sync.Mutex
	nextID int
	rows   []types.Quiz
	err    error
}

func (m *memQuizzes) Create(_ context.Context, quiz types.Quiz) (types.Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return types.Quiz{}, m.err
	}
	m.nextID++
	quiz.ID = m.nextID
	quiz.CreatedAt = time.Now()
	m.rows = append(m.rows, quiz)
	return quiz, nil
}

func (m *memQuizzes) ListByUser(_ context.Context, userID int) ([]types.Quiz, error) {
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

type memLeaderboardCache struct {
	mu          sync.Mutex
	entries     []types.LeaderboardEntry
	ok          bool
	sets        int
	invalidated int
}

func (c *memLeaderboardCache) Get(context.Context) ([]types.LeaderboardEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries, c.ok, nil
}

func (c *memLeaderboardCache) Set(_ context.Context, entries []types.LeaderboardEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries, c.ok = entries, true
	c.sets++
	return nil
}

func (c *memLeaderboardCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries, c.ok = nil, false
	c.invalidated++
	return nil
}

type recordingReleaser struct {
	released []string
}

func (r *recordingReleaser) Release(_ context.Context, ref string) {
	r.released = append(r.released, ref)
}
