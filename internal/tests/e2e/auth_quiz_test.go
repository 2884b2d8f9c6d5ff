//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brainforce/apiserver/config"
	"github.com/brainforce/apiserver/internal/db"
	"github.com/brainforce/apiserver/internal/logging"
	"github.com/brainforce/apiserver/internal/server"
	_ "github.com/lib/pq"
)

const (
	serverPort     = 18080
	flashcardsJSON = `[{"question":"What is H2O?","answer":"Water"}]`
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d", "postgres", "redis", "minio"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	llm := httptest.NewServer(http.HandlerFunc(fakeCompletion))
	setEnv(llm.URL)

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := db.MigrateUp(config.LoadConfig().Database); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := server.New(ctx, config.LoadConfig(), logging.New("warn", "text", os.Stderr))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}
	go func() {
		_ = srv.Start()
	}()

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	llm.Close()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestAccountQuizLifecycle(t *testing.T) {
	email := fmt.Sprintf("User_%d@Example.com", time.Now().UnixNano())
	lower := strings.ToLower(email)

	status, body := call(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": email, "password": "password1", "username": "lifecycle",
		"firstname": "Life", "lastname": "Cycle",
	})
	if status != http.StatusCreated {
		t.Fatalf("register status %d: %s", status, body)
	}
	var registered struct {
		User struct {
			ID    int    `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	mustDecode(t, body, &registered)
	if registered.User.Email != lower {
		t.Fatalf("expected lower-cased email, got %q", registered.User.Email)
	}

	status, body = call(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": strings.ToUpper(email), "password": "password1", "username": "lifecycle",
	})
	if status != http.StatusBadRequest || !strings.Contains(string(body), "Duplicate email: "+lower) {
		t.Fatalf("expected duplicate email rejection, got %d: %s", status, body)
	}

	token := login(t, email)

	status, body = call(t, http.MethodPost, "/auth/addquiz", token, map[string]any{
		"userid": registered.User.ID, "points": 10, "subject": "Chemistry", "difficulty": "easy",
		"questions": []map[string]string{{"question": "H2O?", "answer": "Water"}},
	})
	if status != http.StatusCreated {
		t.Fatalf("addquiz status %d: %s", status, body)
	}

	status, body = call(t, http.MethodPost, "/auth/listquiz", token, map[string]any{"userid": registered.User.ID})
	if status != http.StatusOK {
		t.Fatalf("listquiz status %d: %s", status, body)
	}
	var quizzes []map[string]any
	mustDecode(t, body, &quizzes)
	if len(quizzes) != 1 {
		t.Fatalf("expected one quiz, got %d", len(quizzes))
	}

	status, body = call(t, http.MethodPost, "/openai/flashcards", token, map[string]any{
		"number": 1, "difficultyLevel": "easy", "subject": "Chemistry",
	})
	if status != http.StatusOK {
		t.Fatalf("flashcards status %d: %s", status, body)
	}
	var generated struct {
		Success bool   `json:"success"`
		Data    string `json:"data"`
	}
	mustDecode(t, body, &generated)
	if !generated.Success || generated.Data != flashcardsJSON {
		t.Fatalf("unexpected generation response: %s", body)
	}
}

func TestConcurrentScoreUpdatesAreAtomic(t *testing.T) {
	email := fmt.Sprintf("score_%d@example.com", time.Now().UnixNano())
	status, body := call(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": email, "password": "password1", "username": "scorer", "points": 10,
	})
	if status != http.StatusCreated {
		t.Fatalf("register status %d: %s", status, body)
	}
	token := login(t, email)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if status, body := call(t, http.MethodPost, "/auth/update", token, map[string]any{"email": email, "points": 5}); status != http.StatusOK {
				t.Errorf("update status %d: %s", status, body)
			}
		}()
	}
	wg.Wait()

	status, body = call(t, http.MethodGet, "/auth/list", "", nil)
	if status != http.StatusOK {
		t.Fatalf("leaderboard status %d: %s", status, body)
	}
	var entries []struct {
		Username  string `json:"username"`
		Points    int    `json:"points"`
		TotalQuiz int    `json:"totalquiz"`
	}
	mustDecode(t, body, &entries)
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Points < entries[i].Points {
			t.Fatalf("leaderboard not ordered by points: %+v", entries)
		}
	}

	found := false
	for _, e := range entries {
		if e.Username == "scorer" && e.Points == 20 && e.TotalQuiz == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected scorer with 20 points over 2 quizzes in %+v", entries)
	}
}

func login(t *testing.T, email string) string {
	t.Helper()
	status, body := call(t, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": "password1"})
	if status != http.StatusOK {
		t.Fatalf("login status %d: %s", status, body)
	}
	var parsed struct {
		Token string `json:"token"`
	}
	mustDecode(t, body, &parsed)
	if parsed.Token == "" {
		t.Fatalf("missing token in login response")
	}
	return parsed.Token
}

func call(t *testing.T, method, path, token string, payload any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

func mustDecode(t *testing.T, body []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
}

func fakeCompletion(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}
	content, _ := json.Marshal(flashcardsJSON)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":"chatcmpl-e2e","object":"chat.completion","created":1,"model":"gpt-3.5-turbo",
"choices":[{"index":0,"message":{"role":"assistant","content":%s},"finish_reason":"stop"}],
"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`, content)
}

func setEnv(llmURL string) {
	_ = os.Setenv("JWT_SECRET", "e2e-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "brainforce")
	_ = os.Setenv("DB_PASSWORD", "password")
	_ = os.Setenv("DB_NAME", "brainforce_db")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("OPENAI_API_KEY", "sk-e2e")
	_ = os.Setenv("OPENAI_BASE_URL", llmURL+"/v1")
	_ = os.Setenv("REDIS_ADDR", "localhost:6379")
	_ = os.Setenv("STORAGE_BACKEND", "minio")
	_ = os.Setenv("MINIO_ENDPOINT", "localhost:9000")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "brainforce")
	_ = os.Setenv("MQ_BACKEND", "none")
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.PostgresURL(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
