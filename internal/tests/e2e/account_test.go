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
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stockroom/apiserver/config"
	"github.com/stockroom/apiserver/internal/db"
	"github.com/stockroom/apiserver/internal/server"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

const (
	serverPort = 18080

	pgUser     = "stockroom"
	pgPassword = "password"
	pgDatabase = "stockroom"
)

var (
	baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

	// conn reaches the same database as the server, for reading reset hashes.
	conn *sql.DB
)

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, cfg, err := startPostgres(ctx)
	// Startup can fail after the container is running; it still needs removing.
	defer func() {
		_ = testcontainers.TerminateContainer(container)
	}()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		return 1
	}

	conn, err = db.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		return 1
	}
	defer conn.Close()

	if err := db.Migrate(conn, "postgres"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		return 1
	}

	srv, err := server.New(ctx, cfg, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		return 1
	}
	go func() {
		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		return 1
	}

	return m.Run()
}

func startPostgres(ctx context.Context) (testcontainers.Container, config.Config, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgUser,
			"POSTGRES_PASSWORD": pgPassword,
			"POSTGRES_DB":       pgDatabase,
		},
		// The server restarts once after initdb, so the line shows up twice.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return container, config.Config{}, err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return container, config.Config{}, err
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return container, config.Config{}, err
	}

	cfg := config.LoadConfig()
	cfg.ServerPort = serverPort
	cfg.Env = "test"
	cfg.Database = config.DatabaseConfig{
		Driver:   "postgres",
		Host:     host,
		Port:     port.Int(),
		User:     pgUser,
		Password: pgPassword,
		DBName:   pgDatabase,
	}
	cfg.Auth.JWTSecret = "e2e-secret"
	cfg.Auth.BcryptCost = 4
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalPath = os.TempDir() + "/stockroom-e2e"
	cfg.MQ.Backend = "none"
	cfg.Mail = config.MailConfig{}
	cfg.RateLimit.Requests = 0
	return container, cfg, nil
}

func TestRegisterAndAuthenticate(t *testing.T) {
	username := fmt.Sprintf("jim_%d", time.Now().UnixNano())
	email := username + "@example.org"

	if err := registerUser(username, email, "secret123"); err != nil {
		t.Fatalf("register user: %v", err)
	}

	if _, err := login(username, "secret123"); err != nil {
		t.Fatalf("login with the right password: %v", err)
	}
	if _, err := login(username, "wrong"); err == nil {
		t.Fatalf("expected login with a wrong password to fail")
	}
}

func TestPasswordReset(t *testing.T) {
	username := fmt.Sprintf("jim_%d", time.Now().UnixNano())
	email := username + "@example.org"

	if err := registerUser(username, email, "secret123"); err != nil {
		t.Fatalf("register user: %v", err)
	}

	status, err := doJSON(http.MethodPost, "/api/forgot-password", "", map[string]string{"email": email}, nil)
	if err != nil || status != http.StatusCreated {
		t.Fatalf("request reset: status %d, err %v", status, err)
	}

	hash, err := latestResetHash(username)
	if err != nil {
		t.Fatalf("read reset hash: %v", err)
	}

	payload := map[string]string{"password": "newpass", "repeat_password": "newpass"}
	status, err = doJSON(http.MethodPut, "/api/forgot-password/"+hash, "", payload, nil)
	if err != nil || status != http.StatusNoContent {
		t.Fatalf("apply reset: status %d, err %v", status, err)
	}

	if _, err := login(username, "newpass"); err != nil {
		t.Fatalf("login with the new password: %v", err)
	}
	if _, err := login(username, "secret123"); err == nil {
		t.Fatalf("expected the old password to be rejected")
	}

	// A consumed token is accepted silently and changes nothing.
	again := map[string]string{"password": "another1", "repeat_password": "another1"}
	status, err = doJSON(http.MethodPut, "/api/forgot-password/"+hash, "", again, nil)
	if err != nil || status != http.StatusNoContent {
		t.Fatalf("reuse of a consumed token: status %d, err %v", status, err)
	}
	if _, err := login(username, "newpass"); err != nil {
		t.Fatalf("login after token reuse: %v", err)
	}
}

func TestUnknownEmailLooksLikeSuccess(t *testing.T) {
	status, err := doJSON(http.MethodPost, "/api/forgot-password", "", map[string]string{"email": "nobody@example.org"}, nil)
	if err != nil || status != http.StatusCreated {
		t.Fatalf("request reset: status %d, err %v", status, err)
	}
}

func TestProductLifecycle(t *testing.T) {
	username := fmt.Sprintf("ann_%d", time.Now().UnixNano())
	if err := registerUser(username, username+"@example.org", "secret123"); err != nil {
		t.Fatalf("register user: %v", err)
	}
	token, err := login(username, "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	var created productResponse
	status, err := doJSON(http.MethodPost, "/api/products", token,
		map[string]any{"name": "Hex bolt", "amount": 4, "amount_threshold": 5}, &created)
	if err != nil || status != http.StatusCreated {
		t.Fatalf("create product: status %d, err %v", status, err)
	}
	if created.ID == 0 || !created.LowStock {
		t.Fatalf("unexpected product: %+v", created)
	}

	var results []struct {
		Likeness int             `json:"likeness"`
		Entity   productResponse `json:"entity"`
	}
	status, err = doJSON(http.MethodGet, "/api/products/search?term=hex+bolts", token, nil, &results)
	if err != nil || status != http.StatusOK {
		t.Fatalf("search: status %d, err %v", status, err)
	}
	if len(results) != 1 || results[0].Entity.ID != created.ID {
		t.Fatalf("unexpected search results: %+v", results)
	}

	path := fmt.Sprintf("/api/products/%d", created.ID)
	status, err = doJSON(http.MethodDelete, path, token, nil, nil)
	if err != nil || status != http.StatusOK {
		t.Fatalf("delete product: status %d, err %v", status, err)
	}
	status, err = doJSON(http.MethodGet, path, token, nil, nil)
	if err != nil || status != http.StatusNotFound {
		t.Fatalf("expected deleted product to be missing: status %d, err %v", status, err)
	}
}

type productResponse struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	LowStock bool   `json:"low_stock"`
}

type authResponse struct {
	Token string `json:"token"`
}

func registerUser(username, email, password string) error {
	payload := map[string]string{
		"username": username,
		"email":    email,
		"name":     "Jim",
		"password": password,
	}
	status, err := doJSON(http.MethodPost, "/api/users", "", payload, nil)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("register status %d", status)
	}
	return nil
}

func login(username, password string) (string, error) {
	var parsed authResponse
	status, err := doJSON(http.MethodPost, "/api/login", "", map[string]string{
		"username": username,
		"password": password,
	}, &parsed)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("login status %d", status)
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("missing token in login response")
	}
	return parsed.Token, nil
}

// doJSON sends payload as JSON and decodes a 2xx response into out when set.
func doJSON(method, path, token string, payload, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 500 {
		msg, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server error: %s", strings.TrimSpace(string(msg)))
	}
	return resp.StatusCode, nil
}

func latestResetHash(username string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var hash string
	err := conn.QueryRowContext(ctx, `
		SELECT t.hash FROM reset_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE u.username = $1 AND t.deleted_at IS NULL
		ORDER BY t.id DESC LIMIT 1`, username).Scan(&hash)
	return hash, err
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
