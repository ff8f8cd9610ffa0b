package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stockroom/apiserver/config"
	"github.com/stockroom/apiserver/internal/clock"
	"github.com/stockroom/apiserver/internal/db/dbtest"
	"github.com/stockroom/apiserver/internal/metrics"
	"github.com/stockroom/apiserver/internal/ratelimit"
	"github.com/stockroom/apiserver/internal/server"
	"github.com/stockroom/apiserver/internal/storage"
	"github.com/stockroom/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type hashCatcher struct {
	mu     sync.Mutex
	hashes []string
}

func (c *hashCatcher) NotifyReset(_ context.Context, _ *types.User, token *types.ResetToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes = append(c.hashes, token.Hash)
	return nil
}

func (c *hashCatcher) last(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.hashes)
	return c.hashes[len(c.hashes)-1]
}

type harness struct {
	t       *testing.T
	srv     *httptest.Server
	svc     *server.Services
	hashes  *hashCatcher
	clock   *clock.Fake
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, limit ratelimit.Config) *harness {
	t.Helper()

	cfg := config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite"},
		Auth: config.AuthConfig{
			JWTSecret:          "test-secret",
			TokenTTL:           time.Hour,
			BcryptCost:         bcrypt.MinCost,
			ResetTokenLifetime: 72 * time.Hour,
		},
	}
	conn := dbtest.SQLite(t)
	st, err := storage.Open(context.Background(), config.StorageConfig{Backend: "local", Prefix: "test", LocalPath: t.TempDir()})
	require.NoError(t, err)

	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	hashes := &hashCatcher{}
	m := metrics.New()
	svc, err := server.NewServices(cfg, conn, clk, st, hashes, m)
	require.NoError(t, err)

	srv := httptest.NewServer(server.NewRouter(server.Deps{
		DB:        conn,
		Services:  svc,
		Metrics:   m,
		RateLimit: limit,
	}))
	t.Cleanup(srv.Close)

	return &harness{t: t, srv: srv, svc: svc, hashes: hashes, clock: clk, metrics: m}
}

func (h *harness) do(method, path, token string, body any) *http.Response {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	require.NoError(h.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (h *harness) register(username, password string) {
	h.t.Helper()
	resp := h.do(http.MethodPost, "/api/users", "", map[string]string{
		"username": username,
		"email":    username + "@example.org",
		"name":     username,
		"password": password,
	})
	require.Equal(h.t, http.StatusCreated, resp.StatusCode)
}

func (h *harness) login(username, password string) (string, int) {
	h.t.Helper()
	resp := h.do(http.MethodPost, "/api/login", "", map[string]string{"username": username, "password": password})
	if resp.StatusCode != http.StatusCreated {
		return "", resp.StatusCode
	}
	body := decode[map[string]any](h.t, resp)
	token, _ := body["token"].(string)
	require.NotEmpty(h.t, token)
	return token, resp.StatusCode
}

func TestRegisterAndLogin(t *testing.T) {
	h := newHarness(t, ratelimit.Config{})

	resp := h.do(http.MethodPost, "/api/users", "", map[string]string{
		"username": "jim",
		"email":    "jim@example.org",
		"name":     "Jim",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]any](t, resp)
	assert.Equal(t, "jim", created["username"])
	assert.Equal(t, "user", created["role"])
	assert.NotContains(t, created, "password_hash")

	dup := h.do(http.MethodPost, "/api/users", "", map[string]string{
		"username": "jim",
		"email":    "other@example.org",
		"password": "secret123",
	})
	require.Equal(t, http.StatusBadRequest, dup.StatusCode)
	assert.Len(t, decode[map[string]any](t, dup)["fields"], 2)

	invalid := h.do(http.MethodPost, "/api/users", "", map[string]string{"username": "jo", "email": "x", "password": "1"})
	require.Equal(t, http.StatusBadRequest, invalid.StatusCode)
	assert.Len(t, decode[map[string]any](t, invalid)["fields"], 3)

	token, status := h.login("jim", "secret123")
	require.Equal(t, http.StatusCreated, status)

	_, status = h.login("jim", "wrong")
	assert.Equal(t, http.StatusUnauthorized, status)
	_, status = h.login("nobody", "secret123")
	assert.Equal(t, http.StatusUnauthorized, status)

	me := h.do(http.MethodGet, "/api/users/me", token, nil)
	require.Equal(t, http.StatusOK, me.StatusCode)
	assert.Equal(t, "jim", decode[map[string]any](t, me)["username"])
}

func TestAccessGuard(t *testing.T) {
	h := newHarness(t, ratelimit.Config{})
	h.register("jim", "secret123")
	token, _ := h.login("jim", "secret123")

	missing := h.do(http.MethodGet, "/api/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, missing.StatusCode)
	assert.Contains(t, missing.Header.Get("WWW-Authenticate"), "Bearer")

	bogus := h.do(http.MethodGet, "/api/users/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, bogus.StatusCode)

	forbidden := h.do(http.MethodGet, "/api/users", token, nil)
	assert.Equal(t, http.StatusForbidden, forbidden.StatusCode)

	jim, err := h.svc.Users.GetByUsername(context.Background(), "jim")
	require.NoError(t, err)
	_, err = h.svc.Users.SetRole(context.Background(), jim.ID, types.RoleAdmin)
	require.NoError(t, err)

	list := h.do(http.MethodGet, "/api/users", token, nil)
	require.Equal(t, http.StatusOK, list.StatusCode)
	assert.Len(t, decode[[]map[string]any](t, list), 1)

	// A token whose subject was deleted no longer authenticates.
	h.register("bob", "secret123")
	bobToken, _ := h.login("bob", "secret123")
	bob, err := h.svc.Users.GetByUsername(context.Background(), "bob")
	require.NoError(t, err)

	del := h.do(http.MethodDelete, "/api/users/"+strconv.Itoa(bob.ID), token, nil)
	require.Equal(t, http.StatusNoContent, del.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/users/me", bobToken, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, "/api/users/"+strconv.Itoa(bob.ID), token, nil).StatusCode)
}

func TestPasswordResetFlow(t *testing.T) {
	h := newHarness(t, ratelimit.Config{})
	h.register("jim", "secret123")

	unknown := h.do(http.MethodPost, "/api/forgot-password", "", map[string]string{"email": "nobody@example.org"})
	assert.Equal(t, http.StatusCreated, unknown.StatusCode)
	assert.Empty(t, h.hashes.hashes)

	known := h.do(http.MethodPost, "/api/forgot-password", "", map[string]string{"email": "jim@example.org"})
	assert.Equal(t, http.StatusCreated, known.StatusCode)
	hash := h.hashes.last(t)

	mismatch := h.do(http.MethodPut, "/api/forgot-password/"+hash, "", map[string]string{"password": "newpass", "repeat_password": "other"})
	assert.Equal(t, http.StatusBadRequest, mismatch.StatusCode)

	applied := h.do(http.MethodPut, "/api/forgot-password/"+hash, "", map[string]string{"password": "newpass", "repeat_password": "newpass"})
	assert.Equal(t, http.StatusNoContent, applied.StatusCode)

	_, status := h.login("jim", "newpass")
	assert.Equal(t, http.StatusCreated, status)
	_, status = h.login("jim", "secret123")
	assert.Equal(t, http.StatusUnauthorized, status)

	reused := h.do(http.MethodPut, "/api/forgot-password/"+hash, "", map[string]string{"password": "again1", "repeat_password": "again1"})
	assert.Equal(t, http.StatusNoContent, reused.StatusCode)
	_, status = h.login("jim", "again1")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestProductsAndImages(t *testing.T) {
	h := newHarness(t, ratelimit.Config{})
	h.register("jim", "secret123")
	h.register("bob", "secret123")
	jim, _ := h.login("jim", "secret123")
	bob, _ := h.login("bob", "secret123")

	resp := h.do(http.MethodPost, "/api/products", jim, map[string]any{"name": "Pineapple", "amount": 2, "amount_threshold": 5})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	product := decode[map[string]any](t, resp)
	assert.Equal(t, true, product["low_stock"])
	id := strconv.Itoa(int(product["id"].(float64)))

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/products/"+id, bob, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/products/abc", jim, nil).StatusCode)

	search := h.do(http.MethodGet, "/api/products/search?term=apple&minLikeness=50", jim, nil)
	require.Equal(t, http.StatusOK, search.StatusCode)
	results := decode[[]map[string]any](t, search)
	require.Len(t, results, 1)
	assert.EqualValues(t, 56, results[0]["likeness"])

	unrelated := h.do(http.MethodGet, "/api/products/search?term=xyz", jim, nil)
	require.Equal(t, http.StatusOK, unrelated.StatusCode)
	assert.Empty(t, decode[[]map[string]any](t, unrelated))

	everything := h.do(http.MethodGet, "/api/products/search?term=xyz&minLikeness=0", jim, nil)
	require.Equal(t, http.StatusOK, everything.StatusCode)
	all := decode[[]map[string]any](t, everything)
	require.Len(t, all, 1)
	assert.EqualValues(t, 0, all[0]["likeness"])

	short := h.do(http.MethodGet, "/api/products/search?term=ap", jim, nil)
	assert.Equal(t, http.StatusBadRequest, short.StatusCode)

	upload := h.upload(jim, "/api/products/"+id+"/images", pngBytes(t))
	require.Equal(t, http.StatusCreated, upload.StatusCode)
	img := decode[map[string]any](t, upload)
	imgID := strconv.Itoa(int(img["id"].(float64)))
	assert.True(t, strings.HasPrefix(img["full_path"].(string), "test/images/"+id+"/"))

	get := h.do(http.MethodGet, "/api/products/"+id+"/images/"+imgID, jim, nil)
	require.Equal(t, http.StatusOK, get.StatusCode)
	assert.Equal(t, "image/jpeg", get.Header.Get("Content-Type"))

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/products/"+id+"/images/"+imgID, bob, nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/api/products/"+id+"/images/"+imgID, jim, nil).StatusCode)

	del := h.do(http.MethodDelete, "/api/products/"+id, jim, nil)
	require.Equal(t, http.StatusOK, del.StatusCode)
	assert.NotNil(t, decode[map[string]any](t, del)["deleted_at"])
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/products/"+id, jim, nil).StatusCode)
}

func TestRateLimitedLogin(t *testing.T) {
	h := newHarness(t, ratelimit.Config{Requests: 2, Window: time.Hour, Burst: 2})

	for i := 0; i < 2; i++ {
		_, status := h.login("nobody", "secret123")
		require.Equal(t, http.StatusUnauthorized, status)
	}
	_, status := h.login("nobody", "secret123")
	assert.Equal(t, http.StatusTooManyRequests, status)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, ratelimit.Config{})

	health := h.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, health.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, health)["status"])

	metricsResp := h.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, metricsResp.StatusCode)
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func (h *harness) upload(token, path string, data []byte) *http.Response {
	h.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "pixel.png")
	require.NoError(h.t, err)
	_, err = part.Write(data)
	require.NoError(h.t, err)
	require.NoError(h.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+path, &buf)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.NRGBA{G: 180, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
