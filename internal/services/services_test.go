package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stockroom/apiserver/config"
	"github.com/stockroom/apiserver/internal/clock"
	"github.com/stockroom/apiserver/internal/db/dbtest"
	"github.com/stockroom/apiserver/internal/services"
	"github.com/stockroom/apiserver/internal/storage"
	"github.com/stockroom/apiserver/internal/store"
	"github.com/stockroom/apiserver/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	resetLifetime = 72 * time.Hour
	loginTTL      = time.Hour
)

type captureNotifier struct {
	mu     sync.Mutex
	tokens []*types.ResetToken
	err    error
}

func (n *captureNotifier) NotifyReset(_ context.Context, _ *types.User, token *types.ResetToken) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens = append(n.tokens, token)
	return n.err
}

func (n *captureNotifier) last(t *testing.T) *types.ResetToken {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.tokens, "no reset token was delivered")
	return n.tokens[len(n.tokens)-1]
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.tokens)
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *countingRecorder) ResetRequested(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}

type env struct {
	clock    *clock.Fake
	repos    *store.Repositories
	hasher   *services.BcryptHasher
	codec    *services.TokenCodec
	users    *services.UserService
	auth     *services.AuthService
	reset    *services.ResetService
	products *services.ProductService
	images   *services.ImageService
	notifier *captureNotifier
	recorder *countingRecorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clk := clock.NewFake(epoch)
	repos := store.NewRepositories(dbtest.SQLite(t), store.SQLite{}, clk)
	hasher := services.NewBcryptHasher(bcrypt.MinCost)
	codec, err := services.NewTokenCodec("test-secret", loginTTL, clk)
	require.NoError(t, err)

	st, err := storage.Open(context.Background(), config.StorageConfig{
		Backend:   "local",
		Prefix:    "test",
		LocalPath: t.TempDir(),
	})
	require.NoError(t, err)

	e := &env{
		clock:    clk,
		repos:    repos,
		hasher:   hasher,
		codec:    codec,
		notifier: &captureNotifier{},
		recorder: &countingRecorder{},
	}
	e.users = services.NewUserService(repos.Users, hasher)
	e.auth = services.NewAuthService(e.users, hasher, codec, loginTTL)
	e.reset = services.NewResetService(e.users, repos.ResetTokens, e.notifier, clk, resetLifetime, e.recorder)
	e.products = services.NewProductService(repos.Products, repos.ProductImages)
	e.images = services.NewImageService(e.products, repos.ProductImages, st)
	return e
}

func (e *env) register(t *testing.T, username, password string) *types.User {
	t.Helper()
	user, err := e.users.Register(context.Background(), services.RegisterInput{
		Username: username,
		Email:    username + "@example.org",
		Name:     username,
		Password: password,
	})
	require.NoError(t, err)
	return user
}

func requireFieldError(t *testing.T, err error, field string) {
	t.Helper()
	var verr *services.ValidationError
	require.ErrorAs(t, err, &verr)
	for _, f := range verr.Fields {
		if f.Field == field {
			return
		}
	}
	t.Fatalf("no error for field %q in %v", field, verr.Fields)
}
