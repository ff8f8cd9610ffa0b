package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stockroom/apiserver/internal/clock"
	"github.com/stockroom/apiserver/internal/logx"
	"github.com/stockroom/apiserver/internal/store"
	"github.com/stockroom/apiserver/types"
	"go.uber.org/zap"
)

// ResetInput is the payload for choosing a new password with a reset token.
type ResetInput struct {
	Hash           string
	Password       string
	RepeatPassword string
}

// ResetRecorder observes reset requests. *metrics.Metrics satisfies it.
type ResetRecorder interface {
	ResetRequested(outcome string)
}

// ResetService implements the password reset flow. Neither operation tells
// the caller whether the email or token it supplied exists.
type ResetService struct {
	users    *UserService
	tokens   Repository[*types.ResetToken]
	notifier ResetNotifier
	clock    clock.Clock
	lifetime time.Duration
	recorder ResetRecorder
}

func NewResetService(
	users *UserService,
	tokens Repository[*types.ResetToken],
	notifier ResetNotifier,
	clk clock.Clock,
	lifetime time.Duration,
	recorder ResetRecorder,
) *ResetService {
	if clk == nil {
		clk = clock.System{}
	}
	return &ResetService{
		users:    users,
		tokens:   tokens,
		notifier: notifier,
		clock:    clk,
		lifetime: lifetime,
		recorder: recorder,
	}
}

// RequestReset issues a reset token for the user owning email and hands it to
// the notifier. It returns nil whether or not such a user exists. Earlier
// tokens of the same user are removed, so at most one is active.
func (s *ResetService) RequestReset(ctx context.Context, email string) error {
	log := logx.FromContext(ctx)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		log.Debug("password reset requested for unknown email")
		s.record("unknown_email")
		return nil
	}

	previous, err := s.tokens.FindMany(ctx, store.Where(store.Eq(store.ColumnUserID, user.ID)).WithDeleted())
	if err != nil {
		return wrap("find reset tokens", err)
	}
	if _, err := s.tokens.DeleteMany(ctx, previous, store.HardDelete); err != nil && !errors.Is(err, store.ErrNotFound) {
		return wrap("delete reset tokens", err)
	}

	token, err := s.tokens.Save(ctx, &types.ResetToken{
		Hash:      uuid.NewString(),
		ExpiresAt: s.clock.Now().Add(s.lifetime),
		UserID:    user.ID,
	})
	if err != nil {
		return wrap("create reset token", err)
	}

	// Delivery errors are only logged. The response must not differ for known emails.
	if err := s.notifier.NotifyReset(ctx, user, token); err != nil {
		log.Error("deliver password reset", zap.Int("user_id", user.ID), zap.Error(err))
	}
	log.Info("password reset token issued", zap.Int("user_id", user.ID))
	s.record("issued")
	return nil
}

// ApplyReset sets a new password using a live reset token and consumes the
// token. Invalid input fails with *ValidationError. An unknown, expired or
// already used token returns nil and changes nothing.
func (s *ResetService) ApplyReset(ctx context.Context, in ResetInput) error {
	log := logx.FromContext(ctx)

	verr := &ValidationError{}
	validatePassword(verr, "password", in.Password)
	if in.RepeatPassword != in.Password {
		verr.Add("repeat_password", "must match password")
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	hash := strings.TrimSpace(in.Hash)
	if hash == "" {
		return nil
	}

	now := s.clock.Now()
	token, err := s.tokens.FindOne(ctx, store.Where(
		store.Eq(store.ColumnHash, hash),
		store.Gte(store.ColumnExpiresAt, now),
	))
	if err != nil {
		return wrap("find reset token", err)
	}
	if token == nil || !token.ActiveAt(now) {
		log.Debug("password reset with unknown or expired token")
		return nil
	}

	user, err := s.users.Get(ctx, token.UserID)
	if errors.Is(err, ErrNotFound) {
		log.Debug("password reset token owner no longer exists", zap.Int("user_id", token.UserID))
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.users.ChangePassword(ctx, user, in.Password); err != nil {
		return err
	}
	if _, err := s.tokens.Delete(ctx, token, store.HardDelete); err != nil && !errors.Is(err, store.ErrNotFound) {
		return wrap("consume reset token", err)
	}
	log.Info("password reset applied", zap.Int("user_id", user.ID))
	return nil
}

// Purge hard-deletes tokens that expired before now.
func (s *ResetService) Purge(ctx context.Context) (int, error) {
	expired, err := s.tokens.FindMany(ctx, store.Where(store.Lt(store.ColumnExpiresAt, s.clock.Now())).WithDeleted())
	if err != nil {
		return 0, wrap("find expired tokens", err)
	}
	deleted, err := s.tokens.DeleteMany(ctx, expired, store.HardDelete)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return len(deleted), wrap("purge expired tokens", err)
	}
	return len(deleted), nil
}

func (s *ResetService) record(outcome string) {
	if s.recorder != nil {
		s.recorder.ResetRequested(outcome)
	}
}
