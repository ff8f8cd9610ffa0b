package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stockroom/apiserver/internal/logx"
	"github.com/stockroom/apiserver/types"
	"go.uber.org/zap"
)

// ResetChannel is the queue or topic carrying password reset jobs.
const ResetChannel = "password-reset"

// ResetNotifier delivers a freshly issued reset token to its owner.
type ResetNotifier interface {
	NotifyReset(ctx context.Context, user *types.User, token *types.ResetToken) error
}

// ResetJob is the message published for each issued reset token.
type ResetJob struct {
	UserID    int       `json:"user_id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Publisher sends messages to a named channel. *mq.MQ satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// QueueNotifier publishes reset jobs for the mail worker.
type QueueNotifier struct {
	publisher Publisher
	linkBase  string
}

func NewQueueNotifier(publisher Publisher, linkBase string) *QueueNotifier {
	return &QueueNotifier{publisher: publisher, linkBase: linkBase}
}

func (n *QueueNotifier) NotifyReset(ctx context.Context, user *types.User, token *types.ResetToken) error {
	data, err := json.Marshal(newResetJob(n.linkBase, user, token))
	if err != nil {
		return err
	}
	id, err := n.publisher.Publish(ctx, ResetChannel, data, map[string]string{"type": "password_reset"})
	if err != nil {
		return fmt.Errorf("publish reset job: %w", err)
	}
	logx.FromContext(ctx).Debug("reset job published", zap.String("message_id", id))
	return nil
}

// LogNotifier writes the reset link to the log. It is meant for development
// setups without a broker.
type LogNotifier struct {
	linkBase string
}

func NewLogNotifier(linkBase string) *LogNotifier {
	return &LogNotifier{linkBase: linkBase}
}

func (n *LogNotifier) NotifyReset(ctx context.Context, user *types.User, token *types.ResetToken) error {
	job := newResetJob(n.linkBase, user, token)
	logx.FromContext(ctx).Info("password reset link",
		zap.Int("user_id", job.UserID),
		zap.String("link", job.Link),
		zap.Time("expires_at", job.ExpiresAt),
	)
	return nil
}

func newResetJob(linkBase string, user *types.User, token *types.ResetToken) ResetJob {
	return ResetJob{
		UserID:    user.ID,
		Email:     user.Email,
		Username:  user.Username,
		Link:      linkBase + "/forgot-password/" + token.Hash,
		ExpiresAt: token.ExpiresAt,
	}
}
