package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stockroom/apiserver/internal/logx"
	"github.com/stockroom/apiserver/internal/services"
	"github.com/stockroom/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordedPublish struct {
	channel string
	data    []byte
	attrs   map[string]string
}

type fakePublisher struct {
	published []recordedPublish
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	p.published = append(p.published, recordedPublish{channel: channel, data: data, attrs: attrs})
	return "msg-1", p.err
}

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return m.err
}

var (
	jimUser  = &types.User{Model: types.Model{ID: 7}, Username: "jim", Email: "jim@example.org"}
	jimToken = &types.ResetToken{Hash: "abc-123", ExpiresAt: epoch.Add(72 * time.Hour), UserID: 7}
)

func TestQueueNotifierPublishesJob(t *testing.T) {
	pub := &fakePublisher{}
	n := services.NewQueueNotifier(pub, "https://stock.example.org")

	require.NoError(t, n.NotifyReset(context.Background(), jimUser, jimToken))
	require.Len(t, pub.published, 1)
	assert.Equal(t, services.ResetChannel, pub.published[0].channel)
	assert.Equal(t, "password_reset", pub.published[0].attrs["type"])

	var job services.ResetJob
	require.NoError(t, json.Unmarshal(pub.published[0].data, &job))
	assert.Equal(t, 7, job.UserID)
	assert.Equal(t, "jim@example.org", job.Email)
	assert.Equal(t, "https://stock.example.org/forgot-password/abc-123", job.Link)
	assert.True(t, job.ExpiresAt.Equal(jimToken.ExpiresAt))

	pub.err = errors.New("channel closed")
	require.Error(t, n.NotifyReset(context.Background(), jimUser, jimToken))
}

func TestLogNotifierWritesLink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := logx.WithContext(context.Background(), zap.New(core))

	n := services.NewLogNotifier("http://localhost:8080")
	require.NoError(t, n.NotifyReset(ctx, jimUser, jimToken))

	entries := logs.FilterMessage("password reset link").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "http://localhost:8080/forgot-password/abc-123", entries[0].ContextMap()["link"])
}

func TestResetMailerHandle(t *testing.T) {
	ctx := context.Background()
	mailer := &fakeMailer{}
	h := services.NewResetMailer(mailer)

	data, err := json.Marshal(services.ResetJob{
		UserID:    7,
		Email:     "jim@example.org",
		Username:  "jim",
		Link:      "https://stock.example.org/forgot-password/abc-123",
		ExpiresAt: jimToken.ExpiresAt,
	})
	require.NoError(t, err)

	require.NoError(t, h.Handle(ctx, data))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "jim@example.org", mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].body, "https://stock.example.org/forgot-password/abc-123")
	assert.Contains(t, mailer.sent[0].body, "Hello jim")

	mailer.err = errors.New("smtp down")
	require.Error(t, h.Handle(ctx, data))
}

func TestResetMailerDropsMalformedJobs(t *testing.T) {
	mailer := &fakeMailer{}
	h := services.NewResetMailer(mailer)

	require.NoError(t, h.Handle(context.Background(), []byte("{not json")))
	require.NoError(t, h.Handle(context.Background(), []byte(`{"user_id":7}`)))
	assert.Empty(t, mailer.sent)
}
