package mq

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

const (
	memoryQueueSize   = 256
	memoryMaxAttempts = 3
)

// ErrClosed is returned by a closed in-memory broker.
var ErrClosed = errors.New("mq: broker closed")

// Memory is an in-process broker. Each channel is a buffered queue shared by
// its subscribers; a failed message is retried a few times and then dropped.
type Memory struct {
	mu     sync.Mutex
	queues map[string]chan Message
	done   chan struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{queues: map[string]chan Message{}, done: make(chan struct{})}
}

func (m *Memory) queue(channel string) (chan Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	q, ok := m.queues[channel]
	if !ok {
		q = make(chan Message, memoryQueueSize)
		m.queues[channel] = q
	}
	return q, nil
}

// Publish enqueues a message. It blocks while the queue is full.
func (m *Memory) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	q, err := m.queue(channel)
	if err != nil {
		return "", err
	}
	msg := Message{ID: uuid.NewString(), Data: data, Attributes: attrs}
	select {
	case q <- msg:
		return msg.ID, nil
	case <-m.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Memory) Subscribe(ctx context.Context, channel string, handler Handler) error {
	q, err := m.queue(channel)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrClosed
		case msg := <-q:
			for attempt := 1; attempt <= memoryMaxAttempts; attempt++ {
				if handler(ctx, msg) == nil || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}
