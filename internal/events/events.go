// Package events publishes agent activity (dispatch outcomes, mention replies)
// to an optional message broker so external dashboards can follow the agent.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 事件类型。
const (
	TypeActionDispatched = "action.dispatched"
	TypeMentionReplied   = "mention.replied"
	TypeCycleCompleted   = "cycle.completed"
)

// Event 是一条活动事件。
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	CycleID    string            `json:"cycle_id,omitempty"`
	Action     string            `json:"action,omitempty"`
	Status     string            `json:"status,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	TxHash     string            `json:"tx_hash,omitempty"`
	CastHash   string            `json:"cast_hash,omitempty"`
	Error      string            `json:"error,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// New returns an event with a fresh id and timestamp.
func New(eventType string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher 抽象事件的发布方式。发布失败只记录日志，不影响代理周期。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

// MemoryPublisher keeps events in memory, useful for tests and the status API.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (m *MemoryPublisher) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Close implements Publisher.
func (m *MemoryPublisher) Close() error { return nil }

type cycleKey struct{}

// WithCycleID attaches the id of the running cycle to ctx.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleKey{}, id)
}

// CycleID returns the cycle id carried by ctx, if any.
func CycleID(ctx context.Context) string {
	id, _ := ctx.Value(cycleKey{}).(string)
	return id
}
