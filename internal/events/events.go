// Package events publishes airdrop lifecycle events (claims, withdrawals) to
// downstream consumers once the corresponding state change has committed.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Type 表示事件类型。
type Type string

const (
	TypeClaimed   Type = "AirdropClaimed"
	TypeWithdrawn Type = "RemainingTokensWithdrawn"
)

// Event 描述一次已提交的状态变更。
type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Distributor string    `json:"distributor"`
	Token       string    `json:"token"`
	Account     string    `json:"account"`
	Amount      string    `json:"amount"`
	Leaf        string    `json:"leaf,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ErrPublisherClosed 表示发布器已关闭。
var ErrPublisherClosed = errors.New("事件发布器已关闭")

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher 丢弃所有事件。
type NopPublisher struct{}

// Publish 实现 Publisher 接口。
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher 接口。
func (NopPublisher) Close() error { return nil }

// MemoryPublisher 在内存中保存事件，并把事件推送给订阅者。
type MemoryPublisher struct {
	mu          sync.Mutex
	events      []Event
	subscribers []chan Event
	closed      bool
}

// NewMemoryPublisher 创建内存事件发布器。
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish 记录事件；订阅者缓冲区已满时丢弃该订阅者的这条事件。
func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	p.events = append(p.events, event)
	for _, ch := range p.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe 返回接收后续事件的 channel。
func (p *MemoryPublisher) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		close(ch)
		return ch
	}
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Events 返回已发布事件的副本。
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Close 关闭所有订阅 channel。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
	return nil
}

var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*MemoryPublisher)(nil)
)
