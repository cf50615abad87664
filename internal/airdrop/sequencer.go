package airdrop

import "context"

// Sequencer 保证同一时刻只有一个状态变更在执行。多实例部署时使用分布式实现。
type Sequencer interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalSequencer 是进程内的、可感知上下文取消的互斥锁。
type LocalSequencer struct {
	slot chan struct{}
}

// NewLocalSequencer 创建进程内 Sequencer。
func NewLocalSequencer() *LocalSequencer {
	return &LocalSequencer{slot: make(chan struct{}, 1)}
}

// Acquire 实现 Sequencer 接口。
func (s *LocalSequencer) Acquire(ctx context.Context) (func(), error) {
	select {
	case s.slot <- struct{}{}:
		released := false
		return func() {
			if !released {
				released = true
				<-s.slot
			}
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var _ Sequencer = (*LocalSequencer)(nil)
