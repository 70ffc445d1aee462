package collab

import (
	"context"
	"errors"
)

const defaultSemaphoreCap = 100

// 信号量：限制同时在途的 Kafka 发送 / 操作提交数量
type SemaphoreControl struct {
	ch chan struct{}
}

// capacity <= 0 时取默认容量
func NewSemaphoreControl(capacity int) *SemaphoreControl {
	if capacity <= 0 {
		capacity = defaultSemaphoreCap
	}
	return &SemaphoreControl{ch: make(chan struct{}, capacity)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.New("acquire: reach time limit")
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return errors.New("release: semaphore is not acquired")
	}
}
