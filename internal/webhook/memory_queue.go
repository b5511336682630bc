package webhook

import (
	"context"
	"slices"
	"sync"
)

// MemoryQueue is a bounded in-process queue. Tasks are lost on restart.
type MemoryQueue struct {
	tasks chan Task

	mu   sync.Mutex
	dead []Task
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size < 1 {
		size = 1
	}
	return &MemoryQueue{tasks: make(chan Task, size)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, task Task) error {
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case task := <-q.tasks:
		return task, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

func (q *MemoryQueue) DeadLetter(_ context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, task)
	return nil
}

func (q *MemoryQueue) DeadLetters() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.dead)
}

func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}
