package memory

import (
	"context"
)

// Queue is a buffered-channel JobQueue for single-process runs.
type Queue struct {
	jobs chan string
}

func NewQueue(size int) *Queue {
	return &Queue{jobs: make(chan string, size)}
}

func (q *Queue) Push(ctx context.Context, job string) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Pop(ctx context.Context) (string, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len is the number of jobs waiting.
func (q *Queue) Len() int {
	return len(q.jobs)
}
