package tx

import (
	"context"
	"sync"
)

// MemoryRunner serializes units of work with a process-wide mutex. It backs
// the in-memory store pair, where atomicity comes from exclusive access
// rather than a database transaction.
type MemoryRunner struct {
	mu sync.Mutex
}

func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}
