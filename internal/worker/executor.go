package worker

import "context"

// Executor runs one import session to a terminal status.
type Executor interface {
	Execute(ctx context.Context, sessionID string) error
}

// Abandoner is implemented by executors that must settle a session the pool
// gave up on before it ever ran.
type Abandoner interface {
	Abandon(ctx context.Context, sessionID string, cause error)
}

type ExecutorFunc func(ctx context.Context, sessionID string) error

func (f ExecutorFunc) Execute(ctx context.Context, sessionID string) error {
	return f(ctx, sessionID)
}
