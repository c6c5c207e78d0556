package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ETAnderson/productimporter/internal/logging"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// Pool runs submitted sessions on background goroutines, at most Size at a
// time. Submit never blocks on a busy pool; queued sessions wait for a slot.
type Pool struct {
	exec Executor
	log  *logrus.Entry

	base context.Context
	sem  chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool binds runs to base rather than to the submitting request, so an
// upload returning does not cancel its import.
func NewPool(base context.Context, size int, exec Executor, log *logrus.Entry) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		exec: exec,
		log:  logging.OrDiscard(log),
		base: base,
		sem:  make(chan struct{}, size),
	}
}

func (p *Pool) Submit(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	p.wg.Add(1)
	go p.run(sessionID)
	return nil
}

func (p *Pool) run(sessionID string) {
	defer p.wg.Done()

	select {
	case p.sem <- struct{}{}:
	case <-p.base.Done():
		p.abandon(sessionID)
		return
	}
	defer func() { <-p.sem }()

	if p.base.Err() != nil {
		p.abandon(sessionID)
		return
	}

	log := p.log.WithField("session_id", sessionID)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("session executor panicked")
		}
	}()

	if err := p.exec.Execute(p.base, sessionID); err != nil {
		log.WithError(err).Error("session execution failed")
	}
}

func (p *Pool) abandon(sessionID string) {
	log := p.log.WithField("session_id", sessionID)
	log.Warn("pool stopped before session started")

	a, ok := p.exec.(Abandoner)
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("session abandon panicked")
		}
	}()
	a.Abandon(context.WithoutCancel(p.base), sessionID, context.Cause(p.base))
}

// Close stops accepting work and waits for in-flight and queued sessions.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
}

// Wait blocks until every submitted session has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
