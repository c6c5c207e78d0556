package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ETAnderson/productimporter/internal/logging"
)

// Sink consumes events. Handle must not retain ev.Data after returning.
type Sink interface {
	Handle(ctx context.Context, ev Event)
}

type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Handle(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Bus fans every emitted event out to its sinks on background goroutines.
// Emit returns immediately so producers never wait on delivery.
type Bus struct {
	base context.Context
	log  *logrus.Entry

	mu    sync.RWMutex
	sinks []Sink

	wg sync.WaitGroup
}

func NewBus(base context.Context, log *logrus.Entry, sinks ...Sink) *Bus {
	return &Bus{
		base:  base,
		log:   logging.OrDiscard(log),
		sinks: sinks,
	}
}

func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	b.log.WithFields(logrus.Fields{
		"event_id":   ev.ID,
		"event_type": ev.Type,
		"sinks":      len(sinks),
	}).Debug("emitting event")

	for _, s := range sinks {
		b.wg.Add(1)
		go func(s Sink) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.log.WithFields(logrus.Fields{
						"event_type": ev.Type,
						"panic":      fmt.Sprint(r),
					}).Error("event sink panicked")
				}
			}()
			s.Handle(b.base, ev)
		}(s)
	}
}

// Wait blocks until every sink invocation started so far has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}
