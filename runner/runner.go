package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/mbox-archive/stats"
)

type StageFunc func(context.Context) error

// SubscriberFunc consumes pipeline events until the channel is closed.
type SubscriberFunc func(<-chan stats.Event) error

type stage struct {
	name string
	n    int
	fn   StageFunc
	done func()
}

type subscriber struct {
	name   string
	fn     SubscriberFunc
	events chan stats.Event
}

// Runner runs a set of goroutine stages that share one context. The first
// stage error cancels the others.
type Runner struct {
	name   string
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events chan stats.Event
	stages []stage
	subs   []*subscriber

	errMu sync.Mutex
	err   error

	closeEventsOnce sync.Once
	since           time.Time
}

func New(parent context.Context, name string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Runner{
		name:   name,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan stats.Event, 128),
	}
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

// Emit delivers evt to every subscriber. It never drops events, so it may
// block while subscribers catch up.
func (r *Runner) Emit(evt stats.Event) {
	r.events <- evt
}

// Subscribe registers fn to receive every event emitted while the runner is
// running. It must be called before Start.
func (r *Runner) Subscribe(name string, fn SubscriberFunc) {
	r.subs = append(r.subs, &subscriber{name: name, fn: fn, events: make(chan stats.Event, 64)})
}

// AddStage registers a single goroutine stage. It must be called before Start.
func (r *Runner) AddStage(name string, fn StageFunc) {
	r.AddPool(name, 1, fn, nil)
}

// AddPool registers n copies of fn. done, if set, runs once all copies have
// returned, which is where a pool closes its output channel.
func (r *Runner) AddPool(name string, n int, fn StageFunc, done func()) {
	if n < 1 {
		n = 1
	}
	r.stages = append(r.stages, stage{name: name, n: n, fn: fn, done: done})
}

// Start launches all stages and blocks until they and every subscriber have
// finished. It returns the first stage or subscriber error.
func (r *Runner) Start() error {
	r.since = time.Now()

	var subsWG sync.WaitGroup
	for _, s := range r.subs {
		subsWG.Add(1)
		go func(s *subscriber) {
			defer subsWG.Done()
			err := s.fn(s.events)
			// keep draining so the dispatcher never blocks on a finished subscriber
			for range s.events {
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				r.Fail(fmt.Errorf("%s subscriber: %w", s.name, err))
			}
		}(s)
	}

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for evt := range r.events {
			for _, s := range r.subs {
				s.events <- evt
			}
		}
		for _, s := range r.subs {
			close(s.events)
		}
	}()

	var workWG sync.WaitGroup
	for _, st := range r.stages {
		var poolWG sync.WaitGroup
		for i := 0; i < st.n; i++ {
			workWG.Add(1)
			poolWG.Add(1)
			go func(st stage) {
				defer workWG.Done()
				defer poolWG.Done()
				if err := st.fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
					r.Fail(fmt.Errorf("%s stage: %w", st.name, err))
				}
			}(st)
		}
		if st.done != nil {
			workWG.Add(1)
			go func(done func()) {
				defer workWG.Done()
				poolWG.Wait()
				done()
			}(st.done)
		}
	}

	workWG.Wait()
	r.closeEvents()
	<-dispatched
	subsWG.Wait()

	r.cancel()

	err := r.Err()
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "pipeline", r.name, "duration", duration, "err", err)
		return err
	}

	r.logger.Debug("pipeline completed", "pipeline", r.name, "duration", duration)
	return nil
}

// Err returns the first recorded failure.
func (r *Runner) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// Fail records err and cancels the shared context. Only the first error is kept.
func (r *Runner) Fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}
