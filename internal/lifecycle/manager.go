// Package lifecycle runs the console's long-lived jobs (gateway bridge,
// leader elector, HTTP server) and drains the registered shutdown steps in
// order once they stop.
package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
)

type job struct {
	name string
	fn   func(context.Context) error
}

// Manager collects run jobs and shutdown steps before StartAndWait.
// Registration after StartAndWait has no effect on the running set.
type Manager struct {
	mu       sync.Mutex
	runs     []job
	shutdown []job
}

func NewManager() *Manager {
	return &Manager{}
}

// AddRun registers a long-lived job. The job must return when its context
// is cancelled; a non-nil return from any job stops all of them.
func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runs = append(m.runs, job{name: name, fn: fn})
	m.mu.Unlock()
}

// AddShutdown registers a drain step executed after every run job has
// stopped, in registration order.
func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdown = append(m.shutdown, job{name: name, fn: fn})
	m.mu.Unlock()
}

// StartAndWait runs every registered job until the parent context is
// cancelled, one of the listed signals arrives, or a job fails. Shutdown
// steps always run, with a fresh context, and their errors are joined
// onto the run error. context.Canceled is never treated as a failure.
func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		defer stop()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	runs := append([]job(nil), m.runs...)
	drains := append([]job(nil), m.shutdown...)
	m.mu.Unlock()

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	for _, j := range runs {
		j := j
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := j.fn(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errOnce.Do(func() { runErr = err })
				cancel()
			}
		}()
	}
	wg.Wait()

	var drainErr error
	for _, j := range drains {
		if err := j.fn(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			drainErr = errors.Join(drainErr, err)
		}
	}
	return errors.Join(runErr, drainErr)
}
