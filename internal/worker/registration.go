package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNoWorker is returned when no worker can receive an event
var ErrNoWorker = errors.New("no worker available")

// Registration hosts the workers of one site: the one controlling clients,
// the one waiting to take over, and the one installing
type Registration struct {
	retry time.Duration

	mu         sync.Mutex
	active     *Worker
	waiting    *Worker
	installing *Worker
	retryTimer *time.Timer
	// generation increases with every Register, so stale retries are dropped
	generation uint64
}

// NewRegistration creates an empty registration.
// Failed installs are retried after retry; zero disables retries.
func NewRegistration(retry time.Duration) *Registration {
	return &Registration{retry: retry}
}

// Active returns the worker controlling clients, or nil
func (r *Registration) Active() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Waiting returns the installed worker waiting to activate, or nil
func (r *Registration) Waiting() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Installing returns the worker being installed, or nil
func (r *Registration) Installing() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installing
}

// Register installs w. Once installed it activates right away when it skips waiting
// or nothing is active yet; otherwise it waits for SkipWaiting.
// When the install fails the active worker keeps control and the install is retried later.
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	r.mu.Lock()
	r.generation++
	gen := r.generation
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	if prev := r.installing; prev != nil {
		prev.setState(StateRedundant)
	}
	r.installing = w
	r.mu.Unlock()

	w.bind(r)
	w.setState(StateInstalling)

	if _, err := w.Dispatch(ctx, &Event{Kind: EventInstall}); err != nil {
		w.setState(StateRedundant)
		r.mu.Lock()
		if r.installing == w {
			r.installing = nil
		}
		r.mu.Unlock()

		logrus.Errorf("Worker %s: install failed: %v", w.version.Tag, err)
		r.scheduleRetry(gen, w)
		return fmt.Errorf("installing worker %s: %w", w.version.Tag, err)
	}

	r.mu.Lock()
	if r.installing != w {
		// superseded while installing
		r.mu.Unlock()
		w.setState(StateRedundant)
		return nil
	}
	r.installing = nil
	if prev := r.waiting; prev != nil {
		prev.setState(StateRedundant)
	}
	r.waiting = w
	activateNow := w.skipWaiting.Load() || r.active == nil
	r.mu.Unlock()

	w.setState(StateInstalled)
	logrus.Infof("Worker %s: installed", w.version.Tag)

	if activateNow {
		return r.activate(ctx, w)
	}
	logrus.Infof("Worker %s: waiting for the active worker to be released", w.version.Tag)
	return nil
}

// SkipWaiting activates the waiting worker
func (r *Registration) SkipWaiting(ctx context.Context) error {
	w := r.Waiting()
	if w == nil {
		return nil
	}
	return w.SkipWaiting(ctx)
}

// PostMessage delivers a control message to the waiting worker, or the active one
func (r *Registration) PostMessage(ctx context.Context, msg *Message) error {
	w := r.Waiting()
	if w == nil {
		w = r.Active()
	}
	if w == nil {
		return ErrNoWorker
	}
	_, err := w.Dispatch(ctx, MessageEvent(msg))
	return err
}

func (r *Registration) activate(ctx context.Context, w *Worker) error {
	r.mu.Lock()
	if r.waiting != w {
		r.mu.Unlock()
		return nil
	}
	r.waiting = nil
	r.mu.Unlock()

	w.setState(StateActivating)
	if _, err := w.Dispatch(ctx, &Event{Kind: EventActivate}); err != nil {
		logrus.Errorf("Worker %s: activate handler failed: %v", w.version.Tag, err)
	}

	// activation hands over control even when the worker did not claim
	r.claim(w)
	w.setState(StateActivated)
	return nil
}

func (r *Registration) claim(w *Worker) {
	r.mu.Lock()
	prev := r.active
	r.active = w
	r.mu.Unlock()

	if prev != nil && prev != w {
		prev.setState(StateRedundant)
		logrus.Infof("Worker %s replaced by %s", prev.version.Tag, w.version.Tag)
	}
}

func (r *Registration) scheduleRetry(gen uint64, failed *Worker) {
	if r.retry <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation {
		return
	}

	logrus.Infof("Worker %s: retrying install in %s", failed.version.Tag, r.retry)
	r.retryTimer = time.AfterFunc(r.retry, func() {
		r.mu.Lock()
		stale := gen != r.generation
		r.mu.Unlock()
		if stale {
			return
		}

		next, err := failed.fresh()
		if err != nil {
			logrus.Errorf("Worker %s: cannot rebuild for retry: %v", failed.version.Tag, err)
			return
		}
		// a failure schedules the next retry itself
		_ = r.Register(context.Background(), next)
	})
}

// Close stops pending install retries
func (r *Registration) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
}
