// ABOUTME: Delivery layer fanning events out to live connections and queueing push work
// ABOUTME: Replaces ad-hoc goroutine spawning with a bounded worker pool that drains on shutdown

package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reloapp/relo-server/internal/events"
	"github.com/reloapp/relo-server/internal/push"
	"github.com/reloapp/relo-server/internal/registry"
)

// pushTimeout bounds how long one queued push job may spend talking to the
// push gateway.
const pushTimeout = 10 * time.Second

// Pusher sends one notification to a set of users. Satisfied by
// *push.Dispatcher.
type Pusher interface {
	Dispatch(ctx context.Context, userIDs []string, note push.Notification) (int, error)
}

// Dispatcher delivers events over live connections and hands push
// notifications to a background worker pool. Fan-out to connections happens
// inline on the caller's goroutine; push dispatch is detached because gateway
// latency must never block a send.
type Dispatcher struct {
	registry *registry.Registry
	pusher   Pusher
	logger   *slog.Logger

	jobs chan pushJob
	wg   sync.WaitGroup

	closeOnce sync.Once
}

type pushJob struct {
	userIDs []string
	note    push.Notification
}

// New creates a Dispatcher and starts its workers. Pass a nil pusher to
// disable push entirely; queued jobs are then dropped at enqueue time.
func New(reg *registry.Registry, pusher Pusher, workers, queueSize int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	d := &Dispatcher{
		registry: reg,
		pusher:   pusher,
		logger:   logger.With("component", "delivery"),
		jobs:     make(chan pushJob, queueSize),
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}

	return d
}

// FanOut marshals the envelope once and writes it to every live connection of
// every listed user. Users without connections are skipped silently; a failed
// write prunes that connection inside the registry and never surfaces here.
// Only marshalling can fail.
func (d *Dispatcher) FanOut(ctx context.Context, userIDs []string, env events.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	g, _ := errgroup.WithContext(ctx)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			d.registry.Send(userID, data)
			return nil
		})
	}
	return g.Wait()
}

// EnqueuePush queues a notification for background dispatch. It never blocks:
// when the queue is full the job is dropped and counted against the log.
func (d *Dispatcher) EnqueuePush(userIDs []string, note push.Notification) {
	if d.pusher == nil || len(userIDs) == 0 {
		return
	}

	job := pushJob{userIDs: userIDs, note: note}
	select {
	case d.jobs <- job:
	default:
		d.logger.Warn("push queue full, dropping notification",
			"recipients", len(userIDs),
			"conversation_id", note.ConversationID)
	}
}

// Close stops accepting jobs and waits for in-flight pushes to finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.run(job)
	}
}

// run executes one push job under its own timeout. A panicking gateway client
// must not take the worker down with it.
func (d *Dispatcher) run(job pushJob) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("push worker panic", "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	accepted, err := d.pusher.Dispatch(ctx, job.userIDs, job.note)
	if err != nil {
		d.logger.Warn("push dispatch failed",
			"recipients", len(job.userIDs),
			"error", err)
		return
	}
	d.logger.Debug("push dispatched",
		"recipients", len(job.userIDs),
		"accepted", accepted)
}
