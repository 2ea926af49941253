// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package dispatcher runs lifecycle events on named FIFO queues.

Each queue is served by a single worker goroutine, so events on the
same queue execute strictly in submission order while different queues
proceed independently. User-facing commands and scheduled jobs are
kept on separate queues so a burst of background work can never delay
an operator's request.

Delivery is at-least-once: an event whose handler panics is requeued
exactly once before being reported as failed. Callers that need the
outcome attach a completion future keyed by the event's correlation ID
and must supply a wait timeout; there is no unbounded wait.
*/
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/appdock/services/appstore/datatypes"
	"github.com/AleutianAI/appdock/services/appstore/telemetry"
)

// Queue names used by the engine.
const (
	// QueueApps carries user-initiated app commands.
	QueueApps = "apps"

	// QueueSystem carries repo sync and system snapshot events
	// submitted by operators.
	QueueSystem = "system"

	// QueueScheduled carries cron-submitted background jobs. Kept
	// separate so scheduled work never queues ahead of a user command.
	QueueScheduled = "scheduled"
)

var (
	// ErrDispatcherStopped is returned when submitting to a stopped
	// dispatcher.
	ErrDispatcherStopped = errors.New("dispatcher is stopped")

	// ErrUnknownQueue is returned for queue names that were not
	// configured.
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrTimeoutRequired is returned when a wait is requested without
	// a positive timeout.
	ErrTimeoutRequired = errors.New("a positive wait timeout is required")
)

// Handler executes one event and returns its result.
//
// Handlers are free to take as long as the event needs; the wait
// timeout bounds the caller's wait, not the execution.
type Handler func(ctx context.Context, event *datatypes.Event) datatypes.Result

// =============================================================================
// Interface Definition
// =============================================================================

// Dispatcher submits events for asynchronous execution.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from any goroutine.
type Dispatcher interface {
	// Dispatch enqueues an event on the named queue and returns
	// without waiting for execution.
	//
	// Blocks only while the queue is at capacity; ctx bounds that
	// wait. The event's ID is its correlation ID for a later Wait.
	Dispatch(ctx context.Context, queue string, event *datatypes.Event) error

	// DispatchAndWait enqueues an event and blocks until the handler
	// finishes or timeout elapses.
	//
	// timeout must be positive; there is no infinite wait. On expiry
	// the call returns datatypes.ErrDispatchTimeout while the event
	// keeps executing in the background.
	DispatchAndWait(ctx context.Context, queue string, event *datatypes.Event, timeout time.Duration) (datatypes.Result, error)

	// Wait blocks until the event with the given correlation ID
	// completes or timeout elapses.
	Wait(ctx context.Context, eventID string, timeout time.Duration) (datatypes.Result, error)

	// Schedule registers a cron entry that submits a fresh event to
	// the scheduled queue each time spec fires.
	Schedule(spec string, factory func() *datatypes.Event) (cron.EntryID, error)

	// Start launches the queue workers and the cron scheduler.
	Start()

	// Stop halts intake, waits for in-flight events, and stops the
	// scheduler. ctx bounds the drain.
	Stop(ctx context.Context) error
}

// =============================================================================
// Default Implementation
// =============================================================================

// Config controls dispatcher behavior.
type Config struct {
	// QueueSize is the per-queue buffer capacity. Default 64.
	QueueSize int

	// Queues lists the queue names to serve. Default: apps, system,
	// scheduled.
	Queues []string

	// Logger receives dispatch and completion logs.
	Logger *slog.Logger

	// Metrics receives dispatcher metrics. Optional.
	Metrics *telemetry.Metrics
}

type queuedEvent struct {
	event   *datatypes.Event
	queue   string
	attempt int
}

// DefaultDispatcher implements Dispatcher with one worker per queue.
type DefaultDispatcher struct {
	handler Handler
	logger  *slog.Logger
	metrics *telemetry.Metrics

	queues map[string]chan queuedEvent
	cron   *cron.Cron

	mu        sync.Mutex
	futures   map[string]chan datatypes.Result
	completed map[string]datatypes.Result
	doneOrder []string
	stopped   bool

	stopCh  chan struct{}
	workers sync.WaitGroup
}

// Compile-time interface check.
var _ Dispatcher = (*DefaultDispatcher)(nil)

// New creates a dispatcher that routes every event through handler.
func New(handler Handler, cfg Config) (*DefaultDispatcher, error) {
	if handler == nil {
		return nil, errors.New("handler must not be nil")
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	names := cfg.Queues
	if len(names) == 0 {
		names = []string{QueueApps, QueueSystem, QueueScheduled}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &DefaultDispatcher{
		handler:   handler,
		logger:    logger,
		metrics:   cfg.Metrics,
		queues:    make(map[string]chan queuedEvent, len(names)),
		cron:      cron.New(),
		futures:   make(map[string]chan datatypes.Result),
		completed: make(map[string]datatypes.Result),
		stopCh:    make(chan struct{}),
	}
	for _, name := range names {
		if _, dup := d.queues[name]; dup {
			return nil, fmt.Errorf("duplicate queue %q", name)
		}
		d.queues[name] = make(chan queuedEvent, size)
	}
	return d, nil
}

// Start launches one worker per queue and the cron scheduler.
func (d *DefaultDispatcher) Start() {
	for name, ch := range d.queues {
		d.workers.Add(1)
		go d.run(name, ch)
	}
	d.cron.Start()
}

// Stop halts intake and drains in-flight work.
func (d *DefaultDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	cronCtx := d.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	close(d.stopCh)

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch implements Dispatcher.
func (d *DefaultDispatcher) Dispatch(ctx context.Context, queue string, event *datatypes.Event) error {
	if event == nil || event.ID == "" {
		return errors.New("event with correlation id is required")
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	ch, ok := d.queues[queue]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}

	select {
	case ch <- queuedEvent{event: event, queue: queue}:
		d.logger.Debug("event submitted",
			"event_id", event.ID,
			"queue", queue,
			"command", event.Command,
			"app_id", event.AppID)
		if d.metrics != nil {
			attrs := metric.WithAttributes(
				attribute.String("queue", queue),
				attribute.String("command", event.Command))
			d.metrics.EventsSubmittedTotal.Add(ctx, 1, attrs)
			d.metrics.QueueDepth.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
		}
		return nil
	case <-d.stopCh:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchAndWait implements Dispatcher.
func (d *DefaultDispatcher) DispatchAndWait(ctx context.Context, queue string, event *datatypes.Event, timeout time.Duration) (datatypes.Result, error) {
	if timeout <= 0 {
		return datatypes.Result{}, ErrTimeoutRequired
	}
	if event == nil || event.ID == "" {
		return datatypes.Result{}, errors.New("event with correlation id is required")
	}

	// Register the future before submitting so a fast handler cannot
	// complete between Dispatch and Wait.
	future := d.registerFuture(event.ID)

	if err := d.Dispatch(ctx, queue, event); err != nil {
		d.dropFuture(event.ID)
		return datatypes.Result{}, err
	}
	return d.await(ctx, event.ID, future, timeout)
}

// Wait implements Dispatcher.
func (d *DefaultDispatcher) Wait(ctx context.Context, eventID string, timeout time.Duration) (datatypes.Result, error) {
	if timeout <= 0 {
		return datatypes.Result{}, ErrTimeoutRequired
	}
	return d.await(ctx, eventID, d.registerFuture(eventID), timeout)
}

// Schedule implements Dispatcher.
func (d *DefaultDispatcher) Schedule(spec string, factory func() *datatypes.Event) (cron.EntryID, error) {
	if factory == nil {
		return 0, errors.New("event factory must not be nil")
	}
	return d.cron.AddFunc(spec, func() {
		event := factory()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.Dispatch(ctx, QueueScheduled, event); err != nil {
			d.logger.Warn("scheduled event dropped",
				"command", event.Command,
				"error", err)
		}
	})
}

// completedRetained bounds the results kept for late waiters. Events
// nobody ever waits on are evicted oldest-first.
const completedRetained = 128

// registerFuture returns the completion channel for eventID, creating
// it if needed. A result that already arrived is delivered
// immediately, so waiting after completion still resolves.
func (d *DefaultDispatcher) registerFuture(eventID string) chan datatypes.Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	if result, ok := d.completed[eventID]; ok {
		delete(d.completed, eventID)
		ch := make(chan datatypes.Result, 1)
		ch <- result
		return ch
	}
	if ch, ok := d.futures[eventID]; ok {
		return ch
	}
	ch := make(chan datatypes.Result, 1)
	d.futures[eventID] = ch
	return ch
}

func (d *DefaultDispatcher) dropFuture(eventID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.futures, eventID)
}

func (d *DefaultDispatcher) await(ctx context.Context, eventID string, future chan datatypes.Result, timeout time.Duration) (datatypes.Result, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-future:
		d.dropFuture(eventID)
		return result, nil
	case <-timer.C:
		if d.metrics != nil {
			d.metrics.WaitTimeoutsTotal.Add(ctx, 1)
		}
		return datatypes.Result{}, fmt.Errorf("%w after %s waiting for event %s",
			datatypes.ErrDispatchTimeout, timeout, eventID)
	case <-ctx.Done():
		return datatypes.Result{}, ctx.Err()
	}
}

// run is the worker loop for one queue.
func (d *DefaultDispatcher) run(queue string, ch chan queuedEvent) {
	defer d.workers.Done()

	for {
		select {
		case qe := <-ch:
			d.execute(queue, ch, qe)
		case <-d.stopCh:
			// Drain what was already accepted.
			for {
				select {
				case qe := <-ch:
					d.execute(queue, ch, qe)
				default:
					return
				}
			}
		}
	}
}

// execute runs one event, recovering from handler panics. A panicked
// event is requeued once; a second panic fails it.
func (d *DefaultDispatcher) execute(queue string, ch chan queuedEvent, qe queuedEvent) {
	start := time.Now()
	ctx := context.Background()

	if d.metrics != nil {
		d.metrics.QueueDepth.Add(ctx, -1, metric.WithAttributes(attribute.String("queue", queue)))
	}

	var result datatypes.Result
	panicked := d.runHandler(ctx, qe.event, &result)

	if panicked && qe.attempt == 0 {
		d.logger.Warn("event handler panicked, requeueing",
			"event_id", qe.event.ID,
			"command", qe.event.Command)
		select {
		case ch <- queuedEvent{event: qe.event, queue: queue, attempt: 1}:
			if d.metrics != nil {
				d.metrics.QueueDepth.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
			}
			return
		default:
			// Queue full; fall through and fail the event.
		}
	}
	if panicked {
		result = datatypes.Result{Success: false, Stdout: "event handler panicked"}
	}

	d.complete(qe.event.ID, result)

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	d.logger.Info("event completed",
		"event_id", qe.event.ID,
		"queue", queue,
		"command", qe.event.Command,
		"app_id", qe.event.AppID,
		"outcome", outcome,
		"duration", time.Since(start))
	if d.metrics != nil {
		attrs := metric.WithAttributes(
			attribute.String("queue", queue),
			attribute.String("command", qe.event.Command),
			attribute.String("outcome", outcome))
		d.metrics.EventsCompletedTotal.Add(ctx, 1, attrs)
		d.metrics.EventDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

// runHandler isolates the recover so a panic does not unwind the
// worker loop. Returns true when the handler panicked.
func (d *DefaultDispatcher) runHandler(ctx context.Context, event *datatypes.Event, result *datatypes.Result) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			d.logger.Error("event handler panic",
				"event_id", event.ID,
				"command", event.Command,
				"panic", fmt.Sprintf("%v", r))
		}
	}()
	*result = d.handler(ctx, event)
	return false
}

// complete delivers the result to a waiting future, or retains it for
// a late waiter.
func (d *DefaultDispatcher) complete(eventID string, result datatypes.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ch, ok := d.futures[eventID]; ok {
		select {
		case ch <- result:
		default:
			// A result was already delivered for this ID; first wins.
		}
		return
	}

	if _, exists := d.completed[eventID]; !exists {
		d.doneOrder = append(d.doneOrder, eventID)
	}
	d.completed[eventID] = result
	for len(d.doneOrder) > completedRetained {
		evict := d.doneOrder[0]
		d.doneOrder = d.doneOrder[1:]
		delete(d.completed, evict)
	}
}
