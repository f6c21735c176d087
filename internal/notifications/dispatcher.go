package notifications

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/eternisai/push-relay/internal/logger"
)

// sender runs one logical send to its terminal state.
type sender interface {
	Send(ctx context.Context, submissionID string, msg NotificationMessage) Result
}

// Submission is the handle returned to a caller for one queued message.
type Submission struct {
	ID        string
	MessageID string

	msg    NotificationMessage
	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool

	done   chan struct{}
	result Result
}

func newSubmission(ctx, root context.Context, msg NotificationMessage) *Submission {
	// The caller's request context ends long before delivery does; only an explicit
	// Cancel or a hard shutdown stops the submission.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Submission{
		ID:        uuid.New().String(),
		MessageID: msg.ID,
		msg:       msg,
		ctx:       subCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.stop = context.AfterFunc(root, cancel)
	return s
}

// Done is closed once the submission reached a terminal state.
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

// Result returns the terminal result. It is only meaningful after Done is closed.
func (s *Submission) Result() Result {
	<-s.done
	return s.result
}

// Wait blocks until the submission finishes or ctx ends.
func (s *Submission) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel abandons the submission. A gateway call already in flight still completes.
func (s *Submission) Cancel() {
	s.cancel()
}

func (s *Submission) finish(res Result) {
	s.result = res
	s.stop()
	s.cancel()
	close(s.done)
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers    int
	BufferSize int
}

// Dispatcher runs submissions on a fixed pool of workers fed by a bounded queue.
type Dispatcher struct {
	sender  sender
	queue   chan *Submission
	workers sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	shutdown chan struct{}

	root       context.Context
	rootCancel context.CancelFunc

	droppedTotal atomic.Int64
	bufferSize   int
	metrics      *Metrics
	logger       *logger.Logger
}

// NewDispatcher starts the worker pool.
func NewDispatcher(s sender, cfg DispatcherConfig, metrics *Metrics, log *logger.Logger) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BufferSize < 0 {
		cfg.BufferSize = 0
	}

	root, rootCancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender:     s,
		queue:      make(chan *Submission, cfg.BufferSize),
		shutdown:   make(chan struct{}),
		root:       root,
		rootCancel: rootCancel,
		bufferSize: cfg.BufferSize,
		metrics:    metrics,
		logger:     log.WithComponent("dispatcher"),
	}

	for i := 0; i < cfg.Workers; i++ {
		d.workers.Add(1)
		go d.worker()
	}

	return d
}

// Enqueue queues msg for delivery and returns immediately. When the queue is full or
// the dispatcher is shutting down the submission is already resolved as failed.
func (d *Dispatcher) Enqueue(ctx context.Context, msg NotificationMessage) *Submission {
	sub := newSubmission(ctx, d.root, msg)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.reject(sub, "dispatcher is shutting down")
		return sub
	}

	select {
	case d.queue <- sub:
		d.metrics.queueDepth.Inc()
	default:
		d.reject(sub, "dispatch queue full")
	}

	return sub
}

func (d *Dispatcher) reject(sub *Submission, reason string) {
	dropped := d.droppedTotal.Add(1)
	d.metrics.dispatchDrops.Inc()
	d.metrics.submissions.WithLabelValues(string(StatusFailed), string(KindQueueFull)).Inc()

	d.logger.Error("submission dropped",
		slog.String("reason", reason),
		slog.String("submission_id", sub.ID),
		slog.String("message_id", sub.MessageID),
		slog.String("recipient_id", sub.msg.RecipientID),
		slog.Int64("total_dropped", dropped),
		slog.Int("queue_size", d.bufferSize))

	sub.finish(Result{
		SubmissionID: sub.ID,
		MessageID:    sub.MessageID,
		RecipientID:  sub.msg.RecipientID,
		Status:       StatusFailed,
		Kind:         KindQueueFull,
	})
}

// DroppedTotal returns how many submissions were rejected.
func (d *Dispatcher) DroppedTotal() int64 {
	return d.droppedTotal.Load()
}

func (d *Dispatcher) worker() {
	defer d.workers.Done()

	for {
		select {
		case sub := <-d.queue:
			d.handle(sub)
		case <-d.shutdown:
			// Drain what was queued before shutdown.
			for {
				select {
				case sub := <-d.queue:
					d.handle(sub)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) handle(sub *Submission) {
	d.metrics.queueDepth.Dec()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while delivering submission",
				slog.String("submission_id", sub.ID),
				slog.Any("panic", r))
			sub.finish(Result{
				SubmissionID: sub.ID,
				MessageID:    sub.MessageID,
				RecipientID:  sub.msg.RecipientID,
				Status:       StatusFailed,
				Kind:         KindUnknown,
			})
		}
	}()

	sub.finish(d.sender.Send(sub.ctx, sub.ID, sub.msg))
}

// Shutdown stops accepting submissions and waits for queued ones to finish. If ctx
// ends first, remaining submissions are cancelled and Shutdown still waits for the
// workers to return.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.shutdown)

	finished := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		d.rootCancel()
		return nil
	case <-ctx.Done():
		d.logger.Warn("shutdown deadline reached, cancelling queued submissions",
			slog.Int("queued", len(d.queue)))
		d.rootCancel()
		<-finished
		return ctx.Err()
	}
}
