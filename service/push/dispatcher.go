package push

import (
	"context"
	"sync"
	"time"

	"PRelay/service/metrics"
	"PRelay/service/subscription"
	"PRelay/tools/ids"
	"PRelay/tools/safe"

	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// Dispatcher runs push sends detached from the caller. Failures are logged and
// counted, never returned.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
	ids     *ids.Generator

	mu     sync.Mutex // guards closed and wg.Add
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, timeout time.Duration, gen *ids.Generator, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	safe.MustNotNil(sender, "push sender")
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if gen == nil {
		gen = ids.NewGenerator(1)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{sender: sender, timeout: timeout, log: log.Named("push"), metrics: m, ids: gen}
}

// Dispatch returns immediately. The send outlives ctx cancellation but not the timeout.
// After Close it drops the notification.
func (d *Dispatcher) Dispatch(ctx context.Context, receiverID string, sub subscription.Descriptor, n Notification) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.metrics.RecordPush(metrics.PushFailed)
		d.log.Warn("push dropped, dispatcher closed", zap.String("receiver", receiverID))
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	job := Job{
		ID:           d.ids.NextString(),
		ReceiverID:   receiverID,
		Subscription: sub,
		Payload:      n,
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)

	safe.Go(d.log, "push.send", func() {
		defer d.wg.Done()
		defer cancel()
		d.send(sendCtx, job)
	})
}

func (d *Dispatcher) send(ctx context.Context, job Job) {
	completed := false
	defer func() {
		// panics are logged by safe.Go; only count them here
		if !completed {
			d.metrics.RecordPush(metrics.PushFailed)
		}
	}()
	err := d.sender.Send(ctx, job)
	completed = true
	if err != nil {
		d.metrics.RecordPush(metrics.PushFailed)
		d.log.Error("push send failed", zap.String("job", job.ID), zap.String("receiver", job.ReceiverID), zap.Error(err))
		return
	}
	d.metrics.RecordPush(metrics.PushOK)
	d.log.Debug("push sent", zap.String("job", job.ID), zap.String("receiver", job.ReceiverID))
}

// Close stops accepting notifications and waits like Wait.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.Wait(ctx)
}

// Wait blocks until in-flight sends finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
