package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cartstream/storefront/pkg/ist"
)

// Options tunes the Dispatcher. Zero values take defaults.
type Options struct {
	QueueSize     int
	Workers       int
	RetryInterval time.Duration
	RetryBackoff  time.Duration
	MaxAttempts   int
}

func (o *Options) setDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = time.Minute
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
}

// Dispatcher persists in-app notifications and delivers email in the
// background.
type Dispatcher struct {
	mailer Mailer
	outbox Outbox
	opts   Options
	queue  chan Email
	now    func() time.Time

	mu      sync.RWMutex
	stopped bool
	lg     *zap.Logger
}

// NewDispatcher creates a Dispatcher. Call Run to start delivery.
func NewDispatcher(mailer Mailer, outbox Outbox, lg *zap.Logger, opts Options) *Dispatcher {
	opts.setDefaults()
	return &Dispatcher{
		mailer: mailer,
		outbox: outbox,
		opts:   opts,
		queue:  make(chan Email, opts.QueueSize),
		now:    ist.Now,
		lg:     lg.Named("notify"),
	}
}

// Stage writes the in-app rows of msgs through st and returns the emails to
// send once the surrounding transaction has committed. A persistence failure
// is logged and the emails are still returned.
func (d *Dispatcher) Stage(ctx context.Context, st Store, msgs ...Message) []Email {
	if len(msgs) == 0 {
		return nil
	}
	now := d.now()
	rows := make([]Notification, 0, len(msgs))
	var emails []Email
	for _, m := range msgs {
		rows = append(rows, Notification{UserID: m.UserID, Message: m.Text, CreatedAt: now})
		if m.Email != nil && m.Email.To != "" {
			emails = append(emails, *m.Email)
		}
	}
	if err := st.CreateBatch(ctx, rows); err != nil {
		d.lg.Warn("Persist notifications failed",
			zap.Int("count", len(rows)),
			zap.Error(err),
		)
	}
	return emails
}

// Enqueue hands emails to the delivery workers without blocking. When the
// queue is full, or Run has already returned, the email goes straight to the
// retry outbox.
func (d *Dispatcher) Enqueue(ctx context.Context, emails ...Email) {
	for _, e := range emails {
		if cause, ok := d.offer(e); !ok {
			d.park(ctx, e, cause)
		}
	}
}

func (d *Dispatcher) offer(e Email) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return "dispatcher stopped", false
	}
	select {
	case d.queue <- e:
		return "", true
	default:
		return "delivery queue full", false
	}
}

// Run delivers queued email and retries recorded failures until ctx is
// cancelled. Email still queued at shutdown, and any enqueued afterwards, is
// parked in the outbox.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = false
	d.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for range d.opts.Workers {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case e := <-d.queue:
					d.deliver(gctx, e)
				}
			}
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(d.opts.RetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := d.RetryFailed(gctx); err != nil {
					d.lg.Warn("Retry failed emails", zap.Error(err))
				}
			}
		}
	})
	err := g.Wait()

	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	for {
		select {
		case e := <-d.queue:
			d.park(ctx, e, "shutdown before delivery")
		default:
			return err
		}
	}
}

// RetryFailed resends failures that are due.
func (d *Dispatcher) RetryFailed(ctx context.Context) error {
	now := d.now()
	due, err := d.outbox.DueFailures(ctx, now, d.opts.MaxAttempts, 50)
	if err != nil {
		return err
	}
	for _, f := range due {
		if err := d.mailer.Send(ctx, f.Email); err != nil {
			next := now.Add(d.opts.RetryBackoff << min(f.Attempts, 10))
			if rerr := d.outbox.Reschedule(ctx, f.ID, err.Error(), next); rerr != nil {
				d.lg.Error("Reschedule failed email", zap.Int64("id", f.ID), zap.Error(rerr))
			}
			continue
		}
		if err := d.outbox.Resolve(ctx, f.ID); err != nil {
			d.lg.Error("Resolve failed email", zap.Int64("id", f.ID), zap.Error(err))
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, e Email) {
	if err := d.mailer.Send(ctx, e); err != nil {
		derr := &DeliveryError{To: e.To, Subject: e.Subject, Err: err}
		d.park(ctx, e, derr.Error())
	}
}

// park records e for retry. The write ignores cancellation of ctx so a send
// cut short by shutdown is still recorded.
func (d *Dispatcher) park(ctx context.Context, e Email, cause string) {
	ctx = context.WithoutCancel(ctx)
	d.lg.Warn("Email not delivered",
		zap.String("to", e.To),
		zap.String("subject", e.Subject),
		zap.String("cause", cause),
	)
	if err := d.outbox.RecordFailure(ctx, e, cause, d.now().Add(d.opts.RetryBackoff)); err != nil {
		d.lg.Error("Record failed email", zap.String("to", e.To), zap.Error(err))
	}
}
