package notifications

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	gax "github.com/googleapis/gax-go/v2"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/mail"
)

const (
	defaultAttemptTimeout = 20 * time.Second
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultWait           = 25 * time.Second
)

var addressPattern = regexp.MustCompile(`.+@.+\..+`)

// ErrNoRecipient is returned when no usable address is available.
var ErrNoRecipient = errors.New("notifications: no valid recipient")

// ValidAddress reports whether s looks like an email address.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(strings.TrimSpace(s))
}

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, env mail.Envelope) error
}

// Metrics counts delivery results.
type Metrics interface {
	Notification(result string)
}

// Outcome describes what happened to a status notification.
type Outcome struct {
	Attempted bool
	Sent      bool
	Err       error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Renderer       *Renderer
	Sender         Sender
	AttemptTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	// Wait bounds how long SendOrderStatus blocks. Delivery continues in the
	// background once it elapses.
	Wait    time.Duration
	Logger  func(ctx context.Context, event string, fields map[string]any)
	Metrics Metrics
}

// Dispatcher renders and delivers order status emails with bounded retries.
type Dispatcher struct {
	renderer       *Renderer
	sender         Sender
	attemptTimeout time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	wait           time.Duration
	logger         func(ctx context.Context, event string, fields map[string]any)
	metrics        Metrics
}

// NewDispatcher validates cfg and applies defaults.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Renderer == nil {
		return nil, errors.New("notifications: renderer is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("notifications: sender is required")
	}
	d := &Dispatcher{
		renderer:       cfg.Renderer,
		sender:         cfg.Sender,
		attemptTimeout: cfg.AttemptTimeout,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		wait:           cfg.Wait,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
	}
	if d.attemptTimeout <= 0 {
		d.attemptTimeout = defaultAttemptTimeout
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = defaultMaxAttempts
	}
	if d.initialBackoff <= 0 {
		d.initialBackoff = defaultInitialBackoff
	}
	if d.wait <= 0 {
		d.wait = defaultWait
	}
	if d.logger == nil {
		d.logger = func(context.Context, string, map[string]any) {}
	}
	return d, nil
}

// SendOrderStatus emails to about order reaching status. It never returns an
// error: failures are reported through the Outcome.
func (d *Dispatcher) SendOrderStatus(ctx context.Context, to string, order domain.Order, status string) Outcome {
	to = strings.TrimSpace(to)
	if !ValidAddress(to) {
		d.record("skipped")
		d.logger(ctx, "notifications.order_status.skipped", map[string]any{"orderId": order.ID, "status": status})
		return Outcome{Err: ErrNoRecipient}
	}

	msg, err := d.renderer.RenderOrderStatus(order, status)
	if err != nil {
		d.record("failed")
		d.logger(ctx, "notifications.order_status.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return Outcome{Attempted: true, Err: err}
	}
	env := mail.Envelope{To: to, Subject: msg.Subject, Text: msg.Text, HTML: msg.HTML}

	done := make(chan error, 1)
	detached := context.WithoutCancel(ctx)
	go func() {
		err := d.deliver(detached, env)
		if err != nil {
			d.record("failed")
			d.logger(detached, "notifications.order_status.failed", map[string]any{"orderId": order.ID, "status": status, "error": err.Error()})
		} else {
			d.record("sent")
			d.logger(detached, "notifications.order_status.sent", map[string]any{"orderId": order.ID, "status": status})
		}
		done <- err
	}()

	timer := time.NewTimer(d.wait)
	defer timer.Stop()
	select {
	case err := <-done:
		return Outcome{Attempted: true, Sent: err == nil, Err: err}
	case <-timer.C:
	case <-ctx.Done():
	}
	d.logger(ctx, "notifications.order_status.detached", map[string]any{"orderId": order.ID, "status": status})
	return Outcome{Attempted: true, Err: context.DeadlineExceeded}
}

// SendMessage delivers a prepared message synchronously with retries. When
// HTML is empty the text body is reused with line breaks.
func (d *Dispatcher) SendMessage(ctx context.Context, to string, msg Message) error {
	if !ValidAddress(to) {
		return ErrNoRecipient
	}
	if msg.HTML == "" {
		msg.HTML = strings.ReplaceAll(msg.Text, "\n", "<br/>")
	}
	return d.deliver(ctx, mail.Envelope{To: strings.TrimSpace(to), Subject: msg.Subject, Text: msg.Text, HTML: msg.HTML})
}

func (d *Dispatcher) deliver(ctx context.Context, env mail.Envelope) error {
	backoff := gax.Backoff{Initial: d.initialBackoff, Max: 8 * d.initialBackoff, Multiplier: 2}
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		lastErr = d.sender.Send(attemptCtx, env)
		cancel()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, mail.ErrNotConfigured) || attempt == d.maxAttempts {
			break
		}
		d.logger(ctx, "notifications.send.retry", map[string]any{"attempt": attempt, "error": lastErr.Error()})
		if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
			return fmt.Errorf("notifications: send interrupted: %w", lastErr)
		}
	}
	return fmt.Errorf("notifications: send failed: %w", lastErr)
}

func (d *Dispatcher) record(result string) {
	if d.metrics != nil {
		d.metrics.Notification(result)
	}
}
