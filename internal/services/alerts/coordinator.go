package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/SentryBox/internal/broker/messages"
	"github.com/BearBump/SentryBox/internal/integrations/telegram"
	"github.com/BearBump/SentryBox/internal/metrics"
	"github.com/BearBump/SentryBox/internal/models"
	"github.com/BearBump/SentryBox/internal/services/retry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultOutcomeTopic = "alerts.outcome"
	retryIDPrefix       = "telegram-alert-"
)

var errNotDelivered = errors.New("bot api reported message not delivered")

// LinkRemover удаляет связки пользователя с автомобилями.
type LinkRemover interface {
	RemoveLink(ctx context.Context, userID string) error
}

// Retrier is satisfied by *retry.Manager.
type Retrier interface {
	AddToRetry(op retry.Operation, lastErr error, id string)
}

// Publisher is satisfied by the Kafka producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Coordinator struct {
	formatter *Formatter
	sender    telegram.Sender
	links     LinkRemover
	retrier   Retrier

	publisher Publisher
	topic     string

	testVINs       map[string]struct{}
	simulatedDelay time.Duration

	now    func() time.Time
	tracer trace.Tracer
}

func NewCoordinator(f *Formatter, sender telegram.Sender, links LinkRemover, retrier Retrier) *Coordinator {
	if f == nil {
		f = NewFormatter(nil, "")
	}
	return &Coordinator{
		formatter: f,
		sender:    sender,
		links:     links,
		retrier:   retrier,
		topic:     DefaultOutcomeTopic,
		testVINs:  map[string]struct{}{},
		now:       func() time.Time { return time.Now().UTC() },
		tracer:    otel.Tracer("github.com/BearBump/SentryBox/internal/services/alerts"),
	}
}

// WithSimulation enables the fixture-vehicle short circuit: alerts for these
// VINs sleep for delay and report success without calling the Bot API.
// A non-positive delay disables it.
func (c *Coordinator) WithSimulation(testVINs []string, delay time.Duration) *Coordinator {
	c.testVINs = make(map[string]struct{}, len(testVINs))
	for _, v := range testVINs {
		if v = strings.TrimSpace(v); v != "" {
			c.testVINs[v] = struct{}{}
		}
	}
	c.simulatedDelay = delay
	return c
}

// WithPublisher publishes every delivery decision to topic.
func (c *Coordinator) WithPublisher(p Publisher, topic string) *Coordinator {
	c.publisher = p
	if topic != "" {
		c.topic = topic
	}
	return c
}

// SendAlert delivers one alert. true means delivered or simulated; false with
// a nil error means the failure was handled (link removed or retry queued).
func (c *Coordinator) SendAlert(ctx context.Context, userID string, rec models.TelemetryRecord, locale string, kb *models.Keyboard) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "alerts.SendAlert", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("vin", rec.VIN),
	))
	defer span.End()

	msg := c.formatter.Format(rec, locale)

	if c.simulated(rec.VIN) {
		t := time.NewTimer(c.simulatedDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		slog.Info("simulated alert delivery", "user_id", userID, "vin", rec.VIN, "delay", c.simulatedDelay)
		c.record(ctx, userID, rec.VIN, messages.OutcomeSimulated, "", nil)
		span.SetAttributes(attribute.String("outcome", messages.OutcomeSimulated))
		return true, nil
	}

	ok, err := c.send(ctx, userID, msg.Text, kb)
	if err == nil {
		outcome := messages.OutcomeDelivered
		if !ok {
			outcome = messages.OutcomeFailed
		}
		c.record(ctx, userID, rec.VIN, outcome, "", nil)
		span.SetAttributes(attribute.String("outcome", outcome))
		return ok, nil
	}

	verdict := Classify(err)
	span.RecordError(err)
	span.SetAttributes(attribute.String("verdict", verdict.String()))

	switch verdict {
	case VerdictPermanent:
		slog.Warn("telegram user unreachable, removing link", "user_id", userID, "vin", rec.VIN, "err", err)
		if rmErr := c.links.RemoveLink(ctx, userID); rmErr != nil {
			span.SetStatus(codes.Error, "remove link")
			return false, errors.Wrap(rmErr, "remove link")
		}
		c.record(ctx, userID, rec.VIN, messages.OutcomeUnlinked, "", err)
		return false, nil

	case VerdictTransient:
		id := fmt.Sprintf("%s%s-%d", retryIDPrefix, userID, c.now().UnixMilli())
		c.retrier.AddToRetry(c.retryOperation(userID, rec.VIN, msg.Text, kb, id), err, id)
		slog.Info("alert queued for retry", "user_id", userID, "vin", rec.VIN, "id", id, "err", err)
		c.record(ctx, userID, rec.VIN, messages.OutcomeRetryScheduled, id, err)
		return false, nil

	default:
		span.SetStatus(codes.Error, "send failed")
		c.record(ctx, userID, rec.VIN, messages.OutcomeFailed, "", err)
		return false, err
	}
}

// retryOperation resends the already formatted text. A permanent failure on a
// retry unlinks the user and ends the retries.
func (c *Coordinator) retryOperation(userID, vin, text string, kb *models.Keyboard, id string) retry.Operation {
	return func(ctx context.Context) error {
		ctx, span := c.tracer.Start(ctx, "alerts.RetrySend", trace.WithAttributes(
			attribute.String("retry_id", id),
			attribute.String("user_id", userID),
		))
		defer span.End()

		ok, err := c.send(ctx, userID, text, kb)
		if err != nil {
			span.RecordError(err)
			if Classify(err) != VerdictPermanent {
				return err
			}
			slog.Warn("telegram user unreachable on retry, removing link", "user_id", userID, "id", id, "err", err)
			if rmErr := c.links.RemoveLink(ctx, userID); rmErr != nil {
				return errors.Wrap(rmErr, "remove link")
			}
			c.record(ctx, userID, vin, messages.OutcomeUnlinked, id, err)
			return nil
		}
		if !ok {
			return errNotDelivered
		}
		c.record(ctx, userID, vin, messages.OutcomeRetrySucceeded, id, nil)
		return nil
	}
}

// HandleRetryDropped is registered as the retry manager's drop handler.
func (c *Coordinator) HandleRetryDropped(d retry.DroppedEntry) {
	userID := userFromRetryID(d.ID)
	slog.Warn("alert retries exhausted", "id", d.ID, "user_id", userID, "attempts", d.Attempts, "err", d.LastError)
	c.record(context.Background(), userID, "", messages.OutcomeRetryDropped, d.ID, d.LastError)
}

func (c *Coordinator) send(ctx context.Context, userID, text string, kb *models.Keyboard) (bool, error) {
	start := time.Now()
	ok, err := c.sender.SendMessageToUser(ctx, userID, text, kb)
	metrics.SendLatency.Observe(time.Since(start).Seconds())
	return ok, err
}

func (c *Coordinator) simulated(vin string) bool {
	if c.simulatedDelay <= 0 {
		return false
	}
	_, ok := c.testVINs[vin]
	return ok
}

func (c *Coordinator) record(ctx context.Context, userID, vin, outcome, correlationID string, cause error) {
	metrics.AlertOutcomes.WithLabelValues(outcome).Inc()
	if c.publisher == nil {
		return
	}

	ev := messages.AlertOutcome{
		UserID:        userID,
		VIN:           vin,
		Outcome:       outcome,
		CorrelationID: correlationID,
		At:            c.now(),
	}
	if cause != nil {
		s := cause.Error()
		ev.Error = &s
	}

	b, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal alert outcome failed", "err", err)
		return
	}
	if err := c.publisher.Publish(ctx, c.topic, []byte(userID), b); err != nil {
		slog.Error("publish alert outcome failed", "outcome", outcome, "user_id", userID, "err", err)
	}
}

// userFromRetryID extracts <user> from "telegram-alert-<user>-<millis>".
func userFromRetryID(id string) string {
	rest, ok := strings.CutPrefix(id, retryIDPrefix)
	if !ok {
		return ""
	}
	if i := strings.LastIndex(rest, "-"); i > 0 {
		return rest[:i]
	}
	return rest
}
