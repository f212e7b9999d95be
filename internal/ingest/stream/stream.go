// Package stream consumes fleet telemetry from a long-lived subscription.
package stream

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/SentryBox/internal/metrics"
	"github.com/BearBump/SentryBox/internal/models"
	"github.com/BearBump/SentryBox/internal/telemetry"
	"github.com/pkg/errors"
)

// Source is implemented by the Kafka consumer and the MQTT subscriber.
type Source interface {
	Name() string
	Consume(ctx context.Context, handler func(ctx context.Context, frames [][]byte) error) error
	Close() error
}

type Deliverer interface {
	Deliver(ctx context.Context, rec models.TelemetryRecord) error
}

type Adapter struct {
	src          Source
	relay        Deliverer
	now          func() time.Time
	restartDelay time.Duration
}

func New(src Source, relay Deliverer) *Adapter {
	return &Adapter{src: src, relay: relay, now: time.Now, restartDelay: time.Second}
}

// Run keeps the subscription alive until ctx is done, then closes the source.
// Close errors are only logged.
func (a *Adapter) Run(ctx context.Context) error {
	defer func() {
		if err := a.src.Close(); err != nil {
			slog.Warn("stream source close failed", "source", a.src.Name(), "err", err)
		}
		slog.Info("stream subscriber stopped", "source", a.src.Name())
	}()

	slog.Info("stream subscriber started", "source", a.src.Name())
	for {
		err := a.src.Consume(ctx, a.handle)
		if ctx.Err() != nil {
			return nil
		}
		slog.Error("stream receive loop failed, restarting", "source", a.src.Name(), "err", err)

		t := time.NewTimer(a.restartDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// handle never returns an error: one bad message must not end the loop.
func (a *Adapter) handle(ctx context.Context, frames [][]byte) error {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("stream message handling panicked", "source", a.src.Name(), "panic", p)
			metrics.TelemetryReceived.WithLabelValues(a.src.Name(), "error").Inc()
		}
	}()

	result, err := a.process(ctx, frames)
	metrics.TelemetryReceived.WithLabelValues(a.src.Name(), result).Inc()
	if err != nil {
		slog.Warn("stream message dropped", "source", a.src.Name(), "result", result, "err", err)
	}
	return nil
}

func (a *Adapter) process(ctx context.Context, frames [][]byte) (string, error) {
	payload, ok := ExtractJSON(frames)
	if !ok {
		return "malformed", errors.New("no json object in message")
	}
	raw, err := telemetry.Decode(payload)
	if err != nil {
		return "malformed", err
	}
	if !telemetry.StreamSentryAware(raw) {
		return "ignored", nil
	}
	rec, err := telemetry.Normalize(raw, a.now())
	if err != nil {
		return "malformed", err
	}

	slog.Info("sentry mode aware on stream", "source", a.src.Name(), "vin", rec.VIN)
	if err := a.relay.Deliver(ctx, rec); err != nil {
		return "error", errors.Wrap(err, "deliver")
	}
	return "alert", nil
}

// ExtractJSON concatenates frames and returns everything from the first '{'.
func ExtractJSON(frames [][]byte) ([]byte, bool) {
	joined := bytes.Join(frames, nil)
	i := bytes.IndexByte(joined, '{')
	if i < 0 {
		return nil, false
	}
	return joined[i:], true
}
