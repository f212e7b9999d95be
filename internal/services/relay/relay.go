package relay

import (
	"context"
	"log/slog"

	"github.com/BearBump/SentryBox/internal/metrics"
	"github.com/BearBump/SentryBox/internal/models"
	"github.com/BearBump/SentryBox/internal/telemetry"
	"github.com/pkg/errors"
)

const outcomeThrottled = "throttled"

type LinkLister interface {
	LinksForVIN(ctx context.Context, vin string) ([]models.Link, error)
}

// AlertSender is satisfied by *alerts.Coordinator.
type AlertSender interface {
	SendAlert(ctx context.Context, userID string, rec models.TelemetryRecord, locale string, kb *models.Keyboard) (bool, error)
}

type KeyboardBuilder interface {
	Keyboard(userID, locale string) *models.Keyboard
}

type Cooldown interface {
	Allow(ctx context.Context, userID, vin string) (bool, int64, error)
}

// Relay fans an alert-worthy record out to every user linked to the VIN.
type Relay struct {
	links    LinkLister
	sender   AlertSender
	keyboard KeyboardBuilder
	cooldown Cooldown
}

func New(links LinkLister, sender AlertSender, keyboard KeyboardBuilder) *Relay {
	return &Relay{links: links, sender: sender, keyboard: keyboard}
}

func (r *Relay) WithCooldown(c Cooldown) *Relay {
	r.cooldown = c
	return r
}

// HandleRecord runs the full filter and delivers when the record is alert-worthy.
func (r *Relay) HandleRecord(ctx context.Context, rec models.TelemetryRecord) (models.AlertDecision, error) {
	d := telemetry.Decide(rec)
	if !d.ShouldAlert {
		slog.Debug("telemetry not alert-worthy", "vin", rec.VIN, "sentry", rec.SentryMode, "alarm", rec.Alarm)
		return d, nil
	}
	slog.Info("alert-worthy telemetry", "vin", rec.VIN, "reason", d.Reason)
	return d, r.Deliver(ctx, rec)
}

// Deliver sends the alert to each linked user. Every link is attempted; the
// first error is returned.
func (r *Relay) Deliver(ctx context.Context, rec models.TelemetryRecord) error {
	links, err := r.links.LinksForVIN(ctx, rec.VIN)
	if err != nil {
		return errors.Wrap(err, "lookup links")
	}
	if len(links) == 0 {
		slog.Info("no telegram users linked to vehicle", "vin", rec.VIN)
		return nil
	}

	var firstErr error
	for _, l := range links {
		if !r.allow(ctx, l.UserID, rec.VIN) {
			continue
		}

		out := rec
		if out.DisplayName == nil && l.DisplayName != nil {
			out.DisplayName = l.DisplayName
		}

		var kb *models.Keyboard
		if r.keyboard != nil {
			kb = r.keyboard.Keyboard(l.UserID, l.Locale)
		}

		ok, err := r.sender.SendAlert(ctx, l.UserID, out, l.Locale, kb)
		if err != nil {
			slog.Error("alert delivery failed", "user_id", l.UserID, "vin", rec.VIN, "err", err)
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "send alert to %s", l.UserID)
			}
			continue
		}
		slog.Info("alert handled", "user_id", l.UserID, "vin", rec.VIN, "delivered", ok)
	}
	return firstErr
}

func (r *Relay) allow(ctx context.Context, userID, vin string) bool {
	if r.cooldown == nil {
		return true
	}
	ok, n, err := r.cooldown.Allow(ctx, userID, vin)
	if err != nil {
		slog.Warn("alert cooldown check failed, delivering anyway", "user_id", userID, "vin", vin, "err", err)
		return true
	}
	if !ok {
		metrics.AlertOutcomes.WithLabelValues(outcomeThrottled).Inc()
		slog.Info("alert throttled by cooldown", "user_id", userID, "vin", vin, "count", n)
	}
	return ok
}
