// Package webhook accepts signed telemetry pushes on POST /alert.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/SentryBox/internal/integrations/signature"
	"github.com/BearBump/SentryBox/internal/metrics"
	"github.com/BearBump/SentryBox/internal/models"
	"github.com/BearBump/SentryBox/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const (
	SignatureHeader = "X-Tesla-Signature"
	maxBodyBytes    = 1 << 20
	source          = "webhook"
)

type RecordHandler interface {
	HandleRecord(ctx context.Context, rec models.TelemetryRecord) (models.AlertDecision, error)
}

type Adapter struct {
	verifier signature.Verifier
	handler  RecordHandler
	now      func() time.Time
}

func New(v signature.Verifier, h RecordHandler) *Adapter {
	if v == nil {
		v = signature.AllowAll{}
	}
	return &Adapter{verifier: v, handler: h, now: time.Now}
}

type response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (a *Adapter) Register(r chi.Router) {
	r.Post("/alert", a.handleAlert)
}

func (a *Adapter) handleAlert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		slog.Warn("webhook body read failed", "err", err)
		metrics.TelemetryReceived.WithLabelValues(source, "malformed").Inc()
		writeJSON(w, http.StatusOK, response{Status: "error", Message: "unreadable body"})
		return
	}

	if err := a.verifier.Verify(body, r.Header.Get(SignatureHeader)); err != nil {
		slog.Warn("webhook signature rejected", "remote", r.RemoteAddr, "err", err)
		metrics.TelemetryReceived.WithLabelValues(source, "rejected").Inc()
		writeJSON(w, http.StatusUnauthorized, response{Status: "error", Message: "invalid signature"})
		return
	}

	// доставка не должна обрываться, если отправитель webhook закрыл соединение
	ctx := context.WithoutCancel(r.Context())
	if err := a.process(ctx, body); err != nil {
		writeJSON(w, http.StatusOK, response{Status: "error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, response{Status: "success"})
}

// process is the per-message isolation boundary: nothing, panics included,
// escapes it.
func (a *Adapter) process(ctx context.Context, body []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("webhook processing panicked", "panic", p)
			metrics.TelemetryReceived.WithLabelValues(source, "error").Inc()
			err = errors.New("internal error")
		}
	}()

	raw, err := telemetry.Decode(body)
	if err != nil {
		slog.Warn("webhook payload malformed", "err", err)
		metrics.TelemetryReceived.WithLabelValues(source, "malformed").Inc()
		return err
	}
	rec, err := telemetry.Normalize(raw, a.now())
	if err != nil {
		slog.Warn("webhook payload rejected", "err", err)
		metrics.TelemetryReceived.WithLabelValues(source, "malformed").Inc()
		return err
	}

	d, err := a.handler.HandleRecord(ctx, rec)
	if err != nil {
		slog.Error("webhook alert handling failed", "vin", rec.VIN, "err", err)
		metrics.TelemetryReceived.WithLabelValues(source, "error").Inc()
		return err
	}

	result := "ignored"
	if d.ShouldAlert {
		result = "alert"
	}
	metrics.TelemetryReceived.WithLabelValues(source, result).Inc()
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
