// Package signature verifies webhook payload signatures.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

type Verifier interface {
	Verify(payload []byte, header string) error
}

// HMAC checks "sha256=<hex>" or bare hex HMAC-SHA256 of the raw body.
type HMAC struct {
	secret []byte
}

func NewHMAC(secret string) *HMAC {
	return &HMAC{secret: []byte(secret)}
}

func (h *HMAC) Verify(payload []byte, header string) error {
	sig := strings.TrimSpace(header)
	if sig == "" {
		return errors.Wrap(ErrInvalidSignature, "missing signature header")
	}
	if i := strings.IndexByte(sig, '='); i >= 0 {
		if !strings.EqualFold(sig[:i], "sha256") {
			return errors.Wrapf(ErrInvalidSignature, "unsupported scheme %q", sig[:i])
		}
		sig = sig[i+1:]
	}

	got, err := hex.DecodeString(sig)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, "signature is not hex")
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the header value HMAC expects for payload.
func (h *HMAC) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// AllowAll accepts every payload.
type AllowAll struct{}

func (AllowAll) Verify([]byte, string) error { return nil }

// New returns an HMAC verifier, or AllowAll when no secret is configured.
func New(secret string) Verifier {
	if secret == "" {
		slog.Warn("webhook secret is not configured, signatures are not verified")
		return AllowAll{}
	}
	return NewHMAC(secret)
}
