package alerts

import (
	"context"
	"net"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// Verdict is the outcome of classifying a delivery failure.
type Verdict int

const (
	// VerdictFatal: unknown failure, returned to the caller as is.
	VerdictFatal Verdict = iota
	// VerdictPermanent: the user can no longer be reached, the link is removed.
	VerdictPermanent
	// VerdictTransient: worth retrying later.
	VerdictTransient
)

func (v Verdict) String() string {
	switch v {
	case VerdictPermanent:
		return "permanent"
	case VerdictTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// StatusCoder is implemented by errors that carry a Bot API status code.
type StatusCoder interface {
	StatusCode() int
}

var permanentMarkers = []string{
	"bot was blocked by the user",
	"forbidden: bot was blocked",
	"chat not found",
}

var transientStatusCodes = map[int]struct{}{
	429: {}, 500: {}, 502: {}, 503: {}, 504: {}, 529: {},
}

var networkMarkers = []string{
	"ETIMEDOUT",
	"ECONNRESET",
	"ECONNREFUSED",
	"ECONNABORTED",
	"ENOTFOUND",
}

// Classify decides what to do with a failed send. Permanent patterns are
// checked first, then transient ones; everything else is fatal.
func Classify(err error) Verdict {
	if err == nil {
		return VerdictFatal
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, m := range permanentMarkers {
		if strings.Contains(lower, m) {
			return VerdictPermanent
		}
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		if _, ok := transientStatusCodes[sc.StatusCode()]; ok {
			return VerdictTransient
		}
	}

	upper := strings.ToUpper(msg)
	for _, m := range networkMarkers {
		if strings.Contains(upper, m) {
			return VerdictTransient
		}
	}

	if isNetworkFailure(err) {
		return VerdictTransient
	}
	return VerdictFatal
}

// isNetworkFailure maps Go network errors onto the same classes as the
// ETIMEDOUT/ECONNRESET/... markers.
func isNetworkFailure(err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && (dnsErr.IsNotFound || dnsErr.IsTimeout) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
