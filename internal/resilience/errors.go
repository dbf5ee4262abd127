package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/sells-group/toxipipe/internal/model"
)

// IsTransient reports whether the error is worth retrying. The typed
// pipeline errors carry the answer themselves: validation and config
// failures are never transient, oracle and persistence failures say so
// explicitly. Untyped errors fall back to network-level checks.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var ce *model.ConfigError
	if errors.As(err, &ce) {
		return false
	}
	var oe *model.OracleError
	if errors.As(err, &oe) {
		return oe.Transient
	}
	var pe *model.PersistenceError
	if errors.As(err, &pe) {
		return pe.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Heuristics for errors from HTTP clients that lost their type on
	// the way up.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// ClassifyError labels an error for failure records.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
