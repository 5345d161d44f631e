package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/mattn/go-sqlite3"
	"google.golang.org/api/googleapi"
)

// IsTransient classifies connection resets, network timeouts, SQLite
// busy/locked conflicts, duplicate prepared statements and provider
// throttling or 5xx responses as transient. Cancellation never is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// A per-attempt timeout is worth another try; the caller's own
	// deadline is checked separately by Do.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return isTransientStatus(apiErr.Code)
	}

	var statusErr interface{ StatusCode() int }
	if errors.As(err, &statusErr) {
		return isTransientStatus(statusErr.StatusCode())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "could not serialize access"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "prepared statement") && strings.Contains(msg, "already exists"):
		return true
	}
	return false
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
