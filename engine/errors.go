package engine

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mailmind/mailmind/types"
)

// mapLoadError turns a runtime load failure into a typed unavailability
// reason. The orchestrator must be able to tell "retry later" (still
// downloading, transient runtime trouble) from "will never work"
// (unsupported device) from "needs user action" (permission, disk, flag).
func mapLoadError(status int, msg string, cause error) *types.Error {
	low := strings.ToLower(msg)

	switch {
	case strings.Contains(low, "unsupported") || strings.Contains(low, "no compatible device") || status == http.StatusNotImplemented:
		return types.NewError(types.ErrEngineUnavailable, msg).
			WithCause(cause).
			WithRemediation("This device cannot run the on-device model.")
	case strings.Contains(low, "no space") || strings.Contains(low, "disk full") || status == http.StatusInsufficientStorage:
		return types.NewError(types.ErrEngineNeedsAction, msg).
			WithCause(cause).
			WithRemediation("Free up disk space and retry the download.")
	case status == http.StatusUnauthorized || status == http.StatusForbidden || strings.Contains(low, "permission"):
		return types.NewError(types.ErrEngineNeedsAction, msg).
			WithCause(cause).
			WithRemediation("Enable the on-device model in the runtime configuration.")
	case strings.Contains(low, "downloading") || strings.Contains(low, "not ready"):
		return types.NewError(types.ErrEngineNotReady, msg).WithCause(cause).WithRetryable(true)
	default:
		return types.NewError(types.ErrEngineNotReady, msg).WithCause(cause).WithRetryable(true)
	}
}

// sessionInvalid reports whether a generation failure is the runtime's
// session-invalidity signal, after which the handle must be discarded.
func sessionInvalid(status int, msg string) bool {
	if status == http.StatusConflict || status == http.StatusGone {
		return true
	}
	low := strings.ToLower(msg)
	return strings.Contains(low, "session expired") ||
		strings.Contains(low, "session invalid") ||
		strings.Contains(low, "model unloaded")
}

// mapGenerateError classifies a generation failure.
func mapGenerateError(status int, msg string, cause error) *types.Error {
	if sessionInvalid(status, msg) {
		return types.NewError(types.ErrSessionExpired, msg).WithCause(cause).WithRetryable(true)
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout, "generation timed out").WithCause(cause)
	}
	return types.NewError(types.ErrInternalError, msg).WithCause(cause)
}
