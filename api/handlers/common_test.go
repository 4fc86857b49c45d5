package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailmind/mailmind/types"
)

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	cases := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrEngineNeedsAction, http.StatusPreconditionFailed},
		{types.ErrEngineBusy, http.StatusTooManyRequests},
		{types.ErrSessionExpired, http.StatusConflict},
		{types.ErrSurfaceUnavailable, http.StatusFailedDependency},
		{types.ErrTimeout, http.StatusGatewayTimeout},
		{types.ErrEngineUnavailable, http.StatusNotImplemented},
		{types.ErrEngineNotReady, http.StatusServiceUnavailable},
		{types.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{types.ErrInternalError, http.StatusInternalServerError},
		{types.ErrorCode("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, mapErrorCodeToHTTPStatus(tc.code), string(tc.code))
	}
}

func TestWriteError_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewError(types.ErrEngineNotReady, "model still downloading").
		WithRetryable(true).
		WithRemediation("wait for the download to finish")

	WriteError(rec, err, zap.NewNop())

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ENGINE_NOT_READY", resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
	assert.Equal(t, "wait for the download to finish", resp.Error.Remediation)
}

func TestWriteError_ExplicitStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewError(types.ErrInternalError, "nope").WithHTTPStatus(http.StatusTeapot)

	WriteError(rec, err, nil)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestDecodeJSONBody_RejectsUnknownFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"userMessage":"hi","bogus":1}`))

	var dst types.ChatRequest
	err := DecodeJSONBody(rec, req, &dst, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	_, err := rw.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.True(t, rw.Written)

	// A late WriteHeader must not overwrite the recorded status.
	rw.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
}
