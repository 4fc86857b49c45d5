package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailmind/mailmind/internal/flagstore"
)

func newFlagsServer(t *testing.T) *httptest.Server {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := flagstore.DefaultConfig()
	cfg.Addr = mr.Addr()
	store, err := flagstore.New(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewFlagsHandler(store, zap.NewNop())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/flags/{key}", h.HandleGet)
	mux.HandleFunc("PUT /v1/flags/{key}", h.HandleSet)
	mux.HandleFunc("DELETE /v1/flags/{key}", h.HandleClear)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func doFlagsJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(method, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestFlags_GetMissing(t *testing.T) {
	srv := newFlagsServer(t)

	resp, err := http.Get(srv.URL + "/v1/flags/greeting_shown")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Success bool      `json:"success"`
		Data    FlagValue `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.True(t, envelope.Success)
	assert.False(t, envelope.Data.Exists)
	assert.Equal(t, "greeting_shown", envelope.Data.Key)
}

func TestFlags_SetAndGet(t *testing.T) {
	srv := newFlagsServer(t)

	resp := doFlagsJSON(t, http.MethodPut, srv.URL+"/v1/flags/preferred_engine", SetFlagRequest{Value: "offscreen"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/v1/flags/preferred_engine")
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope struct {
		Data FlagValue `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.True(t, envelope.Data.Exists)
	assert.Equal(t, "offscreen", envelope.Data.Value)
}

func TestFlags_SetOnce(t *testing.T) {
	srv := newFlagsServer(t)

	first := doFlagsJSON(t, http.MethodPut, srv.URL+"/v1/flags/onboarded", SetFlagRequest{Once: true})
	defer first.Body.Close()
	var env1 struct {
		Data map[string]bool `json:"data"`
	}
	require.NoError(t, json.NewDecoder(first.Body).Decode(&env1))
	assert.True(t, env1.Data["first"])

	second := doFlagsJSON(t, http.MethodPut, srv.URL+"/v1/flags/onboarded", SetFlagRequest{Once: true})
	defer second.Body.Close()
	var env2 struct {
		Data map[string]bool `json:"data"`
	}
	require.NoError(t, json.NewDecoder(second.Body).Decode(&env2))
	assert.False(t, env2.Data["first"])
}

func TestFlags_Clear(t *testing.T) {
	srv := newFlagsServer(t)

	resp := doFlagsJSON(t, http.MethodPut, srv.URL+"/v1/flags/stale", SetFlagRequest{Value: "x"})
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/flags/stale", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/flags/stale")
	require.NoError(t, err)
	defer resp.Body.Close()
	var envelope struct {
		Data FlagValue `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.False(t, envelope.Data.Exists)
}

func TestFlags_SetRequiresJSONContentType(t *testing.T) {
	srv := newFlagsServer(t)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/v1/flags/k", bytes.NewReader([]byte("v")))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
