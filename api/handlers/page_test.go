package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmind/mailmind/types"
)

func TestHandleContext(t *testing.T) {
	page := &scriptedPage{pc: &types.PageContext{
		Items: []types.ItemSummary{{Index: 0, Sender: "ana", Subject: "hi", Unread: true}},
	}}
	srv := newTestServer(t, &scriptedEngine{raw: "x"}, page)

	resp, err := http.Get(srv.URL + "/v1/page/context")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Success bool               `json:"success"`
		Data    types.PageContext `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.True(t, envelope.Success)
	require.Len(t, envelope.Data.Items, 1)
	assert.Equal(t, "ana", envelope.Data.Items[0].Sender)
}

func TestHandleContext_SurfaceUnavailable(t *testing.T) {
	page := &scriptedPage{err: types.NewError(types.ErrSurfaceUnavailable, "no tab")}
	srv := newTestServer(t, &scriptedEngine{raw: "x"}, page)

	resp, err := http.Get(srv.URL + "/v1/page/context")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFailedDependency, resp.StatusCode)
}

func TestHandleExecute(t *testing.T) {
	srv := newTestServer(t, &scriptedEngine{raw: "x"}, &scriptedPage{})

	resp := postJSON(t, srv.URL+"/v1/page/execute", ExecuteRequest{
		Action: "summarize_inbox",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data types.ActionResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.True(t, envelope.Data.Success)
	assert.Equal(t, "0 emails visible, 0 unread", envelope.Data.Summary)
}

func TestHandleExecute_MissingAction(t *testing.T) {
	srv := newTestServer(t, &scriptedEngine{raw: "x"}, &scriptedPage{})

	resp := postJSON(t, srv.URL+"/v1/page/execute", ExecuteRequest{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleScreenshot(t *testing.T) {
	srv := newTestServer(t, &scriptedEngine{raw: "x"}, &scriptedPage{})

	resp, err := http.Get(srv.URL + "/v1/screenshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.NotEmpty(t, envelope.Data["image"])
}

func TestHandleClassify(t *testing.T) {
	srv := newTestServer(t, &scriptedEngine{raw: "x"}, &scriptedPage{})

	resp := postJSON(t, srv.URL+"/v1/classify", TextRequest{Text: "great news everyone"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data types.ClassifyResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "positive", envelope.Data.Label)
	assert.InDelta(t, 0.93, envelope.Data.Score, 1e-9)
}

func TestHandleClassify_EmptyText(t *testing.T) {
	srv := newTestServer(t, &scriptedEngine{raw: "x"}, &scriptedPage{})

	resp := postJSON(t, srv.URL+"/v1/classify", TextRequest{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleSummarize(t *testing.T) {
	srv := newTestServer(t, &scriptedEngine{raw: "A short summary."}, &scriptedPage{})

	resp := postJSON(t, srv.URL+"/v1/summarize", TextRequest{Text: "a very long email body"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "A short summary.", envelope.Data["summary"])
}

func TestHandleAnalyzeImage(t *testing.T) {
	srv := newTestServer(t, &scriptedEngine{raw: "Invoice #42 due Friday"}, &scriptedPage{})

	resp := postJSON(t, srv.URL+"/v1/analyze-image", ImageRequest{ImageData: "aGVsbG8="})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "Invoice #42 due Friday", envelope.Data["text"])
}

func TestHandleEnvelope_UnknownAction(t *testing.T) {
	srv := newTestServer(t, &scriptedEngine{raw: "x"}, &scriptedPage{})

	resp := postJSON(t, srv.URL+"/v1/envelope", types.Envelope{Action: "reboot"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleEnvelope_GetEmails(t *testing.T) {
	page := &scriptedPage{pc: &types.PageContext{
		Items: []types.ItemSummary{{Index: 0, Subject: "a"}, {Index: 1, Subject: "b"}},
	}}
	srv := newTestServer(t, &scriptedEngine{raw: "x"}, page)

	resp := postJSON(t, srv.URL+"/v1/envelope", types.Envelope{Action: types.EnvGetEmails})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data []types.ItemSummary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Len(t, envelope.Data, 2)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &scriptedEngine{raw: "x"}, &scriptedPage{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
