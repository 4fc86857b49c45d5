package handlers

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmind/mailmind/types"
)

func TestHandleStatus_Board(t *testing.T) {
	srv := newTestServer(t, &scriptedEngine{raw: "x"}, &scriptedPage{})

	resp, err := http.Get(srv.URL + "/v1/engine/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Success bool                                       `json:"success"`
		Data    map[types.EngineKind]types.EngineSession `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.True(t, envelope.Success)
	require.Len(t, envelope.Data, 3)
	// Nothing loaded yet: every kind reports uninitialized.
	assert.Equal(t, types.StateUninitialized, envelope.Data[types.KindGeneration].State)
}

func TestHandleStatus_SingleKind(t *testing.T) {
	srv := newTestServer(t, &scriptedEngine{raw: "x"}, &scriptedPage{})

	resp, err := http.Get(srv.URL + "/v1/engine/status?kind=generation")
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope struct {
		Data types.EngineSession `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, types.KindGeneration, envelope.Data.Kind)
}

func TestHandleLoad_StreamsProgressThenReady(t *testing.T) {
	srv := newTestServer(t, &scriptedEngine{raw: "x"}, &scriptedPage{})

	resp := postJSON(t, srv.URL+"/v1/engine/load", LoadRequest{Kind: types.KindGeneration})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 7 && line[:7] == "event: " {
			events = append(events, line[7:])
		}
	}
	require.NotEmpty(t, events)
	assert.Contains(t, events, "progress")
	assert.Equal(t, "ready", events[len(events)-1])
}

func TestHandleLoad_DefaultsToGeneration(t *testing.T) {
	srv := newTestServer(t, &scriptedEngine{raw: "x"}, &scriptedPage{})

	resp := postJSON(t, srv.URL+"/v1/engine/load", LoadRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err := io.Copy(io.Discard, resp.Body) // drain until the handler finishes
	require.NoError(t, err)
	resp.Body.Close()

	// After the load the status board reflects a ready generation engine.
	statusResp, err := http.Get(srv.URL + "/v1/engine/status?kind=generation")
	require.NoError(t, err)
	defer statusResp.Body.Close()

	var envelope struct {
		Data types.EngineSession `json:"data"`
	}
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&envelope))
	assert.Equal(t, types.StateReady, envelope.Data.State)
}
