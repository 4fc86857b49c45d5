package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mailmind/mailmind/internal/flagstore"
	"github.com/mailmind/mailmind/types"
)

// =============================================================================
// Flag store handlers
// =============================================================================

// FlagsHandler exposes the persistent key/value flag store to the client
// surfaces. The surfaces treat it as an opaque capability: raise a flag,
// check it, store a small value. Missing keys are not errors on this
// endpoint, a lookup reports exists=false instead.
type FlagsHandler struct {
	store  *flagstore.Store
	logger *zap.Logger
}

// NewFlagsHandler creates a flag store handler.
func NewFlagsHandler(store *flagstore.Store, logger *zap.Logger) *FlagsHandler {
	return &FlagsHandler{store: store, logger: logger}
}

// FlagValue is the wire shape for a flag lookup.
type FlagValue struct {
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
	Exists bool   `json:"exists"`
}

// SetFlagRequest carries a value to store. A zero TTL uses the store
// default; Once requests set-if-absent semantics for one-time gates.
type SetFlagRequest struct {
	Value      string `json:"value"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
	Once       bool   `json:"once,omitempty"`
}

// HandleGet looks a flag up.
//
// GET /v1/flags/{key}
func (h *FlagsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "flag key is required", h.logger)
		return
	}

	val, err := h.store.GetValue(r.Context(), key)
	if flagstore.IsNotFound(err) {
		WriteSuccess(w, FlagValue{Key: key, Exists: false})
		return
	}
	if err != nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "flag store unavailable", h.logger)
		return
	}
	WriteSuccess(w, FlagValue{Key: key, Value: val, Exists: true})
}

// HandleSet stores a value. With once=true the write only lands if the
// key is absent, and the response reports whether this caller won.
//
// PUT /v1/flags/{key}
func (h *FlagsHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	key := r.PathValue("key")
	if key == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "flag key is required", h.logger)
		return
	}
	var req SetFlagRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.Once {
		first, err := h.store.SetOnce(r.Context(), key)
		if err != nil {
			WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "flag store unavailable", h.logger)
			return
		}
		WriteSuccess(w, map[string]bool{"first": first})
		return
	}

	value := req.Value
	if value == "" {
		value = "1"
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := h.store.SetValue(r.Context(), key, value, ttl); err != nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "flag store unavailable", h.logger)
		return
	}
	WriteSuccess(w, map[string]bool{"stored": true})
}

// HandleClear lowers a flag. Clearing an absent key succeeds.
//
// DELETE /v1/flags/{key}
func (h *FlagsHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "flag key is required", h.logger)
		return
	}
	if err := h.store.Clear(r.Context(), key); err != nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "flag store unavailable", h.logger)
		return
	}
	WriteSuccess(w, map[string]bool{"cleared": true})
}
