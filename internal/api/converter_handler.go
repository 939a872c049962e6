package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fsnebula/converter-api/internal/api/shared"
	"github.com/fsnebula/converter-api/internal/store"
	"github.com/fsnebula/converter-api/internal/task"
)

// ConverterHandler serves the conversion endpoints: submission, status
// probes, one-shot retrieval and the task listing.
type ConverterHandler struct {
	service  *task.Service
	store    *task.Store
	requests store.RequestStore
	logger   *slog.Logger

	// requestTTL feeds the expiry column of the optional relational
	// record.
	requestTTL time.Duration
}

// NewConverterHandler creates the handler. requests may be nil; the
// relational record is then skipped.
func NewConverterHandler(service *task.Service, taskStore *task.Store, requests store.RequestStore, requestTTL time.Duration, logger *slog.Logger) *ConverterHandler {
	if requestTTL <= 0 {
		requestTTL = 24 * time.Hour
	}
	return &ConverterHandler{
		service:    service,
		store:      taskStore,
		requests:   requests,
		requestTTL: requestTTL,
		logger:     logger.With("component", "converter_api"),
	}
}

// Register mounts the endpoints. auth guards submission only; status
// and retrieval are protected by ticket and token instead.
func (h *ConverterHandler) Register(r chi.Router, auth func(http.Handler) http.Handler) {
	r.With(auth).Post("/api/converter/request", h.Submit)
	r.Get("/api/converter/get_status/{ticket}", h.GetStatus)
	r.Post("/api/converter/retrieve", h.Retrieve)
	r.Get("/api/list_tasks", h.ListTasks)
}

// Submit accepts a conversion request. Unparseable metadata is answered
// with the null-ticket error shape and creates nothing.
func (h *ConverterHandler) Submit(w http.ResponseWriter, r *http.Request) {
	data := r.FormValue("data")
	webhook := r.FormValue("webhook")

	if !json.Valid([]byte(data)) || data == "" {
		h.logger.Warn("rejecting request with invalid JSON metadata")
		shared.RespondWithJSON(w, http.StatusOK, SubmitResponse{Error: true})
		return
	}

	token, err := NewToken()
	if err != nil {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	args, err := json.Marshal(task.ConverterArgs{
		Data:    json.RawMessage(data),
		Webhook: webhook,
		Token:   token,
	})
	if err != nil {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	ticket, err := h.service.Submit(r.Context(), task.TypeConverter, args)
	if err != nil {
		h.logger.Error("submission failed", "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.recordRequest(r.Context(), ticket, token, webhook)
	shared.RespondWithJSON(w, http.StatusOK, SubmitResponse{Ticket: &ticket, Token: &token})
}

// recordRequest writes the optional relational record. Failures are
// logged and ignored; the broker already holds the ticket.
func (h *ConverterHandler) recordRequest(ctx context.Context, ticket int64, token, webhook string) {
	if h.requests == nil {
		return
	}

	now := time.Now()
	err := h.requests.CreateRequest(ctx, &store.ConversionRequest{
		Ticket:    ticket,
		Token:     token,
		Webhook:   webhook,
		State:     string(task.StateWaiting),
		CreatedAt: now,
		ExpiresAt: now.Add(h.requestTTL),
	})
	if err != nil {
		h.logger.Error("cannot record request", "ticket", ticket, "error", err)
	}
}

// GetStatus reports a ticket's lifecycle record.
func (h *ConverterHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ticket, err := strconv.ParseInt(chi.URLParam(r, "ticket"), 10, 64)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid ticket")
		return
	}

	st, err := h.store.Status(r.Context(), ticket)
	if err != nil {
		if errors.Is(err, task.ErrTicketNotFound) || errors.Is(err, task.ErrCorruptStatus) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Unknown ticket")
			return
		}
		h.logger.Error("status probe failed", "ticket", ticket, "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	shared.RespondWithJSON(w, http.StatusOK, StatusResponse{Status: st})
}

// Retrieve hands out a stored result exactly once. The reply shape
// distinguishes an unknown ticket (found=false) from a pending one
// (finished=false); a token mismatch is a plain 403.
func (h *ConverterHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	ticket, err := strconv.ParseInt(r.FormValue("ticket"), 10, 64)
	if err != nil {
		shared.RespondWithJSON(w, http.StatusOK, RetrieveResponse{Found: false, Finished: true})
		return
	}

	if _, err := h.store.Status(r.Context(), ticket); err != nil {
		shared.RespondWithJSON(w, http.StatusOK, RetrieveResponse{Found: false, Finished: true})
		return
	}

	hasResult, err := h.store.HasResult(r.Context(), ticket)
	if err != nil {
		h.logger.Error("result probe failed", "ticket", ticket, "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !hasResult {
		shared.RespondWithJSON(w, http.StatusOK, RetrieveResponse{Found: true, Finished: false})
		return
	}

	res, err := h.store.Result(r.Context(), ticket)
	if err != nil {
		h.logger.Error("result read failed", "ticket", ticket, "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	if res.Token != r.FormValue("token") {
		shared.RespondWithError(w, r, http.StatusForbidden, "Failed to validate token")
		return
	}

	// One-shot: the reply is built first, then the ticket is wiped.
	reply := RetrieveResponse{Found: true, Finished: true, Success: res.Success, Payload: res.Payload}
	if err := h.store.Remove(r.Context(), ticket); err != nil {
		h.logger.Error("cannot remove retrieved ticket", "ticket", ticket, "error", err)
	}
	h.deleteRequest(r.Context(), ticket)

	shared.RespondWithJSON(w, http.StatusOK, reply)
}

func (h *ConverterHandler) deleteRequest(ctx context.Context, ticket int64) {
	if h.requests == nil {
		return
	}
	if err := h.requests.DeleteRequest(ctx, ticket); err != nil && !errors.Is(err, store.ErrRequestNotFound) {
		h.logger.Error("cannot delete request record", "ticket", ticket, "error", err)
	}
}

// ListTasks dumps every known ticket's status, keyed by ticket id.
func (h *ConverterHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.AllStatuses(r.Context())
	if err != nil {
		h.logger.Error("task listing failed", "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	out := make(map[string]task.Status, len(all))
	for ticket, st := range all {
		out[strconv.FormatInt(ticket, 10)] = st
	}
	shared.RespondWithJSON(w, http.StatusOK, out)
}
