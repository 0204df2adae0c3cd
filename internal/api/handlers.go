package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/LeventeLantos/credit-dispatch/internal/model"
	"github.com/LeventeLantos/credit-dispatch/internal/repo"
	"github.com/LeventeLantos/credit-dispatch/internal/scheduler"
	"github.com/LeventeLantos/credit-dispatch/internal/service"
)

// DispatchService is the orchestrator surface the HTTP layer needs.
type DispatchService interface {
	DispatchMessage(ctx context.Context, req model.DispatchRequest) (*model.DispatchResult, error)
	GetBalance(ctx context.Context, accountID int64) (model.Balance, error)
	ListHistory(ctx context.Context, accountID int64, page, pageSize int) (model.HistoryPage, error)
	GetDispatch(ctx context.Context, dispatchID string) (model.DispatchResult, error)
}

type Handler struct {
	svc     DispatchService
	sweeper *scheduler.Sweeper
}

func NewHandler(svc DispatchService, sweeper *scheduler.Sweeper) *Handler {
	return &Handler{svc: svc, sweeper: sweeper}
}

type dispatchRequest struct {
	Message      string  `json:"message"`
	All          bool    `json:"all"`
	RecipientIDs []int64 `json:"recipientIds"`
}

type balanceResponse struct {
	model.Balance
	Spendable int64 `json:"spendable"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SweeperStatus(w http.ResponseWriter, r *http.Request) {
	h.writeSweeper(w)
}

func (h *Handler) SweeperStart(w http.ResponseWriter, r *http.Request) {
	h.sweeper.Start()
	h.writeSweeper(w)
}

func (h *Handler) SweeperStop(w http.ResponseWriter, r *http.Request) {
	h.sweeper.Stop()
	h.writeSweeper(w)
}

func (h *Handler) writeSweeper(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running": h.sweeper.IsRunning(),
		"expired": h.sweeper.Swept(),
	})
}

func (h *Handler) CreateDispatch(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}

	var body dispatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json body: "+err.Error(), nil)
		return
	}
	if body.All && len(body.RecipientIDs) > 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "use either all or recipientIds, not both", nil)
		return
	}

	sel := model.ExplicitRecipients(body.RecipientIDs...)
	if body.All {
		sel = model.AllRecipients()
	}

	res, err := h.svc.DispatchMessage(r.Context(), model.DispatchRequest{
		AccountID: accountID,
		Message:   body.Message,
		Selection: sel,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}

	bal, err := h.svc.GetBalance(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: bal, Spendable: bal.Spendable()})
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	page := parseInt(r.URL.Query().Get("page"), 1)
	pageSize := parseInt(r.URL.Query().Get("pageSize"), 0)

	res, err := h.svc.ListHistory(r.Context(), accountID, page, pageSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetDispatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetDispatch(r.Context(), r.PathValue("dispatchID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid "+name, nil)
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repo.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "not_found", "account not found", nil)
		return
	case errors.Is(err, service.ErrDispatchNotFound):
		writeError(w, http.StatusNotFound, "not_found", "dispatch not found", nil)
		return
	}

	var de *service.DispatchError
	if !errors.As(err, &de) {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}

	details := map[string]any{"state": de.State}
	status := http.StatusInternalServerError
	switch de.Kind {
	case service.KindInvalidRequest:
		status = http.StatusBadRequest
	case service.KindSelectionMismatch:
		status = http.StatusUnprocessableEntity
		details["requested"] = de.Requested
		details["found"] = de.Found
	case service.KindEmptySelection:
		status = http.StatusUnprocessableEntity
	case service.KindTooManyRecipients:
		status = http.StatusUnprocessableEntity
		details["limit"] = de.Limit
		details["found"] = de.Found
	case service.KindInsufficientBalance:
		status = http.StatusPaymentRequired
		details["required"] = de.Required
		details["available"] = de.Available
	case service.KindPersistenceFailure:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, string(de.Kind), de.Error(), details)
}

func writeError(w http.ResponseWriter, status int, kind, msg string, details map[string]any) {
	body := map[string]any{"error": kind, "message": msg}
	for k, v := range details {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
