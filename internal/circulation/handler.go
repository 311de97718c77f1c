package circulation

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"circulus/internal/eventstore"
	"circulus/internal/result"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CacheInvalidator empties the loan policy cache after the rules change.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

type Handler struct {
	service     Service
	invalidator CacheInvalidator
	limiter     *rate.Limiter
	logger      *zap.Logger
	now         func() time.Time
}

// NewHandler wires the HTTP surface. A nil limiter disables rate limiting.
func NewHandler(service Service, invalidator CacheInvalidator, limiter *rate.Limiter, logger *zap.Logger) *Handler {
	return &Handler{
		service:     service,
		invalidator: invalidator,
		limiter:     limiter,
		logger:      logger,
		now:         time.Now,
	}
}

// Routes returns the circulation routes. Transactions that write are rate limited.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/circulation", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.limit)
			r.Post("/check-out", h.HandleCheckOut)
			r.Post("/check-in-by-barcode", h.HandleCheckIn)
			r.Post("/renew-by-barcode", h.HandleRenewByBarcode)
			r.Post("/renew-by-id", h.HandleRenewByID)
			r.Post("/loans/{id}/renew", h.HandleRenewLoan)
			r.Post("/requests", h.HandlePlaceRequest)
			r.Put("/requests/{id}", h.HandleUpdateRequest)
		})
		r.Get("/loans/{id}", h.HandleGetLoan)
		r.Get("/loans/{id}/history", h.HandleLoanHistory)
		r.Get("/requests/queue/{itemId}", h.HandleGetQueue)
		r.Post("/rules/cache/invalidate", h.HandleInvalidateRules)
	})
	return r
}

func (h *Handler) HandleCheckOut(w http.ResponseWriter, r *http.Request) {
	var req CheckOutRequest
	if !h.decode(w, r, &req) {
		return
	}

	loan, err := h.service.CheckOut(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (h *Handler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req CheckInRequest
	if !h.decode(w, r, &req) {
		return
	}

	checkedIn, err := h.service.CheckIn(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkInView{
		Loan:  checkedIn.Loan,
		Item:  checkedIn.Item,
		Queue: newQueueView(checkedIn.Queue),
	})
}

func (h *Handler) HandleRenewByBarcode(w http.ResponseWriter, r *http.Request) {
	var req RenewByBarcodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	loan, err := h.service.RenewByBarcode(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleRenewByID(w http.ResponseWriter, r *http.Request) {
	var req RenewByIDRequest
	if !h.decode(w, r, &req) {
		return
	}

	loan, err := h.service.RenewByID(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleRenewLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	loan, err := h.service.RenewLoan(r.Context(), id, h.now())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	loan, err := h.service.GetLoan(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleLoanHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	events, err := h.service.LoanHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "totalRecords": len(events)})
}

func (h *Handler) HandlePlaceRequest(w http.ResponseWriter, r *http.Request) {
	var req PlaceRequestRequest
	if !h.decode(w, r, &req) {
		return
	}

	request, err := h.service.PlaceRequest(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

func (h *Handler) HandleUpdateRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var request Request
	if !h.decode(w, r, &request) {
		return
	}
	request.ID = id

	updated, err := h.service.UpdateRequest(r.Context(), request)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request": updated.Request,
		"queue":   newQueueView(updated.Queue),
	})
}

func (h *Handler) HandleGetQueue(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemId")
	if !ok {
		return
	}

	queue, err := h.service.GetQueue(r.Context(), itemID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newQueueView(queue))
}

func (h *Handler) HandleInvalidateRules(w http.ResponseWriter, r *http.Request) {
	if err := h.invalidator.Invalidate(r.Context()); err != nil {
		h.writeError(w, result.ServerFrom(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type queueView struct {
	ItemID       uuid.UUID `json:"itemId"`
	Requests     []Request `json:"requests"`
	TotalRecords int       `json:"totalRecords"`
}

func newQueueView(queue RequestQueue) queueView {
	return queueView{ItemID: queue.ItemID(), Requests: queue.Requests(), TotalRecords: queue.Size()}
}

type checkInView struct {
	Loan  *Loan     `json:"loan,omitempty"`
	Item  Item      `json:"item"`
	Queue queueView `json:"queue"`
}

type validationResponse struct {
	Errors []validationErrorView `json:"errors"`
}

type validationErrorView struct {
	Message    string             `json:"message"`
	Parameters []result.Parameter `json:"parameters"`
}

func (h *Handler) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		http.Error(w, "invalid "+param, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps the failure taxonomy onto HTTP responses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		validation *result.ValidationFailure
		notFound   *result.NotFoundFailure
		conflict   *result.ConflictFailure
		upstream   *result.UpstreamFailure
	)
	switch {
	case errors.As(err, &validation):
		response := validationResponse{Errors: make([]validationErrorView, 0, len(validation.Errors))}
		for _, e := range validation.Errors {
			response.Errors = append(response.Errors, validationErrorView{Message: e.Message, Parameters: e.SortedParameters()})
		}
		writeJSON(w, http.StatusUnprocessableEntity, response)
	case errors.As(err, &notFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &conflict), errors.Is(err, eventstore.ErrConcurrencyConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &upstream):
		if upstream.ContentType != "" {
			w.Header().Set("Content-Type", upstream.ContentType)
		}
		w.WriteHeader(upstream.Status())
		_, _ = w.Write([]byte(upstream.Body))
	default:
		h.logger.Error("unhandled circulation failure", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
