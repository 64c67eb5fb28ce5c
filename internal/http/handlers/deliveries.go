package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"telego/internal/apperr"
	"telego/internal/domain"
	"telego/internal/logx"
)

// DeliveryHandler exposes the session's deliveries and the actions on them.
type DeliveryHandler struct {
	dispatch dispatchUsecase
	logger   logx.Logger
}

// NewDeliveryHandler creates a DeliveryHandler.
func NewDeliveryHandler(logger logx.Logger, dispatch dispatchUsecase) *DeliveryHandler {
	return &DeliveryHandler{dispatch: dispatch, logger: logger}
}

// List handles GET /deliveries.
func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	ds, err := h.dispatch.Visible()
	h.writeList(w, r, ds, err)
}

// Available handles GET /deliveries/available?lat=&lng=.
func (h *DeliveryHandler) Available(w http.ResponseWriter, r *http.Request) {
	origin, err := originFromQuery(r)
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}
	ds, err := h.dispatch.Available(origin)
	h.writeList(w, r, ds, err)
}

// Active handles GET /deliveries/active.
func (h *DeliveryHandler) Active(w http.ResponseWriter, r *http.Request) {
	ds, err := h.dispatch.Active()
	h.writeList(w, r, ds, err)
}

// History handles GET /deliveries/history.
func (h *DeliveryHandler) History(w http.ResponseWriter, r *http.Request) {
	ds, err := h.dispatch.History(r.Context())
	h.writeList(w, r, ds, err)
}

// Stats handles GET /stats.
func (h *DeliveryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.dispatch.Stats(r.Context())
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, st)
}

// Create handles POST /deliveries.
func (h *DeliveryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDeliveryRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}
	d, err := h.dispatch.CreateDelivery(r.Context(), req.toDomain())
	h.writeOne(w, r, http.StatusCreated, d, err)
}

// Accept handles POST /deliveries/{id}/accept.
func (h *DeliveryHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.dispatch.Accept)
}

// Refuse handles POST /deliveries/{id}/refuse.
func (h *DeliveryHandler) Refuse(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.dispatch.Refuse)
}

// PickUp handles POST /deliveries/{id}/pickup.
func (h *DeliveryHandler) PickUp(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.dispatch.PickUp)
}

// Deliver handles POST /deliveries/{id}/deliver.
func (h *DeliveryHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.dispatch.Deliver)
}

// Cancel handles POST /deliveries/{id}/cancel.
func (h *DeliveryHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.dispatch.Cancel)
}

// Message handles POST /deliveries/{id}/messages.
func (h *DeliveryHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}
	d, err := h.dispatch.SendMessage(r.Context(), chi.URLParam(r, "id"), req.Text)
	h.writeOne(w, r, http.StatusCreated, d, err)
}

// Location handles POST /location, the courier's position report.
func (h *DeliveryHandler) Location(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "lat and lng are required")
		return
	}
	if err := h.dispatch.UpdateLocation(r.Context(), domain.Coords{Lat: *req.Lat, Lng: *req.Lng}); err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// transition answers with the delivery as it stands after the action; a
// transition the lifecycle rejects is not an error and leaves it unchanged.
func (h *DeliveryHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	act func(ctx context.Context, id string) (domain.Delivery, error),
) {
	d, err := act(r.Context(), chi.URLParam(r, "id"))
	h.writeOne(w, r, http.StatusOK, d, err)
}

func (h *DeliveryHandler) writeOne(w http.ResponseWriter, r *http.Request, status int, d domain.Delivery, err error) {
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, status, toDeliveryResponse(d, h.dispatch.Actions(d)))
}

func (h *DeliveryHandler) writeList(w http.ResponseWriter, r *http.Request, ds []domain.Delivery, err error) {
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}
	out := make([]deliveryResponse, 0, len(ds))
	for _, d := range ds {
		out = append(out, toDeliveryResponse(d, h.dispatch.Actions(d)))
	}
	writeJSON(h.logger, w, r, http.StatusOK, out)
}

func originFromQuery(r *http.Request) (*domain.Coords, error) {
	q := r.URL.Query()
	rawLat, rawLng := q.Get("lat"), q.Get("lng")
	if rawLat == "" && rawLng == "" {
		return nil, nil
	}
	if rawLat == "" || rawLng == "" {
		return nil, fmt.Errorf("%w: lat and lng must be given together", apperr.ErrInvalid)
	}
	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: lat: %q", apperr.ErrInvalid, rawLat)
	}
	lng, err := strconv.ParseFloat(rawLng, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: lng: %q", apperr.ErrInvalid, rawLng)
	}
	origin := domain.Coords{Lat: lat, Lng: lng}
	if !origin.Valid() {
		return nil, fmt.Errorf("%w: coordinates out of range", apperr.ErrInvalid)
	}
	return &origin, nil
}
