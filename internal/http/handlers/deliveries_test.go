package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telego/internal/apperr"
	"telego/internal/domain"
	"telego/internal/lifecycle"
	"telego/internal/logx"
)

type listedDelivery struct {
	ID        string             `json:"id"`
	Status    domain.Status      `json:"status"`
	CourierID string             `json:"courier_id"`
	RefusedBy []string           `json:"refused_by"`
	Messages  []json.RawMessage  `json:"messages"`
	Actions   []lifecycle.Action `json:"actions"`
}

func pending(id string) domain.Delivery {
	return domain.Delivery{
		ID:           id,
		RestaurantID: "r1",
		Status:       domain.StatusPending,
		CreatedAt:    time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func decodeList(t *testing.T, rr *httptest.ResponseRecorder) []listedDelivery {
	t.Helper()
	var out []listedDelivery
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestDeliveryHandler_List(t *testing.T) {
	t.Parallel()

	assigned := pending("d2")
	assigned.Status = domain.StatusAccepted
	assigned.CourierID = "c7"

	dispatch := &stubDispatch{
		visibleFn: func() ([]domain.Delivery, error) {
			return []domain.Delivery{pending("d1"), assigned}, nil
		},
	}
	rr := httptest.NewRecorder()
	NewDeliveryHandler(logx.Nop(), dispatch).List(rr, httptest.NewRequest(http.MethodGet, "/deliveries", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	got := decodeList(t, rr)
	require.Len(t, got, 2)
	require.Equal(t, "d1", got[0].ID)
	require.Equal(t, []lifecycle.Action{lifecycle.ActionAccept}, got[0].Actions)
	require.NotNil(t, got[0].RefusedBy)
	require.NotNil(t, got[0].Messages)
	require.Equal(t, "c7", got[1].CourierID)
	require.Empty(t, got[1].Actions)
	require.NotNil(t, got[1].Actions)
}

func TestDeliveryHandler_List_NoSession(t *testing.T) {
	t.Parallel()

	dispatch := &stubDispatch{
		visibleFn: func() ([]domain.Delivery, error) { return nil, apperr.ErrNoSession },
	}
	rr := httptest.NewRecorder()
	NewDeliveryHandler(logx.Nop(), dispatch).List(rr, httptest.NewRequest(http.MethodGet, "/deliveries", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDeliveryHandler_EmptyListIsArray(t *testing.T) {
	t.Parallel()

	dispatch := &stubDispatch{
		historyFn: func(context.Context) ([]domain.Delivery, error) { return nil, nil },
	}
	rr := httptest.NewRecorder()
	NewDeliveryHandler(logx.Nop(), dispatch).History(rr, httptest.NewRequest(http.MethodGet, "/deliveries/history", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestDeliveryHandler_Available_Origin(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		query  string
		origin *domain.Coords
		code   int
	}{
		"no origin":     {query: "", code: http.StatusOK},
		"origin":        {query: "?lat=-23.55&lng=-46.63", origin: &domain.Coords{Lat: -23.55, Lng: -46.63}, code: http.StatusOK},
		"lat only":      {query: "?lat=1", code: http.StatusBadRequest},
		"bad longitude": {query: "?lat=1&lng=east", code: http.StatusBadRequest},
		"nan latitude":  {query: "?lat=NaN&lng=1", code: http.StatusBadRequest},
		"out of range":  {query: "?lat=91&lng=1", code: http.StatusBadRequest},
		"infinite lng":  {query: "?lat=1&lng=-Inf", code: http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			called := false
			dispatch := &stubDispatch{
				availableFn: func(origin *domain.Coords) ([]domain.Delivery, error) {
					called = true
					require.Equal(t, tc.origin, origin)
					return []domain.Delivery{pending("d1")}, nil
				},
			}
			rr := httptest.NewRecorder()
			NewDeliveryHandler(logx.Nop(), dispatch).
				Available(rr, httptest.NewRequest(http.MethodGet, "/deliveries/available"+tc.query, nil))
			require.Equal(t, tc.code, rr.Code)
			require.Equal(t, tc.code == http.StatusOK, called)
		})
	}
}

func TestDeliveryHandler_Active_ForbiddenForRestaurant(t *testing.T) {
	t.Parallel()

	dispatch := &stubDispatch{
		activeFn: func() ([]domain.Delivery, error) { return nil, apperr.ErrForbidden },
	}
	rr := httptest.NewRecorder()
	NewDeliveryHandler(logx.Nop(), dispatch).Active(rr, httptest.NewRequest(http.MethodGet, "/deliveries/active", nil))
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestDeliveryHandler_Stats(t *testing.T) {
	t.Parallel()

	dispatch := &stubDispatch{
		statsFn: func(context.Context) (domain.Stats, error) {
			return domain.Stats{Total: 4, Delivered: 2, Cancelled: 1, Expired: 1, Earnings: 17.5}, nil
		},
	}
	rr := httptest.NewRecorder()
	NewDeliveryHandler(logx.Nop(), dispatch).Stats(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"total":4,"delivered":2,"cancelled":1,"expired":1,"earnings":17.5}`, rr.Body.String())
}

func TestDeliveryHandler_Create(t *testing.T) {
	t.Parallel()

	body := `{
		"customer_name": "Bia",
		"customer_phone": "+55 11 99999-0000",
		"pickup": {"address": "Rua A, 1", "coords": {"lat": -23.5, "lng": -46.6}},
		"dropoff": {"address": "Rua B, 2"},
		"price": 12.5,
		"order_value": 80
	}`
	dispatch := &stubDispatch{
		createFn: func(_ context.Context, nd domain.NewDelivery) (domain.Delivery, error) {
			require.Equal(t, "Bia", nd.CustomerName)
			require.Equal(t, "Rua A, 1", nd.Pickup.Address)
			require.NotNil(t, nd.Pickup.Coords)
			require.Nil(t, nd.Dropoff.Coords)
			require.Equal(t, 12.5, nd.Price)
			d := pending("d9")
			d.CustomerName = nd.CustomerName
			return d, nil
		},
	}
	rr := httptest.NewRecorder()
	NewDeliveryHandler(logx.Nop(), dispatch).
		Create(rr, httptest.NewRequest(http.MethodPost, "/deliveries", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rr.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "d9", got["id"])
	require.Equal(t, "Bia", got["customer_name"])
	require.Equal(t, "PENDING", got["status"])
}

func TestDeliveryHandler_Create_ValidationError(t *testing.T) {
	t.Parallel()

	dispatch := &stubDispatch{
		createFn: func(context.Context, domain.NewDelivery) (domain.Delivery, error) {
			return domain.Delivery{}, fmt.Errorf("%w: price must not be negative", apperr.ErrInvalid)
		},
	}
	rr := httptest.NewRecorder()
	NewDeliveryHandler(logx.Nop(), dispatch).
		Create(rr, httptest.NewRequest(http.MethodPost, "/deliveries", strings.NewReader(`{"price":-1}`)))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"invalid input: price must not be negative"}`, rr.Body.String())
}

func TestDeliveryHandler_Transitions(t *testing.T) {
	t.Parallel()

	var calls []string
	dispatch := &stubDispatch{
		transitFn: func(a lifecycle.Action, id string) (domain.Delivery, error) {
			calls = append(calls, string(a)+":"+id)
			if id == "missing" {
				return domain.Delivery{}, apperr.ErrNotFound
			}
			d := pending(id)
			d.Status = domain.StatusAccepted
			return d, nil
		},
	}
	h := NewDeliveryHandler(logx.Nop(), dispatch)

	for _, hf := range []http.HandlerFunc{h.Accept, h.Refuse, h.PickUp, h.Deliver, h.Cancel} {
		rr := httptest.NewRecorder()
		hf(rr, withID(httptest.NewRequest(http.MethodPost, "/", nil), "d1"))
		require.Equal(t, http.StatusOK, rr.Code)
	}
	require.Equal(t, []string{"accept:d1", "refuse:d1", "pick_up:d1", "deliver:d1", "cancel:d1"}, calls)

	rr := httptest.NewRecorder()
	h.Accept(rr, withID(httptest.NewRequest(http.MethodPost, "/", nil), "missing"))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeliveryHandler_Message(t *testing.T) {
	t.Parallel()

	dispatch := &stubDispatch{
		messageFn: func(_ context.Context, id, text string) (domain.Delivery, error) {
			require.Equal(t, "d1", id)
			if strings.TrimSpace(text) == "" {
				return domain.Delivery{}, apperr.ErrInvalid
			}
			d := pending(id)
			d.Messages = []domain.ChatMessage{{ID: "m1", SenderID: "u1", Text: text}}
			return d, nil
		},
	}
	h := NewDeliveryHandler(logx.Nop(), dispatch)

	rr := httptest.NewRecorder()
	h.Message(rr, withID(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"text":"at the door"}`)), "d1"))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Contains(t, rr.Body.String(), `"text":"at the door"`)

	rr = httptest.NewRecorder()
	h.Message(rr, withID(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"text":"  "}`)), "d1"))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeliveryHandler_Location(t *testing.T) {
	t.Parallel()

	var got domain.Coords
	dispatch := &stubDispatch{
		locationFn: func(_ context.Context, p domain.Coords) error {
			got = p
			return nil
		},
	}
	h := NewDeliveryHandler(logx.Nop(), dispatch)

	rr := httptest.NewRecorder()
	h.Location(rr, httptest.NewRequest(http.MethodPost, "/location", strings.NewReader(`{"lat":0,"lng":-46.6}`)))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, domain.Coords{Lat: 0, Lng: -46.6}, got)

	rr = httptest.NewRecorder()
	h.Location(rr, httptest.NewRequest(http.MethodPost, "/location", strings.NewReader(`{"lat":1}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
