package http

import (
	"net/http"
	"strconv"

	"github.com/cwrk-planet/aidchat/pkg/httputil"
)

// GET /api/activities?limit= (и /api/reports)
func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	list, err := h.acts.List(r.Context(), limit)
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.OK(w, toActivityDTOs(list))
}

// POST /api/activities (и /api/reports)
func (h *Handler) PostActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	a, err := h.acts.Post(r.Context(), PrincipalFromCtx(r.Context()).UserID, req.input())
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, toActivityDTO(a))
}

// POST /api/validate-address
func (h *Handler) ValidateAddress(w http.ResponseWriter, r *http.Request) {
	var req ValidateAddressRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	loc, err := h.acts.ValidateAddress(r.Context(), req.Zipcode)
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.OK(w, ValidateAddressResponse{
		Coordinates:    Coordinates{Lat: loc.Lat, Lng: loc.Lng},
		Address:        Address{City: loc.City, State: loc.State, Zipcode: loc.Zipcode},
		CenteringLevel: loc.CenteringLevel,
	})
}
