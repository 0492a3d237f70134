package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"greencredits/internal/model"
)

type ParcelReader interface {
	Parcel(ctx context.Context, parcelID string) (*model.Parcel, error)
}

type ParcelRegistrar interface {
	RegisterParcel(ctx context.Context, p model.Parcel) error
}

func GetParcelHandler(parcels ParcelReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := parcels.Parcel(r.Context(), chi.URLParam(r, "parcelID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

type registerParcelRequest struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	OwnerID string        `json:"ownerId"`
	GeoTag  *model.GeoTag `json:"geoTag"`
	Credits int64         `json:"credits"`
}

// RegisterParcelHandler serves POST /parcels. A new parcel starts with its
// full credit balance available.
func RegisterParcelHandler(registry ParcelRegistrar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerParcelRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		req.ID = strings.TrimSpace(req.ID)
		if req.ID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "id is required")
			return
		}
		if req.Credits < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "credits must not be negative")
			return
		}

		p := model.Parcel{
			ID:               req.ID,
			Name:             req.Name,
			OwnerID:          req.OwnerID,
			CreditsInitial:   req.Credits,
			RemainingCredits: req.Credits,
		}
		if req.GeoTag != nil {
			p.GeoTag = *req.GeoTag
		}

		if err := registry.RegisterParcel(r.Context(), p); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}
