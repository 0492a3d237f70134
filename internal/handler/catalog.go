package handler

import (
	"context"
	"net/http"

	"greencredits/internal/model"
)

type Catalog interface {
	ListRegisteredLands(ctx context.Context) ([]model.RegisteredLand, error)
	ListCreditListings(ctx context.Context) ([]model.CreditListing, error)
}

const welcomeText = "Welcome to the Green Credit Trading Platform API"

func WelcomeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(welcomeText))
	}
}

func ListRegisteredLandsHandler(catalog Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lands, err := catalog.ListRegisteredLands(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if lands == nil {
			lands = []model.RegisteredLand{}
		}
		writeJSON(w, http.StatusOK, lands)
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

// ListBuyCreditsHandler answers 404 when nothing is on offer.
func ListBuyCreditsHandler(catalog Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listings, err := catalog.ListCreditListings(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if len(listings) == 0 {
			writeJSON(w, http.StatusNotFound, messageResponse{Message: "No credits found"})
			return
		}
		writeJSON(w, http.StatusOK, listings)
	}
}
