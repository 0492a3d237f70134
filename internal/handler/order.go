package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"greencredits/internal/model"
	"greencredits/internal/service"
)

const maxBodyBytes = 64 << 10

type Transferer interface {
	Transfer(ctx context.Context, in service.TransferInput) (service.TransferResult, error)
}

type OrderReader interface {
	Order(ctx context.Context, transferID string) (*model.OrderRecord, error)
}

type Receipts interface {
	Sign(rec model.OrderRecord) (string, error)
	Verify(token string) (*service.ReceiptClaims, error)
}

type createOrderRequest struct {
	Seller     string `json:"seller"`
	Buyer      string `json:"buyer"`
	Credits    int64  `json:"credits"`
	Parcel     string `json:"parcel"`
	TransferID string `json:"transferId"`
}

type createOrderResponse struct {
	CertificateHash string           `json:"certificateHash"`
	TransferID      string           `json:"transferId"`
	State           model.OrderState `json:"state"`
}

// CreateOrderHandler serves POST /create-order. A committed replay of an
// earlier transfer id answers 200 instead of 201.
func CreateOrderHandler(transfers Transferer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		transferID := req.TransferID
		if transferID == "" {
			transferID = r.Header.Get("Idempotency-Key")
		}
		parcel := req.Parcel
		if strings.TrimSpace(parcel) == "" {
			parcel = req.Seller
		}

		result, err := transfers.Transfer(r.Context(), service.TransferInput{
			TransferID: transferID,
			SellerID:   req.Seller,
			BuyerID:    req.Buyer,
			ParcelID:   parcel,
			Credits:    req.Credits,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		writeJSON(w, status, createOrderResponse{
			CertificateHash: result.CertificateHash,
			TransferID:      result.TransferID,
			State:           result.State,
		})
	}
}

func GetOrderHandler(orders OrderReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := orders.Order(r.Context(), chi.URLParam(r, "transferID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

type receiptResponse struct {
	TransferID string `json:"transferId"`
	Receipt    string `json:"receipt"`
}

func ReceiptHandler(orders OrderReader, receipts Receipts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := orders.Order(r.Context(), chi.URLParam(r, "transferID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		token, err := receipts.Sign(*rec)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, receiptResponse{TransferID: rec.TransferID, Receipt: token})
	}
}

type verifyReceiptRequest struct {
	Receipt string `json:"receipt"`
}

type verifyReceiptResponse struct {
	TransferID      string `json:"transferId"`
	CertificateHash string `json:"certificateHash"`
	ParcelID        string `json:"parcel"`
	Credits         int64  `json:"credits"`
	Sender          string `json:"sender"`
	Receiver        string `json:"receiver"`
}

func VerifyReceiptHandler(receipts Receipts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyReceiptRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if req.Receipt == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "receipt is required")
			return
		}

		claims, err := receipts.Verify(req.Receipt)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, verifyReceiptResponse{
			TransferID:      claims.ID,
			CertificateHash: claims.CertificateHash,
			ParcelID:        claims.ParcelID,
			Credits:         claims.Credits,
			Sender:          claims.Sender,
			Receiver:        claims.Receiver,
		})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("invalid request body")
	}
	return nil
}
