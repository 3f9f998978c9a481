package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parcelhq/trackwise-backend/api/responses"
	"github.com/parcelhq/trackwise-backend/api/validators"
	billingsvc "github.com/parcelhq/trackwise-backend/internal/billing"
	purchasesvc "github.com/parcelhq/trackwise-backend/internal/purchases"
	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	pkgerrors "github.com/parcelhq/trackwise-backend/pkg/errors"
	"github.com/parcelhq/trackwise-backend/pkg/logger"
)

// CheckoutService opens Stripe checkout sessions for credit packs.
type CheckoutService interface {
	CreateCheckout(ctx context.Context, customerID uuid.UUID, creditsAmount int) (*purchasesvc.CheckoutResult, error)
}

// TransactionsService exposes billing history reads.
type TransactionsService interface {
	ListTransactions(ctx context.Context, customerID uuid.UUID, params billingsvc.ListTransactionsParams) (*billingsvc.TransactionPage, error)
}

type checkoutRequest struct {
	Credits int `json:"credits" validate:"required,min=1"`
}

func BillingCheckout(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchase service unavailable"))
			return
		}

		customerID, err := resolveCustomerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body checkoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.CreateCheckout(ctx, customerID, body.Credits)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

type billingTransactionResponse struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	AmountCents     int64     `json:"amount_cents"`
	Currency        string    `json:"currency"`
	CreditsAdded    int       `json:"credits_added"`
	PurchaseID      *string   `json:"purchase_id,omitempty"`
	PaymentIntentID *string   `json:"payment_intent_id,omitempty"`
	InvoiceID       *string   `json:"invoice_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type billingTransactionsResponse struct {
	Transactions []billingTransactionResponse `json:"transactions"`
	NextCursor   string                       `json:"next_cursor,omitempty"`
}

func BillingTransactions(svc TransactionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		customerID, err := resolveCustomerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 1, 200)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		query := r.URL.Query()
		var txType *enums.TransactionType
		if raw := strings.TrimSpace(query.Get("type")); raw != "" {
			parsed, parseErr := enums.ParseTransactionType(raw)
			if parseErr != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid type"))
				return
			}
			txType = &parsed
		}

		var txStatus *enums.TransactionStatus
		if raw := strings.TrimSpace(query.Get("status")); raw != "" {
			parsed, parseErr := enums.ParseTransactionStatus(raw)
			if parseErr != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid status"))
				return
			}
			txStatus = &parsed
		}

		page, err := svc.ListTransactions(ctx, customerID, billingsvc.ListTransactionsParams{
			Limit:  limit,
			Cursor: strings.TrimSpace(query.Get("cursor")),
			Type:   txType,
			Status: txStatus,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payload := billingTransactionsResponse{
			Transactions: make([]billingTransactionResponse, len(page.Transactions)),
			NextCursor:   page.NextCursor,
		}
		for i, txn := range page.Transactions {
			payload.Transactions[i] = toBillingTransactionResponse(txn)
		}
		responses.WriteSuccess(w, payload)
	}
}

func toBillingTransactionResponse(txn models.BillingTransaction) billingTransactionResponse {
	resp := billingTransactionResponse{
		ID:              txn.ID.String(),
		Type:            string(txn.Type),
		Status:          string(txn.Status),
		AmountCents:     txn.AmountCents,
		Currency:        txn.Currency,
		CreditsAdded:    txn.CreditsAdded,
		PaymentIntentID: txn.StripePaymentIntentID,
		InvoiceID:       txn.StripeInvoiceID,
		CreatedAt:       txn.CreatedAt.UTC(),
	}
	if txn.PurchaseID != nil {
		id := txn.PurchaseID.String()
		resp.PurchaseID = &id
	}
	return resp
}
