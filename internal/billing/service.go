package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	pkgerrors "github.com/parcelhq/trackwise-backend/pkg/errors"
	"github.com/parcelhq/trackwise-backend/pkg/pagination"
)

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo Repository
}

// Service exposes read access to billing history.
type Service struct {
	repo Repository
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

// ListTransactionsParams configures a billing history page.
type ListTransactionsParams struct {
	Limit  int
	Cursor string
	Type   *enums.TransactionType
	Status *enums.TransactionStatus
}

// TransactionPage is one page of billing history.
type TransactionPage struct {
	Transactions []models.BillingTransaction
	NextCursor   string
}

// ListTransactions returns the customer's billing history, newest first.
func (s *Service) ListTransactions(ctx context.Context, customerID uuid.UUID, params ListTransactionsParams) (*TransactionPage, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if params.Type != nil && !params.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction type")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction status")
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	transactions, next, err := s.repo.ListTransactions(ctx, ListTransactionsQuery{
		CustomerID: customerID,
		Limit:      params.Limit,
		Cursor:     cursor,
		Type:       params.Type,
		Status:     params.Status,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list transactions")
	}

	page := &TransactionPage{Transactions: transactions}
	if next != nil {
		page.NextCursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}
