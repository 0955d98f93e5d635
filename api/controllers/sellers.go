package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-payouts/internal/ledger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/money"
	"github.com/angelmondragon/packfinderz-payouts/pkg/pagination"

	"github.com/angelmondragon/packfinderz-payouts/api/responses"
	"github.com/angelmondragon/packfinderz-payouts/api/validators"
)

const defaultBalanceCurrency = "USD"

type balanceReader interface {
	Balance(ctx context.Context, sellerID uuid.UUID, currency string) (ledger.Balance, error)
}

type sellerBalanceResponse struct {
	SellerID       uuid.UUID `json:"seller_id"`
	Currency       string    `json:"currency"`
	AvailableCents int64     `json:"available_cents"`
	Available      string    `json:"available"`
	PendingCents   int64     `json:"pending_cents"`
}

// AdminSellerBalance reports what a seller could be paid right now and what
// is still inside the hold period.
func AdminSellerBalance(balances balanceReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if balances == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
			return
		}
		sellerID, err := uuidParam(r, "sellerId", "seller id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		currency, err := validators.ParseQueryCurrency(r, "currency", defaultBalanceCurrency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithSellerID(r.Context(), sellerID.String())
		balance, err := balances.Balance(ctx, sellerID, currency)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sellerBalanceResponse{
			SellerID:       sellerID,
			Currency:       currency,
			AvailableCents: balance.AvailableCents,
			Available:      money.FormatCents(balance.AvailableCents),
			PendingCents:   balance.PendingCents,
		})
	}
}

type historyReader interface {
	History(ctx context.Context, sellerID uuid.UUID, currency string, limit int) ([]models.LedgerEntry, error)
}

type ledgerEntryResponse struct {
	ID          uuid.UUID  `json:"id"`
	Type        string     `json:"type"`
	AmountCents int64      `json:"amount_cents"`
	Amount      string     `json:"amount"`
	Currency    string     `json:"currency"`
	AvailableAt *time.Time `json:"available_at,omitempty"`
	OrderID     *uuid.UUID `json:"order_id,omitempty"`
	PayoutID    *uuid.UUID `json:"payout_id,omitempty"`
	Note        string     `json:"note,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AdminSellerLedger lists a seller's most recent ledger entries, newest
// first. Without ?currency every currency is returned.
func AdminSellerLedger(entries historyReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, err := uuidParam(r, "sellerId", "seller id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		currency, err := validators.ParseQueryCurrency(r, "currency", "")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithSellerID(r.Context(), sellerID.String())
		rows, err := entries.History(ctx, sellerID, currency, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]ledgerEntryResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, ledgerEntryResponse{
				ID:          row.ID,
				Type:        string(row.Type),
				AmountCents: row.AmountCents,
				Amount:      money.FormatCents(row.AmountCents),
				Currency:    row.Currency,
				AvailableAt: row.AvailableAt,
				OrderID:     row.OrderID,
				PayoutID:    row.PayoutID,
				Note:        row.Note,
				CreatedAt:   row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, map[string]any{"seller_id": sellerID, "entries": out})
	}
}
