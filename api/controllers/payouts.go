package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-payouts/internal/payouts"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/pagination"

	"github.com/angelmondragon/packfinderz-payouts/api/responses"
	"github.com/angelmondragon/packfinderz-payouts/api/validators"
)

const maxBatchNoteLength = 255

// PayoutAdminService is the slice of the payout service the admin API drives.
type PayoutAdminService interface {
	CreateBatch(ctx context.Context, input payouts.CreateBatchInput) (*payouts.CreateBatchResult, error)
	SyncBatch(ctx context.Context, batchID uuid.UUID) (*payouts.SyncResult, error)
	GetBatch(ctx context.Context, batchID uuid.UUID) (*models.PayoutBatch, error)
	ListBatches(ctx context.Context, params pagination.Params) (*payouts.BatchList, error)
}

type createPayoutBatchRequest struct {
	Currency string `json:"currency" validate:"required,currency"`
	MinCents int64  `json:"min_cents" validate:"gte=0"`
	Note     string `json:"note"`
}

// AdminCreatePayoutBatch runs one payout batch for a currency. A created
// batch answers 201; every other outcome is a normal 200 for the operator.
func AdminCreatePayoutBatch(svc PayoutAdminService, defaultNote string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}

		var req createPayoutBatchRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		note := validators.SanitizeString(req.Note, maxBatchNoteLength)
		if note == "" {
			note = defaultNote
		}

		result, err := svc.CreateBatch(r.Context(), payouts.CreateBatchInput{
			Currency: req.Currency,
			MinCents: req.MinCents,
			Note:     note,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if result.Outcome == payouts.OutcomeCreated {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

type syncPayoutBatchResponse struct {
	Status            string `json:"status"`
	ItemsUpdated      int    `json:"items_updated"`
	CreditedBackCount int    `json:"credited_back_count"`
}

// AdminSyncPayoutBatch pulls the provider's view of a batch and reconciles it.
func AdminSyncPayoutBatch(svc PayoutAdminService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		batchID, err := batchIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := logg.WithBatchID(r.Context(), batchID.String())

		result, err := svc.SyncBatch(ctx, batchID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, syncPayoutBatchResponse{
			Status:            string(result.Status),
			ItemsUpdated:      result.ItemsUpdated,
			CreditedBackCount: result.CreditedBackCount,
		})
	}
}

// AdminGetPayoutBatch returns a batch with its items.
func AdminGetPayoutBatch(svc PayoutAdminService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		batchID, err := batchIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		batch, err := svc.GetBatch(r.Context(), batchID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, batch)
	}
}

func AdminListPayoutBatches(svc PayoutAdminService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		list, err := svc.ListBatches(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func batchIDParam(r *http.Request) (uuid.UUID, error) {
	return uuidParam(r, "batchId", "batch id")
}

func uuidParam(r *http.Request, key, label string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, label+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+label)
	}
	return id, nil
}
