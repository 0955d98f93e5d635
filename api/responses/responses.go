package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// publicMessageCodes carry caller-facing messages; everything else is
// answered with the code's generic public message.
var publicMessageCodes = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:    true,
	pkgerrors.CodeUnauthorized:  true,
	pkgerrors.CodeForbidden:     true,
	pkgerrors.CodeNotFound:      true,
	pkgerrors.CodeConflict:      true,
	pkgerrors.CodeStateConflict: true,
	pkgerrors.CodeIdempotency:   true,
	pkgerrors.CodeRateLimit:     true,
	pkgerrors.CodeProvider:      true,
}

func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	meta := pkgerrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	if publicMessageCodes[typed.Code()] {
		if m := typed.Message(); m != "" {
			msg = m
		}
	}

	payload := types.ErrorEnvelope{
		Error: types.APIError{
			Code:      string(typed.Code()),
			Message:   msg,
			Retryable: meta.Retryable,
		},
	}
	if meta.DetailsAllowed {
		if details := typed.Details(); details != nil {
			payload.Error.Details = details
		}
	}

	if logg != nil {
		dump := pkgerrors.Dump(err)
		ctx = logg.WithFields(ctx, map[string]any{
			"error_code":    dump.Code,
			"error_chain":   dump.Chain,
			"http_status":   meta.HTTPStatus,
			"pg_code":       dump.PGCode,
			"pg_constraint": dump.PGConstraint,
			"duplicate_key": dump.UniqueViolation,
		})
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(ctx, "request.error", err)
		} else {
			logg.Warn(logg.WithField(ctx, "error", dump.TopMessage), "request.rejected")
		}
	}

	writeJSON(w, meta.HTTPStatus, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
