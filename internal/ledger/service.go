package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/money"
)

// Service appends ledger entries and derives seller balances from them.
type Service interface {
	Append(ctx context.Context, tx *gorm.DB, input AppendInput) (*models.LedgerEntry, bool, error)
	Available(ctx context.Context, sellerID uuid.UUID, currency string) (int64, error)
	Balance(ctx context.Context, sellerID uuid.UUID, currency string) (Balance, error)
	History(ctx context.Context, sellerID uuid.UUID, currency string, limit int) ([]models.LedgerEntry, error)
}

// AppendInput captures the immutable data a ledger entry requires.
type AppendInput struct {
	SellerID       uuid.UUID
	Type           enums.LedgerEntryType
	AmountCents    int64
	Currency       string
	AvailableAt    *time.Time
	OrderID        *uuid.UUID
	PayoutID       *uuid.UUID
	IdempotencyKey string
	Note           string
	Meta           any
}

// Balance is a seller's derived position in one currency.
type Balance struct {
	SellerID       uuid.UUID `json:"seller_id"`
	Currency       string    `json:"currency"`
	AvailableCents int64     `json:"available_cents"`
	PendingCents   int64     `json:"pending_cents"`
	RawCents       int64     `json:"raw_cents"`
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires a ledger service with the provided repository. A nil
// clock means time.Now.
func NewService(repo Repository, clock func() time.Time) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &service{repo: repo, now: clock}, nil
}

// Append validates and inserts an entry unless its idempotency key was
// already used for the type. The bool reports whether a row was created; on
// a duplicate the stored entry is returned.
func (s *service) Append(ctx context.Context, tx *gorm.DB, input AppendInput) (*models.LedgerEntry, bool, error) {
	entry, err := s.buildEntry(input)
	if err != nil {
		return nil, false, err
	}

	repo := s.repo.WithTx(tx)
	created, err := repo.InsertIfAbsent(ctx, entry)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger entry")
	}
	if created {
		return entry, true, nil
	}

	existing, err := repo.FindByKey(ctx, entry.Type, entry.IdempotencyKey)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load existing ledger entry")
	}
	return existing, false, nil
}

func (s *service) buildEntry(input AppendInput) (*models.LedgerEntry, error) {
	if input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger entry type %q", input.Type))
	}
	if !input.Type.AcceptsAmount(input.AmountCents) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("amount %d not allowed for %s", input.AmountCents, input.Type))
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	currency, err := money.NormalizeCurrency(input.Currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
	}
	if input.AvailableAt != nil && input.Type != enums.LedgerEntryEarning {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "available_at only applies to earnings")
	}

	entry := &models.LedgerEntry{
		SellerID:       input.SellerID,
		Type:           input.Type,
		AmountCents:    input.AmountCents,
		Currency:       currency,
		OrderID:        input.OrderID,
		PayoutID:       input.PayoutID,
		IdempotencyKey: key,
		Note:           input.Note,
	}
	if input.AvailableAt != nil {
		at := input.AvailableAt.UTC()
		entry.AvailableAt = &at
	}
	if input.Meta != nil {
		raw, err := json.Marshal(input.Meta)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode ledger meta")
		}
		entry.Meta = raw
	}
	return entry, nil
}

// Available returns the payable balance: matured earnings plus all debits and
// adjustments, never below zero.
func (s *service) Available(ctx context.Context, sellerID uuid.UUID, currency string) (int64, error) {
	bal, err := s.Balance(ctx, sellerID, currency)
	if err != nil {
		return 0, err
	}
	return bal.AvailableCents, nil
}

func (s *service) Balance(ctx context.Context, sellerID uuid.UUID, currency string) (Balance, error) {
	cur, err := money.NormalizeCurrency(currency)
	if err != nil {
		return Balance{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
	}
	if sellerID == uuid.Nil {
		return Balance{}, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}

	at := s.now().UTC()
	raw, err := s.repo.SumAvailable(ctx, sellerID, cur, at)
	if err != nil {
		return Balance{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum available balance")
	}
	pending, err := s.repo.SumPending(ctx, sellerID, cur, at)
	if err != nil {
		return Balance{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum pending balance")
	}

	available := raw
	if available < 0 {
		available = 0
	}
	return Balance{
		SellerID:       sellerID,
		Currency:       cur,
		AvailableCents: available,
		PendingCents:   pending,
		RawCents:       raw,
	}, nil
}

func (s *service) History(ctx context.Context, sellerID uuid.UUID, currency string, limit int) ([]models.LedgerEntry, error) {
	cur := ""
	if strings.TrimSpace(currency) != "" {
		normalized, err := money.NormalizeCurrency(currency)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
		}
		cur = normalized
	}
	entries, err := s.repo.ListBySeller(ctx, sellerID, cur, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	return entries, nil
}
