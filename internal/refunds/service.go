package refunds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-payouts/internal/ledger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/metrics"
	"github.com/angelmondragon/packfinderz-payouts/pkg/money"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox/payloads"
)

// FailedShare is a seller debit that could not be written. A retry of the
// same refund assigns the outstanding amount to exactly these sellers.
type FailedShare struct {
	SellerID    uuid.UUID `json:"seller_id"`
	AmountCents int64     `json:"amount_cents"`
	Error       string    `json:"error"`
}

// AllocationResult summarises one refund allocation.
type AllocationResult struct {
	OrderID             uuid.UUID     `json:"order_id"`
	RefundID            string        `json:"refund_id"`
	Currency            string        `json:"currency,omitempty"`
	TargetCents         int64         `json:"target_cents"`
	AlreadyDebitedCents int64         `json:"already_debited_cents"`
	OtherRefundsCents   int64         `json:"other_refunds_cents"`
	AllocatedCents      int64         `json:"allocated_cents"`
	Created             int           `json:"created"`
	Skipped             int           `json:"skipped"`
	Failed              []FailedShare `json:"failed,omitempty"`
}

// ServiceParams wires the refund allocator.
type ServiceParams struct {
	Ledger     ledger.Service
	Repository ledger.Repository
	Logger     *logger.Logger
	Metrics    *metrics.PayoutMetrics
}

// Service spreads order refunds across the sellers that earned from the order.
type Service struct {
	ledger  ledger.Service
	repo    ledger.Repository
	logg    *logger.Logger
	metrics *metrics.PayoutMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, errors.New("ledger service required")
	}
	if params.Repository == nil {
		return nil, errors.New("ledger repository required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	return &Service{
		ledger:  params.Ledger,
		repo:    params.Repository,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

type sellerNet struct {
	sellerID uuid.UUID
	netCents int64
}

// Allocate writes REFUND_DEBIT entries for the refund so that their sum
// equals the refund's share of the order's net earnings. It is safe to call
// repeatedly; only the outstanding amount is ever assigned.
func (s *Service) Allocate(ctx context.Context, event payloads.OrderRefundedEvent) (*AllocationResult, error) {
	if event.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	refundID := strings.TrimSpace(event.RefundID)
	if refundID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund id is required")
	}

	var amount int64
	full := event.Amount == nil
	if !full {
		parsed, err := money.ParseCents(*event.Amount)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund amount")
		}
		if parsed < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must not be negative")
		}
		amount = parsed
	}

	ctx = s.logg.WithRefund(ctx, event.OrderID.String(), refundID)
	result := &AllocationResult{OrderID: event.OrderID, RefundID: refundID}

	currency, err := s.resolveCurrency(ctx, event)
	if err != nil {
		return nil, err
	}
	if currency == "" {
		s.logg.Info(ctx, "refund has no earnings to debit")
		return result, nil
	}
	result.Currency = currency

	earnings, err := s.repo.ListByOrder(ctx, event.OrderID, enums.LedgerEntryEarning, currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order earnings")
	}
	nets, totalNet := netsBySeller(earnings)
	if totalNet <= 0 {
		s.logg.Info(ctx, "refund has no earnings to debit")
		return result, nil
	}

	refunded, err := s.repo.ListByOrder(ctx, event.OrderID, enums.LedgerEntryRefundDebit, currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund debits")
	}
	ownPrefix := ledger.RefundKeyPrefix(event.OrderID, refundID)
	debited := make(map[uuid.UUID]bool)
	otherBySeller := make(map[uuid.UUID]int64)
	for _, entry := range refunded {
		if strings.HasPrefix(entry.IdempotencyKey, ownPrefix) {
			debited[entry.SellerID] = true
			result.AlreadyDebitedCents += -entry.AmountCents
			continue
		}
		otherBySeller[entry.SellerID] += -entry.AmountCents
		result.OtherRefundsCents += -entry.AmountCents
	}

	// what other refunds took is no longer captured
	capturedNet := totalNet - result.OtherRefundsCents
	if capturedNet < 0 {
		capturedNet = 0
	}
	switch {
	case full:
		result.TargetCents = capturedNet
	default:
		gross := s.capturedGross(ctx, event, earnings)
		result.TargetCents = refundTarget(totalNet, amount, gross)
		if result.TargetCents > capturedNet {
			result.TargetCents = capturedNet
		}
	}

	remaining := result.TargetCents - result.AlreadyDebitedCents
	if remaining <= 0 {
		if result.TargetCents == 0 && result.OtherRefundsCents > 0 {
			s.logg.Info(s.logg.WithField(ctx, "other_refunds_cents", result.OtherRefundsCents), "order net already refunded")
		}
		return result, nil
	}

	var pending []sellerNet
	var pendingNet int64
	for _, sn := range nets {
		left := sn.netCents - otherBySeller[sn.sellerID]
		if debited[sn.sellerID] || left <= 0 {
			continue
		}
		pending = append(pending, sellerNet{sellerID: sn.sellerID, netCents: left})
		pendingNet += left
	}
	if len(pending) == 0 {
		return result, nil
	}
	if remaining > pendingNet {
		remaining = pendingNet
	}

	weights := make([]int64, len(pending))
	for i, sn := range pending {
		weights[i] = sn.netCents
	}
	shares := money.Split(remaining, weights)

	var errs error
	for i, sn := range pending {
		share := shares[i]
		if share <= 0 {
			continue
		}
		orderID := event.OrderID
		_, created, err := s.ledger.Append(ctx, nil, ledger.AppendInput{
			SellerID:       sn.sellerID,
			Type:           enums.LedgerEntryRefundDebit,
			AmountCents:    -share,
			Currency:       currency,
			OrderID:        &orderID,
			IdempotencyKey: ledger.RefundKey(event.OrderID, refundID, sn.sellerID, currency),
			Note:           fmt.Sprintf("refund %s", refundID),
			Meta: refundMeta{
				RefundID:    refundID,
				TargetCents: result.TargetCents,
				NetCents:    sn.netCents,
			},
		})
		if err != nil {
			result.Failed = append(result.Failed, FailedShare{SellerID: sn.sellerID, AmountCents: share, Error: err.Error()})
			errs = multierr.Append(errs, fmt.Errorf("seller %s: %w", sn.sellerID, err))
			continue
		}
		s.metrics.IncLedgerEntry(string(enums.LedgerEntryRefundDebit), created)
		if created {
			result.Created++
			result.AllocatedCents += share
		} else {
			result.Skipped++
		}
	}

	fields := map[string]any{
		"currency":        currency,
		"target_cents":    result.TargetCents,
		"other_refunds":   result.OtherRefundsCents,
		"allocated_cents": result.AllocatedCents,
		"failed":          len(result.Failed),
	}
	if errs != nil {
		s.logg.Error(s.logg.WithFields(ctx, fields), "refund allocation incomplete", errs)
		return result, errs
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "refund allocated")
	return result, nil
}

type refundMeta struct {
	RefundID    string `json:"refund_id"`
	TargetCents int64  `json:"target_cents"`
	NetCents    int64  `json:"seller_net_cents"`
}

// resolveCurrency returns the refund currency, falling back to the currency
// of the order's earliest earning. Empty means the order earned nothing.
func (s *Service) resolveCurrency(ctx context.Context, event payloads.OrderRefundedEvent) (string, error) {
	if strings.TrimSpace(event.Currency) != "" {
		cur, err := money.NormalizeCurrency(event.Currency)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund currency")
		}
		return cur, nil
	}
	all, err := s.repo.ListByOrder(ctx, event.OrderID, enums.LedgerEntryEarning, "")
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order earnings")
	}
	if len(all) == 0 {
		return "", nil
	}
	return all[0].Currency, nil
}

// capturedGross prefers the event's figure and falls back to the gross
// recorded on the earnings. Zero means unknown.
func (s *Service) capturedGross(ctx context.Context, event payloads.OrderRefundedEvent, earnings []models.LedgerEntry) int64 {
	if event.CapturedGross != nil {
		gross, err := money.ParseCents(*event.CapturedGross)
		if err == nil && gross > 0 {
			return gross
		}
		s.logg.Warn(s.logg.WithField(ctx, "captured_gross", *event.CapturedGross), "ignoring unusable captured gross")
	}
	var total int64
	for _, entry := range earnings {
		if len(entry.Meta) == 0 {
			continue
		}
		var meta struct {
			GrossCents int64 `json:"gross_cents"`
		}
		if err := json.Unmarshal(entry.Meta, &meta); err != nil {
			continue
		}
		total += meta.GrossCents
	}
	return total
}

// refundTarget scales the order's net by amount/gross, clamped to the net.
// Without a known gross the amount itself is the target.
func refundTarget(totalNet, amount, gross int64) int64 {
	if amount <= 0 {
		return 0
	}
	if gross <= 0 {
		if amount < totalNet {
			return amount
		}
		return totalNet
	}
	if amount > gross {
		amount = gross
	}
	target := money.ScaleRound(totalNet, amount, gross)
	if target > totalNet {
		return totalNet
	}
	return target
}

// netsBySeller sums earnings per seller, ordered by seller id so splits are
// deterministic across retries.
func netsBySeller(entries []models.LedgerEntry) ([]sellerNet, int64) {
	byID := make(map[uuid.UUID]int64)
	var total int64
	for _, entry := range entries {
		byID[entry.SellerID] += entry.AmountCents
		total += entry.AmountCents
	}
	nets := make([]sellerNet, 0, len(byID))
	for id, net := range byID {
		nets = append(nets, sellerNet{sellerID: id, netCents: net})
	}
	sort.Slice(nets, func(i, j int) bool {
		return nets[i].sellerID.String() < nets[j].sellerID.String()
	})
	return nets, total
}
