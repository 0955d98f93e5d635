package earnings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-payouts/internal/ledger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/metrics"
	"github.com/angelmondragon/packfinderz-payouts/pkg/money"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox/payloads"
)

const (
	maxFeeBps  = 5000
	maxHold    = 30 * 24 * time.Hour
	metricsTag = "accrual"
)

// Skip reasons reported per order line.
const (
	SkipInvalidAmount    = "invalid_amount"
	SkipInvalidQuantity  = "invalid_quantity"
	SkipMissingSeller    = "missing_seller"
	SkipMissingProduct   = "missing_product"
	SkipInvalidCurrency  = "invalid_currency"
	SkipCurrencyMismatch = "currency_mismatch"
	SkipNonPositiveNet   = "non_positive_net"
)

// SkippedLine names an order line that produced no earning.
type SkippedLine struct {
	Index      int    `json:"index"`
	SellerID   string `json:"seller_id,omitempty"`
	ProductKey string `json:"product_key,omitempty"`
	Reason     string `json:"reason"`
}

// AccrualResult summarises one accrual run. Re-running an order reports its
// groups as Existing.
type AccrualResult struct {
	OrderID  uuid.UUID     `json:"order_id"`
	Currency string        `json:"currency"`
	Created  int           `json:"created"`
	Existing int           `json:"existing"`
	NetCents int64         `json:"net_cents"`
	Skipped  []SkippedLine `json:"skipped,omitempty"`
}

// ServiceParams wires the accrual service.
type ServiceParams struct {
	Ledger     ledger.Service
	Logger     *logger.Logger
	Metrics    *metrics.PayoutMetrics
	FeeBps     int
	HoldPeriod time.Duration
	Clock      func() time.Time
}

// Service turns captured orders into seller earnings.
type Service struct {
	ledger  ledger.Service
	logg    *logger.Logger
	metrics *metrics.PayoutMetrics
	feeBps  int
	hold    time.Duration
	now     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, errors.New("ledger service required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		ledger:  params.Ledger,
		logg:    params.Logger,
		metrics: params.Metrics,
		feeBps:  clampBps(params.FeeBps),
		hold:    clampHold(params.HoldPeriod),
		now:     clock,
	}, nil
}

func clampBps(bps int) int {
	if bps < 0 {
		return 0
	}
	if bps > maxFeeBps {
		return maxFeeBps
	}
	return bps
}

func clampHold(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > maxHold {
		return maxHold
	}
	return d
}

type groupKey struct {
	sellerID   uuid.UUID
	productKey string
}

type group struct {
	key        groupKey
	firstIndex int
	quantity   int64
	grossCents int64
}

// Accrue writes one EARNING per (seller, product) of the order. Line defects
// are skipped and reported; storage failures are returned after every group
// was attempted.
func (s *Service) Accrue(ctx context.Context, event payloads.OrderPaidEvent) (*AccrualResult, error) {
	if event.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	currency, err := money.NormalizeCurrency(event.Currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order currency")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id": event.OrderID.String(),
		"currency": currency,
	})

	result := &AccrualResult{OrderID: event.OrderID, Currency: currency}
	groups := s.groupLines(event.LineItems, currency, result)

	availableAt := s.now().UTC().Add(s.hold)
	var paidAt *time.Time
	if !event.PaidAt.IsZero() {
		at := event.PaidAt.UTC()
		paidAt = &at
	}
	var errs error
	for _, g := range groups {
		fee := money.ApplyBasisPoints(g.grossCents, s.feeBps)
		net := g.grossCents - fee
		if net <= 0 {
			s.skip(result, SkippedLine{
				Index:      g.firstIndex,
				SellerID:   g.key.sellerID.String(),
				ProductKey: g.key.productKey,
				Reason:     SkipNonPositiveNet,
			})
			continue
		}

		orderID := event.OrderID
		at := availableAt
		_, created, err := s.ledger.Append(ctx, nil, ledger.AppendInput{
			SellerID:       g.key.sellerID,
			Type:           enums.LedgerEntryEarning,
			AmountCents:    net,
			Currency:       currency,
			AvailableAt:    &at,
			OrderID:        &orderID,
			IdempotencyKey: ledger.EarningKey(event.OrderID, g.key.productKey, g.key.sellerID),
			Note:           fmt.Sprintf("order %s", event.OrderID),
			Meta: earningMeta{
				GrossCents: g.grossCents,
				FeeCents:   fee,
				FeeBps:     s.feeBps,
				Quantity:   g.quantity,
				ProductKey: g.key.productKey,
				PaidAt:     paidAt,
			},
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("seller %s product %s: %w", g.key.sellerID, g.key.productKey, err))
			continue
		}
		s.metrics.IncLedgerEntry(string(enums.LedgerEntryEarning), created)
		if created {
			result.Created++
		} else {
			result.Existing++
		}
		result.NetCents += net
	}

	if errs != nil {
		s.logg.Error(ctx, "earnings accrual incomplete", errs)
		return result, errs
	}
	if len(result.Skipped) > 0 {
		s.logg.Warn(s.logg.WithField(ctx, "skipped", len(result.Skipped)), "order lines skipped during accrual")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"created":  result.Created,
		"existing": result.Existing,
	}), "earnings accrued")
	return result, nil
}

// earningMeta is kept for audit. PaidAt is informational; the hold runs from
// accrual time.
type earningMeta struct {
	GrossCents int64      `json:"gross_cents"`
	FeeCents   int64      `json:"fee_cents"`
	FeeBps     int        `json:"fee_bps"`
	Quantity   int64      `json:"quantity"`
	ProductKey string     `json:"product_key"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
}

func (s *Service) groupLines(lines []payloads.OrderLineItem, currency string, result *AccrualResult) []*group {
	var ordered []*group
	byKey := make(map[groupKey]*group)

	for i, line := range lines {
		productKey := strings.TrimSpace(line.ProductKey)
		skip := SkippedLine{Index: i, SellerID: line.SellerID, ProductKey: productKey}

		sellerID, err := uuid.Parse(strings.TrimSpace(line.SellerID))
		if err != nil || sellerID == uuid.Nil {
			skip.Reason = SkipMissingSeller
			s.skip(result, skip)
			continue
		}
		if productKey == "" {
			skip.Reason = SkipMissingProduct
			s.skip(result, skip)
			continue
		}
		if line.Quantity <= 0 {
			skip.Reason = SkipInvalidQuantity
			s.skip(result, skip)
			continue
		}
		if strings.TrimSpace(line.Currency) != "" {
			lineCurrency, err := money.NormalizeCurrency(line.Currency)
			if err != nil {
				skip.Reason = SkipInvalidCurrency
				s.skip(result, skip)
				continue
			}
			if lineCurrency != currency {
				skip.Reason = SkipCurrencyMismatch
				s.skip(result, skip)
				continue
			}
		}
		unit, err := money.ParseCents(line.UnitPrice)
		if err != nil || unit < 0 {
			skip.Reason = SkipInvalidAmount
			s.skip(result, skip)
			continue
		}
		qty := int64(line.Quantity)
		if unit > 0 && qty > math.MaxInt64/unit {
			skip.Reason = SkipInvalidAmount
			s.skip(result, skip)
			continue
		}

		key := groupKey{sellerID: sellerID, productKey: productKey}
		g, ok := byKey[key]
		if !ok {
			g = &group{key: key, firstIndex: i}
			byKey[key] = g
			ordered = append(ordered, g)
		}
		lineGross := unit * qty
		if g.grossCents > math.MaxInt64-lineGross {
			skip.Reason = SkipInvalidAmount
			s.skip(result, skip)
			continue
		}
		g.quantity += qty
		g.grossCents += lineGross
	}
	return ordered
}

func (s *Service) skip(result *AccrualResult, line SkippedLine) {
	result.Skipped = append(result.Skipped, line)
	s.metrics.IncSkipped(metricsTag, line.Reason)
}
