package payouts

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-payouts/internal/ledger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox/payloads"
	"github.com/angelmondragon/packfinderz-payouts/pkg/payoutprovider"
)

type itemOutcome struct {
	status       enums.PayoutItemStatus
	updated      bool
	creditedBack bool
}

// SyncBatch polls the provider for a submitted batch and applies every item
// result it reports.
func (s *service) SyncBatch(ctx context.Context, batchID uuid.UUID) (*SyncResult, error) {
	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !submitted(batch) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payout batch was never submitted")
	}
	ctx = s.logg.WithBatchID(ctx, batch.ID.String())

	remote, err := s.provider.GetBatch(ctx, *batch.ExternalBatchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch payout batch status")
	}

	result := &SyncResult{BatchID: batch.ID}
	var settled *payloads.PayoutBatchSettledEvent
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		// reload inside the transaction so item statuses are current
		current, err := s.repo.WithTx(tx).FindByID(ctx, batch.ID)
		if err != nil {
			return err
		}
		if current.Status == enums.PayoutBatchProcessing {
			if _, err := s.writeDebits(ctx, tx, current); err != nil {
				return err
			}
		}

		for _, remoteItem := range remote.Items {
			item := matchItem(current.Items, remoteItem)
			if item == nil {
				result.Unmatched++
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
					"external_item_id": remoteItem.ExternalItemID,
					"sender_item_id":   remoteItem.SenderItemID,
				}), "provider item matches no local payout item")
				continue
			}
			outcome, err := s.applyItem(ctx, tx, current, item, remoteItem)
			if err != nil {
				return err
			}
			if outcome.updated {
				result.ItemsUpdated++
			}
			if outcome.creditedBack {
				result.CreditedBackCount++
			}
		}

		next := nextBatchStatus(current.Status, MapBatchStatus(remote.Status))
		if next == enums.PayoutBatchFailed {
			// a failed batch delivers nothing the provider did not confirm
			for i := range current.Items {
				item := &current.Items[i]
				if item.Status == enums.PayoutItemSent {
					continue
				}
				outcome, err := s.applyItem(ctx, tx, current, item, payoutprovider.ItemStatus{
					Status: string(enums.PayoutItemFailed),
					Error:  "payout batch " + strings.ToUpper(strings.TrimSpace(remote.Status)),
				})
				if err != nil {
					return err
				}
				if outcome.updated {
					result.ItemsUpdated++
				}
				if outcome.creditedBack {
					result.CreditedBackCount++
				}
			}
		}
		if err := s.repo.WithTx(tx).UpdateBatchStatus(ctx, current.ID, next, s.now()); err != nil {
			return err
		}
		result.Status = next
		if next != current.Status && next.IsTerminal() {
			sent, failed := countItems(current.Items)
			settled = &payloads.PayoutBatchSettledEvent{
				BatchID:     current.ID,
				Status:      string(next),
				SentCount:   sent,
				FailedCount: failed,
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPayoutBatchSettled,
				AggregateType: enums.AggregatePayoutBatch,
				AggregateID:   current.ID,
				Data:          settled,
			})
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile payout batch")
	}

	s.metrics.AddCreditBacks(batch.Currency, result.CreditedBackCount)
	fields := map[string]any{
		"status":        string(result.Status),
		"items_updated": result.ItemsUpdated,
		"credited_back": result.CreditedBackCount,
	}
	if settled != nil {
		fields["settled"] = true
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "payout batch synced")
	return result, nil
}

// ReconcileItem applies a single pushed item status. Batch-level status is
// left to SyncBatch.
func (s *service) ReconcileItem(ctx context.Context, n ItemNotification) (*ReconcileItemResult, error) {
	batch, err := s.findNotifiedBatch(ctx, n)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithBatchID(ctx, batch.ID.String())
	if n.EventID != "" {
		ctx = s.logg.WithField(ctx, "event_id", n.EventID)
	}

	remoteItem := payoutprovider.ItemStatus{
		ExternalItemID: strings.TrimSpace(n.ExternalItemID),
		SenderItemID:   strings.TrimSpace(n.SenderItemID),
		Status:         n.Status,
		Receiver:       n.Receiver,
		AmountCents:    n.AmountCents,
		Currency:       n.Currency,
		Error:          n.Error,
	}
	matched := matchItem(batch.Items, remoteItem)
	if matched == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout item not found")
	}
	if !submitted(batch) {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"item_id":      matched.ID.String(),
			"batch_status": string(batch.Status),
		}), "ignoring item status for unsubmitted payout batch")
		return &ReconcileItemResult{BatchID: batch.ID, ItemID: matched.ID, Status: matched.Status}, nil
	}

	var result *ReconcileItemResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.repo.WithTx(tx).FindByID(ctx, batch.ID)
		if err != nil {
			return err
		}
		item := matchItem(current.Items, remoteItem)
		if item == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payout item not found")
		}
		if current.Status == enums.PayoutBatchProcessing {
			if _, err := s.writeDebits(ctx, tx, current); err != nil {
				return err
			}
		}
		outcome, err := s.applyItem(ctx, tx, current, item, remoteItem)
		if err != nil {
			return err
		}
		result = &ReconcileItemResult{
			BatchID:      current.ID,
			ItemID:       item.ID,
			Status:       outcome.status,
			Updated:      outcome.updated,
			CreditedBack: outcome.creditedBack,
		}
		return nil
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile payout item")
	}

	if result.CreditedBack {
		s.metrics.AddCreditBacks(batch.Currency, 1)
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"item_id":       result.ItemID.String(),
		"status":        string(result.Status),
		"credited_back": result.CreditedBack,
	}), "payout item reconciled")
	return result, nil
}

func (s *service) findNotifiedBatch(ctx context.Context, n ItemNotification) (*models.PayoutBatch, error) {
	if ext := strings.TrimSpace(n.ExternalBatchID); ext != "" {
		batch, err := s.repo.FindByExternalID(ctx, ext)
		if err == nil {
			return batch, nil
		}
		if !isNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout batch")
		}
	}
	if sender := strings.TrimSpace(n.SenderBatchID); sender != "" {
		id, err := uuid.Parse(sender)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid sender batch id")
		}
		return s.GetBatch(ctx, id)
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout batch not found")
}

// applyItem moves one local item toward the remote status and credits the
// seller back when the item ends FAILED.
func (s *service) applyItem(ctx context.Context, tx *gorm.DB, batch *models.PayoutBatch, item *models.PayoutItem, remote payoutprovider.ItemStatus) (itemOutcome, error) {
	if !submitted(batch) {
		return itemOutcome{status: item.Status}, nil
	}
	next, changed := nextItemStatus(item.Status, MapItemStatus(remote.Status))

	updates := map[string]any{}
	if changed {
		updates["status"] = next
	}
	if item.ExternalItemID == nil && remote.ExternalItemID != "" {
		updates["external_item_id"] = remote.ExternalItemID
	}
	if changed && next == enums.PayoutItemFailed && remote.Error != "" {
		updates["error"] = remote.Error
	}

	out := itemOutcome{status: item.Status}
	if len(updates) > 0 {
		ok, err := s.repo.WithTx(tx).UpdateItem(ctx, item.ID, item.Status, updates)
		if err != nil {
			return out, err
		}
		if ok {
			out.updated = changed
			if changed {
				item.Status = next
			}
			if ext, set := updates["external_item_id"]; set {
				value := ext.(string)
				item.ExternalItemID = &value
			}
			if msg, set := updates["error"]; set {
				value := msg.(string)
				item.Error = &value
			}
		}
	}
	out.status = item.Status

	if item.Status != enums.PayoutItemFailed {
		return out, nil
	}
	created, err := s.creditBack(ctx, tx, batch, item)
	if err != nil {
		return out, err
	}
	out.creditedBack = created
	return out, nil
}

// creditBack returns a failed item's amount to the seller. One credit-back
// exists per item whichever item reference the first writer used, and only
// an item whose payout debit exists can be credited.
func (s *service) creditBack(ctx context.Context, tx *gorm.DB, batch *models.PayoutBatch, item *models.PayoutItem) (bool, error) {
	ledgerRepo := s.ledgerRepo.WithTx(tx)
	if _, err := ledgerRepo.FindByKey(ctx, enums.LedgerEntryPayoutDebit, ledger.PayoutDebitKey(batch.ID, item.SellerID, item.Currency)); err != nil {
		if !isNotFound(err) {
			return false, err
		}
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"seller_id": item.SellerID.String(),
			"item_id":   item.ID.String(),
		}), "skipping credit-back for undebited payout item")
		return false, nil
	}

	existing, err := ledgerRepo.ListByKeyPrefix(ctx, enums.LedgerEntryAdjustment, ledger.CreditBackKeyPrefix(batch.ID, item.SellerID))
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}

	externalItemID := ""
	if item.ExternalItemID != nil {
		externalItemID = *item.ExternalItemID
	}
	batchID := batch.ID
	reason := ""
	if item.Error != nil {
		reason = *item.Error
	}
	_, created, err := s.ledger.Append(ctx, tx, ledger.AppendInput{
		SellerID:       item.SellerID,
		Type:           enums.LedgerEntryAdjustment,
		AmountCents:    item.AmountCents,
		Currency:       item.Currency,
		PayoutID:       &batchID,
		IdempotencyKey: ledger.CreditBackKey(batch.ID, item.SellerID, externalItemID, item.ReceiverAddress, item.AmountCents, item.Currency),
		Note:           "payout item returned",
		Meta: map[string]any{
			"item_id":          item.ID,
			"external_item_id": externalItemID,
			"reason":           reason,
		},
	})
	if err != nil {
		return false, err
	}
	s.metrics.IncLedgerEntry(string(enums.LedgerEntryAdjustment), created)
	if !created {
		return false, nil
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"seller_id":    item.SellerID.String(),
		"item_id":      item.ID.String(),
		"amount_cents": item.AmountCents,
	}), "payout item credited back")

	return true, s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPayoutItemCreditedBack,
		AggregateType: enums.AggregatePayoutItem,
		AggregateID:   item.ID,
		Data: payloads.PayoutItemCreditedBackEvent{
			BatchID:     batch.ID,
			ItemID:      item.ID,
			SellerID:    item.SellerID,
			AmountCents: item.AmountCents,
			Currency:    item.Currency,
			Reason:      reason,
		},
	})
}

// matchItem finds the local item for a provider item: external item id
// first, then our sender item id, then receiver and amount.
func matchItem(items []models.PayoutItem, remote payoutprovider.ItemStatus) *models.PayoutItem {
	if ext := strings.TrimSpace(remote.ExternalItemID); ext != "" {
		for i := range items {
			if items[i].ExternalItemID != nil && *items[i].ExternalItemID == ext {
				return &items[i]
			}
		}
	}
	if sender := strings.TrimSpace(remote.SenderItemID); sender != "" {
		for i := range items {
			if strings.EqualFold(items[i].ID.String(), sender) {
				return &items[i]
			}
		}
	}
	receiver := normalizeReceiver(remote.Receiver)
	if receiver == "" || remote.AmountCents <= 0 {
		return nil
	}
	ext := strings.TrimSpace(remote.ExternalItemID)
	for i := range items {
		item := &items[i]
		if item.ReceiverAddress != receiver || item.AmountCents != remote.AmountCents {
			continue
		}
		// an item already bound to another provider id is a different transfer
		if ext != "" && item.ExternalItemID != nil && *item.ExternalItemID != ext {
			continue
		}
		return item
	}
	return nil
}

// submitted reports whether the provider accepted the batch. Only then do
// its items carry payout debits.
func submitted(batch *models.PayoutBatch) bool {
	return batch.ExternalBatchID != nil && strings.TrimSpace(*batch.ExternalBatchID) != ""
}

func countItems(items []models.PayoutItem) (sent, failed int) {
	for _, item := range items {
		switch item.Status {
		case enums.PayoutItemSent:
			sent++
		case enums.PayoutItemFailed:
			failed++
		}
	}
	return sent, failed
}
