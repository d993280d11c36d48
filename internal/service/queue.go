package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"rustshop-api/internal/model"
	"rustshop-api/internal/repository"
	"rustshop-api/pkg/uid"
)

// Outcome is a delivery result reported through the claim protocol.
type Outcome string

const (
	OutcomeDelivering Outcome = "delivering"
	OutcomeDelivered  Outcome = "delivered"
	OutcomeFailed     Outcome = "failed"
)

// ErrInvalidOutcome is returned for an outcome value outside the protocol.
var ErrInvalidOutcome = errors.New("invalid outcome: must be one of delivering, delivered, failed")

// ParseOutcome validates a protocol outcome string.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeDelivering, OutcomeDelivered, OutcomeFailed:
		return Outcome(s), nil
	}
	return "", ErrInvalidOutcome
}

// QueueService owns the delivery queue and its status machine.
//
// The protocol is at-least-once: a claimed entry with no acknowledgement
// stays delivering until the reclaim sweeper returns it to pending, so
// in-game effects must be safe to attempt more than once.
type QueueService struct {
	queue repository.QueueRepository
}

// NewQueueService creates a new delivery queue service.
func NewQueueService(queue repository.QueueRepository) *QueueService {
	return &QueueService{queue: queue}
}

// Enqueue materializes one pending delivery task per purchased line item.
// Called only by the order processor.
func (s *QueueService) Enqueue(ctx context.Context, order *model.Order) ([]model.CartEntry, error) {
	entries := make([]model.CartEntry, 0, len(order.Items))
	for _, item := range order.Items {
		entries = append(entries, model.CartEntry{
			ID:              uid.EntryToken(),
			UserID:          order.UserID,
			SteamID:         order.SteamID,
			OrderID:         order.ID,
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			Quantity:        item.Quantity,
			CommandTemplate: item.CommandTemplate,
			ServerID:        order.ServerID,
			Status:          model.EntryPending,
			CreatedAt:       order.CreatedAt,
		})
	}

	if err := s.queue.InsertEntries(ctx, entries); err != nil {
		return nil, fmt.Errorf("enqueue order %s: %w", order.ID, err)
	}

	log.Printf("[QueueService] Enqueued %d entries for order=%s", len(entries), order.ID)
	return entries, nil
}

// Discover returns pending entries visible to the scope, oldest first.
// Read-only and idempotent.
func (s *QueueService) Discover(ctx context.Context, steamID string, serverScope *string) ([]model.CartEntry, error) {
	return s.queue.PendingBySteamID(ctx, steamID, serverScope)
}

// Claim hands visible pending entries to the caller, transitioning them to
// delivering first. Zero pending entries is an empty result, not an error.
func (s *QueueService) Claim(ctx context.Context, steamID string, serverScope *string) ([]model.CartEntry, error) {
	entries, err := s.queue.ClaimPending(ctx, steamID, serverScope)
	if err != nil {
		return nil, fmt.Errorf("claim for %s: %w", steamID, err)
	}

	if len(entries) > 0 {
		log.Printf("[QueueService] Claimed %d entries steam_id=%s", len(entries), steamID)
	}
	return entries, nil
}

// Acknowledge applies a reported delivery outcome to one entry.
func (s *QueueService) Acknowledge(ctx context.Context, entryID string, outcome Outcome, deliveryErr string) error {
	var err error
	switch outcome {
	case OutcomeDelivered:
		err = s.queue.SetDelivered(ctx, entryID, time.Now().UTC())
	case OutcomeFailed:
		err = s.queue.ReturnFailed(ctx, entryID, deliveryErr)
	case OutcomeDelivering:
		err = s.queue.SetDelivering(ctx, entryID)
	default:
		return ErrInvalidOutcome
	}
	if err != nil {
		return fmt.Errorf("acknowledge %s as %s: %w", entryID, outcome, err)
	}

	if outcome == OutcomeFailed {
		log.Printf("[QueueService] Delivery failed entry=%s error=%q (retryable)", entryID, deliveryErr)
	}
	return nil
}

// Cancel administratively cancels a pending entry.
func (s *QueueService) Cancel(ctx context.Context, entryID string) error {
	if err := s.queue.Cancel(ctx, entryID); err != nil {
		return fmt.Errorf("cancel %s: %w", entryID, err)
	}
	log.Printf("[QueueService] Cancelled entry=%s", entryID)
	return nil
}

// UserEntries returns a user's delivery tasks for the account page.
func (s *QueueService) UserEntries(ctx context.Context, userID int64, status model.EntryStatus, limit int) ([]model.CartEntry, error) {
	return s.queue.EntriesByUser(ctx, userID, status, limit)
}

// GetEntry returns one entry by id.
func (s *QueueService) GetEntry(ctx context.Context, entryID string) (*model.CartEntry, error) {
	return s.queue.GetEntry(ctx, entryID)
}
