package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/fees"
)

// =============================================================================
// FEE EVENT CREATION
// =============================================================================

// AccrualInput describes one fee occurrence to compute.
type AccrualInput struct {
	Component    fees.Component
	Facts        fees.Facts
	AllocationID string
	Currency     string
	EventDate    time.Time
}

// NewFeeEvent computes the component against the facts and returns an
// accrued event. The amount is produced by exactly one calculator call.
func NewFeeEvent(id FeeEventID, in AccrualInput, now time.Time) (FeeEvent, error) {
	amount, err := fees.Calculate(in.Component, in.Facts)
	if err != nil {
		return FeeEvent{}, fmt.Errorf("compute %s fee for allocation %s: %w", in.Component.Kind, in.AllocationID, err)
	}
	currency := in.Currency
	if currency == "" {
		currency = fees.DefaultCurrency
	}
	eventDate := in.EventDate
	if eventDate.IsZero() {
		eventDate = now
	}
	return FeeEvent{
		ID:             id,
		FeeType:        FeeType(in.Component.Kind),
		ComponentID:    in.Component.ID,
		AllocationID:   in.AllocationID,
		ComputedAmount: amount,
		Currency:       currency,
		Status:         FeeEventAccrued,
		EventDate:      eventDate,
		CreatedAt:      now,
	}, nil
}

// =============================================================================
// FEE EVENT SERVICE
// =============================================================================

// FeeEventService creates fee events and applies freestanding status edits.
type FeeEventService struct {
	Store  FeeEventStore
	Logger *slog.Logger
	NewID  func() FeeEventID
	Now    func() time.Time
}

func NewFeeEventService(store FeeEventStore, logger *slog.Logger) *FeeEventService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeeEventService{
		Store:  store,
		Logger: logger.With("component", "fee_events"),
		NewID:  func() FeeEventID { return FeeEventID("fe-" + uuid.NewString()) },
		Now:    time.Now,
	}
}

// Accrue computes and persists a new accrued fee event.
func (s *FeeEventService) Accrue(ctx context.Context, in AccrualInput) (*FeeEvent, error) {
	ev, err := NewFeeEvent(s.NewID(), in, s.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.Store.SaveFeeEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("save fee event %s: %w", ev.ID, err)
	}
	s.Logger.InfoContext(ctx, "fee event accrued",
		"fee_event_id", ev.ID, "fee_type", ev.FeeType, "amount", ev.ComputedAmount.String(), "allocation_id", ev.AllocationID)
	return &ev, nil
}

// Transition applies a freestanding status edit. Moving to invoiced is
// refused: that only happens through invoice assembly.
func (s *FeeEventService) Transition(ctx context.Context, id FeeEventID, observed, to FeeEventStatus) (*FeeEvent, error) {
	if to == FeeEventInvoiced && observed != FeeEventInvoiced {
		return nil, fmt.Errorf("fee event %s: %w", id, ErrInvoicedOnlyByAssembly)
	}
	ev, err := s.Store.GetFeeEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load fee event %s: %w", id, err)
	}
	if ev == nil {
		return nil, &UnresolvedReferenceError{Entity: "fee event", IDs: []string{string(id)}}
	}
	if ev.Status != observed {
		return nil, &StaleStatusError{Entity: "fee event", ID: string(id), Observed: string(observed), Current: string(ev.Status)}
	}
	changed, err := feeEventTransitions.Check(ev.Status, to)
	if err != nil {
		return nil, withID(err, string(id))
	}
	if !changed {
		return ev, nil
	}
	if err := s.Store.UpdateFeeEventStatus(ctx, id, observed, to); err != nil {
		return nil, staleOr(err, "fee event", string(id), string(observed))
	}
	ev.Status = to
	s.Logger.InfoContext(ctx, "fee event status changed", "fee_event_id", id, "from", observed, "to", to)
	return ev, nil
}

// Cancel cancels an accrued fee event, e.g. when the subscription it belongs
// to is rejected.
func (s *FeeEventService) Cancel(ctx context.Context, id FeeEventID) (*FeeEvent, error) {
	return s.Transition(ctx, id, FeeEventAccrued, FeeEventCancelled)
}

// =============================================================================
// HELPERS
// =============================================================================

// sumAmounts adds fee event amounts.
func sumAmounts(events []FeeEvent) decimal.Decimal {
	total := decimal.Zero
	for _, ev := range events {
		total = total.Add(ev.ComputedAmount)
	}
	return total
}

func withID(err error, id string) error {
	if te, ok := err.(*InvalidTransitionError); ok {
		te.ID = id
	}
	return err
}

// staleOr converts a store's ErrStatusChanged into a *StaleStatusError and
// wraps anything else.
func staleOr(err error, entity, id, observed string) error {
	if IsConflict(err) {
		return &StaleStatusError{Entity: entity, ID: id, Observed: observed}
	}
	if IsNotFound(err) {
		return &UnresolvedReferenceError{Entity: entity, IDs: []string{id}}
	}
	return fmt.Errorf("update %s %s: %w", entity, id, err)
}
