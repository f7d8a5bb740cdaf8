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
// COMMISSION ACCRUAL
// =============================================================================

// NewCommission accrues a partner commission on the gross fees of events.
// Cancelled events contribute nothing; all events must share a currency.
func NewCommission(id CommissionID, partnerID string, events []FeeEvent, rate fees.Bps, now time.Time) (Commission, error) {
	if partnerID == "" {
		return Commission{}, &fees.ConfigError{Field: "partner_id", Reason: "required"}
	}
	if !rate.Valid() {
		return Commission{}, &fees.ConfigError{Field: "rate_bps", Reason: fmt.Sprintf("%d outside [0, %d]", rate, fees.MaxBps)}
	}
	if len(events) == 0 {
		return Commission{}, &fees.ConfigError{Field: "fee_event_ids", Reason: "at least one fee event is required"}
	}

	var (
		ids      []FeeEventID
		billable []FeeEvent
	)
	for _, ev := range events {
		ids = append(ids, ev.ID)
		if ev.Status != FeeEventCancelled {
			billable = append(billable, ev)
		}
	}
	currency, err := invoiceCurrency(billable, "")
	if err != nil {
		return Commission{}, err
	}
	gross := sumAmounts(billable)

	return Commission{
		ID:             id,
		PartnerID:      partnerID,
		FeeEventIDs:    ids,
		Rate:           rate,
		GrossFeeAmount: gross,
		AccrualAmount:  fees.IntroducerCommission(gross, rate),
		Currency:       currency,
		Status:         CommissionAccrued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// =============================================================================
// COMMISSION SERVICE
// =============================================================================

// TransitionInput is a requested commission status change. Observed is the
// status the caller last saw; the change only applies if it is still current.
type TransitionInput struct {
	Observed         CommissionStatus
	To               CommissionStatus
	InvoiceID        string // recorded when moving to invoiced
	PaymentReference string // recorded when moving to paid
}

// CommissionService accrues commissions and moves them through their
// lifecycle.
type CommissionService struct {
	Store     CommissionStore
	FeeEvents FeeEventStore
	Logger    *slog.Logger
	NewID     func() CommissionID
	Now       func() time.Time
}

func NewCommissionService(store Store, logger *slog.Logger) *CommissionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommissionService{
		Store:     store,
		FeeEvents: store,
		Logger:    logger.With("component", "commissions"),
		NewID:     func() CommissionID { return CommissionID("com-" + uuid.NewString()) },
		Now:       time.Now,
	}
}

// Accrue loads the fee events, computes the commission and saves it.
func (s *CommissionService) Accrue(ctx context.Context, partnerID string, ids []FeeEventID, rate fees.Bps) (*Commission, error) {
	found, err := s.FeeEvents.GetFeeEvents(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load fee events: %w", err)
	}
	byID := make(map[FeeEventID]FeeEvent, len(found))
	for _, ev := range found {
		byID[ev.ID] = ev
	}
	var (
		events  []FeeEvent
		missing []string
	)
	for _, id := range ids {
		ev, ok := byID[id]
		if !ok {
			missing = append(missing, string(id))
			continue
		}
		events = append(events, ev)
	}
	if len(missing) > 0 {
		return nil, &UnresolvedReferenceError{Entity: "fee event", IDs: missing}
	}

	c, err := NewCommission(s.NewID(), partnerID, events, rate, s.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.Store.SaveCommission(ctx, c); err != nil {
		return nil, fmt.Errorf("save commission %s: %w", c.ID, err)
	}
	s.Logger.InfoContext(ctx, "commission accrued",
		"commission_id", c.ID, "partner_id", partnerID, "gross", c.GrossFeeAmount.String(), "amount", c.AccrualAmount.String())
	return &c, nil
}

// Transition moves a commission to in.To if the stored status is still
// in.Observed and the table allows the edge. Requesting the current status
// returns the commission unchanged.
func (s *CommissionService) Transition(ctx context.Context, id CommissionID, in TransitionInput) (*Commission, error) {
	c, err := s.Store.GetCommission(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load commission %s: %w", id, err)
	}
	if c == nil {
		return nil, &UnresolvedReferenceError{Entity: "commission", IDs: []string{string(id)}}
	}
	if c.Status != in.Observed {
		return nil, &StaleStatusError{Entity: "commission", ID: string(id), Observed: string(in.Observed), Current: string(c.Status)}
	}

	changed, err := commissionTransitions.Check(c.Status, in.To)
	if err != nil {
		return nil, withID(err, string(id))
	}
	if !changed {
		return c, nil
	}

	u := CommissionUpdate{ID: id, From: in.Observed, To: in.To, At: s.Now().UTC()}
	switch in.To {
	case CommissionInvoiced:
		u.InvoiceID = in.InvoiceID
	case CommissionPaid:
		u.PaymentReference = in.PaymentReference
	}
	if err := s.Store.UpdateCommissionStatus(ctx, u); err != nil {
		return nil, staleOr(err, "commission", string(id), string(in.Observed))
	}

	c.Status = in.To
	c.UpdatedAt = u.At
	if u.InvoiceID != "" {
		c.InvoiceID = u.InvoiceID
	}
	if u.PaymentReference != "" {
		c.PaymentReference = u.PaymentReference
	}
	s.Logger.InfoContext(ctx, "commission status changed", "commission_id", id, "from", in.Observed, "to", in.To)
	return c, nil
}

// Outstanding sums the accrual amounts of commissions not yet paid or
// cancelled.
func Outstanding(commissions []Commission) decimal.Decimal {
	total := decimal.Zero
	for _, c := range commissions {
		if c.Status == CommissionPaid || c.Status == CommissionCancelled {
			continue
		}
		total = total.Add(c.AccrualAmount)
	}
	return total
}
