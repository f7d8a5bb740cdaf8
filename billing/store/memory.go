// Package store provides in-memory implementations of the billing ports.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements billing.Store. Guarded updates compare and write under
// one lock, so they behave like a conditional UPDATE.
type Memory struct {
	mu          sync.RWMutex
	feeEvents   map[billing.FeeEventID]billing.FeeEvent
	invoices    map[billing.InvoiceID]billing.Invoice
	lines       map[billing.InvoiceID][]billing.InvoiceLine
	commissions map[billing.CommissionID]billing.Commission
}

var _ billing.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		feeEvents:   make(map[billing.FeeEventID]billing.FeeEvent),
		invoices:    make(map[billing.InvoiceID]billing.Invoice),
		lines:       make(map[billing.InvoiceID][]billing.InvoiceLine),
		commissions: make(map[billing.CommissionID]billing.Commission),
	}
}

// =============================================================================
// FEE EVENTS
// =============================================================================

func (m *Memory) SaveFeeEvent(_ context.Context, ev billing.FeeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.feeEvents[ev.ID]; ok {
		return fmt.Errorf("fee event %s: %w", ev.ID, billing.ErrAlreadyExists)
	}
	m.feeEvents[ev.ID] = ev
	return nil
}

func (m *Memory) GetFeeEvent(_ context.Context, id billing.FeeEventID) (*billing.FeeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.feeEvents[id]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (m *Memory) GetFeeEvents(_ context.Context, ids []billing.FeeEventID) ([]billing.FeeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []billing.FeeEvent
	for _, id := range ids {
		if ev, ok := m.feeEvents[id]; ok {
			result = append(result, ev)
		}
	}
	return result, nil
}

func (m *Memory) ListFeeEvents(_ context.Context, status billing.FeeEventStatus) ([]billing.FeeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []billing.FeeEvent
	for _, ev := range m.feeEvents {
		if status == "" || ev.Status == status {
			result = append(result, ev)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ClaimFeeEvents checks every event first, then writes. Nothing changes
// unless all of them are accrued.
func (m *Memory) ClaimFeeEvents(_ context.Context, ids []billing.FeeEventID, invoiceID billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		ev, ok := m.feeEvents[id]
		if !ok {
			return &billing.UnresolvedReferenceError{Entity: "fee event", IDs: []string{string(id)}}
		}
		if ev.Status != billing.FeeEventAccrued {
			return &billing.AlreadyClaimedError{FeeEventID: id, Status: ev.Status, InvoiceID: ev.InvoiceID}
		}
	}
	for _, id := range ids {
		ev := m.feeEvents[id]
		ev.Status = billing.FeeEventInvoiced
		ev.InvoiceID = invoiceID
		m.feeEvents[id] = ev
	}
	return nil
}

func (m *Memory) UpdateFeeEventStatus(_ context.Context, id billing.FeeEventID, from, to billing.FeeEventStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.feeEvents[id]
	if !ok {
		return billing.ErrNotFound
	}
	if ev.Status != from {
		return billing.ErrStatusChanged
	}
	ev.Status = to
	m.feeEvents[id] = ev
	return nil
}

// =============================================================================
// INVOICES
// =============================================================================

func (m *Memory) CreateInvoice(_ context.Context, inv billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.invoices[inv.ID]; exists {
		return fmt.Errorf("invoice %s already exists", inv.ID)
	}
	inv.Lines = nil
	m.invoices[inv.ID] = inv
	return nil
}

func (m *Memory) CreateInvoiceLines(_ context.Context, lines []billing.InvoiceLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range lines {
		if _, ok := m.invoices[l.InvoiceID]; !ok {
			return fmt.Errorf("invoice line %s: %w", l.ID, billing.ErrNotFound)
		}
	}
	for _, l := range lines {
		m.lines[l.InvoiceID] = append(m.lines[l.InvoiceID], l)
	}
	return nil
}

func (m *Memory) DeleteInvoice(_ context.Context, id billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.invoices, id)
	delete(m.lines, id)
	return nil
}

func (m *Memory) GetInvoice(_ context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, nil
	}
	inv.Lines = append([]billing.InvoiceLine(nil), m.lines[id]...)
	return &inv, nil
}

func (m *Memory) ListInvoices(_ context.Context) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]billing.Invoice, 0, len(m.invoices))
	for id, inv := range m.invoices {
		inv.Lines = append([]billing.InvoiceLine(nil), m.lines[id]...)
		result = append(result, inv)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) RecordInvoicePayment(_ context.Context, id billing.InvoiceID, expectedPaid, newPaid decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return billing.ErrNotFound
	}
	if !inv.PaidAmount.Equal(expectedPaid) {
		return billing.ErrStatusChanged
	}
	inv.PaidAmount = newPaid
	m.invoices[id] = inv
	return nil
}

// =============================================================================
// COMMISSIONS
// =============================================================================

func (m *Memory) SaveCommission(_ context.Context, c billing.Commission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.FeeEventIDs = append([]billing.FeeEventID(nil), c.FeeEventIDs...)
	m.commissions[c.ID] = c
	return nil
}

func (m *Memory) GetCommission(_ context.Context, id billing.CommissionID) (*billing.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.commissions[id]
	if !ok {
		return nil, nil
	}
	c.FeeEventIDs = append([]billing.FeeEventID(nil), c.FeeEventIDs...)
	return &c, nil
}

func (m *Memory) ListCommissions(_ context.Context, status billing.CommissionStatus) ([]billing.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []billing.Commission
	for _, c := range m.commissions {
		if status == "" || c.Status == status {
			c.FeeEventIDs = append([]billing.FeeEventID(nil), c.FeeEventIDs...)
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) UpdateCommissionStatus(_ context.Context, u billing.CommissionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commissions[u.ID]
	if !ok {
		return billing.ErrNotFound
	}
	if c.Status != u.From {
		return billing.ErrStatusChanged
	}
	c.Status = u.To
	c.UpdatedAt = u.At
	if u.InvoiceID != "" {
		c.InvoiceID = u.InvoiceID
	}
	if u.PaymentReference != "" {
		c.PaymentReference = u.PaymentReference
	}
	m.commissions[u.ID] = c
	return nil
}
