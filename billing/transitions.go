/*
transitions.go - Status transition tables

PURPOSE:
  Every status change in billing is decided by one table consulted by one
  function. Adding a state or an edge is a table edit.

COMMISSION:
  accrued           -> invoice_requested, cancelled
  invoice_requested -> invoiced, cancelled
  invoiced          -> paid, cancelled
  paid              -> (terminal)
  cancelled         -> (terminal)

FEE EVENT:
  accrued  -> invoiced (invoice assembly only), cancelled
  invoiced -> (terminal)
  cancelled-> (terminal)

RULES:
  - Moving to the current status is a successful no-op (idempotent resubmit).
  - Anything else not listed fails with *InvalidTransitionError naming both
    statuses.
  - A status with no row in the table (e.g. invoice_submitted) has no
    outgoing edges.
*/
package billing

// TransitionTable maps a status to the statuses it may move to.
type TransitionTable[S ~string] struct {
	entity string
	edges  map[S][]S
}

// NewTransitionTable builds a table. The edges map is copied.
func NewTransitionTable[S ~string](entity string, edges map[S][]S) TransitionTable[S] {
	cp := make(map[S][]S, len(edges))
	for from, tos := range edges {
		cp[from] = append([]S(nil), tos...)
	}
	return TransitionTable[S]{entity: entity, edges: cp}
}

// Check decides a transition. It returns changed=false with no error for a
// same-status request, changed=true for an allowed edge, and an
// *InvalidTransitionError otherwise.
func (t TransitionTable[S]) Check(from, to S) (changed bool, err error) {
	if from == to {
		return false, nil
	}
	for _, allowed := range t.edges[from] {
		if allowed == to {
			return true, nil
		}
	}
	return false, &InvalidTransitionError{Entity: t.entity, From: string(from), To: string(to)}
}

// Allowed returns the statuses reachable from from in one step.
func (t TransitionTable[S]) Allowed(from S) []S {
	return append([]S(nil), t.edges[from]...)
}

// IsTerminal reports whether from has no outgoing edges.
func (t TransitionTable[S]) IsTerminal(from S) bool {
	return len(t.edges[from]) == 0
}

var commissionTransitions = NewTransitionTable("commission", map[CommissionStatus][]CommissionStatus{
	CommissionAccrued:          {CommissionInvoiceRequested, CommissionCancelled},
	CommissionInvoiceRequested: {CommissionInvoiced, CommissionCancelled},
	CommissionInvoiced:         {CommissionPaid, CommissionCancelled},
	CommissionPaid:             {},
	CommissionCancelled:        {},
})

var feeEventTransitions = NewTransitionTable("fee event", map[FeeEventStatus][]FeeEventStatus{
	FeeEventAccrued:   {FeeEventInvoiced, FeeEventCancelled},
	FeeEventInvoiced:  {},
	FeeEventCancelled: {},
})

// CommissionTransitions returns the commission transition table.
func CommissionTransitions() TransitionTable[CommissionStatus] { return commissionTransitions }

// FeeEventTransitions returns the fee event transition table.
func FeeEventTransitions() TransitionTable[FeeEventStatus] { return feeEventTransitions }

