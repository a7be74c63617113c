// Package store provides in-memory implementations of the dues contracts.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/quarter-dues/dues"
)

// =============================================================================
// MEMORY STORE - In-memory directory and ledgers (for testing/dev)
// =============================================================================

// Memory implements dues.DirectoryWriter, dues.BillingLedger and
// dues.PaymentLedger.
type Memory struct {
	mu            sync.RWMutex
	occupants     map[dues.OccupantID]dues.Occupant
	bills         map[billKey]dues.BillingRecord
	confirmations map[dues.ReferenceID][]dues.PaymentConfirmation
	idempotency   map[string]bool
}

type billKey struct {
	OccupantID dues.OccupantID
	Period     dues.Period
}

func NewMemory() *Memory {
	return &Memory{
		occupants:     make(map[dues.OccupantID]dues.Occupant),
		bills:         make(map[billKey]dues.BillingRecord),
		confirmations: make(map[dues.ReferenceID][]dues.PaymentConfirmation),
		idempotency:   make(map[string]bool),
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

// FindByReference prefers the OCCUPIED record, then the latest start, then
// the lowest id, when a reference appears more than once.
func (m *Memory) FindByReference(_ context.Context, ref dues.ReferenceID) (*dues.Occupant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ref == "" {
		return nil, nil
	}
	var best *dues.Occupant
	for _, o := range m.occupants {
		if o.ReferenceID != ref {
			continue
		}
		if best == nil || preferred(o, *best) {
			occupant := o
			best = &occupant
		}
	}
	return best, nil
}

func preferred(a, b dues.Occupant) bool {
	aOcc, bOcc := a.Status == dues.StatusOccupied, b.Status == dues.StatusOccupied
	if aOcc != bOcc {
		return aOcc
	}
	if !a.StartDate.Equal(b.StartDate) {
		return a.StartDate.After(b.StartDate)
	}
	return a.ID < b.ID
}

func (m *Memory) GetOccupant(_ context.Context, id dues.OccupantID) (*dues.Occupant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.occupants[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *Memory) ListOccupants(_ context.Context) ([]dues.Occupant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]dues.Occupant, 0, len(m.occupants))
	for _, o := range m.occupants {
		result = append(result, o)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SaveOccupants upserts by occupant id.
func (m *Memory) SaveOccupants(_ context.Context, occupants []dues.Occupant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range occupants {
		m.occupants[o.ID] = o
	}
	return nil
}

// =============================================================================
// BILLING LEDGER
// =============================================================================

func (m *Memory) BillsFor(_ context.Context, id dues.OccupantID) ([]dues.BillingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []dues.BillingRecord
	for k, b := range m.bills {
		if k.OccupantID == id {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Period.Before(result[j].Period) })
	return result, nil
}

func (m *Memory) Bill(_ context.Context, id dues.OccupantID, period dues.Period) (*dues.BillingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bills[billKey{OccupantID: id, Period: period}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) BillsForPeriod(_ context.Context, period dues.Period) ([]dues.BillingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []dues.BillingRecord
	for k, b := range m.bills {
		if k.Period == period {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OccupantID < result[j].OccupantID })
	return result, nil
}

// PutBills overwrites by (occupant, period). Last writer wins.
func (m *Memory) PutBills(_ context.Context, bills []dues.BillingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range bills {
		m.bills[billKey{OccupantID: b.OccupantID, Period: b.Period}] = b
	}
	return nil
}

// =============================================================================
// PAYMENT LEDGER (append-only)
// =============================================================================

func (m *Memory) ConfirmationsFor(_ context.Context, ref dues.ReferenceID) ([]dues.PaymentConfirmation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]dues.PaymentConfirmation, len(m.confirmations[ref]))
	copy(result, m.confirmations[ref])
	return result, nil
}

// AppendConfirmations appends, skipping known idempotency keys.
func (m *Memory) AppendConfirmations(_ context.Context, confirmations []dues.PaymentConfirmation) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	written := 0
	for _, c := range confirmations {
		if c.IdempotencyKey != "" && m.idempotency[c.IdempotencyKey] {
			continue
		}
		m.insertLocked(c)
		if c.IdempotencyKey != "" {
			m.idempotency[c.IdempotencyKey] = true
		}
		written++
	}
	return written, nil
}

// insertLocked keeps each reference's log ordered by period, then time.
func (m *Memory) insertLocked(c dues.PaymentConfirmation) {
	log := m.confirmations[c.ReferenceID]

	i := sort.Search(len(log), func(i int) bool {
		if cmp := log[i].Period.Compare(c.Period); cmp != 0 {
			return cmp > 0
		}
		return log[i].ConfirmedAt.After(c.ConfirmedAt)
	})

	log = append(log, dues.PaymentConfirmation{})
	copy(log[i+1:], log[i:])
	log[i] = c
	m.confirmations[c.ReferenceID] = log
}
