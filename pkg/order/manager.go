package order

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"blinktrade/pkg/core"
)

// Status is the FIX OrdStatus of a tracked order.
type Status string

// Order statuses.
const (
	StatusNew             Status = "0"
	StatusPartiallyFilled Status = "1"
	StatusFilled          Status = "2"
	StatusCanceled        Status = "4"
	StatusRejected        Status = "8"
)

// IsTerminal reports whether no further execution reports are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusCanceled:
		return "canceled"
	case StatusRejected:
		return "rejected"
	}
	return "unknown(" + string(s) + ")"
}

// Tracked is the local view of one order, folded from its execution reports.
type Tracked struct {
	OrderID   int64
	ClOrdID   string
	Symbol    string
	Side      core.Side
	Status    Status
	Price     core.Satoshi
	OrderQty  core.Satoshi
	CumQty    core.Satoshi
	LeavesQty core.Satoshi
	AvgPx     core.Satoshi
	UpdatedAt time.Time
}

// ReportSource delivers execution reports. *blinktrade.WSTransport satisfies it.
type ReportSource interface {
	ExecutionReport(fn func(*core.ExecutionReport)) (remove func())
}

// Filter selects tracked orders. Zero fields match everything.
type Filter struct {
	Symbol string
	Side   core.Side
	Status Status
}

// Matches returns true if the order satisfies all non-zero filter criteria.
func (f Filter) Matches(o *Tracked) bool {
	if f.Symbol != "" && o.Symbol != f.Symbol {
		return false
	}
	if f.Side != "" && o.Side != f.Side {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	return true
}

// Manager keeps the state of the session's orders from execution reports and
// fans updates out to subscribers.
type Manager struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	orders   map[int64]*Tracked
	clOrdIDs map[string]int64

	subsMu sync.RWMutex
	subs   []chan Tracked
}

// NewManager creates an empty manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		logger:   logger,
		orders:   make(map[int64]*Tracked),
		clOrdIDs: make(map[string]int64),
	}
}

// Attach feeds every execution report of src into the manager until the
// returned func is called.
func (m *Manager) Attach(src ReportSource) (detach func()) {
	return src.ExecutionReport(func(r *core.ExecutionReport) {
		if err := m.Apply(r); err != nil {
			m.logger.Warn().Err(err).Int64("order_id", r.OrderID).Msg("execution report ignored")
		}
	})
}

// Apply folds one execution report into the tracked state.
func (m *Manager) Apply(r *core.ExecutionReport) error {
	if r.OrderID == 0 {
		// rejected before the exchange assigned an id
		return nil
	}
	status := Status(r.OrdStatus)
	if status == "" {
		status = statusFromExecType(r.ExecType)
	}

	m.mu.Lock()
	o, ok := m.orders[r.OrderID]
	if !ok {
		o = &Tracked{OrderID: r.OrderID, Status: status}
		m.orders[r.OrderID] = o
	}
	if !isValidTransition(o.Status, status) {
		from := o.Status
		m.mu.Unlock()
		return fmt.Errorf("invalid status transition: %s -> %s", from, status)
	}

	o.Status = status
	if r.ClOrdID != "" {
		o.ClOrdID = r.ClOrdID
		m.clOrdIDs[r.ClOrdID] = r.OrderID
	}
	if r.Symbol != "" {
		o.Symbol = r.Symbol
	}
	if r.Side != "" {
		o.Side = r.Side
	}
	if r.Price != 0 {
		o.Price = r.Price
	}
	if r.OrderQty != 0 {
		o.OrderQty = r.OrderQty
	}
	o.CumQty = r.CumQty
	o.LeavesQty = r.LeavesQty
	if r.AvgPx != 0 {
		o.AvgPx = r.AvgPx
	}
	o.UpdatedAt = time.Now()
	snapshot := *o
	m.mu.Unlock()

	m.notify(snapshot)
	return nil
}

func statusFromExecType(t core.ExecType) Status {
	switch t {
	case core.ExecPartial:
		return StatusPartiallyFilled
	case core.ExecExecution:
		return StatusFilled
	case core.ExecCanceled:
		return StatusCanceled
	case core.ExecRejected:
		return StatusRejected
	}
	return StatusNew
}

// Get returns a copy of the order with the exchange id orderID.
func (m *Manager) Get(orderID int64) (Tracked, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[orderID]
	if !ok {
		return Tracked{}, false
	}
	return *o, true
}

// GetByClientID returns a copy of the order with the client id clOrdID.
func (m *Manager) GetByClientID(clOrdID string) (Tracked, bool) {
	m.mu.RLock()
	id, ok := m.clOrdIDs[clOrdID]
	m.mu.RUnlock()
	if !ok {
		return Tracked{}, false
	}
	return m.Get(id)
}

// Orders returns the orders matching filter, sorted by order id.
func (m *Manager) Orders(filter Filter) []Tracked {
	m.mu.RLock()
	result := make([]Tracked, 0, len(m.orders))
	for _, o := range m.orders {
		if filter.Matches(o) {
			result = append(result, *o)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(result, func(a, b Tracked) int {
		switch {
		case a.OrderID < b.OrderID:
			return -1
		case a.OrderID > b.OrderID:
			return 1
		}
		return 0
	})
	return result
}

// Open returns the orders that are not in a terminal state.
func (m *Manager) Open() []Tracked {
	all := m.Orders(Filter{})
	return slices.DeleteFunc(all, func(o Tracked) bool {
		return o.Status.IsTerminal()
	})
}

// Subscribe returns a channel of order updates. It is closed when ctx is done.
func (m *Manager) Subscribe(ctx context.Context) <-chan Tracked {
	ch := make(chan Tracked, 100)

	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()

	context.AfterFunc(ctx, func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if i := slices.Index(m.subs, ch); i >= 0 {
			m.subs = slices.Delete(m.subs, i, i+1)
			close(ch)
		}
	})
	return ch
}

func (m *Manager) notify(o Tracked) {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()

	for _, ch := range m.subs {
		select {
		case ch <- o:
		default:
			m.logger.Warn().Int64("order_id", o.OrderID).Msg("order subscriber channel full, update dropped")
		}
	}
}

func isValidTransition(from, to Status) bool {
	if from == to {
		return true
	}

	validTransitions := map[Status][]Status{
		StatusNew: {
			StatusPartiallyFilled,
			StatusFilled,
			StatusCanceled,
			StatusRejected,
		},
		StatusPartiallyFilled: {
			StatusFilled,
			StatusCanceled,
		},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return false
	}
	return slices.Contains(allowed, to)
}
