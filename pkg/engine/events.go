package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventType identifies a notification stream entry.
type EventType string

const (
	EventOrderCreated            EventType = "order_created"
	EventOrderCancelled          EventType = "order_cancelled"
	EventOrderFulfilled          EventType = "order_fulfilled"
	EventOrderPartiallyFulfilled EventType = "order_partially_fulfilled"
)

// Event is one entry of the ordered notification stream. Events are emitted
// only after an operation has fully committed; observers never see aborted
// state. The stream is for indexing/UI and is not load-bearing for
// settlement.
type Event struct {
	Type    EventType      `json:"type"`
	Side    Side           `json:"side"`
	OrderID uint64         `json:"orderId"`
	Owner   common.Address `json:"owner"`
	// Counterparty is the accepting caller; zero for create/cancel events.
	Counterparty common.Address `json:"counterparty"`
	Asset        common.Address `json:"asset"`

	// Amount/Value are the quantities this event covers: the full order on
	// create/cancel, the filled portion on (partial) fulfilment.
	Amount    *big.Int `json:"amount"`
	Value     *big.Int `json:"value"`
	UnitPrice *big.Int `json:"unitPrice"`

	Timestamp int64 `json:"timestamp"` // Unix milliseconds
}

// emit hands an event to the OnEvent hook and the journal, in commit order.
func (e *Engine) emit(ev Event) {
	if e.journal != nil {
		if err := e.journal.AppendEvent(ev); err != nil {
			e.log.Warnw("event_journal_failed", "type", ev.Type, "order_id", ev.OrderID, "err", err)
		}
	}
	if e.OnEvent != nil {
		e.OnEvent(ev)
	}
}
