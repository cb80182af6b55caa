package engine

import (
	"fmt"
	"sync"
)

// OrderStore is one append-only arena of orders. An order's ID is its index
// in the arena and never changes; closed orders stay in place as immutable
// history. All reads and mutations of order records go through the store
// mutex, which is held only for in-memory work — never across external
// ledger calls.
type OrderStore struct {
	mu     sync.Mutex
	orders []*Order
}

func NewOrderStore() *OrderStore {
	return &OrderStore{}
}

// Append assigns the next sequential ID and adds the order to the arena.
func (s *OrderStore) Append(o *Order) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	o.ID = uint64(len(s.orders))
	s.orders = append(s.orders, o)
	return o.ID
}

// Restore reloads journaled orders at boot. Orders must arrive in ID order
// with no gaps; the arena must be empty.
func (s *OrderStore) Restore(orders []*Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.orders) != 0 {
		return fmt.Errorf("restore into non-empty store (%d orders)", len(s.orders))
	}
	for i, o := range orders {
		if o.ID != uint64(i) {
			return fmt.Errorf("restore gap: order %d at position %d", o.ID, i)
		}
	}
	s.orders = orders
	return nil
}

// update runs fn on the order with the given ID under the store mutex.
// fn must not call out of the engine.
func (s *OrderStore) update(id uint64, fn func(*Order) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id >= uint64(len(s.orders)) {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	return fn(s.orders[id])
}

// Get returns a detached snapshot of one order.
func (s *OrderStore) Get(id uint64) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id >= uint64(len(s.orders)) {
		return Order{}, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	return s.orders[id].Copy(), nil
}

// Snapshot returns detached copies of every order in the arena.
func (s *OrderStore) Snapshot() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Order, len(s.orders))
	for i, o := range s.orders {
		out[i] = o.Copy()
	}
	return out
}

// Len returns the number of orders ever created in this arena.
func (s *OrderStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}
