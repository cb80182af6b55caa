// Package storage journals engine state to Pebble: a snapshot of every order
// keyed by arena position, plus an append-only event log. The journal is for
// recovery and observability — settlement never reads it on the hot path.
package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/minhopark/escrowbook/pkg/engine"
)

// Store implements engine.Journal on a Pebble database.
type Store struct {
	db *pebble.DB

	mu    sync.Mutex
	evSeq uint64 // next event sequence number
}

// Open opens (or creates) the journal at path and resumes the event
// sequence from the last journaled event.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(32 << 20), // 32MB
		MemTableSize:          16 << 20,                  // 16MB
		L0CompactionThreshold: 2,
		MaxOpenFiles:          500,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.resumeEventSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) resumeEventSeq() error {
	prefix := eventPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open event iterator: %w", err)
	}
	defer iter.Close()

	if iter.Last() && iter.Valid() {
		last, err := strconv.ParseUint(string(iter.Key()[len(prefix):]), 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt event key %q: %w", iter.Key(), err)
		}
		s.evSeq = last + 1
	}
	return nil
}

// SaveOrder persists the current snapshot of one order, overwriting any
// previous snapshot. Synced: an order write must survive a crash, since the
// escrow it describes already moved.
func (s *Store) SaveOrder(side engine.Side, o *engine.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(side, o.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save %s order %d: %w", side, o.ID, err)
	}
	return nil
}

// LoadOrders returns all journaled orders of one side in ID order.
func (s *Store) LoadOrders(side engine.Side) ([]*engine.Order, error) {
	prefix := orderPrefix(side)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open order iterator: %w", err)
	}
	defer iter.Close()

	var orders []*engine.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o engine.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("corrupt %s order at %q: %w", side, iter.Key(), err)
		}
		orders = append(orders, &o)
	}
	return orders, nil
}

// AppendEvent journals one notification. NoSync: the event log is an
// observability trail, not settlement state.
func (s *Store) AppendEvent(ev engine.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	s.mu.Lock()
	seq := s.evSeq
	s.evSeq++
	s.mu.Unlock()

	if err := s.db.Set(eventKey(seq), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to append event %d: %w", seq, err)
	}
	return nil
}

// LoadRecentEvents returns the most recent events, newest first.
func (s *Store) LoadRecentEvents(limit int) ([]engine.Event, error) {
	prefix := eventPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open event iterator: %w", err)
	}
	defer iter.Close()

	var events []engine.Event
	for iter.Last(); iter.Valid() && len(events) < limit; iter.Prev() {
		var ev engine.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("corrupt event at %q: %w", iter.Key(), err)
		}
		events = append(events, ev)
	}
	return events, nil
}
