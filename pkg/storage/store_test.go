package storage

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/minhopark/escrowbook/pkg/engine"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func testOrder(id uint64) *engine.Order {
	return &engine.Order{
		ID:              id,
		Owner:           common.HexToAddress("0xAA00000000000000000000000000000000000000"),
		Asset:           common.HexToAddress("0x1000000000000000000000000000000000000001"),
		Amount:          big.NewInt(1000),
		Value:           big.NewInt(1000),
		UnitPrice:       new(big.Int).Set(engine.Scale),
		RemainingAmount: big.NewInt(600),
		RemainingValue:  big.NewInt(600),
		Active:          true,
		CreatedAt:       1700000000000,
		UpdatedAt:       1700000001000,
	}
}

func TestSaveLoadOrders(t *testing.T) {
	s, _ := openTestStore(t)

	for id := uint64(0); id < 3; id++ {
		if err := s.SaveOrder(engine.Sell, testOrder(id)); err != nil {
			t.Fatalf("save sell %d: %v", id, err)
		}
	}
	if err := s.SaveOrder(engine.Buy, testOrder(0)); err != nil {
		t.Fatalf("save buy: %v", err)
	}

	// Overwrite one snapshot; the reload must carry the latest state.
	updated := testOrder(1)
	updated.RemainingAmount = big.NewInt(0)
	updated.RemainingValue = big.NewInt(0)
	updated.Active = false
	if err := s.SaveOrder(engine.Sell, updated); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	sells, err := s.LoadOrders(engine.Sell)
	if err != nil {
		t.Fatalf("load sells: %v", err)
	}
	if len(sells) != 3 {
		t.Fatalf("loaded %d sell orders, want 3", len(sells))
	}
	for i, o := range sells {
		if o.ID != uint64(i) {
			t.Errorf("order %d loaded at position %d, want ID order", o.ID, i)
		}
	}
	if sells[1].Active || sells[1].RemainingAmount.Sign() != 0 {
		t.Errorf("overwritten order reloaded stale: %+v", sells[1])
	}
	if sells[0].RemainingValue.Cmp(big.NewInt(600)) != 0 {
		t.Errorf("remaining value = %s, want 600", sells[0].RemainingValue)
	}

	buys, err := s.LoadOrders(engine.Buy)
	if err != nil {
		t.Fatalf("load buys: %v", err)
	}
	if len(buys) != 1 {
		t.Errorf("loaded %d buy orders, want 1", len(buys))
	}
}

func TestEventLogOrder(t *testing.T) {
	s, _ := openTestStore(t)

	types := []engine.EventType{
		engine.EventOrderCreated,
		engine.EventOrderPartiallyFulfilled,
		engine.EventOrderFulfilled,
	}
	for i, typ := range types {
		ev := engine.Event{
			Type:      typ,
			Side:      engine.Sell,
			OrderID:   uint64(i),
			Amount:    big.NewInt(int64(i)),
			Timestamp: 1700000000000 + int64(i),
		}
		if err := s.AppendEvent(ev); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	events, err := s.LoadRecentEvents(2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("loaded %d events, want 2", len(events))
	}
	// Newest first.
	if events[0].Type != engine.EventOrderFulfilled || events[1].Type != engine.EventOrderPartiallyFulfilled {
		t.Errorf("events out of order: %s, %s", events[0].Type, events[1].Type)
	}

	all, err := s.LoadRecentEvents(10)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("loaded %d events, want 3", len(all))
	}
}

// TestEventSeqResumesAcrossReopen: the sequence counter continues after a
// restart instead of overwriting journaled events.
func TestEventSeqResumesAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.AppendEvent(engine.Event{Type: engine.EventOrderCreated, OrderID: uint64(i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if err := s2.AppendEvent(engine.Event{Type: engine.EventOrderCancelled, OrderID: 0}); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	events, err := s2.LoadRecentEvents(10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("loaded %d events after reopen, want 3", len(events))
	}
	if events[0].Type != engine.EventOrderCancelled {
		t.Errorf("newest event = %s, want %s", events[0].Type, engine.EventOrderCancelled)
	}
}
