package engine

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
)

func TestTotalPriceFloors(t *testing.T) {
	// 3 units at price 1/3 of a currency unit: 3e18 × (Scale/3) / Scale.
	third := new(big.Int).Quo(Scale, big.NewInt(3)) // 333...333, floored
	amount := new(big.Int).Mul(big.NewInt(3), Scale)

	got := totalPrice(amount, third)
	want := new(big.Int).Mul(big.NewInt(3), third)
	if got.Cmp(want) != 0 {
		t.Errorf("totalPrice = %s, want %s", got, want)
	}

	// One scaled unit at unit price 1 wei prices to exactly 1.
	if got := totalPrice(Scale, big.NewInt(1)); got.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("totalPrice(Scale, 1) = %s, want 1", got)
	}
}

func TestOrderInvariant(t *testing.T) {
	o := &Order{
		ID:              3,
		UnitPrice:       new(big.Int).Set(Scale),
		RemainingAmount: new(big.Int).Mul(big.NewInt(10), Scale),
		RemainingValue:  new(big.Int).Mul(big.NewInt(10), Scale),
	}
	if err := o.checkInvariant(); err != nil {
		t.Errorf("balanced order: %v", err)
	}

	// Dust above the floor price is fine.
	o.RemainingValue.Add(o.RemainingValue, big.NewInt(7))
	if err := o.checkInvariant(); err != nil {
		t.Errorf("order with dust: %v", err)
	}

	// Value below the floor price is corruption.
	o.RemainingValue = new(big.Int).Sub(totalPrice(o.RemainingAmount, o.UnitPrice), big.NewInt(1))
	if err := o.checkInvariant(); !errors.Is(err, ErrInvariantViolated) {
		t.Errorf("undervalued order err = %v, want ErrInvariantViolated", err)
	}

	o.RemainingValue = big.NewInt(-1)
	if err := o.checkInvariant(); !errors.Is(err, ErrInvariantViolated) {
		t.Errorf("negative remainder err = %v, want ErrInvariantViolated", err)
	}
}

func TestSideJSON(t *testing.T) {
	for _, s := range []Side{Sell, Buy} {
		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal %v: %v", s, err)
		}
		var back Side
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != s {
			t.Errorf("round trip %v -> %s -> %v", s, data, back)
		}
	}

	var s Side
	if err := json.Unmarshal([]byte(`"short"`), &s); err == nil {
		t.Error("unknown side should not unmarshal")
	}
}

func TestOrderStoreIDs(t *testing.T) {
	s := NewOrderStore()
	for i := 0; i < 3; i++ {
		id := s.Append(&Order{
			Amount:          big.NewInt(1),
			Value:           big.NewInt(1),
			UnitPrice:       big.NewInt(1),
			RemainingAmount: big.NewInt(1),
			RemainingValue:  big.NewInt(1),
		})
		if id != uint64(i) {
			t.Errorf("Append id = %d, want %d", id, i)
		}
	}
	if s.Len() != 3 {
		t.Errorf("Len = %d, want 3", s.Len())
	}
	if _, err := s.Get(3); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("Get(3) err = %v, want ErrOrderNotFound", err)
	}

	// Snapshots are detached.
	snap := s.Snapshot()
	snap[0].RemainingAmount.SetInt64(99)
	got, _ := s.Get(0)
	if got.RemainingAmount.Int64() != 1 {
		t.Error("mutating a snapshot leaked into the store")
	}
}

func TestOrderStoreRestore(t *testing.T) {
	mk := func(id uint64) *Order {
		return &Order{ID: id, Amount: big.NewInt(1), Value: big.NewInt(1),
			UnitPrice: big.NewInt(1), RemainingAmount: big.NewInt(1), RemainingValue: big.NewInt(1)}
	}

	s := NewOrderStore()
	if err := s.Restore([]*Order{mk(0), mk(1)}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	if err := s.Restore([]*Order{mk(0)}); err == nil {
		t.Error("restore into non-empty store should fail")
	}

	s2 := NewOrderStore()
	if err := s2.Restore([]*Order{mk(0), mk(2)}); err == nil {
		t.Error("restore with an ID gap should fail")
	}
}
