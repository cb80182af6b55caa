package engine

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Scale is the fixed-point denominator for unit prices. A UnitPrice of Scale
// means one currency unit per asset unit. It is also the minimum order
// amount: anything smaller can round to a zero total price.
var Scale = big.NewInt(1e18)

// Side distinguishes the two order arenas.
type Side int8

const (
	Sell Side = iota
	Buy
)

func (s Side) String() string {
	switch s {
	case Sell:
		return "sell"
	case Buy:
		return "buy"
	default:
		return "unknown"
	}
}

func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "sell":
		*s = Sell
	case "buy":
		*s = Buy
	default:
		return fmt.Errorf("unknown side %q", str)
	}
	return nil
}

// Order is an escrow-backed order. For a sell order, Amount is the asset
// quantity locked in custody and Value the currency owed to the seller. For a
// buy order, Amount is the asset quantity sought and Value the currency
// locked in custody. Orders are never deleted; ID is the permanent position
// in the arena.
type Order struct {
	ID    uint64         `json:"id"`
	Owner common.Address `json:"owner"`
	Asset common.Address `json:"asset"`

	Amount    *big.Int `json:"amount"`    // original asset amount
	Value     *big.Int `json:"value"`     // original currency value
	UnitPrice *big.Int `json:"unitPrice"` // currency per asset unit, Scale-fixed

	RemainingAmount *big.Int `json:"remainingAmount"`
	RemainingValue  *big.Int `json:"remainingValue"`

	Active bool `json:"active"`

	CreatedAt int64 `json:"createdAt"` // Unix milliseconds
	UpdatedAt int64 `json:"updatedAt"`

	// settling guards the order while external transfers for an in-flight
	// settlement or cancellation run. Not persisted.
	settling bool
}

// totalPrice computes amount × unitPrice / Scale with floor division.
func totalPrice(amount, unitPrice *big.Int) *big.Int {
	p := new(big.Int).Mul(amount, unitPrice)
	return p.Quo(p, Scale)
}

// checkInvariant verifies value conservation after a mutation. Floor division
// guarantees RemainingValue >= RemainingAmount × UnitPrice / Scale, with the
// surplus bounded by one currency unit per fill; anything outside that means
// the bookkeeping is corrupted.
func (o *Order) checkInvariant() error {
	if o.RemainingAmount.Sign() < 0 || o.RemainingValue.Sign() < 0 {
		return fmt.Errorf("%w: order %d has negative remainder (amount=%s value=%s)",
			ErrInvariantViolated, o.ID, o.RemainingAmount, o.RemainingValue)
	}
	expected := totalPrice(o.RemainingAmount, o.UnitPrice)
	if o.RemainingValue.Cmp(expected) < 0 {
		return fmt.Errorf("%w: order %d remaining value %s below %s",
			ErrInvariantViolated, o.ID, o.RemainingValue, expected)
	}
	return nil
}

// Copy returns a detached snapshot safe to hand to callers.
func (o *Order) Copy() Order {
	c := *o
	c.Amount = new(big.Int).Set(o.Amount)
	c.Value = new(big.Int).Set(o.Value)
	c.UnitPrice = new(big.Int).Set(o.UnitPrice)
	c.RemainingAmount = new(big.Int).Set(o.RemainingAmount)
	c.RemainingValue = new(big.Int).Set(o.RemainingValue)
	c.settling = false
	return c
}
