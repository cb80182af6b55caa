package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetLedger moves asset units between accounts on behalf of the engine.
// Implementations are not trusted: they may fail or call back into the
// engine, and every such call runs inside the per-order settle guard.
type AssetLedger interface {
	// TransferFrom pulls amount from owner to recipient under a prior
	// authorization (order creation, buy-order acceptance).
	TransferFrom(asset, owner, recipient common.Address, amount *big.Int) error
	// Transfer pushes amount out of engine custody to recipient.
	Transfer(asset, recipient common.Address, amount *big.Int) error
	BalanceOf(asset, account common.Address) (*big.Int, error)
}

// CurrencyLedger moves native settlement currency. Incoming value arrives
// with the call from the host; the engine only ever pays out of custody.
type CurrencyLedger interface {
	Pay(recipient common.Address, amount *big.Int) error
	// Debit pulls currency from an account back into custody. Used only to
	// reverse a Pay when a later settlement leg fails.
	Debit(from common.Address, amount *big.Int) error
	BalanceOf(account common.Address) (*big.Int, error)
}

// AdminGate authorizes listing management, configuration, and sweeps.
type AdminGate interface {
	IsAdministrator(caller common.Address) bool
}

// SingleAdmin gates on one fixed administrator address.
type SingleAdmin struct {
	Addr common.Address
}

func (g SingleAdmin) IsAdministrator(caller common.Address) bool {
	return caller == g.Addr
}

// Journal persists order snapshots and the event log. Journal failures are
// logged, not propagated: external transfers have already happened by the
// time the journal is written.
type Journal interface {
	SaveOrder(side Side, o *Order) error
	AppendEvent(ev Event) error
}
