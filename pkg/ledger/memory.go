// Package ledger provides in-memory implementations of the engine's ledger
// adapter interfaces. The dev node runs on these; production hosts inject
// adapters backed by real asset and currency ledgers.
package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryAssetLedger tracks per-asset account balances in memory. Transfers
// initiated by the engine are treated as authorized; a production adapter
// would enforce its own approval model.
type MemoryAssetLedger struct {
	mu       sync.Mutex
	custody  common.Address
	balances map[common.Address]map[common.Address]*big.Int // asset -> account -> balance
}

func NewMemoryAssetLedger(custody common.Address) *MemoryAssetLedger {
	return &MemoryAssetLedger{
		custody:  custody,
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits an account out of thin air. Dev faucet.
func (l *MemoryAssetLedger) Mint(asset, account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(asset, account, amount)
}

func (l *MemoryAssetLedger) credit(asset, account common.Address, amount *big.Int) {
	accounts := l.balances[asset]
	if accounts == nil {
		accounts = make(map[common.Address]*big.Int)
		l.balances[asset] = accounts
	}
	bal := accounts[account]
	if bal == nil {
		bal = new(big.Int)
		accounts[account] = bal
	}
	bal.Add(bal, amount)
}

func (l *MemoryAssetLedger) debit(asset, account common.Address, amount *big.Int) error {
	bal := l.balances[asset][account]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient %s balance for %s: have %s, need %s",
			asset.Hex(), account.Hex(), bal, amount)
	}
	bal.Sub(bal, amount)
	return nil
}

func (l *MemoryAssetLedger) TransferFrom(asset, owner, recipient common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(asset, owner, amount); err != nil {
		return err
	}
	l.credit(asset, recipient, amount)
	return nil
}

func (l *MemoryAssetLedger) Transfer(asset, recipient common.Address, amount *big.Int) error {
	return l.TransferFrom(asset, l.custody, recipient, amount)
}

func (l *MemoryAssetLedger) BalanceOf(asset, account common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[asset][account]
	if bal == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(bal), nil
}

// MemoryBank tracks native-currency balances in memory. The host (here, the
// API layer) debits a caller into custody when a payable operation carries
// value, mirroring how a runtime delivers value with a call.
type MemoryBank struct {
	mu       sync.Mutex
	custody  common.Address
	balances map[common.Address]*big.Int
}

func NewMemoryBank(custody common.Address) *MemoryBank {
	return &MemoryBank{
		custody:  custody,
		balances: make(map[common.Address]*big.Int),
	}
}

// Deposit credits an account. Dev faucet.
func (b *MemoryBank) Deposit(account common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(account, amount)
}

func (b *MemoryBank) credit(account common.Address, amount *big.Int) {
	bal := b.balances[account]
	if bal == nil {
		bal = new(big.Int)
		b.balances[account] = bal
	}
	bal.Add(bal, amount)
}

func (b *MemoryBank) move(from, to common.Address, amount *big.Int) error {
	bal := b.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient currency for %s: have %s, need %s", from.Hex(), bal, amount)
	}
	bal.Sub(bal, amount)
	b.credit(to, amount)
	return nil
}

// Debit moves value from a caller into custody, as the host does when a
// payable call carries value.
func (b *MemoryBank) Debit(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(from, b.custody, amount)
}

// Pay moves value out of custody to a recipient.
func (b *MemoryBank) Pay(recipient common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(b.custody, recipient, amount)
}

func (b *MemoryBank) BalanceOf(account common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balances[account]
	if bal == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(bal), nil
}
