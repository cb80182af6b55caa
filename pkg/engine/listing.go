package engine

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ListingRegistry tracks which assets may be traded. Creation and acceptance
// both re-check the flag; delisting does not touch already-open orders, it
// only blocks new creation and acceptance until the asset is re-listed.
// Cancellation is never gated on listing so owners can always recover escrow.
type ListingRegistry struct {
	mu     sync.RWMutex
	listed map[common.Address]bool
}

func NewListingRegistry() *ListingRegistry {
	return &ListingRegistry{
		listed: make(map[common.Address]bool),
	}
}

// List marks an asset as tradable.
func (r *ListingRegistry) List(asset common.Address) error {
	if asset == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidAsset)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listed[asset] {
		return fmt.Errorf("%w: %s", ErrAlreadyListed, asset.Hex())
	}
	r.listed[asset] = true
	return nil
}

// Delist marks an asset as no longer tradable.
func (r *ListingRegistry) Delist(asset common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.listed[asset] {
		return fmt.Errorf("%w: %s", ErrNotListed, asset.Hex())
	}
	r.listed[asset] = false
	return nil
}

// IsListed reports whether an asset is currently tradable.
func (r *ListingRegistry) IsListed(asset common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listed[asset]
}

// Assets returns a snapshot of all currently listed assets.
func (r *ListingRegistry) Assets() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assets := make([]common.Address, 0, len(r.listed))
	for asset, ok := range r.listed {
		if ok {
			assets = append(assets, asset)
		}
	}
	return assets
}
