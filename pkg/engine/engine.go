package engine

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// feeDenominator: fee percent is expressed per-mille (50 = 5%).
const feeDenominator = 1000

// Config seeds the runtime-settable engine parameters and the fixed custody
// and fee-recipient accounts.
type Config struct {
	FeePerMille  int64          // 0..1000
	MaxBatchSize int            // 0..100
	Custody      common.Address // account holding escrowed value on the ledgers
	FeeRecipient common.Address // receives the platform fee on every settlement
}

// Engine is the order-book escrow and settlement core. It owns the listing
// registry and both order arenas, and drives the injected ledger adapters to
// move value. Every settlement and cancellation runs under a per-order
// guard: bookkeeping is mutated before external transfers are issued, a
// nested call into the same order fails with ErrReentrant, and a transfer
// failure reverses the legs that already executed before restoring the
// bookkeeping. If a reversal itself fails the order is frozen under its
// guard and the call returns ErrInvariantViolated. Independent orders settle
// concurrently.
type Engine struct {
	cfgMu       sync.RWMutex
	feePerMille int64
	maxBatch    int

	listings *ListingRegistry
	sells    *OrderStore
	buys     *OrderStore

	assets   AssetLedger
	currency CurrencyLedger
	gate     AdminGate

	custody      common.Address
	feeRecipient common.Address

	journal Journal
	log     *zap.SugaredLogger

	// OnEvent receives every committed notification in order. Set before the
	// engine starts serving operations.
	OnEvent func(Event)
}

// New builds an engine around the given ledger adapters and admin gate.
// journal may be nil (no persistence); log may be nil.
func New(cfg Config, assets AssetLedger, currency CurrencyLedger, gate AdminGate, journal Journal, log *zap.SugaredLogger) (*Engine, error) {
	if assets == nil || currency == nil || gate == nil {
		return nil, fmt.Errorf("%w: nil ledger adapter or admin gate", ErrInvalidInput)
	}
	if cfg.FeePerMille < 0 || cfg.FeePerMille > feeDenominator {
		return nil, fmt.Errorf("%w: fee %d out of range [0,%d]", ErrInvalidInput, cfg.FeePerMille, feeDenominator)
	}
	if cfg.MaxBatchSize < 0 || cfg.MaxBatchSize > 100 {
		return nil, fmt.Errorf("%w: batch size limit %d out of range [0,100]", ErrInvalidInput, cfg.MaxBatchSize)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Engine{
		feePerMille:  cfg.FeePerMille,
		maxBatch:     cfg.MaxBatchSize,
		listings:     NewListingRegistry(),
		sells:        NewOrderStore(),
		buys:         NewOrderStore(),
		assets:       assets,
		currency:     currency,
		gate:         gate,
		custody:      cfg.Custody,
		feeRecipient: cfg.FeeRecipient,
		journal:      journal,
		log:          log,
	}, nil
}

// Restore reloads journaled orders into the arenas. Call before serving.
func (e *Engine) Restore(sells, buys []*Order) error {
	if err := e.sells.Restore(sells); err != nil {
		return fmt.Errorf("restore sell orders: %w", err)
	}
	if err := e.buys.Restore(buys); err != nil {
		return fmt.Errorf("restore buy orders: %w", err)
	}
	return nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// ==============================
// Listing management
// ==============================

func (e *Engine) requireAdmin(caller common.Address) error {
	if !e.gate.IsAdministrator(caller) {
		return fmt.Errorf("%w: %s is not the administrator", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// ListAsset marks an asset tradable. Administrative.
func (e *Engine) ListAsset(caller, asset common.Address) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.listings.List(asset); err != nil {
		return err
	}
	e.log.Infow("asset_listed", "asset", asset.Hex())
	return nil
}

// DelistAsset marks an asset untradable. Open orders for the asset are left
// in place: unacceptable while delisted, still cancellable by their owners.
func (e *Engine) DelistAsset(caller, asset common.Address) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.listings.Delist(asset); err != nil {
		return err
	}
	e.log.Infow("asset_delisted", "asset", asset.Hex())
	return nil
}

func (e *Engine) IsListed(asset common.Address) bool {
	return e.listings.IsListed(asset)
}

func (e *Engine) ListedAssets() []common.Address {
	return e.listings.Assets()
}

// ==============================
// Order creation
// ==============================

func (e *Engine) validateNewOrder(asset common.Address, amount, unitPrice *big.Int) error {
	if !e.listings.IsListed(asset) {
		return fmt.Errorf("%w: %s", ErrNotListed, asset.Hex())
	}
	if amount == nil || amount.Sign() <= 0 || unitPrice == nil || unitPrice.Sign() <= 0 {
		return fmt.Errorf("%w: amount and unit price must be positive", ErrInvalidInput)
	}
	// Sub-scale amounts can price to zero under floor division.
	if amount.Cmp(Scale) < 0 {
		return fmt.Errorf("%w: amount %s below minimum unit %s", ErrInvalidInput, amount, Scale)
	}
	return nil
}

// CreateSellOrder escrows amount asset units from the caller and opens a
// sell order asking unitPrice currency per asset unit. Returns the order ID.
func (e *Engine) CreateSellOrder(caller, asset common.Address, amount, unitPrice *big.Int) (uint64, error) {
	if err := e.validateNewOrder(asset, amount, unitPrice); err != nil {
		return 0, err
	}
	total := totalPrice(amount, unitPrice)

	if err := e.assets.TransferFrom(asset, caller, e.custody, amount); err != nil {
		return 0, fmt.Errorf("%w: escrow %s of %s: %v", ErrTransferFailed, amount, asset.Hex(), err)
	}

	now := nowMillis()
	o := &Order{
		Owner:           caller,
		Asset:           asset,
		Amount:          new(big.Int).Set(amount),
		Value:           total,
		UnitPrice:       new(big.Int).Set(unitPrice),
		RemainingAmount: new(big.Int).Set(amount),
		RemainingValue:  new(big.Int).Set(total),
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	id := e.sells.Append(o)
	e.persist(Sell, id)
	e.log.Infow("sell_order_created", "id", id, "owner", caller.Hex(), "asset", asset.Hex(), "amount", amount.String(), "total", total.String())
	e.emit(Event{
		Type: EventOrderCreated, Side: Sell, OrderID: id,
		Owner: caller, Asset: asset,
		Amount: new(big.Int).Set(amount), Value: new(big.Int).Set(total),
		UnitPrice: new(big.Int).Set(unitPrice), Timestamp: now,
	})
	return id, nil
}

// CreateBuyOrder escrows native currency equal to the total price and opens
// a buy order seeking amount asset units. value is the currency delivered
// with the call by the host and must match the total price exactly.
func (e *Engine) CreateBuyOrder(caller, asset common.Address, amount, unitPrice, value *big.Int) (uint64, error) {
	if err := e.validateNewOrder(asset, amount, unitPrice); err != nil {
		return 0, err
	}
	total := totalPrice(amount, unitPrice)
	if value == nil || value.Cmp(total) != 0 {
		return 0, fmt.Errorf("%w: need exactly %s, got %s", ErrIncorrectValue, total, bigOrZero(value))
	}

	now := nowMillis()
	o := &Order{
		Owner:           caller,
		Asset:           asset,
		Amount:          new(big.Int).Set(amount),
		Value:           total,
		UnitPrice:       new(big.Int).Set(unitPrice),
		RemainingAmount: new(big.Int).Set(amount),
		RemainingValue:  new(big.Int).Set(total),
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	id := e.buys.Append(o)
	e.persist(Buy, id)
	e.log.Infow("buy_order_created", "id", id, "owner", caller.Hex(), "asset", asset.Hex(), "amount", amount.String(), "total", total.String())
	e.emit(Event{
		Type: EventOrderCreated, Side: Buy, OrderID: id,
		Owner: caller, Asset: asset,
		Amount: new(big.Int).Set(amount), Value: new(big.Int).Set(total),
		UnitPrice: new(big.Int).Set(unitPrice), Timestamp: now,
	})
	return id, nil
}

// ==============================
// Settlement
// ==============================

// fill is the in-flight state of one settlement: the computed amounts plus
// everything needed to run transfers, roll back, or finalize.
type fill struct {
	side  Side
	store *OrderStore
	id    uint64

	owner     common.Address
	asset     common.Address
	unitPrice *big.Int

	amount  *big.Int // asset units settled
	cost    *big.Int // currency charged to the accepting side
	fee     *big.Int // platform cut of cost
	payment *big.Int // cost - fee, paid to the selling side

	closed bool // order fully filled by this settlement

	// Completed transfer legs, so a failed settlement can reverse exactly
	// what already executed.
	assetMoved bool
	sellerPaid bool
	feePaid    bool
}

// prepareFill validates an acceptance, computes cost/fee/payment, and
// mutates the order under its settle guard — all before any external
// transfer runs, so a reentrant observer sees post-mutation state.
// budget, if non-nil, is checked against the computed cost before mutation.
func (e *Engine) prepareFill(store *OrderStore, side Side, id uint64, amount *big.Int, budget func(cost *big.Int) error) (*fill, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: settlement amount must be positive", ErrInvalidInput)
	}
	feePct := e.FeePerMille()

	f := &fill{side: side, store: store, id: id, amount: new(big.Int).Set(amount)}
	err := store.update(id, func(o *Order) error {
		if o.settling {
			return fmt.Errorf("%w: %s order %d is mid-settlement", ErrReentrant, side, id)
		}
		if !o.Active {
			return fmt.Errorf("%w: %s order %d", ErrOrderInactive, side, id)
		}
		if !e.listings.IsListed(o.Asset) {
			return fmt.Errorf("%w: %s", ErrNotListed, o.Asset.Hex())
		}
		if amount.Cmp(o.RemainingAmount) > 0 {
			return fmt.Errorf("%w: amount %s exceeds remaining %s", ErrInvalidInput, amount, o.RemainingAmount)
		}

		f.owner = o.Owner
		f.asset = o.Asset
		f.unitPrice = new(big.Int).Set(o.UnitPrice)
		f.cost = totalPrice(amount, o.UnitPrice)
		f.fee = new(big.Int).Mul(f.cost, big.NewInt(feePct))
		f.fee.Quo(f.fee, big.NewInt(feeDenominator))
		f.payment = new(big.Int).Sub(f.cost, f.fee)

		if budget != nil {
			if err := budget(f.cost); err != nil {
				return err
			}
		}

		o.RemainingAmount.Sub(o.RemainingAmount, amount)
		o.RemainingValue.Sub(o.RemainingValue, f.cost)
		o.UpdatedAt = nowMillis()
		if err := o.checkInvariant(); err != nil {
			o.RemainingAmount.Add(o.RemainingAmount, amount)
			o.RemainingValue.Add(o.RemainingValue, f.cost)
			return err
		}
		if o.RemainingAmount.Sign() == 0 {
			o.Active = false
			f.closed = true
		}
		o.settling = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// rollbackFill undoes a prepared fill after a transfer failure.
func (e *Engine) rollbackFill(f *fill) {
	err := f.store.update(f.id, func(o *Order) error {
		o.RemainingAmount.Add(o.RemainingAmount, f.amount)
		o.RemainingValue.Add(o.RemainingValue, f.cost)
		if f.closed {
			o.Active = true
		}
		o.settling = false
		o.UpdatedAt = nowMillis()
		return nil
	})
	if err != nil {
		// The order existed when prepared; the arena never shrinks.
		e.log.Errorw("fill_rollback_failed", "side", f.side, "id", f.id, "err", err)
	}
}

// finalizeFill releases the settle guard, journals the order, and emits the
// fulfilment event.
func (e *Engine) finalizeFill(f *fill, counterparty common.Address) {
	_ = f.store.update(f.id, func(o *Order) error {
		o.settling = false
		return nil
	})
	e.persist(f.side, f.id)

	evType := EventOrderPartiallyFulfilled
	if f.closed {
		evType = EventOrderFulfilled
	}
	e.emit(Event{
		Type: evType, Side: f.side, OrderID: f.id,
		Owner: f.owner, Counterparty: counterparty, Asset: f.asset,
		Amount: f.amount, Value: f.cost, UnitPrice: f.unitPrice,
		Timestamp: nowMillis(),
	})
}

// sellFillTransfers moves value for one accepted sell order: escrowed asset
// units to the buyer, then payment and fee out of the supplied currency.
// Completed legs are recorded on the fill so they can be reversed if a later
// leg fails.
func (e *Engine) sellFillTransfers(f *fill, buyer common.Address) error {
	if err := e.assets.Transfer(f.asset, buyer, f.amount); err != nil {
		return fmt.Errorf("%w: asset payout: %v", ErrTransferFailed, err)
	}
	f.assetMoved = true
	if f.payment.Sign() > 0 {
		if err := e.currency.Pay(f.owner, f.payment); err != nil {
			return fmt.Errorf("%w: seller payment: %v", ErrTransferFailed, err)
		}
		f.sellerPaid = true
	}
	if f.fee.Sign() > 0 {
		if err := e.currency.Pay(e.feeRecipient, f.fee); err != nil {
			return fmt.Errorf("%w: fee payment: %v", ErrTransferFailed, err)
		}
		f.feePaid = true
	}
	return nil
}

// undoSellFillTransfers reverses whatever legs of a sell fill executed, in
// reverse order. An error here means value is stranded outside custody and
// the bookkeeping cannot be trusted.
func (e *Engine) undoSellFillTransfers(f *fill, buyer common.Address) error {
	if f.feePaid {
		if err := e.currency.Debit(e.feeRecipient, f.fee); err != nil {
			return fmt.Errorf("%w: fee reversal: %v", ErrInvariantViolated, err)
		}
		f.feePaid = false
	}
	if f.sellerPaid {
		if err := e.currency.Debit(f.owner, f.payment); err != nil {
			return fmt.Errorf("%w: payment reversal: %v", ErrInvariantViolated, err)
		}
		f.sellerPaid = false
	}
	if f.assetMoved {
		if err := e.assets.TransferFrom(f.asset, buyer, e.custody, f.amount); err != nil {
			return fmt.Errorf("%w: asset reclaim: %v", ErrInvariantViolated, err)
		}
		f.assetMoved = false
	}
	return nil
}

// buyFillTransfers moves value for one accepted buy order: asset units
// pulled from the seller straight to the original buyer, then payment and
// fee out of the order's escrowed currency. Completed legs are recorded on
// the fill.
func (e *Engine) buyFillTransfers(f *fill, seller common.Address) error {
	if err := e.assets.TransferFrom(f.asset, seller, f.owner, f.amount); err != nil {
		return fmt.Errorf("%w: asset delivery: %v", ErrTransferFailed, err)
	}
	f.assetMoved = true
	if f.payment.Sign() > 0 {
		if err := e.currency.Pay(seller, f.payment); err != nil {
			return fmt.Errorf("%w: seller payment: %v", ErrTransferFailed, err)
		}
		f.sellerPaid = true
	}
	if f.fee.Sign() > 0 {
		if err := e.currency.Pay(e.feeRecipient, f.fee); err != nil {
			return fmt.Errorf("%w: fee payment: %v", ErrTransferFailed, err)
		}
		f.feePaid = true
	}
	return nil
}

// undoBuyFillTransfers reverses whatever legs of a buy fill executed.
func (e *Engine) undoBuyFillTransfers(f *fill, seller common.Address) error {
	if f.feePaid {
		if err := e.currency.Debit(e.feeRecipient, f.fee); err != nil {
			return fmt.Errorf("%w: fee reversal: %v", ErrInvariantViolated, err)
		}
		f.feePaid = false
	}
	if f.sellerPaid {
		if err := e.currency.Debit(seller, f.payment); err != nil {
			return fmt.Errorf("%w: payment reversal: %v", ErrInvariantViolated, err)
		}
		f.sellerPaid = false
	}
	if f.assetMoved {
		if err := e.assets.TransferFrom(f.asset, f.owner, seller, f.amount); err != nil {
			return fmt.Errorf("%w: asset reclaim: %v", ErrInvariantViolated, err)
		}
		f.assetMoved = false
	}
	return nil
}

// AcceptSellOrder fills amount units of a sell order. value is the native
// currency delivered with the call and must cover the total cost; any
// excess is kept in custody, not refunded.
func (e *Engine) AcceptSellOrder(caller common.Address, id uint64, amount, value *big.Int) error {
	f, err := e.prepareFill(e.sells, Sell, id, amount, func(cost *big.Int) error {
		if bigOrZero(value).Cmp(cost) < 0 {
			return fmt.Errorf("%w: need %s, got %s", ErrInsufficientValue, cost, bigOrZero(value))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.sellFillTransfers(f, caller); err != nil {
		if undoErr := e.undoSellFillTransfers(f, caller); undoErr != nil {
			// The order stays frozen under its settle guard; value moved and
			// could not be reclaimed, so no further settlement may touch it.
			e.log.Errorw("settlement_unrecoverable", "side", Sell, "id", id, "err", undoErr)
			return undoErr
		}
		e.rollbackFill(f)
		return err
	}

	e.finalizeFill(f, caller)
	e.log.Infow("sell_order_accepted", "id", id, "buyer", caller.Hex(), "amount", f.amount.String(), "cost", f.cost.String(), "fee", f.fee.String(), "closed", f.closed)
	return nil
}

// AcceptBuyOrder fills amount units of a buy order. The caller delivers
// asset units (via prior ledger authorization) and is paid out of the
// order's escrowed currency, net of fee.
func (e *Engine) AcceptBuyOrder(caller common.Address, id uint64, amount *big.Int) error {
	f, err := e.prepareFill(e.buys, Buy, id, amount, nil)
	if err != nil {
		return err
	}

	if err := e.buyFillTransfers(f, caller); err != nil {
		if undoErr := e.undoBuyFillTransfers(f, caller); undoErr != nil {
			e.log.Errorw("settlement_unrecoverable", "side", Buy, "id", id, "err", undoErr)
			return undoErr
		}
		e.rollbackFill(f)
		return err
	}

	e.finalizeFill(f, caller)
	e.log.Infow("buy_order_accepted", "id", id, "seller", caller.Hex(), "amount", f.amount.String(), "cost", f.cost.String(), "fee", f.fee.String(), "closed", f.closed)
	return nil
}

// ==============================
// Batch settlement
// ==============================

func (e *Engine) validateBatch(ids []uint64, amounts []*big.Int) error {
	if len(ids) == 0 || len(ids) != len(amounts) {
		return fmt.Errorf("%w: %d ids, %d amounts", ErrInvalidInput, len(ids), len(amounts))
	}
	if limit := e.MaxBatchSize(); len(ids) > limit {
		return fmt.Errorf("%w: %d items, limit %d", ErrBatchTooLarge, len(ids), limit)
	}
	return nil
}

// BatchAcceptSellOrders applies AcceptSellOrder semantics to each (id,
// amount) pair under one aggregate currency budget. The batch commits
// all-or-nothing: every item is validated and its bookkeeping prepared
// before any transfer runs, and any failure rolls back every item.
func (e *Engine) BatchAcceptSellOrders(caller common.Address, ids []uint64, amounts []*big.Int, value *big.Int) error {
	if err := e.validateBatch(ids, amounts); err != nil {
		return err
	}

	budget := bigOrZero(value)
	spent := new(big.Int)
	fills := make([]*fill, 0, len(ids))
	rollback := func() {
		for _, f := range fills {
			e.rollbackFill(f)
		}
	}

	for i, id := range ids {
		f, err := e.prepareFill(e.sells, Sell, id, amounts[i], func(cost *big.Int) error {
			if new(big.Int).Add(spent, cost).Cmp(budget) > 0 {
				return fmt.Errorf("%w: running total %s exceeds supplied %s",
					ErrInsufficientValue, new(big.Int).Add(spent, cost), budget)
			}
			return nil
		})
		if err != nil {
			rollback()
			return fmt.Errorf("batch item %d: %w", i, err)
		}
		spent.Add(spent, f.cost)
		fills = append(fills, f)
	}

	for i, f := range fills {
		if err := e.sellFillTransfers(f, caller); err != nil {
			// Reverse this item's partial legs and every prior item's
			// committed legs before restoring any bookkeeping.
			for j := i; j >= 0; j-- {
				if undoErr := e.undoSellFillTransfers(fills[j], caller); undoErr != nil {
					e.log.Errorw("settlement_unrecoverable", "side", Sell, "id", fills[j].id, "err", undoErr)
					return undoErr
				}
			}
			rollback()
			return fmt.Errorf("batch item %d: %w", i, err)
		}
	}

	for _, f := range fills {
		e.finalizeFill(f, caller)
	}
	e.log.Infow("batch_sell_accepted", "buyer", caller.Hex(), "items", len(fills), "spent", spent.String())
	return nil
}

// BatchAcceptBuyOrders applies AcceptBuyOrder semantics to each pair, with
// the same all-or-nothing commit discipline.
func (e *Engine) BatchAcceptBuyOrders(caller common.Address, ids []uint64, amounts []*big.Int) error {
	if err := e.validateBatch(ids, amounts); err != nil {
		return err
	}

	fills := make([]*fill, 0, len(ids))
	rollback := func() {
		for _, f := range fills {
			e.rollbackFill(f)
		}
	}

	for i, id := range ids {
		f, err := e.prepareFill(e.buys, Buy, id, amounts[i], nil)
		if err != nil {
			rollback()
			return fmt.Errorf("batch item %d: %w", i, err)
		}
		fills = append(fills, f)
	}

	for i, f := range fills {
		if err := e.buyFillTransfers(f, caller); err != nil {
			for j := i; j >= 0; j-- {
				if undoErr := e.undoBuyFillTransfers(fills[j], caller); undoErr != nil {
					e.log.Errorw("settlement_unrecoverable", "side", Buy, "id", fills[j].id, "err", undoErr)
					return undoErr
				}
			}
			rollback()
			return fmt.Errorf("batch item %d: %w", i, err)
		}
	}

	for _, f := range fills {
		e.finalizeFill(f, caller)
	}
	e.log.Infow("batch_buy_accepted", "seller", caller.Hex(), "items", len(fills))
	return nil
}

// ==============================
// Cancellation
// ==============================

// cancelPrepare marks the order inactive under its settle guard and returns
// the escrow still owed to the owner.
func (e *Engine) cancelPrepare(store *OrderStore, side Side, id uint64, caller common.Address) (refundAmount, refundValue *big.Int, asset common.Address, err error) {
	err = store.update(id, func(o *Order) error {
		if o.settling {
			return fmt.Errorf("%w: %s order %d is mid-settlement", ErrReentrant, side, id)
		}
		if !o.Active {
			return fmt.Errorf("%w: %s order %d", ErrOrderInactive, side, id)
		}
		if o.Owner != caller {
			return fmt.Errorf("%w: %s does not own %s order %d", ErrUnauthorized, caller.Hex(), side, id)
		}
		refundAmount = new(big.Int).Set(o.RemainingAmount)
		refundValue = new(big.Int).Set(o.RemainingValue)
		asset = o.Asset
		o.Active = false
		o.settling = true
		o.UpdatedAt = nowMillis()
		return nil
	})
	return
}

func (e *Engine) cancelAbort(store *OrderStore, id uint64) {
	_ = store.update(id, func(o *Order) error {
		o.Active = true
		o.settling = false
		return nil
	})
}

func (e *Engine) cancelFinalize(store *OrderStore, side Side, id uint64, owner, asset common.Address, amount, value *big.Int) {
	_ = store.update(id, func(o *Order) error {
		o.settling = false
		return nil
	})
	e.persist(side, id)
	e.emit(Event{
		Type: EventOrderCancelled, Side: side, OrderID: id,
		Owner: owner, Asset: asset,
		Amount: amount, Value: value,
		Timestamp: nowMillis(),
	})
	e.log.Infow("order_cancelled", "side", side, "id", id, "owner", owner.Hex(), "refund_amount", amount.String(), "refund_value", value.String())
}

// CancelSellOrder returns the unfilled escrowed asset units to the seller
// and closes the order permanently. Owner only. Works on delisted assets:
// escrow recovery is never gated on the listing flag.
func (e *Engine) CancelSellOrder(caller common.Address, id uint64) error {
	amount, value, asset, err := e.cancelPrepare(e.sells, Sell, id, caller)
	if err != nil {
		return err
	}
	if err := e.assets.Transfer(asset, caller, amount); err != nil {
		e.cancelAbort(e.sells, id)
		return fmt.Errorf("%w: escrow release: %v", ErrTransferFailed, err)
	}
	e.cancelFinalize(e.sells, Sell, id, caller, asset, amount, value)
	return nil
}

// CancelBuyOrder returns the unspent escrowed currency to the buyer and
// closes the order permanently. Owner only.
func (e *Engine) CancelBuyOrder(caller common.Address, id uint64) error {
	amount, value, asset, err := e.cancelPrepare(e.buys, Buy, id, caller)
	if err != nil {
		return err
	}
	if err := e.currency.Pay(caller, value); err != nil {
		e.cancelAbort(e.buys, id)
		return fmt.Errorf("%w: escrow release: %v", ErrTransferFailed, err)
	}
	e.cancelFinalize(e.buys, Buy, id, caller, asset, amount, value)
	return nil
}

// ==============================
// Fee & admin controls
// ==============================

// SetFeePerMille updates the platform fee (per-mille of every settlement).
func (e *Engine) SetFeePerMille(caller common.Address, fee int64) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if fee < 0 || fee > feeDenominator {
		return fmt.Errorf("%w: fee %d out of range [0,%d]", ErrInvalidInput, fee, feeDenominator)
	}
	e.cfgMu.Lock()
	e.feePerMille = fee
	e.cfgMu.Unlock()
	e.log.Infow("fee_updated", "per_mille", fee)
	return nil
}

func (e *Engine) FeePerMille() int64 {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.feePerMille
}

// SetMaxBatchSize updates the batch acceptance ceiling.
func (e *Engine) SetMaxBatchSize(caller common.Address, limit int) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if limit < 0 || limit > 100 {
		return fmt.Errorf("%w: batch size limit %d out of range [0,100]", ErrInvalidInput, limit)
	}
	e.cfgMu.Lock()
	e.maxBatch = limit
	e.cfgMu.Unlock()
	e.log.Infow("batch_limit_updated", "limit", limit)
	return nil
}

func (e *Engine) MaxBatchSize() int {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.maxBatch
}

// WithdrawAsset sweeps the engine's entire custody balance of one asset to
// the administrator. No order-level awareness: this can drain escrow still
// backing active orders.
func (e *Engine) WithdrawAsset(caller, asset common.Address) (*big.Int, error) {
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	bal, err := e.assets.BalanceOf(asset, e.custody)
	if err != nil {
		return nil, fmt.Errorf("%w: balance query: %v", ErrTransferFailed, err)
	}
	if bal == nil || bal.Sign() == 0 {
		return nil, fmt.Errorf("%w: asset %s", ErrNoBalance, asset.Hex())
	}
	if err := e.assets.Transfer(asset, caller, bal); err != nil {
		return nil, fmt.Errorf("%w: sweep: %v", ErrTransferFailed, err)
	}
	e.log.Infow("asset_swept", "asset", asset.Hex(), "amount", bal.String())
	return bal, nil
}

// WithdrawCurrency sweeps the engine's entire native-currency custody
// balance to the administrator. Same hazard as WithdrawAsset.
func (e *Engine) WithdrawCurrency(caller common.Address) (*big.Int, error) {
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	bal, err := e.currency.BalanceOf(e.custody)
	if err != nil {
		return nil, fmt.Errorf("%w: balance query: %v", ErrTransferFailed, err)
	}
	if bal == nil || bal.Sign() == 0 {
		return nil, ErrNoBalance
	}
	if err := e.currency.Pay(caller, bal); err != nil {
		return nil, fmt.Errorf("%w: sweep: %v", ErrTransferFailed, err)
	}
	e.log.Infow("currency_swept", "amount", bal.String())
	return bal, nil
}

// ==============================
// Queries
// ==============================

func (e *Engine) SellOrder(id uint64) (Order, error) { return e.sells.Get(id) }
func (e *Engine) BuyOrder(id uint64) (Order, error)  { return e.buys.Get(id) }
func (e *Engine) SellOrders() []Order                { return e.sells.Snapshot() }
func (e *Engine) BuyOrders() []Order                 { return e.buys.Snapshot() }

// persist journals the current snapshot of one order, if a journal is wired.
func (e *Engine) persist(side Side, id uint64) {
	if e.journal == nil {
		return
	}
	var o Order
	var err error
	if side == Sell {
		o, err = e.sells.Get(id)
	} else {
		o, err = e.buys.Get(id)
	}
	if err != nil {
		e.log.Errorw("journal_snapshot_failed", "side", side, "id", id, "err", err)
		return
	}
	if err := e.journal.SaveOrder(side, &o); err != nil {
		e.log.Warnw("journal_save_failed", "side", side, "id", id, "err", err)
	}
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
