package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/minhopark/escrowbook/pkg/engine"
	"github.com/minhopark/escrowbook/pkg/storage"
)

// NativeBank is the host-side currency surface the API needs: debiting a
// caller when a payable request carries value, and paying it back when the
// engine rejects the operation. The dev node wires ledger.MemoryBank here.
type NativeBank interface {
	Debit(from common.Address, amount *big.Int) error
	Pay(recipient common.Address, amount *big.Int) error
}

// Server exposes the engine over REST and streams its events over websocket.
type Server struct {
	eng    *engine.Engine
	bank   NativeBank
	store  *storage.Store // nil disables the events endpoint
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

func NewServer(eng *engine.Engine, bank NativeBank, store *storage.Store, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		eng:    eng,
		bank:   bank,
		store:  store,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/listings", s.handleGetListings).Methods("GET")

	api.HandleFunc("/orders/sell", s.handleGetSellOrders).Methods("GET")
	api.HandleFunc("/orders/sell", s.handleCreateSellOrder).Methods("POST")
	api.HandleFunc("/orders/sell/accept-batch", s.handleBatchAcceptSell).Methods("POST")
	api.HandleFunc("/orders/sell/{id:[0-9]+}", s.handleGetSellOrder).Methods("GET")
	api.HandleFunc("/orders/sell/{id:[0-9]+}/accept", s.handleAcceptSellOrder).Methods("POST")
	api.HandleFunc("/orders/sell/{id:[0-9]+}/cancel", s.handleCancelSellOrder).Methods("POST")

	api.HandleFunc("/orders/buy", s.handleGetBuyOrders).Methods("GET")
	api.HandleFunc("/orders/buy", s.handleCreateBuyOrder).Methods("POST")
	api.HandleFunc("/orders/buy/accept-batch", s.handleBatchAcceptBuy).Methods("POST")
	api.HandleFunc("/orders/buy/{id:[0-9]+}", s.handleGetBuyOrder).Methods("GET")
	api.HandleFunc("/orders/buy/{id:[0-9]+}/accept", s.handleAcceptBuyOrder).Methods("POST")
	api.HandleFunc("/orders/buy/{id:[0-9]+}/cancel", s.handleCancelBuyOrder).Methods("POST")

	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/list", s.handleListAsset).Methods("POST")
	admin.HandleFunc("/delist", s.handleDelistAsset).Methods("POST")
	admin.HandleFunc("/fee", s.handleSetFee).Methods("POST")
	admin.HandleFunc("/batch-limit", s.handleSetBatchLimit).Methods("POST")
	admin.HandleFunc("/withdraw", s.handleWithdraw).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and serves HTTP. Wire the returned broadcast hook to
// engine.OnEvent before serving traffic.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// BroadcastEvent fans an engine event out to websocket subscribers.
// Intended as the engine's OnEvent hook.
func (s *Server) BroadcastEvent(ev engine.Event) {
	s.hub.Broadcast(ev)
}

// ==============================
// Helpers
// ==============================

func parseAddr(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func orderInfo(o engine.Order, side engine.Side) OrderInfo {
	return OrderInfo{
		ID:              o.ID,
		Side:            side.String(),
		Owner:           o.Owner.Hex(),
		Asset:           o.Asset.Hex(),
		Amount:          o.Amount.String(),
		Value:           o.Value.String(),
		UnitPrice:       o.UnitPrice.String(),
		RemainingAmount: o.RemainingAmount.String(),
		RemainingValue:  o.RemainingValue.String(),
		Active:          o.Active,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, engine.ErrInvalidAsset),
		errors.Is(err, engine.ErrIncorrectValue),
		errors.Is(err, engine.ErrInsufficientValue),
		errors.Is(err, engine.ErrBatchTooLarge):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrAlreadyListed),
		errors.Is(err, engine.ErrNotListed),
		errors.Is(err, engine.ErrOrderInactive),
		errors.Is(err, engine.ErrReentrant),
		errors.Is(err, engine.ErrNoBalance):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrTransferFailed):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// debitValue takes the request's declared value into custody, mirroring a
// host runtime delivering value with a payable call. The returned refund
// pays it back if the engine rejects the operation. Accepted overpayment is
// deliberately not refunded.
func (s *Server) debitValue(from common.Address, value *big.Int) (refund func(), err error) {
	if value.Sign() == 0 {
		return func() {}, nil
	}
	if err := s.bank.Debit(from, value); err != nil {
		return nil, fmt.Errorf("%w: value debit: %v", engine.ErrInsufficientValue, err)
	}
	return func() {
		if err := s.bank.Pay(from, value); err != nil {
			s.log.Errorw("value_refund_failed", "to", from.Hex(), "amount", value.String(), "err", err)
		}
	}, nil
}

// ==============================
// Order handlers
// ==============================

func (s *Server) handleCreateSellOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	from, err := parseAddr(req.From)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	asset, err := parseAddr(req.Asset)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	unitPrice, err := parseBig(req.UnitPrice)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}

	id, err := s.eng.CreateSellOrder(from, asset, amount, unitPrice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateOrderResponse{OrderID: id})
}

func (s *Server) handleCreateBuyOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	from, err := parseAddr(req.From)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	asset, err := parseAddr(req.Asset)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	unitPrice, err := parseBig(req.UnitPrice)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	value, err := parseBig(req.Value)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}

	refund, err := s.debitValue(from, value)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := s.eng.CreateBuyOrder(from, asset, amount, unitPrice, value)
	if err != nil {
		refund()
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateOrderResponse{OrderID: id})
}

func (s *Server) handleAcceptSellOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req AcceptOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	from, err := parseAddr(req.From)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	value, err := parseBig(req.Value)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}

	refund, err := s.debitValue(from, value)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.eng.AcceptSellOrder(from, id, amount, value); err != nil {
		refund()
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleAcceptBuyOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req AcceptOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	from, err := parseAddr(req.From)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}

	if err := s.eng.AcceptBuyOrder(from, id, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleBatchAcceptSell(w http.ResponseWriter, r *http.Request) {
	var req BatchAcceptRequest
	if err := decode(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	from, err := parseAddr(req.From)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	amounts, err := parseBigs(req.Amounts)
	if err != nil {
		writeError(w, err)
		return
	}
	value, err := parseBig(req.Value)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}

	refund, err := s.debitValue(from, value)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.eng.BatchAcceptSellOrders(from, req.IDs, amounts, value); err != nil {
		refund()
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleBatchAcceptBuy(w http.ResponseWriter, r *http.Request) {
	var req BatchAcceptRequest
	if err := decode(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	from, err := parseAddr(req.From)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	amounts, err := parseBigs(req.Amounts)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.eng.BatchAcceptBuyOrders(from, req.IDs, amounts); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleCancelSellOrder(w http.ResponseWriter, r *http.Request) {
	s.handleCancel(w, r, engine.Sell)
}

func (s *Server) handleCancelBuyOrder(w http.ResponseWriter, r *http.Request) {
	s.handleCancel(w, r, engine.Buy)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, side engine.Side) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req CancelOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	from, err := parseAddr(req.From)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}

	if side == engine.Sell {
		err = s.eng.CancelSellOrder(from, id)
	} else {
		err = s.eng.CancelBuyOrder(from, id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ==============================
// Query handlers
// ==============================

func (s *Server) handleGetSellOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.eng.SellOrders()
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = orderInfo(o, engine.Sell)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBuyOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.eng.BuyOrders()
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = orderInfo(o, engine.Buy)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSellOrder(w http.ResponseWriter, r *http.Request) {
	s.handleGetOrder(w, r, engine.Sell)
}

func (s *Server) handleGetBuyOrder(w http.ResponseWriter, r *http.Request) {
	s.handleGetOrder(w, r, engine.Buy)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, side engine.Side) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var o engine.Order
	if side == engine.Sell {
		o, err = s.eng.SellOrder(id)
	} else {
		o, err = s.eng.BuyOrder(id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderInfo(o, side))
}

func (s *Server) handleGetListings(w http.ResponseWriter, r *http.Request) {
	assets := s.eng.ListedAssets()
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.Hex()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ConfigInfo{
		FeePerMille:  s.eng.FeePerMille(),
		MaxBatchSize: s.eng.MaxBatchSize(),
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []engine.Event{})
		return
	}
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}
	events, err := s.store.LoadRecentEvents(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Admin handlers
// ==============================

func (s *Server) handleListAsset(w http.ResponseWriter, r *http.Request) {
	s.handleListing(w, r, true)
}

func (s *Server) handleDelistAsset(w http.ResponseWriter, r *http.Request) {
	s.handleListing(w, r, false)
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request, list bool) {
	var req ListingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	from, err := parseAddr(req.From)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	asset, err := parseAddr(req.Asset)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}

	if list {
		err = s.eng.ListAsset(from, asset)
	} else {
		err = s.eng.DelistAsset(from, asset)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	var req SetFeeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	from, err := parseAddr(req.From)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	if err := s.eng.SetFeePerMille(from, req.FeePerMille); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetBatchLimit(w http.ResponseWriter, r *http.Request) {
	var req SetBatchLimitRequest
	if err := decode(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	from, err := parseAddr(req.From)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	if err := s.eng.SetMaxBatchSize(from, req.Limit); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := decode(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}
	from, err := parseAddr(req.From)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
		return
	}

	var amount *big.Int
	if req.Asset == "" {
		amount, err = s.eng.WithdrawCurrency(from)
	} else {
		var asset common.Address
		asset, err = parseAddr(req.Asset)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
			return
		}
		amount, err = s.eng.WithdrawAsset(from, asset)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WithdrawResponse{Amount: amount.String()})
}

// ==============================
// Parsing helpers
// ==============================

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: order id: %v", engine.ErrInvalidInput, err)
	}
	return id, nil
}

func parseBigs(in []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(in))
	for i, s := range in {
		v, err := parseBig(s)
		if err != nil {
			return nil, fmt.Errorf("%w: amount %d: %v", engine.ErrInvalidInput, i, err)
		}
		out[i] = v
	}
	return out, nil
}
