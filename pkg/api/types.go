package api

// Request/response types for the REST surface. Quantities travel as decimal
// strings: order amounts at this scale overflow JSON numbers.

// ==============================
// Requests
// ==============================

// Every mutating request names its caller explicitly. The dev node trusts
// the field; a production host authenticates the caller before the engine
// ever sees the operation.

type CreateOrderRequest struct {
	From      string `json:"from"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	UnitPrice string `json:"unitPrice"`
	Value     string `json:"value,omitempty"` // buy orders: currency delivered with the call
}

type AcceptOrderRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
	Value  string `json:"value,omitempty"` // sell-order accepts only
}

type BatchAcceptRequest struct {
	From    string   `json:"from"`
	IDs     []uint64 `json:"ids"`
	Amounts []string `json:"amounts"`
	Value   string   `json:"value,omitempty"` // sell-side batches only
}

type CancelOrderRequest struct {
	From string `json:"from"`
}

type ListingRequest struct {
	From  string `json:"from"`
	Asset string `json:"asset"`
}

type SetFeeRequest struct {
	From        string `json:"from"`
	FeePerMille int64  `json:"feePerMille"`
}

type SetBatchLimitRequest struct {
	From  string `json:"from"`
	Limit int    `json:"limit"`
}

type WithdrawRequest struct {
	From  string `json:"from"`
	Asset string `json:"asset,omitempty"` // empty for the currency sweep
}

// ==============================
// Responses
// ==============================

type OrderInfo struct {
	ID              uint64 `json:"id"`
	Side            string `json:"side"`
	Owner           string `json:"owner"`
	Asset           string `json:"asset"`
	Amount          string `json:"amount"`
	Value           string `json:"value"`
	UnitPrice       string `json:"unitPrice"`
	RemainingAmount string `json:"remainingAmount"`
	RemainingValue  string `json:"remainingValue"`
	Active          bool   `json:"active"`
	CreatedAt       int64  `json:"createdAt"`
	UpdatedAt       int64  `json:"updatedAt"`
}

type CreateOrderResponse struct {
	OrderID uint64 `json:"orderId"`
}

type WithdrawResponse struct {
	Amount string `json:"amount"`
}

type ConfigInfo struct {
	FeePerMille  int64 `json:"feePerMille"`
	MaxBatchSize int   `json:"maxBatchSize"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
