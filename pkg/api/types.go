package api

// API request/response types for REST endpoints and WebSocket messages.
// Prices are bps (1..9999); collateral amounts are base units (10000 = one share's face value).
// Fields suffixed Decimal render the same value as a probability / settlement-asset decimal string.

// ==============================
// REST Response Types
// ==============================

type MarketInfo struct {
	ID         string         `json:"id"`
	Question   string         `json:"question"`
	Creator    string         `json:"creator"`
	QuestionID string         `json:"questionId"`
	State      string         `json:"state"`   // "Open", "PendingResolution", "Resolved", "Refundable"
	Outcome    string         `json:"outcome"` // "yes", "no", "unresolved"
	CreatedAt  int64          `json:"createdAt"` // Unix seconds
	Deadline   int64          `json:"deadline"`
	ResolvedAt int64          `json:"resolvedAt,omitempty"`
	Params     MarketParams   `json:"params"`
	Collateral CollateralInfo `json:"collateral"`
	OpenOrders int            `json:"openOrders"`
	Orders     int            `json:"orders"`
}

type MarketParams struct {
	TradingFeeBps       int64 `json:"tradingFeeBps"`
	MinOrderSize        int64 `json:"minOrderSize"`
	MaxMatchesPerOrder  int   `json:"maxMatchesPerOrder"`
	ResolutionGraceSec  int64 `json:"resolutionGraceSec"`
	MinOracleConfidence uint8 `json:"minOracleConfidence"`
}

type CollateralInfo struct {
	Balance        int64  `json:"balance"`
	BalanceDecimal string `json:"balanceDecimal"`
	Reserved       int64  `json:"reserved"`
	Locked         int64  `json:"locked"`
	Fees           int64  `json:"fees"`
	Accrued        int64  `json:"accrued"`
}

// OrderbookSnapshot is the aggregated depth of both outcomes
type OrderbookSnapshot struct {
	MarketID  string      `json:"marketId"`
	Yes       OutcomeBook `json:"yes"`
	No        OutcomeBook `json:"no"`
	Timestamp int64       `json:"timestamp"` // Unix milliseconds
}

type OutcomeBook struct {
	Bids      []PriceLevel `json:"bids"` // Sorted high to low
	Asks      []PriceLevel `json:"asks"` // Sorted low to high
	LastPrice int64        `json:"lastPrice"`
}

type PriceLevel struct {
	Price        int64  `json:"price"`
	PriceDecimal string `json:"priceDecimal"`
	Size         int64  `json:"size"`
	Orders       int    `json:"orders"`
}

// QuoteInfo is the top of book of one outcome
type QuoteInfo struct {
	MarketID    string `json:"marketId"`
	Outcome     string `json:"outcome"`
	BestBid     int64  `json:"bestBid"`
	BestAsk     int64  `json:"bestAsk"`
	LastPrice   int64  `json:"lastPrice"`
	Mid         int64  `json:"mid"`
	Probability string `json:"probability"` // Mid as a decimal in [0, 1)
}

type TradeInfo struct {
	Seq          uint64 `json:"seq"`
	MarketID     string `json:"marketId"`
	Outcome      string `json:"outcome"`
	Price        int64  `json:"price"`
	PriceDecimal string `json:"priceDecimal"`
	Size         int64  `json:"size"`
	Side         string `json:"side"` // taker side
	BuyOrderID   uint64 `json:"buyOrderId"`
	SellOrderID  uint64 `json:"sellOrderId"`
	Timestamp    int64  `json:"timestamp"` // Unix milliseconds
}

type OrderInfo struct {
	ID        uint64 `json:"id"`
	MarketID  string `json:"marketId"`
	Owner     string `json:"owner"`
	Side      string `json:"side"`    // "buy" or "sell"
	Outcome   string `json:"outcome"` // "yes" or "no"
	Price     int64  `json:"price"`
	Size      int64  `json:"size"`
	Filled    int64  `json:"filled"`
	Remaining int64  `json:"remaining"`
	Reserved  int64  `json:"reserved"`
	Status    string `json:"status"` // "open", "partially_filled", "filled", "cancelled"
	Timestamp int64  `json:"timestamp"`
}

type PositionInfo struct {
	MarketID  string `json:"marketId"`
	Owner     string `json:"owner"`
	YesShares int64  `json:"yesShares"`
	NoShares  int64  `json:"noShares"`
	Proceeds  int64  `json:"proceeds"`
	FeesOwed  int64  `json:"feesOwed"`
	Paid      int64  `json:"paid"`
	Locked    int64  `json:"locked"`
	Claimed   bool   `json:"claimed"`
}

type AccountInfo struct {
	Address        string `json:"address"`
	Balance        int64  `json:"balance"`
	BalanceDecimal string `json:"balanceDecimal"`
	Owed           int64  `json:"owed"` // payouts that failed and await a collect
}

type ChainStatus struct {
	Markets   int    `json:"markets"`
	StateHash string `json:"stateHash"`
	ChainID   string `json:"chainId"`
	DevMode   bool   `json:"devMode"`
}

// ==============================
// REST Request Types
// ==============================

// Signed commands carry the EIP-712 message fields plus a 0x-prefixed 65-byte signature.
// Big integers travel as decimal strings.

type CreateMarketRequest struct {
	Question  string `json:"question"`
	Deadline  int64  `json:"deadline"` // Unix seconds
	Payment   int64  `json:"payment"`
	Nonce     string `json:"nonce"`
	Creator   string `json:"creator"`
	Signature string `json:"signature"`
}

type SubmitOrderRequest struct {
	MarketID  string `json:"marketId"`
	Side      string `json:"side"`    // "buy" or "sell"
	Outcome   string `json:"outcome"` // "yes" or "no"
	Price     int64  `json:"price"`
	Size      int64  `json:"size"`
	Nonce     string `json:"nonce"`
	Deadline  int64  `json:"deadline"` // signature expiry, 0 = none
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
}

type ActionRequest struct {
	Action    string `json:"action"` // cancel, claim, refund, withdraw, resolve, collect
	MarketID  string `json:"marketId"`
	OrderID   uint64 `json:"orderId,omitempty"`
	Nonce     string `json:"nonce"`
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
}

type FaucetRequest struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

type OracleAnswerRequest struct {
	Outcome    string `json:"outcome"` // "yes" or "no"
	Confidence uint8  `json:"confidence"`
}

// ==============================
// Command Responses
// ==============================

type FillInfo struct {
	Price       int64  `json:"price"`
	Size        int64  `json:"size"`
	BuyOrderID  uint64 `json:"buyOrderId"`
	SellOrderID uint64 `json:"sellOrderId"`
}

type SubmitOrderResponse struct {
	OrderID   uint64     `json:"orderId"`
	Status    string     `json:"status"`
	Fills     []FillInfo `json:"fills"`
	Filled    int64      `json:"filled"`
	Remaining int64      `json:"remaining"`
	Truncated bool       `json:"truncated,omitempty"`
	Refund    int64      `json:"refund"`
}

type ActionResponse struct {
	Action  string `json:"action"`
	Amount  int64  `json:"amount"` // funds returned to the caller
	Decimal string `json:"amountDecimal"`

	// resolve
	State   string `json:"state,omitempty"`
	Outcome string `json:"outcome,omitempty"`

	// claim / refund breakdown
	Winnings    int64 `json:"winnings,omitempty"`
	Proceeds    int64 `json:"proceeds,omitempty"`
	Contributed int64 `json:"contributed,omitempty"`
	OrderRefund int64 `json:"orderRefund,omitempty"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["market:{id}", "orderbook:{id}", "trades:{id}", "events"]
}

// WSAck confirms a (un)subscription
type WSAck struct {
	Type     string   `json:"type"` // "subscribed" or "unsubscribed"
	Channels []string `json:"channels"`
}

// WSMessage wraps every pushed update
type WSMessage struct {
	Type    string      `json:"type"` // "event", "orderbook", "trade"
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}
