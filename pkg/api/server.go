package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperpredict/pkg/app/predict"
	"github.com/uhyunpark/hyperpredict/pkg/crypto"
	"github.com/uhyunpark/hyperpredict/pkg/storage"
)

// History serves persisted trades and events
type History interface {
	LoadEvents(marketID string, after uint64, limit int) ([]predict.Event, error)
	LoadRecentFills(marketID string, limit int) ([]*storage.FillRecord, error)
}

// Wallets exposes settlement-asset balances (and the dev faucet)
type Wallets interface {
	Balance(addr common.Address) int64
	Deposit(addr common.Address, amount int64) error
}

// DevOracle lets a dev node answer its own questions
type DevOracle interface {
	SetAnswer(questionID string, outcome bool, confidence uint8) error
}

type Options struct {
	History        History
	Wallets        Wallets
	Oracle         DevOracle // only routed when DevMode
	DevMode        bool
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	engine   *predict.Engine
	verifier *crypto.Verifier
	opts     Options
	log      *zap.SugaredLogger

	router *mux.Router
	hub    *Hub
	http   *http.Server
}

func NewServer(engine *predict.Engine, verifier *crypto.Verifier, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	s := &Server{
		engine:   engine,
		verifier: verifier,
		opts:     opts,
		log:      opts.Logger,
		router:   mux.NewRouter(),
		hub:      NewHub(opts.Logger),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets", s.handleCreateMarket).Methods("POST")
	api.HandleFunc("/markets/{id}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{id}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{id}/price", s.handleGetPrice).Methods("GET")
	api.HandleFunc("/markets/{id}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/markets/{id}/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/markets/{id}/orders/{orderId}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/markets/{id}/accounts/{address}/orders", s.handleGetUserOrders).Methods("GET")
	api.HandleFunc("/markets/{id}/accounts/{address}/position", s.handleGetPosition).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")

	// Signed commands
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/actions", s.handleAction).Methods("POST")

	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")

	if s.opts.DevMode {
		dev := api.PathPrefix("/dev").Subrouter()
		dev.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
		dev.HandleFunc("/oracle/{id}", s.handleOracleAnswer).Methods("POST")
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the CORS-wrapped router
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the WebSocket hub and serves until Shutdown
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Infow("api_listening", "addr", addr, "dev_mode", s.opts.DevMode)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Hub returns the WebSocket hub (Run must be called when the server isn't started with Start)
func (s *Server) Hub() *Hub { return s.hub }

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.engine.ListMarkets()
	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = toMarketInfo(m)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.GetMarket(mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, toMarketInfo(info))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	depth, err := queryInt(r, "depth", 0)
	if err != nil {
		respondErr(w, err)
		return
	}
	snap, err := s.engine.GetOrderBook(id, int(depth))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, toOrderbook(snap))
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	name := r.URL.Query().Get("outcome")
	if name == "" {
		name = "yes"
	}
	outcome, err := market.ParseOutcome(name)
	if err != nil {
		respondErr(w, err)
		return
	}
	q, err := s.engine.GetMarketPrice(id, outcome)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, QuoteInfo{
		MarketID:    id,
		Outcome:     q.Outcome.String(),
		BestBid:     q.BestBid,
		BestAsk:     q.BestAsk,
		LastPrice:   q.LastPrice,
		Mid:         q.Mid,
		Probability: bpsDecimal(q.Mid),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.engine.GetMarket(id); err != nil {
		respondErr(w, err)
		return
	}
	if s.opts.History == nil {
		respondJSON(w, []TradeInfo{})
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		respondErr(w, err)
		return
	}
	fills, err := s.opts.History.LoadRecentFills(id, int(limit))
	if err != nil {
		respondErr(w, fmtStorage(err))
		return
	}
	trades := make([]TradeInfo, len(fills))
	for i, f := range fills {
		trades[i] = TradeInfo{
			Seq:          f.Seq,
			MarketID:     f.MarketID,
			Outcome:      f.Outcome,
			Price:        f.Price,
			PriceDecimal: bpsDecimal(f.Price),
			Size:         f.Amount,
			Side:         f.TakerSide,
			BuyOrderID:   f.BuyOrderID,
			SellOrderID:  f.SellOrderID,
			Timestamp:    f.Time.UnixMilli(),
		}
	}
	respondJSON(w, trades)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.engine.GetMarket(id); err != nil {
		respondErr(w, err)
		return
	}
	if s.opts.History == nil {
		respondJSON(w, []predict.Event{})
		return
	}
	after, err := queryInt(r, "after", 0)
	if err != nil {
		respondErr(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 500)
	if err != nil {
		respondErr(w, err)
		return
	}
	events, err := s.opts.History.LoadEvents(id, uint64(after), int(limit))
	if err != nil {
		respondErr(w, fmtStorage(err))
		return
	}
	if events == nil {
		events = []predict.Event{}
	}
	respondJSON(w, events)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orderID, err := strconv.ParseUint(vars["orderId"], 10, 64)
	if err != nil {
		respondErr(w, badRequest("invalid order id"))
		return
	}
	o, err := s.engine.GetOrder(vars["id"], orderID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, toOrderInfo(vars["id"], o))
}

func (s *Server) handleGetUserOrders(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, err := parseAddress(vars["address"])
	if err != nil {
		respondErr(w, err)
		return
	}
	orders, err := s.engine.GetUserOrders(vars["id"], addr)
	if err != nil {
		respondErr(w, err)
		return
	}
	out := make([]OrderInfo, len(orders))
	for i := range orders {
		out[i] = toOrderInfo(vars["id"], &orders[i])
	}
	respondJSON(w, out)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, err := parseAddress(vars["address"])
	if err != nil {
		respondErr(w, err)
		return
	}
	p, err := s.engine.GetPosition(vars["id"], addr)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, PositionInfo{
		MarketID:  vars["id"],
		Owner:     addr.Hex(),
		YesShares: p.YesShares,
		NoShares:  p.NoShares,
		Proceeds:  p.Proceeds,
		FeesOwed:  p.FeesOwed,
		Paid:      p.Paid,
		Locked:    p.Locked,
		Claimed:   p.Claimed,
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		respondErr(w, err)
		return
	}
	var balance int64
	if s.opts.Wallets != nil {
		balance = s.opts.Wallets.Balance(addr)
	}
	respondJSON(w, AccountInfo{
		Address:        addr.Hex(),
		Balance:        balance,
		BalanceDecimal: unitsDecimal(balance),
		Owed:           s.engine.Owed(addr),
	})
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ChainStatus{
		Markets:   len(s.engine.ListMarkets()),
		StateHash: s.engine.StateHash().Hex(),
		ChainID:   s.verifier.Signer().Domain().ChainID.String(),
		DevMode:   s.opts.DevMode,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Event fan-out
// ==============================

// HandleEvents pushes committed engine events to WebSocket subscribers:
// every event on "market:{id}" and "events", fills on "trades:{id}",
// and a fresh depth snapshot on "orderbook:{id}" once per batch.
func (s *Server) HandleEvents(_ context.Context, events []predict.Event) error {
	if len(events) == 0 {
		return nil
	}
	bookChanged := false
	for _, ev := range events {
		s.hub.BroadcastToChannel("market:"+ev.MarketID, WSMessage{Type: "event", Channel: "market:" + ev.MarketID, Data: ev})
		s.hub.BroadcastToChannel("events", WSMessage{Type: "event", Channel: "events", Data: ev})
		switch ev.Type {
		case predict.EventOrderFilled:
			s.hub.BroadcastToChannel("trades:"+ev.MarketID, WSMessage{Type: "trade", Channel: "trades:" + ev.MarketID, Data: TradeInfo{
				Seq:          ev.Seq,
				MarketID:     ev.MarketID,
				Outcome:      ev.Outcome,
				Price:        ev.Price,
				PriceDecimal: bpsDecimal(ev.Price),
				Size:         ev.Amount,
				Side:         ev.Side,
				BuyOrderID:   ev.BuyOrderID,
				SellOrderID:  ev.SellOrderID,
				Timestamp:    ev.Time.UnixMilli(),
			}})
			bookChanged = true
		case predict.EventOrderPlaced, predict.EventOrderCancelled:
			bookChanged = true
		}
	}
	if bookChanged {
		id := events[0].MarketID
		if snap, err := s.engine.GetOrderBook(id, 20); err == nil {
			s.hub.BroadcastToChannel("orderbook:"+id, WSMessage{Type: "orderbook", Channel: "orderbook:" + id, Data: toOrderbook(snap)})
		}
	}
	return nil
}

var _ predict.EventSink = (*Server)(nil)

// ==============================
// Conversions
// ==============================

func toMarketInfo(m *predict.MarketInfo) MarketInfo {
	info := MarketInfo{
		ID:         m.ID,
		Question:   m.Question,
		Creator:    m.Creator.Hex(),
		QuestionID: m.QuestionID,
		State:      m.State.String(),
		Outcome:    m.Outcome.String(),
		CreatedAt:  m.CreatedAt.Unix(),
		Deadline:   m.Deadline.Unix(),
		Params: MarketParams{
			TradingFeeBps:       m.Params.TradingFeeBps,
			MinOrderSize:        m.Params.MinOrderSize,
			MaxMatchesPerOrder:  m.Params.MaxMatchesPerOrder,
			ResolutionGraceSec:  int64(m.Params.ResolutionGrace / time.Second),
			MinOracleConfidence: m.Params.MinOracleConfidence,
		},
		Collateral: CollateralInfo{
			Balance:        m.Collateral.Balance,
			BalanceDecimal: unitsDecimal(m.Collateral.Balance),
			Reserved:       m.Collateral.Reserved,
			Locked:         m.Collateral.Locked,
			Fees:           m.Collateral.Fees,
			Accrued:        m.Collateral.Accrued,
		},
		OpenOrders: m.OpenOrders,
		Orders:     m.Orders,
	}
	if !m.ResolvedAt.IsZero() {
		info.ResolvedAt = m.ResolvedAt.Unix()
	}
	return info
}

func toOrderbook(snap *predict.BookSnapshot) OrderbookSnapshot {
	side := func(ob predict.OutcomeBook) OutcomeBook {
		return OutcomeBook{Bids: toLevels(ob.Bids), Asks: toLevels(ob.Asks), LastPrice: ob.LastPrice}
	}
	return OrderbookSnapshot{
		MarketID:  snap.MarketID,
		Yes:       side(snap.Yes),
		No:        side(snap.No),
		Timestamp: time.Now().UnixMilli(),
	}
}

func toLevels(levels []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.Price, PriceDecimal: bpsDecimal(l.Price), Size: l.Qty, Orders: l.Orders}
	}
	return out
}

func toOrderInfo(marketID string, o *orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		MarketID:  marketID,
		Owner:     o.Owner.Hex(),
		Side:      o.Side.String(),
		Outcome:   o.Outcome.String(),
		Price:     o.Price,
		Size:      o.Original,
		Filled:    o.Filled,
		Remaining: o.Remaining,
		Reserved:  o.Reserved(),
		Status:    o.Status.String(),
		Timestamp: o.CreatedAt.UnixMilli(),
	}
}

// bpsDecimal renders a bps price as a probability, 5500 -> "0.55"
func bpsDecimal(bps int64) string {
	return decimal.New(bps, -4).String()
}

// unitsDecimal renders collateral in whole settlement-asset units, 55000 -> "5.5"
func unitsDecimal(units int64) string {
	return decimal.New(units, -4).String()
}

// ==============================
// Helper Functions
// ==============================

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, badRequest("invalid address: " + s)
	}
	return common.HexToAddress(s), nil
}

func queryInt(r *http.Request, key string, def int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, badRequest("invalid " + key + ": " + raw)
	}
	return v, nil
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := ErrorResponse{
		Error:     http.StatusText(status),
		Kind:      errs.KindOf(err).String(),
		Message:   err.Error(),
		Retryable: errs.IsRetryable(err),
	}
	var br *requestError
	if errors.As(err, &br) {
		resp.Kind = "request"
	}
	if resp.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// statusFor maps an error's kind to an HTTP status
func statusFor(err error) int {
	var br *requestError
	if errors.As(err, &br) {
		return http.StatusBadRequest
	}
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindState:
		return http.StatusConflict
	case errs.KindAuthorization:
		return http.StatusForbidden
	case errs.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindExternalDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// requestError is a malformed request that never reached the engine
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

func fmtStorage(err error) error {
	return fmt.Errorf("%w: %v", errs.ErrStorage, err)
}
