package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperpredict/pkg/app/predict"
	"github.com/uhyunpark/hyperpredict/pkg/crypto"
	"github.com/uhyunpark/hyperpredict/pkg/oracle"
	"github.com/uhyunpark/hyperpredict/pkg/storage"
	"github.com/uhyunpark/hyperpredict/pkg/util"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const startingBalance int64 = 10_000_000

type apiHarness struct {
	t       *testing.T
	srv     *httptest.Server
	eng     *predict.Engine
	clock   *util.ManualClock
	wallets *ledger.Wallets
	signer  *crypto.EIP712Signer
	nonce   int64

	alice, bob, creator, owner *crypto.Signer
}

func newAPIHarness(t *testing.T, dev bool) *apiHarness {
	t.Helper()

	keys := make([]*crypto.Signer, 4)
	for i := range keys {
		k, err := crypto.GenerateKey()
		if err != nil {
			t.Fatal(err)
		}
		keys[i] = k
	}

	cfg := predict.DefaultConfig()
	cfg.FeeOwner = keys[3].Address()
	cfg.Params.TradingFeeBps = 0

	wallets, err := ledger.NewWallets(nil)
	if err != nil {
		t.Fatal(err)
	}
	clock := util.NewManualClock(t0)
	orc := oracle.NewManual(common.HexToAddress("0x0A00000000000000000000000000000000000000"))
	eng, err := predict.New(cfg, orc, wallets, predict.WithClock(clock))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	store, err := storage.NewPebbleStore(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	eng.AddSink(store)

	domain := crypto.DefaultDomain()
	s := NewServer(eng, crypto.NewVerifier(domain, nil), Options{
		History: store,
		Wallets: wallets,
		Oracle:  orc,
		DevMode: dev,
	})
	eng.AddSink(s)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Hub().Run(ctx)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	h := &apiHarness{
		t:       t,
		srv:     srv,
		eng:     eng,
		clock:   clock,
		wallets: wallets,
		signer:  crypto.NewEIP712Signer(domain),
		alice:   keys[0],
		bob:     keys[1],
		creator: keys[2],
		owner:   keys[3],
	}
	for _, k := range keys[:3] {
		if err := wallets.Deposit(k.Address(), startingBalance); err != nil {
			t.Fatal(err)
		}
	}
	return h
}

func (h *apiHarness) do(method, path string, body interface{}, out interface{}) int {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	if err != nil {
		h.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			h.t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (h *apiHarness) sign(k *crypto.Signer, m crypto.Message) string {
	h.t.Helper()
	sig, err := h.signer.Sign(k, m)
	if err != nil {
		h.t.Fatal(err)
	}
	return crypto.EncodeSignature(sig)
}

func (h *apiHarness) nextNonce() int64 {
	h.nonce++
	return h.nonce
}

func (h *apiHarness) createMarket() string {
	h.t.Helper()
	deadline := t0.Add(time.Hour).Unix()
	nonce := h.nextNonce()
	msg := &crypto.CreateMarketEIP712{
		Question: "Will it rain in Seoul on March 2?",
		Deadline: big.NewInt(deadline),
		Payment:  big.NewInt(15000),
		Nonce:    big.NewInt(nonce),
		Creator:  h.creator.Address(),
	}
	var info MarketInfo
	status := h.do("POST", "/api/v1/markets", CreateMarketRequest{
		Question:  msg.Question,
		Deadline:  deadline,
		Payment:   15000,
		Nonce:     fmt.Sprint(nonce),
		Creator:   h.creator.Address().Hex(),
		Signature: h.sign(h.creator, msg),
	}, &info)
	if status != http.StatusCreated {
		h.t.Fatalf("create market status = %d", status)
	}
	return info.ID
}

func (h *apiHarness) orderRequest(k *crypto.Signer, marketID, side string, price, size int64) SubmitOrderRequest {
	nonce := h.nextNonce()
	msg := &crypto.OrderEIP712{
		MarketID: marketID,
		Side:     crypto.SideToUint8(side),
		Outcome:  crypto.OutcomeYes,
		Price:    big.NewInt(price),
		Amount:   big.NewInt(size),
		Nonce:    big.NewInt(nonce),
		Deadline: big.NewInt(0),
		Owner:    k.Address(),
	}
	return SubmitOrderRequest{
		MarketID:  marketID,
		Side:      side,
		Outcome:   "yes",
		Price:     price,
		Size:      size,
		Nonce:     fmt.Sprint(nonce),
		Owner:     k.Address().Hex(),
		Signature: h.sign(k, msg),
	}
}

func (h *apiHarness) placeOrder(k *crypto.Signer, marketID, side string, price, size int64) (SubmitOrderResponse, int) {
	h.t.Helper()
	var resp SubmitOrderResponse
	status := h.do("POST", "/api/v1/orders", h.orderRequest(k, marketID, side, price, size), &resp)
	return resp, status
}

func (h *apiHarness) action(k *crypto.Signer, action, marketID string, orderID uint64) (ActionResponse, ErrorResponse, int) {
	h.t.Helper()
	nonce := h.nextNonce()
	msg := &crypto.ActionEIP712{
		Action:   action,
		MarketID: marketID,
		OrderID:  new(big.Int).SetUint64(orderID),
		Nonce:    big.NewInt(nonce),
		Owner:    k.Address(),
	}
	var raw json.RawMessage
	status := h.do("POST", "/api/v1/actions", ActionRequest{
		Action:    action,
		MarketID:  marketID,
		OrderID:   orderID,
		Nonce:     fmt.Sprint(nonce),
		Owner:     k.Address().Hex(),
		Signature: h.sign(k, msg),
	}, &raw)
	var ok ActionResponse
	var fail ErrorResponse
	if status == http.StatusOK {
		json.Unmarshal(raw, &ok)
	} else {
		json.Unmarshal(raw, &fail)
	}
	return ok, fail, status
}

func TestHealthAndEmptyMarkets(t *testing.T) {
	h := newAPIHarness(t, false)

	var health map[string]string
	if status := h.do("GET", "/health", nil, &health); status != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("health = %d %v", status, health)
	}
	var markets []MarketInfo
	if status := h.do("GET", "/api/v1/markets", nil, &markets); status != http.StatusOK || len(markets) != 0 {
		t.Fatalf("markets = %d %v", status, markets)
	}
}

// TestSignedEndToEnd: sell 10 YES @0.55, buy 10 @0.60, resolve YES, both claim
func TestSignedEndToEnd(t *testing.T) {
	h := newAPIHarness(t, true)
	id := h.createMarket()

	sell, status := h.placeOrder(h.bob, id, "sell", 5500, 10)
	if status != http.StatusOK || sell.Status != "open" {
		t.Fatalf("sell = %d %+v", status, sell)
	}
	buy, status := h.placeOrder(h.alice, id, "buy", 6000, 10)
	if status != http.StatusOK {
		t.Fatalf("buy status = %d", status)
	}
	if len(buy.Fills) != 1 || buy.Fills[0].Price != 5500 || buy.Refund != 5000 || buy.Status != "filled" {
		t.Fatalf("buy = %+v", buy)
	}

	var trades []TradeInfo
	h.do("GET", "/api/v1/markets/"+id+"/trades", nil, &trades)
	if len(trades) != 1 || trades[0].PriceDecimal != "0.55" || trades[0].Size != 10 {
		t.Fatalf("trades = %+v", trades)
	}

	var quote QuoteInfo
	h.do("GET", "/api/v1/markets/"+id+"/price?outcome=yes", nil, &quote)
	if quote.LastPrice != 5500 || quote.Probability != "0.55" {
		t.Errorf("quote = %+v", quote)
	}

	h.clock.Advance(2 * time.Hour)
	var ack map[string]string
	if status := h.do("POST", "/api/v1/dev/oracle/"+id, OracleAnswerRequest{Outcome: "yes", Confidence: 100}, &ack); status != http.StatusOK {
		t.Fatalf("oracle answer status = %d", status)
	}
	res, _, status := h.action(h.alice, crypto.ActionResolve, id, 0)
	if status != http.StatusOK || res.State != "Resolved" || res.Outcome != "yes" {
		t.Fatalf("resolve = %d %+v", status, res)
	}

	won, _, status := h.action(h.alice, crypto.ActionClaim, id, 0)
	if status != http.StatusOK || won.Amount != 100000 || won.Winnings != 100000 || won.Decimal != "10" {
		t.Fatalf("alice claim = %d %+v", status, won)
	}
	lost, _, status := h.action(h.bob, crypto.ActionClaim, id, 0)
	if status != http.StatusOK || lost.Winnings != 0 || lost.Proceeds != 55000 {
		t.Fatalf("bob claim = %d %+v", status, lost)
	}

	var acct AccountInfo
	h.do("GET", "/api/v1/accounts/"+h.alice.Address().Hex(), nil, &acct)
	if acct.Balance != startingBalance+45000 {
		t.Errorf("alice balance = %d, want %d", acct.Balance, startingBalance+45000)
	}
	h.do("GET", "/api/v1/accounts/"+h.bob.Address().Hex(), nil, &acct)
	if acct.Balance != startingBalance-45000 {
		t.Errorf("bob balance = %d, want %d", acct.Balance, startingBalance-45000)
	}

	var events []predict.Event
	h.do("GET", "/api/v1/markets/"+id+"/events", nil, &events)
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
	}
	if len(events) == 0 || events[len(events)-1].Type != predict.EventWinningsClaimed {
		t.Errorf("journal = %+v", events)
	}

	_, fail, status := h.action(h.alice, crypto.ActionClaim, id, 0)
	if status != http.StatusConflict || fail.Kind != "state" {
		t.Errorf("double claim = %d %+v", status, fail)
	}
}

func TestReplayedOrderRejected(t *testing.T) {
	h := newAPIHarness(t, false)
	id := h.createMarket()

	req := h.orderRequest(h.alice, id, "buy", 4000, 5)
	if status := h.do("POST", "/api/v1/orders", req, nil); status != http.StatusOK {
		t.Fatalf("first submit = %d", status)
	}
	var fail ErrorResponse
	if status := h.do("POST", "/api/v1/orders", req, &fail); status != http.StatusForbidden {
		t.Fatalf("replay = %d %+v", status, fail)
	}
	if !strings.Contains(fail.Message, "nonce") {
		t.Errorf("replay message = %q", fail.Message)
	}

	var orders []OrderInfo
	h.do("GET", "/api/v1/markets/"+id+"/accounts/"+h.alice.Address().Hex()+"/orders", nil, &orders)
	if len(orders) != 1 || orders[0].Reserved != 20000 {
		t.Errorf("orders = %+v", orders)
	}
}

func TestForgedOrderRejected(t *testing.T) {
	h := newAPIHarness(t, false)
	id := h.createMarket()

	req := h.orderRequest(h.bob, id, "buy", 4000, 5)
	req.Owner = h.alice.Address().Hex() // bob signs for alice
	var fail ErrorResponse
	if status := h.do("POST", "/api/v1/orders", req, &fail); status != http.StatusForbidden || fail.Kind != "authorization" {
		t.Fatalf("forged = %d %+v", status, fail)
	}
	if h.wallets.Balance(h.alice.Address()) != startingBalance {
		t.Error("forged order moved alice's funds")
	}
}

func TestErrorStatusMapping(t *testing.T) {
	h := newAPIHarness(t, false)
	id := h.createMarket()

	var fail ErrorResponse
	if status := h.do("GET", "/api/v1/markets/nope", nil, &fail); status != http.StatusNotFound {
		t.Errorf("unknown market = %d", status)
	}
	if _, status := h.placeOrder(h.alice, id, "buy", 10000, 5); status != http.StatusBadRequest {
		t.Errorf("price 10000 = %d", status)
	}
	if _, status := h.placeOrder(h.alice, id, "sell", 5000, startingBalance); status != http.StatusPaymentRequired {
		t.Errorf("unfunded sell = %d", status)
	}

	rest, _ := h.placeOrder(h.alice, id, "buy", 4000, 5)
	if _, fail, status := h.action(h.bob, crypto.ActionCancel, id, rest.OrderID); status != http.StatusForbidden {
		t.Errorf("cancel by non-owner = %d %+v", status, fail)
	}
	if _, fail, status := h.action(h.alice, crypto.ActionResolve, id, 0); status != http.StatusConflict {
		t.Errorf("resolve before deadline = %d %+v", status, fail)
	}
	if status := h.do("GET", "/api/v1/markets/"+id+"/orderbook?depth=x", nil, &fail); status != http.StatusBadRequest || fail.Kind != "request" {
		t.Errorf("bad depth = %d %+v", status, fail)
	}

	refund, _, status := h.action(h.alice, crypto.ActionCancel, id, rest.OrderID)
	if status != http.StatusOK || refund.Amount != 20000 {
		t.Errorf("cancel = %d %+v", status, refund)
	}
}

func TestDevEndpointsRequireDevMode(t *testing.T) {
	h := newAPIHarness(t, false)
	body := FaucetRequest{Address: h.alice.Address().Hex(), Amount: 1}
	if status := h.do("POST", "/api/v1/dev/faucet", body, nil); status != http.StatusNotFound && status != http.StatusMethodNotAllowed {
		t.Errorf("faucet without dev mode = %d", status)
	}

	dev := newAPIHarness(t, true)
	var acct AccountInfo
	body.Address = dev.alice.Address().Hex()
	body.Amount = 5000
	if status := dev.do("POST", "/api/v1/dev/faucet", body, &acct); status != http.StatusOK || acct.Balance != startingBalance+5000 {
		t.Errorf("faucet = %d %+v", status, acct)
	}
	body.Amount = 0
	if status := dev.do("POST", "/api/v1/dev/faucet", body, nil); status != http.StatusBadRequest {
		t.Errorf("zero faucet = %d", status)
	}
}

func TestWebSocketStreamsTrades(t *testing.T) {
	h := newAPIHarness(t, false)
	id := h.createMarket()

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	channel := "trades:" + id
	if err := conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{channel}}); err != nil {
		t.Fatal(err)
	}
	var ack WSAck
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != "subscribed" {
		t.Fatalf("ack = %+v, %v", ack, err)
	}

	h.placeOrder(h.bob, id, "sell", 5500, 3)
	h.placeOrder(h.alice, id, "buy", 5500, 3)

	var msg struct {
		Type    string    `json:"type"`
		Channel string    `json:"channel"`
		Data    TradeInfo `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read trade: %v", err)
	}
	if msg.Type != "trade" || msg.Channel != channel || msg.Data.Price != 5500 || msg.Data.Size != 3 {
		t.Errorf("message = %+v", msg)
	}
}

func TestStatusForKinds(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.ErrInvalidPrice, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", errs.ErrMarketClosed), http.StatusConflict},
		{errs.ErrNotOwner, http.StatusForbidden},
		{errs.ErrInsufficientBalance, http.StatusPaymentRequired},
		{errs.ErrOrderNotFound, http.StatusNotFound},
		{errs.ErrOracleNotReady, http.StatusServiceUnavailable},
		{badRequest("x"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestDecimalRendering(t *testing.T) {
	if got := bpsDecimal(5500); got != "0.55" {
		t.Errorf("bpsDecimal(5500) = %s", got)
	}
	if got := unitsDecimal(45000); got != "4.5" {
		t.Errorf("unitsDecimal(45000) = %s", got)
	}
	if got := unitsDecimal(0); got != "0" {
		t.Errorf("unitsDecimal(0) = %s", got)
	}
}
