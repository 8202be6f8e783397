package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperpredict/pkg/app/predict"
	"github.com/uhyunpark/hyperpredict/pkg/crypto"
)

// maxBodyBytes bounds signed command bodies
const maxBodyBytes = 64 << 10

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}

func parseNonce(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, badRequest("invalid nonce: " + s)
	}
	return n, nil
}

func (s *Server) handleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, err)
		return
	}
	creator, err := parseAddress(req.Creator)
	if err != nil {
		respondErr(w, err)
		return
	}
	nonce, err := parseNonce(req.Nonce)
	if err != nil {
		respondErr(w, err)
		return
	}
	if _, err := s.verifier.Verify(&crypto.CreateMarketEIP712{
		Question: req.Question,
		Deadline: big.NewInt(req.Deadline),
		Payment:  big.NewInt(req.Payment),
		Nonce:    nonce,
		Creator:  creator,
	}, req.Signature); err != nil {
		respondErr(w, err)
		return
	}

	m, err := s.engine.CreateMarket(r.Context(), predict.CreateMarketRequest{
		Creator:  creator,
		Question: req.Question,
		Deadline: time.Unix(req.Deadline, 0),
		Payment:  req.Payment,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	info, err := s.engine.GetMarket(m.ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	s.log.Infow("market_submitted", "market", m.ID, "creator", creator.Hex())
	respondJSONStatus(w, http.StatusCreated, toMarketInfo(info))
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, err)
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		respondErr(w, err)
		return
	}
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		respondErr(w, err)
		return
	}
	outcome, err := market.ParseOutcome(req.Outcome)
	if err != nil {
		respondErr(w, err)
		return
	}
	nonce, err := parseNonce(req.Nonce)
	if err != nil {
		respondErr(w, err)
		return
	}

	if _, err := s.verifier.Verify(&crypto.OrderEIP712{
		MarketID: req.MarketID,
		Side:     crypto.SideToUint8(req.Side),
		Outcome:  crypto.OutcomeToUint8(req.Outcome),
		Price:    big.NewInt(req.Price),
		Amount:   big.NewInt(req.Size),
		Nonce:    nonce,
		Deadline: big.NewInt(req.Deadline),
		Owner:    owner,
	}, req.Signature); err != nil {
		respondErr(w, err)
		return
	}

	// a signed order authorizes exactly the collateral its terms require
	res, err := s.engine.PlaceOrder(r.Context(), predict.PlaceOrderRequest{
		MarketID: req.MarketID,
		Owner:    owner,
		Side:     side,
		Outcome:  outcome,
		Price:    req.Price,
		Amount:   req.Size,
		Payment:  orderbook.Required(side, req.Price, req.Size),
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	fills := make([]FillInfo, len(res.Fills))
	for i, f := range res.Fills {
		fills[i] = FillInfo{Price: f.Price, Size: f.Amount, BuyOrderID: f.BuyOrderID, SellOrderID: f.SellOrderID}
	}
	s.log.Infow("order_submitted", "market", req.MarketID, "owner", owner.Hex(), "order", res.OrderID, "fills", len(fills))
	respondJSON(w, SubmitOrderResponse{
		OrderID:   res.OrderID,
		Status:    res.Status.String(),
		Fills:     fills,
		Filled:    res.Filled,
		Remaining: res.Remaining,
		Truncated: res.Truncated,
		Refund:    res.Refund,
	})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, err)
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		respondErr(w, err)
		return
	}
	nonce, err := parseNonce(req.Nonce)
	if err != nil {
		respondErr(w, err)
		return
	}
	switch req.Action {
	case crypto.ActionCancel, crypto.ActionClaim, crypto.ActionRefund,
		crypto.ActionWithdraw, crypto.ActionResolve, crypto.ActionCollect:
	default:
		respondErr(w, badRequest("unknown action: "+req.Action))
		return
	}

	if _, err := s.verifier.Verify(&crypto.ActionEIP712{
		Action:   req.Action,
		MarketID: req.MarketID,
		OrderID:  new(big.Int).SetUint64(req.OrderID),
		Nonce:    nonce,
		Owner:    owner,
	}, req.Signature); err != nil {
		respondErr(w, err)
		return
	}

	resp, err := s.runAction(r, req, owner)
	if err != nil {
		respondErr(w, err)
		return
	}
	resp.Action = req.Action
	resp.Decimal = unitsDecimal(resp.Amount)
	s.log.Infow("action_applied", "action", req.Action, "market", req.MarketID, "owner", owner.Hex(), "amount", resp.Amount)
	respondJSON(w, resp)
}

func (s *Server) runAction(r *http.Request, req ActionRequest, owner common.Address) (ActionResponse, error) {
	ctx := r.Context()
	switch req.Action {
	case crypto.ActionCancel:
		refund, err := s.engine.CancelOrder(ctx, req.MarketID, req.OrderID, owner)
		return ActionResponse{Amount: refund}, err

	case crypto.ActionClaim, crypto.ActionRefund:
		claim := s.engine.ClaimWinnings
		if req.Action == crypto.ActionRefund {
			claim = s.engine.ClaimRefund
		}
		c, err := claim(ctx, req.MarketID, owner)
		if err != nil {
			return ActionResponse{}, err
		}
		return ActionResponse{
			Amount:      c.Total,
			Winnings:    c.Winnings,
			Proceeds:    c.Proceeds,
			Contributed: c.Contributed,
			OrderRefund: c.OrderRefund,
		}, nil

	case crypto.ActionWithdraw:
		amount, err := s.engine.WithdrawFees(ctx, req.MarketID, owner)
		return ActionResponse{Amount: amount}, err

	case crypto.ActionResolve:
		res, err := s.engine.ResolveMarket(ctx, req.MarketID)
		if err != nil {
			return ActionResponse{}, err
		}
		return ActionResponse{State: res.State.String(), Outcome: res.Outcome.String()}, nil

	default: // collect
		amount, err := s.engine.RetryOwed(ctx, owner)
		return ActionResponse{Amount: amount}, err
	}
}

// ==============================
// Dev endpoints
// ==============================

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	if s.opts.Wallets == nil {
		respondErr(w, badRequest("faucet unavailable"))
		return
	}
	var req FaucetRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, err)
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := s.opts.Wallets.Deposit(addr, req.Amount); err != nil {
		respondErr(w, err)
		return
	}
	balance := s.opts.Wallets.Balance(addr)
	s.log.Infow("faucet_deposit", "address", addr.Hex(), "amount", req.Amount)
	respondJSON(w, AccountInfo{
		Address:        addr.Hex(),
		Balance:        balance,
		BalanceDecimal: unitsDecimal(balance),
		Owed:           s.engine.Owed(addr),
	})
}

func (s *Server) handleOracleAnswer(w http.ResponseWriter, r *http.Request) {
	if s.opts.Oracle == nil {
		respondErr(w, badRequest("dev oracle unavailable"))
		return
	}
	var req OracleAnswerRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, err)
		return
	}
	outcome, err := market.ParseOutcome(req.Outcome)
	if err != nil {
		respondErr(w, err)
		return
	}
	info, err := s.engine.GetMarket(mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := s.opts.Oracle.SetAnswer(info.QuestionID, outcome == market.Yes, req.Confidence); err != nil {
		respondErr(w, badRequest(err.Error()))
		return
	}
	s.log.Infow("oracle_answer_set", "market", info.ID, "outcome", outcome.String(), "confidence", req.Confidence)
	respondJSON(w, map[string]string{"status": "answered", "questionId": info.QuestionID})
}
