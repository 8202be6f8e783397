// sign-order builds a signed API request body for a dev node.
//
//	sign-order -key <hex> -market <id> -side buy -outcome yes -price 5500 -size 10
//	sign-order -key <hex> -market <id> -action claim
//	sign-order -key <hex> -question "Will it rain?" -deadline 1767225600 -payment 15000
//
// Without -key a fresh keypair is generated and printed.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/uhyunpark/hyperpredict/pkg/api"
	"github.com/uhyunpark/hyperpredict/pkg/crypto"
)

func main() {
	var (
		keyHex   = flag.String("key", "", "private key hex (generated when empty)")
		chainID  = flag.Int64("chain", 1337, "EIP-712 chain id")
		marketID = flag.String("market", "", "market id")
		side     = flag.String("side", "buy", "buy or sell")
		outcome  = flag.String("outcome", "yes", "yes or no")
		price    = flag.Int64("price", 5000, "limit price in bps (1-9999)")
		size     = flag.Int64("size", 1, "shares")
		expiry   = flag.Int64("expiry", 0, "signature expiry, unix seconds (0 = none)")
		action   = flag.String("action", "", "cancel, claim, refund, withdraw, resolve or collect")
		orderID  = flag.Uint64("order", 0, "order id for cancel")
		question = flag.String("question", "", "create a market with this question")
		deadline = flag.Int64("deadline", 0, "market deadline, unix seconds")
		payment  = flag.Int64("payment", 15000, "market creation payment")
	)
	flag.Parse()

	signer, err := loadSigner(*keyHex)
	if err != nil {
		fail("key", err)
	}
	eip := crypto.NewEIP712Signer(crypto.DomainForChain(*chainID))
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		fail("nonce", err)
	}
	owner := signer.Address()

	var (
		msg  crypto.Message
		body any
		path string
	)
	switch {
	case *question != "":
		m := &crypto.CreateMarketEIP712{
			Question: *question,
			Deadline: big.NewInt(*deadline),
			Payment:  big.NewInt(*payment),
			Nonce:    new(big.Int).SetUint64(nonce),
			Creator:  owner,
		}
		req := &api.CreateMarketRequest{
			Question: *question,
			Deadline: *deadline,
			Payment:  *payment,
			Nonce:    m.Nonce.String(),
			Creator:  owner.Hex(),
		}
		msg, body, path = m, req, "/api/v1/markets"
	case *action != "":
		m := &crypto.ActionEIP712{
			Action:   *action,
			MarketID: *marketID,
			OrderID:  new(big.Int).SetUint64(*orderID),
			Nonce:    new(big.Int).SetUint64(nonce),
			Owner:    owner,
		}
		req := &api.ActionRequest{
			Action:   *action,
			MarketID: *marketID,
			OrderID:  *orderID,
			Nonce:    m.Nonce.String(),
			Owner:    owner.Hex(),
		}
		msg, body, path = m, req, "/api/v1/actions"
	default:
		m := &crypto.OrderEIP712{
			MarketID: *marketID,
			Side:     crypto.SideToUint8(*side),
			Outcome:  crypto.OutcomeToUint8(*outcome),
			Price:    big.NewInt(*price),
			Amount:   big.NewInt(*size),
			Nonce:    new(big.Int).SetUint64(nonce),
			Deadline: big.NewInt(*expiry),
			Owner:    owner,
		}
		req := &api.SubmitOrderRequest{
			MarketID: *marketID,
			Side:     crypto.Uint8ToSide(m.Side),
			Outcome:  crypto.Uint8ToOutcome(m.Outcome),
			Price:    *price,
			Size:     *size,
			Nonce:    m.Nonce.String(),
			Deadline: *expiry,
			Owner:    owner.Hex(),
		}
		msg, body, path = m, req, "/api/v1/orders"
	}

	sig, err := eip.Sign(signer, msg)
	if err != nil {
		fail("sign", err)
	}
	recovered, err := eip.Recover(msg, sig)
	if err != nil || recovered != owner {
		fail("verify", fmt.Errorf("recovered %s, want %s (%v)", recovered.Hex(), owner.Hex(), err))
	}
	setSignature(body, crypto.EncodeSignature(sig))

	out, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		fail("marshal", err)
	}
	fmt.Fprintf(os.Stderr, "signer %s\nPOST http://localhost:8080%s\n", owner.Hex(), path)
	fmt.Println(string(out))
}

func loadSigner(keyHex string) (*crypto.Signer, error) {
	if keyHex != "" {
		return crypto.FromPrivateKeyHex(keyHex)
	}
	s, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "generated key %s (KEEP SECRET!)\n", s.PrivateKeyHex())
	return s, nil
}

func setSignature(body any, sig string) {
	switch req := body.(type) {
	case *api.CreateMarketRequest:
		req.Signature = sig
	case *api.ActionRequest:
		req.Signature = sig
	case *api.SubmitOrderRequest:
		req.Signature = sig
	}
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
