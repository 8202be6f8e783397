package crypto

import (
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
)

func testOrder(owner *Signer, nonce int64) *OrderEIP712 {
	return &OrderEIP712{
		MarketID: "3f0c9a8e-0000-4000-8000-000000000001",
		Side:     SideBuy,
		Outcome:  OutcomeYes,
		Price:    big.NewInt(5500),
		Amount:   big.NewInt(10),
		Nonce:    big.NewInt(nonce),
		Deadline: big.NewInt(0),
		Owner:    owner.Address(),
	}
}

func TestOrderSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())
	order := testOrder(signer, 1)

	sig, err := e.Sign(signer, order)
	if err != nil {
		t.Fatalf("failed to sign order: %v", err)
	}
	addr, err := e.Recover(order, sig)
	if err != nil {
		t.Fatal(err)
	}
	if addr != signer.Address() {
		t.Errorf("recovered %s, want %s", addr.Hex(), signer.Address().Hex())
	}

	// any field change yields a different signer
	order.Price = big.NewInt(5600)
	if addr, _ := e.Recover(order, sig); addr == signer.Address() {
		t.Error("tampered order still recovers the owner")
	}
}

func TestDomainSeparatesChains(t *testing.T) {
	signer, _ := GenerateKey()
	order := testOrder(signer, 1)

	h1, err := NewEIP712Signer(DomainForChain(1337)).Hash(order)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := NewEIP712Signer(DomainForChain(1)).Hash(order)
	if err != nil {
		t.Fatal(err)
	}
	if string(h1) == string(h2) {
		t.Error("same digest on different chains")
	}
}

func TestMessageTypesHashDistinctly(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())

	msgs := []Message{
		testOrder(signer, 1),
		&ActionEIP712{Action: ActionCancel, MarketID: "m", OrderID: big.NewInt(1), Nonce: big.NewInt(1), Owner: signer.Address()},
		&ActionEIP712{Action: ActionClaim, MarketID: "m", Nonce: big.NewInt(1), Owner: signer.Address()},
		&CreateMarketEIP712{Question: "q?", Deadline: big.NewInt(1_800_000_000), Payment: big.NewInt(15000), Nonce: big.NewInt(1), Creator: signer.Address()},
	}
	seen := make(map[string]bool)
	for _, m := range msgs {
		h, err := e.Hash(m)
		if err != nil {
			t.Fatalf("%s: %v", m.primaryType(), err)
		}
		if seen[string(h)] {
			t.Errorf("%s: digest collision", m.primaryType())
		}
		seen[string(h)] = true
	}
}

func TestToJSONIsWalletInput(t *testing.T) {
	signer, _ := GenerateKey()
	out, err := NewEIP712Signer(DefaultDomain()).ToJSON(testOrder(signer, 7))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"primaryType": "Order"`, `"EIP712Domain"`, `"HyperPredict"`, `"marketId"`} {
		if !strings.Contains(out, want) {
			t.Errorf("typed data JSON missing %s", want)
		}
	}
}

func TestVerifierRejectsReplay(t *testing.T) {
	signer, _ := GenerateKey()
	v := NewVerifier(DefaultDomain(), nil)
	order := testOrder(signer, 42)

	sig, _ := v.Signer().Sign(signer, order)
	owner, err := v.Verify(order, EncodeSignature(sig))
	if err != nil {
		t.Fatalf("first use: %v", err)
	}
	if owner != signer.Address() {
		t.Errorf("owner = %s", owner.Hex())
	}

	if _, err := v.Verify(order, EncodeSignature(sig)); !errors.Is(err, errs.ErrNonceReused) {
		t.Errorf("replay err = %v, want ErrNonceReused", err)
	}

	// a fresh nonce is accepted
	next := testOrder(signer, 43)
	sig, _ = v.Signer().Sign(signer, next)
	if _, err := v.Verify(next, EncodeSignature(sig)); err != nil {
		t.Errorf("next nonce: %v", err)
	}
}

func TestVerifierRejectsForgedOwner(t *testing.T) {
	alice, _ := GenerateKey()
	mallory, _ := GenerateKey()
	v := NewVerifier(DefaultDomain(), nil)

	order := testOrder(alice, 1)
	sig, _ := v.Signer().Sign(mallory, order)
	if _, err := v.Verify(order, EncodeSignature(sig)); !errors.Is(err, errs.ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
	if errs.KindOf(errs.ErrInvalidSignature) != errs.KindAuthorization {
		t.Error("invalid signature must be an authorization error")
	}

	// the rejected attempt must not burn alice's nonce
	sig, _ = v.Signer().Sign(alice, order)
	if _, err := v.Verify(order, EncodeSignature(sig)); err != nil {
		t.Errorf("owner signature after forgery: %v", err)
	}
}

func TestVerifierRejectsExpiredOrder(t *testing.T) {
	signer, _ := GenerateKey()
	now := time.Unix(1_800_000_000, 0)
	v := NewVerifier(DefaultDomain(), func() time.Time { return now })

	order := testOrder(signer, 1)
	order.Deadline = big.NewInt(now.Unix() - 1)
	sig, _ := v.Signer().Sign(signer, order)
	if _, err := v.Verify(order, EncodeSignature(sig)); !errors.Is(err, errs.ErrSignatureExpired) {
		t.Errorf("err = %v, want ErrSignatureExpired", err)
	}
}

func TestWireCodesIgnoreCase(t *testing.T) {
	for _, s := range []string{"buy", "BUY", "Buy", "bUy"} {
		if got := SideToUint8(s); got != SideBuy {
			t.Errorf("SideToUint8(%q) = %d", s, got)
		}
	}
	if got := SideToUint8("sElL"); got != SideSell {
		t.Errorf("SideToUint8(sElL) = %d", got)
	}
	for _, s := range []string{"yes", "YES", "yEs"} {
		if got := OutcomeToUint8(s); got != OutcomeYes {
			t.Errorf("OutcomeToUint8(%q) = %d", s, got)
		}
	}
	if got := OutcomeToUint8("nO"); got != OutcomeNo {
		t.Errorf("OutcomeToUint8(nO) = %d", got)
	}
	if SideToUint8("hold") != 0 || OutcomeToUint8("maybe") != 0 {
		t.Error("unknown names must map to 0")
	}
}
