package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func newTestEscrow(t *testing.T, feeBps int64) *Escrow {
	l := New()
	e, err := l.Open("m1", feeBps)
	if err != nil {
		t.Fatalf("failed to open escrow: %v", err)
	}
	return e
}

func mustCheck(t *testing.T, e *Escrow, required map[uint64]int64) {
	t.Helper()
	if err := e.Check(required); err != nil {
		t.Fatalf("conservation check failed: %v", err)
	}
}

// fill settles alice buying Yes from bob: buy order 1 (limit), sell order 2
func fill(t *testing.T, e *Escrow, limit, price, amount int64) SettleResult {
	t.Helper()
	res, err := e.Settle(Settlement{
		Outcome:     market.Yes,
		Price:       price,
		Amount:      amount,
		BuyerLimit:  limit,
		BuyOrderID:  1,
		SellOrderID: 2,
		Buyer:       alice,
		Seller:      bob,
	})
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	return res
}

func TestLedgerOpenTwice(t *testing.T) {
	l := New()
	if _, err := l.Open("m1", 0); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := l.Open("m1", 0); err == nil {
		t.Error("expected error opening the same market twice")
	}
	if _, err := l.Escrow("nope"); !errors.Is(err, errs.ErrMarketNotFound) {
		t.Errorf("missing escrow err = %v", err)
	}
	if ids := l.Markets(); len(ids) != 1 || ids[0] != "m1" {
		t.Errorf("markets = %v", ids)
	}
}

func TestDiscardReleasesMarketID(t *testing.T) {
	l := New()
	if _, err := l.Open("m1", 0); err != nil {
		t.Fatal(err)
	}
	l.Discard("m1")
	if ids := l.Markets(); len(ids) != 0 {
		t.Errorf("markets after discard = %v", ids)
	}
	if _, err := l.Open("m1", 0); err != nil {
		t.Errorf("reopen after discard: %v", err)
	}
	l.Discard("never-opened")
}

func TestReserveRelease(t *testing.T) {
	e := newTestEscrow(t, 0)

	if err := e.Reserve(1, 60000); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	mustCheck(t, e, map[uint64]int64{1: 60000})

	if err := e.Release(1, 20000); err != nil {
		t.Fatalf("release: %v", err)
	}
	if e.Reservation(1) != 40000 || e.Balance != 40000 {
		t.Errorf("reservation=%d balance=%d", e.Reservation(1), e.Balance)
	}
	mustCheck(t, e, map[uint64]int64{1: 40000})

	if err := e.Release(1, 50000); !errors.Is(err, errs.ErrInvariantViolated) {
		t.Errorf("over-release err = %v", err)
	}
	if err := e.Reserve(1, 0); err == nil {
		t.Error("zero reserve accepted")
	}
}

func TestSettleMovesReservationsIntoPool(t *testing.T) {
	e := newTestEscrow(t, 0)
	e.Reserve(1, 7000*10)  // buy 10 @ 70
	e.Reserve(2, 10000*10) // sell 10

	res := fill(t, e, 7000, 6000, 10)

	// price improvement: reserved at 70, filled at 60
	if res.BuyerRefund != 10000 {
		t.Errorf("buyer refund = %d, want 10000", res.BuyerRefund)
	}
	if e.Locked != 60000+100000 {
		t.Errorf("locked pool = %d, want 160000", e.Locked)
	}
	if e.Reserved() != 0 {
		t.Errorf("reserved = %d after full fill", e.Reserved())
	}
	mustCheck(t, e, nil)

	buyer := e.Position(alice)
	if buyer.YesShares != 10 || buyer.Locked != 60000 || buyer.Paid != 60000 {
		t.Errorf("buyer position = %+v", buyer)
	}
	seller := e.Position(bob)
	if seller.NoShares != 10 || seller.Proceeds != 60000 || seller.Locked != 100000 {
		t.Errorf("seller position = %+v", seller)
	}
}

func TestSettleTakesFeeFromSeller(t *testing.T) {
	e := newTestEscrow(t, 50) // 0.5%
	e.Reserve(1, 6000*10)
	e.Reserve(2, 10000*10)

	res := fill(t, e, 6000, 6000, 10)
	if res.Fee != 300 {
		t.Fatalf("fee = %d, want 300", res.Fee)
	}
	// accrued inside the pool until resolution
	if e.Fees != 0 || e.Accrued != 300 {
		t.Errorf("fee sink = %d accrued = %d", e.Fees, e.Accrued)
	}
	if p := e.Position(bob); p.Proceeds != 60000 || p.FeesOwed != 300 || p.Locked != 100000 {
		t.Errorf("seller position = %+v", p)
	}
	mustCheck(t, e, nil)

	if err := e.Resolve(market.Yes); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if e.Fees != 300 || e.Accrued != 0 {
		t.Errorf("after resolve fees = %d accrued = %d", e.Fees, e.Accrued)
	}
	if p := e.Position(bob); p.Locked != 59700 {
		t.Errorf("seller entitlement = %d, want 59700", p.Locked)
	}
	mustCheck(t, e, nil)

	sold, _ := e.ClaimWinnings(bob, market.Yes)
	if sold.Proceeds != 59700 || sold.Total != 59700 {
		t.Errorf("seller payout = %+v", sold)
	}
}

func TestSettleRejectsUnderfundedOrders(t *testing.T) {
	e := newTestEscrow(t, 0)
	e.Reserve(1, 6000*5)
	e.Reserve(2, 10000*10)

	_, err := e.Settle(Settlement{Outcome: market.Yes, Price: 6000, Amount: 10, BuyerLimit: 6000, BuyOrderID: 1, SellOrderID: 2, Buyer: alice, Seller: bob})
	if !errors.Is(err, errs.ErrInvariantViolated) {
		t.Errorf("err = %v, want invariant violation", err)
	}
	// nothing moved
	mustCheck(t, e, map[uint64]int64{1: 30000, 2: 100000})
}

func TestResolveAndClaim(t *testing.T) {
	e := newTestEscrow(t, 0)
	e.Reserve(1, 6000*10)
	e.Reserve(2, 10000*10)
	fill(t, e, 6000, 5500, 10)

	if err := e.Resolve(market.Yes); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	mustCheck(t, e, nil)

	won, ok := e.ClaimWinnings(alice, market.Yes)
	if !ok || won.Winnings != 100000 || won.Proceeds != 0 || won.Total != 100000 {
		t.Errorf("buyer payout = %+v ok=%v", won, ok)
	}
	sold, ok := e.ClaimWinnings(bob, market.Yes)
	if !ok || sold.Winnings != 0 || sold.Proceeds != 55000 || sold.Total != 55000 {
		t.Errorf("seller payout = %+v ok=%v", sold, ok)
	}
	if e.Locked != 0 || e.Balance != 0 {
		t.Errorf("pool not drained: locked=%d balance=%d", e.Locked, e.Balance)
	}
	mustCheck(t, e, nil)

	// second claim finds nothing
	if _, ok := e.ClaimWinnings(alice, market.Yes); ok {
		t.Error("double claim paid out")
	}
	if p := e.Position(alice); !p.Claimed || !p.Empty() {
		t.Errorf("claimed position not zeroed: %+v", p)
	}
}

func TestResolveLosingSideGetsNothing(t *testing.T) {
	e := newTestEscrow(t, 0)
	e.Reserve(1, 6000*10)
	e.Reserve(2, 10000*10)
	fill(t, e, 6000, 6000, 10)

	if err := e.Resolve(market.No); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	won, ok := e.ClaimWinnings(alice, market.No)
	if !ok || won.Total != 0 {
		t.Errorf("losing buyer payout = %+v ok=%v", won, ok)
	}
	sold, _ := e.ClaimWinnings(bob, market.No)
	if sold.Winnings != 100000 || sold.Proceeds != 60000 || sold.Total != 160000 {
		t.Errorf("seller payout = %+v", sold)
	}
	mustCheck(t, e, nil)
}

func TestRefundReturnsContributions(t *testing.T) {
	e := newTestEscrow(t, 50)
	e.Reserve(1, 6000*10)
	e.Reserve(2, 10000*10)
	fill(t, e, 6000, 6000, 10)

	paid, ok := e.ClaimRefund(alice)
	if !ok || paid != 60000 {
		t.Errorf("buyer refund = %d ok=%v", paid, ok)
	}
	// full face value back, accrued fee forgiven
	paid, ok = e.ClaimRefund(bob)
	if !ok || paid != 100000 {
		t.Errorf("seller refund = %d, want 100000", paid)
	}
	if e.Balance != 0 || e.Accrued != 0 {
		t.Errorf("balance=%d accrued=%d after all refunds", e.Balance, e.Accrued)
	}
	mustCheck(t, e, nil)
}

func TestFeeCollectionAndWithdrawal(t *testing.T) {
	e := newTestEscrow(t, 0)
	e.CollectFee(500)
	mustCheck(t, e, nil)

	if got := e.WithdrawFees(); got != 500 {
		t.Errorf("withdrawn = %d", got)
	}
	if e.Fees != 0 || e.Balance != 0 {
		t.Errorf("fees=%d balance=%d", e.Fees, e.Balance)
	}
}

func TestCheckDetectsMismatch(t *testing.T) {
	e := newTestEscrow(t, 0)
	e.Reserve(1, 6000)

	if err := e.Check(map[uint64]int64{1: 5000}); !errors.Is(err, errs.ErrInvariantViolated) {
		t.Errorf("mismatched reservation err = %v", err)
	}
	if err := e.Check(map[uint64]int64{1: 6000, 2: 100}); !errors.Is(err, errs.ErrInvariantViolated) {
		t.Errorf("missing reservation err = %v", err)
	}
	e.Balance++
	if err := e.Check(map[uint64]int64{1: 6000}); !errors.Is(err, errs.ErrInvariantViolated) {
		t.Errorf("balance drift err = %v", err)
	}
}

func TestWalletsPullPush(t *testing.T) {
	w, err := NewWallets(nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	w.Deposit(alice, 1000)

	if err := w.Pull(ctx, alice, 1500); !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Errorf("overdraw err = %v", err)
	}
	if err := w.Pull(ctx, alice, 400); err != nil {
		t.Fatalf("pull: %v", err)
	}

	var got int64
	w.OnReceive(func(_ context.Context, to common.Address, amount int64) {
		if to == bob {
			got += amount
		}
	})
	if err := w.Push(ctx, bob, 400); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got != 400 {
		t.Errorf("hook saw %d", got)
	}
	if w.Balance(alice) != 600 || w.Balance(bob) != 400 || w.Total() != 1000 {
		t.Errorf("balances alice=%d bob=%d total=%d", w.Balance(alice), w.Balance(bob), w.Total())
	}
}

type memBalances map[common.Address]int64

func (m memBalances) SaveBalance(addr common.Address, bal int64) error {
	m[addr] = bal
	return nil
}

func (m memBalances) LoadBalances() (map[common.Address]int64, error) {
	return m, nil
}

func TestWalletsRestoreFromStore(t *testing.T) {
	store := memBalances{}
	w, _ := NewWallets(store)
	w.Deposit(alice, 700)

	restored, err := NewWallets(store)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Balance(alice) != 700 {
		t.Errorf("restored balance = %d", restored.Balance(alice))
	}
}
