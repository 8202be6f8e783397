package market

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
)

var (
	creator = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	t0      = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newTestMarket(t *testing.T, id string) *Market {
	t.Helper()
	m, err := New(id, "Will it snow?", creator, t0, t0.Add(time.Hour), DefaultParams)
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	return m
}

func TestLifecycleHappyPath(t *testing.T) {
	m := newTestMarket(t, "m1")
	if m.State != Created {
		t.Fatalf("state = %s", m.State)
	}
	if err := m.AcceptingOrders(t0); !errors.Is(err, errs.ErrMarketClosed) {
		t.Errorf("created market accepting orders: %v", err)
	}

	if err := m.Open("q-1"); err != nil {
		t.Fatal(err)
	}
	if err := m.AcceptingOrders(t0.Add(59 * time.Minute)); err != nil {
		t.Errorf("open market rejected order: %v", err)
	}
	if err := m.AcceptingOrders(t0.Add(time.Hour)); !errors.Is(err, errs.ErrDeadlinePassed) {
		t.Errorf("at deadline err = %v", err)
	}

	deadline := t0.Add(time.Hour)
	if m.EffectiveState(deadline) != PendingResolution || m.State != Open {
		t.Error("EffectiveState must not mutate")
	}
	if m.Advance(deadline.Add(-time.Nanosecond)) {
		t.Error("advanced before deadline")
	}
	if !m.Advance(deadline) || m.State != PendingResolution {
		t.Fatalf("advance at deadline: state=%s", m.State)
	}
	if m.Advance(deadline) {
		t.Error("advance is not idempotent")
	}

	if err := m.Resolve(Yes, deadline); err != nil {
		t.Fatal(err)
	}
	if m.Outcome != Yes || !m.State.Terminal() || !m.ResolvedAt.Equal(deadline) {
		t.Errorf("after resolve: %+v", m)
	}
}

func TestTransitionsAreMonotonic(t *testing.T) {
	m := newTestMarket(t, "m2")

	if err := m.Resolve(Yes, t0); !errors.Is(err, errs.ErrMarketClosed) {
		t.Errorf("resolve from created err = %v", err)
	}
	m.Open("q")
	if err := m.Open("q"); !errors.Is(err, errs.ErrMarketClosed) {
		t.Errorf("open twice err = %v", err)
	}
	if err := m.MarkRefundable(t0); !errors.Is(err, errs.ErrMarketClosed) {
		t.Errorf("refundable from open err = %v", err)
	}

	m.Advance(t0.Add(2 * time.Hour))
	if err := m.MarkRefundable(t0.Add(2 * time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := m.Resolve(No, t0.Add(3*time.Hour)); !errors.Is(err, errs.ErrAlreadyResolved) {
		t.Errorf("resolve refundable err = %v", err)
	}
	if err := m.MarkRefundable(t0); !errors.Is(err, errs.ErrAlreadyResolved) {
		t.Errorf("refundable twice err = %v", err)
	}
	if m.Outcome != Unresolved {
		t.Errorf("outcome set on refundable market: %s", m.Outcome)
	}
}

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name     string
		question string
		deadline time.Time
		params   Params
		want     error
	}{
		{"empty question", "", t0.Add(time.Hour), DefaultParams, errs.ErrInvalidQuestion},
		{"deadline before creation", "q", t0.Add(-time.Second), DefaultParams, errs.ErrInvalidDeadline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New("x", tc.question, creator, t0, tc.deadline, tc.params); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}

	bad := DefaultParams
	bad.TradingFeeBps = BpsDenominator
	if _, err := New("x", "q", creator, t0, t0.Add(time.Hour), bad); err == nil {
		t.Error("fee of 100% accepted")
	}
}

func TestGraceWindow(t *testing.T) {
	m := newTestMarket(t, "m3")
	end := t0.Add(time.Hour).Add(DefaultParams.ResolutionGrace)
	if m.GraceExpired(end.Add(-time.Second)) {
		t.Error("grace expired early")
	}
	if !m.GraceExpired(end) {
		t.Error("grace not expired at deadline+grace")
	}
}

func TestValidPrice(t *testing.T) {
	for _, tc := range []struct {
		price int64
		ok    bool
	}{{0, false}, {1, true}, {5000, true}, {9999, true}, {10000, false}, {-1, false}} {
		if ValidPrice(tc.price) != tc.ok {
			t.Errorf("ValidPrice(%d) = %v", tc.price, !tc.ok)
		}
	}
}

func TestOutcomeParsing(t *testing.T) {
	if o, err := ParseOutcome("YES"); err != nil || o != Yes || o.Opposite() != No {
		t.Errorf("parse YES = %s err=%v", o, err)
	}
	if _, err := ParseOutcome("maybe"); !errors.Is(err, errs.ErrInvalidOutcome) {
		t.Errorf("parse maybe err = %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	later, _ := New("b", "q", creator, t0.Add(time.Minute), t0.Add(time.Hour), DefaultParams)
	first := newTestMarket(t, "a")

	if err := r.Register(later); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(first); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(first); err == nil {
		t.Error("duplicate registration accepted")
	}
	if _, err := r.Get("zzz"); !errors.Is(err, errs.ErrMarketNotFound) {
		t.Errorf("get unknown err = %v", err)
	}
	list := r.List()
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" || r.Count() != 2 {
		t.Errorf("list order = %v", []string{list[0].ID, list[1].ID})
	}
}
