package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
)

// BpsDenominator is both the price scale (1..9999 bps) and the number of
// collateral units one winning share redeems for.
const BpsDenominator int64 = 10000

// Outcome of the underlying yes/no question
type Outcome int8

const (
	Unresolved Outcome = iota
	Yes
	No
)

func (o Outcome) String() string {
	switch o {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unresolved"
	}
}

// Opposite returns the other side of a binary outcome
func (o Outcome) Opposite() Outcome {
	switch o {
	case Yes:
		return No
	case No:
		return Yes
	default:
		return Unresolved
	}
}

// Valid reports whether o names a tradable outcome
func (o Outcome) Valid() bool { return o == Yes || o == No }

// ParseOutcome accepts "yes"/"no" in any case
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(s) {
	case "yes":
		return Yes, nil
	case "no":
		return No, nil
	default:
		return Unresolved, fmt.Errorf("%w: %q", errs.ErrInvalidOutcome, s)
	}
}

// State is the lifecycle state of a market
type State int8

const (
	Created State = iota // registered, oracle question pending
	Open                 // trading allowed until deadline
	PendingResolution    // deadline passed, waiting on the oracle
	Resolved             // outcome known, claims enabled
	Refundable           // oracle never answered, contributions returned
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Open:
		return "Open"
	case PendingResolution:
		return "PendingResolution"
	case Resolved:
		return "Resolved"
	case Refundable:
		return "Refundable"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool { return s == Resolved || s == Refundable }

// Market is one binary question with its own books and escrow
type Market struct {
	ID         string
	Question   string
	Creator    common.Address
	QuestionID string // oracle-side reference

	CreatedAt  time.Time
	Deadline   time.Time // fixed at creation
	ResolvedAt time.Time

	State   State
	Outcome Outcome

	Params Params
}

// New returns a market in the Created state
func New(id, question string, creator common.Address, createdAt, deadline time.Time, params Params) (*Market, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: empty question", errs.ErrInvalidQuestion)
	}
	if !deadline.After(createdAt) {
		return nil, fmt.Errorf("%w: deadline %s not after %s", errs.ErrInvalidDeadline,
			deadline.Format(time.RFC3339), createdAt.Format(time.RFC3339))
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}
	return &Market{
		ID:        id,
		Question:  question,
		Creator:   creator,
		CreatedAt: createdAt,
		Deadline:  deadline,
		State:     Created,
		Outcome:   Unresolved,
		Params:    params,
	}, nil
}

// transition enforces monotonic lifecycle progress.
// Created → Open → PendingResolution → {Resolved | Refundable}
func (m *Market) transition(to State) error {
	allowed := false
	switch m.State {
	case Created:
		allowed = to == Open
	case Open:
		allowed = to == PendingResolution
	case PendingResolution:
		allowed = to == Resolved || to == Refundable
	}
	if !allowed {
		if m.State.Terminal() {
			return fmt.Errorf("%w: market %s is %s", errs.ErrAlreadyResolved, m.ID, m.State)
		}
		return fmt.Errorf("%w: cannot move market %s from %s to %s", errs.ErrMarketClosed, m.ID, m.State, to)
	}
	m.State = to
	return nil
}

// Open starts trading once the oracle question is registered
func (m *Market) Open(questionID string) error {
	if err := m.transition(Open); err != nil {
		return err
	}
	m.QuestionID = questionID
	return nil
}

// Advance applies the time-driven transition. Returns true if the state changed.
func (m *Market) Advance(now time.Time) bool {
	if m.State == Open && !now.Before(m.Deadline) {
		m.State = PendingResolution
		return true
	}
	return false
}

// EffectiveState is the state Advance would produce at now, without mutating
func (m *Market) EffectiveState(now time.Time) State {
	if m.State == Open && !now.Before(m.Deadline) {
		return PendingResolution
	}
	return m.State
}

// AcceptingOrders gates order admission and matching
func (m *Market) AcceptingOrders(now time.Time) error {
	if m.State != Open {
		if m.State == PendingResolution {
			return fmt.Errorf("%w: market %s closed at %s", errs.ErrDeadlinePassed, m.ID, m.Deadline.Format(time.RFC3339))
		}
		return fmt.Errorf("%w: market %s is %s", errs.ErrMarketClosed, m.ID, m.State)
	}
	if !now.Before(m.Deadline) {
		return fmt.Errorf("%w: market %s closed at %s", errs.ErrDeadlinePassed, m.ID, m.Deadline.Format(time.RFC3339))
	}
	return nil
}

// Resolve sets the outcome. Allowed once, only after the deadline.
func (m *Market) Resolve(outcome Outcome, at time.Time) error {
	if !outcome.Valid() {
		return fmt.Errorf("%w: %d", errs.ErrInvalidOutcome, outcome)
	}
	if m.Outcome != Unresolved {
		return fmt.Errorf("%w: market %s resolved %s", errs.ErrAlreadyResolved, m.ID, m.Outcome)
	}
	if err := m.transition(Resolved); err != nil {
		return err
	}
	m.Outcome = outcome
	m.ResolvedAt = at
	return nil
}

// MarkRefundable ends the market without an outcome
func (m *Market) MarkRefundable(at time.Time) error {
	if err := m.transition(Refundable); err != nil {
		return err
	}
	m.ResolvedAt = at
	return nil
}

// GraceExpired reports whether the oracle missed its answer window
func (m *Market) GraceExpired(now time.Time) bool {
	return !now.Before(m.Deadline.Add(m.Params.ResolutionGrace))
}

// Clone returns a copy safe to hand to readers
func (m *Market) Clone() *Market {
	cp := *m
	return &cp
}
