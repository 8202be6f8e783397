// Package oracle defines the verdict source markets settle against,
// plus a manual implementation for dev nodes and tests.
package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Answer is the oracle's verdict on a question
type Answer struct {
	Resolved   bool  // false until the oracle has a verdict
	Outcome    bool  // true = Yes
	Confidence uint8 // 0-100
}

// Oracle registers questions and reports their verdicts
type Oracle interface {
	// AskQuestion registers a question to be answered after deadline
	AskQuestion(ctx context.Context, text string, deadline time.Time) (string, error)
	// GetAnswer returns the current verdict; Resolved is false while none exists
	GetAnswer(ctx context.Context, questionID string) (Answer, error)
	// Payee receives the oracle fee paid at market creation
	Payee() common.Address
}

// Restorer is implemented by oracles whose questions live in process memory.
// A restarted node re-registers the questions of markets it rebuilt from its journal.
type Restorer interface {
	RestoreQuestion(id, text string, deadline time.Time) error
}

type question struct {
	text     string
	deadline time.Time
	answer   Answer
}

// Manual is an in-memory oracle answered by hand (dev faucet endpoints, tests)
type Manual struct {
	mu        sync.RWMutex
	payee     common.Address
	questions map[string]*question
	seq       uint64
	fail      error // when set, every call returns it
}

func NewManual(payee common.Address) *Manual {
	return &Manual{
		payee:     payee,
		questions: make(map[string]*question),
	}
}

func (m *Manual) AskQuestion(ctx context.Context, text string, deadline time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return "", m.fail
	}
	m.seq++
	id := fmt.Sprintf("q-%d", m.seq)
	m.questions[id] = &question{text: text, deadline: deadline}
	return id, nil
}

func (m *Manual) GetAnswer(ctx context.Context, questionID string) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fail != nil {
		return Answer{}, m.fail
	}
	q, ok := m.questions[questionID]
	if !ok {
		return Answer{}, fmt.Errorf("unknown question %s", questionID)
	}
	return q.answer, nil
}

func (m *Manual) Payee() common.Address { return m.payee }

// SetAnswer records the verdict for a question
func (m *Manual) SetAnswer(questionID string, outcome bool, confidence uint8) error {
	if confidence > 100 {
		return fmt.Errorf("confidence out of range: %d", confidence)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.questions[questionID]
	if !ok {
		return fmt.Errorf("unknown question %s", questionID)
	}
	q.answer = Answer{Resolved: true, Outcome: outcome, Confidence: confidence}
	return nil
}

// Fail makes every subsequent call return err; nil restores normal operation
func (m *Manual) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Question returns the text and deadline registered under id
func (m *Manual) Question(id string) (string, time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[id]
	if !ok {
		return "", time.Time{}, false
	}
	return q.text, q.deadline, true
}

// RestoreQuestion re-registers a question under its original id, unanswered.
// Ids minted afterwards never collide with restored ones.
func (m *Manual) RestoreQuestion(id, text string, deadline time.Time) error {
	var n uint64
	if _, err := fmt.Sscanf(id, "q-%d", &n); err != nil {
		return fmt.Errorf("foreign question id %q: %w", id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.questions[id]; !ok {
		m.questions[id] = &question{text: text, deadline: deadline}
	}
	if n > m.seq {
		m.seq = n
	}
	return nil
}
