// Package session tracks each user's progress through the three step /add
// form. Sessions live in memory only and expire after a period of
// inactivity; expiry is checked when the user next interacts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/looplab/fsm"

	"invbot/internal/entry"
)

// Step is the position of a user in the form.
type Step int

const (
	NoSession Step = iota
	Step1Pending
	Step2Pending
	Step3Pending
	Complete
)

func (s Step) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case Step1Pending:
		return "step1_pending"
	case Step2Pending:
		return "step2_pending"
	case Step3Pending:
		return "step3_pending"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

func parseStep(s string) Step {
	for st := Step1Pending; st <= Complete; st++ {
		if st.String() == s {
			return st
		}
	}
	return NoSession
}

// DefaultIdleTimeout is how long an untouched session stays resumable.
const DefaultIdleTimeout = 10 * time.Minute

var (
	ErrOutOfOrderStep = errors.New("step submitted out of order")
	ErrDuplicateField = errors.New("field already collected by an earlier step")
)

// Session is one user's in-progress form.
type Session struct {
	UserID    int64
	Collected entry.Values
	CreatedAt time.Time
	UpdatedAt time.Time

	machine *fsm.FSM
}

func newSession(userID int64, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		Collected: make(entry.Values),
		CreatedAt: now,
		UpdatedAt: now,
		machine: fsm.NewFSM(
			Step1Pending.String(),
			fsm.Events{
				{Name: submitEvent(1), Src: []string{Step1Pending.String()}, Dst: Step2Pending.String()},
				{Name: submitEvent(2), Src: []string{Step2Pending.String()}, Dst: Step3Pending.String()},
				{Name: submitEvent(3), Src: []string{Step3Pending.String()}, Dst: Complete.String()},
			},
			fsm.Callbacks{},
		),
	}
}

func submitEvent(step int) string {
	return fmt.Sprintf("submit_step_%d", step)
}

// Step returns the session's current state.
func (s *Session) Step() Step {
	return parseStep(s.machine.Current())
}

// Update describes the outcome of an accepted submission.
type Update struct {
	Step      Step
	Restarted bool
	// Collected is a copy of every field gathered so far.
	Collected entry.Values
	// Record is set once the form is complete and valid.
	Record *entry.FieldRecord
}

// Machine enforces step ordering over a Store.
type Machine struct {
	store  Store
	stores []string
	idle   time.Duration
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Machine)

func WithIdleTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.idle = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// New builds a Machine. stores lists the allowed store choices used when
// validating the completed record.
func New(store Store, stores []string, opts ...Option) *Machine {
	m := &Machine{
		store:  store,
		stores: append([]string(nil), stores...),
		idle:   DefaultIdleTimeout,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// live drops cur when it has been idle for too long.
func (m *Machine) live(cur *Session, now time.Time) *Session {
	if cur == nil {
		return nil
	}
	if now.Sub(cur.UpdatedAt) > m.idle {
		m.logger.Debug("session expired", "user_id", cur.UserID, "step", cur.Step(), "idle", now.Sub(cur.UpdatedAt))
		return nil
	}
	return cur
}

// Begin opens a fresh session waiting for step 1, replacing any other.
func (m *Machine) Begin(userID int64) {
	_ = m.store.Update(userID, func(*Session) (*Session, error) {
		return newSession(userID, m.now()), nil
	})
}

// State reports where the user is in the form.
func (m *Machine) State(userID int64) Step {
	step := NoSession
	_ = m.store.Update(userID, func(cur *Session) (*Session, error) {
		cur = m.live(cur, m.now())
		if cur != nil {
			step = cur.Step()
		}
		return cur, nil
	})
	return step
}

// Cancel abandons the user's session. It reports whether one was active.
func (m *Machine) Cancel(userID int64) bool {
	had := false
	_ = m.store.Update(userID, func(cur *Session) (*Session, error) {
		had = m.live(cur, m.now()) != nil
		return nil, nil
	})
	return had
}

// Submit records the values of one step.
//
// Step 1 always starts over, discarding any earlier session. Steps 2 and 3
// must follow in order. When step 3 completes a record that fails
// validation the session stays at Step3Pending without the step 3 values,
// so the caller can prompt again; a valid record ends the session.
func (m *Machine) Submit(ctx context.Context, userID int64, step int, values entry.Values) (Update, error) {
	if err := values.CheckStep(step); err != nil {
		return Update{}, err
	}

	var upd Update
	err := m.store.Update(userID, func(cur *Session) (*Session, error) {
		now := m.now()
		cur = m.live(cur, now)

		if step == 1 {
			upd.Restarted = cur != nil && cur.Step() != Step1Pending
			if cur == nil || cur.Step() != Step1Pending {
				cur = newSession(userID, now)
			}
		}
		if cur == nil {
			return nil, fmt.Errorf("%w: step %d without an active session", ErrOutOfOrderStep, step)
		}

		upd.Step = cur.Step()
		event := submitEvent(step)
		if !cur.machine.Can(event) {
			return cur, fmt.Errorf("%w: step %d while %s", ErrOutOfOrderStep, step, cur.Step())
		}
		for f := range values {
			if _, dup := cur.Collected[f]; dup {
				return cur, fmt.Errorf("%w: %s", ErrDuplicateField, f)
			}
		}

		merged := cur.Collected.Clone()
		for f, v := range values {
			merged[f] = v
		}

		var rec entry.FieldRecord
		if step == entry.Steps {
			var err error
			rec, err = entry.Validate(merged, m.stores)
			if err != nil {
				cur.UpdatedAt = now
				upd.Collected = cur.Collected.Clone()
				return cur, err
			}
		}

		if err := cur.machine.Event(ctx, event); err != nil {
			return cur, fmt.Errorf("session transition %s: %w", event, err)
		}
		cur.Collected = merged
		cur.UpdatedAt = now

		upd.Step = cur.Step()
		upd.Collected = merged.Clone()
		if upd.Step == Complete {
			upd.Record = &rec
			m.logger.Debug("session complete", "user_id", userID, "age", now.Sub(cur.CreatedAt))
			return nil, nil
		}
		return cur, nil
	})
	return upd, err
}
