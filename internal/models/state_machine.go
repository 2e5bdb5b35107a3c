package models

import (
	"fmt"
	"time"
)

// DayPhase represents where the trading day currently stands.
type DayPhase string

const (
	PhasePreOpen      DayPhase = "PRE_OPEN"
	PhaseOpenWait     DayPhase = "OPEN_WAIT"
	PhaseORCapture    DayPhase = "OR_CAPTURE"
	PhaseStepAEval    DayPhase = "STEP_A_EVAL"
	PhaseStepAMonitor DayPhase = "STEP_A_MONITOR"
	PhaseStepBScan    DayPhase = "STEP_B_SCAN"
	PhaseStepBMonitor DayPhase = "STEP_B_MONITOR"
	PhaseAwaitClose   DayPhase = "AWAIT_CLOSE"
	PhaseReconcile    DayPhase = "RECONCILE"
	PhaseDone         DayPhase = "DONE"
	PhaseNoTrade      DayPhase = "NO_TRADE"
)

// PhaseTransition defines one valid move of the day state machine.
type PhaseTransition struct {
	From        DayPhase
	To          DayPhase
	Condition   string
	Description string
}

// ValidTransitions is the complete transition table for a trading day.
// Branches are irreversible: no phase is ever re-entered.
var ValidTransitions = []PhaseTransition{
	{PhasePreOpen, PhaseOpenWait, "trading_day", "Trading day confirmed, waiting for the session"},
	{PhasePreOpen, PhaseNoTrade, "market_closed", "Not a trading day"},

	{PhaseOpenWait, PhaseORCapture, "or_window_closed", "09:30-10:00 bar has closed"},

	{PhaseORCapture, PhaseStepAEval, "or_published", "Opening range captured"},
	{PhaseORCapture, PhaseNoTrade, "or_unavailable", "Opening range bar missing"},

	{PhaseStepAEval, PhaseStepAMonitor, "bullish_or", "ORC above ORO, PUT spread setup"},
	{PhaseStepAEval, PhaseStepBScan, "bearish_or", "ORC below ORO, scanning for ORL breakout"},
	{PhaseStepAEval, PhaseNoTrade, "neutral_or", "ORC equals ORO"},
	{PhaseStepAEval, PhaseNoTrade, "equity_unavailable", "Account equity could not be read"},

	{PhaseStepAMonitor, PhaseAwaitClose, "order_placed", "Credit threshold met, order submitted"},
	{PhaseStepAMonitor, PhaseNoTrade, "entry_window_expired", "No fill by the 12:00 deadline"},
	{PhaseStepAMonitor, PhaseNoTrade, "fatal_error", "Unrecoverable error during monitoring"},

	{PhaseStepBScan, PhaseStepBMonitor, "orl_breakout", "30-minute close below ORL"},
	{PhaseStepBScan, PhaseNoTrade, "no_breakout", "No bar closed below ORL by 12:00"},

	{PhaseStepBMonitor, PhaseAwaitClose, "order_placed", "Credit threshold met, order submitted"},
	{PhaseStepBMonitor, PhaseNoTrade, "entry_window_expired", "No fill by the 12:00 deadline"},
	{PhaseStepBMonitor, PhaseNoTrade, "fatal_error", "Unrecoverable error during monitoring"},

	{PhaseAwaitClose, PhaseReconcile, "session_closed", "16:00 reached, settling"},

	{PhaseReconcile, PhaseDone, "settlement_recorded", "Expiration P/L written"},
	{PhaseReconcile, PhaseDone, "settlement_skipped", "Closing print unavailable, record flagged"},
}

// DayStateMachine tracks and validates the day's phase progression.
// Only the day driver writes it.
type DayStateMachine struct {
	transitionTime time.Time
	visitCount     map[DayPhase]int
	current        DayPhase
	previous       DayPhase
}

// NewDayStateMachine starts a machine at PRE_OPEN.
func NewDayStateMachine() *DayStateMachine {
	return &DayStateMachine{
		current:        PhasePreOpen,
		previous:       PhasePreOpen,
		transitionTime: time.Now().UTC(),
		visitCount:     make(map[DayPhase]int),
	}
}

// Current returns the phase the day is in.
func (m *DayStateMachine) Current() DayPhase { return m.current }

// Previous returns the phase before the last transition.
func (m *DayStateMachine) Previous() DayPhase { return m.previous }

// IsTerminal reports whether the day has ended.
func (m *DayStateMachine) IsTerminal() bool {
	return m.current == PhaseDone || m.current == PhaseNoTrade
}

// CanTransition checks whether moving to the given phase under the given
// condition is allowed from the current phase.
func (m *DayStateMachine) CanTransition(to DayPhase, condition string) error {
	if !m.isTransitionDefined(to, condition) {
		return fmt.Errorf("invalid day transition from %s to %s with condition %q",
			m.current, to, condition)
	}
	if m.visitCount[to] > 0 {
		return fmt.Errorf("phase %s already visited; day phases are irreversible", to)
	}
	return nil
}

func (m *DayStateMachine) isTransitionDefined(to DayPhase, condition string) bool {
	for _, tr := range ValidTransitions {
		if tr.From != m.current || tr.To != to {
			continue
		}
		if tr.Condition == condition || tr.Condition == "" {
			return true
		}
	}
	return false
}

// Transition moves the day to a new phase.
func (m *DayStateMachine) Transition(to DayPhase, condition string) error {
	if err := m.CanTransition(to, condition); err != nil {
		return err
	}
	m.previous = m.current
	m.current = to
	m.transitionTime = time.Now().UTC()
	m.visitCount[to]++
	return nil
}

// VisitCount returns how many times the day has entered a phase.
func (m *DayStateMachine) VisitCount(p DayPhase) int { return m.visitCount[p] }

// TransitionTime returns when the last transition happened.
func (m *DayStateMachine) TransitionTime() time.Time { return m.transitionTime }

// PhaseDescription returns a human-readable description of the current
// phase for banners and the dashboard.
func (m *DayStateMachine) PhaseDescription() string {
	switch m.current {
	case PhasePreOpen:
		return "Before the session: configuration loaded, waiting for the trading day"
	case PhaseOpenWait:
		return "Session open, opening range forming (09:30-10:00)"
	case PhaseORCapture:
		return "Reading the opening-range bar"
	case PhaseStepAEval:
		return "Evaluating OR polarity and account equity"
	case PhaseStepAMonitor:
		return "Bullish setup: monitoring PUT spread credit until 12:00"
	case PhaseStepBScan:
		return "Bearish setup: scanning 30-minute bars for an ORL breakout"
	case PhaseStepBMonitor:
		return "Breakout confirmed: monitoring CALL spread credit until 12:00"
	case PhaseAwaitClose:
		return "Order placed, holding to cash settlement at 16:00"
	case PhaseReconcile:
		return "Computing expiration settlement and P/L"
	case PhaseDone:
		return "Day complete"
	case PhaseNoTrade:
		return "Day ended with no position"
	default:
		return "Unknown phase"
	}
}

// Copy returns a deep copy, used when publishing snapshots.
func (m *DayStateMachine) Copy() *DayStateMachine {
	if m == nil {
		return nil
	}
	cp := &DayStateMachine{
		current:        m.current,
		previous:       m.previous,
		transitionTime: m.transitionTime,
		visitCount:     make(map[DayPhase]int, len(m.visitCount)),
	}
	for k, v := range m.visitCount {
		cp.visitCount[k] = v
	}
	return cp
}
