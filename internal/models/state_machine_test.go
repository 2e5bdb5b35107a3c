package models

import (
	"testing"
)

func TestDayStateMachine_InitialPhase(t *testing.T) {
	m := NewDayStateMachine()

	if m.Current() != PhasePreOpen {
		t.Errorf("initial phase should be PRE_OPEN, got %s", m.Current())
	}
	if m.IsTerminal() {
		t.Error("fresh machine should not be terminal")
	}
}

func TestDayStateMachine_BullishDayFlow(t *testing.T) {
	m := NewDayStateMachine()

	transitions := []struct {
		to        DayPhase
		condition string
	}{
		{PhaseOpenWait, "trading_day"},
		{PhaseORCapture, "or_window_closed"},
		{PhaseStepAEval, "or_published"},
		{PhaseStepAMonitor, "bullish_or"},
		{PhaseAwaitClose, "order_placed"},
		{PhaseReconcile, "session_closed"},
		{PhaseDone, "settlement_recorded"},
	}

	for _, tr := range transitions {
		if err := m.Transition(tr.to, tr.condition); err != nil {
			t.Fatalf("transition to %s failed: %v", tr.to, err)
		}
	}

	if !m.IsTerminal() {
		t.Error("day should be terminal after DONE")
	}
	if m.Previous() != PhaseReconcile {
		t.Errorf("previous phase should be RECONCILE, got %s", m.Previous())
	}
}

func TestDayStateMachine_BearishDayFlow(t *testing.T) {
	m := NewDayStateMachine()

	transitions := []struct {
		to        DayPhase
		condition string
	}{
		{PhaseOpenWait, "trading_day"},
		{PhaseORCapture, "or_window_closed"},
		{PhaseStepAEval, "or_published"},
		{PhaseStepBScan, "bearish_or"},
		{PhaseStepBMonitor, "orl_breakout"},
		{PhaseAwaitClose, "order_placed"},
		{PhaseReconcile, "session_closed"},
		{PhaseDone, "settlement_skipped"},
	}

	for _, tr := range transitions {
		if err := m.Transition(tr.to, tr.condition); err != nil {
			t.Fatalf("transition to %s failed: %v", tr.to, err)
		}
	}

	if m.Current() != PhaseDone {
		t.Errorf("day should end DONE, got %s", m.Current())
	}
}

func TestDayStateMachine_NoTradePaths(t *testing.T) {
	cases := []struct {
		name string
		path []struct {
			to        DayPhase
			condition string
		}
	}{
		{
			name: "non-trading day",
			path: []struct {
				to        DayPhase
				condition string
			}{
				{PhaseNoTrade, "market_closed"},
			},
		},
		{
			name: "neutral opening range",
			path: []struct {
				to        DayPhase
				condition string
			}{
				{PhaseOpenWait, "trading_day"},
				{PhaseORCapture, "or_window_closed"},
				{PhaseStepAEval, "or_published"},
				{PhaseNoTrade, "neutral_or"},
			},
		},
		{
			name: "no breakout by deadline",
			path: []struct {
				to        DayPhase
				condition string
			}{
				{PhaseOpenWait, "trading_day"},
				{PhaseORCapture, "or_window_closed"},
				{PhaseStepAEval, "or_published"},
				{PhaseStepBScan, "bearish_or"},
				{PhaseNoTrade, "no_breakout"},
			},
		},
		{
			name: "bullish monitor expires",
			path: []struct {
				to        DayPhase
				condition string
			}{
				{PhaseOpenWait, "trading_day"},
				{PhaseORCapture, "or_window_closed"},
				{PhaseStepAEval, "or_published"},
				{PhaseStepAMonitor, "bullish_or"},
				{PhaseNoTrade, "entry_window_expired"},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewDayStateMachine()
			for _, tr := range tc.path {
				if err := m.Transition(tr.to, tr.condition); err != nil {
					t.Fatalf("transition to %s failed: %v", tr.to, err)
				}
			}
			if m.Current() != PhaseNoTrade {
				t.Errorf("expected NO_TRADE, got %s", m.Current())
			}
			if !m.IsTerminal() {
				t.Error("NO_TRADE should be terminal")
			}
		})
	}
}

func TestDayStateMachine_RejectsInvalidMoves(t *testing.T) {
	m := NewDayStateMachine()

	// Cannot jump straight to monitoring.
	if err := m.Transition(PhaseStepAMonitor, "bullish_or"); err == nil {
		t.Error("jump to STEP_A_MONITOR from PRE_OPEN should fail")
	}
	if m.Current() != PhasePreOpen {
		t.Errorf("failed transition must not change phase, got %s", m.Current())
	}

	// Condition must match the table.
	if err := m.Transition(PhaseOpenWait, "wrong_condition"); err == nil {
		t.Error("transition with unknown condition should fail")
	}
}

func TestDayStateMachine_PhasesAreIrreversible(t *testing.T) {
	m := NewDayStateMachine()
	steps := []struct {
		to        DayPhase
		condition string
	}{
		{PhaseOpenWait, "trading_day"},
		{PhaseORCapture, "or_window_closed"},
		{PhaseStepAEval, "or_published"},
	}
	for _, tr := range steps {
		if err := m.Transition(tr.to, tr.condition); err != nil {
			t.Fatalf("transition to %s failed: %v", tr.to, err)
		}
	}

	// Once Step A was chosen there is no route back to Step B scan and
	// no way to re-enter an earlier phase.
	if err := m.Transition(PhaseStepAMonitor, "bullish_or"); err != nil {
		t.Fatalf("transition to STEP_A_MONITOR failed: %v", err)
	}
	if err := m.Transition(PhaseStepBScan, "bearish_or"); err == nil {
		t.Error("Step B must be unreachable after Step A was chosen")
	}
}

func TestDayStateMachine_Copy(t *testing.T) {
	m := NewDayStateMachine()
	if err := m.Transition(PhaseOpenWait, "trading_day"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	cp := m.Copy()
	if cp.Current() != m.Current() || cp.Previous() != m.Previous() {
		t.Error("copy must preserve current and previous phases")
	}

	if err := m.Transition(PhaseORCapture, "or_window_closed"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if cp.Current() == m.Current() {
		t.Error("copy must not track the original after later transitions")
	}
	if cp.VisitCount(PhaseORCapture) != 0 {
		t.Error("copy visit counts must be independent")
	}
}
