package model

import "testing"

func TestStatusTransitions(t *testing.T) {
	all := []ProcessingStatus{StatusUploaded, StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

	allowed := map[ProcessingStatus]map[ProcessingStatus]bool{
		StatusPending:    {StatusProcessing: true},
		StatusProcessing: {StatusCompleted: true, StatusFailed: true},
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[from][to]
			if got := from.CanTransition(to); got != want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestStatusNeverLeavesTerminalState(t *testing.T) {
	for _, terminal := range []ProcessingStatus{StatusCompleted, StatusFailed} {
		if !terminal.IsTerminal() {
			t.Errorf("%s should be terminal", terminal)
		}
		for _, to := range []ProcessingStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
			if terminal.CanTransition(to) {
				t.Errorf("terminal status %s must not transition to %s", terminal, to)
			}
		}
	}
}
