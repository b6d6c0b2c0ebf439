package agent

import "testing"

func TestContextTracker_MonotonicWithinTurn(t *testing.T) {
	t.Parallel()

	tracker := NewContextTracker()
	tracker.UpdateUsage(500)
	tracker.UpdateUsage(300)

	if got := tracker.GetUsage(1000).CurrentTokens; got != 500 {
		t.Fatalf("usage regressed: got %d, want 500", got)
	}

	tracker.Reset()
	if got := tracker.GetUsage(1000).CurrentTokens; got != 0 {
		t.Fatalf("reset did not clear usage, got %d", got)
	}
}

func TestContextTracker_AutoCompactBoundary(t *testing.T) {
	t.Parallel()

	tracker := NewContextTracker()

	// Exactly 15% remaining is not yet due.
	tracker.UpdateUsage(850)
	if tracker.ShouldAutoCompact(1000) {
		t.Fatalf("15%% remaining should not trigger compaction")
	}

	// Dropping below 15% is.
	tracker.UpdateUsage(851)
	if !tracker.ShouldAutoCompact(1000) {
		t.Fatalf("14.9%% remaining should trigger compaction")
	}
}

func TestContextTracker_ZeroBudgetNeverCompacts(t *testing.T) {
	t.Parallel()

	tracker := NewContextTracker()
	tracker.UpdateUsage(10_000)
	if tracker.ShouldAutoCompact(0) {
		t.Fatalf("zero budget must not trigger compaction")
	}
}

func TestContextUsage_RemainingClampedAtZero(t *testing.T) {
	t.Parallel()

	tracker := NewContextTracker()
	tracker.UpdateUsage(2000)

	usage := tracker.GetUsage(1000)
	if usage.RemainingPercentage != 0 {
		t.Fatalf("expected clamped remaining percentage, got %f", usage.RemainingPercentage)
	}
}

func TestEstimateHistoryTokens(t *testing.T) {
	t.Parallel()

	if got := EstimateHistoryTokens(nil); got != 0 {
		t.Fatalf("empty history should cost nothing, got %d", got)
	}

	history := []Message{{Role: RoleUser, Content: "12345678"}}
	// base 4 + role "user" (1) + content 8 runes (2).
	if got := EstimateHistoryTokens(history); got != 7 {
		t.Fatalf("unexpected estimate %d", got)
	}
}
