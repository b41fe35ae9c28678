package state

import (
	"errors"
	"testing"
	"time"
)

func TestRepo_CreateDomain_Duplicate(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UnixNano()

	d, err := repo.CreateDomain("cdn.example.com", 1, 70, "", now)
	if err != nil {
		t.Fatal(err)
	}
	if d.HealthScore != 70 || !d.IsActive {
		t.Fatalf("expected active domain with score 70, got score %d active %v", d.HealthScore, d.IsActive)
	}

	if _, err := repo.CreateDomain("cdn.example.com", 2, 70, "", now); !errors.Is(err, ErrDuplicateDomain) {
		t.Fatalf("expected ErrDuplicateDomain, got %v", err)
	}
}

func TestRepo_CreateDomain_ClampsScore(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UnixNano()

	d, err := repo.CreateDomain("high.example.com", 1, 150, "", now)
	if err != nil {
		t.Fatal(err)
	}
	if d.HealthScore != 100 {
		t.Fatalf("expected score clamped to 100, got %d", d.HealthScore)
	}
}

func TestRepo_ListEligibleDomains_Ordering(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now()

	// Tier 2, high score — loses to any tier 1.
	d2, err := repo.CreateDomain("t2.example.com", 2, 95, "", now.UnixNano())
	if err != nil {
		t.Fatal(err)
	}
	// Tier 1, lower score after one failed probe.
	dLow, err := repo.CreateDomain("t1-low.example.com", 1, 50, "", now.UnixNano())
	if err != nil {
		t.Fatal(err)
	}
	// Tier 1, higher score, already probed.
	dProbed, err := repo.CreateDomain("t1-probed.example.com", 1, 80, "", now.UnixNano())
	if err != nil {
		t.Fatal(err)
	}
	// Tier 1, same score as dProbed but never probed: wins the tie-break.
	dFresh, err := repo.CreateDomain("t1-fresh.example.com", 1, 80, "", now.UnixNano())
	if err != nil {
		t.Fatal(err)
	}

	policy := HealthPolicy{Alpha: 0.2, DeactivationThreshold: 20, MinConsecutiveFailures: 3}
	// Mark dProbed as checked so its last_check_ns is non-zero. A success
	// keeps its score at round(0.8*80 + 0.2*100) = 84.
	if _, _, err := repo.RecordProbeResult(dProbed.ID, true, 20*time.Millisecond, policy, now); err != nil {
		t.Fatal(err)
	}

	eligible, err := repo.ListEligibleDomains(2)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, 0, len(eligible))
	for _, d := range eligible {
		got = append(got, d.Domain)
	}
	want := []string{dProbed.Domain, dFresh.Domain, dLow.Domain, d2.Domain}
	if len(got) != len(want) {
		t.Fatalf("expected %d eligible domains, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}

	// Ceiling 1 excludes tier 2.
	eligible, err = repo.ListEligibleDomains(1)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range eligible {
		if d.Tier > 1 {
			t.Fatalf("tier %d domain %s leaked past ceiling 1", d.Tier, d.Domain)
		}
	}
}

func TestRepo_ListEligibleDomains_TieBreakNeverChecked(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now()
	policy := HealthPolicy{Alpha: 0.2, DeactivationThreshold: 20, MinConsecutiveFailures: 3}

	// checked ends at score round(0.8*80 + 0.2*100) = 84 with a recorded
	// last check; fresh starts at 84 and was never probed.
	checked, err := repo.CreateDomain("checked.example.com", 1, 80, "", now.UnixNano())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := repo.RecordProbeResult(checked.ID, true, time.Millisecond, policy, now); err != nil {
		t.Fatal(err)
	}
	fresh, err := repo.CreateDomain("fresh.example.com", 1, 84, "", now.UnixNano())
	if err != nil {
		t.Fatal(err)
	}

	eligible, err := repo.ListEligibleDomains(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(eligible) != 2 {
		t.Fatalf("expected 2 eligible domains, got %d", len(eligible))
	}
	if eligible[0].ID != fresh.ID {
		t.Fatalf("never-checked domain must win the tie-break, got %s first", eligible[0].Domain)
	}
}

func TestRepo_RecordProbeResult_ScoreAndStreak(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now()
	policy := HealthPolicy{Alpha: 0.2, DeactivationThreshold: 20, MinConsecutiveFailures: 3}

	d, err := repo.CreateDomain("probe.example.com", 1, 50, "", now.UnixNano())
	if err != nil {
		t.Fatal(err)
	}

	// Success: round(0.8*50 + 0.2*100) = 60, streak reset, latency recorded.
	updated, deactivated, err := repo.RecordProbeResult(d.ID, true, 42*time.Millisecond, policy, now)
	if err != nil {
		t.Fatal(err)
	}
	if deactivated {
		t.Fatal("success must not deactivate")
	}
	if updated.HealthScore != 60 {
		t.Fatalf("expected score 60, got %d", updated.HealthScore)
	}
	if updated.ConsecutiveFailures != 0 {
		t.Fatalf("expected streak 0, got %d", updated.ConsecutiveFailures)
	}
	if updated.LastLatencyNs != (42 * time.Millisecond).Nanoseconds() {
		t.Fatalf("expected latency recorded, got %d", updated.LastLatencyNs)
	}

	// Failure: round(0.8*60) = 48, streak 1, latency untouched.
	updated, deactivated, err = repo.RecordProbeResult(d.ID, false, 0, policy, now)
	if err != nil {
		t.Fatal(err)
	}
	if deactivated {
		t.Fatal("one failure above threshold must not deactivate")
	}
	if updated.HealthScore != 48 {
		t.Fatalf("expected score 48, got %d", updated.HealthScore)
	}
	if updated.ConsecutiveFailures != 1 {
		t.Fatalf("expected streak 1, got %d", updated.ConsecutiveFailures)
	}
	if updated.LastLatencyNs != (42 * time.Millisecond).Nanoseconds() {
		t.Fatalf("failure must not overwrite last latency, got %d", updated.LastLatencyNs)
	}
}

func TestRepo_RecordProbeResult_ScoreClampsAtZero(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now()
	policy := HealthPolicy{Alpha: 0.9, DeactivationThreshold: 0, MinConsecutiveFailures: 1000}

	d, err := repo.CreateDomain("sink.example.com", 1, 5, "", now.UnixNano())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		updated, _, err := repo.RecordProbeResult(d.ID, false, 0, policy, now)
		if err != nil {
			t.Fatal(err)
		}
		if updated.HealthScore < 0 || updated.HealthScore > 100 {
			t.Fatalf("score escaped [0,100]: %d", updated.HealthScore)
		}
	}
}

func TestRepo_RecordProbeResult_Deactivation(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now()
	// Threshold 40 with at least 5 straight failures.
	policy := HealthPolicy{Alpha: 0.2, DeactivationThreshold: 40, MinConsecutiveFailures: 5}

	d, err := repo.CreateDomain("dying.example.com", 1, 90, "", now.UnixNano())
	if err != nil {
		t.Fatal(err)
	}

	// Score decay from 90: 72, 58, 46, 37, 30. The 4th failure is already
	// below 40 but the streak is still short; only the 5th deactivates.
	wantScores := []int{72, 58, 46, 37, 30}
	for i, want := range wantScores {
		updated, deactivated, err := repo.RecordProbeResult(d.ID, false, 0, policy, now)
		if err != nil {
			t.Fatal(err)
		}
		if updated.HealthScore != want {
			t.Fatalf("failure %d: expected score %d, got %d", i+1, want, updated.HealthScore)
		}
		if i < len(wantScores)-1 && deactivated {
			t.Fatalf("failure %d deactivated too early (score %d)", i+1, updated.HealthScore)
		}
		if i == len(wantScores)-1 {
			if !deactivated {
				t.Fatalf("expected deactivation on failure %d (score %d)", i+1, updated.HealthScore)
			}
			if updated.IsActive {
				t.Fatal("deactivated domain still marked active")
			}
		}
	}

	// Deactivated domains are never eligible.
	eligible, err := repo.ListEligibleDomains(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(eligible) != 0 {
		t.Fatalf("deactivated domain still eligible: %v", eligible)
	}

	// Operator re-activation clears the streak.
	active := true
	updated, err := repo.UpdateDomain(d.ID, nil, &active, nil, now.UnixNano())
	if err != nil {
		t.Fatal(err)
	}
	if !updated.IsActive || updated.ConsecutiveFailures != 0 {
		t.Fatalf("re-activation must clear the streak, got active %v streak %d", updated.IsActive, updated.ConsecutiveFailures)
	}
}

func TestRepo_DeleteDomain_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.DeleteDomain("missing"); !errors.Is(err, ErrDomainNotFound) {
		t.Fatalf("expected ErrDomainNotFound, got %v", err)
	}
}
