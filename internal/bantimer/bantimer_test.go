package bantimer

import (
	"testing"
	"time"
)

func TestSuccessResetsFailures(t *testing.T) {
	timer := &Timer{Failures: 2}
	now := time.Now()

	attempt, ok := Begin(timer, now, 3, time.Minute)
	if !ok {
		t.Fatal("expected Begin to succeed")
	}
	attempt.Success()
	attempt.Finish()

	if timer.Failures != 0 {
		t.Fatalf("expected failures reset to 0, got %d", timer.Failures)
	}
	if timer.BannedUntil != nil {
		t.Fatal("expected no active ban")
	}
}

func TestFinishWithoutSuccessIncrementsFailures(t *testing.T) {
	timer := &Timer{}
	now := time.Now()

	for i := 0; i < 2; i++ {
		attempt, ok := Begin(timer, now, 3, time.Minute)
		if !ok {
			t.Fatalf("attempt %d: expected Begin to succeed", i)
		}
		attempt.Finish()
	}

	if timer.Failures != 2 {
		t.Fatalf("expected 2 failures, got %d", timer.Failures)
	}
	if timer.BannedUntil != nil {
		t.Fatal("should not be banned before reaching the threshold")
	}
}

func TestThresholdTriggersAtomicBan(t *testing.T) {
	timer := &Timer{}
	now := time.Now()
	maxFailures := 3

	for i := 0; i < maxFailures; i++ {
		attempt, ok := Begin(timer, now, maxFailures, 5*time.Minute)
		if !ok {
			t.Fatalf("attempt %d: expected Begin to succeed", i)
		}
		if timer.Failures >= maxFailures {
			t.Fatalf("failures must never be observed at or above threshold, got %d", timer.Failures)
		}
		attempt.Finish()
	}

	if timer.Failures != 0 {
		t.Fatalf("reaching the threshold should reset failures to 0, got %d", timer.Failures)
	}
	if timer.BannedUntil == nil {
		t.Fatal("expected an active ban after reaching the threshold")
	}
	if !timer.Banned(now) {
		t.Fatal("timer should report banned immediately after threshold")
	}
}

func TestBeginDeniesWhileBanned(t *testing.T) {
	until := time.Now().Add(time.Minute)
	timer := &Timer{BannedUntil: &until}

	_, ok := Begin(timer, time.Now(), 3, time.Minute)
	if ok {
		t.Fatal("expected Begin to deny while a ban is active")
	}
}

func TestBeginAllowsAfterBanExpires(t *testing.T) {
	past := time.Now().Add(-time.Second)
	timer := &Timer{BannedUntil: &past}

	attempt, ok := Begin(timer, time.Now(), 3, time.Minute)
	if !ok {
		t.Fatal("expected Begin to allow once the ban has expired")
	}
	attempt.Success()
	attempt.Finish()
}

func TestFinishIsIdempotentAfterSuccess(t *testing.T) {
	timer := &Timer{Failures: 1}
	attempt, _ := Begin(timer, time.Now(), 3, time.Minute)
	attempt.Success()
	attempt.Finish()
	attempt.Finish()

	if timer.Failures != 0 {
		t.Fatal("calling Finish again after Success must not add a failure")
	}
}

func TestFinishOnNilAttemptIsSafe(t *testing.T) {
	var attempt *Attempt
	attempt.Finish()
}
