package auth

import (
	"testing"
	"time"
)

func testLimiter(start time.Time) (*ActivationLimiter, *time.Time) {
	l := NewActivationLimiter()
	now := start
	l.now = func() time.Time { return now }
	return l, &now
}

func TestActivationLimiterBlocksSixthFailure(t *testing.T) {
	l, now := testLimiter(time.Unix(1_700_000_000, 0))

	for i := 0; i < failureLimit; i++ {
		if blocked, _ := l.Check("10.1.2.3"); blocked {
			t.Fatalf("attempt %d blocked early", i+1)
		}
		l.RecordFailure("10.1.2.3")
		*now = now.Add(time.Second)
	}

	blocked, retryAfter := l.Check("10.1.2.3")
	if !blocked {
		t.Fatal("sixth attempt must be blocked")
	}
	// All five failures are seconds old, so the wait is nearly the full
	// fifteen-minute window.
	if retryAfter < 14*time.Minute || retryAfter > failureWindow {
		t.Errorf("retryAfter = %v, want close to %v", retryAfter, failureWindow)
	}
}

func TestActivationLimiterSuccessDoesNotCount(t *testing.T) {
	l, now := testLimiter(time.Unix(1_700_000_000, 0))
	ip := "10.1.2.3"

	// Two failures, an interleaved success (no RecordFailure), three more
	// failures: still at five, sixth blocked.
	for i := 0; i < 2; i++ {
		l.Check(ip)
		l.RecordFailure(ip)
		*now = now.Add(time.Second)
	}
	if blocked, _ := l.Check(ip); blocked {
		t.Fatal("successful attempt was blocked")
	}
	for i := 0; i < 3; i++ {
		l.Check(ip)
		l.RecordFailure(ip)
		*now = now.Add(time.Second)
	}

	if blocked, _ := l.Check(ip); !blocked {
		t.Error("sixth failure should be blocked; success must not reset the count")
	}
}

func TestActivationLimiterWindowExpires(t *testing.T) {
	l, now := testLimiter(time.Unix(1_700_000_000, 0))
	ip := "10.1.2.3"

	for i := 0; i < failureLimit; i++ {
		l.RecordFailure(ip)
	}
	if blocked, _ := l.Check(ip); !blocked {
		t.Fatal("limit not enforced")
	}

	*now = now.Add(failureWindow + time.Second)
	if blocked, _ := l.Check(ip); blocked {
		t.Error("attempts older than the window still count")
	}
}

func TestActivationLimiterPerIP(t *testing.T) {
	l, _ := testLimiter(time.Unix(1_700_000_000, 0))

	for i := 0; i < failureLimit; i++ {
		l.RecordFailure("10.0.0.1")
	}

	if blocked, _ := l.Check("10.0.0.2"); blocked {
		t.Error("a different IP must not inherit another IP's failures")
	}
}
