package ratelimit

import (
	"errors"
	"testing"
)

func TestAllowWithinBurst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow(1); err != nil {
			t.Fatalf("request %d unexpectedly limited: %v", i+1, err)
		}
	}
	if err := l.Allow(1); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited after burst, got %v", err)
	}
}

func TestSendersAreIndependent(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow(1); err != nil {
		t.Fatalf("first sender limited: %v", err)
	}
	if err := l.Allow(1); !errors.Is(err, ErrRateLimited) {
		t.Error("first sender should be exhausted")
	}
	if err := l.Allow(2); err != nil {
		t.Errorf("second sender should have a fresh bucket: %v", err)
	}
}

func TestUnlimitedMode(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow(7); err != nil {
			t.Fatalf("unlimited limiter rejected request: %v", err)
		}
	}
}
