package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowSendRespectsBurst(t *testing.T) {
	l := New(10, 1) // burst = 20 sends
	allowed := 0
	for i := 0; i < 25; i++ {
		if l.AllowSend() {
			allowed++
		}
	}
	if allowed < 19 || allowed > 20 {
		t.Fatalf("expected burst of ~20 immediate sends, got %d", allowed)
	}
}

func TestWaitReconnectBlocksUntilTokenAvailable(t *testing.T) {
	l := New(50, 1000) // effectively unlimited reconnect rate for this test
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.WaitReconnect(ctx); err != nil {
		t.Fatalf("WaitReconnect: %v", err)
	}
}

func TestBurstForFloorsAtOne(t *testing.T) {
	if got := burstFor(0.1); got != 1 {
		t.Fatalf("burstFor(0.1) = %d, want 1 (floor)", got)
	}
}
