package cmd

import (
	"context"
	"testing"
	"time"
)

func TestSleepCtxReturnsEarlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if sleepCtx(ctx, time.Hour) {
		t.Fatal("cancelled context must cut the wait short")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("wait took %v despite cancelled context", elapsed)
	}
}

func TestSleepCtxWaitsOutTimer(t *testing.T) {
	if !sleepCtx(context.Background(), time.Millisecond) {
		t.Fatal("expired timer must report a completed wait")
	}
}
