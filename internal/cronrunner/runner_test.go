package cronrunner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestAdd_RejectsBadSpec(t *testing.T) {
	r := New(nil, context.Background(), nil)
	if _, err := r.Add("bad", "not a schedule", func(context.Context) {}); err == nil {
		t.Error("expected error for invalid spec")
	}
	// Five fields are invalid with the seconds parser.
	if _, err := r.Add("five", "*/5 * * * *", func(context.Context) {}); err == nil {
		t.Error("expected error for five-field spec")
	}
}

func TestRunner_RunsJobWithBaseContext(t *testing.T) {
	type key struct{}
	base := context.WithValue(context.Background(), key{}, "base")
	r := New(nil, base, time.UTC)

	var runs atomic.Int32
	var sawBase atomic.Bool
	if _, err := r.Add("tick", "* * * * * *", func(ctx context.Context) {
		if ctx.Value(key{}) == "base" {
			sawBase.Store(true)
		}
		runs.Add(1)
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	r.Start()
	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	r.Stop()

	if runs.Load() == 0 {
		t.Fatal("job never ran")
	}
	if !sawBase.Load() {
		t.Error("job did not receive the base context")
	}
}

func TestRunner_SurvivesPanickingJob(t *testing.T) {
	r := New(nil, context.Background(), nil)
	var runs atomic.Int32
	r.Add("boom", "* * * * * *", func(context.Context) {
		runs.Add(1)
		panic("boom")
	})

	r.Start()
	deadline := time.Now().Add(3500 * time.Millisecond)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	r.Stop()

	if runs.Load() < 2 {
		t.Errorf("runs=%d, schedule stopped after panic", runs.Load())
	}
}
