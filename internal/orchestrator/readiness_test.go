package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadinessDetector_ready(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.m3u8")
	d := ReadinessDetector{Interval: 10 * time.Millisecond, Deadline: time.Second}

	go func() {
		time.Sleep(30 * time.Millisecond)
		os.WriteFile(path, []byte("#EXTM3U\n"), 0o644)
	}()

	result := make(chan string, 2)
	d.Watch(context.Background(), path,
		func() { result <- "ready" },
		func() { result <- "timeout" })

	if got := <-result; got != "ready" {
		t.Errorf("expected ready, got %s", got)
	}
	if len(result) != 0 {
		t.Error("expected a single callback")
	}
}

func TestReadinessDetector_timeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.m3u8")
	d := ReadinessDetector{Interval: 20 * time.Millisecond, Deadline: 100 * time.Millisecond}

	start := time.Now()
	result := make(chan string, 2)
	d.Watch(context.Background(), path,
		func() { result <- "ready" },
		func() { result <- "timeout" })

	if got := <-result; got != "timeout" {
		t.Errorf("expected timeout, got %s", got)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("timeout fired early after %s", elapsed)
	}
}

func TestReadinessDetector_cancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.m3u8")
	d := ReadinessDetector{Interval: 10 * time.Millisecond, Deadline: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	called := make(chan struct{}, 2)
	done := make(chan struct{})
	go func() {
		d.Watch(ctx, path, func() { called <- struct{}{} }, func() { called <- struct{}{} })
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
	time.Sleep(80 * time.Millisecond)
	if len(called) != 0 {
		t.Error("cancelled watch must not call back")
	}
}
