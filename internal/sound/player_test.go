package sound

import (
	"context"
	"os/exec"
	"testing"
	"time"

	logx "pivotflow/pkg/logx"
)

func newSleepPlayer(t *testing.T) *Player {
	t.Helper()
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	p, err := New(Config{Command: "sleep", Args: []string{"5"}}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPlayInterruptsPreviousPlayback(t *testing.T) {
	p := newSleepPlayer(t)
	ctx := context.Background()

	if err := p.Play(ctx); err != nil {
		t.Fatalf("Play: %v", err)
	}
	p.mu.Lock()
	first := p.done
	p.mu.Unlock()

	if err := p.Play(ctx); err != nil {
		t.Fatalf("second Play: %v", err)
	}
	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("previous playback still running")
	}

	p.mu.Lock()
	second := p.done
	p.mu.Unlock()
	if second == first || second == nil {
		t.Fatal("second playback not tracked")
	}
	_ = p.Close()
	select {
	case <-second:
	default:
		t.Fatal("Close did not stop playback")
	}
}

func TestPlayHonoursCanceledContext(t *testing.T) {
	p := newSleepPlayer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Play(ctx); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestNewRejectsMissingCommand(t *testing.T) {
	if _, err := New(Config{Command: "pivotflow-no-such-player"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestNewRejectsMissingFile(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	if _, err := New(Config{Command: "sleep", File: "/nonexistent/chime.wav"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing sound file")
	}
}
