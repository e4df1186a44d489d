// Package sound plays the notification chime through an external audio
// command such as paplay or afplay.
package sound

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	logx "pivotflow/pkg/logx"
)

var ErrNoCommand = errors.New("no audio command available")

type Config struct {
	// Command defaults to paplay on Linux and afplay on macOS.
	Command string
	Args    []string
	File    string
}

// Player runs one playback at a time. Play interrupts the previous playback
// and starts again from the beginning.
type Player struct {
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	cmdPath string
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(cfg Config, log logx.Logger) (*Player, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Player{log: log.With(logx.String("comp", "sound"))}
	if err := p.Apply(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Apply swaps the command and file used by later Play calls.
func (p *Player) Apply(cfg Config) error {
	name := strings.TrimSpace(cfg.Command)
	if name == "" {
		name = defaultCommand()
	}
	if name == "" {
		return ErrNoCommand
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("audio command %q: %w", name, err)
	}
	if cfg.File != "" {
		if _, err := os.Stat(cfg.File); err != nil {
			return fmt.Errorf("sound file: %w", err)
		}
	}
	p.mu.Lock()
	p.cfg = cfg
	p.cmdPath = path
	p.mu.Unlock()
	return nil
}

func defaultCommand() string {
	switch runtime.GOOS {
	case "darwin":
		return "afplay"
	case "linux":
		return "paplay"
	default:
		return ""
	}
}

// Play starts playback and returns once the process is running. ctx only
// bounds the start; playback continues until it ends, Play is called again,
// or Close is called.
func (p *Player) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	args := append([]string(nil), p.cfg.Args...)
	if p.cfg.File != "" {
		args = append(args, p.cfg.File)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, p.cmdPath, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", p.cmdPath, err)
	}
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go func() {
		defer close(done)
		if err := cmd.Wait(); err != nil && runCtx.Err() == nil {
			p.log.Debug("audio command exited with error", logx.Err(err))
		}
		cancel()
	}()
	return nil
}

// stopLocked kills the current playback and waits for it to exit.
func (p *Player) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
}

func (p *Player) Close() error {
	p.mu.Lock()
	p.stopLocked()
	p.mu.Unlock()
	return nil
}
