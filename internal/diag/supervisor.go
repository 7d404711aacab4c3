package diag

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/breeze-rmm/overlay/internal/clock"
)

// RestartDelay is the pause between killing the producer and relaunching it.
const RestartDelay = time.Second

// ErrNoProducer is returned when no producer executable is configured.
var ErrNoProducer = errors.New("producer executable not configured")

// ProcessControl finds, stops and starts processes by image name.
type ProcessControl interface {
	// Kill terminates every process named name and returns how many it
	// stopped.
	Kill(ctx context.Context, name string) (int, error)
	Running(ctx context.Context, name string) (bool, error)
	Launch(exe string) error
}

// Supervisor restarts and launches the producer process.
type Supervisor struct {
	exe   string
	name  string
	procs ProcessControl
	clk   clock.Clock
	delay time.Duration
}

// NewSupervisor creates a supervisor for exe. name is the producer's image
// name and defaults to the base name of exe. procs nil uses the host's
// process table.
func NewSupervisor(exe, name string, procs ProcessControl, clk clock.Clock) *Supervisor {
	if name == "" && exe != "" {
		name = filepath.Base(exe)
	}
	if procs == nil {
		procs = HostProcesses{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Supervisor{exe: exe, name: name, procs: procs, clk: clk, delay: RestartDelay}
}

// Restart kills any running producer, waits, then launches a fresh one.
func (s *Supervisor) Restart(ctx context.Context) error {
	if s.exe == "" {
		return ErrNoProducer
	}
	killed, err := s.procs.Kill(ctx, s.name)
	if err != nil {
		log.Warn("producer kill incomplete", "name", s.name, "error", err.Error())
	}
	log.Info("producer stopped", "name", s.name, "count", killed)

	if !s.clk.Sleep(s.delay, ctx.Done()) {
		return ctx.Err()
	}
	if err := s.procs.Launch(s.exe); err != nil {
		return fmt.Errorf("launch producer: %w", err)
	}
	log.Info("producer launched", "exe", s.exe)
	return nil
}

// EnsureRunning launches the producer unless one is already running.
func (s *Supervisor) EnsureRunning(ctx context.Context) (bool, error) {
	if s.exe == "" {
		return false, ErrNoProducer
	}
	running, err := s.procs.Running(ctx, s.name)
	if err != nil {
		return false, fmt.Errorf("list processes: %w", err)
	}
	if running {
		return false, nil
	}
	if err := s.procs.Launch(s.exe); err != nil {
		return false, fmt.Errorf("launch producer: %w", err)
	}
	log.Info("producer launched", "exe", s.exe)
	return true, nil
}

// HostProcesses is the ProcessControl backed by the operating system.
type HostProcesses struct{}

func (HostProcesses) matching(ctx context.Context, name string) ([]*process.Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	var out []*process.Process
	for _, p := range procs {
		n, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if strings.EqualFold(n, name) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (h HostProcesses) Kill(ctx context.Context, name string) (int, error) {
	procs, err := h.matching(ctx, name)
	if err != nil {
		return 0, err
	}
	var errs []error
	killed := 0
	for _, p := range procs {
		if err := p.KillWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kill %d: %w", p.Pid, err))
			continue
		}
		killed++
	}
	return killed, errors.Join(errs...)
}

func (h HostProcesses) Running(ctx context.Context, name string) (bool, error) {
	procs, err := h.matching(ctx, name)
	return len(procs) > 0, err
}

func (HostProcesses) Launch(exe string) error {
	cmd := exec.Command(exe)
	cmd.Dir = filepath.Dir(exe)
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
