package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/marmos91/pgweb/internal/logger"
)

// SupervisorConfig controls worker supervision.
type SupervisorConfig struct {
	// ShutdownTimeout is how long workers get after SIGTERM before SIGKILL.
	ShutdownTimeout time.Duration

	// StatsInterval is how often process stats of running workers are
	// logged. Zero disables stats.
	StatsInterval time.Duration

	// ParamEnv returns the parameter snapshot handed to each worker at
	// spawn time. May be nil.
	ParamEnv func() []string
}

// RecoveryFunc runs between the host-start and recovery-finished phases.
// Returning an error aborts startup.
type RecoveryFunc func(ctx context.Context) error

// Supervisor launches registered background workers, restarts them
// according to their policy, and stops them on shutdown. Every worker
// inherits the read end of a pipe whose write end only the supervisor
// holds, so workers notice when the supervisor dies.
type Supervisor struct {
	cfg SupervisorConfig

	mu      sync.Mutex
	slots   []*slot
	started bool

	deathR *os.File
	deathW *os.File

	exits    chan exitEvent
	restarts chan *slot
}

type slot struct {
	worker BackgroundWorker
	cmd    *exec.Cmd
	starts int
	// registered is false once the worker has been unregistered.
	registered bool
	// pendingRestart is true while a restart timer is armed.
	pendingRestart bool
}

type exitEvent struct {
	slot *slot
	code int
	err  error
}

// NewSupervisor returns a supervisor with no workers.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Supervisor{cfg: cfg}
}

// Register adds a worker. Workers can only be registered before Run.
func (s *Supervisor) Register(w BackgroundWorker) error {
	if err := w.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyRunning
	}
	s.slots = append(s.slots, &slot{worker: w, registered: true})
	logger.Info("Registered background worker",
		logger.KeyWorker, w.Name, "start_time", w.StartTime.String(),
		"restart_interval", w.RestartInterval)
	return nil
}

// Starts returns how many times the named worker has been launched.
func (s *Supervisor) Starts(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.slots {
		if sl.worker.Name == name {
			n += sl.starts
		}
	}
	return n
}

// Run starts the workers and supervises them until ctx is cancelled or no
// registered worker remains. On cancellation every running worker receives
// SIGTERM and, after ShutdownTimeout, SIGKILL.
func (s *Supervisor) Run(ctx context.Context, recovery RecoveryFunc) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.started = true
	// Each slot has at most one live process and one armed restart, so
	// these sends never block even after Run has returned.
	s.exits = make(chan exitEvent, len(s.slots))
	s.restarts = make(chan *slot, len(s.slots))
	s.mu.Unlock()

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create host death pipe: %w", err)
	}
	s.deathR, s.deathW = r, w
	defer func() {
		_ = s.deathR.Close()
		_ = s.deathW.Close()
	}()

	s.startPhase(StartOnHostStart)

	if recovery != nil {
		if err := recovery(ctx); err != nil {
			s.shutdown()
			return fmt.Errorf("recovery failed: %w", err)
		}
	}
	logger.Info("Recovery finished, starting background workers")
	s.startPhase(StartOnRecoveryFinished)

	var statsC <-chan time.Time
	if s.cfg.StatsInterval > 0 {
		ticker := time.NewTicker(s.cfg.StatsInterval)
		defer ticker.Stop()
		statsC = ticker.C
	}

	for {
		if !s.anyRegistered() {
			logger.Info("No background workers left to supervise")
			return nil
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			return nil

		case ev := <-s.exits:
			s.handleExit(ev)

		case sl := <-s.restarts:
			s.mu.Lock()
			sl.pendingRestart = false
			s.mu.Unlock()
			s.spawn(sl)

		case <-statsC:
			s.logStats()
		}
	}
}

func (s *Supervisor) startPhase(phase StartTime) {
	s.mu.Lock()
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		if sl.worker.StartTime == phase {
			slots = append(slots, sl)
		}
	}
	s.mu.Unlock()

	for _, sl := range slots {
		s.spawn(sl)
	}
}

func (s *Supervisor) anyRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots {
		if sl.registered {
			return true
		}
	}
	return false
}

// spawn starts the worker process. A failure to start is handled like a
// crash so that the restart policy applies.
func (s *Supervisor) spawn(sl *slot) {
	w := sl.worker

	env := append(os.Environ(), w.Env...)
	if s.cfg.ParamEnv != nil {
		env = append(env, s.cfg.ParamEnv()...)
	}
	// ExtraFiles[0] becomes descriptor 3 in the child.
	env = append(env, HostDeathFDEnv+"=3")

	cmd := &exec.Cmd{
		Path:       w.Path,
		Args:       append([]string{w.ProcessTitle()}, w.Args...),
		Env:        env,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		ExtraFiles: []*os.File{s.deathR},
		// Own process group: terminal signals reach the supervisor only,
		// which then decides how to stop its workers.
		SysProcAttr: &syscall.SysProcAttr{Setpgid: true},
	}

	s.mu.Lock()
	sl.starts++
	s.mu.Unlock()

	if err := cmd.Start(); err != nil {
		logger.Error("Could not start background worker", logger.KeyWorker, w.Name, logger.Err(err))
		s.exits <- exitEvent{slot: sl, code: 1, err: err}
		return
	}

	s.mu.Lock()
	sl.cmd = cmd
	s.mu.Unlock()

	logger.Info("Started background worker",
		logger.KeyWorker, w.Name, logger.KeyPID, cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		code := 0
		if err != nil {
			code = 1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
				code = exitErr.ExitCode()
			}
		}
		s.exits <- exitEvent{slot: sl, code: code, err: err}
	}()
}

func (s *Supervisor) handleExit(ev exitEvent) {
	sl := ev.slot
	w := sl.worker

	s.mu.Lock()
	pid := 0
	if sl.cmd != nil && sl.cmd.Process != nil {
		pid = sl.cmd.Process.Pid
	}
	sl.cmd = nil
	s.mu.Unlock()

	if ev.code == 0 {
		logger.Info("Background worker exited, unregistering",
			logger.KeyWorker, w.Name, logger.KeyPID, pid, logger.ExitCode(0))
		s.unregister(sl)
		return
	}

	logger.Warn("Background worker exited with failure",
		logger.KeyWorker, w.Name, logger.KeyPID, pid,
		logger.ExitCode(ev.code), logger.Err(ev.err))

	if w.RestartInterval == NeverRestart {
		s.unregister(sl)
		return
	}

	s.mu.Lock()
	sl.pendingRestart = true
	s.mu.Unlock()

	time.AfterFunc(w.RestartInterval, func() { s.restarts <- sl })
}

func (s *Supervisor) unregister(sl *slot) {
	s.mu.Lock()
	sl.registered = false
	s.mu.Unlock()
}

func (s *Supervisor) running() []*slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*slot
	for _, sl := range s.slots {
		if sl.cmd != nil {
			out = append(out, sl)
		}
	}
	return out
}

// shutdown terminates running workers and abandons pending restarts.
func (s *Supervisor) shutdown() {
	running := s.running()
	if len(running) > 0 {
		logger.Info("Stopping background workers", "count", len(running))
	}
	for _, sl := range running {
		s.signal(sl, syscall.SIGTERM)
	}

	timeout := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timeout.Stop()

	remaining := len(running)
	killed := false
	for remaining > 0 {
		select {
		case ev := <-s.exits:
			s.mu.Lock()
			wasRunning := ev.slot.cmd != nil
			ev.slot.cmd = nil
			ev.slot.registered = false
			s.mu.Unlock()
			if wasRunning {
				remaining--
				logger.Info("Background worker stopped",
					logger.KeyWorker, ev.slot.worker.Name, logger.ExitCode(ev.code))
			}
		case sl := <-s.restarts:
			s.unregister(sl)
		case <-timeout.C:
			if killed {
				logger.Error("Background workers did not exit after SIGKILL", "count", remaining)
				return
			}
			killed = true
			for _, sl := range s.running() {
				logger.Warn("Background worker did not stop in time, killing", logger.KeyWorker, sl.worker.Name)
				s.signal(sl, syscall.SIGKILL)
			}
			timeout.Reset(s.cfg.ShutdownTimeout)
		}
	}

	s.mu.Lock()
	for _, sl := range s.slots {
		sl.registered = false
	}
	s.mu.Unlock()
}

func (s *Supervisor) signal(sl *slot, sig syscall.Signal) {
	s.mu.Lock()
	cmd := sl.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Debug("Signal delivery failed", logger.KeyWorker, sl.worker.Name,
			logger.KeySignal, sig.String(), logger.Err(err))
	}
}

// SignalWorkers sends sig to every running worker and returns how many
// were signalled.
func (s *Supervisor) SignalWorkers(sig syscall.Signal) int {
	running := s.running()
	for _, sl := range running {
		s.signal(sl, sig)
	}
	return len(running)
}
