package host

import (
	"os"
	"strconv"
	"sync"

	"github.com/marmos91/pgweb/internal/logger"
)

// HostDeathFDEnv names the environment variable carrying the inherited
// host-death descriptor number.
const HostDeathFDEnv = "PGWEB_HOST_DEATH_FD"

// Proc owns process termination: exit hooks registered during startup run
// in reverse order, exactly once, before the process exits.
type Proc struct {
	mu      sync.Mutex
	hooks   []func()
	ran     bool
	exitFn  func(int)
	exiting sync.Once
}

// NewProc returns a Proc that terminates with os.Exit.
func NewProc() *Proc {
	return &Proc{exitFn: os.Exit}
}

// SetExitFunc replaces os.Exit, for tests.
func (p *Proc) SetExitFunc(fn func(int)) {
	p.mu.Lock()
	p.exitFn = fn
	p.mu.Unlock()
}

// OnExit registers fn to run before the process exits.
func (p *Proc) OnExit(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, fn)
}

// RunExitHooks runs the registered hooks, last registered first. Only the
// first call has any effect.
func (p *Proc) RunExitHooks() {
	p.mu.Lock()
	if p.ran {
		p.mu.Unlock()
		return
	}
	p.ran = true
	hooks := p.hooks
	p.hooks = nil
	p.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// Exit runs the exit hooks and terminates with code. Concurrent or repeated
// calls exit only once.
func (p *Proc) Exit(code int) {
	p.exiting.Do(func() {
		p.RunExitHooks()
		_ = logger.Close()

		p.mu.Lock()
		exit := p.exitFn
		p.mu.Unlock()
		exit(code)
	})
}

// Fatal logs msg at FATAL severity and exits with status 1.
func (p *Proc) Fatal(msg string, args ...any) {
	logger.Fatal(msg, args...)
	p.Exit(1)
}

// InheritedHostDeathFD returns the host-death descriptor passed by the
// supervisor, if any.
func InheritedHostDeathFD() (int, bool) {
	s := os.Getenv(HostDeathFDEnv)
	if s == "" {
		return -1, false
	}
	fd, err := strconv.Atoi(s)
	if err != nil || fd < 0 {
		return -1, false
	}
	return fd, true
}
