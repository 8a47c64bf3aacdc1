package host

import (
	"errors"
	"fmt"
	"time"
)

// StartTime says at which point of host startup a worker is launched.
type StartTime int

const (
	// StartOnHostStart launches the worker as soon as the supervisor runs.
	StartOnHostStart StartTime = iota
	// StartOnRecoveryFinished launches the worker after the recovery hook
	// has succeeded, i.e. once the data store accepts connections.
	StartOnRecoveryFinished
)

func (s StartTime) String() string {
	switch s {
	case StartOnHostStart:
		return "host_start"
	case StartOnRecoveryFinished:
		return "recovery_finished"
	default:
		return "unknown"
	}
}

// NeverRestart disables restarting a worker that exits with a non-zero code.
const NeverRestart time.Duration = -1

// BackgroundWorker is the registration record of a supervised worker.
type BackgroundWorker struct {
	// Name appears in the process title as "pgweb: <Name>" and in logs.
	Name string

	StartTime StartTime

	// RestartInterval is the delay before a worker that exited with a
	// non-zero code is started again. A worker that exits with 0 is
	// unregistered.
	RestartInterval time.Duration

	// Path is the executable. Args follow the process title.
	Path string
	Args []string

	// Env is appended to the supervisor's environment.
	Env []string
}

var (
	ErrAlreadyRunning = errors.New("supervisor already running")
	ErrInvalidWorker  = errors.New("invalid background worker")
)

func (w BackgroundWorker) validate() error {
	if w.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidWorker)
	}
	if w.Path == "" {
		return fmt.Errorf("%w %q: path is required", ErrInvalidWorker, w.Name)
	}
	if w.RestartInterval < 0 && w.RestartInterval != NeverRestart {
		return fmt.Errorf("%w %q: negative restart interval", ErrInvalidWorker, w.Name)
	}
	return nil
}

// ProcessTitle is argv[0] of the worker process.
func (w BackgroundWorker) ProcessTitle() string {
	return "pgweb: " + w.Name
}
