// Package host provides the process-level primitives a supervised worker
// runs on: a wakeable latch, a bridge from OS signals to process flags,
// exit hooks with a fatal-exit path, and the supervisor that launches,
// restarts and stops workers.
package host

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// WaitEvent is a bitmask of conditions a Wait can return for.
type WaitEvent uint32

const (
	WaitLatchSet WaitEvent = 1 << iota
	WaitSocketReadable
	WaitTimeout
	WaitHostDeath
)

func (e WaitEvent) Has(flag WaitEvent) bool { return e&flag != 0 }

func (e WaitEvent) String() string {
	if e == 0 {
		return "none"
	}
	s := ""
	add := func(flag WaitEvent, name string) {
		if e.Has(flag) {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(WaitLatchSet, "latch")
	add(WaitSocketReadable, "socket")
	add(WaitTimeout, "timeout")
	add(WaitHostDeath, "host_death")
	return s
}

var ErrLatchClosed = errors.New("latch is closed")

// wakeByte is written to the self-pipe. It is a package-level array so
// Set never allocates.
var wakeByte = [1]byte{0}

// Latch is a boolean that one goroutine sleeps on and any goroutine (or the
// signal bridge) can set. It is implemented with a non-blocking self-pipe
// so that a wait can also watch sockets and the host-death pipe in one
// poll(2) call.
type Latch struct {
	isSet   atomic.Bool
	closed  atomic.Bool
	readFD  int
	writeFD int
	deathFD int
}

// NewLatch creates a latch with its self-pipe.
func NewLatch() (*Latch, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, fmt.Errorf("create latch pipe: %w", err)
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, fmt.Errorf("set latch pipe non-blocking: %w", err)
		}
	}
	return &Latch{readFD: fds[0], writeFD: fds[1], deathFD: -1}, nil
}

// WatchHostDeath registers the read end of the host-death pipe. Once the
// host exits, every writer of that pipe is gone and the descriptor reports
// end-of-file.
func (l *Latch) WatchHostDeath(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set host death fd non-blocking: %w", err)
	}
	unix.CloseOnExec(fd)
	l.deathFD = fd
	return nil
}

// Set sets the latch and wakes a waiter. Safe from any goroutine; it takes
// no locks and does not allocate.
func (l *Latch) Set() {
	if l.isSet.Swap(true) {
		return
	}
	if l.closed.Load() {
		return
	}
	// EAGAIN means the pipe is full, so a wakeup is already pending.
	_, _ = unix.Write(l.writeFD, wakeByte[:])
}

// IsSet reports the latch state without changing it.
func (l *Latch) IsSet() bool {
	return l.isSet.Load()
}

// Reset clears the latch. Callers must re-check their wake condition after
// Reset and before the next Wait so that a Set racing with Reset is never
// lost.
func (l *Latch) Reset() {
	l.isSet.Store(false)
}

// drain empties the self-pipe.
func (l *Latch) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(l.readFD, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// HostAlive reports false once the host-death pipe has reached EOF. With no
// pipe registered the host is assumed alive.
func (l *Latch) HostAlive() bool {
	if l.deathFD < 0 {
		return true
	}
	var buf [1]byte
	n, err := unix.Read(l.deathFD, buf[:])
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return true
	}
	// Nothing is ever written to the pipe, so any read that does not block
	// means the write end has been closed.
	return n > 0 && err == nil
}

// Wait sleeps until one of the requested events happens and returns all of
// the requested events that did. timeout is only honored when events
// includes WaitTimeout. sockets are only watched when events includes
// WaitSocketReadable.
func (l *Latch) Wait(events WaitEvent, timeout time.Duration, sockets ...int) (WaitEvent, error) {
	if l.closed.Load() {
		return 0, ErrLatchClosed
	}

	if events.Has(WaitLatchSet) && l.isSet.Load() {
		return WaitLatchSet, nil
	}

	var deadline time.Time
	if events.Has(WaitTimeout) {
		deadline = time.Now().Add(timeout)
	}

	watchDeath := events.Has(WaitHostDeath) && l.deathFD >= 0
	watchSockets := events.Has(WaitSocketReadable)

	pfds := make([]unix.PollFd, 0, 2+len(sockets))
	pfds = append(pfds, unix.PollFd{Fd: int32(l.readFD), Events: unix.POLLIN})
	deathIdx := -1
	if watchDeath {
		deathIdx = len(pfds)
		pfds = append(pfds, unix.PollFd{Fd: int32(l.deathFD), Events: unix.POLLIN})
	}
	sockStart := len(pfds)
	if watchSockets {
		for _, fd := range sockets {
			pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		}
	}

	for {
		ms := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return WaitTimeout, nil
			}
			ms = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}

		for i := range pfds {
			pfds[i].Revents = 0
		}

		n, err := unix.Poll(pfds, ms)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			if !deadline.IsZero() && time.Until(deadline) <= 0 {
				return WaitTimeout, nil
			}
			continue
		}

		var got WaitEvent
		const ready = unix.POLLIN | unix.POLLHUP | unix.POLLERR

		if pfds[0].Revents&ready != 0 {
			l.drain()
		}
		if events.Has(WaitLatchSet) && l.isSet.Load() {
			got |= WaitLatchSet
		}
		if deathIdx >= 0 && pfds[deathIdx].Revents&ready != 0 && !l.HostAlive() {
			got |= WaitHostDeath
		}
		if watchSockets {
			for i := sockStart; i < len(pfds); i++ {
				if pfds[i].Revents&(ready|unix.POLLNVAL) != 0 {
					got |= WaitSocketReadable
					break
				}
			}
		}

		if got != 0 {
			return got, nil
		}
	}
}

// Close releases the self-pipe. The host-death descriptor is left alone.
func (l *Latch) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return errors.Join(unix.Close(l.readFD), unix.Close(l.writeFD))
}
