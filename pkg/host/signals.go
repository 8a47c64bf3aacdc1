package host

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
)

// Flag is a process-wide boolean set by signal delivery and polled by the
// main loop.
type Flag struct {
	v atomic.Bool
}

// Set raises the flag.
func (f *Flag) Set() { f.v.Store(true) }

// IsSet reports whether the flag is raised.
func (f *Flag) IsSet() bool { return f.v.Load() }

// Consume lowers the flag and reports whether it was raised. Shutdown flags
// are never consumed; reload flags are.
func (f *Flag) Consume() bool { return f.v.Swap(false) }

// SignalBridge turns OS signals into flag writes plus a latch wake.
//
// Signals are registered with Install and queue up until Unblock, which
// mirrors a worker that installs handlers while signals are blocked and
// unblocks them once it is ready to react.
type SignalBridge struct {
	latch  *Latch
	routes map[os.Signal]*Flag
	ch     chan os.Signal

	unblocked chan struct{}
	done      chan struct{}

	installOnce sync.Once
	unblockOnce sync.Once
	stopOnce    sync.Once
	running     sync.WaitGroup
}

// NewSignalBridge returns a bridge that wakes latch on every routed signal.
// latch may be nil.
func NewSignalBridge(latch *Latch) *SignalBridge {
	return &SignalBridge{
		latch:     latch,
		routes:    make(map[os.Signal]*Flag),
		unblocked: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Route sends sigs to flag. Must be called before Install.
func (b *SignalBridge) Route(flag *Flag, sigs ...os.Signal) *SignalBridge {
	for _, s := range sigs {
		b.routes[s] = flag
	}
	return b
}

// Install registers the routed signals with the runtime. Signals that
// arrive before Unblock stay pending.
func (b *SignalBridge) Install() {
	b.installOnce.Do(func() {
		sigs := make([]os.Signal, 0, len(b.routes))
		for s := range b.routes {
			sigs = append(sigs, s)
		}
		// One slot per routed signal so distinct pending signals are not
		// coalesced into each other.
		b.ch = make(chan os.Signal, len(sigs))
		signal.Notify(b.ch, sigs...)

		b.running.Add(1)
		go b.deliver()
	})
}

// Unblock starts delivering signals, including any that are pending.
func (b *SignalBridge) Unblock() {
	b.unblockOnce.Do(func() { close(b.unblocked) })
}

// Stop restores default handling for the routed signals.
func (b *SignalBridge) Stop() {
	b.stopOnce.Do(func() {
		if b.ch != nil {
			signal.Stop(b.ch)
		}
		close(b.done)
		b.running.Wait()
	})
}

func (b *SignalBridge) deliver() {
	defer b.running.Done()

	select {
	case <-b.unblocked:
	case <-b.done:
		return
	}

	for {
		select {
		case <-b.done:
			return
		case sig := <-b.ch:
			if f := b.routes[sig]; f != nil {
				f.Set()
			}
			if b.latch != nil {
				b.latch.Set()
			}
		}
	}
}
