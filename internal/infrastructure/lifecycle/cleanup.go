package lifecycle

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"warden/internal/shared/logger"
)

// Cleanup runs registered tasks when the process is terminated by
// SIGINT or SIGTERM. A second signal during cleanup skips the pending
// tasks and exits with the signal's numeric code.
type Cleanup struct {
	log  logger.Interface
	exit func(int)

	mu        sync.Mutex
	callbacks []func()
	cleaning  bool
}

func NewCleanup(log logger.Interface) *Cleanup {
	return &Cleanup{log: log.Named("cleanup"), exit: os.Exit}
}

// Add schedules a callback to run on termination. Callbacks run in
// reverse registration order, mirroring defer.
func (c *Cleanup) Add(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, callback)
}

// Listen installs the signal handlers. The returned stop function
// uninstalls them again, for processes that terminate on their own.
func (c *Cleanup) Listen() func() {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go c.watch(signals)
	return func() { signal.Stop(signals) }
}

func (c *Cleanup) watch(signals <-chan os.Signal) {
	received := <-signals
	message := "waiting for the scheduled tasks to finish"
	if received == syscall.SIGINT {
		message += " (Ctrl+C to skip)"
	}
	c.log.Infow(message)

	done := make(chan struct{})
	go func() {
		c.Run()
		close(done)
	}()

	select {
	case <-done:
		c.exit(0)
	case next := <-signals:
		c.log.Warnw("the pending tasks are cancelled")
		code := 1
		if s, ok := next.(syscall.Signal); ok {
			code = int(s)
		}
		c.exit(code)
	}
}

// Run executes the scheduled tasks once. Later invocations and the
// signal handler become no-ops after the first call.
func (c *Cleanup) Run() {
	c.mu.Lock()
	if c.cleaning {
		c.mu.Unlock()
		return
	}
	c.cleaning = true
	callbacks := make([]func(), len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.mu.Unlock()

	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i]()
	}
	c.log.Debugw("the scheduled tasks are finished")
}
