package lifecycle

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"warden/internal/shared/logger"
)

// Worker is a child process running another subcommand of this binary.
// The API worker is spawned this way so a crash in the HTTP surface
// cannot take the reconciler down with it.
type Worker struct {
	name string
	log  logger.Interface
	cmd  *exec.Cmd
	done chan error
}

// SpawnWorker re-executes the current binary with the given arguments.
func SpawnWorker(name string, log logger.Interface, args ...string) (*Worker, error) {
	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve the executable path: %w", err)
	}

	cmd := exec.Command(executable, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn the '%s' worker: %w", name, err)
	}

	worker := &Worker{
		name: name,
		log:  log.Named("lifecycle"),
		cmd:  cmd,
		done: make(chan error, 1),
	}
	go func() { worker.done <- cmd.Wait() }()
	worker.log.Infow("worker is spawned", "worker", name, "pid", cmd.Process.Pid)
	return worker, nil
}

// Terminate sends SIGTERM and joins the worker, killing it when it
// does not exit within the timeout.
func (w *Worker) Terminate(timeout time.Duration) {
	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return
	}
	select {
	case <-w.done:
	case <-time.After(timeout):
		w.log.Warnw("worker did not exit in time", "worker", w.name)
		_ = w.cmd.Process.Kill()
		<-w.done
	}
	w.log.Infow("worker is terminated", "worker", w.name)
}
