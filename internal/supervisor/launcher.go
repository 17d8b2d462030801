package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// Proc is one launched OS process. Done is closed when the process exits;
// a closed Done channel is the liveness poll.
type Proc interface {
	PID() int
	Done() <-chan struct{}
	Signal(sig os.Signal) error
}

// Launcher spawns the supervised engine process. The exec implementation is
// the production one; tests substitute a fake.
type Launcher interface {
	Launch() (Proc, error)
}

// ExecLauncher launches the engine with os/exec using a fixed argument set.
type ExecLauncher struct {
	Command string
	Args    []string
}

// NewExecLauncher builds the launcher for an engine listening on host:port.
// The operational flags match what the engine expects when run headless
// under a supervisor.
func NewExecLauncher(command string, args []string, host string, port int) *ExecLauncher {
	full := make([]string, 0, len(args)+8)
	full = append(full, args...)
	full = append(full,
		"--listen", host,
		"--port", strconv.Itoa(port),
		"--disable-metadata",
		"--disable-auto-launch",
	)
	return &ExecLauncher{Command: command, Args: full}
}

// Launch starts the engine process. Stdout/stderr are inherited rather than
// piped so a full pipe buffer can never wedge the child.
func (l *ExecLauncher) Launch() (Proc, error) {
	cmd := exec.Command(l.Command, l.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", l.Command, err)
	}

	p := &execProc{cmd: cmd, done: make(chan struct{})}
	go func() {
		// Reap the child; Done doubles as the liveness poll.
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProc struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *execProc) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProc) Done() <-chan struct{} {
	return p.done
}

func (p *execProc) Signal(sig os.Signal) error {
	err := p.cmd.Process.Signal(sig)
	// Signalling an already-reaped process is not a fault.
	if err == os.ErrProcessDone || err == syscall.ESRCH {
		return nil
	}
	return err
}
