package process

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/siswrap/internal/logger"
)

var (
	// ErrSpawn wraps failures to create the OS process.
	ErrSpawn = errors.New("failed to spawn process")
	// ErrOutput is returned when captured output cannot be read.
	ErrOutput = errors.New("failed to communicate with process")
)

const (
	// DefaultOutputLimit bounds how many trailing bytes of stdout/stderr are kept in memory.
	DefaultOutputLimit = 64 << 10
	// pipeWaitDelay is how long Wait keeps draining pipes after the child exits;
	// grandchildren holding stdout open past that are treated as a communication error.
	pipeWaitDelay = 5 * time.Second
)

// Handle is the registry's exclusive view of a spawned process.
type Handle interface {
	Pid() int
	// Poll reports the exit code without blocking. exited is false while the
	// process is still running. Codes below zero mean the process was killed
	// by the signal with that (negated) number.
	Poll() (code int, exited bool)
	// Output returns what the process wrote to stdout and stderr. It fails with
	// ErrOutput while the process runs or when its pipes could not be drained.
	Output() (stdout, stderr string, err error)
}

// Spawner starts a process for an argument vector.
type Spawner interface {
	Spawn(name string, argv []string) (Handle, error)
}

// Exec spawns real OS processes via os/exec.
// Logs, when non-nil, mirrors stdout/stderr into rotated files named after
// the job name passed to Spawn. Jobs sharing a name share the files.
type Exec struct {
	Dir         string
	Env         []string
	Logs        *logger.JobLogs
	OutputLimit int
}

// Spawn starts argv and returns immediately. A single goroutine waits on the
// child and publishes its exit status; nothing else ever calls Wait.
func (e Exec) Spawn(name string, argv []string) (Handle, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty argument vector", ErrSpawn)
	}
	limit := e.OutputLimit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	p := &proc{
		stdout: newTailBuffer(limit),
		stderr: newTailBuffer(limit),
		done:   make(chan struct{}),
	}

	// #nosec G204 -- argv is built from configuration, not from request input
	cmd := exec.Command(argv[0], argv[1:]...)
	if e.Dir != "" {
		cmd.Dir = e.Dir
	}
	if len(e.Env) > 0 {
		cmd.Env = e.Env
	}
	cmd.WaitDelay = pipeWaitDelay
	configureSysProcAttr(cmd)

	var stdout io.Writer = p.stdout
	var stderr io.Writer = p.stderr
	if e.Logs != nil {
		outW, errW, err := e.Logs.Writers(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
		}
		stdout = io.MultiWriter(p.stdout, outW)
		stderr = io.MultiWriter(p.stderr, errW)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	p.cmd = cmd
	go p.wait()
	return p, nil
}

type proc struct {
	cmd    *exec.Cmd
	stdout *tailBuffer
	stderr *tailBuffer

	done    chan struct{} // closed once Wait has returned
	code    int
	waitErr error
}

func (p *proc) wait() {
	err := p.cmd.Wait()
	code := -1
	if st := p.cmd.ProcessState; st != nil {
		code = exitCode(st)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// non-zero exit is reported through the code, not as a failure to communicate
		err = nil
	}
	p.code = code
	p.waitErr = err
	close(p.done)
}

func (p *proc) Pid() int { return p.cmd.Process.Pid }

func (p *proc) Poll() (int, bool) {
	select {
	case <-p.done:
		return p.code, true
	default:
		return 0, false
	}
}

func (p *proc) Output() (string, string, error) {
	select {
	case <-p.done:
	default:
		return "", "", fmt.Errorf("%w: pid %d is still running", ErrOutput, p.Pid())
	}
	out, errOut := p.stdout.String(), p.stderr.String()
	if p.waitErr != nil {
		return out, errOut, fmt.Errorf("%w: %w", ErrOutput, p.waitErr)
	}
	return out, errOut, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer { return &tailBuffer{limit: limit} }

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if n >= b.limit {
		b.buf = append(b.buf[:0], p[n-b.limit:]...)
		return n, nil
	}
	if over := len(b.buf) + n - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
