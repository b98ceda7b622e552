package session

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	nwerrors "northwind/internal/errors"
)

const (
	// maxScanTokenSize is the maximum buffer size for reading server output lines.
	maxScanTokenSize = 1024 * 1024 // 1MB
	// maxStderrBufferSize caps the stderr buffer kept for diagnostics.
	maxStderrBufferSize = 256 * 1024
)

// process wraps one spawned Tool Host subprocess: piped stdio, a pumped
// stdout line channel, buffered stderr, and deterministic teardown.
type process struct {
	log   *slog.Logger
	cmd   *exec.Cmd
	stdin io.WriteCloser

	lines   chan string
	abandon chan struct{}
	waitCh  chan struct{}

	mu       sync.Mutex
	stderr   strings.Builder
	exitCode int
	exitErr  error
}

// spawn starts the subprocess and its reader goroutines. The returned
// process is ready for writeLine/readLine; the caller must always call
// shutdown.
func spawn(log *slog.Logger, cfg Config) (*process, error) {
	//nolint:gosec // G204: launching a configured server command is the point
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()

		return nil, err
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()

		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &process{
		log:      log,
		cmd:      cmd,
		stdin:    stdin,
		lines:    make(chan string, 4),
		abandon:  make(chan struct{}),
		waitCh:   make(chan struct{}),
		exitCode: -1,
	}

	log.Debug("Server subprocess started", "pid", cmd.Process.Pid)

	var readers errgroup.Group

	readers.Go(func() error {
		defer close(p.lines)

		scanner := bufio.NewScanner(stdout)
		buf := make([]byte, maxScanTokenSize)
		scanner.Buffer(buf, maxScanTokenSize)

		for scanner.Scan() {
			select {
			case p.lines <- scanner.Text():
			case <-p.abandon:
				return nil
			}
		}

		return scanner.Err()
	})

	readers.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()

			p.mu.Lock()
			if p.stderr.Len() < maxStderrBufferSize {
				if p.stderr.Len() > 0 {
					p.stderr.WriteString("\n")
				}

				p.stderr.WriteString(line)
			}
			p.mu.Unlock()
		}

		return scanner.Err()
	})

	// Pipe readers must drain before Wait closes the pipes.
	go func() {
		if err := readers.Wait(); err != nil {
			p.log.Debug("Reader goroutine error", "error", err)
		}

		err := cmd.Wait()

		p.mu.Lock()
		p.exitErr = err
		p.exitCode = cmd.ProcessState.ExitCode()
		p.mu.Unlock()

		close(p.waitCh)
	}()

	return p, nil
}

// writeLine writes one newline-terminated line to the server's stdin.
func (p *process) writeLine(data []byte) error {
	if len(data) == 0 || data[len(data)-1] != '\n' {
		data = append(append(make([]byte, 0, len(data)+1), data...), '\n')
	}

	_, err := p.stdin.Write(data)

	return err
}

// readLine blocks until the server writes a line, the server exits, or the
// context expires. A closed output stream is reported as a ProcessError
// carrying the exit code and captured stderr.
func (p *process) readLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", p.exitError()
		}

		return line, nil

	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// exitError waits briefly for the exit status and wraps it with stderr.
func (p *process) exitError() error {
	select {
	case <-p.waitCh:
	case <-time.After(2 * time.Second):
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return &nwerrors.ProcessError{
		ExitCode: p.exitCode,
		Stderr:   p.stderr.String(),
		Err:      p.exitErr,
	}
}

// stderrOutput returns the stderr captured so far.
func (p *process) stderrOutput() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stderr.String()
}

// shutdown terminates the subprocess: close stdin, signal termination, wait
// up to grace, then force kill. Safe to call after the process has already
// exited.
func (p *process) shutdown(grace time.Duration) {
	close(p.abandon)
	_ = p.stdin.Close()

	select {
	case <-p.waitCh:
		return
	default:
	}

	p.terminate()

	select {
	case <-p.waitCh:
		return
	case <-time.After(grace):
	}

	p.log.Debug("Server did not exit after termination signal, killing", "pid", p.cmd.Process.Pid)

	if err := p.cmd.Process.Kill(); err != nil {
		p.log.Warn("Failed to kill server process", "error", err)
	}

	select {
	case <-p.waitCh:
	case <-time.After(grace):
		p.log.Warn("Server process did not exit after kill", "pid", p.cmd.Process.Pid)
	}
}

func (p *process) terminate() {
	if runtime.GOOS == "windows" {
		_ = p.cmd.Process.Kill()

		return
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.log.Debug("Termination signal failed", "error", err)
	}
}
