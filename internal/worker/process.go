package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/model"
)

// ErrRunnerClosed is returned by runners after Close.
var ErrRunnerClosed = errors.New("runner closed")

// processShutdownGrace bounds how long Close waits for a child to exit
// after its stdin is closed before killing it.
const processShutdownGrace = 2 * time.Second

// ProcessConfig describes the child process backing a ProcessRunner.
type ProcessConfig struct {
	ID   string
	Path string
	Args []string
	// Env replaces the child's environment when non-nil.
	Env    []string
	Logger *slog.Logger
}

// proc is one running child process.
type proc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	exited chan struct{}
}

func (p *proc) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// ProcessRunner executes jobs in a dedicated child process. A child that
// crashes or overruns its context is killed and replaced on the next call.
type ProcessRunner struct {
	cfg    ProcessConfig
	id     string
	logger *slog.Logger

	callMu sync.Mutex // one round trip on the pipe at a time

	mu     sync.Mutex
	cur    *proc
	closed bool
}

var _ Runner = (*ProcessRunner)(nil)

// NewProcessRunner returns a runner for cfg. The child is started lazily.
func NewProcessRunner(cfg ProcessConfig) (*ProcessRunner, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("process runner: empty worker binary path")
	}
	id := cfg.ID
	if id == "" {
		id = newWorkerID(model.RuntimeProcess)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &ProcessRunner{cfg: cfg, id: id, logger: logger.With("worker_id", id)}, nil
}

func (p *ProcessRunner) ID() string   { return p.id }
func (p *ProcessRunner) Kind() string { return model.RuntimeProcess }

// Run sends job to the child and waits for its result. If ctx ends first
// the child is killed. A child that dies mid-job yields a retryable error.
func (p *ProcessRunner) Run(ctx context.Context, job Job) (backend.Result, error) {
	p.callMu.Lock()
	defer p.callMu.Unlock()

	resp, err := p.roundTrip(ctx, Request{Type: MsgRun, Job: &job})
	if err != nil {
		if ctx.Err() != nil {
			return backend.Result{}, ctx.Err()
		}
		if errors.Is(err, ErrRunnerClosed) {
			return backend.Result{}, err
		}
		return backend.Result{}, backend.Retryable(job.BackendID, err)
	}
	return decodeResult(job.BackendID, resp)
}

// Ping checks that the child answers. While a job is in flight the pipe is
// busy, so Ping only checks that the child process is still running.
func (p *ProcessRunner) Ping(ctx context.Context) error {
	if !p.callMu.TryLock() {
		p.mu.Lock()
		cur := p.cur
		p.mu.Unlock()
		if cur == nil || !cur.alive() {
			return fmt.Errorf("worker process %s is not running", p.id)
		}
		return nil
	}
	defer p.callMu.Unlock()

	resp, err := p.roundTrip(ctx, Request{Type: MsgPing})
	if err != nil {
		return err
	}
	if resp.Type != MsgPong {
		return fmt.Errorf("worker process %s: unexpected ping reply %q", p.id, resp.Type)
	}
	return nil
}

// Close stops the child, giving it a short grace period to exit on its own.
func (p *ProcessRunner) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cur := p.cur
	p.cur = nil
	p.mu.Unlock()

	if cur == nil {
		return nil
	}
	_ = cur.stdin.Close()
	select {
	case <-cur.exited:
	case <-time.After(processShutdownGrace):
		_ = cur.cmd.Process.Kill()
		<-cur.exited
	}
	return nil
}

// current returns the live child, starting a new one if needed.
func (p *ProcessRunner) current() (*proc, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrRunnerClosed
	}
	if p.cur != nil && p.cur.alive() {
		return p.cur, nil
	}
	cur, err := p.start()
	if err != nil {
		return nil, err
	}
	p.cur = cur
	return cur, nil
}

func (p *ProcessRunner) start() (*proc, error) {
	cmd := exec.Command(p.cfg.Path, p.cfg.Args...)
	if p.cfg.Env != nil {
		cmd.Env = p.cfg.Env
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	pr := &proc{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout), exited: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		close(pr.exited)
		p.logger.Debug("worker process exited", "pid", cmd.Process.Pid, "error", err)
	}()
	p.logger.Info("worker process started", "pid", cmd.Process.Pid, "path", p.cfg.Path)
	return pr, nil
}

// kill terminates pr and forgets it so the next call starts a fresh child.
func (p *ProcessRunner) kill(pr *proc) {
	_ = pr.cmd.Process.Kill()
	<-pr.exited
	p.mu.Lock()
	if p.cur == pr {
		p.cur = nil
	}
	p.mu.Unlock()
}

type readResult struct {
	resp Response
	err  error
}

// roundTrip writes req and reads one response. Callers hold callMu.
func (p *ProcessRunner) roundTrip(ctx context.Context, req Request) (Response, error) {
	pr, err := p.current()
	if err != nil {
		return Response{}, err
	}

	if err := WriteMessage(pr.stdin, req); err != nil {
		p.kill(pr)
		return Response{}, fmt.Errorf("worker process %s: %w", p.id, err)
	}

	ch := make(chan readResult, 1)
	go func() {
		var resp Response
		err := ReadMessage(pr.stdout, &resp)
		ch <- readResult{resp: resp, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			p.kill(pr)
			return Response{}, fmt.Errorf("worker process %s: %w", p.id, r.err)
		}
		return r.resp, nil
	case <-ctx.Done():
		p.logger.Warn("killing worker process", "reason", ctx.Err())
		p.kill(pr)
		return Response{}, ctx.Err()
	}
}

// ServeProcess is the child side of the process runtime: it reads framed
// requests from r, executes them one at a time against reg and writes
// framed responses to w. It returns nil when r reaches end of stream.
func ServeProcess(ctx context.Context, r io.Reader, w io.Writer, reg *backend.Registry, logger *slog.Logger) error {
	br := bufio.NewReader(r)
	for {
		var req Request
		if err := ReadMessage(br, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		var resp Response
		switch req.Type {
		case MsgPing:
			resp = Response{Type: MsgPong}
		case MsgRun:
			if req.Job == nil {
				resp = Response{Type: MsgResult, Error: "run request without job", ErrorCode: codeExecution}
				break
			}
			start := time.Now()
			resp = handleJob(ctx, reg, *req.Job)
			logger.Info("job finished",
				"task_id", req.Job.TaskID,
				"backend_id", req.Job.BackendID,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", resp.Error,
			)
		default:
			resp = Response{Type: MsgResult, Error: fmt.Sprintf("unknown message type %q", req.Type), ErrorCode: codeExecution}
		}

		if err := WriteMessage(w, resp); err != nil {
			return err
		}
	}
}
