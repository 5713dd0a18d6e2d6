package service

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	// maxOutput caps each of the captured stdout and stderr
	maxOutput = 1 << 20
	// waitDelay bounds the wait for output pipes after the process exits or is
	// killed, a leftover grandchild may keep them open
	waitDelay = 5 * time.Second
)

// LineFunc is called for every line of output, without the line terminator
type LineFunc func(ctx context.Context, line string)

// Command is a prototype of the executed process
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

type Result struct {
	Path    string
	Args    []string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Stdout  string
	Stderr  string
	Err     error
}

// ExitCode returns -1 when the process did not exit normally
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

// Process is a started command. Output is consumed while the process runs,
// each stdout line is passed to the LineFunc given to Start.
type Process struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout *lineWriter
	stderr *limitedBuffer
	result Result
}

// Start runs the command and returns immediately. Call Wait to collect the
// result. Canceling ctx or calling Kill terminates the process.
func Start(ctx context.Context, proto Command, stdoutFunc LineFunc) (*Process, error) {
	ctx, cancel := context.WithCancel(ctx)

	p := &Process{
		cancel: cancel,
		stdout: &lineWriter{ctx: ctx, fn: stdoutFunc, out: &limitedBuffer{max: maxOutput}},
		stderr: &limitedBuffer{max: maxOutput},
		result: Result{
			Path: proto.Path,
			Args: append([]string(nil), proto.Args...),
		},
	}

	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	cmd.Env = proto.Env
	cmd.Dir = proto.Dir
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)
	p.cmd = cmd

	p.result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}
	slog.DebugContext(ctx, "process started", "pid", cmd.Process.Pid, "path", proto.Path)
	return p, nil
}

// Kill terminates the process, it is safe to call it more than once or after
// the process has exited.
func (p *Process) Kill() {
	p.cancel()
}

// Wait blocks until the process exits and all its output has been consumed.
// It must be called exactly once.
func (p *Process) Wait() Result {
	err := p.cmd.Wait()
	p.cancel()
	p.stdout.flush()

	p.result.Stopped = time.Now().UTC()
	p.result.State = p.cmd.ProcessState
	p.result.Err = err
	p.result.Stdout = p.stdout.out.String()
	p.result.Stderr = p.stderr.String()
	return p.result
}

// lineWriter splits the written data into lines and keeps a bounded copy of
// it
type lineWriter struct {
	ctx     context.Context
	fn      LineFunc
	out     *limitedBuffer
	partial []byte
}

func (w *lineWriter) Write(b []byte) (int, error) {
	_, _ = w.out.Write(b)
	if w.fn == nil {
		return len(b), nil
	}
	w.partial = append(w.partial, b...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.fn(w.ctx, strings.TrimSuffix(string(w.partial[:i]), "\r"))
		w.partial = append(w.partial[:0], w.partial[i+1:]...)
	}
	// a line without terminator can't grow forever
	if len(w.partial) >= maxOutput {
		w.flush()
	}
	return len(b), nil
}

func (w *lineWriter) flush() {
	if w.fn == nil || len(w.partial) == 0 {
		return
	}
	w.fn(w.ctx, strings.TrimSuffix(string(w.partial), "\r"))
	w.partial = w.partial[:0]
}

// limitedBuffer keeps the first max bytes written and discards the rest
type limitedBuffer struct {
	mx        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	remain := b.max - b.buf.Len()
	if remain <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > remain {
		b.buf.Write(p[:remain])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.truncated {
		return b.buf.String() + "\n... (output truncated)"
	}
	return b.buf.String()
}
