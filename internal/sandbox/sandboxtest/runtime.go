// Package sandboxtest provides an in-memory isolation runtime for tests.
package sandboxtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/docker/docker/pkg/stdcopy"

	"github.com/dontdude/javabox/internal/domain"
)

// Script describes how a fake command behaves.
type Script struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Duration is how long the command reports itself as running.
	Duration time.Duration
	// Hang keeps the command running until its stream is closed.
	Hang bool
	// StreamLag delays the end of the output stream past the command's exit.
	StreamLag time.Duration
}

// Command is one exec registered with the runtime.
type Command struct {
	RuntimeID string
	Cmd       []string
}

// Container is a snapshot of one fake instance.
type Container struct {
	ID      string
	Name    string
	Started bool
	Killed  bool
	Removed bool
	// Files maps "dir/name" to content.
	Files map[string]string
}

// Runtime implements domain.Runtime without a container engine.
// Output streams use the docker multiplexed framing.
type Runtime struct {
	// Handler picks the script of a command. A nil Handler succeeds silently.
	Handler func(runtimeID string, cmd []string) Script

	CreateErr error
	StartErr  error
	ExecErr   error
	RemoveErr error
	// PutFilesErr is returned for injections into PutFilesErrDir.
	PutFilesErr    error
	PutFilesErrDir string

	mu              sync.Mutex
	seq             int
	inspectFailures int
	containers      map[string]*Container
	execs           map[string]*execution
	commands        []Command
}

type execution struct {
	runtimeID string
	script    Script
	started   time.Time
	closed    chan struct{}
	once      sync.Once
}

func (e *execution) close() {
	e.once.Do(func() { close(e.closed) })
}

var _ domain.Runtime = (*Runtime)(nil)

// New returns an empty Runtime.
func New() *Runtime {
	return &Runtime{
		containers: make(map[string]*Container),
		execs:      make(map[string]*execution),
	}
}

// FailInspect makes the next n ExecInspect calls fail.
func (r *Runtime) FailInspect(n int) {
	r.mu.Lock()
	r.inspectFailures = n
	r.mu.Unlock()
}

func (r *Runtime) Create(_ context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return "", r.CreateErr
	}
	r.seq++
	id := fmt.Sprintf("c%03d", r.seq)
	r.containers[id] = &Container{ID: id, Name: name, Files: make(map[string]string)}
	return id, nil
}

func (r *Runtime) Start(_ context.Context, runtimeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.liveLocked(runtimeID)
	if err != nil {
		return err
	}
	if r.StartErr != nil {
		return r.StartErr
	}
	c.Started = true
	return nil
}

func (r *Runtime) PutFiles(_ context.Context, runtimeID, dir string, files []domain.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.liveLocked(runtimeID)
	if err != nil {
		return err
	}
	if r.PutFilesErr != nil && dir == r.PutFilesErrDir {
		return r.PutFilesErr
	}
	for _, f := range files {
		c.Files[path.Join(dir, f.Name)] = f.Data
	}
	return nil
}

func (r *Runtime) Exec(_ context.Context, runtimeID string, cmd []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.liveLocked(runtimeID)
	if err != nil {
		return "", err
	}
	if !c.Started {
		return "", fmt.Errorf("container %s is not running", runtimeID)
	}
	if r.ExecErr != nil {
		return "", r.ExecErr
	}

	var script Script
	if r.Handler != nil {
		script = r.Handler(runtimeID, cmd)
	}
	r.seq++
	id := fmt.Sprintf("e%03d", r.seq)
	r.execs[id] = &execution{runtimeID: runtimeID, script: script, closed: make(chan struct{})}
	r.commands = append(r.commands, Command{RuntimeID: runtimeID, Cmd: append([]string(nil), cmd...)})
	return id, nil
}

func (r *Runtime) ExecStart(_ context.Context, execID string) (io.ReadCloser, error) {
	r.mu.Lock()
	e, ok := r.execs[execID]
	if ok {
		e.started = time.Now()
	}
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no such exec %s", execID)
	}

	pr, pw := io.Pipe()
	go func() {
		if e.script.Stdout != "" {
			_, _ = stdcopy.NewStdWriter(pw, stdcopy.Stdout).Write([]byte(e.script.Stdout))
		}
		if e.script.Stderr != "" {
			_, _ = stdcopy.NewStdWriter(pw, stdcopy.Stderr).Write([]byte(e.script.Stderr))
		}
		if e.script.Hang {
			<-e.closed
		} else {
			select {
			case <-time.After(e.script.Duration + e.script.StreamLag):
			case <-e.closed:
			}
		}
		_ = pw.Close()
	}()

	return &stream{PipeReader: pr, exec: e}, nil
}

func (r *Runtime) ExecInspect(_ context.Context, execID string) (domain.ExecState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inspectFailures > 0 {
		r.inspectFailures--
		return domain.ExecState{}, errors.New("inspect unavailable")
	}
	e, ok := r.execs[execID]
	if !ok {
		return domain.ExecState{}, fmt.Errorf("no such exec %s", execID)
	}
	running := e.script.Hang || time.Since(e.started) < e.script.Duration
	return domain.ExecState{Running: running, ExitCode: e.script.ExitCode}, nil
}

func (r *Runtime) Kill(_ context.Context, runtimeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.liveLocked(runtimeID)
	if err != nil {
		return err
	}
	c.Killed = true
	r.closeExecsLocked(runtimeID)
	return nil
}

func (r *Runtime) Remove(_ context.Context, runtimeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.liveLocked(runtimeID)
	if err != nil {
		return err
	}
	if r.RemoveErr != nil {
		return r.RemoveErr
	}
	c.Removed = true
	r.closeExecsLocked(runtimeID)
	return nil
}

// Commands returns every exec registered so far, in order.
func (r *Runtime) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Container returns a snapshot of the instance with the given ID.
func (r *Runtime) Container(runtimeID string) (Container, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[runtimeID]
	if !ok {
		return Container{}, false
	}
	snap := *c
	snap.Files = make(map[string]string, len(c.Files))
	for k, v := range c.Files {
		snap.Files[k] = v
	}
	return snap, true
}

// Created returns the number of instances ever created.
func (r *Runtime) Created() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.containers)
}

// Live returns the number of instances not yet removed.
func (r *Runtime) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.containers {
		if !c.Removed {
			n++
		}
	}
	return n
}

func (r *Runtime) liveLocked(runtimeID string) (*Container, error) {
	c, ok := r.containers[runtimeID]
	if !ok || c.Removed {
		return nil, fmt.Errorf("no such container %s", runtimeID)
	}
	return c, nil
}

func (r *Runtime) closeExecsLocked(runtimeID string) {
	for _, e := range r.execs {
		if e.runtimeID == runtimeID {
			e.close()
		}
	}
}

type stream struct {
	*io.PipeReader
	exec *execution
}

func (s *stream) Close() error {
	s.exec.close()
	return s.PipeReader.Close()
}
