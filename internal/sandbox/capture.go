package sandbox

import (
	"bytes"
	"io"
	"sync"

	"github.com/docker/docker/pkg/stdcopy"
)

// Capture demultiplexes a runtime output stream into two append-only buffers.
// Snapshots may be taken while the stream is still being consumed.
type Capture struct {
	mu     sync.Mutex
	stdout bytes.Buffer
	stderr bytes.Buffer

	done chan struct{}
	err  error
}

// NewCapture returns an empty Capture.
func NewCapture() *Capture {
	return &Capture{done: make(chan struct{})}
}

// Consume copies r until EOF or error. It must be called exactly once.
func (c *Capture) Consume(r io.Reader) {
	_, err := stdcopy.StdCopy(&captureWriter{c: c, buf: &c.stdout}, &captureWriter{c: c, buf: &c.stderr}, r)
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.done)
}

// Done is closed once the stream has been fully consumed.
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

// Err returns the stream error, if any. Valid after Done is closed.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Stdout returns a copy of the bytes captured from stdout so far.
func (c *Capture) Stdout() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.stdout.Bytes())
}

// Stderr returns a copy of the bytes captured from stderr so far.
func (c *Capture) Stderr() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.stderr.Bytes())
}

type captureWriter struct {
	c   *Capture
	buf *bytes.Buffer
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.buf.Write(p)
}
