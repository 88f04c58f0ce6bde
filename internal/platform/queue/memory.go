package queue

import (
	"context"
	"strconv"
	"sync"

	"github.com/dontdude/javabox/internal/domain"
)

// MemoryStore is an in-process FIFO for single-node deployments and tests.
// Jobs do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	queue   []domain.Job
	pending map[string]domain.Request
	seq     int
	closed  bool

	ready chan struct{}
	done  chan struct{}
}

var _ domain.JobStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pending: make(map[string]domain.Request),
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *MemoryStore) Push(_ context.Context, req domain.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.seq++
	s.queue = append(s.queue, domain.Job{Request: req, Token: strconv.Itoa(s.seq)})
	s.signal()
	return nil
}

func (s *MemoryStore) Pop(ctx context.Context) (domain.Job, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return domain.Job{}, ErrClosed
		}
		if len(s.queue) > 0 {
			job := s.queue[0]
			s.queue = s.queue[1:]
			s.pending[job.Token] = job.Request
			if len(s.queue) > 0 {
				s.signal()
			}
			s.mu.Unlock()
			return job, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Job{}, ctx.Err()
		case <-s.done:
		case <-s.ready:
		}
	}
}

func (s *MemoryStore) Ack(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.pending, token)
	s.mu.Unlock()
	return nil
}

// Len returns the number of jobs waiting to be popped.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Unacked returns the number of popped jobs not yet acknowledged.
func (s *MemoryStore) Unacked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close wakes every blocked Pop. Later calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// signal wakes one waiting Pop. Callers hold s.mu.
func (s *MemoryStore) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
