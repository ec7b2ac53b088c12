// Package service owns the process-wide Summarizer: it builds it once at
// startup, admits calls only while Ready, and on shutdown drains in-flight
// calls before closing it.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/summarizer/internal/logger"
	"github.com/samcharles93/summarizer/internal/summarizer"
)

var ErrAlreadyStarted = errors.New("service already started")

// Builder constructs the summarizer. It is called at most once per
// successful Start.
type Builder func(ctx context.Context) (*summarizer.Summarizer, error)

type state int

const (
	idle state = iota
	starting
	ready
	draining
	stopped
)

type Service struct {
	build Builder
	log   logger.Logger

	mu       sync.Mutex
	state    state
	s        *summarizer.Summarizer
	inflight sync.WaitGroup
	building sync.WaitGroup

	stopOnce sync.Once
	done     chan struct{}
	closeErr error
}

func New(build Builder, log logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{build: build, log: log, done: make(chan struct{})}
}

// Start builds the summarizer. The build runs without holding the service
// lock, so Ready and Summarize answer immediately while models load. A failed
// Start leaves the service idle so it can be retried; Start after a
// successful Start or after Shutdown fails. A Shutdown that arrives during the
// build closes the new summarizer.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case starting:
		s.mu.Unlock()
		return fmt.Errorf("%w: start in progress", ErrAlreadyStarted)
	case ready:
		s.mu.Unlock()
		return ErrAlreadyStarted
	case draining, stopped:
		s.mu.Unlock()
		return fmt.Errorf("%w: service is shut down", summarizer.ErrNotReady)
	}
	s.state = starting
	s.building.Add(1)
	s.mu.Unlock()
	defer s.building.Done()

	sum, err := s.build(ctx)
	if err == nil && sum.State() != summarizer.Ready {
		_ = sum.Close()
		err = fmt.Errorf("%w: builder returned a %s summarizer", summarizer.ErrNotReady, sum.State())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != starting {
		if err == nil {
			err = errors.Join(fmt.Errorf("%w: service shut down while starting", summarizer.ErrNotReady), sum.Close())
		}
		return err
	}
	if err != nil {
		s.state = idle
		return err
	}
	s.s = sum
	s.state = ready
	s.log.Info("service ready", "vocabulary_size", sum.Vocabulary())
	return nil
}

func (s *Service) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == ready
}

// Summarize forwards to the summarizer while the service is Ready.
func (s *Service) Summarize(ctx context.Context, text string) (string, error) {
	sum, err := s.acquire()
	if err != nil {
		return "", err
	}
	defer s.inflight.Done()
	return sum.Summarize(ctx, text)
}

func (s *Service) acquire() (*summarizer.Summarizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != ready {
		return nil, fmt.Errorf("%w: service is %s", summarizer.ErrNotReady, s.state)
	}
	s.inflight.Add(1)
	return s.s, nil
}

// Shutdown stops admitting calls, waits for in-flight ones and closes the
// summarizer exactly once. If ctx ends first Shutdown returns ctx.Err() and
// the close still happens once the last call returns. Later calls wait for
// the same outcome.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		sum := s.s
		wasReady := s.state == ready
		s.state = draining
		s.mu.Unlock()

		go func() {
			s.building.Wait()
			s.inflight.Wait()
			var err error
			if wasReady {
				err = sum.Close()
			}
			s.mu.Lock()
			s.state = stopped
			s.s = nil
			s.closeErr = err
			s.mu.Unlock()
			if err != nil {
				s.log.Error("close summarizer", "error", err)
			} else {
				s.log.Info("service stopped")
			}
			close(s.done)
		}()
	})

	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (st state) String() string {
	switch st {
	case idle:
		return "not started"
	case starting:
		return "starting"
	case ready:
		return "ready"
	case draining:
		return "shutting down"
	case stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(st))
	}
}
