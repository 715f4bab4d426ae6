// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package indexer sweeps known canonical ids in the background and resolves
// each one against every provider, warming the record store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/anisync/anisync/internal/domain"
)

const (
	DefaultDelay     = 10 * time.Second
	DefaultBatchSize = 25
)

// Item outcomes reported to the Observer.
const (
	OutcomeResolved = "resolved"
	OutcomeFailed   = "failed"
)

// IDSource yields known canonical ids in ascending order, strictly after the cursor.
type IDSource interface {
	NextIDs(ctx context.Context, after, limit int) ([]int, error)
}

// IDSourceFunc adapts a function to IDSource.
type IDSourceFunc func(ctx context.Context, after, limit int) ([]int, error)

func (f IDSourceFunc) NextIDs(ctx context.Context, after, limit int) ([]int, error) {
	return f(ctx, after, limit)
}

// Resolver resolves one canonical id against every provider.
type Resolver interface {
	ResolveAll(ctx context.Context, canonicalID int) error
}

type Observer interface {
	SetRunning(running bool)
	ItemProcessed(outcome string)
	BatchCompleted()
}

type Config struct {
	IDs          IDSource
	Resolver     Resolver
	Observer     Observer
	DefaultDelay time.Duration
	DefaultBatch int
}

// Status is a snapshot of the current or last sweep.
type Status struct {
	Running    bool       `json:"running"`
	Stopping   bool       `json:"stopping"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Delay      string     `json:"delay,omitempty"`
	BatchSize  int        `json:"batchSize,omitempty"`
	Batches    int        `json:"batches"`
	Processed  int        `json:"processed"`
	Failed     int        `json:"failed"`
	Cursor     int        `json:"cursor"`
	LastError  string     `json:"lastError,omitempty"`
}

type Service struct {
	ids          IDSource
	resolver     Resolver
	observer     Observer
	defaultDelay time.Duration
	defaultBatch int

	// ctx is cancelled by Shutdown only; Stop lets in-flight items finish.
	ctx    context.Context
	cancel context.CancelFunc

	running atomic.Bool

	mu     sync.Mutex
	status Status
	stop   chan struct{}
	done   chan struct{}
}

func NewService(cfg Config) *Service {
	if cfg.DefaultDelay < 0 {
		cfg.DefaultDelay = DefaultDelay
	}
	if cfg.DefaultBatch <= 0 {
		cfg.DefaultBatch = DefaultBatchSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	close(done)

	return &Service{
		ids:          cfg.IDs,
		resolver:     cfg.Resolver,
		observer:     cfg.Observer,
		defaultDelay: cfg.DefaultDelay,
		defaultBatch: cfg.DefaultBatch,
		ctx:          ctx,
		cancel:       cancel,
		done:         done,
	}
}

// Start launches a sweep and returns immediately. A negative delay or a
// non-positive batch size selects the configured default. Only one sweep runs
// at a time; starting another returns domain.ErrAlreadyRunning.
func (s *Service) Start(delay time.Duration, batchSize int) error {
	if s.ctx.Err() != nil {
		return errors.New("indexer: shut down")
	}
	if !s.running.CompareAndSwap(false, true) {
		return domain.ErrAlreadyRunning
	}
	if delay < 0 {
		delay = s.defaultDelay
	}
	if batchSize <= 0 {
		batchSize = s.defaultBatch
	}

	now := time.Now()
	stop := make(chan struct{})
	done := make(chan struct{})

	s.mu.Lock()
	s.stop = stop
	s.done = done
	s.status = Status{
		Running:   true,
		StartedAt: &now,
		Delay:     delay.String(),
		BatchSize: batchSize,
	}
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.SetRunning(true)
	}

	log.Info().Dur("delay", delay).Int("batchSize", batchSize).Msg("indexer: sweep started")

	go s.run(stop, done, delay, batchSize)
	return nil
}

// Stop asks the running sweep to end after its current batch. It does not
// wait; use Done for that.
func (s *Service) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.status.Running || s.status.Stopping {
		return false
	}
	s.status.Stopping = true
	close(s.stop)
	log.Info().Int("cursor", s.status.Cursor).Msg("indexer: stop requested")
	return true
}

// Done is closed when the current sweep ends.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Shutdown stops any sweep, cancels in-flight work and waits for it to end
// or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.Stop()
	s.cancel()

	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run(stop <-chan struct{}, done chan struct{}, delay time.Duration, batchSize int) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("indexer: sweep panicked")
			s.setLastError(fmt.Sprintf("panic: %v", r))
		}
		s.finish()
		close(done)
	}()

	after := 0
	for {
		select {
		case <-stop:
			log.Info().Int("cursor", after).Msg("indexer: sweep stopped")
			return
		case <-s.ctx.Done():
			return
		default:
		}

		ids, err := s.ids.NextIDs(s.ctx, after, batchSize)
		if err != nil {
			log.Error().Err(err).Int("cursor", after).Msg("indexer: failed to load next batch")
			s.setLastError(err.Error())
			return
		}

		for _, id := range ids {
			s.process(id)
			after = id
		}
		s.batchCompleted(after)

		if len(ids) < batchSize {
			st := s.Status()
			log.Info().Int("processed", st.Processed).Int("failed", st.Failed).Msg("indexer: sweep completed")
			return
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-stop:
				timer.Stop()
				log.Info().Int("cursor", after).Msg("indexer: sweep stopped during delay")
				return
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

func (s *Service) process(id int) {
	outcome := OutcomeResolved
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int("canonicalId", id).Msg("indexer: item panicked")
			outcome = OutcomeFailed
		}
		s.itemProcessed(outcome)
	}()

	if err := s.resolver.ResolveAll(s.ctx, id); err != nil {
		outcome = OutcomeFailed
		log.Warn().Err(err).Int("canonicalId", id).Msg("indexer: item failed")
	}
}

func (s *Service) itemProcessed(outcome string) {
	s.mu.Lock()
	s.status.Processed++
	if outcome == OutcomeFailed {
		s.status.Failed++
	}
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ItemProcessed(outcome)
	}
}

func (s *Service) batchCompleted(cursor int) {
	s.mu.Lock()
	s.status.Batches++
	s.status.Cursor = cursor
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.BatchCompleted()
	}
}

func (s *Service) setLastError(msg string) {
	s.mu.Lock()
	s.status.LastError = msg
	s.mu.Unlock()
}

func (s *Service) finish() {
	now := time.Now()
	s.mu.Lock()
	s.status.Running = false
	s.status.Stopping = false
	s.status.FinishedAt = &now
	s.mu.Unlock()

	s.running.Store(false)
	if s.observer != nil {
		s.observer.SetRunning(false)
	}
}
