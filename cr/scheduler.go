/*
Copyright (C) 2026  CRCache Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package cr

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoCleanCache is returned by Assign when the pool is exhausted.
var ErrNoCleanCache = errors.New("no clean cache available")

type pollEntry struct {
	id       uint64
	cache    *CRCache
	trigger  func()
	target   State
	deadline time.Time // zero = no deadline
}

// FSMScheduler owns one builder's cache pool. It hands bags to clean
// caches, tracks the execution queue whose head is "top of stack", and
// sweeps registered poll conditions on a single goroutine. Caches never
// block inside a transition; every wait is expressed as a poll that the
// sweep re-evaluates until the cache reaches the poll's target state.
type FSMScheduler struct {
	mu     sync.Mutex
	free   []*CRCache
	queue  []*CRCache // assignment order; head is top of stack
	polls  []pollEntry
	nextID uint64

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
	log     *zap.SugaredLogger
}

func NewFSMScheduler() *FSMScheduler {
	s := &FSMScheduler{
		stopCh: make(chan struct{}),
		log:    log.Named("scheduler"),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// MarkClean returns a cache to the free set and drops its pending polls.
func (s *FSMScheduler) MarkClean(c *CRCache) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, qc := range s.queue {
		if qc == c {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	kept := s.polls[:0]
	for _, p := range s.polls {
		if p.cache != c {
			kept = append(kept, p)
		}
	}
	s.polls = kept
	for _, fc := range s.free {
		if fc == c {
			return
		}
	}
	s.free = append(s.free, c)
}

// CheckTopOfStack reports whether c is the head of the execution queue,
// i.e. the oldest cache still working on a bag.
func (s *FSMScheduler) CheckTopOfStack(c *CRCache) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) > 0 && s.queue[0] == c
}

// AddPoll registers a condition check. The trigger is invoked on every
// sweep until the cache reaches the target state.
func (s *FSMScheduler) AddPoll(c *CRCache, trigger func(), target State) {
	s.addPoll(c, trigger, target, time.Time{})
}

// AddPollDeadline registers a poll that discards the cache when the
// condition does not fire within the timeout.
func (s *FSMScheduler) AddPollDeadline(c *CRCache, trigger func(), target State, timeout time.Duration) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	s.addPoll(c, trigger, target, deadline)
}

func (s *FSMScheduler) addPoll(c *CRCache, trigger func(), target State, deadline time.Time) {
	s.mu.Lock()
	s.nextID++
	s.polls = append(s.polls, pollEntry{id: s.nextID, cache: c, trigger: trigger, target: target, deadline: deadline})
	s.mu.Unlock()
}

// Assign hands a bag to a clean cache and starts the speculative first
// pass on a worker goroutine. Sibling builders execute in parallel; the
// conflict-resolution phases afterwards are serialized by the macros.
func (s *FSMScheduler) Assign(bag *TransactionBag) (*CRCache, error) {
	s.mu.Lock()
	if len(s.free) == 0 {
		s.mu.Unlock()
		return nil, ErrNoCleanCache
	}
	c := s.free[0]
	s.free = s.free[1:]
	s.queue = append(s.queue, c)
	s.mu.Unlock()

	if err := c.SetBag(bag); err != nil {
		s.MarkClean(c)
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.recoverTask("execute")
		if err := c.Execute(); err != nil {
			s.log.Errorw("execute failed", "cache", c.Idx(), "err", err)
			c.Discard()
		}
	}()
	return c, nil
}

// Merge fires the merge trigger on the cache holding the given bag.
func (s *FSMScheduler) Merge(inputHash string) error {
	s.mu.Lock()
	queue := append([]*CRCache(nil), s.queue...)
	s.mu.Unlock()
	for _, c := range queue {
		if c.InputHash() == inputHash {
			return c.Merge()
		}
	}
	return errors.New("no cache holds bag " + inputHash)
}

// Stop terminates the sweep loop and waits for in-flight executions.
func (s *FSMScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *FSMScheduler) recoverTask(what string) {
	if r := recover(); r != nil {
		s.log.Errorw("task panic", "in", what, "panic", r)
	}
}

// run is the single-threaded cooperative sweep: evaluate every registered
// poll, drop the ones whose cache reached the target state, discard caches
// whose deadline expired, sleep, repeat.
func (s *FSMScheduler) run() {
	defer s.wg.Done()
	timer := time.NewTimer(pollInterval())
	defer timer.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
		}
		s.sweep()
		timer.Reset(pollInterval())
	}
}

func (s *FSMScheduler) sweep() {
	s.mu.Lock()
	entries := append([]pollEntry(nil), s.polls...)
	s.mu.Unlock()

	now := time.Now()
	var done []uint64
	for _, p := range entries {
		if p.cache.State() == p.target {
			done = append(done, p.id)
			continue
		}
		if !p.deadline.IsZero() && now.After(p.deadline) {
			s.log.Warnw("poll deadline expired, discarding cache", "cache", p.cache.Idx(), "target", p.target.String())
			func() {
				defer s.recoverTask("discard")
				p.cache.Discard()
			}()
			done = append(done, p.id)
			continue
		}
		func() {
			defer s.recoverTask("poll")
			p.trigger()
		}()
		// remove satisfied polls right away so a chain that completed in
		// this sweep does not get re-triggered on the next one
		if p.cache.State() == p.target {
			done = append(done, p.id)
		}
	}
	if len(done) == 0 {
		return
	}

	s.mu.Lock()
	kept := s.polls[:0]
	for _, p := range s.polls {
		remove := false
		for _, id := range done {
			if p.id == id {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, p)
		}
	}
	s.polls = kept
	s.mu.Unlock()
}
