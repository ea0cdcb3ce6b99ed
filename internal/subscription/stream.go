// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/troupehq/troupe/internal/dedup"
	"github.com/troupehq/troupe/internal/logging"
	"github.com/troupehq/troupe/internal/metrics"
	"github.com/troupehq/troupe/internal/models"
	"github.com/troupehq/troupe/internal/realtime"
	"github.com/troupehq/troupe/internal/retry"
)

// ConnState is the consumer-visible connection state of one stream.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateError        ConnState = "error"
)

// LoadFunc fetches the authoritative batch for the stream's scope.
type LoadFunc[T models.Entity] func(ctx context.Context) ([]T, error)

// FetchFunc fetches one complete denormalized record by id. Streams
// whose change-feed row images are already complete leave it nil and
// use the row image directly.
type FetchFunc[T models.Entity] func(ctx context.Context, id string) (T, error)

// Options configures a Stream.
type Options[T models.Entity] struct {
	Manager *realtime.Manager
	Key     realtime.Key

	Load  LoadFunc[T]
	Fetch FetchFunc[T]

	// PollInterval overrides the fallback polling cadence. Zero means
	// 3 seconds.
	PollInterval time.Duration

	// ReloadDelay is the safety-net delay before a full reload after a
	// failed record fetch or a send. Zero means 1 second.
	ReloadDelay time.Duration

	DedupWindow   time.Duration
	DedupCapacity int

	// MergeUpdate reconciles an update's raw row image with the cached
	// version, e.g. to keep denormalized fields the row image lacks.
	// Nil means the row image replaces the cached entity wholesale.
	MergeUpdate func(existing, incoming T) T

	// ExpireAfter, when positive, prunes cached entities older than
	// this from the view on a periodic sweep. Used by ephemeral
	// streams like presence, where entries lapse rather than being
	// deleted explicitly.
	ExpireAfter time.Duration

	// OnInsert, OnUpdate and OnDelete are optional per-event callbacks
	// invoked after the cache has been updated.
	OnInsert func(T)
	OnUpdate func(T)
	OnDelete func(id string)
}

// Stream maintains a live, ordered view of one entity scope. It owns
// its cache and duplicate tracker; neither is shared across streams.
type Stream[T models.Entity] struct {
	opts    Options[T]
	policy  retry.Policy
	tracker *dedup.Tracker

	mu      sync.Mutex
	cache   *Cache[T]
	state   ConnState
	lastErr error
	loading bool
	stopped bool

	releaseChannel func()
	detach         func()
	pollCancel     context.CancelFunc
	timers         []*time.Timer

	updates chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// NewStream builds a stream. Call Start to load and attach.
func NewStream[T models.Entity](opts Options[T]) *Stream[T] {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.ReloadDelay <= 0 {
		opts.ReloadDelay = time.Second
	}
	return &Stream[T]{
		opts:    opts,
		policy:  opts.Manager.RetryPolicy(),
		tracker: dedup.NewTracker(opts.DedupWindow, opts.DedupCapacity),
		cache:   NewCache[T](),
		state:   StateDisconnected,
		updates: make(chan struct{}, 1),
	}
}

// Start performs the initial load and attaches to the change feed.
// The load failing does not fail Start; polling covers until a reload
// succeeds.
func (s *Stream[T]) Start(ctx context.Context) {
	s.mu.Lock()
	if s.runCtx != nil || s.stopped {
		s.mu.Unlock()
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.state = StateConnecting
	s.mu.Unlock()

	s.load(ctx, false)

	ch, release := s.opts.Manager.Channel(s.opts.Key)
	detach := ch.Listen(s.handleEvent, s.handleStatus)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		detach()
		release()
		return
	}
	s.releaseChannel = release
	s.detach = detach
	runCtx := s.runCtx
	s.mu.Unlock()

	if s.opts.ExpireAfter > 0 {
		s.wg.Add(1)
		go s.expireLoop(runCtx)
	}
}

// expireLoop periodically drops entities past their lifetime. Sweeps
// at a quarter of the lifetime so staleness overshoot stays small.
func (s *Stream[T]) expireLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.opts.ExpireAfter / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			dropped := s.cache.PruneOlderThan(time.Now().Add(-s.opts.ExpireAfter))
			s.mu.Unlock()
			if dropped > 0 {
				s.notify()
			}
		}
	}
}

// Stop releases the channel reference, cancels polling and pending
// timers, and clears the tracker. Late network completions find the
// stopped flag set and drop their results.
func (s *Stream[T]) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.state = StateDisconnected
	release, detach := s.releaseChannel, s.detach
	s.releaseChannel, s.detach = nil, nil
	s.stopPollingLocked()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	cancel := s.runCancel
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
	if release != nil {
		release()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.tracker.Clear()
}

// Snapshot returns the current ordered view.
func (s *Stream[T]) Snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Items()
}

// State returns the connection state.
func (s *Stream[T]) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the last surfaced error, if any.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Loading reports whether an initial or explicit load is in flight.
func (s *Stream[T]) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Updates signals (coalesced) whenever the view changes.
func (s *Stream[T]) Updates() <-chan struct{} { return s.updates }

func (s *Stream[T]) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// load fetches the authoritative batch and merges it in. skipLoading
// suppresses the loading flag for background refreshes so consumers do
// not flicker.
func (s *Stream[T]) load(ctx context.Context, skipLoading bool) {
	if !skipLoading {
		s.mu.Lock()
		s.loading = true
		s.mu.Unlock()
	}

	batch, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) ([]T, error) {
		return s.opts.Load(ctx)
	}, func(attempt int, err error) {
		logging.Debug().Err(err).Str("channel", s.opts.Key.String()).Int("attempt", attempt).Msg("retrying stream load")
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if s.stopped {
		return
	}
	if err != nil {
		s.lastErr = fmt.Errorf("%s: %w", UserMessage(err), err)
		logging.Warn().Err(err).Str("channel", s.opts.Key.String()).Msg("stream load failed")
		return
	}
	s.lastErr = nil
	s.cache.Merge(batch)
	s.notify()
}

// Reload re-fetches the authoritative batch without the loading flag.
func (s *Stream[T]) Reload(ctx context.Context) {
	s.load(ctx, true)
}

// scheduleReload arms a one-shot delayed reload, the safety net for
// missed push delivery.
func (s *Stream[T]) scheduleReload(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	ctx := s.runCtx
	t := time.AfterFunc(delay, func() {
		s.load(ctx, true)
	})
	s.timers = append(s.timers, t)
}

// handleStatus maps channel lifecycle transitions onto the stream
// state machine and toggles polling accordingly.
func (s *Stream[T]) handleStatus(status realtime.Status, err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	switch status {
	case realtime.StatusSubscribed:
		s.state = StateConnected
		s.lastErr = nil
		s.stopPollingLocked()
	case realtime.StatusConnecting:
		s.state = StateConnecting
		s.startPollingLocked()
	case realtime.StatusError:
		s.state = StateError
		if err != nil {
			s.lastErr = fmt.Errorf("%s: %w", UserMessage(err), err)
		}
		s.startPollingLocked()
	case realtime.StatusClosed:
		s.state = StateDisconnected
		s.startPollingLocked()
	}
	s.mu.Unlock()
	s.notify()
}

// startPollingLocked engages the fallback poll loop. Caller holds mu.
func (s *Stream[T]) startPollingLocked() {
	if s.pollCancel != nil || s.stopped || s.runCtx == nil {
		return
	}
	ctx, cancel := context.WithCancel(s.runCtx)
	s.pollCancel = cancel
	metrics.PollingFallbacks.WithLabelValues(s.opts.Key.Table).Inc()
	logging.Debug().Str("channel", s.opts.Key.String()).Msg("engaging polling fallback")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.load(ctx, true)
			}
		}
	}()
}

// stopPollingLocked disengages polling. Caller holds mu.
func (s *Stream[T]) stopPollingLocked() {
	if s.pollCancel != nil {
		s.pollCancel()
		s.pollCancel = nil
	}
}

// handleEvent applies one validated change event to the cache.
func (s *Stream[T]) handleEvent(ev realtime.ChangeEvent) {
	switch ev.Type {
	case realtime.EventInsert:
		s.applyInsert(ev)
	case realtime.EventUpdate:
		s.applyUpdate(ev)
	case realtime.EventDelete:
		s.applyDelete(ev)
	}
}

func (s *Stream[T]) applyInsert(ev realtime.ChangeEvent) {
	var incoming T
	if err := ev.DecodeNew(&incoming); err != nil {
		logging.Warn().Err(err).Str("table", ev.Table).Msg("undecodable insert event")
		return
	}
	id := incoming.EntityID()

	if s.tracker.CheckAndMark(id) {
		metrics.DedupHits.Inc()
		return
	}

	record := incoming
	if s.opts.Fetch != nil {
		// The raw row image lacks joined author/reaction data; fetch
		// the complete record before inserting.
		s.mu.Lock()
		ctx := s.runCtx
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}
		full, err := s.opts.Fetch(ctx, id)
		if err != nil {
			// Roll the speculative mark back so a redelivery can try
			// again, and fall back to a delayed full reload.
			s.tracker.Remove(id)
			logging.Warn().Err(err).Str("table", ev.Table).Str("id", id).Msg("record fetch after insert failed")
			s.scheduleReload(s.opts.ReloadDelay)
			return
		}
		record = full
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.cache.Upsert(record)
	s.mu.Unlock()
	s.notify()

	if s.opts.OnInsert != nil {
		s.opts.OnInsert(record)
	}
}

func (s *Stream[T]) applyUpdate(ev realtime.ChangeEvent) {
	var incoming T
	if err := ev.DecodeNew(&incoming); err != nil {
		logging.Warn().Err(err).Str("table", ev.Table).Msg("undecodable update event")
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	record := incoming
	if s.opts.MergeUpdate != nil {
		if existing, ok := s.cache.Get(incoming.EntityID()); ok {
			record = s.opts.MergeUpdate(existing, incoming)
		}
	}
	s.cache.Upsert(record)
	s.mu.Unlock()
	s.notify()

	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate(record)
	}
}

func (s *Stream[T]) applyDelete(ev realtime.ChangeEvent) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.cache.Remove(ev.OldID)
	s.mu.Unlock()
	s.tracker.Remove(ev.OldID)
	s.notify()

	if s.opts.OnDelete != nil {
		s.opts.OnDelete(ev.OldID)
	}
}

// markLocal records an id in the tracker so the realtime echo of a
// local optimistic write is suppressed. Returns false if the id was
// already marked, meaning the echo won the race.
func (s *Stream[T]) markLocal(id string) bool {
	return !s.tracker.CheckAndMark(id)
}

// upsertLocal applies an optimistic local write to the cache.
func (s *Stream[T]) upsertLocal(item T) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.cache.Upsert(item)
	s.mu.Unlock()
	s.notify()
}

// ErrStreamStopped is returned by mutating operations on a stopped
// stream.
var ErrStreamStopped = errors.New("subscription: stream stopped")
